package orders

// Flow is the linear fulfillment progression.
var Flow = []string{
	StatusPlaced,
	StatusConfirmed,
	StatusPacked,
	StatusOutForDelivery,
	StatusDelivered,
}

// Next returns the status after current. An unknown status restarts at the
// head of the flow; Delivered has no successor.
func Next(current string) (string, bool) {
	for i, s := range Flow {
		if s == current {
			if i+1 < len(Flow) {
				return Flow[i+1], true
			}
			return "", false
		}
	}
	return Flow[0], true
}

// IsTerminal reports whether no further transition is possible.
func IsTerminal(status string) bool {
	return status == StatusDelivered
}
