package events

import (
	"time"

	"github.com/google/uuid"
)

// Event types carried on the orders queue.
const (
	TypeOrderPlaced     = "order.placed"
	TypeStockCompensate = "stock.compensate"
)

// Compensation directions for TypeStockCompensate.
const (
	// ReverseIncrement removes quantities previously added to a buyer's stock.
	ReverseIncrement = "reverse_increment"
	// RetryDecrement re-applies a seller decrement that never landed.
	RetryDecrement = "retry_decrement"
	// RetryIncrement re-applies a buyer increment that never landed.
	RetryIncrement = "retry_increment"
)

// Item is a (category, quantity) pair moved between stock documents.
type Item struct {
	Category string  `json:"category"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price,omitempty"`
}

// Event is the payload sent from API -> SQS -> Worker.
type Event struct {
	EventID       string    `json:"event_id"`
	Type          string    `json:"type"`
	OrderID       string    `json:"order_id,omitempty"`
	BuyerID       string    `json:"buyer_id,omitempty"`
	SellerID      string    `json:"seller_id,omitempty"`
	PaymentStatus string    `json:"payment_status,omitempty"`
	TotalAmount   float64   `json:"total_amount,omitempty"`
	Direction     string    `json:"direction,omitempty"`
	StockOwnerID  string    `json:"stock_owner_id,omitempty"`
	Items         []Item    `json:"items,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// New stamps a fresh event id and timestamp.
func New(eventType string, now time.Time) Event {
	return Event{
		EventID:    uuid.NewString(),
		Type:       eventType,
		OccurredAt: now.UTC(),
	}
}
