package geo

import (
	"math"
	"sort"
)

const earthRadiusKm = 6371.0

// DefaultRadiusKm is the radius applied when a buyer has not picked one.
const DefaultRadiusKm = 30.0

// Point is a latitude/longitude pair in degrees.
type Point struct {
	Lat float64 `json:"lat" dynamodbav:"lat"`
	Lng float64 `json:"lng" dynamodbav:"lng"`
}

func (p *Point) valid() bool {
	if p == nil {
		return false
	}
	for _, v := range []float64{p.Lat, p.Lng} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// DistanceKm returns the great-circle distance rounded to two decimals.
// ok is false when either point is missing or not numeric.
func DistanceKm(a, b *Point) (km float64, ok bool) {
	if !a.valid() || !b.valid() {
		return 0, false
	}
	dLat := toRad(b.Lat - a.Lat)
	dLng := toRad(b.Lng - a.Lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return math.Round(earthRadiusKm*c*100) / 100, true
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }

// Candidate is anything that can be placed on the map.
type Candidate struct {
	ID       string
	Location *Point
}

// Ranked pairs a candidate with its distance from the origin.
// Known is false when the distance could not be computed.
type Ranked struct {
	Candidate
	DistanceKm float64
	Known      bool
}

// Rank sorts candidates by ascending distance from origin. Unknown distances
// sort after every known one and keep their input order.
func Rank(origin *Point, candidates []Candidate) []Ranked {
	out := make([]Ranked, 0, len(candidates))
	for _, c := range candidates {
		km, ok := DistanceKm(origin, c.Location)
		out = append(out, Ranked{Candidate: c, DistanceKm: km, Known: ok})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Known != out[j].Known {
			return out[i].Known
		}
		return out[i].DistanceKm < out[j].DistanceKm
	})
	return out
}

// WithinRadius drops entries farther than radiusKm. Entries with unknown
// distance are always kept. A non-positive radius keeps everything.
func WithinRadius(ranked []Ranked, radiusKm float64) []Ranked {
	if radiusKm <= 0 {
		return ranked
	}
	out := make([]Ranked, 0, len(ranked))
	for _, r := range ranked {
		if !r.Known || r.DistanceKm <= radiusKm {
			out = append(out, r)
		}
	}
	return out
}
