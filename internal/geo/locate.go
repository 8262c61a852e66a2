package geo

import (
	"context"
	"errors"
	"math"
	"time"
)

// DefaultLocation is used when the caller's position cannot be determined.
var DefaultLocation = Point{Lat: 12.9716, Lng: 77.5946}

// DefaultLocateTimeout bounds a position lookup.
const DefaultLocateTimeout = 8 * time.Second

// ErrLocationDenied is returned by a Locator when the user refused to share a position.
var ErrLocationDenied = errors.New("location permission denied")

// Locator provides a best-effort current position.
type Locator interface {
	Locate(ctx context.Context) (Point, error)
}

// LocatorFunc adapts a function to Locator.
type LocatorFunc func(ctx context.Context) (Point, error)

func (f LocatorFunc) Locate(ctx context.Context) (Point, error) { return f(ctx) }

// Static always reports the same position; a nil Static reports ErrLocationDenied.
type Static struct {
	Point *Point
}

func (s Static) Locate(context.Context) (Point, error) {
	if !s.Point.valid() {
		return Point{}, ErrLocationDenied
	}
	return *s.Point, nil
}

// ResolveOrigin asks the locator for a position within timeout and falls back
// to fallback on error, denial or timeout. fromDefault reports the fallback.
func ResolveOrigin(ctx context.Context, locator Locator, timeout time.Duration, fallback Point) (origin Point, fromDefault bool) {
	if locator == nil {
		return fallback, true
	}
	if timeout <= 0 {
		timeout = DefaultLocateTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		p   Point
		err error
	}
	ch := make(chan result, 1)
	go func() {
		p, err := locator.Locate(ctx)
		ch <- result{p: p, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil || !(&r.p).valid() {
			return fallback, true
		}
		return r.p, false
	case <-ctx.Done():
		return fallback, true
	}
}

// EstimateDelivery returns the expected delivery time: one day of handling
// plus half a day per started 50 km. Unknown distance gets the handling day only.
func EstimateDelivery(distanceKm float64, known bool, now time.Time) time.Time {
	days := 1
	if known && distanceKm > 0 {
		days += int(math.Ceil(distanceKm / 50 * 0.5))
	}
	return now.AddDate(0, 0, days)
}
