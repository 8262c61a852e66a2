package orders

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRecorder struct{ to []string }

func (c *countingRecorder) StatusTransition(to string) { c.to = append(c.to, to) }

func newTestService(t *testing.T, seed ...Order) (*Service, *countingRecorder) {
	t.Helper()
	store, _ := newTestStore(t)
	if len(seed) > 0 {
		require.NoError(t, store.CreateBatch(context.Background(), seed))
	}
	rec := &countingRecorder{}
	return NewService(store, nil, rec), rec
}

var (
	wholesaler = Actor{ID: "w1", Name: "Metro Wholesale"}
	retailer   = Actor{ID: "r1", Name: "Corner Shop"}
	stranger   = Actor{ID: "x9", Name: "Someone Else"}
)

func TestAdvance_WalksFlowThenStops(t *testing.T) {
	svc, rec := newTestService(t, placedOrder("o1", "r1", "w1", time.Now()))
	ctx := context.Background()

	want := []string{StatusConfirmed, StatusPacked, StatusOutForDelivery, StatusDelivered}
	for i, status := range want {
		res, err := svc.Advance(ctx, "o1", wholesaler)
		require.NoError(t, err)
		assert.True(t, res.Applied)
		assert.Equal(t, status, res.Order.Status)
		require.Len(t, res.Order.StatusHistory, i+2)
		last := res.Order.StatusHistory[len(res.Order.StatusHistory)-1]
		assert.Equal(t, status, last.Status)
		assert.Equal(t, "Updated by Metro Wholesale", last.Note)
		assert.Equal(t, "w1", last.ActorID)
	}

	res, err := svc.Advance(ctx, "o1", wholesaler)
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, StatusDelivered, res.Order.Status)
	assert.Len(t, res.Order.StatusHistory, 5)
	assert.Equal(t, want, rec.to)

	// items and total are a snapshot and never move with status
	assert.Equal(t, 1000.0, res.Order.TotalAmount)
	assert.Equal(t, 2, res.Order.Items[0].Quantity)
}

func TestAdvance_HistoryKeepsEarlierEntries(t *testing.T) {
	svc, _ := newTestService(t, placedOrder("o1", "r1", "w1", time.Now()))
	ctx := context.Background()

	first, err := svc.Advance(ctx, "o1", retailer)
	require.NoError(t, err)
	second, err := svc.Advance(ctx, "o1", wholesaler)
	require.NoError(t, err)

	assert.Equal(t, first.Order.StatusHistory, second.Order.StatusHistory[:len(first.Order.StatusHistory)])
	assert.Equal(t, "Updated by Corner Shop", second.Order.StatusHistory[1].Note)
}

func TestMarkDelivered_JumpsFromAnyStatus(t *testing.T) {
	svc, _ := newTestService(t, placedOrder("o1", "r1", "w1", time.Now()))
	ctx := context.Background()

	res, err := svc.MarkDelivered(ctx, "o1", retailer)
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, StatusDelivered, res.Order.Status)
	require.Len(t, res.Order.StatusHistory, 2)
	assert.Equal(t, "Delivered by Corner Shop", res.Order.StatusHistory[1].Note)

	res, err = svc.MarkDelivered(ctx, "o1", retailer)
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Len(t, res.Order.StatusHistory, 2)
}

func TestService_RejectsNonParties(t *testing.T) {
	svc, _ := newTestService(t, placedOrder("o1", "r1", "w1", time.Now()))
	ctx := context.Background()

	_, err := svc.Advance(ctx, "o1", stranger)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.Get(ctx, "missing", retailer)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetDeliveryInfo(t *testing.T) {
	svc, _ := newTestService(t, placedOrder("o1", "r1", "w1", time.Now()))
	ctx := context.Background()
	fixed := time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)
	svc.nowFunc = func() time.Time { return fixed }

	t.Run("buyer cannot write", func(t *testing.T) {
		_, err := svc.SetDeliveryInfo(ctx, "o1", retailer, DeliveryInput{Carrier: "DTDC"})
		assert.ErrorIs(t, err, ErrNotSeller)
	})

	t.Run("negative cost", func(t *testing.T) {
		_, err := svc.SetDeliveryInfo(ctx, "o1", wholesaler, DeliveryInput{Cost: -1})
		assert.ErrorIs(t, err, ErrInvalidCost)
	})

	t.Run("seller replaces object", func(t *testing.T) {
		_, err := svc.SetDeliveryInfo(ctx, "o1", wholesaler, DeliveryInput{Carrier: "DTDC", Cost: 80, Notes: "fragile"})
		require.NoError(t, err)
		o, err := svc.SetDeliveryInfo(ctx, "o1", wholesaler, DeliveryInput{ExpectedDate: " 2026-05-05 ", Carrier: "BlueDart", Cost: 0})
		require.NoError(t, err)
		require.NotNil(t, o.Delivery)
		assert.Equal(t, "2026-05-05", o.Delivery.ExpectedDate)
		assert.Equal(t, "BlueDart", o.Delivery.Carrier)
		assert.Empty(t, o.Delivery.Notes)
		assert.Equal(t, "w1", o.Delivery.UpdatedBy)
		assert.Equal(t, "Metro Wholesale", o.Delivery.UpdatedByName)
		assert.True(t, fixed.Equal(o.Delivery.UpdatedAt))
		assert.Equal(t, StatusPlaced, o.Status)
	})
}

func TestReconcilePayment(t *testing.T) {
	pending := placedOrder("o1", "r1", "w1", time.Now())
	pending.PaymentStatus = PaymentPending
	svc, _ := newTestService(t, pending, placedOrder("o2", "r1", "w1", time.Now()))
	ctx := context.Background()

	_, err := svc.ReconcilePayment(ctx, "o1", retailer, "cash")
	assert.ErrorIs(t, err, ErrNotSeller)

	o, err := svc.ReconcilePayment(ctx, "o1", wholesaler, " cash-on-delivery ")
	require.NoError(t, err)
	assert.Equal(t, PaymentPaid, o.PaymentStatus)
	assert.Equal(t, "cash-on-delivery", o.PaymentReference)

	_, err = svc.ReconcilePayment(ctx, "o2", wholesaler, "cash")
	assert.ErrorIs(t, err, ErrPaymentNotPending)
}

func TestList_BySide(t *testing.T) {
	now := time.Now()
	svc, _ := newTestService(t,
		placedOrder("o1", "r1", "w1", now),
		placedOrder("o2", "c1", "r1", now.Add(time.Minute)),
	)
	ctx := context.Background()

	page, err := svc.List(ctx, retailer, SideBuyer, 0, "")
	require.NoError(t, err)
	require.Len(t, page.Orders, 1)
	assert.Equal(t, "o1", page.Orders[0].OrderID)

	page, err = svc.List(ctx, retailer, SideSeller, 0, "")
	require.NoError(t, err)
	require.Len(t, page.Orders, 1)
	assert.Equal(t, "o2", page.Orders[0].OrderID)

	_, err = svc.List(ctx, retailer, Side("both"), 0, "")
	assert.ErrorIs(t, err, ErrInvalidSide)
}
