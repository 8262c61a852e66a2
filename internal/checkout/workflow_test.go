package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	lambdaevents "github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/bitsmart-orderflow/internal/apperrors"
	"github.com/imrishuroy/bitsmart-orderflow/internal/aws"
	"github.com/imrishuroy/bitsmart-orderflow/internal/aws/awstest"
	"github.com/imrishuroy/bitsmart-orderflow/internal/cart"
	"github.com/imrishuroy/bitsmart-orderflow/internal/catalog"
	"github.com/imrishuroy/bitsmart-orderflow/internal/events"
	"github.com/imrishuroy/bitsmart-orderflow/internal/idempotency"
	"github.com/imrishuroy/bitsmart-orderflow/internal/orders"
	"github.com/imrishuroy/bitsmart-orderflow/internal/payment"
	"github.com/imrishuroy/bitsmart-orderflow/internal/pricing"
	"github.com/imrishuroy/bitsmart-orderflow/internal/worker"
)

type harness struct {
	dynamo   *awstest.FakeDynamo
	sqs      *awstest.FakeSQS
	catalog  *catalog.Service
	carts    *cart.Manager
	orders   *orders.Store
	idem     *idempotency.Store
	charges  atomic.Int32
	payErr   error
	onCharge func()
	workflow *Workflow
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{}
	h.dynamo = awstest.NewFakeDynamo().
		AddTable("stocks", "seller_id").
		AddTable("sellers", "seller_id").
		AddTable("orders", "order_id").
		AddIndex("orders", orders.BuyerIndex, "buyer_id", "created_at").
		AddIndex("orders", orders.SellerIndex, "seller_id", "created_at").
		AddTable("idempotency", "idempotency_key")
	h.sqs = &awstest.FakeSQS{}

	stocks := catalog.NewStockStore(h.dynamo, "stocks", catalog.WithRetry(3, 0))
	h.catalog = catalog.NewService(catalog.NewSellerStore(h.dynamo, "sellers"), stocks, pricing.CustomerMarkup, nil)
	h.carts = cart.NewManager(cart.NewMemoryStorage(), h.catalog, nil)
	h.orders = orders.NewStore(h.dynamo, "orders")
	h.idem = idempotency.NewStore(h.dynamo, "idempotency", time.Hour)

	gateway := payment.GatewayFunc(func(ctx context.Context, req payment.ChargeRequest) (*payment.Charge, error) {
		h.charges.Add(1)
		if h.onCharge != nil {
			h.onCharge()
		}
		if req.SourceID == "" {
			return nil, payment.ErrCancelled
		}
		if h.payErr != nil {
			return nil, h.payErr
		}
		return &payment.Charge{Reference: "pay_1", Status: "COMPLETED"}, nil
	})

	h.workflow = NewWorkflow(Deps{
		Carts:       h.carts,
		Sellers:     h.catalog,
		Stocks:      stocks,
		Orders:      h.orders,
		Gateway:     gateway,
		Idempotency: h.idem,
		Publisher:   aws.NewPublisher(h.sqs, "https://sqs.local/orders"),
	}, opts)
	return h
}

func (h *harness) seller(t *testing.T, id string, role catalog.Role, stock map[string]int, prices map[string]float64) {
	t.Helper()
	ctx := context.Background()
	_, err := h.catalog.SaveProfile(ctx, catalog.SellerProfile{SellerID: id, Role: role, Name: id + " store"})
	require.NoError(t, err)
	_, err = h.catalog.Stocks().Edit(ctx, id, catalog.StockEdit{Quantities: stock, Prices: prices})
	require.NoError(t, err)
}

func (h *harness) stock(t *testing.T, id, category string) int {
	t.Helper()
	rec, err := h.catalog.Stocks().View(context.Background(), id)
	require.NoError(t, err)
	return rec.Available(category)
}

func (h *harness) eventsOf(t *testing.T, eventType string) []events.Event {
	t.Helper()
	var out []events.Event
	for _, body := range h.sqs.Bodies() {
		var ev events.Event
		require.NoError(t, json.Unmarshal([]byte(body), &ev))
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

var retailer = Buyer{ID: "r1", Name: "Corner Shop", Email: "shop@example.com", Role: catalog.RoleRetailer}

func TestPlace_RetailerBuysFromTwoWholesalers(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.seller(t, "w1", catalog.RoleWholesaler, map[string]int{"Shirts": 10}, map[string]float64{"Shirts": 400})
	h.seller(t, "w2", catalog.RoleWholesaler, map[string]int{"Shoes": 4}, nil)

	_, err := h.carts.AddFromCatalog(ctx, "r1", catalog.RoleRetailer, "w1", "Shirts", 3)
	require.NoError(t, err)
	_, err = h.carts.AddFromCatalog(ctx, "r1", catalog.RoleRetailer, "w2", "Shoes", 2)
	require.NoError(t, err)

	res, err := h.workflow.Place(ctx, Request{Buyer: retailer, PaymentSourceID: "tok"})
	require.NoError(t, err)
	require.Len(t, res.Orders, 2)
	assert.Equal(t, orders.PaymentPaid, res.PaymentStatus)
	assert.Equal(t, "pay_1", res.PaymentReference)
	assert.Equal(t, int32(1), h.charges.Load())

	first := res.Orders[0]
	assert.Equal(t, "w1", first.SellerID)
	assert.Equal(t, orders.FlowRetailWholesale, first.Flow)
	assert.Equal(t, orders.StatusPlaced, first.Status)
	require.Len(t, first.StatusHistory, 1)
	assert.Equal(t, NotePaid, first.StatusHistory[0].Note)
	assert.Equal(t, 1200.0, first.TotalAmount)

	stored, err := h.orders.Get(ctx, first.OrderID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, res.CheckoutID, stored.CheckoutID)

	// seller stock moved to the retailer with the purchase price
	assert.Equal(t, 7, h.stock(t, "w1", "Shirts"))
	assert.Equal(t, 2, h.stock(t, "w2", "Shoes"))
	assert.Equal(t, 3, h.stock(t, "r1", "Shirts"))
	rec, err := h.catalog.Stocks().View(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 400.0, rec.Prices["Shirts"])

	c, err := h.carts.Load(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, c.Empty())
	assert.Len(t, h.eventsOf(t, events.TypeOrderPlaced), 2)
}

func TestPlace_CustomerDoesNotGainStock(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.seller(t, "r9", catalog.RoleRetailer, map[string]int{"Shirts": 5}, map[string]float64{"Shirts": 500})

	_, err := h.carts.AddFromCatalog(ctx, "c1", catalog.RoleCustomer, "r9", "Shirts", 2)
	require.NoError(t, err)

	res, err := h.workflow.Place(ctx, Request{Buyer: Buyer{ID: "c1", Name: "Asha", Role: catalog.RoleCustomer}, PaymentSourceID: "tok"})
	require.NoError(t, err)
	require.Len(t, res.Orders, 1)
	assert.Equal(t, orders.FlowCustomerRetail, res.Orders[0].Flow)
	// customer price carries the 5% markup
	assert.Equal(t, 525.0, res.Orders[0].Items[0].Price)
	assert.Equal(t, 1050.0, res.Orders[0].TotalAmount)
	assert.Equal(t, 3, h.stock(t, "r9", "Shirts"))

	rec, err := h.catalog.Stocks().Get(ctx, "c1")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestPlace_OverOrderIsClamped(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.seller(t, "w1", catalog.RoleWholesaler, map[string]int{"Jackets": 5}, nil)

	_, err := h.carts.AddFromCatalog(ctx, "r1", catalog.RoleRetailer, "w1", "Jackets", 5)
	require.NoError(t, err)
	// stock shrinks after the cart snapshot was taken
	_, err = h.catalog.Stocks().Edit(ctx, "w1", catalog.StockEdit{Quantities: map[string]int{"Jackets": 2}})
	require.NoError(t, err)

	res, err := h.workflow.Place(ctx, Request{Buyer: retailer, PaymentSourceID: "tok"})
	require.NoError(t, err)
	assert.Equal(t, 0, h.stock(t, "w1", "Jackets"))
	assert.Equal(t, 5, res.Orders[0].Items[0].Quantity)
	assert.Equal(t, []string{"Jackets"}, res.Clamped["w1"])
}

func TestPlace_RejectOverOrderBeforePayment(t *testing.T) {
	h := newHarness(t, Options{RejectOverOrder: true})
	ctx := context.Background()
	h.seller(t, "w1", catalog.RoleWholesaler, map[string]int{"Jackets": 5}, nil)

	_, err := h.carts.AddFromCatalog(ctx, "r1", catalog.RoleRetailer, "w1", "Jackets", 5)
	require.NoError(t, err)
	_, err = h.catalog.Stocks().Edit(ctx, "w1", catalog.StockEdit{Quantities: map[string]int{"Jackets": 2}})
	require.NoError(t, err)

	_, err = h.workflow.Place(ctx, Request{Buyer: retailer, PaymentSourceID: "tok"})
	require.ErrorIs(t, err, ErrInsufficientStock)
	assert.Equal(t, apperrors.CodeConflict, apperrors.CodeOf(err))
	assert.Equal(t, int32(0), h.charges.Load())
	assert.Equal(t, 0, h.dynamo.Calls("TransactWriteItems"))
	assert.Equal(t, 2, h.stock(t, "w1", "Jackets"))
}

func TestPlace_CancelledPaymentStillCreatesPendingOrder(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.seller(t, "w1", catalog.RoleWholesaler, map[string]int{"Shirts": 10}, nil)
	_, err := h.carts.AddFromCatalog(ctx, "r1", catalog.RoleRetailer, "w1", "Shirts", 1)
	require.NoError(t, err)

	res, err := h.workflow.Place(ctx, Request{Buyer: retailer})
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentPending, res.PaymentStatus)
	assert.Equal(t, payment.CancelledMessage, res.PaymentError)

	o := res.Orders[0]
	assert.Equal(t, orders.StatusPlaced, o.Status)
	assert.Equal(t, orders.PaymentPending, o.PaymentStatus)
	assert.Equal(t, NotePending, o.StatusHistory[0].Note)

	placed := h.eventsOf(t, events.TypeOrderPlaced)
	require.Len(t, placed, 1)
	assert.Equal(t, orders.PaymentPending, placed[0].PaymentStatus)
}

func TestPlace_GatewayFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, Options{})
	h.payErr = errors.New("gateway 502")
	ctx := context.Background()
	h.seller(t, "w1", catalog.RoleWholesaler, map[string]int{"Shirts": 10}, nil)
	_, err := h.carts.AddFromCatalog(ctx, "r1", catalog.RoleRetailer, "w1", "Shirts", 1)
	require.NoError(t, err)

	res, err := h.workflow.Place(ctx, Request{Buyer: retailer, PaymentSourceID: "tok"})
	require.NoError(t, err)
	assert.Equal(t, "Payment failed", res.PaymentError)
	assert.Equal(t, 9, h.stock(t, "w1", "Shirts"))
}

func TestPlace_Preconditions(t *testing.T) {
	ctx := context.Background()

	t.Run("unauthenticated", func(t *testing.T) {
		h := newHarness(t, Options{})
		_, err := h.workflow.Place(ctx, Request{})
		assert.ErrorIs(t, err, ErrUnauthenticated)
		assert.Equal(t, apperrors.CodeUnauthorized, apperrors.CodeOf(err))
	})

	t.Run("empty cart", func(t *testing.T) {
		h := newHarness(t, Options{})
		_, err := h.workflow.Place(ctx, Request{Buyer: retailer, PaymentSourceID: "tok"})
		assert.ErrorIs(t, err, ErrEmptyCart)
		assert.Equal(t, int32(0), h.charges.Load())
	})

	t.Run("payment not configured", func(t *testing.T) {
		h := newHarness(t, Options{})
		h.workflow.deps.Gateway = nil
		h.seller(t, "w1", catalog.RoleWholesaler, map[string]int{"Shirts": 10}, nil)
		_, err := h.carts.AddFromCatalog(ctx, "r1", catalog.RoleRetailer, "w1", "Shirts", 1)
		require.NoError(t, err)

		_, err = h.workflow.Place(ctx, Request{Buyer: retailer, PaymentSourceID: "tok"})
		assert.ErrorIs(t, err, ErrPaymentNotConfigured)
		assert.Equal(t, 0, h.dynamo.Calls("TransactWriteItems"))
	})

	t.Run("seller of the wrong role", func(t *testing.T) {
		h := newHarness(t, Options{})
		h.seller(t, "r9", catalog.RoleRetailer, map[string]int{"Shirts": 10}, map[string]float64{"Shirts": 100})
		_, err := h.carts.Add(ctx, "r1", cart.Item{SellerID: "r9", Category: "Shirts", UnitPrice: 100, AvailableQty: 10}, 1)
		require.NoError(t, err)

		_, err = h.workflow.Place(ctx, Request{Buyer: retailer, PaymentSourceID: "tok"})
		assert.ErrorIs(t, err, ErrRoleMismatch)
		assert.Equal(t, int32(0), h.charges.Load())
	})
}

func TestPlace_DecrementFailureReversesIncrement(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.seller(t, "w1", catalog.RoleWholesaler, map[string]int{"Shirts": 10}, nil)
	_, err := h.carts.AddFromCatalog(ctx, "r1", catalog.RoleRetailer, "w1", "Shirts", 3)
	require.NoError(t, err)

	h.dynamo.Intercept(func(op, table, key string) error {
		if op == "PutItem" && table == "stocks" && key == "w1" {
			return errors.New("connection reset")
		}
		return nil
	})

	res, err := h.workflow.Place(ctx, Request{Buyer: retailer, PaymentSourceID: "tok"})
	require.ErrorIs(t, err, ErrPersistence)
	assert.Equal(t, apperrors.CodeInternal, apperrors.CodeOf(err))
	require.NotNil(t, res)
	require.Len(t, res.Orders, 1)

	h.dynamo.Intercept(nil)
	assert.Equal(t, 0, h.stock(t, "r1", "Shirts"), "increment reversed")
	assert.Equal(t, 10, h.stock(t, "w1", "Shirts"))
	assert.Empty(t, h.eventsOf(t, events.TypeStockCompensate))

	c, err := h.carts.Load(ctx, "r1")
	require.NoError(t, err)
	assert.False(t, c.Empty(), "cart kept when a group failed")
}

func TestPlace_FailedReversalIsHandedToWorker(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.seller(t, "w1", catalog.RoleWholesaler, map[string]int{"Shirts": 10}, nil)
	_, err := h.carts.AddFromCatalog(ctx, "r1", catalog.RoleRetailer, "w1", "Shirts", 3)
	require.NoError(t, err)

	var r1Puts atomic.Int32
	h.dynamo.Intercept(func(op, table, key string) error {
		if op != "PutItem" || table != "stocks" {
			return nil
		}
		if key == "w1" {
			return errors.New("connection reset")
		}
		// first write to r1 is the increment; the reversal fails
		if key == "r1" && r1Puts.Add(1) > 1 {
			return errors.New("connection reset")
		}
		return nil
	})

	_, err = h.workflow.Place(ctx, Request{Buyer: retailer, PaymentSourceID: "tok"})
	require.ErrorIs(t, err, ErrPersistence)

	comp := h.eventsOf(t, events.TypeStockCompensate)
	require.Len(t, comp, 1)
	assert.Equal(t, events.ReverseIncrement, comp[0].Direction)
	assert.Equal(t, "r1", comp[0].StockOwnerID)
	require.Len(t, comp[0].Items, 1)
	assert.Equal(t, "Shirts", comp[0].Items[0].Category)
	assert.Equal(t, 3, comp[0].Items[0].Quantity)
}

func TestPlace_IncrementFailureStillDecrementsSeller(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.seller(t, "w1", catalog.RoleWholesaler, map[string]int{"Shirts": 10}, map[string]float64{"Shirts": 400})
	_, err := h.carts.AddFromCatalog(ctx, "r1", catalog.RoleRetailer, "w1", "Shirts", 3)
	require.NoError(t, err)

	h.dynamo.Intercept(func(op, table, key string) error {
		if op == "PutItem" && table == "stocks" && key == "r1" {
			return errors.New("connection reset")
		}
		return nil
	})
	res, err := h.workflow.Place(ctx, Request{Buyer: retailer, PaymentSourceID: "tok"})
	require.ErrorIs(t, err, ErrPersistence)
	require.NotNil(t, res)
	require.Len(t, res.Orders, 1)
	h.dynamo.Intercept(nil)

	assert.Equal(t, 7, h.stock(t, "w1", "Shirts"), "seller decrement still applied")
	assert.Equal(t, 0, h.stock(t, "r1", "Shirts"))
	assert.Len(t, h.eventsOf(t, events.TypeOrderPlaced), 1)

	comp := h.eventsOf(t, events.TypeStockCompensate)
	require.Len(t, comp, 1)
	assert.Equal(t, events.RetryIncrement, comp[0].Direction)
	assert.Equal(t, "r1", comp[0].StockOwnerID)
	assert.Equal(t, res.Orders[0].OrderID, comp[0].OrderID)
	require.Len(t, comp[0].Items, 1)
	assert.Equal(t, events.Item{Category: "Shirts", Quantity: 3, Price: 400}, comp[0].Items[0])

	// the worker settles the increment the checkout could not apply
	var msgs []lambdaevents.SQSMessage
	for i, body := range h.sqs.Bodies() {
		msgs = append(msgs, lambdaevents.SQSMessage{MessageId: fmt.Sprintf("m%d", i), Body: body})
	}
	proc := worker.NewProcessor(h.catalog.Stocks(), h.idem, nil, nil, time.Second)
	resp, err := proc.Handle(ctx, lambdaevents.SQSEvent{Records: msgs})
	require.NoError(t, err)
	assert.Empty(t, resp.BatchItemFailures)
	assert.Equal(t, 3, h.stock(t, "r1", "Shirts"))
	rec, err := h.catalog.Stocks().View(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 400.0, rec.Prices["Shirts"])
	assert.Equal(t, 7, h.stock(t, "w1", "Shirts"))
}

func TestPlace_CallerCancelledAfterChargeStillCompletes(t *testing.T) {
	h := newHarness(t, Options{})
	h.seller(t, "w1", catalog.RoleWholesaler, map[string]int{"Shirts": 10}, map[string]float64{"Shirts": 400})
	_, err := h.carts.AddFromCatalog(context.Background(), "r1", catalog.RoleRetailer, "w1", "Shirts", 2)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// the client disconnects while the payment is in flight
	h.onCharge = cancel

	res, err := h.workflow.Place(ctx, Request{Buyer: retailer, PaymentSourceID: "tok", IdempotencyKey: "key-gone"})
	require.NoError(t, err)
	require.Error(t, ctx.Err())
	require.Len(t, res.Orders, 1)
	assert.Equal(t, orders.PaymentPaid, res.PaymentStatus)

	bg := context.Background()
	stored, err := h.orders.Get(bg, res.Orders[0].OrderID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "pay_1", stored.PaymentReference)
	assert.Equal(t, 8, h.stock(t, "w1", "Shirts"))
	assert.Equal(t, 2, h.stock(t, "r1", "Shirts"))

	c, err := h.carts.Load(bg, "r1")
	require.NoError(t, err)
	assert.True(t, c.Empty())

	rec, err := h.idem.Get(bg, "key-gone")
	require.NoError(t, err)
	assert.Equal(t, idempotency.StatusDone, rec.Status)

	// the retry replays instead of charging again
	again, err := h.workflow.Place(bg, Request{Buyer: retailer, PaymentSourceID: "tok", IdempotencyKey: "key-gone"})
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, int32(1), h.charges.Load())
}

func TestPlace_StoredOrderKeepsPriceAtPlacement(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.seller(t, "w1", catalog.RoleWholesaler, map[string]int{"Shirts": 10}, map[string]float64{"Shirts": 400})
	_, err := h.carts.AddFromCatalog(ctx, "r1", catalog.RoleRetailer, "w1", "Shirts", 3)
	require.NoError(t, err)

	res, err := h.workflow.Place(ctx, Request{Buyer: retailer, PaymentSourceID: "tok"})
	require.NoError(t, err)
	orderID := res.Orders[0].OrderID

	_, err = h.catalog.Stocks().Edit(ctx, "w1", catalog.StockEdit{Prices: map[string]float64{"Shirts": 999}})
	require.NoError(t, err)

	stored, err := h.orders.Get(ctx, orderID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, 1200.0, stored.TotalAmount)
	require.Len(t, stored.Items, 1)
	assert.Equal(t, 400.0, stored.Items[0].Price)

	page, err := h.orders.ListByParty(ctx, orders.BuyerIndex, "r1", 10, "")
	require.NoError(t, err)
	require.Len(t, page.Orders, 1)
	assert.Equal(t, 1200.0, page.Orders[0].TotalAmount)
}

func TestPlace_CustomerDecrementFailureRequestsRetry(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.seller(t, "r9", catalog.RoleRetailer, map[string]int{"Shirts": 5}, map[string]float64{"Shirts": 500})
	_, err := h.carts.AddFromCatalog(ctx, "c1", catalog.RoleCustomer, "r9", "Shirts", 1)
	require.NoError(t, err)

	h.dynamo.Intercept(func(op, table, key string) error {
		if op == "PutItem" && table == "stocks" {
			return errors.New("connection reset")
		}
		return nil
	})
	_, err = h.workflow.Place(ctx, Request{Buyer: Buyer{ID: "c1", Role: catalog.RoleCustomer}, PaymentSourceID: "tok"})
	require.ErrorIs(t, err, ErrPersistence)

	comp := h.eventsOf(t, events.TypeStockCompensate)
	require.Len(t, comp, 1)
	assert.Equal(t, events.RetryDecrement, comp[0].Direction)
	assert.Equal(t, "r9", comp[0].StockOwnerID)
}

func TestPlace_IdempotentReplay(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.seller(t, "w1", catalog.RoleWholesaler, map[string]int{"Shirts": 10}, nil)
	_, err := h.carts.AddFromCatalog(ctx, "r1", catalog.RoleRetailer, "w1", "Shirts", 2)
	require.NoError(t, err)

	req := Request{Buyer: retailer, PaymentSourceID: "tok", IdempotencyKey: "key-1"}
	first, err := h.workflow.Place(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	second, err := h.workflow.Place(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.CheckoutID, second.CheckoutID)
	assert.Equal(t, first.Orders[0].OrderID, second.Orders[0].OrderID)
	assert.Equal(t, int32(1), h.charges.Load())
	assert.Equal(t, 8, h.stock(t, "w1", "Shirts"))

	rec, err := h.idem.Get(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, idempotency.StatusDone, rec.Status)
	assert.Equal(t, []string{first.Orders[0].OrderID}, rec.OrderIDs)

	_, err = h.workflow.Place(ctx, Request{Buyer: Buyer{ID: "r2", Role: catalog.RoleRetailer}, IdempotencyKey: "key-1"})
	assert.ErrorIs(t, err, idempotency.ErrKeyReused)
}

func TestPlace_FailedPreconditionFreesKey(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	req := Request{Buyer: retailer, PaymentSourceID: "tok", IdempotencyKey: "key-2"}
	_, err := h.workflow.Place(ctx, req)
	require.ErrorIs(t, err, ErrEmptyCart)

	h.seller(t, "w1", catalog.RoleWholesaler, map[string]int{"Shirts": 10}, nil)
	_, err = h.carts.AddFromCatalog(ctx, "r1", catalog.RoleRetailer, "w1", "Shirts", 1)
	require.NoError(t, err)

	res, err := h.workflow.Place(ctx, req)
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.Len(t, res.Orders, 1)
}
