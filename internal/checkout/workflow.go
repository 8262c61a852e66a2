package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/imrishuroy/bitsmart-orderflow/internal/apperrors"
	"github.com/imrishuroy/bitsmart-orderflow/internal/cart"
	"github.com/imrishuroy/bitsmart-orderflow/internal/catalog"
	"github.com/imrishuroy/bitsmart-orderflow/internal/events"
	"github.com/imrishuroy/bitsmart-orderflow/internal/idempotency"
	"github.com/imrishuroy/bitsmart-orderflow/internal/logger"
	"github.com/imrishuroy/bitsmart-orderflow/internal/metrics"
	"github.com/imrishuroy/bitsmart-orderflow/internal/orders"
	"github.com/imrishuroy/bitsmart-orderflow/internal/payment"
	"github.com/imrishuroy/bitsmart-orderflow/internal/pricing"
)

// History notes written on the first entry of every order.
const (
	NotePaid    = "Order placed with payment"
	NotePending = "Order placed without payment"
)

type CartStore interface {
	Load(ctx context.Context, buyerID string) (*cart.Cart, error)
	Clear(ctx context.Context, buyerID string) error
}

type SellerDirectory interface {
	Profile(ctx context.Context, id string) (*catalog.SellerProfile, error)
}

type StockStore interface {
	View(ctx context.Context, sellerID string) (*catalog.StockRecord, error)
	Increment(ctx context.Context, ownerID string, items []catalog.Item) (*catalog.StockRecord, error)
	Decrement(ctx context.Context, sellerID string, items []catalog.Item) (*catalog.DecrementResult, error)
}

type OrderWriter interface {
	CreateBatch(ctx context.Context, batch []orders.Order, extra ...types.TransactWriteItem) error
}

type IdempotencyStore interface {
	Begin(ctx context.Context, key, owner string) (idempotency.Outcome, *idempotency.Record, error)
	LinkOrdersItem(key string, orderIDs []string) (types.TransactWriteItem, error)
	MarkDone(ctx context.Context, key, responseBody string, responseStatus int) error
	MarkFailed(ctx context.Context, key, note string) error
}

type Publisher interface {
	Publish(ctx context.Context, ev events.Event) error
}

// Deps are the collaborators of the workflow. Gateway may be nil, in which case
// every checkout fails its precondition. Idempotency and Publisher are optional.
type Deps struct {
	Carts       CartStore
	Sellers     SellerDirectory
	Stocks      StockStore
	Orders      OrderWriter
	Gateway     payment.Gateway
	Idempotency IdempotencyStore
	Publisher   Publisher
	Metrics     metrics.Recorder
	Log         *logger.Logger
}

// Options bound the workflow's external calls.
type Options struct {
	StoreTimeout    time.Duration
	PaymentTimeout  time.Duration
	Currency        string
	RejectOverOrder bool
}

// Workflow places orders from a buyer's cart.
type Workflow struct {
	deps    Deps
	opts    Options
	nowFunc func() time.Time
	newID   func() string
}

func NewWorkflow(deps Deps, opts Options) *Workflow {
	if deps.Log == nil {
		deps.Log = logger.Nop()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop{}
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 10 * time.Second
	}
	if opts.PaymentTimeout <= 0 {
		opts.PaymentTimeout = 15 * time.Second
	}
	if opts.Currency == "" {
		opts.Currency = "INR"
	}
	return &Workflow{deps: deps, opts: opts, nowFunc: time.Now, newID: uuid.NewString}
}

// Buyer is the authenticated purchaser.
type Buyer struct {
	ID    string
	Name  string
	Email string
	Role  catalog.Role
}

// Request is one checkout attempt.
type Request struct {
	Buyer Buyer
	// PaymentSourceID is the card token from the payment sheet. Empty means
	// the buyer closed the sheet.
	PaymentSourceID string
	IdempotencyKey  string
}

// Result is what a successful checkout returns and what a replay reproduces.
type Result struct {
	CheckoutID       string              `json:"checkout_id"`
	Orders           []orders.Order      `json:"orders"`
	PaymentStatus    string              `json:"payment_status"`
	PaymentReference string              `json:"payment_reference,omitempty"`
	PaymentError     string              `json:"payment_error,omitempty"`
	Clamped          map[string][]string `json:"clamped,omitempty"`
	Replayed         bool                `json:"-"`
}

// Place runs the checkout: preconditions, one payment for the whole cart, one
// order per seller, then per seller the buyer increment and seller decrement.
// The cart is cleared only when every seller group finished.
func (w *Workflow) Place(ctx context.Context, req Request) (*Result, error) {
	buyer := req.Buyer
	if strings.TrimSpace(buyer.ID) == "" {
		return nil, preconditionError(apperrors.CodeUnauthorized, ErrUnauthenticated, msgUnauthenticated)
	}
	ctx = w.deps.Log.WithUserID(ctx, buyer.ID)

	key := strings.TrimSpace(req.IdempotencyKey)
	if key != "" && w.deps.Idempotency != nil {
		replay, err := w.begin(ctx, key, buyer.ID)
		if err != nil || replay != nil {
			return replay, err
		}
	}

	res, status, err := w.place(ctx, buyer, req.PaymentSourceID, key)
	if key != "" && w.deps.Idempotency != nil {
		w.finish(ctx, key, res, status, err)
	}
	return res, err
}

func (w *Workflow) begin(ctx context.Context, key, owner string) (*Result, error) {
	sctx, cancel := w.storeCtx(ctx)
	defer cancel()
	outcome, rec, err := w.deps.Idempotency.Begin(sctx, key, owner)
	switch {
	case errors.Is(err, idempotency.ErrInProgress):
		return nil, apperrors.Wrap(apperrors.CodeConflict, err, msgInProgress)
	case errors.Is(err, idempotency.ErrKeyReused):
		return nil, apperrors.Wrap(apperrors.CodeIdempotency, err, msgKeyReused)
	case err != nil:
		return nil, apperrors.Wrap(apperrors.CodeDependency, err, "idempotency check failed")
	}
	if outcome != idempotency.Replay {
		return nil, nil
	}
	if rec.ResponseStatus >= http.StatusInternalServerError {
		return nil, persistenceError(errors.New(rec.ResponseBody))
	}
	var res Result
	if err := json.Unmarshal([]byte(rec.ResponseBody), &res); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "stored checkout response is unreadable")
	}
	res.Replayed = true
	w.deps.Log.Info(w.deps.Log.WithField(ctx, "idempotency_key", key), "checkout replayed")
	return &res, nil
}

// finish records the outcome on the idempotency key. Once orders exist the key
// is completed even on failure so a retry cannot charge twice.
func (w *Workflow) finish(ctx context.Context, key string, res *Result, status int, placeErr error) {
	sctx, cancel := w.storeCtx(context.WithoutCancel(ctx))
	defer cancel()
	var err error
	switch {
	case status == 0:
		note := ""
		if placeErr != nil {
			note = placeErr.Error()
		}
		err = w.deps.Idempotency.MarkFailed(sctx, key, note)
	default:
		body, mErr := json.Marshal(res)
		if mErr != nil {
			err = mErr
			break
		}
		err = w.deps.Idempotency.MarkDone(sctx, key, string(body), status)
	}
	if err != nil {
		w.deps.Log.Error(w.deps.Log.WithField(ctx, "idempotency_key", key), "failed to record checkout outcome", err)
	}
}

// place returns the HTTP-like status to remember for the key: 0 when nothing
// durable was written, 201 on success and 500 once orders exist but a stock
// step failed.
func (w *Workflow) place(ctx context.Context, buyer Buyer, sourceID, key string) (*Result, int, error) {
	if w.deps.Gateway == nil {
		return nil, 0, preconditionError(apperrors.CodePrecondition, ErrPaymentNotConfigured, msgNotConfigured)
	}
	c, err := w.loadCart(ctx, buyer.ID)
	if err != nil {
		return nil, 0, err
	}
	if c.Empty() {
		return nil, 0, preconditionError(apperrors.CodeValidation, ErrEmptyCart, msgEmptyCart)
	}
	groups := c.BySeller()
	if err := w.checkSellers(ctx, buyer, groups); err != nil {
		return nil, 0, err
	}
	if w.opts.RejectOverOrder {
		if err := w.checkAvailability(ctx, groups); err != nil {
			return nil, 0, err
		}
	}

	// From the charge on, a caller going away must not strand a payment
	// without its orders. Each call below keeps its own timeout.
	ctx = context.WithoutCancel(ctx)

	checkoutID := w.newID()
	ctx = w.deps.Log.WithField(ctx, "checkout_id", checkoutID)
	res := &Result{CheckoutID: checkoutID}

	w.charge(ctx, buyer, sourceID, key, c.Total(), groups, res)

	batch := w.buildOrders(buyer, groups, res)
	if err := w.createOrders(ctx, key, batch); err != nil {
		w.deps.Log.Error(w.deps.Log.WithFields(ctx, map[string]any{
			"payment_status":    res.PaymentStatus,
			"payment_reference": res.PaymentReference,
		}), "order creation failed", err)
		w.deps.Metrics.CheckoutCompleted(metrics.OutcomeFailed, 0)
		return nil, 0, persistenceError(err)
	}
	res.Orders = batch

	stockErr := w.moveStock(ctx, buyer, batch, res)
	w.publishPlaced(ctx, batch)

	if stockErr != nil {
		w.deps.Metrics.CheckoutCompleted(metrics.OutcomePartial, len(batch))
		return res, http.StatusInternalServerError, persistenceError(stockErr)
	}

	cctx, cancel := w.storeCtx(ctx)
	defer cancel()
	if err := w.deps.Carts.Clear(cctx, buyer.ID); err != nil {
		w.deps.Log.Warn(w.deps.Log.WithField(ctx, "error", err.Error()), "cart not cleared after checkout")
	}
	w.deps.Metrics.CheckoutCompleted(metrics.OutcomeSuccess, len(batch))
	w.deps.Log.Info(w.deps.Log.WithFields(ctx, map[string]any{
		"orders":         len(batch),
		"payment_status": res.PaymentStatus,
	}), "checkout completed")
	return res, http.StatusCreated, nil
}

func (w *Workflow) loadCart(ctx context.Context, buyerID string) (*cart.Cart, error) {
	sctx, cancel := w.storeCtx(ctx)
	defer cancel()
	c, err := w.deps.Carts.Load(sctx, buyerID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDependency, err, "cart unavailable")
	}
	return c, nil
}

func (w *Workflow) checkSellers(ctx context.Context, buyer Buyer, groups []cart.Group) error {
	upstream, ok := buyer.Role.Upstream()
	if !ok {
		return preconditionError(apperrors.CodeForbidden, ErrRoleMismatch, msgRoleMismatch)
	}
	for _, g := range groups {
		sctx, cancel := w.storeCtx(ctx)
		p, err := w.deps.Sellers.Profile(sctx, g.SellerID)
		cancel()
		if errors.Is(err, catalog.ErrSellerNotFound) {
			return preconditionError(apperrors.CodeValidation, ErrRoleMismatch, msgRoleMismatch).
				WithDetails(map[string]string{"seller_id": g.SellerID})
		}
		if err != nil {
			return apperrors.Wrap(apperrors.CodeDependency, err, "seller lookup failed")
		}
		if p.Role != upstream {
			return preconditionError(apperrors.CodeValidation, ErrRoleMismatch, msgRoleMismatch).
				WithDetails(map[string]string{"seller_id": g.SellerID})
		}
	}
	return nil
}

// checkAvailability rejects lines asking for more than the seller holds now.
func (w *Workflow) checkAvailability(ctx context.Context, groups []cart.Group) error {
	short := map[string]int{}
	for _, g := range groups {
		sctx, cancel := w.storeCtx(ctx)
		stock, err := w.deps.Stocks.View(sctx, g.SellerID)
		cancel()
		if err != nil {
			return apperrors.Wrap(apperrors.CodeDependency, err, "stock lookup failed")
		}
		for _, l := range g.Lines {
			if have := stock.Available(l.Category); l.Quantity > have {
				short[l.Key] = have
			}
		}
	}
	if len(short) == 0 {
		return nil
	}
	return apperrors.Wrap(apperrors.CodeConflict, ErrInsufficientStock, msgInsufficientStock).WithDetails(short)
}

// charge collects one payment for the whole cart. Any failure downgrades the
// checkout to a pending payment instead of aborting it.
func (w *Workflow) charge(ctx context.Context, buyer Buyer, sourceID, key string, total decimal.Decimal, groups []cart.Group, res *Result) {
	sellerIDs := make([]string, 0, len(groups))
	for _, g := range groups {
		sellerIDs = append(sellerIDs, g.SellerID)
	}
	payKey := res.CheckoutID
	if key != "" {
		payKey = "checkout-" + key
	}
	pctx, cancel := context.WithTimeout(ctx, w.opts.PaymentTimeout)
	defer cancel()
	charge, err := w.deps.Gateway.Charge(pctx, payment.ChargeRequest{
		SourceID:       sourceID,
		IdempotencyKey: payKey,
		AmountMinor:    pricing.MinorUnits(total),
		Currency:       w.opts.Currency,
		BuyerID:        buyer.ID,
		BuyerName:      buyer.Name,
		BuyerEmail:     buyer.Email,
		SellerIDs:      sellerIDs,
	})
	if err != nil {
		if errors.Is(pctx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
		}
		res.PaymentStatus = orders.PaymentPending
		res.PaymentError = payment.FailureMessage(err)
		w.deps.Log.Warn(w.deps.Log.WithFields(ctx, map[string]any{
			"reason": res.PaymentError,
			"error":  err.Error(),
		}), "payment not completed; placing order with pending payment")
	} else {
		res.PaymentStatus = orders.PaymentPaid
		res.PaymentReference = charge.Reference
	}
	w.deps.Metrics.PaymentOutcome(res.PaymentStatus)
}

func (w *Workflow) buildOrders(buyer Buyer, groups []cart.Group, res *Result) []orders.Order {
	now := w.nowFunc().UTC()
	note := NotePaid
	if res.PaymentStatus != orders.PaymentPaid {
		note = NotePending
	}
	flow := orders.FlowRetailWholesale
	if buyer.Role == catalog.RoleCustomer {
		flow = orders.FlowCustomerRetail
	}

	batch := make([]orders.Order, 0, len(groups))
	for _, g := range groups {
		total := decimal.Zero
		items := make([]orders.Item, 0, len(g.Lines))
		for _, l := range g.Lines {
			items = append(items, orders.Item{
				Category:    l.Category,
				DisplayName: l.DisplayName,
				Quantity:    l.Quantity,
				Price:       l.UnitPrice,
			})
			total = total.Add(pricing.LineTotal(l.Quantity, l.UnitPrice))
		}
		batch = append(batch, orders.Order{
			OrderID:          w.newID(),
			CheckoutID:       res.CheckoutID,
			Flow:             flow,
			BuyerID:          buyer.ID,
			BuyerName:        buyer.Name,
			SellerID:         g.SellerID,
			SellerName:       g.SellerName,
			Items:            items,
			TotalAmount:      total.InexactFloat64(),
			Status:           orders.StatusPlaced,
			StatusHistory:    []orders.HistoryEntry{{Status: orders.StatusPlaced, Timestamp: now, Note: note, ActorID: buyer.ID}},
			PaymentStatus:    res.PaymentStatus,
			PaymentReference: res.PaymentReference,
			PaymentError:     res.PaymentError,
			CreatedAt:        now,
			UpdatedAt:        now,
		})
	}
	return batch
}

func (w *Workflow) createOrders(ctx context.Context, key string, batch []orders.Order) error {
	var extra []types.TransactWriteItem
	if key != "" && w.deps.Idempotency != nil {
		ids := make([]string, 0, len(batch))
		for _, o := range batch {
			ids = append(ids, o.OrderID)
		}
		link, err := w.deps.Idempotency.LinkOrdersItem(key, ids)
		if err != nil {
			return err
		}
		extra = append(extra, link)
	}
	sctx, cancel := w.storeCtx(ctx)
	defer cancel()
	return w.deps.Orders.CreateBatch(sctx, batch, extra...)
}

// moveStock applies the buyer increment and seller decrement for every order.
// A failed decrement after an applied increment reverses the increment; what
// cannot be settled inline is handed to the worker as a compensation event.
// A failed increment still decrements the seller and leaves the increment to
// the worker.
func (w *Workflow) moveStock(ctx context.Context, buyer Buyer, batch []orders.Order, res *Result) error {
	var errs []error
	for _, o := range batch {
		octx := w.deps.Log.WithFields(ctx, map[string]any{"order_id": o.OrderID, "seller_id": o.SellerID})
		items := stockItems(o.Items)

		incremented := false
		if buyer.Role.Resells() {
			sctx, cancel := w.storeCtx(octx)
			_, err := w.deps.Stocks.Increment(sctx, buyer.ID, items)
			cancel()
			incremented = err == nil
			if err != nil {
				w.deps.Log.Error(octx, "buyer stock increment failed; deferring to worker", err)
				errs = append(errs, fmt.Errorf("order %s: increment buyer stock: %w", o.OrderID, err))
				w.deps.Metrics.CompensationTriggered(events.RetryIncrement)
				w.publishCompensation(octx, o, events.RetryIncrement, buyer.ID, items, err)
			}
		}

		sctx, cancel := w.storeCtx(octx)
		dec, err := w.deps.Stocks.Decrement(sctx, o.SellerID, items)
		cancel()
		if err != nil {
			w.deps.Log.Error(octx, "seller stock decrement failed", err)
			errs = append(errs, fmt.Errorf("order %s: decrement seller stock: %w", o.OrderID, err))
			w.compensate(octx, buyer, o, items, incremented, err)
			continue
		}
		w.recordClamps(octx, o.SellerID, dec, res)
	}
	return errors.Join(errs...)
}

func (w *Workflow) compensate(ctx context.Context, buyer Buyer, o orders.Order, items []catalog.Item, incremented bool, cause error) {
	if !incremented {
		w.deps.Metrics.CompensationTriggered(events.RetryDecrement)
		w.publishCompensation(ctx, o, events.RetryDecrement, o.SellerID, items, cause)
		return
	}
	w.deps.Metrics.CompensationTriggered(events.ReverseIncrement)
	sctx, cancel := w.storeCtx(context.WithoutCancel(ctx))
	_, err := w.deps.Stocks.Decrement(sctx, buyer.ID, items)
	cancel()
	if err == nil {
		w.deps.Log.Warn(ctx, "buyer stock increment reversed")
		return
	}
	w.deps.Log.Error(ctx, "buyer stock reversal failed; deferring to worker", err)
	w.publishCompensation(ctx, o, events.ReverseIncrement, buyer.ID, items, cause)
}

func (w *Workflow) publishCompensation(ctx context.Context, o orders.Order, direction, owner string, items []catalog.Item, cause error) {
	ev := events.New(events.TypeStockCompensate, w.nowFunc())
	ev.OrderID = o.OrderID
	ev.BuyerID = o.BuyerID
	ev.SellerID = o.SellerID
	ev.Direction = direction
	ev.StockOwnerID = owner
	ev.Items = eventItems(items)
	ev.Reason = cause.Error()
	ev.CorrelationID = o.CheckoutID
	w.publish(ctx, ev)
}

func (w *Workflow) publishPlaced(ctx context.Context, batch []orders.Order) {
	for _, o := range batch {
		ev := events.New(events.TypeOrderPlaced, w.nowFunc())
		ev.OrderID = o.OrderID
		ev.BuyerID = o.BuyerID
		ev.SellerID = o.SellerID
		ev.PaymentStatus = o.PaymentStatus
		ev.TotalAmount = o.TotalAmount
		ev.CorrelationID = o.CheckoutID
		w.publish(ctx, ev)
	}
}

func (w *Workflow) publish(ctx context.Context, ev events.Event) {
	if w.deps.Publisher == nil {
		return
	}
	sctx, cancel := w.storeCtx(context.WithoutCancel(ctx))
	defer cancel()
	if err := w.deps.Publisher.Publish(sctx, ev); err != nil {
		w.deps.Log.Error(w.deps.Log.WithFields(ctx, map[string]any{
			"event_type": ev.Type,
			"event_id":   ev.EventID,
		}), "event publish failed", err)
	}
}

func (w *Workflow) recordClamps(ctx context.Context, sellerID string, dec *catalog.DecrementResult, res *Result) {
	if dec == nil || len(dec.Clamped) == 0 {
		return
	}
	for _, cat := range dec.Clamped {
		w.deps.Metrics.StockClamped(cat, dec.Requested[cat]-dec.Applied[cat])
	}
	if res.Clamped == nil {
		res.Clamped = map[string][]string{}
	}
	res.Clamped[sellerID] = append(res.Clamped[sellerID], dec.Clamped...)
	w.deps.Log.Warn(w.deps.Log.WithField(ctx, "categories", strings.Join(dec.Clamped, ",")), "ordered more than seller stock; decrement clamped at zero")
}

func (w *Workflow) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, w.opts.StoreTimeout)
}

func stockItems(items []orders.Item) []catalog.Item {
	out := make([]catalog.Item, 0, len(items))
	for _, it := range items {
		out = append(out, catalog.Item{Category: it.Category, Quantity: it.Quantity, Price: it.Price})
	}
	return out
}

func eventItems(items []catalog.Item) []events.Item {
	out := make([]events.Item, 0, len(items))
	for _, it := range items {
		out = append(out, events.Item{Category: it.Category, Quantity: it.Quantity, Price: it.Price})
	}
	return out
}
