package orders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/imrishuroy/bitsmart-orderflow/internal/logger"
)

// TransitionRecorder observes applied status transitions.
type TransitionRecorder interface {
	StatusTransition(to string)
}

type nopRecorder struct{}

func (nopRecorder) StatusTransition(string) {}

// Service applies fulfillment operations on top of the Store.
type Service struct {
	store    *Store
	log      *logger.Logger
	recorder TransitionRecorder
	nowFunc  func() time.Time
}

func NewService(store *Store, log *logger.Logger, recorder TransitionRecorder) *Service {
	if log == nil {
		log = logger.Nop()
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Service{store: store, log: log, recorder: recorder, nowFunc: time.Now}
}

// Store exposes the underlying table access to the checkout workflow.
func (s *Service) Store() *Store { return s.store }

// Result reports the order after a transition. Applied is false when the
// order was already Delivered and nothing changed.
type Result struct {
	Order   *Order `json:"order"`
	Applied bool   `json:"applied"`
}

// Get returns an order visible to actor.
func (s *Service) Get(ctx context.Context, orderID string, actor Actor) (*Order, error) {
	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, ErrNotFound
	}
	if !o.IsParty(actor.ID) {
		return nil, ErrForbidden
	}
	return o, nil
}

// Advance moves the order one step along Flow.
func (s *Service) Advance(ctx context.Context, orderID string, actor Actor) (*Result, error) {
	o, err := s.Get(ctx, orderID, actor)
	if err != nil {
		return nil, err
	}
	next, ok := Next(o.Status)
	if !ok {
		return &Result{Order: o, Applied: false}, nil
	}
	return s.transition(ctx, o, next, "Updated by "+actor.Label(), actor)
}

// MarkDelivered jumps straight to Delivered from any other status.
func (s *Service) MarkDelivered(ctx context.Context, orderID string, actor Actor) (*Result, error) {
	o, err := s.Get(ctx, orderID, actor)
	if err != nil {
		return nil, err
	}
	if IsTerminal(o.Status) {
		return &Result{Order: o, Applied: false}, nil
	}
	return s.transition(ctx, o, StatusDelivered, "Delivered by "+actor.Label(), actor)
}

func (s *Service) transition(ctx context.Context, o *Order, next, note string, actor Actor) (*Result, error) {
	entry := HistoryEntry{
		Status:    next,
		Timestamp: s.nowFunc().UTC(),
		Note:      note,
		ActorID:   actor.ID,
	}
	updated, err := s.store.AppendStatus(ctx, o.OrderID, o.Status, entry)
	if err != nil {
		return nil, err
	}
	s.recorder.StatusTransition(next)
	s.log.Info(s.log.WithFields(ctx, map[string]any{
		"order_id": o.OrderID,
		"from":     o.Status,
		"to":       next,
		"actor_id": actor.ID,
	}), "order status advanced")
	return &Result{Order: updated, Applied: true}, nil
}

// DeliveryInput is what the seller submits; identity and time are stamped here.
type DeliveryInput struct {
	ExpectedDate string
	Carrier      string
	Cost         float64
	Notes        string
}

// SetDeliveryInfo replaces the delivery object. Only the order's seller may write it.
func (s *Service) SetDeliveryInfo(ctx context.Context, orderID string, actor Actor, in DeliveryInput) (*Order, error) {
	if in.Cost < 0 {
		return nil, ErrInvalidCost
	}
	o, err := s.Get(ctx, orderID, actor)
	if err != nil {
		return nil, err
	}
	if o.SellerID != actor.ID {
		return nil, ErrNotSeller
	}
	info := DeliveryInfo{
		ExpectedDate:  strings.TrimSpace(in.ExpectedDate),
		Carrier:       strings.TrimSpace(in.Carrier),
		Cost:          in.Cost,
		Notes:         strings.TrimSpace(in.Notes),
		UpdatedBy:     actor.ID,
		UpdatedByName: actor.Name,
		UpdatedAt:     s.nowFunc().UTC(),
	}
	return s.store.SetDelivery(ctx, orderID, info)
}

// ReconcilePayment records a payment collected after the order was placed.
func (s *Service) ReconcilePayment(ctx context.Context, orderID string, actor Actor, reference string) (*Order, error) {
	o, err := s.Get(ctx, orderID, actor)
	if err != nil {
		return nil, err
	}
	if o.SellerID != actor.ID {
		return nil, ErrNotSeller
	}
	if o.PaymentStatus != PaymentPending {
		return nil, ErrPaymentNotPending
	}
	updated, err := s.store.MarkPaid(ctx, orderID, strings.TrimSpace(reference))
	if err != nil {
		return nil, err
	}
	s.log.Info(s.log.WithOrderID(ctx, orderID), "pending payment reconciled")
	return updated, nil
}

// Side selects which party's orders to list.
type Side string

const (
	SideBuyer  Side = "buyer"
	SideSeller Side = "seller"
)

// List returns the actor's orders newest first.
func (s *Service) List(ctx context.Context, actor Actor, side Side, pageSize int32, cursor string) (*Page, error) {
	index := BuyerIndex
	switch side {
	case SideBuyer, "":
	case SideSeller:
		index = SellerIndex
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidSide, side)
	}
	return s.store.ListByParty(ctx, index, actor.ID, pageSize, cursor)
}
