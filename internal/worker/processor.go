package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/imrishuroy/bitsmart-orderflow/internal/catalog"
	bevents "github.com/imrishuroy/bitsmart-orderflow/internal/events"
	"github.com/imrishuroy/bitsmart-orderflow/internal/idempotency"
	"github.com/imrishuroy/bitsmart-orderflow/internal/logger"
	"github.com/imrishuroy/bitsmart-orderflow/internal/metrics"
	"github.com/imrishuroy/bitsmart-orderflow/internal/orders"
)

const owner = "worker"

// Results reported to EventProcessed.
const (
	ResultApplied   = "applied"
	ResultDuplicate = "duplicate"
	ResultFailed    = "failed"
	ResultSkipped   = "skipped"
)

// StockAdjuster moves quantities on a stock record.
type StockAdjuster interface {
	Increment(ctx context.Context, ownerID string, items []catalog.Item) (*catalog.StockRecord, error)
	Decrement(ctx context.Context, sellerID string, items []catalog.Item) (*catalog.DecrementResult, error)
}

// Deduper suppresses repeated deliveries of the same event.
type Deduper interface {
	Begin(ctx context.Context, key, owner string) (idempotency.Outcome, *idempotency.Record, error)
	MarkDone(ctx context.Context, key, responseBody string, responseStatus int) error
	MarkFailed(ctx context.Context, key, note string) error
}

// Processor handles SQS messages published by the checkout workflow.
type Processor struct {
	stocks  StockAdjuster
	dedupe  Deduper
	metrics metrics.Recorder
	log     *logger.Logger
	timeout time.Duration
}

// NewProcessor wires the processor. dedupe may be nil, in which case every
// delivery is applied.
func NewProcessor(stocks StockAdjuster, dedupe Deduper, rec metrics.Recorder, log *logger.Logger, timeout time.Duration) *Processor {
	if rec == nil {
		rec = metrics.Nop{}
	}
	if log == nil {
		log = logger.Nop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Processor{stocks: stocks, dedupe: dedupe, metrics: rec, log: log, timeout: timeout}
}

// Handle processes a batch and reports the messages that should be redelivered.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		mctx := p.log.WithField(ctx, "message_id", rec.MessageId)
		if err := p.processMessage(mctx, rec); err != nil {
			p.log.Error(mctx, "worker message failed", err)
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{
				ItemIdentifier: rec.MessageId,
			})
		}
	}
	return resp, nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	var msg bevents.Event
	if err := json.Unmarshal([]byte(rec.Body), &msg); err != nil {
		p.metrics.EventProcessed("unknown", ResultFailed)
		return fmt.Errorf("invalid message body: %w", err)
	}
	ctx = p.log.WithFields(ctx, map[string]any{
		"event_id":   msg.EventID,
		"event_type": msg.Type,
		"order_id":   msg.OrderID,
	})

	key := "event:" + msg.EventID
	if p.dedupe != nil && msg.EventID != "" {
		outcome, _, err := p.dedupe.Begin(ctx, key, owner)
		if err != nil {
			p.metrics.EventProcessed(msg.Type, ResultFailed)
			return fmt.Errorf("claim event: %w", err)
		}
		if outcome == idempotency.Replay {
			p.log.Info(ctx, "duplicate event ignored")
			p.metrics.EventProcessed(msg.Type, ResultDuplicate)
			return nil
		}
	}

	result, err := p.dispatch(ctx, msg)
	if p.dedupe != nil && msg.EventID != "" {
		p.settle(ctx, key, msg, err)
	}
	if err != nil {
		p.metrics.EventProcessed(msg.Type, ResultFailed)
		return err
	}
	p.metrics.EventProcessed(msg.Type, result)
	return nil
}

func (p *Processor) dispatch(ctx context.Context, msg bevents.Event) (string, error) {
	switch msg.Type {
	case bevents.TypeOrderPlaced:
		p.orderPlaced(ctx, msg)
		return ResultApplied, nil
	case bevents.TypeStockCompensate:
		return ResultApplied, p.compensate(ctx, msg)
	default:
		p.log.Warn(ctx, "unknown event type")
		return ResultSkipped, nil
	}
}

func (p *Processor) orderPlaced(ctx context.Context, msg bevents.Event) {
	ctx = p.log.WithFields(ctx, map[string]any{
		"buyer_id":       msg.BuyerID,
		"seller_id":      msg.SellerID,
		"payment_status": msg.PaymentStatus,
		"total_amount":   msg.TotalAmount,
	})
	if msg.PaymentStatus == orders.PaymentPending {
		p.log.Warn(ctx, "order placed with pending payment; needs reconciliation")
		return
	}
	p.log.Info(ctx, "order placed")
}

// compensate settles a stock movement the checkout could not finish inline.
// A reversal takes back what the buyer gained and a decrement retry applies
// the seller decrement that never landed. An increment retry adds the
// purchased quantities to the buyer.
func (p *Processor) compensate(ctx context.Context, msg bevents.Event) error {
	ownerID := msg.StockOwnerID
	switch msg.Direction {
	case bevents.ReverseIncrement, bevents.RetryIncrement:
		if ownerID == "" {
			ownerID = msg.BuyerID
		}
	case bevents.RetryDecrement:
		if ownerID == "" {
			ownerID = msg.SellerID
		}
	default:
		return fmt.Errorf("unknown compensation direction %q", msg.Direction)
	}
	if ownerID == "" || len(msg.Items) == 0 {
		return errors.New("compensation event has no stock owner or items")
	}

	items := make([]catalog.Item, 0, len(msg.Items))
	for _, it := range msg.Items {
		items = append(items, catalog.Item{Category: it.Category, Quantity: it.Quantity, Price: it.Price})
	}

	fields := map[string]any{
		"direction":      msg.Direction,
		"stock_owner_id": ownerID,
	}
	sctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if msg.Direction == bevents.RetryIncrement {
		if _, err := p.stocks.Increment(sctx, ownerID, items); err != nil {
			return fmt.Errorf("%s for %s: %w", msg.Direction, ownerID, err)
		}
	} else {
		res, err := p.stocks.Decrement(sctx, ownerID, items)
		if err != nil {
			return fmt.Errorf("%s for %s: %w", msg.Direction, ownerID, err)
		}
		if len(res.Clamped) > 0 {
			fields["clamped"] = res.Clamped
		}
	}
	p.log.Info(p.log.WithFields(ctx, fields), "stock compensation applied")
	return nil
}

func (p *Processor) settle(ctx context.Context, key string, msg bevents.Event, cause error) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()
	if cause != nil {
		if err := p.dedupe.MarkFailed(sctx, key, cause.Error()); err != nil {
			p.log.Error(ctx, "mark event failed", err)
		}
		return
	}
	body, _ := json.Marshal(map[string]string{"event_id": msg.EventID, "type": msg.Type})
	if err := p.dedupe.MarkDone(sctx, key, string(body), 200); err != nil {
		p.log.Error(ctx, "mark event done", err)
	}
}
