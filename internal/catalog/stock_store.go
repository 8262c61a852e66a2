package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"

	"github.com/imrishuroy/bitsmart-orderflow/internal/aws"
	"github.com/imrishuroy/bitsmart-orderflow/internal/logger"
)

const (
	defaultAttempts = 3
	defaultBackoff  = 100 * time.Millisecond
	// appliedOpsKept bounds the mutation ids remembered on a record.
	appliedOpsKept = 16
)

// StockStore persists stock records with optimistic, version-guarded writes.
// Every mutation is a read-check-write against one document; a concurrent
// writer makes the put fail and the mutation is retried on fresh state. Each
// write stamps the mutation's id on the record so a retry after an ambiguous
// failure can tell that the earlier put already landed.
type StockStore struct {
	client    aws.DynamoDBAPI
	tableName string
	attempts  int
	backoff   time.Duration
	log       *logger.Logger
	nowFunc   func() time.Time
	newOpID   func() string
	sleep     func(context.Context, time.Duration) error
}

type StockOption func(*StockStore)

// WithRetry bounds the number of attempts and the first backoff delay.
func WithRetry(attempts int, backoff time.Duration) StockOption {
	return func(s *StockStore) {
		if attempts > 0 {
			s.attempts = attempts
		}
		if backoff >= 0 {
			s.backoff = backoff
		}
	}
}

func WithLogger(log *logger.Logger) StockOption {
	return func(s *StockStore) {
		if log != nil {
			s.log = log
		}
	}
}

func NewStockStore(client aws.DynamoDBAPI, tableName string, opts ...StockOption) *StockStore {
	s := &StockStore{
		client:    client,
		tableName: tableName,
		attempts:  defaultAttempts,
		backoff:   defaultBackoff,
		log:       logger.Nop(),
		nowFunc:   time.Now,
		newOpID:   uuid.NewString,
		sleep:     sleepCtx,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get fetches a stock record. Returns (nil, nil) if not found.
func (s *StockStore) Get(ctx context.Context, sellerID string) (*StockRecord, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            stockKey(sellerID),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get stock: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var rec StockRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal stock: %w", err)
	}
	rec.normalize()
	return &rec, nil
}

// View returns the stock record or an empty one when none exists.
func (s *StockStore) View(ctx context.Context, sellerID string) (*StockRecord, error) {
	rec, err := s.Get(ctx, sellerID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return NewStockRecord(sellerID), nil
	}
	return rec, nil
}

// EnsureExists creates an empty record unless one is already stored.
func (s *StockStore) EnsureExists(ctx context.Context, sellerID string) error {
	rec := NewStockRecord(sellerID)
	rec.UpdatedAt = s.nowFunc().UTC()
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("marshal stock: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(seller_id)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil
		}
		return fmt.Errorf("create stock: %w", err)
	}
	return nil
}

// Mutate applies fn to the latest stored record and writes it back guarded by
// its version. fn may run more than once; an error from fn aborts without retry.
// A retry that finds the mutation already applied returns the stored record
// without running fn again.
func (s *StockStore) Mutate(ctx context.Context, sellerID string, fn func(*StockRecord) error) (*StockRecord, error) {
	opID := s.newOpID()
	var lastErr error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		if attempt > 1 {
			delay := s.backoff << (attempt - 2)
			if err := s.sleep(ctx, delay); err != nil {
				return nil, fmt.Errorf("mutate stock %s: %w", sellerID, err)
			}
		}

		rec, err := s.mutateOnce(ctx, sellerID, opID, fn)
		if err == nil {
			return rec, nil
		}
		var fnErr *mutationError
		if errors.As(err, &fnErr) {
			return nil, fnErr.err
		}
		if !retryable(err) {
			return nil, err
		}
		lastErr = err
		s.log.Warn(s.log.WithFields(ctx, map[string]any{
			"seller_id": sellerID,
			"attempt":   attempt,
			"error":     err.Error(),
		}), "stock write retry")
	}
	return nil, fmt.Errorf("mutate stock %s after %d attempts: %w", sellerID, s.attempts, lastErr)
}

type mutationError struct{ err error }

func (e *mutationError) Error() string { return e.err.Error() }

func (s *StockStore) mutateOnce(ctx context.Context, sellerID, opID string, fn func(*StockRecord) error) (*StockRecord, error) {
	current, err := s.Get(ctx, sellerID)
	if err != nil {
		return nil, err
	}
	found := current != nil
	if !found {
		current = NewStockRecord(sellerID)
	}
	if current.applied(opID) {
		s.log.Info(s.log.WithField(ctx, "seller_id", sellerID), "stock write already applied")
		return current, nil
	}

	next := current.clone()
	if err := fn(next); err != nil {
		return nil, &mutationError{err: err}
	}
	next.normalize()
	next.SellerID = sellerID
	next.Version = current.Version + 1
	next.UpdatedAt = s.nowFunc().UTC()
	next.AppliedOps = append(next.AppliedOps, opID)
	if n := len(next.AppliedOps); n > appliedOpsKept {
		next.AppliedOps = next.AppliedOps[n-appliedOpsKept:]
	}

	item, err := attributevalue.MarshalMap(next)
	if err != nil {
		return nil, &mutationError{err: fmt.Errorf("marshal stock: %w", err)}
	}
	input := &dyn.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	}
	if found {
		input.ConditionExpression = awsString("version = :v")
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":v": &types.AttributeValueMemberN{Value: strconv.FormatInt(current.Version, 10)},
		}
	} else {
		input.ConditionExpression = awsString("attribute_not_exists(seller_id)")
	}

	if _, err := s.client.PutItem(ctx, input); err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil, ErrVersionConflict
		}
		return nil, fmt.Errorf("put stock: %w", err)
	}
	return next, nil
}

// Increment adds quantities to a buyer's stock and carries forward the unit
// price paid for each category.
func (s *StockStore) Increment(ctx context.Context, ownerID string, items []Item) (*StockRecord, error) {
	for _, it := range items {
		if it.Quantity < 0 {
			return nil, ErrNegativeQuantity
		}
	}
	return s.Mutate(ctx, ownerID, func(rec *StockRecord) error {
		for _, it := range items {
			rec.Quantities[it.Category] += it.Quantity
			if it.Price > 0 {
				rec.Prices[it.Category] = it.Price
			}
		}
		return nil
	})
}

// Decrement removes quantities from a seller's stock, clamping at zero.
func (s *StockStore) Decrement(ctx context.Context, sellerID string, items []Item) (*DecrementResult, error) {
	for _, it := range items {
		if it.Quantity < 0 {
			return nil, ErrNegativeQuantity
		}
	}
	var res *DecrementResult
	rec, err := s.Mutate(ctx, sellerID, func(rec *StockRecord) error {
		res = &DecrementResult{Requested: map[string]int{}, Applied: map[string]int{}}
		clamped := map[string]bool{}
		for _, it := range items {
			have := rec.Available(it.Category)
			take := it.Quantity
			if take > have {
				take = have
				clamped[it.Category] = true
			}
			rec.Quantities[it.Category] = have - take
			res.Requested[it.Category] += it.Quantity
			res.Applied[it.Category] += take
		}
		for cat := range clamped {
			res.Clamped = append(res.Clamped, cat)
		}
		sort.Strings(res.Clamped)
		return nil
	})
	if err != nil {
		return nil, err
	}
	res.Record = rec
	return res, nil
}

// Edit applies a seller's own changes to its stock record.
func (s *StockStore) Edit(ctx context.Context, sellerID string, edit StockEdit) (*StockRecord, error) {
	if err := edit.validate(); err != nil {
		return nil, err
	}
	return s.Mutate(ctx, sellerID, func(rec *StockRecord) error {
		for k, v := range edit.Quantities {
			rec.Quantities[k] = v
		}
		for k, v := range edit.Prices {
			rec.Prices[k] = v
		}
		for k, v := range edit.DisplayNames {
			rec.DisplayNames[k] = v
		}
		for k, v := range edit.Images {
			rec.Images[k] = v
		}
		return nil
	})
}

func retryable(err error) bool {
	if errors.Is(err, ErrVersionConflict) {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ProvisionedThroughputExceededException", "ThrottlingException",
			"RequestLimitExceeded", "InternalServerError", "TransactionConflictException":
			return true
		}
		return false
	}
	// transport-level failures carry no API code; the put may have landed,
	// which the retry detects through the mutation id
	return true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func stockKey(sellerID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"seller_id": &types.AttributeValueMemberS{Value: sellerID},
	}
}

func awsString(s string) *string { return &s }

func awsBool(b bool) *bool { return &b }
