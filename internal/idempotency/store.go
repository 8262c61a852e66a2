package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/imrishuroy/bitsmart-orderflow/internal/aws"
)

// DefaultLease is how long an IN_PROGRESS claim is honoured without progress.
// It must exceed the longest run of the request it guards.
const DefaultLease = 5 * time.Minute

// Store encapsulates idempotency operations against DynamoDB.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	ttlWindow time.Duration // default TTL window when creating entries
	lease     time.Duration
	nowFunc   func() time.Time
}

type Option func(*Store)

// WithLease sets how long an unfinished claim blocks other attempts.
func WithLease(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.lease = d
		}
	}
}

// NewStore returns a configured Store.
// tableName: DynamoDB table name for idempotency entries.
// ttlWindow: default TTL window (e.g., 48*time.Hour)
func NewStore(client aws.DynamoDBAPI, tableName string, ttlWindow time.Duration, opts ...Option) *Store {
	s := &Store{
		client:    client,
		tableName: tableName,
		ttlWindow: ttlWindow,
		lease:     DefaultLease,
		nowFunc:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var (
	// ErrConditionFailed indicates a conditional write failed (e.g., attribute_not_exists)
	ErrConditionFailed = errors.New("conditional check failed")
	// ErrInProgress is returned while another request holds the key.
	ErrInProgress = errors.New("request with this idempotency key is in progress")
	// ErrKeyReused is returned when a different owner presents an existing key.
	ErrKeyReused = errors.New("idempotency key reused")
)

// CreateIfNotExists creates an idempotency record with status IN_PROGRESS if the key does not exist.
// Returns (created=true, nil) if successfully created.
// Returns (created=false, nil) if the record already exists (caller should Get to inspect).
// Returns (created=false, err) on other errors.
func (s *Store) CreateIfNotExists(ctx context.Context, key, owner string) (bool, error) {
	err := s.putClaim(ctx, key, owner, "attribute_not_exists(idempotency_key)", nil, nil)
	if err != nil {
		if errors.Is(err, ErrConditionFailed) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// putClaim writes a fresh IN_PROGRESS record for owner under condition.
func (s *Store) putClaim(ctx context.Context, key, owner, condition string, names map[string]string, values map[string]types.AttributeValue) error {
	now := s.nowFunc().UTC()
	rec := Record{
		IdempotencyKey: key,
		Status:         StatusInProgress,
		Owner:          owner,
		CreatedAt:      now,
		UpdatedAt:      now,
		ExpiresAt:      now.Add(s.ttlWindow).Unix(),
	}

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:                 &s.tableName,
		Item:                      item,
		ConditionExpression:       awsString(condition),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if err != nil {
		if isConditionFailed(err) {
			return ErrConditionFailed
		}
		return fmt.Errorf("put item: %w", err)
	}
	return nil
}

// takeOver replaces a record that was abandoned or has expired. The write is
// guarded by the attributes observed in item, so of two concurrent callers
// only one wins.
func (s *Store) takeOver(ctx context.Context, key, owner string, item map[string]types.AttributeValue) error {
	names := map[string]string{}
	values := map[string]types.AttributeValue{}
	var conds []string
	for i, attr := range []string{"status", "updated_at", "expires_at"} {
		name := "#a" + strconv.Itoa(i)
		names[name] = attr
		v, ok := item[attr]
		if !ok {
			conds = append(conds, "attribute_not_exists("+name+")")
			continue
		}
		ref := ":seen" + strconv.Itoa(i)
		values[ref] = v
		conds = append(conds, name+" = "+ref)
	}
	return s.putClaim(ctx, key, owner, strings.Join(conds, " AND "), names, values)
}

// Reclaim moves a FAILED record back to IN_PROGRESS so the request can run again.
// Returns ErrConditionFailed if the record is no longer FAILED.
func (s *Store) Reclaim(ctx context.Context, key string) error {
	now := s.nowFunc().UTC()
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                &s.tableName,
		Key:                      recordKey(key),
		UpdateExpression:         awsString("SET #s = :inprogress, updated_at = :ua, expires_at = :exp"),
		ConditionExpression:      awsString("#s = :failed"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":inprogress": &types.AttributeValueMemberS{Value: StatusInProgress},
			":failed":     &types.AttributeValueMemberS{Value: StatusFailed},
			":ua":         &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
			":exp":        &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Add(s.ttlWindow).Unix(), 10)},
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return ErrConditionFailed
		}
		return fmt.Errorf("update item (reclaim): %w", err)
	}
	return nil
}

// Begin claims key for owner. A completed key is returned for replay, a key
// held by a running request yields ErrInProgress and a failed one is reclaimed.
// A key past its expiry is free again, and an IN_PROGRESS claim that made no
// progress within the lease and linked no orders is taken over.
func (s *Store) Begin(ctx context.Context, key, owner string) (Outcome, *Record, error) {
	created, err := s.CreateIfNotExists(ctx, key, owner)
	if err != nil {
		return Claimed, nil, err
	}
	if created {
		return Claimed, nil, nil
	}

	item, rec, err := s.get(ctx, key)
	if err != nil {
		return Claimed, nil, err
	}
	if rec == nil {
		// expired between the put and the read
		return Claimed, nil, ErrInProgress
	}
	now := s.nowFunc().UTC()
	if rec.ExpiresAt > 0 && now.Unix() >= rec.ExpiresAt {
		// TTL deletion lags behind expires_at
		return s.claimFrom(ctx, key, owner, item)
	}
	if rec.Owner != "" && rec.Owner != owner {
		return Claimed, nil, ErrKeyReused
	}
	if rec.Status == StatusInProgress && len(rec.OrderIDs) == 0 && now.Sub(rec.UpdatedAt) >= s.lease {
		return s.claimFrom(ctx, key, owner, item)
	}
	switch rec.Status {
	case StatusDone:
		return Replay, rec, nil
	case StatusFailed:
		if err := s.Reclaim(ctx, key); err != nil {
			if errors.Is(err, ErrConditionFailed) {
				return Claimed, nil, ErrInProgress
			}
			return Claimed, nil, err
		}
		return Claimed, nil, nil
	default:
		return Claimed, nil, ErrInProgress
	}
}

func (s *Store) claimFrom(ctx context.Context, key, owner string, item map[string]types.AttributeValue) (Outcome, *Record, error) {
	if err := s.takeOver(ctx, key, owner, item); err != nil {
		if errors.Is(err, ErrConditionFailed) {
			return Claimed, nil, ErrInProgress
		}
		return Claimed, nil, err
	}
	return Claimed, nil, nil
}

// LinkOrdersItem returns a transaction write that records the created order ids
// on an in-progress key, so orders and key commit together.
func (s *Store) LinkOrdersItem(key string, orderIDs []string) (types.TransactWriteItem, error) {
	ids, err := attributevalue.Marshal(orderIDs)
	if err != nil {
		return types.TransactWriteItem{}, fmt.Errorf("marshal order ids: %w", err)
	}
	return types.TransactWriteItem{
		Update: &types.Update{
			TableName:                &s.tableName,
			Key:                      recordKey(key),
			UpdateExpression:         awsString("SET order_ids = :ids, updated_at = :ua"),
			ConditionExpression:      awsString("#s = :inprogress"),
			ExpressionAttributeNames: map[string]string{"#s": "status"},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":ids":        ids,
				":inprogress": &types.AttributeValueMemberS{Value: StatusInProgress},
				":ua":         &types.AttributeValueMemberS{Value: s.nowFunc().UTC().Format(time.RFC3339)},
			},
		},
	}, nil
}

// Get retrieves an idempotency record by key. If not found, returns (nil, nil).
func (s *Store) Get(ctx context.Context, key string) (*Record, error) {
	_, rec, err := s.get(ctx, key)
	return rec, err
}

func (s *Store) get(ctx context.Context, key string) (map[string]types.AttributeValue, *Record, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            recordKey(key),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil, nil
	}
	var rec Record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, nil, fmt.Errorf("unmarshal item: %w", err)
	}
	return out.Item, &rec, nil
}

// MarkDone sets status to DONE and stores a small response body & status.
// Only an IN_PROGRESS record may complete.
func (s *Store) MarkDone(ctx context.Context, key, responseBody string, responseStatus int) error {
	now := s.nowFunc().UTC()
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 recordKey(key),
		UpdateExpression:    awsString("SET #s = :done, response_body = :rb, response_status = :rs, updated_at = :ua"),
		ConditionExpression: awsString("#s = :inprogress"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":done":       &types.AttributeValueMemberS{Value: StatusDone},
			":inprogress": &types.AttributeValueMemberS{Value: StatusInProgress},
			":rb":         &types.AttributeValueMemberS{Value: responseBody},
			":rs":         &types.AttributeValueMemberN{Value: strconv.Itoa(responseStatus)},
			":ua":         &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return ErrConditionFailed
		}
		return fmt.Errorf("update item (mark done): %w", err)
	}
	return nil
}

// MarkFailed marks the idempotency record as FAILED and optionally stores a note.
func (s *Store) MarkFailed(ctx context.Context, key, note string) error {
	now := s.nowFunc().UTC()
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:        &s.tableName,
		Key:              recordKey(key),
		UpdateExpression: awsString("SET #s = :failed, note = :n, updated_at = :ua"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":failed": &types.AttributeValueMemberS{Value: StatusFailed},
			":n":      &types.AttributeValueMemberS{Value: note},
			":ua":     &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
	})
	if err != nil {
		return fmt.Errorf("update item (mark failed): %w", err)
	}
	return nil
}

func isConditionFailed(err error) bool {
	var sc smithy.APIError
	return errors.As(err, &sc) && sc.ErrorCode() == "ConditionalCheckFailedException"
}

func recordKey(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"idempotency_key": &types.AttributeValueMemberS{Value: key},
	}
}

// Helper
func awsString(s string) *string { return &s }

func awsBool(b bool) *bool { return &b }
