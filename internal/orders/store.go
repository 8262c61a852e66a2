package orders

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/bitsmart-orderflow/internal/aws"
)

// Secondary indexes on the orders table, both ranged by created_at.
const (
	BuyerIndex  = "buyer_index"
	SellerIndex = "seller_index"
)

// createdAtLayout is fixed width so created_at sorts as a string in time
// order, including orders placed within the same second.
const createdAtLayout = "2006-01-02T15:04:05.000000000Z07:00"

// DefaultPageSize matches the order history screen.
const DefaultPageSize int32 = 20

var (
	// ErrStatusMismatch is returned when the stored status is not the expected one.
	ErrStatusMismatch = errors.New("status mismatch/conditional failed")
	// ErrTransactionCanceled is returned when a batch create hit a failed condition.
	ErrTransactionCanceled = errors.New("transaction canceled")
	ErrInvalidCursor       = errors.New("invalid cursor")
)

// Store encapsulates operations on the orders table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore creates a new orders Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// CreateBatch writes every order in one TransactWriteItems call, each guarded
// by attribute_not_exists(order_id). extra is appended to the same transaction,
// which lets the caller link an idempotency record atomically.
func (s *Store) CreateBatch(ctx context.Context, batch []Order, extra ...types.TransactWriteItem) error {
	if len(batch) == 0 {
		return errors.New("create batch: no orders")
	}
	now := s.nowFunc().UTC()
	transactItems := make([]types.TransactWriteItem, 0, len(batch)+len(extra))
	for i := range batch {
		o := batch[i]
		if o.CreatedAt.IsZero() {
			o.CreatedAt = now
		}
		o.UpdatedAt = now
		item, err := attributevalue.MarshalMap(o)
		if err != nil {
			return fmt.Errorf("marshal order item: %w", err)
		}
		item["created_at"] = &types.AttributeValueMemberS{Value: o.CreatedAt.UTC().Format(createdAtLayout)}
		transactItems = append(transactItems, types.TransactWriteItem{
			Put: &types.Put{
				TableName:           &s.tableName,
				Item:                item,
				ConditionExpression: awsString("attribute_not_exists(order_id)"),
			},
		})
	}
	transactItems = append(transactItems, extra...)

	_, err := s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: transactItems,
	})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			return fmt.Errorf("%w: %v", ErrTransactionCanceled, err)
		}
		return fmt.Errorf("transact write: %w", err)
	}
	return nil
}

// Get fetches an order by order_id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, orderID string) (*Order, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            orderKey(orderID),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Item, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// AppendStatus moves the order from expected to entry.Status and appends entry
// to the history in the same write. Returns ErrStatusMismatch if the stored
// status is no longer expected.
func (s *Store) AppendStatus(ctx context.Context, orderID, expected string, entry HistoryEntry) (*Order, error) {
	entryAV, err := attributevalue.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("marshal history entry: %w", err)
	}
	input := &dyn.UpdateItemInput{
		TableName:                &s.tableName,
		Key:                      orderKey(orderID),
		UpdateExpression:         awsString("SET #s = :next, status_history = list_append(status_history, :entry), updated_at = :ua"),
		ConditionExpression:      awsString("#s = :expected"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":next":     &types.AttributeValueMemberS{Value: entry.Status},
			":expected": &types.AttributeValueMemberS{Value: expected},
			":entry":    &types.AttributeValueMemberL{Value: []types.AttributeValue{entryAV}},
			":ua":       &types.AttributeValueMemberS{Value: s.stamp()},
		},
		ReturnValues: types.ReturnValueAllNew,
	}
	out, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		var sc *types.ConditionalCheckFailedException
		if errors.As(err, &sc) {
			return nil, ErrStatusMismatch
		}
		return nil, fmt.Errorf("update item: %w", err)
	}
	return decodeAttributes(out.Attributes)
}

// SetDelivery replaces the delivery object of an existing order.
func (s *Store) SetDelivery(ctx context.Context, orderID string, info DeliveryInfo) (*Order, error) {
	infoAV, err := attributevalue.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("marshal delivery: %w", err)
	}
	out, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 orderKey(orderID),
		UpdateExpression:    awsString("SET delivery = :delivery, updated_at = :ua"),
		ConditionExpression: awsString("attribute_exists(order_id)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":delivery": infoAV,
			":ua":       &types.AttributeValueMemberS{Value: s.stamp()},
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		var sc *types.ConditionalCheckFailedException
		if errors.As(err, &sc) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update delivery: %w", err)
	}
	return decodeAttributes(out.Attributes)
}

// MarkPaid moves payment_status from pending to paid.
func (s *Store) MarkPaid(ctx context.Context, orderID, reference string) (*Order, error) {
	out, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 orderKey(orderID),
		UpdateExpression:    awsString("SET payment_status = :paid, payment_reference = :ref, payment_error = :none, updated_at = :ua"),
		ConditionExpression: awsString("payment_status = :pending"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":paid":    &types.AttributeValueMemberS{Value: PaymentPaid},
			":pending": &types.AttributeValueMemberS{Value: PaymentPending},
			":ref":     &types.AttributeValueMemberS{Value: reference},
			":none":    &types.AttributeValueMemberS{Value: ""},
			":ua":      &types.AttributeValueMemberS{Value: s.stamp()},
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		var sc *types.ConditionalCheckFailedException
		if errors.As(err, &sc) {
			return nil, ErrPaymentNotPending
		}
		return nil, fmt.Errorf("update payment: %w", err)
	}
	return decodeAttributes(out.Attributes)
}

// Page is one slice of an order listing. NextCursor is empty on the last page.
type Page struct {
	Orders     []Order `json:"orders"`
	NextCursor string  `json:"next_cursor,omitempty"`
}

// ListByParty queries an index newest first.
func (s *Store) ListByParty(ctx context.Context, indexName, partyID string, limit int32, cursor string) (*Page, error) {
	attr := "buyer_id"
	if indexName == SellerIndex {
		attr = "seller_id"
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	input := &dyn.QueryInput{
		TableName:              &s.tableName,
		IndexName:              &indexName,
		KeyConditionExpression: awsString(attr + " = :id"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":id": &types.AttributeValueMemberS{Value: partyID},
		},
		ScanIndexForward: awsBool(false),
		Limit:            &limit,
	}
	if cursor != "" {
		start, err := decodeCursor(cursor)
		if err != nil {
			return nil, err
		}
		input.ExclusiveStartKey = start
	}

	out, err := s.client.Query(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	page := &Page{Orders: []Order{}}
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &page.Orders); err != nil {
		return nil, fmt.Errorf("unmarshal orders: %w", err)
	}
	if len(out.LastEvaluatedKey) > 0 {
		next, err := encodeCursor(out.LastEvaluatedKey)
		if err != nil {
			return nil, err
		}
		page.NextCursor = next
	}
	return page, nil
}

func encodeCursor(key map[string]types.AttributeValue) (string, error) {
	var flat map[string]string
	if err := attributevalue.UnmarshalMap(key, &flat); err != nil {
		return "", fmt.Errorf("encode cursor: %w", err)
	}
	raw, err := json.Marshal(flat)
	if err != nil {
		return "", fmt.Errorf("encode cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func decodeCursor(cursor string) (map[string]types.AttributeValue, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	var flat map[string]string
	if err := json.Unmarshal(raw, &flat); err != nil || len(flat) == 0 {
		return nil, ErrInvalidCursor
	}
	key, err := attributevalue.MarshalMap(flat)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	return key, nil
}

func decodeAttributes(attrs map[string]types.AttributeValue) (*Order, error) {
	var o Order
	if err := attributevalue.UnmarshalMap(attrs, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

func (s *Store) stamp() string {
	return s.nowFunc().UTC().Format(time.RFC3339Nano)
}

func orderKey(orderID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"order_id": &types.AttributeValueMemberS{Value: orderID},
	}
}

func awsString(s string) *string { return &s }

func awsBool(b bool) *bool { return &b }
