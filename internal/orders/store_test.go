package orders

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/bitsmart-orderflow/internal/aws/awstest"
)

const ordersTable = "orders"

func newTestStore(t *testing.T) (*Store, *awstest.FakeDynamo) {
	t.Helper()
	fake := awstest.NewFakeDynamo().
		AddTable(ordersTable, "order_id").
		AddIndex(ordersTable, BuyerIndex, "buyer_id", "created_at").
		AddIndex(ordersTable, SellerIndex, "seller_id", "created_at")
	return NewStore(fake, ordersTable), fake
}

func placedOrder(id, buyer, seller string, createdAt time.Time) Order {
	return Order{
		OrderID:       id,
		Flow:          FlowRetailWholesale,
		BuyerID:       buyer,
		SellerID:      seller,
		Items:         []Item{{Category: "Shirts", Quantity: 2, Price: 500}},
		TotalAmount:   1000,
		Status:        StatusPlaced,
		StatusHistory: []HistoryEntry{{Status: StatusPlaced, Timestamp: createdAt, Note: "Order placed with payment"}},
		PaymentStatus: PaymentPaid,
		CreatedAt:     createdAt,
	}
}

func TestCreateBatch_AndGet(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.CreateBatch(ctx, []Order{
		placedOrder("o1", "r1", "w1", now),
		placedOrder("o2", "r1", "w2", now),
	}))

	got, err := s.Get(ctx, "o2")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "w2", got.SellerID)
	assert.Equal(t, StatusPlaced, got.Status)
	assert.Len(t, got.StatusHistory, 1)

	missing, err := s.Get(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestCreateBatch_IsAllOrNothing(t *testing.T) {
	s, fake := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.CreateBatch(ctx, []Order{placedOrder("o1", "r1", "w1", now)}))
	err := s.CreateBatch(ctx, []Order{
		placedOrder("o9", "r1", "w1", now),
		placedOrder("o1", "r1", "w1", now),
	})
	require.ErrorIs(t, err, ErrTransactionCanceled)
	assert.Nil(t, fake.Item(ordersTable, "o9"))

	assert.Error(t, s.CreateBatch(ctx, nil))
}

func TestCreateBatch_CarriesExtraWrites(t *testing.T) {
	s, fake := newTestStore(t)
	fake.AddTable("idempotency", "idempotency_key")
	ctx := context.Background()

	extra := types.TransactWriteItem{Put: &types.Put{
		TableName: awsString("idempotency"),
		Item: map[string]types.AttributeValue{
			"idempotency_key": &types.AttributeValueMemberS{Value: "k1"},
		},
	}}
	require.NoError(t, s.CreateBatch(ctx, []Order{placedOrder("o1", "r1", "w1", time.Now())}, extra))
	assert.NotNil(t, fake.Item("idempotency", "k1"))
}

func TestAppendStatus_ConditionalOnExpected(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateBatch(ctx, []Order{placedOrder("o1", "r1", "w1", time.Now())}))

	entry := HistoryEntry{Status: StatusConfirmed, Timestamp: time.Now().UTC(), Note: "Updated by Acme"}
	updated, err := s.AppendStatus(ctx, "o1", StatusPlaced, entry)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, updated.Status)
	require.Len(t, updated.StatusHistory, 2)
	assert.Equal(t, StatusConfirmed, updated.StatusHistory[1].Status)

	// a second writer still believing the order is Placed loses
	_, err = s.AppendStatus(ctx, "o1", StatusPlaced, entry)
	assert.ErrorIs(t, err, ErrStatusMismatch)

	_, err = s.AppendStatus(ctx, "missing", StatusPlaced, entry)
	assert.ErrorIs(t, err, ErrStatusMismatch)
}

func TestSetDelivery_RequiresExistingOrder(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.SetDelivery(ctx, "missing", DeliveryInfo{Carrier: "BlueDart"})
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.CreateBatch(ctx, []Order{placedOrder("o1", "r1", "w1", time.Now())}))
	got, err := s.SetDelivery(ctx, "o1", DeliveryInfo{Carrier: "BlueDart", Cost: 120, UpdatedBy: "w1"})
	require.NoError(t, err)
	require.NotNil(t, got.Delivery)
	assert.Equal(t, "BlueDart", got.Delivery.Carrier)
}

func TestMarkPaid_OnlyFromPending(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	o := placedOrder("o1", "r1", "w1", time.Now())
	o.PaymentStatus = PaymentPending
	o.PaymentError = "Payment popup closed"
	require.NoError(t, s.CreateBatch(ctx, []Order{o}))

	got, err := s.MarkPaid(ctx, "o1", "pay_123")
	require.NoError(t, err)
	assert.Equal(t, PaymentPaid, got.PaymentStatus)
	assert.Equal(t, "pay_123", got.PaymentReference)
	assert.Empty(t, got.PaymentError)

	_, err = s.MarkPaid(ctx, "o1", "pay_456")
	assert.ErrorIs(t, err, ErrPaymentNotPending)
}

func TestListByParty_NewestFirstWithCursor(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

	var batch []Order
	for i := 0; i < 5; i++ {
		batch = append(batch, placedOrder(fmt.Sprintf("o%d", i), "r1", "w1", base.Add(time.Duration(i)*time.Hour)))
	}
	batch = append(batch, placedOrder("other", "r2", "w1", base))
	require.NoError(t, s.CreateBatch(ctx, batch))

	page, err := s.ListByParty(ctx, BuyerIndex, "r1", 2, "")
	require.NoError(t, err)
	require.Len(t, page.Orders, 2)
	assert.Equal(t, "o4", page.Orders[0].OrderID)
	assert.Equal(t, "o3", page.Orders[1].OrderID)
	require.NotEmpty(t, page.NextCursor)

	page, err = s.ListByParty(ctx, BuyerIndex, "r1", 2, page.NextCursor)
	require.NoError(t, err)
	assert.Equal(t, "o2", page.Orders[0].OrderID)

	page, err = s.ListByParty(ctx, SellerIndex, "w1", 0, "")
	require.NoError(t, err)
	assert.Len(t, page.Orders, 6)
	assert.Empty(t, page.NextCursor)

	_, err = s.ListByParty(ctx, BuyerIndex, "r1", 2, "%%%")
	assert.ErrorIs(t, err, ErrInvalidCursor)
}

func TestListByParty_OrdersWithinOneSecond(t *testing.T) {
	s, fake := newTestStore(t)
	ctx := context.Background()
	whole := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

	require.NoError(t, s.CreateBatch(ctx, []Order{
		placedOrder("first", "r1", "w1", whole),
		placedOrder("second", "r1", "w1", whole.Add(500*time.Millisecond)),
		placedOrder("third", "r1", "w1", whole.Add(520*time.Millisecond)),
	}))

	stored := fake.Item(ordersTable, "first")["created_at"].(*types.AttributeValueMemberS).Value
	assert.Equal(t, "2026-04-01T08:00:00.000000000Z", stored)

	page, err := s.ListByParty(ctx, BuyerIndex, "r1", 0, "")
	require.NoError(t, err)
	require.Len(t, page.Orders, 3)
	assert.Equal(t, "third", page.Orders[0].OrderID)
	assert.Equal(t, "second", page.Orders[1].OrderID)
	assert.Equal(t, "first", page.Orders[2].OrderID)
	assert.True(t, page.Orders[2].CreatedAt.Equal(whole))
}
