package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/bitsmart-orderflow/internal/aws/awstest"
)

const testTable = "idempotency-table"

func newTestStore() (*Store, *awstest.FakeDynamo) {
	fake := awstest.NewFakeDynamo().AddTable(testTable, "idempotency_key")
	return NewStore(fake, testTable, 48*time.Hour), fake
}

func TestCreateIfNotExists_Get_MarkDone_MarkFailed(t *testing.T) {
	s, fake := newTestStore()
	ctx := context.Background()
	key := "test-key-1"

	created, err := s.CreateIfNotExists(ctx, key, "buyer-1")
	require.NoError(t, err)
	assert.True(t, created)

	// second create should return created=false (exists)
	created, err = s.CreateIfNotExists(ctx, key, "buyer-1")
	require.NoError(t, err)
	assert.False(t, created)

	rec, err := s.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, StatusInProgress, rec.Status)
	assert.Equal(t, "buyer-1", rec.Owner)
	assert.Greater(t, rec.ExpiresAt, time.Now().Unix())

	require.NoError(t, s.MarkDone(ctx, key, `{"ok":true}`, 201))
	item := fake.Item(testTable, key)
	require.NotNil(t, item)
	assert.Equal(t, StatusDone, item["status"].(*types.AttributeValueMemberS).Value)
	assert.Equal(t, `{"ok":true}`, item["response_body"].(*types.AttributeValueMemberS).Value)

	// a completed key cannot complete again
	assert.ErrorIs(t, s.MarkDone(ctx, key, "{}", 201), ErrConditionFailed)

	require.NoError(t, s.MarkFailed(ctx, key, "failed-reason"))
	rec, err = s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Equal(t, "failed-reason", rec.Note)

	missing, err := s.Get(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestBegin(t *testing.T) {
	ctx := context.Background()

	t.Run("fresh key is claimed", func(t *testing.T) {
		s, _ := newTestStore()
		outcome, rec, err := s.Begin(ctx, "k", "buyer-1")
		require.NoError(t, err)
		assert.Equal(t, Claimed, outcome)
		assert.Nil(t, rec)
	})

	t.Run("concurrent duplicate is in progress", func(t *testing.T) {
		s, _ := newTestStore()
		_, _, err := s.Begin(ctx, "k", "buyer-1")
		require.NoError(t, err)
		_, _, err = s.Begin(ctx, "k", "buyer-1")
		assert.ErrorIs(t, err, ErrInProgress)
	})

	t.Run("completed key replays", func(t *testing.T) {
		s, _ := newTestStore()
		_, _, err := s.Begin(ctx, "k", "buyer-1")
		require.NoError(t, err)
		require.NoError(t, s.MarkDone(ctx, "k", `{"orders":[]}`, 201))

		outcome, rec, err := s.Begin(ctx, "k", "buyer-1")
		require.NoError(t, err)
		assert.Equal(t, Replay, outcome)
		assert.Equal(t, 201, rec.ResponseStatus)
		assert.Equal(t, `{"orders":[]}`, rec.ResponseBody)
	})

	t.Run("failed key is reclaimed", func(t *testing.T) {
		s, _ := newTestStore()
		_, _, err := s.Begin(ctx, "k", "buyer-1")
		require.NoError(t, err)
		require.NoError(t, s.MarkFailed(ctx, "k", "payment gateway down"))

		outcome, _, err := s.Begin(ctx, "k", "buyer-1")
		require.NoError(t, err)
		assert.Equal(t, Claimed, outcome)
		rec, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, StatusInProgress, rec.Status)
	})

	t.Run("other owner is rejected", func(t *testing.T) {
		s, _ := newTestStore()
		_, _, err := s.Begin(ctx, "k", "buyer-1")
		require.NoError(t, err)
		_, _, err = s.Begin(ctx, "k", "buyer-2")
		assert.ErrorIs(t, err, ErrKeyReused)
	})

	t.Run("store failure surfaces", func(t *testing.T) {
		s, fake := newTestStore()
		boom := errors.New("boom")
		fake.Intercept(func(op, table, key string) error {
			if op == "PutItem" {
				return boom
			}
			return nil
		})
		_, _, err := s.Begin(ctx, "k", "buyer-1")
		assert.ErrorIs(t, err, boom)
	})
}

func TestBegin_AbandonedClaims(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	newClockedStore := func(t *testing.T) (*Store, *time.Time) {
		t.Helper()
		now := start
		s, _ := newTestStore()
		s.lease = 2 * time.Minute
		s.nowFunc = func() time.Time { return now }
		return s, &now
	}

	t.Run("in progress within the lease stays blocked", func(t *testing.T) {
		s, now := newClockedStore(t)
		_, _, err := s.Begin(ctx, "k", "buyer-1")
		require.NoError(t, err)

		*now = start.Add(time.Minute)
		_, _, err = s.Begin(ctx, "k", "buyer-1")
		assert.ErrorIs(t, err, ErrInProgress)
	})

	t.Run("in progress past the lease is taken over", func(t *testing.T) {
		s, now := newClockedStore(t)
		_, _, err := s.Begin(ctx, "k", "buyer-1")
		require.NoError(t, err)

		*now = start.Add(3 * time.Minute)
		outcome, _, err := s.Begin(ctx, "k", "buyer-1")
		require.NoError(t, err)
		assert.Equal(t, Claimed, outcome)

		rec, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, StatusInProgress, rec.Status)
		assert.True(t, rec.UpdatedAt.Equal(*now))

		// the fresh claim is held again
		_, _, err = s.Begin(ctx, "k", "buyer-1")
		assert.ErrorIs(t, err, ErrInProgress)
	})

	t.Run("stale claim with linked orders is not rerun", func(t *testing.T) {
		s, now := newClockedStore(t)
		_, _, err := s.Begin(ctx, "k", "buyer-1")
		require.NoError(t, err)
		link, err := s.LinkOrdersItem("k", []string{"o1"})
		require.NoError(t, err)
		_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: []types.TransactWriteItem{link}})
		require.NoError(t, err)

		*now = start.Add(time.Hour)
		_, _, err = s.Begin(ctx, "k", "buyer-1")
		assert.ErrorIs(t, err, ErrInProgress)
	})

	t.Run("expired key is free for any owner", func(t *testing.T) {
		s, now := newClockedStore(t)
		_, _, err := s.Begin(ctx, "k", "buyer-1")
		require.NoError(t, err)
		require.NoError(t, s.MarkDone(ctx, "k", `{"orders":[]}`, 201))

		*now = start.Add(s.ttlWindow + time.Second)
		outcome, rec, err := s.Begin(ctx, "k", "buyer-2")
		require.NoError(t, err)
		assert.Equal(t, Claimed, outcome)
		assert.Nil(t, rec)

		stored, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, StatusInProgress, stored.Status)
		assert.Equal(t, "buyer-2", stored.Owner)
		assert.Empty(t, stored.ResponseBody)
		assert.Greater(t, stored.ExpiresAt, now.Unix())
	})

	t.Run("concurrent takeover loses to the first", func(t *testing.T) {
		s, now := newClockedStore(t)
		_, _, err := s.Begin(ctx, "k", "buyer-1")
		require.NoError(t, err)
		item, _, err := s.get(ctx, "k")
		require.NoError(t, err)

		*now = start.Add(3 * time.Minute)
		_, _, err = s.Begin(ctx, "k", "buyer-1")
		require.NoError(t, err)

		// a second caller acting on the state read before the takeover
		assert.ErrorIs(t, s.takeOver(ctx, "k", "buyer-1", item), ErrConditionFailed)
	})
}

func TestLinkOrdersItem_RequiresInProgress(t *testing.T) {
	s, fake := newTestStore()
	ctx := context.Background()
	_, err := s.CreateIfNotExists(ctx, "k", "buyer-1")
	require.NoError(t, err)

	link, err := s.LinkOrdersItem("k", []string{"o1", "o2"})
	require.NoError(t, err)
	_, err = fake.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: []types.TransactWriteItem{link}})
	require.NoError(t, err)

	rec, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []string{"o1", "o2"}, rec.OrderIDs)

	require.NoError(t, s.MarkDone(ctx, "k", "{}", 201))
	_, err = fake.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: []types.TransactWriteItem{link}})
	var tce *types.TransactionCanceledException
	assert.ErrorAs(t, err, &tce)
}
