// Package repotest runs the same behavioural checks against every
// domain.Repository implementation.
package repotest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/checkout-saga/internal/order-service/domain"
)

func newOrder(userID string, created time.Time) *domain.Order {
	return &domain.Order{ID: uuid.NewString(), UserID: userID, CreatedAt: created.UTC().Truncate(time.Microsecond)}
}

// Run exercises repo. Each subtest uses fresh ids so a shared database is fine.
func Run(t *testing.T, repo domain.Repository) {
	ctx := context.Background()
	price := decimal.RequireFromString("5.5")

	t.Run("create and get", func(t *testing.T) {
		o := newOrder("u-"+uuid.NewString(), time.Now())
		require.NoError(t, repo.Create(ctx, o))

		got, err := repo.Get(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, o.UserID, got.UserID)
		assert.False(t, got.Paid)
		assert.Empty(t, got.Items)

		_, err = repo.Get(ctx, uuid.NewString())
		assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	})

	t.Run("items keep insertion order", func(t *testing.T) {
		o := newOrder("u-"+uuid.NewString(), time.Now())
		require.NoError(t, repo.Create(ctx, o))

		require.NoError(t, repo.AddItem(ctx, o.ID, domain.OrderItem{ItemID: "a", Price: price}))
		require.NoError(t, repo.AddItem(ctx, o.ID, domain.OrderItem{ItemID: "b", Price: decimal.NewFromInt(1)}))
		require.NoError(t, repo.AddItem(ctx, o.ID, domain.OrderItem{ItemID: "a", Price: price}))

		got, err := repo.Get(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "a"}, got.ItemIDs())
		assert.True(t, got.TotalCost().Equal(decimal.RequireFromString("12")))

		require.NoError(t, repo.RemoveItem(ctx, o.ID, "a"))
		got, err = repo.Get(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, got.ItemIDs())

		assert.ErrorIs(t, repo.RemoveItem(ctx, o.ID, "zzz"), domain.ErrItemNotInOrder)
		assert.ErrorIs(t, repo.AddItem(ctx, uuid.NewString(), domain.OrderItem{ItemID: "a", Price: price}), domain.ErrOrderNotFound)
	})

	t.Run("mark paid is a compare and set", func(t *testing.T) {
		o := newOrder("u-"+uuid.NewString(), time.Now())
		require.NoError(t, repo.Create(ctx, o))
		require.NoError(t, repo.AddItem(ctx, o.ID, domain.OrderItem{ItemID: "a", Price: price}))

		require.NoError(t, repo.MarkPaid(ctx, o.ID, "saga-1", []string{"a"}))
		require.NoError(t, repo.MarkPaid(ctx, o.ID, "saga-1", []string{"a"}))
		assert.ErrorIs(t, repo.MarkPaid(ctx, o.ID, "saga-2", []string{"a"}), domain.ErrOrderPaid)
		assert.ErrorIs(t, repo.MarkPaid(ctx, uuid.NewString(), "saga-1", nil), domain.ErrOrderNotFound)

		got, err := repo.Get(ctx, o.ID)
		require.NoError(t, err)
		assert.True(t, got.Paid)
		assert.Equal(t, "saga-1", got.PaidBy)

		assert.ErrorIs(t, repo.AddItem(ctx, o.ID, domain.OrderItem{ItemID: "a", Price: price}), domain.ErrOrderPaid)
		assert.ErrorIs(t, repo.RemoveItem(ctx, o.ID, "a"), domain.ErrOrderPaid)
	})

	t.Run("mark paid refuses a changed basket", func(t *testing.T) {
		o := newOrder("u-"+uuid.NewString(), time.Now())
		require.NoError(t, repo.Create(ctx, o))
		require.NoError(t, repo.AddItem(ctx, o.ID, domain.OrderItem{ItemID: "a", Price: price}))
		require.NoError(t, repo.AddItem(ctx, o.ID, domain.OrderItem{ItemID: "b", Price: price}))

		assert.ErrorIs(t, repo.MarkPaid(ctx, o.ID, "saga-1", []string{"a"}), domain.ErrOrderChanged)
		assert.ErrorIs(t, repo.MarkPaid(ctx, o.ID, "saga-1", []string{"a", "a"}), domain.ErrOrderChanged)
		assert.ErrorIs(t, repo.MarkPaid(ctx, o.ID, "saga-1", []string{"a", "b", "b"}), domain.ErrOrderChanged)

		got, err := repo.Get(ctx, o.ID)
		require.NoError(t, err)
		assert.False(t, got.Paid)

		require.NoError(t, repo.MarkPaid(ctx, o.ID, "saga-2", []string{"b", "a"}))
		got, err = repo.Get(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, "saga-2", got.PaidBy)
	})

	t.Run("get never sees a half deleted order", func(t *testing.T) {
		for range 20 {
			o := newOrder("u-"+uuid.NewString(), time.Now())
			require.NoError(t, repo.Create(ctx, o))
			require.NoError(t, repo.AddItem(ctx, o.ID, domain.OrderItem{ItemID: "a", Price: price}))
			require.NoError(t, repo.AddItem(ctx, o.ID, domain.OrderItem{ItemID: "b", Price: price}))

			deleted := make(chan error, 1)
			go func() { deleted <- repo.Delete(ctx, o.ID) }()
			for {
				got, err := repo.Get(ctx, o.ID)
				if errors.Is(err, domain.ErrOrderNotFound) {
					break
				}
				require.NoError(t, err)
				require.Equal(t, []string{"a", "b"}, got.ItemIDs())
			}
			require.NoError(t, <-deleted)
		}
	})

	t.Run("list by user and delete", func(t *testing.T) {
		user := "u-" + uuid.NewString()
		first := newOrder(user, time.Now().Add(-time.Minute))
		second := newOrder(user, time.Now())
		require.NoError(t, repo.Create(ctx, second))
		require.NoError(t, repo.Create(ctx, first))
		require.NoError(t, repo.AddItem(ctx, first.ID, domain.OrderItem{ItemID: "a", Price: price}))

		ids, err := repo.ListByUser(ctx, user)
		require.NoError(t, err)
		assert.Equal(t, []string{first.ID, second.ID}, ids)

		require.NoError(t, repo.Delete(ctx, first.ID))
		assert.ErrorIs(t, repo.Delete(ctx, first.ID), domain.ErrOrderNotFound)

		ids, err = repo.ListByUser(ctx, user)
		require.NoError(t, err)
		assert.Equal(t, []string{second.ID}, ids)
	})
}
