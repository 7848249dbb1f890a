package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/checkout-saga/internal/inventory-service/domain"
)

func TestReserveRelease(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	_, err := s.CreateItem(ctx, "a", decimal.RequireFromString("5.5"))
	require.NoError(t, err)
	_, err = s.AddStock(ctx, "a", 10)
	require.NoError(t, err)

	applied, err := s.Reserve(ctx, "a", 2, "saga-1:reserve:a")
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = s.Reserve(ctx, "a", 2, "saga-1:reserve:a")
	require.NoError(t, err)
	assert.False(t, applied)

	applied, err = s.Release(ctx, "a", 2, "saga-1:release:a", "saga-1:reserve:a")
	require.NoError(t, err)
	assert.True(t, applied)

	item, err := s.GetItem(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(10), item.Stock)

	applied, err = s.Release(ctx, "a", 2, "saga-9:release:a", "saga-9:reserve:a")
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestReserve_Errors(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	_, err := s.CreateItem(ctx, "b", decimal.NewFromInt(1))
	require.NoError(t, err)

	_, err = s.Reserve(ctx, "b", 1, "op")
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	_, err = s.Reserve(ctx, "ghost", 1, "op2")
	require.ErrorIs(t, err, domain.ErrItemNotFound)

	_, err = s.AddStock(ctx, "ghost", 1)
	require.ErrorIs(t, err, domain.ErrItemNotFound)
}

func TestReserve_ConcurrentNeverOversells(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	_, err := s.CreateItem(ctx, "hot", decimal.NewFromInt(1))
	require.NoError(t, err)
	_, err = s.AddStock(ctx, "hot", 10)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var reserved atomic.Int64
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, err := s.Reserve(ctx, "hot", 1, ""); err == nil && ok {
				reserved.Add(1)
			}
		}()
	}
	wg.Wait()

	item, err := s.GetItem(ctx, "hot")
	require.NoError(t, err)
	assert.Equal(t, int64(10), reserved.Load())
	assert.Zero(t, item.Stock)
}

func TestRelease_BeforeReserveCancelsIt(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	_, err := s.CreateItem(ctx, "a", decimal.NewFromInt(1))
	require.NoError(t, err)
	_, err = s.AddStock(ctx, "a", 10)
	require.NoError(t, err)

	// The release of a timed-out reserve reaches the store first.
	applied, err := s.Release(ctx, "a", 3, "saga-1:release:a", "saga-1:reserve:a")
	require.NoError(t, err)
	assert.False(t, applied)

	applied, err = s.Reserve(ctx, "a", 3, "saga-1:reserve:a")
	require.NoError(t, err)
	assert.False(t, applied)

	item, err := s.GetItem(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(10), item.Stock)

	// Retrying the release stays a no-op.
	applied, err = s.Release(ctx, "a", 3, "saga-1:release:a", "saga-1:reserve:a")
	require.NoError(t, err)
	assert.False(t, applied)
	item, err = s.GetItem(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(10), item.Stock)
}
