package app

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jcmexdev/checkout-saga/internal/coordinator"
	"github.com/jcmexdev/checkout-saga/internal/order-service/adapters/memory"
	"github.com/jcmexdev/checkout-saga/internal/order-service/domain"
	inventoryv1 "github.com/jcmexdev/checkout-saga/internal/rpc/inventory/v1"
	ledgerv1 "github.com/jcmexdev/checkout-saga/internal/rpc/ledger/v1"
)

type fakeAccounts map[string]decimal.Decimal

func (f fakeAccounts) GetAccount(_ context.Context, userID string) (*ledgerv1.Account, error) {
	credit, ok := f[userID]
	if !ok {
		return nil, coordinator.ErrNotFound
	}
	return &ledgerv1.Account{UserID: userID, Credit: credit}, nil
}

type fakeCatalog struct {
	prices map[string]decimal.Decimal
	calls  int
}

func (f *fakeCatalog) GetItem(_ context.Context, itemID string) (*inventoryv1.Item, error) {
	f.calls++
	price, ok := f.prices[itemID]
	if !ok {
		return nil, coordinator.ErrNotFound
	}
	return &inventoryv1.Item{ItemID: itemID, Price: price}, nil
}

type fakeCheckout struct{ orderID string }

func (f *fakeCheckout) Run(_ context.Context, orderID string) (*coordinator.Receipt, error) {
	f.orderID = orderID
	return &coordinator.Receipt{OrderID: orderID, SagaID: "s1"}, nil
}

func newService() (*Service, *fakeCatalog, *memory.Repository) {
	repo := memory.NewRepository()
	catalog := &fakeCatalog{prices: map[string]decimal.Decimal{
		"i1": decimal.RequireFromString("5.5"),
		"i2": decimal.NewFromInt(1),
	}}
	svc := NewService(repo, fakeAccounts{"u1": decimal.NewFromInt(500)}, catalog, &fakeCheckout{}, zap.NewNop())
	return svc, catalog, repo
}

func TestService_OrderLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, catalog, _ := newService()

	order, err := svc.CreateOrder(ctx, "u1")
	require.NoError(t, err)

	_, err = svc.AddItem(ctx, order.ID, "i1")
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, order.ID, "i2")
	require.NoError(t, err)
	updated, err := svc.AddItem(ctx, order.ID, "i1")
	require.NoError(t, err)
	assert.True(t, updated.TotalCost().Equal(decimal.NewFromInt(12)))
	assert.Equal(t, 2, catalog.calls, "price of a known item is reused")

	updated, err = svc.RemoveItem(ctx, order.ID, "i1")
	require.NoError(t, err)
	assert.Equal(t, []string{"i1", "i2"}, updated.ItemIDs())

	found, err := svc.FindOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, found.TotalCost().Equal(decimal.RequireFromString("6.5")))

	ids, err := svc.ListUserOrders(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{order.ID}, ids)

	require.NoError(t, svc.DeleteOrder(ctx, order.ID))
	_, err = svc.FindOrder(ctx, order.ID)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)

	ids, err = svc.ListUserOrders(ctx, "u1")
	require.NoError(t, err)
	assert.NotNil(t, ids)
	assert.Empty(t, ids)
}

func TestService_CreateOrderUnknownUser(t *testing.T) {
	svc, _, _ := newService()
	_, err := svc.CreateOrder(context.Background(), "ghost")
	assert.ErrorIs(t, err, coordinator.ErrNotFound)
}

func TestService_AddItemErrors(t *testing.T) {
	ctx := context.Background()
	svc, _, repo := newService()

	order, err := svc.CreateOrder(ctx, "u1")
	require.NoError(t, err)

	_, err = svc.AddItem(ctx, order.ID, "unknown")
	assert.ErrorIs(t, err, coordinator.ErrNotFound)

	_, err = svc.AddItem(ctx, "missing", "i1")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)

	require.NoError(t, repo.MarkPaid(ctx, order.ID, "s1", nil))
	_, err = svc.AddItem(ctx, order.ID, "i1")
	assert.ErrorIs(t, err, domain.ErrOrderPaid)
	_, err = svc.RemoveItem(ctx, order.ID, "i1")
	assert.ErrorIs(t, err, domain.ErrOrderPaid)
}

func TestService_CheckoutDelegates(t *testing.T) {
	repo := memory.NewRepository()
	checkout := &fakeCheckout{}
	svc := NewService(repo, fakeAccounts{}, &fakeCatalog{}, checkout, zap.NewNop())

	receipt, err := svc.Checkout(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, "o1", checkout.orderID)
	assert.Equal(t, "s1", receipt.SagaID)
}

func TestOrders_Port(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()
	orders := NewOrders(repo)

	require.NoError(t, repo.Create(ctx, &domain.Order{ID: "o1", UserID: "u1"}))
	require.NoError(t, repo.AddItem(ctx, "o1", domain.OrderItem{ItemID: "i1", Price: decimal.RequireFromString("5.5")}))
	require.NoError(t, repo.AddItem(ctx, "o1", domain.OrderItem{ItemID: "i1", Price: decimal.RequireFromString("5.5")}))

	snap, err := orders.GetOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, []string{"i1", "i1"}, snap.Items)
	assert.True(t, snap.TotalCost.Equal(decimal.NewFromInt(11)))

	_, err = orders.GetOrder(ctx, "missing")
	assert.ErrorIs(t, err, coordinator.ErrOrderNotFound)

	assert.ErrorIs(t, orders.MarkPaid(ctx, "o1", "s1", []string{"i1"}), coordinator.ErrOrderChanged)
	require.NoError(t, orders.MarkPaid(ctx, "o1", "s1", []string{"i1", "i1"}))
	assert.ErrorIs(t, orders.MarkPaid(ctx, "o1", "s2", []string{"i1", "i1"}), coordinator.ErrAlreadyPaid)
	assert.ErrorIs(t, orders.MarkPaid(ctx, "missing", "s1", nil), coordinator.ErrOrderNotFound)
}
