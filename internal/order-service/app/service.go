// Package app holds the order use cases: basket CRUD and checkout.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jcmexdev/checkout-saga/internal/coordinator"
	"github.com/jcmexdev/checkout-saga/internal/order-service/domain"
	"github.com/jcmexdev/checkout-saga/internal/pkg/telemetry"
	inventoryv1 "github.com/jcmexdev/checkout-saga/internal/rpc/inventory/v1"
	ledgerv1 "github.com/jcmexdev/checkout-saga/internal/rpc/ledger/v1"
)

// Accounts looks users up in the ledger.
type Accounts interface {
	GetAccount(ctx context.Context, userID string) (*ledgerv1.Account, error)
}

// Catalog looks item prices up in the inventory.
type Catalog interface {
	GetItem(ctx context.Context, itemID string) (*inventoryv1.Item, error)
}

// Checkouter runs the checkout saga.
type Checkouter interface {
	Run(ctx context.Context, orderID string) (*coordinator.Receipt, error)
}

type Service struct {
	repo     domain.Repository
	accounts Accounts
	catalog  Catalog
	checkout Checkouter
	logger   *zap.Logger
	now      func() time.Time
}

func NewService(repo domain.Repository, accounts Accounts, catalog Catalog, checkout Checkouter, logger *zap.Logger) *Service {
	return &Service{
		repo:     repo,
		accounts: accounts,
		catalog:  catalog,
		checkout: checkout,
		logger:   logger,
		now:      time.Now,
	}
}

// CreateOrder opens an empty order for an existing user.
func (s *Service) CreateOrder(ctx context.Context, userID string) (*domain.Order, error) {
	if _, err := s.accounts.GetAccount(ctx, userID); err != nil {
		return nil, fmt.Errorf("create order for %s: %w", userID, err)
	}

	order := &domain.Order{ID: uuid.NewString(), UserID: userID, CreatedAt: s.now().UTC()}
	if err := s.repo.Create(ctx, order); err != nil {
		return nil, err
	}

	telemetry.WithTrace(ctx, s.logger).Info("order created",
		zap.String("order_id", order.ID),
		zap.String("user_id", userID),
	)
	return order, nil
}

func (s *Service) DeleteOrder(ctx context.Context, orderID string) error {
	return s.repo.Delete(ctx, orderID)
}

func (s *Service) FindOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	return s.repo.Get(ctx, orderID)
}

func (s *Service) ListUserOrders(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// AddItem appends one unit of itemID. The price is fetched from the inventory
// the first time the item enters the order and reused afterwards.
func (s *Service) AddItem(ctx context.Context, orderID, itemID string) (*domain.Order, error) {
	order, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Paid {
		return nil, domain.ErrOrderPaid
	}

	price, known := order.PriceOf(itemID)
	if !known {
		item, err := s.catalog.GetItem(ctx, itemID)
		if err != nil {
			return nil, fmt.Errorf("add item %s: %w", itemID, err)
		}
		price = item.Price
	}

	if err := s.repo.AddItem(ctx, orderID, domain.OrderItem{ItemID: itemID, Price: price}); err != nil {
		return nil, err
	}
	order.Items = append(order.Items, domain.OrderItem{ItemID: itemID, Price: price})
	return order, nil
}

func (s *Service) RemoveItem(ctx context.Context, orderID, itemID string) (*domain.Order, error) {
	if err := s.repo.RemoveItem(ctx, orderID, itemID); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, orderID)
}

func (s *Service) Checkout(ctx context.Context, orderID string) (*coordinator.Receipt, error) {
	return s.checkout.Run(ctx, orderID)
}

// Orders exposes the repository through the coordinator.Orders port.
type Orders struct {
	repo domain.Repository
}

var _ coordinator.Orders = (*Orders)(nil)

func NewOrders(repo domain.Repository) *Orders {
	return &Orders{repo: repo}
}

func (o *Orders) GetOrder(ctx context.Context, orderID string) (*coordinator.OrderSnapshot, error) {
	order, err := o.repo.Get(ctx, orderID)
	if err != nil {
		return nil, toPortError(err)
	}
	return &coordinator.OrderSnapshot{
		OrderID:   order.ID,
		UserID:    order.UserID,
		Paid:      order.Paid,
		PaidBy:    order.PaidBy,
		Items:     order.ItemIDs(),
		TotalCost: order.TotalCost(),
	}, nil
}

func (o *Orders) MarkPaid(ctx context.Context, orderID, sagaID string, items []string) error {
	return toPortError(o.repo.MarkPaid(ctx, orderID, sagaID, items))
}

func toPortError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrOrderNotFound):
		return fmt.Errorf("%w: %w", coordinator.ErrOrderNotFound, err)
	case errors.Is(err, domain.ErrOrderPaid):
		return fmt.Errorf("%w: %w", coordinator.ErrAlreadyPaid, err)
	case errors.Is(err, domain.ErrOrderChanged):
		return fmt.Errorf("%w: %w", coordinator.ErrOrderChanged, err)
	default:
		return err
	}
}
