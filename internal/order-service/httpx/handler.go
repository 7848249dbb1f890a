package httpx

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/jcmexdev/checkout-saga/internal/order-service/app"
	"github.com/jcmexdev/checkout-saga/internal/order-service/domain"
	inventoryv1 "github.com/jcmexdev/checkout-saga/internal/rpc/inventory/v1"
	ledgerv1 "github.com/jcmexdev/checkout-saga/internal/rpc/ledger/v1"
)

// Users is the ledger admin surface.
type Users interface {
	CreateAccount(ctx context.Context) (string, error)
	GetAccount(ctx context.Context, userID string) (*ledgerv1.Account, error)
	AddFunds(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error)
}

// Stock is the inventory admin surface.
type Stock interface {
	CreateItem(ctx context.Context, price decimal.Decimal) (string, error)
	GetItem(ctx context.Context, itemID string) (*inventoryv1.Item, error)
	AddStock(ctx context.Context, itemID string, count int64) (int64, error)
}

// Handler serves the order, user and stock endpoints.
type Handler struct {
	orders   *app.Service
	users    Users
	stock    Stock
	validate *validator.Validate
	logger   *zap.Logger
}

func NewHandler(orders *app.Service, users Users, stock Stock, logger *zap.Logger) *Handler {
	return &Handler{
		orders:   orders,
		users:    users,
		stock:    stock,
		validate: validator.New(),
		logger:   logger,
	}
}

func (h *Handler) check(v any) error {
	if err := h.validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", errInvalidRequest, err)
	}
	return nil
}

// Checkout runs the checkout saga for an order.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	p := orderPath{OrderID: chi.URLParam(r, "order_id")}
	if err := h.check(p); err != nil {
		h.fail(w, r, err)
		return
	}

	receipt, err := h.orders.Checkout(r.Context(), p.OrderID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, CheckoutResponse{
		OrderID:   receipt.OrderID,
		SagaID:    receipt.SagaID,
		Status:    "paid",
		TotalCost: receipt.TotalCost,
	})
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	p := userPath{UserID: chi.URLParam(r, "user_id")}
	if err := h.check(p); err != nil {
		h.fail(w, r, err)
		return
	}

	order, err := h.orders.CreateOrder(r.Context(), p.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, OrderCreatedResponse{OrderID: order.ID})
}

func (h *Handler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	p := orderPath{OrderID: chi.URLParam(r, "order_id")}
	if err := h.check(p); err != nil {
		h.fail(w, r, err)
		return
	}

	if err := h.orders.DeleteOrder(r.Context(), p.OrderID); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) FindOrder(w http.ResponseWriter, r *http.Request) {
	p := orderPath{OrderID: chi.URLParam(r, "order_id")}
	if err := h.check(p); err != nil {
		h.fail(w, r, err)
		return
	}

	order, err := h.orders.FindOrder(r.Context(), p.OrderID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapOrderToResponse(order))
}

func (h *Handler) ListUserOrders(w http.ResponseWriter, r *http.Request) {
	p := userPath{UserID: chi.URLParam(r, "user_id")}
	if err := h.check(p); err != nil {
		h.fail(w, r, err)
		return
	}

	ids, err := h.orders.ListUserOrders(r.Context(), p.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, UserOrdersResponse{OrderIDs: ids})
}

func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	p := orderItemPath{OrderID: chi.URLParam(r, "order_id"), ItemID: chi.URLParam(r, "item_id")}
	if err := h.check(p); err != nil {
		h.fail(w, r, err)
		return
	}

	order, err := h.orders.AddItem(r.Context(), p.OrderID, p.ItemID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapOrderToResponse(order))
}

func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	p := orderItemPath{OrderID: chi.URLParam(r, "order_id"), ItemID: chi.URLParam(r, "item_id")}
	if err := h.check(p); err != nil {
		h.fail(w, r, err)
		return
	}

	order, err := h.orders.RemoveItem(r.Context(), p.OrderID, p.ItemID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapOrderToResponse(order))
}

// --- users ---

func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	userID, err := h.users.CreateAccount(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, UserCreatedResponse{UserID: userID})
}

func (h *Handler) FindUser(w http.ResponseWriter, r *http.Request) {
	p := userPath{UserID: chi.URLParam(r, "user_id")}
	if err := h.check(p); err != nil {
		h.fail(w, r, err)
		return
	}

	acc, err := h.users.GetAccount(r.Context(), p.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, UserResponse{UserID: acc.UserID, Credit: acc.Credit})
}

func (h *Handler) AddCredit(w http.ResponseWriter, r *http.Request) {
	p := creditPath{UserID: chi.URLParam(r, "user_id"), Amount: chi.URLParam(r, "amount")}
	if err := h.check(p); err != nil {
		h.fail(w, r, err)
		return
	}
	amount, err := decimal.NewFromString(p.Amount)
	if err != nil {
		h.fail(w, r, fmt.Errorf("%w: amount: %v", errInvalidRequest, err))
		return
	}

	credit, err := h.users.AddFunds(r.Context(), p.UserID, amount)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, UserResponse{UserID: p.UserID, Credit: credit})
}

// --- stock ---

func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	p := pricePath{Price: chi.URLParam(r, "price")}
	if err := h.check(p); err != nil {
		h.fail(w, r, err)
		return
	}
	price, err := decimal.NewFromString(p.Price)
	if err != nil {
		h.fail(w, r, fmt.Errorf("%w: price: %v", errInvalidRequest, err))
		return
	}

	itemID, err := h.stock.CreateItem(r.Context(), price)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ItemCreatedResponse{ItemID: itemID})
}

func (h *Handler) FindItem(w http.ResponseWriter, r *http.Request) {
	p := itemPath{ItemID: chi.URLParam(r, "item_id")}
	if err := h.check(p); err != nil {
		h.fail(w, r, err)
		return
	}

	item, err := h.stock.GetItem(r.Context(), p.ItemID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ItemResponse{ItemID: item.ItemID, Price: item.Price, Stock: item.Stock})
}

func (h *Handler) AddStock(w http.ResponseWriter, r *http.Request) {
	p := stockPath{ItemID: chi.URLParam(r, "item_id"), Amount: chi.URLParam(r, "amount")}
	if err := h.check(p); err != nil {
		h.fail(w, r, err)
		return
	}
	count, err := strconv.ParseInt(p.Amount, 10, 64)
	if err != nil {
		h.fail(w, r, fmt.Errorf("%w: amount: %v", errInvalidRequest, err))
		return
	}

	stock, err := h.stock.AddStock(r.Context(), p.ItemID, count)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, StockResponse{ItemID: p.ItemID, Stock: stock})
}

func mapOrderToResponse(order *domain.Order) OrderResponse {
	return OrderResponse{
		OrderID:   order.ID,
		UserID:    order.UserID,
		Paid:      order.Paid,
		Items:     order.ItemIDs(),
		TotalCost: order.TotalCost(),
	}
}
