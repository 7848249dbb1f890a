package httpx

import "github.com/shopspring/decimal"

// Path parameters, validated with go-playground/validator.

type orderPath struct {
	OrderID string `validate:"required,max=64"`
}

type userPath struct {
	UserID string `validate:"required,max=64"`
}

type itemPath struct {
	ItemID string `validate:"required,max=64"`
}

type orderItemPath struct {
	OrderID string `validate:"required,max=64"`
	ItemID  string `validate:"required,max=64"`
}

type creditPath struct {
	UserID string `validate:"required,max=64"`
	Amount string `validate:"required,numeric"`
}

type pricePath struct {
	Price string `validate:"required,numeric"`
}

type stockPath struct {
	ItemID string `validate:"required,max=64"`
	Amount string `validate:"required,number"`
}

type CheckoutResponse struct {
	OrderID   string          `json:"order_id"`
	SagaID    string          `json:"saga_id"`
	Status    string          `json:"status"`
	TotalCost decimal.Decimal `json:"total_cost"`
}

type OrderCreatedResponse struct {
	OrderID string `json:"order_id"`
}

type OrderResponse struct {
	OrderID   string          `json:"order_id"`
	UserID    string          `json:"user_id"`
	Paid      bool            `json:"paid"`
	Items     []string        `json:"items"`
	TotalCost decimal.Decimal `json:"total_cost"`
}

type UserOrdersResponse struct {
	OrderIDs []string `json:"order_ids"`
}

type UserResponse struct {
	UserID string          `json:"user_id"`
	Credit decimal.Decimal `json:"credit"`
}

type UserCreatedResponse struct {
	UserID string `json:"user_id"`
}

type ItemResponse struct {
	ItemID string          `json:"item_id"`
	Price  decimal.Decimal `json:"price"`
	Stock  int64           `json:"stock"`
}

type ItemCreatedResponse struct {
	ItemID string `json:"item_id"`
}

type StockResponse struct {
	ItemID string `json:"item_id"`
	Stock  int64  `json:"stock"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	ItemID  string `json:"item_id,omitempty"`
}
