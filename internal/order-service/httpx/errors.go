package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/jcmexdev/checkout-saga/internal/coordinator"
	"github.com/jcmexdev/checkout-saga/internal/order-service/domain"
	"github.com/jcmexdev/checkout-saga/internal/pkg/telemetry"
)

var errInvalidRequest = errors.New("invalid request")

// classify maps an error to its HTTP status and reason string.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrOrderNotFound), errors.Is(err, coordinator.ErrOrderNotFound):
		return http.StatusNotFound, "order_not_found"
	case errors.Is(err, domain.ErrOrderPaid), errors.Is(err, coordinator.ErrAlreadyPaid):
		return http.StatusConflict, "already_paid"
	case errors.Is(err, domain.ErrOrderChanged), errors.Is(err, coordinator.ErrOrderChanged):
		return http.StatusConflict, "order_changed"
	case errors.Is(err, coordinator.ErrInsufficientFunds):
		return http.StatusBadRequest, "insufficient_funds"
	case errors.Is(err, coordinator.ErrInsufficientStock):
		return http.StatusBadRequest, "insufficient_stock"
	case errors.Is(err, coordinator.ErrCheckoutInProgress):
		return http.StatusConflict, "checkout_in_progress"
	case errors.Is(err, coordinator.ErrNotFound), errors.Is(err, domain.ErrItemNotInOrder):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, errInvalidRequest), errors.Is(err, coordinator.ErrInvalidArgument):
		return http.StatusBadRequest, "invalid_request"
	default:
		return http.StatusServiceUnavailable, "downstream_unavailable"
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, reason := classify(err)
	if status >= http.StatusInternalServerError {
		telemetry.WithTrace(r.Context(), h.logger).Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("reason", reason),
			zap.Error(err),
		)
	}
	writeJSON(w, status, ErrorResponse{
		Error:   reason,
		Message: err.Error(),
		ItemID:  coordinator.ShortItem(err),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
