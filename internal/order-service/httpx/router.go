package httpx

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/jcmexdev/checkout-saga/internal/order-service/httpx/middlewares"
)

// NewRouter mounts every public route. gatherer may be nil, in which case
// /metrics is not served.
func NewRouter(handler *Handler, logger *zap.Logger, serviceName string, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middlewares.AttachTracingMetadata)
	r.Use(middlewares.Tracing(serviceName))
	r.Use(middlewares.AccessLog(logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/orders", func(r chi.Router) {
		r.Post("/create/{user_id}", handler.CreateOrder)
		r.Get("/find/{order_id}", handler.FindOrder)
		r.Delete("/remove/{order_id}", handler.DeleteOrder)
		r.Post("/addItem/{order_id}/{item_id}", handler.AddItem)
		r.Delete("/removeItem/{order_id}/{item_id}", handler.RemoveItem)
		r.Post("/checkout/{order_id}", handler.Checkout)
		r.Get("/user/{user_id}", handler.ListUserOrders)
	})

	r.Route("/users", func(r chi.Router) {
		r.Post("/create", handler.CreateUser)
		r.Get("/find/{user_id}", handler.FindUser)
		r.Post("/credit/add/{user_id}/{amount}", handler.AddCredit)
	})

	r.Route("/stock", func(r chi.Router) {
		r.Post("/item/create/{price}", handler.CreateItem)
		r.Get("/find/{item_id}", handler.FindItem)
		r.Post("/add/{item_id}/{amount}", handler.AddStock)
	})

	return r
}
