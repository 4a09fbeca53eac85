package httptransport

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ecomlabs/order-pipeline/internal/service/models/auditlog"
	"github.com/ecomlabs/order-pipeline/internal/service/models/order"
	"github.com/ecomlabs/order-pipeline/internal/service/models/ordermsg"
	"github.com/ecomlabs/order-pipeline/pkg/http/middleware/trace"
	"github.com/ecomlabs/order-pipeline/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"
)

// admissionService is the async entry point for new orders.
type admissionService interface {
	Admit(ctx context.Context, userID, productID int64, quantity int) (*ordermsg.OrderMessage, error)
}

// orderService covers the synchronous order operations.
type orderService interface {
	GetOrder(ctx context.Context, orderID int64) (*order.Order, error)
	GetOrderStatus(ctx context.Context, orderID int64) (order.Status, error)
	ListUserOrders(ctx context.Context, userID int64) ([]order.Order, error)
	UpdateQuantity(ctx context.Context, orderID int64, newQuantity int) (*order.Order, error)
	UpdateStatus(ctx context.Context, orderID int64, newStatus order.Status) (*order.Order, error)
	CancelOrder(ctx context.Context, orderID int64) (*order.Order, error)
	RemoveOrder(ctx context.Context, orderID int64) error
	ListFulfillmentFailures(ctx context.Context, limit int) ([]auditlog.FulfillmentFailure, error)
}

type HTTPTransport struct {
	server    *http.Server
	router    *chi.Mux
	admission admissionService
	orders    orderService
}

func NewHTTPTransport(admission admissionService, orders orderService) *HTTPTransport {
	router := newRouter()
	server := newServer(router)

	return &HTTPTransport{
		server:    server,
		router:    router,
		admission: admission,
		orders:    orders,
	}
}

func (h *HTTPTransport) Run() error {
	return h.server.ListenAndServe()
}

func (h *HTTPTransport) Shutdown(ctx context.Context) error {
	return h.server.Shutdown(ctx)
}

// RegisterRoutes registers the routes for the HTTPTransport.
func (h *HTTPTransport) RegisterRoutes() {
	h.router.Route("/api", func(r chi.Router) {
		r.Post("/orders", h.createOrder)
		r.Get("/orders", h.listOrders)
		r.Get("/orders/{id}", h.getOrder)
		r.Get("/orders/{id}/status", h.getOrderStatus)
		r.Patch("/orders/{id}", h.updateOrder)
		r.Patch("/orders/{id}/status", h.updateOrderStatus)
		r.Delete("/orders/{id}", h.removeOrder)
		r.Get("/fulfillment-failures", h.listFulfillmentFailures)
	})
}

func newRouter() *chi.Mux {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(trace.NewTraceMiddleware)
	router.Use(logger.NewLoggerMiddleware(slog.Default()))

	allowedOrigins := viper.GetStringSlice("server.http.cors.allowed_origins")
	allowedMethods := viper.GetStringSlice("server.http.cors.allowed_methods")
	allowedHeaders := viper.GetStringSlice("server.http.cors.allowed_headers")
	exposedHeaders := viper.GetStringSlice("server.http.cors.exposed_headers")
	allowCredentials := viper.GetBool("server.http.cors.allow_credentials")
	maxAge := viper.GetInt("server.http.cors.max_age")

	c := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   allowedMethods,
		AllowedHeaders:   allowedHeaders,
		ExposedHeaders:   exposedHeaders,
		AllowCredentials: allowCredentials,
		MaxAge:           maxAge,
	})

	router.Use(c.Handler)

	return router
}

func newServer(router http.Handler) *http.Server {
	return &http.Server{
		Addr:    "0.0.0.0:" + viper.GetString("server.http.port"),
		Handler: router,
	}
}
