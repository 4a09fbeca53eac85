package app

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ecomlabs/order-pipeline/internal/dal/postgres"
	"github.com/ecomlabs/order-pipeline/internal/dal/rabbitmq"
	"github.com/ecomlabs/order-pipeline/internal/dal/redisx"
	auditrepo "github.com/ecomlabs/order-pipeline/internal/dal/repositories/audit/postgres"
	orderrepo "github.com/ecomlabs/order-pipeline/internal/dal/repositories/order/postgres"
	productrepo "github.com/ecomlabs/order-pipeline/internal/dal/repositories/product/postgres"
	"github.com/ecomlabs/order-pipeline/internal/otel"
	"github.com/ecomlabs/order-pipeline/internal/service/services/admissionsvc"
	"github.com/ecomlabs/order-pipeline/internal/service/services/ordersvc"
	httptransport "github.com/ecomlabs/order-pipeline/internal/transport/http"
)

// APIApp is the admission-facing service: the HTTP surface, the non-mutating
// stock pre-check and the confirmed enqueue.
type APIApp struct {
	admissionSvc   *admissionsvc.AdmissionService
	orderSvc       *ordersvc.OrderService
	transport      *httptransport.HTTPTransport
	postgresClient *postgres.Client
	rabbitMqClient *rabbitmq.Client
	redisCache     *redisx.Cache
	otelController *otel.OtelController
}

// MustNewAPIApp creates the admission service application.
func MustNewAPIApp() *APIApp {
	otelController := otel.MustInitOtel("order-api")
	postgresClient := postgres.MustNewClient()
	rabbitMqClient := rabbitmq.MustNewClient()
	redisCache := redisx.MustNewCache()

	ledgerRepository := productrepo.NewLedgerRepository(postgresClient)
	orderRepository := orderrepo.NewOrderRepository(postgresClient)
	auditRepository := auditrepo.NewAuditRepository(postgresClient)

	admissionSvc := admissionsvc.MustNewAdmissionService(
		admissionsvc.WithProductReader(ledgerRepository),
		admissionsvc.WithPublisher(rabbitMqClient),
	)

	orderSvc := ordersvc.MustNewOrderService(
		ordersvc.WithOrderRepository(orderRepository),
		ordersvc.WithAuditReader(auditRepository),
		ordersvc.WithStatusCache(redisCache),
	)

	transport := httptransport.NewHTTPTransport(admissionSvc, orderSvc)
	transport.RegisterRoutes()

	return &APIApp{
		admissionSvc:   admissionSvc,
		orderSvc:       orderSvc,
		transport:      transport,
		postgresClient: postgresClient,
		rabbitMqClient: rabbitMqClient,
		redisCache:     redisCache,
		otelController: otelController,
	}
}

// Run starts the application.
// Tracks interrupt signal to gracefully shut down the application.
func (a *APIApp) Run() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("Starting HTTP server")
		if err := a.transport.Run(); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	<-stop
	slog.Info("Shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.transport.Shutdown(ctx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped gracefully")
	}

	if err := a.rabbitMqClient.Close(); err != nil {
		slog.Error("RabbitMQ connection close error", "error", err)
	} else {
		slog.Info("RabbitMQ connection closed gracefully")
	}

	if err := a.redisCache.Close(); err != nil {
		slog.Error("Redis connection close error", "error", err)
	} else {
		slog.Info("Redis connection closed gracefully")
	}

	a.postgresClient.Close()
	slog.Info("Database connection closed gracefully")

	if err := a.otelController.Shutdown(); err != nil {
		slog.Error("Otel trace provider close error", "error", err)
	}

	slog.Info("Application shutdown complete")
}
