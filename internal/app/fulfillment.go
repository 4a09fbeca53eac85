package app

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ecomlabs/order-pipeline/internal/dal/postgres"
	"github.com/ecomlabs/order-pipeline/internal/dal/rabbitmq"
	"github.com/ecomlabs/order-pipeline/internal/dal/redisx"
	auditrepo "github.com/ecomlabs/order-pipeline/internal/dal/repositories/audit/postgres"
	orderrepo "github.com/ecomlabs/order-pipeline/internal/dal/repositories/order/postgres"
	"github.com/ecomlabs/order-pipeline/internal/otel"
	"github.com/ecomlabs/order-pipeline/internal/service/services/fulfillmentsvc"
	"github.com/ecomlabs/order-pipeline/internal/transport/consumer"
)

// FulfillmentApp is the worker service: it consumes queued order messages and
// applies them exactly once against stock and the order store.
type FulfillmentApp struct {
	fulfillmentSvc *fulfillmentsvc.FulfillmentService
	consumerTransp *consumer.Consumer
	rabbitMqClient *rabbitmq.Client
	postgresClient *postgres.Client
	redisCache     *redisx.Cache
	otelController *otel.OtelController
}

// MustNewFulfillmentApp creates the fulfillment worker application.
func MustNewFulfillmentApp() *FulfillmentApp {
	otelController := otel.MustInitOtel("fulfillment-worker")
	rabbitMqClient := rabbitmq.MustNewClient()
	postgresClient := postgres.MustNewClient()
	redisCache := redisx.MustNewCache()

	orderRepository := orderrepo.NewOrderRepository(postgresClient)
	auditRepository := auditrepo.NewAuditRepository(postgresClient)

	fulfillmentSvc := fulfillmentsvc.MustNewFulfillmentService(
		fulfillmentsvc.WithOrderStore(orderRepository),
		fulfillmentsvc.WithAuditRepository(auditRepository),
		fulfillmentsvc.WithDedupCache(redisCache),
	)

	consumerTransp := consumer.NewConsumer(rabbitMqClient, fulfillmentSvc)

	return &FulfillmentApp{
		fulfillmentSvc: fulfillmentSvc,
		consumerTransp: consumerTransp,
		rabbitMqClient: rabbitMqClient,
		postgresClient: postgresClient,
		redisCache:     redisCache,
		otelController: otelController,
	}
}

// Run starts the application.
// Tracks interrupt signal to gracefully shut down the application.
func (a *FulfillmentApp) Run() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		slog.Info("Starting fulfillment consumer")
		if err := a.consumerTransp.Run(ctx); err != nil {
			slog.Error("Consumer error", "error", err)
		}
	}()

	<-stop
	slog.Info("Shutdown signal received")
	cancel()

	a.gracefulShutdown()
}

// gracefulShutdown stops components in order: consumer first so no new
// deliveries arrive, then the clients underneath it.
func (a *FulfillmentApp) gracefulShutdown() {
	if err := a.consumerTransp.Shutdown(); err != nil {
		slog.Error("Consumer shutdown error", "error", err)
	} else {
		slog.Info("Consumer stopped gracefully")
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
