package consumer

import (
	"context"
	"log/slog"
	"time"

	"github.com/ecomlabs/order-pipeline/internal/dal/rabbitmq"
	"github.com/ecomlabs/order-pipeline/internal/service/models/ordermsg"
	"github.com/spf13/viper"
	"github.com/streadway/amqp"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
)

// service represents the service layer interface.
type service interface {
	Process(ctx context.Context, msg ordermsg.OrderMessage) error
}

// Consumer is the RabbitMQ transport for the fulfillment worker. The broker
// delivers at least once; acks are manual and only sent after the service
// committed (or safely rejected) the message.
type Consumer struct {
	client  *rabbitmq.Client
	service service
	queue   amqp.Queue
	stop    chan struct{}
	done    chan struct{}
}

// NewConsumer creates a new Consumer bound to the order-processing queue.
func NewConsumer(client *rabbitmq.Client, service service) *Consumer {
	queueName := viper.GetString("rabbitmq.queue")
	if queueName == "" {
		queueName = ordermsg.QueueProcessOrder
	}

	queue, err := client.DeclareQueue(rabbitmq.DeclareQueueConfig{
		Name:       queueName,
		Durable:    true,
		AutoDelete: false,
		Exclusive:  false,
		NoWait:     false,
	})
	if err != nil {
		panic(err)
	}

	if prefetch := viper.GetInt("rabbitmq.prefetch"); prefetch > 0 {
		if err := client.Qos(prefetch); err != nil {
			panic(err)
		}
	}

	return &Consumer{
		client:  client,
		service: service,
		queue:   queue,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Run starts consuming messages from RabbitMQ.
func (c *Consumer) Run(ctx context.Context) error {
	consumerTag := viper.GetString("rabbitmq.consumer_tag")
	if consumerTag == "" {
		consumerTag = "fulfillment-worker"
	}

	msgs, err := c.client.Consume(rabbitmq.ConsumeConfig{
		Queue:     c.queue.Name,
		Consumer:  consumerTag,
		AutoAck:   false,
		Exclusive: false,
		NoLocal:   false,
		NoWait:    false,
	})
	if err != nil {
		return err
	}

	limit := viper.GetInt("rabbitmq.concurrency")
	if limit <= 0 {
		limit = 10
	}

	slog.Info("Consumer started", "queue", c.queue.Name, "consumer_tag", consumerTag, "concurrency", limit)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	go func() {
		for {
			select {
			case <-c.stop:
				slog.Info("Stopping consumer")
				close(c.done)

				return
			case msg, ok := <-msgs:
				if !ok {
					slog.Info("Message channel closed")
					close(c.done)

					return
				}

				g.Go(func() error {
					c.processMessage(gctx, msg)

					return nil
				})
			}
		}
	}()

	<-c.done
	if err := g.Wait(); err != nil {
		slog.Error("Error processing messages", "error", err)
	}

	return nil
}

// processMessage handles a single delivery. Ack only after the service
// committed; a transient failure leaves the message unacknowledged so the
// broker redelivers it.
func (c *Consumer) processMessage(ctx context.Context, msg amqp.Delivery) {
	ctx, span := otel.Tracer("consumer").Start(ctx, "Consumer.processMessage")
	defer span.End()

	m, err := ordermsg.Unmarshal(msg.Body)
	if err != nil {
		slog.ErrorContext(ctx, "Dropping malformed order message",
			"delivery_tag", msg.DeliveryTag,
			"error", err,
		)
		// Redelivery cannot fix a bad payload.
		if err := msg.Nack(false, false); err != nil {
			slog.Error("Failed to nack message", "error", err)
		}

		return
	}

	if err := c.service.Process(ctx, m); err != nil {
		slog.ErrorContext(ctx, "Order message processing failed, will redeliver",
			"dedup_key", m.DedupKey,
			"error", err,
		)
		if err := msg.Nack(false, true); err != nil {
			slog.Error("Failed to nack message", "error", err)
		}

		return
	}

	if err := msg.Ack(false); err != nil {
		slog.Error("Failed to ack message", "error", err)

		return
	}

	slog.InfoContext(ctx, "Message processed successfully", "dedup_key", m.DedupKey)
}

// Shutdown gracefully shuts down the consumer, letting in-flight messages
// finish. Anything not acknowledged by then redelivers safely.
func (c *Consumer) Shutdown() error {
	slog.Info("Shutting down consumer")
	close(c.stop)

	select {
	case <-c.done:
		slog.Info("Consumer stopped successfully")
	case <-time.After(10 * time.Second):
		slog.Warn("Consumer shutdown timeout")
	}

	return nil
}
