package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/spf13/viper"
	"github.com/streadway/amqp"
)

var (
	// ErrPublishNacked is returned when the broker refuses a published message.
	ErrPublishNacked = errors.New("publish nacked by broker")
	// ErrPublishTimeout is returned when the broker confirmation did not
	// arrive within the caller's deadline. The message may or may not have
	// been enqueued; callers must report failure rather than assume success.
	ErrPublishTimeout = errors.New("publish confirmation timed out")
)

// Client represents a RabbitMQ client. Publishing runs in confirm mode so the
// admission path can tell the caller whether the message really was enqueued.
type Client struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	confirms <-chan amqp.Confirmation

	// publishes are serialized so each confirmation matches the publish
	// that is waiting for it.
	publishMu sync.Mutex
}

// Channel returns the underlying AMQP channel.
func (r *Client) Channel() *amqp.Channel {
	return r.channel
}

// Connection returns the underlying AMQP connection.
func (r *Client) Connection() *amqp.Connection {
	return r.conn
}

// Close closes the channel and connection for graceful shutdown.
func (r *Client) Close() error {
	if r.channel != nil {
		if err := r.channel.Close(); err != nil {
			return err
		}
	}
	if r.conn != nil {
		return r.conn.Close()
	}

	return nil
}

// MustNewClient creates a new RabbitMQ client.
func MustNewClient() *Client {
	host := viper.GetString("rabbitmq.host")
	port := viper.GetInt("rabbitmq.port")
	user := os.Getenv("RABBITMQ_DEFAULT_USER")
	password := os.Getenv("RABBITMQ_DEFAULT_PASS")

	if host == "" {
		host = "rabbitmq"
	}
	if port == 0 {
		port = 5672
	}

	connStr := fmt.Sprintf(
		"amqp://%s:%s@%s:%d/",
		user,
		password,
		host,
		port,
	)

	conn, err := amqp.Dial(connStr)
	if err != nil {
		panic(fmt.Sprintf("Failed to connect to RabbitMQ: %v", err))
	}

	channel, err := conn.Channel()
	if err != nil {
		err := conn.Close()
		if err != nil {
			panic(fmt.Sprintf("Failed to close a connection: %v", err))
		}
		panic(fmt.Sprintf("Failed to open a channel: %v", err))
	}

	if err := channel.Confirm(false); err != nil {
		panic(fmt.Sprintf("Failed to put channel into confirm mode: %v", err))
	}
	confirms := channel.NotifyPublish(make(chan amqp.Confirmation, 1))

	slog.Info("RabbitMQ connected", "host", host, "port", port)

	return &Client{
		conn:     conn,
		channel:  channel,
		confirms: confirms,
	}
}

type DeclareQueueConfig struct {
	Name       string
	Durable    bool
	AutoDelete bool
	Exclusive  bool
	NoWait     bool
	Args       amqp.Table
}

// DeclareQueue declares a queue with the given configuration.
func (r *Client) DeclareQueue(cfg DeclareQueueConfig) (amqp.Queue, error) {
	return r.channel.QueueDeclare(
		cfg.Name,
		cfg.Durable,
		cfg.AutoDelete,
		cfg.Exclusive,
		cfg.NoWait,
		cfg.Args,
	)
}

type ConsumeConfig struct {
	Queue     string
	Consumer  string
	AutoAck   bool
	Exclusive bool
	NoLocal   bool
	NoWait    bool
	Args      amqp.Table
}

// Consume starts consuming messages from the queue.
func (r *Client) Consume(cfg ConsumeConfig) (<-chan amqp.Delivery, error) {
	return r.channel.Consume(
		cfg.Queue,
		cfg.Consumer,
		cfg.AutoAck,
		cfg.Exclusive,
		cfg.NoLocal,
		cfg.NoWait,
		cfg.Args,
	)
}

// Qos limits how many deliveries the broker pushes before acks come back.
func (r *Client) Qos(prefetch int) error {
	return r.channel.Qos(prefetch, 0, false)
}

// Publish sends a persistent message to the given queue and waits for the
// broker confirmation or the context deadline, whichever comes first.
func (r *Client) Publish(ctx context.Context, queue string, body []byte, messageID string) error {
	r.publishMu.Lock()
	defer r.publishMu.Unlock()

	err := r.channel.Publish(
		"",    // default exchange routes by queue name
		queue, // routing key
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    messageID,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", queue, err)
	}

	select {
	case confirm, ok := <-r.confirms:
		if !ok {
			return fmt.Errorf("confirmation channel closed: %w", ErrPublishNacked)
		}
		if !confirm.Ack {
			return ErrPublishNacked
		}

		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrPublishTimeout, ctx.Err())
	}
}
