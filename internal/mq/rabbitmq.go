package mq

import (
	"Loop/config"
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	ExchangeCleanup = "cleanup.exchange"
	ExchangeRetry   = "cleanup.retry.exchange"
	ExchangeDLQ     = "cleanup.dlq.exchange"

	QueueCleanup = "cleanup.queue"
	QueueRetry   = "cleanup.retry.queue"
	QueueDLQ     = "cleanup.dlq.queue"

	RoutingCleanup = "cleanup"
	RoutingRetry   = "cleanup.retry"
	RoutingDLQ     = "cleanup.dlq"
)

// CleanupMessage asks the sweep worker to remove the fragments of a file
// whose upload did not complete.
type CleanupMessage struct {
	FileID     string    `json:"file_id"`
	Reason     string    `json:"reason"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

type Client struct {
	Conn      *amqp.Connection
	Channel   *amqp.Channel
	publishMu sync.Mutex
}

var publisherMu sync.Mutex
var publisher *Client

// Dial opens a connection and channel to RabbitMQ.
func Dial() (*Client, error) {
	conn, err := amqp.Dial(config.AppConfig.RabbitMQURL)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &Client{Conn: conn, Channel: ch}, nil
}

// GetPublisher returns a shared publisher client, redialing when the
// cached one went away.
func GetPublisher() (*Client, error) {
	publisherMu.Lock()
	defer publisherMu.Unlock()
	if publisher != nil {
		if !publisher.Conn.IsClosed() && !publisher.Channel.IsClosed() {
			return publisher, nil
		}
		publisher.Close()
		publisher = nil
	}
	client, err := Dial()
	if err != nil {
		return nil, err
	}
	if err := client.DeclareTopology(); err != nil {
		client.Close()
		return nil, err
	}
	publisher = client
	return publisher, nil
}

func (c *Client) Close() {
	if c == nil {
		return
	}
	if c.Channel != nil {
		_ = c.Channel.Close()
	}
	if c.Conn != nil {
		_ = c.Conn.Close()
	}
}

// DeclareTopology declares the cleanup exchanges and queues. The retry
// queue dead-letters expired messages back onto the cleanup exchange.
func (c *Client) DeclareTopology() error {
	exchanges := []string{ExchangeCleanup, ExchangeRetry, ExchangeDLQ}
	for _, exchange := range exchanges {
		if err := c.Channel.ExchangeDeclare(
			exchange,
			"direct",
			true,
			false,
			false,
			false,
			nil,
		); err != nil {
			return err
		}
	}

	if _, err := c.Channel.QueueDeclare(
		QueueCleanup,
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		return err
	}
	if err := c.Channel.QueueBind(QueueCleanup, RoutingCleanup, ExchangeCleanup, false, nil); err != nil {
		return err
	}

	if _, err := c.Channel.QueueDeclare(
		QueueRetry,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    ExchangeCleanup,
			"x-dead-letter-routing-key": RoutingCleanup,
		},
	); err != nil {
		return err
	}
	if err := c.Channel.QueueBind(QueueRetry, RoutingRetry, ExchangeRetry, false, nil); err != nil {
		return err
	}

	if _, err := c.Channel.QueueDeclare(
		QueueDLQ,
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		return err
	}
	return c.Channel.QueueBind(QueueDLQ, RoutingDLQ, ExchangeDLQ, false, nil)
}

func (c *Client) publish(ctx context.Context, exchange, routingKey string, body []byte, expiration string) error {
	c.publishMu.Lock()
	defer c.publishMu.Unlock()
	return c.Channel.PublishWithContext(
		ctx,
		exchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
			Expiration:   expiration,
		},
	)
}

// PublishCleanup enqueues an orphan-cleanup task for a file.
func (c *Client) PublishCleanup(ctx context.Context, fileID, reason string) error {
	body, err := json.Marshal(CleanupMessage{
		FileID:     fileID,
		Reason:     reason,
		EnqueuedAt: time.Now(),
	})
	if err != nil {
		return err
	}
	return c.publish(ctx, ExchangeCleanup, RoutingCleanup, body, "")
}

// PublishRetry parks a cleanup task on the retry queue; RabbitMQ routes it
// back to the cleanup queue after the delay.
func (c *Client) PublishRetry(ctx context.Context, msg CleanupMessage, delay time.Duration) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	expiration := ""
	if delay > 0 {
		// AMQP per-message TTL is a millisecond string.
		expiration = strconv.FormatInt(delay.Milliseconds(), 10)
	}
	return c.publish(ctx, ExchangeRetry, RoutingRetry, body, expiration)
}

// PublishDLQ parks a cleanup task that exhausted its retries.
func (c *Client) PublishDLQ(ctx context.Context, msg CleanupMessage, cause string) error {
	msg.Reason = cause
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.publish(ctx, ExchangeDLQ, RoutingDLQ, body, "")
}
