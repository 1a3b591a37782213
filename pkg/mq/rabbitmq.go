package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

type Client struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

const (
	BuildsExchange  = "deployments.exchange"
	DLXExchange     = "deployments.dlx"
	BuildQueue      = "deployments.build.queue"
	DeadLetterQueue = "deployments.dead_letter.queue"
	BuildRoutingKey = "build"
)

func New(url string) (*Client, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	return &Client{conn: conn, ch: ch}, nil
}

// SetupTopology declares all necessary exchanges and queues. Idempotent.
//
// The build queue is a quorum queue with a delivery limit: the broker
// counts receives per message and dead-letters a message once the limit
// is exhausted, so poison pills are isolated without any retry counting
// in the consumer.
func (c *Client) SetupTopology(maxReceives int) error {
	if err := c.ch.ExchangeDeclare(BuildsExchange, "direct", true, false, false, false, nil); err != nil {
		return err
	}
	if err := c.ch.ExchangeDeclare(DLXExchange, "fanout", true, false, false, false, nil); err != nil {
		return err
	}

	_, err := c.ch.QueueDeclare(DeadLetterQueue, true, false, false, false, nil)
	if err != nil {
		return err
	}
	if err := c.ch.QueueBind(DeadLetterQueue, "", DLXExchange, false, nil); err != nil {
		return err
	}

	_, err = c.ch.QueueDeclare(BuildQueue, true, false, false, false, amqp.Table{
		"x-queue-type":           "quorum",
		"x-delivery-limit":       int32(maxReceives),
		"x-dead-letter-exchange": DLXExchange,
	})
	if err != nil {
		return err
	}
	return c.ch.QueueBind(BuildQueue, BuildRoutingKey, BuildsExchange, false, nil)
}

// PublishBuild publishes one build-start message.
func (c *Client) PublishBuild(ctx context.Context, body []byte) error {
	return c.ch.PublishWithContext(ctx,
		BuildsExchange,
		BuildRoutingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		})
}

// ConsumeBuilds opens a manual-ack subscription on the build queue with
// at most one unacknowledged delivery in flight.
func (c *Client) ConsumeBuilds() (<-chan amqp.Delivery, error) {
	if err := c.ch.Qos(1, 0, false); err != nil {
		return nil, err
	}
	return c.ch.Consume(
		BuildQueue,
		"",    // consumer
		false, // auto-ack is false. We will manually ack.
		false,
		false,
		false,
		nil,
	)
}

func (c *Client) Close() {
	c.ch.Close()
	c.conn.Close()
}
