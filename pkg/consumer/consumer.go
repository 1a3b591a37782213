package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"site-deployer/pkg/builder"
	"site-deployer/pkg/job"
	"site-deployer/pkg/observability"
)

// Store is the slice of the deployment store the consumer needs.
type Store interface {
	AdvanceStatus(ctx context.Context, id string, status job.Status, errMsg string) (bool, error)
}

// Consumer drives build-start messages through the deployment state
// machine. Each instance processes one delivery at a time; multiple
// instances may consume the same queue concurrently because status
// writes are idempotent last-writer-wins within the lifecycle order.
type Consumer struct {
	store       Store
	driver      builder.Driver
	logger      *slog.Logger
	pollTimeout time.Duration
	backoff     time.Duration
}

func New(store Store, driver builder.Driver, logger *slog.Logger, pollTimeout, backoff time.Duration) *Consumer {
	return &Consumer{
		store:       store,
		driver:      driver,
		logger:      logger,
		pollTimeout: pollTimeout,
		backoff:     backoff,
	}
}

// Run consumes deliveries until ctx is cancelled. subscribe is called to
// (re)open the delivery channel; any subscription or channel failure is
// logged and followed by a fixed backoff, never a process exit.
func (c *Consumer) Run(ctx context.Context, subscribe func() (<-chan amqp.Delivery, error)) {
	for {
		deliveries, err := subscribe()
		if err != nil {
			c.logger.Error("failed to open build subscription", "error", err)
			if !c.sleep(ctx) {
				return
			}
			continue
		}
		if !c.consume(ctx, deliveries) {
			return
		}
		c.logger.Error("build delivery channel closed, resubscribing")
		if !c.sleep(ctx) {
			return
		}
	}
}

// consume reads the channel until it closes (returns true) or ctx is
// cancelled (returns false). An empty poll window is not an error.
func (c *Consumer) consume(ctx context.Context, deliveries <-chan amqp.Delivery) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case msg, ok := <-deliveries:
			if !ok {
				return true
			}
			c.HandleDelivery(ctx, msg)
		case <-time.After(c.pollTimeout):
			// nothing to do; poll again
		}
	}
}

func (c *Consumer) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(c.backoff):
		return true
	}
}

// HandleDelivery processes a single build-start message:
//
//	PENDING --[dequeue]--> IN_PROGRESS --[build ok]--> DEPLOYED (ack)
//	                       IN_PROGRESS --[failure]---> ERROR    (nack, requeue)
//
// The message is acked only after the DEPLOYED write returns; on any
// failure it is nacked with requeue so the broker's delivery limit
// decides when the message is dead-lettered.
func (c *Consumer) HandleDelivery(ctx context.Context, msg amqp.Delivery) {
	var m job.QueueMessage
	if err := json.Unmarshal(msg.Body, &m); err != nil || m.ID == "" {
		// Permanent for this message: no job id means no job row to
		// mark, so leave disposal to the broker's redrive policy.
		c.logger.Error("build message missing job id", "body", string(msg.Body), "error", err)
		observability.BuildsProcessed.WithLabelValues("malformed").Inc()
		c.nack(msg)
		return
	}

	l := c.logger.With("job_id", m.ID)

	if _, err := c.store.AdvanceStatus(ctx, m.ID, job.StatusInProgress, ""); err != nil {
		c.fail(ctx, l, m.ID, err, msg)
		return
	}
	l.Info("build started")

	timer := time.Now()
	artifact, err := c.driver.Start(ctx, m.ID)
	observability.BuildDuration.Observe(time.Since(timer).Seconds())
	if err != nil {
		c.fail(ctx, l, m.ID, err, msg)
		return
	}

	applied, err := c.store.AdvanceStatus(ctx, m.ID, job.StatusDeployed, "")
	if err != nil {
		c.fail(ctx, l, m.ID, err, msg)
		return
	}
	if !applied {
		l.Info("deployment already terminal, converging")
	}

	// DEPLOYED is durable; only now may the message leave the queue.
	if err := msg.Ack(false); err != nil {
		l.Error("failed to ack build message", "error", err)
		return
	}
	observability.BuildsProcessed.WithLabelValues("deployed").Inc()
	l.Info("deployment complete", "artifact", artifact.Location)
}

// fail records the ERROR outcome and keeps the message on the queue.
func (c *Consumer) fail(ctx context.Context, l *slog.Logger, id string, cause error, msg amqp.Delivery) {
	l.Error("deployment failed", "error", cause)

	reason := cause.Error()
	var be *builder.BuildError
	if errors.As(cause, &be) {
		reason = be.Message
	}
	if _, err := c.store.AdvanceStatus(ctx, id, job.StatusError, reason); err != nil {
		l.Error("failed to record deployment error", "error", err)
	}
	observability.BuildsProcessed.WithLabelValues("error").Inc()
	c.nack(msg)
}

func (c *Consumer) nack(msg amqp.Delivery) {
	if err := msg.Nack(false, true); err != nil {
		c.logger.Error("failed to nack build message", "error", err)
	}
}
