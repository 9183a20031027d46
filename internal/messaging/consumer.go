package messaging

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"git-context-agent/internal/config"
	"git-context-agent/internal/logger"
	"git-context-agent/models"
)

const defaultMaxRetries = 3

// ErrChannelClosed is returned when the broker closes the delivery channel
// while the consumer is still supposed to be running.
var ErrChannelClosed = errors.New("broker channel closed")

// channelPublisher is the slice of the AMQP channel used to republish
// retried deliveries.
type channelPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// MessageHandler processes one decoded event. A non-nil error routes the
// message through the consumer's bounded retry path.
type MessageHandler func(ctx context.Context, event *models.RepositoryEvent) error

// Consumer binds one queue to one routing key on the shared topic exchange
// and processes one unacknowledged message at a time. Scaling out means
// running more consumer instances against the same queue.
type Consumer struct {
	exchangeName string
	routingKey   string
	queueName    string
	handler      MessageHandler

	conn      *amqp.Connection
	channel   *amqp.Channel
	publisher channelPublisher
}

func NewConsumer(cfg *config.Config, routingKey, queueName string, handler MessageHandler) (*Consumer, error) {
	conn, err := amqp.Dial(cfg.BrokerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %v", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %v", err)
	}

	c := &Consumer{
		exchangeName: cfg.ExchangeName,
		routingKey:   routingKey,
		queueName:    queueName,
		handler:      handler,
		conn:         conn,
		channel:      channel,
		publisher:    channel,
	}

	if err := c.setupTopology(cfg.ConsumerBindDLQ); err != nil {
		channel.Close()
		conn.Close()
		return nil, err
	}
	return c, nil
}

func (c *Consumer) setupTopology(bindDLQ bool) error {
	if err := declareExchanges(c.channel, c.exchangeName); err != nil {
		return err
	}

	// When dead-letter capture is enabled, rejected messages are routed to
	// the dlq exchange instead of being discarded by the broker.
	var queueArgs amqp.Table
	if bindDLQ {
		queueArgs = amqp.Table{
			"x-dead-letter-exchange":    c.exchangeName + ".dlq",
			"x-dead-letter-routing-key": c.routingKey + ".dlq",
		}
	}

	if _, err := c.channel.QueueDeclare(c.queueName, true, false, false, false, queueArgs); err != nil {
		return fmt.Errorf("failed to declare queue %s: %v", c.queueName, err)
	}
	if err := c.channel.QueueBind(c.queueName, c.routingKey, c.exchangeName, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s: %v", c.queueName, err)
	}

	if bindDLQ {
		dlqName := c.queueName + ".dlq"
		if _, err := c.channel.QueueDeclare(dlqName, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare queue %s: %v", dlqName, err)
		}
		if err := c.channel.QueueBind(dlqName, c.routingKey+".dlq", c.exchangeName+".dlq", false, nil); err != nil {
			return fmt.Errorf("failed to bind queue %s: %v", dlqName, err)
		}
	}

	// One unacknowledged message at a time: a message is fully processed
	// before the next is fetched.
	if err := c.channel.Qos(1, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %v", err)
	}
	return nil
}

// StartConsuming blocks, processing deliveries until the context is canceled
// or the channel closes.
func (c *Consumer) StartConsuming(ctx context.Context) error {
	deliveries, err := c.channel.Consume(c.queueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to start consuming from %s: %v", c.queueName, err)
	}

	logger.Info("Starting to consume", "queue", c.queueName, "routing_key", c.routingKey)
	return c.consumeLoop(ctx, deliveries)
}

func (c *Consumer) consumeLoop(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case delivery, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("%w: queue %s", ErrChannelClosed, c.queueName)
			}
			c.processMessage(ctx, delivery)
		}
	}
}

// processMessage implements the per-message protocol: decode, handle, ack on
// success; on failure republish with an incremented retry count until the
// bound is reached, then reject without requeue.
func (c *Consumer) processMessage(ctx context.Context, delivery amqp.Delivery) {
	event, err := models.DecodeRepositoryEvent(delivery.Body)
	if err == nil {
		err = c.handler(ctx, event)
	}

	if err == nil {
		delivery.Ack(false)
		return
	}

	logger.Error("Error processing message", "queue", c.queueName, "error", err.Error())

	republish, headers := retryDecision(delivery.Headers)
	if !republish {
		delivery.Reject(false)
		return
	}

	// Explicit republish to the original routing key re-enqueues the message
	// at the tail, which may reorder it relative to newer arrivals.
	routingKey := headerString(headers, "original_routing_key", c.routingKey)
	publishing := amqp.Publishing{
		DeliveryMode:  amqp.Persistent,
		MessageId:     delivery.MessageId,
		CorrelationId: delivery.CorrelationId,
		ContentType:   delivery.ContentType,
		Headers:       headers,
		Body:          delivery.Body,
	}
	if perr := c.publisher.PublishWithContext(ctx, c.exchangeName, routingKey, false, false, publishing); perr != nil {
		// Not acked: the broker keeps the delivery and redelivers it once the
		// channel recovers, so the message is never lost mid-retry.
		logger.Error("Failed to republish message, leaving delivery unacknowledged", "queue", c.queueName, "error", perr.Error())
		return
	}
	delivery.Ack(false)
}

// Stop halts the consume loop and closes the channel and connection.
// In-flight handler work is not interrupted.
func (c *Consumer) Stop() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// retryDecision inspects the retry headers and decides whether the message
// may be republished. The returned table carries the incremented count;
// retry_count is monotonic and never reset.
func retryDecision(headers amqp.Table) (bool, amqp.Table) {
	retryCount := headerInt(headers, "retry_count", 0)
	maxRetries := headerInt(headers, "max_retries", defaultMaxRetries)

	if retryCount >= maxRetries {
		return false, headers
	}

	next := amqp.Table{}
	for key, value := range headers {
		next[key] = value
	}
	next["retry_count"] = int32(retryCount + 1)
	next["max_retries"] = int32(maxRetries)
	return true, next
}

// headerInt reads a numeric header, tolerating the integer widths AMQP
// clients produce.
func headerInt(headers amqp.Table, key string, defaultValue int) int {
	if headers == nil {
		return defaultValue
	}
	switch value := headers[key].(type) {
	case int:
		return value
	case int8:
		return int(value)
	case int16:
		return int(value)
	case int32:
		return int(value)
	case int64:
		return int(value)
	}
	return defaultValue
}

func headerString(headers amqp.Table, key, defaultValue string) string {
	if headers == nil {
		return defaultValue
	}
	if value, ok := headers[key].(string); ok && value != "" {
		return value
	}
	return defaultValue
}
