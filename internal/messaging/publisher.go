package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"git-context-agent/internal/config"
	"git-context-agent/internal/logger"
	"git-context-agent/models"
)

// ErrPublishFailed is returned when a publish still fails after the
// connection has been rebuilt once. The caller decides whether to retry the
// whole saga step.
var ErrPublishFailed = errors.New("message publish failed")

// ErrReconnectExhausted is returned when the bounded reconnect loop gives up.
var ErrReconnectExhausted = errors.New("broker reconnect attempts exhausted")

// ConnState models the broker connection lifecycle explicitly so transient
// failures are distinguishable from a connection that was never established.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	}
	return "disconnected"
}

// Publisher delivers events to a durable topic exchange with persistent
// messages. A parallel "<exchange>.dlq" topic exchange is declared alongside
// the main one for consumers that opt into dead-lettering.
type Publisher struct {
	url                  string
	exchangeName         string
	maxRetries           int
	reconnectMaxAttempts int
	reconnectBaseDelay   time.Duration

	mu      sync.Mutex
	state   ConnState
	conn    *amqp.Connection
	channel *amqp.Channel
}

func NewPublisher(cfg *config.Config) (*Publisher, error) {
	p := &Publisher{
		url:                  cfg.BrokerURL,
		exchangeName:         cfg.ExchangeName,
		maxRetries:           cfg.PublisherMaxRetries,
		reconnectMaxAttempts: cfg.ReconnectMaxAttempts,
		reconnectBaseDelay:   time.Duration(cfg.ReconnectBaseDelayMS) * time.Millisecond,
	}

	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

// connect dials the broker and redeclares the exchange topology. Declares
// are idempotent, so rebuilding after a drop is safe.
func (p *Publisher) connect() error {
	p.state = StateConnecting
	logger.Info("Setting up broker connection", "exchange", p.exchangeName)

	conn, err := amqp.Dial(p.url)
	if err != nil {
		p.state = StateDisconnected
		return fmt.Errorf("failed to connect to broker: %v", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		p.state = StateDisconnected
		return fmt.Errorf("failed to open channel: %v", err)
	}

	if err := declareExchanges(channel, p.exchangeName); err != nil {
		channel.Close()
		conn.Close()
		p.state = StateDisconnected
		return err
	}

	p.conn = conn
	p.channel = channel
	p.state = StateConnected
	logger.Info("Connected to broker", "exchange", p.exchangeName)
	return nil
}

// declareExchanges declares the main durable topic exchange and its parallel
// dead-letter exchange.
func declareExchanges(channel *amqp.Channel, exchangeName string) error {
	if err := channel.ExchangeDeclare(exchangeName, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %v", exchangeName, err)
	}
	if err := channel.ExchangeDeclare(exchangeName+".dlq", "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %s.dlq: %v", exchangeName, err)
	}
	return nil
}

// reconnect runs a bounded retry loop with linear backoff. It never recurses;
// sustained failure surfaces as ErrReconnectExhausted.
func (p *Publisher) reconnect() error {
	var lastErr error
	for attempt := 1; attempt <= p.reconnectMaxAttempts; attempt++ {
		time.Sleep(time.Duration(attempt) * p.reconnectBaseDelay)
		logger.Warn("Reconnecting to broker", "attempt", attempt, "state", p.state.String())

		if err := p.connect(); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	p.state = StateDisconnected
	return fmt.Errorf("%w after %d attempts: %v", ErrReconnectExhausted, p.reconnectMaxAttempts, lastErr)
}

// PublishMessage serializes the event and publishes it persistently with a
// fresh message id. When correlationID is empty it defaults to the message
// id, making the message the origin of a new saga instance. A closed
// connection is rebuilt transparently and the publish retried exactly once;
// a second failure is fatal to the caller.
func (p *Publisher) PublishMessage(ctx context.Context, routingKey string, event *models.RepositoryEvent, correlationID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %v", err)
	}

	messageID := uuid.NewString()
	if correlationID == "" {
		correlationID = messageID
	}

	publishing := amqp.Publishing{
		DeliveryMode:  amqp.Persistent,
		MessageId:     messageID,
		CorrelationId: correlationID,
		ContentType:   "application/json",
		Headers: amqp.Table{
			"retry_count":          int32(0),
			"max_retries":          int32(p.maxRetries),
			"original_routing_key": routingKey,
		},
		Body: body,
	}

	err = p.channel.PublishWithContext(ctx, p.exchangeName, routingKey, false, false, publishing)
	if err == nil {
		logger.Info("Published message", "message_id", messageID, "routing_key", routingKey)
		return nil
	}

	logger.Warn("Publish failed, rebuilding connection", "error", err.Error())
	if rerr := p.reconnect(); rerr != nil {
		return fmt.Errorf("%w: %v", ErrPublishFailed, rerr)
	}

	if err := p.channel.PublishWithContext(ctx, p.exchangeName, routingKey, false, false, publishing); err != nil {
		return fmt.Errorf("%w: %v", ErrPublishFailed, err)
	}
	logger.Info("Published message after reconnect", "message_id", messageID, "routing_key", routingKey)
	return nil
}

// State reports the current connection state.
func (p *Publisher) State() ConnState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.state = StateDisconnected
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
