package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"git-context-agent/models"
)

func TestRetryDecisionIncrementsCount(t *testing.T) {
	headers := amqp.Table{
		"retry_count":          int32(1),
		"max_retries":          int32(3),
		"original_routing_key": "repository.process",
	}

	republish, next := retryDecision(headers)
	if !republish {
		t.Fatal("expected republish below the bound")
	}
	if got := headerInt(next, "retry_count", -1); got != 2 {
		t.Fatalf("retry_count = %d, want 2", got)
	}
	if got := headerString(next, "original_routing_key", ""); got != "repository.process" {
		t.Fatalf("original_routing_key lost: %q", got)
	}
	// The incoming table must not be mutated
	if got := headerInt(headers, "retry_count", -1); got != 1 {
		t.Fatalf("input headers mutated: retry_count = %d", got)
	}
}

func TestRetryDecisionDefaultsWhenHeadersAbsent(t *testing.T) {
	republish, next := retryDecision(nil)
	if !republish {
		t.Fatal("expected republish for a message without retry headers")
	}
	if got := headerInt(next, "retry_count", -1); got != 1 {
		t.Fatalf("retry_count = %d, want 1", got)
	}
	if got := headerInt(next, "max_retries", -1); got != defaultMaxRetries {
		t.Fatalf("max_retries = %d, want %d", got, defaultMaxRetries)
	}
}

func TestRetryDecisionStopsAtBound(t *testing.T) {
	headers := amqp.Table{
		"retry_count": int32(3),
		"max_retries": int32(3),
	}
	if republish, _ := retryDecision(headers); republish {
		t.Fatal("message at the retry bound must not be republished")
	}

	headers["retry_count"] = int32(5)
	if republish, _ := retryDecision(headers); republish {
		t.Fatal("message past the retry bound must not be republished")
	}
}

func TestRetryDecisionWalksToBound(t *testing.T) {
	headers := amqp.Table{"max_retries": int32(3)}

	republishes := 0
	for {
		republish, next := retryDecision(headers)
		if !republish {
			break
		}
		republishes++
		headers = next
		if republishes > 10 {
			t.Fatal("retry loop did not terminate")
		}
	}
	if republishes != 3 {
		t.Fatalf("republished %d times, want 3", republishes)
	}
}

type fakeAcknowledger struct {
	acks    int
	rejects int
	requeue bool
}

func (a *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	a.acks++
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, multiple bool, requeue bool) error {
	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	a.rejects++
	a.requeue = requeue
	return nil
}

type fakeChannelPublisher struct {
	err         error
	routingKeys []string
	published   []amqp.Publishing
}

func (p *fakeChannelPublisher) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if p.err != nil {
		return p.err
	}
	p.routingKeys = append(p.routingKeys, key)
	p.published = append(p.published, msg)
	return nil
}

func eventBody(t *testing.T) []byte {
	t.Helper()
	body, err := json.Marshal(models.RepositoryEvent{
		EventID:       "evt-1",
		EventType:     models.EventRepositoryProcess,
		Timestamp:     time.Now().UTC(),
		CorrelationID: "c1",
		SourceService: "git_agent",
		RepositoryID:  "repo-1",
	})
	if err != nil {
		t.Fatalf("encode event: %v", err)
	}
	return body
}

func newTestConsumer(handler MessageHandler, publisher channelPublisher) *Consumer {
	return &Consumer{
		exchangeName: "git_agent",
		routingKey:   RouteRepositoryProcess,
		queueName:    QueueRepositoryClone,
		handler:      handler,
		publisher:    publisher,
	}
}

func TestProcessMessageAcksOnSuccess(t *testing.T) {
	ack := &fakeAcknowledger{}
	publisher := &fakeChannelPublisher{}
	c := newTestConsumer(func(ctx context.Context, event *models.RepositoryEvent) error {
		return nil
	}, publisher)

	c.processMessage(context.Background(), amqp.Delivery{
		Acknowledger: ack,
		Body:         eventBody(t),
	})

	if ack.acks != 1 || ack.rejects != 0 {
		t.Fatalf("acks = %d, rejects = %d", ack.acks, ack.rejects)
	}
	if len(publisher.published) != 0 {
		t.Fatalf("successful delivery was republished")
	}
}

func TestProcessMessageRepublishesOnHandlerError(t *testing.T) {
	ack := &fakeAcknowledger{}
	publisher := &fakeChannelPublisher{}
	c := newTestConsumer(func(ctx context.Context, event *models.RepositoryEvent) error {
		return errors.New("transient")
	}, publisher)

	c.processMessage(context.Background(), amqp.Delivery{
		Acknowledger: ack,
		Body:         eventBody(t),
		Headers: amqp.Table{
			"retry_count":          int32(0),
			"max_retries":          int32(3),
			"original_routing_key": RouteRepositoryProcess,
		},
	})

	if len(publisher.published) != 1 {
		t.Fatalf("republished %d times, want 1", len(publisher.published))
	}
	if publisher.routingKeys[0] != RouteRepositoryProcess {
		t.Fatalf("routing key = %s", publisher.routingKeys[0])
	}
	if got := headerInt(publisher.published[0].Headers, "retry_count", -1); got != 1 {
		t.Fatalf("republished retry_count = %d, want 1", got)
	}
	if ack.acks != 1 {
		t.Fatalf("acks = %d, want 1 after successful republish", ack.acks)
	}
}

func TestProcessMessageLeavesUnackedWhenRepublishFails(t *testing.T) {
	ack := &fakeAcknowledger{}
	publisher := &fakeChannelPublisher{err: errors.New("channel dropped")}
	c := newTestConsumer(func(ctx context.Context, event *models.RepositoryEvent) error {
		return errors.New("transient")
	}, publisher)

	c.processMessage(context.Background(), amqp.Delivery{
		Acknowledger: ack,
		Body:         eventBody(t),
		Headers: amqp.Table{
			"retry_count": int32(0),
			"max_retries": int32(3),
		},
	})

	// Neither acked nor rejected: the broker still owns the delivery and will
	// redeliver it, so a message with retry budget left is never dropped.
	if ack.acks != 0 || ack.rejects != 0 {
		t.Fatalf("acks = %d, rejects = %d, want delivery left unacknowledged", ack.acks, ack.rejects)
	}
}

func TestProcessMessageRejectsAtRetryBound(t *testing.T) {
	ack := &fakeAcknowledger{}
	publisher := &fakeChannelPublisher{}
	c := newTestConsumer(func(ctx context.Context, event *models.RepositoryEvent) error {
		return errors.New("still failing")
	}, publisher)

	c.processMessage(context.Background(), amqp.Delivery{
		Acknowledger: ack,
		Body:         eventBody(t),
		Headers: amqp.Table{
			"retry_count": int32(3),
			"max_retries": int32(3),
		},
	})

	if ack.rejects != 1 {
		t.Fatalf("rejects = %d, want 1", ack.rejects)
	}
	if ack.requeue {
		t.Fatal("rejected delivery must not be requeued")
	}
	if len(publisher.published) != 0 {
		t.Fatal("delivery at the bound was republished")
	}
}

func TestConsumeLoopReportsClosedChannel(t *testing.T) {
	deliveries := make(chan amqp.Delivery)
	close(deliveries)

	c := newTestConsumer(nil, &fakeChannelPublisher{})
	err := c.consumeLoop(context.Background(), deliveries)
	if !errors.Is(err, ErrChannelClosed) {
		t.Fatalf("err = %v, want ErrChannelClosed", err)
	}
}

func TestConsumeLoopExitsCleanlyOnCancel(t *testing.T) {
	deliveries := make(chan amqp.Delivery)
	close(deliveries)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := newTestConsumer(nil, &fakeChannelPublisher{})
	if err := c.consumeLoop(ctx, deliveries); err != nil {
		t.Fatalf("canceled shutdown should be clean, got %v", err)
	}
}

func TestHeaderIntWidths(t *testing.T) {
	cases := []amqp.Table{
		{"retry_count": int(2)},
		{"retry_count": int8(2)},
		{"retry_count": int16(2)},
		{"retry_count": int32(2)},
		{"retry_count": int64(2)},
	}
	for _, headers := range cases {
		if got := headerInt(headers, "retry_count", -1); got != 2 {
			t.Fatalf("headerInt(%T) = %d, want 2", headers["retry_count"], got)
		}
	}
	if got := headerInt(amqp.Table{"retry_count": "2"}, "retry_count", 7); got != 7 {
		t.Fatalf("non-numeric header should fall back to default, got %d", got)
	}
}
