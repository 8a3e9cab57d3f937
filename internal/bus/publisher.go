package bus

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/Rican7/retry"
	"github.com/Rican7/retry/backoff"
	"github.com/Rican7/retry/strategy"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/lithammer/shortuuid/v3"
	"github.com/redis/go-redis/v9"

	"streamwsm/internal/model"
)

const metadataStreamID = "stream_id"

// Outbox is the slice of the ledger the publisher needs.
type Outbox interface {
	EnqueueOutbox(msg model.OutboxMessage) (model.OutboxMessage, error)
	ListPendingOutbox(limit int) ([]model.OutboxMessage, error)
	MarkOutboxSent(messageID string) error
	MarkOutboxFailed(messageID string, cause string) error
}

// Publisher moves lifecycle events from the ledger outbox onto a redis
// stream. Staging happens in the same database as the mutation that produced
// the event; delivery happens later from ProcessOnce, so a dead redis never
// blocks a ledger write.
type Publisher struct {
	outbox Outbox
	pub    message.Publisher
	client *redis.Client
	topic  string
	logger *log.Logger
}

// NewPublisher connects to redis and stages onto topic; an empty topic falls
// back to the default lifecycle stream.
func NewPublisher(outbox Outbox, redisAddr string, topic string, logger *log.Logger) (*Publisher, error) {
	if logger == nil {
		logger = log.Default()
	}
	if topic == "" {
		topic = model.StreamEventsTopic
	}
	client := redis.NewClient(&redis.Options{Addr: redisAddr})
	pub, err := redisstream.NewPublisher(redisstream.PublisherConfig{
		Client:     client,
		Marshaller: redisstream.DefaultMarshallerUnmarshaller{},
	}, watermill.NewStdLogger(false, false))
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return &Publisher{outbox: outbox, pub: pub, client: client, topic: topic, logger: logger}, nil
}

func (p *Publisher) Close() error {
	err := p.pub.Close()
	if closeErr := p.client.Close(); err == nil {
		err = closeErr
	}
	return err
}

// Stage records a lifecycle event for later delivery.
func (p *Publisher) Stage(event model.StreamEvent) error {
	if event.EventID == "" {
		event.EventID = "evt-" + shortuuid.New()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = p.outbox.EnqueueOutbox(model.OutboxMessage{
		MessageID:   event.EventID,
		Topic:       p.topic,
		MessageKey:  event.StreamID,
		PayloadJSON: string(payload),
	})
	return err
}

// ProcessOnce drains one batch of pending messages. Each publish is retried
// a few times with backoff before the message is parked as failed.
func (p *Publisher) ProcessOnce(ctx context.Context, limit int) (sent int, failed int, err error) {
	pending, err := p.outbox.ListPendingOutbox(limit)
	if err != nil {
		return 0, 0, err
	}
	for _, staged := range pending {
		if ctx.Err() != nil {
			return sent, failed, ctx.Err()
		}
		msg := message.NewMessage(staged.MessageID, []byte(staged.PayloadJSON))
		msg.Metadata.Set(metadataStreamID, staged.MessageKey)

		publishErr := retry.Retry(func(attempt uint) error {
			return p.pub.Publish(staged.Topic, msg)
		}, strategy.Limit(3), strategy.Backoff(backoff.Linear(50*time.Millisecond)))

		if publishErr != nil {
			failed++
			p.logger.Printf("bus: publish %s failed: %v", staged.MessageID, publishErr)
			if markErr := p.outbox.MarkOutboxFailed(staged.MessageID, publishErr.Error()); markErr != nil {
				return sent, failed, markErr
			}
			continue
		}
		sent++
		if markErr := p.outbox.MarkOutboxSent(staged.MessageID); markErr != nil {
			return sent, failed, markErr
		}
	}
	return sent, failed, nil
}

// Healthy reports whether redis answers a ping.
func (p *Publisher) Healthy(ctx context.Context) bool {
	return p.client.Ping(ctx).Err() == nil
}
