package eventbus

import (
	"context"
	"time"

	"payroll-bnpl/internal/domain/gateway"

	"cloud.google.com/go/pubsub/v2"
)

var _ gateway.EventBus = (*PubSub)(nil)

// publisher is the part of *pubsub.Publisher we use; tests swap it out.
type publisher interface {
	Publish(ctx context.Context, msg *pubsub.Message) publishResult
	ResumePublish(orderingKey string)
}

type publishResult interface {
	Get(ctx context.Context) (string, error)
}

type sdkPublisher struct{ p *pubsub.Publisher }

func (s sdkPublisher) Publish(ctx context.Context, msg *pubsub.Message) publishResult {
	return s.p.Publish(ctx, msg)
}

func (s sdkPublisher) ResumePublish(orderingKey string) { s.p.ResumePublish(orderingKey) }

// PubSub publishes each event to one topic. The event type is carried as
// an attribute and the aggregate id is the ordering key.
type PubSub struct {
	client *pubsub.Client
	pub    publisher
}

func NewPubSub(ctx context.Context, projectID, topic string) (*PubSub, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, err
	}
	p := client.Publisher(topic)
	p.EnableMessageOrdering = true
	return &PubSub{client: client, pub: sdkPublisher{p: p}}, nil
}

func (b *PubSub) Publish(ctx context.Context, ev gateway.Event) error {
	res := b.pub.Publish(ctx, &pubsub.Message{
		Data:        ev.Payload,
		OrderingKey: ev.AggregateID,
		Attributes: map[string]string{
			"event_id":     ev.ID,
			"event_type":   ev.Type,
			"aggregate_id": ev.AggregateID,
			"occurred_at":  ev.OccurredAt.UTC().Format(time.RFC3339Nano),
		},
	})
	if _, err := res.Get(ctx); err != nil {
		// a failed publish pauses the ordering key until it is resumed
		b.pub.ResumePublish(ev.AggregateID)
		return err
	}
	return nil
}

func (b *PubSub) Close() error {
	if b.client == nil {
		return nil
	}
	return b.client.Close()
}
