// Package pubsub backs the work queue with a GCP Pub/Sub topic and
// subscription. Delivery is at-least-once; the subscription's delivery
// attempt is surfaced as the unit's attempt count.
package pubsub

import (
	"context"

	"cloud.google.com/go/pubsub"
	"github.com/bytedance/sonic"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/pickemhq/sportsfeed/internal/feed"
)

// The consumer side is Receive-driven, so only the producer port is
// implemented; the container wires Receive directly to the unit handler.
var _ feed.Enqueuer = (*Queue)(nil)

// Queue publishes and consumes processing units over Pub/Sub.
type Queue struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	sub    *pubsub.Subscription
	logger *zap.Logger
}

// Config identifies the work topic and its subscription.
type Config struct {
	ProjectID      string
	TopicID        string
	SubscriptionID string
}

// New connects to Pub/Sub and resolves the work topic and subscription.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Queue, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, errors.Wrap(err, "create pubsub client")
	}
	return &Queue{
		client: client,
		topic:  client.Topic(cfg.TopicID),
		sub:    client.Subscription(cfg.SubscriptionID),
		logger: logger,
	}, nil
}

// Enqueue publishes one unit to the work topic and waits for the server
// ack, so callers observe enqueue failures.
func (q *Queue) Enqueue(ctx context.Context, unit feed.ProcessingUnit) error {
	data, err := sonic.Marshal(unit)
	if err != nil {
		return errors.Wrap(err, "marshal processing unit")
	}
	result := q.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"provider":      string(unit.Provider),
			"domain":        string(unit.Domain),
			"document_kind": string(unit.DocumentKind),
			"routing_key":   feed.RoutingKey(unit.URLHash),
		},
	})
	if _, err := result.Get(ctx); err != nil {
		return errors.Wrap(err, "publish processing unit")
	}
	return nil
}

// Receive pulls units and invokes handler for each. Transient handler
// failures nack the message so Pub/Sub redelivers it with a higher
// delivery attempt; everything else acks.
func (q *Queue) Receive(ctx context.Context, handler func(context.Context, feed.ProcessingUnit) error) error {
	err := q.sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		var unit feed.ProcessingUnit
		if err := sonic.Unmarshal(msg.Data, &unit); err != nil {
			q.logger.Error("drop undecodable queue message", zap.Error(err))
			msg.Ack()
			return
		}
		// Re-enqueued units carry their count in the payload; nack-driven
		// redeliveries of the same message only bump DeliveryAttempt. Take
		// whichever is further along.
		if msg.DeliveryAttempt != nil && *msg.DeliveryAttempt-1 > unit.AttemptCount {
			unit.AttemptCount = *msg.DeliveryAttempt - 1
		}
		if err := handler(ctx, unit); err != nil {
			if feed.IsTransient(err) {
				msg.Nack()
				return
			}
			q.logger.Error("unit abandoned",
				zap.String("correlation_id", unit.CorrelationID),
				zap.String("url_hash", unit.URLHash),
				zap.Error(err),
			)
		}
		msg.Ack()
	})
	if err != nil {
		return errors.Wrap(err, "receive processing units")
	}
	return nil
}

// Close releases the Pub/Sub client.
func (q *Queue) Close() error {
	q.topic.Stop()
	if err := q.client.Close(); err != nil {
		return errors.Wrap(err, "close pubsub client")
	}
	return nil
}
