// Package pubsub publishes pipeline events to GCP Pub/Sub topics.
package pubsub

import (
	"context"
	"sync"

	"cloud.google.com/go/pubsub"
	"github.com/bytedance/sonic"
	"github.com/cockroachdb/errors"
)

// Publisher implements feed.Publisher over Pub/Sub. Topic handles are
// cached per topic name.
type Publisher struct {
	client *pubsub.Client

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// New creates a Pub/Sub publisher authenticated via application default
// credentials.
func New(ctx context.Context, projectID string) (*Publisher, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, errors.Wrap(err, "create pubsub client")
	}
	return &Publisher{
		client: client,
		topics: make(map[string]*pubsub.Topic),
	}, nil
}

func (p *Publisher) topic(name string) *pubsub.Topic {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.topics[name]
	if !ok {
		t = p.client.Topic(name)
		p.topics[name] = t
	}
	return t
}

// Publish marshals the event and publishes it, blocking for the server ack
// so the caller can propagate failures into the queue's retry.
func (p *Publisher) Publish(ctx context.Context, topic string, event any) (string, error) {
	data, err := sonic.Marshal(event)
	if err != nil {
		return "", errors.Wrap(err, "marshal event")
	}
	result := p.topic(topic).Publish(ctx, &pubsub.Message{Data: data})
	id, err := result.Get(ctx)
	if err != nil {
		return "", errors.Wrapf(err, "publish to %s", topic)
	}
	return id, nil
}

// Close stops all topic publishers and closes the client.
func (p *Publisher) Close() error {
	p.mu.Lock()
	for _, t := range p.topics {
		t.Stop()
	}
	p.mu.Unlock()
	if err := p.client.Close(); err != nil {
		return errors.Wrap(err, "close pubsub client")
	}
	return nil
}
