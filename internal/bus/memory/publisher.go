// Package memory contains the in-memory event bus used by tests and dev
// mode. Subscribers are invoked synchronously on publish.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	Topic string
	Event any
}

// Publisher stores published events and fans them out to subscribers.
type Publisher struct {
	mu          sync.RWMutex
	messages    []PublishedMessage
	subscribers map[string][]func(context.Context, any)
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{subscribers: make(map[string][]func(context.Context, any))}
}

// Publish records the event, notifies topic subscribers, and returns a
// pseudo message id.
func (p *Publisher) Publish(ctx context.Context, topic string, event any) (string, error) {
	p.mu.Lock()
	p.messages = append(p.messages, PublishedMessage{Topic: topic, Event: event})
	id := fmt.Sprintf("memory-%d", len(p.messages))
	handlers := append([]func(context.Context, any){}, p.subscribers[topic]...)
	p.mu.Unlock()

	for _, handler := range handlers {
		handler(ctx, event)
	}
	return id, nil
}

// Subscribe registers a handler for a topic.
func (p *Publisher) Subscribe(topic string, handler func(context.Context, any)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribers[topic] = append(p.subscribers[topic], handler)
}

// Messages returns the recorded publishes.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}

// MessagesFor returns the recorded publishes for one topic.
func (p *Publisher) MessagesFor(topic string) []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []PublishedMessage
	for _, m := range p.messages {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}
