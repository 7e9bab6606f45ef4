// Package memory keeps forecast notifications in process memory for tests
// and dry runs.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
)

// Message is one accepted publish. Data holds the JSON the Pub/Sub publisher
// would have sent, so payloads that cannot travel are rejected here too.
type Message struct {
	ID         string
	Topic      string
	Payload    any
	Data       []byte
	Attributes map[string]string
}

// Publisher implements crawler.Publisher in memory.
type Publisher struct {
	source string

	mu   sync.RWMutex
	sent []Message
}

// New returns a Publisher. A non-empty source is recorded as the "source"
// attribute, matching the Pub/Sub publisher.
func New(source ...string) *Publisher {
	p := &Publisher{}
	if len(source) > 0 {
		p.source = source[0]
	}
	return p
}

// Publish encodes payload and records it under a sequential ID.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("publish to %s: %w", topic, err)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload for %s: %w", topic, err)
	}
	attrs := map[string]string{"content_type": "application/json"}
	if p.source != "" {
		attrs["source"] = p.source
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	id := "memory-" + strconv.Itoa(len(p.sent)+1)
	p.sent = append(p.sent, Message{ID: id, Topic: topic, Payload: payload, Data: data, Attributes: attrs})
	return id, nil
}

// Messages returns every recorded publish in order.
func (p *Publisher) Messages() []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Message(nil), p.sent...)
}

// On returns the publishes recorded for topic.
func (p *Publisher) On(topic string) []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []Message
	for _, m := range p.sent {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}
