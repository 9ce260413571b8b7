// Package memory keeps published samples in process. It backs tests and
// deployments that run without a broker configured; the labeling feed sees
// the same Publish contract as the Pub/Sub client.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Delivery is one recorded publish call.
type Delivery struct {
	Topic   string
	Payload any
}

// Publisher collects deliveries instead of sending them anywhere.
type Publisher struct {
	mu         sync.RWMutex
	deliveries []Delivery
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the delivery and returns a local sequence id.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deliveries = append(p.deliveries, Delivery{Topic: topic, Payload: payload})
	return fmt.Sprintf("local-%d", len(p.deliveries)), nil
}

// Deliveries returns a copy of everything published so far.
func (p *Publisher) Deliveries() []Delivery {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Delivery, len(p.deliveries))
	copy(out, p.deliveries)
	return out
}

// ByTopic returns the deliveries recorded for one topic.
func (p *Publisher) ByTopic(topic string) []Delivery {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []Delivery
	for _, d := range p.deliveries {
		if d.Topic == topic {
			out = append(out, d)
		}
	}
	return out
}
