package events

import (
	"context"
	"sync"
)

// NoopPublisher drops every event. Used when ZAPLINE_NATS_URL is unset.
type NoopPublisher struct{}

func (n *NoopPublisher) Publish(ctx context.Context, topic string, event any) error {
	return nil
}

func (n *NoopPublisher) Close() error {
	return nil
}

// RecordingPublisher keeps published events in memory. Tests and the
// in-process CLI paths use it to observe what would have gone to NATS.
type RecordingPublisher struct {
	mu     sync.Mutex
	events []Recorded
}

// Recorded is one captured Publish call.
type Recorded struct {
	Topic string
	Event any
}

func (r *RecordingPublisher) Publish(ctx context.Context, topic string, event any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Recorded{Topic: topic, Event: event})
	return nil
}

func (r *RecordingPublisher) Close() error { return nil }

// Events returns a copy of everything published so far.
func (r *RecordingPublisher) Events() []Recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Recorded(nil), r.events...)
}

// Topic returns the events published on topic, in order.
func (r *RecordingPublisher) Topic(topic string) []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []any
	for _, e := range r.events {
		if e.Topic == topic {
			out = append(out, e.Event)
		}
	}
	return out
}
