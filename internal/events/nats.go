package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSPublisher publishes JSON-encoded events to NATS subjects.
type NATSPublisher struct {
	conn *nats.Conn
}

// NewNATSPublisher connects to url (ZAPLINE_NATS_URL).
func NewNATSPublisher(url string, opts ...nats.Option) (*NATSPublisher, error) {
	nc, err := nats.Connect(url, append([]nats.Option{nats.Name("zapline-publisher")}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &NATSPublisher{conn: nc}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, topic string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	return p.PublishRaw(topic, data)
}

// PublishRaw sends data unchanged. Raw signed events must go through here:
// re-marshaling them could alter the bytes that were hashed.
func (p *NATSPublisher) PublishRaw(topic string, data []byte) error {
	if err := p.conn.Publish(topic, data); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	return nil
}

// Flush waits until the server has processed everything published so far.
func (p *NATSPublisher) Flush() error {
	return p.conn.Flush()
}

func (p *NATSPublisher) Close() error {
	p.conn.Close()
	return nil
}

// NATSSubscriber subscribes to events from NATS subjects.
type NATSSubscriber struct {
	conn *nats.Conn
}

// NewNATSSubscriber connects to NATS with automatic reconnection support.
// Extra nats.Option values (e.g. disconnect/reconnect handlers) can be appended.
func NewNATSSubscriber(url string, opts ...nats.Option) (*NATSSubscriber, error) {
	defaults := []nats.Option{
		nats.Name("zapline-subscriber"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &NATSSubscriber{conn: nc}, nil
}

// Subscribe returns a channel that receives raw payloads for topic (NATS
// wildcards such as "zapline.>" work). Call cancel to unsubscribe and close
// the channel.
func (s *NATSSubscriber) Subscribe(topic string) (<-chan []byte, func(), error) {
	return s.subscribe(topic, "")
}

// SubscribeQueue is Subscribe within a queue group: each message goes to one
// member of the group, so several workers can share a subject.
func (s *NATSSubscriber) SubscribeQueue(topic, group string) (<-chan []byte, func(), error) {
	return s.subscribe(topic, group)
}

func (s *NATSSubscriber) subscribe(topic, group string) (<-chan []byte, func(), error) {
	ch := make(chan []byte, 64)
	done := make(chan struct{})

	var (
		mu     sync.Mutex
		closed bool
		once   sync.Once
	)

	// Receipts carry money: block rather than drop when the consumer falls
	// behind. done releases a blocked handler on cancel.
	handler := func(msg *nats.Msg) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- msg.Data:
		case <-done:
		}
	}

	var (
		sub *nats.Subscription
		err error
	)
	if group == "" {
		sub, err = s.conn.Subscribe(topic, handler)
	} else {
		sub, err = s.conn.QueueSubscribe(topic, group, handler)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	// Flush so the subscription is registered before returning.
	if err := s.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, nil, fmt.Errorf("flushing subscription: %w", err)
	}

	cancel := func() {
		once.Do(func() {
			_ = sub.Unsubscribe()
			close(done)
			mu.Lock()
			closed = true
			close(ch)
			mu.Unlock()
		})
	}

	return ch, cancel, nil
}

func (s *NATSSubscriber) Close() error {
	s.conn.Close()
	return nil
}
