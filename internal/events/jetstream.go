package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Durable consumer defaults.
const (
	DefaultReceiptStream   = "ZAPLINE_RECEIPTS"
	DefaultReceiptDurable  = "zapline-receipts"
	DefaultAckWait         = time.Minute
	DefaultRedeliveryDelay = 5 * time.Second
	defaultDurableFetch    = 2 * time.Second
	defaultDurableBatch    = 16
)

// DurableConfig describes a JetStream stream and the durable pull consumer
// reading it.
type DurableConfig struct {
	Stream   string
	Subjects []string
	Durable  string
	AckWait  time.Duration
	// RedeliveryDelay is how long a message that failed handling waits
	// before it is delivered again.
	RedeliveryDelay time.Duration
	FetchWait       time.Duration
	Batch           int
	// Memory keeps the stream in memory instead of on disk.
	Memory bool
	Logger *slog.Logger
}

// ReceiptConsumerConfig is the durable consumer for TopicReceiptsIncoming.
func ReceiptConsumerConfig() DurableConfig {
	return DurableConfig{
		Stream:   DefaultReceiptStream,
		Subjects: []string{TopicReceiptsIncoming},
		Durable:  DefaultReceiptDurable,
	}
}

// DurableConsumer reads a subject through a JetStream stream. Plain NATS
// publishes to the subject are captured by the stream and kept until a
// handler acknowledges them, so a message that fails is delivered again.
type DurableConsumer struct {
	conn     *nats.Conn
	consumer jetstream.Consumer
	cfg      DurableConfig
}

// NewDurableConsumer connects to url and creates or updates the stream and
// its durable consumer.
func NewDurableConsumer(ctx context.Context, url string, cfg DurableConfig) (*DurableConsumer, error) {
	nc, err := nats.Connect(url, nats.Name("zapline-"+cfg.Durable), nats.MaxReconnects(-1), nats.ReconnectWait(time.Second))
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	c, err := newDurableConsumer(ctx, nc, cfg)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return c, nil
}

func newDurableConsumer(ctx context.Context, nc *nats.Conn, cfg DurableConfig) (*DurableConsumer, error) {
	if cfg.Stream == "" || cfg.Durable == "" || len(cfg.Subjects) == 0 {
		return nil, errors.New("durable consumer needs a stream, a durable name and subjects")
	}
	if cfg.AckWait <= 0 {
		cfg.AckWait = DefaultAckWait
	}
	if cfg.RedeliveryDelay <= 0 {
		cfg.RedeliveryDelay = DefaultRedeliveryDelay
	}
	if cfg.FetchWait <= 0 {
		cfg.FetchWait = defaultDurableFetch
	}
	if cfg.Batch <= 0 {
		cfg.Batch = defaultDurableBatch
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	storage := jetstream.FileStorage
	if cfg.Memory {
		storage = jetstream.MemoryStorage
	}
	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      cfg.Stream,
		Subjects:  cfg.Subjects,
		Retention: jetstream.WorkQueuePolicy,
		Storage:   storage,
	})
	if err != nil {
		return nil, fmt.Errorf("creating stream %s: %w", cfg.Stream, err)
	}
	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:   cfg.Durable,
		AckPolicy: jetstream.AckExplicitPolicy,
		AckWait:   cfg.AckWait,
	})
	if err != nil {
		return nil, fmt.Errorf("creating consumer %s: %w", cfg.Durable, err)
	}
	return &DurableConsumer{conn: nc, consumer: consumer, cfg: cfg}, nil
}

// Consume passes every message to handle until ctx is cancelled. A nil
// return acknowledges the message; an error leaves it for redelivery after
// RedeliveryDelay.
func (c *DurableConsumer) Consume(ctx context.Context, handle func(ctx context.Context, data []byte) error) error {
	log := c.cfg.Logger.With("stream", c.cfg.Stream, "durable", c.cfg.Durable)
	for {
		if ctx.Err() != nil {
			return nil
		}
		batch, err := c.consumer.Fetch(c.cfg.Batch, jetstream.FetchMaxWait(c.cfg.FetchWait))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn("fetching messages", "err", err)
			if !sleepCtx(ctx, c.cfg.FetchWait) {
				return nil
			}
			continue
		}
		for msg := range batch.Messages() {
			if err := handle(ctx, msg.Data()); err != nil {
				if nerr := msg.NakWithDelay(c.cfg.RedeliveryDelay); nerr != nil {
					log.Warn("nak failed; message returns after ack wait", "err", nerr)
				}
				continue
			}
			if err := msg.Ack(); err != nil {
				log.Warn("ack failed; message may be redelivered", "err", err)
			}
		}
		if err := batch.Error(); err != nil && !errors.Is(err, nats.ErrTimeout) && !errors.Is(err, context.DeadlineExceeded) {
			log.Warn("fetch batch ended", "err", err)
		}
	}
}

func (c *DurableConsumer) Close() error {
	c.conn.Close()
	return nil
}

// sleepCtx waits d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
