package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/alfredjeanlab/zapline/internal/events"
	"github.com/alfredjeanlab/zapline/internal/model"
)

// Stream defaults.
const (
	DefaultStreamName = "ZAPLINE_REPLY_JOBS"
	DefaultFetchWait  = 2 * time.Second
	DefaultAckWait    = 2 * time.Minute
)

// NATSQueue is a JetStream work-queue stream with one subject and one
// durable pull consumer per shard.
type NATSQueue struct {
	conn        *nats.Conn
	js          jetstream.JetStream
	stream      jetstream.Stream
	totalShards int
	fetchWait   time.Duration
	consumers   []jetstream.Consumer
	now         func() time.Time
}

// NATSOptions configures NewNATSQueue.
type NATSOptions struct {
	StreamName  string
	TotalShards int
	FetchWait   time.Duration
	AckWait     time.Duration
	// Memory keeps the stream in memory instead of on disk.
	Memory bool
}

// NewNATSQueue connects to url and creates or updates the job stream.
func NewNATSQueue(ctx context.Context, url string, opts NATSOptions) (*NATSQueue, error) {
	nc, err := nats.Connect(url, nats.Name("zapline-queue"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	q, err := newNATSQueue(ctx, nc, opts)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return q, nil
}

func newNATSQueue(ctx context.Context, nc *nats.Conn, opts NATSOptions) (*NATSQueue, error) {
	if opts.StreamName == "" {
		opts.StreamName = DefaultStreamName
	}
	if opts.TotalShards < 1 {
		opts.TotalShards = 1
	}
	if opts.FetchWait <= 0 {
		opts.FetchWait = DefaultFetchWait
	}
	if opts.AckWait <= 0 {
		opts.AckWait = DefaultAckWait
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	storage := jetstream.FileStorage
	if opts.Memory {
		storage = jetstream.MemoryStorage
	}
	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      opts.StreamName,
		Subjects:  []string{events.TopicReplyJobs + ".*"},
		Retention: jetstream.WorkQueuePolicy,
		Storage:   storage,
	})
	if err != nil {
		return nil, fmt.Errorf("creating stream %s: %w", opts.StreamName, err)
	}

	q := &NATSQueue{
		conn:        nc,
		js:          js,
		stream:      stream,
		totalShards: opts.TotalShards,
		fetchWait:   opts.FetchWait,
		now:         time.Now,
	}
	for shard := 0; shard < opts.TotalShards; shard++ {
		c, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
			Durable:       "shard-" + strconv.Itoa(shard),
			FilterSubject: shardSubject(shard),
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       opts.AckWait,
		})
		if err != nil {
			return nil, fmt.Errorf("creating consumer for shard %d: %w", shard, err)
		}
		q.consumers = append(q.consumers, c)
	}
	return q, nil
}

func shardSubject(shard int) string {
	return events.TopicReplyJobs + "." + strconv.Itoa(shard)
}

func (q *NATSQueue) Enqueue(ctx context.Context, job model.ReplyJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshaling job: %w", err)
	}
	subject := shardSubject(ShardOf(job.GameID, q.totalShards))
	if _, err := q.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publishing job %s: %w", job.ID, err)
	}
	return nil
}

func (q *NATSQueue) Dequeue(ctx context.Context, shardID, totalShards int) (*Delivery, error) {
	if err := ValidateShard(shardID, totalShards); err != nil {
		return nil, err
	}
	if totalShards != q.totalShards {
		return nil, ValidateShard(shardID, q.totalShards)
	}

	batch, err := q.consumers[shardID].Fetch(1, jetstream.FetchMaxWait(q.fetchWait))
	if err != nil {
		return nil, fmt.Errorf("fetching shard %d: %w", shardID, err)
	}
	var msg jetstream.Msg
	for m := range batch.Messages() {
		msg = m
	}
	if msg == nil {
		if err := batch.Error(); err != nil && !errors.Is(err, nats.ErrTimeout) && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("fetching shard %d: %w", shardID, err)
		}
		return nil, nil
	}

	var job model.ReplyJob
	if err := json.Unmarshal(msg.Data(), &job); err != nil {
		// Undecodable jobs would be redelivered forever.
		_ = msg.Term()
		return nil, fmt.Errorf("decoding job on shard %d: %w", shardID, err)
	}
	if wait := untilReady(job, q.now()); wait > 0 {
		if err := msg.NakWithDelay(wait); err != nil {
			return nil, fmt.Errorf("deferring job %s: %w", job.ID, err)
		}
		return nil, nil
	}
	return NewDelivery(job,
		func(context.Context) error { return msg.Ack() },
		func(ctx context.Context, reason string, delay time.Duration) error {
			if err := q.Enqueue(ctx, retried(job, reason, q.now(), delay)); err != nil {
				_ = msg.Nak()
				return err
			}
			return msg.Ack()
		},
	), nil
}

func (q *NATSQueue) Close() error {
	q.conn.Close()
	return nil
}
