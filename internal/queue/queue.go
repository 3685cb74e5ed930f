// Package queue carries reply jobs from the publisher to the sharded
// ingestor. A job belongs to exactly one shard, chosen by hashing its game
// id, so every backend can hand a worker only the jobs it owns.
package queue

import (
	"context"
	"hash/fnv"
	"time"

	"github.com/alfredjeanlab/zapline/internal/model"
	"github.com/alfredjeanlab/zapline/internal/zaperr"
)

// ReasonAllRelaysFailed is the nack reason when no relay answered a query.
const ReasonAllRelaysFailed = "all-relays-failed"

// Queue is the work queue the ingestor drains.
type Queue interface {
	Enqueue(ctx context.Context, job model.ReplyJob) error
	// Dequeue returns the next job for shardID out of totalShards, or nil when
	// the shard has nothing ready.
	Dequeue(ctx context.Context, shardID, totalShards int) (*Delivery, error)
	Close() error
}

// Delivery is a dequeued job. Exactly one of Ack or Nack must be called.
type Delivery struct {
	Job model.ReplyJob

	ack  func(ctx context.Context) error
	nack func(ctx context.Context, reason string, delay time.Duration) error
}

// NewDelivery builds a Delivery around backend callbacks.
func NewDelivery(job model.ReplyJob, ack func(context.Context) error, nack func(context.Context, string, time.Duration) error) *Delivery {
	return &Delivery{Job: job, ack: ack, nack: nack}
}

// Ack removes the job from the queue.
func (d *Delivery) Ack(ctx context.Context) error { return d.ack(ctx) }

// Nack returns the job to its shard with Attempt incremented and Reason set.
// The job is not handed out again until delay has passed.
func (d *Delivery) Nack(ctx context.Context, reason string, delay time.Duration) error {
	return d.nack(ctx, reason, delay)
}

// ShardOf maps a game id onto one of totalShards shards.
func ShardOf(gameID string, totalShards int) int {
	if totalShards <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(gameID))
	return int(h.Sum32() % uint32(totalShards))
}

// ValidateShard checks 0 <= shardID < totalShards.
func ValidateShard(shardID, totalShards int) error {
	if totalShards < 1 {
		return zaperr.Newf(zaperr.KindConfiguration, "queue.ValidateShard", "total shards %d < 1", totalShards)
	}
	if shardID < 0 || shardID >= totalShards {
		return zaperr.Newf(zaperr.KindConfiguration, "queue.ValidateShard", "shard %d outside [0,%d)", shardID, totalShards)
	}
	return nil
}

// retried is the job as it goes back on the queue after a nack.
func retried(job model.ReplyJob, reason string, now time.Time, delay time.Duration) model.ReplyJob {
	job.Attempt++
	job.Reason = reason
	job.NotBefore = 0
	if delay > 0 {
		job.NotBefore = now.Add(delay).Unix()
	}
	return job
}

// untilReady is how long job must still wait at now.
func untilReady(job model.ReplyJob, now time.Time) time.Duration {
	if job.ReadyAt(now) {
		return 0
	}
	return time.Unix(job.NotBefore, 0).Sub(now)
}
