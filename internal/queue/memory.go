package queue

import (
	"context"
	"sync"
	"time"

	"github.com/alfredjeanlab/zapline/internal/model"
)

// MemoryQueue is an in-process queue for tests and single-binary runs. Its
// shard count is fixed at construction; Dequeue with a different total is a
// configuration error.
type MemoryQueue struct {
	mu       sync.Mutex
	shards   [][]model.ReplyJob
	inflight map[uint64]model.ReplyJob
	seq      uint64
	now      func() time.Time
}

// NewMemoryQueue creates a queue with totalShards shards.
func NewMemoryQueue(totalShards int) *MemoryQueue {
	if totalShards < 1 {
		totalShards = 1
	}
	return &MemoryQueue{
		shards:   make([][]model.ReplyJob, totalShards),
		inflight: make(map[uint64]model.ReplyJob),
		now:      time.Now,
	}
}

// SetClock replaces the clock used for nack delays.
func (q *MemoryQueue) SetClock(now func() time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.now = now
}

func (q *MemoryQueue) Enqueue(ctx context.Context, job model.ReplyJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := ShardOf(job.GameID, len(q.shards))
	q.shards[s] = append(q.shards[s], job)
	return nil
}

// Dequeue hands out the oldest job on the shard whose NotBefore has passed.
func (q *MemoryQueue) Dequeue(ctx context.Context, shardID, totalShards int) (*Delivery, error) {
	if err := ValidateShard(shardID, totalShards); err != nil {
		return nil, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if totalShards != len(q.shards) {
		return nil, ValidateShard(shardID, len(q.shards))
	}
	now := q.now()
	pending := q.shards[shardID]
	idx := -1
	for i, j := range pending {
		if j.ReadyAt(now) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, nil
	}
	job := pending[idx]
	q.shards[shardID] = append(pending[:idx:idx], pending[idx+1:]...)
	q.seq++
	tag := q.seq
	q.inflight[tag] = job

	var once sync.Once
	settle := func(requeue func() model.ReplyJob) {
		once.Do(func() {
			q.mu.Lock()
			defer q.mu.Unlock()
			delete(q.inflight, tag)
			if requeue != nil {
				q.shards[shardID] = append(q.shards[shardID], requeue())
			}
		})
	}
	return NewDelivery(job,
		func(context.Context) error {
			settle(nil)
			return nil
		},
		func(_ context.Context, reason string, delay time.Duration) error {
			settle(func() model.ReplyJob { return retried(job, reason, q.now(), delay) })
			return nil
		},
	), nil
}

// Len returns the number of queued jobs on a shard, including ones still
// waiting out a nack delay.
func (q *MemoryQueue) Len(shardID int) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if shardID < 0 || shardID >= len(q.shards) {
		return 0
	}
	return len(q.shards[shardID])
}

// InFlight returns the number of dequeued jobs not yet acked or nacked.
func (q *MemoryQueue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inflight)
}

func (q *MemoryQueue) Close() error { return nil }
