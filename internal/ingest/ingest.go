// Package ingest pulls replies to published release notes from relays. Work
// arrives as reply jobs on a sharded queue; each relay keeps a checkpoint so
// later polls only ask for newer events.
package ingest

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alfredjeanlab/zapline/internal/events"
	"github.com/alfredjeanlab/zapline/internal/metrics"
	"github.com/alfredjeanlab/zapline/internal/model"
	"github.com/alfredjeanlab/zapline/internal/nostr"
	"github.com/alfredjeanlab/zapline/internal/queue"
	"github.com/alfredjeanlab/zapline/internal/relay"
	"github.com/alfredjeanlab/zapline/internal/store"
	"github.com/alfredjeanlab/zapline/internal/zaperr"
)

// Defaults for Config fields left zero.
const (
	DefaultLookbackSeconds = 3600
	DefaultQueryLimit      = 500
	DefaultBackoffBase     = 30 * time.Second
	DefaultBackoffMax      = 6 * time.Hour
)

// errBackingOff marks a relay skipped because it is still inside its
// backoff window.
var errBackingOff = errors.New("relay backing off after failures")

// Config is fixed for the life of an Ingestor.
type Config struct {
	Relays []string
	// LookbackSeconds is how far before published_at the first poll of a
	// relay without a checkpoint reaches back.
	LookbackSeconds int64
	QueryLimit      int
	// BackoffBase and BackoffMax shape both the per-relay query backoff and
	// the delay of a job nacked because every relay failed.
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// relayHealth tracks consecutive query failures of one relay.
type relayHealth struct {
	failures  int
	notBefore time.Time
}

// Ingestor drains reply jobs.
type Ingestor struct {
	cfg     Config
	client  relay.Client
	store   store.Store
	queue   queue.Queue
	events  events.Publisher
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time

	mu     sync.Mutex
	health map[string]*relayHealth
}

// Option customises an Ingestor.
type Option func(*Ingestor)

func WithEvents(pub events.Publisher) Option { return func(in *Ingestor) { in.events = pub } }

func WithMetrics(m *metrics.Metrics) Option { return func(in *Ingestor) { in.metrics = m } }

func WithLogger(l *slog.Logger) Option { return func(in *Ingestor) { in.logger = l } }

func WithClock(now func() time.Time) Option { return func(in *Ingestor) { in.now = now } }

// New returns an Ingestor. An empty relay list is a configuration error.
func New(cfg Config, client relay.Client, st store.Store, q queue.Queue, opts ...Option) (*Ingestor, error) {
	if len(cfg.Relays) == 0 {
		return nil, zaperr.New(zaperr.KindConfiguration, "ingest.New", "no relays configured")
	}
	if cfg.LookbackSeconds <= 0 {
		cfg.LookbackSeconds = DefaultLookbackSeconds
	}
	if cfg.QueryLimit <= 0 {
		cfg.QueryLimit = DefaultQueryLimit
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}
	if cfg.BackoffMax < cfg.BackoffBase {
		cfg.BackoffMax = max(DefaultBackoffMax, cfg.BackoffBase)
	}
	cfg.Relays = append([]string(nil), cfg.Relays...)
	in := &Ingestor{
		cfg:    cfg,
		client: client,
		store:  st,
		queue:  q,
		events: &events.NoopPublisher{},
		logger: slog.New(slog.DiscardHandler),
		now:    time.Now,
		health: make(map[string]*relayHealth),
	}
	for _, o := range opts {
		o(in)
	}
	if in.metrics == nil {
		in.metrics = metrics.New()
	}
	return in, nil
}

// relayBatch is what one relay contributed to a job.
type relayBatch struct {
	url      string
	err      error
	received int
	stored   []*model.IngestedReply
}

// outcome is what happened to one dequeue attempt.
type outcome int

const (
	outcomeIdle outcome = iota
	outcomeAcked
	outcomeNacked
)

// ProcessNext handles one job from shardID. It reports false when the shard
// had nothing ready. The job is acked when at least one relay answered and
// its replies were stored; otherwise it is nacked as all-relays-failed and
// held back for Backoff(attempt).
func (in *Ingestor) ProcessNext(ctx context.Context, shardID, totalShards int) (bool, error) {
	res, err := in.processNext(ctx, shardID, totalShards)
	return res != outcomeIdle, err
}

// Backoff is the wait after the attempts-th consecutive failure.
func (in *Ingestor) Backoff(attempts int) time.Duration {
	return relay.Backoff(attempts, in.cfg.BackoffBase, in.cfg.BackoffMax)
}

func (in *Ingestor) processNext(ctx context.Context, shardID, totalShards int) (outcome, error) {
	if err := queue.ValidateShard(shardID, totalShards); err != nil {
		return outcomeIdle, err
	}
	d, err := in.queue.Dequeue(ctx, shardID, totalShards)
	if err != nil {
		return outcomeIdle, fmt.Errorf("dequeueing shard %d: %w", shardID, err)
	}
	if d == nil {
		return outcomeIdle, nil
	}
	job := d.Job
	log := in.logger.With("job", job.ID, "game", job.GameID, "shard", shardID)

	batches := make([]relayBatch, len(in.cfg.Relays))
	var wg sync.WaitGroup
	for i, url := range in.cfg.Relays {
		wg.Add(1)
		go func() {
			defer wg.Done()
			batches[i] = in.pollRelay(ctx, log, job, url)
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, b := range batches {
		if errors.Is(b.err, errBackingOff) {
			in.metrics.RelayQueryTotal.WithLabelValues(b.url, metrics.ResultSkipped).Inc()
			log.Debug("relay skipped", "relay", b.url)
			continue
		}
		if b.err != nil {
			in.metrics.RelayQueryTotal.WithLabelValues(b.url, metrics.ResultFailure).Inc()
			log.Warn("relay query failed", "relay", b.url, "err", b.err)
			continue
		}
		succeeded++
		in.metrics.RelayQueryTotal.WithLabelValues(b.url, metrics.ResultSuccess).Inc()
		in.metrics.RepliesStored.Add(float64(len(b.stored)))
		for _, r := range b.stored {
			if err := in.events.Publish(ctx, events.TopicReplyIngested, events.ReplyIngested{
				GameID: r.GameID, EventID: r.EventID, RelayURL: r.RelayURL,
			}); err != nil {
				log.Warn("publishing reply.ingested", "err", err)
			}
		}
		log.Debug("relay polled", "relay", b.url, "received", b.received, "stored", len(b.stored))
	}

	if succeeded == 0 {
		in.metrics.ReplyJobsNacked.Inc()
		delay := in.Backoff(job.Attempt + 1)
		if err := d.Nack(ctx, queue.ReasonAllRelaysFailed, delay); err != nil {
			return outcomeNacked, fmt.Errorf("nacking job %s: %w", job.ID, err)
		}
		log.Warn("reply job returned to queue", "reason", queue.ReasonAllRelaysFailed, "attempt", job.Attempt+1, "delay", delay)
		return outcomeNacked, nil
	}
	if err := d.Ack(ctx); err != nil {
		return outcomeAcked, fmt.Errorf("acking job %s: %w", job.ID, err)
	}
	return outcomeAcked, nil
}

// relayReady reports whether url may be queried at now.
func (in *Ingestor) relayReady(url string, now time.Time) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	h, ok := in.health[url]
	return !ok || !now.Before(h.notBefore)
}

// recordQuery updates the backoff state of url after a query.
func (in *Ingestor) recordQuery(url string, failed bool, now time.Time) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if !failed {
		delete(in.health, url)
		return
	}
	h, ok := in.health[url]
	if !ok {
		h = &relayHealth{}
		in.health[url] = h
	}
	h.failures++
	h.notBefore = now.Add(in.Backoff(h.failures))
}

// pollRelay queries one relay and stores what it returned in a single
// transaction. Nothing is written unless the query succeeded.
func (in *Ingestor) pollRelay(ctx context.Context, log *slog.Logger, job model.ReplyJob, url string) relayBatch {
	b := relayBatch{url: url}
	now := in.now().UTC()
	if !in.relayReady(url, now) {
		b.err = errBackingOff
		return b
	}
	since, err := in.since(ctx, url, job.PublishedAt)
	if err != nil {
		b.err = err
		return b
	}
	raws, err := in.client.Query(ctx, url, relay.QueryRequest{
		EventID: job.ReleaseNoteEventID,
		Since:   since,
		Limit:   in.cfg.QueryLimit,
	})
	in.recordQuery(url, err != nil, now)
	if err != nil {
		b.err = err
		return b
	}
	b.received = len(raws)

	var replies []*model.IngestedReply
	for _, raw := range raws {
		ev, err := nostr.ParseEvent(raw)
		if err != nil {
			in.metrics.ReplyParseFailures.Inc()
			log.Debug("skipping malformed reply", "relay", url, "err", err)
			continue
		}
		if ev.ID == job.ReleaseNoteEventID || !ev.Tags.ContainsValue("e", job.ReleaseNoteEventID) {
			continue
		}
		tags, err := json.Marshal(ev.Tags)
		if err != nil {
			in.metrics.ReplyParseFailures.Inc()
			continue
		}
		replies = append(replies, &model.IngestedReply{
			GameID:         job.GameID,
			EventID:        ev.ID,
			PubKey:         ev.PubKey,
			Kind:           ev.Kind,
			Content:        ev.Content,
			Tags:           tags,
			EventCreatedAt: ev.CreatedAt,
			RelayURL:       url,
			IngestedAt:     now,
		})
	}
	if len(replies) == 0 {
		return b
	}

	err = in.store.RunInTransaction(ctx, func(tx store.Store) error {
		var mark *model.RelayCheckpoint
		var stored []*model.IngestedReply
		for _, r := range replies {
			inserted, err := tx.InsertReply(ctx, r)
			if err != nil {
				return fmt.Errorf("storing reply %s: %w", r.EventID, err)
			}
			if inserted {
				stored = append(stored, r)
			}
			// Duplicates count toward the mark: the (game_id, event_id) key
			// means they are already stored.
			if mark == nil || mark.After(r.EventCreatedAt, r.EventID) {
				mark = &model.RelayCheckpoint{RelayURL: url, LastEventCreatedAt: r.EventCreatedAt, LastEventID: r.EventID, UpdatedAt: now}
			}
		}
		if _, err := tx.AdvanceRelayCheckpoint(ctx, mark); err != nil {
			return fmt.Errorf("advancing checkpoint for %s: %w", url, err)
		}
		b.stored = stored
		return nil
	})
	if err != nil {
		b.err = err
		b.stored = nil
	}
	return b
}

func (in *Ingestor) since(ctx context.Context, url string, publishedAt int64) (int64, error) {
	cp, err := in.store.GetRelayCheckpoint(ctx, url)
	if err == nil {
		return cp.LastEventCreatedAt, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("reading checkpoint for %s: %w", url, err)
	}
	return max(0, publishedAt-in.cfg.LookbackSeconds), nil
}

// Run processes jobs for one shard until ctx is cancelled, sleeping idle
// whenever the shard is empty or a job had to be nacked. Configuration
// errors stop the loop.
func (in *Ingestor) Run(ctx context.Context, shardID, totalShards int, idle time.Duration) error {
	if err := queue.ValidateShard(shardID, totalShards); err != nil {
		return err
	}
	in.logger.Info("reply ingestor started", "shard", shardID, "shards", totalShards)
	for {
		if ctx.Err() != nil {
			return nil
		}
		res, err := in.processNext(ctx, shardID, totalShards)
		if err != nil {
			if zaperr.Is(err, zaperr.KindConfiguration) {
				return err
			}
			if ctx.Err() != nil {
				return nil
			}
			in.logger.Error("processing reply job", "shard", shardID, "err", err)
		}
		if res == outcomeAcked && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(idle):
		}
	}
}
