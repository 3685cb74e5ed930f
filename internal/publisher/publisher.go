// Package publisher fans a game's signed release note out to every
// configured relay and keeps per-relay retry state with exponential backoff
// and a circuit breaker.
package publisher

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alfredjeanlab/zapline/internal/events"
	"github.com/alfredjeanlab/zapline/internal/idgen"
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
	DefaultBackoffBase            = 30 * time.Second
	DefaultBackoffMax             = 6 * time.Hour
	DefaultCircuitBreakerAttempts = 3
	DefaultCASRetries             = 5
	DefaultRetryBatch             = 100
)

// Config is fixed for the life of a Publisher.
type Config struct {
	Relays                 []string
	SiteURL                string
	BackoffBase            time.Duration
	BackoffMax             time.Duration
	CircuitBreakerAttempts int
	// CASRetries bounds the get/create/compare-and-swap loop per relay row.
	CASRetries int
	RetryBatch int
}

func (c Config) withDefaults() Config {
	if c.BackoffBase <= 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = DefaultBackoffMax
	}
	if c.CircuitBreakerAttempts <= 0 {
		c.CircuitBreakerAttempts = DefaultCircuitBreakerAttempts
	}
	if c.CASRetries <= 0 {
		c.CASRetries = DefaultCASRetries
	}
	if c.RetryBatch <= 0 {
		c.RetryBatch = DefaultRetryBatch
	}
	c.Relays = append([]string(nil), c.Relays...)
	return c
}

// Backoff is the wait after the attempts-th consecutive failure.
func (c Config) Backoff(attempts int) time.Duration {
	return relay.Backoff(attempts, c.BackoffBase, c.BackoffMax)
}

// Outcome summarises one publish call. Skipped relays also appear in
// FailedRelays.
type Outcome struct {
	EventID          string   `json:"event_id"`
	SuccessfulRelays []string `json:"successful_relays"`
	FailedRelays     []string `json:"failed_relays"`
	SkippedRelays    []string `json:"skipped_relays,omitempty"`
}

// Publisher signs and delivers release notes.
type Publisher struct {
	cfg     Config
	keys    nostr.Keys
	client  relay.Client
	store   store.Store
	queue   queue.Queue
	events  events.Publisher
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
	runID   func() (string, error)
}

// Option customises a Publisher.
type Option func(*Publisher)

// WithQueue enqueues a reply job after each successful publish.
func WithQueue(q queue.Queue) Option { return func(p *Publisher) { p.queue = q } }

// WithEvents emits release_note.published and relay.retried events.
func WithEvents(pub events.Publisher) Option { return func(p *Publisher) { p.events = pub } }

func WithMetrics(m *metrics.Metrics) Option { return func(p *Publisher) { p.metrics = m } }

func WithLogger(l *slog.Logger) Option { return func(p *Publisher) { p.logger = l } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(p *Publisher) { p.now = now } }

// New validates cfg and returns a Publisher. An empty relay list is a
// configuration error.
func New(cfg Config, keys nostr.Keys, client relay.Client, st store.Store, opts ...Option) (*Publisher, error) {
	if len(cfg.Relays) == 0 {
		return nil, zaperr.New(zaperr.KindConfiguration, "publisher.New", "no relays configured")
	}
	seen := make(map[string]bool, len(cfg.Relays))
	for _, r := range cfg.Relays {
		if r == "" || seen[r] {
			return nil, zaperr.Newf(zaperr.KindConfiguration, "publisher.New", "empty or duplicate relay %q", r)
		}
		seen[r] = true
	}
	if keys.IsZero() {
		return nil, zaperr.New(zaperr.KindConfiguration, "publisher.New", "no signing key")
	}
	p := &Publisher{
		cfg:    cfg.withDefaults(),
		keys:   keys,
		client: client,
		store:  st,
		events: &events.NoopPublisher{},
		logger: slog.New(slog.DiscardHandler),
		now:    time.Now,
		runID:  idgen.RunID,
	}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = metrics.New()
	}
	return p, nil
}

type relayResult struct {
	url     string
	skipped bool
	err     error
}

// Publish signs the release note of gameID as of referenceTime and sends it
// to every relay. Relay failures are reported in the Outcome, never as an
// error; errors mean the game, signing or store failed.
func (p *Publisher) Publish(ctx context.Context, gameID string, referenceTime time.Time) (Outcome, error) {
	const op = "publisher.Publish"
	game, err := p.store.GetGame(ctx, gameID)
	if errors.Is(err, sql.ErrNoRows) {
		return Outcome{}, zaperr.Newf(zaperr.KindMalformedInput, op, "unknown game %q", gameID)
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("loading game %s: %w", gameID, err)
	}
	ev, err := BuildNote(p.keys, p.cfg.SiteURL, game, referenceTime)
	if err != nil {
		return Outcome{}, err
	}
	payload, err := ev.MarshalJSON()
	if err != nil {
		return Outcome{}, err
	}

	log := p.logger.With("game", game.ID, "event_id", ev.ID)
	if runID, err := p.runID(); err != nil {
		log.Warn("generating publish run id", "err", err)
	} else {
		log = log.With("run", runID)
	}
	now := p.now()

	results := make([]relayResult, len(p.cfg.Relays))
	var wg sync.WaitGroup
	for i, url := range p.cfg.Relays {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = p.deliver(ctx, game.ID, url, ev, now)
		}()
	}
	wg.Wait()

	err = p.store.RunInTransaction(ctx, func(tx store.Store) error {
		if err := tx.StampReleaseNote(ctx, game.ID, ev.ID, time.Unix(ev.CreatedAt, 0).UTC()); err != nil {
			return fmt.Errorf("stamping game %s: %w", game.ID, err)
		}
		for _, r := range results {
			switch {
			case r.skipped:
				if err := p.refreshPayload(ctx, tx, game.ID, r.url, payload, now); err != nil {
					return err
				}
			case r.err == nil:
				if err := tx.DeleteRelayQueueEntry(ctx, game.ID, r.url); err != nil {
					return fmt.Errorf("clearing retry state for %s: %w", r.url, err)
				}
			default:
				if err := p.recordFailure(ctx, tx, game.ID, r.url, payload, r.err, now); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}

	out := Outcome{EventID: ev.ID}
	for _, r := range results {
		switch {
		case r.skipped:
			out.FailedRelays = append(out.FailedRelays, r.url)
			out.SkippedRelays = append(out.SkippedRelays, r.url)
			p.metrics.RelayPublishTotal.WithLabelValues(r.url, metrics.ResultSkipped).Inc()
			log.Info("relay circuit open, skipped", "relay", r.url)
		case r.err == nil:
			out.SuccessfulRelays = append(out.SuccessfulRelays, r.url)
			p.metrics.RelayPublishTotal.WithLabelValues(r.url, metrics.ResultSuccess).Inc()
		default:
			out.FailedRelays = append(out.FailedRelays, r.url)
			p.metrics.RelayPublishTotal.WithLabelValues(r.url, metrics.ResultFailure).Inc()
			log.Warn("relay publish failed", "relay", r.url, "err", r.err)
		}
	}
	log.Info("release note published",
		"succeeded", len(out.SuccessfulRelays), "failed", len(out.FailedRelays), "skipped", len(out.SkippedRelays))

	if err := p.events.Publish(ctx, events.TopicReleaseNotePublished, events.ReleaseNotePublished{
		GameID:           game.ID,
		EventID:          ev.ID,
		PublishedAt:      ev.CreatedAt,
		SuccessfulRelays: out.SuccessfulRelays,
		FailedRelays:     out.FailedRelays,
	}); err != nil {
		log.Warn("publishing release_note.published", "err", err)
	}
	if len(out.SuccessfulRelays) > 0 {
		p.enqueueReplies(ctx, log, game.ID, ev)
	}
	return out, nil
}

// deliver sends ev to one relay unless its circuit is open. It only reads
// retry state; writes happen after every relay call has returned.
func (p *Publisher) deliver(ctx context.Context, contentID, url string, ev nostr.Event, now time.Time) relayResult {
	entry, err := p.store.GetRelayQueueEntry(ctx, contentID, url)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return relayResult{url: url, err: fmt.Errorf("reading retry state: %w", err)}
	}
	if entry != nil && p.circuitOpen(entry, now) {
		return relayResult{url: url, skipped: true}
	}
	return relayResult{url: url, err: p.client.Publish(ctx, url, ev)}
}

func (p *Publisher) circuitOpen(e *model.RelayPublishQueueEntry, now time.Time) bool {
	return e.Attempts >= p.cfg.CircuitBreakerAttempts && now.Before(e.NextAttemptAt)
}

// recordFailure bumps the retry row for (contentID, url) with a bounded
// get/create/compare-and-swap loop.
func (p *Publisher) recordFailure(ctx context.Context, tx store.Store, contentID, url string, payload []byte, cause error, now time.Time) error {
	for i := 0; i < p.cfg.CASRetries; i++ {
		cur, err := tx.GetRelayQueueEntry(ctx, contentID, url)
		if errors.Is(err, sql.ErrNoRows) {
			created, err := tx.CreateRelayQueueEntry(ctx, &model.RelayPublishQueueEntry{
				ContentID:     contentID,
				RelayURL:      url,
				Payload:       payload,
				Attempts:      1,
				LastError:     cause.Error(),
				NextAttemptAt: now.Add(p.cfg.Backoff(1)),
				UpdatedAt:     now,
			})
			if err != nil {
				return fmt.Errorf("creating retry state for %s: %w", url, err)
			}
			if created {
				return nil
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("reading retry state for %s: %w", url, err)
		}
		next := failed(*cur, payload, cause, now, p.cfg)
		swapped, err := tx.UpdateRelayQueueEntry(ctx, &next, cur.Attempts)
		if err != nil {
			return fmt.Errorf("updating retry state for %s: %w", url, err)
		}
		if swapped {
			return nil
		}
	}
	return fmt.Errorf("retry state for %s/%s kept changing after %d attempts", contentID, url, p.cfg.CASRetries)
}

// refreshPayload points an open-circuit row at the current note so a later
// retry does not deliver a superseded one. Attempts and next_attempt_at are
// left alone.
func (p *Publisher) refreshPayload(ctx context.Context, tx store.Store, contentID, url string, payload []byte, now time.Time) error {
	for i := 0; i < p.cfg.CASRetries; i++ {
		cur, err := tx.GetRelayQueueEntry(ctx, contentID, url)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading retry state for %s: %w", url, err)
		}
		if string(cur.Payload) == string(payload) {
			return nil
		}
		next := *cur
		next.Payload = payload
		next.UpdatedAt = now
		swapped, err := tx.UpdateRelayQueueEntry(ctx, &next, cur.Attempts)
		if err != nil {
			return fmt.Errorf("refreshing retry payload for %s: %w", url, err)
		}
		if swapped {
			return nil
		}
	}
	return fmt.Errorf("retry state for %s/%s kept changing after %d attempts", contentID, url, p.cfg.CASRetries)
}

// failed is e after one more failed delivery.
func failed(e model.RelayPublishQueueEntry, payload []byte, cause error, now time.Time, cfg Config) model.RelayPublishQueueEntry {
	e.Attempts++
	e.Payload = payload
	e.LastError = cause.Error()
	e.NextAttemptAt = now.Add(cfg.Backoff(e.Attempts))
	e.UpdatedAt = now
	return e
}

func (p *Publisher) enqueueReplies(ctx context.Context, log *slog.Logger, gameID string, ev nostr.Event) {
	if p.queue == nil {
		return
	}
	id, err := idgen.JobID()
	if err != nil {
		log.Warn("generating reply job id", "err", err)
		return
	}
	job := model.ReplyJob{ID: id, GameID: gameID, ReleaseNoteEventID: ev.ID, PublishedAt: ev.CreatedAt}
	if err := p.queue.Enqueue(ctx, job); err != nil {
		log.Warn("enqueueing reply job", "job", id, "err", err)
	}
}
