package publisher

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alfredjeanlab/zapline/internal/events"
	"github.com/alfredjeanlab/zapline/internal/metrics"
	"github.com/alfredjeanlab/zapline/internal/model"
	"github.com/alfredjeanlab/zapline/internal/nostr"
	"github.com/alfredjeanlab/zapline/internal/store"
)

// RetryReport counts what one RetryDue pass did.
type RetryReport struct {
	Due       int `json:"due"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
	// Stale entries changed under us and were left for the next pass.
	Stale int `json:"stale"`
}

// RetryDue redelivers the stored payload of every queue entry whose
// next_attempt_at has passed. Entries are retried concurrently, one
// goroutine per entry.
func (p *Publisher) RetryDue(ctx context.Context) (RetryReport, error) {
	now := p.now()
	due, err := p.store.ListDueRelayQueueEntries(ctx, now, p.cfg.RetryBatch)
	if err != nil {
		return RetryReport{}, fmt.Errorf("listing due relay entries: %w", err)
	}
	report := RetryReport{Due: len(due)}
	if len(due) == 0 {
		return report, nil
	}

	errs := make([]error, len(due))
	parsed := make([]nostr.Event, len(due))
	var wg sync.WaitGroup
	for i, e := range due {
		ev, err := nostr.ParseEvent(e.Payload)
		if err != nil {
			// A payload we wrote ourselves no longer parses; count it as a
			// failure so the row backs off instead of spinning.
			errs[i] = err
			continue
		}
		parsed[i] = ev
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = p.client.Publish(ctx, e.RelayURL, ev)
		}()
	}
	wg.Wait()

	for i, e := range due {
		ok, err := p.settle(ctx, e, errs[i], now)
		if err != nil {
			return report, err
		}
		result := metrics.ResultSuccess
		switch {
		case !ok:
			report.Stale++
			continue
		case errs[i] == nil:
			report.Delivered++
			p.enqueueReplies(ctx, p.logger, e.ContentID, parsed[i])
		default:
			report.Failed++
			result = metrics.ResultFailure
			p.logger.Warn("relay retry failed", "relay", e.RelayURL, "content", e.ContentID, "attempts", e.Attempts+1, "err", errs[i])
		}
		p.metrics.RelayPublishTotal.WithLabelValues(e.RelayURL, result).Inc()
		if err := p.events.Publish(ctx, events.TopicRelayRetried, events.RelayRetried{
			ContentID: e.ContentID,
			RelayURL:  e.RelayURL,
			Attempts:  e.Attempts,
			Succeeded: errs[i] == nil,
		}); err != nil {
			p.logger.Warn("publishing relay.retried", "err", err)
		}
	}
	return report, nil
}

// settle writes the result of one retry. It reports false when the row no
// longer matches what was listed.
func (p *Publisher) settle(ctx context.Context, e *model.RelayPublishQueueEntry, cause error, now time.Time) (bool, error) {
	var ok bool
	err := p.store.RunInTransaction(ctx, func(tx store.Store) error {
		if cause == nil {
			cur, err := tx.GetRelayQueueEntry(ctx, e.ContentID, e.RelayURL)
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return nil
				}
				return err
			}
			// A newer publish replaced the payload; keep its row.
			if cur.Attempts != e.Attempts || string(cur.Payload) != string(e.Payload) {
				return nil
			}
			ok = true
			return tx.DeleteRelayQueueEntry(ctx, e.ContentID, e.RelayURL)
		}
		cur, err := tx.GetRelayQueueEntry(ctx, e.ContentID, e.RelayURL)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return err
		}
		if cur.Attempts != e.Attempts {
			return nil
		}
		// Keep a payload a newer publish wrote since the row was listed.
		next := failed(*cur, cur.Payload, cause, now, p.cfg)
		swapped, err := tx.UpdateRelayQueueEntry(ctx, &next, e.Attempts)
		ok = swapped
		return err
	})
	if err != nil {
		return false, fmt.Errorf("settling retry for %s/%s: %w", e.ContentID, e.RelayURL, err)
	}
	return ok, nil
}

// RunRetries calls RetryDue every interval until ctx is cancelled.
func (p *Publisher) RunRetries(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := p.RetryDue(ctx)
			if err != nil {
				p.logger.Error("relay retry pass", "err", err)
				continue
			}
			if report.Due > 0 {
				p.logger.Info("relay retry pass", "due", report.Due, "delivered", report.Delivered, "failed", report.Failed, "stale", report.Stale)
			}
		}
	}
}
