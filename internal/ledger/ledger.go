// Package ledger records Lightning zap receipts. Each receipt is applied at
// most once, keyed by its event id, and folds into per-target running totals.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alfredjeanlab/zapline/internal/events"
	"github.com/alfredjeanlab/zapline/internal/metrics"
	"github.com/alfredjeanlab/zapline/internal/model"
	"github.com/alfredjeanlab/zapline/internal/nostr"
	"github.com/alfredjeanlab/zapline/internal/store"
	"github.com/alfredjeanlab/zapline/internal/zaperr"
)

// RecordStatus tells a caller whether RecordEvent changed the ledger.
type RecordStatus string

const (
	StatusRecorded  RecordStatus = "RECORDED"
	StatusDuplicate RecordStatus = "DUPLICATE"
)

// Ledger applies zap receipts to a store.Store. It holds no ledger state of
// its own; the store passed to each call is the only source of truth.
type Ledger struct {
	metrics   *metrics.Metrics
	publisher events.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Ledger. A nil publisher or logger disables that output.
func New(m *metrics.Metrics, pub events.Publisher, logger *slog.Logger) *Ledger {
	if m == nil {
		m = metrics.New()
	}
	if pub == nil {
		pub = &events.NoopPublisher{}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Ledger{metrics: m, publisher: pub, logger: logger, now: time.Now}
}

// RecordEvent validates a kind-9735 receipt and applies it. A receipt seen
// before returns the stored row with StatusDuplicate and changes nothing.
func (l *Ledger) RecordEvent(ctx context.Context, st store.Store, ev nostr.Event) (*model.ZapLedgerEvent, RecordStatus, error) {
	rec, status, contributions, err := l.record(ctx, st, ev)
	if err != nil {
		kind := zaperr.KindOf(err)
		if kind == "" {
			kind = "STORE"
		}
		l.metrics.ZapEventsRejected.WithLabelValues(string(kind)).Inc()
		return nil, "", err
	}
	if status == StatusDuplicate {
		l.metrics.ZapEventsDuplicate.Inc()
		l.logger.Debug("zap receipt replayed", "event_id", ev.ID)
		return rec, status, nil
	}

	l.metrics.ZapEventsRecorded.Inc()
	for _, c := range contributions {
		l.metrics.ZapMsatsRecorded.WithLabelValues(c.TargetType.String()).Add(float64(c.AmountMsats))
	}
	if err := l.publisher.Publish(ctx, events.TopicZapRecorded, events.ZapRecorded{Event: rec, Contributions: contributions}); err != nil {
		l.logger.Warn("publishing zap.recorded", "event_id", rec.EventID, "err", err)
	}
	l.logger.Info("zap receipt recorded",
		"event_id", rec.EventID, "total_msats", rec.TotalMsats, "parts", rec.PartCount)
	return rec, StatusRecorded, nil
}

func (l *Ledger) record(ctx context.Context, st store.Store, ev nostr.Event) (*model.ZapLedgerEvent, RecordStatus, []model.ZapContribution, error) {
	const op = "ledger.RecordEvent"
	if ev.Kind != nostr.KindZapReceipt {
		return nil, "", nil, zaperr.Newf(zaperr.KindMalformedInput, op, "kind %d is not a zap receipt", ev.Kind)
	}
	if err := nostr.VerifySignedEvent(ev); err != nil {
		return nil, "", nil, err
	}

	var (
		rec           *model.ZapLedgerEvent
		status        RecordStatus
		contributions []model.ZapContribution
	)
	err := st.RunInTransaction(ctx, func(tx store.Store) error {
		existing, err := tx.GetZapLedgerEvent(ctx, ev.ID)
		if err == nil {
			rec, status = existing, StatusDuplicate
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("looking up zap event %s: %w", ev.ID, err)
		}

		parsed, err := ParseContributions(ev)
		if err != nil {
			return err
		}
		var total int64
		for _, c := range parsed {
			total += c.AmountMsats
		}
		eventAt := time.Unix(ev.CreatedAt, 0).UTC()
		candidate := &model.ZapLedgerEvent{
			EventID:        ev.ID,
			SenderPubkey:   ev.PubKey,
			TotalMsats:     total,
			PartCount:      len(parsed),
			EventCreatedAt: eventAt,
			RecordedAt:     l.now().UTC(),
		}
		inserted, err := tx.InsertZapLedgerEvent(ctx, candidate)
		if err != nil {
			return fmt.Errorf("inserting zap event %s: %w", ev.ID, err)
		}
		if !inserted {
			// A concurrent recorder won the unique constraint.
			existing, err := tx.GetZapLedgerEvent(ctx, ev.ID)
			if err != nil {
				return fmt.Errorf("re-reading zap event %s: %w", ev.ID, err)
			}
			rec, status = existing, StatusDuplicate
			return nil
		}
		for _, c := range parsed {
			if _, err := tx.ApplyZapContribution(ctx, c, ev.ID, eventAt); err != nil {
				return fmt.Errorf("applying contribution to %s/%s: %w", c.TargetType, c.TargetID, err)
			}
		}
		rec, status, contributions = candidate, StatusRecorded, parsed
		return nil
	})
	if err != nil {
		return nil, "", nil, err
	}
	return rec, status, contributions, nil
}

// Totals returns the per-source totals for one target, ordered by source.
func (l *Ledger) Totals(ctx context.Context, st store.Store, targetType model.TargetType, targetID string) ([]*model.ZapLedgerTotal, error) {
	if !targetType.IsValid() {
		return nil, zaperr.Newf(zaperr.KindMalformedInput, "ledger.Totals", "unknown target type %q", targetType)
	}
	if targetType == model.TargetPlatform && targetID == "" {
		targetID = model.PlatformTargetID
	}
	return st.ListZapLedgerTotals(ctx, model.TotalFilter{TargetType: targetType, TargetID: targetID})
}
