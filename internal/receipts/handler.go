// Package receipts consumes raw zap receipts published on the event bus by
// the payment webhook and records them in the ledger.
package receipts

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alfredjeanlab/zapline/internal/events"
	"github.com/alfredjeanlab/zapline/internal/ledger"
	"github.com/alfredjeanlab/zapline/internal/metrics"
	"github.com/alfredjeanlab/zapline/internal/model"
	"github.com/alfredjeanlab/zapline/internal/nostr"
	"github.com/alfredjeanlab/zapline/internal/store"
	"github.com/alfredjeanlab/zapline/internal/zaperr"
)

// Result is what happened to one receipt message.
type Result struct {
	EventID string
	Status  ledger.RecordStatus
	Event   *model.ZapLedgerEvent
	Err     error
}

// Handler records receipts from the bus.
type Handler struct {
	ledger  *ledger.Ledger
	store   store.Store
	events  events.Publisher
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewHandler creates a receipt handler. pub receives zap.rejected events and
// may be nil.
func NewHandler(l *ledger.Ledger, st store.Store, pub events.Publisher, m *metrics.Metrics, logger *slog.Logger) *Handler {
	if pub == nil {
		pub = &events.NoopPublisher{}
	}
	if m == nil {
		m = metrics.New()
	}
	return &Handler{ledger: l, store: st, events: pub, metrics: m, logger: logger}
}

// HandleReceipt parses and records one raw kind-9735 event. Rejections are
// logged, counted and announced; they never stop the caller. Store failures
// come back as a Retryable result.
func (h *Handler) HandleReceipt(ctx context.Context, raw []byte) Result {
	h.metrics.ReceiptMessagesSeen.Inc()

	ev, err := nostr.ParseEvent(raw)
	if err != nil {
		h.metrics.ZapEventsRejected.WithLabelValues(string(zaperr.KindOf(err))).Inc()
		h.reject("", err)
		return Result{Err: err}
	}
	rec, status, err := h.ledger.RecordEvent(ctx, h.store, ev)
	if err != nil {
		h.reject(ev.ID, err)
		return Result{EventID: ev.ID, Err: err}
	}
	return Result{EventID: ev.ID, Status: status, Event: rec}
}

func (h *Handler) reject(eventID string, err error) {
	kind := zaperr.KindOf(err)
	switch {
	case kind.IsCryptographic():
		h.logger.Error("receipts: cryptographic failure", "event_id", eventID, "kind", kind, "err", err)
	case kind == "":
		// Not a rejection: the receipt is redelivered.
		h.logger.Error("receipts: recording failed, will retry", "event_id", eventID, "err", err)
		return
	default:
		h.logger.Warn("receipts: rejected", "event_id", eventID, "kind", kind, "err", err)
	}
	// Publishing uses a fresh context: a rejection should be announced even
	// while the subscriber is shutting down.
	if perr := h.events.Publish(context.Background(), events.TopicZapRejected, events.ZapRejected{
		EventID: eventID,
		Kind:    string(kind),
		Reason:  err.Error(),
	}); perr != nil {
		h.logger.Warn("receipts: publishing zap.rejected", "err", perr)
	}
}

// Retryable reports whether the receipt failed for a reason other than its
// content, such as a store error, and should be delivered again. Input and
// cryptographic rejections would fail the same way on every delivery.
func (r Result) Retryable() bool {
	return r.Err != nil && zaperr.KindOf(r.Err) == ""
}

// Handle records one receipt and returns an error only when the receipt
// should be redelivered.
func (h *Handler) Handle(ctx context.Context, raw []byte) error {
	res := h.HandleReceipt(ctx, raw)
	if res.Retryable() {
		return res.Err
	}
	if res.Err == nil && res.Status == ledger.StatusRecorded {
		h.logger.Debug("receipts: recorded", "event_id", res.EventID)
	}
	return nil
}

// Consumer delivers messages until ctx is cancelled and redelivers the ones
// whose handler returned an error.
type Consumer interface {
	Consume(ctx context.Context, handle func(ctx context.Context, data []byte) error) error
}

// StartSubscriber records receipts from c until ctx is cancelled.
func (h *Handler) StartSubscriber(ctx context.Context, c Consumer) error {
	h.logger.Info("receipts: subscriber started", "topic", events.TopicReceiptsIncoming)
	if err := c.Consume(ctx, h.Handle); err != nil {
		return fmt.Errorf("receipts: consume: %w", err)
	}
	h.logger.Info("receipts: subscriber stopping")
	return nil
}
