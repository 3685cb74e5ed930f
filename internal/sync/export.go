package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/alfredjeanlab/zapline/internal/model"
	"github.com/alfredjeanlab/zapline/internal/store"
)

// header is the first JSONL record written by ExportJSONL.
type header struct {
	Version    string    `json:"version"`
	Type       string    `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	TotalCount int       `json:"total_count"`
	EventCount int       `json:"event_count"`
}

// record wraps a single JSONL line with a type discriminator.
type record struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ExportJSONL writes every ledger total and then every recorded zap event
// from the store as JSONL to w. Both are read in one transaction so the
// totals and events agree.
func ExportJSONL(ctx context.Context, s store.Store, w io.Writer, at time.Time) error {
	var (
		totals []*model.ZapLedgerTotal
		evs    []*model.ZapLedgerEvent
	)
	err := s.RunInTransaction(ctx, func(tx store.Store) error {
		var err error
		if totals, err = tx.ListZapLedgerTotals(ctx, model.TotalFilter{}); err != nil {
			return fmt.Errorf("list totals: %w", err)
		}
		if evs, err = tx.ListZapLedgerEvents(ctx, time.Time{}, 0); err != nil {
			return fmt.Errorf("list events: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(header{
		Version:    "1",
		Type:       "header",
		Timestamp:  at.UTC(),
		TotalCount: len(totals),
		EventCount: len(evs),
	}); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	for _, t := range totals {
		if err := enc.Encode(record{Type: "total", Data: t}); err != nil {
			return fmt.Errorf("encode total %s/%s: %w", t.TargetType, t.TargetID, err)
		}
	}
	for _, ev := range evs {
		if err := enc.Encode(record{Type: "event", Data: ev}); err != nil {
			return fmt.Errorf("encode event %s: %w", ev.EventID, err)
		}
	}
	return nil
}
