// Package memstore implements store.Store in memory. Transactions hold the
// store lock for their whole duration and roll back by restoring a snapshot,
// so it serves tests and single-process tooling.
package memstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/alfredjeanlab/zapline/internal/model"
	"github.com/alfredjeanlab/zapline/internal/store"
)

type queueKey struct{ contentID, relayURL string }

type replyKey struct{ gameID, eventID string }

type state struct {
	events      map[string]model.ZapLedgerEvent
	totals      map[model.TotalKey]model.ZapLedgerTotal
	queue       map[queueKey]model.RelayPublishQueueEntry
	checkpoints map[string]model.RelayCheckpoint
	replies     map[replyKey]model.IngestedReply
	games       map[string]model.Game
}

func newState() *state {
	return &state{
		events:      make(map[string]model.ZapLedgerEvent),
		totals:      make(map[model.TotalKey]model.ZapLedgerTotal),
		queue:       make(map[queueKey]model.RelayPublishQueueEntry),
		checkpoints: make(map[string]model.RelayCheckpoint),
		replies:     make(map[replyKey]model.IngestedReply),
		games:       make(map[string]model.Game),
	}
}

func (st *state) clone() *state {
	c := newState()
	for k, v := range st.events {
		c.events[k] = v
	}
	for k, v := range st.totals {
		c.totals[k] = v
	}
	for k, v := range st.queue {
		c.queue[k] = v
	}
	for k, v := range st.checkpoints {
		c.checkpoints[k] = v
	}
	for k, v := range st.replies {
		c.replies[k] = v
	}
	for k, v := range st.games {
		c.games[k] = v
	}
	return c
}

// MemStore is an in-memory store.Store.
type MemStore struct {
	mu  sync.Mutex
	st  *state
	now func() time.Time
}

// Compile-time check that MemStore implements store.Store.
var _ store.Store = (*MemStore)(nil)

// New returns an empty store.
func New() *MemStore {
	return &MemStore{st: newState(), now: time.Now}
}

// PutGame inserts or replaces a game row.
func (s *MemStore) PutGame(g model.Game) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.games[g.ID] = g
}

// locked runs fn against the live state under the store lock.
func (s *MemStore) locked(fn func(tx *txStore) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&txStore{st: s.st, now: s.now})
}

// RunInTransaction runs fn with the store locked and discards its writes if
// it returns an error.
func (s *MemStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.st.clone()
	if err := fn(&txStore{st: s.st, now: s.now}); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

// Close is a no-op.
func (s *MemStore) Close() error { return nil }

func (s *MemStore) GetZapLedgerEvent(ctx context.Context, eventID string) (out *model.ZapLedgerEvent, err error) {
	err = s.locked(func(tx *txStore) error {
		out, err = tx.GetZapLedgerEvent(ctx, eventID)
		return err
	})
	return out, err
}

func (s *MemStore) InsertZapLedgerEvent(ctx context.Context, ev *model.ZapLedgerEvent) (ok bool, err error) {
	err = s.locked(func(tx *txStore) error {
		ok, err = tx.InsertZapLedgerEvent(ctx, ev)
		return err
	})
	return ok, err
}

func (s *MemStore) ApplyZapContribution(ctx context.Context, c model.ZapContribution, eventID string, eventAt time.Time) (out *model.ZapLedgerTotal, err error) {
	err = s.locked(func(tx *txStore) error {
		out, err = tx.ApplyZapContribution(ctx, c, eventID, eventAt)
		return err
	})
	return out, err
}

func (s *MemStore) GetZapLedgerTotal(ctx context.Context, key model.TotalKey) (out *model.ZapLedgerTotal, err error) {
	err = s.locked(func(tx *txStore) error {
		out, err = tx.GetZapLedgerTotal(ctx, key)
		return err
	})
	return out, err
}

func (s *MemStore) ListZapLedgerTotals(ctx context.Context, filter model.TotalFilter) (out []*model.ZapLedgerTotal, err error) {
	err = s.locked(func(tx *txStore) error {
		out, err = tx.ListZapLedgerTotals(ctx, filter)
		return err
	})
	return out, err
}

func (s *MemStore) ListZapLedgerEvents(ctx context.Context, since time.Time, limit int) (out []*model.ZapLedgerEvent, err error) {
	err = s.locked(func(tx *txStore) error {
		out, err = tx.ListZapLedgerEvents(ctx, since, limit)
		return err
	})
	return out, err
}

func (s *MemStore) GetRelayQueueEntry(ctx context.Context, contentID, relayURL string) (out *model.RelayPublishQueueEntry, err error) {
	err = s.locked(func(tx *txStore) error {
		out, err = tx.GetRelayQueueEntry(ctx, contentID, relayURL)
		return err
	})
	return out, err
}

func (s *MemStore) CreateRelayQueueEntry(ctx context.Context, e *model.RelayPublishQueueEntry) (ok bool, err error) {
	err = s.locked(func(tx *txStore) error {
		ok, err = tx.CreateRelayQueueEntry(ctx, e)
		return err
	})
	return ok, err
}

func (s *MemStore) UpdateRelayQueueEntry(ctx context.Context, e *model.RelayPublishQueueEntry, expectedAttempts int) (ok bool, err error) {
	err = s.locked(func(tx *txStore) error {
		ok, err = tx.UpdateRelayQueueEntry(ctx, e, expectedAttempts)
		return err
	})
	return ok, err
}

func (s *MemStore) DeleteRelayQueueEntry(ctx context.Context, contentID, relayURL string) error {
	return s.locked(func(tx *txStore) error {
		return tx.DeleteRelayQueueEntry(ctx, contentID, relayURL)
	})
}

func (s *MemStore) ListDueRelayQueueEntries(ctx context.Context, now time.Time, limit int) (out []*model.RelayPublishQueueEntry, err error) {
	err = s.locked(func(tx *txStore) error {
		out, err = tx.ListDueRelayQueueEntries(ctx, now, limit)
		return err
	})
	return out, err
}

func (s *MemStore) GetRelayCheckpoint(ctx context.Context, relayURL string) (out *model.RelayCheckpoint, err error) {
	err = s.locked(func(tx *txStore) error {
		out, err = tx.GetRelayCheckpoint(ctx, relayURL)
		return err
	})
	return out, err
}

func (s *MemStore) AdvanceRelayCheckpoint(ctx context.Context, cp *model.RelayCheckpoint) (ok bool, err error) {
	err = s.locked(func(tx *txStore) error {
		ok, err = tx.AdvanceRelayCheckpoint(ctx, cp)
		return err
	})
	return ok, err
}

func (s *MemStore) InsertReply(ctx context.Context, r *model.IngestedReply) (ok bool, err error) {
	err = s.locked(func(tx *txStore) error {
		ok, err = tx.InsertReply(ctx, r)
		return err
	})
	return ok, err
}

func (s *MemStore) ListReplies(ctx context.Context, gameID string) (out []*model.IngestedReply, err error) {
	err = s.locked(func(tx *txStore) error {
		out, err = tx.ListReplies(ctx, gameID)
		return err
	})
	return out, err
}

func (s *MemStore) GetGame(ctx context.Context, id string) (out *model.Game, err error) {
	err = s.locked(func(tx *txStore) error {
		out, err = tx.GetGame(ctx, id)
		return err
	})
	return out, err
}

func (s *MemStore) StampReleaseNote(ctx context.Context, gameID, eventID string, publishedAt time.Time) error {
	return s.locked(func(tx *txStore) error {
		return tx.StampReleaseNote(ctx, gameID, eventID, publishedAt)
	})
}

// txStore operates on state with the lock already held.
type txStore struct {
	st  *state
	now func() time.Time
}

var _ store.Store = (*txStore)(nil)

func (tx *txStore) GetZapLedgerEvent(_ context.Context, eventID string) (*model.ZapLedgerEvent, error) {
	ev, ok := tx.st.events[eventID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &ev, nil
}

func (tx *txStore) InsertZapLedgerEvent(_ context.Context, ev *model.ZapLedgerEvent) (bool, error) {
	if _, ok := tx.st.events[ev.EventID]; ok {
		return false, nil
	}
	tx.st.events[ev.EventID] = *ev
	return true, nil
}

func (tx *txStore) ApplyZapContribution(_ context.Context, c model.ZapContribution, eventID string, eventAt time.Time) (*model.ZapLedgerTotal, error) {
	key := c.TotalKey()
	t, ok := tx.st.totals[key]
	if !ok {
		t = model.ZapLedgerTotal{TotalKey: key, LastEventAt: eventAt, LastEventID: eventID}
	}
	t.TotalMsats += c.AmountMsats
	t.ZapCount++
	if eventAt.After(t.LastEventAt) || (eventAt.Equal(t.LastEventAt) && eventID > t.LastEventID) {
		t.LastEventAt = eventAt
		t.LastEventID = eventID
	}
	t.UpdatedAt = tx.now()
	tx.st.totals[key] = t
	return &t, nil
}

func (tx *txStore) GetZapLedgerTotal(_ context.Context, key model.TotalKey) (*model.ZapLedgerTotal, error) {
	t, ok := tx.st.totals[key]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &t, nil
}

func (tx *txStore) ListZapLedgerTotals(_ context.Context, filter model.TotalFilter) ([]*model.ZapLedgerTotal, error) {
	var out []*model.ZapLedgerTotal
	for _, t := range tx.st.totals {
		if filter.TargetType != "" && t.TargetType != filter.TargetType {
			continue
		}
		if filter.TargetID != "" && t.TargetID != filter.TargetID {
			continue
		}
		if filter.Source != "" && t.Source != filter.Source {
			continue
		}
		t := t
		out = append(out, &t)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.TargetType != b.TargetType {
			return a.TargetType < b.TargetType
		}
		if a.TargetID != b.TargetID {
			return a.TargetID < b.TargetID
		}
		return a.Source < b.Source
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (tx *txStore) ListZapLedgerEvents(_ context.Context, since time.Time, limit int) ([]*model.ZapLedgerEvent, error) {
	var out []*model.ZapLedgerEvent
	for _, ev := range tx.st.events {
		if ev.RecordedAt.Before(since) {
			continue
		}
		ev := ev
		out = append(out, &ev)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RecordedAt.Equal(out[j].RecordedAt) {
			return out[i].RecordedAt.Before(out[j].RecordedAt)
		}
		return out[i].EventID < out[j].EventID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (tx *txStore) GetRelayQueueEntry(_ context.Context, contentID, relayURL string) (*model.RelayPublishQueueEntry, error) {
	e, ok := tx.st.queue[queueKey{contentID, relayURL}]
	if !ok {
		return nil, sql.ErrNoRows
	}
	e.Payload = cloneRaw(e.Payload)
	return &e, nil
}

func (tx *txStore) CreateRelayQueueEntry(_ context.Context, e *model.RelayPublishQueueEntry) (bool, error) {
	k := queueKey{e.ContentID, e.RelayURL}
	if _, ok := tx.st.queue[k]; ok {
		return false, nil
	}
	c := *e
	c.Payload = cloneRaw(e.Payload)
	tx.st.queue[k] = c
	return true, nil
}

func (tx *txStore) UpdateRelayQueueEntry(_ context.Context, e *model.RelayPublishQueueEntry, expectedAttempts int) (bool, error) {
	k := queueKey{e.ContentID, e.RelayURL}
	cur, ok := tx.st.queue[k]
	if !ok || cur.Attempts != expectedAttempts {
		return false, nil
	}
	c := *e
	c.Payload = cloneRaw(e.Payload)
	tx.st.queue[k] = c
	return true, nil
}

func (tx *txStore) DeleteRelayQueueEntry(_ context.Context, contentID, relayURL string) error {
	delete(tx.st.queue, queueKey{contentID, relayURL})
	return nil
}

func (tx *txStore) ListDueRelayQueueEntries(_ context.Context, now time.Time, limit int) ([]*model.RelayPublishQueueEntry, error) {
	var out []*model.RelayPublishQueueEntry
	for _, e := range tx.st.queue {
		if e.NextAttemptAt.After(now) {
			continue
		}
		e := e
		e.Payload = cloneRaw(e.Payload)
		out = append(out, &e)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.NextAttemptAt.Equal(b.NextAttemptAt) {
			return a.NextAttemptAt.Before(b.NextAttemptAt)
		}
		if a.ContentID != b.ContentID {
			return a.ContentID < b.ContentID
		}
		return a.RelayURL < b.RelayURL
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (tx *txStore) GetRelayCheckpoint(_ context.Context, relayURL string) (*model.RelayCheckpoint, error) {
	cp, ok := tx.st.checkpoints[relayURL]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &cp, nil
}

func (tx *txStore) AdvanceRelayCheckpoint(_ context.Context, cp *model.RelayCheckpoint) (bool, error) {
	cur, ok := tx.st.checkpoints[cp.RelayURL]
	if ok && !cur.After(cp.LastEventCreatedAt, cp.LastEventID) {
		return false, nil
	}
	tx.st.checkpoints[cp.RelayURL] = *cp
	return true, nil
}

func (tx *txStore) InsertReply(_ context.Context, r *model.IngestedReply) (bool, error) {
	k := replyKey{r.GameID, r.EventID}
	if _, ok := tx.st.replies[k]; ok {
		return false, nil
	}
	c := *r
	c.Tags = cloneRaw(r.Tags)
	tx.st.replies[k] = c
	return true, nil
}

func (tx *txStore) ListReplies(_ context.Context, gameID string) ([]*model.IngestedReply, error) {
	var out []*model.IngestedReply
	for k, r := range tx.st.replies {
		if k.gameID != gameID {
			continue
		}
		r := r
		out = append(out, &r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EventCreatedAt != out[j].EventCreatedAt {
			return out[i].EventCreatedAt < out[j].EventCreatedAt
		}
		return out[i].EventID < out[j].EventID
	})
	return out, nil
}

func (tx *txStore) GetGame(_ context.Context, id string) (*model.Game, error) {
	g, ok := tx.st.games[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &g, nil
}

func (tx *txStore) StampReleaseNote(_ context.Context, gameID, eventID string, publishedAt time.Time) error {
	g, ok := tx.st.games[gameID]
	if !ok {
		return sql.ErrNoRows
	}
	g.ReleaseNoteEventID = eventID
	g.ReleaseNotePublishedAt = &publishedAt
	tx.st.games[gameID] = g
	return nil
}

// RunInTransaction on a txStore reuses the open transaction.
func (tx *txStore) RunInTransaction(_ context.Context, fn func(store.Store) error) error {
	return fn(tx)
}

func (tx *txStore) Close() error { return nil }

func cloneRaw(m json.RawMessage) json.RawMessage {
	if m == nil {
		return nil
	}
	return append(json.RawMessage(nil), m...)
}
