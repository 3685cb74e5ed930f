package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/alfredjeanlab/zapline/internal/model"
	"github.com/alfredjeanlab/zapline/internal/store"
)

// newMockDB creates a sqlmock database with automatic cleanup and expectation checking.
func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
		db.Close()
	})
	return db, mock
}

var ledgerTotalRowColumns = []string{
	"target_type", "target_id", "source", "total_msats", "zap_count",
	"last_event_at", "last_event_id", "updated_at",
}

var queueRowColumns = []string{
	"content_id", "relay_url", "payload", "attempts", "last_error", "next_attempt_at", "updated_at",
}

func TestScanHelpers(t *testing.T) {
	if nullString("").Valid {
		t.Error("nullString(\"\") should be invalid")
	}
	if ns := nullString("hello"); !ns.Valid || ns.String != "hello" {
		t.Errorf("nullString(\"hello\") = %v", ns)
	}

	if jsonbBytes(nil) != nil {
		t.Error("jsonbBytes(nil) should be nil")
	}
	if jsonbBytes(json.RawMessage{}) != nil {
		t.Error("jsonbBytes({}) should be nil")
	}
	if got := string(jsonbBytes(json.RawMessage(`[["e","x"]]`))); got != `[["e","x"]]` {
		t.Errorf("jsonbBytes = %s", got)
	}
}

func TestQueryInsertZapLedgerEvent(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	ev := &model.ZapLedgerEvent{
		EventID: "ev1", SenderPubkey: "pk", TotalMsats: 5000, PartCount: 2,
		EventCreatedAt: now, RecordedAt: now,
	}
	mock.ExpectExec("INSERT INTO zap_ledger_events .+ ON CONFLICT \\(event_id\\) DO NOTHING").
		WithArgs("ev1", "pk", 5000, 2, now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	inserted, err := queryInsertZapLedgerEvent(context.Background(), db, ev)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !inserted {
		t.Fatal("expected inserted = true")
	}
}

func TestQueryInsertZapLedgerEvent_Conflict(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec("INSERT INTO zap_ledger_events").
		WillReturnResult(sqlmock.NewResult(0, 0))

	inserted, err := queryInsertZapLedgerEvent(context.Background(), db, &model.ZapLedgerEvent{EventID: "ev1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inserted {
		t.Fatal("a conflicting insert must report inserted = false")
	}
}

func TestQueryGetZapLedgerEvent_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT .+ FROM zap_ledger_events WHERE event_id = \\$1").
		WithArgs("missing").WillReturnError(sql.ErrNoRows)

	if _, err := queryGetZapLedgerEvent(context.Background(), db, "missing"); err != sql.ErrNoRows {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestQueryApplyZapContribution(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	c := model.ZapContribution{TargetType: model.TargetGame, TargetID: "g1", AmountMsats: 1500, Source: model.SourceDirect}

	mock.ExpectQuery("INSERT INTO zap_ledger_totals .+ ON CONFLICT \\(target_type, target_id, source\\) DO UPDATE SET .+ RETURNING").
		WithArgs("GAME", "g1", "DIRECT", 1500, now, "ev1").
		WillReturnRows(sqlmock.NewRows(ledgerTotalRowColumns).
			AddRow("GAME", "g1", "DIRECT", 4500, 3, now, "ev1", now))

	total, err := queryApplyZapContribution(context.Background(), db, c, "ev1", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total.TargetType != model.TargetGame || total.Source != model.SourceDirect {
		t.Fatalf("key = %+v", total.TotalKey)
	}
	if total.TotalMsats != 4500 || total.ZapCount != 3 {
		t.Fatalf("total = %d/%d, want 4500/3", total.TotalMsats, total.ZapCount)
	}
}

func TestQueryListZapLedgerTotals(t *testing.T) {
	for _, tc := range []struct {
		name    string
		filter  model.TotalFilter
		pattern string
		args    int
	}{
		{"all", model.TotalFilter{}, "SELECT .+ FROM zap_ledger_totals ORDER BY target_type, target_id, source$", 0},
		{"by type", model.TotalFilter{TargetType: model.TargetPlatform}, "WHERE target_type = \\$1 ORDER BY", 1},
		{"by target and limit", model.TotalFilter{TargetType: model.TargetGame, TargetID: "g1", Limit: 5}, "WHERE target_type = \\$1 AND target_id = \\$2 ORDER BY .+ LIMIT \\$3", 3},
		{"by source", model.TotalFilter{Source: model.SourceForwarded}, "WHERE source = \\$1", 1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			now := time.Now().UTC()
			args := make([]driver.Value, tc.args)
			for i := range args {
				args[i] = sqlmock.AnyArg()
			}
			q := mock.ExpectQuery(tc.pattern)
			if tc.args > 0 {
				q = q.WithArgs(args...)
			}
			q.WillReturnRows(sqlmock.NewRows(ledgerTotalRowColumns).
				AddRow("GAME", "g1", "DIRECT", 100, 1, now, "ev1", now).
				AddRow("PLATFORM", "platform", "FORWARDED", 200, 2, now, "ev2", now))

			totals, err := queryListZapLedgerTotals(context.Background(), db, tc.filter)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(totals) != 2 {
				t.Fatalf("got %d totals, want 2", len(totals))
			}
		})
	}
}

func TestQueryCreateRelayQueueEntry(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	e := &model.RelayPublishQueueEntry{
		ContentID: "game-1", RelayURL: "https://relay.example", Payload: json.RawMessage(`{"id":"x"}`),
		Attempts: 1, LastError: "503", NextAttemptAt: now.Add(time.Minute), UpdatedAt: now,
	}
	mock.ExpectExec("INSERT INTO relay_publish_queue .+ ON CONFLICT \\(content_id, relay_url\\) DO NOTHING").
		WithArgs("game-1", "https://relay.example", `{"id":"x"}`, 1, "503", now.Add(time.Minute), now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	created, err := queryCreateRelayQueueEntry(context.Background(), db, e)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created {
		t.Fatal("expected created = true")
	}
}

func TestQueryUpdateRelayQueueEntry_CAS(t *testing.T) {
	for _, tc := range []struct {
		name     string
		affected int64
		want     bool
	}{
		{"swapped", 1, true},
		{"lost race", 0, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			now := time.Now().UTC()
			e := &model.RelayPublishQueueEntry{
				ContentID: "game-1", RelayURL: "https://relay.example", Payload: json.RawMessage(`{}`),
				Attempts: 3, NextAttemptAt: now, UpdatedAt: now,
			}
			mock.ExpectExec("UPDATE relay_publish_queue SET .+ WHERE content_id = \\$1 AND relay_url = \\$2 AND attempts = \\$8").
				WithArgs("game-1", "https://relay.example", `{}`, 3, nil, now, now, 2).
				WillReturnResult(sqlmock.NewResult(0, tc.affected))

			ok, err := queryUpdateRelayQueueEntry(context.Background(), db, e, 2)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ok != tc.want {
				t.Fatalf("swapped = %v, want %v", ok, tc.want)
			}
		})
	}
}

func TestQueryGetRelayQueueEntry(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	mock.ExpectQuery("SELECT .+ FROM relay_publish_queue WHERE content_id = \\$1 AND relay_url = \\$2").
		WithArgs("game-1", "https://relay.example").
		WillReturnRows(sqlmock.NewRows(queueRowColumns).
			AddRow("game-1", "https://relay.example", []byte(`{"id":"x"}`), 2, nil, now, now))

	e, err := queryGetRelayQueueEntry(context.Background(), db, "game-1", "https://relay.example")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Attempts != 2 || e.LastError != "" || string(e.Payload) != `{"id":"x"}` {
		t.Fatalf("entry = %+v", e)
	}
}

func TestQueryListDueRelayQueueEntries(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	mock.ExpectQuery("SELECT .+ FROM relay_publish_queue WHERE next_attempt_at <= \\$1 ORDER BY .+ LIMIT \\$2").
		WithArgs(now, 10).
		WillReturnRows(sqlmock.NewRows(queueRowColumns).
			AddRow("game-1", "https://a.example", []byte(`{}`), 1, "timeout", now, now))

	entries, err := queryListDueRelayQueueEntries(context.Background(), db, now, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 || entries[0].LastError != "timeout" {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestQueryDeleteRelayQueueEntry(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec("DELETE FROM relay_publish_queue WHERE content_id = \\$1 AND relay_url = \\$2").
		WithArgs("game-1", "https://relay.example").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := queryDeleteRelayQueueEntry(context.Background(), db, "game-1", "https://relay.example"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestQueryAdvanceRelayCheckpoint(t *testing.T) {
	for _, tc := range []struct {
		name     string
		affected int64
		want     bool
	}{
		{"advanced", 1, true},
		{"older mark ignored", 0, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			now := time.Now().UTC()
			cp := &model.RelayCheckpoint{RelayURL: "https://a.example", LastEventCreatedAt: 1700000000, LastEventID: "ab", UpdatedAt: now}
			mock.ExpectExec("INSERT INTO relay_checkpoints .+ ON CONFLICT \\(relay_url\\) DO UPDATE SET .+ WHERE \\(EXCLUDED.last_event_created_at, EXCLUDED.last_event_id\\) > \\(relay_checkpoints.last_event_created_at, relay_checkpoints.last_event_id\\)").
				WithArgs("https://a.example", 1700000000, "ab", now).
				WillReturnResult(sqlmock.NewResult(0, tc.affected))

			ok, err := queryAdvanceRelayCheckpoint(context.Background(), db, cp)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ok != tc.want {
				t.Fatalf("advanced = %v, want %v", ok, tc.want)
			}
		})
	}
}

func TestQueryGetRelayCheckpoint_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT .+ FROM relay_checkpoints WHERE relay_url = \\$1").
		WithArgs("https://a.example").WillReturnError(sql.ErrNoRows)

	if _, err := queryGetRelayCheckpoint(context.Background(), db, "https://a.example"); err != sql.ErrNoRows {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestQueryInsertReply(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	r := &model.IngestedReply{
		GameID: "g1", EventID: "ev1", PubKey: "pk", Kind: 1, Content: "gg",
		Tags: json.RawMessage(`[["e","note"]]`), EventCreatedAt: 1700000100,
		RelayURL: "https://a.example", IngestedAt: now,
	}
	mock.ExpectExec("INSERT INTO release_note_replies .+ ON CONFLICT \\(game_id, event_id\\) DO NOTHING").
		WithArgs("g1", "ev1", "pk", 1, "gg", []byte(`[["e","note"]]`), 1700000100, "https://a.example", false, now).
		WillReturnResult(sqlmock.NewResult(0, 0))

	inserted, err := queryInsertReply(context.Background(), db, r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inserted {
		t.Fatal("duplicate reply must report inserted = false")
	}
}

func TestQueryGetGame(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	mock.ExpectQuery("SELECT .+ FROM games WHERE id = \\$1").WithArgs("g1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "slug", "title", "summary", "image_url", "release_notes", "lightning_address",
			"release_note_event_id", "release_note_published_at",
		}).AddRow("g1", "space-miner", "Space Miner", nil, nil, "v1.2 notes", "dev@getalby.com", "ev1", now))

	g, err := queryGetGame(context.Background(), db, "g1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.Slug != "space-miner" || g.Summary != "" || g.LightningAddress != "dev@getalby.com" {
		t.Fatalf("game = %+v", g)
	}
	if g.ReleaseNotePublishedAt == nil || !g.ReleaseNotePublishedAt.Equal(now) {
		t.Fatalf("published_at = %v", g.ReleaseNotePublishedAt)
	}
}

func TestQueryStampReleaseNote_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	mock.ExpectExec("UPDATE games SET release_note_event_id = \\$2, release_note_published_at = \\$3 WHERE id = \\$1").
		WithArgs("missing", "ev1", now).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := queryStampReleaseNote(context.Background(), db, "missing", "ev1", now); err != sql.ErrNoRows {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestRunInTransaction_Commit(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewWithDB(db)
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM relay_publish_queue").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.RunInTransaction(context.Background(), func(tx store.Store) error {
		return tx.DeleteRelayQueueEntry(context.Background(), "game-1", "https://a.example")
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRunInTransaction_Rollback(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewWithDB(db)
	boom := errors.New("boom")
	mock.ExpectBegin()
	mock.ExpectRollback()

	err := s.RunInTransaction(context.Background(), func(tx store.Store) error {
		// Nested calls reuse the open transaction.
		return tx.RunInTransaction(context.Background(), func(store.Store) error { return boom })
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}
