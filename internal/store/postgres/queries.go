package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/alfredjeanlab/zapline/internal/model"
)

const ledgerEventColumns = `event_id, sender_pubkey, total_msats, part_count, event_created_at, recorded_at`

const ledgerTotalColumns = `target_type, target_id, source, total_msats, zap_count,
	last_event_at, last_event_id, updated_at`

const gameColumns = `id, slug, title, summary, image_url, release_notes, lightning_address,
	release_note_event_id, release_note_published_at`

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func queryGetZapLedgerEvent(ctx context.Context, db executor, eventID string) (*model.ZapLedgerEvent, error) {
	row := db.QueryRowContext(ctx, `SELECT `+ledgerEventColumns+` FROM zap_ledger_events WHERE event_id = $1`, eventID)
	return scanLedgerEvent(row)
}

// queryInsertZapLedgerEvent relies on the event_id primary key to serialise
// concurrent recorders; the loser sees zero rows affected.
func queryInsertZapLedgerEvent(ctx context.Context, db executor, ev *model.ZapLedgerEvent) (bool, error) {
	res, err := db.ExecContext(ctx, `
		INSERT INTO zap_ledger_events (`+ledgerEventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (event_id) DO NOTHING`,
		ev.EventID,
		ev.SenderPubkey,
		ev.TotalMsats,
		ev.PartCount,
		ev.EventCreatedAt,
		ev.RecordedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert zap ledger event: %w", err)
	}
	return affectedOne(res)
}

// queryApplyZapContribution folds one contribution into its total in a single
// statement. The last_event fields only move forward in (at, id) order so
// out-of-order delivery cannot rewind them.
func queryApplyZapContribution(ctx context.Context, db executor, c model.ZapContribution, eventID string, eventAt time.Time) (*model.ZapLedgerTotal, error) {
	row := db.QueryRowContext(ctx, `
		INSERT INTO zap_ledger_totals (`+ledgerTotalColumns+`)
		VALUES ($1, $2, $3, $4, 1, $5, $6, NOW())
		ON CONFLICT (target_type, target_id, source) DO UPDATE SET
			total_msats = zap_ledger_totals.total_msats + EXCLUDED.total_msats,
			zap_count = zap_ledger_totals.zap_count + 1,
			last_event_at = CASE
				WHEN (EXCLUDED.last_event_at, EXCLUDED.last_event_id) > (zap_ledger_totals.last_event_at, zap_ledger_totals.last_event_id)
				THEN EXCLUDED.last_event_at ELSE zap_ledger_totals.last_event_at END,
			last_event_id = CASE
				WHEN (EXCLUDED.last_event_at, EXCLUDED.last_event_id) > (zap_ledger_totals.last_event_at, zap_ledger_totals.last_event_id)
				THEN EXCLUDED.last_event_id ELSE zap_ledger_totals.last_event_id END,
			updated_at = NOW()
		RETURNING `+ledgerTotalColumns,
		string(c.TargetType),
		c.TargetID,
		string(c.Source),
		c.AmountMsats,
		eventAt,
		eventID,
	)
	t, err := scanLedgerTotal(row)
	if err != nil {
		return nil, fmt.Errorf("apply zap contribution: %w", err)
	}
	return t, nil
}

func queryGetZapLedgerTotal(ctx context.Context, db executor, key model.TotalKey) (*model.ZapLedgerTotal, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+ledgerTotalColumns+` FROM zap_ledger_totals
		WHERE target_type = $1 AND target_id = $2 AND source = $3`,
		string(key.TargetType), key.TargetID, string(key.Source),
	)
	return scanLedgerTotal(row)
}

func queryListZapLedgerTotals(ctx context.Context, db executor, filter model.TotalFilter) ([]*model.ZapLedgerTotal, error) {
	var (
		whereClauses []string
		args         []any
	)
	nextArg := func() string {
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.TargetType != "" {
		args = append(args, string(filter.TargetType))
		whereClauses = append(whereClauses, "target_type = "+nextArg())
	}
	if filter.TargetID != "" {
		args = append(args, filter.TargetID)
		whereClauses = append(whereClauses, "target_id = "+nextArg())
	}
	if filter.Source != "" {
		args = append(args, string(filter.Source))
		whereClauses = append(whereClauses, "source = "+nextArg())
	}

	q := `SELECT ` + ledgerTotalColumns + ` FROM zap_ledger_totals`
	if len(whereClauses) > 0 {
		q += " WHERE " + strings.Join(whereClauses, " AND ")
	}
	q += " ORDER BY target_type, target_id, source"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		q += " LIMIT " + nextArg()
	}

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list zap ledger totals: %w", err)
	}
	defer rows.Close()
	return scanLedgerTotals(rows)
}

func queryListZapLedgerEvents(ctx context.Context, db executor, since time.Time, limit int) ([]*model.ZapLedgerEvent, error) {
	q := `SELECT ` + ledgerEventColumns + ` FROM zap_ledger_events
		WHERE recorded_at >= $1
		ORDER BY recorded_at, event_id`
	args := []any{since}
	if limit > 0 {
		q += " LIMIT $2"
		args = append(args, limit)
	}
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list zap ledger events: %w", err)
	}
	defer rows.Close()
	return scanLedgerEvents(rows)
}

func queryGetGame(ctx context.Context, db executor, id string) (*model.Game, error) {
	row := db.QueryRowContext(ctx, `SELECT `+gameColumns+` FROM games WHERE id = $1`, id)
	return scanGame(row)
}

func queryStampReleaseNote(ctx context.Context, db executor, gameID, eventID string, publishedAt time.Time) error {
	res, err := db.ExecContext(ctx, `
		UPDATE games
		SET release_note_event_id = $2, release_note_published_at = $3
		WHERE id = $1`,
		gameID, eventID, publishedAt,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func affectedOne(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}
