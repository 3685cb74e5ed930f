package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/alfredjeanlab/zapline/internal/model"
)

const queueColumns = `content_id, relay_url, payload, attempts, last_error, next_attempt_at, updated_at`

const replyColumns = `game_id, event_id, pubkey, kind, content, tags, event_created_at,
	relay_url, is_hidden, ingested_at`

func queryGetRelayQueueEntry(ctx context.Context, db executor, contentID, relayURL string) (*model.RelayPublishQueueEntry, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+queueColumns+` FROM relay_publish_queue
		WHERE content_id = $1 AND relay_url = $2`,
		contentID, relayURL,
	)
	return scanQueueEntry(row)
}

// queryCreateRelayQueueEntry inserts the entry unless another publisher
// created it first.
func queryCreateRelayQueueEntry(ctx context.Context, db executor, e *model.RelayPublishQueueEntry) (bool, error) {
	res, err := db.ExecContext(ctx, `
		INSERT INTO relay_publish_queue (`+queueColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (content_id, relay_url) DO NOTHING`,
		e.ContentID,
		e.RelayURL,
		string(e.Payload),
		e.Attempts,
		nullString(e.LastError),
		e.NextAttemptAt,
		e.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("create relay queue entry: %w", err)
	}
	return affectedOne(res)
}

// queryUpdateRelayQueueEntry is a compare-and-swap on attempts.
func queryUpdateRelayQueueEntry(ctx context.Context, db executor, e *model.RelayPublishQueueEntry, expectedAttempts int) (bool, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE relay_publish_queue SET
			payload = $3,
			attempts = $4,
			last_error = $5,
			next_attempt_at = $6,
			updated_at = $7
		WHERE content_id = $1 AND relay_url = $2 AND attempts = $8`,
		e.ContentID,
		e.RelayURL,
		string(e.Payload),
		e.Attempts,
		nullString(e.LastError),
		e.NextAttemptAt,
		e.UpdatedAt,
		expectedAttempts,
	)
	if err != nil {
		return false, fmt.Errorf("update relay queue entry: %w", err)
	}
	return affectedOne(res)
}

func queryDeleteRelayQueueEntry(ctx context.Context, db executor, contentID, relayURL string) error {
	_, err := db.ExecContext(ctx, `
		DELETE FROM relay_publish_queue WHERE content_id = $1 AND relay_url = $2`,
		contentID, relayURL,
	)
	return err
}

func queryListDueRelayQueueEntries(ctx context.Context, db executor, now time.Time, limit int) ([]*model.RelayPublishQueueEntry, error) {
	q := `SELECT ` + queueColumns + ` FROM relay_publish_queue
		WHERE next_attempt_at <= $1
		ORDER BY next_attempt_at, content_id, relay_url`
	args := []any{now}
	if limit > 0 {
		q += " LIMIT $2"
		args = append(args, limit)
	}
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list due relay queue entries: %w", err)
	}
	defer rows.Close()
	return scanQueueEntries(rows)
}

func queryGetRelayCheckpoint(ctx context.Context, db executor, relayURL string) (*model.RelayCheckpoint, error) {
	row := db.QueryRowContext(ctx, `
		SELECT relay_url, last_event_created_at, last_event_id, updated_at
		FROM relay_checkpoints WHERE relay_url = $1`,
		relayURL,
	)
	return scanCheckpoint(row)
}

// queryAdvanceRelayCheckpoint upserts the checkpoint only when the new mark
// sorts after the stored one, so a checkpoint never regresses.
func queryAdvanceRelayCheckpoint(ctx context.Context, db executor, cp *model.RelayCheckpoint) (bool, error) {
	res, err := db.ExecContext(ctx, `
		INSERT INTO relay_checkpoints (relay_url, last_event_created_at, last_event_id, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (relay_url) DO UPDATE SET
			last_event_created_at = EXCLUDED.last_event_created_at,
			last_event_id = EXCLUDED.last_event_id,
			updated_at = EXCLUDED.updated_at
		WHERE (EXCLUDED.last_event_created_at, EXCLUDED.last_event_id)
			> (relay_checkpoints.last_event_created_at, relay_checkpoints.last_event_id)`,
		cp.RelayURL,
		cp.LastEventCreatedAt,
		cp.LastEventID,
		cp.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("advance relay checkpoint: %w", err)
	}
	return affectedOne(res)
}

func queryInsertReply(ctx context.Context, db executor, r *model.IngestedReply) (bool, error) {
	res, err := db.ExecContext(ctx, `
		INSERT INTO release_note_replies (`+replyColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (game_id, event_id) DO NOTHING`,
		r.GameID,
		r.EventID,
		r.PubKey,
		r.Kind,
		r.Content,
		jsonbBytes(r.Tags),
		r.EventCreatedAt,
		r.RelayURL,
		r.IsHidden,
		r.IngestedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert reply: %w", err)
	}
	return affectedOne(res)
}

func queryListReplies(ctx context.Context, db executor, gameID string) ([]*model.IngestedReply, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+replyColumns+` FROM release_note_replies
		WHERE game_id = $1
		ORDER BY event_created_at, event_id`,
		gameID,
	)
	if err != nil {
		return nil, fmt.Errorf("list replies: %w", err)
	}
	defer rows.Close()
	return scanReplies(rows)
}
