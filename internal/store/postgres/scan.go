package postgres

import (
	"database/sql"
	"encoding/json"

	"github.com/alfredjeanlab/zapline/internal/model"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// scanLedgerEvent scans a row in ledgerEventColumns order.
func scanLedgerEvent(row scannable) (*model.ZapLedgerEvent, error) {
	var e model.ZapLedgerEvent
	err := row.Scan(
		&e.EventID,
		&e.SenderPubkey,
		&e.TotalMsats,
		&e.PartCount,
		&e.EventCreatedAt,
		&e.RecordedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func scanLedgerEvents(rows *sql.Rows) ([]*model.ZapLedgerEvent, error) {
	var out []*model.ZapLedgerEvent
	for rows.Next() {
		e, err := scanLedgerEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// scanLedgerTotal scans a row in ledgerTotalColumns order.
func scanLedgerTotal(row scannable) (*model.ZapLedgerTotal, error) {
	var (
		t          model.ZapLedgerTotal
		targetType string
		source     string
	)
	err := row.Scan(
		&targetType,
		&t.TargetID,
		&source,
		&t.TotalMsats,
		&t.ZapCount,
		&t.LastEventAt,
		&t.LastEventID,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.TargetType = model.TargetType(targetType)
	t.Source = model.ZapSource(source)
	return &t, nil
}

func scanLedgerTotals(rows *sql.Rows) ([]*model.ZapLedgerTotal, error) {
	var out []*model.ZapLedgerTotal
	for rows.Next() {
		t, err := scanLedgerTotal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// scanQueueEntry scans a row in queueColumns order.
func scanQueueEntry(row scannable) (*model.RelayPublishQueueEntry, error) {
	var (
		e         model.RelayPublishQueueEntry
		payload   []byte
		lastError sql.NullString
	)
	err := row.Scan(
		&e.ContentID,
		&e.RelayURL,
		&payload,
		&e.Attempts,
		&lastError,
		&e.NextAttemptAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.LastError = lastError.String
	if len(payload) > 0 {
		e.Payload = json.RawMessage(payload)
	}
	return &e, nil
}

func scanQueueEntries(rows *sql.Rows) ([]*model.RelayPublishQueueEntry, error) {
	var out []*model.RelayPublishQueueEntry
	for rows.Next() {
		e, err := scanQueueEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanCheckpoint(row scannable) (*model.RelayCheckpoint, error) {
	var cp model.RelayCheckpoint
	if err := row.Scan(&cp.RelayURL, &cp.LastEventCreatedAt, &cp.LastEventID, &cp.UpdatedAt); err != nil {
		return nil, err
	}
	return &cp, nil
}

// scanReply scans a row in replyColumns order.
func scanReply(row scannable) (*model.IngestedReply, error) {
	var (
		r    model.IngestedReply
		tags []byte
	)
	err := row.Scan(
		&r.GameID,
		&r.EventID,
		&r.PubKey,
		&r.Kind,
		&r.Content,
		&tags,
		&r.EventCreatedAt,
		&r.RelayURL,
		&r.IsHidden,
		&r.IngestedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(tags) > 0 {
		r.Tags = json.RawMessage(tags)
	}
	return &r, nil
}

func scanReplies(rows *sql.Rows) ([]*model.IngestedReply, error) {
	var out []*model.IngestedReply
	for rows.Next() {
		r, err := scanReply(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// scanGame scans a row in gameColumns order.
func scanGame(row scannable) (*model.Game, error) {
	var (
		g                model.Game
		slug             sql.NullString
		summary          sql.NullString
		imageURL         sql.NullString
		releaseNotes     sql.NullString
		lightningAddress sql.NullString
		noteEventID      sql.NullString
		publishedAt      sql.NullTime
	)
	err := row.Scan(
		&g.ID,
		&slug,
		&g.Title,
		&summary,
		&imageURL,
		&releaseNotes,
		&lightningAddress,
		&noteEventID,
		&publishedAt,
	)
	if err != nil {
		return nil, err
	}
	g.Slug = slug.String
	g.Summary = summary.String
	g.ImageURL = imageURL.String
	g.ReleaseNotes = releaseNotes.String
	g.LightningAddress = lightningAddress.String
	g.ReleaseNoteEventID = noteEventID.String
	if publishedAt.Valid {
		t := publishedAt.Time
		g.ReleaseNotePublishedAt = &t
	}
	return &g, nil
}

// nullString converts a string to sql.NullString; empty string is null.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// jsonbBytes converts json.RawMessage to a []byte suitable for JSONB columns.
func jsonbBytes(m json.RawMessage) []byte {
	if len(m) == 0 {
		return nil
	}
	return []byte(m)
}
