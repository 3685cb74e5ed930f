package store

import (
	"context"
	"time"

	"github.com/alfredjeanlab/zapline/internal/model"
)

// Store defines the persistence interface for the zap ledger, relay retry
// state, ingest checkpoints and release-note replies. Getters return
// sql.ErrNoRows when the row does not exist.
type Store interface {
	// Zap ledger
	GetZapLedgerEvent(ctx context.Context, eventID string) (*model.ZapLedgerEvent, error)
	InsertZapLedgerEvent(ctx context.Context, ev *model.ZapLedgerEvent) (bool, error) // false when event_id already exists
	ApplyZapContribution(ctx context.Context, c model.ZapContribution, eventID string, eventAt time.Time) (*model.ZapLedgerTotal, error)
	GetZapLedgerTotal(ctx context.Context, key model.TotalKey) (*model.ZapLedgerTotal, error)
	ListZapLedgerTotals(ctx context.Context, filter model.TotalFilter) ([]*model.ZapLedgerTotal, error)
	ListZapLedgerEvents(ctx context.Context, since time.Time, limit int) ([]*model.ZapLedgerEvent, error)

	// Relay publish queue
	GetRelayQueueEntry(ctx context.Context, contentID, relayURL string) (*model.RelayPublishQueueEntry, error)
	CreateRelayQueueEntry(ctx context.Context, e *model.RelayPublishQueueEntry) (bool, error)                       // false when the row already exists
	UpdateRelayQueueEntry(ctx context.Context, e *model.RelayPublishQueueEntry, expectedAttempts int) (bool, error) // false when attempts moved underneath us
	DeleteRelayQueueEntry(ctx context.Context, contentID, relayURL string) error
	ListDueRelayQueueEntries(ctx context.Context, now time.Time, limit int) ([]*model.RelayPublishQueueEntry, error)

	// Ingest checkpoints
	GetRelayCheckpoint(ctx context.Context, relayURL string) (*model.RelayCheckpoint, error)
	AdvanceRelayCheckpoint(ctx context.Context, cp *model.RelayCheckpoint) (bool, error) // false when cp is not after the stored mark

	// Replies
	InsertReply(ctx context.Context, r *model.IngestedReply) (bool, error) // false when (game_id, event_id) exists
	ListReplies(ctx context.Context, gameID string) ([]*model.IngestedReply, error)

	// Games
	GetGame(ctx context.Context, id string) (*model.Game, error)
	StampReleaseNote(ctx context.Context, gameID, eventID string, publishedAt time.Time) error

	// Transaction support
	RunInTransaction(ctx context.Context, fn func(tx Store) error) error

	// Lifecycle
	Close() error
}
