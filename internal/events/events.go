package events

import (
	"context"

	"github.com/alfredjeanlab/zapline/internal/model"
)

// Event topic constants
const (
	// TopicZapRecorded fires once per newly accepted zap receipt.
	TopicZapRecorded = "zapline.zap.recorded"
	// TopicZapRejected fires when a receipt from the bus is dropped.
	TopicZapRejected = "zapline.zap.rejected"

	TopicReleaseNotePublished = "zapline.release_note.published"
	TopicRelayRetried         = "zapline.relay.retried"

	TopicReplyIngested = "zapline.reply.ingested"

	// TopicReceiptsIncoming carries raw kind-9735 events from the payment
	// webhook collaborator.
	TopicReceiptsIncoming = "zapline.receipts.incoming"

	// TopicReplyJobs carries model.ReplyJob work items.
	TopicReplyJobs = "zapline.jobs.replies"
)

// Event types

type ZapRecorded struct {
	Event         *model.ZapLedgerEvent   `json:"event"`
	Contributions []model.ZapContribution `json:"contributions"`
}

type ZapRejected struct {
	EventID string `json:"event_id,omitempty"`
	Kind    string `json:"kind"`
	Reason  string `json:"reason"`
}

type ReleaseNotePublished struct {
	GameID           string   `json:"game_id"`
	EventID          string   `json:"event_id"`
	PublishedAt      int64    `json:"published_at"`
	SuccessfulRelays []string `json:"successful_relays"`
	FailedRelays     []string `json:"failed_relays,omitempty"`
}

type RelayRetried struct {
	ContentID string `json:"content_id"`
	RelayURL  string `json:"relay_url"`
	Attempts  int    `json:"attempts"`
	Succeeded bool   `json:"succeeded"`
}

type ReplyIngested struct {
	GameID   string `json:"game_id"`
	EventID  string `json:"event_id"`
	RelayURL string `json:"relay_url"`
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}
