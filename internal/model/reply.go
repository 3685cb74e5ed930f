package model

import (
	"encoding/json"
	"time"
)

// IngestedReply is a reply to a release note fetched from a relay. Unique per
// (GameID, EventID); only IsHidden changes after insert.
type IngestedReply struct {
	GameID         string          `json:"game_id"`
	EventID        string          `json:"event_id"`
	PubKey         string          `json:"pubkey"`
	Kind           int             `json:"kind"`
	Content        string          `json:"content"`
	Tags           json.RawMessage `json:"tags"`
	EventCreatedAt int64           `json:"event_created_at"`
	RelayURL       string          `json:"relay_url"`
	IsHidden       bool            `json:"is_hidden"`
	IngestedAt     time.Time       `json:"ingested_at"`
}

// ReplyJob asks the ingestor to poll relays for replies to one release note.
type ReplyJob struct {
	ID                 string `json:"id"`
	GameID             string `json:"game_id"`
	ReleaseNoteEventID string `json:"release_note_event_id"`
	PublishedAt        int64  `json:"published_at"`
	Attempt            int    `json:"attempt,omitempty"`
	Reason             string `json:"reason,omitempty"`
	// NotBefore (unix seconds) holds a nacked job back until relays have
	// had time to recover. Zero means ready now.
	NotBefore int64 `json:"not_before,omitempty"`
}

// ReadyAt reports whether the job may be processed at now.
func (j ReplyJob) ReadyAt(now time.Time) bool {
	return j.NotBefore <= now.Unix()
}
