package model

import (
	"encoding/json"
	"time"
)

// RelayPublishQueueEntry is the retry state of one piece of content on one
// relay. It exists only while the relay has outstanding failures.
type RelayPublishQueueEntry struct {
	ContentID     string          `json:"content_id"`
	RelayURL      string          `json:"relay_url"`
	Payload       json.RawMessage `json:"payload"`
	Attempts      int             `json:"attempts"`
	LastError     string          `json:"last_error,omitempty"`
	NextAttemptAt time.Time       `json:"next_attempt_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// RelayCheckpoint is the high-water mark of events already ingested from a
// relay.
type RelayCheckpoint struct {
	RelayURL           string    `json:"relay_url"`
	LastEventCreatedAt int64     `json:"last_event_created_at"`
	LastEventID        string    `json:"last_event_id"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// After reports whether (createdAt, eventID) sorts strictly after the
// checkpoint. Ties on created_at are broken lexically by event id.
func (c RelayCheckpoint) After(createdAt int64, eventID string) bool {
	if createdAt != c.LastEventCreatedAt {
		return createdAt > c.LastEventCreatedAt
	}
	return eventID > c.LastEventID
}
