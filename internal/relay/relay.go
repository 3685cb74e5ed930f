// Package relay is the HTTP transport to event relays: publishing signed
// events and querying replies.
package relay

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alfredjeanlab/zapline/internal/nostr"
)

// Client talks to relays. Every error it returns is a zaperr of kind
// KindTransientNetwork.
type Client interface {
	Publish(ctx context.Context, relayURL string, ev nostr.Event) error
	Query(ctx context.Context, relayURL string, q QueryRequest) ([]json.RawMessage, error)
}

// QueryRequest asks a relay for events referencing EventID created at or
// after Since.
type QueryRequest struct {
	EventID string `json:"event_id"`
	Since   int64  `json:"since"`
	Limit   int    `json:"limit"`
}

// APIError is a non-2xx response from a relay.
type APIError struct {
	RelayURL   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("relay %s: HTTP %d: %s", e.RelayURL, e.StatusCode, e.Message)
}
