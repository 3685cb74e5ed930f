package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/alfredjeanlab/zapline/internal/metrics"
	"github.com/alfredjeanlab/zapline/internal/nostr"
	"github.com/alfredjeanlab/zapline/internal/zaperr"
)

// DefaultTimeout bounds every relay call.
const DefaultTimeout = 10 * time.Second

const maxResponseBytes = 4 << 20

// HTTPClient implements Client over plain HTTP POSTs.
type HTTPClient struct {
	timeout    time.Duration
	httpClient *http.Client
	metrics    *metrics.Metrics
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient returns a client whose calls each time out after timeout.
// A zero timeout uses DefaultTimeout.
func NewHTTPClient(timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPClient{
		timeout:    timeout,
		httpClient: &http.Client{},
	}
}

// WithMetrics records call durations on m.
func (c *HTTPClient) WithMetrics(m *metrics.Metrics) *HTTPClient {
	c.metrics = m
	return c
}

// Publish POSTs the signed event in its exact wire form.
func (c *HTTPClient) Publish(ctx context.Context, relayURL string, ev nostr.Event) error {
	// MarshalJSON directly: json.Marshal would re-escape <, > and & in the
	// content and the relay would see different bytes than were signed.
	body, err := ev.MarshalJSON()
	if err != nil {
		return zaperr.Wrap(zaperr.KindMalformedInput, "relay.Publish", err)
	}
	return c.doJSON(ctx, "publish", relayURL, body, nil)
}

// Query POSTs q and decodes a JSON array of raw events.
func (c *HTTPClient) Query(ctx context.Context, relayURL string, q QueryRequest) ([]json.RawMessage, error) {
	body, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("marshaling query: %w", err)
	}
	var events []json.RawMessage
	if err := c.doJSON(ctx, "query", relayURL, body, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// doJSON performs one POST with the client timeout. Transport errors,
// timeouts, non-2xx statuses and undecodable bodies are all transient.
func (c *HTTPClient) doJSON(ctx context.Context, op, relayURL string, body []byte, result any) error {
	opName := "relay." + op
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if c.metrics != nil {
		start := time.Now()
		defer func() {
			c.metrics.RelayCallDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		}()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, relayURL, bytes.NewReader(body))
	if err != nil {
		return zaperr.Wrap(zaperr.KindTransientNetwork, opName, fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return zaperr.Wrap(zaperr.KindTransientNetwork, opName, fmt.Errorf("performing request: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return zaperr.Wrap(zaperr.KindTransientNetwork, opName, fmt.Errorf("reading response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(respBody))
		var errResp struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			msg = errResp.Error
		}
		return zaperr.Wrap(zaperr.KindTransientNetwork, opName, &APIError{RelayURL: relayURL, StatusCode: resp.StatusCode, Message: msg})
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return zaperr.Wrap(zaperr.KindTransientNetwork, opName, fmt.Errorf("decoding response: %w", err))
		}
	}
	return nil
}
