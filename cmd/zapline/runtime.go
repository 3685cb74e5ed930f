package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/alfredjeanlab/zapline/internal/config"
	"github.com/alfredjeanlab/zapline/internal/events"
	"github.com/alfredjeanlab/zapline/internal/metrics"
	"github.com/alfredjeanlab/zapline/internal/nostr"
	"github.com/alfredjeanlab/zapline/internal/queue"
	"github.com/alfredjeanlab/zapline/internal/relay"
	"github.com/alfredjeanlab/zapline/internal/store"
	"github.com/alfredjeanlab/zapline/internal/store/memstore"
	"github.com/alfredjeanlab/zapline/internal/store/postgres"
	"github.com/alfredjeanlab/zapline/internal/zaperr"
)

// newLogger builds the process logger from ZAPLINE_LOG_FORMAT and
// ZAPLINE_LOG_LEVEL.
func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// openStore connects to Postgres, or falls back to an in-memory store when
// no database is configured.
func openStore(cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("ZAPLINE_DATABASE_URL not set, using in-memory store")
		return memstore.New(), nil
	}
	pg, err := postgres.New(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	return pg, nil
}

// openEvents returns a NATS publisher when ZAPLINE_NATS_URL is set.
func openEvents(cfg *config.Config, logger *slog.Logger) (events.Publisher, error) {
	if cfg.NATSURL == "" {
		logger.Info("events disabled (ZAPLINE_NATS_URL not set)")
		return &events.NoopPublisher{}, nil
	}
	pub, err := events.NewNATSPublisher(cfg.NATSURL)
	if err != nil {
		return nil, err
	}
	logger.Info("events enabled", "nats_url", cfg.NATSURL)
	return pub, nil
}

// openQueue builds the reply-job queue backend named by ZAPLINE_QUEUE.
func openQueue(ctx context.Context, cfg *config.Config) (queue.Queue, error) {
	switch cfg.Queue {
	case config.QueueNATS:
		q, err := queue.NewNATSQueue(ctx, cfg.NATSURL, queue.NATSOptions{TotalShards: cfg.Shards})
		if err != nil {
			return nil, err
		}
		return q, nil
	case config.QueueSQS:
		sqsCfg := queue.SQSConfig{
			Region:    cfg.SQSRegion,
			Endpoint:  cfg.SQSEndpoint,
			QueueURLs: cfg.SQSQueueURLs,
		}
		client, err := queue.NewSQSClient(ctx, sqsCfg)
		if err != nil {
			return nil, err
		}
		q, err := queue.NewSQSQueue(client, sqsCfg)
		if err != nil {
			return nil, err
		}
		return q, nil
	default:
		return queue.NewMemoryQueue(cfg.Shards), nil
	}
}

// loadKeys parses the configured signing key.
func loadKeys(cfg *config.Config) (nostr.Keys, error) {
	if err := cfg.RequireSigner(); err != nil {
		return nostr.Keys{}, err
	}
	return nostr.ParseSecretKey(cfg.SecretKey)
}

func newRelayClient(cfg *config.Config, m *metrics.Metrics) *relay.HTTPClient {
	return relay.NewHTTPClient(cfg.RelayTimeout).WithMetrics(m)
}

// readInput reads the named file, or stdin when the name is "-" or absent.
func readInput(args []string, stdin io.Reader) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", args[0], err)
	}
	return data, nil
}

// exitCode maps error kinds to process exit codes: 2 for configuration,
// 3 for cryptographic rejections, 4 for other input errors, 1 otherwise.
func exitCode(err error) int {
	kind := zaperr.KindOf(err)
	switch {
	case kind == zaperr.KindConfiguration:
		return 2
	case kind.IsCryptographic():
		return 3
	case kind == zaperr.KindMalformedInput:
		return 4
	}
	return 1
}

// splitTag parses "key=value[,value...]" into a tag.
func splitTag(s string) (nostr.Tag, error) {
	key, rest, ok := strings.Cut(s, "=")
	if !ok || key == "" {
		return nil, zaperr.Newf(zaperr.KindMalformedInput, "cli", "tag %q must look like key=value", s)
	}
	return append(nostr.Tag{key}, strings.Split(rest, ",")...), nil
}
