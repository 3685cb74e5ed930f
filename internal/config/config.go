// Package config loads zapline's settings from ZAPLINE_* environment
// variables, optionally layered over a TOML file named by
// ZAPLINE_CONFIG_FILE. Environment values win over the file.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/alfredjeanlab/zapline/internal/zaperr"
)

// Queue backends.
const (
	QueueMemory = "memory"
	QueueNATS   = "nats"
	QueueSQS    = "sqs"
)

type Config struct {
	DatabaseURL string // ZAPLINE_DATABASE_URL (empty = in-memory store)
	GRPCAddr    string // ZAPLINE_GRPC_ADDR (default ":9090")
	HTTPAddr    string // ZAPLINE_HTTP_ADDR (default ":8080")
	NATSURL     string // ZAPLINE_NATS_URL (optional, empty = no events)
	LogFormat   string // ZAPLINE_LOG_FORMAT ("text" or "json")
	LogLevel    string // ZAPLINE_LOG_LEVEL (default "info")
	OpsToken    string // ZAPLINE_OPS_TOKEN (optional bearer token for the ledger views)

	// Signing and relays
	SecretKey    string        // ZAPLINE_SECRET_KEY (hex)
	Relays       []string      // ZAPLINE_RELAYS (comma separated) or relays in the file
	SiteURL      string        // ZAPLINE_SITE_URL
	RelayTimeout time.Duration // ZAPLINE_RELAY_TIMEOUT (default 10s)

	// Publisher retry policy
	BackoffBase            time.Duration // ZAPLINE_BACKOFF_BASE (default 30s)
	BackoffMax             time.Duration // ZAPLINE_BACKOFF_MAX (default 6h)
	CircuitBreakerAttempts int           // ZAPLINE_CIRCUIT_BREAKER_ATTEMPTS (default 3)
	RetryInterval          time.Duration // ZAPLINE_RETRY_INTERVAL (default 1m)

	// Reply ingestion
	LookbackSeconds int64 // ZAPLINE_LOOKBACK_SECONDS (default 3600)
	QueryLimit      int   // ZAPLINE_QUERY_LIMIT (default 500)
	Shards          int   // ZAPLINE_SHARDS (default 1)

	// Work queue
	Queue        string   // ZAPLINE_QUEUE (memory, nats or sqs; default memory)
	SQSRegion    string   // ZAPLINE_SQS_REGION (default "us-east-1")
	SQSEndpoint  string   // ZAPLINE_SQS_ENDPOINT (ElasticMQ/LocalStack)
	SQSQueueURLs []string // ZAPLINE_SQS_QUEUE_URLS (comma separated, one per shard)

	// Ledger snapshot export
	SyncInterval   time.Duration // ZAPLINE_SYNC_INTERVAL (default 15m; 0 = disabled)
	SyncS3Bucket   string        // ZAPLINE_SYNC_S3_BUCKET (enables S3 when set)
	SyncS3Endpoint string        // ZAPLINE_SYNC_S3_ENDPOINT (custom endpoint for MinIO)
	SyncS3Region   string        // ZAPLINE_SYNC_S3_REGION (default "us-east-1")
	SyncS3Prefix   string        // ZAPLINE_SYNC_S3_PREFIX (default "zapline/ledger")
}

// fileConfig is the TOML layout. Secrets come only from the environment.
type fileConfig struct {
	SiteURL string   `toml:"site_url"`
	Relays  []string `toml:"relays"`
	Backoff struct {
		Base                   duration `toml:"base"`
		Max                    duration `toml:"max"`
		CircuitBreakerAttempts int      `toml:"circuit_breaker_attempts"`
		RetryInterval          duration `toml:"retry_interval"`
	} `toml:"backoff"`
	Ingest struct {
		LookbackSeconds int64 `toml:"lookback_seconds"`
		QueryLimit      int   `toml:"query_limit"`
		Shards          int   `toml:"shards"`
	} `toml:"ingest"`
}

type duration struct{ time.Duration }

func (d *duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func defaults() *Config {
	return &Config{
		GRPCAddr:               ":9090",
		HTTPAddr:               ":8080",
		LogFormat:              "text",
		LogLevel:               "info",
		RelayTimeout:           10 * time.Second,
		BackoffBase:            30 * time.Second,
		BackoffMax:             6 * time.Hour,
		CircuitBreakerAttempts: 3,
		RetryInterval:          time.Minute,
		LookbackSeconds:        3600,
		QueryLimit:             500,
		Shards:                 1,
		Queue:                  QueueMemory,
		SQSRegion:              "us-east-1",
		SyncInterval:           15 * time.Minute,
		SyncS3Region:           "us-east-1",
		SyncS3Prefix:           "zapline/ledger",
	}
}

// Load builds a Config from defaults, the optional file and the environment.
// It checks formats only; RequireSigner and RequireRelays check presence for
// the commands that need them.
func Load() (*Config, error) {
	c := defaults()
	if path := os.Getenv("ZAPLINE_CONFIG_FILE"); path != "" {
		if err := c.applyFile(path); err != nil {
			return nil, err
		}
	}
	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) applyFile(path string) error {
	var f fileConfig
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return zaperr.Wrap(zaperr.KindConfiguration, "config.Load", fmt.Errorf("reading %s: %w", path, err))
	}
	if f.SiteURL != "" {
		c.SiteURL = f.SiteURL
	}
	if len(f.Relays) > 0 {
		c.Relays = f.Relays
	}
	if f.Backoff.Base.Duration > 0 {
		c.BackoffBase = f.Backoff.Base.Duration
	}
	if f.Backoff.Max.Duration > 0 {
		c.BackoffMax = f.Backoff.Max.Duration
	}
	if f.Backoff.CircuitBreakerAttempts > 0 {
		c.CircuitBreakerAttempts = f.Backoff.CircuitBreakerAttempts
	}
	if f.Backoff.RetryInterval.Duration > 0 {
		c.RetryInterval = f.Backoff.RetryInterval.Duration
	}
	if f.Ingest.LookbackSeconds > 0 {
		c.LookbackSeconds = f.Ingest.LookbackSeconds
	}
	if f.Ingest.QueryLimit > 0 {
		c.QueryLimit = f.Ingest.QueryLimit
	}
	if f.Ingest.Shards > 0 {
		c.Shards = f.Ingest.Shards
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.DatabaseURL = os.Getenv("ZAPLINE_DATABASE_URL")
	c.GRPCAddr = envOrDefault("ZAPLINE_GRPC_ADDR", c.GRPCAddr)
	c.HTTPAddr = envOrDefault("ZAPLINE_HTTP_ADDR", c.HTTPAddr)
	c.NATSURL = os.Getenv("ZAPLINE_NATS_URL")
	c.OpsToken = os.Getenv("ZAPLINE_OPS_TOKEN")
	c.LogFormat = envOrDefault("ZAPLINE_LOG_FORMAT", c.LogFormat)
	c.LogLevel = envOrDefault("ZAPLINE_LOG_LEVEL", c.LogLevel)
	c.SecretKey = strings.TrimSpace(os.Getenv("ZAPLINE_SECRET_KEY"))
	c.SiteURL = envOrDefault("ZAPLINE_SITE_URL", c.SiteURL)
	if v := os.Getenv("ZAPLINE_RELAYS"); v != "" {
		c.Relays = splitList(v)
	}
	c.Queue = envOrDefault("ZAPLINE_QUEUE", c.Queue)
	c.SQSRegion = envOrDefault("ZAPLINE_SQS_REGION", c.SQSRegion)
	c.SQSEndpoint = os.Getenv("ZAPLINE_SQS_ENDPOINT")
	if v := os.Getenv("ZAPLINE_SQS_QUEUE_URLS"); v != "" {
		c.SQSQueueURLs = splitList(v)
	}
	c.SyncS3Bucket = os.Getenv("ZAPLINE_SYNC_S3_BUCKET")
	c.SyncS3Endpoint = os.Getenv("ZAPLINE_SYNC_S3_ENDPOINT")
	c.SyncS3Region = envOrDefault("ZAPLINE_SYNC_S3_REGION", c.SyncS3Region)
	c.SyncS3Prefix = envOrDefault("ZAPLINE_SYNC_S3_PREFIX", c.SyncS3Prefix)

	for _, d := range []struct {
		key string
		dst *time.Duration
	}{
		{"ZAPLINE_RELAY_TIMEOUT", &c.RelayTimeout},
		{"ZAPLINE_BACKOFF_BASE", &c.BackoffBase},
		{"ZAPLINE_BACKOFF_MAX", &c.BackoffMax},
		{"ZAPLINE_RETRY_INTERVAL", &c.RetryInterval},
		{"ZAPLINE_SYNC_INTERVAL", &c.SyncInterval},
	} {
		if v := os.Getenv(d.key); v != "" {
			parsed, err := time.ParseDuration(v)
			if err != nil {
				return zaperr.Wrap(zaperr.KindConfiguration, "config.Load", fmt.Errorf("%s: %w", d.key, err))
			}
			*d.dst = parsed
		}
	}
	for _, n := range []struct {
		key string
		dst *int
	}{
		{"ZAPLINE_CIRCUIT_BREAKER_ATTEMPTS", &c.CircuitBreakerAttempts},
		{"ZAPLINE_QUERY_LIMIT", &c.QueryLimit},
		{"ZAPLINE_SHARDS", &c.Shards},
	} {
		if v := os.Getenv(n.key); v != "" {
			parsed, err := strconv.Atoi(v)
			if err != nil {
				return zaperr.Wrap(zaperr.KindConfiguration, "config.Load", fmt.Errorf("%s: %w", n.key, err))
			}
			*n.dst = parsed
		}
	}
	if v := os.Getenv("ZAPLINE_LOOKBACK_SECONDS"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return zaperr.Wrap(zaperr.KindConfiguration, "config.Load", fmt.Errorf("ZAPLINE_LOOKBACK_SECONDS: %w", err))
		}
		c.LookbackSeconds = parsed
	}
	return nil
}

func (c *Config) validate() error {
	const op = "config.Load"
	for _, r := range c.Relays {
		if err := checkHTTPURL(r); err != nil {
			return zaperr.Newf(zaperr.KindConfiguration, op, "relay %q: %v", r, err)
		}
	}
	if c.SiteURL != "" {
		if err := checkHTTPURL(c.SiteURL); err != nil {
			return zaperr.Newf(zaperr.KindConfiguration, op, "site url %q: %v", c.SiteURL, err)
		}
	}
	switch {
	case c.CircuitBreakerAttempts < 1:
		return zaperr.New(zaperr.KindConfiguration, op, "circuit breaker attempts must be at least 1")
	case c.BackoffBase <= 0 || c.BackoffMax < c.BackoffBase:
		return zaperr.Newf(zaperr.KindConfiguration, op, "backoff base %v / max %v", c.BackoffBase, c.BackoffMax)
	case c.Shards < 1:
		return zaperr.Newf(zaperr.KindConfiguration, op, "shards %d < 1", c.Shards)
	case c.LookbackSeconds < 0:
		return zaperr.New(zaperr.KindConfiguration, op, "negative lookback")
	}
	switch c.Queue {
	case QueueMemory, QueueNATS:
	case QueueSQS:
		if len(c.SQSQueueURLs) != c.Shards {
			return zaperr.Newf(zaperr.KindConfiguration, op, "sqs queue needs one url per shard: have %d urls for %d shards", len(c.SQSQueueURLs), c.Shards)
		}
	default:
		return zaperr.Newf(zaperr.KindConfiguration, op, "unknown queue backend %q", c.Queue)
	}
	if c.Queue == QueueNATS && c.NATSURL == "" {
		return zaperr.New(zaperr.KindConfiguration, op, "nats queue requires ZAPLINE_NATS_URL")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return zaperr.Newf(zaperr.KindConfiguration, op, "unknown log format %q", c.LogFormat)
	}
	return nil
}

// RequireSigner fails unless a secret key is configured.
func (c *Config) RequireSigner() error {
	if c.SecretKey == "" {
		return zaperr.New(zaperr.KindConfiguration, "config", "ZAPLINE_SECRET_KEY is required")
	}
	return nil
}

// RequireRelays fails unless at least one relay is configured.
func (c *Config) RequireRelays() error {
	if len(c.Relays) == 0 {
		return zaperr.New(zaperr.KindConfiguration, "config", "no relays configured (ZAPLINE_RELAYS or relays in the config file)")
	}
	return nil
}

func checkHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
