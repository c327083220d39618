package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/joho/godotenv"
)

type AppConfig struct {
	DevMode    bool   `arg:"--dev,env:DEV_MODE" default:"false"`
	Port       int    `arg:"-p,--port,env:LISTEN_PORT" default:"8006"`
	LogLevel   string `arg:"--log-level,env:LOG_LEVEL" default:"default" help:"Log level to use.  Valid values are: debug, info, and warn/warning.  If default the level will be info or debug in dev mode."`
	DBHost     string `arg:"--db-host,env:DB_HOST" default:"localhost"`
	DBName     string `arg:"--db-name,env:DB_NAME" default:"optimist"`
	DBPort     int    `arg:"--db-port,env:DB_PORT" default:"5432"`
	DBMaxConns int    `arg:"--db-max-conns,env:DB_MAX_CONNS" default:"10"`
	DBMinConns int    `arg:"--db-min-conns,env:DB_MIN_CONNS" default:"1"`
	DBSSLMode  string `arg:"--db-ssl-mode,env:DB_SSL_MODE" default:"disable"`
	DBUsername string `arg:"--db-username,env:DB_USERNAME" default:"optimist"`
	DBPassword string `arg:"--db-password,env:DB_PASSWORD" default:"badpassword"`

	APISecretHash string `arg:"--api-secret-hash,env:API_SECRET_HASH" default:"" help:"bcrypt hash of the secret required in X-Optimist-Secret for write endpoints.  Empty disables the check."`

	UpstreamURL     string        `arg:"--upstream-url,env:UPSTREAM_URL" default:"" help:"Base URL of an upstream REST API to write through.  Empty uses the Postgres record store."`
	UpstreamTimeout time.Duration `arg:"--upstream-timeout,env:UPSTREAM_TIMEOUT" default:"10s" help:"HTTP client timeout for upstream writes."`
	UpstreamSecret  string        `arg:"--upstream-secret,env:UPSTREAM_SECRET" default:"" help:"Secret sent to the upstream in X-Optimist-Secret."`
	SchemaFile      string        `arg:"--schema-file,env:SCHEMA_FILE" default:"" help:"CUE file with record schemas.  Empty uses the built-in schemas."`

	BusDriver    string        `arg:"--bus,env:BUS_DRIVER" default:"memory" help:"Invalidation bus: memory, postgres or redis."`
	BusChannel   string        `arg:"--bus-channel,env:BUS_CHANNEL" default:"optimist_invalidations"`
	RedisURL     string        `arg:"--redis-url,env:REDIS_URL" default:"redis://localhost:6379/0"`
	DedupeSize   int           `arg:"--dedupe-size,env:DEDUPE_SIZE" default:"4096" help:"Number of (correlation id, key) pairs remembered for broadcast deduplication."`
	SSEKeepAlive time.Duration `arg:"--sse-keepalive,env:SSE_KEEPALIVE" default:"25s"`

	StaleTime  time.Duration `arg:"--stale-time,env:STALE_TIME" default:"5m" help:"Cached entries older than this are refetched on the next read, even without an invalidation.  0 disables."`
	GCTime     time.Duration `arg:"--gc-time,env:GC_TIME" default:"10m" help:"Cached entries unused for this long are dropped.  0 disables."`
	CacheSweep time.Duration `arg:"--cache-sweep,env:CACHE_SWEEP" default:"1m" help:"Interval between cache garbage collection sweeps."`

	MutationPolicy string `arg:"--mutation-policy,env:MUTATION_POLICY" default:"queue" help:"How a second write to a key with a write in flight is handled: queue (FIFO) or reject."`

	RowHeight       int `arg:"--row-height,env:ROW_HEIGHT" default:"38" help:"Default estimated row height in pixels."`
	Overscan        int `arg:"--overscan,env:OVERSCAN" default:"5"`
	WindowThreshold int `arg:"--window-threshold,env:WINDOW_THRESHOLD" default:"20" help:"Row counts at or below this render without windowing."`
	PageLimit       int `arg:"--page-limit,env:PAGE_LIMIT" default:"50" help:"Default page size for record lists."`
}

func LoadConfig() (*AppConfig, error) {
	var appConfig AppConfig
	arg.MustParse(&appConfig)

	if appConfig.DevMode {
		err := godotenv.Load(".env")
		if err == nil {
			// re-parse to get env vars from .env
			slog.Info("Loaded .env")
			arg.MustParse(&appConfig)
		}
	}

	level, err := ParseLogLevel(appConfig.LogLevel, appConfig.DevMode)
	if err != nil {
		slog.Error("Unable to configure log level", "level", appConfig.LogLevel)
	}
	SetLogLevel(level)

	if err := appConfig.Validate(); err != nil {
		return nil, err
	}
	return &appConfig, nil
}

// Validate rejects settings the application cannot start with.
func (c *AppConfig) Validate() error {
	switch c.BusDriver {
	case "memory", "postgres", "redis":
	default:
		return fmt.Errorf("unknown bus driver %q: expected memory, postgres or redis", c.BusDriver)
	}
	switch c.MutationPolicy {
	case "", "queue", "reject":
	default:
		return fmt.Errorf("unknown mutation policy %q: expected queue or reject", c.MutationPolicy)
	}
	if c.RowHeight <= 0 {
		return fmt.Errorf("row height must be positive, got %d", c.RowHeight)
	}
	if c.PageLimit <= 0 {
		return fmt.Errorf("page limit must be positive, got %d", c.PageLimit)
	}
	if c.DedupeSize <= 0 {
		return fmt.Errorf("dedupe size must be positive, got %d", c.DedupeSize)
	}
	if c.StaleTime < 0 || c.GCTime < 0 {
		return fmt.Errorf("stale and gc times must not be negative")
	}
	if c.CacheSweep <= 0 {
		return fmt.Errorf("cache sweep interval must be positive, got %s", c.CacheSweep)
	}
	return nil
}

// NeedsDatabase reports whether the configured record store or bus uses Postgres.
func (c *AppConfig) NeedsDatabase() bool {
	return c.UpstreamURL == "" || c.BusDriver == "postgres"
}
