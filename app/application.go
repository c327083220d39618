package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sweater-ventures/optimist/config"
	"github.com/sweater-ventures/optimist/db"
	"github.com/sweater-ventures/optimist/window"
)

type Application struct {
	Config        config.AppConfig
	DB            db.Querier
	Store         *Store[json.RawMessage]
	Queries       *QueryClient[json.RawMessage]
	Mutations     *Controller[json.RawMessage]
	Invalidations *Invalidator
	Bus           Bus
	Remote        RecordRemote
	Validator     *Validator
	dbconn        *pgxpool.Pool
	closeRedis    func() error
	stopListening func()
	stopSweeping  context.CancelFunc
	sweepDone     chan struct{}
}

func NewApp(config *config.AppConfig) (*Application, error) {
	ctx := context.Background()

	validator, err := loadValidator(config.SchemaFile)
	if err != nil {
		return nil, err
	}
	if _, err := ParseMutationPolicy(config.MutationPolicy); err != nil {
		return nil, err
	}

	var conn *pgxpool.Pool
	var queries db.Querier
	if config.NeedsDatabase() {
		conn, err = connectToDB(config)
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			return nil, err
		}
		queries = db.New(conn)
	}

	var remote RecordRemote
	if config.UpstreamURL != "" {
		remote, err = NewHTTPRemote(config.UpstreamURL, config.UpstreamTimeout, config.UpstreamSecret)
	} else {
		remote = NewPostgresRemote(queries, validator)
	}
	if err != nil {
		closePool(conn)
		return nil, err
	}

	bus, closeRedis, err := openBus(ctx, config, conn)
	if err != nil {
		closePool(conn)
		return nil, fmt.Errorf("opening %s bus: %w", config.BusDriver, err)
	}

	a := NewApplication(*config, remote, bus, validator)
	a.DB = queries
	a.dbconn = conn
	a.closeRedis = closeRedis
	return a, nil
}

// NewApplication wires the cache, controller and invalidator around an
// already connected remote and bus.
func NewApplication(cfg config.AppConfig, remote RecordRemote, bus Bus, validator *Validator) *Application {
	policy, err := ParseMutationPolicy(cfg.MutationPolicy)
	if err != nil {
		slog.Warn("Falling back to queued mutations", "error", err)
		policy = PolicyQueue
	}
	store := NewStore[json.RawMessage]()
	store.SetExpiry(cfg.StaleTime, cfg.GCTime)
	invalidator := NewInvalidator(bus, cfg.DedupeSize)
	a := &Application{
		Config:        cfg,
		Store:         store,
		Queries:       NewQueryClient(store),
		Mutations:     NewController(store, invalidator, policy),
		Invalidations: invalidator,
		Bus:           bus,
		Remote:        remote,
		Validator:     validator,
	}
	a.stopListening = invalidator.OnInvalidation(func(ctx context.Context, msg Invalidation) {
		if msg.Resync {
			n := a.Store.MarkAllStale()
			log(ctx).Info("Invalidation bus reconnected, marked cache stale", slog.Int("stale_entries", n))
			return
		}
		marked := a.Queries.Invalidate(msg.QueryKeys...)
		log(ctx).Debug("Applied remote invalidation",
			slog.String("correlation_id", msg.CorrelationID),
			slog.String("origin", msg.Origin),
			slog.Any("query_keys", msg.QueryKeys),
			slog.Int("stale_entries", len(marked)),
		)
	})
	if cfg.CacheSweep > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		a.stopSweeping = cancel
		a.sweepDone = make(chan struct{})
		go a.sweep(ctx, cfg.CacheSweep)
	}
	return a
}

// sweep garbage collects the cache every interval until ctx ends.
func (a *Application) sweep(ctx context.Context, interval time.Duration) {
	defer close(a.sweepDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if dropped := a.Store.Sweep(); dropped > 0 {
				log(ctx).Debug("Swept unused cache entries", slog.Int("dropped", dropped), slog.Int("remaining", a.Store.Len()))
			}
		}
	}
}

func loadValidator(schemaFile string) (*Validator, error) {
	if schemaFile == "" {
		return NewValidator(nil)
	}
	source, err := os.ReadFile(schemaFile)
	if err != nil {
		return nil, fmt.Errorf("reading schema file: %w", err)
	}
	return NewValidator(source)
}

// Close stops consuming invalidations, then releases the bus and the
// database pool.
func (a *Application) Close() {
	if a.stopSweeping != nil {
		a.stopSweeping()
		<-a.sweepDone
	}
	if a.stopListening != nil {
		a.stopListening()
	}
	a.Invalidations.Close()
	if err := a.Bus.Close(); err != nil {
		slog.Warn("Closing invalidation bus", "error", err)
	}
	if a.closeRedis != nil {
		if err := a.closeRedis(); err != nil {
			slog.Warn("Closing redis client", "error", err)
		}
	}
	closePool(a.dbconn)
}

func closePool(pool *pgxpool.Pool) {
	if pool != nil {
		pool.Close()
	}
}

// WindowOptions are the configured renderer defaults.
func (a *Application) WindowOptions() window.Options {
	if a.Config.RowHeight <= 0 {
		return window.DefaultOptions()
	}
	return window.Options{
		RowHeight: a.Config.RowHeight,
		Overscan:  a.Config.Overscan,
		Threshold: a.Config.WindowThreshold,
	}
}

// log returns the request-scoped logger placed in ctx by the middleware,
// or the default logger for background work.
func log(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(config.LoggerContextKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}
