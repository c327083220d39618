package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres rejects NOTIFY payloads of 8000 bytes or more.
const maxNotifyPayload = 7999

// PgBus carries invalidations over Postgres LISTEN/NOTIFY. One pooled
// connection is held for LISTEN; publishing uses any pooled connection.
type PgBus struct {
	pool    *pgxpool.Pool
	channel string
	local   *EventBus
	cancel  context.CancelFunc
	done    chan struct{}
}

var _ Bus = (*PgBus)(nil)

// NewPgBus starts listening on channel before returning, so nothing
// published after it returns is missed.
func NewPgBus(ctx context.Context, pool *pgxpool.Pool, channel string) (*PgBus, error) {
	b := &PgBus{
		pool:    pool,
		channel: channel,
		local:   NewEventBus(),
		done:    make(chan struct{}),
	}
	conn, err := b.listen(ctx)
	if err != nil {
		return nil, err
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b.cancel = cancel
	go b.run(runCtx, conn)
	log(ctx).Info("Listening for invalidations", slog.String("driver", "postgres"), slog.String("channel", channel))
	return b, nil
}

func (b *PgBus) listen(ctx context.Context) (*pgxpool.Conn, error) {
	conn, err := b.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring listen connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{b.channel}.Sanitize()); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listening on %s: %w", b.channel, err)
	}
	return conn, nil
}

func (b *PgBus) run(ctx context.Context, conn *pgxpool.Conn) {
	defer close(b.done)
	backoff := 100 * time.Millisecond
	for {
		if conn == nil {
			var err error
			conn, err = b.listen(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log(ctx).Warn("Reconnecting invalidation listener", slog.Any("error", err), slog.Duration("backoff", backoff))
				select {
				case <-ctx.Done():
					return
				case <-time.After(backoff):
				}
				backoff = min(backoff*2, 5*time.Second)
				continue
			}
			backoff = 100 * time.Millisecond
			_ = b.local.Publish(ctx, resyncMessage())
			log(ctx).Info("Invalidation listener reconnected", slog.String("channel", b.channel))
		}

		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			// A LISTENing connection must not go back to the pool.
			_ = conn.Hijack().Close(context.Background())
			conn = nil
			if ctx.Err() != nil {
				return
			}
			log(ctx).Warn("Invalidation listener lost its connection", slog.Any("error", err))
			continue
		}

		var msg Invalidation
		if err := json.Unmarshal([]byte(n.Payload), &msg); err != nil {
			log(ctx).Warn("Dropping malformed invalidation", slog.Any("error", err))
			continue
		}
		_ = b.local.Publish(ctx, msg)
	}
}

func (b *PgBus) Publish(ctx context.Context, msg Invalidation) error {
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now()
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding invalidation: %w", err)
	}
	if len(payload) > maxNotifyPayload {
		return fmt.Errorf("invalidation payload of %d bytes exceeds the notify limit", len(payload))
	}
	if _, err := b.pool.Exec(ctx, "SELECT pg_notify($1, $2)", b.channel, string(payload)); err != nil {
		return fmt.Errorf("notifying %s: %w", b.channel, err)
	}
	return nil
}

func (b *PgBus) Subscribe() (<-chan Invalidation, func()) {
	return b.local.Subscribe()
}

func (b *PgBus) Close() error {
	b.cancel()
	<-b.done
	return b.local.Close()
}
