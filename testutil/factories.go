package testutil

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/sweater-ventures/optimist/app"
	"github.com/sweater-ventures/optimist/config"
	"github.com/sweater-ventures/optimist/db"
)

// NewTimestamp returns a pgtype.Timestamptz set to now.
func NewTimestamp() pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: time.Now().UTC(), Valid: true}
}

// RecordOpt is a functional option for building test Records.
type RecordOpt func(*db.Record)

// NewRecord creates an Active worker record with sensible defaults.
func NewRecord(opts ...RecordOpt) db.Record {
	r := db.Record{
		Resource:  "worker",
		ID:        "w1",
		Data:      []byte(`{"first_name":"Ada","last_name":"Lovelace","status":"Active"}`),
		Version:   1,
		CreatedAt: NewTimestamp(),
		UpdatedAt: NewTimestamp(),
	}
	for _, opt := range opts {
		opt(&r)
	}
	return r
}

// WorkerJSON renders a worker document as the API returns it.
func WorkerJSON(id, status string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"id":%q,"first_name":"Ada","last_name":"Lovelace","status":%q,"version":1}`, id, status))
}

// TestConfig returns the configuration defaults used by tests.
func TestConfig() config.AppConfig {
	return config.AppConfig{
		Port:            8006,
		BusDriver:       "memory",
		BusChannel:      "optimist_test",
		DedupeSize:      128,
		SSEKeepAlive:    time.Second,
		MutationPolicy:  string(app.PolicyQueue),
		RowHeight:       38,
		Overscan:        5,
		WindowThreshold: 20,
		PageLimit:       50,
	}
}

// AppOpt is a functional option for building test Applications.
type AppOpt func(*config.AppConfig)

// WithSecret requires X-Optimist-Secret to match plaintext on writes.
func WithSecret(plaintext string) AppOpt {
	return func(c *config.AppConfig) {
		hash, err := app.HashSecret(plaintext)
		if err != nil {
			panic("testutil: failed to hash secret: " + err.Error())
		}
		c.APISecretHash = hash
	}
}

// WithPolicy sets the same-key mutation policy.
func WithPolicy(policy app.MutationPolicy) AppOpt {
	return func(c *config.AppConfig) {
		c.MutationPolicy = string(policy)
	}
}

// NewTestApp creates an app.Application on an in-memory bus around the
// given remote. Call Close when done.
func NewTestApp(remote app.RecordRemote, opts ...AppOpt) *app.Application {
	return NewTestAppOnBus(remote, app.NewEventBus(), opts...)
}

// NewTestAppOnBus is NewTestApp sharing bus with other instances.
func NewTestAppOnBus(remote app.RecordRemote, bus app.Bus, opts ...AppOpt) *app.Application {
	cfg := TestConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	validator, err := app.NewValidator(nil)
	if err != nil {
		panic("testutil: failed to compile schemas: " + err.Error())
	}
	return app.NewApplication(cfg, remote, bus, validator)
}
