package e2e

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sweater-ventures/optimist/api"
	"github.com/sweater-ventures/optimist/app"
	"github.com/sweater-ventures/optimist/config"
	"github.com/sweater-ventures/optimist/db"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		fmt.Println("skipping e2e tests (-short flag)")
		os.Exit(0)
	}

	postgres := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(15433).
			Database("optimist_test"),
	)

	if err := postgres.Start(); err != nil {
		log.Fatalf("failed to start embedded postgres: %v", err)
	}

	pool, err := pgxpool.New(context.Background(),
		"host=localhost port=15433 user=postgres password=postgres dbname=optimist_test sslmode=disable pool_max_conns=10",
	)
	if err != nil {
		postgres.Stop()
		log.Fatalf("failed to connect to embedded postgres: %v", err)
	}

	if err := runMigrations(pool); err != nil {
		pool.Close()
		postgres.Stop()
		log.Fatalf("failed to run migrations: %v", err)
	}

	testPool = pool

	code := m.Run()

	pool.Close()
	if err := postgres.Stop(); err != nil {
		log.Printf("warning: failed to stop embedded postgres: %v", err)
	}
	os.Exit(code)
}

// runMigrations reads all schema/*.sql files and executes the -- +migrate Up sections.
func runMigrations(pool *pgxpool.Pool) error {
	schemaDir := filepath.Join("..", "..", "schema")
	entries, err := os.ReadDir(schemaDir)
	if err != nil {
		return fmt.Errorf("reading schema dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, f := range files {
		content, err := os.ReadFile(filepath.Join(schemaDir, f))
		if err != nil {
			return fmt.Errorf("reading %s: %w", f, err)
		}

		upSQL := extractMigrateUp(string(content))
		if upSQL == "" {
			continue
		}

		if _, err := pool.Exec(context.Background(), upSQL); err != nil {
			return fmt.Errorf("executing migration %s: %w", f, err)
		}
	}
	return nil
}

// extractMigrateUp extracts the SQL between "-- +migrate Up" and "-- +migrate Down" markers.
func extractMigrateUp(content string) string {
	scanner := bufio.NewScanner(strings.NewReader(content))
	var lines []string
	inUp := false

	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)

		if trimmed == "-- +migrate Up" {
			inUp = true
			continue
		}
		if trimmed == "-- +migrate Down" {
			break
		}
		if inUp {
			lines = append(lines, line)
		}
	}

	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func truncateAll(t *testing.T) {
	t.Helper()
	if _, err := testPool.Exec(context.Background(), "TRUNCATE records"); err != nil {
		t.Fatalf("truncateAll: %v", err)
	}
}

func testConfig(driver string) config.AppConfig {
	return config.AppConfig{
		BusDriver:       driver,
		BusChannel:      "optimist_e2e",
		DedupeSize:      256,
		SSEKeepAlive:    time.Second,
		MutationPolicy:  "queue",
		RowHeight:       38,
		Overscan:        5,
		WindowThreshold: 20,
		PageLimit:       50,
	}
}

// newTestApp returns an *app.Application on the embedded database, with
// invalidations on an in-memory bus.
func newTestApp(t *testing.T) *app.Application {
	t.Helper()
	return newTestAppOnBus(t, "memory", app.NewEventBus())
}

// newPgBusApp returns an *app.Application whose invalidations travel over
// LISTEN/NOTIFY, as a separate instance would.
func newPgBusApp(t *testing.T) *app.Application {
	t.Helper()
	bus, err := app.NewPgBus(context.Background(), testPool, "optimist_e2e")
	if err != nil {
		t.Fatalf("NewPgBus: %v", err)
	}
	return newTestAppOnBus(t, "postgres", bus)
}

func newTestAppOnBus(t *testing.T, driver string, bus app.Bus) *app.Application {
	t.Helper()
	validator, err := app.NewValidator(nil)
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	queries := db.New(testPool)
	optimist := app.NewApplication(testConfig(driver), app.NewPostgresRemote(queries, validator), bus, validator)
	optimist.DB = queries
	t.Cleanup(optimist.Close)
	return optimist
}

// newTestRouter returns an *http.ServeMux with API routes registered.
func newTestRouter(t *testing.T, optimist *app.Application) *http.ServeMux {
	t.Helper()
	router := http.NewServeMux()
	api.AddApis(optimist, router)
	return router
}
