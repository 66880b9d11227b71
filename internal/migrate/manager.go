// Package migrate applies the embedded schema migrations with goose.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/pressly/goose/v3"

	"alloxid.dev/internal/obs"
)

//go:embed sql/*.sql
var migrations embed.FS

const migrationsDir = "sql"

// seams for tests
var (
	gooseUp      = goose.UpContext
	gooseDown    = goose.DownContext
	gooseStatus  = goose.StatusContext
	gooseVersion = goose.GetDBVersionContext
)

var setupOnce sync.Once
var setupErr error

func setup() error {
	setupOnce.Do(func() {
		goose.SetBaseFS(migrations)
		goose.SetLogger(gooseLogger{obs.Logger()})
		setupErr = goose.SetDialect("pgx")
	})
	return setupErr
}

// Manager runs migrations against one database.
type Manager struct {
	db *sql.DB
}

// NewManager constructs a Manager.
func NewManager(db *sql.DB) *Manager {
	return &Manager{db: db}
}

// Up applies every pending migration.
func (m *Manager) Up(ctx context.Context) error {
	if err := setup(); err != nil {
		return err
	}
	if err := gooseUp(ctx, m.db, migrationsDir); err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// Down rolls back the most recent migration.
func (m *Manager) Down(ctx context.Context) error {
	if err := setup(); err != nil {
		return err
	}
	if err := gooseDown(ctx, m.db, migrationsDir); err != nil {
		return fmt.Errorf("migrate down: %w", err)
	}
	return nil
}

// Status logs the state of every migration.
func (m *Manager) Status(ctx context.Context) error {
	if err := setup(); err != nil {
		return err
	}
	return gooseStatus(ctx, m.db, migrationsDir)
}

// Version returns the current schema version.
func (m *Manager) Version(ctx context.Context) (int64, error) {
	if err := setup(); err != nil {
		return 0, err
	}
	return gooseVersion(ctx, m.db)
}

type gooseLogger struct{ l *slog.Logger }

func (g gooseLogger) Printf(format string, v ...any) {
	g.l.Info(fmt.Sprintf(format, v...), "component", "migrate")
}

func (g gooseLogger) Fatalf(format string, v ...any) {
	g.l.Error(fmt.Sprintf(format, v...), "component", "migrate")
	os.Exit(1)
}
