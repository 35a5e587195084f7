// Package migrations applies the embedded schema migrations with
// golang-migrate.
package migrations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/vexscan/api/migrations"
	"github.com/vexscan/api/pkg/logger"
)

// Runner applies migrations from an fs.FS to a Postgres database.
type Runner struct {
	db     *sql.DB
	source fs.FS
	dir    string
	logger *logger.Logger
}

// NewRunner creates a runner for the embedded migration set.
func NewRunner(db *sql.DB, log *logger.Logger) *Runner {
	return NewRunnerFromFS(db, migrations.FS, ".", log)
}

// NewRunnerFromFS creates a runner reading migrations from dir inside source.
func NewRunnerFromFS(db *sql.DB, source fs.FS, dir string, log *logger.Logger) *Runner {
	return &Runner{db: db, source: source, dir: dir, logger: log.With("component", "migrations")}
}

// Status describes the schema version.
type Status struct {
	Version uint `json:"version" yaml:"version"`
	Dirty   bool `json:"dirty" yaml:"dirty"`
}

// open binds the migrator to a single pooled connection so that closing it
// hands the connection back without closing r.db.
func (r *Runner) open(ctx context.Context) (*migrate.Migrate, error) {
	conn, err := r.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	driver, err := postgres.WithConnection(ctx, conn, &postgres.Config{})
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("create postgres driver: %w", err)
	}
	src, err := iofs.New(r.source, r.dir)
	if err != nil {
		_ = driver.Close()
		return nil, fmt.Errorf("create source driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		_ = driver.Close()
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return m, nil
}

func (r *Runner) close(m *migrate.Migrate) {
	if sourceErr, dbErr := m.Close(); sourceErr != nil || dbErr != nil {
		r.logger.Warn("close migrator", "source_error", sourceErr, "db_error", dbErr)
	}
}

// Up applies all pending migrations.
func (r *Runner) Up(ctx context.Context) error {
	m, err := r.open(ctx)
	if err != nil {
		return err
	}
	defer r.close(m)

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			r.logger.Info("no pending migrations")
			return nil
		}
		return fmt.Errorf("apply migrations: %w", err)
	}
	r.logger.Info("migrations applied")
	return nil
}

// Down rolls back the given number of migrations.
func (r *Runner) Down(ctx context.Context, steps int) error {
	if steps < 1 {
		return fmt.Errorf("steps must be at least 1, got %d", steps)
	}
	m, err := r.open(ctx)
	if err != nil {
		return err
	}
	defer r.close(m)

	if err := m.Steps(-steps); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return nil
		}
		return fmt.Errorf("roll back migrations: %w", err)
	}
	r.logger.Info("migrations rolled back", "steps", steps)
	return nil
}

// Version reports the applied schema version. A database without any
// migration returns a zero Status.
func (r *Runner) Version(ctx context.Context) (Status, error) {
	m, err := r.open(ctx)
	if err != nil {
		return Status{}, err
	}
	defer r.close(m)

	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return Status{}, nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("read schema version: %w", err)
	}
	return Status{Version: v, Dirty: dirty}, nil
}
