package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"automacro/internal/errs"
	"automacro/internal/script"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	dirPermissions    = 0750
	filePermissions   = 0600
	connectionTimeout = 5 * time.Second
	defaultRunLimit   = 50
	maxRunLimit       = 500
	timeLayout        = time.RFC3339Nano
)

// SQLite keeps scripts and playback history in a single SQLite file.
type SQLite struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens (creating if needed) the database at path and applies
// pending migrations. busyTimeout is in seconds.
func OpenSQLite(path string, busyTimeout int) (*SQLite, error) {
	if path == "" {
		return nil, errs.Invalid("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), dirPermissions); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	if busyTimeout <= 0 {
		busyTimeout = 5
	}
	connStr := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=on&_journal_mode=WAL&_synchronous=NORMAL",
		path, busyTimeout*1000)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("verifying database connection: %w", err)
	}
	s := &SQLite{db: db, path: path}
	if err := s.migrate(ctx); err != nil {
		db.Close() //nolint:errcheck
		return nil, err
	}
	_ = os.Chmod(path, filePermissions) //nolint:errcheck
	return s, nil
}

func (s *SQLite) Path() string { return s.path }

func (s *SQLite) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// HealthCheck runs a trivial query.
func (s *SQLite) HealthCheck(ctx context.Context) error {
	var one int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// migrate applies every embedded migration not yet recorded, oldest first,
// each in its own transaction.
func (s *SQLite) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    TEXT PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("creating schema_migrations: %w", err)
	}

	names, err := fs.Glob(migrationsFS, "migrations/*.up.sql")
	if err != nil {
		return fmt.Errorf("listing migrations: %w", err)
	}
	sort.Strings(names)

	for _, name := range names {
		version := strings.TrimSuffix(filepath.Base(name), ".up.sql")
		var applied int
		if err := s.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM schema_migrations WHERE version = ?", version).Scan(&applied); err != nil {
			return fmt.Errorf("checking migration %s: %w", version, err)
		}
		if applied > 0 {
			continue
		}
		body, err := migrationsFS.ReadFile(name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", version, err)
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("beginning migration %s: %w", version, err)
		}
		if _, err := tx.ExecContext(ctx, string(body)); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("applying migration %s: %w", version, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
			version, time.Now().UTC().Format(timeLayout)); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("recording migration %s: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %s: %w", version, err)
		}
	}
	return nil
}

func (s *SQLite) Save(ctx context.Context, sc *script.Script) error {
	if sc == nil {
		return errs.Invalid("nil script")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning save: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var previous int
	err = tx.QueryRowContext(ctx, "SELECT version FROM scripts WHERE id = ?", sc.ID).Scan(&previous)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("reading script version: %w", err)
	}
	if err := prepare(sc, previous, time.Now().UTC()); err != nil {
		return err
	}

	actions, err := json.Marshal(sc.Actions)
	if err != nil {
		return fmt.Errorf("marshalling actions: %w", err)
	}
	vars := sc.Variables
	if vars == nil {
		vars = map[string]any{}
	}
	variables, err := json.Marshal(vars)
	if err != nil {
		return fmt.Errorf("marshalling variables: %w", err)
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO scripts
		(id, name, version, repeat_count, loop, variables, actions, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			version = excluded.version,
			repeat_count = excluded.repeat_count,
			loop = excluded.loop,
			variables = excluded.variables,
			actions = excluded.actions,
			updated_at = excluded.updated_at`,
		sc.ID, sc.Name, sc.Version, sc.RepeatCount, sc.Loop,
		string(variables), string(actions),
		sc.CreatedAt.Format(timeLayout), sc.UpdatedAt.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("saving script: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing script: %w", err)
	}
	return nil
}

func (s *SQLite) Load(ctx context.Context, id string) (*script.Script, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, version, repeat_count, loop, variables, actions, created_at, updated_at
		FROM scripts WHERE id = ?`, id)
	sc, err := scanScript(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	return sc, err
}

func (s *SQLite) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, version, repeat_count, loop, variables, actions, created_at, updated_at
		FROM scripts ORDER BY updated_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("querying scripts: %w", err)
	}
	defer rows.Close()

	out := []Summary{}
	for rows.Next() {
		sc, err := scanScript(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, summarize(sc))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating scripts: %w", err)
	}
	return out, nil
}

func (s *SQLite) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM scripts WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting script: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanScript(row scanner) (*script.Script, error) {
	var (
		sc                   script.Script
		variables, actions   string
		createdAt, updatedAt string
	)
	err := row.Scan(&sc.ID, &sc.Name, &sc.Version, &sc.RepeatCount, &sc.Loop,
		&variables, &actions, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning script: %w", err)
	}
	if err := json.Unmarshal([]byte(actions), &sc.Actions); err != nil {
		return nil, fmt.Errorf("unmarshalling actions of %s: %w", sc.ID, err)
	}
	if err := json.Unmarshal([]byte(variables), &sc.Variables); err != nil {
		return nil, fmt.Errorf("unmarshalling variables of %s: %w", sc.ID, err)
	}
	if sc.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at of %s: %w", sc.ID, err)
	}
	if sc.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at of %s: %w", sc.ID, err)
	}
	return &sc, nil
}

func (s *SQLite) RecordRun(ctx context.Context, r Run) error {
	if r.ID == "" || r.ScriptID == "" {
		return errs.Invalid("run needs an id and a script id")
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO runs
		(id, script_id, state, executed, failed, iterations, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ScriptID, r.State, r.Executed, r.Failed, r.Iterations, r.Error,
		r.StartedAt.UTC().Format(timeLayout), r.FinishedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}
	return nil
}

// Runs returns the newest runs of a script first.
func (s *SQLite) Runs(ctx context.Context, scriptID string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = defaultRunLimit
	}
	if limit > maxRunLimit {
		limit = maxRunLimit
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, script_id, state, executed, failed, iterations, error, started_at, finished_at
		FROM runs WHERE script_id = ? ORDER BY started_at DESC LIMIT ?`, scriptID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	out := make([]Run, 0, limit)
	for rows.Next() {
		var r Run
		var started, finished string
		if err := rows.Scan(&r.ID, &r.ScriptID, &r.State, &r.Executed, &r.Failed, &r.Iterations,
			&r.Error, &started, &finished); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		if r.StartedAt, err = time.Parse(timeLayout, started); err != nil {
			return nil, fmt.Errorf("parsing started_at: %w", err)
		}
		if r.FinishedAt, err = time.Parse(timeLayout, finished); err != nil {
			return nil, fmt.Errorf("parsing finished_at: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating runs: %w", err)
	}
	return out, nil
}
