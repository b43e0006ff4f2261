// Package store persists scripts, playback history and image templates.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"automacro/internal/config"
	"automacro/internal/errs"
	"automacro/internal/script"
)

// Summary is a script without its actions.
type Summary struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Version   int           `json:"version"`
	Actions   int           `json:"actions"`
	Duration  time.Duration `json:"duration"`
	Loop      bool          `json:"loop"`
	UpdatedAt time.Time     `json:"updated_at"`
}

func summarize(s *script.Script) Summary {
	return Summary{
		ID:        s.ID,
		Name:      s.Name,
		Version:   s.Version,
		Actions:   len(s.Actions),
		Duration:  s.Duration(),
		Loop:      s.Loop,
		UpdatedAt: s.UpdatedAt,
	}
}

// Repository stores scripts. Save replaces an existing script with the same ID
// and bumps its version.
type Repository interface {
	Save(ctx context.Context, s *script.Script) error
	Load(ctx context.Context, id string) (*script.Script, error)
	List(ctx context.Context) ([]Summary, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

// Run is one finished playback.
type Run struct {
	ID         string    `json:"id"`
	ScriptID   string    `json:"script_id"`
	State      string    `json:"state"`
	Executed   int       `json:"executed"`
	Failed     int       `json:"failed"`
	Iterations int       `json:"iterations"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// RunRecorder is implemented by repositories that keep playback history.
type RunRecorder interface {
	RecordRun(ctx context.Context, r Run) error
	Runs(ctx context.Context, scriptID string, limit int) ([]Run, error)
}

// Open returns the repository the storage section asks for.
func Open(cfg config.StorageConfig) (Repository, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "sqlite":
		return OpenSQLite(cfg.Path, cfg.BusyTimeout)
	case "file":
		return NewFileRepository(cfg.Path)
	default:
		return nil, errs.Invalid("unknown storage driver %q", cfg.Driver)
	}
}

func notFound(id string) error {
	return fmt.Errorf("%w: script %q", errs.ErrNotFound, id)
}

// prepare validates s and stamps it before it is written.
func prepare(s *script.Script, previous int, now time.Time) error {
	if s == nil {
		return errs.Invalid("nil script")
	}
	if s.ID == "" {
		return errs.Invalid("script without id")
	}
	if err := s.Validate(); err != nil {
		return err
	}
	if previous > 0 {
		s.Version = previous + 1
	} else if s.Version < 1 {
		s.Version = 1
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	return nil
}
