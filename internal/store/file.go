package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"automacro/internal/errs"
	"automacro/internal/script"
)

const scriptExt = ".json"

// FileRepository keeps one JSON document per script in a directory.
type FileRepository struct {
	dir string
	mu  sync.RWMutex
}

func NewFileRepository(dir string) (*FileRepository, error) {
	if dir == "" {
		return nil, errs.Invalid("script directory is required")
	}
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return nil, fmt.Errorf("creating script directory: %w", err)
	}
	return &FileRepository{dir: dir}, nil
}

func (r *FileRepository) path(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", errs.Invalid("bad script id %q", id)
	}
	return filepath.Join(r.dir, id+scriptExt), nil
}

func (r *FileRepository) Save(_ context.Context, sc *script.Script) error {
	if sc == nil {
		return errs.Invalid("nil script")
	}
	p, err := r.path(sc.ID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	previous := 0
	if old, err := readScript(p); err == nil {
		previous = old.Version
	}
	if err := prepare(sc, previous, time.Now().UTC()); err != nil {
		return err
	}
	data, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding script: %w", err)
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, filePermissions); err != nil {
		return fmt.Errorf("writing script: %w", err)
	}
	return os.Rename(tmp, p)
}

func (r *FileRepository) Load(_ context.Context, id string) (*script.Script, error) {
	p, err := r.path(id)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	sc, err := readScript(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, notFound(id)
	}
	return sc, err
}

func (r *FileRepository) List(context.Context) ([]Summary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("reading script directory: %w", err)
	}
	out := []Summary{}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != scriptExt {
			continue
		}
		sc, err := readScript(filepath.Join(r.dir, e.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, summarize(sc))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *FileRepository) Delete(_ context.Context, id string) error {
	p, err := r.path(id)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := os.Remove(p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return notFound(id)
		}
		return fmt.Errorf("deleting script: %w", err)
	}
	return nil
}

func (r *FileRepository) Close() error { return nil }

func readScript(path string) (*script.Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc script.Script
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", filepath.Base(path), err)
	}
	return &sc, nil
}
