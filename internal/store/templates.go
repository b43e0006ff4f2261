package store

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"automacro/internal/errs"
	"automacro/internal/vision"
)

// TemplateMeta is the YAML sidecar stored next to each template image.
type TemplateMeta struct {
	ID          string    `yaml:"id" json:"id"`
	Description string    `yaml:"description,omitempty" json:"description,omitempty"`
	Threshold   float64   `yaml:"threshold,omitempty" json:"threshold,omitempty"`
	Region      *Region   `yaml:"region,omitempty" json:"region,omitempty"`
	Width       int       `yaml:"width" json:"width"`
	Height      int       `yaml:"height" json:"height"`
	CreatedAt   time.Time `yaml:"created_at" json:"created_at"`
}

type Region struct {
	X int `yaml:"x" json:"x"`
	Y int `yaml:"y" json:"y"`
	W int `yaml:"w" json:"w"`
	H int `yaml:"h" json:"h"`
}

func (r *Region) rect() *image.Rectangle {
	if r == nil {
		return nil
	}
	rect := image.Rect(r.X, r.Y, r.X+r.W, r.Y+r.H)
	return &rect
}

// Templates stores template images as <id>.png with a <id>.yaml sidecar.
type Templates struct {
	dir string
	mu  sync.RWMutex
}

func NewTemplates(dir string) (*Templates, error) {
	if dir == "" {
		return nil, errs.Invalid("template directory is required")
	}
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return nil, fmt.Errorf("creating template directory: %w", err)
	}
	return &Templates{dir: dir}, nil
}

func (t *Templates) paths(id string) (img, meta string, err error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", "", errs.Invalid("bad template id %q", id)
	}
	base := filepath.Join(t.dir, id)
	return base + ".png", base + ".yaml", nil
}

// Save writes img as a PNG along with its metadata.
func (t *Templates) Save(_ context.Context, meta TemplateMeta, img image.Image) error {
	if img == nil || img.Bounds().Empty() {
		return errs.Invalid("template %q: empty image", meta.ID)
	}
	if meta.Threshold < 0 || meta.Threshold > 1 {
		return errs.Invalid("template %q: threshold %v outside [0,1]", meta.ID, meta.Threshold)
	}
	imgPath, metaPath, err := t.paths(meta.ID)
	if err != nil {
		return err
	}
	meta.Width, meta.Height = img.Bounds().Dx(), img.Bounds().Dy()
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now().UTC()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	f, err := os.CreateTemp(t.dir, meta.ID+".*.png")
	if err != nil {
		return fmt.Errorf("creating template file: %w", err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		os.Remove(f.Name())
		return fmt.Errorf("encoding template: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return fmt.Errorf("writing template: %w", err)
	}
	if err := os.Rename(f.Name(), imgPath); err != nil {
		return fmt.Errorf("storing template: %w", err)
	}

	data, err := yaml.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encoding template metadata: %w", err)
	}
	if err := os.WriteFile(metaPath, data, filePermissions); err != nil {
		return fmt.Errorf("writing template metadata: %w", err)
	}
	return nil
}

// Load decodes a template and applies its sidecar threshold and region. A
// missing sidecar is not an error.
func (t *Templates) Load(_ context.Context, id string) (*vision.Template, error) {
	imgPath, metaPath, err := t.paths(id)
	if err != nil {
		return nil, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	data, err := os.ReadFile(imgPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: template %q", errs.ErrNotFound, id)
		}
		return nil, fmt.Errorf("reading template: %w", err)
	}
	tpl, err := vision.DecodeTemplate(id, data)
	if err != nil {
		return nil, err
	}
	meta, err := readMeta(metaPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		tpl.Threshold = meta.Threshold
		tpl.Region = meta.Region.rect()
	}
	return tpl, nil
}

// LoadAll loads every id, failing on the first one that is missing.
func (t *Templates) LoadAll(ctx context.Context, ids []string) (map[string]*vision.Template, error) {
	out := make(map[string]*vision.Template, len(ids))
	for _, id := range ids {
		tpl, err := t.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = tpl
	}
	return out, nil
}

// List returns the metadata of every stored template, by id.
func (t *Templates) List(context.Context) ([]TemplateMeta, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	entries, err := os.ReadDir(t.dir)
	if err != nil {
		return nil, fmt.Errorf("reading template directory: %w", err)
	}
	out := []TemplateMeta{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ".png" {
			continue
		}
		id := strings.TrimSuffix(name, ".png")
		meta, err := readMeta(filepath.Join(t.dir, id+".yaml"))
		if err != nil {
			meta = TemplateMeta{ID: id}
		}
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *Templates) Delete(_ context.Context, id string) error {
	imgPath, metaPath, err := t.paths(id)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := os.Remove(imgPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: template %q", errs.ErrNotFound, id)
		}
		return fmt.Errorf("deleting template: %w", err)
	}
	if err := os.Remove(metaPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("deleting template metadata: %w", err)
	}
	return nil
}

func readMeta(path string) (TemplateMeta, error) {
	var meta TemplateMeta
	data, err := os.ReadFile(path)
	if err != nil {
		return meta, err
	}
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("decoding %s: %w", filepath.Base(path), err)
	}
	return meta, nil
}
