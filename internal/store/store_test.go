package store_test

import (
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"automacro/internal/config"
	"automacro/internal/errs"
	"automacro/internal/script"
	"automacro/internal/store"
)

func sample(name string) *script.Script {
	sc := script.New(name)
	sc.Append(script.KeyDown(script.VKA), script.KeyUp(script.VKA).After(40), script.MoveTo(3, 4).After(10))
	sc.Variables = map[string]any{"target": "editor"}
	return sc
}

func repositories(t *testing.T) map[string]store.Repository {
	t.Helper()
	dir := t.TempDir()
	sqlite, err := store.OpenSQLite(filepath.Join(dir, "db", "scripts.db"), 1)
	require.NoError(t, err)
	file, err := store.NewFileRepository(filepath.Join(dir, "scripts"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sqlite.Close()
		_ = file.Close()
	})
	return map[string]store.Repository{"sqlite": sqlite, "file": file}
}

func TestRepositoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			sc := sample("login")
			require.NoError(t, repo.Save(ctx, sc))
			assert.Equal(t, 1, sc.Version)

			got, err := repo.Load(ctx, sc.ID)
			require.NoError(t, err)
			assert.Equal(t, sc.Name, got.Name)
			require.Len(t, got.Actions, len(sc.Actions))
			for i, a := range sc.Actions {
				b := got.Actions[i]
				assert.Equal(t, a.ID, b.ID)
				assert.Equal(t, a.Kind, b.Kind)
				assert.Equal(t, a.KeyCode, b.KeyCode)
				assert.Equal(t, a.X, b.X)
				assert.Equal(t, a.DelayMillis, b.DelayMillis)
				assert.True(t, a.Timestamp.Equal(b.Timestamp))
			}
			assert.Equal(t, "editor", got.Variables["target"])
			assert.Equal(t, 1, got.RepeatCount)
			assert.WithinDuration(t, sc.UpdatedAt, got.UpdatedAt, time.Millisecond)
		})
	}
}

func TestRepositorySaveBumpsVersion(t *testing.T) {
	ctx := context.Background()
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			sc := sample("bump")
			require.NoError(t, repo.Save(ctx, sc))
			sc.Append(script.Wait(5))
			require.NoError(t, repo.Save(ctx, sc))

			got, err := repo.Load(ctx, sc.ID)
			require.NoError(t, err)
			assert.Equal(t, 2, got.Version)
			assert.Len(t, got.Actions, 4)
		})
	}
}

func TestRepositoryListAndDelete(t *testing.T) {
	ctx := context.Background()
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			a, b := sample("a"), sample("b")
			require.NoError(t, repo.Save(ctx, a))
			require.NoError(t, repo.Save(ctx, b))

			list, err := repo.List(ctx)
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, 3, list[0].Actions)
			assert.Equal(t, 50*time.Millisecond, list[0].Duration)

			require.NoError(t, repo.Delete(ctx, a.ID))
			assert.ErrorIs(t, repo.Delete(ctx, a.ID), errs.ErrNotFound)
			_, err = repo.Load(ctx, a.ID)
			assert.ErrorIs(t, err, errs.ErrNotFound)

			list, err = repo.List(ctx)
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, b.ID, list[0].ID)
		})
	}
}

func TestRepositoryRejectsInvalidScripts(t *testing.T) {
	ctx := context.Background()
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, repo.Save(ctx, nil), errs.ErrInvalidArgument)
			bad := sample("bad")
			bad.Actions = append(bad.Actions, script.Action{ID: "z", Kind: "nope"})
			assert.ErrorIs(t, repo.Save(ctx, bad), errs.ErrInvalidArgument)
		})
	}
}

func TestFileRepositoryRejectsPathIDs(t *testing.T) {
	repo, err := store.NewFileRepository(t.TempDir())
	require.NoError(t, err)
	_, err = repo.Load(context.Background(), "../etc/passwd")
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func TestSQLiteRuns(t *testing.T) {
	ctx := context.Background()
	db, err := store.OpenSQLite(filepath.Join(t.TempDir(), "runs.db"), 1)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.HealthCheck(ctx))

	sc := sample("runs")
	require.NoError(t, db.Save(ctx, sc))
	start := time.Now().UTC()
	for i, state := range []string{"completed", "cancelled"} {
		require.NoError(t, db.RecordRun(ctx, store.Run{
			ID:         state,
			ScriptID:   sc.ID,
			State:      state,
			Executed:   3 - i,
			StartedAt:  start.Add(time.Duration(i) * time.Second),
			FinishedAt: start.Add(time.Duration(i)*time.Second + 100*time.Millisecond),
		}))
	}
	runs, err := db.Runs(ctx, sc.ID, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "cancelled", runs[0].State)
	assert.Equal(t, 3, runs[1].Executed)

	require.NoError(t, db.Delete(ctx, sc.ID))
	runs, err = db.Runs(ctx, sc.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, runs, "runs cascade with their script")
}

func TestSQLiteReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "scripts.db")
	db, err := store.OpenSQLite(path, 1)
	require.NoError(t, err)
	sc := sample("persist")
	require.NoError(t, db.Save(ctx, sc))
	require.NoError(t, db.Close())

	db, err = store.OpenSQLite(path, 1)
	require.NoError(t, err)
	defer db.Close()
	got, err := db.Load(ctx, sc.ID)
	require.NoError(t, err)
	assert.Equal(t, sc.Name, got.Name)
}

func TestOpenPicksDriver(t *testing.T) {
	dir := t.TempDir()
	repo, err := store.Open(config.StorageConfig{Driver: "file", Path: dir})
	require.NoError(t, err)
	assert.IsType(t, &store.FileRepository{}, repo)

	repo, err = store.Open(config.StorageConfig{Driver: "sqlite", Path: filepath.Join(dir, "x.db")})
	require.NoError(t, err)
	assert.IsType(t, &store.SQLite{}, repo)
	require.NoError(t, repo.Close())

	_, err = store.Open(config.StorageConfig{Driver: "postgres", Path: dir})
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func checker(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(0)
			if (x/2+y/2)%2 == 0 {
				v = 255
			}
			img.Set(x, y, color.RGBA{v, v, v, 255})
		}
	}
	return img
}

func TestTemplatesRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	ts, err := store.NewTemplates(dir)
	require.NoError(t, err)

	meta := store.TemplateMeta{ID: "ok-button", Threshold: 0.9, Region: &store.Region{X: 10, Y: 20, W: 100, H: 50}}
	require.NoError(t, ts.Save(ctx, meta, checker(8, 6)))
	assert.FileExists(t, filepath.Join(dir, "ok-button.png"))
	assert.FileExists(t, filepath.Join(dir, "ok-button.yaml"))

	tpl, err := ts.Load(ctx, "ok-button")
	require.NoError(t, err)
	assert.Equal(t, image.Pt(8, 6), tpl.Size())
	assert.Equal(t, 0.9, tpl.Threshold)
	require.NotNil(t, tpl.Region)
	assert.Equal(t, image.Rect(10, 20, 110, 70), *tpl.Region)

	list, err := ts.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 8, list[0].Width)

	all, err := ts.LoadAll(ctx, []string{"ok-button"})
	require.NoError(t, err)
	assert.Contains(t, all, "ok-button")

	require.NoError(t, ts.Delete(ctx, "ok-button"))
	_, err = ts.Load(ctx, "ok-button")
	assert.ErrorIs(t, err, errs.ErrNotFound)
	assert.ErrorIs(t, ts.Delete(ctx, "ok-button"), errs.ErrNotFound)
}

func TestTemplatesWithoutSidecar(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	ts, err := store.NewTemplates(dir)
	require.NoError(t, err)
	require.NoError(t, ts.Save(ctx, store.TemplateMeta{ID: "bare"}, checker(4, 4)))
	require.NoError(t, os.Remove(filepath.Join(dir, "bare.yaml")))

	tpl, err := ts.Load(ctx, "bare")
	require.NoError(t, err)
	assert.Nil(t, tpl.Region)
	assert.Zero(t, tpl.Threshold)
}

func TestTemplatesRejectBadInput(t *testing.T) {
	ctx := context.Background()
	ts, err := store.NewTemplates(t.TempDir())
	require.NoError(t, err)
	assert.ErrorIs(t, ts.Save(ctx, store.TemplateMeta{ID: "x"}, nil), errs.ErrInvalidArgument)
	assert.ErrorIs(t, ts.Save(ctx, store.TemplateMeta{ID: "x", Threshold: 2}, checker(2, 2)), errs.ErrInvalidArgument)
	assert.ErrorIs(t, ts.Save(ctx, store.TemplateMeta{ID: "a/b"}, checker(2, 2)), errs.ErrInvalidArgument)
}
