package models

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemStore(t *testing.T) (*FileStore, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	store, err := NewFileStore(fs, "/data/projects")
	require.NoError(t, err)
	return store, fs
}

func TestFileStore_CreateLoadSave(t *testing.T) {
	store, fs := newMemStore(t)
	ctx := context.Background()

	meta := Project{ID: "cat-20260101-000000", Title: "cat", CreatedAt: "20260101-000000", Status: ProjectStatusCreated, Mode: ProjectModeStory}
	state := DefaultState()
	state.Title = "cat"
	require.NoError(t, store.Create(ctx, meta, state))

	gotMeta, err := store.LoadMeta(ctx, meta.ID)
	require.NoError(t, err)
	assert.Equal(t, meta, gotMeta)

	gotState, err := store.LoadState(ctx, meta.ID)
	require.NoError(t, err)
	assert.Equal(t, state, gotState)

	gotState.Story = "a story"
	require.NoError(t, store.SaveState(ctx, meta.ID, gotState))
	reloaded, err := store.LoadState(ctx, meta.ID)
	require.NoError(t, err)
	assert.Equal(t, "a story", reloaded.Story)

	// 临时文件不应残留
	ok, err := afero.Exists(fs, filepath.Join("/data/projects", meta.ID, "state.json.tmp"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileStore_CreateTwice(t *testing.T) {
	store, _ := newMemStore(t)
	ctx := context.Background()
	meta := Project{ID: "p1"}
	require.NoError(t, store.Create(ctx, meta, DefaultState()))
	assert.ErrorIs(t, store.Create(ctx, meta, DefaultState()), ErrProjectExists)
}

func TestFileStore_NotFound(t *testing.T) {
	store, _ := newMemStore(t)
	ctx := context.Background()

	_, err := store.LoadMeta(ctx, "missing")
	assert.ErrorIs(t, err, ErrProjectNotFound)
	_, err = store.LoadState(ctx, "missing")
	assert.ErrorIs(t, err, ErrProjectNotFound)
	assert.ErrorIs(t, store.SaveState(ctx, "missing", DefaultState()), ErrProjectNotFound)
	assert.ErrorIs(t, store.Delete(ctx, "missing"), ErrProjectNotFound)
	_, err = store.LoadState(ctx, "../escape")
	assert.ErrorIs(t, err, ErrProjectNotFound)
}

func TestFileStore_MissingFilesFallBackToDefaults(t *testing.T) {
	store, fs := newMemStore(t)
	ctx := context.Background()
	require.NoError(t, fs.MkdirAll("/data/projects/bare", 0755))

	meta, err := store.LoadMeta(ctx, "bare")
	require.NoError(t, err)
	assert.Equal(t, "bare", meta.Title)
	assert.Equal(t, ProjectModeStory, meta.Mode)

	state, err := store.LoadState(ctx, "bare")
	require.NoError(t, err)
	assert.Equal(t, DefaultState(), state)
}

func TestFileStore_PartialDocumentKeepsDefaults(t *testing.T) {
	store, fs := newMemStore(t)
	ctx := context.Background()
	require.NoError(t, fs.MkdirAll("/data/projects/old", 0755))
	require.NoError(t, afero.WriteFile(fs, "/data/projects/old/state.json", []byte(`{"story":"s","image_progress":{"status":"completed"}}`), 0644))

	state, err := store.LoadState(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, "s", state.Story)
	assert.Equal(t, 1, state.MinShotsPerScene)
	assert.Equal(t, "completed", state.ImageProgress.Status)
	assert.Equal(t, []string{}, state.SavedResults)
}

func TestFileStore_ListAndDelete(t *testing.T) {
	store, _ := newMemStore(t)
	ctx := context.Background()
	for _, id := range []string{"b", "a", "c"} {
		require.NoError(t, store.Create(ctx, Project{ID: id}, DefaultState()))
	}

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids)

	require.NoError(t, store.Delete(ctx, "b"))
	ids, err = store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, ids)
	_, err = store.LoadState(ctx, "b")
	assert.ErrorIs(t, err, ErrProjectNotFound)
}
