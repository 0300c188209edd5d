package snapshot

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordedStore(t *testing.T, entries map[string]string) *Store {
	t.Helper()

	ctx := context.Background()
	rec := NewRecorder()
	for u, data := range entries {
		rec.Record(ctx, u, json.RawMessage(data))
	}
	return rec.Store()
}

func TestSaveAndLoadLatestRoundTrip(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	store := recordedStore(t, map[string]string{
		"/groups/wg":        `{"total":1}`,
		"/users/1":          `{"name":"Alice"}`,
		"/affiliations/100": `{"name":"Acme Corp","is-member":true}`,
	})

	runDir, updated, err := Save(ctx, root, store)
	require.NoError(t, err)
	assert.True(t, updated)
	assert.DirExists(t, runDir)

	loaded, err := LoadLatest(ctx, root)
	require.NoError(t, err)
	assert.JSONEq(t, `{"total":1}`, string(loaded.Get(ctx, "/groups/wg")))
	assert.JSONEq(t, `{"name":"Alice"}`, string(loaded.Get(ctx, "/users/1")))
	assert.Equal(t, store.Len(), loaded.Len())
}

func TestSaveSkipsWhenDataIdentical(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	store := recordedStore(t, map[string]string{"/groups/wg": `{"total":1}`})
	_, updated, err := Save(ctx, root, store)
	require.NoError(t, err)
	require.True(t, updated)

	entriesBefore := dirEntries(t, root)

	// Same data recorded at a different time must compare identical.
	again := recordedStore(t, map[string]string{"/groups/wg": `{"total": 1}`})
	runDir, updated, err := Save(ctx, root, again)
	require.NoError(t, err)
	assert.False(t, updated)
	assert.Empty(t, runDir)
	assert.Equal(t, entriesBefore, dirEntries(t, root))
}

func TestSaveReplacesLatestOnChange(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	first := recordedStore(t, map[string]string{"/groups/wg": `{"total":1}`})
	_, updated, err := Save(ctx, root, first)
	require.NoError(t, err)
	require.True(t, updated)

	second := recordedStore(t, map[string]string{"/groups/wg": `{"total":2}`})
	_, updated, err = Save(ctx, root, second)
	require.NoError(t, err)
	assert.True(t, updated)

	loaded, err := LoadLatest(ctx, root)
	require.NoError(t, err)
	assert.JSONEq(t, `{"total":2}`, string(loaded.Get(ctx, "/groups/wg")))
}

func TestLoadMissingGroupsDocumentIsFatal(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	_, err := Load(ctx, dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoSnapshot)
}

func TestLoadToleratesMissingSecondaryDocuments(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	entries := map[string]Entry{
		"/groups/wg": {Data: json.RawMessage(`{"total":1}`)},
	}
	data, err := json.Marshal(entries)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "groups.json"), data, 0o644))

	store, err := Load(ctx, dir)
	require.NoError(t, err)
	assert.NotNil(t, store.Get(ctx, "/groups/wg"))
	assert.Empty(t, store.URLs(CategoryUsers))
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}
