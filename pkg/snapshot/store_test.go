package snapshot

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategoryForURL(t *testing.T) {
	tests := []struct {
		url      string
		category Category
		ok       bool
	}{
		{"https://api.w3.org/groups/wg", CategoryGroups, true},
		{"/groups/wg/g1/participations", CategoryGroups, true},
		{"/participations/p1", CategoryParticipations, true},
		{"/participations/p1/participants", CategoryParticipations, true},
		{"/users/1/affiliations", CategoryUsers, true},
		{"/affiliations/100/participants", CategoryAffiliations, true},
		{"/services/42", "", false},
		{"/", "", false},
	}

	for _, tc := range tests {
		cat, ok := CategoryForURL(tc.url)
		assert.Equal(t, tc.ok, ok, tc.url)
		assert.Equal(t, tc.category, cat, tc.url)
	}
}

func TestCanonicalURL(t *testing.T) {
	assert.Equal(t, "/groups/wg",
		CanonicalURL("https://api.w3.org/groups/wg?items=500&page=2"))
	assert.Equal(t, "/groups/wg?embed=true",
		CanonicalURL("/groups/wg?embed=true&items=500"))
	assert.Equal(t, "/users/1", CanonicalURL("/users/1"))
}

func TestStoreGetResolvesAbsoluteAndRelative(t *testing.T) {
	ctx := context.Background()
	rec := NewRecorder()
	rec.Record(ctx, "https://api.w3.org/groups/wg?items=500", json.RawMessage(`{"total":1}`))
	store := rec.Store()

	assert.JSONEq(t, `{"total":1}`, string(store.Get(ctx, "/groups/wg")))
	assert.JSONEq(t, `{"total":1}`, string(store.Get(ctx, "https://api.w3.org/groups/wg?page=3")))
}

func TestStoreGetMissesAndErrors(t *testing.T) {
	ctx := context.Background()
	rec := NewRecorder()
	rec.Record(ctx, "/groups/wg/g1", json.RawMessage(`{"name":"G1"}`))
	rec.RecordError(ctx, "/users/404", 404, "not found")
	store := rec.Store()

	assert.Nil(t, store.Get(ctx, "/groups/wg/gone"))
	assert.Nil(t, store.Get(ctx, "/users/404"))
	assert.Nil(t, store.Get(ctx, "/nonsense/1"))
	assert.NotNil(t, store.Get(ctx, "/groups/wg/g1"))

	assert.True(t, store.Has("/users/404"))
	assert.False(t, store.Has("/users/405"))
}

func TestErrorMarker(t *testing.T) {
	marker := ErrorMarker(429, "/users/1", "rate limited")
	assert.True(t, IsErrorMarker(marker))
	assert.False(t, IsErrorMarker(json.RawMessage(`{"name":"G1"}`)))
	assert.False(t, IsErrorMarker(json.RawMessage(`[1,2]`)))
}

func TestRecorderData(t *testing.T) {
	ctx := context.Background()
	rec := NewRecorder()
	rec.Record(ctx, "/groups/wg/g1", json.RawMessage(`{"name":"G1"}`))
	rec.RecordError(ctx, "/users/404", 404, "not found")

	data, found, ok := rec.Data("/groups/wg/g1")
	assert.True(t, found)
	assert.True(t, ok)
	assert.JSONEq(t, `{"name":"G1"}`, string(data))

	_, found, ok = rec.Data("/users/404")
	assert.True(t, found)
	assert.False(t, ok)

	_, found, _ = rec.Data("/users/1")
	assert.False(t, found)
}

func TestStoreURLsSorted(t *testing.T) {
	ctx := context.Background()
	rec := NewRecorder()
	rec.Record(ctx, "/groups/wg/g2", json.RawMessage(`{}`))
	rec.Record(ctx, "/groups/ig", json.RawMessage(`{}`))
	rec.Record(ctx, "/groups/wg", json.RawMessage(`{}`))
	store := rec.Store()

	assert.Equal(t, []string{"/groups/ig", "/groups/wg", "/groups/wg/g2"},
		store.URLs(CategoryGroups))
	assert.Empty(t, store.URLs(CategoryUsers))
	assert.Equal(t, 3, store.Len())
}

func TestStoreIsImmutableAfterSeal(t *testing.T) {
	ctx := context.Background()
	rec := NewRecorder()
	rec.Record(ctx, "/groups/wg", json.RawMessage(`{"total":1}`))
	store := rec.Store()

	// Recording after sealing must not show through the store.
	rec.Record(ctx, "/groups/ig", json.RawMessage(`{"total":2}`))

	assert.Nil(t, store.Get(ctx, "/groups/ig"))
	require.NotNil(t, store.Get(ctx, "/groups/wg"))
}
