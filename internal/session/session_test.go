package session

import (
	"context"
	"testing"
	"time"

	"leetpanel/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_SessionLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewStore(store.NewMemory())

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	want := &Session{SessionID: "s1", Username: "ada", AuthToken: "tok"}
	require.NoError(t, s.Save(ctx, want))

	got, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	require.NoError(t, s.Clear(ctx))
	got, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_InvalidSessionLoadsAsNil(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemory()
	s := NewStore(kv)

	require.NoError(t, kv.Set(ctx, KeySession, []byte(`{"session_id":"s1","username":"ada"}`)))
	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got, "no auth token")

	require.NoError(t, kv.Set(ctx, KeySession, []byte(`not json`)))
	got, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	assert.Error(t, s.Save(ctx, &Session{SessionID: "s1"}))
	assert.Error(t, s.Save(ctx, nil))
}

func TestStore_InitializedMap(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemory()
	s := NewStore(kv)
	at := time.UnixMilli(1_700_000_000_000)

	ok, err := s.IsInitialized(ctx, "s1", 42)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.MarkInitialized(ctx, "s1", 42, at))
	require.NoError(t, s.MarkInitialized(ctx, "s1", 7, at))
	require.NoError(t, s.MarkInitialized(ctx, "s2", 42, at))

	ok, err = s.IsInitialized(ctx, "s1", 42)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = s.IsInitialized(ctx, "s2", 7)
	assert.False(t, ok, "entries are per session")

	raw, _, _ := kv.Get(ctx, KeyInitialized)
	assert.JSONEq(t, `{"s1":{"42":1700000000000,"7":1700000000000},"s2":{"42":1700000000000}}`, string(raw))

	require.NoError(t, s.DropSession(ctx, "s1"))
	m, err := s.Initialized(ctx)
	require.NoError(t, err)
	assert.Equal(t, InitializedMap{"s2": {42: at}}, m)

	require.NoError(t, s.DropSession(ctx, "unknown"))
}

func TestStore_DropSessionKeepsSessionKey(t *testing.T) {
	ctx := context.Background()
	s := NewStore(store.NewMemory())
	require.NoError(t, s.Save(ctx, &Session{SessionID: "s1", AuthToken: "t"}))
	require.NoError(t, s.MarkInitialized(ctx, "s1", 1, time.Now()))

	require.NoError(t, s.DropSession(ctx, "s1"))
	got, err := s.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "s1", got.SessionID)
}
