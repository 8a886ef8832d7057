// SPDX-License-Identifier: BSD-3-Clause

package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestSQLitePort(t *testing.T) *SQLitePort {
	t.Helper()
	p, err := NewSQLitePort(SQLiteConfig{Path: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, p.Initialize(context.Background()))
	t.Cleanup(func() { require.NoError(t, p.Close()) })
	return p
}

func TestSQLitePortInitializeIsIdempotent(t *testing.T) {
	p := newTestSQLitePort(t)
	require.NoError(t, p.Initialize(context.Background()))
}

func TestSQLitePortSaveAndLoad(t *testing.T) {
	p := newTestSQLitePort(t)
	ctx := context.Background()

	pc := &PersistentContext{
		ID:              "call-1",
		CurrentState:    "RINGING",
		LastStateChange: time.Now().Truncate(time.Microsecond),
		Complete:        false,
		Attributes:      map[string]any{"caller": "+1-555-1"},
	}
	require.NoError(t, p.Save(ctx, pc))

	loaded, ok, err := p.Load(ctx, "call-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, pc.CurrentState, loaded.CurrentState)
	require.Equal(t, pc.Complete, loaded.Complete)
	require.Equal(t, pc.LastStateChange.UnixNano(), loaded.LastStateChange.UnixNano())
	require.Equal(t, "+1-555-1", loaded.Attributes["caller"])
}

func TestSQLitePortSaveUpserts(t *testing.T) {
	p := newTestSQLitePort(t)
	ctx := context.Background()

	require.NoError(t, p.Save(ctx, &PersistentContext{ID: "call-2", CurrentState: "RINGING"}))
	require.NoError(t, p.Save(ctx, &PersistentContext{ID: "call-2", CurrentState: "ANSWERED", Complete: false}))

	loaded, ok, err := p.Load(ctx, "call-2")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "ANSWERED", loaded.CurrentState)
}

func TestSQLitePortLoadMissing(t *testing.T) {
	p := newTestSQLitePort(t)
	_, ok, err := p.Load(context.Background(), "does-not-exist")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSQLitePortRejectsEmptyID(t *testing.T) {
	p := newTestSQLitePort(t)
	err := p.Save(context.Background(), &PersistentContext{ID: ""})
	require.ErrorIs(t, err, ErrMissingID)
}
