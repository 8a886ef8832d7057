// SPDX-License-Identifier: BSD-3-Clause

package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryPortSaveAndLoad(t *testing.T) {
	p := NewMemoryPort()
	ctx := context.Background()
	require.NoError(t, p.Initialize(ctx))

	pc := &PersistentContext{
		ID:              "sms-1",
		CurrentState:    "QUEUED",
		LastStateChange: time.Now(),
		Attributes:      map[string]any{"to": "+1-555-2"},
	}
	require.NoError(t, p.Save(ctx, pc))
	require.Equal(t, 1, p.Len())

	loaded, ok, err := p.Load(ctx, "sms-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "QUEUED", loaded.CurrentState)

	// Mutating the returned clone must not affect stored state.
	loaded.Attributes["to"] = "+1-555-9"
	reloaded, _, err := p.Load(ctx, "sms-1")
	require.NoError(t, err)
	require.Equal(t, "+1-555-2", reloaded.Attributes["to"])
}

func TestMemoryPortLoadMissing(t *testing.T) {
	p := NewMemoryPort()
	_, ok, err := p.Load(context.Background(), "nope")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryPortRejectsEmptyID(t *testing.T) {
	p := NewMemoryPort()
	err := p.Save(context.Background(), &PersistentContext{ID: ""})
	require.ErrorIs(t, err, ErrMissingID)
}
