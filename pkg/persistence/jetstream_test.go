// SPDX-License-Identifier: BSD-3-Clause

package persistence

import (
	"context"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
)

// newTestJetStreamPort starts an embedded, in-process NATS server with
// JetStream enabled and returns a JetStreamPort connected to it.
func newTestJetStreamPort(t *testing.T) *JetStreamPort {
	t.Helper()

	ns, err := natsserver.NewServer(&natsserver.Options{
		JetStream: true,
		StoreDir:  t.TempDir(),
		Port:      -1,
		DontListen: true,
	})
	require.NoError(t, err)
	ns.Start()
	t.Cleanup(ns.Shutdown)
	require.True(t, ns.ReadyForConnections(5*time.Second))

	nc, err := nats.Connect("", nats.InProcessServer(ns))
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	p, err := NewJetStreamPort(nc, JetStreamConfig{Bucket: "test-fsm-contexts"})
	require.NoError(t, err)
	require.NoError(t, p.Initialize(context.Background()))
	return p
}

func TestJetStreamPortSaveAndLoad(t *testing.T) {
	p := newTestJetStreamPort(t)
	ctx := context.Background()

	pc := &PersistentContext{
		ID:              "session-42",
		CurrentState:    "ACTIVE",
		LastStateChange: time.Now().Truncate(time.Second),
		Attributes:      map[string]any{"region": "eu-west"},
	}
	require.NoError(t, p.Save(ctx, pc))

	loaded, ok, err := p.Load(ctx, "session-42")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "ACTIVE", loaded.CurrentState)
	require.Equal(t, "eu-west", loaded.Attributes["region"])
}

func TestJetStreamPortLoadMissing(t *testing.T) {
	p := newTestJetStreamPort(t)
	_, ok, err := p.Load(context.Background(), "nope")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestJetStreamPortRejectsEmptyID(t *testing.T) {
	p := newTestJetStreamPort(t)
	err := p.Save(context.Background(), &PersistentContext{ID: ""})
	require.ErrorIs(t, err, ErrMissingID)
}

func TestJetStreamPortKeyEscaping(t *testing.T) {
	p := newTestJetStreamPort(t)
	ctx := context.Background()

	id := "call/with weird:id"
	require.NoError(t, p.Save(ctx, &PersistentContext{ID: id, CurrentState: "RINGING"}))

	loaded, ok, err := p.Load(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, id, loaded.ID)
}
