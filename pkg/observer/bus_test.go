// SPDX-License-Identifier: BSD-3-Clause

package observer

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fsmrt/fsmrt/pkg/fsm"
	"github.com/fsmrt/fsmrt/pkg/persistence"
)

type recordingListener struct {
	NopListener
	mu      sync.Mutex
	created []string
}

func (l *recordingListener) OnRegistryCreate(_ context.Context, id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.created = append(l.created, id)
}

type panickingListener struct {
	NopListener
}

func (panickingListener) OnRegistryCreate(context.Context, string) {
	panic("boom")
}

func TestBusDispatchesToAllListeners(t *testing.T) {
	b := New(nil)
	l1 := &recordingListener{}
	l2 := &recordingListener{}
	b.Add(l1)
	b.Add(l2)

	b.NotifyRegistryCreate(context.Background(), "m1")

	require.Equal(t, []string{"m1"}, l1.created)
	require.Equal(t, []string{"m1"}, l2.created)
}

func TestBusRemoveStopsFurtherNotifications(t *testing.T) {
	b := New(nil)
	l := &recordingListener{}
	remove := b.Add(l)

	b.NotifyRegistryCreate(context.Background(), "m1")
	remove()
	b.NotifyRegistryCreate(context.Background(), "m2")

	require.Equal(t, []string{"m1"}, l.created)
}

func TestBusIsolatesPanickingListener(t *testing.T) {
	b := New(nil)
	b.Add(panickingListener{})
	l := &recordingListener{}
	b.Add(l)

	require.NotPanics(t, func() {
		b.NotifyRegistryCreate(context.Background(), "m1")
	})
	require.Equal(t, []string{"m1"}, l.created)
}

func TestBusStateMachineEventAndIgnored(t *testing.T) {
	b := New(nil)
	var gotOld, gotNew string
	var gotReason fsm.IgnoredReason
	b.Add(funcListener{
		onEvent: func(ctx context.Context, id, old, new string, pc *persistence.PersistentContext, vc any) {
			gotOld, gotNew = old, new
		},
		onIgnored: func(ctx context.Context, id, state, tag string, reason fsm.IgnoredReason, pc *persistence.PersistentContext, vc any) {
			gotReason = reason
		},
	})

	b.NotifyStateMachineEvent(context.Background(), "m1", "IDLE", "RINGING", nil, nil)
	b.NotifyEventIgnored(context.Background(), "m1", "IDLE", "ANSWER", fsm.NoSuchMachine, nil, nil)

	require.Equal(t, "IDLE", gotOld)
	require.Equal(t, "RINGING", gotNew)
	require.Equal(t, fsm.NoSuchMachine, gotReason)
}

type funcListener struct {
	NopListener
	onEvent   func(ctx context.Context, id, old, new string, pc *persistence.PersistentContext, vc any)
	onIgnored func(ctx context.Context, id, state, tag string, reason fsm.IgnoredReason, pc *persistence.PersistentContext, vc any)
}

func (f funcListener) OnStateMachineEvent(ctx context.Context, id, old, new string, pc *persistence.PersistentContext, vc any) {
	if f.onEvent != nil {
		f.onEvent(ctx, id, old, new, pc, vc)
	}
}

func (f funcListener) OnEventIgnored(ctx context.Context, id, state, tag string, reason fsm.IgnoredReason, pc *persistence.PersistentContext, vc any) {
	if f.onIgnored != nil {
		f.onIgnored(ctx, id, state, tag, reason, pc, vc)
	}
}
