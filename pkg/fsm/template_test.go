// SPDX-License-Identifier: BSD-3-Clause

package fsm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBuilderBuildsValidTemplate(t *testing.T) {
	tmpl, err := NewBuilder("call", "IDLE").
		State("IDLE").On("INCOMING_CALL", "RINGING").
		State("RINGING").Timeout(30*time.Second, "IDLE").On("ANSWER", "CONNECTED").
		State("CONNECTED").On("HANGUP", "IDLE").
		Build()
	require.NoError(t, err)
	require.Equal(t, "IDLE", tmpl.InitialState)
	require.Len(t, tmpl.States, 3)
}

func TestBuilderRejectsMissingInitialState(t *testing.T) {
	_, err := NewBuilder("x", "NOPE").State("A").Build()
	require.ErrorIs(t, err, ErrInvalidTemplate)
}

func TestBuilderRejectsTransitionToUnknownState(t *testing.T) {
	_, err := NewBuilder("x", "A").
		State("A").On("GO", "B").
		Build()
	require.ErrorIs(t, err, ErrInvalidTemplate)
}

func TestBuilderRejectsTimeoutToUnknownState(t *testing.T) {
	_, err := NewBuilder("x", "A").
		State("A").Timeout(time.Second, "B").
		Build()
	require.ErrorIs(t, err, ErrInvalidTemplate)
}

func TestBuilderRejectsFinalStateWithTimeout(t *testing.T) {
	_, err := NewBuilder("x", "A").
		State("A").On("DONE", "Z").
		State("Z").Timeout(time.Second, "A").FinalState().
		Build()
	require.ErrorIs(t, err, ErrInvalidTemplate)
}

func TestStateDefTagsUnionsTransitionsAndStays(t *testing.T) {
	tmpl, err := NewBuilder("x", "A").
		State("A").
		On("T1", "A").
		Stay("T2", func(ctx context.Context, m *Machine, e Event) error { return nil }).
		Build()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"T1", "T2"}, tmpl.State("A").Tags())
}
