// SPDX-License-Identifier: BSD-3-Clause

package catalog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type stubEvent struct {
	tag     string
	payload string
}

func (e stubEvent) Tag() string { return e.tag }

func TestRegisterAndNew(t *testing.T) {
	c := New()
	require.NoError(t, c.Register("INCOMING_CALL", func(payload []byte) (Event, error) {
		return stubEvent{tag: "INCOMING_CALL", payload: string(payload)}, nil
	}))

	ev, err := c.New("INCOMING_CALL", []byte("+1-555-1"))
	require.NoError(t, err)
	require.Equal(t, "INCOMING_CALL", ev.Tag())
	require.Equal(t, stubEvent{tag: "INCOMING_CALL", payload: "+1-555-1"}, ev)
}

func TestRegisterRejectsDuplicateTag(t *testing.T) {
	c := New()
	factory := func(payload []byte) (Event, error) { return stubEvent{tag: "X"}, nil }
	require.NoError(t, c.Register("X", factory))
	require.ErrorIs(t, c.Register("X", factory), ErrAlreadyRegistered)
}

func TestRegisterRejectsEmptyTagAndNilFactory(t *testing.T) {
	c := New()
	require.ErrorIs(t, c.Register("", func(payload []byte) (Event, error) { return nil, nil }), ErrEmptyTag)
	require.ErrorIs(t, c.Register("Y", nil), ErrNilFactory)
}

func TestNewUnknownTag(t *testing.T) {
	c := New()
	_, err := c.New("NOPE", nil)
	require.ErrorIs(t, err, ErrUnknownTag)
}

func TestTagsAndHas(t *testing.T) {
	c := New()
	require.NoError(t, c.Register("A", func([]byte) (Event, error) { return stubEvent{tag: "A"}, nil }))
	require.NoError(t, c.Register("B", func([]byte) (Event, error) { return stubEvent{tag: "B"}, nil }))

	require.True(t, c.Has("A"))
	require.False(t, c.Has("C"))
	require.ElementsMatch(t, []string{"A", "B"}, c.Tags())
}
