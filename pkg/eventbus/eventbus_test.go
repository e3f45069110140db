// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package eventbus

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmitOrder(t *testing.T) {
	bus := New()

	var trace []string
	bus.On("insert", func(event Event) { trace = append(trace, "named-1") })
	bus.On("insert", func(event Event) { trace = append(trace, "named-2") })
	bus.OnAll(func(event Event) { trace = append(trace, "all:"+event.Name) })

	bus.Emit(Event{Name: "insert", Resource: "users"})
	bus.Emit(Event{Name: "delete", Resource: "users"})

	require.Equal(t, []string{"named-1", "named-2", "all:insert", "all:delete"}, trace)
}

func TestEmitFillsTime(t *testing.T) {
	bus := New()

	var got Event
	bus.On("insert", func(event Event) { got = event })
	bus.Emit(Event{Name: "insert"})
	require.False(t, got.Time.IsZero())
}

func TestListenerPanicIsContained(t *testing.T) {
	bus := New()

	var recovered any
	bus.OnFailure(func(event Event, r any) { recovered = r })
	bus.On("insert", func(Event) { panic("listener bug") })

	var reached bool
	bus.On("insert", func(Event) { reached = true })

	bus.Emit(Event{Name: "insert"})
	require.Equal(t, "listener bug", recovered)
	require.True(t, reached)
}

func TestEventString(t *testing.T) {
	require.Equal(t, "insert(users)", Event{Name: "insert", Resource: "users"}.String())
	require.Equal(t, "connect", Event{Name: "connect"}.String())
}
