// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package eventbus implements the synchronous event surface of a
// database.
//
// Listeners run in registration order on the goroutine that emits.
// A listener failure never affects the operation that emitted: panics
// are recovered and reported to the bus error hook.
package eventbus

import (
	"fmt"
	"sync"
	"time"
)

// Event is one emitted event.
type Event struct {
	// Name is the event name, for example "insert" or
	// "consolidation.completed".
	Name string
	// Resource is the resource the event is about, when any.
	Resource string
	// Time is when the event was emitted.
	Time time.Time
	// Fields carries the event payload.
	Fields map[string]any
}

// Listener handles one event.
type Listener func(Event)

// Bus dispatches events to listeners.
type Bus struct {
	mu        sync.RWMutex
	byName    map[string][]Listener
	all       []Listener
	onFailure func(event Event, recovered any)
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{byName: map[string][]Listener{}}
}

// On registers a listener for the named event.
func (bus *Bus) On(name string, listener Listener) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	bus.byName[name] = append(bus.byName[name], listener)
}

// OnAll registers a listener for every event.
func (bus *Bus) OnAll(listener Listener) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	bus.all = append(bus.all, listener)
}

// OnFailure registers the hook called when a listener panics.
func (bus *Bus) OnFailure(fn func(event Event, recovered any)) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	bus.onFailure = fn
}

// Emit dispatches the event synchronously to the named listeners in
// registration order, then to the catch-all listeners.
func (bus *Bus) Emit(event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}

	bus.mu.RLock()
	named := bus.byName[event.Name]
	all := bus.all
	onFailure := bus.onFailure
	bus.mu.RUnlock()

	for _, listener := range named {
		bus.dispatch(event, listener, onFailure)
	}
	for _, listener := range all {
		bus.dispatch(event, listener, onFailure)
	}
}

func (bus *Bus) dispatch(event Event, listener Listener, onFailure func(Event, any)) {
	defer func() {
		if recovered := recover(); recovered != nil {
			if onFailure != nil {
				onFailure(event, recovered)
			}
		}
	}()
	listener(event)
}

// String implements fmt.Stringer for debug logs.
func (event Event) String() string {
	if event.Resource == "" {
		return event.Name
	}
	return fmt.Sprintf("%s(%s)", event.Name, event.Resource)
}
