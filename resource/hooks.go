// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package resource

import (
	"context"
	"sync"

	"github.com/zeebo/errs"
)

// Hook events.
const (
	BeforeInsert = "beforeInsert"
	AfterInsert  = "afterInsert"
	BeforeUpdate = "beforeUpdate"
	AfterUpdate  = "afterUpdate"
	BeforeDelete = "beforeDelete"
	AfterDelete  = "afterDelete"
	AfterGet     = "afterGet"
)

var hookEvents = map[string]bool{
	BeforeInsert: true, AfterInsert: true,
	BeforeUpdate: true, AfterUpdate: true,
	BeforeDelete: true, AfterDelete: true,
	AfterGet: true,
}

// HookFunc is one hook stage. Hooks must be pure transformations of
// data: the root document persists only their registration, so any
// captured state would be lost across connects.
type HookFunc func(ctx context.Context, data map[string]any) (map[string]any, error)

// HookMaker builds a hook from its persisted parameters.
type HookMaker func(params map[string]any) (HookFunc, error)

// Registration is the persisted form of one hook: the event it runs
// on, the registry name of its maker and its immutable parameters.
type Registration struct {
	Event  string         `json:"event"`
	Name   string         `json:"name"`
	Params map[string]any `json:"params,omitempty"`
}

// Registry resolves hook registrations to functions. A database owns
// one registry; builtins are pre-registered and users add their own
// before connecting.
type Registry struct {
	mu     sync.RWMutex
	makers map[string]HookMaker
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{makers: map[string]HookMaker{}}
}

// Register adds a named hook maker. Registering a duplicate name is
// an error.
func (registry *Registry) Register(name string, maker HookMaker) error {
	if name == "" || maker == nil {
		return Error.New("hook registration needs a name and a maker")
	}
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if _, exists := registry.makers[name]; exists {
		return Error.New("hook %q is already registered", name)
	}
	registry.makers[name] = maker
	return nil
}

// RegisterFunc adds a parameterless hook.
func (registry *Registry) RegisterFunc(name string, fn HookFunc) error {
	return registry.Register(name, func(map[string]any) (HookFunc, error) {
		return fn, nil
	})
}

func (registry *Registry) resolve(reg Registration) (HookFunc, error) {
	if registry == nil {
		return nil, errs.New("hook %q: no registry configured", reg.Name)
	}
	registry.mu.RLock()
	maker, ok := registry.makers[reg.Name]
	registry.mu.RUnlock()
	if !ok {
		return nil, errs.New("hook %q is not registered", reg.Name)
	}
	fn, err := maker(reg.Params)
	if err != nil {
		return nil, errs.New("hook %q: %v", reg.Name, err)
	}
	return fn, nil
}

type registeredHook struct {
	name string
	fn   HookFunc
}

func resolveHooks(registry *Registry, registrations []Registration) (map[string][]registeredHook, error) {
	hooks := map[string][]registeredHook{}
	for _, reg := range registrations {
		if !hookEvents[reg.Event] {
			return nil, errs.New("unknown hook event %q", reg.Event)
		}
		fn, err := registry.resolve(reg)
		if err != nil {
			return nil, err
		}
		hooks[reg.Event] = append(hooks[reg.Event], registeredHook{name: reg.Name, fn: fn})
	}
	return hooks, nil
}

// runHooks applies the event pipeline sequentially. A failing before
// hook aborts the operation; after hooks surface failures as error
// events but never undo the persisted write.
func (r *Resource) runHooks(ctx context.Context, event string, data map[string]any) (map[string]any, error) {
	r.mu.RLock()
	pipeline := r.hooks[event]
	r.mu.RUnlock()

	var err error
	for _, hook := range pipeline {
		data, err = hook.fn(ctx, data)
		if err != nil {
			return nil, Error.New("hook %s/%s: %v", event, hook.name, err)
		}
		if data == nil {
			return nil, Error.New("hook %s/%s returned no data", event, hook.name)
		}
	}
	return data, nil
}

// runAfterHooks runs an after pipeline, reporting failures on the
// event bus instead of the caller.
func (r *Resource) runAfterHooks(ctx context.Context, event string, data map[string]any) map[string]any {
	out, err := r.runHooks(ctx, event, data)
	if err != nil {
		r.emit("error", map[string]any{"op": event, "error": err.Error()})
		return data
	}
	return out
}
