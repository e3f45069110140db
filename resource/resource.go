// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package resource implements the per-collection runtime: CRUD and
// batch operations, listing and queries, the partition index, hook
// pipelines and soft-delete semantics over the object layout.
//
// A record is one owner object whose metadata (or body, depending on
// the resource behavior) carries the attribute values, plus one empty
// index object per matching partition. The runtime keeps the index in
// step with the owner on every write.
package resource

import (
	"sync"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/s3db/behavior"
	"storj.io/s3db/metacodec"
	"storj.io/s3db/pkg/eventbus"
	"storj.io/s3db/schema"
	"storj.io/s3db/storage"
)

var mon = monkit.Package()

var (
	// Error is the default resource error class.
	Error = errs.Class("resource")
)

// DefaultConcurrency bounds parallel fan-out of batch operations.
const DefaultConcurrency = 100

// Partition declares one secondary index over attribute values.
type Partition struct {
	// Name identifies the partition within the resource.
	Name string `json:"name"`
	// Fields maps attribute paths to partition type specs, for
	// example "string" or "date|maxlength:7". A record is indexed
	// only when every field resolves to a non-null value.
	Fields map[string]string `json:"fields"`
	// Description is free-form operator documentation.
	Description string `json:"description,omitempty"`
}

// Config is the persisted, immutable shape of a resource.
type Config struct {
	Name            string      `json:"name"`
	Behavior        string      `json:"behavior"`
	Timestamps      bool        `json:"timestamps"`
	Paranoid        bool        `json:"paranoid"`
	AsyncPartitions bool        `json:"asyncPartitions"`
	Partitions      []Partition `json:"partitions,omitempty"`
	// Dictionary is the optional codec compression dictionary,
	// shared by all schema versions of the resource.
	Dictionary []string `json:"dictionary,omitempty"`
	// MetadataLimit overrides the codec byte budget; zero keeps the
	// default.
	MetadataLimit int `json:"metadataLimit,omitempty"`
}

// Params carries the dependencies of a Resource.
type Params struct {
	Log    *zap.Logger
	Store  storage.Client
	Bus    *eventbus.Bus
	Config Config
	// Schemas is the version history, oldest first. The last entry
	// writes; every entry decodes.
	Schemas []*schema.Schema
	// Hooks are the persisted hook registrations, resolved against
	// Registry.
	Hooks    []Registration
	Registry *Registry
	// Prefix is the database key prefix, possibly empty.
	Prefix string
	// Passphrase unlocks secret attributes; required when the schema
	// declares any.
	Passphrase  string
	Concurrency int
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Resource is one typed collection.
type Resource struct {
	log    *zap.Logger
	store  storage.Client
	bus    *eventbus.Bus
	codec  *metacodec.Codec
	config Config

	behavior    behavior.Behavior
	prefix      string
	passphrase  string
	concurrency int
	nowFn       func() time.Time

	mu      sync.RWMutex
	schemas []*schema.Schema
	hooks   map[string][]registeredHook

	// pending tracks detached partition reconciliations of
	// async-partition resources, so Close can drain them.
	pending sync.WaitGroup
}

// New materializes a resource.
func New(params Params) (*Resource, error) {
	if params.Config.Name == "" {
		return nil, Error.New("resource name is required")
	}
	if len(params.Schemas) == 0 {
		return nil, Error.New("resource %q has no schema", params.Config.Name)
	}
	b, err := behavior.Get(params.Config.Behavior)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	for _, partition := range params.Config.Partitions {
		if partition.Name == "" || len(partition.Fields) == 0 {
			return nil, Error.New("resource %q: partition needs a name and fields", params.Config.Name)
		}
	}

	log := params.Log
	if log == nil {
		log = zap.NewNop()
	}
	bus := params.Bus
	if bus == nil {
		bus = eventbus.New()
	}
	concurrency := params.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	nowFn := params.Now
	if nowFn == nil {
		nowFn = func() time.Time { return time.Now().UTC() }
	}

	r := &Resource{
		log:   log.Named(params.Config.Name),
		store: params.Store,
		bus:   bus,
		codec: metacodec.New(metacodec.Options{
			MetadataLimit: params.Config.MetadataLimit,
			Dictionary:    params.Config.Dictionary,
		}),
		config:      params.Config,
		behavior:    b,
		prefix:      params.Prefix,
		passphrase:  params.Passphrase,
		concurrency: concurrency,
		nowFn:       nowFn,
		schemas:     params.Schemas,
	}

	if r.passphrase == "" && len(r.currentSchema().SecretAttributes()) > 0 {
		return nil, Error.New("resource %q declares secret attributes but no passphrase is configured", r.config.Name)
	}

	r.hooks, err = resolveHooks(params.Registry, params.Hooks)
	if err != nil {
		return nil, Error.New("resource %q: %v", params.Config.Name, err)
	}
	return r, nil
}

// Name returns the resource name.
func (r *Resource) Name() string { return r.config.Name }

// Config returns the persisted resource shape.
func (r *Resource) Config() Config { return r.config }

// Behavior returns the behavior name.
func (r *Resource) Behavior() string { return r.behavior.Name() }

// Schema returns the current (writing) schema version.
func (r *Resource) Schema() *schema.Schema { return r.currentSchema() }

// Events returns the event bus the resource emits on.
func (r *Resource) Events() *eventbus.Bus { return r.bus }

// AppendSchema atomically adds a new schema version. Existing records
// keep decoding through their embedded version tag.
func (r *Resource) AppendSchema(s *schema.Schema) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas = append(r.schemas, s)
}

// Close drains detached partition reconciliations.
func (r *Resource) Close() error {
	r.pending.Wait()
	return nil
}

func (r *Resource) currentSchema() *schema.Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.schemas[len(r.schemas)-1]
}

// schemaVersion returns the schema that wrote a record, by its
// embedded version number.
func (r *Resource) schemaVersion(version int) (*schema.Schema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.schemas {
		if s.Version == version {
			return s, nil
		}
	}
	return nil, Error.New("resource %q has no schema version %d", r.config.Name, version)
}

func (r *Resource) now() time.Time { return r.nowFn().UTC() }

// emit publishes an event on the database bus.
func (r *Resource) emit(name string, fields map[string]any) {
	r.bus.Emit(eventbus.Event{Name: name, Resource: r.config.Name, Fields: fields})
}

// opFailed emits the error event and returns the error unchanged.
func (r *Resource) opFailed(op, id string, err error) error {
	if err == nil {
		return nil
	}
	r.emit("error", map[string]any{"op": op, "id": id, "error": err.Error()})
	return err
}
