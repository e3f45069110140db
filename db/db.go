// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package db implements the database root: the connect lifecycle, the
// s3db.json root document, the resource registry and plugins.
//
// A DB is a thin coordinator; all record traffic goes through the
// resources it materializes. Multiple DBs in one process are fully
// independent, even when they share a bucket.
package db

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"storj.io/s3db/pkg/eventbus"
	"storj.io/s3db/resource"
	"storj.io/s3db/schema"
	"storj.io/s3db/storage"
	"storj.io/s3db/storage/storelogger"
)

var mon = monkit.Package()

var (
	// Error is the default database error class.
	Error = errs.Class("s3db")

	// ErrRace is returned when the root document write loses the
	// conditional-put race too many times in a row.
	ErrRace = errs.Class("root document race")

	// ErrResourceExists is returned by CreateResource for a live name.
	ErrResourceExists = errs.Class("resource exists")

	// ErrNoSuchResource is returned when a name resolves to nothing,
	// including dropped resources.
	ErrNoSuchResource = errs.Class("no such resource")
)

// CurrentVersion is the root document format version this build
// writes.
const CurrentVersion = 1

// pluginDrainTimeout bounds how long Close waits for one plugin to
// stop before moving on.
const pluginDrainTimeout = 10 * time.Second

// Plugin extends a database with background machinery. Install runs
// during Connect before Start; plugins start in registration order and
// stop in reverse.
type Plugin interface {
	Name() string
	Install(ctx context.Context, db *DB) error
	Start(ctx context.Context) error
	Close() error
}

// Options configure a database handle.
type Options struct {
	Log *zap.Logger
	// Prefix scopes every key the database writes. Open fills it from
	// the connection string when empty.
	Prefix string
	// Passphrase unlocks secret attributes across all resources.
	Passphrase string
	// Registry resolves persisted hook registrations. A fresh empty
	// registry is used when nil.
	Registry *resource.Registry
	// Concurrency bounds parallel fan-out; zero keeps the resource
	// default.
	Concurrency int
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// DB is one database handle over an object store.
type DB struct {
	log        *zap.Logger
	raw        storage.Client
	store      storage.Client
	bus        *eventbus.Bus
	registry   *resource.Registry
	prefix     string
	passphrase string
	conc       int
	nowFn      func() time.Time

	mu        sync.RWMutex
	connected bool
	root      *rootDocument
	rootETag  string
	resources map[string]*resource.Resource
	plugins   []Plugin
	started   []Plugin
}

// Open parses a connection string, dials the matching storage client
// and returns an unconnected handle.
func Open(ctx context.Context, rawurl string, opts Options) (*DB, error) {
	client, prefix, err := openClient(ctx, rawurl)
	if err != nil {
		return nil, err
	}
	if opts.Prefix == "" {
		opts.Prefix = prefix
	}
	return New(client, opts), nil
}

// New wraps an existing storage client. The client is owned by the
// database and closed with it.
func New(client storage.Client, opts Options) *DB {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	registry := opts.Registry
	if registry == nil {
		registry = resource.NewRegistry()
	}
	nowFn := opts.Now
	if nowFn == nil {
		nowFn = func() time.Time { return time.Now().UTC() }
	}
	bus := eventbus.New()
	wrapped := client
	if log.Core().Enabled(zapcore.DebugLevel) {
		wrapped = storelogger.New(log.Named("store"), client)
	}
	return &DB{
		log:        log.Named("s3db"),
		raw:        client,
		store:      newEventClient(wrapped, bus),
		bus:        bus,
		registry:   registry,
		prefix:     opts.Prefix,
		passphrase: opts.Passphrase,
		conc:       opts.Concurrency,
		nowFn:      nowFn,
		resources:  map[string]*resource.Resource{},
	}
}

// Use registers a plugin. Plugins must be registered before Connect.
func (db *DB) Use(plugin Plugin) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.connected {
		return Error.New("plugin %q registered after connect", plugin.Name())
	}
	for _, existing := range db.plugins {
		if existing.Name() == plugin.Name() {
			return Error.New("plugin %q is already registered", plugin.Name())
		}
	}
	db.plugins = append(db.plugins, plugin)
	return nil
}

// Connect loads or creates the root document, materializes the
// resources it describes and starts the registered plugins.
func (db *DB) Connect(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	db.mu.Lock()
	if db.connected {
		db.mu.Unlock()
		return Error.New("already connected")
	}
	db.mu.Unlock()

	root, etag, err := db.loadOrCreateRoot(ctx)
	if err != nil {
		return err
	}

	resources := map[string]*resource.Resource{}
	for name, entry := range root.Resources {
		if entry.RemovedAt != nil {
			continue
		}
		res, err := db.buildResource(entry)
		if err != nil {
			return Error.New("resource %q: %v", name, err)
		}
		resources[name] = res
	}

	db.mu.Lock()
	db.root = root
	db.rootETag = etag
	db.resources = resources
	db.connected = true
	plugins := db.plugins
	db.mu.Unlock()

	for _, plugin := range plugins {
		if err := plugin.Install(ctx, db); err != nil {
			return Error.New("plugin %q install: %v", plugin.Name(), err)
		}
	}
	for _, plugin := range plugins {
		if err := plugin.Start(ctx); err != nil {
			return Error.New("plugin %q start: %v", plugin.Name(), err)
		}
		db.mu.Lock()
		db.started = append(db.started, plugin)
		db.mu.Unlock()
	}

	db.log.Info("connected",
		zap.String("prefix", db.prefix),
		zap.Int("resources", len(resources)),
		zap.Int("plugins", len(plugins)))
	return nil
}

// Close stops plugins in reverse start order, drains the resources and
// closes the storage client. A plugin that does not stop within the
// drain deadline is abandoned with a warning.
func (db *DB) Close() error {
	db.mu.Lock()
	started := db.started
	db.started = nil
	resources := db.resources
	db.resources = map[string]*resource.Resource{}
	db.connected = false
	db.mu.Unlock()

	var group errs.Group
	for i := len(started) - 1; i >= 0; i-- {
		plugin := started[i]
		done := make(chan error, 1)
		go func() { done <- plugin.Close() }()
		select {
		case err := <-done:
			group.Add(err)
		case <-time.After(pluginDrainTimeout):
			db.log.Warn("plugin did not stop in time", zap.String("plugin", plugin.Name()))
		}
	}
	for _, res := range resources {
		group.Add(res.Close())
	}
	group.Add(db.raw.Close())
	return group.Err()
}

// Events returns the database event bus.
func (db *DB) Events() *eventbus.Bus { return db.bus }

// Store returns the storage client, decorated with command events.
func (db *DB) Store() storage.Client { return db.store }

// Registry returns the hook registry resolved at connect time.
func (db *DB) Registry() *resource.Registry { return db.registry }

// Prefix returns the key prefix of this database.
func (db *DB) Prefix() string { return db.prefix }

// Log returns the database logger.
func (db *DB) Log() *zap.Logger { return db.log }

// Resource returns a live resource by name.
func (db *DB) Resource(name string) (*resource.Resource, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if !db.connected {
		return nil, Error.New("not connected")
	}
	res, ok := db.resources[name]
	if !ok {
		return nil, ErrNoSuchResource.New("%q", name)
	}
	return res, nil
}

// Resources returns the live resource names, sorted.
func (db *DB) Resources() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	names := make([]string, 0, len(db.resources))
	for name := range db.resources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CreateResource declares a new resource, persists it in the root
// document and returns its runtime. Hooks are persisted by
// registration and must resolve in the registry.
func (db *DB) CreateResource(ctx context.Context, config resource.Config, definition map[string]any, hooks ...resource.Registration) (_ *resource.Resource, err error) {
	defer mon.Task()(&ctx)(&err)

	db.mu.RLock()
	connected := db.connected
	_, exists := db.resources[config.Name]
	db.mu.RUnlock()
	if !connected {
		return nil, Error.New("not connected")
	}
	if exists {
		return nil, ErrResourceExists.New("%q", config.Name)
	}

	compiled, err := schema.Compile(definition)
	if err != nil {
		return nil, err
	}
	compiled.Dictionary = config.Dictionary

	now := db.nowFn().UTC()
	entry := &resourceEntry{
		Config: config,
		Schemas: []schemaEntry{{
			Version:    compiled.Version,
			Definition: definition,
			Map:        compiled.Map.Pairs(),
		}},
		Hooks:     hooks,
		CreatedAt: now,
		UpdatedAt: now,
	}

	res, err := db.buildResource(entry)
	if err != nil {
		return nil, err
	}

	err = db.mutateRoot(ctx, func(root *rootDocument) error {
		if existing, ok := root.Resources[config.Name]; ok && existing.RemovedAt == nil {
			return ErrResourceExists.New("%q", config.Name)
		}
		root.Resources[config.Name] = entry
		return nil
	})
	if err != nil {
		return nil, err
	}

	db.mu.Lock()
	db.resources[config.Name] = res
	db.mu.Unlock()
	db.log.Info("resource created", zap.String("resource", config.Name))
	return res, nil
}

// UpdateSchema appends a new schema version to a resource. Existing
// records keep decoding through their embedded version tag.
func (db *DB) UpdateSchema(ctx context.Context, name string, definition map[string]any) (_ *resource.Resource, err error) {
	defer mon.Task()(&ctx)(&err)

	res, err := db.Resource(name)
	if err != nil {
		return nil, err
	}

	next := res.Schema().Version + 1
	compiled, err := schema.Compile(definition)
	if err != nil {
		return nil, err
	}
	compiled.Version = next
	compiled.Dictionary = res.Config().Dictionary

	err = db.mutateRoot(ctx, func(root *rootDocument) error {
		entry, ok := root.Resources[name]
		if !ok || entry.RemovedAt != nil {
			return ErrNoSuchResource.New("%q", name)
		}
		entry.Schemas = append(entry.Schemas, schemaEntry{
			Version:    next,
			Definition: definition,
			Map:        compiled.Map.Pairs(),
		})
		entry.UpdatedAt = db.nowFn().UTC()
		return nil
	})
	if err != nil {
		return nil, err
	}

	res.AppendSchema(compiled)
	db.log.Info("schema updated", zap.String("resource", name), zap.Int("version", next))
	return res, nil
}

// DropResource marks a resource removed. Its objects stay in the
// bucket and its schema history stays in the root document, so stored
// records remain decodable by tooling.
func (db *DB) DropResource(ctx context.Context, name string) (err error) {
	defer mon.Task()(&ctx)(&err)

	res, err := db.Resource(name)
	if err != nil {
		return err
	}

	err = db.mutateRoot(ctx, func(root *rootDocument) error {
		entry, ok := root.Resources[name]
		if !ok || entry.RemovedAt != nil {
			return ErrNoSuchResource.New("%q", name)
		}
		removedAt := db.nowFn().UTC()
		entry.RemovedAt = &removedAt
		entry.UpdatedAt = removedAt
		return nil
	})
	if err != nil {
		return err
	}

	db.mu.Lock()
	delete(db.resources, name)
	db.mu.Unlock()
	db.log.Info("resource dropped", zap.String("resource", name))
	return res.Close()
}

// buildResource materializes the runtime of one root document entry.
func (db *DB) buildResource(entry *resourceEntry) (*resource.Resource, error) {
	schemas := make([]*schema.Schema, 0, len(entry.Schemas))
	for _, se := range entry.Schemas {
		s, err := schema.CompileVersion(se.Definition, se.Version, se.Map)
		if err != nil {
			return nil, err
		}
		s.Dictionary = entry.Config.Dictionary
		schemas = append(schemas, s)
	}
	return resource.New(resource.Params{
		Log:         db.log,
		Store:       db.store,
		Bus:         db.bus,
		Config:      entry.Config,
		Schemas:     schemas,
		Hooks:       entry.Hooks,
		Registry:    db.registry,
		Prefix:      db.prefix,
		Passphrase:  db.passphrase,
		Concurrency: db.conc,
		Now:         db.nowFn,
	})
}
