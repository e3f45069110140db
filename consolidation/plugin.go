// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package consolidation

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"storj.io/s3db/db"
	"storj.io/s3db/resource"
)

// PluginOptions tunes a Plugin beyond its pair configs.
type PluginOptions struct {
	// IsLeader gates the chores; nil means always leading. Wire this to
	// a coordinator when multiple workers share the database.
	IsLeader func() bool
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Plugin wires consolidators into a database lifecycle: Install
// creates the sibling resources and builds one consolidator per
// configured pair, Start runs their chores, Close stops them.
type Plugin struct {
	log     *zap.Logger
	configs []Config
	options PluginOptions

	mu            sync.Mutex
	database      *db.DB
	consolidators map[string]*Consolidator
	group         *errgroup.Group
	cancel        context.CancelFunc
}

// NewPlugin builds the plugin for the given pairs. The log may be nil;
// the database logger is adopted at install.
func NewPlugin(log *zap.Logger, configs []Config, options PluginOptions) *Plugin {
	return &Plugin{
		log:           log,
		configs:       configs,
		options:       options,
		consolidators: map[string]*Consolidator{},
	}
}

// Name implements db.Plugin.
func (p *Plugin) Name() string { return "consolidation" }

func pairKey(config Config) string { return config.Resource + "." + config.Field }

// Install implements db.Plugin. Every configured pair needs its owning
// resource to exist already; the transaction and analytics siblings
// are created on first install and found on later ones.
func (p *Plugin) Install(ctx context.Context, database *db.DB) (err error) {
	defer mon.Task()(&ctx)(&err)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.database = database
	if p.log == nil {
		p.log = database.Log()
	}

	for _, config := range p.configs {
		config = config.withDefaults()
		if err := config.check(); err != nil {
			return err
		}
		if _, exists := p.consolidators[pairKey(config)]; exists {
			return Error.New("pair %s configured twice", pairKey(config))
		}

		owner, err := database.Resource(config.Resource)
		if err != nil {
			return Error.New("pair %s: owner: %v", pairKey(config), err)
		}
		transactions, err := ensureResource(ctx, database,
			TransactionsConfig(config.TransactionsResource()), TransactionsSchema())
		if err != nil {
			return Error.New("pair %s: transactions: %v", pairKey(config), err)
		}
		params := Params{
			Log:          p.log,
			Config:       config,
			Owner:        owner,
			Transactions: transactions,
			Store:        database.Store(),
			Bus:          database.Events(),
			Prefix:       database.Prefix(),
			IsLeader:     p.options.IsLeader,
			Now:          p.options.Now,
		}
		if config.Analytics {
			params.Analytics, err = ensureResource(ctx, database,
				AnalyticsConfig(config.AnalyticsResource()), AnalyticsSchema())
			if err != nil {
				return Error.New("pair %s: analytics: %v", pairKey(config), err)
			}
		}

		consolidator, err := New(params)
		if err != nil {
			return err
		}
		p.consolidators[pairKey(config)] = consolidator
	}
	return nil
}

// Start implements db.Plugin, launching one chore per pair. The chores
// outlive the connect call's context and stop at Close.
func (p *Plugin) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.group != nil {
		return Error.New("plugin started twice")
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	group, runCtx := errgroup.WithContext(runCtx)
	for _, consolidator := range p.consolidators {
		group.Go(func() error {
			return consolidator.Run(runCtx)
		})
	}
	p.group = group
	p.cancel = cancel
	return nil
}

// Close implements db.Plugin.
func (p *Plugin) Close() error {
	p.mu.Lock()
	group := p.group
	cancel := p.cancel
	p.group = nil
	p.cancel = nil
	p.mu.Unlock()

	if group == nil {
		return nil
	}
	cancel()
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return Error.Wrap(err)
	}
	return nil
}

// ensureResource returns the named sibling, creating it when this is
// the first install against the database.
func ensureResource(ctx context.Context, database *db.DB, config resource.Config, definition map[string]any) (*resource.Resource, error) {
	if existing, err := database.Resource(config.Name); err == nil {
		return existing, nil
	}
	created, err := database.CreateResource(ctx, config, definition)
	if err == nil {
		return created, nil
	}
	if db.ErrResourceExists.Has(err) || db.ErrRace.Has(err) {
		// another worker created it between the lookup and the write
		return database.Resource(config.Name)
	}
	return nil, err
}

// Consolidator returns the consolidator of a pair, for writer access
// and manual rounds.
func (p *Plugin) Consolidator(resource, field string) (*Consolidator, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	consolidator, ok := p.consolidators[resource+"."+field]
	if !ok {
		return nil, Error.New("pair %s.%s is not configured", resource, field)
	}
	return consolidator, nil
}

// Add appends an additive delta through the configured pair.
func (p *Plugin) Add(ctx context.Context, resource, field, id string, value float64) error {
	consolidator, err := p.Consolidator(resource, field)
	if err != nil {
		return err
	}
	return consolidator.Add(ctx, id, value)
}

// Sub appends a subtractive delta through the configured pair.
func (p *Plugin) Sub(ctx context.Context, resource, field, id string, value float64) error {
	consolidator, err := p.Consolidator(resource, field)
	if err != nil {
		return err
	}
	return consolidator.Sub(ctx, id, value)
}

// Set appends an absolute assignment through the configured pair.
func (p *Plugin) Set(ctx context.Context, resource, field, id string, value float64) error {
	consolidator, err := p.Consolidator(resource, field)
	if err != nil {
		return err
	}
	return consolidator.Set(ctx, id, value)
}
