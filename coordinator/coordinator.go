// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package coordinator implements an S3-backed worker registry with
// leader election, used to gate singleton chores like the
// consolidator.
//
// Every worker heartbeats its own object and observes a shared
// state.json. When the state is absent, stale, or points at a dead
// worker, the lexicographically smallest active worker claims
// leadership with a conditional put; losers observe the precondition
// failure and fall back to following. At most one leader exists per
// namespace, modulo the lease timeout of clock skew.
package coordinator

import (
	"context"
	"crypto/rand"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mr-tron/base58"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/s3db/internal/sync2"
	"storj.io/s3db/pkg/eventbus"
	"storj.io/s3db/storage"
)

var mon = monkit.Package()

// Error is the coordinator error class.
var Error = errs.Class("coordinator")

// Defaults per the heartbeat/lease/worker timeout triple. A leader
// that stops heartbeating is replaced within leaseTimeout; a worker
// that stops heartbeating stops being electable within workerTimeout.
const (
	DefaultHeartbeatInterval = 5 * time.Second
	DefaultLeaseTimeout      = 15 * time.Second
	DefaultWorkerTimeout     = 20 * time.Second
)

// Event names emitted on the bus and mirrored by callbacks.
const (
	EventLeaderAcquired = "leader:acquired"
	EventLeaderLost     = "leader:lost"
	EventLeaderChanged  = "leader:changed"
)

// Config configures one coordinator.
type Config struct {
	// Namespace isolates independent elections within one bucket.
	Namespace string
	// Prefix is the database key prefix, possibly empty.
	Prefix string

	HeartbeatInterval time.Duration
	LeaseTimeout      time.Duration
	WorkerTimeout     time.Duration

	// WorkerID overrides the generated id, for tests.
	WorkerID string
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Coordinator is one worker's view of the election.
type Coordinator struct {
	log    *zap.Logger
	store  storage.Client
	bus    *eventbus.Bus
	config Config

	workerID  string
	startedAt time.Time
	nowFn     func() time.Time

	// Loop runs the heartbeat cycle; expose it so owners can trigger
	// a tick deterministically.
	Loop *sync2.Cycle

	mu       sync.Mutex
	isLeader bool
	leader   string
	epoch    int64

	onAcquired []func()
	onLost     []func()
	onChanged  []func(leader string)
}

// New creates a coordinator for one namespace. It does nothing until
// Run.
func New(log *zap.Logger, store storage.Client, bus *eventbus.Bus, config Config) *Coordinator {
	if config.Namespace == "" {
		config.Namespace = "default"
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if config.LeaseTimeout <= 0 {
		config.LeaseTimeout = DefaultLeaseTimeout
	}
	if config.WorkerTimeout <= 0 {
		config.WorkerTimeout = DefaultWorkerTimeout
	}
	nowFn := config.Now
	if nowFn == nil {
		nowFn = func() time.Time { return time.Now().UTC() }
	}
	if bus == nil {
		bus = eventbus.New()
	}

	workerID := config.WorkerID
	if workerID == "" {
		workerID = generateWorkerID(config.Namespace, nowFn())
	}

	return &Coordinator{
		log:       log.Named("coordinator").With(zap.String("worker", workerID)),
		store:     store,
		bus:       bus,
		config:    config,
		workerID:  workerID,
		startedAt: nowFn().UTC(),
		nowFn:     nowFn,
		Loop:      sync2.NewCycle(config.HeartbeatInterval),
	}
}

// generateWorkerID builds "gcs-{ns}-{epochMs}-{rand}". The embedded
// start time makes the lexicographic winner usually the oldest worker.
func generateWorkerID(namespace string, now time.Time) string {
	entropy := make([]byte, 4)
	_, _ = rand.Read(entropy)
	return fmt.Sprintf("gcs-%s-%d-%s", namespace, now.UnixMilli(), base58.Encode(entropy))
}

// WorkerID returns this worker's id.
func (c *Coordinator) WorkerID() string { return c.workerID }

// IsLeader reports whether this worker currently holds leadership.
func (c *Coordinator) IsLeader() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isLeader
}

// Leader returns the last observed leader id, possibly empty.
func (c *Coordinator) Leader() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.leader
}

// Epoch returns the last observed election epoch.
func (c *Coordinator) Epoch() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

// OnAcquired registers a callback fired when this worker becomes
// leader. Register before Run.
func (c *Coordinator) OnAcquired(fn func()) { c.onAcquired = append(c.onAcquired, fn) }

// OnLost registers a callback fired when this worker loses
// leadership.
func (c *Coordinator) OnLost(fn func()) { c.onLost = append(c.onLost, fn) }

// OnChanged registers a callback fired when the observed leader
// changes, regardless of who it is.
func (c *Coordinator) OnChanged(fn func(leader string)) { c.onChanged = append(c.onChanged, fn) }

// Run heartbeats until the context ends. Tick failures are logged and
// retried next cycle; they never stop the loop.
func (c *Coordinator) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	return c.Loop.Run(ctx, func(ctx context.Context) error {
		if err := c.Tick(ctx); err != nil {
			c.log.Warn("heartbeat failed", zap.Error(err))
		}
		return nil
	})
}

// Tick performs one heartbeat and election round.
func (c *Coordinator) Tick(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)
	mon.Counter("heartbeats").Inc(1)

	if err := c.heartbeat(ctx); err != nil {
		return err
	}
	return c.observe(ctx)
}

// Stop shuts the loop down and cleans up this worker's objects: its
// worker record always, the state only while it is the leader.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.Loop.Close()

	var group errs.Group
	group.Add(c.store.Delete(ctx, c.workerKey(c.workerID)))

	c.mu.Lock()
	wasLeader := c.isLeader
	c.mu.Unlock()
	if wasLeader {
		group.Add(c.store.Delete(ctx, c.stateKey()))
	}
	c.updateLeadership("", 0)
	return Error.Wrap(group.Err())
}

// updateLeadership records the observed leader and fires transitions.
func (c *Coordinator) updateLeadership(leader string, epoch int64) {
	c.mu.Lock()
	wasLeader, previous := c.isLeader, c.leader
	c.isLeader = leader == c.workerID
	c.leader = leader
	c.epoch = epoch
	isLeader := c.isLeader
	c.mu.Unlock()

	if isLeader && !wasLeader {
		mon.Counter("elections").Inc(1)
		c.log.Info("leadership acquired", zap.Int64("epoch", epoch))
		c.emit(EventLeaderAcquired, leader, epoch)
		for _, fn := range c.onAcquired {
			fn()
		}
	}
	if !isLeader && wasLeader {
		c.log.Info("leadership lost", zap.String("leader", leader))
		c.emit(EventLeaderLost, leader, epoch)
		for _, fn := range c.onLost {
			fn()
		}
	}
	if leader != previous {
		mon.Counter("leader_changes").Inc(1)
		c.emit(EventLeaderChanged, leader, epoch)
		for _, fn := range c.onChanged {
			fn(leader)
		}
	}
}

func (c *Coordinator) emit(name, leader string, epoch int64) {
	c.bus.Emit(eventbus.Event{Name: name, Fields: map[string]any{
		"namespace": c.config.Namespace,
		"worker":    c.workerID,
		"leader":    leader,
		"epoch":     epoch,
	}})
}

// base returns the namespace root key, without a trailing slash.
func (c *Coordinator) base() string {
	base := "plg_coordinator_global/" + c.config.Namespace
	if c.config.Prefix != "" {
		base = strings.TrimSuffix(c.config.Prefix, "/") + "/" + base
	}
	return base
}

func (c *Coordinator) stateKey() string { return c.base() + "/state.json" }

func (c *Coordinator) workersPrefix() string { return c.base() + "/workers/" }

func (c *Coordinator) workerKey(id string) string {
	return c.workersPrefix() + id + ".json"
}

func (c *Coordinator) now() time.Time { return c.nowFn().UTC() }
