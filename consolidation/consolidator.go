// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package consolidation implements the eventual-consistency plugin:
// high-frequency numeric mutations append to a per-field transaction
// log and a leader-gated chore folds them into the owning records.
//
// Writers never read the owner and never block on each other. The
// consolidator serializes per record with short-lived lock objects and
// survives crashes through the owner's pendingVersion marker: a
// transaction whose id is at or below the marker has already been
// folded, whatever its applied flag says.
package consolidation

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"storj.io/s3db/internal/sync2"
	"storj.io/s3db/pkg/eventbus"
	"storj.io/s3db/resource"
	"storj.io/s3db/storage"
)

var mon = monkit.Package()

var (
	// Error is the consolidation error class.
	Error = errs.Class("consolidation")

	// ErrLockBusy marks a record skipped because another worker holds
	// its lock. Not a failure; the next round retries.
	ErrLockBusy = errs.Class("lock busy")
)

// Transaction operations.
const (
	OpAdd = "add"
	OpSub = "sub"
	OpSet = "set"
)

// Partition names of the transaction log sibling.
const (
	partitionByCohort = "byCohort"
	partitionByRecord = "byRecord"
)

// cohortHourLayout renders an hour cohort, UTC.
const cohortHourLayout = "2006-01-02-15"

func cohortHour(t time.Time) string { return t.UTC().Format(cohortHourLayout) }

// TransactionsSchema is the attribute definition of the transaction
// log sibling resource.
func TransactionsSchema() map[string]any {
	return map[string]any{
		"originalId": "string|required",
		"field":      "string|required",
		"value":      "number|required",
		"operation":  "string|required",
		"cohortHour": "string|required",
		"applied":    "boolean|required",
	}
}

// TransactionsConfig is the resource config of the transaction log
// sibling: hour cohorts for the window scan, record partitions for the
// per-record fold.
func TransactionsConfig(name string) resource.Config {
	return resource.Config{
		Name:       name,
		Timestamps: true,
		Partitions: []resource.Partition{
			{Name: partitionByCohort, Fields: map[string]string{"cohortHour": "string"}},
			{Name: partitionByRecord, Fields: map[string]string{"originalId": "string"}},
		},
	}
}

// Params carries the dependencies of a Consolidator.
type Params struct {
	Log    *zap.Logger
	Config Config
	// Owner is the resource whose field is consolidated.
	Owner *resource.Resource
	// Transactions is the append-log sibling resource.
	Transactions *resource.Resource
	// Analytics is the optional roll-up sibling resource.
	Analytics *resource.Resource
	// Store is used for the per-record lock objects.
	Store storage.Client
	Bus   *eventbus.Bus
	// Prefix is the database key prefix, possibly empty.
	Prefix string
	// IsLeader gates the chore; nil means always leading.
	IsLeader func() bool
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Consolidator folds one (resource, field) pair.
type Consolidator struct {
	log          *zap.Logger
	config       Config
	owner        *resource.Resource
	transactions *resource.Resource
	analytics    *resource.Resource
	store        storage.Client
	bus          *eventbus.Bus
	prefix       string
	isLeader     func() bool
	nowFn        func() time.Time

	// Loop runs the consolidation rounds; exposed so owners can
	// trigger one deterministically.
	Loop *sync2.Cycle

	mu     sync.Mutex
	lastGC time.Time

	// rollupMu serializes roll-up writes: parallel folds of different
	// records share the same period buckets.
	rollupMu sync.Mutex
}

// New builds a consolidator. The config is copied and defaulted; it
// never aliases the caller's value afterwards.
func New(params Params) (*Consolidator, error) {
	config := params.Config.withDefaults()
	if err := config.check(); err != nil {
		return nil, err
	}
	if params.Owner == nil || params.Transactions == nil || params.Store == nil {
		return nil, Error.New("%s.%s: owner, transactions and store are required",
			config.Resource, config.Field)
	}
	if config.Analytics && params.Analytics == nil {
		return nil, Error.New("%s.%s: analytics enabled but no analytics resource given",
			config.Resource, config.Field)
	}

	log := params.Log
	if log == nil {
		log = zap.NewNop()
	}
	bus := params.Bus
	if bus == nil {
		bus = eventbus.New()
	}
	isLeader := params.IsLeader
	if isLeader == nil {
		isLeader = func() bool { return true }
	}
	nowFn := params.Now
	if nowFn == nil {
		nowFn = func() time.Time { return time.Now().UTC() }
	}

	return &Consolidator{
		log:          log.Named("consolidation").With(zap.String("resource", config.Resource), zap.String("field", config.Field)),
		config:       config,
		owner:        params.Owner,
		transactions: params.Transactions,
		analytics:    params.Analytics,
		store:        params.Store,
		bus:          bus,
		prefix:       params.Prefix,
		isLeader:     isLeader,
		nowFn:        nowFn,
		Loop:         sync2.NewCycle(config.Interval),
	}, nil
}

// Config returns the immutable config copy of this pair.
func (c *Consolidator) Config() Config { return c.config }

func (c *Consolidator) now() time.Time { return c.nowFn().UTC() }

// Add appends an additive delta for the record's field.
func (c *Consolidator) Add(ctx context.Context, id string, value float64) error {
	return c.append(ctx, id, OpAdd, value)
}

// Sub appends a subtractive delta for the record's field.
func (c *Consolidator) Sub(ctx context.Context, id string, value float64) error {
	return c.append(ctx, id, OpSub, value)
}

// Set appends an absolute assignment for the record's field. It
// overrides every delta folded before it.
func (c *Consolidator) Set(ctx context.Context, id string, value float64) error {
	return c.append(ctx, id, OpSet, value)
}

// append durably inserts one transaction. It returns once the object
// is stored; it never reads the owner.
func (c *Consolidator) append(ctx context.Context, id, op string, value float64) (err error) {
	defer mon.Task()(&ctx)(&err)
	if err := c.config.check(); err != nil {
		return err
	}
	if id == "" {
		return Error.New("%s.%s: transaction without a record id", c.config.Resource, c.config.Field)
	}

	now := c.now()
	_, err = c.transactions.Insert(ctx, map[string]any{
		"id":         newTxID(now),
		"originalId": id,
		"field":      c.config.Field,
		"value":      value,
		"operation":  op,
		"cohortHour": cohortHour(now),
		"applied":    false,
	})
	mon.Counter("transactions_appended").Inc(1)
	return Error.Wrap(err)
}

// Run consolidates on the configured interval until the context ends.
// Round failures are logged and left for the next round.
func (c *Consolidator) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	return c.Loop.Run(ctx, func(ctx context.Context) error {
		if !c.isLeader() {
			return nil
		}
		if _, err := c.Consolidate(ctx); err != nil {
			c.log.Warn("consolidation round failed", zap.Error(err))
		}
		if c.gcDue() {
			if _, err := c.GC(ctx); err != nil {
				c.log.Warn("transaction gc failed", zap.Error(err))
			}
		}
		return nil
	})
}

// Stats reports the outcome of one consolidation round.
type Stats struct {
	// Records is the count of records folded successfully.
	Records int
	// Folded is the count of transactions folded across them.
	Folded int
	// Busy is the count of records skipped on a held lock.
	Busy int
	// Failed is the count of records whose consolidation errored.
	Failed int
}

// Consolidate runs one round: find the records with unapplied
// transactions in the window and fold them under per-record locks.
// Per-record failures isolate; the error return is reserved for the
// scan itself.
func (c *Consolidator) Consolidate(ctx context.Context) (stats Stats, err error) {
	defer mon.Task()(&ctx)(&err)
	if err := c.config.check(); err != nil {
		return stats, err
	}

	started := c.now()
	c.emit("consolidation.started", map[string]any{})

	ids, err := c.pendingRecords(ctx)
	if err != nil {
		c.emit("consolidation.failed", map[string]any{"error": err.Error()})
		return stats, err
	}

	var mu sync.Mutex
	var group errgroup.Group
	group.SetLimit(c.config.Concurrency)
	for _, id := range ids {
		group.Go(func() error {
			folded, err := c.consolidateRecordRetrying(ctx, id)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				stats.Records++
				stats.Folded += folded
			case ErrLockBusy.Has(err):
				stats.Busy++
				mon.Counter("lock_busy").Inc(1)
			default:
				stats.Failed++
				mon.Counter("consolidation_failures").Inc(1)
				c.log.Warn("record consolidation failed", zap.String("id", id), zap.Error(err))
				c.emit("consolidation.failed", map[string]any{"id": id, "error": err.Error()})
			}
			return nil
		})
	}
	_ = group.Wait()

	duration := c.now().Sub(started)
	if !c.config.Quiet {
		c.log.Info("consolidation round done",
			zap.Int("records", stats.Records),
			zap.Int("folded", stats.Folded),
			zap.Int("busy", stats.Busy),
			zap.Int("failed", stats.Failed),
			zap.Duration("duration", duration))
	}
	c.emit("consolidation.completed", map[string]any{
		"records":  stats.Records,
		"folded":   stats.Folded,
		"duration": duration.String(),
	})
	return stats, nil
}

// consolidateRecordRetrying wraps one record fold with bounded
// exponential backoff on transient errors. A held lock is final for
// this round.
func (c *Consolidator) consolidateRecordRetrying(ctx context.Context, id string) (folded int, err error) {
	strategy := backoff.NewExponentialBackOff()
	strategy.InitialInterval = time.Second
	strategy.MaxInterval = c.config.Interval

	err = backoff.Retry(func() error {
		folded, err = c.consolidateRecord(ctx, id)
		if err == nil {
			return nil
		}
		if ErrLockBusy.Has(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(strategy, uint64(c.config.MaxRetries)), ctx))
	return folded, err
}

// transaction is the decoded shape of one log record.
type transaction struct {
	id    string
	op    string
	value float64
}

// consolidateRecord folds every unapplied transaction of one record
// under its lock and marks them applied.
func (c *Consolidator) consolidateRecord(ctx context.Context, id string) (folded int, err error) {
	defer mon.Task()(&ctx)(&err)
	if err := c.config.check(); err != nil {
		return 0, err
	}

	release, err := c.acquireLock(ctx, id)
	if err != nil {
		return 0, err
	}
	defer release()

	pending, err := c.owner.PendingVersion(ctx, id)
	if err != nil {
		return 0, err
	}

	records, err := c.transactions.Query(ctx,
		map[string]any{"applied": false},
		resource.ListOptions{
			Partition:       partitionByRecord,
			PartitionValues: map[string]any{"originalId": id},
		})
	if err != nil {
		return 0, err
	}

	// transactions at or below the marker were folded by a run that
	// crashed before marking them; finish the bookkeeping only
	var fold []transaction
	var already []string
	for _, record := range records {
		tx, ok := decodeTransaction(record)
		if !ok {
			c.log.Warn("skipping malformed transaction", zap.String("record", id))
			continue
		}
		if pending != "" && tx.id <= pending {
			already = append(already, tx.id)
			continue
		}
		fold = append(fold, tx)
	}
	if len(fold) == 0 && len(already) == 0 {
		return 0, nil
	}

	if len(fold) > 0 {
		sort.Slice(fold, func(i, j int) bool { return fold[i].id < fold[j].id })

		current, err := c.ownerValue(ctx, id)
		if err != nil {
			return 0, err
		}
		aggregate := current
		for _, tx := range fold {
			switch tx.op {
			case OpAdd:
				aggregate += tx.value
			case OpSub:
				aggregate -= tx.value
			case OpSet:
				aggregate = tx.value
			default:
				return 0, Error.New("unknown operation %q in transaction %s", tx.op, tx.id)
			}
		}

		last := fold[len(fold)-1].id
		if err := c.owner.UpsertField(ctx, id, c.config.Field, aggregate, last); err != nil {
			return 0, err
		}
	}

	ids := already
	for _, tx := range fold {
		ids = append(ids, tx.id)
	}
	if err := c.markApplied(ctx, ids); err != nil {
		return 0, err
	}
	if c.analytics != nil && len(fold) > 0 {
		if err := c.rollup(ctx, fold); err != nil {
			// roll-ups are derived data; never fail the fold for them
			c.log.Warn("analytics roll-up failed", zap.Error(err))
		}
	}

	mon.Counter("transactions_folded").Inc(int64(len(fold)))
	return len(fold), nil
}

// pendingRecords scans the window's hour cohorts for unapplied
// transactions and returns the distinct record ids, capped at the
// round's batch size.
func (c *Consolidator) pendingRecords(ctx context.Context) (_ []string, err error) {
	defer mon.Task()(&ctx)(&err)

	now := c.now()
	hours := int(c.config.Window / time.Hour)
	if hours < 1 {
		hours = 1
	}

	seen := map[string]bool{}
	var ids []string
	for h := 0; h <= hours; h++ {
		cohort := cohortHour(now.Add(-time.Duration(h) * time.Hour))
		records, err := c.transactions.Query(ctx,
			map[string]any{"applied": false},
			resource.ListOptions{
				Partition:       partitionByCohort,
				PartitionValues: map[string]any{"cohortHour": cohort},
			})
		if err != nil {
			return nil, err
		}
		for _, record := range records {
			id, _ := record["originalId"].(string)
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
			if len(ids) >= c.config.BatchSize {
				return ids, nil
			}
		}
	}
	return ids, nil
}

// markApplied flips the applied flag of folded transactions, batched.
func (c *Consolidator) markApplied(ctx context.Context, ids []string) error {
	var group errgroup.Group
	group.SetLimit(c.config.Concurrency)
	for _, txID := range ids {
		group.Go(func() error {
			_, err := c.transactions.Patch(ctx, txID, map[string]any{"applied": true})
			return err
		})
	}
	return group.Wait()
}

// ownerValue reads the current field value of the owner, zero when the
// owner or the field does not exist yet.
func (c *Consolidator) ownerValue(ctx context.Context, id string) (float64, error) {
	record, err := c.owner.Get(ctx, id)
	if err != nil {
		if storage.ErrNoSuchKey.Has(err) {
			return 0, nil
		}
		return 0, err
	}
	value, ok := lookupPath(record, c.config.Field)
	if !ok {
		return 0, nil
	}
	number, ok := asNumber(value)
	if !ok {
		return 0, Error.New("field %q of record %s is not numeric", c.config.Field, id)
	}
	return number, nil
}

func decodeTransaction(record map[string]any) (transaction, bool) {
	tx := transaction{}
	tx.id, _ = record["id"].(string)
	tx.op, _ = record["operation"].(string)
	value, ok := asNumber(record["value"])
	if tx.id == "" || tx.op == "" || !ok {
		return transaction{}, false
	}
	tx.value = value
	return tx, true
}

func lookupPath(record map[string]any, path string) (any, bool) {
	var value any = record
	for _, part := range strings.Split(path, ".") {
		obj, ok := value.(map[string]any)
		if !ok {
			return nil, false
		}
		value, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return value, true
}

func asNumber(value any) (float64, bool) {
	switch n := value.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func (c *Consolidator) emit(name string, fields map[string]any) {
	payload := map[string]any{
		"resource": c.config.Resource,
		"field":    c.config.Field,
	}
	for key, value := range fields {
		payload[key] = value
	}
	c.bus.Emit(eventbus.Event{Name: name, Resource: c.config.Resource, Fields: payload})
}

// gcDue reports whether the daily retention sweep should run, and
// stamps it as started.
func (c *Consolidator) gcDue() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if now.Sub(c.lastGC) < 24*time.Hour {
		return false
	}
	c.lastGC = now
	return true
}
