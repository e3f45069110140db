// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"time"

	"storj.io/s3db/storage"
)

// leaderState is the persisted state.json.
type leaderState struct {
	Leader    string    `json:"leader"`
	Epoch     int64     `json:"epoch"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// workerRecord is one worker's heartbeat object.
type workerRecord struct {
	WorkerID      string    `json:"workerId"`
	StartedAt     time.Time `json:"startedAt"`
	LastHeartbeat time.Time `json:"lastHeartbeat"`
}

// heartbeat refreshes this worker's record.
func (c *Coordinator) heartbeat(ctx context.Context) error {
	record := workerRecord{
		WorkerID:      c.workerID,
		StartedAt:     c.startedAt,
		LastHeartbeat: c.now(),
	}
	body, err := json.Marshal(record)
	if err != nil {
		return Error.Wrap(err)
	}
	_, err = c.store.Put(ctx, c.workerKey(c.workerID), bytes.NewReader(body), storage.PutOptions{
		ContentType:   "application/json",
		ContentLength: int64(len(body)),
	})
	return Error.Wrap(err)
}

// observe reads the shared state and either follows the current
// leader, renews our own lease, or runs an election.
func (c *Coordinator) observe(ctx context.Context) error {
	state, etag, err := c.readState(ctx)
	if err != nil && !storage.ErrNoSuchKey.Has(err) {
		return err
	}

	now := c.now()
	if state != nil && now.Sub(state.UpdatedAt) <= c.config.LeaseTimeout {
		if state.Leader == c.workerID {
			return c.renewLease(ctx, state, etag)
		}
		alive, err := c.workerAlive(ctx, state.Leader, now)
		if err != nil {
			return err
		}
		if alive {
			c.updateLeadership(state.Leader, state.Epoch)
			return nil
		}
	}

	return c.elect(ctx, state, etag, now)
}

// renewLease extends our leadership; losing the conditional put means
// another worker took over.
func (c *Coordinator) renewLease(ctx context.Context, state *leaderState, etag string) error {
	state.UpdatedAt = c.now()
	err := c.writeState(ctx, state, storage.PutOptions{IfMatch: etag})
	if err == nil {
		c.updateLeadership(state.Leader, state.Epoch)
		return nil
	}
	if storage.ErrPrecondition.Has(err) || storage.ErrNoSuchKey.Has(err) {
		c.log.Info("lease renewal lost, stepping down")
		c.updateLeadership("", state.Epoch)
		return nil
	}
	return err
}

// elect picks the smallest active worker id and, when that is us,
// claims the state with a conditional put.
func (c *Coordinator) elect(ctx context.Context, previous *leaderState, etag string, now time.Time) error {
	active, err := c.activeWorkers(ctx, now)
	if err != nil {
		return err
	}
	if len(active) == 0 {
		// our own heartbeat should be visible; treat as a transient
		return Error.New("no active workers found")
	}
	sort.Strings(active)
	winner := active[0]
	if winner != c.workerID {
		// the winner writes the state; keep following whatever stands
		if previous != nil {
			c.updateLeadership(previous.Leader, previous.Epoch)
		}
		return nil
	}

	state := &leaderState{Leader: c.workerID, Epoch: 1, UpdatedAt: now}
	if previous != nil {
		state.Epoch = previous.Epoch + 1
	}
	// a corrupt state object still carries an etag to replace
	opts := storage.PutOptions{IfNoneMatch: "*"}
	if etag != "" {
		opts = storage.PutOptions{IfMatch: etag}
	}

	err = c.writeState(ctx, state, opts)
	if err == nil {
		c.updateLeadership(state.Leader, state.Epoch)
		return nil
	}
	if storage.ErrPrecondition.Has(err) {
		// lost the race; next tick observes the winner
		mon.Counter("election_failures").Inc(1)
		c.log.Debug("election lost")
		return nil
	}
	return err
}

// workerAlive reports whether a worker's heartbeat is within the
// worker timeout.
func (c *Coordinator) workerAlive(ctx context.Context, id string, now time.Time) (bool, error) {
	if id == "" {
		return false, nil
	}
	record, err := c.readWorker(ctx, id)
	if err != nil {
		if storage.ErrNoSuchKey.Has(err) {
			return false, nil
		}
		return false, err
	}
	return now.Sub(record.LastHeartbeat) <= c.config.WorkerTimeout, nil
}

// activeWorkers lists the worker ids with a fresh heartbeat.
func (c *Coordinator) activeWorkers(ctx context.Context, now time.Time) ([]string, error) {
	var ids []string
	err := storage.WalkKeys(ctx, c.store, c.workersPrefix(), func(info storage.ObjectInfo) error {
		obj, err := c.store.Get(ctx, info.Key)
		if err != nil {
			if storage.ErrNoSuchKey.Has(err) {
				return nil // vanished between listing and read
			}
			return err
		}
		var record workerRecord
		if err := json.Unmarshal(obj.Body, &record); err != nil {
			c.log.Warn("skipping corrupt worker record")
			return nil
		}
		if now.Sub(record.LastHeartbeat) <= c.config.WorkerTimeout {
			ids = append(ids, record.WorkerID)
		}
		return nil
	})
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return ids, nil
}

func (c *Coordinator) readState(ctx context.Context) (*leaderState, string, error) {
	obj, err := c.store.Get(ctx, c.stateKey())
	if err != nil {
		return nil, "", err
	}
	var state leaderState
	if err := json.Unmarshal(obj.Body, &state); err != nil {
		// corrupt state is equivalent to no state; an election rewrites it
		c.log.Warn("corrupt leader state, forcing election")
		return nil, obj.ETag, nil
	}
	return &state, obj.ETag, nil
}

func (c *Coordinator) writeState(ctx context.Context, state *leaderState, opts storage.PutOptions) error {
	body, err := json.Marshal(state)
	if err != nil {
		return Error.Wrap(err)
	}
	opts.ContentType = "application/json"
	opts.ContentLength = int64(len(body))
	_, err = c.store.Put(ctx, c.stateKey(), bytes.NewReader(body), opts)
	return err
}

func (c *Coordinator) readWorker(ctx context.Context, id string) (*workerRecord, error) {
	obj, err := c.store.Get(ctx, c.workerKey(id))
	if err != nil {
		return nil, err
	}
	var record workerRecord
	if err := json.Unmarshal(obj.Body, &record); err != nil {
		return nil, Error.New("corrupt worker record %q: %v", id, err)
	}
	return &record, nil
}
