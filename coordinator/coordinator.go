// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package coordinator orchestrates one query across the worker fleet:
// it turns a set of plan fragments into a placed, wired instance
// schedule, dispatches prepare/exec/cancel over the worker RPC
// surface, and aggregates the status reports instances send back into
// a single first-error-wins, merged-profile query status.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/aveek0218/distribsql/config"
	"github.com/aveek0218/distribsql/execid"
	"github.com/aveek0218/distribsql/planfrag"
	"github.com/aveek0218/distribsql/profile"
	"github.com/aveek0218/distribsql/rpc"
	"github.com/aveek0218/distribsql/scheduler"
	"github.com/aveek0218/distribsql/status"
	"github.com/aveek0218/distribsql/wire"
)

// instanceInfo is what the coordinator remembers about one dispatched
// fragment instance: enough to broadcast a cancel and to attribute an
// incoming status report.
type instanceInfo struct {
	FragmentID int
	WorkerAddr string
}

// Query is one submitted statement's coordinator-side state, live
// from Submit until every instance reports Done.
type Query struct {
	ID execid.QueryID

	mu            sync.Mutex
	instances     map[execid.InstanceID]*instanceInfo
	doneInstances map[execid.InstanceID]bool
	latch         status.Latch
	profile       *profile.Node

	allDone    chan struct{}
	doneClosed bool
}

func newQuery(id execid.QueryID) *Query {
	return &Query{
		ID:            id,
		instances:     make(map[execid.InstanceID]*instanceInfo),
		doneInstances: make(map[execid.InstanceID]bool),
		profile:       profile.NewNode("query"),
		allDone:       make(chan struct{}),
	}
}

// Status returns the query's latched status: status.Ok until some
// instance reports a non-OK status, after which it is the first one latched.
func (q *Query) Status() status.Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.latch.Get()
}

// Profile returns the query's merged profile tree.
func (q *Query) Profile() *profile.Node {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.profile
}

// Done reports whether every dispatched instance has reported Done.
func (q *Query) Done() bool {
	select {
	case <-q.allDone:
		return true
	default:
		return false
	}
}

// Wait blocks until every instance has reported done or ctx expires.
func (q *Query) Wait(ctx context.Context) error {
	select {
	case <-q.allDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Query) markDone(instanceID execid.InstanceID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.doneInstances[instanceID] = true
	if q.doneClosed {
		return
	}
	for id := range q.instances {
		if !q.doneInstances[id] {
			return
		}
	}
	q.doneClosed = true
	close(q.allDone)
}

// Coordinator orchestrates queries over a worker fleet. Addr is the
// coordinator's own report_status listen address, handed to every
// instance it prepares.
type Coordinator struct {
	Addr         string
	Scheduler    *scheduler.Scheduler
	WorkerClient rpc.WorkerClient
	Logger       *log.Logger

	mu      sync.Mutex
	queries map[execid.QueryID]*Query
}

// New constructs a Coordinator ready to accept Submit calls.
func New(addr string, sched *scheduler.Scheduler, client rpc.WorkerClient, logger *log.Logger) *Coordinator {
	if logger == nil {
		logger = log.Default()
	}
	return &Coordinator{
		Addr:         addr,
		Scheduler:    sched,
		WorkerClient: client,
		Logger:       logger,
		queries:      make(map[execid.QueryID]*Query),
	}
}

// Lookup returns the live Query for id, if any.
func (c *Coordinator) Lookup(id execid.QueryID) (*Query, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, ok := c.queries[id]
	return q, ok
}

// forget drops a query's bookkeeping once its client has fetched its
// final result and closed it.
func (c *Coordinator) forget(id execid.QueryID) {
	c.mu.Lock()
	delete(c.queries, id)
	c.mu.Unlock()
}

// Forget is the exported form of forget, called by the query-exec
// layer once a handle closes.
func (c *Coordinator) Forget(id execid.QueryID) { c.forget(id) }

// Submit schedules and dispatches every fragment in specs, in the
// leaf-to-root order the caller supplies, returning once every
// instance has acknowledged prepare and exec. On any failure it
// cancels whatever was already dispatched and returns the error;
// the query is never registered in that case.
//
// queryID is supplied by the caller rather than generated here so a
// query-exec layer embedding a worker server on the coordinator's own
// address can register the root fragment's result sink under this id
// before the prepare RPCs that will look it up are dispatched.
func (c *Coordinator) Submit(ctx context.Context, queryID execid.QueryID, specs []FragmentSpec, opts config.QueryOptions) error {
	opts, err := opts.Normalize()
	if err != nil {
		return err
	}
	sch, err := buildSchedule(c.Scheduler, specs)
	if err != nil {
		return err
	}

	q := newQuery(queryID)
	for fragID, instances := range sch.instances {
		for _, inst := range instances {
			q.instances[inst.InstanceID] = &instanceInfo{FragmentID: fragID, WorkerAddr: inst.WorkerAddr}
		}
	}
	if len(q.instances) == 0 {
		return fmt.Errorf("coordinator: query has no fragment instances to run")
	}

	var plan []dispatchUnit
	for _, sp := range specs {
		for _, inst := range sch.instances[sp.Fragment.ID] {
			plan = append(plan, dispatchUnit{inst: inst, frag: sp.Fragment})
		}
	}

	if err := fanOut(plan, func(d dispatchUnit) error {
		numUp := sch.upstreamCount[d.frag.ID]
		req := &rpc.PrepareRequest{
			Version:            rpc.CurrentVersion,
			QueryID:            queryID,
			Instance:           d.inst,
			Fragment:           d.frag,
			NumUpstreamSenders: numUp,
			Options:            opts,
			CoordinatorAddr:    c.Addr,
		}
		return c.WorkerClient.Prepare(ctx, d.inst.WorkerAddr, req)
	}); err != nil {
		c.cancelInstances(context.Background(), q)
		return fmt.Errorf("coordinator: preparing query: %w", err)
	}

	c.mu.Lock()
	c.queries[queryID] = q
	c.mu.Unlock()

	if err := fanOut(plan, func(d dispatchUnit) error {
		req := &rpc.InstanceRequest{Version: rpc.CurrentVersion, QueryID: queryID, InstanceID: d.inst.InstanceID}
		return c.WorkerClient.Exec(ctx, d.inst.WorkerAddr, req)
	}); err != nil {
		c.cancelInstances(context.Background(), q)
		c.forget(queryID)
		return fmt.Errorf("coordinator: starting query: %w", err)
	}

	return nil
}

// dispatchUnit pairs a placed instance with the fragment it runs, the
// unit of work fanOut sends to one worker per call.
type dispatchUnit struct {
	inst *planfrag.Instance
	frag *planfrag.Fragment
}

// fanOut runs fn over every item in items concurrently and returns the
// first error observed, if any, after every goroutine has finished.
func fanOut(items []dispatchUnit, fn func(dispatchUnit) error) error {
	var wg sync.WaitGroup
	errs := make([]error, len(items))
	for i := range items {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = fn(items[i])
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// Cancel broadcasts a cancel RPC to every instance of queryID and
// marks its status latched as user-cancelled.
func (c *Coordinator) Cancel(ctx context.Context, queryID execid.QueryID) error {
	q, ok := c.Lookup(queryID)
	if !ok {
		return fmt.Errorf("coordinator: no such query %s", queryID)
	}
	q.mu.Lock()
	q.latch.Set(status.Cancel("client requested cancellation"))
	q.mu.Unlock()
	c.cancelInstances(ctx, q)
	return nil
}

func (c *Coordinator) cancelInstances(ctx context.Context, q *Query) {
	q.mu.Lock()
	targets := make([]*instanceInfo, 0, len(q.instances))
	ids := make([]execid.InstanceID, 0, len(q.instances))
	for id, info := range q.instances {
		targets = append(targets, info)
		ids = append(ids, id)
	}
	q.mu.Unlock()

	var wg sync.WaitGroup
	for i := range targets {
		info, id := targets[i], ids[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := &rpc.InstanceRequest{Version: rpc.CurrentVersion, QueryID: q.ID, InstanceID: id}
			if err := c.WorkerClient.Cancel(ctx, info.WorkerAddr, req); err != nil {
				c.Logger.Printf("coordinator: cancelling instance %s on %s: %v", id, info.WorkerAddr, err)
			}
		}()
	}
	wg.Wait()
}

// ReportStatus implements rpc.StatusReportServer: it folds one
// instance's report into its query's latched status, merged profile,
// and completion tracking.
func (c *Coordinator) ReportStatus(ctx context.Context, req *rpc.ReportStatusRequest) *rpc.Ack {
	q, ok := c.Lookup(req.QueryID)
	if !ok {
		return rpc.AckErr(fmt.Errorf("coordinator: status report for unknown query %s", req.QueryID))
	}

	st := status.Ok
	if req.StatusErr != "" {
		st = status.New(req.StatusCode, req.StatusClass, errors.New(req.StatusErr))
	}

	q.mu.Lock()
	q.latch.Set(st)
	for _, line := range req.NewErrorLines {
		q.latch.Log.Append(line)
	}
	if len(req.ProfileBytes) > 0 {
		if prof, err := decodeProfile(req.ProfileBytes); err == nil {
			q.profile.Merge(prof)
		} else {
			c.Logger.Printf("coordinator: decoding profile from instance %s: %v", req.InstanceID, err)
		}
	}
	q.mu.Unlock()

	if req.Done {
		q.markDone(req.InstanceID)
		if st.Class == status.QueryFatal || st.Class == status.UserCancel {
			c.cancelInstances(context.Background(), q)
		}
	}

	return rpc.AckOK()
}

func decodeProfile(data []byte) (*profile.Node, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("coordinator: profile envelope too short")
	}
	n := uint32(data[0])<<24 | uint32(data[1])<<16 | uint32(data[2])<<8 | uint32(data[3])
	if int(n) > len(data)-4 {
		return nil, fmt.Errorf("coordinator: profile envelope declares %d bytes but only has %d", n, len(data)-4)
	}
	st, rest, err := wire.DecodeSymtab(data[4 : 4+n])
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("coordinator: %d trailing bytes after profile symbol table", len(rest))
	}
	node, _, err := profile.Decode(st, data[4+n:])
	return node, err
}
