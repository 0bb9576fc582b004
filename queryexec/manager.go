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

package queryexec

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/aveek0218/distribsql/coordinator"
	"github.com/aveek0218/distribsql/executor"
	"github.com/aveek0218/distribsql/execid"
	"github.com/aveek0218/distribsql/rpc"
)

// Planner turns an already-typed abstract plan (the output of the SQL
// parser and semantic analyzer, an external collaborator this module
// does not implement) into the ordered, leaf-to-root fragment DAG the
// coordinator schedules. A cluster node's session layer is expected
// to parse sql itself and hand this module only the plan it produced;
// Planner exists so that boundary is a single narrow interface.
type Planner interface {
	Plan(ctx context.Context, sql, defaultDatabase string) ([]coordinator.FragmentSpec, error)
}

// Manager implements rpc.SessionServer: it is the coordinatord
// process's client-facing surface, turning submit/wait/fetch/close/
// cancel calls into coordinator.Submit calls and Handle operations.
type Manager struct {
	Coordinator *coordinator.Coordinator
	Planner     Planner
	Logger      *log.Logger

	mu      sync.Mutex
	handles map[execid.QueryID]*Handle
	buffers map[execid.QueryID]*resultBuffer

	reapInterval time.Duration
	stopReap     chan struct{}
}

// NewManager constructs a Manager and starts its idle-expiration reaper.
func NewManager(coord *coordinator.Coordinator, planner Planner, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	m := &Manager{
		Coordinator:  coord,
		Planner:      planner,
		Logger:       logger,
		handles:      make(map[execid.QueryID]*Handle),
		buffers:      make(map[execid.QueryID]*resultBuffer),
		reapInterval: 5 * time.Second,
		stopReap:     make(chan struct{}),
	}
	go m.reapLoop()
	return m
}

// StopReaping halts the idle-expiration background goroutine; callers
// shutting down a coordinatord process should call this to avoid a
// goroutine leak in tests.
func (m *Manager) StopReaping() { close(m.stopReap) }

func (m *Manager) reapLoop() {
	t := time.NewTicker(m.reapInterval)
	defer t.Stop()
	for {
		select {
		case <-m.stopReap:
			return
		case now := <-t.C:
			m.reapIdle(now)
		}
	}
}

func (m *Manager) reapIdle(now time.Time) {
	m.mu.Lock()
	var expired []*Handle
	for id, h := range m.handles {
		if h.Idle(now) {
			expired = append(expired, h)
			delete(m.handles, id)
			delete(m.buffers, id)
		}
	}
	m.mu.Unlock()
	for _, h := range expired {
		m.Logger.Printf("queryexec: expiring idle query %s", h.QueryID)
		if err := h.Close(context.Background()); err != nil {
			m.Logger.Printf("queryexec: closing idle query %s: %v", h.QueryID, err)
		}
	}
}

// ResultSink implements worker.ResultSinkFactory: it is wired into the
// worker.Server a coordinatord process embeds at its own address, and
// is only ever invoked for a root fragment's ExecAtCoord instance,
// whose result sink kind is planfrag.ResultSink. The query id is
// registered in Submit before the prepare RPC that triggers this call
// is dispatched, so the lookup here always succeeds for a query this
// manager originated.
func (m *Manager) ResultSink(queryID execid.QueryID, _ execid.InstanceID) (executor.Sink, error) {
	m.mu.Lock()
	buf, ok := m.buffers[queryID]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("queryexec: no result buffer registered for query %s", queryID)
	}
	return buf, nil
}

// Submit implements rpc.SessionServer.
func (m *Manager) Submit(ctx context.Context, req *rpc.SubmitRequest) *rpc.SubmitResponse {
	specs, err := m.Planner.Plan(ctx, req.SQL, req.DefaultDatabase)
	if err != nil {
		return &rpc.SubmitResponse{Err: fmt.Sprintf("queryexec: planning: %v", err)}
	}

	queryID := execid.NewQueryID()
	buf := newResultBuffer()
	m.mu.Lock()
	m.buffers[queryID] = buf
	m.mu.Unlock()

	if err := m.Coordinator.Submit(ctx, queryID, specs, req.Options); err != nil {
		m.mu.Lock()
		delete(m.buffers, queryID)
		m.mu.Unlock()
		return &rpc.SubmitResponse{Err: err.Error()}
	}

	query, _ := m.Coordinator.Lookup(queryID)
	idleTTL := time.Duration(req.Options.IdleQueryTimeoutS) * time.Second
	h := newHandle(m.Coordinator, queryID, query, buf, idleTTL)

	m.mu.Lock()
	m.handles[queryID] = h
	m.mu.Unlock()

	return &rpc.SubmitResponse{QueryID: queryID}
}

func (m *Manager) lookup(id execid.QueryID) (*Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handles[id]
	return h, ok
}

// Wait implements rpc.SessionServer.
func (m *Manager) Wait(ctx context.Context, req *rpc.QueryIDRequest) *rpc.Ack {
	h, ok := m.lookup(req.QueryID)
	if !ok {
		return rpc.AckErr(fmt.Errorf("queryexec: no such query %s", req.QueryID))
	}
	if err := h.Wait(ctx); err != nil {
		return rpc.AckErr(err)
	}
	return rpc.AckOK()
}

// Fetch implements rpc.SessionServer.
func (m *Manager) Fetch(ctx context.Context, req *rpc.QueryIDRequest) *rpc.FetchResponse {
	h, ok := m.lookup(req.QueryID)
	if !ok {
		return &rpc.FetchResponse{StatusErr: fmt.Sprintf("queryexec: no such query %s", req.QueryID)}
	}
	batches, eos, st, err := h.FetchRows(ctx, req.MaxRows)
	if err != nil {
		return &rpc.FetchResponse{StatusErr: err.Error()}
	}
	resp := &rpc.FetchResponse{Batches: batches, EOS: eos, StatusCode: int(st.Code)}
	if !st.IsOK() {
		resp.StatusErr = st.Error()
	}
	return resp
}

// Close implements rpc.SessionServer.
func (m *Manager) Close(ctx context.Context, req *rpc.QueryIDRequest) *rpc.Ack {
	m.mu.Lock()
	h, ok := m.handles[req.QueryID]
	if ok {
		delete(m.handles, req.QueryID)
	}
	delete(m.buffers, req.QueryID)
	m.mu.Unlock()
	if !ok {
		return rpc.AckOK() // close is idempotent
	}
	if err := h.Close(ctx); err != nil {
		return rpc.AckErr(err)
	}
	return rpc.AckOK()
}

// CancelQuery implements rpc.SessionServer.
func (m *Manager) CancelQuery(ctx context.Context, req *rpc.QueryIDRequest) *rpc.Ack {
	if err := m.Coordinator.Cancel(ctx, req.QueryID); err != nil {
		return rpc.AckErr(err)
	}
	return rpc.AckOK()
}
