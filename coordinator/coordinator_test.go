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

package coordinator

import (
	"context"
	"sync"
	"testing"

	"github.com/aveek0218/distribsql/config"
	"github.com/aveek0218/distribsql/execid"
	"github.com/aveek0218/distribsql/planfrag"
	"github.com/aveek0218/distribsql/rpc"
	"github.com/aveek0218/distribsql/scheduler"
	"github.com/aveek0218/distribsql/status"
)

func leafFragment(id int, sinkKind planfrag.SinkKind) *planfrag.Fragment {
	return &planfrag.Fragment{
		ID:   id,
		Leaf: true,
		Nodes: []planfrag.PlanNode{
			{ID: 0, Kind: planfrag.Scan, Scan: &planfrag.ScanAttrs{Ranges: []planfrag.ScanRange{
				{File: "a", Offset: 0, Length: 100, Replicas: []string{"w1"}},
				{File: "b", Offset: 0, Length: 100, Replicas: []string{"w2"}},
			}}},
		},
		Sink: planfrag.Sink{Kind: sinkKind},
	}
}

func rootFragment(id int) *planfrag.Fragment {
	return &planfrag.Fragment{
		ID:   id,
		Leaf: false,
		Nodes: []planfrag.PlanNode{
			{ID: 0, Kind: planfrag.ExchangeReceive, Exchange: &planfrag.ExchangeAttrs{}},
		},
		Sink:        planfrag.Sink{Kind: planfrag.ResultSink},
		ExecAtCoord: true,
	}
}

func submit(c *Coordinator, specs []FragmentSpec, opts config.QueryOptions) (execid.QueryID, error) {
	queryID := execid.NewQueryID()
	if err := c.Submit(context.Background(), queryID, specs, opts); err != nil {
		return execid.QueryID{}, err
	}
	return queryID, nil
}

func newTestScheduler() *scheduler.Scheduler {
	s := scheduler.New("coord:9999")
	s.SetBackends([]string{"w1:9000", "w2:9000"})
	return s
}

func TestBuildScheduleLeafAndRoot(t *testing.T) {
	sched := newTestScheduler()
	leaf := leafFragment(1, planfrag.UnpartitionedSink)
	root := rootFragment(2)

	specs := []FragmentSpec{
		{Fragment: leaf},
		{Fragment: root, UpstreamFragmentID: 1},
	}

	sch, err := buildSchedule(sched, specs)
	if err != nil {
		t.Fatalf("buildSchedule: %v", err)
	}

	leafInstances := sch.instances[1]
	if len(leafInstances) == 0 {
		t.Fatalf("expected leaf instances, got none")
	}
	for _, inst := range leafInstances {
		if len(inst.Destinations) != 1 {
			t.Fatalf("unpartitioned sink should wire exactly one destination, got %d", len(inst.Destinations))
		}
	}

	rootInstances := sch.instances[2]
	if len(rootInstances) != 1 {
		t.Fatalf("root fragment is ExecAtCoord, expected exactly one instance, got %d", len(rootInstances))
	}
	if sch.upstreamCount[2] != len(leafInstances) {
		t.Fatalf("upstream count = %d, want %d", sch.upstreamCount[2], len(leafInstances))
	}
	dest := leafInstances[0].Destinations[0]
	if dest.DestInstanceID != rootInstances[0].InstanceID {
		t.Fatalf("leaf instance does not point at the root instance")
	}
}

func TestBuildScheduleBroadcastWiresEveryConsumer(t *testing.T) {
	sched := newTestScheduler()
	leaf := leafFragment(1, planfrag.BroadcastSink)
	root := rootFragment(2)
	root.ExecAtCoord = false

	specs := []FragmentSpec{
		{Fragment: leaf},
		{Fragment: root, UpstreamFragmentID: 1},
	}

	sch, err := buildSchedule(sched, specs)
	if err != nil {
		t.Fatalf("buildSchedule: %v", err)
	}

	rootInstances := sch.instances[2]
	for _, inst := range sch.instances[1] {
		if len(inst.Destinations) != len(rootInstances) {
			t.Fatalf("broadcast sink should wire every consumer, got %d want %d", len(inst.Destinations), len(rootInstances))
		}
	}
}

func TestBuildScheduleMissingUpstreamErrors(t *testing.T) {
	sched := newTestScheduler()
	root := rootFragment(2)
	specs := []FragmentSpec{{Fragment: root, UpstreamFragmentID: 99}}
	if _, err := buildSchedule(sched, specs); err == nil {
		t.Fatal("expected error for unplaced upstream fragment")
	}
}

// fakeWorkerClient is an in-memory rpc.WorkerClient that records calls
// instead of dialing anything.
type fakeWorkerClient struct {
	mu         sync.Mutex
	prepared   []execid.InstanceID
	exec       []execid.InstanceID
	cancelled  []execid.InstanceID
	failPrepare map[execid.InstanceID]bool
	failFragments map[int]bool
}

func (f *fakeWorkerClient) Prepare(ctx context.Context, addr string, req *rpc.PrepareRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPrepare[req.Instance.InstanceID] || f.failFragments[req.Instance.FragmentID] {
		return errFake
	}
	f.prepared = append(f.prepared, req.Instance.InstanceID)
	return nil
}

func (f *fakeWorkerClient) Exec(ctx context.Context, addr string, req *rpc.InstanceRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exec = append(f.exec, req.InstanceID)
	return nil
}

func (f *fakeWorkerClient) Cancel(ctx context.Context, addr string, req *rpc.InstanceRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, req.InstanceID)
	return nil
}

var errFake = fakeErr("prepare failed")

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

func TestSubmitPreparesAndExecsEveryInstance(t *testing.T) {
	sched := newTestScheduler()
	leaf := leafFragment(1, planfrag.UnpartitionedSink)
	root := rootFragment(2)

	client := &fakeWorkerClient{failPrepare: map[execid.InstanceID]bool{}}
	c := New("coord:9999", sched, client, nil)

	queryID, err := submit(c, []FragmentSpec{
		{Fragment: leaf},
		{Fragment: root, UpstreamFragmentID: 1},
	}, config.QueryOptions{})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if queryID.IsZero() {
		t.Fatal("expected non-zero query id")
	}

	q, ok := c.Lookup(queryID)
	if !ok {
		t.Fatal("query not registered after Submit")
	}

	client.mu.Lock()
	nPrepared, nExec := len(client.prepared), len(client.exec)
	client.mu.Unlock()
	if nPrepared != len(q.instances) || nExec != len(q.instances) {
		t.Fatalf("prepared=%d exec=%d, want %d each", nPrepared, nExec, len(q.instances))
	}
}

func TestSubmitCancelsOnPrepareFailure(t *testing.T) {
	sched := newTestScheduler()
	leaf := leafFragment(1, planfrag.UnpartitionedSink)
	root := rootFragment(2)

	client := &fakeWorkerClient{failPrepare: map[execid.InstanceID]bool{}}
	c := New("coord:9999", sched, client, nil)

	client.failFragments = map[int]bool{1: true}

	_, err := submit(c, []FragmentSpec{
		{Fragment: leaf},
		{Fragment: root, UpstreamFragmentID: 1},
	}, config.QueryOptions{})
	if err == nil {
		t.Fatal("expected Submit to fail when one instance fails to prepare")
	}
	client.mu.Lock()
	nCancelled := len(client.cancelled)
	client.mu.Unlock()
	if nCancelled == 0 {
		t.Fatal("expected Submit to cancel the dispatched instances after a prepare failure")
	}
}

func TestReportStatusAggregatesAndSignalsDone(t *testing.T) {
	sched := newTestScheduler()
	leaf := leafFragment(1, planfrag.UnpartitionedSink)
	root := rootFragment(2)

	client := &fakeWorkerClient{failPrepare: map[execid.InstanceID]bool{}}
	c := New("coord:9999", sched, client, nil)

	queryID, err := submit(c, []FragmentSpec{
		{Fragment: leaf},
		{Fragment: root, UpstreamFragmentID: 1},
	}, config.QueryOptions{})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	q, _ := c.Lookup(queryID)
	var ids []execid.InstanceID
	for id := range q.instances {
		ids = append(ids, id)
	}

	for i, id := range ids {
		ack := c.ReportStatus(context.Background(), &rpc.ReportStatusRequest{
			QueryID:    queryID,
			InstanceID: id,
			Done:       true,
		})
		if !ack.OK {
			t.Fatalf("ReportStatus returned error ack: %s", ack.ErrMsg)
		}
		if i < len(ids)-1 && q.Done() {
			t.Fatalf("query marked done before every instance reported")
		}
	}

	if !q.Done() {
		t.Fatal("expected query done after every instance reported")
	}
	if st := q.Status(); !st.IsOK() {
		t.Fatalf("expected Ok status, got %v", st)
	}
}

func TestReportStatusLatchesFirstError(t *testing.T) {
	sched := newTestScheduler()
	leaf := leafFragment(1, planfrag.UnpartitionedSink)
	root := rootFragment(2)

	client := &fakeWorkerClient{failPrepare: map[execid.InstanceID]bool{}}
	c := New("coord:9999", sched, client, nil)

	queryID, err := submit(c, []FragmentSpec{
		{Fragment: leaf},
		{Fragment: root, UpstreamFragmentID: 1},
	}, config.QueryOptions{})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	q, _ := c.Lookup(queryID)
	var first execid.InstanceID
	for id := range q.instances {
		first = id
		break
	}

	c.ReportStatus(context.Background(), &rpc.ReportStatusRequest{
		QueryID:     queryID,
		InstanceID:  first,
		StatusCode:  status.InternalError,
		StatusClass: status.QueryFatal,
		StatusErr:   "boom",
	})

	st := q.Status()
	if st.IsOK() {
		t.Fatal("expected latched error status")
	}
	if st.Code != status.InternalError {
		t.Fatalf("status code = %v, want InternalError", st.Code)
	}
}
