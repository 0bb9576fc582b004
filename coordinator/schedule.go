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
	"fmt"

	"github.com/aveek0218/distribsql/planfrag"
	"github.com/aveek0218/distribsql/scheduler"
	"golang.org/x/exp/slices"
)

// FragmentSpec pairs a plan fragment with the id of the fragment
// feeding its exchange-receive root, a link the planner establishes
// when it cuts the tree but that planfrag.Fragment itself does not
// carry (a fragment only knows its own nodes, not its place in the
// fragment DAG). Specs must be supplied in leaf-to-root order: every
// fragment's upstream must already appear earlier in the slice.
// UpstreamFragmentID is ignored for a leaf fragment.
type FragmentSpec struct {
	Fragment           *planfrag.Fragment
	UpstreamFragmentID int
}

// schedule is the coordinator's working set for one query: the
// placed instances per fragment, plus how many distinct upstream
// senders each non-leaf fragment's receiver should expect.
type schedule struct {
	instances      map[int][]*planfrag.Instance
	upstreamCount  map[int]int
	fragmentByID   map[int]*planfrag.Fragment
}

// buildSchedule assigns scan ranges and fragment instances for every
// fragment in specs and wires each producer fragment's sink
// destinations to the consumer instances its sink kind implies.
func buildSchedule(sched *scheduler.Scheduler, specs []FragmentSpec) (*schedule, error) {
	out := &schedule{
		instances:     make(map[int][]*planfrag.Instance),
		upstreamCount: make(map[int]int),
		fragmentByID:  make(map[int]*planfrag.Fragment),
	}
	for _, sp := range specs {
		out.fragmentByID[sp.Fragment.ID] = sp.Fragment
	}

	for _, sp := range specs {
		frag := sp.Fragment
		if err := frag.Validate(); err != nil {
			return nil, fmt.Errorf("coordinator: %w", err)
		}

		var instances []*planfrag.Instance
		if frag.Leaf {
			ranges := scanRangesOf(frag)
			assignments := sched.AssignScanRanges(frag.ExecAtCoord, ranges)
			scans := scheduler.GroupByWorker(assignments)
			kind := scheduler.ScanPartitioned
			var workers []string
			if frag.ExecAtCoord {
				kind = scheduler.Unpartitioned
			} else {
				workers = scheduler.DistinctWorkers(assignments)
			}
			instances = sched.PlaceInstances(frag, kind, workers, scans)
		} else {
			upstream, ok := out.instances[sp.UpstreamFragmentID]
			if !ok {
				return nil, fmt.Errorf("coordinator: fragment %d references upstream fragment %d which has not been placed yet", frag.ID, sp.UpstreamFragmentID)
			}
			kind := scheduler.ExchangePartitioned
			var workers []string
			if frag.ExecAtCoord {
				kind = scheduler.Unpartitioned
			} else {
				workers = distinctInstanceWorkers(upstream)
			}
			instances = sched.PlaceInstances(frag, kind, workers, nil)
			out.upstreamCount[frag.ID] = len(upstream)

			upstreamFrag := out.fragmentByID[sp.UpstreamFragmentID]
			wireDestinations(upstream, instances, upstreamFrag.Sink.Kind)
		}
		out.instances[frag.ID] = instances
	}
	return out, nil
}

// scanRangesOf collects every scan range named by frag's Scan nodes.
func scanRangesOf(frag *planfrag.Fragment) []planfrag.ScanRange {
	var out []planfrag.ScanRange
	for i := range frag.Nodes {
		if frag.Nodes[i].Kind == planfrag.Scan && frag.Nodes[i].Scan != nil {
			out = append(out, frag.Nodes[i].Scan.Ranges...)
		}
	}
	return out
}

// distinctInstanceWorkers returns the sorted, deduplicated set of
// worker addresses an upstream fragment ran on: sorted so that
// placing the downstream fragment is deterministic given the same
// upstream instance set, independent of map iteration order upstream.
func distinctInstanceWorkers(instances []*planfrag.Instance) []string {
	seen := make(map[string]bool, len(instances))
	out := make([]string, 0, len(instances))
	for _, inst := range instances {
		if !seen[inst.WorkerAddr] {
			seen[inst.WorkerAddr] = true
			out = append(out, inst.WorkerAddr)
		}
	}
	slices.Sort(out)
	return out
}

// wireDestinations sets every producer instance's Destinations
// according to the producer fragment's sink kind: a single shared
// target for UnpartitionedSink, the full consumer set for
// BroadcastSink and HashPartitionedSink (the sink transmits to all of
// them, or picks one of them per row, respectively),
// and nothing for ResultSink since it is the end of the line.
func wireDestinations(producers, consumers []*planfrag.Instance, sinkKind planfrag.SinkKind) {
	switch sinkKind {
	case planfrag.UnpartitionedSink:
		if len(consumers) == 0 {
			return
		}
		d := planfrag.Destination{WorkerAddr: consumers[0].WorkerAddr, DestInstanceID: consumers[0].InstanceID, NodeID: 0}
		for _, p := range producers {
			p.Destinations = []planfrag.Destination{d}
		}
	case planfrag.BroadcastSink, planfrag.HashPartitionedSink:
		dests := make([]planfrag.Destination, len(consumers))
		for i, c := range consumers {
			dests[i] = planfrag.Destination{WorkerAddr: c.WorkerAddr, DestInstanceID: c.InstanceID, NodeID: 0}
		}
		for _, p := range producers {
			p.Destinations = dests
		}
	case planfrag.ResultSink:
	}
}
