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

package scheduler

import (
	"github.com/aveek0218/distribsql/execid"
	"github.com/aveek0218/distribsql/planfrag"
)

// FragmentKind is the partitioning shape a fragment's instance
// placement follows, as declared by the planner.
type FragmentKind int

const (
	// Unpartitioned fragments run a single instance on the coordinator.
	Unpartitioned FragmentKind = iota
	// ScanPartitioned fragments get one instance per distinct worker
	// that scan-range assignment placed work on.
	ScanPartitioned
	// ExchangePartitioned fragments (leftmost input is an exchange)
	// get one instance per distinct upstream worker.
	ExchangePartitioned
	// Broadcast fragments replicate one instance per downstream worker.
	Broadcast
)

// Schedule maps a fragment id to the instance parameters the
// coordinator will prepare on each worker.
type Schedule map[int][]*planfrag.Instance

// PlaceInstances builds the instance list for one fragment. workers
// is the set of distinct workers relevant to kind: the scan-range
// assignment targets for ScanPartitioned, the upstream sender set for
// ExchangePartitioned, or the downstream receiver set for Broadcast;
// it is ignored for Unpartitioned.
func (s *Scheduler) PlaceInstances(frag *planfrag.Fragment, kind FragmentKind, workers []string, scans map[string][]planfrag.ScanRange) []*planfrag.Instance {
	switch kind {
	case Unpartitioned:
		return []*planfrag.Instance{{
			InstanceID:   execid.NewInstanceID(),
			FragmentID:   frag.ID,
			WorkerAddr:   s.coordAddr,
			WorkerNumber: 0,
			ScanRanges:   scans[s.coordAddr],
		}}
	case ScanPartitioned, ExchangePartitioned, Broadcast:
		out := make([]*planfrag.Instance, 0, len(workers))
		for i, w := range workers {
			out = append(out, &planfrag.Instance{
				InstanceID:   execid.NewInstanceID(),
				FragmentID:   frag.ID,
				WorkerAddr:   w,
				WorkerNumber: i,
				ScanRanges:   scans[w],
			})
		}
		return out
	default:
		return nil
	}
}

// DistinctWorkers returns the deduplicated worker list from a slice
// of ScanAssignment, preserving first-seen order (used to derive the
// ScanPartitioned worker set from AssignScanRanges' output).
func DistinctWorkers(assignments []ScanAssignment) []string {
	seen := make(map[string]bool)
	var out []string
	for _, a := range assignments {
		if !seen[a.Worker] {
			seen[a.Worker] = true
			out = append(out, a.Worker)
		}
	}
	return out
}

// GroupByWorker buckets scan ranges by the worker they were assigned to.
func GroupByWorker(assignments []ScanAssignment) map[string][]planfrag.ScanRange {
	out := make(map[string][]planfrag.ScanRange)
	for _, a := range assignments {
		out[a.Worker] = append(out[a.Worker], a.Range)
	}
	return out
}
