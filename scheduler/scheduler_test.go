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
	"testing"

	"github.com/aveek0218/distribsql/planfrag"
)

func TestAssignScanRangesPrefersLocalReplica(t *testing.T) {
	s := New("coord:9000")
	s.SetBackends([]string{"w1:9000", "w2:9000", "w3:9000"})

	ranges := []planfrag.ScanRange{
		{File: "a", Replicas: []string{"w2:9000"}},
		{File: "b", Replicas: []string{"w2:9000"}},
	}
	got := s.AssignScanRanges(false, ranges)
	for _, a := range got {
		if !a.Local || a.Worker != "w2:9000" {
			t.Fatalf("assignment = %+v, want local w2:9000", a)
		}
	}
	if s.LocalAssignments() != 2 {
		t.Fatalf("local assignments = %d, want 2", s.LocalAssignments())
	}
}

func TestAssignScanRangesRoundRobinsWithoutLocalReplica(t *testing.T) {
	s := New("coord:9000")
	s.SetBackends([]string{"w1:9000", "w2:9000"})

	ranges := []planfrag.ScanRange{
		{File: "a", Replicas: []string{"unknown-host"}},
		{File: "b", Replicas: []string{"unknown-host"}},
		{File: "c", Replicas: []string{"unknown-host"}},
	}
	got := s.AssignScanRanges(false, ranges)
	if got[0].Worker == got[1].Worker && got[1].Worker == got[2].Worker {
		t.Fatal("expected round-robin to spread non-local ranges across backends")
	}
	if s.TotalAssignments() != 3 {
		t.Fatalf("total assignments = %d, want 3", s.TotalAssignments())
	}
	if s.LocalAssignments() != 0 {
		t.Fatalf("local assignments = %d, want 0", s.LocalAssignments())
	}
}

func TestAssignScanRangesExecAtCoordPinsEverything(t *testing.T) {
	s := New("coord:9000")
	s.SetBackends([]string{"w1:9000", "w2:9000"})
	ranges := []planfrag.ScanRange{{File: "a"}, {File: "b"}}
	got := s.AssignScanRanges(true, ranges)
	for _, a := range got {
		if a.Worker != "coord:9000" || a.Local {
			t.Fatalf("exec_at_coord assignment = %+v, want coord:9000/non-local", a)
		}
	}
}

func TestSetBackendsResetsRoundRobinState(t *testing.T) {
	s := New("coord:9000")
	s.SetBackends([]string{"w1:9000", "w2:9000"})
	s.AssignScanRanges(false, []planfrag.ScanRange{{File: "a", Replicas: []string{"x"}}})
	if s.allCursor == 0 {
		t.Fatal("expected cursor to advance")
	}
	s.SetBackends([]string{"w3:9000"})
	if s.allCursor != 0 {
		t.Fatal("membership change must reset round-robin cursor")
	}
}

func TestPlaceInstancesUnpartitionedRunsOnCoordinator(t *testing.T) {
	s := New("coord:9000")
	frag := &planfrag.Fragment{ID: 1, Nodes: []planfrag.PlanNode{{ID: 0, Kind: planfrag.Aggregate}}}
	instances := s.PlaceInstances(frag, Unpartitioned, nil, nil)
	if len(instances) != 1 || instances[0].WorkerAddr != "coord:9000" {
		t.Fatalf("instances = %+v", instances)
	}
}

func TestPlaceInstancesScanPartitionedOnePerWorker(t *testing.T) {
	s := New("coord:9000")
	frag := &planfrag.Fragment{ID: 2, Nodes: []planfrag.PlanNode{{ID: 0, Kind: planfrag.Scan}}, Leaf: true}
	s.SetBackends([]string{"w1", "w2"})
	scans := s.AssignScanRanges(false, []planfrag.ScanRange{
		{File: "a", Replicas: []string{"w1"}},
		{File: "b", Replicas: []string{"w2"}},
	})
	workers := DistinctWorkers(scans)
	instances := s.PlaceInstances(frag, ScanPartitioned, workers, GroupByWorker(scans))
	if len(instances) != len(workers) {
		t.Fatalf("instances = %d, want %d", len(instances), len(workers))
	}
}

func TestPartitionOfIsDeterministic(t *testing.T) {
	a := PartitionOf([]byte("alice"), 4)
	b := PartitionOf([]byte("alice"), 4)
	if a != b {
		t.Fatal("PartitionOf must be deterministic for the same key")
	}
	if a < 0 || a >= 4 {
		t.Fatalf("partition %d out of range [0,4)", a)
	}
}
