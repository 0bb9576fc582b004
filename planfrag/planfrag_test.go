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

package planfrag

import (
	"testing"

	"github.com/aveek0218/distribsql/execid"
	"github.com/aveek0218/distribsql/wire"
)

func TestFragmentValidateRequiresExchangeRootUnlessLeaf(t *testing.T) {
	f := &Fragment{
		ID: 1,
		Nodes: []PlanNode{
			{ID: 0, Kind: Aggregate},
		},
	}
	if err := f.Validate(); err == nil {
		t.Fatal("expected error: non-leaf fragment with non-exchange root")
	}
	f.Leaf = true
	if err := f.Validate(); err != nil {
		t.Fatalf("leaf fragment should validate: %v", err)
	}
}

func TestFragmentValidateRejectsExchangeBelowRoot(t *testing.T) {
	f := &Fragment{
		ID: 2,
		Nodes: []PlanNode{
			{ID: 0, Kind: ExchangeReceive, Inputs: []int{1}},
			{ID: 1, Kind: ExchangeReceive},
		},
	}
	if err := f.Validate(); err == nil {
		t.Fatal("expected error: exchange-receive node below the root")
	}
}

func TestInstanceWireRoundTrip(t *testing.T) {
	inst := &Instance{
		InstanceID:   execid.NewInstanceID(),
		FragmentID:   3,
		WorkerAddr:   "10.0.0.1:9000",
		WorkerNumber: 2,
		ScanRanges: []ScanRange{
			{File: "part-0", Offset: 0, Length: 1024, Replicas: []string{"h1", "h2"}},
		},
		Destinations: []Destination{
			{WorkerAddr: "10.0.0.2:9000", DestInstanceID: execid.NewInstanceID(), NodeID: 0},
		},
	}

	st := &wire.Symtab{}
	var buf wire.Buffer
	inst.Encode(&buf, st)

	got, rest, err := DecodeInstance(st, buf.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if len(rest) != 0 {
		t.Fatalf("%d trailing bytes", len(rest))
	}
	if got.InstanceID != inst.InstanceID {
		t.Fatal("instance id mismatch")
	}
	if got.FragmentID != inst.FragmentID || got.WorkerAddr != inst.WorkerAddr || got.WorkerNumber != inst.WorkerNumber {
		t.Fatalf("scalar fields mismatch: %+v", got)
	}
	if len(got.ScanRanges) != 1 || got.ScanRanges[0].File != "part-0" || len(got.ScanRanges[0].Replicas) != 2 {
		t.Fatalf("scan ranges mismatch: %+v", got.ScanRanges)
	}
	if len(got.Destinations) != 1 || got.Destinations[0].DestInstanceID != inst.Destinations[0].DestInstanceID {
		t.Fatalf("destinations mismatch: %+v", got.Destinations)
	}
}

func TestPlanNodeWireRoundTripTopN(t *testing.T) {
	n := &PlanNode{
		ID:     4,
		Kind:   TopN,
		Inputs: []int{5},
		TopN: &TopNAttrs{
			Keys:  []SortKey{{Column: "score", Descending: true}, {Column: "name"}},
			Limit: 10,
		},
	}

	st := &wire.Symtab{}
	var buf wire.Buffer
	n.Encode(&buf, st)

	got, rest, err := DecodePlanNode(st, buf.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if len(rest) != 0 {
		t.Fatalf("%d trailing bytes", len(rest))
	}
	if got.TopN == nil || got.TopN.Limit != 10 {
		t.Fatalf("topn attrs mismatch: %+v", got.TopN)
	}
	if len(got.TopN.Keys) != 2 || got.TopN.Keys[0].Column != "score" || !got.TopN.Keys[0].Descending {
		t.Fatalf("topn keys mismatch: %+v", got.TopN.Keys)
	}
	if got.TopN.Keys[1].Column != "name" || got.TopN.Keys[1].Descending {
		t.Fatalf("topn keys mismatch: %+v", got.TopN.Keys)
	}
}

func TestPlanNodeWireRoundTripSort(t *testing.T) {
	n := &PlanNode{
		ID:   6,
		Kind: Sort,
		Sort: &SortAttrs{Keys: []SortKey{{Column: "ts"}}},
	}

	st := &wire.Symtab{}
	var buf wire.Buffer
	n.Encode(&buf, st)

	got, _, err := DecodePlanNode(st, buf.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if got.Sort == nil || len(got.Sort.Keys) != 1 || got.Sort.Keys[0].Column != "ts" || got.Sort.Keys[0].Descending {
		t.Fatalf("sort attrs mismatch: %+v", got.Sort)
	}
}

func TestIsBlocking(t *testing.T) {
	blocking := []NodeKind{Aggregate, Sort, TopN, HashJoin}
	for _, k := range blocking {
		n := &PlanNode{Kind: k}
		if !n.IsBlocking() {
			t.Fatalf("%s should be blocking", k)
		}
	}
	nonBlocking := []NodeKind{Scan, MergeJoin, Union, ExchangeReceive, Selection, Analytic}
	for _, k := range nonBlocking {
		n := &PlanNode{Kind: k}
		if n.IsBlocking() {
			t.Fatalf("%s should not be blocking", k)
		}
	}
}
