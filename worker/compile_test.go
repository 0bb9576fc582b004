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

package worker

import (
	"testing"

	"github.com/aveek0218/distribsql/planfrag"
	"github.com/aveek0218/distribsql/rowbatch"
)

func TestBuildOperatorTreeCompilesAggregateOverScan(t *testing.T) {
	schema := groupValSchema()
	frag := &planfrag.Fragment{
		ID:   1,
		Leaf: true,
		Nodes: []planfrag.PlanNode{
			{ID: 0, Kind: planfrag.Aggregate, Inputs: []int{1},
				Aggregate:    &planfrag.AggregateAttrs{GroupExprs: []string{"k"}, AggFuncs: []string{"sum(v)"}},
				OutputSchema: rowbatch.NewSchema(rowbatch.Column{Name: "k", Type: rowbatch.Int64}, rowbatch.Column{Name: "sum_v", Type: rowbatch.Int64})},
			{ID: 1, Kind: planfrag.Scan, Scan: &planfrag.ScanAttrs{}, OutputSchema: schema},
		},
	}
	op, err := BuildOperatorTree(frag, nil, 16, EmptyScanSource)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := op.(*aggregateOp); !ok {
		t.Fatalf("root operator is %T, want *aggregateOp", op)
	}
}

// TestBuildOperatorTreeRejectsUnimplementedBlockingKind verifies that
// a blocking node kind with no operator implementation (HashJoin) is
// refused at compile time rather than silently passed through, which
// would let rows cross what the planner intended as a fragment
// boundary.
func TestBuildOperatorTreeRejectsUnimplementedBlockingKind(t *testing.T) {
	schema := groupValSchema()
	frag := &planfrag.Fragment{
		ID:   2,
		Leaf: true,
		Nodes: []planfrag.PlanNode{
			{ID: 0, Kind: planfrag.HashJoin, Inputs: []int{1}, OutputSchema: schema},
			{ID: 1, Kind: planfrag.Scan, Scan: &planfrag.ScanAttrs{}, OutputSchema: schema},
		},
	}
	if _, err := BuildOperatorTree(frag, nil, 16, EmptyScanSource); err == nil {
		t.Fatal("expected an error compiling a blocking node kind with no operator implementation")
	}
}

func TestBuildOperatorTreePassesThroughNonBlockingUnimplementedKind(t *testing.T) {
	schema := groupValSchema()
	frag := &planfrag.Fragment{
		ID:   3,
		Leaf: true,
		Nodes: []planfrag.PlanNode{
			{ID: 0, Kind: planfrag.Selection, Inputs: []int{1}, OutputSchema: schema},
			{ID: 1, Kind: planfrag.Scan, Scan: &planfrag.ScanAttrs{}, OutputSchema: schema},
		},
	}
	op, err := BuildOperatorTree(frag, nil, 16, EmptyScanSource)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := op.(*passthroughOp); !ok {
		t.Fatalf("root operator is %T, want *passthroughOp", op)
	}
}
