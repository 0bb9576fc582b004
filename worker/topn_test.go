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
	"context"
	"testing"

	"github.com/aveek0218/distribsql/executor"
	"github.com/aveek0218/distribsql/planfrag"
	"github.com/aveek0218/distribsql/rowbatch"
)

func TestTopNKeepsHighestNByDescendingKey(t *testing.T) {
	child := &fakeRowOp{
		schema: groupValSchema(),
		rows: [][]rowbatch.Value{
			{{I64: 1}, {I64: 30}},
			{{I64: 2}, {I64: 10}},
			{{I64: 3}, {I64: 20}},
		},
	}
	node := &planfrag.PlanNode{
		Kind:         planfrag.TopN,
		TopN:         &planfrag.TopNAttrs{Keys: []planfrag.SortKey{{Column: "v", Descending: true}}, Limit: 2},
		OutputSchema: groupValSchema(),
	}
	op, err := newSortOp(child, node, node.TopN.Keys, node.TopN.Limit)
	if err != nil {
		t.Fatal(err)
	}
	rt := &executor.Runtime{Context: context.Background()}
	if err := op.Prepare(rt); err != nil {
		t.Fatal(err)
	}
	if err := op.Open(rt); err != nil {
		t.Fatal(err)
	}
	got := drain(t, op, rt)
	if len(got) != 2 {
		t.Fatalf("got %d rows, want 2: %+v", len(got), got)
	}
	if got[0][0].I64 != 1 || got[1][0].I64 != 3 {
		t.Fatalf("wrong top-2 order: %+v", got)
	}
}

func TestTopNZeroLimitProducesNoRowsAndSkipsChild(t *testing.T) {
	child := &fakeRowOp{
		schema: groupValSchema(),
		rows:   [][]rowbatch.Value{{{I64: 1}, {I64: 1}}},
	}
	node := &planfrag.PlanNode{
		Kind:         planfrag.TopN,
		TopN:         &planfrag.TopNAttrs{Keys: []planfrag.SortKey{{Column: "v"}}, Limit: 0},
		OutputSchema: groupValSchema(),
	}
	op, err := newSortOp(child, node, node.TopN.Keys, node.TopN.Limit)
	if err != nil {
		t.Fatal(err)
	}
	rt := &executor.Runtime{Context: context.Background()}
	if err := op.Prepare(rt); err != nil {
		t.Fatal(err)
	}
	if err := op.Open(rt); err != nil {
		t.Fatal(err)
	}
	got := drain(t, op, rt)
	if len(got) != 0 {
		t.Fatalf("got %d rows, want 0", len(got))
	}
	if child.opened {
		t.Fatal("a zero-limit top-n should not open its child at all")
	}
	if err := op.Close(); err != nil {
		t.Fatal(err)
	}
	if child.closed {
		t.Fatal("a zero-limit top-n should not close a child it never opened")
	}
}

func TestSortOrdersFullInputAscending(t *testing.T) {
	child := &fakeRowOp{
		schema: groupValSchema(),
		rows: [][]rowbatch.Value{
			{{I64: 1}, {I64: 30}},
			{{I64: 2}, {I64: 10}},
			{{I64: 3}, {I64: 20}},
		},
	}
	node := &planfrag.PlanNode{
		Kind:         planfrag.Sort,
		Sort:         &planfrag.SortAttrs{Keys: []planfrag.SortKey{{Column: "v"}}},
		OutputSchema: groupValSchema(),
	}
	op, err := newSortOp(child, node, node.Sort.Keys, -1)
	if err != nil {
		t.Fatal(err)
	}
	rt := &executor.Runtime{Context: context.Background()}
	if err := op.Prepare(rt); err != nil {
		t.Fatal(err)
	}
	if err := op.Open(rt); err != nil {
		t.Fatal(err)
	}
	got := drain(t, op, rt)
	if len(got) != 3 || got[0][0].I64 != 2 || got[1][0].I64 != 3 || got[2][0].I64 != 1 {
		t.Fatalf("wrong sort order: %+v", got)
	}
}
