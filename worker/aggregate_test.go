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

// fakeRowOp emits rows, one per GetNext call, then signals eos.
type fakeRowOp struct {
	schema *rowbatch.Schema
	rows   [][]rowbatch.Value
	idx    int
	opened bool
	closed bool
}

func (o *fakeRowOp) Prepare(rt *executor.Runtime) error { return nil }
func (o *fakeRowOp) Open(rt *executor.Runtime) error    { o.opened = true; return nil }
func (o *fakeRowOp) OutputSchema() *rowbatch.Schema     { return o.schema }
func (o *fakeRowOp) Close() error                       { o.closed = true; return nil }
func (o *fakeRowOp) GetNext(rt *executor.Runtime, b *rowbatch.Batch) (bool, error) {
	if o.idx >= len(o.rows) {
		return true, nil
	}
	row := o.rows[o.idx]
	slot := b.AllocateTuple()
	for i, v := range row {
		if err := b.SetColumn(slot, i, v); err != nil {
			return false, err
		}
	}
	o.idx++
	return o.idx >= len(o.rows), nil
}

func groupValSchema() *rowbatch.Schema {
	return rowbatch.NewSchema(
		rowbatch.Column{Name: "k", Type: rowbatch.Int64},
		rowbatch.Column{Name: "v", Type: rowbatch.Int64},
	)
}

func drain(t *testing.T, op executor.Operator, rt *executor.Runtime) [][]rowbatch.Value {
	t.Helper()
	n := op.OutputSchema().NumColumns()
	var got [][]rowbatch.Value
	for {
		b := rowbatch.NewBatch(op.OutputSchema(), 16, 0)
		eos, err := op.GetNext(rt, b)
		if err != nil {
			t.Fatalf("GetNext: %v", err)
		}
		for slot := 0; slot < b.Count(); slot++ {
			row := make([]rowbatch.Value, n)
			for col := 0; col < n; col++ {
				v, err := b.GetColumn(slot, col)
				if err != nil {
					t.Fatal(err)
				}
				row[col] = v
			}
			got = append(got, row)
		}
		if eos {
			return got
		}
	}
}

func TestAggregateGroupsAndFolds(t *testing.T) {
	child := &fakeRowOp{
		schema: groupValSchema(),
		rows: [][]rowbatch.Value{
			{{I64: 1}, {I64: 10}},
			{{I64: 1}, {I64: 20}},
			{{I64: 2}, {I64: 5}},
		},
	}
	node := &planfrag.PlanNode{
		Kind: planfrag.Aggregate,
		Aggregate: &planfrag.AggregateAttrs{
			GroupExprs: []string{"k"},
			AggFuncs:   []string{"sum(v)", "count(*)"},
		},
		OutputSchema: rowbatch.NewSchema(
			rowbatch.Column{Name: "k", Type: rowbatch.Int64},
			rowbatch.Column{Name: "sum_v", Type: rowbatch.Int64},
			rowbatch.Column{Name: "n", Type: rowbatch.Int64},
		),
	}
	op, err := newAggregateOp(child, node)
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
		t.Fatalf("got %d groups, want 2: %+v", len(got), got)
	}
	if got[0][0].I64 != 1 || got[0][1].I64 != 30 || got[0][2].I64 != 2 {
		t.Fatalf("group k=1 wrong: %+v", got[0])
	}
	if got[1][0].I64 != 2 || got[1][1].I64 != 5 || got[1][2].I64 != 1 {
		t.Fatalf("group k=2 wrong: %+v", got[1])
	}
	if err := op.Close(); err != nil {
		t.Fatal(err)
	}
	if !child.closed {
		t.Fatal("aggregate did not close its child")
	}
}

func TestAggregateWithNoGroupByProducesOneRowOverEmptyInput(t *testing.T) {
	child := &fakeRowOp{schema: groupValSchema()}
	node := &planfrag.PlanNode{
		Kind:      planfrag.Aggregate,
		Aggregate: &planfrag.AggregateAttrs{AggFuncs: []string{"count(*)"}},
		OutputSchema: rowbatch.NewSchema(
			rowbatch.Column{Name: "n", Type: rowbatch.Int64},
		),
	}
	op, err := newAggregateOp(child, node)
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
	if len(got) != 1 || got[0][0].I64 != 0 {
		t.Fatalf("scalar aggregate over empty input = %+v, want one row with count 0", got)
	}
}

func TestAggregateRejectsUnknownFunction(t *testing.T) {
	child := &fakeRowOp{schema: groupValSchema()}
	node := &planfrag.PlanNode{
		Kind:      planfrag.Aggregate,
		Aggregate: &planfrag.AggregateAttrs{AggFuncs: []string{"avg(v)"}},
	}
	if _, err := newAggregateOp(child, node); err == nil {
		t.Fatal("expected error for an aggregate function with no operator implementation")
	}
}
