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
	"bytes"
	"fmt"
	"strings"

	"github.com/aveek0218/distribsql/executor"
	"github.com/aveek0218/distribsql/planfrag"
	"github.com/aveek0218/distribsql/rowbatch"
)

type aggFuncKind int

const (
	aggSum aggFuncKind = iota
	aggCount
	aggMin
	aggMax
)

// aggSpec is one resolved AggFuncs entry. colIdx is -1 for count(*).
type aggSpec struct {
	kind   aggFuncKind
	colIdx int
}

// parseAggFunc reads the "func(column)" shorthand AggFuncs entries use
// and resolves column to an index in inputSchema. Functions beyond
// sum/count/min/max (e.g. avg, which needs a separate count to
// finalize) are not implemented and return an error rather than
// silently computing something else.
func parseAggFunc(expr string, inputSchema *rowbatch.Schema) (aggSpec, error) {
	open := strings.IndexByte(expr, '(')
	if open < 0 || !strings.HasSuffix(expr, ")") {
		return aggSpec{}, fmt.Errorf("worker: malformed aggregate function %q", expr)
	}
	name := strings.ToLower(strings.TrimSpace(expr[:open]))
	arg := strings.TrimSpace(expr[open+1 : len(expr)-1])

	var kind aggFuncKind
	switch name {
	case "sum":
		kind = aggSum
	case "count":
		kind = aggCount
	case "min":
		kind = aggMin
	case "max":
		kind = aggMax
	default:
		return aggSpec{}, fmt.Errorf("worker: aggregate function %q has no operator implementation", name)
	}

	if arg == "*" {
		if kind != aggCount {
			return aggSpec{}, fmt.Errorf("worker: aggregate function %q does not accept *", name)
		}
		return aggSpec{kind: kind, colIdx: -1}, nil
	}
	for i, c := range inputSchema.Columns {
		if c.Name == arg {
			return aggSpec{kind: kind, colIdx: i}, nil
		}
	}
	return aggSpec{}, fmt.Errorf("worker: aggregate argument column %q not found in input schema", arg)
}

// accumulator holds one group's running state for one AggFuncs entry.
// sum/count are algebraic (merging two partial accumulators is the
// same operation as accumulating two rows), so MergeFinalize needs no
// special handling here.
type accumulator struct {
	count  int64
	sumI64 int64
	sumF64 float64
	cur    rowbatch.Value
	set    bool
}

func (a *accumulator) update(spec aggSpec, colType rowbatch.ColumnType, v rowbatch.Value) {
	switch spec.kind {
	case aggCount:
		if spec.colIdx < 0 || !v.Null {
			a.count++
		}
	case aggSum:
		if v.Null {
			return
		}
		if colType == rowbatch.Float64 {
			a.sumF64 += v.F64
		} else {
			a.sumI64 += v.I64
		}
	case aggMin:
		if v.Null {
			return
		}
		if !a.set || compareValue(v, a.cur, colType) < 0 {
			a.cur, a.set = v, true
		}
	case aggMax:
		if v.Null {
			return
		}
		if !a.set || compareValue(v, a.cur, colType) > 0 {
			a.cur, a.set = v, true
		}
	}
}

func (a *accumulator) result(spec aggSpec, colType rowbatch.ColumnType) rowbatch.Value {
	switch spec.kind {
	case aggCount:
		return rowbatch.Value{I64: a.count}
	case aggSum:
		if colType == rowbatch.Float64 {
			return rowbatch.Value{F64: a.sumF64}
		}
		return rowbatch.Value{I64: a.sumI64}
	case aggMin, aggMax:
		if !a.set {
			return rowbatch.Value{Null: true}
		}
		return a.cur
	default:
		return rowbatch.Value{Null: true}
	}
}

// compareValue orders two values of the same column type: -1 if a<b,
// 0 if equal, 1 if a>b.
func compareValue(a, b rowbatch.Value, t rowbatch.ColumnType) int {
	switch t {
	case rowbatch.Int64:
		switch {
		case a.I64 < b.I64:
			return -1
		case a.I64 > b.I64:
			return 1
		default:
			return 0
		}
	case rowbatch.Float64:
		switch {
		case a.F64 < b.F64:
			return -1
		case a.F64 > b.F64:
			return 1
		default:
			return 0
		}
	case rowbatch.Bool:
		if a.Bool == b.Bool {
			return 0
		}
		if !a.Bool {
			return -1
		}
		return 1
	case rowbatch.Bytes:
		return bytes.Compare(a.Bytes, b.Bytes)
	default:
		return 0
	}
}

// aggregateOp is the blocking hash-aggregate: Open consumes the
// entire child input, grouping rows by GroupExprs and folding each
// AggFuncs entry into a per-group accumulator; GetNext then replays
// the materialized group rows. A fragment with no GroupExprs produces
// exactly one row (the whole-input aggregate), even over zero input
// rows, matching SQL's scalar-aggregate semantics.
type aggregateOp struct {
	child     executor.Operator
	node      *planfrag.PlanNode
	groupCols []int
	specs     []aggSpec

	rows    [][]rowbatch.Value
	emitted int
}

func newAggregateOp(child executor.Operator, node *planfrag.PlanNode) (*aggregateOp, error) {
	attrs := node.Aggregate
	schema := child.OutputSchema()
	groupCols := make([]int, len(attrs.GroupExprs))
	for i, name := range attrs.GroupExprs {
		idx := -1
		for c, col := range schema.Columns {
			if col.Name == name {
				idx = c
				break
			}
		}
		if idx < 0 {
			return nil, fmt.Errorf("worker: group-by column %q not found in input schema", name)
		}
		groupCols[i] = idx
	}
	specs := make([]aggSpec, len(attrs.AggFuncs))
	for i, f := range attrs.AggFuncs {
		spec, err := parseAggFunc(f, schema)
		if err != nil {
			return nil, err
		}
		specs[i] = spec
	}
	return &aggregateOp{child: child, node: node, groupCols: groupCols, specs: specs}, nil
}

func (o *aggregateOp) Prepare(rt *executor.Runtime) error { return o.child.Prepare(rt) }
func (o *aggregateOp) OutputSchema() *rowbatch.Schema     { return o.node.OutputSchema }

type aggGroup struct {
	key  []rowbatch.Value
	accs []accumulator
}

func (o *aggregateOp) Open(rt *executor.Runtime) error {
	if err := o.child.Open(rt); err != nil {
		return err
	}
	schema := o.child.OutputSchema()
	groups := make(map[string]*aggGroup)
	var order []string

	batch := rowbatch.NewBatch(schema, rowbatch.DefaultBatchSize, 0)
	for {
		eos, err := o.child.GetNext(rt, batch)
		if err != nil {
			return err
		}
		for slot := 0; slot < batch.Count(); slot++ {
			keyBytes, err := rowPartitionKey(batch, slot, o.groupCols)
			if err != nil {
				return err
			}
			g, ok := groups[string(keyBytes)]
			if !ok {
				key := make([]rowbatch.Value, len(o.groupCols))
				for i, col := range o.groupCols {
					key[i], err = batch.GetColumn(slot, col)
					if err != nil {
						return err
					}
				}
				g = &aggGroup{key: key, accs: make([]accumulator, len(o.specs))}
				groups[string(keyBytes)] = g
				order = append(order, string(keyBytes))
			}
			for i, spec := range o.specs {
				var v rowbatch.Value
				var colType rowbatch.ColumnType
				if spec.colIdx >= 0 {
					v, err = batch.GetColumn(slot, spec.colIdx)
					if err != nil {
						return err
					}
					colType = schema.Columns[spec.colIdx].Type
				}
				g.accs[i].update(spec, colType, v)
			}
		}
		if eos {
			break
		}
		batch = rowbatch.NewBatch(schema, rowbatch.DefaultBatchSize, 0)
	}

	if len(order) == 0 && len(o.groupCols) == 0 {
		order = append(order, "")
		groups[""] = &aggGroup{accs: make([]accumulator, len(o.specs))}
	}

	o.rows = make([][]rowbatch.Value, 0, len(order))
	for _, k := range order {
		g := groups[k]
		row := make([]rowbatch.Value, 0, len(g.key)+len(o.specs))
		row = append(row, g.key...)
		for i, spec := range o.specs {
			var colType rowbatch.ColumnType
			if spec.colIdx >= 0 {
				colType = schema.Columns[spec.colIdx].Type
			}
			row = append(row, g.accs[i].result(spec, colType))
		}
		o.rows = append(o.rows, row)
	}
	return nil
}

func (o *aggregateOp) GetNext(rt *executor.Runtime, b *rowbatch.Batch) (bool, error) {
	for o.emitted < len(o.rows) && !b.IsFull() {
		row := o.rows[o.emitted]
		slot := b.AllocateTuple()
		for i, v := range row {
			if err := b.SetColumn(slot, i, v); err != nil {
				return false, err
			}
		}
		o.emitted++
	}
	return o.emitted >= len(o.rows), nil
}

func (o *aggregateOp) Close() error { return o.child.Close() }
