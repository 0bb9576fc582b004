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
	"fmt"
	"sort"

	"github.com/aveek0218/distribsql/executor"
	"github.com/aveek0218/distribsql/planfrag"
	"github.com/aveek0218/distribsql/rowbatch"
)

// sortOp is the blocking order-by operator backing both Sort and
// TopN nodes: Open fully materializes its child's output and orders
// it by keys; when limit is >= 0 only the first limit rows survive.
// limit < 0 means unlimited (a Sort node); limit == 0 is valid and
// means the node produces zero rows without needing to look at a
// single input row.
type sortOp struct {
	child executor.Operator
	node  *planfrag.PlanNode
	keys  []planfrag.SortKey
	limit int

	keyCols []int
	rows    [][]rowbatch.Value
	emitted int
}

func newSortOp(child executor.Operator, node *planfrag.PlanNode, keys []planfrag.SortKey, limit int) (*sortOp, error) {
	schema := child.OutputSchema()
	keyCols := make([]int, len(keys))
	for i, k := range keys {
		idx := -1
		for c, col := range schema.Columns {
			if col.Name == k.Column {
				idx = c
				break
			}
		}
		if idx < 0 {
			return nil, fmt.Errorf("worker: sort key column %q not found in input schema", k.Column)
		}
		keyCols[i] = idx
	}
	return &sortOp{child: child, node: node, keys: keys, limit: limit, keyCols: keyCols}, nil
}

func (o *sortOp) Prepare(rt *executor.Runtime) error { return o.child.Prepare(rt) }
func (o *sortOp) OutputSchema() *rowbatch.Schema     { return o.node.OutputSchema }

func (o *sortOp) Open(rt *executor.Runtime) error {
	if o.limit == 0 {
		// A zero-row limit needs no input at all.
		return nil
	}
	if err := o.child.Open(rt); err != nil {
		return err
	}
	schema := o.child.OutputSchema()
	n := schema.NumColumns()
	batch := rowbatch.NewBatch(schema, rowbatch.DefaultBatchSize, 0)
	for {
		eos, err := o.child.GetNext(rt, batch)
		if err != nil {
			return err
		}
		for slot := 0; slot < batch.Count(); slot++ {
			row := make([]rowbatch.Value, n)
			for col := 0; col < n; col++ {
				row[col], err = batch.GetColumn(slot, col)
				if err != nil {
					return err
				}
			}
			o.rows = append(o.rows, row)
		}
		if eos {
			break
		}
		batch = rowbatch.NewBatch(schema, rowbatch.DefaultBatchSize, 0)
	}

	sort.SliceStable(o.rows, func(i, j int) bool {
		for k, col := range o.keyCols {
			c := compareValue(o.rows[i][col], o.rows[j][col], schema.Columns[col].Type)
			if c == 0 {
				continue
			}
			if o.keys[k].Descending {
				return c > 0
			}
			return c < 0
		}
		return false
	})

	if o.limit >= 0 && len(o.rows) > o.limit {
		o.rows = o.rows[:o.limit]
	}
	return nil
}

func (o *sortOp) GetNext(rt *executor.Runtime, b *rowbatch.Batch) (bool, error) {
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

func (o *sortOp) Close() error {
	if o.limit == 0 {
		return nil
	}
	return o.child.Close()
}
