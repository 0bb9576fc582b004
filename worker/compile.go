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

// Package worker hosts the fragment-instance runtime on a cluster
// node: it turns a planfrag.Instance into a running executor.Executor
// by compiling the fragment's plan-node tree into an executor.Operator
// tree, wiring exchange-receive nodes to the exchange manager and the
// sink to either the exchange fabric (for an intermediate fragment) or
// the coordinator's result buffer (for the root fragment).
//
// File-format scanning is an external collaborator per the operator
// framework's pluggable row-batch producer interface (RowSource).
// Aggregate, Sort, and TopN are implemented directly against the
// iterator contract (prepare/open/get_next/close); HashJoin, MergeJoin,
// Union, Selection, and Analytic are not — expression and join-key
// evaluation remain planner territory this package does not reach
// into.
package worker

import (
	"fmt"

	"github.com/aveek0218/distribsql/executor"
	"github.com/aveek0218/distribsql/exchange"
	"github.com/aveek0218/distribsql/planfrag"
	"github.com/aveek0218/distribsql/rowbatch"
)

// RowSource is the pluggable row-batch producer interface a Scan node
// delegates to. A real deployment would implement this against
// HDFS/Avro/Parquet readers; this module supplies only a stub that
// returns zero rows, since file-format readers are an external
// collaborator here.
type RowSource interface {
	Open() error
	Next(b *rowbatch.Batch) (eos bool, err error)
	Close() error
}

// ScanSourceFactory constructs the RowSource for one Scan node's
// assigned ranges.
type ScanSourceFactory func(ranges []planfrag.ScanRange, schema *rowbatch.Schema) (RowSource, error)

// EmptyScanSource is the default ScanSourceFactory: it opens and
// immediately reports eos, exercising the executor state machine
// without claiming to read any real data.
func EmptyScanSource(ranges []planfrag.ScanRange, schema *rowbatch.Schema) (RowSource, error) {
	return &emptySource{}, nil
}

type emptySource struct{}

func (s *emptySource) Open() error                          { return nil }
func (s *emptySource) Next(b *rowbatch.Batch) (bool, error) { return true, nil }
func (s *emptySource) Close() error                         { return nil }

type scanOp struct {
	ranges  []planfrag.ScanRange
	schema  *rowbatch.Schema
	factory ScanSourceFactory
	src     RowSource
}

func (o *scanOp) Prepare(rt *executor.Runtime) error { return nil }

func (o *scanOp) Open(rt *executor.Runtime) error {
	src, err := o.factory(o.ranges, o.schema)
	if err != nil {
		return fmt.Errorf("worker: opening scan source: %w", err)
	}
	if err := src.Open(); err != nil {
		return err
	}
	o.src = src
	return nil
}

func (o *scanOp) OutputSchema() *rowbatch.Schema { return o.schema }

func (o *scanOp) GetNext(rt *executor.Runtime, b *rowbatch.Batch) (bool, error) {
	return o.src.Next(b)
}

func (o *scanOp) Close() error {
	if o.src == nil {
		return nil
	}
	return o.src.Close()
}

// exchangeReceiveOp pulls already-encoded row batches from the
// exchange fabric and decodes them against the node's declared schema.
type exchangeReceiveOp struct {
	recv   *exchange.Receiver
	schema *rowbatch.Schema
	rowCap int
}

func (o *exchangeReceiveOp) Prepare(rt *executor.Runtime) error { return nil }
func (o *exchangeReceiveOp) Open(rt *executor.Runtime) error    { return nil }
func (o *exchangeReceiveOp) OutputSchema() *rowbatch.Schema     { return o.schema }

func (o *exchangeReceiveOp) GetNext(rt *executor.Runtime, b *rowbatch.Batch) (bool, error) {
	bytes, eos, err := o.recv.GetBatch(rt.Context)
	if err != nil {
		return false, err
	}
	if eos {
		return true, nil
	}
	decoded, err := rowbatch.FromWire(o.schema, o.rowCap, 0, bytes)
	if err != nil {
		return false, fmt.Errorf("worker: decoding batch from exchange: %w", err)
	}
	for slot := 0; slot < decoded.Count(); slot++ {
		dst := b.AllocateTuple()
		for col := 0; col < o.schema.NumColumns(); col++ {
			v, err := decoded.GetColumn(slot, col)
			if err != nil {
				return false, err
			}
			if err := b.SetColumn(dst, col, v); err != nil {
				return false, err
			}
		}
	}
	return false, nil
}

func (o *exchangeReceiveOp) Close() error { return nil }

// passthroughOp stands in for every non-blocking relational node kind
// this substrate does not implement (MergeJoin, Union, Selection,
// Analytic): it forwards its single child's batches
// unchanged, honoring the iterator contract without claiming to
// compute the node's actual result. It is never used for a blocking
// node kind (Aggregate, Sort, TopN, HashJoin) — those
// either have a real operator or BuildOperatorTree refuses to compile
// the fragment, since silently passing rows through a node the
// executor requires to block would violate the fragment boundary the
// planner relied on.
type passthroughOp struct {
	child executor.Operator
	node  *planfrag.PlanNode
}

func (o *passthroughOp) Prepare(rt *executor.Runtime) error { return o.child.Prepare(rt) }
func (o *passthroughOp) Open(rt *executor.Runtime) error    { return o.child.Open(rt) }
func (o *passthroughOp) OutputSchema() *rowbatch.Schema     { return o.node.OutputSchema }
func (o *passthroughOp) GetNext(rt *executor.Runtime, b *rowbatch.Batch) (bool, error) {
	return o.child.GetNext(rt, b)
}
func (o *passthroughOp) Close() error { return o.child.Close() }

// BuildOperatorTree compiles a fragment's plan-node list into an
// executor.Operator rooted at node index 0. recv supplies the
// exchange.Receiver for an ExchangeReceive root, or nil for a leaf
// fragment's Scan root.
func BuildOperatorTree(frag *planfrag.Fragment, recv *exchange.Receiver, rowCap int, scanFactory ScanSourceFactory) (executor.Operator, error) {
	if scanFactory == nil {
		scanFactory = EmptyScanSource
	}
	var build func(idx int) (executor.Operator, error)
	build = func(idx int) (executor.Operator, error) {
		n := &frag.Nodes[idx]
		switch n.Kind {
		case planfrag.Scan:
			if n.Scan == nil {
				return nil, fmt.Errorf("worker: fragment %d node %d is a scan with no scan attrs", frag.ID, n.ID)
			}
			return &scanOp{ranges: n.Scan.Ranges, schema: n.OutputSchema, factory: scanFactory}, nil
		case planfrag.ExchangeReceive:
			if recv == nil {
				return nil, fmt.Errorf("worker: fragment %d node %d is exchange-receive but no receiver was supplied", frag.ID, n.ID)
			}
			return &exchangeReceiveOp{recv: recv, schema: n.OutputSchema, rowCap: rowCap}, nil
		case planfrag.Aggregate:
			child, err := requireChild(frag, n, build)
			if err != nil {
				return nil, err
			}
			if n.Aggregate == nil {
				return nil, fmt.Errorf("worker: fragment %d node %d is an aggregate with no aggregate attrs", frag.ID, n.ID)
			}
			return newAggregateOp(child, n)
		case planfrag.Sort:
			child, err := requireChild(frag, n, build)
			if err != nil {
				return nil, err
			}
			if n.Sort == nil {
				return nil, fmt.Errorf("worker: fragment %d node %d is a sort with no sort attrs", frag.ID, n.ID)
			}
			return newSortOp(child, n, n.Sort.Keys, -1)
		case planfrag.TopN:
			child, err := requireChild(frag, n, build)
			if err != nil {
				return nil, err
			}
			if n.TopN == nil {
				return nil, fmt.Errorf("worker: fragment %d node %d is a top-n with no top-n attrs", frag.ID, n.ID)
			}
			return newSortOp(child, n, n.TopN.Keys, n.TopN.Limit)
		default:
			if n.IsBlocking() {
				return nil, fmt.Errorf("worker: fragment %d node %d (%s) is a blocking node kind with no operator implementation", frag.ID, n.ID, n.Kind)
			}
			child, err := requireChild(frag, n, build)
			if err != nil {
				return nil, err
			}
			return &passthroughOp{child: child, node: n}, nil
		}
	}
	return build(0)
}

// requireChild builds and returns a node's first input operator,
// erroring if the node declares none.
func requireChild(frag *planfrag.Fragment, n *planfrag.PlanNode, build func(idx int) (executor.Operator, error)) (executor.Operator, error) {
	if len(n.Inputs) == 0 {
		return nil, fmt.Errorf("worker: fragment %d node %d (%s) has no inputs", frag.ID, n.ID, n.Kind)
	}
	return build(n.Inputs[0])
}
