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

import "fmt"

// SinkKind selects how a fragment's output rows are delivered.
type SinkKind int

const (
	BroadcastSink SinkKind = iota
	HashPartitionedSink
	UnpartitionedSink
	ResultSink
)

// Sink is the terminal component of a fragment. PartitionExprs is only
// meaningful for HashPartitionedSink.
type Sink struct {
	Kind           SinkKind
	PartitionExprs []string
	NumPartitions  int
}

// Fragment is an ordered list of plan nodes (root at index 0, leaves
// last) plus a sink, the atomic unit the scheduler distributes to
// workers. A non-leaf fragment's root is always an ExchangeReceive
// node; the planner enforces this when it cuts the tree.
type Fragment struct {
	ID    int
	Nodes []PlanNode

	Sink Sink

	// ExecAtCoord pins every scan range of this fragment to the
	// coordinator's own backend, bypassing locality assignment.
	ExecAtCoord bool

	// InputPartitionCols/OutputPartitionCols describe the declared
	// partitioning of this fragment's input and output. They travel
	// with the fragment's wire encoding; the scheduler and the
	// hash-partitioned sink do not read them (the sink partitions on
	// Sink.PartitionExprs).
	InputPartitionCols  []string
	OutputPartitionCols []string

	// Leaf is true for a scan-originating fragment with no upstream
	// fragment feeding it; such a fragment's root need not be an
	// ExchangeReceive node.
	Leaf bool
}

// Root returns the fragment's root node.
func (f *Fragment) Root() *PlanNode {
	if len(f.Nodes) == 0 {
		return nil
	}
	return &f.Nodes[0]
}

// Validate checks the structural invariants: a non-empty fragment
// whose non-leaf root is an ExchangeReceive node, and whose every
// input index is in range.
func (f *Fragment) Validate() error {
	if len(f.Nodes) == 0 {
		return fmt.Errorf("planfrag: fragment %d has no nodes", f.ID)
	}
	for i := range f.Nodes {
		n := &f.Nodes[i]
		for _, in := range n.Inputs {
			if in <= i || in >= len(f.Nodes) {
				return fmt.Errorf("planfrag: fragment %d node %d has out-of-range input %d", f.ID, n.ID, in)
			}
		}
	}
	root := f.Root()
	if !f.Leaf && root.Kind != ExchangeReceive {
		return fmt.Errorf("planfrag: fragment %d is non-leaf but root kind is %s, not exchange-receive", f.ID, root.Kind)
	}
	for i := 1; i < len(f.Nodes); i++ {
		if f.Nodes[i].Kind == ExchangeReceive {
			return fmt.Errorf("planfrag: fragment %d has exchange-receive node %d below the root", f.ID, f.Nodes[i].ID)
		}
	}
	return nil
}
