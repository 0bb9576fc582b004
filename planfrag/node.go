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

// Package planfrag models the serialisable plan-fragment tree the
// planner hands to the scheduler: a tagged-variant plan node, a plan
// fragment (an ordered list of nodes plus a sink), and the runtime
// fragment instance a scheduler assigns to a worker.
package planfrag

import "github.com/aveek0218/distribsql/rowbatch"

// NodeKind discriminates the payload carried by a PlanNode.
type NodeKind int

const (
	Scan NodeKind = iota
	Aggregate
	HashJoin
	MergeJoin
	Union
	Sort
	TopN
	ExchangeReceive
	Selection
	Analytic
)

func (k NodeKind) String() string {
	switch k {
	case Scan:
		return "scan"
	case Aggregate:
		return "aggregate"
	case HashJoin:
		return "hash-join"
	case MergeJoin:
		return "merge-join"
	case Union:
		return "union"
	case Sort:
		return "sort"
	case TopN:
		return "top-n"
	case ExchangeReceive:
		return "exchange-receive"
	case Selection:
		return "selection"
	case Analytic:
		return "analytic"
	default:
		return "unknown"
	}
}

// ScanRange is the unit of work assigned to a scan-bearing instance:
// a byte range of a file and the hosts holding a replica of it.
type ScanRange struct {
	File     string
	Offset   int64
	Length   int64
	Replicas []string
}

// ScanAttrs is the kind-specific payload of a Scan node.
type ScanAttrs struct {
	Ranges []ScanRange
}

// AggregateAttrs is the kind-specific payload of an Aggregate node.
type AggregateAttrs struct {
	GroupExprs    []string
	AggFuncs      []string
	MergeFinalize bool
}

// ExchangeAttrs is the kind-specific payload of an ExchangeReceive node.
type ExchangeAttrs struct {
	InputSchemas []*rowbatch.Schema
}

// SortKey names one column a Sort or TopN node orders by and the
// direction of that ordering.
type SortKey struct {
	Column     string
	Descending bool
}

// SortAttrs is the kind-specific payload of a Sort node: order the
// entire input by Keys, with no row limit.
type SortAttrs struct {
	Keys []SortKey
}

// TopNAttrs is the kind-specific payload of a TopN node: order the
// input by Keys and keep only the first Limit rows. Limit of 0 is
// valid and means the node produces zero rows.
type TopNAttrs struct {
	Keys  []SortKey
	Limit int
}

// PlanNode is a single node of the operator tree: a kind-discriminated
// tagged variant rather than a class hierarchy. Exactly one of the
// *Attrs fields is populated, matching Kind.
type PlanNode struct {
	ID     int
	Kind   NodeKind
	Inputs []int // indices of child nodes within the owning Fragment's Nodes slice

	Predicates   []string // post-operation conjunctive predicates, compiled form opaque here
	OutputSchema *rowbatch.Schema

	Scan      *ScanAttrs
	Aggregate *AggregateAttrs
	Exchange  *ExchangeAttrs
	Sort      *SortAttrs
	TopN      *TopNAttrs
}

// IsBlocking reports whether n must fully consume at least one input
// before it can produce output. Blocking nodes are exactly the points
// at which the planner is required to cut a plan into fragments.
func (n *PlanNode) IsBlocking() bool {
	switch n.Kind {
	case Aggregate, Sort, TopN:
		return true
	case HashJoin:
		return true // build side blocks; probe side does not, but the node as a whole is a fragment boundary
	default:
		return false
	}
}
