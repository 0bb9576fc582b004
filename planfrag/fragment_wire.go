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
	"github.com/aveek0218/distribsql/rowbatch"
	"github.com/aveek0218/distribsql/wire"
)

// Encode writes a fragment in wire form. The coordinator sends it with
// every prepare; a worker caches the decoded fragment by FragmentID and
// falls back to that copy for a prepare that omits it.
func (f *Fragment) Encode(dst *wire.Buffer, st *wire.Symtab) {
	dst.BeginStruct(-1)
	dst.BeginField(st.Intern("id"))
	dst.WriteInt(int64(f.ID))
	dst.BeginField(st.Intern("nodes"))
	dst.BeginList()
	for i := range f.Nodes {
		f.Nodes[i].Encode(dst, st)
	}
	dst.EndList()
	dst.BeginField(st.Intern("sink_kind"))
	dst.WriteInt(int64(f.Sink.Kind))
	dst.BeginField(st.Intern("sink_partition_exprs"))
	dst.BeginList()
	for _, e := range f.Sink.PartitionExprs {
		dst.WriteString(e)
	}
	dst.EndList()
	dst.BeginField(st.Intern("sink_num_partitions"))
	dst.WriteInt(int64(f.Sink.NumPartitions))
	dst.BeginField(st.Intern("exec_at_coord"))
	dst.WriteBool(f.ExecAtCoord)
	dst.BeginField(st.Intern("input_partition_cols"))
	dst.BeginList()
	for _, c := range f.InputPartitionCols {
		dst.WriteString(c)
	}
	dst.EndList()
	dst.BeginField(st.Intern("output_partition_cols"))
	dst.BeginList()
	for _, c := range f.OutputPartitionCols {
		dst.WriteString(c)
	}
	dst.EndList()
	dst.BeginField(st.Intern("leaf"))
	dst.WriteBool(f.Leaf)
	dst.EndStruct()
}

// DecodeFragment reads a Fragment previously written by Encode.
func DecodeFragment(st *wire.Symtab, buf []byte) (*Fragment, []byte, error) {
	body, rest, err := wire.ReadStruct(buf)
	if err != nil {
		return nil, buf, err
	}
	f := &Fragment{}
	for len(body) > 0 {
		var sym wire.Symbol
		sym, body, err = wire.ReadLabel(body)
		if err != nil {
			return nil, buf, err
		}
		switch st.Get(sym) {
		case "id":
			var v int64
			v, body, err = wire.ReadInt(body)
			f.ID = int(v)
		case "nodes":
			var items []byte
			items, body, err = wire.ReadList(body)
			for err == nil && len(items) > 0 {
				var n *PlanNode
				n, items, err = DecodePlanNode(st, items)
				if err == nil {
					f.Nodes = append(f.Nodes, *n)
				}
			}
		case "sink_kind":
			var v int64
			v, body, err = wire.ReadInt(body)
			f.Sink.Kind = SinkKind(v)
		case "sink_partition_exprs":
			var items []byte
			items, body, err = wire.ReadList(body)
			for err == nil && len(items) > 0 {
				var s string
				s, items, err = wire.ReadString(items)
				f.Sink.PartitionExprs = append(f.Sink.PartitionExprs, s)
			}
		case "sink_num_partitions":
			var v int64
			v, body, err = wire.ReadInt(body)
			f.Sink.NumPartitions = int(v)
		case "exec_at_coord":
			f.ExecAtCoord, body, err = wire.ReadBool(body)
		case "input_partition_cols":
			var items []byte
			items, body, err = wire.ReadList(body)
			for err == nil && len(items) > 0 {
				var s string
				s, items, err = wire.ReadString(items)
				f.InputPartitionCols = append(f.InputPartitionCols, s)
			}
		case "output_partition_cols":
			var items []byte
			items, body, err = wire.ReadList(body)
			for err == nil && len(items) > 0 {
				var s string
				s, items, err = wire.ReadString(items)
				f.OutputPartitionCols = append(f.OutputPartitionCols, s)
			}
		case "leaf":
			f.Leaf, body, err = wire.ReadBool(body)
		default:
			body = body[wire.SizeOf(body):]
		}
		if err != nil {
			return nil, buf, err
		}
	}
	return f, rest, nil
}

// Encode writes one plan node, including whichever *Attrs field Kind
// selects.
func (n *PlanNode) Encode(dst *wire.Buffer, st *wire.Symtab) {
	dst.BeginStruct(-1)
	dst.BeginField(st.Intern("id"))
	dst.WriteInt(int64(n.ID))
	dst.BeginField(st.Intern("kind"))
	dst.WriteInt(int64(n.Kind))
	dst.BeginField(st.Intern("inputs"))
	dst.BeginList()
	for _, in := range n.Inputs {
		dst.WriteInt(int64(in))
	}
	dst.EndList()
	dst.BeginField(st.Intern("predicates"))
	dst.BeginList()
	for _, p := range n.Predicates {
		dst.WriteString(p)
	}
	dst.EndList()
	if n.OutputSchema != nil {
		dst.BeginField(st.Intern("output_schema"))
		n.OutputSchema.Encode(dst, st)
	}
	if n.Scan != nil {
		dst.BeginField(st.Intern("scan_ranges"))
		dst.BeginList()
		for i := range n.Scan.Ranges {
			n.Scan.Ranges[i].Encode(dst, st)
		}
		dst.EndList()
	}
	if n.Aggregate != nil {
		dst.BeginField(st.Intern("agg_group_exprs"))
		dst.BeginList()
		for _, e := range n.Aggregate.GroupExprs {
			dst.WriteString(e)
		}
		dst.EndList()
		dst.BeginField(st.Intern("agg_funcs"))
		dst.BeginList()
		for _, e := range n.Aggregate.AggFuncs {
			dst.WriteString(e)
		}
		dst.EndList()
		dst.BeginField(st.Intern("agg_merge_finalize"))
		dst.WriteBool(n.Aggregate.MergeFinalize)
	}
	if n.Exchange != nil {
		dst.BeginField(st.Intern("exchange_input_schemas"))
		dst.BeginList()
		for _, s := range n.Exchange.InputSchemas {
			s.Encode(dst, st)
		}
		dst.EndList()
	}
	if n.Sort != nil {
		dst.BeginField(st.Intern("sort_keys"))
		dst.BeginList()
		for _, k := range n.Sort.Keys {
			dst.WriteString(k.Column)
		}
		dst.EndList()
		dst.BeginField(st.Intern("sort_desc"))
		dst.BeginList()
		for _, k := range n.Sort.Keys {
			dst.WriteBool(k.Descending)
		}
		dst.EndList()
	}
	if n.TopN != nil {
		dst.BeginField(st.Intern("topn_keys"))
		dst.BeginList()
		for _, k := range n.TopN.Keys {
			dst.WriteString(k.Column)
		}
		dst.EndList()
		dst.BeginField(st.Intern("topn_desc"))
		dst.BeginList()
		for _, k := range n.TopN.Keys {
			dst.WriteBool(k.Descending)
		}
		dst.EndList()
		dst.BeginField(st.Intern("topn_limit"))
		dst.WriteInt(int64(n.TopN.Limit))
	}
	dst.EndStruct()
}

// DecodePlanNode reads one plan node previously written by Encode.
func DecodePlanNode(st *wire.Symtab, buf []byte) (*PlanNode, []byte, error) {
	body, rest, err := wire.ReadStruct(buf)
	if err != nil {
		return nil, buf, err
	}
	n := &PlanNode{}
	var sawScan, sawAgg, sawExchange, sawSort, sawTopN bool
	for len(body) > 0 {
		var sym wire.Symbol
		sym, body, err = wire.ReadLabel(body)
		if err != nil {
			return nil, buf, err
		}
		switch st.Get(sym) {
		case "id":
			var v int64
			v, body, err = wire.ReadInt(body)
			n.ID = int(v)
		case "kind":
			var v int64
			v, body, err = wire.ReadInt(body)
			n.Kind = NodeKind(v)
		case "inputs":
			var items []byte
			items, body, err = wire.ReadList(body)
			for err == nil && len(items) > 0 {
				var v int64
				v, items, err = wire.ReadInt(items)
				n.Inputs = append(n.Inputs, int(v))
			}
		case "predicates":
			var items []byte
			items, body, err = wire.ReadList(body)
			for err == nil && len(items) > 0 {
				var s string
				s, items, err = wire.ReadString(items)
				n.Predicates = append(n.Predicates, s)
			}
		case "output_schema":
			n.OutputSchema, body, err = rowbatch.DecodeSchema(st, body)
		case "scan_ranges":
			sawScan = true
			var items []byte
			items, body, err = wire.ReadList(body)
			attrs := &ScanAttrs{}
			for err == nil && len(items) > 0 {
				var r ScanRange
				r, items, err = DecodeScanRange(st, items)
				attrs.Ranges = append(attrs.Ranges, r)
			}
			n.Scan = attrs
		case "agg_group_exprs":
			sawAgg = true
			if n.Aggregate == nil {
				n.Aggregate = &AggregateAttrs{}
			}
			var items []byte
			items, body, err = wire.ReadList(body)
			for err == nil && len(items) > 0 {
				var s string
				s, items, err = wire.ReadString(items)
				n.Aggregate.GroupExprs = append(n.Aggregate.GroupExprs, s)
			}
		case "agg_funcs":
			if n.Aggregate == nil {
				n.Aggregate = &AggregateAttrs{}
			}
			var items []byte
			items, body, err = wire.ReadList(body)
			for err == nil && len(items) > 0 {
				var s string
				s, items, err = wire.ReadString(items)
				n.Aggregate.AggFuncs = append(n.Aggregate.AggFuncs, s)
			}
		case "agg_merge_finalize":
			if n.Aggregate == nil {
				n.Aggregate = &AggregateAttrs{}
			}
			n.Aggregate.MergeFinalize, body, err = wire.ReadBool(body)
		case "exchange_input_schemas":
			sawExchange = true
			attrs := &ExchangeAttrs{}
			var items []byte
			items, body, err = wire.ReadList(body)
			for err == nil && len(items) > 0 {
				var s *rowbatch.Schema
				s, items, err = rowbatch.DecodeSchema(st, items)
				attrs.InputSchemas = append(attrs.InputSchemas, s)
			}
			n.Exchange = attrs
		case "sort_keys":
			sawSort = true
			if n.Sort == nil {
				n.Sort = &SortAttrs{}
			}
			var items []byte
			items, body, err = wire.ReadList(body)
			for err == nil && len(items) > 0 {
				var s string
				s, items, err = wire.ReadString(items)
				n.Sort.Keys = append(n.Sort.Keys, SortKey{Column: s})
			}
		case "sort_desc":
			if n.Sort == nil {
				n.Sort = &SortAttrs{}
			}
			var items []byte
			items, body, err = wire.ReadList(body)
			i := 0
			for err == nil && len(items) > 0 {
				var v bool
				v, items, err = wire.ReadBool(items)
				if i < len(n.Sort.Keys) {
					n.Sort.Keys[i].Descending = v
				}
				i++
			}
		case "topn_keys":
			sawTopN = true
			if n.TopN == nil {
				n.TopN = &TopNAttrs{}
			}
			var items []byte
			items, body, err = wire.ReadList(body)
			for err == nil && len(items) > 0 {
				var s string
				s, items, err = wire.ReadString(items)
				n.TopN.Keys = append(n.TopN.Keys, SortKey{Column: s})
			}
		case "topn_desc":
			if n.TopN == nil {
				n.TopN = &TopNAttrs{}
			}
			var items []byte
			items, body, err = wire.ReadList(body)
			i := 0
			for err == nil && len(items) > 0 {
				var v bool
				v, items, err = wire.ReadBool(items)
				if i < len(n.TopN.Keys) {
					n.TopN.Keys[i].Descending = v
				}
				i++
			}
		case "topn_limit":
			if n.TopN == nil {
				n.TopN = &TopNAttrs{}
			}
			var v int64
			v, body, err = wire.ReadInt(body)
			n.TopN.Limit = int(v)
		default:
			body = body[wire.SizeOf(body):]
		}
		if err != nil {
			return nil, buf, err
		}
	}
	_ = sawScan
	_ = sawAgg
	_ = sawExchange
	_ = sawSort
	_ = sawTopN
	return n, rest, nil
}
