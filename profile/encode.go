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

package profile

import (
	"fmt"

	"github.com/aveek0218/distribsql/wire"
)

// Encode serializes n with a pre-order traversal: this node's name,
// counter list, info strings, then each child in insertion order. The
// same Symtab must be used for the whole tree and handed to Decode
// afterwards so field labels resolve correctly. Derived counters are
// encoded as their current snapshot value, since the receiving side
// (typically the coordinator) has no way to re-invoke the callback.
func (n *Node) Encode(dst *wire.Buffer, st *wire.Symtab) {
	dst.BeginStruct(-1)

	dst.BeginField(st.Intern("name"))
	dst.WriteString(n.Name)

	dst.BeginField(st.Intern("counters"))
	dst.BeginList()
	for _, c := range n.Counters() {
		dst.BeginStruct(-1)
		dst.BeginField(st.Intern("cname"))
		dst.WriteString(c.Name)
		dst.BeginField(st.Intern("kind"))
		dst.WriteInt(int64(c.Kind))
		dst.BeginField(st.Intern("value"))
		dst.WriteInt(c.Value())
		if c.Kind == TimeSeries {
			dst.BeginField(st.Intern("samples"))
			dst.BeginList()
			for _, s := range c.Samples() {
				dst.WriteInt(s)
			}
			dst.EndList()
		}
		dst.EndStruct()
	}
	dst.EndList()

	dst.BeginField(st.Intern("info"))
	dst.BeginList()
	for _, kv := range n.InfoStrings() {
		dst.BeginStruct(-1)
		dst.BeginField(st.Intern("key"))
		dst.WriteString(kv.Key)
		dst.BeginField(st.Intern("ival"))
		dst.WriteString(kv.Value)
		dst.EndStruct()
	}
	dst.EndList()

	dst.BeginField(st.Intern("children"))
	dst.BeginList()
	for _, c := range n.Children() {
		c.Encode(dst, st)
	}
	dst.EndList()

	dst.EndStruct()
}

// Decode reconstructs a detached profile tree from bytes written by
// Encode, using the same Symtab the encoder used.
func Decode(st *wire.Symtab, buf []byte) (*Node, []byte, error) {
	body, rest, err := wire.ReadStruct(buf)
	if err != nil {
		return nil, buf, fmt.Errorf("profile: %w", err)
	}
	n := &Node{}
	for len(body) > 0 {
		var sym wire.Symbol
		sym, body, err = wire.ReadLabel(body)
		if err != nil {
			return nil, buf, fmt.Errorf("profile: %w", err)
		}
		switch st.Get(sym) {
		case "name":
			n.Name, body, err = wire.ReadString(body)
		case "counters":
			var listBody []byte
			listBody, body, err = wire.ReadList(body)
			if err == nil {
				err = decodeCounters(n, st, listBody)
			}
		case "info":
			var listBody []byte
			listBody, body, err = wire.ReadList(body)
			if err == nil {
				err = decodeInfo(n, st, listBody)
			}
		case "children":
			var listBody []byte
			listBody, body, err = wire.ReadList(body)
			if err == nil {
				err = decodeChildren(n, st, listBody)
			}
		default:
			body = body[wire.SizeOf(body):]
		}
		if err != nil {
			return nil, buf, fmt.Errorf("profile: %w", err)
		}
	}
	return n, rest, nil
}

func decodeCounters(n *Node, st *wire.Symtab, items []byte) error {
	for len(items) > 0 {
		cbody, crest, err := wire.ReadStruct(items)
		if err != nil {
			return err
		}
		var name string
		var kind CounterKind
		var value int64
		var samples []int64
		for len(cbody) > 0 {
			var sym wire.Symbol
			sym, cbody, err = wire.ReadLabel(cbody)
			if err != nil {
				return err
			}
			switch st.Get(sym) {
			case "cname":
				name, cbody, err = wire.ReadString(cbody)
			case "kind":
				var k int64
				k, cbody, err = wire.ReadInt(cbody)
				kind = CounterKind(k)
			case "value":
				value, cbody, err = wire.ReadInt(cbody)
			case "samples":
				var listBody []byte
				listBody, cbody, err = wire.ReadList(cbody)
				for err == nil && len(listBody) > 0 {
					var s int64
					s, listBody, err = wire.ReadInt(listBody)
					samples = append(samples, s)
				}
			default:
				cbody = cbody[wire.SizeOf(cbody):]
			}
			if err != nil {
				return err
			}
		}
		c := n.Counter(name, kind)
		switch kind {
		case TimeSeries:
			for _, s := range samples {
				c.Sample(s)
			}
		default:
			c.mu.Lock()
			c.value = value
			c.mu.Unlock()
		}
		items = crest
	}
	return nil
}

func decodeInfo(n *Node, st *wire.Symtab, items []byte) error {
	for len(items) > 0 {
		cbody, crest, err := wire.ReadStruct(items)
		if err != nil {
			return err
		}
		var key, val string
		for len(cbody) > 0 {
			var sym wire.Symbol
			sym, cbody, err = wire.ReadLabel(cbody)
			if err != nil {
				return err
			}
			var s string
			s, cbody, err = wire.ReadString(cbody)
			if err != nil {
				return err
			}
			switch st.Get(sym) {
			case "key":
				key = s
			case "ival":
				val = s
			}
		}
		n.SetInfoString(key, val)
		items = crest
	}
	return nil
}

func decodeChildren(n *Node, st *wire.Symtab, items []byte) error {
	for len(items) > 0 {
		child, rest, err := Decode(st, items)
		if err != nil {
			return err
		}
		n.mu.Lock()
		if n.childIdx == nil {
			n.childIdx = make(map[string]int)
		}
		n.childIdx[child.Name] = len(n.children)
		n.children = append(n.children, child)
		n.mu.Unlock()
		items = rest
	}
	return nil
}
