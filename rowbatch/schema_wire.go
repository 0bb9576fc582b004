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

package rowbatch

import "github.com/aveek0218/distribsql/wire"

// Encode writes the schema in wire form. A schema is sent exactly
// once per fragment, at prepare time; no batch re-sends it.
func (s *Schema) Encode(dst *wire.Buffer, st *wire.Symtab) {
	dst.BeginStruct(-1)
	dst.BeginField(st.Intern("columns"))
	dst.BeginList()
	for _, c := range s.Columns {
		dst.BeginStruct(-1)
		dst.BeginField(st.Intern("name"))
		dst.WriteString(c.Name)
		dst.BeginField(st.Intern("type"))
		dst.WriteInt(int64(c.Type))
		dst.EndStruct()
	}
	dst.EndList()
	dst.EndStruct()
}

// DecodeSchema reads a Schema previously written by Encode.
func DecodeSchema(st *wire.Symtab, buf []byte) (*Schema, []byte, error) {
	body, rest, err := wire.ReadStruct(buf)
	if err != nil {
		return nil, buf, err
	}
	var cols []Column
	for len(body) > 0 {
		var sym wire.Symbol
		sym, body, err = wire.ReadLabel(body)
		if err != nil {
			return nil, buf, err
		}
		switch st.Get(sym) {
		case "columns":
			var items []byte
			items, body, err = wire.ReadList(body)
			for err == nil && len(items) > 0 {
				var cbody, crest []byte
				cbody, crest, err = wire.ReadStruct(items)
				if err != nil {
					break
				}
				var c Column
				for len(cbody) > 0 {
					var csym wire.Symbol
					csym, cbody, err = wire.ReadLabel(cbody)
					if err != nil {
						break
					}
					switch st.Get(csym) {
					case "name":
						c.Name, cbody, err = wire.ReadString(cbody)
					case "type":
						var v int64
						v, cbody, err = wire.ReadInt(cbody)
						c.Type = ColumnType(v)
					default:
						cbody = cbody[wire.SizeOf(cbody):]
					}
					if err != nil {
						break
					}
				}
				if err != nil {
					break
				}
				cols = append(cols, c)
				items = crest
			}
		default:
			body = body[wire.SizeOf(body):]
		}
		if err != nil {
			return nil, buf, err
		}
	}
	return NewSchema(cols...), rest, nil
}
