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

// Package rpc implements the three wire services that connect the
// pieces of a running query: coordinator-to-worker, worker-to-coordinator,
// and client-to-coordinator. Every request and response is a
// self-contained wire envelope (its own symbol table plus body) so a
// single message can be read off a connection without any shared,
// connection-lifetime symbol state.
package rpc

import (
	"encoding/binary"
	"fmt"

	"github.com/aveek0218/distribsql/wire"
)

// Version is carried on every request so a future incompatible change
// to a message's field layout can be rejected instead of misparsed.
type Version struct {
	Major int
	Minor int
}

// CurrentVersion is the version this build of the module writes.
var CurrentVersion = Version{Major: 1, Minor: 0}

// Supports reports whether a request at version v can be handled by a
// server built against CurrentVersion: same major, any minor.
func (v Version) Supports(got Version) bool { return v.Major == got.Major }

func encodeVersion(dst *wire.Buffer, st *wire.Symtab, v Version) {
	dst.BeginField(st.Intern("v_major"))
	dst.WriteInt(int64(v.Major))
	dst.BeginField(st.Intern("v_minor"))
	dst.WriteInt(int64(v.Minor))
}

// marshalEnvelope serializes one self-contained message: a 4-byte
// symbol-table length prefix, the symbol table, then the body bytes
// encoded against it.
func marshalEnvelope(encodeBody func(dst *wire.Buffer, st *wire.Symtab)) []byte {
	var body wire.Buffer
	var st wire.Symtab
	encodeBody(&body, &st)
	bodyBytes := append([]byte(nil), body.Bytes()...)

	var symBuf wire.Buffer
	st.Encode(&symBuf)
	symBytes := symBuf.Bytes()

	out := make([]byte, 4+len(symBytes)+len(bodyBytes))
	binary.BigEndian.PutUint32(out[0:4], uint32(len(symBytes)))
	copy(out[4:], symBytes)
	copy(out[4+len(symBytes):], bodyBytes)
	return out
}

// unmarshalEnvelope is the exact inverse of marshalEnvelope.
func unmarshalEnvelope(data []byte, decodeBody func(st *wire.Symtab, body []byte) error) error {
	if len(data) < 4 {
		return fmt.Errorf("rpc: envelope too short: %d bytes", len(data))
	}
	n := binary.BigEndian.Uint32(data[0:4])
	if int(n) > len(data)-4 {
		return fmt.Errorf("rpc: envelope declares a %d-byte symbol table but only has %d bytes left", n, len(data)-4)
	}
	st, rest, err := wire.DecodeSymtab(data[4 : 4+n])
	if err != nil {
		return fmt.Errorf("rpc: decoding envelope symbol table: %w", err)
	}
	if len(rest) != 0 {
		return fmt.Errorf("rpc: %d trailing bytes after envelope symbol table", len(rest))
	}
	return decodeBody(st, data[4+n:])
}
