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

// Package execid defines the 128-bit identifiers that thread every
// fragment instance, exchange channel, and status report back to the
// query that spawned them.
package execid

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/aveek0218/distribsql/wire"
)

// QueryID globally identifies one submitted statement.
type QueryID uuid.UUID

// InstanceID identifies one fragment instance; it is unique within
// the QueryID that owns it, not globally.
type InstanceID uuid.UUID

// NewQueryID returns a fresh, globally unique query identifier.
func NewQueryID() QueryID { return QueryID(uuid.New()) }

// NewInstanceID returns a fresh instance identifier.
func NewInstanceID() InstanceID { return InstanceID(uuid.New()) }

func (q QueryID) String() string { return uuid.UUID(q).String() }

func (i InstanceID) String() string { return uuid.UUID(i).String() }

// IsZero reports whether q is the zero value.
func (q QueryID) IsZero() bool { return q == QueryID{} }

// IsZero reports whether i is the zero value.
func (i InstanceID) IsZero() bool { return i == InstanceID{} }

// EncodeQueryID writes q as a 16-byte blob value.
func EncodeQueryID(dst *wire.Buffer, q QueryID) { dst.WriteBlob(q[:]) }

// EncodeInstanceID writes i as a 16-byte blob value.
func EncodeInstanceID(dst *wire.Buffer, i InstanceID) { dst.WriteBlob(i[:]) }

// DecodeQueryID reads a QueryID written by EncodeQueryID.
func DecodeQueryID(buf []byte) (QueryID, []byte, error) {
	b, rest, err := wire.ReadBytesShared(buf)
	if err != nil {
		return QueryID{}, buf, err
	}
	var q QueryID
	if len(b) != len(q) {
		return QueryID{}, buf, fmt.Errorf("execid: query id has %d bytes, want %d", len(b), len(q))
	}
	copy(q[:], b)
	return q, rest, nil
}

// DecodeInstanceID reads an InstanceID written by EncodeInstanceID.
func DecodeInstanceID(buf []byte) (InstanceID, []byte, error) {
	b, rest, err := wire.ReadBytesShared(buf)
	if err != nil {
		return InstanceID{}, buf, err
	}
	var i InstanceID
	if len(b) != len(i) {
		return InstanceID{}, buf, fmt.Errorf("execid: instance id has %d bytes, want %d", len(b), len(i))
	}
	copy(i[:], b)
	return i, rest, nil
}

// Pair identifies a fragment instance unambiguously: the query it
// belongs to and its instance id within that query.
type Pair struct {
	Query    QueryID
	Instance InstanceID
}

func (p Pair) String() string {
	return fmt.Sprintf("%s/%s", p.Query, p.Instance)
}
