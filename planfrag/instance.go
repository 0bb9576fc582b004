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
	"fmt"

	"github.com/aveek0218/distribsql/execid"
	"github.com/aveek0218/distribsql/wire"
)

// Destination is one consumer of a fragment instance's sink output:
// the worker address and the (dest_instance_id, node_id) exchange key
// the sender transmits to.
type Destination struct {
	WorkerAddr     string
	DestInstanceID execid.InstanceID
	NodeID         int
}

// Instance is one runtime instantiation of a Fragment on a specific
// worker.
type Instance struct {
	InstanceID   execid.InstanceID
	FragmentID   int
	WorkerAddr   string
	ScanRanges   []ScanRange
	Destinations []Destination
	WorkerNumber int // used for deterministic partition-to-worker mapping
}

// Encode writes a ScanRange in wire form.
func (r *ScanRange) Encode(dst *wire.Buffer, st *wire.Symtab) {
	dst.BeginStruct(-1)
	dst.BeginField(st.Intern("file"))
	dst.WriteString(r.File)
	dst.BeginField(st.Intern("offset"))
	dst.WriteInt(r.Offset)
	dst.BeginField(st.Intern("length"))
	dst.WriteInt(r.Length)
	dst.BeginField(st.Intern("replicas"))
	dst.BeginList()
	for _, rep := range r.Replicas {
		dst.WriteString(rep)
	}
	dst.EndList()
	dst.EndStruct()
}

// DecodeScanRange reads a ScanRange previously written by Encode.
func DecodeScanRange(st *wire.Symtab, buf []byte) (ScanRange, []byte, error) {
	var r ScanRange
	body, rest, err := wire.ReadStruct(buf)
	if err != nil {
		return r, buf, fmt.Errorf("planfrag: decoding scan range: %w", err)
	}
	for len(body) > 0 {
		var sym wire.Symbol
		sym, body, err = wire.ReadLabel(body)
		if err != nil {
			return r, buf, err
		}
		switch st.Get(sym) {
		case "file":
			r.File, body, err = wire.ReadString(body)
		case "offset":
			r.Offset, body, err = wire.ReadInt(body)
		case "length":
			r.Length, body, err = wire.ReadInt(body)
		case "replicas":
			var items []byte
			items, body, err = wire.ReadList(body)
			for err == nil && len(items) > 0 {
				var s string
				s, items, err = wire.ReadString(items)
				r.Replicas = append(r.Replicas, s)
			}
		default:
			body = body[wire.SizeOf(body):]
		}
		if err != nil {
			return r, buf, err
		}
	}
	return r, rest, nil
}

// Encode writes the parameters a coordinator sends a worker in a
// prepare RPC: everything needed to construct a fragment executor
// except the fragment's plan tree itself, which travels beside it in
// the prepare request.
func (inst *Instance) Encode(dst *wire.Buffer, st *wire.Symtab) {
	dst.BeginStruct(-1)
	dst.BeginField(st.Intern("instance_id"))
	execid.EncodeInstanceID(dst, inst.InstanceID)
	dst.BeginField(st.Intern("fragment_id"))
	dst.WriteInt(int64(inst.FragmentID))
	dst.BeginField(st.Intern("worker_addr"))
	dst.WriteString(inst.WorkerAddr)
	dst.BeginField(st.Intern("worker_number"))
	dst.WriteInt(int64(inst.WorkerNumber))
	dst.BeginField(st.Intern("scan_ranges"))
	dst.BeginList()
	for i := range inst.ScanRanges {
		inst.ScanRanges[i].Encode(dst, st)
	}
	dst.EndList()
	dst.BeginField(st.Intern("destinations"))
	dst.BeginList()
	for _, d := range inst.Destinations {
		dst.BeginStruct(-1)
		dst.BeginField(st.Intern("worker_addr"))
		dst.WriteString(d.WorkerAddr)
		dst.BeginField(st.Intern("dest_instance_id"))
		execid.EncodeInstanceID(dst, d.DestInstanceID)
		dst.BeginField(st.Intern("node_id"))
		dst.WriteInt(int64(d.NodeID))
		dst.EndStruct()
	}
	dst.EndList()
	dst.EndStruct()
}

// DecodeInstance reads an Instance previously written by Encode.
func DecodeInstance(st *wire.Symtab, buf []byte) (*Instance, []byte, error) {
	body, rest, err := wire.ReadStruct(buf)
	if err != nil {
		return nil, buf, fmt.Errorf("planfrag: decoding instance: %w", err)
	}
	inst := &Instance{}
	for len(body) > 0 {
		var sym wire.Symbol
		sym, body, err = wire.ReadLabel(body)
		if err != nil {
			return nil, buf, err
		}
		switch st.Get(sym) {
		case "instance_id":
			inst.InstanceID, body, err = execid.DecodeInstanceID(body)
		case "fragment_id":
			var v int64
			v, body, err = wire.ReadInt(body)
			inst.FragmentID = int(v)
		case "worker_addr":
			inst.WorkerAddr, body, err = wire.ReadString(body)
		case "worker_number":
			var v int64
			v, body, err = wire.ReadInt(body)
			inst.WorkerNumber = int(v)
		case "scan_ranges":
			var items []byte
			items, body, err = wire.ReadList(body)
			for err == nil && len(items) > 0 {
				var r ScanRange
				r, items, err = DecodeScanRange(st, items)
				inst.ScanRanges = append(inst.ScanRanges, r)
			}
		case "destinations":
			var items []byte
			items, body, err = wire.ReadList(body)
			for err == nil && len(items) > 0 {
				var dbody, drest []byte
				dbody, drest, err = wire.ReadStruct(items)
				if err != nil {
					break
				}
				var d Destination
				for len(dbody) > 0 {
					var dsym wire.Symbol
					dsym, dbody, err = wire.ReadLabel(dbody)
					if err != nil {
						break
					}
					switch st.Get(dsym) {
					case "worker_addr":
						d.WorkerAddr, dbody, err = wire.ReadString(dbody)
					case "dest_instance_id":
						d.DestInstanceID, dbody, err = execid.DecodeInstanceID(dbody)
					case "node_id":
						var v int64
						v, dbody, err = wire.ReadInt(dbody)
						d.NodeID = int(v)
					default:
						dbody = dbody[wire.SizeOf(dbody):]
					}
					if err != nil {
						break
					}
				}
				if err != nil {
					break
				}
				inst.Destinations = append(inst.Destinations, d)
				items = drest
			}
		default:
			body = body[wire.SizeOf(body):]
		}
		if err != nil {
			return nil, buf, err
		}
	}
	return inst, rest, nil
}
