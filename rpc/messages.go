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

package rpc

import (
	"fmt"

	"github.com/aveek0218/distribsql/config"
	"github.com/aveek0218/distribsql/execid"
	"github.com/aveek0218/distribsql/exchange"
	"github.com/aveek0218/distribsql/planfrag"
	"github.com/aveek0218/distribsql/wire"
)

func encodeOptions(dst *wire.Buffer, st *wire.Symtab, o config.QueryOptions) {
	dst.BeginField(st.Intern("options"))
	dst.BeginStruct(-1)
	dst.BeginField(st.Intern("batch_size"))
	dst.WriteInt(int64(o.BatchSize))
	dst.BeginField(st.Intern("max_errors"))
	dst.WriteInt(int64(o.MaxErrors))
	dst.BeginField(st.Intern("disable_codegen"))
	dst.WriteBool(o.DisableCodegen)
	dst.BeginField(st.Intern("mem_limit"))
	dst.WriteInt(o.MemLimit)
	dst.BeginField(st.Intern("exploration_mode"))
	dst.WriteString(string(o.ExplorationMode))
	dst.BeginField(st.Intern("exchange_receive_buffer_bytes"))
	dst.WriteInt(o.ExchangeReceiveBufferBytes)
	dst.BeginField(st.Intern("status_report_interval_ms"))
	dst.WriteInt(o.StatusReportIntervalMs)
	dst.BeginField(st.Intern("idle_query_timeout_s"))
	dst.WriteInt(o.IdleQueryTimeoutS)
	dst.BeginField(st.Intern("compression"))
	dst.WriteString(o.Compression)
	dst.EndStruct()
}

func decodeOptions(st *wire.Symtab, buf []byte) (config.QueryOptions, []byte, error) {
	var o config.QueryOptions
	body, rest, err := wire.ReadStruct(buf)
	if err != nil {
		return o, buf, err
	}
	for len(body) > 0 {
		var sym wire.Symbol
		sym, body, err = wire.ReadLabel(body)
		if err != nil {
			return o, buf, err
		}
		switch st.Get(sym) {
		case "batch_size":
			var v int64
			v, body, err = wire.ReadInt(body)
			o.BatchSize = int(v)
		case "max_errors":
			var v int64
			v, body, err = wire.ReadInt(body)
			o.MaxErrors = int(v)
		case "disable_codegen":
			o.DisableCodegen, body, err = wire.ReadBool(body)
		case "mem_limit":
			o.MemLimit, body, err = wire.ReadInt(body)
		case "exploration_mode":
			var s string
			s, body, err = wire.ReadString(body)
			o.ExplorationMode = config.ExplorationMode(s)
		case "exchange_receive_buffer_bytes":
			o.ExchangeReceiveBufferBytes, body, err = wire.ReadInt(body)
		case "status_report_interval_ms":
			o.StatusReportIntervalMs, body, err = wire.ReadInt(body)
		case "idle_query_timeout_s":
			o.IdleQueryTimeoutS, body, err = wire.ReadInt(body)
		case "compression":
			o.Compression, body, err = wire.ReadString(body)
		default:
			body = body[wire.SizeOf(body):]
		}
		if err != nil {
			return o, buf, err
		}
	}
	return o, rest, nil
}

func encodeKey(dst *wire.Buffer, st *wire.Symtab, k exchange.Key) {
	dst.BeginField(st.Intern("key"))
	dst.BeginStruct(-1)
	dst.BeginField(st.Intern("query_id"))
	execid.EncodeQueryID(dst, k.QueryID)
	dst.BeginField(st.Intern("dest_instance_id"))
	execid.EncodeInstanceID(dst, k.DestInstanceID)
	dst.BeginField(st.Intern("node_id"))
	dst.WriteInt(int64(k.NodeID))
	dst.EndStruct()
}

func decodeKey(st *wire.Symtab, buf []byte) (exchange.Key, []byte, error) {
	var k exchange.Key
	body, rest, err := wire.ReadStruct(buf)
	if err != nil {
		return k, buf, err
	}
	for len(body) > 0 {
		var sym wire.Symbol
		sym, body, err = wire.ReadLabel(body)
		if err != nil {
			return k, buf, err
		}
		switch st.Get(sym) {
		case "query_id":
			k.QueryID, body, err = execid.DecodeQueryID(body)
		case "dest_instance_id":
			k.DestInstanceID, body, err = execid.DecodeInstanceID(body)
		case "node_id":
			var v int64
			v, body, err = wire.ReadInt(body)
			k.NodeID = int(v)
		default:
			body = body[wire.SizeOf(body):]
		}
		if err != nil {
			return k, buf, err
		}
	}
	return k, rest, nil
}

// PrepareRequest is the coordinator-to-worker `prepare` call: every
// parameter a worker needs to construct a fragment instance's
// executor. The coordinator sets Fragment on every prepare; a worker
// also caches each fragment it receives by id and uses that cached
// copy when Fragment is nil.
type PrepareRequest struct {
	Version         Version
	QueryID         execid.QueryID
	Instance        *planfrag.Instance
	Fragment        *planfrag.Fragment // nil means use the worker's cached copy for Instance.FragmentID
	NumUpstreamSenders int             // sizes the exchange receiver for a non-leaf instance
	Options         config.QueryOptions
	CoordinatorAddr string // where this instance reports status back to
}

func (r *PrepareRequest) Marshal() []byte {
	return marshalEnvelope(func(dst *wire.Buffer, st *wire.Symtab) {
		dst.BeginStruct(-1)
		dst.BeginField(st.Intern("version"))
		dst.BeginStruct(-1)
		encodeVersion(dst, st, r.Version)
		dst.EndStruct()
		dst.BeginField(st.Intern("query_id"))
		execid.EncodeQueryID(dst, r.QueryID)
		dst.BeginField(st.Intern("instance"))
		r.Instance.Encode(dst, st)
		if r.Fragment != nil {
			dst.BeginField(st.Intern("fragment"))
			r.Fragment.Encode(dst, st)
		}
		dst.BeginField(st.Intern("num_upstream_senders"))
		dst.WriteInt(int64(r.NumUpstreamSenders))
		encodeOptions(dst, st, r.Options)
		dst.BeginField(st.Intern("coordinator_addr"))
		dst.WriteString(r.CoordinatorAddr)
		dst.EndStruct()
	})
}

func DecodePrepareRequest(data []byte) (*PrepareRequest, error) {
	r := &PrepareRequest{}
	err := unmarshalEnvelope(data, func(st *wire.Symtab, buf []byte) error {
		body, _, err := wire.ReadStruct(buf)
		if err != nil {
			return err
		}
		for len(body) > 0 {
			var sym wire.Symbol
			sym, body, err = wire.ReadLabel(body)
			if err != nil {
				return err
			}
			switch st.Get(sym) {
			case "version":
				var vbody []byte
				vbody, body, err = wire.ReadStruct(body)
				for err == nil && len(vbody) > 0 {
					var vsym wire.Symbol
					vsym, vbody, err = wire.ReadLabel(vbody)
					if err != nil {
						break
					}
					var v int64
					v, vbody, err = wire.ReadInt(vbody)
					switch st.Get(vsym) {
					case "v_major":
						r.Version.Major = int(v)
					case "v_minor":
						r.Version.Minor = int(v)
					}
				}
			case "query_id":
				r.QueryID, body, err = execid.DecodeQueryID(body)
			case "instance":
				r.Instance, body, err = planfrag.DecodeInstance(st, body)
			case "fragment":
				r.Fragment, body, err = planfrag.DecodeFragment(st, body)
			case "num_upstream_senders":
				var v int64
				v, body, err = wire.ReadInt(body)
				r.NumUpstreamSenders = int(v)
			case "options":
				r.Options, body, err = decodeOptions(st, body)
			case "coordinator_addr":
				r.CoordinatorAddr, body, err = wire.ReadString(body)
			default:
				body = body[wire.SizeOf(body):]
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	return r, err
}

// InstanceRequest names one fragment instance: the body of both the
// `exec` and `cancel` coordinator-to-worker calls.
type InstanceRequest struct {
	Version    Version
	QueryID    execid.QueryID
	InstanceID execid.InstanceID
}

func (r *InstanceRequest) Marshal() []byte {
	return marshalEnvelope(func(dst *wire.Buffer, st *wire.Symtab) {
		dst.BeginStruct(-1)
		dst.BeginField(st.Intern("version"))
		dst.BeginStruct(-1)
		encodeVersion(dst, st, r.Version)
		dst.EndStruct()
		dst.BeginField(st.Intern("query_id"))
		execid.EncodeQueryID(dst, r.QueryID)
		dst.BeginField(st.Intern("instance_id"))
		execid.EncodeInstanceID(dst, r.InstanceID)
		dst.EndStruct()
	})
}

func DecodeInstanceRequest(data []byte) (*InstanceRequest, error) {
	r := &InstanceRequest{}
	err := unmarshalEnvelope(data, func(st *wire.Symtab, buf []byte) error {
		body, _, err := wire.ReadStruct(buf)
		if err != nil {
			return err
		}
		for len(body) > 0 {
			var sym wire.Symbol
			sym, body, err = wire.ReadLabel(body)
			if err != nil {
				return err
			}
			switch st.Get(sym) {
			case "version":
				var vbody []byte
				vbody, body, err = wire.ReadStruct(body)
				for err == nil && len(vbody) > 0 {
					var vsym wire.Symbol
					vsym, vbody, err = wire.ReadLabel(vbody)
					if err != nil {
						break
					}
					var v int64
					v, vbody, err = wire.ReadInt(vbody)
					switch st.Get(vsym) {
					case "v_major":
						r.Version.Major = int(v)
					case "v_minor":
						r.Version.Minor = int(v)
					}
				}
			case "query_id":
				r.QueryID, body, err = execid.DecodeQueryID(body)
			case "instance_id":
				r.InstanceID, body, err = execid.DecodeInstanceID(body)
			default:
				body = body[wire.SizeOf(body):]
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	return r, err
}

// Ack is the uniform acknowledgement for prepare/exec/cancel/transmit_eos.
type Ack struct {
	OK     bool
	ErrMsg string
}

func (a *Ack) Marshal() []byte {
	return marshalEnvelope(func(dst *wire.Buffer, st *wire.Symtab) {
		dst.BeginStruct(-1)
		dst.BeginField(st.Intern("ok"))
		dst.WriteBool(a.OK)
		dst.BeginField(st.Intern("err"))
		dst.WriteString(a.ErrMsg)
		dst.EndStruct()
	})
}

func DecodeAck(data []byte) (*Ack, error) {
	a := &Ack{}
	err := unmarshalEnvelope(data, func(st *wire.Symtab, buf []byte) error {
		body, _, err := wire.ReadStruct(buf)
		if err != nil {
			return err
		}
		for len(body) > 0 {
			var sym wire.Symbol
			sym, body, err = wire.ReadLabel(body)
			if err != nil {
				return err
			}
			switch st.Get(sym) {
			case "ok":
				a.OK, body, err = wire.ReadBool(body)
			case "err":
				a.ErrMsg, body, err = wire.ReadString(body)
			default:
				body = body[wire.SizeOf(body):]
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	return a, err
}

// AckOK and AckErr are the two Ack constructors every server handler uses.
func AckOK() *Ack                 { return &Ack{OK: true} }
func AckErr(err error) *Ack       { return &Ack{OK: false, ErrMsg: err.Error()} }
func (a *Ack) AsError() error {
	if a.OK {
		return nil
	}
	return fmt.Errorf("rpc: %s", a.ErrMsg)
}

// TransmitBatchRequest is the coordinator-to-worker `transmit_batch`
// call: it is actually sent peer-to-peer between workers (a sending
// instance's sink talks directly to the receiving instance's worker),
// the coordinator never sees the row bytes.
type TransmitBatchRequest struct {
	Version   Version
	Key       exchange.Key
	SenderIdx int
	Batch     []byte
	// Compression names the algorithm Batch was compressed with
	// ("" means Batch is the raw rowbatch.ToWire output). It is set
	// from config.QueryOptions.Compression by the sending worker and
	// undone by the receiving worker before the bytes reach exchange.
	Compression string
	// RawLen is the decompressed length of Batch; it is ignored when
	// Compression is "".
	RawLen int
}

func (r *TransmitBatchRequest) Marshal() []byte {
	return marshalEnvelope(func(dst *wire.Buffer, st *wire.Symtab) {
		dst.BeginStruct(-1)
		dst.BeginField(st.Intern("version"))
		dst.BeginStruct(-1)
		encodeVersion(dst, st, r.Version)
		dst.EndStruct()
		encodeKey(dst, st, r.Key)
		dst.BeginField(st.Intern("sender_idx"))
		dst.WriteInt(int64(r.SenderIdx))
		dst.BeginField(st.Intern("batch"))
		dst.WriteBlob(r.Batch)
		dst.BeginField(st.Intern("compression"))
		dst.WriteString(r.Compression)
		dst.BeginField(st.Intern("raw_len"))
		dst.WriteInt(int64(r.RawLen))
		dst.EndStruct()
	})
}

func DecodeTransmitBatchRequest(data []byte) (*TransmitBatchRequest, error) {
	r := &TransmitBatchRequest{}
	err := unmarshalEnvelope(data, func(st *wire.Symtab, buf []byte) error {
		body, _, err := wire.ReadStruct(buf)
		if err != nil {
			return err
		}
		for len(body) > 0 {
			var sym wire.Symbol
			sym, body, err = wire.ReadLabel(body)
			if err != nil {
				return err
			}
			switch st.Get(sym) {
			case "version":
				var vbody []byte
				vbody, body, err = wire.ReadStruct(body)
				for err == nil && len(vbody) > 0 {
					var vsym wire.Symbol
					vsym, vbody, err = wire.ReadLabel(vbody)
					if err != nil {
						break
					}
					var v int64
					v, vbody, err = wire.ReadInt(vbody)
					switch st.Get(vsym) {
					case "v_major":
						r.Version.Major = int(v)
					case "v_minor":
						r.Version.Minor = int(v)
					}
				}
			case "key":
				r.Key, body, err = decodeKey(st, body)
			case "sender_idx":
				var v int64
				v, body, err = wire.ReadInt(body)
				r.SenderIdx = int(v)
			case "batch":
				r.Batch, body, err = wire.ReadBytesShared(body)
			case "compression":
				r.Compression, body, err = wire.ReadString(body)
			case "raw_len":
				var v int64
				v, body, err = wire.ReadInt(body)
				r.RawLen = int(v)
			default:
				body = body[wire.SizeOf(body):]
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	return r, err
}

// TransmitResult is transmit_batch's reply: ok, or the receiver is
// closed or its query cancelled, matching exchange.ErrReceiverClosed
// and exchange.ErrQueryCancelled.
type TransmitResult struct {
	Code string // "ok" | "closed" | "cancelled" | "error"
	Err  string
}

func (r *TransmitResult) Marshal() []byte {
	return marshalEnvelope(func(dst *wire.Buffer, st *wire.Symtab) {
		dst.BeginStruct(-1)
		dst.BeginField(st.Intern("code"))
		dst.WriteString(r.Code)
		dst.BeginField(st.Intern("err"))
		dst.WriteString(r.Err)
		dst.EndStruct()
	})
}

func DecodeTransmitResult(data []byte) (*TransmitResult, error) {
	r := &TransmitResult{}
	err := unmarshalEnvelope(data, func(st *wire.Symtab, buf []byte) error {
		body, _, err := wire.ReadStruct(buf)
		if err != nil {
			return err
		}
		for len(body) > 0 {
			var sym wire.Symbol
			sym, body, err = wire.ReadLabel(body)
			if err != nil {
				return err
			}
			switch st.Get(sym) {
			case "code":
				r.Code, body, err = wire.ReadString(body)
			case "err":
				r.Err, body, err = wire.ReadString(body)
			default:
				body = body[wire.SizeOf(body):]
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	return r, err
}

// TransmitEOSRequest is the coordinator-to-worker (really peer-to-peer)
// `transmit_eos` call.
type TransmitEOSRequest struct {
	Version   Version
	Key       exchange.Key
	SenderIdx int
}

func (r *TransmitEOSRequest) Marshal() []byte {
	return marshalEnvelope(func(dst *wire.Buffer, st *wire.Symtab) {
		dst.BeginStruct(-1)
		dst.BeginField(st.Intern("version"))
		dst.BeginStruct(-1)
		encodeVersion(dst, st, r.Version)
		dst.EndStruct()
		encodeKey(dst, st, r.Key)
		dst.BeginField(st.Intern("sender_idx"))
		dst.WriteInt(int64(r.SenderIdx))
		dst.EndStruct()
	})
}

func DecodeTransmitEOSRequest(data []byte) (*TransmitEOSRequest, error) {
	r := &TransmitEOSRequest{}
	err := unmarshalEnvelope(data, func(st *wire.Symtab, buf []byte) error {
		body, _, err := wire.ReadStruct(buf)
		if err != nil {
			return err
		}
		for len(body) > 0 {
			var sym wire.Symbol
			sym, body, err = wire.ReadLabel(body)
			if err != nil {
				return err
			}
			switch st.Get(sym) {
			case "version":
				var vbody []byte
				vbody, body, err = wire.ReadStruct(body)
				for err == nil && len(vbody) > 0 {
					var vsym wire.Symbol
					vsym, vbody, err = wire.ReadLabel(vbody)
					if err != nil {
						break
					}
					var v int64
					v, vbody, err = wire.ReadInt(vbody)
					switch st.Get(vsym) {
					case "v_major":
						r.Version.Major = int(v)
					case "v_minor":
						r.Version.Minor = int(v)
					}
				}
			case "key":
				r.Key, body, err = decodeKey(st, body)
			case "sender_idx":
				var v int64
				v, body, err = wire.ReadInt(body)
				r.SenderIdx = int(v)
			default:
				body = body[wire.SizeOf(body):]
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	return r, err
}
