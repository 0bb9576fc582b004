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
	"github.com/aveek0218/distribsql/config"
	"github.com/aveek0218/distribsql/execid"
	"github.com/aveek0218/distribsql/wire"
)

// SubmitRequest is the client-to-coordinator `submit` call.
type SubmitRequest struct {
	Version         Version
	SQL             string
	DefaultDatabase string
	Options         config.QueryOptions
}

func (r *SubmitRequest) Marshal() []byte {
	return marshalEnvelope(func(dst *wire.Buffer, st *wire.Symtab) {
		dst.BeginStruct(-1)
		dst.BeginField(st.Intern("version"))
		dst.BeginStruct(-1)
		encodeVersion(dst, st, r.Version)
		dst.EndStruct()
		dst.BeginField(st.Intern("sql"))
		dst.WriteString(r.SQL)
		dst.BeginField(st.Intern("default_database"))
		dst.WriteString(r.DefaultDatabase)
		encodeOptions(dst, st, r.Options)
		dst.EndStruct()
	})
}

func DecodeSubmitRequest(data []byte) (*SubmitRequest, error) {
	r := &SubmitRequest{}
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
			case "sql":
				r.SQL, body, err = wire.ReadString(body)
			case "default_database":
				r.DefaultDatabase, body, err = wire.ReadString(body)
			case "options":
				r.Options, body, err = decodeOptions(st, body)
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

// QueryIDRequest is the shared body of `wait`, `fetch`'s query_id
// field, `close`, and `cancel`.
type QueryIDRequest struct {
	Version Version
	QueryID execid.QueryID
	MaxRows int // only meaningful for fetch, where it caps row batches, not rows; zero otherwise
}

func (r *QueryIDRequest) Marshal() []byte {
	return marshalEnvelope(func(dst *wire.Buffer, st *wire.Symtab) {
		dst.BeginStruct(-1)
		dst.BeginField(st.Intern("version"))
		dst.BeginStruct(-1)
		encodeVersion(dst, st, r.Version)
		dst.EndStruct()
		dst.BeginField(st.Intern("query_id"))
		execid.EncodeQueryID(dst, r.QueryID)
		dst.BeginField(st.Intern("max_rows"))
		dst.WriteInt(int64(r.MaxRows))
		dst.EndStruct()
	})
}

func DecodeQueryIDRequest(data []byte) (*QueryIDRequest, error) {
	r := &QueryIDRequest{}
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
			case "max_rows":
				var v int64
				v, body, err = wire.ReadInt(body)
				r.MaxRows = int(v)
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

// SubmitResponse answers `submit`.
type SubmitResponse struct {
	QueryID execid.QueryID
	Err     string
}

func (r *SubmitResponse) Marshal() []byte {
	return marshalEnvelope(func(dst *wire.Buffer, st *wire.Symtab) {
		dst.BeginStruct(-1)
		dst.BeginField(st.Intern("query_id"))
		execid.EncodeQueryID(dst, r.QueryID)
		dst.BeginField(st.Intern("err"))
		dst.WriteString(r.Err)
		dst.EndStruct()
	})
}

func DecodeSubmitResponse(data []byte) (*SubmitResponse, error) {
	r := &SubmitResponse{}
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
			case "query_id":
				r.QueryID, body, err = execid.DecodeQueryID(body)
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

// FetchResponse answers `fetch`: up to max_rows row batches (the limit
// counts batches, not rows), each as rowbatch.ToWire bytes, plus the
// sticky end-of-stream flag
// and, once the query has concluded, its final status.
type FetchResponse struct {
	Batches    [][]byte
	EOS        bool
	StatusCode int
	StatusErr  string
}

func (r *FetchResponse) Marshal() []byte {
	return marshalEnvelope(func(dst *wire.Buffer, st *wire.Symtab) {
		dst.BeginStruct(-1)
		dst.BeginField(st.Intern("batches"))
		dst.BeginList()
		for _, b := range r.Batches {
			dst.WriteBlob(b)
		}
		dst.EndList()
		dst.BeginField(st.Intern("eos"))
		dst.WriteBool(r.EOS)
		dst.BeginField(st.Intern("status_code"))
		dst.WriteInt(int64(r.StatusCode))
		dst.BeginField(st.Intern("status_err"))
		dst.WriteString(r.StatusErr)
		dst.EndStruct()
	})
}

func DecodeFetchResponse(data []byte) (*FetchResponse, error) {
	r := &FetchResponse{}
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
			case "batches":
				var items []byte
				items, body, err = wire.ReadList(body)
				for err == nil && len(items) > 0 {
					var b []byte
					b, items, err = wire.ReadBytesShared(items)
					r.Batches = append(r.Batches, append([]byte(nil), b...))
				}
			case "eos":
				r.EOS, body, err = wire.ReadBool(body)
			case "status_code":
				var v int64
				v, body, err = wire.ReadInt(body)
				r.StatusCode = int(v)
			case "status_err":
				r.StatusErr, body, err = wire.ReadString(body)
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
