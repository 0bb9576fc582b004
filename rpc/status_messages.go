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
	"github.com/aveek0218/distribsql/execid"
	"github.com/aveek0218/distribsql/executor"
	"github.com/aveek0218/distribsql/status"
	"github.com/aveek0218/distribsql/wire"
)

// ReportStatusRequest is the worker-to-coordinator `report_status`
// call: an instance's periodic status-report thread sends one of
// these per tick, carrying the profile snapshot as opaque
// already-encoded bytes (it was built with its own Symtab by
// profile.Node.Encode and travels as a nested envelope).
type ReportStatusRequest struct {
	Version      Version
	QueryID      execid.QueryID
	InstanceID   execid.InstanceID
	State        executor.State
	StatusCode   status.Code
	StatusClass  status.Class
	StatusErr    string
	NewErrorLines []string
	ProfileBytes []byte
	Done         bool
}

func FromReport(queryID execid.QueryID, r executor.Report, profileBytes []byte) *ReportStatusRequest {
	errMsg := ""
	if r.Status.Err != nil {
		errMsg = r.Status.Err.Error()
	}
	return &ReportStatusRequest{
		Version:       CurrentVersion,
		QueryID:       queryID,
		InstanceID:    r.InstanceID,
		State:         r.State,
		StatusCode:    r.Status.Code,
		StatusClass:   r.Status.Class,
		StatusErr:     errMsg,
		NewErrorLines: r.NewErrorLines,
		ProfileBytes:  profileBytes,
		Done:          r.Done,
	}
}

func (r *ReportStatusRequest) Marshal() []byte {
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
		dst.BeginField(st.Intern("state"))
		dst.WriteInt(int64(r.State))
		dst.BeginField(st.Intern("status_code"))
		dst.WriteInt(int64(r.StatusCode))
		dst.BeginField(st.Intern("status_class"))
		dst.WriteInt(int64(r.StatusClass))
		dst.BeginField(st.Intern("status_err"))
		dst.WriteString(r.StatusErr)
		dst.BeginField(st.Intern("error_log"))
		dst.BeginList()
		for _, l := range r.NewErrorLines {
			dst.WriteString(l)
		}
		dst.EndList()
		dst.BeginField(st.Intern("profile"))
		dst.WriteBlob(r.ProfileBytes)
		dst.BeginField(st.Intern("done"))
		dst.WriteBool(r.Done)
		dst.EndStruct()
	})
}

func DecodeReportStatusRequest(data []byte) (*ReportStatusRequest, error) {
	r := &ReportStatusRequest{}
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
			case "state":
				var v int64
				v, body, err = wire.ReadInt(body)
				r.State = executor.State(v)
			case "status_code":
				var v int64
				v, body, err = wire.ReadInt(body)
				r.StatusCode = status.Code(v)
			case "status_class":
				var v int64
				v, body, err = wire.ReadInt(body)
				r.StatusClass = status.Class(v)
			case "status_err":
				r.StatusErr, body, err = wire.ReadString(body)
			case "error_log":
				var items []byte
				items, body, err = wire.ReadList(body)
				for err == nil && len(items) > 0 {
					var s string
					s, items, err = wire.ReadString(items)
					r.NewErrorLines = append(r.NewErrorLines, s)
				}
			case "profile":
				r.ProfileBytes, body, err = wire.ReadBytesShared(body)
			case "done":
				r.Done, body, err = wire.ReadBool(body)
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
