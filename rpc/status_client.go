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
	"context"
	"fmt"
	"net"
)

// StatusReportClient is the worker-to-coordinator surface: a single
// call, report_status.
type StatusReportClient interface {
	ReportStatus(ctx context.Context, addr string, req *ReportStatusRequest) error
}

// StatusReportServer is implemented by the coordinator to receive
// status reports from the instances it dispatched.
type StatusReportServer interface {
	ReportStatus(ctx context.Context, req *ReportStatusRequest) *Ack
}

const methodReportStatus byte = 1

// NetStatusReportClient is the net.Conn transport for StatusReportClient.
type NetStatusReportClient struct {
	Dialer net.Dialer
}

func (c *NetStatusReportClient) ReportStatus(ctx context.Context, addr string, req *ReportStatusRequest) error {
	conn, err := c.Dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("rpc: dialing coordinator %s: %w", addr, err)
	}
	defer conn.Close()
	if dl, ok := ctx.Deadline(); ok {
		conn.SetDeadline(dl)
	}
	framed := append([]byte{methodReportStatus}, req.Marshal()...)
	if err := WriteFrame(conn, framed); err != nil {
		return err
	}
	resp, err := ReadFrame(conn)
	if err != nil {
		return err
	}
	ack, err := DecodeAck(resp)
	if err != nil {
		return err
	}
	return ack.AsError()
}

// ServeStatusReportConn handles one worker-to-coordinator connection.
func ServeStatusReportConn(ctx context.Context, conn net.Conn, srv StatusReportServer) error {
	defer conn.Close()
	framed, err := ReadFrame(conn)
	if err != nil {
		return err
	}
	if len(framed) == 0 {
		return fmt.Errorf("rpc: empty request frame")
	}
	method, payload := framed[0], framed[1:]
	if method != methodReportStatus {
		return WriteFrame(conn, AckErr(fmt.Errorf("rpc: unknown method %d", method)).Marshal())
	}
	req, err := DecodeReportStatusRequest(payload)
	if err != nil {
		return WriteFrame(conn, AckErr(err).Marshal())
	}
	return WriteFrame(conn, srv.ReportStatus(ctx, req).Marshal())
}

// ServeStatusReports accepts connections on ln until it returns an error.
func ServeStatusReports(ctx context.Context, ln net.Listener, srv StatusReportServer) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go func() {
			if err := ServeStatusReportConn(ctx, conn, srv); err != nil {
				_ = err
			}
		}()
	}
}
