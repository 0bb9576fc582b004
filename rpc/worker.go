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

// WorkerClient is the coordinator's view of the coordinator-to-worker
// surface: prepare, exec, cancel, and the two exchange-transmit calls
// (which are in fact sent instance-to-instance between workers, not
// routed through the coordinator, but share this client shape).
type WorkerClient interface {
	Prepare(ctx context.Context, addr string, req *PrepareRequest) error
	Exec(ctx context.Context, addr string, req *InstanceRequest) error
	Cancel(ctx context.Context, addr string, req *InstanceRequest) error
	TransmitBatch(ctx context.Context, addr string, req *TransmitBatchRequest) (*TransmitResult, error)
	TransmitEOS(ctx context.Context, addr string, req *TransmitEOSRequest) error
}

// WorkerServer is implemented by a worker process (cmd/workerd) to
// answer the coordinator-to-worker surface.
type WorkerServer interface {
	Prepare(ctx context.Context, req *PrepareRequest) *Ack
	Exec(ctx context.Context, req *InstanceRequest) *Ack
	Cancel(ctx context.Context, req *InstanceRequest) *Ack
	TransmitBatch(ctx context.Context, req *TransmitBatchRequest) *TransmitResult
	TransmitEOS(ctx context.Context, req *TransmitEOSRequest) *Ack
}

const (
	methodPrepare byte = iota + 1
	methodExec
	methodCancel
	methodTransmitBatch
	methodTransmitEOS
)

// NetWorkerClient dials a fresh connection per call, mirroring the
// source's Remote.Exec dial-per-request transport rather than
// maintaining a pooled connection (this module has no long-lived
// per-tenant session to amortize a pool over).
type NetWorkerClient struct {
	Dialer net.Dialer
}

func (c *NetWorkerClient) call(ctx context.Context, addr string, method byte, payload []byte) ([]byte, error) {
	conn, err := c.Dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("rpc: dialing worker %s: %w", addr, err)
	}
	defer conn.Close()
	if dl, ok := ctx.Deadline(); ok {
		conn.SetDeadline(dl)
	}
	framed := append([]byte{method}, payload...)
	if err := WriteFrame(conn, framed); err != nil {
		return nil, fmt.Errorf("rpc: writing request to %s: %w", addr, err)
	}
	resp, err := ReadFrame(conn)
	if err != nil {
		return nil, fmt.Errorf("rpc: reading response from %s: %w", addr, err)
	}
	return resp, nil
}

func (c *NetWorkerClient) Prepare(ctx context.Context, addr string, req *PrepareRequest) error {
	resp, err := c.call(ctx, addr, methodPrepare, req.Marshal())
	if err != nil {
		return err
	}
	ack, err := DecodeAck(resp)
	if err != nil {
		return err
	}
	return ack.AsError()
}

func (c *NetWorkerClient) Exec(ctx context.Context, addr string, req *InstanceRequest) error {
	resp, err := c.call(ctx, addr, methodExec, req.Marshal())
	if err != nil {
		return err
	}
	ack, err := DecodeAck(resp)
	if err != nil {
		return err
	}
	return ack.AsError()
}

func (c *NetWorkerClient) Cancel(ctx context.Context, addr string, req *InstanceRequest) error {
	resp, err := c.call(ctx, addr, methodCancel, req.Marshal())
	if err != nil {
		return err
	}
	ack, err := DecodeAck(resp)
	if err != nil {
		return err
	}
	return ack.AsError()
}

func (c *NetWorkerClient) TransmitBatch(ctx context.Context, addr string, req *TransmitBatchRequest) (*TransmitResult, error) {
	resp, err := c.call(ctx, addr, methodTransmitBatch, req.Marshal())
	if err != nil {
		return nil, err
	}
	return DecodeTransmitResult(resp)
}

func (c *NetWorkerClient) TransmitEOS(ctx context.Context, addr string, req *TransmitEOSRequest) error {
	resp, err := c.call(ctx, addr, methodTransmitEOS, req.Marshal())
	if err != nil {
		return err
	}
	ack, err := DecodeAck(resp)
	if err != nil {
		return err
	}
	return ack.AsError()
}

// ServeWorkerConn handles one incoming coordinator-to-worker
// connection: a single request frame, dispatched by its leading
// method byte, answered with a single response frame.
func ServeWorkerConn(ctx context.Context, conn net.Conn, srv WorkerServer) error {
	defer conn.Close()
	framed, err := ReadFrame(conn)
	if err != nil {
		return err
	}
	if len(framed) == 0 {
		return fmt.Errorf("rpc: empty request frame")
	}
	method, payload := framed[0], framed[1:]

	var resp []byte
	switch method {
	case methodPrepare:
		req, err := DecodePrepareRequest(payload)
		if err != nil {
			resp = AckErr(err).Marshal()
			break
		}
		resp = srv.Prepare(ctx, req).Marshal()
	case methodExec:
		req, err := DecodeInstanceRequest(payload)
		if err != nil {
			resp = AckErr(err).Marshal()
			break
		}
		resp = srv.Exec(ctx, req).Marshal()
	case methodCancel:
		req, err := DecodeInstanceRequest(payload)
		if err != nil {
			resp = AckErr(err).Marshal()
			break
		}
		resp = srv.Cancel(ctx, req).Marshal()
	case methodTransmitBatch:
		req, err := DecodeTransmitBatchRequest(payload)
		if err != nil {
			resp = (&TransmitResult{Code: "error", Err: err.Error()}).Marshal()
			break
		}
		resp = srv.TransmitBatch(ctx, req).Marshal()
	case methodTransmitEOS:
		req, err := DecodeTransmitEOSRequest(payload)
		if err != nil {
			resp = AckErr(err).Marshal()
			break
		}
		resp = srv.TransmitEOS(ctx, req).Marshal()
	default:
		resp = AckErr(fmt.Errorf("rpc: unknown method %d", method)).Marshal()
	}
	return WriteFrame(conn, resp)
}

// ServeWorker accepts connections on ln until it returns an error
// (typically because ln was closed), handling each with ServeWorkerConn.
func ServeWorker(ctx context.Context, ln net.Listener, srv WorkerServer) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go func() {
			if err := ServeWorkerConn(ctx, conn, srv); err != nil {
				_ = err // connection-level errors are not fatal to the listener
			}
		}()
	}
}
