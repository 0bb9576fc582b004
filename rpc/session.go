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

// SessionServer is the client-to-coordinator surface: submit, wait,
// fetch, close, cancel. A coordinatord process implements this
// directly against its in-process queryexec handles; open_session has
// no wire representation here since a bare TCP connection already
// scopes one session.
type SessionServer interface {
	Submit(ctx context.Context, req *SubmitRequest) *SubmitResponse
	Wait(ctx context.Context, req *QueryIDRequest) *Ack
	Fetch(ctx context.Context, req *QueryIDRequest) *FetchResponse
	Close(ctx context.Context, req *QueryIDRequest) *Ack
	CancelQuery(ctx context.Context, req *QueryIDRequest) *Ack
}

// SessionClient is the matching client-side view, used by a thin CLI
// or library talking to a remote coordinatord.
type SessionClient interface {
	Submit(ctx context.Context, addr string, req *SubmitRequest) (*SubmitResponse, error)
	Wait(ctx context.Context, addr string, req *QueryIDRequest) error
	Fetch(ctx context.Context, addr string, req *QueryIDRequest) (*FetchResponse, error)
	Close(ctx context.Context, addr string, req *QueryIDRequest) error
	CancelQuery(ctx context.Context, addr string, req *QueryIDRequest) error
}

const (
	methodSubmit byte = iota + 1
	methodWait
	methodFetch
	methodCloseSession
	methodCancelQuery
)

// NetSessionClient is the net.Conn transport for SessionClient.
type NetSessionClient struct {
	Dialer net.Dialer
}

func (c *NetSessionClient) call(ctx context.Context, addr string, method byte, payload []byte) ([]byte, error) {
	conn, err := c.Dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("rpc: dialing coordinator %s: %w", addr, err)
	}
	defer conn.Close()
	if dl, ok := ctx.Deadline(); ok {
		conn.SetDeadline(dl)
	}
	framed := append([]byte{method}, payload...)
	if err := WriteFrame(conn, framed); err != nil {
		return nil, err
	}
	return ReadFrame(conn)
}

func (c *NetSessionClient) Submit(ctx context.Context, addr string, req *SubmitRequest) (*SubmitResponse, error) {
	resp, err := c.call(ctx, addr, methodSubmit, req.Marshal())
	if err != nil {
		return nil, err
	}
	return DecodeSubmitResponse(resp)
}

func (c *NetSessionClient) Wait(ctx context.Context, addr string, req *QueryIDRequest) error {
	resp, err := c.call(ctx, addr, methodWait, req.Marshal())
	if err != nil {
		return err
	}
	ack, err := DecodeAck(resp)
	if err != nil {
		return err
	}
	return ack.AsError()
}

func (c *NetSessionClient) Fetch(ctx context.Context, addr string, req *QueryIDRequest) (*FetchResponse, error) {
	resp, err := c.call(ctx, addr, methodFetch, req.Marshal())
	if err != nil {
		return nil, err
	}
	return DecodeFetchResponse(resp)
}

func (c *NetSessionClient) Close(ctx context.Context, addr string, req *QueryIDRequest) error {
	resp, err := c.call(ctx, addr, methodCloseSession, req.Marshal())
	if err != nil {
		return err
	}
	ack, err := DecodeAck(resp)
	if err != nil {
		return err
	}
	return ack.AsError()
}

func (c *NetSessionClient) CancelQuery(ctx context.Context, addr string, req *QueryIDRequest) error {
	resp, err := c.call(ctx, addr, methodCancelQuery, req.Marshal())
	if err != nil {
		return err
	}
	ack, err := DecodeAck(resp)
	if err != nil {
		return err
	}
	return ack.AsError()
}

// ServeSessionConn handles one client-to-coordinator connection.
func ServeSessionConn(ctx context.Context, conn net.Conn, srv SessionServer) error {
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
	case methodSubmit:
		req, err := DecodeSubmitRequest(payload)
		if err != nil {
			resp = (&SubmitResponse{Err: err.Error()}).Marshal()
			break
		}
		resp = srv.Submit(ctx, req).Marshal()
	case methodWait:
		req, err := DecodeQueryIDRequest(payload)
		if err != nil {
			resp = AckErr(err).Marshal()
			break
		}
		resp = srv.Wait(ctx, req).Marshal()
	case methodFetch:
		req, err := DecodeQueryIDRequest(payload)
		if err != nil {
			resp = (&FetchResponse{StatusErr: err.Error()}).Marshal()
			break
		}
		resp = srv.Fetch(ctx, req).Marshal()
	case methodCloseSession:
		req, err := DecodeQueryIDRequest(payload)
		if err != nil {
			resp = AckErr(err).Marshal()
			break
		}
		resp = srv.Close(ctx, req).Marshal()
	case methodCancelQuery:
		req, err := DecodeQueryIDRequest(payload)
		if err != nil {
			resp = AckErr(err).Marshal()
			break
		}
		resp = srv.CancelQuery(ctx, req).Marshal()
	default:
		resp = AckErr(fmt.Errorf("rpc: unknown method %d", method)).Marshal()
	}
	return WriteFrame(conn, resp)
}

// ServeSession accepts connections on ln until it returns an error.
func ServeSession(ctx context.Context, ln net.Listener, srv SessionServer) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go func() {
			if err := ServeSessionConn(ctx, conn, srv); err != nil {
				_ = err
			}
		}()
	}
}
