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

package worker

import (
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/aveek0218/distribsql/compr"
	"github.com/aveek0218/distribsql/exchange"
	"github.com/aveek0218/distribsql/execid"
	"github.com/aveek0218/distribsql/executor"
	"github.com/aveek0218/distribsql/memtrack"
	"github.com/aveek0218/distribsql/planfrag"
	"github.com/aveek0218/distribsql/profile"
	"github.com/aveek0218/distribsql/rpc"
	"github.com/aveek0218/distribsql/wire"
)

// ResultSinkFactory builds the sink for a fragment instance whose
// Sink.Kind is planfrag.ResultSink: delivery into the coordinator's
// local result buffer rather than across the exchange fabric. It is
// only ever invoked on a worker embedded in the coordinator process,
// for the root fragment's ExecAtCoord instance.
type ResultSinkFactory func(queryID execid.QueryID, instanceID execid.InstanceID) (executor.Sink, error)

type instanceState struct {
	exec     *executor.Executor
	cancel   context.CancelFunc
	recvKey  exchange.Key
	hasRecv  bool
	queryID  execid.QueryID
}

// Server implements rpc.WorkerServer: the per-node runtime that turns
// prepare/exec/cancel calls into running executor.Executor instances,
// and the two transmit calls into exchange.Manager traffic.
type Server struct {
	Addr          string
	Manager       *exchange.Manager
	WorkerClient  rpc.WorkerClient
	StatusClient  rpc.StatusReportClient
	MemRoot       *memtrack.Tracker
	ScanFactory   ScanSourceFactory
	ResultSink    ResultSinkFactory
	Logger        *log.Logger
	ReportInterval time.Duration

	mu        sync.Mutex
	fragments map[int]*planfrag.Fragment
	instances map[execid.InstanceID]*instanceState
}

// NewServer constructs a Server ready to accept connections via
// rpc.ServeWorker. client is used both to talk to the coordinator's
// peer workers (for exchange sends) and, indirectly, nothing else:
// the worker never calls back into the coordinator except through
// StatusClient.
func NewServer(addr string, mgr *exchange.Manager, client rpc.WorkerClient, statusClient rpc.StatusReportClient, memRoot *memtrack.Tracker, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		Addr:           addr,
		Manager:        mgr,
		WorkerClient:   client,
		StatusClient:   statusClient,
		MemRoot:        memRoot,
		ScanFactory:    EmptyScanSource,
		Logger:         logger,
		ReportInterval: time.Second,
		fragments:      make(map[int]*planfrag.Fragment),
		instances:      make(map[execid.InstanceID]*instanceState),
	}
}

func (s *Server) cacheFragment(req *rpc.PrepareRequest) (*planfrag.Fragment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if req.Fragment != nil {
		s.fragments[req.Fragment.ID] = req.Fragment
		return req.Fragment, nil
	}
	frag, ok := s.fragments[req.Instance.FragmentID]
	if !ok {
		return nil, fmt.Errorf("worker: fragment %d not cached and not sent with this prepare", req.Instance.FragmentID)
	}
	return frag, nil
}

// Prepare builds the operator tree and executor for one fragment
// instance, registering an exchange receiver first when the fragment
// is non-leaf so sends racing ahead of Prepare's return still land
// somewhere.
func (s *Server) Prepare(ctx context.Context, req *rpc.PrepareRequest) *rpc.Ack {
	frag, err := s.cacheFragment(req)
	if err != nil {
		return rpc.AckErr(err)
	}
	if err := frag.Validate(); err != nil {
		return rpc.AckErr(err)
	}

	opts, err := req.Options.Normalize()
	if err != nil {
		return rpc.AckErr(err)
	}

	inst := req.Instance
	var recv *exchange.Receiver
	recvKey := exchange.Key{QueryID: req.QueryID, DestInstanceID: inst.InstanceID, NodeID: 0}
	root := frag.Root()
	if !frag.Leaf && root.Kind == planfrag.ExchangeReceive {
		prof := profile.NewNode(fmt.Sprintf("instance-%x", inst.InstanceID))
		recv = s.Manager.CreateReceiver(recvKey, req.NumUpstreamSenders, opts.ExchangeReceiveBufferBytes, prof)
	}

	op, err := BuildOperatorTree(frag, recv, opts.BatchSize, s.ScanFactory)
	if err != nil {
		return rpc.AckErr(fmt.Errorf("worker: compiling fragment %d: %w", frag.ID, err))
	}

	var sink executor.Sink
	switch frag.Sink.Kind {
	case planfrag.ResultSink:
		if s.ResultSink == nil {
			return rpc.AckErr(fmt.Errorf("worker: fragment %d has a result sink but this worker has no ResultSinkFactory", frag.ID))
		}
		sink, err = s.ResultSink(req.QueryID, inst.InstanceID)
		if err != nil {
			return rpc.AckErr(err)
		}
	default:
		sink = newExchangeSendSink(s.WorkerClient, req.QueryID, inst.WorkerNumber, frag.Sink, inst.Destinations, opts.Compression)
	}

	memLimit := opts.MemLimit
	tracker := s.MemRoot.NewChild(fmt.Sprintf("instance-%x", inst.InstanceID), memLimit)
	prof := profile.NewNode(fmt.Sprintf("fragment-%d", frag.ID))
	instCtx, cancel := context.WithCancel(ctx)
	rt := &executor.Runtime{Context: instCtx, Tracker: tracker, Profile: prof}

	exec := executor.New(inst.InstanceID, rt, op, sink, opts.BatchSize)
	if err := exec.Prepare(); err != nil {
		cancel()
		return rpc.AckErr(err)
	}

	s.mu.Lock()
	s.instances[inst.InstanceID] = &instanceState{
		exec:    exec,
		cancel:  cancel,
		recvKey: recvKey,
		hasRecv: recv != nil,
		queryID: req.QueryID,
	}
	s.mu.Unlock()

	interval := time.Duration(opts.StatusReportIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = s.ReportInterval
	}
	addr := req.CoordinatorAddr
	statusClient := s.StatusClient
	queryID := req.QueryID
	executor.RunStatusReports(exec, interval, func() bool {
		switch exec.State() {
		case executor.Finished, executor.Cancelled, executor.Failed:
			return true
		default:
			return false
		}
	}, func(r executor.Report) {
		var profileBytes []byte
		// profile bytes are best-effort; a report is still useful
		// without them if encoding somehow fails.
		if b, err := encodeProfile(prof); err == nil {
			profileBytes = b
		}
		if err := statusClient.ReportStatus(context.Background(), addr, rpc.FromReport(queryID, r, profileBytes)); err != nil {
			s.Logger.Printf("worker: reporting status for instance %x: %v", r.InstanceID, err)
		}
	})

	return rpc.AckOK()
}

// Exec starts the prepared instance running in the background.
func (s *Server) Exec(ctx context.Context, req *rpc.InstanceRequest) *rpc.Ack {
	s.mu.Lock()
	st, ok := s.instances[req.InstanceID]
	s.mu.Unlock()
	if !ok {
		return rpc.AckErr(fmt.Errorf("worker: no prepared instance %x", req.InstanceID))
	}
	go func() {
		if err := st.exec.OpenAndExec(); err != nil {
			s.Logger.Printf("worker: instance %x exec: %v", req.InstanceID, err)
		}
		if err := st.exec.Close(); err != nil {
			s.Logger.Printf("worker: instance %x close: %v", req.InstanceID, err)
		}
		if st.hasRecv {
			s.Manager.Remove(st.recvKey)
		}
	}()
	return rpc.AckOK()
}

// Cancel requests early termination of a running or prepared instance.
func (s *Server) Cancel(ctx context.Context, req *rpc.InstanceRequest) *rpc.Ack {
	s.mu.Lock()
	st, ok := s.instances[req.InstanceID]
	s.mu.Unlock()
	if !ok {
		return rpc.AckOK() // already gone; cancel is idempotent
	}
	st.exec.Cancel()
	st.cancel()
	s.Manager.Cancel(st.queryID)
	return rpc.AckOK()
}

// TransmitBatch hands an inbound batch to the exchange manager,
// undoing whatever compression the sender applied first.
func (s *Server) TransmitBatch(ctx context.Context, req *rpc.TransmitBatchRequest) *rpc.TransmitResult {
	batch := req.Batch
	if req.Compression != "" {
		dec := compr.Decompression(req.Compression)
		if dec == nil {
			return &rpc.TransmitResult{Code: "error", Err: fmt.Sprintf("worker: unknown compression %q", req.Compression)}
		}
		raw := make([]byte, req.RawLen)
		if err := dec.Decompress(req.Batch, raw); err != nil {
			return &rpc.TransmitResult{Code: "error", Err: fmt.Sprintf("worker: decompressing batch: %v", err)}
		}
		batch = raw
	}
	err := s.Manager.Transmit(req.Key, req.SenderIdx, batch)
	switch err {
	case nil:
		return &rpc.TransmitResult{Code: "ok"}
	case exchange.ErrReceiverClosed:
		return &rpc.TransmitResult{Code: "closed"}
	case exchange.ErrQueryCancelled:
		return &rpc.TransmitResult{Code: "cancelled"}
	default:
		return &rpc.TransmitResult{Code: "error", Err: err.Error()}
	}
}

// TransmitEOS marks one sender done for the target receiver.
func (s *Server) TransmitEOS(ctx context.Context, req *rpc.TransmitEOSRequest) *rpc.Ack {
	if err := s.Manager.TransmitEndOfStream(req.Key, req.SenderIdx); err != nil {
		return rpc.AckErr(err)
	}
	return rpc.AckOK()
}

// encodeProfile serializes a profile tree as a self-contained envelope
// (symbol-table length prefix, symbol table, body), the same shape
// every rpc message uses, so a coordinator can decode it with
// wire.DecodeSymtab followed by profile.Decode without any shared
// connection-lifetime symbol state.
func encodeProfile(n *profile.Node) ([]byte, error) {
	var body wire.Buffer
	var st wire.Symtab
	n.Encode(&body, &st)
	bodyBytes := append([]byte(nil), body.Bytes()...)

	var symBuf wire.Buffer
	st.Encode(&symBuf)
	symBytes := symBuf.Bytes()

	out := make([]byte, 4+len(symBytes)+len(bodyBytes))
	binary.BigEndian.PutUint32(out[0:4], uint32(len(symBytes)))
	copy(out[4:], symBytes)
	copy(out[4+len(symBytes):], bodyBytes)
	return out, nil
}
