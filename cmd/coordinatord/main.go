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

// Command coordinatord runs the client-facing query coordinator: it
// accepts submit/wait/fetch/close/cancel session calls, schedules and
// dispatches fragments to a worker fleet, and embeds a worker of its
// own (at the same RPC address) to run ExecAtCoord root fragment
// instances and deliver their rows into the client-fetch buffer.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"strings"

	"github.com/aveek0218/distribsql/coordinator"
	"github.com/aveek0218/distribsql/exchange"
	"github.com/aveek0218/distribsql/memtrack"
	"github.com/aveek0218/distribsql/queryexec"
	"github.com/aveek0218/distribsql/rpc"
	"github.com/aveek0218/distribsql/scheduler"
	"github.com/aveek0218/distribsql/worker"
)

var version = "development"

func main() {
	workerAddr := flag.String("l", ":7500", "this coordinator's own worker-rpc listen address (used for the ExecAtCoord root fragment)")
	sessionAddr := flag.String("session", ":7600", "client session RPC listen address")
	statusAddr := flag.String("status", ":7700", "status-report RPC listen address")
	backendsFlag := flag.String("backends", "", "comma-separated worker addresses")
	memLimit := flag.Int64("mem-limit", 0, "process-wide memory tracker limit in bytes (0 = unlimited)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	logger := log.New(os.Stdout, "coordinatord: ", log.LstdFlags)

	var backends []string
	if *backendsFlag != "" {
		backends = strings.Split(*backendsFlag, ",")
	}

	sched := scheduler.New(*workerAddr)
	sched.SetBackends(backends)

	workerClient := &rpc.NetWorkerClient{}
	coord := coordinator.New(*statusAddr, sched, workerClient, logger)

	mgr := queryexec.NewManager(coord, noPlanner{}, logger)
	defer mgr.StopReaping()

	exchMgr := exchange.NewManager()
	root := memtrack.NewRoot("coordinatord", *memLimit)
	statusClient := &rpc.NetStatusReportClient{}
	localWorker := worker.NewServer(*workerAddr, exchMgr, workerClient, statusClient, root, logger)
	localWorker.ResultSink = mgr.ResultSink

	if !worker.HasVectorizedCodegen() {
		logger.Printf("host lacks AVX-512; the embedded root-fragment worker runs without a vectorized codegen fast path")
	}

	workerLn, err := net.Listen("tcp", *workerAddr)
	if err != nil {
		logger.Fatalf("listening on %s: %v", *workerAddr, err)
	}
	statusLn, err := net.Listen("tcp", *statusAddr)
	if err != nil {
		logger.Fatalf("listening on %s: %v", *statusAddr, err)
	}
	sessionLn, err := net.Listen("tcp", *sessionAddr)
	if err != nil {
		logger.Fatalf("listening on %s: %v", *sessionAddr, err)
	}

	ctx := context.Background()
	errs := make(chan error, 3)
	go func() { errs <- rpc.ServeWorker(ctx, workerLn, localWorker) }()
	go func() { errs <- rpc.ServeStatusReports(ctx, statusLn, coord) }()
	go func() { errs <- rpc.ServeSession(ctx, sessionLn, mgr) }()

	logger.Printf("worker-rpc on %s, status-reports on %s, sessions on %s, backends=%v",
		*workerAddr, *statusAddr, *sessionAddr, backends)

	logger.Fatal(<-errs)
}
