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

// Command workerd runs the per-node fragment executor: it accepts
// prepare/exec/cancel/transmit RPCs from a coordinator and runs the
// resulting operator trees, reporting status back on the address it
// is told at prepare time.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"

	"github.com/aveek0218/distribsql/exchange"
	"github.com/aveek0218/distribsql/memtrack"
	"github.com/aveek0218/distribsql/rpc"
	"github.com/aveek0218/distribsql/worker"
)

var version = "development"

func main() {
	listenAddr := flag.String("l", ":7500", "worker RPC listen address")
	advertiseAddr := flag.String("advertise", "", "address this worker advertises to the coordinator (defaults to -l)")
	memLimit := flag.Int64("mem-limit", 0, "process-wide memory tracker limit in bytes (0 = unlimited)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	addr := *advertiseAddr
	if addr == "" {
		addr = *listenAddr
	}

	logger := log.New(os.Stdout, "workerd: ", log.LstdFlags)

	ln, err := net.Listen("tcp", *listenAddr)
	if err != nil {
		logger.Fatalf("listening on %s: %v", *listenAddr, err)
	}

	mgr := exchange.NewManager()
	root := memtrack.NewRoot("workerd", *memLimit)
	workerClient := &rpc.NetWorkerClient{}
	statusClient := &rpc.NetStatusReportClient{}

	srv := worker.NewServer(addr, mgr, workerClient, statusClient, root, logger)

	if !worker.HasVectorizedCodegen() {
		logger.Printf("host lacks AVX-512; running without a vectorized codegen fast path")
	}
	logger.Printf("listening on %s (advertising %s)", *listenAddr, addr)
	if err := rpc.ServeWorker(context.Background(), ln, srv); err != nil {
		logger.Fatalf("serving: %v", err)
	}
}
