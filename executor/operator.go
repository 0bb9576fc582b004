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

// Package executor drives one operator tree on one worker through the
// prepare/open/pull/close lifecycle and reports progress to the
// coordinator on a periodic interval.
package executor

import (
	"context"

	"github.com/aveek0218/distribsql/memtrack"
	"github.com/aveek0218/distribsql/profile"
	"github.com/aveek0218/distribsql/rowbatch"
)

// Runtime is the set of per-instance resources an operator needs at
// every lifecycle stage: its memory tracker, its profile node, and
// the cancellation signal it must check at every blocking point.
type Runtime struct {
	Context context.Context
	Tracker *memtrack.Tracker
	Profile *profile.Node
}

// Operator is the iterator contract every plan-node kind implements.
// Prepare allocates from the tracker, compiles predicates, and
// resolves schema offsets; it must not produce rows. Open is where
// blocking operators (aggregate, sort, hash-join build side) consume
// their entire input; non-blocking operators open their children.
// GetNext fills batch with the next rows; when eos is true the batch
// may still carry the operator's final rows. Close runs exactly once
// and must release all memory even on the error path.
type Operator interface {
	Prepare(rt *Runtime) error
	Open(rt *Runtime) error
	GetNext(rt *Runtime, batch *rowbatch.Batch) (eos bool, err error)
	Close() error

	// OutputSchema returns the schema of the batches GetNext fills,
	// resolved no later than Prepare returns.
	OutputSchema() *rowbatch.Schema
}

// Sink is the terminal component of a fragment: it receives the
// batches the root operator produces.
type Sink interface {
	Send(rt *Runtime, batch *rowbatch.Batch) error
	Close() error
}
