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

package executor

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/aveek0218/distribsql/execid"
	"github.com/aveek0218/distribsql/rowbatch"
	"github.com/aveek0218/distribsql/status"
)

// State is a point in the fragment-instance lifecycle.
type State int

const (
	Created State = iota
	Prepared
	Running
	Finished
	Cancelled
	Failed
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Prepared:
		return "prepared"
	case Running:
		return "running"
	case Finished:
		return "finished"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Report is the packet a status-reporting goroutine sends to the
// coordinator: current status and the error log lines accumulated
// since the previous report. The instance profile is not part of
// Report; the emit callback attaches it.
type Report struct {
	InstanceID    execid.InstanceID
	State         State
	Status        status.Status
	NewErrorLines []string
	Done          bool
}

// Executor drives one plan fragment instance from prepare through
// close. The zero value is not usable; construct with New.
type Executor struct {
	instanceID execid.InstanceID
	rt         *Runtime
	root       Operator
	sink       Sink
	batchSize  int

	mu       sync.Mutex
	state    State
	latch    status.Latch
	reported int // index into latch.Log already delivered in a report

	cancelFlag atomic.Bool
	closeOnce  sync.Once
}

// New constructs a created-state executor for one fragment instance.
func New(instanceID execid.InstanceID, rt *Runtime, root Operator, sink Sink, batchSize int) *Executor {
	if batchSize <= 0 {
		batchSize = rowbatch.DefaultBatchSize
	}
	return &Executor{instanceID: instanceID, rt: rt, root: root, sink: sink, batchSize: batchSize, state: Created}
}

// State returns the executor's current lifecycle state.
func (e *Executor) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Executor) transition(to State) {
	e.mu.Lock()
	e.state = to
	e.mu.Unlock()
}

func (e *Executor) fail(st status.Status) {
	e.latch.Set(st)
	e.transition(Failed)
	e.Cancel()
}

// Prepare constructs the runtime state for the operator tree: it must
// return before any row is produced.
func (e *Executor) Prepare() error {
	if err := e.root.Prepare(e.rt); err != nil {
		e.fail(status.Internal(err))
		return err
	}
	e.transition(Prepared)
	return nil
}

// OpenAndExec opens the sink, then repeatedly pulls a batch from the
// root operator and sends it to the sink until the root signals eos,
// an error occurs, or cancellation is observed.
func (e *Executor) OpenAndExec() error {
	e.transition(Running)
	if err := e.root.Open(e.rt); err != nil {
		e.fail(status.Internal(err))
		return err
	}
	for {
		if e.cancelFlag.Load() {
			e.latch.Set(status.Cancel("fragment instance cancelled"))
			e.transition(Cancelled)
			return nil
		}
		batch := rowbatch.NewBatch(e.root.OutputSchema(), e.batchSize, 0)
		eos, err := e.root.GetNext(e.rt, batch)
		if err != nil {
			e.fail(status.Internal(err))
			return err
		}
		if batch.Count() > 0 {
			if err := e.sink.Send(e.rt, batch); err != nil {
				e.fail(status.Internal(err))
				return err
			}
		}
		if eos {
			e.transition(Finished)
			return nil
		}
	}
}

// Cancel sets a flag checked at every batch boundary and inside
// blocking waits. It is idempotent.
func (e *Executor) Cancel() {
	e.cancelFlag.Store(true)
}

// Cancelled reports whether Cancel has been called.
func (e *Executor) Cancelled() bool { return e.cancelFlag.Load() }

// Close runs once, closing the operator tree bottom-up (delegated to
// the root operator's own Close, which is responsible for recursing
// into its children) and the sink, releasing memory trackers on every
// path including error.
func (e *Executor) Close() error {
	var err error
	e.closeOnce.Do(func() {
		err = e.root.Close()
		if serr := e.sink.Close(); serr != nil && err == nil {
			err = serr
		}
	})
	return err
}

// Latched returns the first fatal status latched against this
// instance, if any.
func (e *Executor) Latched() status.Status { return e.latch.Get() }

// nextReport produces a Report reflecting the executor's current
// state, draining any error-log lines not yet delivered in a prior
// report.
func (e *Executor) nextReport(done bool) Report {
	e.mu.Lock()
	st := e.state
	e.mu.Unlock()

	lines := e.latch.Log.Lines()
	var fresh []string
	if e.reported < len(lines) {
		fresh = append(fresh, lines[e.reported:]...)
		e.reported = len(lines)
	}
	return Report{
		InstanceID:    e.instanceID,
		State:         st,
		Status:        e.latch.Get(),
		NewErrorLines: fresh,
		Done:          done,
	}
}

// RunStatusReports starts a goroutine that sends a Report to emit on
// every interval tick. isDone is polled only on a tick: on the first
// tick at which it reports true, that tick's Report carries Done and
// the goroutine returns, so the final report follows termination by
// up to one interval. It runs from right after Prepare for the
// lifetime of the instance.
func RunStatusReports(e *Executor, interval time.Duration, isDone func() bool, emit func(Report)) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			<-ticker.C
			done := isDone()
			emit(e.nextReport(done))
			if done {
				return
			}
		}
	}()
}
