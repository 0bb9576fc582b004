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

// Package status carries the fatal-error taxonomy that propagates
// from a fragment instance, through the coordinator, to the client.
package status

import "fmt"

// Code is a coarse, client-visible exit status for a query.
type Code int

const (
	// OK indicates the query completed successfully.
	OK Code = iota
	// Cancelled indicates the client or coordinator cancelled the query.
	Cancelled
	// MemLimitExceeded indicates a memory tracker's budget was exceeded.
	MemLimitExceeded
	// InternalError indicates an unexpected invariant violation, a
	// worker disappearance, or exhausted transport retries.
	InternalError
	// TimedOut indicates a client-facing timeout (idle, fetch) fired.
	TimedOut
	// NotAuthorized indicates the session lacked permission to run the query.
	NotAuthorized
	// AdmissionDenied indicates the resource broker refused to grant a reservation.
	AdmissionDenied
	// ResourcePreempted indicates the resource broker revoked a grant mid-query.
	ResourcePreempted
)

func (c Code) String() string {
	switch c {
	case OK:
		return "ok"
	case Cancelled:
		return "cancelled"
	case MemLimitExceeded:
		return "mem_limit_exceeded"
	case InternalError:
		return "internal_error"
	case TimedOut:
		return "timed_out"
	case NotAuthorized:
		return "not_authorized"
	case AdmissionDenied:
		return "admission_denied"
	case ResourcePreempted:
		return "resource_preempted"
	default:
		return fmt.Sprintf("status(%d)", int(c))
	}
}

// Class categorizes how an error should propagate, per the error
// taxonomy: a RecoverableTransient error is retried locally and never
// observed outside the component that hit it; every other class is
// latched as the query's definitive status somewhere up the chain.
type Class int

const (
	// RecoverableTransient is retried by the caller up to a bound;
	// it never reaches the query status unless retries are exhausted.
	RecoverableTransient Class = iota
	// QueryFatal is latched into the query status and cancels every instance.
	QueryFatal
	// InstanceFatal is promoted to QueryFatal on the first status report that carries it.
	InstanceFatal
	// UserCancel is QueryFatal-equivalent but carries a dedicated code and no error-log line.
	UserCancel
)

// Status is a fallible operation's result: either OK, or an error
// tagged with the propagation Class and client-visible Code it implies.
type Status struct {
	Code  Code
	Class Class
	Err   error
}

// Ok is the zero-cost success status.
var Ok = Status{Code: OK}

// IsOK reports whether s represents success.
func (s Status) IsOK() bool { return s.Code == OK && s.Err == nil }

func (s Status) Error() string {
	if s.Err == nil {
		return s.Code.String()
	}
	return fmt.Sprintf("%s: %s", s.Code, s.Err)
}

// New builds a fatal-by-default Status wrapping err under code.
func New(code Code, class Class, err error) Status {
	return Status{Code: code, Class: class, Err: err}
}

// Transient builds a RecoverableTransient status; it carries no
// client-visible code because, by construction, the caller retries
// before it can ever reach a client.
func Transient(err error) Status {
	return Status{Code: InternalError, Class: RecoverableTransient, Err: err}
}

// MemLimit builds the status reported when a memory tracker's
// try_consume overshoots its budget; label names the offending tracker.
func MemLimit(label string, requested, limit int64) Status {
	return New(MemLimitExceeded, QueryFatal,
		fmt.Errorf("tracker %q: requested %d bytes exceeds limit %d", label, requested, limit))
}

// Cancel builds the status reported when a query is cancelled by the client.
func Cancel(reason string) Status {
	return Status{Code: Cancelled, Class: UserCancel, Err: fmt.Errorf("cancelled: %s", reason)}
}

// Internal builds a QueryFatal internal-error status.
func Internal(err error) Status {
	return New(InternalError, QueryFatal, err)
}

// Log accumulates distinct error lines up to a configured maximum,
// matching the coordinator's "error log" in the error-handling design:
// the first error observed is latched as the definitive status and
// every subsequent distinct line is appended here, up to MaxLines.
type Log struct {
	MaxLines int
	lines    []string
	seen     map[string]bool
}

// Append adds line to the log if it is new and the log has not
// reached MaxLines. It reports whether the line was recorded.
func (l *Log) Append(line string) bool {
	if l.MaxLines <= 0 {
		l.MaxLines = 100
	}
	if l.seen == nil {
		l.seen = make(map[string]bool)
	}
	if l.seen[line] || len(l.lines) >= l.MaxLines {
		return false
	}
	l.seen[line] = true
	l.lines = append(l.lines, line)
	return true
}

// Lines returns the accumulated, deduplicated error lines in arrival order.
func (l *Log) Lines() []string {
	out := make([]string, len(l.lines))
	copy(out, l.lines)
	return out
}

// Latch holds the first fatal status observed by a coordinator or
// instance and accumulates every subsequent distinct error line,
// matching the "first-error wins" rule of the error handling design.
type Latch struct {
	status Status
	latent bool
	Log    Log
}

// Set latches st as the definitive status if nothing has been
// latched yet; otherwise it appends st's message to the error log.
// It reports whether this call performed the latching.
func (l *Latch) Set(st Status) bool {
	if st.IsOK() {
		return false
	}
	if !l.latent {
		l.status = st
		l.latent = true
		l.Log.Append(st.Error())
		return true
	}
	l.Log.Append(st.Error())
	return false
}

// Get returns the latched status, or Ok if nothing has latched yet.
func (l *Latch) Get() Status {
	if !l.latent {
		return Ok
	}
	return l.status
}

// Latched reports whether a fatal status has been latched.
func (l *Latch) Latched() bool { return l.latent }
