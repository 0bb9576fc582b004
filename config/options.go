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

// Package config holds the per-query options a client can set at submit
// time and the per-process membership configuration loaded at start-up.
package config

import "fmt"

// ExplorationMode controls the planner's search breadth. It is
// testing-only: production queries always run in "core".
type ExplorationMode string

const (
	ExplorationCore      ExplorationMode = "core"
	ExplorationPairwise  ExplorationMode = "pairwise"
	ExplorationExhaustive ExplorationMode = "exhaustive"
)

// QueryOptions is the enumerated set of knobs a client may set on submit.
// Zero values are replaced by their documented defaults in Normalize.
type QueryOptions struct {
	BatchSize                 int             `json:"batch_size,omitempty"`
	MaxErrors                 int             `json:"max_errors,omitempty"`
	DisableCodegen            bool            `json:"disable_codegen,omitempty"`
	MemLimit                  int64           `json:"mem_limit,omitempty"`
	ExplorationMode           ExplorationMode `json:"exploration_mode,omitempty"`
	ExchangeReceiveBufferBytes int64          `json:"exchange_receive_buffer_bytes,omitempty"`
	StatusReportIntervalMs    int64           `json:"status_report_interval_ms,omitempty"`
	IdleQueryTimeoutS         int64           `json:"idle_query_timeout_s,omitempty"`
	// Compression names the algorithm used to compress batches sent
	// over the worker-to-worker exchange transport: "" (none), "s2",
	// "zstd", or "zstd-better". Leave unset for small local clusters
	// where the CPU cost outweighs the network savings.
	Compression string `json:"compression,omitempty"`
}

// Defaults returns the documented default options.
func Defaults() QueryOptions {
	return QueryOptions{
		BatchSize:                  1024,
		MaxErrors:                  100,
		MemLimit:                   0,
		ExplorationMode:            ExplorationCore,
		ExchangeReceiveBufferBytes: 10 * 1024 * 1024,
		StatusReportIntervalMs:     1000,
		IdleQueryTimeoutS:          0,
	}
}

// Normalize fills zero-valued fields in o with defaults and validates
// the fields that have a documented lower bound. It returns a new
// QueryOptions; o is not modified.
func (o QueryOptions) Normalize() (QueryOptions, error) {
	out := o
	def := Defaults()
	if out.BatchSize == 0 {
		out.BatchSize = def.BatchSize
	} else if out.BatchSize < 0 {
		return out, fmt.Errorf("config: batch_size must be positive, got %d", out.BatchSize)
	}
	if out.MaxErrors == 0 {
		out.MaxErrors = def.MaxErrors
	} else if out.MaxErrors < 1 {
		return out, fmt.Errorf("config: max_errors must be >= 1, got %d", out.MaxErrors)
	}
	if out.MemLimit < 0 {
		return out, fmt.Errorf("config: mem_limit cannot be negative, got %d", out.MemLimit)
	}
	if out.ExplorationMode == "" {
		out.ExplorationMode = def.ExplorationMode
	}
	switch out.ExplorationMode {
	case ExplorationCore, ExplorationPairwise, ExplorationExhaustive:
	default:
		return out, fmt.Errorf("config: unknown exploration_mode %q", out.ExplorationMode)
	}
	if out.ExchangeReceiveBufferBytes == 0 {
		out.ExchangeReceiveBufferBytes = def.ExchangeReceiveBufferBytes
	} else if out.ExchangeReceiveBufferBytes < 0 {
		return out, fmt.Errorf("config: exchange_receive_buffer_bytes cannot be negative")
	}
	if out.StatusReportIntervalMs == 0 {
		out.StatusReportIntervalMs = def.StatusReportIntervalMs
	} else if out.StatusReportIntervalMs < 0 {
		return out, fmt.Errorf("config: status_report_interval_ms cannot be negative")
	}
	if out.IdleQueryTimeoutS < 0 {
		return out, fmt.Errorf("config: idle_query_timeout_s cannot be negative")
	}
	switch out.Compression {
	case "", "s2", "zstd", "zstd-better":
	default:
		return out, fmt.Errorf("config: unknown compression %q", out.Compression)
	}
	return out, nil
}
