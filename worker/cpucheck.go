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

import "golang.org/x/sys/cpu"

// HasVectorizedCodegen reports whether this host has the instruction
// set a query-compiler backend would target for its fast path
// (AVX-512, matching the one-time capability gate the real query
// engine performs at startup). The operator framework in this
// package only ever runs the scalar iterator path, so unlike that
// engine this is advisory: callers log it rather than refusing to
// start, since DisableCodegen in a submitted query's options already
// lets a client opt out of any vectorized path a future backend adds.
func HasVectorizedCodegen() bool {
	return cpu.X86.HasAVX512
}
