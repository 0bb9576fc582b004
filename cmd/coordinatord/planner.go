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

package main

import (
	"context"
	"fmt"

	"github.com/aveek0218/distribsql/coordinator"
)

// noPlanner is the stand-in for the SQL parser, semantic analyzer and
// plan-fragmentation pass: producing a typed plan from SQL text is
// explicitly out of scope here (see the package doc), so this binary
// fails every submit rather than pretend to plan anything. A real
// deployment wires queryexec.Planner to that planner instead of this
// type.
type noPlanner struct{}

func (noPlanner) Plan(ctx context.Context, sql, defaultDatabase string) ([]coordinator.FragmentSpec, error) {
	return nil, fmt.Errorf("coordinatord: no planner configured; this binary only exercises the execution substrate")
}
