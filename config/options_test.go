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

package config

import "testing"

func TestNormalizeFillsDefaults(t *testing.T) {
	out, err := QueryOptions{}.Normalize()
	if err != nil {
		t.Fatal(err)
	}
	if out.BatchSize != 1024 {
		t.Fatalf("batch_size = %d, want 1024", out.BatchSize)
	}
	if out.MaxErrors != 100 {
		t.Fatalf("max_errors = %d, want 100", out.MaxErrors)
	}
	if out.MemLimit != 0 {
		t.Fatalf("mem_limit = %d, want 0 (unlimited)", out.MemLimit)
	}
	if out.ExplorationMode != ExplorationCore {
		t.Fatalf("exploration_mode = %q, want core", out.ExplorationMode)
	}
}

func TestNormalizeRejectsNegativeMemLimit(t *testing.T) {
	_, err := QueryOptions{MemLimit: -1}.Normalize()
	if err == nil {
		t.Fatal("expected error for negative mem_limit")
	}
}

func TestNormalizeRejectsUnknownExplorationMode(t *testing.T) {
	_, err := QueryOptions{ExplorationMode: "bogus"}.Normalize()
	if err == nil {
		t.Fatal("expected error for unknown exploration_mode")
	}
}

func TestNormalizeRejectsUnknownCompression(t *testing.T) {
	_, err := QueryOptions{Compression: "lz4"}.Normalize()
	if err == nil {
		t.Fatal("expected error for unknown compression")
	}
}

func TestNormalizeAcceptsKnownCompression(t *testing.T) {
	out, err := QueryOptions{Compression: "zstd"}.Normalize()
	if err != nil {
		t.Fatal(err)
	}
	if out.Compression != "zstd" {
		t.Fatalf("compression = %q, want zstd", out.Compression)
	}
}

func TestNormalizePreservesExplicitValues(t *testing.T) {
	out, err := QueryOptions{BatchSize: 4096, MaxErrors: 5}.Normalize()
	if err != nil {
		t.Fatal(err)
	}
	if out.BatchSize != 4096 || out.MaxErrors != 5 {
		t.Fatalf("explicit values were overridden: %+v", out)
	}
}
