// Copyright 2026 The Tern Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metric

import (
	"strings"
	"testing"

	"tern.dev/tern/pkg/prometheus"
)

func TestCounter(t *testing.T) {
	m := MustCreateNewUint64Metric("/test/counter", "A test counter.")
	if got := m.Value(); got != 0 {
		t.Fatalf("fresh counter reads %d", got)
	}
	m.Increment()
	m.Increment()
	m.IncrementBy(40)
	if got := m.Value(); got != 42 {
		t.Errorf("counter reads %d, want 42", got)
	}
}

func TestRegistrationErrors(t *testing.T) {
	if _, err := NewUint64Metric("/test/dup", "first"); err != nil {
		t.Fatalf("first registration: %v", err)
	}
	if _, err := NewUint64Metric("/test/dup", "second"); err == nil {
		t.Error("duplicate registration succeeded")
	}
	if _, err := NewUint64Metric("no/leading/slash", "bad"); err == nil {
		t.Error("slashless name accepted")
	}
}

func TestExportName(t *testing.T) {
	for _, tc := range []struct {
		name string
		want string
	}{
		{"/tern/ticks", "tern_ticks"},
		{"/tern/context_switches", "tern_context_switches"},
		{"/a/b/c", "a_b_c"},
	} {
		if got := exportName(tc.name); got != tc.want {
			t.Errorf("exportName(%q) = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestSnapshot(t *testing.T) {
	m := MustCreateNewUint64Metric("/test/snapshot/value", "Snapshot test metric.")
	m.IncrementBy(7)

	snapshot := Snapshot()
	var found *prometheus.Data
	for _, d := range snapshot.Data {
		if d.Metric.Name == "test_snapshot_value" {
			found = d
		}
	}
	if found == nil {
		t.Fatal("registered metric missing from snapshot")
	}
	if found.Metric.Type != prometheus.TypeCounter {
		t.Errorf("snapshot type %v, want counter", found.Metric.Type)
	}
	if found.Number.Int != 7 {
		t.Errorf("snapshot value %d, want 7", found.Number.Int)
	}

	var sb strings.Builder
	if _, err := prometheus.Write(&sb, prometheus.ExportOptions{}, snapshot, prometheus.SnapshotExportOptions{}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !strings.Contains(sb.String(), "test_snapshot_value 7 ") {
		t.Errorf("exposition output missing value line:\n%s", sb.String())
	}
}
