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

// Package metric is the kernel's metric registry. Metrics are registered
// at init time under slash-separated names ("/tern/ticks") and exported as
// a Prometheus snapshot on demand.
package metric

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"tern.dev/tern/pkg/prometheus"
)

// registry holds every registered metric, keyed by name. Registration
// happens from init functions; reads happen at export time.
var registry = struct {
	mu      sync.Mutex
	metrics map[string]*Uint64Metric
}{
	metrics: map[string]*Uint64Metric{},
}

// Uint64Metric is a monotonic counter. Increments may come from any
// goroutine.
type Uint64Metric struct {
	name        string
	description string
	value       atomic.Uint64
}

// NewUint64Metric registers a counter. The name must start with a slash
// and be unique within the process.
func NewUint64Metric(name, description string) (*Uint64Metric, error) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if !strings.HasPrefix(name, "/") {
		return nil, fmt.Errorf("metric name %q does not start with a slash", name)
	}
	if _, dup := registry.metrics[name]; dup {
		return nil, fmt.Errorf("metric %q already registered", name)
	}
	m := &Uint64Metric{name: name, description: description}
	registry.metrics[name] = m
	return m, nil
}

// MustCreateNewUint64Metric is NewUint64Metric for init-time registration;
// it panics on error.
func MustCreateNewUint64Metric(name, description string) *Uint64Metric {
	m, err := NewUint64Metric(name, description)
	if err != nil {
		panic(fmt.Sprintf("generating metric %q: %v", name, err))
	}
	return m
}

// Name returns the metric's registered name.
func (m *Uint64Metric) Name() string {
	return m.name
}

// Value returns the current value.
func (m *Uint64Metric) Value() uint64 {
	return m.value.Load()
}

// Increment adds one.
func (m *Uint64Metric) Increment() {
	m.value.Add(1)
}

// IncrementBy adds v.
func (m *Uint64Metric) IncrementBy(v uint64) {
	m.value.Add(v)
}

// exportName flattens a registered name into a Prometheus-safe one:
// "/tern/ticks" becomes "tern_ticks".
func exportName(name string) string {
	return strings.ReplaceAll(strings.TrimPrefix(name, "/"), "/", "_")
}

// Snapshot captures every registered metric as Prometheus counter data.
func Snapshot() *prometheus.Snapshot {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	names := make([]string, 0, len(registry.metrics))
	for name := range registry.metrics {
		names = append(names, name)
	}
	sort.Strings(names)

	snapshot := prometheus.NewSnapshot()
	for _, name := range names {
		m := registry.metrics[name]
		snapshot.Add(prometheus.NewIntData(&prometheus.Metric{
			Name: exportName(name),
			Type: prometheus.TypeCounter,
			Help: m.description,
		}, int64(m.Value())))
	}
	return snapshot
}
