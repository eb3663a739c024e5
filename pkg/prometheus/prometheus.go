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

// Package prometheus holds metric snapshots and writes them in the
// Prometheus text exposition format, documented at
// https://prometheus.io/docs/instrumenting/exposition_formats/
package prometheus

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"time"
)

// timeNow is time.Now, swappable in tests.
var timeNow = time.Now

// Type is a Prometheus metric type.
type Type int

// Supported metric types.
const (
	TypeUntyped = Type(iota)
	TypeGauge
	TypeCounter
)

// Metric is Prometheus metric metadata.
type Metric struct {
	// Name is the Prometheus metric name.
	Name string `json:"name"`

	// Type is the type of the metric.
	Type Type `json:"type"`

	// Help is an optional one-line description.
	Help string `json:"help"`
}

// writeHeaderTo writes the HELP and TYPE comment lines.
func (m *Metric) writeHeaderTo(w io.Writer, options SnapshotExportOptions) error {
	if m.Help != "" {
		// Only backslashes and line breaks need escaping in help text.
		help := strings.ReplaceAll(strings.ReplaceAll(m.Help, "\\", "\\\\"), "\n", "\\n")
		if _, err := fmt.Fprintf(w, "# HELP %s%s %s\n", options.ExporterPrefix, m.Name, help); err != nil {
			return err
		}
	}
	var metricType string
	switch m.Type {
	case TypeGauge:
		metricType = "gauge"
	case TypeCounter:
		metricType = "counter"
	case TypeUntyped:
		metricType = "untyped"
	}
	if metricType != "" {
		if _, err := fmt.Fprintf(w, "# TYPE %s%s %s\n", options.ExporterPrefix, m.Name, metricType); err != nil {
			return err
		}
	}
	return nil
}

// Number is a numerical metric value. Prometheus has only float64s on the
// wire, but counters are exact integers until export, so both forms are
// carried and at most one is nonzero.
type Number struct {
	// Float is the floating-point value. Mutually exclusive with Int.
	Float float64 `json:"float,omitempty"`

	// Int is the integer value. Mutually exclusive with Float.
	Int int64 `json:"int,omitempty"`
}

// IsInteger returns whether the number carries an integer value.
func (n *Number) IsInteger() bool {
	if n.Float == 0 {
		return true
	}
	if math.IsNaN(n.Float) || math.IsInf(n.Float, 0) {
		return false
	}
	return math.Round(n.Float) == n.Float
}

// String implements fmt.Stringer.String.
func (n *Number) String() string {
	var s strings.Builder
	if err := n.writeTo(&s); err != nil {
		panic(err)
	}
	return s.String()
}

// writeTo writes the number in exposition form.
func (n *Number) writeTo(w io.Writer) error {
	var s string
	switch {
	case n.Int == 0 && n.Float == 0:
		s = "0"
	case n.Int != 0:
		s = fmt.Sprintf("%d", n.Int)
	case n.Float == math.Inf(-1):
		s = "-Inf"
	case n.Float == math.Inf(1):
		s = "+Inf"
	case math.IsNaN(n.Float):
		s = "NaN"
	default:
		s = fmt.Sprintf("%f", n.Float)
	}
	_, err := io.WriteString(w, s)
	return err
}

// Data is one observation of one metric.
type Data struct {
	// Metric is the metric the value belongs to.
	Metric *Metric `json:"metric"`

	// Labels are the label pairs of this observation. They may be merged
	// with export-time labels.
	Labels map[string]string `json:"labels,omitempty"`

	// Number is the observed value.
	Number *Number `json:"val,omitempty"`
}

// NewIntData returns a Data carrying an integer value.
func NewIntData(metric *Metric, val int64) *Data {
	return &Data{Metric: metric, Number: &Number{Int: val}}
}

// NewFloatData returns a Data carrying a float value.
func NewFloatData(metric *Metric, val float64) *Data {
	return &Data{Metric: metric, Number: &Number{Float: val}}
}

// LabeledIntData returns a Data carrying an integer value with labels.
func LabeledIntData(metric *Metric, labels map[string]string, val int64) *Data {
	return &Data{Metric: metric, Labels: labels, Number: &Number{Int: val}}
}

// ExportOptions controls a Write call.
type ExportOptions struct {
	// CommentHeader is written as a comment block before any data.
	CommentHeader string
}

// SnapshotExportOptions controls how one snapshot's data is written.
type SnapshotExportOptions struct {
	// ExporterPrefix is prepended to every metric name.
	ExporterPrefix string

	// ExtraLabels are added to every value line.
	ExtraLabels map[string]string
}

// orderedLabels renders merged label maps as sorted key="value" strings.
func orderedLabels(labels ...map[string]string) ([]string, error) {
	seen := make(map[string]struct{})
	var ordered []string
	for _, labelMap := range labels {
		for k, v := range labelMap {
			if _, dup := seen[k]; dup {
				return nil, fmt.Errorf("duplicate label name %q", k)
			}
			seen[k] = struct{}{}
			ordered = append(ordered, fmt.Sprintf("%s=%q", k, v))
		}
	}
	sort.Strings(ordered)
	return ordered, nil
}

// writeTo writes one exposition line for the observation.
func (d *Data) writeTo(w io.Writer, when time.Time, options SnapshotExportOptions, metricsWritten map[string]bool) error {
	if !metricsWritten[options.ExporterPrefix+d.Metric.Name] {
		// A blank line between metric blocks keeps the output readable.
		if _, err := io.WriteString(w, "\n"); err != nil {
			return err
		}
		if err := d.Metric.writeHeaderTo(w, options); err != nil {
			return err
		}
		metricsWritten[options.ExporterPrefix+d.Metric.Name] = true
	}
	if _, err := io.WriteString(w, options.ExporterPrefix+d.Metric.Name); err != nil {
		return err
	}
	if len(d.Labels) != 0 || len(options.ExtraLabels) != 0 {
		labels, err := orderedLabels(d.Labels, options.ExtraLabels)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "{%s}", strings.Join(labels, ",")); err != nil {
			return err
		}
	}
	if _, err := io.WriteString(w, " "); err != nil {
		return err
	}
	if err := d.Number.writeTo(w); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, " %d\n", when.UnixMilli())
	return err
}

// Snapshot is the values of a set of metrics at one point in time.
type Snapshot struct {
	// When is the observation timestamp. Prometheus encodes it with
	// millisecond precision.
	When time.Time `json:"when,omitempty"`

	// Data is the observations; each (Metric, Labels) pair is unique.
	Data []*Data `json:"data,omitempty"`
}

// NewSnapshot returns an empty snapshot stamped with the current time.
func NewSnapshot() *Snapshot {
	return &Snapshot{When: timeNow()}
}

// Add appends observations and returns the snapshot for chaining.
func (s *Snapshot) Add(data ...*Data) *Snapshot {
	s.Data = append(s.Data, data...)
	return s
}

// countingWriter tracks bytes written so Write can report a total without
// plumbing counts through every helper.
type countingWriter struct {
	w       *bufio.Writer
	written int
}

// Write implements io.Writer.Write.
func (w *countingWriter) Write(b []byte) (int, error) {
	n, err := w.w.Write(b)
	w.written += n
	return n, err
}

// Written returns the bytes that reached the underlying writer.
func (w *countingWriter) Written() int {
	return w.written - w.w.Buffered()
}

// Write writes the snapshot in exposition format. Metrics are ordered by
// exported name so output is stable. It returns the number of bytes
// written.
func Write(w io.Writer, options ExportOptions, snapshot *Snapshot, sopts SnapshotExportOptions) (int, error) {
	cw := &countingWriter{w: bufio.NewWriter(w)}

	if options.CommentHeader != "" {
		for _, line := range strings.Split(options.CommentHeader, "\n") {
			if _, err := fmt.Fprintf(cw, "# %s\n", line); err != nil {
				return cw.Written(), err
			}
		}
	}
	if _, err := fmt.Fprintf(cw, "# Snapshot containing %d data points taken at %v.\n", len(snapshot.Data), snapshot.When); err != nil {
		return cw.Written(), err
	}

	ordered := make([]*Data, len(snapshot.Data))
	copy(ordered, snapshot.Data)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Metric.Name < ordered[j].Metric.Name
	})

	metricsWritten := make(map[string]bool)
	for _, d := range ordered {
		if err := d.writeTo(cw, snapshot.When, sopts, metricsWritten); err != nil {
			return cw.Written(), err
		}
	}
	if _, err := io.WriteString(cw, "\n# End of metric data.\n"); err != nil {
		return cw.Written(), err
	}
	if err := cw.w.Flush(); err != nil {
		return cw.Written(), err
	}
	return cw.Written(), nil
}
