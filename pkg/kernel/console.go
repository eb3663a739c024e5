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

package kernel

import (
	"io"

	"tern.dev/tern/pkg/abi/tern"
	"tern.dev/tern/pkg/errors/ternerr"
	"tern.dev/tern/pkg/sync"
)

// Console is the machine's interactive device: an input buffer fed by the
// host and an output sink draining to it. The feeder runs on its own
// goroutine, so the input side is locked; everything else in the kernel is
// single-threaded.
//
// The console carries bytes, not lines. Line discipline (echo, erase) is
// the host's problem; the kernel only counts newlines so the shell can ask
// for whole lines.
type Console struct {
	mu sync.Mutex

	in    []byte
	lines int

	// intr is set when the feeder sees an interrupt byte (0x03). The
	// kernel loop consumes it at the next tick.
	intr bool

	out io.Writer
}

// NewConsole returns a console writing guest output to out. A nil out
// discards output.
func NewConsole(out io.Writer) *Console {
	if out == nil {
		out = io.Discard
	}
	return &Console{out: out}
}

// Push appends host input. An interrupt byte (ETX, 0x03) is not buffered;
// it raises the interrupt flag and drops the input typed so far.
func (c *Console) Push(p []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, b := range p {
		if b == 0x03 {
			c.intr = true
			c.in = c.in[:0]
			c.lines = 0
			continue
		}
		c.in = append(c.in, b)
		if b == '\n' {
			c.lines++
		}
	}
}

// Erase drops the last byte of pending input, if the line it belongs to is
// still unfinished. It reports whether a byte was dropped.
func (c *Console) Erase() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.in) == 0 || c.in[len(c.in)-1] == '\n' {
		return false
	}
	c.in = c.in[:len(c.in)-1]
	return true
}

// takeInterrupt consumes the pending interrupt flag.
func (c *Console) takeInterrupt() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	intr := c.intr
	c.intr = false
	return intr
}

// ReadLine pops one complete input line, without its newline. ok is false
// when no full line is buffered.
func (c *Console) ReadLine() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lines == 0 {
		return "", false
	}
	for i, b := range c.in {
		if b == '\n' {
			line := string(c.in[:i])
			c.in = append(c.in[:0], c.in[i+1:]...)
			c.lines--
			return line, true
		}
	}
	// lines counted a newline that is not there.
	panic("console: line accounting out of sync")
}

// Read drains buffered input into p. With nothing buffered it reports
// ErrWouldBlock so the caller's syscall retries after a tick.
func (c *Console) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.in) == 0 {
		return 0, ternerr.ErrWouldBlock
	}
	n := copy(p, c.in)
	for _, b := range c.in[:n] {
		if b == '\n' {
			c.lines--
		}
	}
	c.in = append(c.in[:0], c.in[n:]...)
	return n, nil
}

// Write sends p to the host sink.
func (c *Console) Write(p []byte) (int, error) {
	return c.out.Write(p)
}

// Close is a no-op; the console is shared by every task.
func (c *Console) Close() {}

// Poll implements File.Poll. The console is readable when input is
// buffered and always writable.
func (c *Console) Poll(event uint8) bool {
	switch event {
	case tern.PollRead:
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.in) > 0
	case tern.PollWrite:
		return true
	default:
		return false
	}
}

// Kind implements File.Kind.
func (c *Console) Kind() uint8 {
	return tern.KindDevice
}
