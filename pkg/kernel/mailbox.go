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
	"tern.dev/tern/pkg/abi/tern"
	"tern.dev/tern/pkg/guestarch"
)

// message is one delivered IPC datagram. The payload lives in a kernel
// heap block owned by the mailbox until the message is consumed or the
// owning task dies.
type message struct {
	sender Pid
	kind   uint32

	// data is the kheap block holding the payload; 0 when n is 0.
	data guestarch.Addr
	n    uint64
}

// mailbox is a fixed-depth FIFO of delivered messages. Senders enqueue at
// the tail; only the owning task dequeues.
type mailbox struct {
	msgs [tern.MailboxSlots]message
	head int
	n    int
}

func (b *mailbox) empty() bool {
	return b.n == 0
}

func (b *mailbox) full() bool {
	return b.n == len(b.msgs)
}

// push appends m. The caller must have checked full.
func (b *mailbox) push(m message) {
	b.msgs[(b.head+b.n)%len(b.msgs)] = m
	b.n++
}

// pop removes and returns the oldest message.
func (b *mailbox) pop() (message, bool) {
	if b.n == 0 {
		return message{}, false
	}
	m := b.msgs[b.head]
	b.msgs[b.head] = message{}
	b.head = (b.head + 1) % len(b.msgs)
	b.n--
	return m, true
}
