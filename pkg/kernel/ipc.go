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
	"tern.dev/tern/pkg/errors/ternerr"
	"tern.dev/tern/pkg/guestarch"
	"tern.dev/tern/pkg/log"
)

// IPC is asymmetric: SEND never blocks and RECV always delivers or parks.
// A sender that cannot deliver learns why immediately; a receiver with an
// empty mailbox leaves the run queue until a sender's delivery completes
// its syscall. Waking a receiver and enqueueing its message are one step,
// so a woken task always finds its message already delivered.

// Send delivers payload to the mailbox of to. It never blocks: oversize
// payloads, missing peers and full mailboxes fail the send and leave the
// sender running.
func (k *Kernel) Send(from, to Pid, kind uint32, payload []byte) error {
	if uint64(len(payload)) > tern.MaxMessageBytes {
		return ternerr.ErrMessageTooLong
	}
	dst := k.Task(to)
	if dst == nil || dst.state == TaskTerminated {
		return ternerr.ErrNoProcess
	}
	if dst.box.full() {
		return ternerr.ErrMailboxFull
	}

	m := message{sender: from, kind: kind, n: uint64(len(payload))}
	if len(payload) > 0 {
		addr, err := k.heap.Alloc(uint64(len(payload)))
		if err != nil {
			return err
		}
		k.heap.WriteBytes(addr, payload)
		m.data = addr
	}
	dst.box.push(m)
	messageCount.Increment()

	if dst.state == TaskBlocked {
		k.completeRecv(dst)
	}
	return nil
}

// Receive services RECV for the running task: it consumes the oldest
// message now, or parks the task until a sender delivers. The parked
// case returns with the task TaskBlocked and no result; delivery writes
// the result into the saved registers before the task next runs.
func (k *Kernel) Receive(t *Task, buf guestarch.Addr, bufLen uint64, lenPtr, kindPtr guestarch.Addr) (uint64, error) {
	a := recvArgs{buf: buf, bufLen: bufLen, lenPtr: lenPtr, kindPtr: kindPtr}
	if m, ok := t.box.pop(); ok {
		return k.deliver(t, m, a)
	}
	t.recv = a
	t.state = TaskBlocked
	return 0, nil
}

// completeRecv finishes the RECV a blocked task parked on. It runs in the
// sender's context; the receiver's saved RAX carries the result when the
// scheduler next elects it.
func (k *Kernel) completeRecv(t *Task) {
	m, ok := t.box.pop()
	if !ok {
		panic("kernel: blocked task woken with an empty mailbox")
	}
	ret, err := k.deliver(t, m, t.recv)
	if err != nil {
		t.regs.SetReturn(ternerr.ToErrno(err).Encode())
	} else {
		t.regs.SetReturn(ret)
	}
	t.recv = recvArgs{}
	t.state = TaskReady
}

// deliver moves one message into t's RECV destination and consumes it.
// The result is the sender's pid; the written payload length and the
// message kind go through the caller's out-pointers when non-zero. The
// payload is truncated to the caller's buffer.
func (k *Kernel) deliver(t *Task, m message, a recvArgs) (uint64, error) {
	defer k.freeMessage(&m)
	n := m.n
	if n > a.bufLen {
		n = a.bufLen
	}
	if n > 0 {
		p := make([]byte, n)
		k.heap.ReadBytes(m.data, p)
		if err := t.CopyOut(a.buf, p); err != nil {
			return 0, err
		}
	}
	if a.lenPtr != 0 {
		if err := t.CopyOutUint64(a.lenPtr, n); err != nil {
			return 0, err
		}
	}
	if a.kindPtr != 0 {
		if err := t.CopyOutUint32(a.kindPtr, m.kind); err != nil {
			return 0, err
		}
	}
	return uint64(m.sender), nil
}

// DequeueMessage pops the oldest message of t's mailbox into kernel
// memory. ok is false when the mailbox is empty. This is the kernel-side
// receive used by the shell for the kernel task's own mailbox.
func (k *Kernel) DequeueMessage(t *Task) (sender Pid, kind uint32, payload []byte, ok bool) {
	m, ok := t.box.pop()
	if !ok {
		return 0, 0, nil, false
	}
	p := make([]byte, m.n)
	if m.n > 0 {
		k.heap.ReadBytes(m.data, p)
	}
	k.freeMessage(&m)
	return m.sender, m.kind, p, true
}

// PendingMessages counts undelivered messages in t's mailbox.
func (t *Task) PendingMessages() int {
	return t.box.n
}

// freeMessage releases a consumed message's payload block.
func (k *Kernel) freeMessage(m *message) {
	if m.data == 0 {
		return
	}
	if err := k.heap.Free(m.data); err != nil {
		log.Warningf("kernel: freeing message block %#x: %v", m.data, err)
	}
	m.data = 0
}

// drainMailbox discards every queued message at task teardown.
func (k *Kernel) drainMailbox(t *Task) {
	for {
		m, ok := t.box.pop()
		if !ok {
			return
		}
		k.freeMessage(&m)
	}
}
