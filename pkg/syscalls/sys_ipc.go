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

package syscalls

import (
	"tern.dev/tern/pkg/abi/tern"
	"tern.dev/tern/pkg/errors/ternerr"
	"tern.dev/tern/pkg/guestarch"
	"tern.dev/tern/pkg/kernel"
)

// Send implements the send system call: send(pid, buf, n, kind) delivers
// up to tern.MaxMessageBytes to the peer's mailbox and never blocks.
func Send(t *kernel.Task, args [4]uint64) (uint64, error) {
	if args[0] >= tern.MaxProcs {
		return 0, ternerr.ErrNoProcess
	}
	if args[2] > tern.MaxMessageBytes {
		return 0, ternerr.ErrMessageTooLong
	}
	if args[3] > 0xffff_ffff {
		return 0, ternerr.ErrBadArgument
	}
	payload, err := t.CopyIn(guestarch.Addr(args[1]), args[2])
	if err != nil {
		return 0, err
	}
	return 0, t.Kernel().Send(t.ID(), kernel.Pid(args[0]), uint32(args[3]), payload)
}

// Recv implements the recv system call: recv(buf, bufLen, lenPtr,
// kindPtr) returns the sender's pid with the payload copied to buf. With
// an empty mailbox the caller blocks until a send completes the call. The
// written payload length and the message kind are reported through the
// out-pointers when they are non-zero.
func Recv(t *kernel.Task, args [4]uint64) (uint64, error) {
	return t.Kernel().Receive(t,
		guestarch.Addr(args[0]), args[1],
		guestarch.Addr(args[2]), guestarch.Addr(args[3]))
}
