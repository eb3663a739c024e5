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

// Package syscalls binds the Tern system call numbers to kernel
// operations.
//
// Handlers unmarshal user arguments, move bytes across the user boundary
// and call into the kernel; policy lives there. Every result funnels
// through the kernel dispatcher, which encodes errors into the reserved
// top of the return range.
package syscalls

import (
	"tern.dev/tern/pkg/abi/tern"
	"tern.dev/tern/pkg/kernel"
)

// Table is the Tern system call table.
var Table = &kernel.SyscallTable{
	Name: "tern",
	Table: map[uintptr]kernel.SyscallFn{
		tern.SYS_EXIT:   Exit,
		tern.SYS_SPAWN:  Spawn,
		tern.SYS_READ:   Read,
		tern.SYS_WRITE:  Write,
		tern.SYS_OPEN:   Open,
		tern.SYS_CLOSE:  Close,
		tern.SYS_STAT:   Stat,
		tern.SYS_DUP:    Dup,
		tern.SYS_REMOVE: Remove,
		tern.SYS_HALT:   Halt,
		tern.SYS_SLEEP:  Sleep,
		tern.SYS_POLL:   Poll,
		tern.SYS_ALLOC:  Alloc,
		tern.SYS_FREE:   Free,
		tern.SYS_KIND:   Kind,
		tern.SYS_SEND:   Send,
		tern.SYS_RECV:   Recv,
	},
}

// maxPathBytes bounds the length argument of path-carrying calls.
const maxPathBytes = 4096
