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

package tern

import "fmt"

// Syscall numbers.
const (
	SYS_EXIT   = 0x01
	SYS_SPAWN  = 0x02
	SYS_READ   = 0x03
	SYS_WRITE  = 0x04
	SYS_OPEN   = 0x05
	SYS_CLOSE  = 0x06
	SYS_STAT   = 0x07
	SYS_DUP    = 0x08
	SYS_REMOVE = 0x09
	SYS_HALT   = 0x0a
	SYS_SLEEP  = 0x0b
	SYS_POLL   = 0x0c
	SYS_ALLOC  = 0x0d
	SYS_FREE   = 0x0e
	SYS_KIND   = 0x0f
	SYS_SEND   = 0x10
	SYS_RECV   = 0x11
)

var syscallNames = map[uintptr]string{
	SYS_EXIT:   "exit",
	SYS_SPAWN:  "spawn",
	SYS_READ:   "read",
	SYS_WRITE:  "write",
	SYS_OPEN:   "open",
	SYS_CLOSE:  "close",
	SYS_STAT:   "stat",
	SYS_DUP:    "dup",
	SYS_REMOVE: "remove",
	SYS_HALT:   "halt",
	SYS_SLEEP:  "sleep",
	SYS_POLL:   "poll",
	SYS_ALLOC:  "alloc",
	SYS_FREE:   "free",
	SYS_KIND:   "kind",
	SYS_SEND:   "send",
	SYS_RECV:   "recv",
}

// SyscallName returns the name of the syscall number, or a hex placeholder
// for numbers outside the table.
func SyscallName(sysno uintptr) string {
	if name, ok := syscallNames[sysno]; ok {
		return name
	}
	return fmt.Sprintf("sys_%#x", sysno)
}
