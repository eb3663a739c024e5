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
	"tern.dev/tern/pkg/guestarch"
	"tern.dev/tern/pkg/kernel"
)

// Exit implements the exit system call. It does not return to the caller.
func Exit(t *kernel.Task, args [4]uint64) (uint64, error) {
	t.Kernel().Exit(t, tern.ExitCode(args[0]))
	return 0, nil
}

// Spawn implements the spawn system call: spawn(path, pathLen) creates a
// process from an executable and returns the child's pid. The caller
// keeps running; the child joins the run queue behind it.
func Spawn(t *kernel.Task, args [4]uint64) (uint64, error) {
	path, err := t.CopyInString(guestarch.Addr(args[0]), args[1], maxPathBytes)
	if err != nil {
		return 0, err
	}
	pid, err := t.Kernel().Spawn(t.ID(), path, nil)
	if err != nil {
		return 0, err
	}
	return uint64(pid), nil
}

// Sleep implements the sleep system call: sleep(ticks) parks the caller.
// A count of zero yields the rest of the slice only.
func Sleep(t *kernel.Task, args [4]uint64) (uint64, error) {
	t.Kernel().Sleep(t, args[0])
	return 0, nil
}

// Halt implements the halt system call: halt(tern.HaltReboot) or
// halt(tern.HaltPoweroff) stops the machine at the end of this tick.
func Halt(t *kernel.Task, args [4]uint64) (uint64, error) {
	return 0, t.Kernel().Halt(args[0])
}
