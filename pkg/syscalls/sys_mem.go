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
	"tern.dev/tern/pkg/guestarch"
	"tern.dev/tern/pkg/kernel"
)

// Alloc implements the alloc system call: alloc(n) maps n bytes of zeroed
// memory in the caller's placement zone and returns the address. Rounding
// is page granular.
func Alloc(t *kernel.Task, args [4]uint64) (uint64, error) {
	addr, err := t.Kernel().Alloc(t, args[0])
	if err != nil {
		return 0, err
	}
	return uint64(addr), nil
}

// Free implements the free system call: free(addr, n) unmaps a range
// Alloc returned. The range must be wholly mapped; a later touch faults
// for real.
func Free(t *kernel.Task, args [4]uint64) (uint64, error) {
	return 0, t.Kernel().Free(t, guestarch.Addr(args[0]), args[1])
}
