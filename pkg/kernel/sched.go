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

// The scheduler is round robin over the task table, one decision per
// tick. Election order is ascending slot order starting just after the
// slot that ran last, so equal-priority tasks alternate and a task that
// blocked or slept rejoins at its table position, not at the head.

// pickNext elects the task for this tick, or nil for an idle tick. Slot 0
// is the kernel's own context and never runs on the core.
func (k *Kernel) pickNext() *Task {
	for off := 1; off <= len(k.tasks); off++ {
		slot := (k.lastSlot + off) % len(k.tasks)
		if slot == int(KernelPid) {
			continue
		}
		if t := k.tasks[slot]; t != nil && t.state == TaskReady {
			return t
		}
	}
	return nil
}
