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

import "tern.dev/tern/pkg/metric"

// Kernel counters. These accumulate across every kernel booted in the
// process; per-boot numbers come from the kernel's own accessors.
var (
	tickCount       = metric.MustCreateNewUint64Metric("/tern/ticks", "Timer ticks serviced.")
	contextSwitches = metric.MustCreateNewUint64Metric("/tern/context_switches", "Scheduler dispatches onto the core.")
	syscallCount    = metric.MustCreateNewUint64Metric("/tern/syscalls", "System calls dispatched.")
	demandPages     = metric.MustCreateNewUint64Metric("/tern/demand_pages", "Stack pages mapped by fault-time allocation.")
	faultKills      = metric.MustCreateNewUint64Metric("/tern/fault_kills", "Tasks killed by an unservable fault or opcode.")
	spawnCount      = metric.MustCreateNewUint64Metric("/tern/spawns", "Tasks spawned.")
	exitCount       = metric.MustCreateNewUint64Metric("/tern/exits", "Tasks exited, voluntarily or not.")
	messageCount    = metric.MustCreateNewUint64Metric("/tern/messages", "IPC messages delivered.")
)
