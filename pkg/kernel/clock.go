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

// The kernel clock counts ticks, nothing else. Wall-clock pacing is the
// host's concern; guest-visible time is ticks divided by the nominal rate,
// so a paused or accelerated host changes nothing the guest can observe.

// tick advances the clock one tick and readies every sleeper that is due.
func (k *Kernel) tick() {
	k.ticks++
	tickCount.Increment()
	for _, t := range k.tasks {
		if t != nil && t.state == TaskSleeping && t.wakeAt <= k.ticks {
			t.state = TaskReady
		}
	}
}

// Ticks returns the tick count since boot.
func (k *Kernel) Ticks() uint64 {
	return k.ticks
}

// TickHz returns the nominal tick rate.
func (k *Kernel) TickHz() uint64 {
	return k.tickHz
}

// Uptime returns seconds since boot in nominal tick time.
func (k *Kernel) Uptime() float64 {
	return float64(k.ticks) / float64(k.tickHz)
}

// Sleep parks t until n ticks have passed. n of zero is a pure yield: the
// task stays ready but gives up the rest of its slice.
func (k *Kernel) Sleep(t *Task, n uint64) {
	if n == 0 {
		if t.state == TaskRunning {
			t.state = TaskReady
		}
		return
	}
	t.state = TaskSleeping
	t.wakeAt = k.ticks + n
}
