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

// ExitCode is the status a process terminates with, either passed to EXIT
// or assigned by the kernel when it kills the process.
type ExitCode uint64

const (
	ExitSuccess   ExitCode = 0
	ExitFailure   ExitCode = 1
	ExitNotFound  ExitCode = 2
	ExitIoError   ExitCode = 3
	ExitExecError ExitCode = 4
	ExitPageFault ExitCode = 5
)

// String implements fmt.Stringer.String.
func (c ExitCode) String() string {
	switch c {
	case ExitSuccess:
		return "success"
	case ExitFailure:
		return "failure"
	case ExitNotFound:
		return "not found"
	case ExitIoError:
		return "I/O error"
	case ExitExecError:
		return "exec error"
	case ExitPageFault:
		return "page fault"
	default:
		return fmt.Sprintf("exit(%d)", uint64(c))
	}
}
