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

package ternerr

import (
	"tern.dev/tern/pkg/abi/tern"
	"tern.dev/tern/pkg/errors"
)

var (
	// ErrWouldBlock indicates that an operation cannot be satisfied
	// immediately and should be retried, typically after POLL or a short
	// SLEEP. It is used by device implementations of the kernel File
	// interface.
	ErrWouldBlock = errors.New(tern.ErrnoWouldBlock, "request would block")
)
