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

// Package errors holds the standardized error definition for Tern.
package errors

import (
	"tern.dev/tern/pkg/abi/tern"
)

// Error represents a kernel error code with a descriptive message.
type Error struct {
	errno   tern.Errno
	message string
}

// New creates a new *Error.
func New(err tern.Errno, message string) *Error {
	return &Error{
		errno:   err,
		message: message,
	}
}

// Error implements error.Error.
func (e *Error) Error() string { return e.message }

// Errno returns the underlying tern.Errno value.
func (e *Error) Errno() tern.Errno { return e.errno }

// Class returns the error class of the underlying code.
func (e *Error) Class() tern.Class { return e.errno.Class() }
