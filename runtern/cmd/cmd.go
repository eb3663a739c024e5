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

// Package cmd holds the runtern subcommands.
package cmd

import (
	"fmt"
	"os"

	"tern.dev/tern/pkg/log"
)

// Fatalf logs to stderr and exits with a failure status. It is used from
// subcommands for errors the user must see even when logs are discarded.
func Fatalf(format string, args ...any) {
	log.Warningf(format, args...)
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	// 128 is outside the guest exit code range, so scripts can tell a
	// monitor failure from a guest failure.
	os.Exit(128)
}
