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

// Package version holds the build-stamped runtern version.
package version

// version is set at build time with
// -ldflags "-X tern.dev/tern/runtern/version.version=...".
var version = ""

// Version returns the stamped version, or a placeholder for plain builds.
func Version() string {
	if version == "" {
		return "unknown"
	}
	return version
}
