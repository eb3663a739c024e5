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

import "tern.dev/tern/pkg/abi/tern"

// nullDevice swallows writes and reads as empty. It is preopened on
// tern.HandleNull and reachable at /dev/null.
type nullDevice struct{}

func (nullDevice) Read(p []byte) (int, error) {
	return 0, nil
}

func (nullDevice) Write(p []byte) (int, error) {
	return len(p), nil
}

func (nullDevice) Close() {}

func (nullDevice) Poll(event uint8) bool {
	return event == tern.PollWrite
}

func (nullDevice) Kind() uint8 {
	return tern.KindDevice
}
