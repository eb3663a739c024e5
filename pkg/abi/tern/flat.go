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

// The flat binary container: a four-byte magic followed by raw machine
// code. The payload is mapped at the base of the process window and entered
// at its first byte.
var FlatMagic = [4]byte{0x7f, 'T', 'R', 'N'}

// ElfMagic is the standard ELF identification prefix.
var ElfMagic = [4]byte{0x7f, 'E', 'L', 'F'}

// FlatHeaderSize is the number of container bytes preceding the code.
const FlatHeaderSize = 4
