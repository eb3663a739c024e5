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

package asm

import (
	"bytes"
	"debug/elf"
	"encoding/binary"

	"tern.dev/tern/pkg/abi/tern"
)

// Segment is one loadable range of an ELF image.
type Segment struct {
	Vaddr uint64
	Flags elf.ProgFlag
	Data  []byte

	// Memsz is the in-memory size; zero means len(Data). A value larger
	// than len(Data) produces a zero-filled tail.
	Memsz uint64
}

// BuildELF packs segments into a static ELF64 executable.
func BuildELF(entry uint64, segs ...Segment) []byte {
	const (
		ehsize    = 64
		phentsize = 56
	)
	var buf bytes.Buffer

	hdr := elf.Header64{
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(elf.EM_X86_64),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     entry,
		Phoff:     ehsize,
		Ehsize:    ehsize,
		Phentsize: phentsize,
		Phnum:     uint16(len(segs)),
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	binary.Write(&buf, binary.LittleEndian, &hdr)

	off := uint64(ehsize + phentsize*len(segs))
	for _, s := range segs {
		memsz := s.Memsz
		if memsz == 0 {
			memsz = uint64(len(s.Data))
		}
		phdr := elf.Prog64{
			Type:   uint32(elf.PT_LOAD),
			Flags:  uint32(s.Flags),
			Off:    off,
			Vaddr:  s.Vaddr,
			Paddr:  s.Vaddr,
			Filesz: uint64(len(s.Data)),
			Memsz:  memsz,
			Align:  0x1000,
		}
		binary.Write(&buf, binary.LittleEndian, &phdr)
		off += uint64(len(s.Data))
	}
	for _, s := range segs {
		buf.Write(s.Data)
	}
	return buf.Bytes()
}

// ELF wraps the assembled code in a single read-execute segment at the
// assembler's base address, entered at the base.
func (a *Assembler) ELF() []byte {
	return BuildELF(a.base, Segment{
		Vaddr: a.base,
		Flags: elf.PF_R | elf.PF_X,
		Data:  a.Bytes(),
	})
}

// Flat wraps the assembled code in the flat binary container.
func (a *Assembler) Flat() []byte {
	code := a.Bytes()
	out := make([]byte, 0, len(code)+tern.FlatHeaderSize)
	out = append(out, tern.FlatMagic[:]...)
	return append(out, code...)
}
