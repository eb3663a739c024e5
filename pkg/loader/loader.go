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

// Package loader validates program images and maps them into a task's
// window. Two containers are accepted: static ELF64 and the flat Tern
// container. In both, segment addresses and the entry point are offsets
// into the window, so one binary runs in any slot.
package loader

import (
	"bytes"
	"debug/elf"
	"encoding/binary"

	"tern.dev/tern/pkg/abi/tern"
	"tern.dev/tern/pkg/cleanup"
	"tern.dev/tern/pkg/errors/ternerr"
	"tern.dev/tern/pkg/guestarch"
	"tern.dev/tern/pkg/log"
	"tern.dev/tern/pkg/pagetables"
	"tern.dev/tern/pkg/pgalloc"
	"tern.dev/tern/pkg/physmem"
)

// Segment is one loadable range of a validated image.
type Segment struct {
	// Offset is the window-relative load address.
	Offset uint64

	// Access are the mapping permissions.
	Access guestarch.AccessType

	// Data is the file-backed prefix; the tail up to Memsz is zero.
	Data []byte

	// Memsz is the in-memory size, at least len(Data).
	Memsz uint64
}

// Image is a parsed, validated program.
type Image struct {
	// Entry is the window-relative entry point.
	Entry uint64

	Segments []Segment
}

// codeZone is the window prefix available to program segments. The argv
// block, the ALLOC zone and the stack occupy the rest.
const codeZone = tern.ArgvOffset

// Parse validates an image and extracts its segments. Every malformed
// input is ErrBadImage; Parse never panics on hostile bytes.
func Parse(image []byte) (*Image, error) {
	if len(image) < 4 {
		return nil, ternerr.ErrBadImage
	}
	switch {
	case bytes.HasPrefix(image, tern.ElfMagic[:]):
		return parseELF(image)
	case bytes.HasPrefix(image, tern.FlatMagic[:]):
		return parseFlat(image)
	}
	return nil, ternerr.ErrBadImage
}

// parseFlat handles the flat container: the payload maps read-write-execute
// at the window base and is entered at its first byte.
func parseFlat(image []byte) (*Image, error) {
	payload := image[tern.FlatHeaderSize:]
	if len(payload) == 0 || uint64(len(payload)) > codeZone {
		return nil, ternerr.ErrBadImage
	}
	return &Image{
		Segments: []Segment{{
			Access: guestarch.AnyAccess,
			Data:   payload,
			Memsz:  uint64(len(payload)),
		}},
	}, nil
}

func parseELF(image []byte) (*Image, error) {
	var hdr elf.Header64
	r := bytes.NewReader(image)
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, ternerr.ErrBadImage
	}
	if hdr.Ident[elf.EI_CLASS] != byte(elf.ELFCLASS64) ||
		hdr.Ident[elf.EI_DATA] != byte(elf.ELFDATA2LSB) ||
		hdr.Ident[elf.EI_VERSION] != byte(elf.EV_CURRENT) {
		return nil, ternerr.ErrBadImage
	}
	if elf.Type(hdr.Type) != elf.ET_EXEC || elf.Machine(hdr.Machine) != elf.EM_X86_64 {
		return nil, ternerr.ErrBadImage
	}
	if hdr.Phnum == 0 || hdr.Phentsize != 56 {
		return nil, ternerr.ErrBadImage
	}
	phSize := uint64(hdr.Phnum) * uint64(hdr.Phentsize)
	if hdr.Phoff > uint64(len(image)) || phSize > uint64(len(image))-hdr.Phoff {
		return nil, ternerr.ErrBadImage
	}
	if hdr.Entry >= codeZone {
		return nil, ternerr.ErrBadImage
	}

	img := &Image{Entry: hdr.Entry}
	phr := bytes.NewReader(image[hdr.Phoff : hdr.Phoff+phSize])
	for i := 0; i < int(hdr.Phnum); i++ {
		var ph elf.Prog64
		if err := binary.Read(phr, binary.LittleEndian, &ph); err != nil {
			return nil, ternerr.ErrBadImage
		}
		if elf.ProgType(ph.Type) != elf.PT_LOAD || ph.Memsz == 0 {
			continue
		}
		if ph.Filesz > ph.Memsz {
			return nil, ternerr.ErrBadImage
		}
		if ph.Off > uint64(len(image)) || ph.Filesz > uint64(len(image))-ph.Off {
			return nil, ternerr.ErrBadImage
		}
		if ph.Vaddr+ph.Memsz < ph.Vaddr || ph.Vaddr+ph.Memsz > codeZone {
			return nil, ternerr.ErrBadImage
		}
		img.Segments = append(img.Segments, Segment{
			Offset: ph.Vaddr,
			Access: accessOf(elf.ProgFlag(ph.Flags)),
			Data:   image[ph.Off : ph.Off+ph.Filesz],
			Memsz:  ph.Memsz,
		})
	}
	if len(img.Segments) == 0 {
		return nil, ternerr.ErrBadImage
	}
	if overlapping(img.Segments) {
		return nil, ternerr.ErrBadImage
	}
	return img, nil
}

func accessOf(f elf.ProgFlag) guestarch.AccessType {
	return guestarch.AccessType{
		Read:    f&elf.PF_R != 0,
		Write:   f&elf.PF_W != 0,
		Execute: f&elf.PF_X != 0,
	}
}

// overlapping reports whether any two segments share a page. Mapping is
// page granular, so page-sharing segments cannot both be mapped.
func overlapping(segs []Segment) bool {
	type span struct{ lo, hi uint64 }
	spans := make([]span, len(segs))
	for i, s := range segs {
		spans[i] = span{
			lo: s.Offset &^ uint64(guestarch.PageMask),
			hi: (s.Offset + s.Memsz + guestarch.PageMask) &^ uint64(guestarch.PageMask),
		}
	}
	for i := range spans {
		for j := i + 1; j < len(spans); j++ {
			if spans[i].lo < spans[j].hi && spans[j].lo < spans[i].hi {
				return true
			}
		}
	}
	return false
}

// LoadArgs is the destination of a Load.
type LoadArgs struct {
	Mem    *physmem.Memory
	Frames *pgalloc.FrameAllocator
	Tables *pagetables.PageTables

	// Slot selects the window: it starts at tern.UserBase +
	// Slot*tern.WindowBytes.
	Slot int

	// Args are staged into the window's argument block.
	Args []string
}

// Loaded describes the entry state of a freshly loaded task.
type Loaded struct {
	// Entry is the absolute entry point.
	Entry guestarch.Addr

	// StackTop is the initial stack pointer; the page below it is mapped.
	StackTop guestarch.Addr

	// ArgvAddr and Argc are the entry values of RDI and RSI: the argument
	// pair array and its length.
	ArgvAddr guestarch.Addr
	Argc     uint64
}

// WindowBase returns the base address of a slot's window.
func WindowBase(slot int) guestarch.Addr {
	return guestarch.Addr(tern.UserBase + uint64(slot)*tern.WindowBytes)
}

// Load maps a validated image, the stack page and the argument block into
// the task's window. On any failure every page mapped so far is unmapped
// and its frame returned, leaving the allocator balance untouched.
func Load(img *Image, la LoadArgs) (*Loaded, error) {
	base := WindowBase(la.Slot)
	var cu cleanup.Cleanup
	defer cu.Clean()

	// mapZero backs one page and registers its teardown.
	mapZero := func(addr guestarch.Addr, at guestarch.AccessType) (guestarch.PhysAddr, error) {
		frame, err := la.Frames.AllocateZeroed()
		if err != nil {
			return 0, err
		}
		opts := pagetables.MapOpts{AccessType: at, User: true}
		if err := la.Tables.MapPage(addr, frame, opts); err != nil {
			if ferr := la.Frames.Free(frame); ferr != nil {
				log.Warningf("loader: freeing unmapped frame %#x: %v", frame, ferr)
			}
			return 0, err
		}
		cu.Add(func() {
			frames, err := la.Tables.Unmap(addr, guestarch.PageSize)
			if err != nil {
				log.Warningf("loader: unwinding page %#x: %v", addr, err)
				return
			}
			for _, f := range frames {
				if err := la.Frames.Free(f); err != nil {
					log.Warningf("loader: unwinding frame %#x: %v", f, err)
				}
			}
		})
		return frame, nil
	}

	for _, seg := range img.Segments {
		if err := loadSegment(seg, base, la, mapZero); err != nil {
			return nil, err
		}
	}

	// Stack: one mapped page under the top-of-window guard. Deeper growth
	// is demand faulted.
	stackTop := base + tern.StackTopOffset
	if _, err := mapZero(stackTop-guestarch.PageSize, guestarch.ReadWrite); err != nil {
		return nil, err
	}

	argvAddr, argc, err := stageArgs(base, la, mapZero)
	if err != nil {
		return nil, err
	}

	cu.Release()
	return &Loaded{
		Entry:    base + guestarch.Addr(img.Entry),
		StackTop: stackTop,
		ArgvAddr: argvAddr,
		Argc:     argc,
	}, nil
}

func loadSegment(seg Segment, base guestarch.Addr, la LoadArgs, mapZero func(guestarch.Addr, guestarch.AccessType) (guestarch.PhysAddr, error)) error {
	start := base + guestarch.Addr(seg.Offset)
	first := start &^ guestarch.PageMask
	end := (start + guestarch.Addr(seg.Memsz) + guestarch.PageMask) &^ guestarch.PageMask

	data := seg.Data
	for page := first; page < end; page += guestarch.PageSize {
		frame, err := mapZero(page, seg.Access)
		if err != nil {
			return err
		}
		if len(data) == 0 {
			continue
		}
		// File bytes land at the segment's exact offset in the first page.
		off := uint64(0)
		if page == first {
			off = uint64(start - first)
		}
		n := guestarch.PageSize - off
		if n > uint64(len(data)) {
			n = uint64(len(data))
		}
		la.Mem.WriteBytes(frame+guestarch.PhysAddr(off), data[:n])
		data = data[n:]
	}
	return nil
}

// stageArgs packs the argument strings and their (pointer, length) pair
// array into the window's argument page.
func stageArgs(base guestarch.Addr, la LoadArgs, mapZero func(guestarch.Addr, guestarch.AccessType) (guestarch.PhysAddr, error)) (guestarch.Addr, uint64, error) {
	blockBase := base + tern.ArgvOffset

	strBytes := 0
	for _, a := range la.Args {
		strBytes += len(a)
	}
	pairsOff := (strBytes + 7) &^ 7
	need := pairsOff + 16*len(la.Args)
	if uint64(need) > guestarch.PageSize {
		return 0, 0, ternerr.ErrBadArgument
	}

	block := make([]byte, need)
	cursor := 0
	for i, a := range la.Args {
		copy(block[cursor:], a)
		ptr := uint64(blockBase) + uint64(cursor)
		binary.LittleEndian.PutUint64(block[pairsOff+16*i:], ptr)
		binary.LittleEndian.PutUint64(block[pairsOff+16*i+8:], uint64(len(a)))
		cursor += len(a)
	}

	frame, err := mapZero(blockBase, guestarch.ReadWrite)
	if err != nil {
		return 0, 0, err
	}
	la.Mem.WriteBytes(frame, block)
	return blockBase + guestarch.Addr(pairsOff), uint64(len(la.Args)), nil
}
