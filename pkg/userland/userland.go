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

// Package userland assembles the demo programs installed under /bin and
// the boot script that exercises them.
//
// The programs are tiny hand-assembled ELF executables against the raw
// syscall ABI: no runtime, no relocations beyond RIP-relative data. They
// double as integration fixtures for the kernel tests.
package userland

import (
	"tern.dev/tern/pkg/abi/tern"
	"tern.dev/tern/pkg/machine/asm"
	"tern.dev/tern/pkg/memfs"
)

// linkBase is the window offset programs are linked at.
const linkBase = 0x1000

// Program is one installable demo binary.
type Program struct {
	// Name is the install path.
	Name string

	// Desc is a one-line description for listings.
	Desc string

	// Build assembles the executable image.
	Build func() []byte
}

// Programs are the demo binaries, in install order.
var Programs = []Program{
	{"/bin/hello", "print a greeting and exit", hello},
	{"/bin/ping", "message pid 1 and print the reply", ping},
	{"/bin/pong", "answer one message with its echo", pong},
	{"/bin/spin", "loop until preempted away forever", spin},
	{"/bin/crash", "dereference address zero", crash},
}

// BootScript is the default /ini/boot.sh. It assumes a fresh table, so
// pong lands in slot 1 where ping expects its peer.
const BootScript = `# Tern boot script.
echo Tern is up.
run /bin/hello
spawn /bin/pong
run /bin/ping
uptime
`

// Install writes every program and the boot script into fs.
func Install(fs *memfs.Filesystem) error {
	for _, p := range Programs {
		if err := fs.WriteFile(p.Name, p.Build()); err != nil {
			return err
		}
	}
	return fs.WriteFile("/ini/boot.sh", []byte(BootScript))
}

// exit emits a terminating EXIT call.
func exit(a *asm.Assembler, code uint64) {
	a.MovImm(asm.RAX, tern.SYS_EXIT)
	a.MovImm(asm.RDI, code)
	a.Int(tern.SyscallVector)
}

// failOnError branches to label when the last syscall returned an error.
// Clobbers RBX.
func failOnError(a *asm.Assembler, label string) {
	a.MovImm(asm.RBX, tern.ErrorBase)
	a.Cmp(asm.RAX, asm.RBX)
	a.Jcc(asm.CondAE, label)
}

func hello() []byte {
	a := asm.New(linkBase)
	msg := "hello from userland\n"

	a.MovImm(asm.RAX, tern.SYS_WRITE)
	a.MovImm(asm.RDI, tern.HandleStdout)
	a.LeaLabel(asm.RSI, "msg")
	a.MovImm(asm.RDX, uint64(len(msg)))
	a.Int(tern.SyscallVector)
	exit(a, uint64(tern.ExitSuccess))

	a.Label("msg")
	a.Bytes8([]byte(msg))
	return a.ELF()
}

// ping sends to pid 1, waits for the echo and prints it. Stack layout:
// payload buffer at [rsp], received length at [rsp+64], kind at [rsp+72].
func ping() []byte {
	a := asm.New(linkBase)
	a.SubImm(asm.RSP, 96)

	a.MovImm(asm.RAX, tern.SYS_SEND)
	a.MovImm(asm.RDI, 1)
	a.LeaLabel(asm.RSI, "ping")
	a.MovImm(asm.RDX, 4)
	a.MovImm(asm.R8, 0)
	a.Int(tern.SyscallVector)
	failOnError(a, "fail")

	a.MovImm(asm.RAX, tern.SYS_RECV)
	a.Mov(asm.RDI, asm.RSP)
	a.MovImm(asm.RSI, 64)
	a.Lea(asm.RDX, asm.RSP, 64)
	a.Lea(asm.R8, asm.RSP, 72)
	a.Int(tern.SyscallVector)
	failOnError(a, "fail")

	a.MovImm(asm.RAX, tern.SYS_WRITE)
	a.MovImm(asm.RDI, tern.HandleStdout)
	a.Mov(asm.RSI, asm.RSP)
	a.Load(asm.RDX, asm.RSP, 64)
	a.Int(tern.SyscallVector)
	a.MovImm(asm.RAX, tern.SYS_WRITE)
	a.MovImm(asm.RDI, tern.HandleStdout)
	a.LeaLabel(asm.RSI, "nl")
	a.MovImm(asm.RDX, 1)
	a.Int(tern.SyscallVector)
	exit(a, uint64(tern.ExitSuccess))

	a.Label("fail")
	exit(a, uint64(tern.ExitFailure))

	a.Label("ping")
	a.Bytes8([]byte("ping"))
	a.Label("nl")
	a.Bytes8([]byte("\n"))
	return a.ELF()
}

// pong blocks in RECV, echoes the payload back to the sender and exits.
func pong() []byte {
	a := asm.New(linkBase)
	a.SubImm(asm.RSP, 96)

	a.MovImm(asm.RAX, tern.SYS_RECV)
	a.Mov(asm.RDI, asm.RSP)
	a.MovImm(asm.RSI, 64)
	a.Lea(asm.RDX, asm.RSP, 64)
	a.Lea(asm.R8, asm.RSP, 72)
	a.Int(tern.SyscallVector)
	failOnError(a, "fail")

	a.Mov(asm.RDI, asm.RAX)
	a.MovImm(asm.RAX, tern.SYS_SEND)
	a.Mov(asm.RSI, asm.RSP)
	a.Load(asm.RDX, asm.RSP, 64)
	a.MovImm(asm.R8, 0)
	a.Int(tern.SyscallVector)
	failOnError(a, "fail")
	exit(a, uint64(tern.ExitSuccess))

	a.Label("fail")
	exit(a, uint64(tern.ExitFailure))
	return a.ELF()
}

// spin never yields; only the timer takes it off the core.
func spin() []byte {
	a := asm.New(linkBase)
	a.Label("top")
	a.Nop()
	a.Jmp("top")
	return a.ELF()
}

// crash stores through address zero, which no window covers.
func crash() []byte {
	a := asm.New(linkBase)
	a.MovImm(asm.RAX, 0)
	a.MovImm(asm.RBX, 1)
	a.Store(asm.RAX, 0, asm.RBX)
	exit(a, uint64(tern.ExitSuccess))
	return a.ELF()
}
