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

// Package shell is the command interpreter that lives in the kernel's idle
// context. It acts with the identity of task 0: the kernel task's working
// directory, handles and mailbox are the shell's.
//
// The shell gets the core only when no task is runnable, so a spinning
// foreground task starves it until the task blocks, exits or a console
// interrupt kills it. That is the single-core contract, not a bug.
package shell

import (
	"fmt"
	"strconv"
	"strings"

	"tern.dev/tern/pkg/abi/tern"
	"tern.dev/tern/pkg/guestarch"
	"tern.dev/tern/pkg/kernel"
	"tern.dev/tern/pkg/memfs"
	"tern.dev/tern/pkg/userland"
)

const prompt = "tern> "

// Opts configures New.
type Opts struct {
	// Script is executed line by line before any prompt. Blank lines and
	// lines starting with # are skipped.
	Script string

	// Interactive keeps a prompt running after the script. Without it the
	// shell powers the kernel off once the script and its last foreground
	// task are done.
	Interactive bool
}

// Shell interprets commands from the boot script and the console.
type Shell struct {
	k           *kernel.Kernel
	interactive bool

	// script holds the lines not yet executed.
	script []string

	// fg is the foreground child that run is waiting on, 0 when none.
	fg     kernel.Pid
	fgPath string

	// sleepUntil parks the interpreter until that tick.
	sleepUntil uint64

	prompted bool
}

// New builds a shell and installs it as the kernel's idle context.
func New(k *kernel.Kernel, opts Opts) *Shell {
	sh := &Shell{
		k:           k,
		interactive: opts.Interactive,
	}
	if opts.Script != "" {
		sh.script = strings.Split(opts.Script, "\n")
	}
	k.SetIdler(sh.step)
	return sh
}

// step runs at most one command. It is the kernel's idler, so it fires
// once per tick with nothing runnable.
func (sh *Shell) step() {
	cons := sh.k.Console()

	if sh.fg != 0 {
		if sh.k.Task(sh.fg) != nil {
			return
		}
		if code := sh.k.LastExitCode(); code != tern.ExitSuccess {
			fmt.Fprintf(cons, "tern: %s: %v\n", sh.fgPath, code)
		}
		sh.fg = 0
		sh.fgPath = ""
	}
	if sh.sleepUntil > sh.k.Ticks() {
		return
	}

	for len(sh.script) > 0 {
		line := strings.TrimSpace(sh.script[0])
		sh.script = sh.script[1:]
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fmt.Fprintf(cons, "%s%s\n", prompt, line)
		sh.run(line)
		return
	}

	if !sh.interactive {
		sh.k.RequestPowerOff()
		return
	}

	if !sh.prompted {
		fmt.Fprint(cons, prompt)
		sh.prompted = true
	}
	line, ok := cons.ReadLine()
	if !ok {
		return
	}
	sh.prompted = false
	if line = strings.TrimSpace(line); line != "" {
		sh.run(line)
	}
}

// self returns the kernel task, the shell's identity.
func (sh *Shell) self() *kernel.Task {
	return sh.k.Task(kernel.KernelPid)
}

// resolve canonicalizes a command argument against the working directory.
func (sh *Shell) resolve(path string) string {
	return memfs.Canonicalize(sh.self().Cwd(), path)
}

func (sh *Shell) run(line string) {
	cons := sh.k.Console()
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	fail := func(err error) {
		fmt.Fprintf(cons, "tern: %s: %v\n", cmd, err)
	}
	usage := func(u string) {
		fmt.Fprintf(cons, "usage: %s\n", u)
	}

	switch cmd {
	case "help":
		fmt.Fprint(cons, helpText)

	case "echo":
		fmt.Fprintln(cons, strings.Join(args, " "))

	case "clear":
		fmt.Fprint(cons, "\x1b[2J\x1b[H")

	case "pwd":
		fmt.Fprintln(cons, sh.self().Cwd())

	case "cd":
		if len(args) != 1 {
			usage("cd PATH")
			return
		}
		if err := sh.self().SetCwd(sh.resolve(args[0])); err != nil {
			fail(err)
		}

	case "ls":
		path := sh.self().Cwd()
		if len(args) > 0 {
			path = sh.resolve(args[0])
		}
		infos, err := sh.k.Filesystem().ReadDir(path)
		if err != nil {
			fail(err)
			return
		}
		for _, info := range infos {
			if info.IsDir {
				fmt.Fprintf(cons, "%8s  %s/\n", "-", info.Name)
				continue
			}
			fmt.Fprintf(cons, "%8d  %s\n", info.Size, info.Name)
		}

	case "cat":
		if len(args) != 1 {
			usage("cat PATH")
			return
		}
		data, err := sh.k.Filesystem().ReadFile(sh.resolve(args[0]))
		if err != nil {
			fail(err)
			return
		}
		cons.Write(data)
		if len(data) > 0 && data[len(data)-1] != '\n' {
			fmt.Fprintln(cons)
		}

	case "write":
		if len(args) < 1 {
			usage("write PATH [TEXT...]")
			return
		}
		text := strings.Join(args[1:], " ")
		if err := sh.k.Filesystem().WriteFile(sh.resolve(args[0]), []byte(text)); err != nil {
			fail(err)
		}

	case "rm":
		if len(args) != 1 {
			usage("rm PATH")
			return
		}
		if err := sh.k.Filesystem().Remove(sh.resolve(args[0])); err != nil {
			fail(err)
		}

	case "run", "spawn":
		if len(args) < 1 {
			usage(cmd + " PATH [ARGS...]")
			return
		}
		path := sh.resolve(args[0])
		pid, err := sh.k.Spawn(kernel.KernelPid, path, args[1:])
		if err != nil {
			fail(err)
			return
		}
		if cmd == "run" {
			sh.fg = pid
			sh.fgPath = path
			return
		}
		fmt.Fprintf(cons, "[%d]\n", pid)

	case "ps":
		fmt.Fprintf(cons, "%3s  %-10s  %s\n", "PID", "STATE", "NAME")
		for _, t := range sh.k.Tasks() {
			fmt.Fprintf(cons, "%3d  %-10s  %s\n", t.ID(), t.State(), t.Name())
		}

	case "mem":
		frames := sh.k.Frames()
		heap := sh.k.Heap()
		fmt.Fprintf(cons, "frames: %d/%d used\n", frames.UsedFrames(), frames.TotalFrames())
		fmt.Fprintf(cons, "heap:   %d/%d bytes used\n", heap.UsedBytes(), heap.MappedBytes())

	case "send":
		if len(args) < 2 {
			usage("send PID TEXT...")
			return
		}
		pid, err := strconv.ParseInt(args[0], 10, 32)
		if err != nil {
			usage("send PID TEXT...")
			return
		}
		text := strings.Join(args[1:], " ")
		if err := sh.k.Send(kernel.KernelPid, kernel.Pid(pid), 0, []byte(text)); err != nil {
			fail(err)
		}

	case "recv":
		sender, kind, payload, ok := sh.k.DequeueMessage(sh.self())
		if !ok {
			fmt.Fprintln(cons, "no messages")
			return
		}
		if kind != 0 {
			fmt.Fprintf(cons, "task %d [kind %#x]: %q\n", sender, kind, payload)
			return
		}
		fmt.Fprintf(cons, "task %d: %q\n", sender, payload)

	case "sleep":
		if len(args) != 1 {
			usage("sleep TICKS")
			return
		}
		n, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			usage("sleep TICKS")
			return
		}
		sh.sleepUntil = sh.k.Ticks() + n

	case "alloc":
		if len(args) != 1 {
			usage("alloc BYTES")
			return
		}
		n, err := strconv.ParseUint(args[0], 0, 64)
		if err != nil {
			usage("alloc BYTES")
			return
		}
		addr, err := sh.k.Heap().Alloc(n)
		if err != nil {
			fail(err)
			return
		}
		fmt.Fprintf(cons, "%#x\n", uint64(addr))

	case "free":
		if len(args) != 1 {
			usage("free ADDR")
			return
		}
		addr, err := strconv.ParseUint(args[0], 0, 64)
		if err != nil {
			usage("free ADDR")
			return
		}
		if err := sh.k.Heap().Free(guestarch.Addr(addr)); err != nil {
			fail(err)
		}

	case "install":
		if err := userland.Install(sh.k.Filesystem()); err != nil {
			fail(err)
			return
		}
		fmt.Fprintf(cons, "installed %d programs\n", len(userland.Programs))

	case "uptime":
		fmt.Fprintf(cons, "up %.3fs (%d ticks, %d user tasks)\n",
			sh.k.Uptime(), sh.k.Ticks(), sh.k.UserTasks())

	case "halt", "exit":
		fmt.Fprintln(cons, "powering off")
		sh.k.RequestPowerOff()

	case "reboot":
		fmt.Fprintln(cons, "rebooting")
		sh.k.RequestReboot()

	default:
		fmt.Fprintf(cons, "tern: unknown command %q (try help)\n", cmd)
	}
}

const helpText = `commands:
  alloc BYTES         probe the kernel heap, print the block address
  cat PATH            print a file
  cd PATH             change the working directory
  clear               clear the screen
  echo TEXT...        print the arguments
  free ADDR           free a kernel heap block
  halt | exit         power the machine off
  install             write the demo programs under /bin
  ls [PATH]           list a directory
  mem                 frame and heap usage
  ps                  list tasks
  pwd                 print the working directory
  reboot              reboot the machine
  recv                pop one message from the kernel mailbox
  rm PATH             remove a file or empty directory
  run PATH [ARGS]     spawn a program and wait for it
  send PID TEXT...    send a message to a task
  sleep TICKS         pause the script
  spawn PATH [ARGS]   spawn a program in the background
  uptime              ticks, seconds and task count
  write PATH [TEXT]   write the arguments to a file
`
