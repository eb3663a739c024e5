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

package shell

import (
	"bytes"
	"strings"
	"testing"

	"tern.dev/tern/pkg/kernel"
	"tern.dev/tern/pkg/syscalls"
	"tern.dev/tern/pkg/userland"
)

// bootShell builds a kernel with a console capture buffer and a shell
// running the given script.
func bootShell(t *testing.T, script string, interactive bool) (*kernel.Kernel, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	k, err := kernel.Boot(kernel.Opts{
		ConsoleOut: &out,
		Syscalls:   syscalls.Table,
	})
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	New(k, Opts{Script: script, Interactive: interactive})
	return k, &out
}

func TestScriptEcho(t *testing.T) {
	k, out := bootShell(t, "# comment\n\necho hello world\n", false)
	if got := k.Run(); got != kernel.StopPowerOff {
		t.Fatalf("Run: %v, want %v", got, kernel.StopPowerOff)
	}
	if !strings.Contains(out.String(), "hello world\n") {
		t.Errorf("output missing echo:\n%s", out.String())
	}
	if strings.Contains(out.String(), "comment") {
		t.Errorf("comment line leaked into output:\n%s", out.String())
	}
}

func TestScriptFiles(t *testing.T) {
	script := strings.Join([]string{
		"write /tmp/note one two",
		"cat /tmp/note",
		"cd /tmp",
		"pwd",
		"rm note",
		"ls /tmp",
	}, "\n")
	k, out := bootShell(t, script, false)
	k.Run()

	s := out.String()
	if !strings.Contains(s, "one two\n") {
		t.Errorf("cat output missing:\n%s", s)
	}
	if !strings.Contains(s, "/tmp\n") {
		t.Errorf("pwd output missing:\n%s", s)
	}
	if k.Filesystem().Exists("/tmp/note") {
		t.Error("rm left /tmp/note behind")
	}
}

func TestUnknownCommand(t *testing.T) {
	_, out := mustRun(t, "frobnicate\n")
	if !strings.Contains(out, `unknown command "frobnicate"`) {
		t.Errorf("missing diagnostic:\n%s", out)
	}
}

func TestRunWaits(t *testing.T) {
	k, out := bootShell(t, "install\nrun /bin/hello\necho done\n", false)
	if got := k.Run(); got != kernel.StopPowerOff {
		t.Fatalf("Run: %v, want %v", got, kernel.StopPowerOff)
	}
	s := out.String()
	hello := strings.Index(s, "hello from userland\n")
	done := strings.Index(s, "done\n")
	if hello < 0 || done < 0 {
		t.Fatalf("missing output:\n%s", s)
	}
	if hello > done {
		t.Errorf("run did not wait for the child:\n%s", s)
	}
}

func TestShellMessaging(t *testing.T) {
	script := strings.Join([]string{
		"install",
		"spawn /bin/pong",
		"send 1 marco",
		"sleep 5",
		"recv",
		"recv",
	}, "\n")
	_, out := mustRun(t, script)
	if !strings.Contains(out, `task 1: "marco"`) {
		t.Errorf("echo reply missing:\n%s", out)
	}
	if !strings.Contains(out, "no messages\n") {
		t.Errorf("mailbox drain missing:\n%s", out)
	}
}

func TestInteractive(t *testing.T) {
	k, out := bootShell(t, "", true)
	cons := k.Console()
	cons.Push([]byte("echo hi\n"))
	for i := 0; i < 100 && k.StopRequested() == kernel.StopNone; i++ {
		if !k.Step() {
			break
		}
		if strings.Contains(out.String(), "hi\n") {
			cons.Push([]byte("halt\n"))
		}
	}
	if got := k.Run(); got != kernel.StopPowerOff {
		t.Fatalf("Run after halt: %v", got)
	}
	s := out.String()
	if !strings.Contains(s, prompt) {
		t.Errorf("no prompt printed:\n%s", s)
	}
	if !strings.Contains(s, "hi\n") {
		t.Errorf("echo output missing:\n%s", s)
	}
}

func TestReboot(t *testing.T) {
	k, _ := bootShell(t, "reboot\n", false)
	if got := k.Run(); got != kernel.StopReboot {
		t.Fatalf("Run: %v, want %v", got, kernel.StopReboot)
	}
}

func TestInstallCommand(t *testing.T) {
	k, out := bootShell(t, "install\nls /bin\n", false)
	k.Run()
	for _, p := range userland.Programs {
		if !k.Filesystem().Exists(p.Name) {
			t.Errorf("%s not installed", p.Name)
		}
	}
	if !strings.Contains(out.String(), "hello\n") {
		t.Errorf("ls /bin missing hello:\n%s", out.String())
	}
}

// mustRun executes a script to poweroff and returns the console output.
func mustRun(t *testing.T, script string) (*kernel.Kernel, string) {
	t.Helper()
	k, out := bootShell(t, script, false)
	if got := k.Run(); got != kernel.StopPowerOff {
		t.Fatalf("Run: %v, want %v", got, kernel.StopPowerOff)
	}
	return k, out.String()
}
