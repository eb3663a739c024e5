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

package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	iofs "io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gofrs/flock"
	"github.com/google/subcommands"
	"github.com/mattn/go-tty"
	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"

	"tern.dev/tern/pkg/kernel"
	"tern.dev/tern/pkg/log"
	"tern.dev/tern/pkg/memfs"
	"tern.dev/tern/pkg/metric"
	"tern.dev/tern/pkg/prometheus"
	"tern.dev/tern/pkg/shell"
	"tern.dev/tern/pkg/syscalls"
	"tern.dev/tern/pkg/userland"
	"tern.dev/tern/runtern/config"
)

// lockFile guards a root directory against concurrent machines.
const lockFile = ".tern.lock"

// Run implements subcommands.Command for the "run" command.
type Run struct {
	script      string
	interactive bool
}

// Name implements subcommands.Command.Name.
func (*Run) Name() string {
	return "run"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Run) Synopsis() string {
	return "boot the machine and run the boot script"
}

// Usage implements subcommands.Command.Usage.
func (*Run) Usage() string {
	return `run [flags] - boot Tern, run /ini/boot.sh and exit with the last task's status.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Run) SetFlags(f *flag.FlagSet) {
	f.StringVar(&r.script, "script", "", "host file to run instead of the guest's /ini/boot.sh")
	f.BoolVar(&r.interactive, "interactive", false, "attach the console and keep the shell after the script")
}

// Execute implements subcommands.Command.Execute.
func (r *Run) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	conf := args[0].(*config.Config)
	status := args[1].(*int)
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}

	if conf.RootDir != "" {
		if err := os.MkdirAll(conf.RootDir, 0755); err != nil {
			Fatalf("creating root directory: %v", err)
		}
		lock := flock.New(filepath.Join(conf.RootDir, lockFile))
		held, err := lock.TryLock()
		if err != nil {
			Fatalf("locking root directory: %v", err)
		}
		if !held {
			Fatalf("root directory %q is in use by another runtern", conf.RootDir)
		}
		defer lock.Unlock()
	}

	var script []byte
	if r.script != "" {
		s, err := os.ReadFile(r.script)
		if err != nil {
			Fatalf("reading script: %v", err)
		}
		script = s
	}

	cio, err := r.openConsole()
	if err != nil {
		Fatalf("%v", err)
	}
	defer cio.close()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, unix.SIGINT, unix.SIGTERM)
	defer signal.Stop(sigs)

	// Guest reboots rebuild the machine. Backing off between attempts
	// keeps a reboot-looping image from spinning the host.
	boff := backoff.NewExponentialBackOff()
	boff.InitialInterval = 100 * time.Millisecond
	boff.MaxInterval = 5 * time.Second
	boff.MaxElapsedTime = 0

	reboots := uint(0)
	for {
		k, err := r.boot(conf, cio, script)
		if err != nil {
			Fatalf("boot: %v", err)
		}

		done := make(chan struct{})
		go func() {
			select {
			case <-sigs:
				log.Infof("shutdown signal received")
				k.RequestPowerOff()
			case <-done:
			}
		}()
		if cio.keys != nil {
			go pumpKeys(k, cio.keys, done, cio.out)
		}

		reason := runPaced(k, uint64(conf.TickHz))
		close(done)
		log.Infof("machine stopped: %v (uptime %.3fs, %d ticks)", reason, k.Uptime(), k.Ticks())

		if reason != kernel.StopReboot {
			*status = int(k.LastExitCode())
			break
		}
		if reboots++; reboots > conf.MaxReboots {
			log.Warningf("guest rebooted %d times, powering off", reboots-1)
			*status = int(k.LastExitCode())
			break
		}
		// A machine that ran for a while earns a fresh backoff budget.
		if k.Ticks() > 10*k.TickHz() {
			boff.Reset()
		}
		delay := boff.NextBackOff()
		log.Infof("guest reboot %d, relaunching in %v", reboots, delay)
		time.Sleep(delay)
	}

	if conf.MetricsFile != "" {
		if err := writeMetrics(conf.MetricsFile); err != nil {
			log.Warningf("writing metrics file: %v", err)
		}
	}
	return subcommands.ExitSuccess
}

// boot assembles a kernel: machine shape from the config, filesystem
// seeded from the root directory, built-in userland when the image has no
// boot script, and the shell on the idle loop.
func (r *Run) boot(conf *config.Config, cio *consoleIO, script []byte) (*kernel.Kernel, error) {
	k, err := kernel.Boot(kernel.Opts{
		MemoryBytes:  uint64(conf.MemoryMiB) << 20,
		TickHz:       uint64(conf.TickHz),
		InstrPerTick: uint64(conf.InstrPerTick),
		ConsoleOut:   cio.out,
		Syscalls:     syscalls.Table,
	})
	if err != nil {
		return nil, err
	}

	fs := k.Filesystem()
	if conf.RootDir != "" {
		if err := importRoot(fs, conf.RootDir); err != nil {
			return nil, fmt.Errorf("importing root directory: %w", err)
		}
	}
	if !fs.Exists("/ini/boot.sh") {
		if err := userland.Install(fs); err != nil {
			return nil, fmt.Errorf("installing userland: %w", err)
		}
	}

	bootScript := script
	if bootScript == nil {
		if data, err := fs.ReadFile("/ini/boot.sh"); err == nil {
			bootScript = data
		}
	}
	shell.New(k, shell.Opts{
		Script:      string(bootScript),
		Interactive: r.interactive,
	})
	return k, nil
}

// runPaced drives the tick loop, pacing it against host time when hz is
// nonzero.
func runPaced(k *kernel.Kernel, hz uint64) kernel.StopReason {
	if hz == 0 {
		return k.Run()
	}
	burst := int(hz / 10)
	if burst < 1 {
		burst = 1
	}
	lim := rate.NewLimiter(rate.Limit(hz), burst)
	ctx := context.Background()
	for {
		if err := lim.Wait(ctx); err != nil {
			k.RequestPowerOff()
		}
		if !k.Step() {
			return k.StopRequested()
		}
	}
}

// importRoot copies the host root directory into the guest filesystem.
// Dotfiles, the lock file among them, stay on the host.
func importRoot(fs *memfs.Filesystem, dir string) error {
	return filepath.WalkDir(dir, func(path string, d iofs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		guest := "/" + filepath.ToSlash(rel)
		if d.IsDir() {
			return fs.MkdirAll(guest)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return fs.WriteFile(guest, data)
	})
}

// writeMetrics dumps a Prometheus snapshot of the metric registry.
func writeMetrics(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = prometheus.Write(f, prometheus.ExportOptions{
		CommentHeader: "Tern runtime metrics.",
	}, metric.Snapshot(), prometheus.SnapshotExportOptions{})
	return err
}

// consoleIO binds the kernel console to the host: an output sink, and in
// interactive mode a stream of decoded keys from the tty.
type consoleIO struct {
	out     io.Writer
	keys    <-chan rune
	closeFn func()
}

func (c *consoleIO) close() {
	if c.closeFn != nil {
		c.closeFn()
	}
}

// openConsole picks stdout for scripted runs and a raw tty for
// interactive ones. The tty outlives reboots; only the pump goroutine is
// per-machine.
func (r *Run) openConsole() (*consoleIO, error) {
	if !r.interactive {
		return &consoleIO{out: os.Stdout}, nil
	}
	t, err := tty.Open()
	if err != nil {
		return nil, fmt.Errorf("opening tty: %w", err)
	}
	keys := make(chan rune, 128)
	go func() {
		defer close(keys)
		for {
			ch, err := t.ReadRune()
			if err != nil {
				return
			}
			keys <- ch
		}
	}()
	return &consoleIO{
		out:     crlfWriter{t.Output()},
		keys:    keys,
		closeFn: func() { t.Close() },
	}, nil
}

// pumpKeys feeds decoded keys into the kernel console, echoing them the
// way a line discipline would. It returns when the machine stops or the
// tty reaches EOF.
func pumpKeys(k *kernel.Kernel, keys <-chan rune, done <-chan struct{}, echo io.Writer) {
	cons := k.Console()
	for {
		select {
		case <-done:
			return
		case ch, ok := <-keys:
			if !ok {
				k.RequestPowerOff()
				return
			}
			switch {
			case ch == 0x03: // ^C
				fmt.Fprint(echo, "^C\n")
				cons.Push([]byte{0x03})
			case ch == 0x04: // ^D
				fmt.Fprint(echo, "^D\n")
				k.RequestPowerOff()
			case ch == 0x7f || ch == 0x08: // backspace
				if cons.Erase() {
					fmt.Fprint(echo, "\b \b")
				}
			case ch == '\r' || ch == '\n':
				fmt.Fprint(echo, "\n")
				cons.Push([]byte{'\n'})
			default:
				fmt.Fprint(echo, string(ch))
				cons.Push([]byte(string(ch)))
			}
		}
	}
}

// crlfWriter expands bare newlines for a raw-mode terminal.
type crlfWriter struct {
	w io.Writer
}

// Write implements io.Writer.Write.
func (c crlfWriter) Write(p []byte) (int, error) {
	start := 0
	for i, b := range p {
		if b != '\n' {
			continue
		}
		if _, err := c.w.Write(p[start:i]); err != nil {
			return start, err
		}
		if _, err := io.WriteString(c.w, "\r\n"); err != nil {
			return start, err
		}
		start = i + 1
	}
	if _, err := c.w.Write(p[start:]); err != nil {
		return start, err
	}
	return len(p), nil
}
