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
	"os"
	"path/filepath"

	"github.com/google/subcommands"

	"tern.dev/tern/pkg/userland"
	"tern.dev/tern/runtern/config"
)

// Install implements subcommands.Command for the "install" command. It
// writes the built-in userland into a root directory so images can be
// inspected and edited on the host before a run.
type Install struct{}

// Name implements subcommands.Command.Name.
func (*Install) Name() string {
	return "install"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Install) Synopsis() string {
	return "write the built-in userland into the root directory"
}

// Usage implements subcommands.Command.Usage.
func (*Install) Usage() string {
	return `install --root DIR - write the demo programs and boot script into DIR.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Install) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Install) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	conf := args[0].(*config.Config)
	if conf.RootDir == "" {
		Fatalf("install requires --root")
	}
	for _, p := range userland.Programs {
		path := filepath.Join(conf.RootDir, filepath.FromSlash(p.Name))
		if err := writeHostFile(path, p.Build(), 0755); err != nil {
			Fatalf("installing %s: %v", p.Name, err)
		}
	}
	script := filepath.Join(conf.RootDir, "ini", "boot.sh")
	if err := writeHostFile(script, []byte(userland.BootScript), 0644); err != nil {
		Fatalf("installing boot script: %v", err)
	}
	fmt.Printf("installed %d programs and the boot script under %s\n",
		len(userland.Programs), conf.RootDir)
	return subcommands.ExitSuccess
}

func writeHostFile(path string, data []byte, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, mode)
}
