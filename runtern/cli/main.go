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

// Package cli is the main entrypoint for runtern.
package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/google/subcommands"

	"tern.dev/tern/pkg/log"
	"tern.dev/tern/runtern/cmd"
	"tern.dev/tern/runtern/config"
	"tern.dev/tern/runtern/version"
)

// Main is the main entrypoint.
func Main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(new(cmd.Run), "")
	subcommands.Register(new(cmd.Install), "")
	subcommands.Register(new(cmd.Version), "")

	config.RegisterFlags(flag.CommandLine)
	showVersion := flag.Bool("version", false, "show version and exit.")

	// All subcommands must be registered before flag parsing.
	flag.Parse()

	if *showVersion {
		fmt.Fprintf(os.Stdout, "runtern version %s\n", version.Version())
		os.Exit(0)
	}

	conf, err := config.NewFromFlags(flag.CommandLine)
	if err != nil {
		cmd.Fatalf("%v", err)
	}

	// The guest console owns stdout, so logs go to the log file or
	// stderr only.
	if conf.Debug {
		log.SetLevel(log.Debug)
	}
	var emitters log.MultiEmitter
	if conf.LogFilename != "" {
		// Appending keeps earlier boots' logs when a root directory is
		// reused across runs.
		f, err := os.OpenFile(conf.LogFilename, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			cmd.Fatalf("opening log file %q: %v", conf.LogFilename, err)
		}
		emitters = append(emitters, newEmitter(conf.LogFormat, f))
	}
	if conf.AlsoLogToStderr {
		emitters = append(emitters, newEmitter(conf.LogFormat, os.Stderr))
	}
	switch len(emitters) {
	case 0:
		log.SetTarget(newEmitter("text", io.Discard))
	case 1:
		log.SetTarget(emitters[0])
	default:
		log.SetTarget(&emitters)
	}

	const delimString = `**************** Tern ****************`
	log.Infof(delimString)
	log.Infof("runtern version %s, %s, %s, PID %d", version.Version(), runtime.Version(), runtime.GOARCH, os.Getpid())
	log.Infof("args: %v", os.Args)
	conf.Log()
	log.Infof(delimString)

	// The run command stores the guest's last exit code here.
	var status int
	switch code := subcommands.Execute(context.Background(), conf, &status); code {
	case subcommands.ExitSuccess:
		log.Infof("exiting with status %d", status)
		os.Exit(status)
	default:
		os.Exit(int(code))
	}
}

func newEmitter(format string, w io.Writer) log.Emitter {
	switch format {
	case "text":
		return log.GoogleEmitter{Writer: &log.Writer{Next: w}}
	case "json":
		return log.JSONEmitter{Writer: &log.Writer{Next: w}}
	case "json-k8s":
		return log.K8sJSONEmitter{Writer: &log.Writer{Next: w}}
	}
	cmd.Fatalf("invalid log format %q, must be text, json or json-k8s", format)
	panic("unreachable")
}
