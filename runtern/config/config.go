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

// Package config holds the runtern configuration and tracks where each
// value came from. Values layer in order: built-in defaults, then the TOML
// config file, then command line flags. Every field is tagged with both
// its flag name and its config file key.
package config

import (
	"fmt"

	"tern.dev/tern/pkg/log"
)

// Config is the machine and monitor configuration handed to every
// subcommand.
type Config struct {
	// RootDir is the host directory seeding the guest filesystem. Empty
	// boots a machine with only the built-in userland.
	RootDir string `flag:"root" toml:"root"`

	// ConfigFile is the TOML file layered under the command line. It has
	// no TOML key; a config file cannot name another.
	ConfigFile string `flag:"config" toml:"-"`

	// LogFilename receives the monitor's log. Empty discards it unless
	// AlsoLogToStderr is set.
	LogFilename string `flag:"log" toml:"log"`

	// LogFormat selects the log emitter: text, json or json-k8s.
	LogFormat string `flag:"log-format" toml:"log-format"`

	// Debug enables debug-level logging.
	Debug bool `flag:"debug" toml:"debug"`

	// AlsoLogToStderr duplicates the log onto stderr.
	AlsoLogToStderr bool `flag:"alsologtostderr" toml:"alsologtostderr"`

	// MemoryMiB sizes guest physical memory.
	MemoryMiB uint `flag:"memory-mib" toml:"memory-mib"`

	// TickHz paces the scheduler clock against host time. Zero runs
	// unpaced at full speed.
	TickHz uint `flag:"tick-hz" toml:"tick-hz"`

	// InstrPerTick is the guest instruction budget of one tick.
	InstrPerTick uint `flag:"instr-per-tick" toml:"instr-per-tick"`

	// MetricsFile receives a Prometheus snapshot when the machine stops.
	MetricsFile string `flag:"metrics-file" toml:"metrics-file"`

	// MaxReboots caps guest-requested reboots before the monitor gives up
	// and powers off, so a reboot-looping image cannot wedge the host.
	MaxReboots uint `flag:"max-reboots" toml:"max-reboots"`
}

// validate rejects configurations the kernel would refuse or that make no
// operational sense.
func (c *Config) validate() error {
	switch c.LogFormat {
	case "text", "json", "json-k8s":
	default:
		return fmt.Errorf("invalid log format %q, must be text, json or json-k8s", c.LogFormat)
	}
	if c.MemoryMiB == 0 || c.MemoryMiB >= 1024 {
		return fmt.Errorf("memory-mib %d out of range (0, 1024)", c.MemoryMiB)
	}
	if c.InstrPerTick == 0 {
		return fmt.Errorf("instr-per-tick must be positive")
	}
	return nil
}

// Log logs the effective configuration.
func (c *Config) Log() {
	log.Infof("config: root=%q memory=%dMiB tick-hz=%d instr-per-tick=%d max-reboots=%d",
		c.RootDir, c.MemoryMiB, c.TickHz, c.InstrPerTick, c.MaxReboots)
	if c.MetricsFile != "" {
		log.Infof("config: metrics-file=%q", c.MetricsFile)
	}
}
