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

package config

import (
	"flag"
	"fmt"
	"reflect"

	"github.com/BurntSushi/toml"
)

// RegisterFlags registers the flags that populate Config. Defaults here
// are the built-in layer; the config file and the command line override
// them in that order.
func RegisterFlags(flagSet *flag.FlagSet) {
	flagSet.String("root", "", "host directory seeding the guest filesystem; empty uses the built-in userland only.")
	flagSet.String("config", "", "TOML config file layered under the command line flags.")

	// Logging flags.
	flagSet.String("log", "", "file path where the monitor log is written, default is to discard.")
	flagSet.String("log-format", "text", "log format: text (default), json, or json-k8s.")
	flagSet.Bool("debug", false, "enable debug logging.")
	flagSet.Bool("alsologtostderr", false, "send log messages to stderr as well.")

	// Machine shape flags.
	flagSet.Uint("memory-mib", 64, "guest physical memory in MiB, below 1024.")
	flagSet.Uint("tick-hz", 1000, "scheduler tick rate against host time; 0 runs unpaced.")
	flagSet.Uint("instr-per-tick", 20000, "guest instruction budget of one tick.")

	// Monitor behavior flags.
	flagSet.String("metrics-file", "", "file path where a Prometheus snapshot is written on shutdown.")
	flagSet.Uint("max-reboots", 8, "guest reboots allowed before the monitor powers off instead.")
}

// NewFromFlags builds a Config from a parsed flag set, layering the TOML
// config file (if any) under flags given explicitly on the command line.
func NewFromFlags(flagSet *flag.FlagSet) (*Config, error) {
	conf := &Config{}

	obj := reflect.ValueOf(conf).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		name, ok := st.Field(i).Tag.Lookup("flag")
		if !ok {
			continue
		}
		fl := flagSet.Lookup(name)
		if fl == nil {
			panic(fmt.Sprintf("flag %q not found", name))
		}
		obj.Field(i).Set(reflect.ValueOf(fl.Value.(flag.Getter).Get()))
	}

	if err := conf.applyFile(flagSet); err != nil {
		return nil, err
	}
	if err := conf.validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// applyFile layers ConfigFile under the command line: a file key takes
// effect only when its flag was not given explicitly.
func (c *Config) applyFile(flagSet *flag.FlagSet) error {
	if c.ConfigFile == "" {
		return nil
	}
	var file Config
	md, err := toml.DecodeFile(c.ConfigFile, &file)
	if err != nil {
		return fmt.Errorf("reading config file %q: %w", c.ConfigFile, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("unknown keys in config file %q: %v", c.ConfigFile, undecoded)
	}

	explicit := make(map[string]bool)
	flagSet.Visit(func(f *flag.Flag) {
		explicit[f.Name] = true
	})

	obj := reflect.ValueOf(c).Elem()
	fileObj := reflect.ValueOf(&file).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		key, ok := f.Tag.Lookup("toml")
		if !ok || !md.IsDefined(key) {
			continue
		}
		if flagName, ok := f.Tag.Lookup("flag"); ok && explicit[flagName] {
			continue
		}
		obj.Field(i).Set(fileObj.Field(i))
	}
	return nil
}
