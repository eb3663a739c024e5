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

package userland

import (
	"bytes"
	"testing"

	"tern.dev/tern/pkg/loader"
	"tern.dev/tern/pkg/memfs"
)

func TestProgramImages(t *testing.T) {
	for _, p := range Programs {
		t.Run(p.Name, func(t *testing.T) {
			image := p.Build()
			img, err := loader.Parse(image)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if img.Entry != linkBase {
				t.Errorf("entry %#x, want %#x", img.Entry, linkBase)
			}
			if len(img.Segments) == 0 {
				t.Fatal("no loadable segments")
			}
			seg := img.Segments[0]
			if !seg.Access.Execute {
				t.Errorf("segment access %v is not executable", seg.Access)
			}
			if len(seg.Data) == 0 {
				t.Error("empty text segment")
			}
		})
	}
}

func TestBuildDeterministic(t *testing.T) {
	for _, p := range Programs {
		if !bytes.Equal(p.Build(), p.Build()) {
			t.Errorf("%s: image changes between builds", p.Name)
		}
	}
}

func TestInstall(t *testing.T) {
	fs := memfs.New()
	if err := Install(fs); err != nil {
		t.Fatalf("Install: %v", err)
	}
	for _, p := range Programs {
		info, err := fs.Stat(p.Name)
		if err != nil {
			t.Fatalf("Stat(%s): %v", p.Name, err)
		}
		if info.IsDir {
			t.Errorf("%s installed as a directory", p.Name)
		}
		if info.Size == 0 {
			t.Errorf("%s installed empty", p.Name)
		}
	}
	script, err := fs.ReadFile("/ini/boot.sh")
	if err != nil {
		t.Fatalf("ReadFile(/ini/boot.sh): %v", err)
	}
	if string(script) != BootScript {
		t.Errorf("boot script mismatch:\n%s", script)
	}
}
