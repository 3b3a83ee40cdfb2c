// Copyright 2026 The gVisor Authors.
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
	"context"
	"flag"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/google/go-cmp/cmp"
	"hvept.dev/hvept/pkg/hostarch"
	"hvept.dev/hvept/pkg/mtrr"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "eptctl.toml")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(Default(), c); diff != "" {
		t.Errorf("NewFromFlags() without flags mismatch (-want +got):\n%s", diff)
	}
	if got, want := c.NumVCPUs(), runtime.NumCPU(); got != want {
		t.Errorf("NumVCPUs()=%d, want: %d", got, want)
	}
	if _, ok := c.Source().(*mtrr.ProfileSource); !ok {
		t.Errorf("Source()=%T, want: *mtrr.ProfileSource", c.Source())
	}
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
vcpus = 2
arena_pages = 256
physical_base = 0x100000000
debug = true
log_format = "json"
log_file = "/tmp/eptctl/%COMMAND%.log"

[mtrr]
source = "profile"
enabled = true
fixed_enabled = true
default = "UC"
fixed_default = "WB"
phys_addr_bits = 39

[[mtrr.range]]
base = 0
size = 0x80000000
type = "WB"

[[mtrr.range]]
base = 0xc0000000
size = 0x40000000
type = "WC"
`)
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	want := &Config{
		VCPUs:        2,
		ArenaPages:   256,
		PhysicalBase: 0x100000000,
		Debug:        true,
		LogFormat:    "json",
		LogFile:      "/tmp/eptctl/%COMMAND%.log",
		MTRR: MTRR{
			Source: SourceProfile,
			Profile: mtrr.Profile{
				Enabled:      true,
				FixedEnabled: true,
				Default:      "UC",
				FixedDefault: "WB",
				PhysAddrBits: 39,
				Ranges: []mtrr.RangeProfile{
					{Base: 0, Size: 0x80000000, Type: "WB"},
					{Base: 0xc0000000, Size: 0x40000000, Type: "WC"},
				},
			},
		},
	}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("Load() mismatch (-want +got):\n%s", diff)
	}

	opts := c.MachineOpts()
	if opts.VCPUs != 2 || opts.Memory.ChunkPages != 256 || opts.Memory.PhysicalBase != 0x100000000 {
		t.Errorf("MachineOpts()=%+v, want 2 VCPUs, 256 pages, base 0x100000000", opts)
	}
}

func TestLoadErrors(t *testing.T) {
	for _, tc := range []struct {
		name     string
		contents string
	}{
		{name: "syntax", contents: "vcpus = = 1"},
		{name: "unknown key", contents: "vcpu = 1"},
		{name: "negative vcpus", contents: "vcpus = -1"},
		{name: "unaligned base", contents: "physical_base = 0x1001"},
		{name: "log format", contents: `log_format = "xml"`},
		{name: "source", contents: "[mtrr]\nsource = \"bios\""},
		{name: "range type", contents: "[[mtrr.range]]\nbase = 0\nsize = 0x1000\ntype = \"fast\""},
		{name: "range alignment", contents: "[[mtrr.range]]\nbase = 0x1000\nsize = 0x2000\ntype = \"WB\""},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tc.contents)); err == nil {
				t.Errorf("Load() succeeded, want error")
			}
		})
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Errorf("Load() of missing file succeeded")
	}
}

func TestFromFlags(t *testing.T) {
	path := writeConfig(t, `
vcpus = 2
log_format = "json"

[mtrr]
source = "host"
cpu = 1
`)
	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	if err := testFlags.Parse([]string{"-config", path, "-debug", "-log-format=text", "-log-file=eptctl.%PID%.log", "-alsologtostderr", "-vcpus=3"}); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}
	if want := true; c.Debug != want {
		t.Errorf("Debug=%v, want: %v", c.Debug, want)
	}
	if want := "text"; c.LogFormat != want {
		t.Errorf("LogFormat=%v, want: %v", c.LogFormat, want)
	}
	if want := "eptctl.%PID%.log"; c.LogFile != want {
		t.Errorf("LogFile=%v, want: %v", c.LogFile, want)
	}
	if !c.AlsoLogToStderr {
		t.Errorf("AlsoLogToStderr=false, want: true")
	}
	if want := 3; c.VCPUs != want {
		t.Errorf("VCPUs=%v, want: %v", c.VCPUs, want)
	}
	if want := SourceHost; c.MTRR.Source != want {
		t.Errorf("MTRR.Source=%v, want: %v", c.MTRR.Source, want)
	}
	if _, ok := c.Source().(*mtrr.ReaderSource); !ok {
		t.Errorf("Source()=%T, want: *mtrr.ReaderSource", c.Source())
	}
}

func TestFromFlagsInvalid(t *testing.T) {
	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	if err := testFlags.Parse([]string{"-log-format=xml"}); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if _, err := NewFromFlags(testFlags); err == nil {
		t.Errorf("NewFromFlags() with invalid log format succeeded")
	}
}

func TestExample(t *testing.T) {
	c, err := Load(filepath.Join("testdata", "example.toml"))
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if got, want := len(c.MTRR.Ranges), 4; got != want {
		t.Errorf("len(Ranges)=%d, want: %d", got, want)
	}
	s, err := c.Source().Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot() failed: %v", err)
	}
	for _, tc := range []struct {
		base uint64
		want hostarch.MemoryType
	}{
		{0x40000000, hostarch.MemoryTypeWriteBack},
		{0xc0000000, hostarch.MemoryTypeUncacheable},
		{0xd0000000, hostarch.MemoryTypeWriteCombining},
		{0x180000000, hostarch.MemoryTypeWriteBack},
	} {
		if got := s.MemoryType(hostarch.Addr(tc.base), hostarch.HugePageSize); got != tc.want {
			t.Errorf("MemoryType(%#x)=%v, want: %v", tc.base, got, tc.want)
		}
	}
}
