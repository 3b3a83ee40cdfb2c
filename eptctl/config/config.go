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

// Package config holds the eptctl configuration, read from a TOML file and
// overridden by global flags.
package config

import (
	"flag"
	"fmt"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"hvept.dev/hvept/pkg/hostarch"
	"hvept.dev/hvept/pkg/log"
	"hvept.dev/hvept/pkg/mtrr"
	"hvept.dev/hvept/pkg/physmem"
	"hvept.dev/hvept/pkg/vcpu"
)

// MTRR sources.
const (
	// SourceProfile takes snapshots from the [mtrr] table.
	SourceProfile = "profile"

	// SourceHost reads the MSRs of a host CPU.
	SourceHost = "host"
)

// Log formats.
var logFormats = []string{"text", "json"}

// Config is the eptctl configuration.
type Config struct {
	// VCPUs is the number of VCPUs. Zero means one per host CPU.
	VCPUs int `toml:"vcpus"`

	// ArenaPages is the size of each arena mapping, in pages.
	ArenaPages int `toml:"arena_pages"`

	// PhysicalBase is the simulated physical address of the arena.
	PhysicalBase uint64 `toml:"physical_base"`

	// Debug enables debug logging.
	Debug bool `toml:"debug"`

	// LogFormat is text or json.
	LogFormat string `toml:"log_format"`

	// LogFile is a log file pattern. %COMMAND%, %TIMESTAMP% and %PID% are
	// expanded. Empty logs to stderr.
	LogFile string `toml:"log_file"`

	// AlsoLogToStderr copies log output to stderr when LogFile is set.
	AlsoLogToStderr bool `toml:"alsologtostderr"`

	MTRR MTRR `toml:"mtrr"`
}

// MTRR configures the MTRR snapshot source. When Source is SourceProfile the
// embedded Profile describes the MTRRs.
type MTRR struct {
	Source string `toml:"source"`

	// CPU is the host CPU read by SourceHost.
	CPU int `toml:"cpu"`

	mtrr.Profile
}

// Default returns the default configuration: one VCPU per host CPU and all
// memory write-back.
func Default() *Config {
	return &Config{
		ArenaPages:   physmem.DefaultOpts.ChunkPages,
		PhysicalBase: physmem.DefaultOpts.PhysicalBase,
		LogFormat:    "text",
		MTRR: MTRR{
			Source:  SourceProfile,
			Profile: mtrr.WriteBackProfile,
		},
	}
}

// Load reads the file at path over the defaults.
func Load(path string) (*Config, error) {
	c := Default()
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return nil, fmt.Errorf("decoding config file %q: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		return nil, fmt.Errorf("config file %q: unknown keys %s", path, strings.Join(keys, ", "))
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config file %q: %w", path, err)
	}
	return c, nil
}

// Validate checks c for errors.
func (c *Config) Validate() error {
	if c.VCPUs < 0 {
		return fmt.Errorf("vcpus must not be negative: %d", c.VCPUs)
	}
	if c.ArenaPages < 0 {
		return fmt.Errorf("arena_pages must not be negative: %d", c.ArenaPages)
	}
	if !hostarch.Addr(c.PhysicalBase).IsPageAligned() {
		return fmt.Errorf("physical_base %#x is not page aligned", c.PhysicalBase)
	}
	if !validLogFormat(c.LogFormat) {
		return fmt.Errorf("invalid log_format %q, must be one of %s", c.LogFormat, strings.Join(logFormats, ", "))
	}
	switch c.MTRR.Source {
	case SourceProfile:
		if _, err := c.MTRR.Profile.Snapshot(); err != nil {
			return fmt.Errorf("mtrr: %w", err)
		}
	case SourceHost:
		if c.MTRR.CPU < 0 {
			return fmt.Errorf("mtrr: cpu must not be negative: %d", c.MTRR.CPU)
		}
	default:
		return fmt.Errorf("mtrr: invalid source %q, must be %q or %q", c.MTRR.Source, SourceProfile, SourceHost)
	}
	return nil
}

func validLogFormat(format string) bool {
	for _, f := range logFormats {
		if f == format {
			return true
		}
	}
	return false
}

// RegisterFlags registers the global flags that populate Config.
func RegisterFlags(fs *flag.FlagSet) {
	fs.String("config", "", "path to a TOML configuration file.")
	fs.Bool("debug", false, "enable debug logging.")
	fs.String("log-format", "text", "log format: text (default) or json.")
	fs.String("log-file", "", "log file pattern, may contain %COMMAND%, %TIMESTAMP% and %PID%. Empty logs to stderr.")
	fs.Bool("alsologtostderr", false, "send log messages to stderr as well as the log file.")
	fs.Int("vcpus", 0, "number of VCPUs. 0 uses the configured value, or one per host CPU.")
}

// NewFromFlags creates a Config from the configuration file named by the
// -config flag, if any, then applies flags that were set explicitly.
func NewFromFlags(fs *flag.FlagSet) (*Config, error) {
	c := Default()
	if path := fs.Lookup("config").Value.String(); path != "" {
		var err error
		if c, err = Load(path); err != nil {
			return nil, err
		}
	}

	var err error
	fs.Visit(func(f *flag.Flag) {
		if err != nil {
			return
		}
		switch f.Name {
		case "debug":
			c.Debug, err = strconv.ParseBool(f.Value.String())
		case "log-format":
			c.LogFormat = f.Value.String()
		case "log-file":
			c.LogFile = f.Value.String()
		case "alsologtostderr":
			c.AlsoLogToStderr, err = strconv.ParseBool(f.Value.String())
		case "vcpus":
			if n, _ := strconv.Atoi(f.Value.String()); n > 0 {
				c.VCPUs = n
			}
		}
	})
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// NumVCPUs returns the number of VCPUs to create.
func (c *Config) NumVCPUs() int {
	if c.VCPUs > 0 {
		return c.VCPUs
	}
	return runtime.NumCPU()
}

// Source returns the configured MTRR source.
func (c *Config) Source() mtrr.Source {
	if c.MTRR.Source == SourceHost {
		return mtrr.HostSource(c.MTRR.CPU)
	}
	return &mtrr.ProfileSource{Profile: c.MTRR.Profile}
}

// MachineOpts returns the options for a machine of NumVCPUs VCPUs.
func (c *Config) MachineOpts() vcpu.MachineOpts {
	return vcpu.MachineOpts{
		VCPUs: c.NumVCPUs(),
		Memory: physmem.Opts{
			PhysicalBase: c.PhysicalBase,
			ChunkPages:   c.ArenaPages,
		},
		Source: c.Source(),
	}
}

// Log logs the configuration.
func (c *Config) Log() {
	log.Infof("Config:")
	log.Infof("\tVCPUs: %d", c.NumVCPUs())
	log.Infof("\tArena: %d pages per mapping, physical base %#x", c.ArenaPages, c.PhysicalBase)
	log.Infof("\tDebug: %t, log format: %s", c.Debug, c.LogFormat)
	switch c.MTRR.Source {
	case SourceHost:
		log.Infof("\tMTRR: host CPU %d", c.MTRR.CPU)
	default:
		p := c.MTRR.Profile
		log.Infof("\tMTRR: profile, enabled %t, fixed %t, default %s, %d ranges", p.Enabled, p.FixedEnabled, p.Default, len(p.Ranges))
	}
}
