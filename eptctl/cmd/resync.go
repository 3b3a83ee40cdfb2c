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

package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"
	"hvept.dev/hvept/eptctl/cmd/util"
	"hvept.dev/hvept/eptctl/config"
	"hvept.dev/hvept/pkg/vcpu"
)

// Resync implements subcommands.Command for the "resync" command.
type Resync struct {
	split   addrList
	profile string
}

// Name implements subcommands.Command.Name.
func (*Resync) Name() string {
	return "resync"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Resync) Synopsis() string {
	return "build, split and resync the EPT tables of every VCPU"
}

// Usage implements subcommands.Command.Usage.
func (*Resync) Usage() string {
	return `resync [-split gpa,...] [-profile <config file>] - builds the EPT tables of every VCPU, enters the guest, splits the large pages covering the given addresses and resyncs memory types, optionally against the MTRRs of another configuration file.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Resync) SetFlags(f *flag.FlagSet) {
	f.Var(&r.split, "split", "comma separated addresses whose large pages are split before the resync.")
	f.StringVar(&r.profile, "profile", "", "configuration file whose [mtrr] table is used for the resync.")
}

// Execute implements subcommands.Command.Execute.
func (r *Resync) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	src := &switchSource{src: conf.Source()}
	m, err := newMachine(ctx, conf, src, 0)
	if err != nil {
		util.Fatalf("building machine: %v", err)
	}
	defer m.Release()
	if err := enterAll(m); err != nil {
		util.Fatalf("%v", err)
	}

	if r.profile != "" {
		next, err := config.Load(r.profile)
		if err != nil {
			util.Fatalf("%v", err)
		}
		src.set(next.Source())
	}
	if err := resyncAll(ctx, os.Stdout, m, r.split); err != nil {
		util.Fatalf("%v", err)
	}
	return subcommands.ExitSuccess
}

// resyncAll splits the large pages covering split on every VCPU of m, then
// resyncs each and writes what changed.
func resyncAll(ctx context.Context, w io.Writer, m *vcpu.Machine, split addrList) error {
	for _, c := range m.VCPUs() {
		for _, a := range split {
			if err := c.Exit(ctx, vcpu.ExitInfo{Reason: vcpu.ExitEPTViolation, GuestPhysical: a}); err != nil {
				return fmt.Errorf("splitting %#x: %w", uint64(a), err)
			}
		}
		s, err := c.Resync(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "VCPU %d: %d large pages, %d page tables, %d entries changed type\n", c.ID(), s.LargePages, s.Tables, s.Updated)
	}
	return nil
}
