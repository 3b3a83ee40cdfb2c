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
	"os"

	"github.com/google/subcommands"
	"hvept.dev/hvept/eptctl/cmd/util"
	"hvept.dev/hvept/eptctl/config"
	"hvept.dev/hvept/pkg/hostarch"
)

// Resolve implements subcommands.Command for the "resolve" command.
type Resolve struct {
	split addrList
}

// Name implements subcommands.Command.Name.
func (*Resolve) Name() string {
	return "resolve"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Resolve) Synopsis() string {
	return "print the EPT entries mapping guest-physical addresses"
}

// Usage implements subcommands.Command.Usage.
func (*Resolve) Usage() string {
	return `resolve [-split gpa,...] <gpa>... - builds the EPT tables of one VCPU and prints the PDPTE, PDE and PTE mapping each address.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Resolve) SetFlags(f *flag.FlagSet) {
	f.Var(&r.split, "split", "comma separated addresses whose large pages are split first.")
}

// Execute implements subcommands.Command.Execute.
func (r *Resolve) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() < 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	var addrs []hostarch.Addr
	for _, arg := range f.Args() {
		a, err := parseAddr(arg)
		if err != nil {
			util.Fatalf("%v", err)
		}
		addrs = append(addrs, a)
	}

	m, err := newMachine(ctx, conf, nil, 1)
	if err != nil {
		util.Fatalf("building machine: %v", err)
	}
	defer m.Release()

	c := m.VCPUs()[0]
	if len(r.split) > 0 {
		if err := c.Enter(); err != nil {
			util.Fatalf("%v", err)
		}
		for _, a := range r.split {
			if _, err := c.HandleViolation(ctx, a); err != nil {
				util.Fatalf("splitting %#x: %v", uint64(a), err)
			}
		}
	}
	for _, a := range addrs {
		writeResolve(os.Stdout, c.Tables(), c.Window(), a)
	}
	return subcommands.ExitSuccess
}
