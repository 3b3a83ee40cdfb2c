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
)

// Build implements subcommands.Command for the "build" command.
type Build struct {
	dump int
}

// Name implements subcommands.Command.Name.
func (*Build) Name() string {
	return "build"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Build) Synopsis() string {
	return "build the EPT tables of every VCPU and summarize them"
}

// Usage implements subcommands.Command.Usage.
func (*Build) Usage() string {
	return `build [-dump N] - builds the EPT tables of every VCPU from the configured MTRRs and prints the memory types they map.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (b *Build) SetFlags(f *flag.FlagSet) {
	f.IntVar(&b.dump, "dump", 0, "print the first N PDEs of VCPU 0.")
}

// Execute implements subcommands.Command.Execute.
func (b *Build) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	m, err := newMachine(ctx, conf, nil, 0)
	if err != nil {
		util.Fatalf("building machine: %v", err)
	}
	defer m.Release()

	for _, c := range m.VCPUs() {
		writeSummary(os.Stdout, c.ID(), c.Tables(), c.Window())
	}
	if b.dump > 0 {
		writePDEs(os.Stdout, m.VCPUs()[0].Tables(), b.dump)
	}
	return subcommands.ExitSuccess
}
