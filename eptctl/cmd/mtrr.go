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

// MTRR implements subcommands.Command for the "mtrr" command.
type MTRR struct{}

// Name implements subcommands.Command.Name.
func (*MTRR) Name() string {
	return "mtrr"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*MTRR) Synopsis() string {
	return "print the configured MTRR snapshot"
}

// Usage implements subcommands.Command.Usage.
func (*MTRR) Usage() string {
	return `mtrr - takes a snapshot from the configured MTRR source and prints it.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*MTRR) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*MTRR) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	s, err := conf.Source().Snapshot(ctx)
	if err != nil {
		util.Fatalf("reading MTRRs: %v", err)
	}
	writeSnapshot(os.Stdout, s)
	return subcommands.ExitSuccess
}
