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
	"hvept.dev/hvept/pkg/metric"
)

var (
	gcCyclesMetric = metric.MustCreateNewRuntimeUint64Metric("go_gc_cycles_total", "/gc/cycles/total:gc-cycles")
	heapGoalMetric = metric.MustCreateNewRuntimeUint64Metric("go_gc_heap_goal_bytes", "/gc/heap/goal:bytes")
)

// Metrics implements subcommands.Command for the "metrics" command.
type Metrics struct {
	split addrList
}

// Name implements subcommands.Command.Name.
func (*Metrics) Name() string {
	return "metrics"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Metrics) Synopsis() string {
	return "exercise every VCPU and print metrics in Prometheus format"
}

// Usage implements subcommands.Command.Usage.
func (*Metrics) Usage() string {
	return `metrics [-split gpa,...] - builds, splits and resyncs the EPT tables of every VCPU, then prints the resulting metrics in Prometheus text format.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (m *Metrics) SetFlags(f *flag.FlagSet) {
	f.Var(&m.split, "split", "comma separated addresses whose large pages are split.")
}

// Execute implements subcommands.Command.Execute.
func (m *Metrics) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	machine, err := newMachine(ctx, conf, nil, 0)
	if err != nil {
		util.Fatalf("building machine: %v", err)
	}
	defer machine.Release()
	if err := enterAll(machine); err != nil {
		util.Fatalf("%v", err)
	}
	if err := resyncAll(ctx, os.Stderr, machine, m.split); err != nil {
		util.Fatalf("%v", err)
	}
	if err := metric.WriteText(os.Stdout); err != nil {
		util.Fatalf("writing metrics: %v", err)
	}
	return subcommands.ExitSuccess
}
