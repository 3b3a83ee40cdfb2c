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

package vcpu

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
	"hvept.dev/hvept/pkg/log"
	"hvept.dev/hvept/pkg/mtrr"
	"hvept.dev/hvept/pkg/physmem"
)

// MachineOpts are Machine options.
type MachineOpts struct {
	// VCPUs is the number of VCPUs.
	VCPUs int

	// Memory configures the arena holding every VCPU's tables.
	Memory physmem.Opts

	// Source provides MTRR snapshots to all VCPUs.
	Source mtrr.Source
}

// Machine is a set of VCPUs sharing one memory arena.
type Machine struct {
	mem   *physmem.Arena
	vcpus []*VCPU
}

// NewMachine creates opts.VCPUs VCPUs and prepares their tables. Each VCPU's
// tables are independent, so they are built in parallel.
func NewMachine(ctx context.Context, opts MachineOpts) (*Machine, error) {
	if opts.VCPUs <= 0 {
		return nil, fmt.Errorf("invalid VCPU count %d", opts.VCPUs)
	}
	mem, err := physmem.New(opts.Memory)
	if err != nil {
		return nil, err
	}
	m := &Machine{mem: mem}
	for id := 0; id < opts.VCPUs; id++ {
		c, err := New(Opts{ID: id, Memory: mem, Source: opts.Source})
		if err != nil {
			return nil, errors.Join(err, m.Release())
		}
		m.vcpus = append(m.vcpus, c)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, c := range m.vcpus {
		g.Go(func() error {
			return c.Prepare(gctx)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.Join(err, m.Release())
	}
	log.Infof("Prepared %d VCPUs, %d pages mapped", len(m.vcpus), mem.MappedPages())
	return m, nil
}

// VCPUs returns the machine's VCPUs, ordered by id.
func (m *Machine) VCPUs() []*VCPU {
	return m.vcpus
}

// Memory returns the machine's arena.
func (m *Machine) Memory() *physmem.Arena {
	return m.mem
}

// Release frees all memory. No VCPU may be used afterwards.
func (m *Machine) Release() error {
	m.vcpus = nil
	return m.mem.Release()
}
