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

// Package cmd holds implementations of the eptctl commands.
package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"hvept.dev/hvept/eptctl/config"
	"hvept.dev/hvept/pkg/hostarch"
	"hvept.dev/hvept/pkg/mtrr"
	"hvept.dev/hvept/pkg/vcpu"
)

// switchSource is an mtrr.Source whose underlying source can be replaced,
// standing in for the host reprogramming its MTRRs.
type switchSource struct {
	mu  sync.Mutex
	src mtrr.Source
}

// Snapshot implements mtrr.Source.Snapshot.
func (s *switchSource) Snapshot(ctx context.Context) (*mtrr.Snapshot, error) {
	s.mu.Lock()
	src := s.src
	s.mu.Unlock()
	return src.Snapshot(ctx)
}

func (s *switchSource) set(src mtrr.Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.src = src
}

// newMachine creates and prepares a machine from conf, with the VCPU count
// overridden by vcpus if it is positive.
func newMachine(ctx context.Context, conf *config.Config, src mtrr.Source, vcpus int) (*vcpu.Machine, error) {
	opts := conf.MachineOpts()
	if src != nil {
		opts.Source = src
	}
	if vcpus > 0 {
		opts.VCPUs = vcpus
	}
	return vcpu.NewMachine(ctx, opts)
}

// enterAll enters every VCPU of m.
func enterAll(m *vcpu.Machine) error {
	for _, c := range m.VCPUs() {
		if err := c.Enter(); err != nil {
			return fmt.Errorf("entering VCPU %d: %w", c.ID(), err)
		}
	}
	return nil
}

// parseAddr parses a guest-physical address in Go integer syntax.
func parseAddr(s string) (hostarch.Addr, error) {
	v, err := strconv.ParseUint(strings.ReplaceAll(s, "_", ""), 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return hostarch.Addr(v), nil
}

// addrList is a flag.Value of comma separated addresses.
type addrList []hostarch.Addr

// String implements flag.Value.String.
func (l *addrList) String() string {
	parts := make([]string, 0, len(*l))
	for _, a := range *l {
		parts = append(parts, fmt.Sprintf("%#x", uint64(a)))
	}
	return strings.Join(parts, ",")
}

// Set implements flag.Value.Set.
func (l *addrList) Set(s string) error {
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part == "" {
			continue
		}
		a, err := parseAddr(part)
		if err != nil {
			return err
		}
		*l = append(*l, a)
	}
	return nil
}
