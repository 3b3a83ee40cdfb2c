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

// Package mtrr takes point-in-time snapshots of the host's Memory Type Range
// Registers and computes the memory type they assign to a physical range.
//
// A Snapshot is immutable. Callers take a new one for every EPT build or
// memory-type resync, as the host configuration may change in between.
package mtrr

import (
	"context"
	"errors"
	"fmt"

	"hvept.dev/hvept/pkg/hostarch"
)

// ErrUnsupported is returned when IA32_MTRRCAP reports neither variable nor
// fixed ranges.
var ErrUnsupported = errors.New("MTRRs are not supported")

const (
	// FixedRangeEnd is the end of the window covered by the fixed ranges.
	FixedRangeEnd = 0x100000

	// FixedRangeCount is the number of fixed sub-ranges.
	FixedRangeCount = 88

	// DefaultPhysAddrBits is used when the physical address width is not
	// known. It is the architectural minimum for processors with PAE.
	DefaultPhysAddrBits = 36
)

// Capabilities is the decoded IA32_MTRRCAP.
type Capabilities struct {
	VariableCount  int
	FixedSupported bool
	WriteCombining bool
	SMRR           bool
}

// VariableRange is one PHYSBASE/PHYSMASK pair, as read.
type VariableRange struct {
	Base uint64
	Mask uint64
}

// Valid returns the PHYSMASK valid bit.
func (v VariableRange) Valid() bool {
	return v.Mask&maskValid != 0
}

// Type returns the memory type of the range.
func (v VariableRange) Type() hostarch.MemoryType {
	return hostarch.MemoryType(v.Base & baseTypeMask)
}

// span returns the start and size of the range for a contiguous mask.
// Non-contiguous masks are interpreted by their lowest set bit.
func (v VariableRange) span(physMask uint64) (start, size uint64) {
	m := v.Mask & physMask
	if m == 0 {
		return 0, physMask + hostarch.PageSize
	}
	return v.Base & m, m & -m
}

// Range is a decoded valid variable range.
type Range struct {
	Base uint64
	Size uint64
	Type hostarch.MemoryType
}

// Snapshot is a point-in-time view of the MTRRs of one logical CPU.
type Snapshot struct {
	Capabilities Capabilities

	// Enabled and FixedEnabled are the IA32_MTRR_DEF_TYPE enable bits.
	Enabled      bool
	FixedEnabled bool

	// DefaultType applies to memory covered by no range.
	DefaultType hostarch.MemoryType

	// PhysAddrBits is MAXPHYADDR, which bounds PHYSBASE/PHYSMASK.
	PhysAddrBits uint

	Variable []VariableRange

	// Fixed holds the fixed sub-range types in address order: 8 of 64KB
	// from 0, 16 of 16KB from 0x80000 and 64 of 4KB from 0xC0000.
	Fixed [FixedRangeCount]hostarch.MemoryType
}

// Read takes a snapshot through r.
func Read(ctx context.Context, r MSRReader, physAddrBits uint) (*Snapshot, error) {
	capMSR, err := r.ReadMSR(ctx, MSRMTRRCap)
	if err != nil {
		return nil, fmt.Errorf("reading IA32_MTRRCAP: %w", err)
	}
	s := &Snapshot{
		Capabilities: Capabilities{
			VariableCount:  int(capMSR & capVariableCountMask),
			FixedSupported: capMSR&capFixed != 0,
			WriteCombining: capMSR&capWriteCombining != 0,
			SMRR:           capMSR&capSMRR != 0,
		},
		PhysAddrBits: physAddrBits,
	}
	if s.Capabilities.VariableCount == 0 && !s.Capabilities.FixedSupported {
		return nil, ErrUnsupported
	}

	def, err := r.ReadMSR(ctx, MSRMTRRDefType)
	if err != nil {
		return nil, fmt.Errorf("reading IA32_MTRR_DEF_TYPE: %w", err)
	}
	s.DefaultType = hostarch.MemoryType(def & defTypeMask)
	s.Enabled = def&defEnabled != 0
	s.FixedEnabled = def&defFixedEnabled != 0

	s.Variable = make([]VariableRange, s.Capabilities.VariableCount)
	for i := range s.Variable {
		msr := uint32(MSRPhysBase0 + 2*i)
		if s.Variable[i].Base, err = r.ReadMSR(ctx, msr); err != nil {
			return nil, fmt.Errorf("reading MSR %#x: %w", msr, err)
		}
		if s.Variable[i].Mask, err = r.ReadMSR(ctx, msr+1); err != nil {
			return nil, fmt.Errorf("reading MSR %#x: %w", msr+1, err)
		}
	}

	if s.Capabilities.FixedSupported {
		for i, msr := range fixedMSRs {
			v, err := r.ReadMSR(ctx, msr)
			if err != nil {
				return nil, fmt.Errorf("reading MSR %#x: %w", msr, err)
			}
			for j := 0; j < 8; j++ {
				s.Fixed[8*i+j] = hostarch.MemoryType(v >> (8 * j))
			}
		}
	}
	return s, nil
}

// physMask returns the mask of PHYSBASE/PHYSMASK address bits.
func (s *Snapshot) physMask() uint64 {
	bits := s.PhysAddrBits
	if bits == 0 || bits > 52 {
		bits = DefaultPhysAddrBits
	}
	return (uint64(1)<<bits - 1) &^ hostarch.PageMask
}

// Ranges returns the valid variable ranges in register order.
func (s *Snapshot) Ranges() []Range {
	physMask := s.physMask()
	var rs []Range
	for _, v := range s.Variable {
		if !v.Valid() {
			continue
		}
		base, size := v.span(physMask)
		rs = append(rs, Range{Base: base, Size: size, Type: v.Type()})
	}
	return rs
}

// fixedActive returns true if the fixed ranges govern the first MiB.
func (s *Snapshot) fixedActive() bool {
	return s.Capabilities.FixedSupported && s.FixedEnabled
}

// FixedRangeType returns the fixed-range type of addr. ok is false if addr is
// outside the fixed-range window or the fixed ranges are not active.
func (s *Snapshot) FixedRangeType(addr hostarch.Addr) (mt hostarch.MemoryType, ok bool) {
	if !s.Enabled || !s.fixedActive() {
		return hostarch.MemoryTypeInvalid, false
	}
	switch {
	case addr < 0x80000:
		return s.Fixed[addr>>16], true
	case addr < 0xc0000:
		return s.Fixed[8+(addr-0x80000)>>14], true
	case addr < FixedRangeEnd:
		return s.Fixed[24+(addr-0xc0000)>>12], true
	default:
		return hostarch.MemoryTypeInvalid, false
	}
}

// FixedRangeBounds returns the address range of fixed sub-range i.
func FixedRangeBounds(i int) (start, end hostarch.Addr) {
	switch {
	case i < 8:
		start = hostarch.Addr(i) << 16
		return start, start + 1<<16
	case i < 24:
		start = 0x80000 + hostarch.Addr(i-8)<<14
		return start, start + 1<<14
	default:
		start = 0xc0000 + hostarch.Addr(i-24)<<12
		return start, start + 1<<12
	}
}
