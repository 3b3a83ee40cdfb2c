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

package mtrr

import (
	"context"
	"fmt"
	"math/bits"

	"hvept.dev/hvept/pkg/hostarch"
)

// Profile describes an MTRR configuration declaratively. It is used when the
// host MSRs are unavailable, and by tests.
type Profile struct {
	Enabled      bool           `toml:"enabled"`
	FixedEnabled bool           `toml:"fixed_enabled"`
	Default      string         `toml:"default"`
	FixedDefault string         `toml:"fixed_default"`
	PhysAddrBits uint           `toml:"phys_addr_bits"`
	Ranges       []RangeProfile `toml:"range"`
}

// RangeProfile is one variable range. Size must be a power of two of at least
// one page, and Base must be aligned to Size.
type RangeProfile struct {
	Base uint64 `toml:"base"`
	Size uint64 `toml:"size"`
	Type string `toml:"type"`
}

// WriteBackProfile types all memory write-back.
var WriteBackProfile = Profile{
	Enabled: true,
	Default: "WB",
}

// maxVariableRanges is the largest count IA32_MTRRCAP can report.
const maxVariableRanges = capVariableCountMask

// Snapshot encodes the profile as the MSR values a processor would report,
// and decodes them.
func (p Profile) Snapshot() (*Snapshot, error) {
	physAddrBits := p.PhysAddrBits
	if physAddrBits == 0 {
		physAddrBits = DefaultPhysAddrBits
	}
	if physAddrBits > 52 {
		return nil, fmt.Errorf("phys_addr_bits %d exceeds 52", physAddrBits)
	}
	if len(p.Ranges) > maxVariableRanges {
		return nil, fmt.Errorf("%d ranges exceed the maximum of %d", len(p.Ranges), maxVariableRanges)
	}

	def := hostarch.MemoryTypeUncacheable
	if p.Default != "" {
		var err error
		if def, err = hostarch.ParseMemoryType(p.Default); err != nil {
			return nil, fmt.Errorf("default: %w", err)
		}
	}
	msrs := MapReader{
		MSRMTRRCap: uint64(len(p.Ranges)) | capFixed | capWriteCombining,
		MSRMTRRDefType: func() uint64 {
			v := uint64(def)
			if p.Enabled {
				v |= defEnabled
			}
			if p.FixedEnabled {
				v |= defFixedEnabled
			}
			return v
		}(),
	}

	physMask := (uint64(1)<<physAddrBits - 1) &^ hostarch.PageMask
	for i, r := range p.Ranges {
		mt, err := hostarch.ParseMemoryType(r.Type)
		if err != nil {
			return nil, fmt.Errorf("range %d: %w", i, err)
		}
		if r.Size < hostarch.PageSize || bits.OnesCount64(r.Size) != 1 {
			return nil, fmt.Errorf("range %d: size %#x is not a power of two of at least one page", i, r.Size)
		}
		if r.Base&(r.Size-1) != 0 {
			return nil, fmt.Errorf("range %d: base %#x is not aligned to size %#x", i, r.Base, r.Size)
		}
		if r.Base+r.Size-1 > physMask|hostarch.PageMask {
			return nil, fmt.Errorf("range %d: [%#x, %#x) exceeds %d physical address bits", i, r.Base, r.Base+r.Size, physAddrBits)
		}
		msrs[uint32(MSRPhysBase0+2*i)] = r.Base | uint64(mt)
		msrs[uint32(MSRPhysMask0+2*i)] = (^(r.Size - 1) & physMask) | maskValid
	}

	fixed := def
	if p.FixedDefault != "" {
		var err error
		if fixed, err = hostarch.ParseMemoryType(p.FixedDefault); err != nil {
			return nil, fmt.Errorf("fixed_default: %w", err)
		}
	}
	for _, msr := range fixedMSRs {
		msrs[msr] = uint64(fixed) * 0x0101010101010101
	}

	// MapReader never fails.
	return Read(context.Background(), msrs, physAddrBits)
}
