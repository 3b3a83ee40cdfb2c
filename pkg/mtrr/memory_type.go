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

import "hvept.dev/hvept/pkg/hostarch"

// FixedRangePolicy selects how a span that starts inside the fixed-range
// window is typed.
type FixedRangePolicy int

const (
	// FixedRangeWholeRegion types such a span uncacheable as a whole. The
	// fixed ranges may assign finer, different types inside the span; they
	// are not consulted. Honoring them would require EPT leaves of 4KB for
	// the first MiB at build time.
	FixedRangeWholeRegion FixedRangePolicy = iota
)

// Policy is the fixed-range policy MemoryType applies.
const Policy = FixedRangeWholeRegion

// MemoryType returns the memory type of the physical span [base,
// base+length), for use in a single EPT leaf.
//
// If the MTRRs are disabled the span is uncacheable. A span starting in the
// fixed-range window while fixed ranges are active is typed by Policy.
// Otherwise the types of all valid variable ranges overlapping the span are
// combined using the architectural precedence: uncacheable wins, write-through
// with write-back gives write-through, and any other conflict is resolved to
// uncacheable. The default type takes part unless one range covers the whole
// span, and is the result when no range overlaps.
func (s *Snapshot) MemoryType(base hostarch.Addr, length uint64) hostarch.MemoryType {
	if !s.Enabled {
		return hostarch.MemoryTypeUncacheable
	}
	if length == 0 {
		length = 1
	}
	if base < FixedRangeEnd && s.fixedActive() {
		switch Policy {
		case FixedRangeWholeRegion:
			return hostarch.MemoryTypeUncacheable
		}
	}

	start, end := uint64(base), uint64(base)+length
	physMask := s.physMask()
	mt := hostarch.MemoryTypeInvalid
	covered := false
	for _, v := range s.Variable {
		if !v.Valid() {
			continue
		}
		rs, size := v.span(physMask)
		re := rs + size
		if re <= start || rs >= end {
			continue
		}
		if rs <= start && end <= re {
			covered = true
		}
		mt = combine(mt, v.Type())
	}
	if mt == hostarch.MemoryTypeInvalid {
		return s.DefaultType
	}
	if !covered {
		mt = combine(mt, s.DefaultType)
	}
	return mt
}

// combine merges two overlapping types.
func combine(a, b hostarch.MemoryType) hostarch.MemoryType {
	switch {
	case a == hostarch.MemoryTypeInvalid:
		return b
	case a == b:
		return a
	case a == hostarch.MemoryTypeUncacheable || b == hostarch.MemoryTypeUncacheable:
		return hostarch.MemoryTypeUncacheable
	case (a == hostarch.MemoryTypeWriteThrough && b == hostarch.MemoryTypeWriteBack) ||
		(a == hostarch.MemoryTypeWriteBack && b == hostarch.MemoryTypeWriteThrough):
		return hostarch.MemoryTypeWriteThrough
	default:
		return hostarch.MemoryTypeUncacheable
	}
}
