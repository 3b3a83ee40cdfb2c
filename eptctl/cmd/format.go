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
	"fmt"
	"io"
	"sort"

	"hvept.dev/hvept/pkg/ept"
	"hvept.dev/hvept/pkg/hostarch"
	"hvept.dev/hvept/pkg/mtrr"
)

// formatSize formats a byte count in the largest binary unit dividing it.
func formatSize(n uint64) string {
	switch {
	case n != 0 && n%(1<<30) == 0:
		return fmt.Sprintf("%dGiB", n>>30)
	case n != 0 && n%(1<<20) == 0:
		return fmt.Sprintf("%dMiB", n>>20)
	case n != 0 && n%(1<<10) == 0:
		return fmt.Sprintf("%dKiB", n>>10)
	default:
		return fmt.Sprintf("%dB", n)
	}
}

// writeSummary writes the mapped range of t and how much of it each memory
// type covers.
func writeSummary(w io.Writer, id int, t *ept.Tables, win ept.Window) {
	bytes := make(map[hostarch.MemoryType]uint64)
	var large, small int
	t.ForEachLeaf(win, func(_ hostarch.Addr, size uint64, mt hostarch.MemoryType) {
		bytes[mt] += size
		if size == hostarch.HugePageSize {
			large++
		} else {
			small++
		}
	})
	fmt.Fprintf(w, "VCPU %d: [0, %#x) mapped by %d large pages and %d 4KB pages\n", id, uint64(ept.MappedSize), large, small)

	types := make([]hostarch.MemoryType, 0, len(bytes))
	for mt := range bytes {
		types = append(types, mt)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	for _, mt := range types {
		fmt.Fprintf(w, "  %-2s %s\n", mt.ShortString(), formatSize(bytes[mt]))
	}
}

// writePDEs writes the first n PDEs of t in address order.
func writePDEs(w io.Writer, t *ept.Tables, n int) {
	for i := range t.PD {
		for j := range t.PD[i] {
			if n <= 0 {
				return
			}
			n--
			pde := t.PD[i][j]
			base := hostarch.Addr(i)<<30 | hostarch.Addr(j)<<21
			if pde.IsLargePage() {
				fmt.Fprintf(w, "%#010x  %-10s %s %s\n", uint64(base), pde.Kind(), pde.Permissions(), pde.MemoryType().ShortString())
			} else {
				fmt.Fprintf(w, "%#010x  %-10s %s -> PT %#x\n", uint64(base), pde.Kind(), pde.Permissions(), pde.Address())
			}
		}
	}
}

// writeResolve writes the entries mapping addr.
func writeResolve(w io.Writer, t *ept.Tables, win ept.Window, addr hostarch.Addr) {
	fmt.Fprintf(w, "%#x:\n", uint64(addr))
	pdpte, ok := t.PDPTEFor(addr)
	if !ok {
		fmt.Fprintf(w, "  not mapped\n")
		return
	}
	fmt.Fprintf(w, "  PDPTE %#016x -> PD %#x %s\n", uint64(*pdpte), pdpte.Address(), pdpte.Permissions())

	pde, _ := t.PDEFor(addr)
	if base, mt, ok := pde.LargePage(); ok {
		fmt.Fprintf(w, "  PDE   %#016x large page %#x %s %s\n", uint64(*pde), uint64(base), pde.Permissions(), mt.ShortString())
	} else {
		fmt.Fprintf(w, "  PDE   %#016x -> PT %#x %s\n", uint64(*pde), pde.Address(), pde.Permissions())
	}

	pte, ok := t.PTEFor(win, addr)
	if !ok {
		fmt.Fprintf(w, "  PTE   no PT\n")
		return
	}
	fmt.Fprintf(w, "  PTE   %#016x page %#x %s %s\n", uint64(*pte), pte.Address(), pte.Permissions(), pte.MemoryType().ShortString())
}

// writeSnapshot writes an MTRR snapshot. Consecutive fixed sub-ranges of the
// same type are merged.
func writeSnapshot(w io.Writer, s *mtrr.Snapshot) {
	c := s.Capabilities
	fmt.Fprintf(w, "Capabilities: %d variable ranges, fixed %t, write-combining %t, SMRR %t\n", c.VariableCount, c.FixedSupported, c.WriteCombining, c.SMRR)
	fmt.Fprintf(w, "Enabled: %t, fixed ranges enabled: %t\n", s.Enabled, s.FixedEnabled)
	fmt.Fprintf(w, "Default type: %s\n", s.DefaultType)
	fmt.Fprintf(w, "Physical address bits: %d\n", s.PhysAddrBits)

	fmt.Fprintf(w, "Variable ranges:\n")
	ranges := s.Ranges()
	if len(ranges) == 0 {
		fmt.Fprintf(w, "  none\n")
	}
	for _, r := range ranges {
		fmt.Fprintf(w, "  [%#x, %#x) %s %s\n", r.Base, r.Base+r.Size, formatSize(r.Size), r.Type.ShortString())
	}

	if !c.FixedSupported {
		return
	}
	fmt.Fprintf(w, "Fixed ranges:\n")
	for i := 0; i < mtrr.FixedRangeCount; {
		start, end := mtrr.FixedRangeBounds(i)
		mt := s.Fixed[i]
		for i++; i < mtrr.FixedRangeCount && s.Fixed[i] == mt; i++ {
			_, end = mtrr.FixedRangeBounds(i)
		}
		fmt.Fprintf(w, "  [%#06x, %#06x) %s\n", uint64(start), uint64(end), mt.ShortString())
	}
}
