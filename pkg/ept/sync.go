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

package ept

import "hvept.dev/hvept/pkg/hostarch"

// SyncStats describes one SyncMemoryTypes pass.
type SyncStats struct {
	// LargePages is the number of PDELargePage entries visited.
	LargePages int

	// Tables is the number of PTs visited.
	Tables int

	// Updated is the number of leaf entries whose memory type changed.
	Updated int
}

// SyncMemoryTypes recomputes the memory type of every leaf in t from typer.
//
// Large-page PDEs are typed over their 2MB region. PDEs that Split turned
// into tables have each of their 512 PTEs typed over its 4KB page, with the
// PT reached through w. Both shapes are handled on every pass since any PDE
// may have been split since the last one.
//
// Only memory-type fields are written: no entry changes kind, frame or
// permissions, and nothing is allocated. Entries are retyped whether or not
// they currently grant any access.
//
// Precondition: t was built by Build, and the caller is the owning VCPU
// handling a VM-exit.
func SyncMemoryTypes(t *Tables, w Window, typer MemoryTyper) SyncStats {
	var s SyncStats
	for i := range t.PD {
		for j := range t.PD[i] {
			pde := &t.PD[i][j]
			if !pde.IsLargePage() {
				s.Tables++
				s.Updated += syncPT(ptAt(w, pde.Address()), typer)
				continue
			}
			s.LargePages++
			mt := typer.MemoryType(hostarch.Addr(pde.Address()), hostarch.HugePageSize)
			if pde.MemoryType() != mt {
				pde.SetMemoryType(mt)
				s.Updated++
			}
		}
	}
	return s
}

// syncPT retypes all entries of pt and returns the number changed.
func syncPT(pt *PT, typer MemoryTyper) int {
	updated := 0
	for k := range pt {
		pte := &pt[k]
		mt := typer.MemoryType(hostarch.Addr(pte.Address()), hostarch.PageSize)
		if pte.MemoryType() != mt {
			pte.SetMemoryType(mt)
			updated++
		}
	}
	return updated
}

// ForEachLeaf calls fn for every leaf in t in address order: once per
// large-page PDE with size hostarch.HugePageSize, and once per PTE of split
// PDEs with size hostarch.PageSize.
func (t *Tables) ForEachLeaf(w Window, fn func(base hostarch.Addr, size uint64, mt hostarch.MemoryType)) {
	for i := range t.PD {
		for j := range t.PD[i] {
			pde := t.PD[i][j]
			if pde.IsLargePage() {
				fn(hostarch.Addr(pde.Address()), hostarch.HugePageSize, pde.MemoryType())
				continue
			}
			pt := ptAt(w, pde.Address())
			for k := range pt {
				fn(hostarch.Addr(pt[k].Address()), hostarch.PageSize, pt[k].MemoryType())
			}
		}
	}
}
