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

// Package ept builds and maintains the Extended Page Tables that translate
// guest-physical to host-physical addresses for one virtual CPU.
//
// The tables identity map the first PDCount GiB of physical memory from a
// single PML4 entry using 2MB pages. Every leaf carries the memory type that
// the host MTRRs assign to its region, so that the guest's view of caching
// matches the processor's.
//
// A Tables value is owned by exactly one VCPU and is never shared. Build runs
// before the VCPU first enters the guest; SyncMemoryTypes and Split run on
// VM-exit on the owning core. None of these take locks.
package ept

import "hvept.dev/hvept/pkg/hostarch"

const (
	// PDCount is the number of PDs, and therefore GiB, that are mapped.
	PDCount = 64

	// EntriesPerTable is the number of entries in every paging structure.
	EntriesPerTable = 512

	// MappedSize is the size of the identity mapped range.
	MappedSize = PDCount << pdptShift
)

// Address decomposition.
const (
	ptShift   = 12
	pdShift   = 21
	pdptShift = 30
	pml4Shift = 39

	indexMask = EntriesPerTable - 1
)

// PML4 is the top-level table. Only entry 0 is ever valid.
type PML4 [EntriesPerTable]PML4E

// PDPT is the page directory pointer table. The first PDCount entries are
// valid.
type PDPT [EntriesPerTable]PDPTE

// PD is a page directory.
type PD [EntriesPerTable]PDE

// PT is a page table. PTs are not part of Tables; they are allocated by Split
// and reached through a Window.
type PT [EntriesPerTable]PTE

// Tables is the fixed-shape EPT store for one VCPU.
//
// Every member is a page-sized, page-aligned table when the Tables itself is
// page aligned; see TablesAt.
type Tables struct {
	PML4 PML4
	PDPT PDPT
	PD   [PDCount]PD
}

// Indices is a decomposed physical address.
type Indices struct {
	PML4 int
	PDPT int
	PD   int
	PT   int
}

// IndicesOf decomposes addr into its table indices.
func IndicesOf(addr hostarch.Addr) Indices {
	return Indices{
		PML4: int(addr>>pml4Shift) & indexMask,
		PDPT: int(addr>>pdptShift) & indexMask,
		PD:   int(addr>>pdShift) & indexMask,
		PT:   int(addr>>ptShift) & indexMask,
	}
}

// mapped returns true if the indices are inside the identity mapped range.
func (i Indices) mapped() bool {
	return i.PML4 == 0 && i.PDPT < PDCount
}

// regionBase returns the base of the 2MB region mapped by PD entry j of PD i.
func regionBase(i, j int) hostarch.Addr {
	return hostarch.Addr(uint64(i)<<pdptShift | uint64(j)<<pdShift)
}

// Translator is the address-translation service. It returns the physical
// address backing a host virtual address.
type Translator interface {
	PhysicalAddressOf(virtual uintptr) uint64
}

// Window is the direct physical-memory window. It returns a host virtual
// address through which the given physical address can be accessed.
type Window interface {
	VirtualAddressOf(physical uint64) uintptr
}

// PageAllocator allocates zeroed, page-aligned host pages for PTs.
type PageAllocator interface {
	AllocPage() (virtual uintptr, err error)
}

// MemoryTyper computes the memory type for a physical range. An MTRR snapshot
// is the only production implementation; it is passed explicitly to every
// operation and never cached here.
type MemoryTyper interface {
	MemoryType(base hostarch.Addr, length uint64) hostarch.MemoryType
}

// MemoryTyperFunc adapts a function to MemoryTyper.
type MemoryTyperFunc func(base hostarch.Addr, length uint64) hostarch.MemoryType

// MemoryType implements MemoryTyper.MemoryType.
func (f MemoryTyperFunc) MemoryType(base hostarch.Addr, length uint64) hostarch.MemoryType {
	return f(base, length)
}
