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

import (
	"testing"

	"hvept.dev/hvept/pkg/hostarch"
)

func TestSyncNoChange(t *testing.T) {
	tables, a := testTables(t)
	wb := uniform(hostarch.MemoryTypeWriteBack)
	Build(tables, a, wb)
	before := *tables

	s := SyncMemoryTypes(tables, a, wb)
	if *tables != before {
		t.Errorf("resync with the build snapshot changed the tables")
	}
	if want := (SyncStats{LargePages: PDCount * EntriesPerTable}); s != want {
		t.Errorf("SyncMemoryTypes = %+v, want %+v", s, want)
	}
}

func TestSyncAppliesNewTypes(t *testing.T) {
	tables, a := testTables(t)
	Build(tables, a, uniform(hostarch.MemoryTypeWriteBack))

	s := SyncMemoryTypes(tables, a, striped)
	// 3 GiB to 4 GiB is 512 large pages.
	if s.Updated != EntriesPerTable {
		t.Errorf("Updated = %d, want %d", s.Updated, EntriesPerTable)
	}
	tables.ForEachLeaf(a, func(base hostarch.Addr, size uint64, mt hostarch.MemoryType) {
		if want := striped(base, size); mt != want {
			t.Fatalf("leaf at %#x has type %v, want %v", base, mt, want)
		}
	})
}

func TestSyncPreservesNonTypeBits(t *testing.T) {
	tables, a := testTables(t)
	Build(tables, a, uniform(hostarch.MemoryTypeWriteBack))
	if _, err := Split(tables, a, a, striped, 0x80000000); err != nil {
		t.Fatalf("Split failed: %v", err)
	}

	// Seed arbitrary values into every non-type field that does not change
	// the shape of the tables.
	const seed = ignorePAT | accessed | dirty | suppressVE
	for i := range tables.PD {
		for j := range tables.PD[i] {
			pde := &tables.PD[i][j]
			if (i+j)%3 == 0 {
				*pde &^= writeAccess | userExecute
			}
			if pde.IsLargePage() && (i*j)%2 == 1 {
				*pde |= seed
			}
		}
	}
	pde, _ := tables.PDEFor(0x80000000)
	phys, _ := pde.Table()
	ptes := ptAt(a, phys)
	for k := range ptes {
		if k%2 == 0 {
			ptes[k] |= seed
		} else {
			ptes[k] &^= executeAccess
		}
	}
	pml4Before, pdptBefore, pdBefore := tables.PML4, tables.PDPT, tables.PD
	ptBefore := *ptes

	SyncMemoryTypes(tables, a, striped)

	for i := range tables.PD {
		for j := range tables.PD[i] {
			got, want := tables.PD[i][j], pdBefore[i][j]
			if got.Kind() != want.Kind() {
				t.Fatalf("PD[%d][%d] kind changed from %v to %v", i, j, want.Kind(), got.Kind())
			}
			mask := PDE(^uint64(0))
			if got.IsLargePage() {
				mask &^= memoryTypeMask
			}
			if got&mask != want&mask {
				t.Fatalf("PD[%d][%d] changed from %#x to %#x outside the type field", i, j, uint64(want), uint64(got))
			}
		}
	}
	for k := range ptes {
		if got, want := ptes[k]&^memoryTypeMask, ptBefore[k]&^memoryTypeMask; got != want {
			t.Fatalf("PTE %d changed from %#x to %#x outside the type field", k, uint64(ptBefore[k]), uint64(ptes[k]))
		}
	}
	if tables.PML4 != pml4Before || tables.PDPT != pdptBefore {
		t.Fatalf("upper levels changed")
	}
}

func TestSyncMixedTopology(t *testing.T) {
	tables, a := testTables(t)
	Build(tables, a, striped)

	// Split a subset of regions and give their pages assorted types.
	types := []hostarch.MemoryType{
		hostarch.MemoryTypeUncacheable,
		hostarch.MemoryTypeWriteCombining,
		hostarch.MemoryTypeWriteThrough,
		hostarch.MemoryTypeWriteProtected,
		hostarch.MemoryTypeWriteBack,
	}
	assorted := MemoryTyperFunc(func(base hostarch.Addr, _ uint64) hostarch.MemoryType {
		return types[int(base>>hostarch.PageShift)%len(types)]
	})
	var splitAt []hostarch.Addr
	for i := 0; i < PDCount; i += 7 {
		for j := 0; j < EntriesPerTable; j += 101 {
			addr := regionBase(i, j)
			if _, err := Split(tables, a, a, assorted, addr); err != nil {
				t.Fatalf("Split(%#x) failed: %v", addr, err)
			}
			splitAt = append(splitAt, addr)
		}
	}
	var kinds [PDCount][EntriesPerTable]PDEKind
	for i := range tables.PD {
		for j := range tables.PD[i] {
			kinds[i][j] = tables.PD[i][j].Kind()
		}
	}

	const want = hostarch.MemoryTypeWriteThrough
	s := SyncMemoryTypes(tables, a, uniform(want))
	if s.Tables != len(splitAt) {
		t.Errorf("visited %d tables, want %d", s.Tables, len(splitAt))
	}

	for i := range tables.PD {
		for j := range tables.PD[i] {
			pde := tables.PD[i][j]
			if pde.Kind() != kinds[i][j] {
				t.Fatalf("PD[%d][%d] kind changed from %v to %v", i, j, kinds[i][j], pde.Kind())
			}
			if pde.IsLargePage() && pde.MemoryType() != want {
				t.Fatalf("PD[%d][%d] type %v, want %v", i, j, pde.MemoryType(), want)
			}
		}
	}
	for _, addr := range splitAt {
		for k := 0; k < EntriesPerTable; k++ {
			page := addr + hostarch.Addr(k)*hostarch.PageSize
			pte, ok := tables.PTEFor(a, page)
			if !ok {
				t.Fatalf("PTEFor(%#x) not found", page)
			}
			if pte.MemoryType() != want {
				t.Fatalf("PTE for %#x has type %v, want %v", page, pte.MemoryType(), want)
			}
		}
	}
}

func TestSyncRetypesEntriesWithoutAccess(t *testing.T) {
	tables, a := testTables(t)
	wb := uniform(hostarch.MemoryTypeWriteBack)
	Build(tables, a, wb)
	for _, addr := range []hostarch.Addr{0, 0x80000000} {
		if _, err := Split(tables, a, a, wb, addr); err != nil {
			t.Fatalf("Split(%#x) failed: %v", addr, err)
		}
	}

	// Revoke access on a large page, on a split PDE and on one PTE.
	large, _ := tables.PDEFor(0x40000000)
	*large &^= accessMask
	table, _ := tables.PDEFor(0x80000000)
	*table &^= accessMask
	pte, ok := tables.PTEFor(a, 5*hostarch.PageSize)
	if !ok {
		t.Fatalf("PTEFor(%#x) not found", 5*hostarch.PageSize)
	}
	*pte &^= accessMask

	const uc = hostarch.MemoryTypeUncacheable
	s := SyncMemoryTypes(tables, a, uniform(uc))
	want := SyncStats{
		LargePages: PDCount*EntriesPerTable - 2,
		Tables:     2,
		Updated:    PDCount*EntriesPerTable - 2 + 2*EntriesPerTable,
	}
	if s != want {
		t.Errorf("SyncMemoryTypes = %+v, want %+v", s, want)
	}

	if got := large.MemoryType(); got != uc {
		t.Errorf("large page without access has type %v, want %v", got, uc)
	}
	if got := pte.MemoryType(); got != uc {
		t.Errorf("PTE without access has type %v, want %v", got, uc)
	}
	if large.Valid() || table.Valid() || pte.Valid() {
		t.Errorf("resync restored access rights")
	}
	for k := 0; k < EntriesPerTable; k++ {
		page := 0x80000000 + hostarch.Addr(k)*hostarch.PageSize
		pte, ok := tables.PTEFor(a, page)
		if !ok {
			t.Fatalf("PTEFor(%#x) not found under a PDE without access", page)
		}
		if got := pte.MemoryType(); got != uc {
			t.Fatalf("PTE for %#x has type %v, want %v", page, got, uc)
		}
	}
}

func TestSyncDoesNotAllocate(t *testing.T) {
	tables, a := testTables(t)
	Build(tables, a, striped)
	if _, err := Split(tables, a, a, striped, 0); err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	w, ok := a.DirectWindow()
	if !ok {
		t.Fatalf("arena has no direct window")
	}
	var win Window = w
	wb := uniform(hostarch.MemoryTypeWriteBack)
	if n := testing.AllocsPerRun(5, func() {
		SyncMemoryTypes(tables, win, wb)
	}); n != 0 {
		t.Errorf("SyncMemoryTypes allocated %v times per run", n)
	}
	if n := testing.AllocsPerRun(5, func() {
		tables.PTEFor(win, 0x1000)
		tables.PDEFor(0x1000)
		tables.PDPTEFor(0x1000)
	}); n != 0 {
		t.Errorf("resolvers allocated %v times per run", n)
	}
}
