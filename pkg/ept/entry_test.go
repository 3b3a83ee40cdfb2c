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

func TestEntryEncoding(t *testing.T) {
	var pde PDE
	pde.SetLargePage(0x40200000, FullAccess, hostarch.MemoryTypeWriteBack)
	// R|W|X (0x7), WB (6<<3), large (1<<7), user execute (1<<10).
	if want := PDE(0x40200000 | 0x7 | 6<<3 | 1<<7 | 1<<10); pde != want {
		t.Errorf("large PDE = %#x, want %#x", uint64(pde), uint64(want))
	}

	var pml4e PML4E
	pml4e.SetTable(0x1234000, FullAccess)
	if want := PML4E(0x1234000 | 0x7 | 1<<10); pml4e != want {
		t.Errorf("PML4E = %#x, want %#x", uint64(pml4e), uint64(want))
	}

	var pte PTE
	pte.Set(0x5000, Permissions{Read: true}, hostarch.MemoryTypeUncacheable)
	if want := PTE(0x5000 | 0x1); pte != want {
		t.Errorf("PTE = %#x, want %#x", uint64(pte), uint64(want))
	}
}

func TestPDEKinds(t *testing.T) {
	var pde PDE
	if got := pde.Kind(); got != PDETable {
		t.Errorf("zero PDE kind = %v, want %v", got, PDETable)
	}

	pde.SetLargePage(0x600000, FullAccess, hostarch.MemoryTypeWriteThrough)
	base, mt, ok := pde.LargePage()
	if !ok || base != 0x600000 || mt != hostarch.MemoryTypeWriteThrough {
		t.Errorf("LargePage() = %#x, %v, %v", base, mt, ok)
	}
	if _, ok := pde.Table(); ok {
		t.Errorf("Table() succeeded on a large page")
	}

	pde.SetTable(0x9000, FullAccess)
	if got := pde.Kind(); got != PDETable {
		t.Errorf("kind = %v, want %v", got, PDETable)
	}
	if phys, ok := pde.Table(); !ok || phys != 0x9000 {
		t.Errorf("Table() = %#x, %v, want 0x9000, true", phys, ok)
	}
	if pde.SetMemoryType(hostarch.MemoryTypeUncacheable) {
		t.Errorf("SetMemoryType succeeded on a table PDE")
	}
	if want := PDE(0x9000 | 0x7 | 1<<10); pde != want {
		t.Errorf("table PDE = %#x, want %#x", uint64(pde), uint64(want))
	}
}

func TestPDEKindIgnoresAccessRights(t *testing.T) {
	var pde PDE
	pde.SetLargePage(0x40000000, Permissions{}, hostarch.MemoryTypeWriteBack)
	if pde.Valid() {
		t.Errorf("PDE without access rights is valid")
	}
	if got := pde.Kind(); got != PDELargePage {
		t.Errorf("kind = %v, want %v", got, PDELargePage)
	}
	if !pde.SetMemoryType(hostarch.MemoryTypeUncacheable) {
		t.Errorf("SetMemoryType failed on a large page without access rights")
	}
	if base, mt, ok := pde.LargePage(); !ok || base != 0x40000000 || mt != hostarch.MemoryTypeUncacheable {
		t.Errorf("LargePage() = %#x, %v, %v, want 0x40000000, UC, true", base, mt, ok)
	}

	pde.SetTable(0x9000, Permissions{})
	if got := pde.Kind(); got != PDETable {
		t.Errorf("kind = %v, want %v", got, PDETable)
	}
	if phys, ok := pde.Table(); !ok || phys != 0x9000 {
		t.Errorf("Table() = %#x, %v, want 0x9000, true", phys, ok)
	}
}

func TestSetMemoryTypePreservesOtherBits(t *testing.T) {
	const others = PTE(0xabcde000 | readAccess | executeAccess | ignorePAT | accessed | dirty | userExecute | suppressVE)
	pte := others | PTE(uint64(hostarch.MemoryTypeWriteBack)<<memoryTypeShift)
	pte.SetMemoryType(hostarch.MemoryTypeWriteCombining)
	if got := pte &^ memoryTypeMask; got != others {
		t.Errorf("non-type bits = %#x, want %#x", uint64(got), uint64(others))
	}
	if got := pte.MemoryType(); got != hostarch.MemoryTypeWriteCombining {
		t.Errorf("MemoryType = %v, want %v", got, hostarch.MemoryTypeWriteCombining)
	}
	if !pte.IgnorePAT() || !pte.Accessed() || !pte.Dirty() || !pte.SuppressVE() {
		t.Errorf("flag accessors lost bits of %#x", uint64(pte))
	}
}

func TestUnalignedTablePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("SetTable with an unaligned address did not panic")
		}
	}()
	var e PDPTE
	e.SetTable(0x1001, FullAccess)
}

func TestIndicesOf(t *testing.T) {
	addr := hostarch.Addr(1<<39 | 2<<30 | 3<<21 | 4<<12 | 0x123)
	want := Indices{PML4: 1, PDPT: 2, PD: 3, PT: 4}
	if got := IndicesOf(addr); got != want {
		t.Errorf("IndicesOf(%#x) = %+v, want %+v", addr, got, want)
	}
}

func TestPermissionsString(t *testing.T) {
	if got := FullAccess.String(); got != "rwxu" {
		t.Errorf("FullAccess = %q, want rwxu", got)
	}
	if got := (Permissions{Read: true}).String(); got != "r---" {
		t.Errorf("read only = %q, want r---", got)
	}
}
