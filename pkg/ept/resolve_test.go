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

func TestResolveOutsidePML4Entry(t *testing.T) {
	tables, a := testTables(t)
	Build(tables, a, striped)
	for _, addr := range []hostarch.Addr{
		1 << 39,
		1<<39 | 0x1000,
		5 << 39,
		511<<39 | 0x40201000,
		^hostarch.Addr(0),
	} {
		if _, ok := tables.PDPTEFor(addr); ok {
			t.Errorf("PDPTEFor(%#x) found an entry", addr)
		}
		if _, ok := tables.PDEFor(addr); ok {
			t.Errorf("PDEFor(%#x) found an entry", addr)
		}
		if _, ok := tables.PTEFor(a, addr); ok {
			t.Errorf("PTEFor(%#x) found an entry", addr)
		}
	}
}

func TestResolveBeyondMappedRange(t *testing.T) {
	tables, a := testTables(t)
	Build(tables, a, striped)
	for _, addr := range []hostarch.Addr{
		MappedSize,
		MappedSize + 0x201000,
		511 << 30,
		1<<39 - 1,
	} {
		if _, ok := tables.PDPTEFor(addr); ok {
			t.Errorf("PDPTEFor(%#x) found an entry", addr)
		}
		if _, ok := tables.PDEFor(addr); ok {
			t.Errorf("PDEFor(%#x) found an entry", addr)
		}
		if _, ok := tables.PTEFor(a, addr); ok {
			t.Errorf("PTEFor(%#x) found an entry", addr)
		}
	}
}

func TestResolveAfterBuild(t *testing.T) {
	tables, a := testTables(t)
	Build(tables, a, striped)
	for _, addr := range []hostarch.Addr{
		0,
		0xfff,
		0x200000,
		0x3fffffff,
		3<<30 | 0x123456,
		MappedSize - 1,
	} {
		i := IndicesOf(addr)
		pdpte, ok := tables.PDPTEFor(addr)
		if !ok || pdpte != &tables.PDPT[i.PDPT] {
			t.Errorf("PDPTEFor(%#x) = %p, %v, want PDPT[%d]", addr, pdpte, ok, i.PDPT)
		}
		pde, ok := tables.PDEFor(addr)
		if !ok {
			t.Errorf("PDEFor(%#x) not found", addr)
			continue
		}
		base, _, ok := pde.LargePage()
		if !ok {
			t.Errorf("PDEFor(%#x) is %v, want a large page", addr, pde.Kind())
		}
		if base != addr.HugeRoundDown() {
			t.Errorf("PDEFor(%#x) maps %#x, want %#x", addr, base, addr.HugeRoundDown())
		}
		if _, ok := tables.PTEFor(a, addr); ok {
			t.Errorf("PTEFor(%#x) found an entry under a large page", addr)
		}
	}
}

func TestResolvePTEAfterSplit(t *testing.T) {
	tables, a := testTables(t)
	Build(tables, a, striped)

	const addr = hostarch.Addr(3<<30 | 0x5a000 | 0x10)
	if split, err := Split(tables, a, a, striped, addr); err != nil || !split {
		t.Fatalf("Split(%#x) = %v, %v, want true, nil", addr, split, err)
	}
	pte, ok := tables.PTEFor(a, addr)
	if !ok {
		t.Fatalf("PTEFor(%#x) not found after split", addr)
	}
	if got, want := pte.Address(), uint64(addr.RoundDown()); got != want {
		t.Errorf("PTE maps %#x, want %#x", got, want)
	}
	if got := pte.MemoryType(); got != hostarch.MemoryTypeUncacheable {
		t.Errorf("PTE type %v, want %v", got, hostarch.MemoryTypeUncacheable)
	}

	// Neighbouring regions are still large pages.
	if _, ok := tables.PTEFor(a, addr+hostarch.HugePageSize); ok {
		t.Errorf("PTEFor found an entry in an unsplit neighbour")
	}
}
