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

// Build fills t with an identity map of the first PDCount GiB.
//
// t is zeroed first. PML4 entry 0 references the PDPT, the first PDCount
// PDPT entries reference the PDs, and every PD entry maps its 2MB region as
// a large page with the memory type typer computes for the whole region. No
// PTs are allocated; Split produces them on demand.
//
// Build is deterministic: two builds against the same typer produce identical
// tables.
//
// Precondition: the owning VCPU has not entered the guest.
func Build(t *Tables, tr Translator, typer MemoryTyper) {
	*t = Tables{}

	t.PML4[0].SetTable(tr.PhysicalAddressOf(addressOf(&t.PDPT)), FullAccess)

	for i := range t.PD {
		t.PDPT[i].SetTable(tr.PhysicalAddressOf(addressOf(&t.PD[i])), FullAccess)

		for j := range t.PD[i] {
			base := regionBase(i, j)
			t.PD[i][j].SetLargePage(base, FullAccess, typer.MemoryType(base, hostarch.HugePageSize))
		}
	}
}
