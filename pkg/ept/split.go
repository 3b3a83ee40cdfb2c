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
	"fmt"

	"hvept.dev/hvept/pkg/hostarch"
)

// Split converts the large-page PDE covering addr into a PDE referencing a
// newly allocated PT. Each of the 512 PTEs identity maps one 4KB page of the
// former region with the PDE's permissions and the memory type typer
// computes for that page.
//
// Split is the operation the EPT-violation handler performs when it needs
// 4KB granularity. It returns false, without allocating, if addr is not
// mapped or the PDE is already a table.
//
// Precondition: the caller is the owning VCPU handling a VM-exit.
func Split(t *Tables, tr Translator, alloc PageAllocator, typer MemoryTyper, addr hostarch.Addr) (bool, error) {
	pde, ok := t.PDEFor(addr)
	if !ok {
		return false, nil
	}
	base, _, ok := pde.LargePage()
	if !ok {
		return false, nil
	}

	virtual, err := alloc.AllocPage()
	if err != nil {
		return false, fmt.Errorf("allocating PT for %#x: %w", base, err)
	}
	pt := ptAtVirtual(virtual)
	perms := pde.Permissions()
	for k := range pt {
		page := base + hostarch.Addr(k)<<ptShift
		pt[k].Set(page, perms, typer.MemoryType(page, hostarch.PageSize))
	}

	// The PT is complete before the PDE references it.
	pde.SetTable(tr.PhysicalAddressOf(virtual), perms)
	return true, nil
}
