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

// The resolvers below locate the entry that maps a guest-physical address.
// They never allocate or modify t. A false result means the address is not
// mapped at that level, which is an ordinary outcome: callers such as the
// EPT-violation handler branch on it.

// PDPTEFor returns the PDPT entry covering addr. It returns false if addr is
// at or above 512 GiB (outside PML4 entry 0) or beyond the PDCount mapped
// GiB.
func (t *Tables) PDPTEFor(addr hostarch.Addr) (*PDPTE, bool) {
	i := IndicesOf(addr)
	if !i.mapped() {
		return nil, false
	}
	return &t.PDPT[i.PDPT], true
}

// PDEFor returns the PD entry covering addr, with the same bounds as
// PDPTEFor.
func (t *Tables) PDEFor(addr hostarch.Addr) (*PDE, bool) {
	i := IndicesOf(addr)
	if !i.mapped() {
		return nil, false
	}
	return &t.PD[i.PDPT][i.PD], true
}

// PTEFor returns the PT entry covering addr, reaching the PT through w. In
// addition to the PDPTEFor bounds it returns false while the covering PDE is
// still a large page: the PDE must be split before a 4KB entry exists. The
// PDE's access rights play no part.
func (t *Tables) PTEFor(w Window, addr hostarch.Addr) (*PTE, bool) {
	i := IndicesOf(addr)
	if !i.mapped() {
		return nil, false
	}
	pt, ok := t.PD[i.PDPT][i.PD].Table()
	if !ok {
		return nil, false
	}
	return &ptAt(w, pt)[i.PT], true
}
