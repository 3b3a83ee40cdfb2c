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

// Entry bits. These are the architectural EPT paging-structure entry bits
// (SDM Vol. 3C, 29.3.2); the processor reads them directly.
const (
	readAccess    = 1 << 0
	writeAccess   = 1 << 1
	executeAccess = 1 << 2

	// memoryTypeShift and memoryTypeMask locate the leaf memory type.
	memoryTypeShift = 3
	memoryTypeMask  = 0x7 << memoryTypeShift

	ignorePAT   = 1 << 6
	largePage   = 1 << 7
	accessed    = 1 << 8
	dirty       = 1 << 9
	userExecute = 1 << 10
	suppressVE  = 1 << 63

	// frameMask covers bits 12 through 51.
	frameMask = 0x000ffffffffff000

	// largeFrameMask covers bits 21 through 51 of a 2MB mapping.
	largeFrameMask = 0x000fffffffe00000

	accessMask = readAccess | writeAccess | executeAccess
)

// Permissions are the access rights carried by every entry.
type Permissions struct {
	Read    bool
	Write   bool
	Execute bool

	// UserExecute is the user-mode execute bit used when mode-based execute
	// control is enabled.
	UserExecute bool
}

// FullAccess is the permission set of every entry in the identity map.
var FullAccess = Permissions{Read: true, Write: true, Execute: true, UserExecute: true}

func (p Permissions) bits() uint64 {
	var b uint64
	if p.Read {
		b |= readAccess
	}
	if p.Write {
		b |= writeAccess
	}
	if p.Execute {
		b |= executeAccess
	}
	if p.UserExecute {
		b |= userExecute
	}
	return b
}

func permissionsOf(e uint64) Permissions {
	return Permissions{
		Read:        e&readAccess != 0,
		Write:       e&writeAccess != 0,
		Execute:     e&executeAccess != 0,
		UserExecute: e&userExecute != 0,
	}
}

// String implements fmt.Stringer.String.
func (p Permissions) String() string {
	b := []byte("----")
	if p.Read {
		b[0] = 'r'
	}
	if p.Write {
		b[1] = 'w'
	}
	if p.Execute {
		b[2] = 'x'
	}
	if p.UserExecute {
		b[3] = 'u'
	}
	return string(b)
}

func typeBits(mt hostarch.MemoryType) uint64 {
	return (uint64(mt) << memoryTypeShift) & memoryTypeMask
}

// checkTableAddress panics if physical can not be encoded as a next-level
// pointer.
func checkTableAddress(physical uint64) {
	if physical&^frameMask != 0 {
		panic(fmt.Sprintf("table address %#x is not a page-aligned physical address", physical))
	}
}

// PML4E is a top-level entry. It always references a PDPT.
type PML4E uint64

// Valid returns true iff any access bit is set.
func (e PML4E) Valid() bool {
	return e&accessMask != 0
}

// Address returns the physical address of the referenced PDPT.
func (e PML4E) Address() uint64 {
	return uint64(e) & frameMask
}

// Permissions returns the entry permissions.
func (e PML4E) Permissions() Permissions {
	return permissionsOf(uint64(e))
}

// Accessed returns the accessed bit.
func (e PML4E) Accessed() bool {
	return e&accessed != 0
}

// SetTable points the entry at the PDPT with the given physical address.
//
// Precondition: physical must be page aligned.
func (e *PML4E) SetTable(physical uint64, p Permissions) {
	checkTableAddress(physical)
	*e = PML4E(physical | p.bits())
}

// PDPTE references a PD. 1GB mappings are never installed.
type PDPTE uint64

// Valid returns true iff any access bit is set.
func (e PDPTE) Valid() bool {
	return e&accessMask != 0
}

// Address returns the physical address of the referenced PD.
func (e PDPTE) Address() uint64 {
	return uint64(e) & frameMask
}

// Permissions returns the entry permissions.
func (e PDPTE) Permissions() Permissions {
	return permissionsOf(uint64(e))
}

// Accessed returns the accessed bit.
func (e PDPTE) Accessed() bool {
	return e&accessed != 0
}

// SetTable points the entry at the PD with the given physical address.
//
// Precondition: physical must be page aligned.
func (e *PDPTE) SetTable(physical uint64, p Permissions) {
	checkTableAddress(physical)
	*e = PDPTE(physical | p.bits())
}

// PDEKind discriminates the two layouts of a PDE. Only the large-page bit
// selects the layout: access rights may be revoked on either kind without
// changing it.
type PDEKind int

const (
	// PDELargePage maps a 2MB region directly and carries its memory type.
	PDELargePage PDEKind = iota

	// PDETable references a PT whose 512 entries carry the memory types.
	PDETable
)

// String implements fmt.Stringer.String.
func (k PDEKind) String() string {
	switch k {
	case PDELargePage:
		return "2M"
	case PDETable:
		return "table"
	default:
		return fmt.Sprintf("PDEKind(%d)", int(k))
	}
}

// PDE is a page directory entry. The large-page bit selects between the
// PDELargePage and PDETable layouts.
type PDE uint64

// Valid returns true iff any access bit is set.
func (e PDE) Valid() bool {
	return e&accessMask != 0
}

// Kind returns the layout of the entry.
func (e PDE) Kind() PDEKind {
	if e.IsLargePage() {
		return PDELargePage
	}
	return PDETable
}

// IsLargePage returns true if the entry maps a 2MB region directly.
func (e PDE) IsLargePage() bool {
	return e&largePage != 0
}

// Address returns the physical address in the frame field: the base of the
// 2MB region for PDELargePage, the PT address for PDETable.
func (e PDE) Address() uint64 {
	if e.IsLargePage() {
		return uint64(e) & largeFrameMask
	}
	return uint64(e) & frameMask
}

// LargePage returns the mapped region and its memory type. ok is false if the
// entry is a PDETable.
func (e PDE) LargePage() (base hostarch.Addr, mt hostarch.MemoryType, ok bool) {
	if !e.IsLargePage() {
		return 0, hostarch.MemoryTypeInvalid, false
	}
	return hostarch.Addr(e.Address()), e.MemoryType(), true
}

// Table returns the physical address of the referenced PT. ok is false if the
// entry is a PDELargePage.
func (e PDE) Table() (physical uint64, ok bool) {
	if e.IsLargePage() {
		return 0, false
	}
	return e.Address(), true
}

// MemoryType returns the memory type field. It is only meaningful for
// PDELargePage entries; the bits are reserved in PDETable entries.
func (e PDE) MemoryType() hostarch.MemoryType {
	return hostarch.MemoryType((e & memoryTypeMask) >> memoryTypeShift)
}

// Permissions returns the entry permissions.
func (e PDE) Permissions() Permissions {
	return permissionsOf(uint64(e))
}

// Accessed returns the accessed bit.
func (e PDE) Accessed() bool {
	return e&accessed != 0
}

// Dirty returns the dirty bit of a PDELargePage entry.
func (e PDE) Dirty() bool {
	return e.IsLargePage() && e&dirty != 0
}

// IgnorePAT returns the ignore-PAT bit of a PDELargePage entry.
func (e PDE) IgnorePAT() bool {
	return e.IsLargePage() && e&ignorePAT != 0
}

// SuppressVE returns the suppress-#VE bit of a PDELargePage entry.
func (e PDE) SuppressVE() bool {
	return e.IsLargePage() && e&suppressVE != 0
}

// SetLargePage installs a 2MB mapping of base. The ignore-PAT, accessed,
// dirty and suppress-#VE bits are cleared.
//
// Precondition: base must be 2MB aligned and mt must be valid.
func (e *PDE) SetLargePage(base hostarch.Addr, p Permissions, mt hostarch.MemoryType) {
	if uint64(base)&^largeFrameMask != 0 {
		panic(fmt.Sprintf("large page base %#x is not 2MB aligned", base))
	}
	*e = PDE(uint64(base) | p.bits() | largePage | typeBits(mt))
}

// SetTable points the entry at the PT with the given physical address.
//
// Precondition: physical must be page aligned.
func (e *PDE) SetTable(physical uint64, p Permissions) {
	checkTableAddress(physical)
	*e = PDE(physical | p.bits())
}

// SetMemoryType replaces the memory type of a PDELargePage entry, leaving
// every other bit unchanged. It returns false, without modifying the entry,
// for a PDETable.
func (e *PDE) SetMemoryType(mt hostarch.MemoryType) bool {
	if !e.IsLargePage() {
		return false
	}
	*e = (*e &^ memoryTypeMask) | PDE(typeBits(mt))
	return true
}

// PTE maps a single 4KB page.
type PTE uint64

// Valid returns true iff any access bit is set.
func (e PTE) Valid() bool {
	return e&accessMask != 0
}

// Address returns the physical address of the mapped page.
func (e PTE) Address() uint64 {
	return uint64(e) & frameMask
}

// MemoryType returns the memory type field.
func (e PTE) MemoryType() hostarch.MemoryType {
	return hostarch.MemoryType((e & memoryTypeMask) >> memoryTypeShift)
}

// Permissions returns the entry permissions.
func (e PTE) Permissions() Permissions {
	return permissionsOf(uint64(e))
}

// Accessed returns the accessed bit.
func (e PTE) Accessed() bool {
	return e&accessed != 0
}

// Dirty returns the dirty bit.
func (e PTE) Dirty() bool {
	return e&dirty != 0
}

// IgnorePAT returns the ignore-PAT bit.
func (e PTE) IgnorePAT() bool {
	return e&ignorePAT != 0
}

// SuppressVE returns the suppress-#VE bit.
func (e PTE) SuppressVE() bool {
	return e&suppressVE != 0
}

// Set installs a 4KB mapping of base.
//
// Precondition: base must be page aligned and mt must be valid.
func (e *PTE) Set(base hostarch.Addr, p Permissions, mt hostarch.MemoryType) {
	checkTableAddress(uint64(base))
	*e = PTE(uint64(base) | p.bits() | typeBits(mt))
}

// SetMemoryType replaces the memory type, leaving every other bit unchanged.
func (e *PTE) SetMemoryType(mt hostarch.MemoryType) {
	*e = (*e &^ memoryTypeMask) | PTE(typeBits(mt))
}
