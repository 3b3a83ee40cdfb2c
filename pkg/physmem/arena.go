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

// Package physmem provides the host physical memory services used by the EPT
// tables: page allocation, virtual to physical translation and the direct
// physical-memory window.
//
// Memory comes from anonymous mappings. Each mapping is a region that is
// assigned a simulated physical range; regions are contiguous in physical
// space starting from Opts.PhysicalBase.
package physmem

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/btree"
	"hvept.dev/hvept/pkg/hostarch"
)

// ErrExhausted is returned when an allocation would exceed Opts.MaxPages.
var ErrExhausted = errors.New("physical memory arena exhausted")

// Opts are arena options.
type Opts struct {
	// PhysicalBase is the physical address of the first region. It must be
	// page aligned.
	PhysicalBase uint64

	// ChunkPages is the minimum size of each mapping, in pages.
	ChunkPages int

	// MaxPages bounds the total number of mapped pages. Zero means no bound.
	MaxPages int
}

// DefaultOpts are used by New when zero values are given.
var DefaultOpts = Opts{
	PhysicalBase: 1 << 32,
	ChunkPages:   512,
}

// Region is a mapped range of host memory and the physical range assigned to
// it.
type Region struct {
	Virtual  uintptr
	Physical uint64
	Length   uintptr
}

type region struct {
	Region

	// mem is the mapping backing the region.
	mem []byte
}

func (r *region) containsVirtual(v uintptr) bool {
	return r.Virtual <= v && v < r.Virtual+r.Length
}

func (r *region) containsPhysical(p uint64) bool {
	return r.Physical <= p && p < r.Physical+uint64(r.Length)
}

// Arena is a page allocator over mapped host memory. It implements
// ept.Translator, ept.Window and ept.PageAllocator.
//
// Arena is safe for concurrent use.
type Arena struct {
	opts Opts

	mu sync.RWMutex

	// byVirtual and byPhysical index the same regions.
	byVirtual  *btree.BTreeG[*region]
	byPhysical *btree.BTreeG[*region]

	// current is the region bump allocations come from, and next is the
	// offset of the first free byte in it.
	current *region
	next    uintptr

	// free holds released pages.
	free []uintptr

	// mapped is the total number of mapped pages.
	mapped int

	// nextPhysical is assigned to the next region.
	nextPhysical uint64
}

// New returns a new, empty arena.
func New(opts Opts) (*Arena, error) {
	if opts.PhysicalBase == 0 {
		opts.PhysicalBase = DefaultOpts.PhysicalBase
	}
	if opts.ChunkPages <= 0 {
		opts.ChunkPages = DefaultOpts.ChunkPages
	}
	if !hostarch.Addr(opts.PhysicalBase).IsPageAligned() {
		return nil, fmt.Errorf("physical base %#x is not page aligned", opts.PhysicalBase)
	}
	return &Arena{
		opts: opts,
		byVirtual: btree.NewG(8, func(a, b *region) bool {
			return a.Virtual < b.Virtual
		}),
		byPhysical: btree.NewG(8, func(a, b *region) bool {
			return a.Physical < b.Physical
		}),
		nextPhysical: opts.PhysicalBase,
	}, nil
}

// Alloc allocates length bytes, rounded up to whole pages, of zeroed,
// page-aligned memory that is contiguous in both virtual and physical space.
func (a *Arena) Alloc(length uintptr) (uintptr, error) {
	rounded, ok := hostarch.Addr(length).RoundUp()
	if !ok || rounded == 0 {
		return 0, fmt.Errorf("invalid allocation length %#x", length)
	}
	length = uintptr(rounded)

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil || a.next+length > a.current.Length {
		if err := a.growLocked(length); err != nil {
			return 0, err
		}
	}
	v := a.current.Virtual + a.next
	a.next += length
	return v, nil
}

// AllocPage implements ept.PageAllocator.AllocPage.
func (a *Arena) AllocPage() (uintptr, error) {
	a.mu.Lock()
	if n := len(a.free); n > 0 {
		v := a.free[n-1]
		a.free = a.free[:n-1]
		a.mu.Unlock()
		zeroPage(v)
		return v, nil
	}
	a.mu.Unlock()
	return a.Alloc(hostarch.PageSize)
}

// FreePage returns a page obtained from AllocPage.
func (a *Arena) FreePage(v uintptr) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.lookupVirtualLocked(v); !ok || v&hostarch.PageMask != 0 {
		panic(fmt.Sprintf("freeing %#x, which is not an arena page", v))
	}
	a.free = append(a.free, v)
}

// growLocked maps a new region of at least length bytes and makes it current.
// Any space left in the previous region is abandoned.
//
// Preconditions: a.mu is held; length is page aligned.
func (a *Arena) growLocked(length uintptr) error {
	pages := int(length >> hostarch.PageShift)
	if pages < a.opts.ChunkPages {
		pages = a.opts.ChunkPages
	}
	if limit := a.opts.MaxPages; limit > 0 {
		if a.mapped+int(length>>hostarch.PageShift) > limit {
			return ErrExhausted
		}
		if a.mapped+pages > limit {
			pages = limit - a.mapped
		}
	}
	mem, err := mapAnonymous(pages << hostarch.PageShift)
	if err != nil {
		return fmt.Errorf("mapping %d pages: %w", pages, err)
	}
	r := &region{
		Region: Region{
			Virtual:  sliceAddress(mem),
			Physical: a.nextPhysical,
			Length:   uintptr(len(mem)),
		},
		mem: mem,
	}
	a.nextPhysical += uint64(r.Length)
	a.mapped += pages
	a.byVirtual.ReplaceOrInsert(r)
	a.byPhysical.ReplaceOrInsert(r)
	a.current = r
	a.next = 0
	return nil
}

func (a *Arena) lookupVirtualLocked(v uintptr) (*region, bool) {
	var found *region
	a.byVirtual.DescendLessOrEqual(&region{Region: Region{Virtual: v}}, func(r *region) bool {
		found = r
		return false
	})
	if found == nil || !found.containsVirtual(v) {
		return nil, false
	}
	return found, true
}

func (a *Arena) lookupPhysicalLocked(p uint64) (*region, bool) {
	var found *region
	a.byPhysical.DescendLessOrEqual(&region{Region: Region{Physical: p}}, func(r *region) bool {
		found = r
		return false
	})
	if found == nil || !found.containsPhysical(p) {
		return nil, false
	}
	return found, true
}

// Translate returns the physical address of v. ok is false if v is not
// arena memory.
func (a *Arena) Translate(v uintptr) (physical uint64, ok bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	r, ok := a.lookupVirtualLocked(v)
	if !ok {
		return 0, false
	}
	return r.Physical + uint64(v-r.Virtual), true
}

// PhysicalAddressOf implements ept.Translator.PhysicalAddressOf.
//
// Precondition: v is arena memory.
func (a *Arena) PhysicalAddressOf(v uintptr) uint64 {
	p, ok := a.Translate(v)
	if !ok {
		panic(fmt.Sprintf("virtual address %#x is not arena memory", v))
	}
	return p
}

// Lookup returns the host virtual address of physical address p. ok is
// false if p is not backed by the arena.
func (a *Arena) Lookup(p uint64) (virtual uintptr, ok bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	r, ok := a.lookupPhysicalLocked(p)
	if !ok {
		return 0, false
	}
	return r.Virtual + uintptr(p-r.Physical), true
}

// VirtualAddressOf implements ept.Window.VirtualAddressOf.
//
// Precondition: p is backed by the arena.
func (a *Arena) VirtualAddressOf(p uint64) uintptr {
	v, ok := a.Lookup(p)
	if !ok {
		panic(fmt.Sprintf("physical address %#x is not arena memory", p))
	}
	return v
}

// Regions returns the mapped regions in physical address order.
func (a *Arena) Regions() []Region {
	a.mu.RLock()
	defer a.mu.RUnlock()
	rs := make([]Region, 0, a.byPhysical.Len())
	a.byPhysical.Ascend(func(r *region) bool {
		rs = append(rs, r.Region)
		return true
	})
	return rs
}

// MappedPages returns the number of mapped pages.
func (a *Arena) MappedPages() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.mapped
}

// DirectWindow returns a fixed-offset window equivalent to the arena's
// VirtualAddressOf. ok is false if the regions do not share a single
// virtual-to-physical offset.
func (a *Arena) DirectWindow() (w DirectWindow, ok bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	first := true
	ok = true
	a.byPhysical.Ascend(func(r *region) bool {
		base := r.Virtual - uintptr(r.Physical)
		if first {
			w.Base, first = base, false
			return true
		}
		ok = base == w.Base
		return ok
	})
	return w, ok && !first
}

// Release unmaps all memory. The arena must not be used afterwards, and
// nothing may reference its memory.
func (a *Arena) Release() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var errs []error
	a.byVirtual.Ascend(func(r *region) bool {
		if err := unmap(r.mem); err != nil {
			errs = append(errs, fmt.Errorf("unmapping region at %#x: %w", r.Virtual, err))
		}
		return true
	})
	a.byVirtual.Clear(false)
	a.byPhysical.Clear(false)
	a.current, a.next, a.free, a.mapped = nil, 0, nil, 0
	return errors.Join(errs...)
}

// DirectWindow is a window whose mapping of physical memory starts at a fixed
// host virtual base: physical address p is accessible at Base+p.
type DirectWindow struct {
	Base uintptr
}

// VirtualAddressOf implements ept.Window.VirtualAddressOf.
func (w DirectWindow) VirtualAddressOf(p uint64) uintptr {
	return w.Base + uintptr(p)
}
