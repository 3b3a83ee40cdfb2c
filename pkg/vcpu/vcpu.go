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

// Package vcpu owns the EPT tables of virtual CPUs through their lifecycle.
//
// A VCPU's tables are built once before it first enters the guest. While
// the guest runs, VM exits may retype them from a fresh MTRR snapshot or
// split large pages on demand. All mutation of a VCPU's tables happens on
// the goroutine that owns the VCPU; other goroutines may only request a
// resync, which the owner performs on its next exit.
package vcpu

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"hvept.dev/hvept/pkg/ept"
	"hvept.dev/hvept/pkg/hostarch"
	"hvept.dev/hvept/pkg/log"
	"hvept.dev/hvept/pkg/mtrr"
	"hvept.dev/hvept/pkg/physmem"
)

var (
	// ErrRunning is returned when an operation that requires the guest to
	// have never run is attempted on a running VCPU.
	ErrRunning = errors.New("VCPU is running guest code")

	// ErrNotPrepared is returned when an operation requires built tables
	// and Prepare has not succeeded.
	ErrNotPrepared = errors.New("VCPU tables have not been built")

	// ErrNotRunning is returned when exit handling is attempted on a VCPU
	// that is not running guest code.
	ErrNotRunning = errors.New("VCPU is not running guest code")
)

// State is a VCPU lifecycle state.
type State uint32

const (
	// StateCreated is the state of a new VCPU whose tables are unbuilt.
	StateCreated State = iota

	// StatePrepared indicates the tables are built and the guest is not
	// running.
	StatePrepared

	// StateRunning indicates virtualization is active. VM exits are handled
	// in this state.
	StateRunning
)

// String implements fmt.Stringer.String.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StatePrepared:
		return "prepared"
	case StateRunning:
		return "running"
	default:
		return fmt.Sprintf("State(%d)", uint32(s))
	}
}

// GuestMTRRMode selects how guest writes to MTRRs are treated.
type GuestMTRRMode int

const (
	// GuestMTRRHostPassthrough ignores the value the guest wrote. The write
	// only triggers a resync from the host's MTRRs, so the guest always
	// observes host memory types.
	GuestMTRRHostPassthrough GuestMTRRMode = iota
)

// Memory is the host memory a VCPU's tables live in. *physmem.Arena
// implements it.
type Memory interface {
	ept.Translator
	ept.Window
	ept.PageAllocator

	// Alloc allocates length bytes of zeroed, page-aligned memory that is
	// physically contiguous.
	Alloc(length uintptr) (uintptr, error)
}

// directWindower is implemented by memory that can provide a fixed-base
// window.
type directWindower interface {
	DirectWindow() (physmem.DirectWindow, bool)
}

// Opts are VCPU options.
type Opts struct {
	// ID identifies the VCPU in logs.
	ID int

	// Memory holds the tables and split PTs.
	Memory Memory

	// Source provides the MTRR snapshot for every build, resync and split.
	Source mtrr.Source

	// ExitLogInterval bounds how often exit handling is logged. Zero means
	// once per second.
	ExitLogInterval time.Duration
}

// VCPU is a virtual CPU and its EPT tables.
type VCPU struct {
	id     int
	mem    Memory
	source mtrr.Source
	tables *ept.Tables

	// mtrrMode is always GuestMTRRHostPassthrough.
	mtrrMode GuestMTRRMode

	// state is a State. It is written only by the owner, and read
	// atomically by anyone.
	state atomic.Uint32

	// pendingResync is set by RequestResync and consumed by the owner on
	// the next exit.
	pendingResync atomic.Bool

	// exitLog logs exit handling, which may be frequent.
	exitLog log.Logger

	// exits and resyncs are informational counts.
	exits   uint64
	resyncs uint64
}

// New allocates a VCPU and its tables from opts.Memory. The tables are not
// built until Prepare.
func New(opts Opts) (*VCPU, error) {
	if opts.Memory == nil || opts.Source == nil {
		return nil, fmt.Errorf("VCPU %d: memory and MTRR source are required", opts.ID)
	}
	v, err := opts.Memory.Alloc(ept.TablesSize)
	if err != nil {
		return nil, fmt.Errorf("VCPU %d: allocating EPT tables: %w", opts.ID, err)
	}
	every := opts.ExitLogInterval
	if every == 0 {
		every = time.Second
	}
	return &VCPU{
		id:       opts.ID,
		mem:      opts.Memory,
		source:   opts.Source,
		tables:   ept.TablesAt(v),
		mtrrMode: GuestMTRRHostPassthrough,
		exitLog:  log.BasicRateLimitedLogger(every),
	}, nil
}

// ID returns the VCPU id.
func (c *VCPU) ID() int {
	return c.id
}

// State returns the current lifecycle state.
func (c *VCPU) State() State {
	return State(c.state.Load())
}

// Tables returns the VCPU's tables. The caller must not mutate them, and may
// only read them while no exit is being handled.
func (c *VCPU) Tables() *ept.Tables {
	return c.tables
}

// Window returns the window through which the VCPU reaches split PTs.
func (c *VCPU) Window() ept.Window {
	// Regions added after a split may break a direct window, so this is
	// checked every time.
	if dw, ok := c.mem.(directWindower); ok {
		if w, ok := dw.DirectWindow(); ok {
			return w
		}
	}
	return c.mem
}

// Prepare builds the tables from a fresh MTRR snapshot. It may be called
// again to rebuild, but only before the guest first runs.
func (c *VCPU) Prepare(ctx context.Context) error {
	if c.State() == StateRunning {
		return ErrRunning
	}
	snap, err := c.source.Snapshot(ctx)
	if err != nil {
		log.Warningf("VCPU %d: reading MTRRs for build: %v", c.id, err)
		return fmt.Errorf("VCPU %d: reading MTRRs: %w", c.id, err)
	}
	ept.Build(c.tables, c.mem, snap)
	c.state.Store(uint32(StatePrepared))
	buildsMetric.Increment()
	log.Debugf("VCPU %d: built EPT tables for [0, %#x)", c.id, uint64(ept.MappedSize))
	return nil
}

// Enter marks the transition to guest execution.
func (c *VCPU) Enter() error {
	switch c.State() {
	case StateCreated:
		return ErrNotPrepared
	case StateRunning:
		return ErrRunning
	}
	c.state.Store(uint32(StateRunning))
	return nil
}

// Stop marks the end of guest execution. The tables are kept, and Prepare
// may rebuild them.
func (c *VCPU) Stop() error {
	if c.State() != StateRunning {
		return ErrNotRunning
	}
	c.state.Store(uint32(StatePrepared))
	return nil
}

// checkRunning returns the error for exit handling in the current state.
func (c *VCPU) checkRunning() error {
	switch c.State() {
	case StateCreated:
		return ErrNotPrepared
	case StatePrepared:
		return ErrNotRunning
	}
	return nil
}

// RequestResync asks the owner to resync on its next exit. It may be called
// from any goroutine.
func (c *VCPU) RequestResync() {
	c.pendingResync.Store(true)
}

// ResyncPending returns true if a requested resync has not been performed.
func (c *VCPU) ResyncPending() bool {
	return c.pendingResync.Load()
}

// Resync refreshes the memory type of every leaf from a fresh MTRR snapshot.
// It must be called by the owner while the VCPU is running.
func (c *VCPU) Resync(ctx context.Context) (ept.SyncStats, error) {
	if err := c.checkRunning(); err != nil {
		return ept.SyncStats{}, err
	}
	return c.resync(ctx, triggerExplicit)
}

func (c *VCPU) resync(ctx context.Context, trigger string) (ept.SyncStats, error) {
	snap, err := c.source.Snapshot(ctx)
	if err != nil {
		log.Warningf("VCPU %d: reading MTRRs for resync: %v", c.id, err)
		return ept.SyncStats{}, fmt.Errorf("VCPU %d: reading MTRRs: %w", c.id, err)
	}
	s := ept.SyncMemoryTypes(c.tables, c.Window(), snap)
	c.resyncs++
	resyncsMetric.Increment(trigger)
	memoryTypeUpdatesMetric.IncrementBy(uint64(s.Updated))
	c.exitLog.Debugf("VCPU %d: resync (%s): %d large pages, %d tables, %d updated", c.id, trigger, s.LargePages, s.Tables, s.Updated)
	return s, nil
}

// HandleViolation splits the large page covering gpa so that it is mapped by
// 4KB pages. It returns false if gpa is not mapped or is already mapped by a
// PT. It must be called by the owner while the VCPU is running.
func (c *VCPU) HandleViolation(ctx context.Context, gpa hostarch.Addr) (bool, error) {
	if err := c.checkRunning(); err != nil {
		return false, err
	}
	pde, ok := c.tables.PDEFor(gpa)
	if !ok || pde.Kind() != ept.PDELargePage {
		return false, nil
	}
	snap, err := c.source.Snapshot(ctx)
	if err != nil {
		log.Warningf("VCPU %d: reading MTRRs for split: %v", c.id, err)
		return false, fmt.Errorf("VCPU %d: reading MTRRs: %w", c.id, err)
	}
	split, err := ept.Split(c.tables, c.mem, c.mem, snap, gpa)
	if err != nil {
		return false, fmt.Errorf("VCPU %d: %w", c.id, err)
	}
	if split {
		splitsMetric.Increment()
		c.exitLog.Debugf("VCPU %d: split large page at %#x", c.id, gpa.HugeRoundDown())
	}
	return split, nil
}

// ExitReason is the reason for a VM exit.
type ExitReason int

const (
	// ExitOther is any exit this package does not act on.
	ExitOther ExitReason = iota

	// ExitMTRRWrite is a guest write to an MTRR MSR.
	ExitMTRRWrite

	// ExitEPTViolation is an EPT violation at ExitInfo.GuestPhysical.
	ExitEPTViolation
)

// String implements fmt.Stringer.String.
func (r ExitReason) String() string {
	switch r {
	case ExitOther:
		return "other"
	case ExitMTRRWrite:
		return "mtrr-write"
	case ExitEPTViolation:
		return "ept-violation"
	default:
		return fmt.Sprintf("ExitReason(%d)", int(r))
	}
}

// ExitInfo describes a VM exit.
type ExitInfo struct {
	Reason ExitReason

	// GuestPhysical is the faulting address of an EPT violation.
	GuestPhysical hostarch.Addr
}

// Exit handles a VM exit. A pending resync request is performed first, then
// the exit reason is acted on. It must be called by the owner while the VCPU
// is running.
func (c *VCPU) Exit(ctx context.Context, info ExitInfo) error {
	if err := c.checkRunning(); err != nil {
		return err
	}
	c.exits++
	if c.pendingResync.Swap(false) {
		if _, err := c.resync(ctx, triggerRequested); err != nil {
			// Keep the request for the next exit.
			c.pendingResync.Store(true)
			return err
		}
	}

	switch info.Reason {
	case ExitMTRRWrite:
		switch c.mtrrMode {
		case GuestMTRRHostPassthrough:
			_, err := c.resync(ctx, triggerMTRRWrite)
			return err
		}
	case ExitEPTViolation:
		_, err := c.HandleViolation(ctx, info.GuestPhysical)
		return err
	}
	return nil
}

// String implements fmt.Stringer.String.
func (c *VCPU) String() string {
	return fmt.Sprintf("VCPU %d (%s, %d exits, %d resyncs)", c.id, c.State(), c.exits, c.resyncs)
}
