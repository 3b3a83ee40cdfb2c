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

//go:build linux
// +build linux

package mtrr

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"golang.org/x/sys/unix"
	"hvept.dev/hvept/pkg/log"
)

// DeviceReader reads MSRs through the msr driver's /dev/cpu/N/msr. The
// device is opened on every read so that a snapshot never depends on state
// left by an earlier one.
type DeviceReader struct {
	// CPU is the logical CPU to read.
	CPU int

	// Retries bounds the attempts made for a read interrupted by a
	// transient error.
	Retries uint64

	// Path overrides the device path.
	Path string
}

// DefaultRetries is the DeviceReader retry bound used when Retries is 0.
const DefaultRetries = 5

func (d *DeviceReader) path() string {
	if d.Path != "" {
		return d.Path
	}
	return fmt.Sprintf("/dev/cpu/%d/msr", d.CPU)
}

// transient returns true for errors a retry may clear.
func transient(err error) bool {
	return errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EBUSY)
}

// ReadMSR implements MSRReader.ReadMSR.
func (d *DeviceReader) ReadMSR(ctx context.Context, msr uint32) (uint64, error) {
	retries := d.Retries
	if retries == 0 {
		retries = DefaultRetries
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Millisecond
	b.MaxInterval = 50 * time.Millisecond

	var val uint64
	op := func() error {
		v, err := d.read(msr)
		if err != nil {
			if transient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		val = v
		return nil
	}
	notify := func(err error, next time.Duration) {
		log.Warningf("Reading MSR %#x on CPU %d: %v, retrying in %v", msr, d.CPU, err, next)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(b, retries), ctx), notify); err != nil {
		return 0, err
	}
	return val, nil
}

func (d *DeviceReader) read(msr uint32) (uint64, error) {
	path := d.path()
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return 0, &os.PathError{Op: "open", Path: path, Err: err}
	}
	defer unix.Close(fd)

	var buf [8]byte
	n, err := unix.Pread(fd, buf[:], int64(msr))
	if err != nil {
		return 0, &os.PathError{Op: "pread", Path: path, Err: err}
	}
	if n != len(buf) {
		return 0, fmt.Errorf("short read of MSR %#x from %s: %d bytes", msr, path, n)
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// cpuinfoPath is the file PhysAddrBits parses.
var cpuinfoPath = "/proc/cpuinfo"

// PhysAddrBits returns the host's physical address width from the "address
// sizes" line of /proc/cpuinfo, or DefaultPhysAddrBits if it is not found.
func PhysAddrBits() uint {
	f, err := os.Open(cpuinfoPath)
	if err != nil {
		log.Debugf("Opening %s: %v, assuming %d physical address bits", cpuinfoPath, err, DefaultPhysAddrBits)
		return DefaultPhysAddrBits
	}
	defer f.Close()
	if bits, ok := parseAddressSizes(f); ok {
		return bits
	}
	return DefaultPhysAddrBits
}

// parseAddressSizes finds a line like
//
//	address sizes	: 46 bits physical, 48 bits virtual
func parseAddressSizes(r io.Reader) (uint, bool) {
	s := bufio.NewScanner(r)
	for s.Scan() {
		key, val, ok := strings.Cut(s.Text(), ":")
		if !ok || strings.TrimSpace(key) != "address sizes" {
			continue
		}
		phys, _, _ := strings.Cut(val, ",")
		fields := strings.Fields(phys)
		if len(fields) < 1 {
			return 0, false
		}
		bits, err := strconv.ParseUint(fields[0], 10, 8)
		if err != nil || bits == 0 || bits > 52 {
			return 0, false
		}
		return uint(bits), true
	}
	return 0, false
}

// HostSource returns a Source reading the MSRs of cpu on this host.
func HostSource(cpu int) *ReaderSource {
	return &ReaderSource{
		Reader:       &DeviceReader{CPU: cpu},
		PhysAddrBits: PhysAddrBits(),
	}
}
