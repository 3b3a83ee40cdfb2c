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
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cenkalti/backoff"
	"golang.org/x/sys/unix"
)

// msrFile writes vals at their MSR offsets in a sparse file, the layout the
// msr driver exposes.
func msrFile(t *testing.T, vals map[uint32]uint64) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "msr")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer f.Close()
	for msr, v := range vals {
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], v)
		if _, err := f.WriteAt(buf[:], int64(msr)); err != nil {
			t.Fatalf("WriteAt(%#x) failed: %v", msr, err)
		}
	}
	return path
}

func TestDeviceReader(t *testing.T) {
	// Offsets of neighbouring MSRs overlap in a plain file, so only MSRs at
	// least eight apart are set.
	path := msrFile(t, map[uint32]uint64{
		MSRMTRRCap:     capFixed,
		MSRMTRRDefType: defEnabled | defFixedEnabled | 6,
		MSRFix64K00000: 0x0606060606060606,
	})
	d := &DeviceReader{Path: path}
	s, err := Read(context.Background(), d, 36)
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	if !s.Enabled || !s.FixedEnabled {
		t.Errorf("Enabled, FixedEnabled = %t, %t, want true, true", s.Enabled, s.FixedEnabled)
	}
	if got := s.MemoryType(0x40000000, 0x200000); got != 6 {
		t.Errorf("MemoryType(1GiB) = %v, want WB", got)
	}
	if got, _ := s.FixedRangeType(0x10000); got != 6 {
		t.Errorf("FixedRangeType(0x10000) = %v, want WB", got)
	}
	if got, _ := s.FixedRangeType(0x80000); got != 0 {
		t.Errorf("FixedRangeType(0x80000) = %v, want UC", got)
	}
}

func TestDeviceReaderMissing(t *testing.T) {
	d := &DeviceReader{Path: filepath.Join(t.TempDir(), "missing")}
	_, err := d.ReadMSR(context.Background(), MSRMTRRCap)
	if !errors.Is(err, unix.ENOENT) {
		t.Errorf("ReadMSR() = %v, want %v", err, unix.ENOENT)
	}
	if _, ok := err.(*backoff.PermanentError); ok {
		t.Errorf("ReadMSR() returned the retry wrapper %T, want the read error", err)
	}
}

func TestDeviceReaderShortRead(t *testing.T) {
	path := msrFile(t, nil)
	d := &DeviceReader{Path: path}
	if _, err := d.ReadMSR(context.Background(), MSRMTRRCap); err == nil {
		t.Errorf("ReadMSR() past the end of the file succeeded")
	}
}

func TestDeviceReaderPath(t *testing.T) {
	d := &DeviceReader{CPU: 3}
	if got, want := d.path(), "/dev/cpu/3/msr"; got != want {
		t.Errorf("path() = %q, want %q", got, want)
	}
}

func TestTransient(t *testing.T) {
	for _, tc := range []struct {
		err  error
		want bool
	}{
		{&os.PathError{Op: "pread", Path: "msr", Err: unix.EINTR}, true},
		{unix.EAGAIN, true},
		{unix.EBUSY, true},
		{unix.EIO, false},
		{unix.ENOENT, false},
	} {
		if got := transient(tc.err); got != tc.want {
			t.Errorf("transient(%v) = %t, want %t", tc.err, got, tc.want)
		}
	}
}

func TestParseAddressSizes(t *testing.T) {
	for _, tc := range []struct {
		name  string
		input string
		want  uint
		ok    bool
	}{
		{
			name:  "intel",
			input: "processor\t: 0\nvendor_id\t: GenuineIntel\naddress sizes\t: 46 bits physical, 48 bits virtual\npower management:\n",
			want:  46,
			ok:    true,
		},
		{
			name:  "missing",
			input: "processor\t: 0\nvendor_id\t: GenuineIntel\n",
		},
		{
			name:  "garbage",
			input: "address sizes\t: lots of bits\n",
		},
		{
			name:  "too wide",
			input: "address sizes\t: 64 bits physical, 64 bits virtual\n",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := parseAddressSizes(strings.NewReader(tc.input))
			if got != tc.want || ok != tc.ok {
				t.Errorf("parseAddressSizes() = %d, %t, want %d, %t", got, ok, tc.want, tc.ok)
			}
		})
	}
}
