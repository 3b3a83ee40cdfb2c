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

package hostarch

import "testing"

func TestMemoryTypeParse(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want MemoryType
	}{
		{"UC", MemoryTypeUncacheable},
		{"wc", MemoryTypeWriteCombining},
		{"WriteThrough", MemoryTypeWriteThrough},
		{"writeprotected", MemoryTypeWriteProtected},
		{"WB", MemoryTypeWriteBack},
	} {
		got, err := ParseMemoryType(tc.in)
		if err != nil {
			t.Errorf("ParseMemoryType(%q) failed: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseMemoryType(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
	if _, err := ParseMemoryType("UC-"); err == nil {
		t.Errorf("ParseMemoryType(UC-) succeeded, want error")
	}
}

func TestMemoryTypeEncoding(t *testing.T) {
	// The EPT memory-type field stores these values directly.
	want := map[MemoryType]uint8{
		MemoryTypeUncacheable:    0,
		MemoryTypeWriteCombining: 1,
		MemoryTypeWriteThrough:   4,
		MemoryTypeWriteProtected: 5,
		MemoryTypeWriteBack:      6,
	}
	for mt, v := range want {
		if uint8(mt) != v {
			t.Errorf("%v encodes as %d, want %d", mt, uint8(mt), v)
		}
		if !mt.Valid() {
			t.Errorf("%v is not valid", mt)
		}
	}
	for _, v := range []MemoryType{2, 3, 7, MemoryTypeInvalid} {
		if v.Valid() {
			t.Errorf("%v is valid, want invalid", v)
		}
	}
}

func TestHugeRounding(t *testing.T) {
	if got := Addr(0x3fffff).HugeRoundDown(); got != 0x200000 {
		t.Errorf("HugeRoundDown = %#x, want 0x200000", got)
	}
	if got, ok := Addr(0x200001).HugeRoundUp(); !ok || got != 0x400000 {
		t.Errorf("HugeRoundUp = %#x, %v, want 0x400000, true", got, ok)
	}
	if _, ok := Addr(^uint64(0)).HugeRoundUp(); ok {
		t.Errorf("HugeRoundUp of the last address did not report wrap")
	}
	if got := Addr(0x1234).PageFrame(); got != 1 {
		t.Errorf("PageFrame = %d, want 1", got)
	}
}
