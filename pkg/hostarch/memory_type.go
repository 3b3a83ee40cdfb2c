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

import (
	"fmt"
	"strings"
)

// MemoryType specifies CPU memory access behavior.
//
// Values are the x86 architectural encodings shared by the MTRRs, the PAT
// and the EPT leaf memory-type field, so a MemoryType can be stored into an
// entry without translation.
type MemoryType uint8

const (
	// MemoryTypeUncacheable is strong uncacheable (UC).
	MemoryTypeUncacheable MemoryType = 0

	// MemoryTypeWriteCombining is write-combining (WC).
	MemoryTypeWriteCombining MemoryType = 1

	// MemoryTypeWriteThrough is write-through (WT).
	MemoryTypeWriteThrough MemoryType = 4

	// MemoryTypeWriteProtected is write-protected (WP).
	MemoryTypeWriteProtected MemoryType = 5

	// MemoryTypeWriteBack is write-back (WB), the type of typical RAM.
	MemoryTypeWriteBack MemoryType = 6

	// MemoryTypeInvalid is never stored into an entry. It marks the absence
	// of a computed type.
	MemoryTypeInvalid MemoryType = 0xff
)

// Valid returns true if mt is one of the architecturally defined types.
func (mt MemoryType) Valid() bool {
	switch mt {
	case MemoryTypeUncacheable, MemoryTypeWriteCombining, MemoryTypeWriteThrough,
		MemoryTypeWriteProtected, MemoryTypeWriteBack:
		return true
	}
	return false
}

// String implements fmt.Stringer.String.
func (mt MemoryType) String() string {
	switch mt {
	case MemoryTypeUncacheable:
		return "Uncacheable"
	case MemoryTypeWriteCombining:
		return "WriteCombining"
	case MemoryTypeWriteThrough:
		return "WriteThrough"
	case MemoryTypeWriteProtected:
		return "WriteProtected"
	case MemoryTypeWriteBack:
		return "WriteBack"
	case MemoryTypeInvalid:
		return "Invalid"
	default:
		return fmt.Sprintf("%d", mt)
	}
}

// ShortString returns a two-character string compactly representing the
// MemoryType.
func (mt MemoryType) ShortString() string {
	switch mt {
	case MemoryTypeUncacheable:
		return "UC"
	case MemoryTypeWriteCombining:
		return "WC"
	case MemoryTypeWriteThrough:
		return "WT"
	case MemoryTypeWriteProtected:
		return "WP"
	case MemoryTypeWriteBack:
		return "WB"
	default:
		return fmt.Sprintf("%02d", mt)
	}
}

// ParseMemoryType parses either the long or the two-character form of a
// memory type, case-insensitively.
func ParseMemoryType(s string) (MemoryType, error) {
	for _, mt := range []MemoryType{
		MemoryTypeUncacheable,
		MemoryTypeWriteCombining,
		MemoryTypeWriteThrough,
		MemoryTypeWriteProtected,
		MemoryTypeWriteBack,
	} {
		if strings.EqualFold(s, mt.String()) || strings.EqualFold(s, mt.ShortString()) {
			return mt, nil
		}
	}
	return MemoryTypeInvalid, fmt.Errorf("unknown memory type %q", s)
}
