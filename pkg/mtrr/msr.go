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

package mtrr

import "context"

// MSR numbers of the MTRR interface.
const (
	MSRMTRRCap     = 0xfe
	MSRMTRRDefType = 0x2ff

	// MSRPhysBase0 and MSRPhysMask0 start the variable-range pairs:
	// PHYSBASEn is MSRPhysBase0+2n and PHYSMASKn is MSRPhysMask0+2n.
	MSRPhysBase0 = 0x200
	MSRPhysMask0 = 0x201

	MSRFix64K00000 = 0x250
	MSRFix16K80000 = 0x258
	MSRFix16KA0000 = 0x259
	MSRFix4KC0000  = 0x268
	MSRFix4KC8000  = 0x269
	MSRFix4KD0000  = 0x26a
	MSRFix4KD8000  = 0x26b
	MSRFix4KE0000  = 0x26c
	MSRFix4KE8000  = 0x26d
	MSRFix4KF0000  = 0x26e
	MSRFix4KF8000  = 0x26f
)

// fixedMSRs lists the fixed-range MSRs in address order. Each holds eight
// one-byte types.
var fixedMSRs = [...]uint32{
	MSRFix64K00000,
	MSRFix16K80000,
	MSRFix16KA0000,
	MSRFix4KC0000,
	MSRFix4KC8000,
	MSRFix4KD0000,
	MSRFix4KD8000,
	MSRFix4KE0000,
	MSRFix4KE8000,
	MSRFix4KF0000,
	MSRFix4KF8000,
}

// IA32_MTRRCAP bits.
const (
	capVariableCountMask = 0xff
	capFixed             = 1 << 8
	capWriteCombining    = 1 << 10
	capSMRR              = 1 << 11
)

// IA32_MTRR_DEF_TYPE bits.
const (
	defTypeMask     = 0xff
	defFixedEnabled = 1 << 10
	defEnabled      = 1 << 11
)

// IA32_MTRR_PHYSBASEn and IA32_MTRR_PHYSMASKn bits.
const (
	baseTypeMask = 0xff
	maskValid    = 1 << 11
)

// MSRReader reads model specific registers of one logical CPU.
type MSRReader interface {
	ReadMSR(ctx context.Context, msr uint32) (uint64, error)
}

// MapReader is an MSRReader over a fixed set of values. Unknown MSRs read as
// zero.
type MapReader map[uint32]uint64

// ReadMSR implements MSRReader.ReadMSR.
func (m MapReader) ReadMSR(_ context.Context, msr uint32) (uint64, error) {
	return m[msr], nil
}
