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

//go:build !linux
// +build !linux

package mtrr

import "context"

// unsupportedReader fails every read.
type unsupportedReader struct{}

// ReadMSR implements MSRReader.ReadMSR.
func (unsupportedReader) ReadMSR(context.Context, uint32) (uint64, error) {
	return 0, ErrUnsupported
}

// PhysAddrBits returns DefaultPhysAddrBits.
func PhysAddrBits() uint {
	return DefaultPhysAddrBits
}

// HostSource returns a Source that fails, as host MSRs can only be read on
// Linux.
func HostSource(cpu int) *ReaderSource {
	return &ReaderSource{Reader: unsupportedReader{}, PhysAddrBits: DefaultPhysAddrBits}
}
