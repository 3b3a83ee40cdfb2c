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

package physmem

import (
	"unsafe"

	"golang.org/x/sys/unix"
	"hvept.dev/hvept/pkg/hostarch"
)

// mapAnonymous maps length bytes of zeroed, private memory.
func mapAnonymous(length int) ([]byte, error) {
	return unix.Mmap(-1, 0, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANONYMOUS|unix.MAP_PRIVATE)
}

func unmap(mem []byte) error {
	return unix.Munmap(mem)
}

func sliceAddress(mem []byte) uintptr {
	return uintptr(unsafe.Pointer(&mem[0]))
}

// zeroPage clears the page at v.
func zeroPage(v uintptr) {
	clear((*[hostarch.PageSize]byte)(unsafe.Pointer(v))[:])
}
