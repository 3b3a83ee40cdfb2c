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
	"unsafe"
)

// TablesSize is the size of a Tables in bytes.
const TablesSize = unsafe.Sizeof(Tables{})

// TablesAt returns the Tables located at the given host virtual address.
//
// Precondition: virtual must be page aligned and reference at least
// TablesSize bytes of memory that is not managed by the Go heap and outlives
// the returned Tables.
func TablesAt(virtual uintptr) *Tables {
	if virtual&(EntriesPerTable*8-1) != 0 {
		panic(fmt.Sprintf("tables at %#x are not page aligned", virtual))
	}
	return (*Tables)(unsafe.Pointer(virtual))
}

// addressOf returns the host virtual address of a table.
func addressOf[T PML4 | PDPT | PD | PT](table *T) uintptr {
	return uintptr(unsafe.Pointer(table))
}

// ptAt returns the PT at the given physical address through w.
func ptAt(w Window, physical uint64) *PT {
	return (*PT)(unsafe.Pointer(w.VirtualAddressOf(physical)))
}

// ptAtVirtual returns the PT at the given host virtual address.
func ptAtVirtual(virtual uintptr) *PT {
	return (*PT)(unsafe.Pointer(virtual))
}
