// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

//go:build linux || darwin

package slab

import (
	"fmt"
	"runtime"
	"syscall"
	"unsafe"
)

// linux/darwin backing region: reserve virt_page_count*PageSize bytes of
// anonymous memory. The OS materializes physical pages lazily on first
// touch, as required by spec §2.
func mapRegion(size int) ([]byte, uintptr, error) {
	region, err := syscall.Mmap(-1, 0, size, syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_PRIVATE|syscall.MAP_ANON)
	if err != nil {
		return nil, 0, fmt.Errorf("mmap %d bytes: %w", size, err)
	}
	base := uintptr(unsafe.Pointer(unsafe.SliceData(region)))
	return region, base, nil
}

func unmapRegion(region []byte) error {
	return syscall.Munmap(region)
}

// hintPageUnused advises the kernel that the page starting at addr is no
// longer needed; MADV_FREE lets the kernel reclaim it lazily under memory
// pressure while leaving the mapping intact -- a subsequent write silently
// cancels the hint, exactly as spec §9 (Open Question 2) describes and
// requires (no remap).
func hintPageUnused(addr uintptr) {
	mem := unsafe.Slice((*byte)(unsafe.Pointer(addr)), PageSize)
	// syscall defines MADV_FREE only for darwin (5); on linux its value is 8.
	advice := 8
	if runtime.GOOS == "darwin" {
		advice = 5
	}
	_ = syscall.Madvise(mem, advice)
}
