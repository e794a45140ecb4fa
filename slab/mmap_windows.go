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

//go:build windows

package slab

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

func mapRegion(size int) ([]byte, uintptr, error) {
	addr, err := windows.VirtualAlloc(0, uintptr(size), windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_READWRITE)
	if err != nil {
		return nil, 0, fmt.Errorf("VirtualAlloc %d bytes: %w", size, err)
	}
	region := unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
	return region, addr, nil
}

func unmapRegion(region []byte) error {
	if len(region) == 0 {
		return nil
	}
	addr := uintptr(unsafe.Pointer(unsafe.SliceData(region)))
	return windows.VirtualFree(addr, 0, windows.MEM_RELEASE)
}

// hintPageUnused advises Windows that the page at addr is no longer
// needed via MEM_RESET, the closest equivalent to MADV_FREE: contents may
// be discarded under memory pressure but the mapping stays valid, and a
// subsequent write is not guaranteed to preserve content written before
// the hint (matching the weak, non-durable release spec §9 asks for).
func hintPageUnused(addr uintptr) {
	_, _ = windows.VirtualAlloc(addr, PageSize, windows.MEM_RESET, windows.PAGE_READWRITE)
}
