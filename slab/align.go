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

package slab

import "unsafe"

// newPageBitmaps returns a slice of n pageBitmap values whose backing array
// starts on a cache-line boundary. Go's allocator guarantees alignment only
// up to the element type's natural alignment (4 bytes here), which is not
// enough to keep every element on its own cache line when n > 1; we
// therefore over-allocate by one cache line and hand back a sub-slice of a
// byte buffer realigned at runtime. This is the Go-native equivalent of the
// original's __attribute__((aligned(64))) struct.
func newPageBitmaps(n uint32) []pageBitmap {
	if n == 0 {
		return nil
	}
	const sz = unsafe.Sizeof(pageBitmap{})
	raw := make([]byte, uintptr(n)*sz+cacheLineSize)
	base := uintptr(unsafe.Pointer(unsafe.SliceData(raw)))
	aligned := (base + cacheLineSize - 1) &^ (cacheLineSize - 1)
	off := aligned - base
	return unsafe.Slice((*pageBitmap)(unsafe.Pointer(&raw[off])), n)
}
