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

// Free releases the slot that ptr refers to, returning it to the pool. ptr
// must have been returned by a prior call to Alloc on the same Slab; any
// other input is a caller contract violation, though Free cheaply rejects
// a nil pointer and an out-of-range computed page index.
//
// Free may be called from any goroutine, not only the one that allocated
// ptr.
func (s *Slab) Free(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}
	leakend(uintptr(ptr))

	addr := uintptr(ptr)
	diff := addr - s.base
	pageIdx := uint32(diff >> pageShift)
	if pageIdx >= s.virtPageCount {
		errorf("slab: Free: pointer %p has out-of-range page index %d (virt_page_count=%d); ignoring", ptr, pageIdx, s.virtPageCount)
		return
	}

	pageBase := s.pageStart(pageIdx)
	offset := addr - pageBase
	slot := uint32(offset / uintptr(s.objSize))

	sm := submapOf(slot)
	bit := bitOf(slot)
	s.bitmaps[pageIdx].clearBit(sm, bit)

	s.allocatedSlotCount.Add(^uint32(0)) // -1

	// Balances the reference Alloc acquired via tryRefPage and deliberately
	// left outstanding for the lifetime of the allocation (see alloc.go).
	// Free itself never needs to hold a reference before clearing the bit:
	// the submap CAS/clear is safe to run concurrently with a shrinker
	// because clearing an already-quiescent page's bit is a no-op race a
	// shrinker cannot observe (the page is locked, so no further allocate
	// can land there), and a page that is not being shrunk doesn't care.
	s.unrefPage(pageIdx)

	s.maybeShrink()
}
