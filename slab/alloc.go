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

// Alloc returns a pointer to a freshly reserved obj_size-byte slot, or nil
// if the slab is exhausted (every physical page full and phys_page_count
// already equals virt_page_count).
func (s *Slab) Alloc() unsafe.Pointer {
	for {
		if p := s.tryAllocPass(); p != nil {
			leakstart(uintptr(p))
			return p
		}
		if s.physPageCount.Load() >= s.virtPageCount {
			return nil
		}
		s.maybeExpand()
	}
}

// tryAllocPass makes one full pass over the currently active physical
// pages, probing each for a free slot. It returns nil if no page yielded a
// free slot on this pass.
func (s *Slab) tryAllocPass() unsafe.Pointer {
	physCount := s.physPageCount.Load()
	if physCount == 0 {
		return nil
	}
	pageStart := s.nextProbe() % physCount

	for i := uint32(0); i < physCount; i++ {
		pageIdx := (pageStart + i) % physCount

		if !s.tryRefPage(pageIdx) {
			continue // page is locked by a shrinker in progress
		}

		slot, ok := s.tryAllocInPage(pageIdx)
		if !ok {
			s.unrefPage(pageIdx)
			continue
		}

		// The reference acquired by tryRefPage above is deliberately NOT
		// released here: it stays outstanding until the matching Free
		// call decrements it (see free.go). A shrinker that locks this
		// page therefore still sees a nonzero refcount for every slot
		// that is allocated-but-not-yet-freed, which is exactly what
		// keeps a quiescence check honest.
		s.allocatedSlotCount.Add(1)
		s.maybeExpand()
		return unsafe.Pointer(s.pageStart(pageIdx) + uintptr(slot)*uintptr(s.objSize))
	}
	return nil
}

// tryAllocInPage walks the 16 submaps of pageIdx in round-robin order from
// a randomized starting point and attempts to claim the lowest free bit in
// the first non-full submap it finds.
func (s *Slab) tryAllocInPage(pageIdx uint32) (uint32, bool) {
	bm := &s.bitmaps[pageIdx]
	submapStart := s.nextProbe() % SubmapCount

	for i := uint32(0); i < SubmapCount; i++ {
		sm := (submapStart + i) % SubmapCount
		bit, ok := bm.tryAllocInSubmap(sm)
		if !ok {
			continue
		}
		slot := slotOf(sm, bit)
		if slot >= s.slotCountPerPage {
			// unreachable: sentinel bits guarantee every bit whose slot is
			// at/above slotCountPerPage is pre-set, so it is never claimed.
			panic("slab: probe computed slot outside slot_count_per_page")
		}
		return slot, true
	}
	return 0, false
}
