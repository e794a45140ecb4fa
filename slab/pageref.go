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

import "github.com/bmslab/slab/internal/spinwait"

// The page lock/ref word packs a reclamation lock bit (the top bit) with a
// 63-bit in-flight-reference count. A shrinker sets the lock bit and then,
// after a sequentially-consistent fence, checks that the word is exactly
// lockBit (lock set, refcount zero) before reclaiming the page. An
// allocator increments the refcount first and backs out if it observes the
// lock bit already set; the ordering guarantee in both directions comes
// from the read-modify-write nature of the increment together with the
// fence, not from acquire/release alone (spec: ordering guarantees, §5).

// tryRefPage attempts to record an in-flight allocator reference to page
// pageIdx. It returns false (and leaves the refcount unchanged) if the page
// is currently locked by a shrinker.
func (s *Slab) tryRefPage(pageIdx uint32) bool {
	ref := &s.pageLockRefs[pageIdx]
	prev := ref.Add(1) - 1
	if prev&lockBit != 0 {
		ref.Add(^uint64(0)) // undo: -1
		return false
	}
	return true
}

// unrefPage releases a reference previously acquired by tryRefPage, or
// balances the implicit reference an allocation holds on its page between
// allocate and free (see free.go).
func (s *Slab) unrefPage(pageIdx uint32) {
	s.pageLockRefs[pageIdx].Add(^uint64(0)) // -1
}

// lockPage sets the reclamation lock bit for pageIdx. Safe to call even if
// already set.
func (s *Slab) lockPage(pageIdx uint32) {
	ref := &s.pageLockRefs[pageIdx]
	for {
		old := ref.Load()
		if old&lockBit != 0 {
			return
		}
		if ref.CompareAndSwap(old, old|lockBit) {
			return
		}
		spinwait.Pause()
	}
}

// unlockPage clears the reclamation lock bit for pageIdx, leaving the
// refcount bits untouched. Used both when a newly activated page must be
// made visible unlocked (expand) and when a failed shrink attempt must not
// strand the lock bit (grow.go).
func (s *Slab) unlockPage(pageIdx uint32) {
	ref := &s.pageLockRefs[pageIdx]
	for {
		old := ref.Load()
		cleared := old &^ lockBit
		if old == cleared {
			return
		}
		if ref.CompareAndSwap(old, cleared) {
			return
		}
		spinwait.Pause()
	}
}

// pageReclaimable reports whether pageIdx's lock/ref word is exactly
// lockBit: locked, with zero in-flight references. Must be called only
// after the caller has itself set the lock bit and issued the
// sequentially-consistent fence required by §4.4/§5.
func (s *Slab) pageReclaimable(pageIdx uint32) bool {
	return s.pageLockRefs[pageIdx].Load() == lockBit
}
