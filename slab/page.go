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

import (
	"math/bits"
	"sync/atomic"

	"github.com/bmslab/slab/internal/spinwait"
)

const cacheLineSize = 64

// pageBitmap is the per-page slot bitmap: SubmapCount atomic 32-bit words,
// one bit per slot (1 = used, 0 = free). It is padded so that no two
// pageBitmap values in a []pageBitmap share a cache line, avoiding false
// sharing between pages under concurrent CAS traffic.
type pageBitmap struct {
	submap [SubmapCount]atomic.Uint32
	_      [(cacheLineSize - (SubmapCount*4)%cacheLineSize) % cacheLineSize]byte
}

// submapOf and bitOf decompose a slot index into its submap word and the
// bit position within that word, per spec: submap = s mod SubmapCount,
// bit = s div SubmapCount.
func submapOf(slot uint32) uint32 { return slot % SubmapCount }
func bitOf(slot uint32) uint32    { return slot / SubmapCount }

// slotOf is the inverse of (submapOf, bitOf): slot = bit*SubmapCount + submap.
func slotOf(submap, bit uint32) uint32 { return bit*SubmapCount + submap }

// init marks the first slotCount bits across the 16 submaps as free (0) and
// every bit beyond slotCount as a permanently-used sentinel (1), so that a
// probe can never land on a bit outside the page's real slot range.
func (p *pageBitmap) init(slotCount uint32) {
	for i := range p.submap {
		p.submap[i].Store(^uint32(0))
	}
	for s := uint32(0); s < slotCount; s++ {
		sm := submapOf(s)
		bit := bitOf(s)
		mask := ^(uint32(1) << bit)
		for {
			old := p.submap[sm].Load()
			if p.submap[sm].CompareAndSwap(old, old&mask) {
				break
			}
		}
	}
}

// reinit restores a page's bitmap to its freshly-constructed state. Expand
// does not call it: a page is only shrunk away once it holds no live slots,
// so its bitmap is already in that state.
func (p *pageBitmap) reinit(slotCount uint32) {
	p.init(slotCount)
}

// tryAllocInSubmap attempts to claim the lowest free bit in submap index sm.
// It returns the claimed bit and true on success, or (0, false) if the
// submap is fully used or the single retry after a lost CAS also loses.
func (p *pageBitmap) tryAllocInSubmap(sm uint32) (uint32, bool) {
	w := &p.submap[sm]
	for attempt := 0; attempt < 2; attempt++ {
		old := w.Load()
		if old == ^uint32(0) {
			return 0, false
		}
		bit := uint32(bits.TrailingZeros32(^old))
		if bit >= 32 {
			return 0, false
		}
		if w.CompareAndSwap(old, old|(uint32(1)<<bit)) {
			return bit, true
		}
		// one retry within the same submap before moving on, per spec §4.2 step 3
		spinwait.Pause()
	}
	return 0, false
}

// clearBit clears the bit for slot within submap sm (free path).
func (p *pageBitmap) clearBit(sm, bit uint32) {
	mask := ^(uint32(1) << bit)
	for {
		old := p.submap[sm].Load()
		if p.submap[sm].CompareAndSwap(old, old&mask) {
			return
		}
		spinwait.Pause()
	}
}
