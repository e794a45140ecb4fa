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
	"testing"
	"unsafe"
)

func TestNewRejectsInvalidArgs(t *testing.T) {
	if s, err := New(4, 16); err == nil {
		t.Fatalf("New(4, 16) = %v, nil; want an error (obj_size < 8)", s)
	}
	if s, err := New(4096, 0); err == nil {
		t.Fatalf("New(4096, 0) = %v, nil; want an error (max_page_count == 0)", s)
	}
	if s, err := New(PageSize+1, 16); err == nil {
		t.Fatalf("New(PageSize+1, 16) = %v, nil; want an error (obj_size > PageSize)", s)
	}
}

func TestFreeNilIsNoop(t *testing.T) {
	s, err := New(64, 2)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	s.Free(nil)
	if s.AllocatedSlotCount() != 0 {
		t.Fatalf("AllocatedSlotCount() = %d, want 0 after Free(nil)", s.AllocatedSlotCount())
	}
}

func TestFreeOutOfRangePageIsIgnored(t *testing.T) {
	s, err := New(64, 2)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	var reported string
	Errorf = func(f string, args ...any) { reported = f }
	defer func() { Errorf = nil }()

	// a pointer whose page index is far beyond virt_page_count
	bogus := unsafe.Pointer(s.base + uintptr(s.virtPageCount+5)*PageSize)
	s.Free(bogus)

	if s.AllocatedSlotCount() != 0 {
		t.Fatalf("AllocatedSlotCount() = %d, want 0 after Free(out-of-range)", s.AllocatedSlotCount())
	}
	if reported == "" {
		t.Fatal("expected Errorf to be invoked for an out-of-range page index")
	}
}

// Scenario A: single-threaded saturation.
func TestScenarioASingleThreadedSaturation(t *testing.T) {
	s, err := New(64, 2)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if got, want := s.slotCountPerPage, uint32(PageSize/64); got != want {
		t.Fatalf("slot_count_per_page = %d, want %d", got, want)
	}

	var ptrs []unsafe.Pointer
	for {
		p := s.Alloc()
		if p == nil {
			break
		}
		ptrs = append(ptrs, p)
		if s.PhysPageCount() < 1 {
			t.Fatal("phys_page_count dropped below 1 during allocation")
		}
	}

	if len(ptrs) != 128 {
		t.Fatalf("got %d successful allocations, want 128", len(ptrs))
	}
	if p := s.Alloc(); p != nil {
		t.Fatalf("Alloc() on exhausted slab = %v, want nil", p)
	}
	if s.PhysPageCount() != s.virtPageCount {
		t.Fatalf("PhysPageCount() = %d, want virt_page_count = %d", s.PhysPageCount(), s.virtPageCount)
	}
	if s.AllocatedSlotCount() != s.PhysPageCount()*s.slotCountPerPage {
		t.Fatalf("AllocatedSlotCount() = %d, want %d", s.AllocatedSlotCount(), s.PhysPageCount()*s.slotCountPerPage)
	}

	for i := len(ptrs) - 1; i >= 0; i-- {
		s.Free(ptrs[i])
	}
	if s.AllocatedSlotCount() != 0 {
		t.Fatalf("AllocatedSlotCount() = %d, want 0 after freeing everything", s.AllocatedSlotCount())
	}

	if p := s.Alloc(); p == nil {
		t.Fatal("Alloc() after draining the slab returned nil, want a pointer")
	} else {
		s.Free(p)
	}
}

// Scenario B: expand trigger.
func TestScenarioBExpandTrigger(t *testing.T) {
	s, err := New(128, 4)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if got, want := s.slotCountPerPage, uint32(32); got != want {
		t.Fatalf("slot_count_per_page = %d, want %d", got, want)
	}

	var ptrs []unsafe.Pointer
	for i := 0; i < 17; i++ {
		p := s.Alloc()
		if p == nil {
			t.Fatalf("Alloc() #%d returned nil", i+1)
		}
		ptrs = append(ptrs, p)
	}
	if s.PhysPageCount() != 2 {
		t.Fatalf("after 17 allocations PhysPageCount() = %d, want 2", s.PhysPageCount())
	}

	for i := 17; i < 33; i++ {
		p := s.Alloc()
		if p == nil {
			t.Fatalf("Alloc() #%d returned nil", i+1)
		}
		ptrs = append(ptrs, p)
	}
	if s.PhysPageCount() != 3 {
		t.Fatalf("after 33 allocations PhysPageCount() = %d, want 3", s.PhysPageCount())
	}

	for _, p := range ptrs {
		s.Free(p)
	}
}

// Scenario C: shrink after drain.
func TestScenarioCShrinkAfterDrain(t *testing.T) {
	s, err := New(256, 8)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if got, want := s.slotCountPerPage, uint32(16); got != want {
		t.Fatalf("slot_count_per_page = %d, want %d", got, want)
	}

	var ptrs []unsafe.Pointer
	for i := 0; i < 120; i++ {
		p := s.Alloc()
		if p == nil {
			t.Fatalf("Alloc() #%d returned nil", i+1)
		}
		ptrs = append(ptrs, p)
	}
	if s.PhysPageCount() < 8 {
		t.Fatalf("PhysPageCount() = %d after 120 allocations, want >= 8", s.PhysPageCount())
	}

	for i := 0; i < 119; i++ {
		s.Free(ptrs[i])
	}
	// drive a bit more activity through the evaluators, as the shrink
	// trigger only fires from within Free.
	last := ptrs[119]
	for i := 0; i < 4; i++ {
		p := s.Alloc()
		if p != nil {
			s.Free(p)
		}
	}

	if got := s.PhysPageCount(); got > 2 {
		t.Fatalf("PhysPageCount() = %d after draining to 1 live slot, want <= 2", got)
	}
	if got := s.PhysPageCount(); got < 1 {
		t.Fatalf("PhysPageCount() = %d, violates the shrink floor of 1", got)
	}

	s.Free(last)
}

// Scenario F: invalid inputs.
func TestScenarioFInvalidInputs(t *testing.T) {
	if s, err := New(4, 16); s != nil || err == nil {
		t.Fatalf("New(4, 16) = (%v, %v), want (nil, non-nil)", s, err)
	}
	if s, err := New(4096, 0); s != nil || err == nil {
		t.Fatalf("New(4096, 0) = (%v, %v), want (nil, non-nil)", s, err)
	}

	s, err := New(64, 2)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	s.Free(nil) // must not panic or affect counters
	if s.AllocatedSlotCount() != 0 {
		t.Fatalf("AllocatedSlotCount() = %d after Free(nil), want 0", s.AllocatedSlotCount())
	}

	before := s.AllocatedSlotCount()
	bogus := unsafe.Pointer(s.base + uintptr(s.virtPageCount)*PageSize)
	s.Free(bogus)
	if s.AllocatedSlotCount() != before {
		t.Fatalf("AllocatedSlotCount() changed after Free(out-of-range pointer): %d -> %d", before, s.AllocatedSlotCount())
	}
}

// Round-trip law: slotOf(submapOf(s), bitOf(s)) == s for every reachable slot.
func TestSlotBitRoundTrip(t *testing.T) {
	const slotCountPerPage = maxSlotsPerPage
	for s := uint32(0); s < slotCountPerPage; s++ {
		sm := submapOf(s)
		bit := bitOf(s)
		if got := slotOf(sm, bit); got != s {
			t.Fatalf("slotOf(submapOf(%d)=%d, bitOf(%d)=%d) = %d, want %d", s, sm, s, bit, got, s)
		}
	}
}

// Invariants 2-4: containment, alignment/stride, and the round-trip decode
// of every pointer Alloc hands out.
func TestPointerInvariants(t *testing.T) {
	s, err := New(96, 3)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	var ptrs []unsafe.Pointer
	for {
		p := s.Alloc()
		if p == nil {
			break
		}
		ptrs = append(ptrs, p)
	}
	defer func() {
		for _, p := range ptrs {
			s.Free(p)
		}
	}()

	regionEnd := s.base + uintptr(s.PhysPageCount())*PageSize
	for _, p := range ptrs {
		addr := uintptr(p)
		if addr < s.base || addr >= regionEnd {
			t.Fatalf("pointer %#x outside [%#x, %#x)", addr, s.base, regionEnd)
		}
		diff := addr - s.base
		pageIdx := uint32(diff >> pageShift)
		if pageIdx >= s.PhysPageCount() {
			t.Fatalf("pointer %#x decodes to page %d >= phys_page_count %d", addr, pageIdx, s.PhysPageCount())
		}
		pageOff := diff % PageSize
		if pageOff%uintptr(s.objSize) != 0 {
			t.Fatalf("pointer %#x not aligned to obj_size within its page (offset %d)", addr, pageOff)
		}
		slot := uint32(pageOff / uintptr(s.objSize))
		if slot >= s.slotCountPerPage {
			t.Fatalf("pointer %#x decodes to slot %d >= slot_count_per_page %d", addr, slot, s.slotCountPerPage)
		}
		reencoded := s.pageStart(pageIdx) + uintptr(slot)*uintptr(s.objSize)
		if reencoded != addr {
			t.Fatalf("re-encoding pointer %#x gave %#x", addr, reencoded)
		}
	}
}

// Invariant 1 (exclusivity), restricted to a single-threaded run: every
// live pointer is distinct.
func TestExclusivitySingleThreaded(t *testing.T) {
	s, err := New(32, 2)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	seen := map[uintptr]bool{}
	var ptrs []unsafe.Pointer
	for {
		p := s.Alloc()
		if p == nil {
			break
		}
		addr := uintptr(p)
		if seen[addr] {
			t.Fatalf("pointer %#x returned twice while still live", addr)
		}
		seen[addr] = true
		ptrs = append(ptrs, p)
	}
	for _, p := range ptrs {
		s.Free(p)
	}
}

// Invariant 5: after the entire workload completes with everything freed,
// allocated_slot_count is 0 and every submap reads back to its freshly
// constructed state (real bits clear, sentinel bits set).
func TestCountConsistencyAfterFullDrain(t *testing.T) {
	s, err := New(200, 3) // 4096/200 = 20 slots/page, slots 20..511 are sentinel
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	var ptrs []unsafe.Pointer
	for i := 0; i < 50; i++ {
		p := s.Alloc()
		if p == nil {
			break
		}
		ptrs = append(ptrs, p)
	}
	for _, p := range ptrs {
		s.Free(p)
	}

	if s.AllocatedSlotCount() != 0 {
		t.Fatalf("AllocatedSlotCount() = %d, want 0", s.AllocatedSlotCount())
	}

	for p := uint32(0); p < s.virtPageCount; p++ {
		bm := &s.bitmaps[p]
		for sm := uint32(0); sm < SubmapCount; sm++ {
			got := bm.submap[sm].Load()
			want := sentinelMaskFor(sm, s.slotCountPerPage)
			if got != want {
				t.Fatalf("page %d submap %d = %#x, want %#x (all real bits clear, sentinel bits set)", p, sm, got, want)
			}
		}
	}
}

func sentinelMaskFor(sm, slotCountPerPage uint32) uint32 {
	mask := ^uint32(0)
	for bit := uint32(0); bit < 32; bit++ {
		if slotOf(sm, bit) < slotCountPerPage {
			mask &^= 1 << bit
		}
	}
	return mask
}

// Allocate-then-free on a single-threaded instance must leave submap words
// and counters bitwise identical to their pre-call state.
func TestAllocFreeRoundTripIsIdentity(t *testing.T) {
	s, err := New(512, 2)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	before := make([]uint32, SubmapCount)
	for sm := range before {
		before[sm] = s.bitmaps[0].submap[sm].Load()
	}
	beforeCount := s.AllocatedSlotCount()

	p := s.Alloc()
	if p == nil {
		t.Fatal("Alloc() returned nil on a fresh slab")
	}
	s.Free(p)

	if s.AllocatedSlotCount() != beforeCount {
		t.Fatalf("AllocatedSlotCount() = %d after alloc+free, want %d", s.AllocatedSlotCount(), beforeCount)
	}
	for sm := range before {
		if got := s.bitmaps[0].submap[sm].Load(); got != before[sm] {
			t.Fatalf("submap %d = %#x after alloc+free, want %#x", sm, got, before[sm])
		}
	}
}
