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

// The original C allocator seeds its per-probe hash from the current
// stack-frame address combined with a thread-local counter
// (__builtin_frame_address + _Thread_local tls_murmur_seed). Go gives no
// portable way to take a stack-frame address, and doing so would also be
// pointless busywork for the allocator proper -- the actual requirement
// (spec §9) is just a cheap source of per-goroutine, per-call variance, so
// we replace it with a per-instance atomic counter and hash that.
//
// murmur32 is the original's small variant of MurmurHash3's 32-bit finalizer
// mix applied to a single 4-byte word, ported verbatim from bmslab.c's
// murmurhash32 (inlined for the fixed 4-byte input this allocator needs).
func murmur32(x, seed uint32) uint32 {
	h := seed

	k := x
	k *= 0xcc9e2d51
	k = (k << 15) | (k >> 17)
	k *= 0x1b873593
	h ^= k
	h = (h << 13) | (h >> 19)
	h = h*5 + 0xe6546b64

	h ^= 4 // len
	h ^= h >> 16
	h *= 0x85ebca6b
	h ^= h >> 13
	h *= 0xc2b2ae35
	h ^= h >> 16
	return h
}

// nextProbe returns the next per-instance probe-seed hash, spreading CAS
// targets across pages and, independently per page, across submaps within
// a page.
func (s *Slab) nextProbe() uint32 {
	seed := s.seed.Add(1)
	return murmur32(seed, 0x9e3779b9)
}
