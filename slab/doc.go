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

// Package slab implements a multithreaded, bitmap-based slab allocator.
//
// A Slab serves fixed-size objects out of a reserved region of virtual
// address space divided into PageSize pages. Each page tracks its slots
// with a 16-word atomic bitmap; Alloc and Free touch only that bitmap and a
// per-page lock/refcount word on their fast path, so neither operation ever
// blocks. The number of physical pages backing a Slab grows when usage
// crosses half of the currently addressable slots and shrinks (by hinting
// the freed page back to the OS) when usage falls to an eighth, bounded
// below by one page and above by the max_page_count given to New.
//
// A Slab handles exactly one object size; building a cache of multiple
// Slabs for different size classes, per-thread magazines, and NUMA-aware
// placement are all left to the caller.
package slab
