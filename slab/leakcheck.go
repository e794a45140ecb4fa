// Copyright (C) 2023 Sneller, Inc.
//
//  Licensed under the Apache License, Version 2.0 (the "License");
//  you may not use this file except in compliance with the License.
//  You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
//  Unless required by applicable law or agreed to in writing, software
//  distributed under the License is distributed on an "AS IS" BASIS,
//  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//  See the License for the specific language governing permissions and
//  limitations under the License.

//go:build slableaks

package slab

import (
	"fmt"
	"io"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"golang.org/x/exp/maps"
)

// leak tracking is opt-in via -tags=slableaks; it is never active in
// production builds and is not on the hot allocate/free path otherwise.
var (
	leakTrackActive atomic.Bool
	leakTrackLock   sync.Mutex
	leakTraces      = map[unsafe_pointer_key]string{}
)

type unsafe_pointer_key = uintptr

func leakstart(addr uintptr) {
	if leakTrackActive.Load() {
		stack := string(debug.Stack())
		leakTrackLock.Lock()
		leakTraces[addr] = stack
		leakTrackLock.Unlock()
	}
}

func leakend(addr uintptr) {
	if leakTrackActive.Load() {
		leakTrackLock.Lock()
		delete(leakTraces, addr)
		leakTrackLock.Unlock()
	}
}

// LeakCheck runs fn and writes the stack traces of every Alloc call site
// whose returned pointer was not passed back to Free by the time fn
// returns. Only meaningful when the package is built with -tags=slableaks;
// otherwise it just runs fn.
func LeakCheck(w io.Writer, fn func()) {
	if leakTrackActive.Swap(true) {
		panic("concurrent slab.LeakCheck calls")
	}
	fn()
	leakTrackLock.Lock()
	defer leakTrackLock.Unlock()
	i := 1
	for addr, stack := range leakTraces {
		fmt.Fprintf(w, "\n#%d. slot at %#x allocated at\n%s\n", i, addr, stack)
		i++
	}
	maps.Clear(leakTraces)
	leakTrackActive.Store(false)
}
