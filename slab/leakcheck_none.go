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

//go:build !slableaks

package slab

import "io"

func leakstart(addr uintptr) {}
func leakend(addr uintptr)   {}

// LeakCheck runs fn. Build with -tags=slableaks to additionally capture
// allocation-site stack traces for any slot still outstanding when fn
// returns.
func LeakCheck(w io.Writer, fn func()) {
	fn()
}
