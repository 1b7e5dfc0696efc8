// Copyright 2024 The cdrcore Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package cdr

// Free resets val and everything it transitively owns back to its zero
// state, the Go counterpart of spec §4.8's free-sample: the reference
// implementation walks the bytecode releasing heap-allocated strings,
// sequences, and optional/external indirections so the sample struct can
// be handed back to Read for reuse. Go's allocator needs no matching
// "release" call, so Free's job here is purely to make a Value safe to
// reuse (or to drop its last references so the garbage collector can
// reclaim them promptly) rather than to prevent a leak. Idempotent: a
// second call on an already-freed Value is a no-op.
func Free(v *Value) {
	if v == nil {
		return
	}
	v.Str = ""
	v.WStr = nil
	for _, e := range v.Elems {
		Free(e)
	}
	v.Elems = nil
	v.Present = false
	Free(v.Inner)
	v.Inner = nil
	v.Disc = 0
	Free(v.Case)
	v.Case = nil
	v.U64 = 0
	v.F32 = 0
	v.F64 = 0
}
