// Copyright 2024 The cdrcore Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package ddsatomic provides typed atomic load/store/CAS/arithmetic
// primitives over 32-bit and 64-bit words and pointer-sized words, plus a
// double-word CAS primitive and a lock-free LIFO built on top of it.
//
// Aligned access through the types in this package is lock-free on every
// architecture the Go toolchain supports, including 64-bit words on 32-bit
// platforms (the standard library guarantees this for values accessed
// exclusively through sync/atomic's typed wrappers), so there is no
// mutex-sharded fallback path here.
package ddsatomic

import "sync/atomic"

// Uint32 is an atomic 32-bit unsigned word.
type Uint32 = atomic.Uint32

// Int32 is an atomic 32-bit signed word.
type Int32 = atomic.Int32

// Uint64 is an atomic 64-bit unsigned word.
type Uint64 = atomic.Uint64

// Int64 is an atomic 64-bit signed word.
type Int64 = atomic.Int64

// Pointer is an atomic pointer-sized word.
type Pointer[T any] struct {
	atomic.Pointer[T]
}

// AddUint32 atomically adds delta to *addr and returns the new value.
func AddUint32(addr *Uint32, delta uint32) uint32 {
	return addr.Add(delta)
}

// AddUint64 atomically adds delta to *addr and returns the new value.
func AddUint64(addr *Uint64, delta uint64) uint64 {
	return addr.Add(delta)
}

// CompareAndSwapUint32 is a thin re-export so callers needn't import
// sync/atomic directly when they already depend on this package.
func CompareAndSwapUint32(addr *Uint32, old, new uint32) bool {
	return addr.CompareAndSwap(old, new)
}

// CompareAndSwapUint64 is a thin re-export, see CompareAndSwapUint32.
func CompareAndSwapUint64(addr *Uint64, old, new uint64) bool {
	return addr.CompareAndSwap(old, new)
}

// LoadFence is a documentation no-op: Go's memory model gives every
// sync/atomic operation acquire/release semantics already, so there is no
// separate fence primitive to expose. It exists so call sites that mirror
// the original C fence-then-load idiom stay readable without pretending a
// second synchronization mechanism exists.
func LoadFence() {}

// StoreFence is the store-side counterpart of LoadFence. See LoadFence.
func StoreFence() {}
