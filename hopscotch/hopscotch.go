// Copyright 2024 The cdrcore Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package hopscotch implements a concurrent, resizable, open-addressed
// hopscotch hash table with a hop range of 32. One writer (serialized by an
// internal mutex) may mutate the table while any number of readers look up
// keys lock-free, tolerating concurrent insert/remove/resize via a
// timestamp-based consistency protocol on each bucket's neighborhood.
//
// cdrcore uses it to map bytecode offsets of ADR instructions to their
// declared member-IDs (spec §3, "member-ID table"), built once per topic
// descriptor and then read far more often than written, which is exactly
// the access pattern this structure is built for.
package hopscotch

import (
	"sync"

	"github.com/go-dds/cdrcore/ddsatomic"
)

const (
	// hopRange is the neighborhood size within which a reader is guaranteed
	// to find an entry whose natural hash bucket it has located.
	hopRange = 32

	// addRange is how far Insert will linearly probe for a free slot before
	// giving up and resizing.
	addRange = 64

	// maxReaderRetries bounds how many times Lookup retries the timestamp
	// check before falling back to an unconditional hop-range scan.
	maxReaderRetries = 4

	// hashMultiplier is an odd, large constant for a multiply-shift hash
	// (spec data model: "hashed with a multiply-shift hash").
	hashMultiplier = 0x9E3779B97F4A7C15
)

type bucket[V any] struct {
	hopinfo   ddsatomic.Uint32
	timestamp ddsatomic.Uint32
	present   ddsatomic.Uint32
	key       ddsatomic.Uint64
	value     ddsatomic.Pointer[V]
}

type generation[V any] struct {
	buckets []bucket[V]
	mask    uint64
}

func newGeneration[V any](size uint64) *generation[V] {
	return &generation[V]{
		buckets: make([]bucket[V], size),
		mask:    size - 1,
	}
}

func hash(key, mask uint64) uint64 {
	return (key * hashMultiplier) & mask
}

// Table is a concurrent hopscotch hash table mapping uint64 keys (bytecode
// offsets in cdrcore's use) to values of type V.
type Table[V any] struct {
	mu      sync.Mutex // serializes writers
	gen     ddsatomic.Pointer[generation[V]]
	count   int
	reclaim func()
}

// New returns an empty table with the given initial bucket count (rounded
// up to the next power of two, minimum hopRange) and an optional reclaim
// callback invoked every time Resize publishes a new generation. The
// callback exists for observability/stats parity with the reference
// implementation's deferred-reclamation collector; Go's garbage collector
// already keeps the old generation alive for as long as any reader holds a
// reference to it, so no manual free is required here.
func New[V any](initialSize uint64, reclaim func()) *Table[V] {
	size := nextPow2(initialSize)
	if size < hopRange {
		size = hopRange
	}
	t := &Table[V]{reclaim: reclaim}
	t.gen.Store(newGeneration[V](size))
	return t
}

func nextPow2(n uint64) uint64 {
	if n == 0 {
		return 1
	}
	p := uint64(1)
	for p < n {
		p <<= 1
	}
	return p
}

// Lookup is wait-free for readers modulo the bounded retry-then-fallback
// path below; it never blocks on the writer mutex.
func (t *Table[V]) Lookup(key uint64) (V, bool) {
	gen := t.gen.Load()
	h := hash(key, gen.mask)
	origin := &gen.buckets[h]

	for attempt := 0; attempt < maxReaderRetries; attempt++ {
		ts1 := origin.timestamp.Load()
		bits := origin.hopinfo.Load()
		value, ok := scanHopBits(gen, h, bits, key)
		ts2 := origin.timestamp.Load()
		if ts1 == ts2 {
			return value, ok
		}
	}

	// Fallback: a concurrent writer kept moving entries within our window
	// faster than we could observe a stable snapshot. Scan the full hop
	// range directly; this always terminates and is always correct because
	// it does not depend on hopinfo being stable.
	return scanFullRange(gen, h, key)
}

func scanHopBits[V any](gen *generation[V], h uint64, bits uint32, key uint64) (value V, ok bool) {
	for i := uint32(0); i < hopRange; i++ {
		if bits&(1<<i) == 0 {
			continue
		}
		idx := (h + uint64(i)) & gen.mask
		b := &gen.buckets[idx]
		if b.present.Load() == 1 && b.key.Load() == key {
			if p := b.value.Load(); p != nil {
				return *p, true
			}
		}
	}
	return value, false
}

func scanFullRange[V any](gen *generation[V], h, key uint64) (V, bool) {
	var zero V
	for i := uint64(0); i < hopRange; i++ {
		idx := (h + i) & gen.mask
		b := &gen.buckets[idx]
		if b.present.Load() == 1 && b.key.Load() == key {
			if p := b.value.Load(); p != nil {
				return *p, true
			}
		}
	}
	return zero, false
}

// Insert adds or updates key -> value. It acquires the writer lock.
func (t *Table[V]) Insert(key uint64, value V) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for {
		gen := t.gen.Load()
		if t.updateIfPresent(gen, key, value) {
			return
		}
		if t.insertInto(gen, key, value) {
			t.count++
			return
		}
		t.resizeLocked()
		// retry on the freshly published generation
	}
}

func (t *Table[V]) updateIfPresent(gen *generation[V], key uint64, value V) bool {
	h := hash(key, gen.mask)
	bits := gen.buckets[h].hopinfo.Load()
	for i := uint32(0); i < hopRange; i++ {
		if bits&(1<<i) == 0 {
			continue
		}
		idx := (h + uint64(i)) & gen.mask
		b := &gen.buckets[idx]
		if b.present.Load() == 1 && b.key.Load() == key {
			v := value
			b.value.Store(&v)
			return true
		}
	}
	return false
}

// insertInto places key->value into gen, returning false if no slot could
// be found within addRange (caller should resize and retry).
func (t *Table[V]) insertInto(gen *generation[V], key uint64, value V) bool {
	h := hash(key, gen.mask)

	free := int64(-1)
	for d := uint64(0); d < addRange; d++ {
		idx := (h + d) & gen.mask
		if gen.buckets[idx].present.Load() == 0 {
			free = int64(idx)
			break
		}
	}
	if free == -1 {
		return false
	}

	for distance(h, uint64(free), gen.mask) >= hopRange {
		moved := false
		lo := subMod(uint64(free), hopRange-1, gen.mask)
		for o := lo; o != uint64(free); o = (o + 1) & gen.mask {
			origin := &gen.buckets[o]
			bits := origin.hopinfo.Load()
			for i := uint32(0); i < hopRange; i++ {
				if bits&(1<<i) == 0 {
					continue
				}
				p := (o + uint64(i)) & gen.mask
				if distanceFrom(o, p, gen.mask) >= distanceFrom(o, uint64(free), gen.mask) {
					continue // moving p to free would leave p's origin's neighborhood
				}
				// Move the occupant at p into free.
				origin.timestamp.Add(1)
				src := &gen.buckets[p]
				k := src.key.Load()
				v := src.value.Load()
				dst := &gen.buckets[free]
				dst.key.Store(k)
				dst.value.Store(v)
				dst.present.Store(1)
				newBits := (bits &^ (1 << i)) | (1 << distanceFrom(o, uint64(free), gen.mask))
				origin.hopinfo.Store(newBits)
				src.present.Store(0)
				src.value.Store(nil)
				origin.timestamp.Add(1)
				free = int64(p)
				moved = true
				break
			}
			if moved {
				break
			}
		}
		if !moved {
			return false
		}
	}

	origin := &gen.buckets[h]
	v := value
	dst := &gen.buckets[free]
	dst.key.Store(key)
	dst.value.Store(&v)
	dst.present.Store(1)
	bit := uint32(distance(h, uint64(free), gen.mask))
	origin.timestamp.Add(1)
	origin.hopinfo.Store(origin.hopinfo.Load() | (1 << bit))
	origin.timestamp.Add(1)
	return true
}

func distance(h, idx, mask uint64) uint64 {
	size := mask + 1
	return (idx + size - h) % size
}

func distanceFrom(origin, idx, mask uint64) uint32 {
	return uint32(distance(origin, idx, mask))
}

func subMod(v, delta, mask uint64) uint64 {
	size := mask + 1
	return (v + size - (delta % size)) % size
}

// Remove deletes key from the table, if present. It acquires the writer
// lock and reports whether key was found.
func (t *Table[V]) Remove(key uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	gen := t.gen.Load()
	h := hash(key, gen.mask)
	origin := &gen.buckets[h]
	bits := origin.hopinfo.Load()
	for i := uint32(0); i < hopRange; i++ {
		if bits&(1<<i) == 0 {
			continue
		}
		idx := (h + uint64(i)) & gen.mask
		b := &gen.buckets[idx]
		if b.present.Load() == 1 && b.key.Load() == key {
			origin.timestamp.Add(1)
			b.present.Store(0)
			b.value.Store(nil)
			origin.hopinfo.Store(bits &^ (1 << i))
			origin.timestamp.Add(1)
			t.count--
			return true
		}
	}
	return false
}

// resizeLocked doubles the bucket count and migrates every entry into the
// new generation, then publishes it. Callers must hold t.mu. Per spec,
// doubling the size means every entry lands either at its old distance from
// its (unchanged) low bits or at that distance plus the old size, always
// within hop range, so migration is expected to succeed on the first
// doubling; the loop below doubles again only as a defensive fallback
// rather than silently dropping an entry.
func (t *Table[V]) resizeLocked() {
	old := t.gen.Load()
	newSize := (old.mask + 1) << 1
	logger.Debugf("hopscotch: resizing table from %d to %d buckets", old.mask+1, newSize)

	for {
		newGen := newGeneration[V](newSize)
		ok := true
		for i := range old.buckets {
			b := &old.buckets[i]
			if b.present.Load() != 1 {
				continue
			}
			value := b.value.Load()
			if value == nil {
				continue
			}
			if !t.insertInto(newGen, b.key.Load(), *value) {
				ok = false
				break
			}
		}
		if ok {
			t.gen.Store(newGen)
			break
		}
		newSize <<= 1
	}

	if t.reclaim != nil {
		t.reclaim()
	}
}

// Enumerate returns a snapshot of every key/value pair currently in the
// table. It acquires the writer lock, since it is a debug/test operation,
// not a hot-path lookup.
func (t *Table[V]) Enumerate() map[uint64]V {
	t.mu.Lock()
	defer t.mu.Unlock()

	gen := t.gen.Load()
	out := make(map[uint64]V, t.count)
	for i := range gen.buckets {
		b := &gen.buckets[i]
		if b.present.Load() != 1 {
			continue
		}
		if p := b.value.Load(); p != nil {
			out[b.key.Load()] = *p
		}
	}
	return out
}

// Len returns the number of entries currently stored.
func (t *Table[V]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}
