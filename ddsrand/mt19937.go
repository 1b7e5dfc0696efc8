// Copyright 2024 The cdrcore Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package ddsrand provides the deterministic Mersenne-Twister-19937 PRNG
// this core uses for identifier generation and jitter, and a process-global
// instance seeded from OS entropy.
//
// The classic MT19937 recurrence is reimplemented directly rather than
// pulled from math/rand: Go's math/rand generator is a different algorithm
// (an additive lagged-Fibonacci generator) and does not reproduce the
// reference bit-for-bit sequence a seed of 5489 must produce.
package ddsrand

const (
	n           = 624
	m           = 397
	matrixA     = 0x9908b0df
	upperMask   = 0x80000000
	lowerMask   = 0x7fffffff
	defaultSeed = 5489
)

// Rand is one MT19937 generator instance. The zero value is not ready for
// use; call Seed or SeedFromKey first, or use New / NewSeeded.
type Rand struct {
	state [n]uint32
	index int
}

// New returns a generator seeded with the reference default seed (5489),
// matching the untouched reference state before any explicit seeding.
func New() *Rand {
	r := &Rand{}
	r.Seed(defaultSeed)
	return r
}

// NewSeeded returns a generator seeded with seed.
func NewSeeded(seed uint32) *Rand {
	r := &Rand{}
	r.Seed(seed)
	return r
}

// Seed (re)initializes the generator from a single 32-bit value.
func (r *Rand) Seed(seed uint32) {
	r.state[0] = seed
	for i := 1; i < n; i++ {
		prev := r.state[i-1]
		r.state[i] = uint32(1812433253)*(prev^(prev>>30)) + uint32(i)
	}
	r.index = n
}

// SeedFromKey (re)initializes the generator from an 8-word key, matching the
// reference init_by_array behaviour for non-scalar seeds (e.g. a block of
// OS entropy).
func (r *Rand) SeedFromKey(key [8]uint32) {
	r.Seed(19650218)

	i, j := 1, 0
	k := n
	if len(key) > k {
		k = len(key)
	}
	for ; k > 0; k-- {
		prev := r.state[i-1]
		r.state[i] = (r.state[i] ^ ((prev ^ (prev >> 30)) * 1664525)) + key[j] + uint32(j)
		i++
		j++
		if i >= n {
			r.state[0] = r.state[n-1]
			i = 1
		}
		if j >= len(key) {
			j = 0
		}
	}
	for k = n - 1; k > 0; k-- {
		prev := r.state[i-1]
		r.state[i] = (r.state[i] ^ ((prev ^ (prev >> 30)) * 1566083941)) - uint32(i)
		i++
		if i >= n {
			r.state[0] = r.state[n-1]
			i = 1
		}
	}
	r.state[0] = 0x80000000
	r.index = n
}

// generate refills the state array with the next n outputs' raw words.
func (r *Rand) generate() {
	for i := 0; i < n; i++ {
		y := (r.state[i] & upperMask) | (r.state[(i+1)%n] & lowerMask)
		next := r.state[(i+m)%n] ^ (y >> 1)
		if y&1 != 0 {
			next ^= matrixA
		}
		r.state[i] = next
	}
	r.index = 0
}

// Uint32 returns the next tempered 32-bit output.
func (r *Rand) Uint32() uint32 {
	if r.index >= n {
		r.generate()
	}
	y := r.state[r.index]
	r.index++

	y ^= y >> 11
	y ^= (y << 7) & 0x9d2c5680
	y ^= (y << 15) & 0xefc60000
	y ^= y >> 18
	return y
}

// Uint64 returns a 64-bit output assembled from two consecutive Uint32
// calls, high word first.
func (r *Rand) Uint64() uint64 {
	hi := uint64(r.Uint32())
	lo := uint64(r.Uint32())
	return hi<<32 | lo
}

// Float64 returns a pseudo-random value in [0, 1), with 53 bits of
// precision, following the reference generator's standard construction.
func (r *Rand) Float64() float64 {
	a := r.Uint32() >> 5 // 27 bits
	b := r.Uint32() >> 6 // 26 bits
	return (float64(a)*67108864.0 + float64(b)) / 9007199254740992.0
}

// Intn returns a pseudo-random value in [0, bound) for bound > 0 by taking
// Uint32 modulo bound. This carries the usual small modulo bias toward the
// low end of the range when bound does not divide 2^32 evenly, which is
// acceptable for this substrate's jitter/identifier use.
func (r *Rand) Intn(bound uint32) uint32 {
	if bound == 0 {
		panic("ddsrand: Intn called with bound 0")
	}
	return r.Uint32() % bound
}
