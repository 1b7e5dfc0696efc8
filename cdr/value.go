// Copyright 2024 The cdrcore Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package cdr

import "math"

// Value is a self-describing in-memory sample tree, addressed positionally
// by the bytecode instead of by raw byte offset. Spec §6.3 describes the
// reference's raw-pointer-plus-offset in-memory layout; per spec.md's own
// Non-goals ("does not reproduce byte-for-byte field layouts of in-memory
// descriptor records"), this is an idiomatic Go substitute that preserves
// every operation's observable semantics (round-trip equality, reuse rules,
// key extraction, free) without unsafe pointer arithmetic over caller
// memory. See DESIGN.md for the full rationale.
type Value struct {
	U64  uint64  // holds bool/int/uint/enum/bitmask payloads, any width
	F32  float32
	F64  float64
	Str  string   // STR/BST payload
	WStr []uint16 // WSTR/BWSTR payload, raw UTF-16 code units

	Elems []*Value // STU/UNI-case/sequence/array elements, in program order

	Present bool   // optional/external: whether the indirection is non-nil
	Inner   *Value // optional/external: the pointed-to value

	Disc int32  // union: current discriminator
	Case *Value // union: currently selected case's value
}

// float32ToBits/bitsToFloat32 and float64ToBits/bitsToFloat64 convert the
// IEEE-754 payload stored in F32/F64 to and from their integer bit patterns
// for wire transfer.
func float32ToBits(v float32) uint32 { return math.Float32bits(v) }
func bitsToFloat32(v uint32) float32 { return math.Float32frombits(v) }
func float64ToBits(v float64) uint64 { return math.Float64bits(v) }
func bitsToFloat64(v uint64) float64 { return math.Float64frombits(v) }

// NewStruct returns a Value holding n positional members, all nil.
func NewStruct(n int) *Value {
	return &Value{Elems: make([]*Value, n)}
}

// elemAt returns val.Elems[idx], or nil if idx is out of range. Read always
// fills every declared member's slot (see newZeroValue), but a Value
// assembled by hand (or produced by an older, pre-fix reader's output kept
// around across a version skew) is not guaranteed to have one for every
// member the current descriptor declares, and writeMembers/writeKeyField
// walk the descriptor's member list, not val.Elems's length.
func elemAt(val *Value, idx int) *Value {
	if idx < 0 || idx >= len(val.Elems) {
		return nil
	}
	return val.Elems[idx]
}

// NewPrimitive returns a Value wrapping an unsigned integer payload
// (booleans, integers, enums, and bitmasks are all represented this way;
// the declared ValueType at the use site determines how many bits matter,
// and its FlagSigned flag whether they are sign-extended on read).
func NewPrimitive(u uint64) *Value { return &Value{U64: u} }

// NewInt is a convenience wrapper for signed primitive values.
func NewInt(v int64) *Value { return &Value{U64: uint64(v)} }

// NewFloat32 wraps a float32 payload.
func NewFloat32(v float32) *Value { return &Value{F32: v} }

// NewFloat64 wraps a float64 payload.
func NewFloat64(v float64) *Value { return &Value{F64: v} }

// NewString wraps a narrow string payload.
func NewString(s string) *Value { return &Value{Str: s} }

// NewWString wraps a wide string payload as raw UTF-16 code units.
func NewWString(units []uint16) *Value { return &Value{WStr: units} }

// NewSequence returns a Value holding elems as a sequence/array body.
func NewSequence(elems ...*Value) *Value { return &Value{Elems: elems} }

// NewIndirect returns a Value representing an optional/external member.
// If present is false, inner is ignored (the wire side emits "absent").
func NewIndirect(present bool, inner *Value) *Value {
	return &Value{Present: present, Inner: inner}
}

// NewUnion returns a Value representing a union with the given
// discriminator and selected case value.
func NewUnion(disc int32, selected *Value) *Value {
	return &Value{Disc: disc, Case: selected}
}
