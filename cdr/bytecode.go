// Copyright 2024 The cdrcore Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package cdr

// Op is a bytecode instruction's primary opcode, per spec §4.1.
type Op uint8

const (
	OpADR Op = iota // address a member
	OpJSR           // jump to a sub-program
	OpJEQ           // union case, 3-word form
	OpJEQ4          // union case, 4-word form (carries a type-size word)
	OpKOF           // key-offset entry
	OpDLC           // delimited-list container marker
	OpPLC           // parameter-list container marker
	OpPLM           // parameter-list member entry
	OpMID           // member-ID table entry
	OpRTS           // return / end of program
)

func (o Op) String() string {
	names := [...]string{"ADR", "JSR", "JEQ", "JEQ4", "KOF", "DLC", "PLC", "PLM", "MID", "RTS"}
	if int(o) < len(names) {
		return names[o]
	}
	return "???"
}

// ValueType is an ADR/JEQ instruction's sub-opcode: the value's CDR type.
type ValueType uint8

const (
	VTBln   ValueType = iota // boolean
	VT1By                    // 1-byte primitive
	VT2By                    // 2-byte primitive
	VT4By                    // 4-byte primitive
	VT8By                    // 8-byte primitive
	VTWChar                  // UTF-16 code unit
	VTStr                    // unbounded string
	VTBSt                    // bounded string
	VTWStr                   // unbounded wide string
	VTBWSt                   // bounded wide string
	VTEnu                    // enum
	VTBmk                    // bitmask
	VTSeq                    // unbounded sequence
	VTBSq                    // bounded sequence
	VTArr                    // fixed-size array
	VTUni                    // union
	VTStu                    // nested struct (subtype only)
	VTExt                    // external/extension
)

// Flag bits carried by ADR/JEQ/PLM instructions.
type Flag uint8

const (
	FlagOptional       Flag = 1 << iota // ADR: member is optional (pointer indirection)
	FlagExternal                        // ADR: member is @external (pointer indirection)
	FlagMustUnderstand                  // ADR/PLM: mutable member must be understood
	FlagKey                             // ADR: member participates in the key
	FlagDefaultCase                     // JEQ/JEQ4: this is the union's default case
	FlagBase                            // PLM: splice a base type's members in directly
	FlagSigned                          // ADR: integer primitive is signed
	FlagFloat                           // ADR: primitive is IEEE-754 floating point
)

func (f Flag) has(bit Flag) bool { return f&bit != 0 }

// instrHeader packs an instruction's opcode, value type, and flags into one
// 32-bit word: op in bits 31-24, value type in bits 23-16, flags in bits
// 15-8, and an 8-bit size hint in bits 7-0 (the wire size in bytes of a
// VTEnu or VTBmk value; left 0 elsewhere, since fixed primitives take their
// size from the value type and sequences/arrays carry their element size in
// an operand word). Per spec §6.2 the bytecode's bit layout is an implementation
// choice, not a wire-compatibility requirement (only the CDR wire format
// itself is bit-exact); this layout is cdrcore's own.
func instrHeader(op Op, vt ValueType, flags Flag, hint uint8) uint32 {
	return uint32(op)<<24 | uint32(vt)<<16 | uint32(flags)<<8 | uint32(hint)
}

func decodeHeader(word uint32) (op Op, vt ValueType, flags Flag, hint uint8) {
	return Op(word >> 24), ValueType((word >> 16) & 0xFF), Flag((word >> 8) & 0xFF), uint8(word)
}

// EncodeInstrHeader exposes instrHeader to callers assembling a Program by
// hand instead of through an IDL compiler (out of scope per spec.md's
// Non-goals): cmd/cdrdump's built-in sample descriptors are the one place
// in this module that needs it.
func EncodeInstrHeader(op Op, vt ValueType, flags Flag, hint uint8) uint32 {
	return instrHeader(op, vt, flags, hint)
}

// Program is a flat bytecode program: a sequence of 32-bit words terminated
// by an OpRTS at depth 0, per spec §4.1/§6.2.
type Program []uint32

// primitiveSize returns the wire size in bytes of a primitive value type,
// or 0 if vt is not a fixed-size primitive.
func primitiveSize(vt ValueType) int {
	switch vt {
	case VTBln, VT1By:
		return 1
	case VT2By, VTWChar:
		return 2
	case VT4By:
		return 4
	case VT8By:
		return 8
	case VTEnu, VTBmk:
		return 0 // size carried separately (hint byte), not fixed per-vt
	default:
		return 0
	}
}

// isPrimitiveElement reports whether vt can appear as a SEQ/ARR element
// described purely by its fixed size, with no nested sub-program (spec
// §4.2: DHEADER is skipped for primitive-sized sequence/array elements).
func isPrimitiveElement(vt ValueType) bool {
	switch vt {
	case VTBln, VT1By, VT2By, VT4By, VT8By:
		return true
	default:
		return false
	}
}
