// Copyright 2024 The cdrcore Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package cdr

import "github.com/go-dds/cdrcore/hopscotch"

// Extensibility describes how a struct/union's member list may evolve
// across versions, per spec §4.2/§4.3.
type Extensibility uint8

const (
	ExtensibilityFinal Extensibility = iota
	ExtensibilityAppendable
	ExtensibilityMutable
)

// DescriptorFlags mirrors spec §3's topic descriptor flag set.
type DescriptorFlags uint32

const (
	FlagKeyPresent DescriptorFlags = 1 << iota
	FlagFixedKeyXCDR1
	FlagFixedKeyXCDR2
	FlagKeyInAppendable
	FlagKeyInMutable
	FlagKeyContainsSequence
	FlagKeyContainsNonPrimitiveArray
	FlagDefaultsToXCDR2
)

func (f DescriptorFlags) has(bit DescriptorFlags) bool { return f&bit != 0 }

// KeyField locates one key member, in both declaration order and
// member-ID order, per spec §3's "key-offset list".
type KeyField struct {
	// Index is the member's position in the top-level struct's Value.Elems.
	Index int
	// MemberID is the member's declared ID (0 for final types, which have
	// no member-IDs).
	MemberID uint32
}

// Descriptor is an immutable topic descriptor: spec §3's "Topic
// descriptor". Built once at topic-registration time from a bytecode
// program and never mutated afterward.
type Descriptor struct {
	Name          string
	Program       Program
	Extensibility Extensibility
	Flags         DescriptorFlags

	// KeyOffsetsDecl is the key-offset list in declaration order; nil if
	// the type has no key.
	KeyOffsetsDecl []KeyField
	// KeyOffsetsByID is the same fields reordered by member-ID, used for
	// keyhash; nil if the type is final (no member-IDs exist) or has no
	// key.
	KeyOffsetsByID []KeyField

	// MemberIDTable maps a bytecode offset (word index) of an ADR
	// instruction to its declared member-ID, built from trailing MID
	// instructions. Nil implies "no optional members" per spec §3.
	MemberIDTable *hopscotch.Table[uint32]

	// OptSizeXCDR1/OptSizeXCDR2 are non-zero iff the entire type is
	// memcpy-safe (spec glossary) at that XCDR version: fixed-size,
	// alignment-stable, no indirection, no booleans, no variable-length
	// parts. When non-zero, GetSize can skip walking the bytecode.
	OptSizeXCDR1 int
	OptSizeXCDR2 int

	// NestingMax bounds recursion depth for cyclic/self-referential types
	// (spec §9 "Design Notes"), exposed so callers can size stacks.
	NestingMax int

	// TopLevelPC maps a top-level member's Elems index to the bytecode
	// offset of its ADR instruction (final/appendable types only; a
	// @mutable type's members live behind PLM indirection instead and are
	// not indexed here). Used by key extraction to locate each declared key
	// field's type and flags without re-walking the whole program.
	TopLevelPC map[int]int
}

// NewDescriptor builds a Descriptor from a raw program. The member-ID table
// is constructed from any trailing MID instructions; KOF instructions (if
// present) populate KeyOffsetsDecl, and KeyOffsetsByID is derived by
// sorting a copy by MemberID when the program carries member-IDs at all.
func NewDescriptor(name string, prog Program, ext Extensibility, flags DescriptorFlags, nestingMax int) *Descriptor {
	d := &Descriptor{
		Name:          name,
		Program:       prog,
		Extensibility: ext,
		Flags:         flags,
		NestingMax:    nestingMax,
	}
	d.buildMemberIDTable()
	d.buildTopLevelPC()
	d.buildKeyOffsets()
	d.computeOptSizes()
	return d
}

// buildTopLevelPC records each direct (non-PLM) member's ADR offset, for
// final/appendable top-level programs. @mutable types have no direct ADR
// members at the top level (only PLM entries), so this is a no-op for them.
func (d *Descriptor) buildTopLevelPC() {
	table := make(map[int]int)
	pc := 0
	if op, _, _, _ := decodeHeader(d.Program[pc]); op == OpDLC {
		pc++
	} else if op == OpPLC {
		d.TopLevelPC = table
		return
	}
	for pc < len(d.Program) {
		op, _, _, _ := decodeHeader(d.Program[pc])
		if op == OpRTS {
			break
		}
		if op != OpADR {
			break
		}
		idx := int(d.Program[pc+1])
		table[idx] = pc
		pc += instructionWords(d.Program, pc)
	}
	d.TopLevelPC = table
}

// scan walks the whole program word-by-word, correctly skipping each
// instruction's operand words via instructionWords, and invokes visit for
// every instruction header encountered (both inside the live program body
// and in the MID/KOF trailer that follows its top-level RTS).
func scan(prog Program, visit func(i int, op Op)) {
	for i := 0; i < len(prog); {
		op, _, _, _ := decodeHeader(prog[i])
		visit(i, op)
		i += instructionWords(prog, i)
	}
}

func (d *Descriptor) buildMemberIDTable() {
	tbl := hopscotch.New[uint32](16, nil)
	any := false
	scan(d.Program, func(i int, op Op) {
		if op != OpMID {
			return
		}
		offset := d.Program[i+1]
		memberID := d.Program[i+2]
		tbl.Insert(uint64(offset), memberID)
		any = true
	})
	if any {
		d.MemberIDTable = tbl
	}
}

func (d *Descriptor) buildKeyOffsets() {
	var decl []KeyField
	scan(d.Program, func(i int, op Op) {
		if op != OpKOF {
			return
		}
		decl = append(decl, KeyField{Index: int(d.Program[i+1]), MemberID: d.Program[i+2]})
	})
	if len(decl) == 0 {
		return
	}
	d.KeyOffsetsDecl = decl

	if d.MemberIDTable != nil {
		byID := make([]KeyField, len(decl))
		copy(byID, decl)
		// simple insertion sort: key lists are small (handful of members)
		for i := 1; i < len(byID); i++ {
			for j := i; j > 0 && byID[j-1].MemberID > byID[j].MemberID; j-- {
				byID[j-1], byID[j] = byID[j], byID[j-1]
			}
		}
		d.KeyOffsetsByID = byID
	}
}

// computeOptSizes determines whether the top-level program describes a
// flat, fixed-size, primitive-only member list (the memcpy-safe fast path
// of spec §4.3). Any STR/BST/WSTR/BWSTR/SEQ/BSQ/UNI/optional/external
// member, or any VTBln member, disqualifies the type, matching the
// glossary's memcpy-safe definition (booleans disqualify because their
// on-wire normalized range, 0/1, is narrower than an arbitrary in-memory
// byte).
func (d *Descriptor) computeOptSizes() {
	if d.Extensibility != ExtensibilityFinal {
		return
	}
	size1, size2 := 0, 0
	ok := true
scanLoop:
	for i := 0; i < len(d.Program); {
		op, vt, flags, _ := decodeHeader(d.Program[i])
		switch op {
		case OpADR:
			if flags.has(FlagOptional) || flags.has(FlagExternal) {
				ok = false
			}
			switch vt {
			case VT1By:
				size1 += 1
				size2 += 1
			case VT2By:
				size1 = align(size1, 2)
				size2 = align(size2, 2)
				size1 += 2
				size2 += 2
			case VT4By:
				size1 = align(size1, 4)
				size2 = align(size2, 4)
				size1 += 4
				size2 += 4
			case VT8By:
				size1 = align(size1, 8)
				size2 = align(size2, 4)
				size1 += 8
				size2 += 8
			default:
				ok = false
			}
			i += instructionWords(d.Program, i)
		case OpRTS:
			// Top-level program end; anything after this (MID/KOF
			// trailers) is metadata, not live members, so stop here.
			break scanLoop
		default:
			ok = false
		}
		if !ok {
			break
		}
	}
	if ok {
		d.OptSizeXCDR1 = size1
		d.OptSizeXCDR2 = size2
	}
}

// instructionWords returns how many words the instruction at i occupies,
// including its header, so descriptor-build-time walks can skip over it.
func instructionWords(prog Program, i int) int {
	op, vt, _, _ := decodeHeader(prog[i])
	switch op {
	case OpADR:
		switch vt {
		case VTBSt, VTBWSt, VTEnu:
			return 3
		case VTBmk:
			return 4
		case VTArr, VTSeq, VTBSq:
			return 5
		case VTUni, VTStu:
			return 3
		case VTExt:
			return 4
		default:
			return 2
		}
	case OpJSR:
		return 2
	case OpKOF:
		return 3
	case OpJEQ:
		return 3
	case OpJEQ4:
		return 4
	case OpPLM:
		return 3
	case OpMID:
		return 3
	case OpDLC, OpPLC, OpRTS:
		return 1
	default:
		return 1
	}
}
