// Copyright 2024 The cdrcore Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package cdr

// Write serializes val according to desc into out. Implements spec §4.3.
func Write(out *OutputStream, desc *Descriptor, val *Value) error {
	_, err := writeAggregateBody(out, desc, desc.Program, 0, val)
	return err
}

// indirectValue resolves an optional/external member's pointer indirection,
// returning the pointed-to value and whether it is present. Non-indirect
// members are always "present" (their own Value).
func indirectValue(flags Flag, member *Value) (*Value, bool) {
	if flags.has(FlagOptional) || flags.has(FlagExternal) {
		return member.Inner, member.Present
	}
	return member, true
}

func boolToU64(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// fixedSize reports the wire size of a value type that is always a fixed
// number of bytes (needed to choose an EMHEADER length-code without
// measuring the encoded value first).
func fixedSize(vt ValueType, hint uint8) (size int, fixed bool) {
	switch vt {
	case VTBln, VT1By:
		return 1, true
	case VT2By, VTWChar:
		return 2, true
	case VT4By:
		return 4, true
	case VT8By:
		return 8, true
	case VTEnu, VTBmk:
		return int(hint), true
	default:
		return 0, false
	}
}

func lcForSize(size int) uint32 {
	switch size {
	case 1:
		return 0
	case 2:
		return 1
	case 4:
		return 2
	case 8:
		return 3
	default:
		programmerError("lcForSize: unsupported fixed size")
		return 0
	}
}

// emheader packs EMHEADER's bit fields per spec §4.2.
func emheader(mustUnderstand bool, lc uint32, memberID uint32) uint32 {
	var mu uint32
	if mustUnderstand {
		mu = 1
	}
	return mu<<31 | (lc&0x7)<<28 | (memberID & 0x0FFFFFFF)
}

// writeAggregateBody dispatches on the wrapper kind (final/appendable/
// mutable) found at pc and writes val's members accordingly. Returns the pc
// just past the aggregate's terminating RTS.
func writeAggregateBody(out *OutputStream, desc *Descriptor, prog Program, pc int, val *Value) (int, error) {
	op, _, _, _ := decodeHeader(prog[pc])
	switch op {
	case OpDLC:
		pc++
		if out.Version == Version2 {
			off := out.reserveUint32()
			bodyStart := out.pos()
			next, err := writeMembers(out, desc, prog, pc, val)
			if err != nil {
				return next, err
			}
			out.patchUint32(off, uint32(out.pos()-bodyStart))
			return next, nil
		}
		return writeMembers(out, desc, prog, pc, val)
	case OpPLC:
		pc++
		if out.Version == Version2 {
			return writeMutableXCDR2(out, desc, prog, pc, val)
		}
		return writeMutableXCDR1(out, desc, prog, pc, val)
	default:
		return writeMembers(out, desc, prog, pc, val)
	}
}

// writeMembers writes a final/appendable aggregate's ADR member list.
func writeMembers(out *OutputStream, desc *Descriptor, prog Program, pc int, val *Value) (int, error) {
	for {
		op, vt, flags, hint := decodeHeader(prog[pc])
		if op == OpRTS {
			return pc + 1, nil
		}
		if op != OpADR {
			programmerError("writeMembers: expected ADR or RTS")
		}
		idx := int(prog[pc+1])
		member := elemAt(val, idx)
		width := instructionWords(prog, pc)
		if member == nil {
			programmerError("writeMembers: declared member has no value")
		}

		inner, present := indirectValue(flags, member)
		if flags.has(FlagOptional) {
			if out.Version == Version2 {
				out.writeUint(1, boolToU64(present))
				if !present {
					pc += width
					continue
				}
			} else {
				if err := writeOptionalXCDR1(out, desc, prog, pc, vt, flags, hint, inner, present); err != nil {
					return pc, err
				}
				pc += width
				continue
			}
		} else if flags.has(FlagExternal) && !present {
			programmerError("writeMembers: non-optional external member has no value")
		}

		if err := writeScalarOrNested(out, desc, prog, pc, vt, flags, hint, inner); err != nil {
			return pc, err
		}
		pc += width
	}
}

// writeOptionalXCDR1 emits an XCDR1 extended parameter header wrapping an
// optional member living in a final/appendable (non-mutable) aggregate,
// per spec §4.2/§4.3: XCDR1 has no generic presence-byte mechanism outside
// parameter lists, so an optional member gets one parameter-header's worth
// of framing even outside a @mutable type.
func writeOptionalXCDR1(out *OutputStream, desc *Descriptor, prog Program, pc int, vt ValueType, flags Flag, hint uint8, inner *Value, present bool) error {
	memberID := uint32(0)
	if desc.MemberIDTable != nil {
		if id, ok := desc.MemberIDTable.Lookup(uint64(pc)); ok {
			memberID = id
		}
	}
	mu := uint32(0)
	if flags.has(FlagMustUnderstand) {
		mu = 1
	}
	out.alignTo(4)
	out.writeUint(4, uint64((mu<<14)|0x3F02))
	out.writeUint(4, uint64(memberID))
	if !present {
		out.writeUint(4, 0)
		return nil
	}
	lenOff := out.reserveUint32()
	valStart := out.pos()
	err := out.withAlignOrigin(valStart, func() error {
		return writeScalarOrNested(out, desc, prog, pc, vt, flags, hint, inner)
	})
	out.patchUint32(lenOff, uint32(out.pos()-valStart))
	return err
}

// plmEntry is a flattened parameter-list member: the bytecode offset of the
// ADR instruction describing its value, and its member-ID.
type plmEntry struct {
	target   int
	memberID uint32
}

// flattenPLM walks a PLM list starting at pc, splicing FLAG_BASE entries'
// own PLM lists in directly, and returns the flattened entries plus the pc
// just past the list's terminating RTS.
func flattenPLM(prog Program, pc int) ([]plmEntry, int) {
	var entries []plmEntry
	for {
		op, _, flags, _ := decodeHeader(prog[pc])
		if op == OpRTS {
			return entries, pc + 1
		}
		if op != OpPLM {
			programmerError("flattenPLM: expected PLM or RTS")
		}
		target := int(prog[pc+1])
		memberID := prog[pc+2]
		if flags.has(FlagBase) {
			baseEntries, _ := flattenPLM(prog, target)
			entries = append(entries, baseEntries...)
		} else {
			entries = append(entries, plmEntry{target: target, memberID: memberID})
		}
		pc += 3
	}
}

// writeMutableXCDR2 writes a @mutable aggregate's members as an XCDR2
// parameter list: a DHEADER, then one EMHEADER-prefixed value per present
// member. Fixed-size values use the compact LC 0-3 encoding; everything
// else uses LC 4 (NEXTINT, explicit length word). cdrcore always uses
// NEXTINT for variable-length members rather than spec §4.2's LC 5/6/7
// dual-purpose-length optimization: both are wire-valid, and skipping the
// optimization keeps the encoder's two-pass-free structure (see DESIGN.md).
func writeMutableXCDR2(out *OutputStream, desc *Descriptor, prog Program, pc int, val *Value) (int, error) {
	entries, nextPC := flattenPLM(prog, pc)
	dheaderOff := out.reserveUint32()
	bodyStart := out.pos()

	for _, e := range entries {
		op, vt, flags, hint := decodeHeader(prog[e.target])
		if op != OpADR {
			programmerError("writeMutableXCDR2: PLM target is not ADR")
		}
		idx := int(prog[e.target+1])
		member := val.Elems[idx]
		inner, present := indirectValue(flags, member)
		if flags.has(FlagOptional) && !present {
			continue
		}
		mustUnderstand := flags.has(FlagMustUnderstand)

		if size, fixed := fixedSize(vt, hint); fixed {
			emOff := out.reserveUint32()
			if err := writeScalarOrNested(out, desc, prog, e.target, vt, flags, hint, inner); err != nil {
				return nextPC, err
			}
			out.patchUint32(emOff, emheader(mustUnderstand, lcForSize(size), e.memberID))
			continue
		}

		emOff := out.reserveUint32()
		lenOff := out.reserveUint32()
		valStart := out.pos()
		if err := writeScalarOrNested(out, desc, prog, e.target, vt, flags, hint, inner); err != nil {
			return nextPC, err
		}
		out.patchUint32(lenOff, uint32(out.pos()-valStart))
		out.patchUint32(emOff, emheader(mustUnderstand, 4, e.memberID))
	}

	out.patchUint32(dheaderOff, uint32(out.pos()-bodyStart))
	return nextPC, nil
}

// xcdr1ParamListEnd is the PID sentinel marking the end of an XCDR1
// parameter list.
const xcdr1ParamListEnd = 0x3F01

// xcdr1ParamExtended is the PID sentinel meaning "extended form follows".
const xcdr1ParamExtended = 0x3F02

// writeMutableXCDR1 writes a @mutable aggregate as a sequence of XCDR1
// extended parameter headers terminated by the list-end sentinel. cdrcore
// always uses the extended (3-word) header form rather than the compact
// 14-bit short-ID form, for the same reason writeMutableXCDR2 always uses
// NEXTINT: one fewer special case, at the cost of a few wire bytes.
func writeMutableXCDR1(out *OutputStream, desc *Descriptor, prog Program, pc int, val *Value) (int, error) {
	entries, nextPC := flattenPLM(prog, pc)

	for _, e := range entries {
		op, vt, flags, hint := decodeHeader(prog[e.target])
		if op != OpADR {
			programmerError("writeMutableXCDR1: PLM target is not ADR")
		}
		idx := int(prog[e.target+1])
		member := val.Elems[idx]
		inner, present := indirectValue(flags, member)
		if flags.has(FlagOptional) && !present {
			continue
		}

		mu := uint32(0)
		if flags.has(FlagMustUnderstand) {
			mu = 1
		}
		out.alignTo(4)
		out.writeUint(4, uint64((mu<<14)|xcdr1ParamExtended))
		out.writeUint(4, uint64(e.memberID))
		lenOff := out.reserveUint32()
		valStart := out.pos()
		err := out.withAlignOrigin(valStart, func() error {
			return writeScalarOrNested(out, desc, prog, e.target, vt, flags, hint, inner)
		})
		if err != nil {
			return nextPC, err
		}
		out.patchUint32(lenOff, uint32(out.pos()-valStart))
	}

	out.alignTo(4)
	out.writeUint(4, uint64(xcdr1ParamListEnd))
	return nextPC, nil
}

// writeScalarOrNested writes a single value of the given type at the
// current stream position, dispatching to the appropriate leaf or
// recursive routine.
func writeScalarOrNested(out *OutputStream, desc *Descriptor, prog Program, pc int, vt ValueType, flags Flag, hint uint8, v *Value) error {
	switch vt {
	case VTBln:
		b := uint64(0)
		if v.U64 != 0 {
			b = 1
		}
		out.writeUint(1, b)
		return nil
	case VT1By, VT2By, VT4By, VT8By:
		size := primitiveSize(vt)
		if flags.has(FlagFloat) {
			if size == 4 {
				out.writeUint(4, uint64(float32ToBits(v.F32)))
			} else {
				out.writeUint(8, float64ToBits(v.F64))
			}
			return nil
		}
		out.writeUint(size, v.U64)
		return nil
	case VTWChar:
		out.writeUint(2, v.U64)
		return nil
	case VTStr:
		return writeString(out, v.Str, 0)
	case VTBSt:
		bound := prog[pc+2]
		return writeString(out, v.Str, bound)
	case VTWStr:
		return writeWString(out, v.WStr, 0)
	case VTBWSt:
		bound := prog[pc+2]
		return writeWString(out, v.WStr, bound)
	case VTEnu:
		maxVal := prog[pc+2]
		if v.U64 > uint64(maxVal) {
			return invalidErr(ErrBadEnum)
		}
		out.writeUint(int(hint), v.U64)
		return nil
	case VTBmk:
		validHigh := uint64(prog[pc+2])
		validLow := uint64(prog[pc+3])
		valid := validHigh<<32 | validLow
		if v.U64&^valid != 0 {
			return invalidErr(ErrBadBitmask)
		}
		out.writeUint(int(hint), v.U64)
		return nil
	case VTSeq, VTBSq:
		return writeSequenceLike(out, desc, prog, pc, v, false)
	case VTArr:
		return writeSequenceLike(out, desc, prog, pc, v, true)
	case VTUni:
		return writeUnion(out, desc, prog, pc, v)
	case VTStu:
		target := int(prog[pc+2])
		_, err := writeAggregateBody(out, desc, prog, target, v)
		return err
	case VTExt:
		// Recursive/self-referential types have no wire framing of their own
		// in the base XCDR format, so cdrcore gives EXT members an explicit
		// presence byte (independent of XCDR version) to make the
		// indirection self-delimiting; the byte also doubles as the
		// recursion's natural base case (absent == end of the chain).
		if !v.Present {
			out.writeUint(1, 0)
			return nil
		}
		out.writeUint(1, 1)
		target := int(prog[pc+2])
		_, err := writeAggregateBody(out, desc, prog, target, v.Inner)
		return err
	default:
		programmerError("writeScalarOrNested: unknown value type")
		return nil
	}
}

func writeString(out *OutputStream, s string, bound uint32) error {
	if bound > 0 && len(s) > int(bound) {
		return boundsErr(ErrStringTooLong)
	}
	out.writeUint(4, uint64(len(s)+1))
	out.writeBytes([]byte(s))
	out.writeBytes([]byte{0})
	return nil
}

func writeWString(out *OutputStream, units []uint16, bound uint32) error {
	if bound > 0 && len(units) > int(bound) {
		return boundsErr(ErrStringTooLong)
	}
	out.writeUint(4, uint64(len(units)*2))
	order := out.Endian.order()
	var tmp [2]byte
	for _, u := range units {
		order.PutUint16(tmp[:], u)
		out.writeBytes(tmp[:])
	}
	return nil
}

// writeSequenceLike handles both VTArr (fixed count, never DHEADER-less
// "bound" check) and VTSeq/VTBSq (count written, bound-checked). Operand
// layout for both: [memberIdx, count-or-bound, elementSize(0 if complex),
// jsrOffset-to-element-descriptor(0 if primitive)].
func writeSequenceLike(out *OutputStream, desc *Descriptor, prog Program, pc int, v *Value, isArray bool) error {
	elementSize := int(prog[pc+3])
	jsrOperand := int(prog[pc+4])
	complex := elementSize == 0

	if !isArray {
		bound := int(prog[pc+2])
		if bound > 0 && len(v.Elems) > bound {
			return boundsErr(ErrSequenceTooLong)
		}
	}

	needsDHeader := out.Version == Version2 && complex
	var dheaderOff, bodyStart int
	if needsDHeader {
		dheaderOff = out.reserveUint32()
		bodyStart = out.pos()
	}
	if !isArray {
		out.writeUint(4, uint64(len(v.Elems)))
	}
	for _, elem := range v.Elems {
		if complex {
			op, evt, eflags, ehint := decodeHeader(prog[jsrOperand])
			if op != OpADR {
				programmerError("writeSequenceLike: element descriptor is not ADR")
			}
			if err := writeScalarOrNested(out, desc, prog, jsrOperand, evt, eflags, ehint, elem); err != nil {
				return err
			}
		} else {
			out.writeUint(elementSize, elem.U64)
		}
	}
	if needsDHeader {
		out.patchUint32(dheaderOff, uint32(out.pos()-bodyStart))
	}
	return nil
}

// writeUnion writes a union's discriminator (always a signed 4-byte
// integer in cdrcore's bytecode) and its currently selected case's value.
func writeUnion(out *OutputStream, desc *Descriptor, prog Program, pc int, v *Value) error {
	out.writeUint(4, uint64(uint32(v.Disc)))

	casesPC := int(prog[pc+2])
	targetPC, evt, eflags, ehint, ok := findUnionCase(prog, casesPC, v.Disc)
	if !ok {
		return invalidErr(ErrNoMatchingCase)
	}
	inner, present := indirectValue(eflags, v.Case)
	if eflags.has(FlagExternal) && !present {
		programmerError("writeUnion: external case has no value")
	}
	return writeScalarOrNested(out, desc, prog, targetPC, evt, eflags, ehint, inner)
}

// findUnionCase scans a JEQ/JEQ4 list at pc for a case matching disc,
// falling back to the default case (if any).
func findUnionCase(prog Program, pc int, disc int32) (targetPC int, vt ValueType, flags Flag, hint uint8, ok bool) {
	var defaultPC int
	var defaultVT ValueType
	var defaultFlags Flag
	var defaultHint uint8
	haveDefault := false

	for {
		op, evt, eflags, _ := decodeHeader(prog[pc])
		if op == OpRTS {
			break
		}
		if op != OpJEQ && op != OpJEQ4 {
			programmerError("findUnionCase: expected JEQ/JEQ4 or RTS")
		}
		discVal := int32(prog[pc+1])
		target := int(prog[pc+2])
		_, evt2, eflags2, ehint2 := decodeHeader(prog[target])

		if eflags.has(FlagDefaultCase) {
			defaultPC, defaultVT, defaultFlags, defaultHint = target, evt2, eflags2, ehint2
			haveDefault = true
		} else if discVal == disc {
			return target, evt2, eflags2, ehint2, true
		}
		_ = evt

		if op == OpJEQ4 {
			pc += 4
		} else {
			pc += 3
		}
	}
	if haveDefault {
		return defaultPC, defaultVT, defaultFlags, defaultHint, true
	}
	return 0, 0, 0, 0, false
}
