// Copyright 2024 The cdrcore Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package cdr

// Read deserializes desc's wire representation from in into a fresh Value
// tree. Implements spec §4.5. Read trusts that in's contents have already
// passed Normalize (or are otherwise known-good); it does not re-validate
// bounds, bitmask/enum ranges, or string termination the way Normalize
// does, matching the reference implementation's split between a dedicated
// validation pass and a fast deserialize pass.
func Read(in *InputStream, desc *Descriptor) (*Value, error) {
	val, _, err := readAggregateBody(in, desc, desc.Program, 0)
	return val, err
}

func setElem(val *Value, idx int, v *Value) {
	if idx >= len(val.Elems) {
		grown := make([]*Value, idx+1)
		copy(grown, val.Elems)
		val.Elems = grown
	}
	val.Elems[idx] = v
}

// newZeroValue returns a reasonable zero value for a member of the given
// type that a mutable reader never saw on the wire (schema evolution
// dropped it, or the writer simply omitted it).
func newZeroValue(vt ValueType) *Value {
	switch vt {
	case VTStr, VTBSt:
		return &Value{Str: ""}
	case VTWStr, VTBWSt:
		return &Value{WStr: nil}
	case VTExt:
		return &Value{Present: false}
	default:
		return &Value{U64: 0}
	}
}

func readAggregateBody(in *InputStream, desc *Descriptor, prog Program, pc int) (*Value, int, error) {
	op, _, _, _ := decodeHeader(prog[pc])
	switch op {
	case OpDLC:
		pc++
		val := &Value{}
		if in.Version == Version2 {
			length, err := in.readUint(4)
			if err != nil {
				return nil, pc, err
			}
			bodyEnd := in.Pos + int(length)
			if bodyEnd > len(in.Buf) {
				return nil, pc, boundsErr(ErrBufferExhausted)
			}
			nextPC, err := readMembersInto(in, desc, prog, pc, val, bodyEnd)
			if err != nil {
				return nil, nextPC, err
			}
			in.Pos = bodyEnd
			return val, nextPC, nil
		}
		nextPC, err := readMembersInto(in, desc, prog, pc, val, len(in.Buf))
		return val, nextPC, err
	case OpPLC:
		pc++
		val := &Value{}
		var nextPC int
		var err error
		if in.Version == Version2 {
			nextPC, err = readMutableXCDR2(in, desc, prog, pc, val)
		} else {
			nextPC, err = readMutableXCDR1(in, desc, prog, pc, val)
		}
		return val, nextPC, err
	default:
		val := &Value{}
		nextPC, err := readMembersInto(in, desc, prog, pc, val, len(in.Buf))
		return val, nextPC, err
	}
}

// readMembersInto reads a final/appendable aggregate's ADR member list.
// Once in.Pos reaches limit, each remaining declared member's slot is
// filled with newZeroValue (spec's appendable tolerance: a newer reader
// facing an older, shorter writer fills the trailing members with defaults)
// while the bytecode walk still advances through them to find the
// program's RTS.
func readMembersInto(in *InputStream, desc *Descriptor, prog Program, pc int, val *Value, limit int) (int, error) {
	skipMode := false
	for {
		op, vt, flags, hint := decodeHeader(prog[pc])
		if op == OpRTS {
			return pc + 1, nil
		}
		if op != OpADR {
			programmerError("readMembersInto: expected ADR or RTS")
		}
		idx := int(prog[pc+1])
		width := instructionWords(prog, pc)

		if !skipMode && in.Pos >= limit {
			skipMode = true
		}
		if skipMode {
			setElem(val, idx, newZeroValue(vt))
			pc += width
			continue
		}

		member, err := readMember(in, desc, prog, pc, vt, flags, hint)
		if err != nil {
			return pc, err
		}
		setElem(val, idx, member)
		pc += width
	}
}

func readMember(in *InputStream, desc *Descriptor, prog Program, pc int, vt ValueType, flags Flag, hint uint8) (*Value, error) {
	if flags.has(FlagOptional) {
		if in.Version == Version2 {
			b, err := in.readUint(1)
			if err != nil {
				return nil, err
			}
			if b == 0 {
				return &Value{Present: false}, nil
			}
			inner, err := readScalarOrNested(in, desc, prog, pc, vt, flags, hint)
			if err != nil {
				return nil, err
			}
			return &Value{Present: true, Inner: inner}, nil
		}
		return readOptionalXCDR1(in, desc, prog, pc, vt, flags, hint)
	}
	if flags.has(FlagExternal) {
		inner, err := readScalarOrNested(in, desc, prog, pc, vt, flags, hint)
		if err != nil {
			return nil, err
		}
		return &Value{Present: true, Inner: inner}, nil
	}
	return readScalarOrNested(in, desc, prog, pc, vt, flags, hint)
}

// readOptionalXCDR1 reads an optional member wrapped in an XCDR1 extended
// parameter header, the mirror of writeOptionalXCDR1. cdrcore only reads
// the extended header form (PID 0x3F02) it writes itself; a short-form
// header from an interoperating peer is a known limitation (see
// DESIGN.md).
func readOptionalXCDR1(in *InputStream, desc *Descriptor, prog Program, pc int, vt ValueType, flags Flag, hint uint8) (*Value, error) {
	in.align(4)
	header, err := in.readUint(4)
	if err != nil {
		return nil, err
	}
	if uint32(header)&0x3FFF != xcdr1ParamExtended {
		return nil, invalidErr(ErrInvalidParamHeader)
	}
	if _, err := in.readUint(4); err != nil { // member-ID, unused: pc already identifies the member
		return nil, err
	}
	length, err := in.readUint(4)
	if err != nil {
		return nil, err
	}
	if length == 0 {
		return &Value{Present: false}, nil
	}
	valStart := in.Pos
	var inner *Value
	err = in.withAlignOrigin(valStart, func() error {
		var innerErr error
		inner, innerErr = readScalarOrNested(in, desc, prog, pc, vt, flags, hint)
		return innerErr
	})
	if err != nil {
		return nil, err
	}
	in.Pos = valStart + int(length)
	return &Value{Present: true, Inner: inner}, nil
}

// readMutableXCDR2 reads a @mutable aggregate's XCDR2 parameter list:
// DHEADER, then EMHEADER-prefixed members in any order, tolerating unknown
// non-must-understand member-IDs and missing declared members (schema
// evolution in both directions).
func readMutableXCDR2(in *InputStream, desc *Descriptor, prog Program, pc int, val *Value) (int, error) {
	entries, nextPC := flattenPLM(prog, pc)
	byID := make(map[uint32]plmEntry, len(entries))
	for _, e := range entries {
		byID[e.memberID] = e
	}

	length, err := in.readUint(4)
	if err != nil {
		return nextPC, err
	}
	bodyEnd := in.Pos + int(length)
	if bodyEnd > len(in.Buf) {
		return nextPC, boundsErr(ErrBufferExhausted)
	}

	seen := make(map[uint32]bool, len(entries))
	for in.Pos < bodyEnd {
		emWord, err := in.readUint(4)
		if err != nil {
			return nextPC, err
		}
		mustUnderstand := (emWord>>31)&1 == 1
		lc := (emWord >> 28) & 0x7
		memberID := uint32(emWord & 0x0FFFFFFF)

		var valLen int
		switch lc {
		case 0:
			valLen = 1
		case 1:
			valLen = 2
		case 2:
			valLen = 4
		case 3:
			valLen = 8
		case 4:
			lw, err := in.readUint(4)
			if err != nil {
				return nextPC, err
			}
			valLen = int(lw)
		default:
			return nextPC, invalidErr(ErrInvalidParamHeader)
		}

		e, known := byID[memberID]
		if !known {
			if mustUnderstand {
				return nextPC, invalidErr(ErrUnknownMustUnderstand)
			}
			in.Pos += valLen
			continue
		}

		_, evt, eflags, ehint := decodeHeader(prog[e.target])
		idx := int(prog[e.target+1])
		valStart := in.Pos
		var member *Value
		err = in.withAlignOrigin(valStart, func() error {
			var innerErr error
			member, innerErr = readScalarOrNested(in, desc, prog, e.target, evt, eflags, ehint)
			return innerErr
		})
		if err != nil {
			if mustUnderstand {
				return nextPC, invalidErr(ErrMustUnderstandFailed)
			}
			return nextPC, err
		}
		in.Pos = valStart + valLen
		if eflags.has(FlagOptional) {
			setElem(val, idx, &Value{Present: true, Inner: member})
		} else {
			setElem(val, idx, member)
		}
		seen[memberID] = true
	}
	in.Pos = bodyEnd

	for _, e := range entries {
		if seen[e.memberID] {
			continue
		}
		_, evt, eflags, _ := decodeHeader(prog[e.target])
		idx := int(prog[e.target+1])
		if eflags.has(FlagOptional) {
			setElem(val, idx, &Value{Present: false})
		} else {
			setElem(val, idx, newZeroValue(evt))
		}
	}
	return nextPC, nil
}

// readMutableXCDR1 reads a @mutable aggregate as a sequence of XCDR1
// extended parameter headers terminated by the list-end sentinel.
func readMutableXCDR1(in *InputStream, desc *Descriptor, prog Program, pc int, val *Value) (int, error) {
	entries, nextPC := flattenPLM(prog, pc)
	byID := make(map[uint32]plmEntry, len(entries))
	for _, e := range entries {
		byID[e.memberID] = e
	}
	seen := make(map[uint32]bool, len(entries))

	for {
		in.align(4)
		header, err := in.readUint(4)
		if err != nil {
			return nextPC, err
		}
		pid := uint32(header) & 0x3FFF
		if pid == xcdr1ParamListEnd {
			break
		}
		if pid != xcdr1ParamExtended {
			return nextPC, invalidErr(ErrInvalidParamHeader)
		}
		mustUnderstand := (header>>14)&1 == 1
		memberIDWord, err := in.readUint(4)
		if err != nil {
			return nextPC, err
		}
		memberID := uint32(memberIDWord)
		length, err := in.readUint(4)
		if err != nil {
			return nextPC, err
		}
		valStart := in.Pos

		e, known := byID[memberID]
		if !known {
			if mustUnderstand {
				return nextPC, invalidErr(ErrUnknownMustUnderstand)
			}
			in.Pos = valStart + int(length)
			continue
		}
		_, evt, eflags, ehint := decodeHeader(prog[e.target])
		idx := int(prog[e.target+1])
		var member *Value
		err = in.withAlignOrigin(valStart, func() error {
			var innerErr error
			member, innerErr = readScalarOrNested(in, desc, prog, e.target, evt, eflags, ehint)
			return innerErr
		})
		if err != nil {
			if mustUnderstand {
				return nextPC, invalidErr(ErrMustUnderstandFailed)
			}
			return nextPC, err
		}
		in.Pos = valStart + int(length)
		if eflags.has(FlagOptional) {
			setElem(val, idx, &Value{Present: true, Inner: member})
		} else {
			setElem(val, idx, member)
		}
		seen[memberID] = true
	}

	for _, e := range entries {
		if seen[e.memberID] {
			continue
		}
		_, evt, eflags, _ := decodeHeader(prog[e.target])
		idx := int(prog[e.target+1])
		if eflags.has(FlagOptional) {
			setElem(val, idx, &Value{Present: false})
		} else {
			setElem(val, idx, newZeroValue(evt))
		}
	}
	return nextPC, nil
}

func readScalarOrNested(in *InputStream, desc *Descriptor, prog Program, pc int, vt ValueType, flags Flag, hint uint8) (*Value, error) {
	switch vt {
	case VTBln:
		b, err := in.readUint(1)
		return &Value{U64: b}, err
	case VT1By, VT2By, VT4By, VT8By:
		size := primitiveSize(vt)
		if flags.has(FlagFloat) {
			u, err := in.readUint(size)
			if err != nil {
				return nil, err
			}
			if size == 4 {
				return &Value{F32: bitsToFloat32(uint32(u))}, nil
			}
			return &Value{F64: bitsToFloat64(u)}, nil
		}
		u, err := in.readUint(size)
		if err == nil && flags.has(FlagSigned) && size < 8 {
			shift := uint(64 - 8*size)
			u = uint64(int64(u<<shift) >> shift)
		}
		return &Value{U64: u}, err
	case VTWChar:
		u, err := in.readUint(2)
		return &Value{U64: u}, err
	case VTStr:
		return readString(in)
	case VTBSt:
		return readString(in)
	case VTWStr, VTBWSt:
		return readWString(in)
	case VTEnu:
		u, err := in.readUint(int(hint))
		return &Value{U64: u}, err
	case VTBmk:
		u, err := in.readUint(int(hint))
		return &Value{U64: u}, err
	case VTSeq, VTBSq:
		return readSequenceLike(in, desc, prog, pc, false)
	case VTArr:
		return readSequenceLike(in, desc, prog, pc, true)
	case VTUni:
		return readUnion(in, desc, prog, pc)
	case VTStu:
		target := int(prog[pc+2])
		v, _, err := readAggregateBody(in, desc, prog, target)
		return v, err
	case VTExt:
		b, err := in.readUint(1)
		if err != nil {
			return nil, err
		}
		if b == 0 {
			return &Value{Present: false}, nil
		}
		target := int(prog[pc+2])
		inner, _, err := readAggregateBody(in, desc, prog, target)
		if err != nil {
			return nil, err
		}
		return &Value{Present: true, Inner: inner}, nil
	default:
		programmerError("readScalarOrNested: unknown value type")
		return nil, nil
	}
}

func readString(in *InputStream) (*Value, error) {
	count, err := in.readUint(4)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, invalidErr(ErrStringNotTerminated)
	}
	b, err := in.readBytes(int(count))
	if err != nil {
		return nil, err
	}
	return &Value{Str: string(b[:len(b)-1])}, nil
}

func readWString(in *InputStream) (*Value, error) {
	byteCount, err := in.readUint(4)
	if err != nil {
		return nil, err
	}
	if byteCount%2 != 0 {
		return nil, invalidErr(ErrBadWideString)
	}
	b, err := in.readBytes(int(byteCount))
	if err != nil {
		return nil, err
	}
	order := in.Endian.order()
	units := make([]uint16, byteCount/2)
	for i := range units {
		units[i] = order.Uint16(b[i*2:])
	}
	return &Value{WStr: units}, nil
}

func readSequenceLike(in *InputStream, desc *Descriptor, prog Program, pc int, isArray bool) (*Value, error) {
	elementSize := int(prog[pc+3])
	jsrOperand := int(prog[pc+4])
	complex := elementSize == 0

	var count int
	if isArray {
		count = int(prog[pc+2])
	}

	if complex && in.Version == Version2 {
		length, err := in.readUint(4)
		if err != nil {
			return nil, err
		}
		bodyEnd := in.Pos + int(length)
		if bodyEnd > len(in.Buf) {
			return nil, boundsErr(ErrBufferExhausted)
		}
		defer func() { in.Pos = bodyEnd }()
	}

	if !isArray {
		c, err := in.readUint(4)
		if err != nil {
			return nil, err
		}
		count = int(c)
		if count > MaxInputSize {
			return nil, boundsErr(ErrSequenceTooLong)
		}
	}

	// A wire-declared count can be up to MaxInputSize regardless of how
	// much data actually remains; every element occupies at least one byte
	// on the wire, so a count larger than the remaining buffer can never be
	// satisfied and would only serve to force a huge, doomed allocation.
	if count > len(in.Buf)-in.Pos {
		return nil, allocationErr(ErrAllocationFailed)
	}
	elems := make([]*Value, count)
	for i := 0; i < count; i++ {
		if complex {
			op, evt, eflags, ehint := decodeHeader(prog[jsrOperand])
			if op != OpADR {
				programmerError("readSequenceLike: element descriptor is not ADR")
			}
			v, err := readScalarOrNested(in, desc, prog, jsrOperand, evt, eflags, ehint)
			if err != nil {
				return nil, err
			}
			elems[i] = v
		} else {
			u, err := in.readUint(elementSize)
			if err != nil {
				return nil, err
			}
			elems[i] = &Value{U64: u}
		}
	}
	return &Value{Elems: elems}, nil
}

func readUnion(in *InputStream, desc *Descriptor, prog Program, pc int) (*Value, error) {
	d, err := in.readUint(4)
	if err != nil {
		return nil, err
	}
	disc := int32(uint32(d))

	casesPC := int(prog[pc+2])
	targetPC, evt, eflags, ehint, ok := findUnionCase(prog, casesPC, disc)
	if !ok {
		return nil, invalidErr(ErrNoMatchingCase)
	}

	if eflags.has(FlagExternal) {
		inner, err := readScalarOrNested(in, desc, prog, targetPC, evt, eflags, ehint)
		if err != nil {
			return nil, err
		}
		return &Value{Disc: disc, Case: &Value{Present: true, Inner: inner}}, nil
	}
	caseVal, err := readScalarOrNested(in, desc, prog, targetPC, evt, eflags, ehint)
	if err != nil {
		return nil, err
	}
	return &Value{Disc: disc, Case: caseVal}, nil
}
