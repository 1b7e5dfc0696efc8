// Copyright 2024 The cdrcore Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package cdr

// Normalize validates a wire buffer against desc and byte-swaps it in place
// from srcEndian to targetEndian, per spec §4.4. It is the single pass that
// enforces every invariant Read does not re-check: bounds, string
// termination, wide-string well-formedness, bitmask/enum ranges,
// must-understand satisfaction, and robust boolean coercion. Buffers that
// pass Normalize are safe inputs to Read.
func Normalize(desc *Descriptor, buf []byte, version Version, srcEndian, targetEndian Endian) error {
	if len(buf) > MaxInputSize {
		return boundsErr(ErrOversizeLength)
	}
	nz := &normalizer{
		buf:          buf,
		version:      version,
		srcEndian:    srcEndian,
		targetEndian: targetEndian,
		maxDepth:     desc.NestingMax,
	}
	_, err := normalizeAggregate(nz, desc, desc.Program, 0)
	return err
}

type normalizer struct {
	buf          []byte
	pos          int
	alignOrigin  int
	version      Version
	srcEndian    Endian
	targetEndian Endian
	depth        int
	maxDepth     int
}

func (nz *normalizer) align(a int) error {
	target := align(nz.pos-nz.alignOrigin, a) + nz.alignOrigin
	if target > len(nz.buf) {
		return boundsErr(ErrBufferExhausted)
	}
	nz.pos = target
	return nil
}

func (nz *normalizer) withAlignOrigin(newOrigin int, fn func() error) error {
	prev := nz.alignOrigin
	nz.alignOrigin = newOrigin
	err := fn()
	nz.alignOrigin = prev
	return err
}

// primitive validates that size bytes are available at the (aligned)
// current position, re-encodes them from srcEndian to targetEndian in
// place, and returns the value.
func (nz *normalizer) primitive(size int) (uint64, error) {
	if err := nz.align(primitiveAlignment(nz.version, size)); err != nil {
		return 0, err
	}
	if nz.pos+size > len(nz.buf) {
		return 0, boundsErr(ErrBufferExhausted)
	}
	b := nz.buf[nz.pos : nz.pos+size]
	srcOrder := nz.srcEndian.order()
	dstOrder := nz.targetEndian.order()
	var v uint64
	switch size {
	case 1:
		v = uint64(b[0])
	case 2:
		v = uint64(srcOrder.Uint16(b))
		dstOrder.PutUint16(b, uint16(v))
	case 4:
		v = uint64(srcOrder.Uint32(b))
		dstOrder.PutUint32(b, uint32(v))
	case 8:
		v = srcOrder.Uint64(b)
		dstOrder.PutUint64(b, v)
	default:
		programmerError("normalizer.primitive: unsupported size")
	}
	nz.pos += size
	return v, nil
}

// rawBytes validates n bytes are available and advances past them
// unchanged (no byte order to swap: raw octet payloads).
func (nz *normalizer) rawBytes(n int) ([]byte, error) {
	if n < 0 || nz.pos+n > len(nz.buf) {
		return nil, boundsErr(ErrBufferExhausted)
	}
	b := nz.buf[nz.pos : nz.pos+n]
	nz.pos += n
	return b, nil
}

func normalizeAggregate(nz *normalizer, desc *Descriptor, prog Program, pc int) (int, error) {
	nz.depth++
	if nz.maxDepth > 0 && nz.depth > nz.maxDepth {
		return pc, invalidErr(ErrRecursionTooDeep)
	}
	defer func() { nz.depth-- }()

	op, _, _, _ := decodeHeader(prog[pc])
	switch op {
	case OpDLC:
		pc++
		var bodyEnd int
		if nz.version == Version2 {
			length, err := nz.primitive(4)
			if err != nil {
				return pc, err
			}
			bodyEnd = nz.pos + int(length)
			if bodyEnd > len(nz.buf) {
				return pc, boundsErr(ErrBufferExhausted)
			}
		} else {
			bodyEnd = len(nz.buf)
		}
		nextPC, err := normalizeMembers(nz, desc, prog, pc, bodyEnd)
		if err != nil {
			return nextPC, err
		}
		if nz.version == Version2 {
			nz.pos = bodyEnd
		}
		return nextPC, nil
	case OpPLC:
		pc++
		if nz.version == Version2 {
			return normalizeMutableXCDR2(nz, desc, prog, pc)
		}
		return normalizeMutableXCDR1(nz, desc, prog, pc)
	default:
		return normalizeMembers(nz, desc, prog, pc, len(nz.buf))
	}
}

// Final aggregates (no DLC/PLC marker) have no header of their own; they
// are handled by normalizeAggregate's default case.

func normalizeMembers(nz *normalizer, desc *Descriptor, prog Program, pc int, limit int) (int, error) {
	skipMode := false
	for {
		op, vt, flags, hint := decodeHeader(prog[pc])
		if op == OpRTS {
			return pc + 1, nil
		}
		if op != OpADR {
			programmerError("normalizeMembers: expected ADR or RTS")
		}
		width := instructionWords(prog, pc)

		if !skipMode && nz.pos >= limit {
			skipMode = true
		}
		if skipMode {
			pc += width
			continue
		}

		if err := normalizeMember(nz, desc, prog, pc, vt, flags, hint); err != nil {
			return pc, err
		}
		pc += width
	}
}

func normalizeMember(nz *normalizer, desc *Descriptor, prog Program, pc int, vt ValueType, flags Flag, hint uint8) error {
	if flags.has(FlagOptional) {
		if nz.version == Version2 {
			present, err := nz.primitive(1)
			if err != nil {
				return err
			}
			if present == 0 {
				return nil
			}
			if present != 1 {
				return invalidErr(ErrBadBitmask) // a presence byte is boolean-shaped; reuse the "out of declared range" sentinel
			}
			return normalizeScalarOrNested(nz, desc, prog, pc, vt, flags, hint)
		}
		return normalizeOptionalXCDR1(nz, desc, prog, pc, vt, flags, hint)
	}
	return normalizeScalarOrNested(nz, desc, prog, pc, vt, flags, hint)
}

func normalizeOptionalXCDR1(nz *normalizer, desc *Descriptor, prog Program, pc int, vt ValueType, flags Flag, hint uint8) error {
	if err := nz.align(4); err != nil {
		return err
	}
	header, err := nz.primitive(4)
	if err != nil {
		return err
	}
	if uint32(header)&0x3FFF != xcdr1ParamExtended {
		return invalidErr(ErrInvalidParamHeader)
	}
	if _, err := nz.primitive(4); err != nil {
		return err
	}
	length, err := nz.primitive(4)
	if err != nil {
		return err
	}
	if length == 0 {
		return nil
	}
	valStart := nz.pos
	err = nz.withAlignOrigin(valStart, func() error {
		return normalizeScalarOrNested(nz, desc, prog, pc, vt, flags, hint)
	})
	if err != nil {
		return err
	}
	nz.pos = valStart + int(length)
	return nil
}

func normalizeMutableXCDR2(nz *normalizer, desc *Descriptor, prog Program, pc int) (int, error) {
	entries, nextPC := flattenPLM(prog, pc)
	byID := make(map[uint32]plmEntry, len(entries))
	for _, e := range entries {
		byID[e.memberID] = e
	}

	length, err := nz.primitive(4)
	if err != nil {
		return nextPC, err
	}
	bodyEnd := nz.pos + int(length)
	if bodyEnd > len(nz.buf) {
		return nextPC, boundsErr(ErrBufferExhausted)
	}

	for nz.pos < bodyEnd {
		emWord, err := nz.primitive(4)
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
			lw, err := nz.primitive(4)
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
			if nz.pos+valLen > len(nz.buf) {
				return nextPC, boundsErr(ErrBufferExhausted)
			}
			nz.pos += valLen
			continue
		}
		_, evt, eflags, ehint := decodeHeader(prog[e.target])
		valStart := nz.pos
		err = nz.withAlignOrigin(valStart, func() error {
			return normalizeScalarOrNested(nz, desc, prog, e.target, evt, eflags, ehint)
		})
		if err != nil {
			return nextPC, err
		}
		nz.pos = valStart + valLen
	}
	nz.pos = bodyEnd
	return nextPC, nil
}

func normalizeMutableXCDR1(nz *normalizer, desc *Descriptor, prog Program, pc int) (int, error) {
	entries, nextPC := flattenPLM(prog, pc)
	byID := make(map[uint32]plmEntry, len(entries))
	for _, e := range entries {
		byID[e.memberID] = e
	}

	for {
		if err := nz.align(4); err != nil {
			return nextPC, err
		}
		header, err := nz.primitive(4)
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
		memberIDWord, err := nz.primitive(4)
		if err != nil {
			return nextPC, err
		}
		memberID := uint32(memberIDWord)
		length, err := nz.primitive(4)
		if err != nil {
			return nextPC, err
		}
		valStart := nz.pos

		e, known := byID[memberID]
		if !known {
			if mustUnderstand {
				return nextPC, invalidErr(ErrUnknownMustUnderstand)
			}
			if valStart+int(length) > len(nz.buf) {
				return nextPC, boundsErr(ErrBufferExhausted)
			}
			nz.pos = valStart + int(length)
			continue
		}
		_, evt, eflags, ehint := decodeHeader(prog[e.target])
		err = nz.withAlignOrigin(valStart, func() error {
			return normalizeScalarOrNested(nz, desc, prog, e.target, evt, eflags, ehint)
		})
		if err != nil {
			return nextPC, err
		}
		nz.pos = valStart + int(length)
	}
	return nextPC, nil
}

func normalizeScalarOrNested(nz *normalizer, desc *Descriptor, prog Program, pc int, vt ValueType, flags Flag, hint uint8) error {
	switch vt {
	case VTBln:
		v, err := nz.primitive(1)
		if err != nil {
			return err
		}
		if v != 0 && v != 1 {
			// Robust boolean: any non-zero byte normalizes to 1 rather than
			// being rejected (spec testable property 4).
			nz.buf[nz.pos-1] = 1
		}
		return nil
	case VT1By, VT2By, VT4By, VT8By:
		_, err := nz.primitive(primitiveSize(vt))
		return err
	case VTWChar:
		_, err := nz.primitive(2)
		return err
	case VTStr:
		return normalizeString(nz, 0)
	case VTBSt:
		bound := prog[pc+2]
		return normalizeString(nz, bound)
	case VTWStr:
		return normalizeWString(nz, 0)
	case VTBWSt:
		bound := prog[pc+2]
		return normalizeWString(nz, bound)
	case VTEnu:
		maxVal := prog[pc+2]
		v, err := nz.primitive(int(hint))
		if err != nil {
			return err
		}
		if v > uint64(maxVal) {
			return invalidErr(ErrBadEnum)
		}
		return nil
	case VTBmk:
		validHigh := uint64(prog[pc+2])
		validLow := uint64(prog[pc+3])
		valid := validHigh<<32 | validLow
		v, err := nz.primitive(int(hint))
		if err != nil {
			return err
		}
		if v&^valid != 0 {
			return invalidErr(ErrBadBitmask)
		}
		return nil
	case VTSeq, VTBSq:
		return normalizeSequenceLike(nz, desc, prog, pc, false)
	case VTArr:
		return normalizeSequenceLike(nz, desc, prog, pc, true)
	case VTUni:
		return normalizeUnion(nz, desc, prog, pc)
	case VTStu:
		target := int(prog[pc+2])
		_, err := normalizeAggregate(nz, desc, prog, target)
		return err
	case VTExt:
		present, err := nz.primitive(1)
		if err != nil {
			return err
		}
		if present == 0 {
			return nil
		}
		if present != 1 {
			return invalidErr(ErrBadBitmask)
		}
		target := int(prog[pc+2])
		_, err = normalizeAggregate(nz, desc, prog, target)
		return err
	default:
		programmerError("normalizeScalarOrNested: unknown value type")
		return nil
	}
}

func normalizeString(nz *normalizer, bound uint32) error {
	count, err := nz.primitive(4)
	if err != nil {
		return err
	}
	if count == 0 || count > MaxInputSize {
		return invalidErr(ErrStringNotTerminated)
	}
	if bound > 0 && count-1 > uint64(bound) {
		return boundsErr(ErrStringTooLong)
	}
	b, err := nz.rawBytes(int(count))
	if err != nil {
		return err
	}
	if b[len(b)-1] != 0 {
		return invalidErr(ErrStringNotTerminated)
	}
	return nil
}

func normalizeWString(nz *normalizer, bound uint32) error {
	byteCount, err := nz.primitive(4)
	if err != nil {
		return err
	}
	if byteCount%2 != 0 {
		return invalidErr(ErrBadWideString)
	}
	units := byteCount / 2
	if bound > 0 && units > uint64(bound) {
		return boundsErr(ErrStringTooLong)
	}
	if nz.pos+int(byteCount) > len(nz.buf) {
		return boundsErr(ErrBufferExhausted)
	}
	raw := nz.buf[nz.pos : nz.pos+int(byteCount)]
	if err := decodeUTF16(raw, nz.srcEndian); err != nil {
		return invalidErr(ErrBadWideString)
	}
	srcOrder := nz.srcEndian.order()
	dstOrder := nz.targetEndian.order()
	for i := uint64(0); i < units; i++ {
		b := raw[i*2 : i*2+2]
		dstOrder.PutUint16(b, srcOrder.Uint16(b))
	}
	nz.pos += int(byteCount)
	return nil
}

func normalizeSequenceLike(nz *normalizer, desc *Descriptor, prog Program, pc int, isArray bool) error {
	bound := int(prog[pc+2])
	elementSize := int(prog[pc+3])
	jsrOperand := int(prog[pc+4])
	complex := elementSize == 0

	var bodyEnd int
	hasDHeader := complex && nz.version == Version2
	if hasDHeader {
		length, err := nz.primitive(4)
		if err != nil {
			return err
		}
		bodyEnd = nz.pos + int(length)
		if bodyEnd > len(nz.buf) {
			return boundsErr(ErrBufferExhausted)
		}
	}

	count := bound
	if !isArray {
		c, err := nz.primitive(4)
		if err != nil {
			return err
		}
		if c > MaxInputSize {
			return boundsErr(ErrOversizeLength)
		}
		count = int(c)
		if bound > 0 && count > bound {
			return boundsErr(ErrSequenceTooLong)
		}
	}

	for i := 0; i < count; i++ {
		if complex {
			op, evt, eflags, ehint := decodeHeader(prog[jsrOperand])
			if op != OpADR {
				programmerError("normalizeSequenceLike: element descriptor is not ADR")
			}
			if err := normalizeScalarOrNested(nz, desc, prog, jsrOperand, evt, eflags, ehint); err != nil {
				return err
			}
		} else {
			if _, err := nz.primitive(elementSize); err != nil {
				return err
			}
		}
	}

	if hasDHeader {
		nz.pos = bodyEnd
	}
	return nil
}

func normalizeUnion(nz *normalizer, desc *Descriptor, prog Program, pc int) error {
	d, err := nz.primitive(4)
	if err != nil {
		return err
	}
	disc := int32(uint32(d))

	casesPC := int(prog[pc+2])
	targetPC, evt, eflags, ehint, ok := findUnionCase(prog, casesPC, disc)
	if !ok {
		return invalidErr(ErrNoMatchingCase)
	}
	return normalizeScalarOrNested(nz, desc, prog, targetPC, evt, eflags, ehint)
}
