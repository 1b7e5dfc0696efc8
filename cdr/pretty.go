// Copyright 2024 The cdrcore Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package cdr

import (
	"fmt"
	"io"
	"strings"
)

// Fprint writes a human-readable dump of val according to desc's bytecode,
// for debugging: spec §9 names this operation for cmd/cdrdump. Members are
// labeled by their positional index rather than an IDL name, since the
// bytecode carries no name table; see DESIGN.md.
func Fprint(w io.Writer, desc *Descriptor, val *Value) error {
	fmt.Fprintf(w, "%s {\n", desc.Name)
	if err := prettyAggregate(w, desc.Program, 0, val, 1); err != nil {
		return err
	}
	fmt.Fprintln(w, "}")
	return nil
}

func indent(w io.Writer, depth int) {
	fmt.Fprint(w, strings.Repeat("  ", depth))
}

func prettyAggregate(w io.Writer, prog Program, pc int, val *Value, depth int) error {
	op, _, _, _ := decodeHeader(prog[pc])
	switch op {
	case OpDLC:
		return prettyMembers(w, prog, pc+1, val, depth)
	case OpPLC:
		entries, _ := flattenPLM(prog, pc+1)
		for _, e := range entries {
			_, evt, eflags, _ := decodeHeader(prog[e.target])
			idx := int(prog[e.target+1])
			var member *Value
			if idx < len(val.Elems) {
				member = val.Elems[idx]
			}
			indent(w, depth)
			fmt.Fprintf(w, "member[%d] (id=%d): ", idx, e.memberID)
			prettyValue(w, prog, e.target, evt, eflags, member, depth)
		}
		return nil
	default:
		return prettyMembers(w, prog, pc, val, depth)
	}
}

func prettyMembers(w io.Writer, prog Program, pc int, val *Value, depth int) error {
	for {
		op, vt, flags, _ := decodeHeader(prog[pc])
		if op == OpRTS {
			return nil
		}
		if op != OpADR {
			programmerError("prettyMembers: expected ADR or RTS")
		}
		idx := int(prog[pc+1])
		var member *Value
		if idx < len(val.Elems) {
			member = val.Elems[idx]
		}
		indent(w, depth)
		fmt.Fprintf(w, "member[%d]: ", idx)
		prettyValue(w, prog, pc, vt, flags, member, depth)
		pc += instructionWords(prog, pc)
	}
}

func prettyValue(w io.Writer, prog Program, pc int, vt ValueType, flags Flag, v *Value, depth int) {
	if v == nil {
		fmt.Fprintln(w, "<nil>")
		return
	}
	if flags.has(FlagOptional) || flags.has(FlagExternal) {
		if !v.Present {
			fmt.Fprintln(w, "<absent>")
			return
		}
		prettyValue(w, prog, pc, vt, flags&^(FlagOptional|FlagExternal), v.Inner, depth)
		return
	}
	switch vt {
	case VTBln:
		fmt.Fprintln(w, v.U64 != 0)
	case VT1By, VT2By, VT4By, VT8By:
		if flags.has(FlagFloat) {
			if primitiveSize(vt) == 4 {
				fmt.Fprintln(w, v.F32)
			} else {
				fmt.Fprintln(w, v.F64)
			}
		} else {
			fmt.Fprintln(w, int64(v.U64))
		}
	case VTWChar:
		fmt.Fprintf(w, "%q\n", rune(v.U64))
	case VTStr, VTBSt:
		fmt.Fprintf(w, "%q\n", v.Str)
	case VTWStr, VTBWSt:
		fmt.Fprintf(w, "%v\n", v.WStr)
	case VTEnu:
		fmt.Fprintf(w, "enum(%d)\n", v.U64)
	case VTBmk:
		fmt.Fprintf(w, "bitmask(0x%x)\n", v.U64)
	case VTSeq, VTBSq, VTArr:
		fmt.Fprintf(w, "[%d elements]\n", len(v.Elems))
		elementSize := int(prog[pc+3])
		jsrOperand := int(prog[pc+4])
		complex := elementSize == 0
		for i, elem := range v.Elems {
			indent(w, depth+1)
			fmt.Fprintf(w, "[%d]: ", i)
			if complex {
				_, evt, eflags, _ := decodeHeader(prog[jsrOperand])
				prettyValue(w, prog, jsrOperand, evt, eflags, elem, depth+1)
			} else {
				fmt.Fprintln(w, int64(elem.U64))
			}
		}
	case VTUni:
		fmt.Fprintf(w, "union, disc=%d\n", v.Disc)
		casesPC := int(prog[pc+2])
		targetPC, evt, eflags, _, ok := findUnionCase(prog, casesPC, v.Disc)
		if ok {
			indent(w, depth+1)
			fmt.Fprint(w, "case: ")
			prettyValue(w, prog, targetPC, evt, eflags, v.Case, depth+1)
		}
	case VTStu:
		fmt.Fprintln(w, "{")
		target := int(prog[pc+2])
		prettyAggregate(w, prog, target, v, depth+1)
		indent(w, depth)
		fmt.Fprintln(w, "}")
	case VTExt:
		if !v.Present {
			fmt.Fprintln(w, "<nil>")
			return
		}
		fmt.Fprintln(w, "{")
		target := int(prog[pc+2])
		prettyAggregate(w, prog, target, v.Inner, depth+1)
		indent(w, depth)
		fmt.Fprintln(w, "}")
	default:
		fmt.Fprintln(w, "<unknown>")
	}
}
