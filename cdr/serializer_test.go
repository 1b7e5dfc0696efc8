// Copyright 2024 The cdrcore Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package cdr

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// simpleStructDescriptor describes: struct { int32 a; string b; } final.
func simpleStructDescriptor() *Descriptor {
	prog := Program{
		instrHeader(OpADR, VT4By, 0, 0), 0,
		instrHeader(OpADR, VTStr, 0, 0), 1,
		instrHeader(OpRTS, 0, 0, 0),
	}
	return NewDescriptor("Simple", prog, ExtensibilityFinal, 0, 4)
}

func TestFinalStructRoundTripExactBytes(t *testing.T) {
	desc := simpleStructDescriptor()

	tests := []struct {
		name      string
		intVal    int64
		strVal    string
		wantBytes []byte
	}{
		{
			name:      "42 and hi",
			intVal:    42,
			strVal:    "hi",
			wantBytes: []byte{0x2A, 0, 0, 0, 0x03, 0, 0, 0, 'h', 'i', 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			val := NewStruct(2)
			val.Elems[0] = NewInt(tt.intVal)
			val.Elems[1] = NewString(tt.strVal)

			out := NewOutputStream(Version2, LittleEndian, 0)
			if err := Write(out, desc, val); err != nil {
				t.Fatalf("Write: %v", err)
			}
			if !bytes.Equal(out.Buf, tt.wantBytes) {
				t.Fatalf("Write bytes = % x, want % x", out.Buf, tt.wantBytes)
			}

			in := NewInputStream(out.Buf, Version2, LittleEndian)
			got, err := Read(in, desc)
			if err != nil {
				t.Fatalf("Read: %v", err)
			}
			if int64(got.Elems[0].U64) != tt.intVal {
				t.Errorf("member 0 = %d, want %d", int64(got.Elems[0].U64), tt.intVal)
			}
			if got.Elems[1].Str != tt.strVal {
				t.Errorf("member 1 = %q, want %q", got.Elems[1].Str, tt.strVal)
			}
		})
	}
}

func TestGetSizeMatchesWrite(t *testing.T) {
	desc := simpleStructDescriptor()

	tests := []struct {
		name   string
		intVal int64
		strVal string
	}{
		{"short string", 7, "hello, world"},
		{"empty string", 0, ""},
		{"negative int", -5, "x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			val := NewStruct(2)
			val.Elems[0] = NewInt(tt.intVal)
			val.Elems[1] = NewString(tt.strVal)

			size, err := GetSize(desc, val, Version2)
			if err != nil {
				t.Fatalf("GetSize: %v", err)
			}
			out := NewOutputStream(Version2, LittleEndian, 0)
			if err := Write(out, desc, val); err != nil {
				t.Fatalf("Write: %v", err)
			}
			if size != len(out.Buf) {
				t.Fatalf("GetSize = %d, Write produced %d bytes", size, len(out.Buf))
			}
		})
	}
}

// appendableDescriptor describes: @appendable struct { int32 a; string b; [int32 c;] }.
// withThird controls whether the trailing member is present, simulating a
// type that grew a member across a software upgrade.
func appendableDescriptor(withThird bool) *Descriptor {
	prog := Program{
		instrHeader(OpDLC, 0, 0, 0),
		instrHeader(OpADR, VT4By, 0, 0), 0,
		instrHeader(OpADR, VTStr, 0, 0), 1,
	}
	if withThird {
		prog = append(prog, instrHeader(OpADR, VT4By, 0, 0), 2)
	}
	prog = append(prog, instrHeader(OpRTS, 0, 0, 0))
	return NewDescriptor("Appendable", prog, ExtensibilityAppendable, 0, 4)
}

func TestAppendableOlderWriterNewerReaderToleratesMissingMember(t *testing.T) {
	oldDesc := appendableDescriptor(false)
	newDesc := appendableDescriptor(true)

	tests := []struct {
		name   string
		intVal int64
		strVal string
	}{
		{"short string", 1, "x"},
		{"longer string", 1000, "a longer value"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			val := NewStruct(2)
			val.Elems[0] = NewInt(tt.intVal)
			val.Elems[1] = NewString(tt.strVal)

			out := NewOutputStream(Version2, LittleEndian, 0)
			if err := Write(out, oldDesc, val); err != nil {
				t.Fatalf("Write: %v", err)
			}

			in := NewInputStream(out.Buf, Version2, LittleEndian)
			got, err := Read(in, newDesc)
			if err != nil {
				t.Fatalf("Read with newer descriptor: %v", err)
			}
			if len(got.Elems) != 3 {
				t.Fatalf("trailing member added by the newer descriptor should read back as a filled-in default slot, got %d elems", len(got.Elems))
			}
			third := got.Elems[2]
			if third == nil || third.U64 != 0 {
				t.Errorf("trailing member not seen on the wire should default-fill to zero, got %#v", third)
			}

			// The filled-in tail must be safe to re-serialize and
			// key-extract, not just present: both walk val.Elems by
			// index.
			if _, err := GetSize(newDesc, got, Version2); err != nil {
				t.Errorf("GetSize on a default-filled tail: %v", err)
			}
			roundTrip := NewOutputStream(Version2, LittleEndian, 0)
			if err := Write(roundTrip, newDesc, got); err != nil {
				t.Errorf("Write on a default-filled tail: %v", err)
			}
		})
	}
}

// mutableDescriptor describes: @mutable struct { int32 a (id 1); string b
// (id 2, @must_understand); }.
func mutableDescriptor() *Descriptor {
	// index: 0    1   2  3   4    5  6   7    8   9   10   11
	//        [PLC][PLM ->8,id1][PLM mu ->10,id2][RTS][ADR int32][ADR str mu]
	prog := Program{
		/*0*/ instrHeader(OpPLC, 0, 0, 0),
		/*1*/ instrHeader(OpPLM, 0, 0, 0),
		/*2*/ 8, // target: the int32 member's ADR
		/*3*/ 1, // member-ID
		/*4*/ instrHeader(OpPLM, 0, FlagMustUnderstand, 0),
		/*5*/ 10, // target: the string member's ADR
		/*6*/ 2,  // member-ID
		/*7*/ instrHeader(OpRTS, 0, 0, 0),
		/*8*/ instrHeader(OpADR, VT4By, 0, 0),
		/*9*/ 0, // memberIdx into val.Elems
		/*10*/ instrHeader(OpADR, VTStr, FlagMustUnderstand, 0),
		/*11*/ 1, // memberIdx into val.Elems
	}
	return NewDescriptor("Mutable", prog, ExtensibilityMutable, 0, 4)
}

func TestMutableXCDR2RoundTrip(t *testing.T) {
	desc := mutableDescriptor()

	tests := []struct {
		name   string
		intVal int64
		strVal string
	}{
		{"99 and must-understand", 99, "must-understand"},
		{"zero and empty", 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			val := NewStruct(2)
			val.Elems[0] = NewInt(tt.intVal)
			val.Elems[1] = NewString(tt.strVal)

			out := NewOutputStream(Version2, LittleEndian, 0)
			if err := Write(out, desc, val); err != nil {
				t.Fatalf("Write: %v", err)
			}
			in := NewInputStream(out.Buf, Version2, LittleEndian)
			got, err := Read(in, desc)
			if err != nil {
				t.Fatalf("Read: %v", err)
			}
			if int64(got.Elems[0].U64) != tt.intVal {
				t.Errorf("member 0 = %d, want %d", int64(got.Elems[0].U64), tt.intVal)
			}
			if got.Elems[1].Str != tt.strVal {
				t.Errorf("member 1 = %q, want %q", got.Elems[1].Str, tt.strVal)
			}
		})
	}
}

func TestMutableUnknownMustUnderstandRejected(t *testing.T) {
	fullDesc := mutableDescriptor()

	// A reader descriptor that never heard of member-ID 2 (the
	// must-understand string) must reject the sample rather than silently
	// drop it.
	narrowProg := Program{
		/*0*/ instrHeader(OpPLC, 0, 0, 0),
		/*1*/ instrHeader(OpPLM, 0, 0, 0),
		/*2*/ 5, // target: the int32 member's ADR
		/*3*/ 1, // member-ID
		/*4*/ instrHeader(OpRTS, 0, 0, 0),
		/*5*/ instrHeader(OpADR, VT4By, 0, 0),
		/*6*/ 0,
	}
	narrowDesc := NewDescriptor("MutableNarrow", narrowProg, ExtensibilityMutable, 0, 4)

	tests := []struct {
		name   string
		intVal int64
		strVal string
	}{
		{"unknown must-understand string member", 1, "x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			val := NewStruct(2)
			val.Elems[0] = NewInt(tt.intVal)
			val.Elems[1] = NewString(tt.strVal)

			out := NewOutputStream(Version2, LittleEndian, 0)
			if err := Write(out, fullDesc, val); err != nil {
				t.Fatalf("Write: %v", err)
			}

			in := NewInputStream(out.Buf, Version2, LittleEndian)
			if _, err := Read(in, narrowDesc); err == nil {
				t.Fatal("expected an error for an unknown must-understand member, got nil")
			}
		})
	}
}

func TestMutableMustUnderstandDecodeFailureRejected(t *testing.T) {
	desc := mutableDescriptor()

	tests := []struct {
		name string
	}{
		{"must-understand string truncated mid-payload"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			val := NewStruct(2)
			val.Elems[0] = NewInt(1)
			val.Elems[1] = NewString("must-understand")

			out := NewOutputStream(Version2, LittleEndian, 0)
			if err := Write(out, desc, val); err != nil {
				t.Fatalf("Write: %v", err)
			}

			// Member-ID 2 is a known, must-understand string. Corrupting its
			// own length prefix (the four bytes right before its chars on
			// the wire) to an oversized value makes the known member's own
			// decode fail, distinct from the unknown-member-ID case above,
			// without disturbing the DHEADER the body-level bounds check
			// reads first.
			idx := bytes.Index(out.Buf, []byte("must-understand"))
			if idx < 4 {
				t.Fatalf("could not locate string payload in %x", out.Buf)
			}
			binary.LittleEndian.PutUint32(out.Buf[idx-4:idx], 0xFFFFFFF0)

			in := NewInputStream(out.Buf, Version2, LittleEndian)
			_, err := Read(in, desc)
			if err == nil {
				t.Fatal("expected a decode error for a truncated must-understand member, got nil")
			}
			cerr, ok := err.(*Error)
			if !ok || cerr.Err != ErrMustUnderstandFailed {
				t.Fatalf("error = %v, want wrapping ErrMustUnderstandFailed", err)
			}
		})
	}
}

// boundedSeqDescriptor describes: struct { sequence<int32, 3> s; } final.
func boundedSeqDescriptor() *Descriptor {
	prog := Program{
		instrHeader(OpADR, VTBSq, 0, 0), 0, 3, 4, 0,
		instrHeader(OpRTS, 0, 0, 0),
	}
	return NewDescriptor("BoundedSeq", prog, ExtensibilityFinal, 0, 4)
}

func TestBoundedSequenceWriteRejectsOverBound(t *testing.T) {
	desc := boundedSeqDescriptor()

	tests := []struct {
		name string
		vals []int64
	}{
		{"one over bound", []int64{1, 2, 3, 4}},
		{"well over bound", []int64{1, 2, 3, 4, 5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			elems := make([]*Value, len(tt.vals))
			for i, v := range tt.vals {
				elems[i] = NewInt(v)
			}
			val := NewStruct(1)
			val.Elems[0] = NewSequence(elems...)

			out := NewOutputStream(Version2, LittleEndian, 0)
			err := Write(out, desc, val)
			if err == nil {
				t.Fatal("expected bound violation error, got nil")
			}
			cerr, ok := err.(*Error)
			if !ok || cerr.Kind != KindBounds {
				t.Fatalf("error = %v, want KindBounds", err)
			}
		})
	}
}

func TestBoundedSequenceNormalizeRejectsOverBoundOnWire(t *testing.T) {
	desc := boundedSeqDescriptor()

	tests := []struct {
		name  string
		count uint32
	}{
		{"one over bound", 4},
		{"well over bound", 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// DHEADER is skipped here since the element type is primitive:
			// the wire body is just [count][count x int32].
			buf := make([]byte, 4+4*tt.count)
			buf[0] = byte(tt.count)
			for i := uint32(0); i < tt.count; i++ {
				buf[4+4*i] = byte(i + 1)
			}
			if err := Normalize(desc, buf, Version2, LittleEndian, LittleEndian); err == nil {
				t.Fatal("expected Normalize to reject an over-bound sequence, got nil")
			}
		})
	}
}

// unboundedSeqDescriptor describes: struct { sequence<int32> s; } final.
func unboundedSeqDescriptor() *Descriptor {
	prog := Program{
		instrHeader(OpADR, VTSeq, 0, 0), 0, 0, 4, 0,
		instrHeader(OpRTS, 0, 0, 0),
	}
	return NewDescriptor("UnboundedSeq", prog, ExtensibilityFinal, 0, 4)
}

func TestSequenceDeclaredCountExceedsRemainingInputRejected(t *testing.T) {
	desc := unboundedSeqDescriptor()

	tests := []struct {
		name        string
		count       uint32
		trailingLen int
	}{
		{"declared count with no element data at all", 1000000, 0},
		{"declared count exceeding what one trailing byte allows", 50, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := make([]byte, 4+tt.trailingLen)
			LittleEndian.order().PutUint32(buf, tt.count)

			in := NewInputStream(buf, Version2, LittleEndian)
			_, err := Read(in, desc)
			if err == nil {
				t.Fatal("expected an allocation-guard error, got nil")
			}
			cerr, ok := err.(*Error)
			if !ok || cerr.Kind != KindAllocation {
				t.Fatalf("error = %v, want KindAllocation", err)
			}
		})
	}
}

func TestNormalizeRobustBoolean(t *testing.T) {
	prog := Program{
		instrHeader(OpADR, VTBln, 0, 0), 0,
		instrHeader(OpRTS, 0, 0, 0),
	}
	desc := NewDescriptor("BoolHolder", prog, ExtensibilityFinal, 0, 4)

	tests := []struct {
		name     string
		wire     byte
		wantNorm byte
	}{
		{"canonical false", 0x00, 0x00},
		{"canonical true", 0x01, 0x01},
		{"non-canonical all bits set", 0xFF, 0x01},
		{"non-canonical low bit unset", 0x02, 0x01},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := []byte{tt.wire}
			if err := Normalize(desc, buf, Version2, LittleEndian, LittleEndian); err != nil {
				t.Fatalf("Normalize: %v", err)
			}
			if buf[0] != tt.wantNorm {
				t.Errorf("normalized boolean byte = %#x, want %#x", buf[0], tt.wantNorm)
			}
		})
	}
}

func TestOptionalMemberAbsentAndPresent(t *testing.T) {
	prog := Program{
		instrHeader(OpADR, VT4By, FlagOptional, 0), 0,
		instrHeader(OpRTS, 0, 0, 0),
	}
	desc := NewDescriptor("OptionalHolder", prog, ExtensibilityFinal, 0, 4)

	tests := []struct {
		name        string
		present     bool
		value       int64
		wantPresent bool
	}{
		{"absent", false, 0, false},
		{"present", true, 5, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			val := NewStruct(1)
			if tt.present {
				val.Elems[0] = NewIndirect(true, NewInt(tt.value))
			} else {
				val.Elems[0] = NewIndirect(false, nil)
			}

			out := NewOutputStream(Version2, LittleEndian, 0)
			if err := Write(out, desc, val); err != nil {
				t.Fatalf("Write: %v", err)
			}
			in := NewInputStream(out.Buf, Version2, LittleEndian)
			got, err := Read(in, desc)
			if err != nil {
				t.Fatalf("Read: %v", err)
			}
			if got.Elems[0].Present != tt.wantPresent {
				t.Errorf("present = %v, want %v", got.Elems[0].Present, tt.wantPresent)
			}
			if tt.wantPresent && int64(got.Elems[0].Inner.U64) != tt.value {
				t.Errorf("value = %d, want %d", int64(got.Elems[0].Inner.U64), tt.value)
			}
		})
	}
}

// unionDescriptor describes: union(int32) { case 1: int32; default: string; }.
func unionDescriptor() *Descriptor {
	// index: 0  1  2  3   4    5  6   7    8  9   10   11  12   13   14
	//        [ADR-uni  ] RTS [JEQ disc=1 ->11] [JEQ default ->13] RTS [ADR int32] [ADR str]
	prog := Program{
		/*0*/ instrHeader(OpADR, VTUni, 0, 0),
		/*1*/ 0, // memberIdx
		/*2*/ 4, // casesPC: first JEQ
		/*3*/ instrHeader(OpRTS, 0, 0, 0),
		/*4*/ instrHeader(OpJEQ, 0, 0, 0),
		/*5*/ 1,  // discriminator value
		/*6*/ 11, // target: the int32 case's ADR
		/*7*/ instrHeader(OpJEQ, 0, FlagDefaultCase, 0),
		/*8*/ 0,
		/*9*/ 13, // target: the string default case's ADR
		/*10*/ instrHeader(OpRTS, 0, 0, 0),
		/*11*/ instrHeader(OpADR, VT4By, 0, 0),
		/*12*/ 0,
		/*13*/ instrHeader(OpADR, VTStr, 0, 0),
		/*14*/ 0,
	}
	return NewDescriptor("Union", prog, ExtensibilityFinal, 0, 4)
}

func TestUnionRoundTrip(t *testing.T) {
	desc := unionDescriptor()

	tests := []struct {
		name     string
		disc     int32
		caseVal  *Value
		wantInt  bool
		wantIntV int64
		wantStr  string
	}{
		{"matched case", 1, NewInt(77), true, 77, ""},
		{"default case", 42, NewString("default case"), false, 0, "default case"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			val := NewStruct(1)
			val.Elems[0] = NewUnion(tt.disc, tt.caseVal)
			out := NewOutputStream(Version2, LittleEndian, 0)
			if err := Write(out, desc, val); err != nil {
				t.Fatalf("Write: %v", err)
			}
			in := NewInputStream(out.Buf, Version2, LittleEndian)
			got, err := Read(in, desc)
			if err != nil {
				t.Fatalf("Read: %v", err)
			}
			if got.Elems[0].Disc != tt.disc {
				t.Errorf("disc = %d, want %d", got.Elems[0].Disc, tt.disc)
			}
			if tt.wantInt {
				if int64(got.Elems[0].Case.U64) != tt.wantIntV {
					t.Errorf("case value = %d, want %d", int64(got.Elems[0].Case.U64), tt.wantIntV)
				}
			} else if got.Elems[0].Case.Str != tt.wantStr {
				t.Errorf("case value = %q, want %q", got.Elems[0].Case.Str, tt.wantStr)
			}
		})
	}
}

func TestKeyExtractionAndKeyhash(t *testing.T) {
	prog := Program{
		instrHeader(OpADR, VT4By, FlagKey, 0), 0,
		instrHeader(OpADR, VTStr, 0, 0), 1,
		instrHeader(OpRTS, 0, 0, 0),
		instrHeader(OpKOF, 0, 0, 0), 0, 0,
	}
	desc := NewDescriptor("Keyed", prog, ExtensibilityFinal, FlagKeyPresent, 4)

	tests := []struct {
		name         string
		keyVal       int64
		ignoredStr   string
		wantKey      []byte
		wantHashTail byte
	}{
		{"small key", 123, "ignored by key", []byte{123, 0, 0, 0}, 123},
		{"zero key", 0, "also ignored", []byte{0, 0, 0, 0}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			val := NewStruct(2)
			val.Elems[0] = NewInt(tt.keyVal)
			val.Elems[1] = NewString(tt.ignoredStr)

			key, err := ExtractKey(desc, val, Version2, LittleEndian)
			if err != nil {
				t.Fatalf("ExtractKey: %v", err)
			}
			if !bytes.Equal(key, tt.wantKey) {
				t.Fatalf("ExtractKey = % x, want % x", key, tt.wantKey)
			}

			hash, err := Keyhash(desc, val, Version2)
			if err != nil {
				t.Fatalf("Keyhash: %v", err)
			}
			var want16 [16]byte
			copy(want16[:], []byte{0, 0, 0, tt.wantHashTail}) // big-endian int32, zero-padded
			if hash != want16 {
				t.Fatalf("Keyhash = % x, want % x", hash, want16)
			}
		})
	}
}

func TestFreeIsIdempotentAndResets(t *testing.T) {
	tests := []struct {
		name string
		str  string
	}{
		{"string member", "gone soon"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			val := NewStruct(1)
			val.Elems[0] = NewString(tt.str)
			Free(val)
			if val.Elems != nil || val.Str != "" {
				t.Errorf("Free did not reset value: %#v", val)
			}
			Free(val) // idempotent
		})
	}
}

func TestFprintDoesNotError(t *testing.T) {
	desc := simpleStructDescriptor()

	tests := []struct {
		name   string
		intVal int64
		strVal string
	}{
		{"struct dump", 1, "dump me"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			val := NewStruct(2)
			val.Elems[0] = NewInt(tt.intVal)
			val.Elems[1] = NewString(tt.strVal)
			var buf bytes.Buffer
			if err := Fprint(&buf, desc, val); err != nil {
				t.Fatalf("Fprint: %v", err)
			}
			if buf.Len() == 0 {
				t.Error("Fprint produced no output")
			}
		})
	}
}
