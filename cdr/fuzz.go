// Copyright 2024 The cdrcore Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package cdr

import "sync"

// Fuzz is a legacy go-fuzz style harness (func(data []byte) int), following
// the root-level fuzz.go convention this package's teacher repo uses for
// its own binary-format parser. It feeds arbitrary bytes through Normalize
// and, on success, Read, against a small fixed struct descriptor: normalize
// is the one pass expected to reject every malformed input, so any panic
// reaching here (other than an explicit programmer-error on a malformed
// bytecode program, which never varies per input) is a bug.
func Fuzz(data []byte) int {
	desc := fuzzDescriptor()
	buf := make([]byte, len(data))
	copy(buf, data)

	if err := Normalize(desc, buf, Version2, LittleEndian, LittleEndian); err != nil {
		return 0
	}
	in := NewInputStream(buf, Version2, LittleEndian)
	if _, err := Read(in, desc); err != nil {
		return 0
	}
	return 1
}

var (
	fuzzDescOnce sync.Once
	fuzzDesc     *Descriptor
)

// fuzzDescriptor describes: struct { int32 a; string b; sequence<int32> c; }
// final, XCDR2-eligible.
func fuzzDescriptor() *Descriptor {
	fuzzDescOnce.Do(func() {
		prog := Program{
			instrHeader(OpADR, VT4By, 0, 0), 0,
			instrHeader(OpADR, VTStr, 0, 0), 1,
			instrHeader(OpADR, VTSeq, 0, 0), 2, 0, 4, 0,
			instrHeader(OpRTS, 0, 0, 0),
		}
		fuzzDesc = NewDescriptor("FuzzSample", prog, ExtensibilityFinal, 0, 8)
	})
	return fuzzDesc
}
