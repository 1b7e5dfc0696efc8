// Copyright 2024 The cdrcore Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import "github.com/go-dds/cdrcore/cdr"

// cdrdump has no IDL front end (spec.md's Non-goals explicitly put IDL
// parsing and code generation out of scope), so it interprets an input
// file against one of a small, fixed set of built-in topic descriptors
// rather than one derived from the file itself. This mirrors the
// teacher's pedumper, which also has no schema of its own to discover:
// the PE format is self-describing on the wire the way these sample
// descriptors are fixed in code, not read from the input.
var samples = map[string]*cdr.Descriptor{
	"point":  pointDescriptor(),
	"person": personDescriptor(),
}

// point: final struct { int32 x; int32 y; }, memcpy-safe at both XCDR
// versions.
func pointDescriptor() *cdr.Descriptor {
	prog := cdr.Program{
		cdr.EncodeInstrHeader(cdr.OpADR, cdr.VT4By, cdr.FlagSigned, 0), 0,
		cdr.EncodeInstrHeader(cdr.OpADR, cdr.VT4By, cdr.FlagSigned, 0), 1,
		cdr.EncodeInstrHeader(cdr.OpRTS, 0, 0, 0),
	}
	return cdr.NewDescriptor("Point", prog, cdr.ExtensibilityFinal, 0, 8)
}

// person: final struct { string name; int32 age; sequence<int32> scores; },
// the same member shapes cdrdump's Fprint/ExtractKey paths need to
// exercise a string, a primitive, and a sequence in one descriptor.
func personDescriptor() *cdr.Descriptor {
	prog := cdr.Program{
		cdr.EncodeInstrHeader(cdr.OpADR, cdr.VTStr, cdr.FlagKey, 0), 0,
		cdr.EncodeInstrHeader(cdr.OpADR, cdr.VT4By, cdr.FlagSigned, 0), 1,
		cdr.EncodeInstrHeader(cdr.OpADR, cdr.VTSeq, 0, 0), 2, 0, 4, 0,
		cdr.EncodeInstrHeader(cdr.OpRTS, 0, 0, 0),
		cdr.EncodeInstrHeader(cdr.OpKOF, 0, 0, 0), 0, 0,
	}
	return cdr.NewDescriptor("Person", prog, cdr.ExtensibilityFinal, cdr.FlagKeyPresent, 8)
}
