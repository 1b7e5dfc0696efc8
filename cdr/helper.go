// Copyright 2024 The cdrcore Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package cdr

import (
	"encoding/binary"
	"unsafe"
)

// MaxInputSize is the input size cap from spec §4.4: "0xFFFFFFF0 so that
// padding to 16-byte alignment never overflows a 32-bit offset."
const MaxInputSize = 0xFFFFFFF0

// nativeEndian is resolved once at init time by inspecting how the runtime
// lays out a multi-byte integer, the same technique used throughout the
// standard library and its ecosystem (e.g. golang.org/x/sys) to avoid a
// build-tag explosion per architecture.
var nativeEndian binary.ByteOrder

func init() {
	var probe uint16 = 0x0102
	b := (*[2]byte)(unsafe.Pointer(&probe))
	if b[0] == 0x01 {
		nativeEndian = binary.BigEndian
	} else {
		nativeEndian = binary.LittleEndian
	}
}

// align rounds offset up to the next multiple of alignment (a power of
// two), matching spec §4.2's alignment rule.
func align(offset, alignment int) int {
	return (offset + alignment - 1) &^ (alignment - 1)
}

// primitiveAlignment returns the alignment, in bytes, a primitive of size s
// requires at the given XCDR version, per spec §4.2: min(s,8) for XCDR1,
// min(s,4) for XCDR2.
func primitiveAlignment(version Version, size int) int {
	if version == Version1 {
		if size > 8 {
			return 8
		}
		return size
	}
	if size > 4 {
		return 4
	}
	return size
}

// Version is the XCDR wire-format version, per spec §6.1.
type Version uint8

const (
	Version1 Version = 1
	Version2 Version = 2
)

// Endian selects the byte order primitives are written/read in.
type Endian uint8

const (
	LittleEndian Endian = iota
	BigEndian
	NativeEndian
)

func (e Endian) order() binary.ByteOrder {
	switch e {
	case BigEndian:
		return binary.BigEndian
	case NativeEndian:
		return nativeEndian
	default:
		return binary.LittleEndian
	}
}
