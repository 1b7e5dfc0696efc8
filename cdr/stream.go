// Copyright 2024 The cdrcore Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package cdr

// InputStream is a non-owning view over a byte buffer being read, per spec
// §3: {buffer, size, index, xcdr-version}. The index monotonically
// advances; reads are bounded by size and fail the enclosing operation on
// exhaustion.
type InputStream struct {
	Buf     []byte
	Pos     int
	Version Version
	Endian  Endian

	// AlignOrigin mirrors OutputStream.AlignOrigin: it shifts the alignment
	// reference point while reading an XCDR1 parameter's locally-aligned-to-0
	// value region (spec §4.2).
	AlignOrigin int
}

// NewInputStream returns a stream reading buf.
func NewInputStream(buf []byte, version Version, endian Endian) *InputStream {
	return &InputStream{Buf: buf, Version: version, Endian: endian}
}

func (in *InputStream) remaining() int { return len(in.Buf) - in.Pos }

func (in *InputStream) align(a int) error {
	target := align(in.Pos-in.AlignOrigin, a) + in.AlignOrigin
	if target > len(in.Buf) {
		return boundsErr(ErrBufferExhausted)
	}
	in.Pos = target
	return nil
}

// withAlignOrigin temporarily shifts AlignOrigin to newOrigin, runs fn, and
// restores the previous origin on return.
func (in *InputStream) withAlignOrigin(newOrigin int, fn func() error) error {
	prev := in.AlignOrigin
	in.AlignOrigin = newOrigin
	err := fn()
	in.AlignOrigin = prev
	return err
}

func (in *InputStream) need(n int) error {
	if n < 0 || n > in.remaining() {
		return boundsErr(ErrBufferExhausted)
	}
	return nil
}

func (in *InputStream) readBytes(n int) ([]byte, error) {
	if err := in.need(n); err != nil {
		return nil, err
	}
	b := in.Buf[in.Pos : in.Pos+n]
	in.Pos += n
	return b, nil
}

func (in *InputStream) readUint(size int) (uint64, error) {
	if err := in.align(primitiveAlignment(in.Version, size)); err != nil {
		return 0, err
	}
	b, err := in.readBytes(size)
	if err != nil {
		return 0, err
	}
	order := in.Endian.order()
	switch size {
	case 1:
		return uint64(b[0]), nil
	case 2:
		return uint64(order.Uint16(b)), nil
	case 4:
		return uint64(order.Uint32(b)), nil
	case 8:
		return order.Uint64(b), nil
	default:
		programmerError("readUint: unsupported size")
		return 0, nil
	}
}

// OutputStream is an owning, growable byte buffer being written, per spec
// §3: {buffer, capacity, index, xcdr-version, align-origin}. AlignOrigin
// shifts the alignment reference point; it is adjusted temporarily inside
// XCDR1 parameter-list members so each member's value region is locally
// aligned to 0 (spec §4.2).
type OutputStream struct {
	Buf         []byte
	Version     Version
	Endian      Endian
	AlignOrigin int

	// DryRun, when set, makes the stream track length only (VirtualLen)
	// without touching Buf: GetSize reuses the exact same write traversal
	// as Write itself rather than maintaining a parallel size-only walk of
	// the bytecode, so the two can never drift out of sync.
	DryRun     bool
	VirtualLen int
}

// NewOutputStream returns an empty output stream. If sizeHint > 0, the
// backing buffer is pre-sized (the hot path spec §4.7 exists to support:
// compute size once, allocate once, write without reallocating).
func NewOutputStream(version Version, endian Endian, sizeHint int) *OutputStream {
	var buf []byte
	if sizeHint > 0 {
		buf = make([]byte, 0, sizeHint)
	}
	return &OutputStream{Buf: buf, Version: version, Endian: endian}
}

func (out *OutputStream) pos() int {
	if out.DryRun {
		return out.VirtualLen
	}
	return len(out.Buf)
}

func (out *OutputStream) alignTo(a int) {
	target := align(out.pos()-out.AlignOrigin, a) + out.AlignOrigin
	if out.DryRun {
		out.VirtualLen = target
		return
	}
	for len(out.Buf) < target {
		out.Buf = append(out.Buf, 0)
	}
}

func (out *OutputStream) writeBytes(b []byte) {
	if out.DryRun {
		out.VirtualLen += len(b)
		return
	}
	out.Buf = append(out.Buf, b...)
}

func (out *OutputStream) writeUint(size int, v uint64) {
	out.alignTo(primitiveAlignment(out.Version, size))
	order := out.Endian.order()
	var tmp [8]byte
	switch size {
	case 1:
		tmp[0] = byte(v)
		out.writeBytes(tmp[:1])
	case 2:
		order.PutUint16(tmp[:2], uint16(v))
		out.writeBytes(tmp[:2])
	case 4:
		order.PutUint32(tmp[:4], uint32(v))
		out.writeBytes(tmp[:4])
	case 8:
		order.PutUint64(tmp[:8], v)
		out.writeBytes(tmp[:8])
	default:
		programmerError("writeUint: unsupported size")
	}
}

// reserveUint32 writes a zero placeholder word (4-byte aligned) and returns
// its offset, for later back-patching (DHEADER/EMHEADER length fields).
func (out *OutputStream) reserveUint32() int {
	out.alignTo(primitiveAlignment(out.Version, 4))
	off := out.pos()
	out.writeBytes([]byte{0, 0, 0, 0})
	return off
}

func (out *OutputStream) patchUint32(off int, v uint32) {
	if out.DryRun {
		return
	}
	out.Endian.order().PutUint32(out.Buf[off:off+4], v)
}

// withAlignOrigin temporarily shifts AlignOrigin to newOrigin, runs fn, and
// restores the previous origin on return, per spec §4.2's XCDR1
// parameter-list alignment-origin-shift rule.
func (out *OutputStream) withAlignOrigin(newOrigin int, fn func() error) error {
	prev := out.AlignOrigin
	out.AlignOrigin = newOrigin
	err := fn()
	out.AlignOrigin = prev
	return err
}
