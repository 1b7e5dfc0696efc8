// Copyright 2024 The cdrcore Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package cdr

import "crypto/md5"

// ExtractKey serializes just desc's declared key members, in declaration
// order, per spec §4.6. cdrcore's Value-tree design collapses the
// reference implementation's fast/slow path distinction (memcpy a fixed
// key blob vs. read-then-reselect members from a decoded sample): both
// cases are already "select declared members from a decoded tree and
// write them," so there is one code path here rather than two (see
// DESIGN.md).
func ExtractKey(desc *Descriptor, val *Value, version Version, endian Endian) ([]byte, error) {
	if desc.KeyOffsetsDecl == nil {
		return nil, nil
	}
	out := NewOutputStream(version, endian, 0)
	for _, kf := range desc.KeyOffsetsDecl {
		if err := writeKeyField(out, desc, kf, val); err != nil {
			return nil, err
		}
	}
	return out.Buf, nil
}

// Keyhash serializes desc's key members in member-ID order, always
// big-endian regardless of platform or call-site endianness, and folds the
// result to 16 bytes: the serialized key itself, zero-padded, if it is 16
// bytes or fewer; otherwise its MD5 digest, per the DDSI RTPS keyhash
// parameter's definition. Preserves the reference implementation's
// documented known limitation: a key field that is itself a sequence or
// array of non-primitive elements may serialize its inner members in
// declaration order rather than member-ID order, so such keys must not be
// used for keyhash-based routing (spec §9 open question 2).
func Keyhash(desc *Descriptor, val *Value, version Version) ([16]byte, error) {
	var hash [16]byte
	order := desc.KeyOffsetsByID
	if order == nil {
		order = desc.KeyOffsetsDecl
	}
	if order == nil {
		return hash, nil
	}
	out := NewOutputStream(version, BigEndian, 0)
	for _, kf := range order {
		if err := writeKeyField(out, desc, kf, val); err != nil {
			return hash, err
		}
	}
	if len(out.Buf) <= 16 {
		copy(hash[:], out.Buf)
		return hash, nil
	}
	return md5.Sum(out.Buf), nil
}

func writeKeyField(out *OutputStream, desc *Descriptor, kf KeyField, val *Value) error {
	pc, ok := desc.TopLevelPC[kf.Index]
	if !ok {
		programmerError("writeKeyField: key member has no top-level ADR offset")
	}
	op, vt, flags, hint := decodeHeader(desc.Program[pc])
	if op != OpADR {
		programmerError("writeKeyField: not an ADR instruction")
	}
	member := elemAt(val, kf.Index)
	if member == nil {
		programmerError("writeKeyField: key member is absent")
	}
	inner, present := indirectValue(flags, member)
	if !present {
		programmerError("writeKeyField: key member is absent")
	}
	return writeScalarOrNested(out, desc, desc.Program, pc, vt, flags, hint, inner)
}
