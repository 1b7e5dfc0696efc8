// Copyright 2024 The cdrcore Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package cdr

// GetSize returns the exact number of bytes Write(desc, val) would produce,
// per spec §4.7's "compute size once, allocate once" hot path: callers use
// it to size a single output buffer up front rather than growing one as
// they write. Final, fixed-size descriptors (desc.OptSizeXCDR1/2) skip the
// walk entirely. Otherwise GetSize runs the real write traversal in
// DryRun mode (see OutputStream.DryRun): a dedicated size-only bytecode
// walk would inevitably drift from the write walk as the format evolved,
// so cdrcore keeps one traversal and two ways to run it.
func GetSize(desc *Descriptor, val *Value, version Version) (int, error) {
	if desc.Extensibility == ExtensibilityFinal {
		if version == Version1 && desc.OptSizeXCDR1 > 0 {
			return desc.OptSizeXCDR1, nil
		}
		if version == Version2 && desc.OptSizeXCDR2 > 0 {
			return desc.OptSizeXCDR2, nil
		}
	}
	out := &OutputStream{Version: version, Endian: LittleEndian, DryRun: true}
	if err := Write(out, desc, val); err != nil {
		return 0, err
	}
	if out.VirtualLen > MaxInputSize {
		return 0, boundsErr(ErrOversizeLength)
	}
	return out.VirtualLen, nil
}
