// Copyright 2024 The cdrcore Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package cdr

import (
	"bytes"
	"encoding/binary"

	"golang.org/x/text/encoding/unicode"
)

// decodeUTF16 validates raw as a sequence of UTF-16 code units in the given
// wire endianness, the same validation a length-prefixed UTF-16 blob needs
// before trusting it, just without a NUL-terminator scan (WSTR/BWSTR carry
// an explicit unit count, not a terminator). An error here means raw
// contains an unpaired or out-of-order surrogate. The x/text decoder
// substitutes U+FFFD for each malformed surrogate instead of failing, so a
// replacement rune in its output that is not matched by a literal 0xFFFD
// code unit in raw marks a malformed sequence.
func decodeUTF16(raw []byte, e Endian) error {
	endianness := unicode.LittleEndian
	if e.order() == binary.BigEndian {
		endianness = unicode.BigEndian
	}
	decoded, err := unicode.UTF16(endianness, unicode.IgnoreBOM).NewDecoder().Bytes(raw)
	if err != nil {
		return err
	}
	literal := 0
	order := e.order()
	for i := 0; i+1 < len(raw); i += 2 {
		if order.Uint16(raw[i:]) == 0xFFFD {
			literal++
		}
	}
	if bytes.Count(decoded, []byte("�")) > literal {
		return ErrBadWideString
	}
	return nil
}
