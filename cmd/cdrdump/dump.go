// Copyright 2024 The cdrcore Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"fmt"
	"os"

	mmap "github.com/edsrzf/mmap-go"
	"github.com/go-dds/cdrcore/cdr"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/spf13/cobra"
)

var logger = log.NewHelper(log.NewFilter(log.NewStdLogger(os.Stdout), log.FilterLevel(log.LevelInfo)))

func runDump(cmd *cobra.Command, args []string) error {
	path := args[0]
	desc, ok := samples[sampleName]
	if !ok {
		return fmt.Errorf("unknown sample descriptor %q", sampleName)
	}
	version, err := parseVersion(xcdrVer)
	if err != nil {
		return err
	}
	endian, err := parseEndian(endianName)
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	mapped, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return err
	}
	defer mapped.Unmap()
	logger.Infof("cdrdump: mapped %s (%d bytes)", path, len(mapped))

	if rawHex {
		hexDump(mapped)
		return nil
	}

	// Normalize byteswaps and validates in place (cdr.Normalize's
	// contract), which the mmap.RDONLY mapping's read-only pages can't
	// tolerate; copy into an owned buffer first, the same separation
	// file.go draws between the mmap'd source and the caller-owned
	// structures it decodes into.
	buf := make([]byte, len(mapped))
	copy(buf, mapped)

	if err := cdr.Normalize(desc, buf, version, endian, cdr.NativeEndian); err != nil {
		logger.Errorf("cdrdump: normalize failed: %v", err)
		return err
	}

	in := cdr.NewInputStream(buf, version, cdr.NativeEndian)
	val, err := cdr.Read(in, desc)
	if err != nil {
		logger.Errorf("cdrdump: read failed: %v", err)
		return err
	}

	if keyOnly {
		return printKey(desc, val, version)
	}

	return cdr.Fprint(os.Stdout, desc, val)
}

func printKey(desc *cdr.Descriptor, val *cdr.Value, version cdr.Version) error {
	key, err := cdr.ExtractKey(desc, val, version, cdr.NativeEndian)
	if err != nil {
		return err
	}
	hash, err := cdr.Keyhash(desc, val, version)
	if err != nil {
		return err
	}
	fmt.Printf("key (%d bytes):\n", len(key))
	hexDump(key)
	fmt.Printf("keyhash: %x\n", hash)
	return nil
}

func parseVersion(v int) (cdr.Version, error) {
	switch v {
	case 1:
		return cdr.Version1, nil
	case 2:
		return cdr.Version2, nil
	default:
		return 0, fmt.Errorf("unsupported xcdr version %d (want 1 or 2)", v)
	}
}

func parseEndian(s string) (cdr.Endian, error) {
	switch s {
	case "le":
		return cdr.LittleEndian, nil
	case "be":
		return cdr.BigEndian, nil
	default:
		return 0, fmt.Errorf("unsupported endian %q (want le or be)", s)
	}
}

// hexDump prints b 16 bytes per row, 8-byte groups, with a trailing ASCII
// column.
func hexDump(b []byte) {
	n := (len(b) + 15) &^ 15
	for i := 0; i < n; i++ {
		if i%16 == 0 {
			fmt.Printf("%4d", i)
		}
		if i%8 == 0 {
			fmt.Print(" ")
		}
		if i < len(b) {
			fmt.Printf(" %02X", b[i])
		} else {
			fmt.Print("   ")
		}
		if i%16 == 15 {
			fmt.Print("  ")
			printASCII(b, i-15, i+1)
			fmt.Println()
		}
	}
}

func printASCII(b []byte, from, to int) {
	var buf bytes.Buffer
	for i := from; i < to && i < len(b); i++ {
		c := b[i]
		if c >= 0x20 && c < 0x7f {
			buf.WriteByte(c)
		} else {
			buf.WriteByte('.')
		}
	}
	fmt.Print(buf.String())
}
