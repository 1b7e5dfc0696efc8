// Copyright 2024 The cdrcore Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Command cdrdump normalizes, decodes, and pretty-prints a raw XCDR sample
// file against one of cdrdump's built-in topic descriptors.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	sampleName string
	xcdrVer    int
	endianName string
	rawHex     bool
	keyOnly    bool
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "cdrdump",
		Short: "An XCDR sample file inspector",
		Long:  "cdrdump normalizes and decodes a raw DDS XCDR sample file against a built-in topic descriptor",
	}

	var versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("cdrdump version 0.1.0")
		},
	}

	var dumpCmd = &cobra.Command{
		Use:   "dump <file>",
		Short: "Dumps a sample file's decoded contents",
		Long:  "Normalizes a copy of the file against a built-in topic descriptor, then decodes and prints it",
		Args:  cobra.ExactArgs(1),
		RunE:  runDump,
	}
	dumpCmd.Flags().StringVarP(&sampleName, "sample", "s", "point", "built-in topic descriptor to decode against (point, person)")
	dumpCmd.Flags().IntVarP(&xcdrVer, "xcdr", "x", 2, "XCDR version the file was written with (1 or 2)")
	dumpCmd.Flags().StringVarP(&endianName, "endian", "e", "le", "byte order the file was written with (le or be)")
	dumpCmd.Flags().BoolVarP(&rawHex, "hex", "", false, "print the raw bytes as a hex dump instead of decoding")
	dumpCmd.Flags().BoolVarP(&keyOnly, "key", "k", false, "print only the extracted key and keyhash")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(dumpCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
