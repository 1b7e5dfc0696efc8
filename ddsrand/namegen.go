// Copyright 2024 The cdrcore Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package ddsrand

import "strings"

// syllable tables used to assemble pronounceable test identifiers, per spec
// §4.10: "name generation (assembled from fixed syllable tables) used to
// synthesize topic and participant identifiers during testing."
var (
	leadConsonants = []string{"b", "c", "d", "f", "g", "h", "j", "k", "l", "m", "n", "p", "r", "s", "t", "v"}
	vowels         = []string{"a", "e", "i", "o", "u"}
	trailConsonants = []string{"n", "r", "s", "t", "x"}
)

// GenerateName assembles a pronounceable, lowercase dash-joined name made of
// syllableCount syllables (minimum 1), drawn from r. It is used to synthesize
// topic and participant identifiers in tests where a human-legible but
// collision-resistant name is more useful than a raw numeric ID.
func GenerateName(r *Rand, syllableCount int) string {
	if syllableCount < 1 {
		syllableCount = 1
	}

	var sb strings.Builder
	for i := 0; i < syllableCount; i++ {
		if i > 0 {
			sb.WriteByte('-')
		}
		sb.WriteString(leadConsonants[r.Intn(uint32(len(leadConsonants)))])
		sb.WriteString(vowels[r.Intn(uint32(len(vowels)))])
		if r.Intn(2) == 0 {
			sb.WriteString(trailConsonants[r.Intn(uint32(len(trailConsonants)))])
		}
	}
	return sb.String()
}
