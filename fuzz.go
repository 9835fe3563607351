// Copyright 2024 The dexlayout Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

package dex

// Fuzz is the go-fuzz entry point (spec.md §8): build an IR from data,
// lay it out with the empty profile, emit both standard and (when
// eligible) compact DEX, and verify each round-trips back to an
// equivalent IR. Returns 1 when every step succeeds so the corpus favors
// inputs that exercise the full pipeline, 0 otherwise.
func Fuzz(data []byte) int {
	ir, err := Build(data, &BuildOptions{})
	if err != nil {
		return 0
	}

	if err := Layout(ir, "fuzz", EmptyProfile{}, nil); err != nil {
		return 0
	}

	stdOpts := DefaultLayoutOptions()
	std, err := WriteStandardDex(ir, &stdOpts)
	if err != nil {
		return 0
	}
	gotStd, err := Build(std, &BuildOptions{})
	if err != nil {
		return 0
	}
	if m := Verify(ir, gotStd); m != nil {
		return 0
	}

	if CanGenerateCompact(ir) == nil {
		cdexOpts := DefaultLayoutOptions()
		cdexOpts.CompactDexLevel = CompactDexLevelFast
		cdex, err := WriteCompactDex(ir, &cdexOpts)
		if err != nil {
			return 0
		}
		gotCdex, err := Build(cdex, &BuildOptions{})
		if err != nil {
			return 0
		}
		if m := Verify(ir, gotCdex); m != nil {
			return 0
		}
	}

	return 1
}
