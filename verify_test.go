// Copyright 2024 The dexlayout Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

package dex

import "testing"

func TestVerifyIdenticalIRsMatch(t *testing.T) {
	ir := newFixtureIR()
	if m := Verify(ir, ir); m != nil {
		t.Fatalf("expected an IR to verify against itself, got %+v", m)
	}
}

func TestVerifyDetectsStringIdCountMismatch(t *testing.T) {
	want := newFixtureIR()
	got := newFixtureIR()
	got.StringIds = got.StringIds[:len(got.StringIds)-1]

	m := Verify(want, got)
	if m == nil || m.Section != "string_ids" {
		t.Fatalf("expected a string_ids size mismatch, got %+v", m)
	}
}

func TestVerifyDetectsStringDataDifference(t *testing.T) {
	want := newFixtureIR()
	got := newFixtureIR()
	got.StringDatas[3].Data = []byte("changed")

	m := Verify(want, got)
	if m == nil || m.Section != "string_ids" || m.Field != "data" {
		t.Fatalf("expected a string_ids data mismatch, got %+v", m)
	}
}

func TestVerifyDetectsMissingClassDef(t *testing.T) {
	want := newFixtureIR()
	got := newFixtureIR()
	got.ClassDefs = nil

	m := Verify(want, got)
	if m == nil || m.Section != "class_defs" {
		t.Fatalf("expected a class_defs mismatch, got %+v", m)
	}
}

func TestVerifyDetectsMethodAccessFlagsDifference(t *testing.T) {
	want := newFixtureIR()
	got := newFixtureIR()
	got.ClassDatas[0].DirectMethods[0].AccessFlags = AccPrivate

	m := Verify(want, got)
	if m == nil || m.Section != "encoded_method" || m.Field != "access_flags" {
		t.Fatalf("expected an encoded_method access_flags mismatch, got %+v", m)
	}
}

func TestVerifyDetectsCodeItemInsnsDifference(t *testing.T) {
	want := newFixtureIR()
	got := newFixtureIR()
	got.CodeItems[0].Insns = []uint16{0x0000}

	m := Verify(want, got)
	if m == nil || m.Section != "code_item" || m.Field != "insns" {
		t.Fatalf("expected a code_item insns mismatch, got %+v", m)
	}
}

// TestVerifyRoundTripStandardAndCompact exercises S5: round-trip
// verification succeeds for both standard DEX and CDEX emission of the
// same source IR.
func TestVerifyRoundTripStandardAndCompact(t *testing.T) {
	stdSrc := newFixtureIR()
	stdOpts := DefaultLayoutOptions()
	stdData, err := WriteStandardDex(stdSrc, &stdOpts)
	if err != nil {
		t.Fatalf("WriteStandardDex: %v", err)
	}
	stdGot, err := Build(stdData, &BuildOptions{})
	if err != nil {
		t.Fatalf("Build(standard): %v", err)
	}
	if m := Verify(stdSrc, stdGot); m != nil {
		t.Fatalf("standard round-trip mismatch: %+v", m)
	}

	cdexSrc := newFixtureIR()
	cdexOpts := DefaultLayoutOptions()
	cdexOpts.CompactDexLevel = CompactDexLevelFast
	cdexData, err := WriteCompactDex(cdexSrc, &cdexOpts)
	if err != nil {
		t.Fatalf("WriteCompactDex: %v", err)
	}
	cdexGot, err := Build(cdexData, &BuildOptions{})
	if err != nil {
		t.Fatalf("Build(cdex): %v", err)
	}
	if m := Verify(cdexSrc, cdexGot); m != nil {
		t.Fatalf("cdex round-trip mismatch: %+v", m)
	}
}
