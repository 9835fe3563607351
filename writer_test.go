// Copyright 2024 The dexlayout Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

package dex

import "testing"

func TestWriteStandardDexRoundTrip(t *testing.T) {
	ir := newFixtureIR()
	opts := DefaultLayoutOptions()
	data, err := WriteStandardDex(ir, &opts)
	if err != nil {
		t.Fatalf("WriteStandardDex: %v", err)
	}
	if len(data) < StandardHeaderSize {
		t.Fatalf("output too small: %d bytes", len(data))
	}
	if string(data[:8]) != string(DexMagic[:]) {
		t.Fatalf("missing dex magic in output")
	}

	got, err := Build(data, &BuildOptions{})
	if err != nil {
		t.Fatalf("Build(round-trip output): %v", err)
	}
	if m := Verify(ir, got); m != nil {
		t.Fatalf("round-trip verification mismatch: %+v", m)
	}
}

func TestWriteStandardDexAssignsOffsets(t *testing.T) {
	ir := newFixtureIR()
	opts := DefaultLayoutOptions()
	if _, err := WriteStandardDex(ir, &opts); err != nil {
		t.Fatalf("WriteStandardDex: %v", err)
	}
	for i, sd := range ir.StringDatas {
		if sd.Offset == 0 && i != 0 {
			t.Errorf("string data %d never got an offset assigned", i)
		}
	}
	if ir.Map.Offset == 0 {
		t.Error("map list never got an offset assigned")
	}
}

func TestWriteStandardDexChecksumStamped(t *testing.T) {
	ir := newFixtureIR()
	opts := DefaultLayoutOptions()
	opts.UpdateChecksum = true
	data, err := WriteStandardDex(ir, &opts)
	if err != nil {
		t.Fatalf("WriteStandardDex: %v", err)
	}
	checksum, err := ReadUint32LE(data, 8)
	if err != nil {
		t.Fatalf("ReadUint32LE: %v", err)
	}
	if checksum == 0 {
		t.Error("expected a non-zero Adler-32 checksum to be stamped")
	}
}

func TestWriteStandardDexEmptyClassDefsOmittedFromMap(t *testing.T) {
	ir := &IR{Header: Header{Magic: DexMagic}}
	opts := DefaultLayoutOptions()
	data, err := WriteStandardDex(ir, &opts)
	if err != nil {
		t.Fatalf("WriteStandardDex on an empty IR: %v", err)
	}
	got, err := Build(data, &BuildOptions{})
	if err != nil {
		t.Fatalf("Build(empty output): %v", err)
	}
	if len(got.ClassDefs) != 0 || len(got.StringIds) != 0 {
		t.Fatalf("expected an empty IR to round-trip empty, got %+v", got)
	}
	for _, it := range got.Map.Items {
		if it.Type == typeClassDefItem {
			t.Fatalf("expected no class_def entry in the map list of an empty IR, got %+v", it)
		}
	}
}
