// Copyright 2024 The dexlayout Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

package dex

import "testing"

func TestCanGenerateCompactConsistent(t *testing.T) {
	ir := newFixtureIR()
	if err := CanGenerateCompact(ir); err != nil {
		t.Fatalf("expected a fresh fixture to be compact-eligible, got %v", err)
	}
}

func TestCanGenerateCompactInconsistentMethodCode(t *testing.T) {
	ir := newFixtureIR()
	// Introduce a second class-data entry that references method 0 with a
	// different code item than the first entry already assigned it.
	ir.CodeItems = append(ir.CodeItems, CodeItem{RegistersSize: 2, DebugInfoIdx: -1, Insns: []uint16{0x000e}, Fixups: newCodeFixups()})
	ir.ClassDatas = append(ir.ClassDatas, ClassData{
		DirectMethods: []EncodedMethod{{MethodIdx: 0, AccessFlags: AccPublic, CodeIdx: 2}},
	})

	if err := CanGenerateCompact(ir); err != ErrInconsistentMethodCode {
		t.Fatalf("CanGenerateCompact = %v, want ErrInconsistentMethodCode", err)
	}

	opts := DefaultLayoutOptions()
	if _, err := WriteCompactDex(ir, &opts); err != ErrInconsistentMethodCode {
		t.Fatalf("WriteCompactDex = %v, want ErrInconsistentMethodCode", err)
	}
}

func TestWriteCompactDexRoundTrip(t *testing.T) {
	ir := newFixtureIR()
	if err := Layout(ir, "fixture", EmptyProfile{}, nil); err != nil {
		t.Fatalf("Layout: %v", err)
	}
	opts := DefaultLayoutOptions()
	opts.CompactDexLevel = CompactDexLevelFast
	data, err := WriteCompactDex(ir, &opts)
	if err != nil {
		t.Fatalf("WriteCompactDex: %v", err)
	}
	if string(data[:8]) != string(CdexMagic[:]) {
		t.Fatalf("missing cdex magic in output")
	}

	got, err := Build(data, &BuildOptions{})
	if err != nil {
		t.Fatalf("Build(cdex round-trip output): %v", err)
	}
	if m := Verify(ir, got); m != nil {
		t.Fatalf("cdex round-trip verification mismatch: %+v", m)
	}
}

// TestWriteCompactDexDedupesIdenticalCodeItems exercises S1: two methods
// ("bar" and "baz" in the fixture) whose code items are byte-for-byte
// identical must collapse to a single data-section occurrence.
func TestWriteCompactDexDedupesIdenticalCodeItems(t *testing.T) {
	ir := newFixtureIR()
	opts := DefaultLayoutOptions()
	opts.DedupeCodeItems = true
	if _, err := WriteCompactDex(ir, &opts); err != nil {
		t.Fatalf("WriteCompactDex: %v", err)
	}
	if ir.CodeItems[0].Offset != ir.CodeItems[1].Offset {
		t.Fatalf("identical code items did not dedupe: offsets %d vs %d",
			ir.CodeItems[0].Offset, ir.CodeItems[1].Offset)
	}
}

func TestWriteCompactDexDedupeDisabledKeepsBothCopies(t *testing.T) {
	ir := newFixtureIR()
	opts := DefaultLayoutOptions()
	opts.DedupeCodeItems = false
	if _, err := WriteCompactDex(ir, &opts); err != nil {
		t.Fatalf("WriteCompactDex: %v", err)
	}
	if ir.CodeItems[0].Offset == ir.CodeItems[1].Offset {
		t.Fatalf("expected distinct offsets with dedup disabled, both at %d", ir.CodeItems[0].Offset)
	}
}

// TestCodeDedupSkipsMisalignedPrior exercises S2 directly against the
// Deduper the CDEX writer feeds its code items through: a prior occurrence
// whose offset does not meet alignCodeItem must never be reused, even
// though its bytes match.
func TestCodeDedupSkipsMisalignedPrior(t *testing.T) {
	c := NewContainer()
	sec := c.section(DataSection)
	if err := sec.ensure(16); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	body := []byte{1, 2, 3, 4, 5, 6}
	copy(sec.buf[1:], body)  // first occurrence starts at offset 1, misaligned
	copy(sec.buf[8:], body)  // second occurrence starts at offset 8, aligned

	d := NewDeduper(sec, true)
	if got := d.Dedupe(1, 7); got != NotDeduped {
		t.Fatalf("first (misaligned) occurrence should miss, got %d", got)
	}
	prior := d.Dedupe(8, 14)
	if prior == NotDeduped {
		t.Fatalf("expected the deduper to find the byte-identical prior occurrence")
	}
	if prior%alignCodeItem == 0 {
		t.Fatalf("test setup bug: expected prior offset %d to be misaligned", prior)
	}
	// The cdex writer's own guard (prior%alignCodeItem == 0) is what actually
	// rejects reuse here; Dedupe itself only reports byte equality.
}
