// Copyright 2024 The dexlayout Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

package dex

import "testing"

func TestIsConstructorMethod(t *testing.T) {
	if !IsConstructorMethod(AccConstructor | AccPublic) {
		t.Error("expected AccConstructor bit to be detected")
	}
	if IsConstructorMethod(AccPublic) {
		t.Error("did not expect a plain public method to be a constructor")
	}
}

func TestIsStaticConstructor(t *testing.T) {
	if !IsStaticConstructor(AccConstructor | AccStatic) {
		t.Error("expected (Constructor|Static) to be a static constructor")
	}
	if IsStaticConstructor(AccConstructor) {
		t.Error("an instance <init> must not be reported as a static constructor")
	}
	if IsStaticConstructor(AccStatic) {
		t.Error("a plain static method must not be reported as a static constructor")
	}
}

type recordingVisitor struct {
	kinds []ItemKind
}

func (v *recordingVisitor) Visit(kind ItemKind, index int, offset, size uint32) {
	v.kinds = append(v.kinds, kind)
}

func TestWalkOrderAndMapListAlwaysVisited(t *testing.T) {
	ir := newFixtureIR()
	v := &recordingVisitor{}
	ir.Walk(v)

	if len(v.kinds) == 0 || v.kinds[len(v.kinds)-1] != KindMapList {
		t.Fatalf("expected the map list to be visited last, got %v", v.kinds)
	}
	if v.kinds[0] != KindStringData {
		t.Fatalf("expected string data to be visited first, got %v", v.kinds[0])
	}
}

func TestSectionSizesOmitsEmptySections(t *testing.T) {
	ir := newFixtureIR()
	opts := DefaultLayoutOptions()
	if _, err := WriteStandardDex(ir, &opts); err != nil {
		t.Fatalf("WriteStandardDex: %v", err)
	}
	sizes := ir.SectionSizes()
	if _, ok := sizes["annotation_set"]; ok {
		t.Error("did not expect an empty annotation_set section to be reported")
	}
	if sizes["string_data"] == 0 {
		t.Error("expected non-zero string_data size")
	}
	if sizes["code_item"] == 0 {
		t.Error("expected non-zero code_item size")
	}
}
