// Copyright 2024 The dexlayout Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

package dex

import "testing"

// TestLayoutCodeItemOrderingHotLast exercises S3: after Layout, the Hot
// method's code item must land at a strictly greater offset than the
// Unused method's (spec.md §4.H "cold items precede hot ones").
func TestLayoutCodeItemOrderingHotLast(t *testing.T) {
	ir := newFixtureIR() // method 0 ("bar") and method 1 ("baz")
	p := newProfile()
	p.hotness[0] = Hot
	// method 1 left at its zero value, Unused.

	if err := Layout(ir, "fixture", p, nil); err != nil {
		t.Fatalf("Layout: %v", err)
	}
	opts := DefaultLayoutOptions()
	if _, err := WriteStandardDex(ir, &opts); err != nil {
		t.Fatalf("WriteStandardDex: %v", err)
	}

	hotCodeIdx := -1
	unusedCodeIdx := -1
	for _, m := range ir.ClassDatas[0].DirectMethods {
		switch m.MethodIdx {
		case 0:
			hotCodeIdx = m.CodeIdx
		case 1:
			unusedCodeIdx = m.CodeIdx
		}
	}
	if hotCodeIdx < 0 || unusedCodeIdx < 0 {
		t.Fatalf("fixture changed shape unexpectedly: hot=%d unused=%d", hotCodeIdx, unusedCodeIdx)
	}
	hotOff := ir.CodeItems[hotCodeIdx].Offset
	unusedOff := ir.CodeItems[unusedCodeIdx].Offset
	if hotOff <= unusedOff {
		t.Fatalf("expected hot method's code-item offset > unused method's: hot=%d unused=%d", hotOff, unusedOff)
	}
}

// TestLayoutStringOrderingHotLast exercises S4: a string reached only by a
// hot method must land at a strictly greater string-data offset than one
// reached only by an unreferenced-by-hot-code ("cold") method.
func TestLayoutStringOrderingHotLast(t *testing.T) {
	ir := newFixtureIR()
	// CodeItems[0] (method "bar", idx 0) references string id 3 ("bar"
	// itself); CodeItems[1] (method "baz", idx 1) references string id 4
	// ("baz"). Mark method 0 hot and leave method 1 at the zero value.
	ir.CodeItems[0].Fixups.Strings[3] = struct{}{}
	ir.CodeItems[1].Fixups.Strings[4] = struct{}{}
	p := newProfile()
	p.hotness[0] = Hot

	if err := Layout(ir, "fixture", p, nil); err != nil {
		t.Fatalf("Layout: %v", err)
	}

	// After layoutStrings, StringIds[3].DataIdx/StringIds[4].DataIdx point
	// at the (possibly moved) StringData entries; find them by data.
	hotDataIdx := ir.StringIds[3].DataIdx
	coldDataIdx := ir.StringIds[4].DataIdx

	opts := DefaultLayoutOptions()
	if _, err := WriteStandardDex(ir, &opts); err != nil {
		t.Fatalf("WriteStandardDex: %v", err)
	}

	hotOff := ir.StringDatas[hotDataIdx].Offset
	coldOff := ir.StringDatas[coldDataIdx].Offset
	if hotOff <= coldOff {
		t.Fatalf("expected hot string's offset > cold string's: hot=%d cold=%d", hotOff, coldOff)
	}
}

// TestLayoutClassesProfileClassesFirst verifies layoutClasses moves
// profile-listed classes ahead of non-profile classes while leaving
// class-def Index renumbered to match the new slice position.
func TestLayoutClassesProfileClassesFirst(t *testing.T) {
	ir := newFixtureIR()
	ir.ClassDefs = append(ir.ClassDefs, ClassDef{
		ClassIdx: 2, AccessFlags: AccPublic, SuperclassIdx: 1,
		InterfacesIdx: -1, SourceFileIdx: -1, AnnotationsIdx: -1,
		ClassDataIdx: -1, StaticValuesIdx: -1,
	})
	// ir.ClassDefs[0] has ClassIdx 0 (not in profile), ClassDefs[1] has
	// ClassIdx 2 (mark it in-profile): it must sort to the front.
	p := newProfile()
	p.classes[2] = true

	if err := Layout(ir, "fixture", p, nil); err != nil {
		t.Fatalf("Layout: %v", err)
	}
	if ir.ClassDefs[0].ClassIdx != 2 {
		t.Fatalf("expected the profile class to sort first, got ClassDefs[0].ClassIdx=%d", ir.ClassDefs[0].ClassIdx)
	}
	if ir.ClassDefs[0].Index != 0 || ir.ClassDefs[1].Index != 1 {
		t.Fatalf("expected Index fields renumbered to match new position, got %d,%d",
			ir.ClassDefs[0].Index, ir.ClassDefs[1].Index)
	}
}

// TestMethodCategoryStates walks method 1 ("baz") through every
// codeCategory spec.md §4.H defines, proving each is actually reachable:
// a plain method with no profile data is Unused, one present in the
// profile but never hot is SometimesUsed, a clinit of a class absent
// from the profile is UsedOnce, the same clinit once its class is in the
// profile becomes StartupOnly, and a recorded Hot hotness always wins.
func TestMethodCategoryStates(t *testing.T) {
	ir := newFixtureIR()
	p := newProfile()
	pl := &planner{ir: ir, fileID: "fixture", profile: p}
	pl.indexMethodCode()

	if got := pl.methodCategory(1); got != catUnused {
		t.Fatalf("plain method: got %v, want catUnused", got)
	}

	p.inProfile[1] = true
	if got := pl.methodCategory(1); got != catSometimesUsed {
		t.Fatalf("in-profile, not hot: got %v, want catSometimesUsed", got)
	}
	delete(p.inProfile, 1)

	ir.ClassDatas[0].DirectMethods[1].AccessFlags = AccStatic | AccConstructor
	pl.methodAccessFlags[1] = AccStatic | AccConstructor
	if got := pl.methodCategory(1); got != catUsedOnce {
		t.Fatalf("clinit, class not in profile: got %v, want catUsedOnce", got)
	}

	p.classes[0] = true // method 1's declaring class (ClassIdx 0) now in profile
	if got := pl.methodCategory(1); got != catStartupOnly {
		t.Fatalf("clinit of profile class: got %v, want catStartupOnly", got)
	}

	p.hotness[1] = Hot
	if got := pl.methodCategory(1); got != catHot {
		t.Fatalf("recorded Hot hotness: got %v, want catHot", got)
	}
}

// TestComputeStringGroupsAllGroups exercises all four string-data
// reachability groups spec.md §4.H's string hotness partition defines:
// default, a hot method's shorty, a hot method's field-name/field-type/
// callee-name bytecode references, and a profile class's own type and
// superclass descriptors.
func TestComputeStringGroupsAllGroups(t *testing.T) {
	ir := newFixtureIR()
	p := newProfile()
	p.hotness[0] = Hot // method 0 ("bar") is hot
	p.classes[0] = true // class "Lfoo;" (ClassIdx 0) is in the profile

	// method 0's bytecode references field 0 (Lfoo;.x:I) and invokes
	// method 1 ("baz").
	ir.CodeItems[0].Fixups.Fields[0] = struct{}{}
	ir.CodeItems[0].Fixups.Methods[1] = struct{}{}

	pl := &planner{ir: ir, fileID: "fixture", profile: p}
	pl.indexMethodCode()
	groups := pl.computeStringGroups()

	// group 2: ProtoIds[0].ShortyIdx == 2 ("V"), the shorty of hot method 0.
	if got := groups[2]; got != groupShorty {
		t.Errorf("shorty string: got %v, want groupShorty", got)
	}
	// group 3: FieldIds[0].NameIdx == 5 ("x") and TypeIds[2].DescriptorIdx
	// == 6 ("I"), the referenced field's name and type; MethodIds[1].NameIdx
	// == 4 ("baz"), the invoked callee's name.
	if got := groups[5]; got != groupBytecode {
		t.Errorf("field name string: got %v, want groupBytecode", got)
	}
	if got := groups[6]; got != groupBytecode {
		t.Errorf("field type string: got %v, want groupBytecode", got)
	}
	if got := groups[4]; got != groupBytecode {
		t.Errorf("callee name string: got %v, want groupBytecode", got)
	}
	// group 4: TypeIds[0].DescriptorIdx == 0 ("Lfoo;") and
	// TypeIds[1].DescriptorIdx == 1 ("Ljava/lang/Object;"), the profile
	// class's own descriptor and its superclass's.
	if got := groups[0]; got != groupDescriptor {
		t.Errorf("class descriptor string: got %v, want groupDescriptor", got)
	}
	if got := groups[1]; got != groupDescriptor {
		t.Errorf("superclass descriptor string: got %v, want groupDescriptor", got)
	}
	// untouched string: string id 3 ("bar", method 0's own name) is not
	// placed in any group here either; a made-up absent key checks the
	// same zero value default.
	if got := groups[999]; got != groupDefault {
		t.Errorf("absent string: got %v, want groupDefault", got)
	}
}
