// Copyright 2024 The dexlayout Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

package dex

// newFixtureIR builds a small but structurally complete IR: one class
// "Lfoo;" extending "Ljava/lang/Object;" with one static int field and two
// direct no-arg void methods ("bar", "baz"), each a single return-void
// instruction. Used as the common starting point for writer/builder/
// layout/verify round-trip tests.
func newFixtureIR() *IR {
	ir := &IR{
		Header: Header{Magic: DexMagic},
		StringDatas: []StringData{
			{Data: []byte("Lfoo;")},
			{Data: []byte("Ljava/lang/Object;")},
			{Data: []byte("V")},
			{Data: []byte("bar")},
			{Data: []byte("baz")},
			{Data: []byte("x")},
			{Data: []byte("I")},
		},
	}
	for i := range ir.StringDatas {
		ir.StringIds = append(ir.StringIds, StringId{DataIdx: i})
	}
	ir.TypeIds = []TypeId{
		{DescriptorIdx: 0}, // Lfoo;
		{DescriptorIdx: 1}, // Ljava/lang/Object;
		{DescriptorIdx: 6}, // I
		{DescriptorIdx: 2}, // V
	}
	ir.ProtoIds = []ProtoId{
		{ShortyIdx: 2, ReturnTypeIdx: 3, ParametersIdx: -1}, // ()V
	}
	ir.FieldIds = []FieldId{
		{ClassIdx: 0, TypeIdx: 2, NameIdx: 5}, // Lfoo;.x:I
	}
	ir.MethodIds = []MethodId{
		{ClassIdx: 0, ProtoIdx: 0, NameIdx: 3}, // Lfoo;.bar()V
		{ClassIdx: 0, ProtoIdx: 0, NameIdx: 4}, // Lfoo;.baz()V
	}
	ir.CodeItems = []CodeItem{
		{RegistersSize: 1, DebugInfoIdx: -1, Insns: []uint16{0x000e}, Fixups: newCodeFixups()},
		{RegistersSize: 1, DebugInfoIdx: -1, Insns: []uint16{0x000e}, Fixups: newCodeFixups()},
	}
	ir.ClassDatas = []ClassData{
		{
			StaticFields:  []EncodedField{{FieldIdx: 0, AccessFlags: AccStatic}},
			DirectMethods: []EncodedMethod{{MethodIdx: 0, AccessFlags: AccPublic, CodeIdx: 0}, {MethodIdx: 1, AccessFlags: AccPublic, CodeIdx: 1}},
		},
	}
	ir.ClassDefs = []ClassDef{
		{
			ClassIdx: 0, AccessFlags: AccPublic, SuperclassIdx: 1,
			InterfacesIdx: -1, SourceFileIdx: -1, AnnotationsIdx: -1,
			ClassDataIdx: 0, StaticValuesIdx: -1,
		},
	}
	return ir
}

// fakeProfile is a ProfileQuery test double that reports a fixed hotness
// per method index and membership per class index.
type fakeProfile struct {
	classes   map[uint32]bool
	hotness   map[uint32]Hotness
	inProfile map[uint32]bool
}

func newProfile() *fakeProfile {
	return &fakeProfile{
		classes:   map[uint32]bool{},
		hotness:   map[uint32]Hotness{},
		inProfile: map[uint32]bool{},
	}
}

func (p *fakeProfile) ClassInProfile(_ string, typeIndex uint32) bool {
	return p.classes[typeIndex]
}

func (p *fakeProfile) MethodHotness(_ string, methodIndex uint32) Hotness {
	return p.hotness[methodIndex]
}

func (p *fakeProfile) MethodInProfile(_ string, methodIndex uint32) bool {
	return p.inProfile[methodIndex]
}
