// Copyright 2024 The dexlayout Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

package dex

import "fmt"

// Verify compares want against got and returns the first mismatch found,
// or nil if every compared field agrees. Neither IR is mutated. Id tables
// are compared element-wise in index order: string contents, type
// descriptors, proto parameter lists, field class/type and method
// class/proto indices (shortys, return types and member names are not
// compared). Class-defs are compared as an unordered set keyed by the
// class's own descriptor, since layout is free to reorder them, on access
// flags and class data only (superclass, interfaces, source file,
// annotations and static values are not compared). Class data is compared
// on method counts and, per method, access flags and code item:
// registers/ins/outs, instructions, try ranges, each handler's catch-all
// flag and pair count, and debug-info bytes. Field lists and handler
// type/address pairs are not compared. Data items are reached through
// the indices above, so reordering the underlying slices does not itself
// count as a mismatch.
func Verify(want, got *IR) *VerificationMismatch {
	if m := verifyIdTables(want, got); m != nil {
		return m
	}
	if m := verifyClassDefs(want, got); m != nil {
		return m
	}
	return nil
}

func verifyIdTables(want, got *IR) *VerificationMismatch {
	if len(want.StringIds) != len(got.StringIds) {
		return mismatch("string_ids", "table", "size", "want %d, got %d", len(want.StringIds), len(got.StringIds))
	}
	for i := range want.StringIds {
		wd := want.StringDatas[want.StringIds[i].DataIdx].Data
		gd := got.StringDatas[got.StringIds[i].DataIdx].Data
		if string(wd) != string(gd) {
			return mismatch("string_ids", fmt.Sprintf("index %d", i), "data", "want %q, got %q", wd, gd)
		}
	}
	if len(want.TypeIds) != len(got.TypeIds) {
		return mismatch("type_ids", "table", "size", "want %d, got %d", len(want.TypeIds), len(got.TypeIds))
	}
	for i := range want.TypeIds {
		if err := compareStringRef(want, got, want.TypeIds[i].DescriptorIdx, got.TypeIds[i].DescriptorIdx); err != nil {
			return mismatch("type_ids", fmt.Sprintf("index %d", i), "descriptor_idx", err.Error())
		}
	}
	if len(want.ProtoIds) != len(got.ProtoIds) {
		return mismatch("proto_ids", "table", "size", "want %d, got %d", len(want.ProtoIds), len(got.ProtoIds))
	}
	for i := range want.ProtoIds {
		w, g := want.ProtoIds[i], got.ProtoIds[i]
		if (w.ParametersIdx < 0) != (g.ParametersIdx < 0) {
			return mismatch("proto_ids", fmt.Sprintf("index %d", i), "parameters", "presence differs")
		}
		if w.ParametersIdx >= 0 {
			wt := want.TypeLists[w.ParametersIdx].TypeIdxs
			gt := got.TypeLists[g.ParametersIdx].TypeIdxs
			if len(wt) != len(gt) {
				return mismatch("proto_ids", fmt.Sprintf("index %d", i), "parameters", "length differs")
			}
			for j := range wt {
				if wt[j] != gt[j] {
					return mismatch("proto_ids", fmt.Sprintf("index %d", i), "parameters", "type index %d differs at %d", wt[j], j)
				}
			}
		}
	}
	if len(want.FieldIds) != len(got.FieldIds) {
		return mismatch("field_ids", "table", "size", "want %d, got %d", len(want.FieldIds), len(got.FieldIds))
	}
	for i := range want.FieldIds {
		w, g := want.FieldIds[i], got.FieldIds[i]
		if w.ClassIdx != g.ClassIdx || w.TypeIdx != g.TypeIdx {
			return mismatch("field_ids", fmt.Sprintf("index %d", i), "class/type", "differs")
		}
	}
	if len(want.MethodIds) != len(got.MethodIds) {
		return mismatch("method_ids", "table", "size", "want %d, got %d", len(want.MethodIds), len(got.MethodIds))
	}
	for i := range want.MethodIds {
		w, g := want.MethodIds[i], got.MethodIds[i]
		if w.ClassIdx != g.ClassIdx || w.ProtoIdx != g.ProtoIdx {
			return mismatch("method_ids", fmt.Sprintf("index %d", i), "class/proto", "differs")
		}
	}
	return nil
}

func compareStringRef(want, got *IR, wantStringIdIdx, gotStringIdIdx int) error {
	ws := want.StringDatas[want.StringIds[wantStringIdIdx].DataIdx].Data
	gs := got.StringDatas[got.StringIds[gotStringIdIdx].DataIdx].Data
	if string(ws) != string(gs) {
		return fmt.Errorf("want %q, got %q", ws, gs)
	}
	return nil
}

// verifyClassDefs compares class-defs as an unordered set keyed by the
// class's own TypeId descriptor (a layout-invariant identity), since
// Layout is free to reorder ClassDefs (spec.md §4.H, §4.I).
func verifyClassDefs(want, got *IR) *VerificationMismatch {
	if len(want.ClassDefs) != len(got.ClassDefs) {
		return mismatch("class_defs", "table", "size", "want %d, got %d", len(want.ClassDefs), len(got.ClassDefs))
	}
	gotByDesc := map[string]*ClassDef{}
	for i := range got.ClassDefs {
		cd := &got.ClassDefs[i]
		desc := classDescriptorOf(got, cd.ClassIdx)
		gotByDesc[desc] = cd
	}
	for i := range want.ClassDefs {
		wcd := &want.ClassDefs[i]
		desc := classDescriptorOf(want, wcd.ClassIdx)
		gcd, ok := gotByDesc[desc]
		if !ok {
			return mismatch("class_defs", desc, "presence", "missing from got")
		}
		if wcd.AccessFlags != gcd.AccessFlags {
			return mismatch("class_defs", desc, "access_flags", "want %#x, got %#x", wcd.AccessFlags, gcd.AccessFlags)
		}
		if (wcd.ClassDataIdx < 0) != (gcd.ClassDataIdx < 0) {
			return mismatch("class_defs", desc, "class_data", "presence differs")
		}
		if wcd.ClassDataIdx >= 0 {
			if m := verifyClassData(want, got, &want.ClassDatas[wcd.ClassDataIdx], &got.ClassDatas[gcd.ClassDataIdx], desc); m != nil {
				return m
			}
		}
	}
	return nil
}

func classDescriptorOf(ir *IR, classIdx int) string {
	ti := ir.TypeIds[classIdx]
	return string(ir.StringDatas[ir.StringIds[ti.DescriptorIdx].DataIdx].Data)
}

func verifyClassData(want, got *IR, w, g *ClassData, locator string) *VerificationMismatch {
	if len(w.DirectMethods) != len(g.DirectMethods) || len(w.VirtualMethods) != len(g.VirtualMethods) {
		return mismatch("class_data", locator, "method_count", "differs")
	}
	for i := range w.DirectMethods {
		if m := verifyMethod(want, got, w.DirectMethods[i], g.DirectMethods[i], locator); m != nil {
			return m
		}
	}
	for i := range w.VirtualMethods {
		if m := verifyMethod(want, got, w.VirtualMethods[i], g.VirtualMethods[i], locator); m != nil {
			return m
		}
	}
	return nil
}

func verifyMethod(want, got *IR, w, g EncodedMethod, locator string) *VerificationMismatch {
	if w.AccessFlags != g.AccessFlags {
		return mismatch("encoded_method", locator, "access_flags", "differs")
	}
	if (w.CodeIdx < 0) != (g.CodeIdx < 0) {
		return mismatch("encoded_method", locator, "code", "presence differs")
	}
	if w.CodeIdx < 0 {
		return nil
	}
	wc, gc := &want.CodeItems[w.CodeIdx], &got.CodeItems[g.CodeIdx]
	if wc.RegistersSize != gc.RegistersSize || wc.InsSize != gc.InsSize || wc.OutsSize != gc.OutsSize {
		return mismatch("code_item", locator, "regs/ins/outs", "differs")
	}
	if len(wc.Insns) != len(gc.Insns) {
		return mismatch("code_item", locator, "insns", "length differs")
	}
	for i := range wc.Insns {
		if wc.Insns[i] != gc.Insns[i] {
			return mismatch("code_item", locator, "insns", "unit %d differs", i)
		}
	}
	if len(wc.Tries) != len(gc.Tries) {
		return mismatch("code_item", locator, "tries", "count differs")
	}
	for i := range wc.Tries {
		if wc.Tries[i].StartAddr != gc.Tries[i].StartAddr || wc.Tries[i].InsnCount != gc.Tries[i].InsnCount {
			return mismatch("code_item", locator, "tries", "entry %d differs", i)
		}
		wh, gh := wc.Handlers[wc.Tries[i].HandlerIdx], gc.Handlers[gc.Tries[i].HandlerIdx]
		if wh.HasCatchAll != gh.HasCatchAll || len(wh.Pairs) != len(gh.Pairs) {
			return mismatch("code_item", locator, "handler", "entry %d differs", i)
		}
	}
	if (wc.DebugInfoIdx < 0) != (gc.DebugInfoIdx < 0) {
		return mismatch("code_item", locator, "debug_info", "presence differs")
	}
	if wc.DebugInfoIdx >= 0 {
		wd := want.DebugInfos[wc.DebugInfoIdx].Data
		gd := got.DebugInfos[gc.DebugInfoIdx].Data
		if len(wd) != len(gd) {
			return mismatch("debug_info", locator, "length", "differs")
		}
		for i := range wd {
			if wd[i] != gd[i] {
				return mismatch("debug_info", locator, "byte", "offset %d differs", i)
			}
		}
	}
	return nil
}
