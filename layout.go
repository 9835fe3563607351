// Copyright 2024 The dexlayout Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

package dex

import (
	"golang.org/x/exp/slices"

	"github.com/dexlayout/dexlayout/log"
)

// Layout reorders ir's string, class, and code-item collections in place
// according to profile, per spec.md §4.H. It does not assign offsets;
// call a writer afterward to emit the reordered IR. Reordering ClassDefs
// renumbers each class-def's Index to its new position (invariant 1); the
// other id tables keep their order.
func Layout(ir *IR, fileID string, profile ProfileQuery, opts *LayoutOptions) error {
	if opts == nil {
		d := DefaultLayoutOptions()
		opts = &d
	}
	if profile == nil {
		profile = EmptyProfile{}
	}
	l := opts.logger().With("phase", "layout", "file", fileID)

	p := &planner{ir: ir, fileID: fileID, profile: profile, log: l}
	p.layoutStrings()
	p.layoutClasses()
	p.layoutCodeItems()
	l.Debugf("layout complete")
	return nil
}

type planner struct {
	ir      *IR
	fileID  string
	profile ProfileQuery
	log     *log.Helper

	methodCodeIdx     map[int]int
	methodAccessFlags map[int]uint32
	stringIdsByData   map[int][]int
}

// codeCategory is the code-item placement bucket, totally ordered as
// declared (spec.md §6): Unused < SometimesUsed < UsedOnce < StartupOnly
// < Hot. It is derived per method from a Hotness plus the structural
// clinit/profile-membership predicates below, then max-ordered across
// every method that shares a CodeItem (spec.md §4.H "multiply-referenced
// code items take the hottest category among their referencing
// methods"). Sorting ascending by this value places Hot code items at
// the highest offsets.
type codeCategory int

const (
	catUnused codeCategory = iota
	catSometimesUsed
	catUsedOnce
	catStartupOnly
	catHot
)

// isClinit reports whether mi (a method_ids index) is a static
// constructor (<clinit>), using the IsStaticConstructor access-flag
// predicate (ir.go).
func (p *planner) isClinit(mi int) bool {
	return IsStaticConstructor(p.methodAccessFlags[mi])
}

// methodCategory derives mi's codeCategory from its profile hotness plus
// the clinit/profile-membership structure spec.md §4.H requires:
//   - Hot profile hotness is always catHot.
//   - Startup profile hotness is catStartupOnly directly.
//   - a clinit of a class present in the profile folds into catStartupOnly
//     even without its own profile hotness entry, since it necessarily
//     runs at class-init (startup) time.
//   - any other clinit, reached only to initialize its class, is
//     catUsedOnce.
//   - InProfile hotness, or a bare MethodInProfile hit with no recorded
//     hotness, is catSometimesUsed.
//   - anything else is catUnused.
func (p *planner) methodCategory(mi int) codeCategory {
	h := p.profile.MethodHotness(p.fileID, uint32(mi))
	switch {
	case h.IsHot():
		return catHot
	case h == Startup:
		return catStartupOnly
	}
	if p.isClinit(mi) {
		classIdx := p.ir.MethodIds[mi].ClassIdx
		if p.profile.ClassInProfile(p.fileID, uint32(classIdx)) {
			return catStartupOnly
		}
		return catUsedOnce
	}
	if h == InProfile || p.profile.MethodInProfile(p.fileID, uint32(mi)) {
		return catSometimesUsed
	}
	return catUnused
}

func (p *planner) codeItemForMethod(methodIdx int) *CodeItem {
	ci, ok := p.methodCodeIdx[methodIdx]
	if !ok {
		return nil
	}
	return &p.ir.CodeItems[ci]
}

// stringGroup is the string-data reachability group spec.md §4.H's string
// hotness partition defines, ascending in the order listed there: default,
// then shortys of hot methods, then hot (and clinit-reached) bytecode
// constant-pool strings, then profile classes' own descriptor strings.
// Sorting ascending by this value places the last group's strings at the
// highest offsets.
type stringGroup int

const (
	groupDefault stringGroup = iota
	groupShorty
	groupBytecode
	groupDescriptor
)

// computeStringGroups returns, for every string_ids index a method's
// bytecode or a profile class's descriptor references, the group that
// reference belongs to (spec.md §4.H groups 2-4). A string_ids index
// absent from the result is group 1 (groupDefault).
func (p *planner) computeStringGroups() map[int]stringGroup {
	groups := map[int]stringGroup{}
	add := func(sIdx int, g stringGroup) {
		if g > groups[sIdx] {
			groups[sIdx] = g
		}
	}

	for mi := range p.ir.MethodIds {
		ci := p.codeItemForMethod(mi)
		if ci == nil {
			continue
		}
		cat := p.methodCategory(mi)
		clinit := p.isClinit(mi)
		if cat != catHot && !clinit {
			continue
		}
		if cat == catHot {
			proto := p.ir.ProtoIds[p.ir.MethodIds[mi].ProtoIdx]
			add(proto.ShortyIdx, groupShorty)
		}
		for sIdx := range ci.Fixups.Strings {
			add(sIdx, groupBytecode)
		}
		for tIdx := range ci.Fixups.Types {
			add(p.ir.TypeIds[tIdx].DescriptorIdx, groupBytecode)
		}
		for fIdx := range ci.Fixups.Fields {
			fid := p.ir.FieldIds[fIdx]
			add(fid.NameIdx, groupBytecode)
			add(p.ir.TypeIds[fid.TypeIdx].DescriptorIdx, groupBytecode)
		}
		for calleeIdx := range ci.Fixups.Methods {
			add(p.ir.MethodIds[calleeIdx].NameIdx, groupBytecode)
		}
	}

	for _, cd := range p.ir.ClassDefs {
		if !p.profile.ClassInProfile(p.fileID, uint32(cd.ClassIdx)) {
			continue
		}
		add(p.ir.TypeIds[cd.ClassIdx].DescriptorIdx, groupDescriptor)
		if cd.SuperclassIdx >= 0 {
			add(p.ir.TypeIds[cd.SuperclassIdx].DescriptorIdx, groupDescriptor)
		}
		if cd.InterfacesIdx >= 0 {
			for _, tIdx := range p.ir.TypeLists[cd.InterfacesIdx].TypeIdxs {
				add(p.ir.TypeIds[tIdx].DescriptorIdx, groupDescriptor)
			}
		}
	}
	return groups
}

// dataGroups returns the hottest group among every StringId that shares
// StringData entry dataIdx (string-data may be referenced by more than
// one string-id prior to any dedup pass).
func (p *planner) dataGroups(groups map[int]stringGroup, dataIdx int) stringGroup {
	best := groupDefault
	for _, sidIdx := range p.stringIdsByData[dataIdx] {
		if g := groups[sidIdx]; g > best {
			best = g
		}
	}
	return best
}

// layoutStrings stably reorders StringDatas into the four groups
// computeStringGroups assigns. The reorder only changes StringData slice
// order; StringId entries keep referencing their StringData by index and
// are fixed up afterward so their DataIdx values still point at the
// right (moved) entry.
func (p *planner) layoutStrings() {
	p.indexMethodCode()
	n := len(p.ir.StringDatas)
	if n == 0 {
		return
	}
	p.stringIdsByData = map[int][]int{}
	for i, sid := range p.ir.StringIds {
		p.stringIdsByData[sid.DataIdx] = append(p.stringIdsByData[sid.DataIdx], i)
	}
	groups := p.computeStringGroups()

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	groupOf := make([]stringGroup, n)
	for sIdx := range p.ir.StringDatas {
		groupOf[sIdx] = p.dataGroups(groups, sIdx)
	}
	slices.SortStableFunc(order, func(a, b int) bool {
		return groupOf[a] < groupOf[b]
	})
	p.ir.StringDatas = permuteStringData(p.ir.StringDatas, order)

	newIdx := make([]int, n)
	for newPos, oldPos := range order {
		newIdx[oldPos] = newPos
	}
	for i := range p.ir.StringIds {
		p.ir.StringIds[i].DataIdx = newIdx[p.ir.StringIds[i].DataIdx]
	}
}

func permuteStringData(data []StringData, order []int) []StringData {
	out := make([]StringData, len(data))
	for newPos, oldPos := range order {
		out[newPos] = data[oldPos]
	}
	return out
}

// layoutClasses moves profile classes to the front of ClassDefs,
// preserving relative order within each partition (spec.md §4.H
// "class-def reordering"), and sets each class-def's Index to its new
// slice position. ClassDatas are not reordered.
func (p *planner) layoutClasses() {
	n := len(p.ir.ClassDefs)
	if n == 0 {
		return
	}
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	inProfile := make([]bool, n)
	for i, cd := range p.ir.ClassDefs {
		inProfile[i] = p.profile.ClassInProfile(p.fileID, uint32(cd.ClassIdx))
	}
	slices.SortStableFunc(order, func(a, b int) bool {
		ai, bi := inProfile[a], inProfile[b]
		if ai != bi {
			return ai // profile classes sort first
		}
		return false // preserve relative order otherwise
	})
	newDefs := make([]ClassDef, n)
	for newPos, oldPos := range order {
		cd := p.ir.ClassDefs[oldPos]
		cd.Index = uint32(newPos)
		newDefs[newPos] = cd
	}
	p.ir.ClassDefs = newDefs
}

// layoutCodeItems reorders CodeItems ascending by the hottest
// codeCategory among their referencing methods (spec.md §4.H), then
// remaps every ClassData method's CodeIdx to follow.
func (p *planner) layoutCodeItems() {
	n := len(p.ir.CodeItems)
	if n == 0 {
		return
	}
	p.indexMethodCode()
	categoryOf := make([]codeCategory, n)
	for mi := range p.ir.MethodIds {
		ciIdx, ok := p.methodCodeIdx[mi]
		if !ok {
			continue
		}
		if cat := p.methodCategory(mi); cat > categoryOf[ciIdx] {
			categoryOf[ciIdx] = cat
		}
	}
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) bool {
		return categoryOf[a] < categoryOf[b]
	})
	newItems := make([]CodeItem, n)
	newIdx := make([]int, n)
	for newPos, oldPos := range order {
		newItems[newPos] = p.ir.CodeItems[oldPos]
		newIdx[oldPos] = newPos
	}
	p.ir.CodeItems = newItems
	for ci := range p.ir.ClassDatas {
		cd := &p.ir.ClassDatas[ci]
		remapMethodCode(cd.DirectMethods, newIdx)
		remapMethodCode(cd.VirtualMethods, newIdx)
	}
}

func remapMethodCode(methods []EncodedMethod, newIdx []int) {
	for i := range methods {
		if methods[i].CodeIdx >= 0 {
			methods[i].CodeIdx = newIdx[methods[i].CodeIdx]
		}
	}
}

// indexMethodCode lazily builds the method-index -> code-item-index map
// and method-index -> access-flags map layoutStrings/layoutCodeItems
// both need, from the class-data method lists (the only place that
// association is recorded).
func (p *planner) indexMethodCode() {
	if p.methodCodeIdx != nil {
		return
	}
	p.methodCodeIdx = map[int]int{}
	p.methodAccessFlags = map[int]uint32{}
	for _, cd := range p.ir.ClassDatas {
		indexOne := func(methods []EncodedMethod) {
			for _, m := range methods {
				p.methodAccessFlags[m.MethodIdx] = m.AccessFlags
				if m.CodeIdx >= 0 {
					p.methodCodeIdx[m.MethodIdx] = m.CodeIdx
				}
			}
		}
		indexOne(cd.DirectMethods)
		indexOne(cd.VirtualMethods)
	}
}
