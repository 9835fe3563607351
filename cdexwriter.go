// Copyright 2024 The dexlayout Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

package dex

import (
	"hash/adler32"

	"github.com/dexlayout/dexlayout/log"
)

// CanGenerateCompact reports whether ir can be emitted as CDEX: every
// method-id referenced by more than one class-data entry must agree on
// both its code-item and debug-info-item identity (spec.md §4.G
// precondition). It is cheap to call speculatively before WriteCompactDex.
func CanGenerateCompact(ir *IR) error {
	seen := map[int][2]int{} // method idx -> (codeIdx, debugIdx)
	check := func(methods []EncodedMethod) error {
		for _, m := range methods {
			debugIdx := -1
			if m.CodeIdx >= 0 {
				debugIdx = ir.CodeItems[m.CodeIdx].DebugInfoIdx
			}
			key := [2]int{m.CodeIdx, debugIdx}
			if prior, ok := seen[m.MethodIdx]; ok {
				if prior != key {
					return ErrInconsistentMethodCode
				}
				continue
			}
			seen[m.MethodIdx] = key
		}
		return nil
	}
	for _, cd := range ir.ClassDatas {
		if err := check(cd.DirectMethods); err != nil {
			return err
		}
		if err := check(cd.VirtualMethods); err != nil {
			return err
		}
	}
	return nil
}

// WriteCompactDex emits ir as a compact DEX file (Component G). Callers
// must first confirm CanGenerateCompact(ir) == nil; WriteCompactDex
// itself re-checks and returns the same error rather than emitting
// inconsistent output.
func WriteCompactDex(ir *IR, opts *LayoutOptions) ([]byte, error) {
	if opts == nil {
		d := DefaultLayoutOptions()
		opts = &d
	}
	if err := CanGenerateCompact(ir); err != nil {
		return nil, err
	}
	l := opts.logger().With("phase", "write", "format", "cdex")
	w := &cdexWriter{
		ir:             ir,
		c:              NewContainer(),
		log:            l,
		dedupe:         opts.DedupeCodeItems,
		debugBlockSize: opts.debugOffsetTableBlockSize(),
	}
	w.main = NewStream(w.c, MainSection)
	w.data = NewStream(w.c, DataSection)
	if err := w.emit(); err != nil {
		return nil, err
	}
	out := mergeSections(w.c, w.mainLen, w.dataLen)
	if opts.UpdateChecksum {
		stampCdexChecksum(out)
	}
	if opts.VerifyOutput {
		got, err := Build(out, nil)
		if err != nil {
			return nil, err
		}
		if m := Verify(ir, got); m != nil {
			return nil, m
		}
	}
	l.Debugf("wrote %d main + %d data bytes", w.mainLen, w.dataLen)
	return out, nil
}

type cdexWriter struct {
	ir     *IR
	c      *Container
	main   *Stream
	data   *Stream
	log    *log.Helper
	dedupe bool

	debugBlockSize int

	mainLen, dataLen uint32

	stringDedup *Deduper
	debugDedup  *Deduper
	codeDedup   *Deduper
}

// mergeSections concatenates the main and data sections of a Container
// into one CDEX byte buffer, with the data section immediately following
// the main section (spec.md §4.G "owned data range").
func mergeSections(c *Container, mainLen, dataLen uint32) []byte {
	out := make([]byte, mainLen+dataLen)
	copy(out, c.Main.Bytes()[:mainLen])
	copy(out[mainLen:], c.Data.Bytes()[:dataLen])
	return out
}

const cdexHeaderSize = StandardHeaderSize + 24

// computeMainLen returns the total byte length of the main section (header
// plus every id table plus the map list plus link data) purely from
// collection lengths, with no dependency on item content. Every table
// entry size is a multiple of 4 and cdexHeaderSize is itself a multiple
// of 4, so the main section never needs interior alignment padding; this
// lets the data section's absolute file offsets be known before a single
// data byte is written, instead of requiring a second rebasing pass.
func computeMainLen(ir *IR) uint32 {
	n := uint32(cdexHeaderSize)
	n += 4 * uint32(len(ir.StringIds))
	n += 4 * uint32(len(ir.TypeIds))
	n += 12 * uint32(len(ir.ProtoIds))
	n += 8 * uint32(len(ir.FieldIds))
	n += 8 * uint32(len(ir.MethodIds))
	if len(ir.ClassDefs) > 0 {
		n += 32 * uint32(len(ir.ClassDefs))
	}
	if len(ir.CallSiteIds) > 0 {
		n += 4 * uint32(len(ir.CallSiteIds))
	}
	if len(ir.MethodHandles) > 0 {
		n += 8 * uint32(len(ir.MethodHandles))
	}
	items := uint32(2) // header_item + map_list, always present
	for _, nonEmpty := range []bool{
		len(ir.StringIds) > 0, len(ir.TypeIds) > 0, len(ir.ProtoIds) > 0,
		len(ir.FieldIds) > 0, len(ir.MethodIds) > 0, len(ir.ClassDefs) > 0,
		len(ir.CallSiteIds) > 0, len(ir.MethodHandles) > 0,
	} {
		if nonEmpty {
			items++
		}
	}
	n += 4 + 12*items
	n += uint32(len(ir.Header.LinkData))
	return n
}

func (w *cdexWriter) emit() error {
	w.mainLen = computeMainLen(w.ir)
	if err := w.main.Skip(cdexHeaderSize); err != nil {
		return err
	}

	w.stringDedup = NewDeduper(w.c.section(DataSection), w.dedupe)
	w.debugDedup = NewDeduper(w.c.section(DataSection), w.dedupe)
	w.codeDedup = NewDeduper(w.c.section(DataSection), w.dedupe)

	ownedDataBegin := w.mainLen + w.data.Tell()

	if err := w.writeStringDataDeduped(); err != nil {
		return err
	}
	if err := w.writeTypeListsData(); err != nil {
		return err
	}
	debugBase, debugTableOff, err := w.writeDebugInfosDeduped()
	if err != nil {
		return err
	}
	if err := w.writeCodeItemsDeduped(); err != nil {
		return err
	}
	if err := w.writeEncodedArraysData(); err != nil {
		return err
	}
	if err := w.writeAnnotationsData(); err != nil {
		return err
	}
	if err := w.writeAnnotationSetsData(); err != nil {
		return err
	}
	if err := w.writeAnnotationSetRefListsData(); err != nil {
		return err
	}
	if err := w.writeAnnotationsDirectoriesData(); err != nil {
		return err
	}
	if err := w.writeClassDatasData(); err != nil {
		return err
	}

	ownedDataEnd := w.mainLen + w.data.Tell()
	w.dataLen = w.data.Tell()

	stringIdsOff, err := w.writeStringIdsMain()
	if err != nil {
		return err
	}
	typeIdsOff, err := w.writeTypeIdsMain()
	if err != nil {
		return err
	}
	protoIdsOff, err := w.writeProtoIdsMain()
	if err != nil {
		return err
	}
	fieldIdsOff, err := w.writeFieldIdsMain()
	if err != nil {
		return err
	}
	methodIdsOff, err := w.writeMethodIdsMain()
	if err != nil {
		return err
	}
	classDefsOff, err := w.writeClassDefsMain()
	if err != nil {
		return err
	}
	callSiteOff, err := w.writeCallSiteIdsMain()
	if err != nil {
		return err
	}
	methodHandleOff, err := w.writeMethodHandlesMain()
	if err != nil {
		return err
	}

	mapOff, err := w.writeMapListMain(stringIdsOff, typeIdsOff, protoIdsOff, fieldIdsOff, methodIdsOff,
		classDefsOff, callSiteOff, methodHandleOff)
	if err != nil {
		return err
	}

	linkOff, linkSize := uint32(0), uint32(len(w.ir.Header.LinkData))
	if linkSize > 0 {
		linkOff = w.main.Tell()
		if err := w.main.Write(w.ir.Header.LinkData); err != nil {
			return err
		}
	}

	fileSize := w.mainLen + w.dataLen

	return w.commitHeader(fileSize, mapOff, linkOff, linkSize,
		stringIdsOff, typeIdsOff, protoIdsOff, fieldIdsOff, methodIdsOff, classDefsOff,
		ownedDataBegin, ownedDataEnd, debugBase, debugTableOff)
}

func (w *cdexWriter) writeStringDataDeduped() error {
	for i := range w.ir.StringDatas {
		sd := &w.ir.StringDatas[i]
		if err := w.data.AlignTo(alignStringData); err != nil {
			return err
		}
		start := w.data.Tell()
		n := CountModifiedUTF8Chars(sd.Data)
		buf := AppendULEB128(nil, uint32(n))
		buf = append(append(buf, sd.Data...), 0)
		if err := w.data.Write(buf); err != nil {
			return err
		}
		end := w.data.Tell()
		if prior := w.stringDedup.Dedupe(start, end); prior != NotDeduped {
			if err := w.data.Clear(start, end-start); err != nil {
				return err
			}
			w.data.Seek(start)
			sd.Offset, sd.Size = prior+w.mainLen, end-start
			continue
		}
		sd.Offset, sd.Size = start+w.mainLen, end-start
	}
	return nil
}

func (w *cdexWriter) writeTypeListsData() error {
	for i := range w.ir.TypeLists {
		tl := &w.ir.TypeLists[i]
		if len(tl.TypeIdxs) == 0 {
			continue
		}
		if err := w.data.AlignTo(alignTypeList); err != nil {
			return err
		}
		start := w.data.Tell()
		buf := PutUint32LE(nil, uint32(len(tl.TypeIdxs)))
		for _, ti := range tl.TypeIdxs {
			buf = PutUint16LE(buf, uint16(ti))
		}
		if err := w.data.Write(buf); err != nil {
			return err
		}
		tl.Offset, tl.Size = start+w.mainLen, w.data.Tell()-start
	}
	return nil
}

// writeDebugInfosDeduped writes every unique DebugInfoItem once, then
// builds the block-indexed, bit-packed debug-info offset table
// (offsettable.go's buildDebugOffsetTable, spec.md §4.G "compact
// offset-table builder... with configurable block size"). It returns the
// absolute file offset the table's entries are relative to (the header's
// debug_info_base) and the absolute file offset of the table itself (the
// header's debug_info_offsets_pos), since those values are embedded
// verbatim into the CDEX header.
func (w *cdexWriter) writeDebugInfosDeduped() (base uint32, tableOff uint32, err error) {
	for i := range w.ir.DebugInfos {
		di := &w.ir.DebugInfos[i]
		start := w.data.Tell()
		if err := w.data.Write(di.Data); err != nil {
			return 0, 0, err
		}
		end := w.data.Tell()
		if prior := w.debugDedup.Dedupe(start, end); prior != NotDeduped {
			if err := w.data.Clear(start, end-start); err != nil {
				return 0, 0, err
			}
			w.data.Seek(start)
			di.Offset, di.Size = prior+w.mainLen, end-start
			continue
		}
		di.Offset, di.Size = start+w.mainLen, end-start
	}

	offsets := make([]uint32, len(w.ir.MethodIds))
	assign := func(methods []EncodedMethod) {
		for _, m := range methods {
			if m.CodeIdx < 0 {
				continue
			}
			debugIdx := w.ir.CodeItems[m.CodeIdx].DebugInfoIdx
			if debugIdx < 0 {
				continue
			}
			offsets[m.MethodIdx] = w.ir.DebugInfos[debugIdx].Offset
		}
	}
	for _, cd := range w.ir.ClassDatas {
		assign(cd.DirectMethods)
		assign(cd.VirtualMethods)
	}

	if err := w.data.AlignTo(alignDebugOffsetTable); err != nil {
		return 0, 0, err
	}
	blob, tableBase := buildDebugOffsetTable(offsets, w.debugBlockSize)
	relTableOff := w.data.Tell()
	if err := w.data.Write(blob); err != nil {
		return 0, 0, err
	}
	return tableBase, relTableOff + w.mainLen, nil
}

func (w *cdexWriter) writeCodeItemsDeduped() error {
	for i := range w.ir.CodeItems {
		ci := &w.ir.CodeItems[i]
		if err := w.data.AlignTo(alignCodeItem); err != nil {
			return err
		}
		start := w.data.Tell()
		buf := encodeCodeItemBody(ci)
		if err := w.data.Write(buf); err != nil {
			return err
		}
		end := w.data.Tell()
		if prior := w.codeDedup.Dedupe(start, end); prior != NotDeduped && prior%alignCodeItem == 0 {
			if err := w.data.Clear(start, end-start); err != nil {
				return err
			}
			w.data.Seek(start)
			ci.Offset, ci.Size = prior+w.mainLen, end-start
			continue
		}
		ci.Offset, ci.Size = start+w.mainLen, end-start
	}
	return nil
}

// encodeCodeItemBody serializes a CodeItem's header, instructions, and
// exception table the same way writer.go's writeCodeItems does, minus
// the debug_info_off field (CDEX code items carry no per-item debug
// offset; it is looked up via the offsets table instead, spec.md §4.G).
func encodeCodeItemBody(ci *CodeItem) []byte {
	var buf []byte
	buf = PutUint16LE(buf, ci.RegistersSize)
	buf = PutUint16LE(buf, ci.InsSize)
	buf = PutUint16LE(buf, ci.OutsSize)
	buf = PutUint16LE(buf, ci.TriesSize())
	buf = PutUint32LE(buf, ci.InsnsSizeCodeUnits())
	for _, u := range ci.Insns {
		buf = PutUint16LE(buf, u)
	}
	if len(ci.Tries) > 0 {
		if len(ci.Insns)%2 != 0 {
			buf = PutUint16LE(buf, 0)
		}
		var handlerBuf []byte
		handlerBuf = AppendULEB128(handlerBuf, uint32(len(ci.Handlers)))
		handlerOffsets := make([]int, len(ci.Handlers))
		for hi, h := range ci.Handlers {
			handlerOffsets[hi] = len(handlerBuf)
			size := int32(len(h.Pairs))
			if h.HasCatchAll {
				size = -size
			}
			handlerBuf = AppendSLEB128(handlerBuf, size)
			for _, p := range h.Pairs {
				handlerBuf = AppendULEB128(handlerBuf, uint32(p.TypeIdx))
				handlerBuf = AppendULEB128(handlerBuf, p.Addr)
			}
			if h.HasCatchAll {
				handlerBuf = AppendULEB128(handlerBuf, h.CatchAllAddr)
			}
		}
		for _, t := range ci.Tries {
			buf = PutUint32LE(buf, t.StartAddr)
			buf = PutUint16LE(buf, t.InsnCount)
			buf = PutUint16LE(buf, uint16(handlerOffsets[t.HandlerIdx]))
		}
		buf = append(buf, handlerBuf...)
	}
	return buf
}

func (w *cdexWriter) writeEncodedArraysData() error {
	for i := range w.ir.EncodedArrays {
		ea := &w.ir.EncodedArrays[i]
		start := w.data.Tell()
		buf := AppendULEB128(nil, uint32(len(ea.Values)))
		for _, v := range ea.Values {
			buf = appendEncodedValue(buf, v)
		}
		if err := w.data.Write(buf); err != nil {
			return err
		}
		ea.Offset, ea.Size = start+w.mainLen, w.data.Tell()-start
	}
	return nil
}

func (w *cdexWriter) writeAnnotationsData() error {
	for i := range w.ir.Annotations {
		a := &w.ir.Annotations[i]
		start := w.data.Tell()
		buf := []byte{a.Visibility}
		buf = appendEncodedAnnotation(buf, a.Annotation)
		if err := w.data.Write(buf); err != nil {
			return err
		}
		a.Offset, a.Size = start+w.mainLen, w.data.Tell()-start
	}
	return nil
}

func (w *cdexWriter) writeAnnotationSetsData() error {
	for i := range w.ir.AnnotationSets {
		as := &w.ir.AnnotationSets[i]
		if err := w.data.AlignTo(alignAnnoSet); err != nil {
			return err
		}
		start := w.data.Tell()
		buf := PutUint32LE(nil, uint32(len(as.AnnotationIdxs)))
		for _, ai := range as.AnnotationIdxs {
			buf = PutUint32LE(buf, w.ir.Annotations[ai].Offset)
		}
		if err := w.data.Write(buf); err != nil {
			return err
		}
		as.Offset, as.Size = start+w.mainLen, w.data.Tell()-start
	}
	return nil
}

func (w *cdexWriter) writeAnnotationSetRefListsData() error {
	for i := range w.ir.AnnotationSetRefLists {
		rl := &w.ir.AnnotationSetRefLists[i]
		if err := w.data.AlignTo(alignAnnoRef); err != nil {
			return err
		}
		start := w.data.Tell()
		buf := PutUint32LE(nil, uint32(len(rl.SetIdxs)))
		for _, si := range rl.SetIdxs {
			off := uint32(0)
			if si >= 0 {
				off = w.ir.AnnotationSets[si].Offset
			}
			buf = PutUint32LE(buf, off)
		}
		if err := w.data.Write(buf); err != nil {
			return err
		}
		rl.Offset, rl.Size = start+w.mainLen, w.data.Tell()-start
	}
	return nil
}

func (w *cdexWriter) writeAnnotationsDirectoriesData() error {
	for i := range w.ir.AnnotationsDirectories {
		ad := &w.ir.AnnotationsDirectories[i]
		if err := w.data.AlignTo(alignAnnoDir); err != nil {
			return err
		}
		start := w.data.Tell()
		classAnnoOff := uint32(0)
		if ad.ClassAnnotationIdx >= 0 {
			classAnnoOff = w.ir.AnnotationSets[ad.ClassAnnotationIdx].Offset
		}
		var buf []byte
		buf = PutUint32LE(buf, classAnnoOff)
		buf = PutUint32LE(buf, uint32(len(ad.FieldAnnotations)))
		buf = PutUint32LE(buf, uint32(len(ad.MethodAnnotations)))
		buf = PutUint32LE(buf, uint32(len(ad.ParamAnnotations)))
		for _, fa := range ad.FieldAnnotations {
			buf = PutUint32LE(buf, uint32(fa.FieldIdx))
			buf = PutUint32LE(buf, w.ir.AnnotationSets[fa.SetIdx].Offset)
		}
		for _, ma := range ad.MethodAnnotations {
			buf = PutUint32LE(buf, uint32(ma.MethodIdx))
			buf = PutUint32LE(buf, w.ir.AnnotationSets[ma.SetIdx].Offset)
		}
		for _, pa := range ad.ParamAnnotations {
			buf = PutUint32LE(buf, uint32(pa.MethodIdx))
			buf = PutUint32LE(buf, w.ir.AnnotationSetRefLists[pa.RefListIdx].Offset)
		}
		if err := w.data.Write(buf); err != nil {
			return err
		}
		ad.Offset, ad.Size = start+w.mainLen, w.data.Tell()-start
	}
	return nil
}

func (w *cdexWriter) writeClassDatasData() error {
	for i := range w.ir.ClassDatas {
		cd := &w.ir.ClassDatas[i]
		start := w.data.Tell()
		var buf []byte
		buf = AppendULEB128(buf, uint32(len(cd.StaticFields)))
		buf = AppendULEB128(buf, uint32(len(cd.InstanceFields)))
		buf = AppendULEB128(buf, uint32(len(cd.DirectMethods)))
		buf = AppendULEB128(buf, uint32(len(cd.VirtualMethods)))
		buf = appendFields(buf, cd.StaticFields)
		buf = appendFields(buf, cd.InstanceFields)
		buf = w.appendMethodsData(buf, cd.DirectMethods)
		buf = w.appendMethodsData(buf, cd.VirtualMethods)
		if err := w.data.Write(buf); err != nil {
			return err
		}
		cd.Offset, cd.Size = start+w.mainLen, w.data.Tell()-start
	}
	return nil
}

func (w *cdexWriter) appendMethodsData(buf []byte, methods []EncodedMethod) []byte {
	prev := 0
	for _, m := range methods {
		buf = AppendULEB128(buf, uint32(m.MethodIdx-prev))
		buf = AppendULEB128(buf, m.AccessFlags)
		codeOff := uint32(0)
		if m.CodeIdx >= 0 {
			codeOff = w.ir.CodeItems[m.CodeIdx].Offset
		}
		buf = AppendULEB128(buf, codeOff)
		prev = m.MethodIdx
	}
	return buf
}

func (w *cdexWriter) writeStringIdsMain() (uint32, error) {
	if err := w.main.AlignTo(alignIdTable); err != nil {
		return 0, err
	}
	off := w.main.Tell()
	for i := range w.ir.StringIds {
		si := &w.ir.StringIds[i]
		start := w.main.Tell()
		buf := PutUint32LE(nil, w.ir.StringDatas[si.DataIdx].Offset)
		if err := w.main.Write(buf); err != nil {
			return 0, err
		}
		si.Offset, si.Size = start, 4
	}
	return off, nil
}

func (w *cdexWriter) writeTypeIdsMain() (uint32, error) {
	if err := w.main.AlignTo(alignIdTable); err != nil {
		return 0, err
	}
	off := w.main.Tell()
	for i := range w.ir.TypeIds {
		ti := &w.ir.TypeIds[i]
		start := w.main.Tell()
		buf := PutUint32LE(nil, uint32(ti.DescriptorIdx))
		if err := w.main.Write(buf); err != nil {
			return 0, err
		}
		ti.Offset, ti.Size = start, 4
	}
	return off, nil
}

func (w *cdexWriter) writeProtoIdsMain() (uint32, error) {
	if err := w.main.AlignTo(alignIdTable); err != nil {
		return 0, err
	}
	off := w.main.Tell()
	for i := range w.ir.ProtoIds {
		pi := &w.ir.ProtoIds[i]
		start := w.main.Tell()
		paramsOff := uint32(0)
		if pi.ParametersIdx >= 0 {
			paramsOff = w.ir.TypeLists[pi.ParametersIdx].Offset
		}
		var buf []byte
		buf = PutUint32LE(buf, uint32(pi.ShortyIdx))
		buf = PutUint32LE(buf, uint32(pi.ReturnTypeIdx))
		buf = PutUint32LE(buf, paramsOff)
		if err := w.main.Write(buf); err != nil {
			return 0, err
		}
		pi.Offset, pi.Size = start, 12
	}
	return off, nil
}

func (w *cdexWriter) writeFieldIdsMain() (uint32, error) {
	if err := w.main.AlignTo(alignIdTable); err != nil {
		return 0, err
	}
	off := w.main.Tell()
	for i := range w.ir.FieldIds {
		fi := &w.ir.FieldIds[i]
		start := w.main.Tell()
		var buf []byte
		buf = PutUint16LE(buf, uint16(fi.ClassIdx))
		buf = PutUint16LE(buf, uint16(fi.TypeIdx))
		buf = PutUint32LE(buf, uint32(fi.NameIdx))
		if err := w.main.Write(buf); err != nil {
			return 0, err
		}
		fi.Offset, fi.Size = start, 8
	}
	return off, nil
}

func (w *cdexWriter) writeMethodIdsMain() (uint32, error) {
	if err := w.main.AlignTo(alignIdTable); err != nil {
		return 0, err
	}
	off := w.main.Tell()
	for i := range w.ir.MethodIds {
		mi := &w.ir.MethodIds[i]
		start := w.main.Tell()
		var buf []byte
		buf = PutUint16LE(buf, uint16(mi.ClassIdx))
		buf = PutUint16LE(buf, uint16(mi.ProtoIdx))
		buf = PutUint32LE(buf, uint32(mi.NameIdx))
		if err := w.main.Write(buf); err != nil {
			return 0, err
		}
		mi.Offset, mi.Size = start, 8
	}
	return off, nil
}

func (w *cdexWriter) writeClassDefsMain() (uint32, error) {
	if len(w.ir.ClassDefs) == 0 {
		return 0, nil
	}
	if err := w.main.AlignTo(alignIdTable); err != nil {
		return 0, err
	}
	off := w.main.Tell()
	for i := range w.ir.ClassDefs {
		cd := &w.ir.ClassDefs[i]
		start := w.main.Tell()
		ifacesOff, annoOff, classDataOff, staticOff := uint32(0), uint32(0), uint32(0), uint32(0)
		if cd.InterfacesIdx >= 0 {
			ifacesOff = w.ir.TypeLists[cd.InterfacesIdx].Offset
		}
		if cd.AnnotationsIdx >= 0 {
			annoOff = w.ir.AnnotationsDirectories[cd.AnnotationsIdx].Offset
		}
		if cd.ClassDataIdx >= 0 {
			classDataOff = w.ir.ClassDatas[cd.ClassDataIdx].Offset
		}
		if cd.StaticValuesIdx >= 0 {
			staticOff = w.ir.EncodedArrays[cd.StaticValuesIdx].Offset
		}
		var buf []byte
		buf = PutUint32LE(buf, uint32(cd.ClassIdx))
		buf = PutUint32LE(buf, cd.AccessFlags)
		buf = PutUint32LE(buf, u32OrNoIndex(cd.SuperclassIdx))
		buf = PutUint32LE(buf, ifacesOff)
		buf = PutUint32LE(buf, u32OrNoIndex(cd.SourceFileIdx))
		buf = PutUint32LE(buf, annoOff)
		buf = PutUint32LE(buf, classDataOff)
		buf = PutUint32LE(buf, staticOff)
		if err := w.main.Write(buf); err != nil {
			return 0, err
		}
		cd.Offset, cd.Size = start, 32
	}
	return off, nil
}

func (w *cdexWriter) writeCallSiteIdsMain() (uint32, error) {
	if len(w.ir.CallSiteIds) == 0 {
		return 0, nil
	}
	if err := w.main.AlignTo(alignIdTable); err != nil {
		return 0, err
	}
	off := w.main.Tell()
	for i := range w.ir.CallSiteIds {
		cs := &w.ir.CallSiteIds[i]
		start := w.main.Tell()
		buf := PutUint32LE(nil, w.ir.EncodedArrays[cs.EncodedArrayIdx].Offset)
		if err := w.main.Write(buf); err != nil {
			return 0, err
		}
		cs.Offset, cs.Size = start, 4
	}
	return off, nil
}

func (w *cdexWriter) writeMethodHandlesMain() (uint32, error) {
	if len(w.ir.MethodHandles) == 0 {
		return 0, nil
	}
	if err := w.main.AlignTo(alignIdTable); err != nil {
		return 0, err
	}
	off := w.main.Tell()
	for i := range w.ir.MethodHandles {
		mh := &w.ir.MethodHandles[i]
		start := w.main.Tell()
		var buf []byte
		buf = PutUint16LE(buf, mh.HandleType)
		buf = PutUint16LE(buf, 0)
		buf = PutUint16LE(buf, uint16(mh.FieldOrMIdx))
		buf = PutUint16LE(buf, 0)
		if err := w.main.Write(buf); err != nil {
			return 0, err
		}
		mh.Offset, mh.Size = start, 8
	}
	return off, nil
}

func (w *cdexWriter) writeMapListMain(stringIdsOff, typeIdsOff, protoIdsOff, fieldIdsOff, methodIdsOff,
	classDefsOff, callSiteOff, methodHandleOff uint32) (uint32, error) {
	if err := w.main.AlignTo(alignMapList); err != nil {
		return 0, err
	}
	off := w.main.Tell()
	var items []MapItem
	add := func(typ uint16, size uint32, offset uint32) {
		if size == 0 {
			return
		}
		items = append(items, MapItem{Type: typ, Size: size, Offset: offset})
	}
	add(typeHeaderItem, 1, 0)
	add(typeStringIdItem, uint32(len(w.ir.StringIds)), stringIdsOff)
	add(typeTypeIdItem, uint32(len(w.ir.TypeIds)), typeIdsOff)
	add(typeProtoIdItem, uint32(len(w.ir.ProtoIds)), protoIdsOff)
	add(typeFieldIdItem, uint32(len(w.ir.FieldIds)), fieldIdsOff)
	add(typeMethodIdItem, uint32(len(w.ir.MethodIds)), methodIdsOff)
	add(typeClassDefItem, uint32(len(w.ir.ClassDefs)), classDefsOff)
	add(typeCallSiteIdItem, uint32(len(w.ir.CallSiteIds)), callSiteOff)
	add(typeMethodHandleItem, uint32(len(w.ir.MethodHandles)), methodHandleOff)
	add(typeMapList, 1, off)

	var buf []byte
	buf = PutUint32LE(buf, uint32(len(items)))
	for _, it := range items {
		buf = PutUint16LE(buf, it.Type)
		buf = PutUint16LE(buf, 0)
		buf = PutUint32LE(buf, it.Size)
		buf = PutUint32LE(buf, it.Offset)
	}
	if err := w.main.Write(buf); err != nil {
		return 0, err
	}
	w.ir.Map = MapList{Item: Item{Offset: off, Size: w.main.Tell() - off}, Items: items}
	return off, nil
}

func (w *cdexWriter) commitHeader(fileSize, mapOff, linkOff, linkSize,
	stringIdsOff, typeIdsOff, protoIdsOff, fieldIdsOff, methodIdsOff, classDefsOff,
	ownedDataBegin, ownedDataEnd, debugBase, debugTableOff uint32) error {
	restore := w.main.ScopedSeek(0)
	defer restore()

	var buf []byte
	buf = append(buf, CdexMagic[:]...)
	buf = PutUint32LE(buf, w.ir.Header.Checksum)
	buf = append(buf, w.ir.Header.Signature[:]...)
	buf = PutUint32LE(buf, fileSize)
	buf = PutUint32LE(buf, cdexHeaderSize)
	buf = PutUint32LE(buf, EndianConstant)
	buf = PutUint32LE(buf, linkSize)
	buf = PutUint32LE(buf, linkOff)
	buf = PutUint32LE(buf, mapOff)
	buf = PutUint32LE(buf, uint32(len(w.ir.StringIds)))
	buf = PutUint32LE(buf, stringIdsOff)
	buf = PutUint32LE(buf, uint32(len(w.ir.TypeIds)))
	buf = PutUint32LE(buf, typeIdsOff)
	buf = PutUint32LE(buf, uint32(len(w.ir.ProtoIds)))
	buf = PutUint32LE(buf, protoIdsOff)
	buf = PutUint32LE(buf, uint32(len(w.ir.FieldIds)))
	buf = PutUint32LE(buf, fieldIdsOff)
	buf = PutUint32LE(buf, uint32(len(w.ir.MethodIds)))
	buf = PutUint32LE(buf, methodIdsOff)
	buf = PutUint32LE(buf, uint32(len(w.ir.ClassDefs)))
	buf = PutUint32LE(buf, classDefsOff)
	buf = PutUint32LE(buf, w.dataLen)
	buf = PutUint32LE(buf, w.mainLen)
	// debugTableOff is the blob's start (the table's self-describing
	// count/blockSize/numBlocks header, spec.md §4.G; see
	// offsettable.go). debug_info_offsets_table_offset additionally
	// records the block-index array's start, immediately after that
	// mini-header, mirroring the format's two-offset layout even though
	// this table is self-describing and readDebugOffsetTableEntry only
	// needs debug_info_offsets_pos to decode any entry.
	debugIndexOff := debugTableOff
	if debugTableOff != 0 {
		debugIndexOff += debugOffsetTableHeaderSize
	}
	buf = PutUint32LE(buf, ownedDataBegin)
	buf = PutUint32LE(buf, ownedDataEnd)
	buf = PutUint32LE(buf, debugTableOff)
	buf = PutUint32LE(buf, debugIndexOff)
	buf = PutUint32LE(buf, debugBase)
	buf = PutUint32LE(buf, 0) // feature_flags: none of this module's extensions in use
	if err := w.main.Overwrite(buf); err != nil {
		return err
	}
	w.ir.Header.IsCompact = true
	w.ir.Header.OwnedDataBegin = ownedDataBegin
	w.ir.Header.OwnedDataEnd = ownedDataEnd
	w.ir.Header.DebugInfoOffsetsPos = debugTableOff
	w.ir.Header.DebugInfoOffsetsTableOffset = debugIndexOff
	w.ir.Header.DebugInfoBase = debugBase
	return nil
}

// stampCdexChecksum fills in the Adler-32 checksum of a fully-written
// CDEX buffer, covering both the main and data sections (spec.md §4.G).
// CDEX has no per-file SHA-1 signature requirement distinct from the
// checksum, unlike standard DEX.
func stampCdexChecksum(data []byte) {
	if len(data) < cdexHeaderSize {
		return
	}
	sum := adler32.Checksum(data[12:])
	PutUint32LEInPlace(data[8:12], sum)
}
