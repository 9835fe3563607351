// Copyright 2024 The dexlayout Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

package dex

import (
	"crypto/sha1"
	"hash/adler32"
	"sort"

	"github.com/dexlayout/dexlayout/log"
)

// WriteStandardDex emits ir as a standard DEX file (Component F). Item
// offsets within ir are populated as a side effect, so a caller can
// introspect the final layout after emission (spec.md §4.F).
func WriteStandardDex(ir *IR, opts *LayoutOptions) ([]byte, error) {
	if opts == nil {
		d := DefaultLayoutOptions()
		opts = &d
	}
	l := opts.logger().With("phase", "write", "format", "dex")
	w := &stdWriter{ir: ir, c: NewContainer(), log: l}
	w.s = NewStream(w.c, MainSection)
	if err := w.emit(); err != nil {
		return nil, err
	}
	out := append([]byte(nil), w.s.Bytes()...)
	if opts.UpdateChecksum {
		stampChecksumAndSignature(out)
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
	l.Debugf("wrote %d bytes", len(out))
	return out, nil
}

type stdWriter struct {
	ir  *IR
	c   *Container
	s   *Stream
	log *log.Helper
}

func (w *stdWriter) emit() error {
	if err := w.s.Skip(StandardHeaderSize); err != nil {
		return err
	}

	if err := w.writeStringData(); err != nil {
		return err
	}
	if err := w.writeTypeLists(); err != nil {
		return err
	}
	if err := w.writeDebugInfos(); err != nil {
		return err
	}
	if err := w.writeCodeItems(); err != nil {
		return err
	}
	if err := w.writeEncodedArrays(); err != nil {
		return err
	}
	if err := w.writeAnnotations(); err != nil {
		return err
	}
	if err := w.writeAnnotationSets(); err != nil {
		return err
	}
	if err := w.writeAnnotationSetRefLists(); err != nil {
		return err
	}
	if err := w.writeAnnotationsDirectories(); err != nil {
		return err
	}
	if err := w.writeClassDatas(); err != nil {
		return err
	}

	stringIdsOff, err := w.writeStringIds()
	if err != nil {
		return err
	}
	typeIdsOff, err := w.writeTypeIds()
	if err != nil {
		return err
	}
	protoIdsOff, err := w.writeProtoIds()
	if err != nil {
		return err
	}
	fieldIdsOff, err := w.writeFieldIds()
	if err != nil {
		return err
	}
	methodIdsOff, err := w.writeMethodIds()
	if err != nil {
		return err
	}
	classDefsOff, err := w.writeClassDefs()
	if err != nil {
		return err
	}
	callSiteOff, err := w.writeCallSiteIds()
	if err != nil {
		return err
	}
	methodHandleOff, err := w.writeMethodHandles()
	if err != nil {
		return err
	}

	mapOff, err := w.writeMapList(stringIdsOff, typeIdsOff, protoIdsOff, fieldIdsOff, methodIdsOff,
		classDefsOff, callSiteOff, methodHandleOff)
	if err != nil {
		return err
	}

	linkOff := uint32(0)
	linkSize := uint32(len(w.ir.Header.LinkData))
	if linkSize > 0 {
		linkOff = w.s.Tell()
		if err := w.s.Write(w.ir.Header.LinkData); err != nil {
			return err
		}
	}

	fileSize := w.s.Tell()
	return w.commitHeader(fileSize, mapOff, linkOff, linkSize,
		stringIdsOff, typeIdsOff, protoIdsOff, fieldIdsOff, methodIdsOff, classDefsOff)
}

func (w *stdWriter) writeStringData() error {
	for i := range w.ir.StringDatas {
		sd := &w.ir.StringDatas[i]
		if err := w.s.AlignTo(alignStringData); err != nil {
			return err
		}
		start := w.s.Tell()
		n := CountModifiedUTF8Chars(sd.Data)
		if err := w.s.WriteULEB128(uint32(n)); err != nil {
			return err
		}
		buf := append(append([]byte(nil), sd.Data...), 0)
		if err := w.s.Write(buf); err != nil {
			return err
		}
		sd.Offset = start
		sd.Size = w.s.Tell() - start
	}
	return nil
}

func (w *stdWriter) writeTypeLists() error {
	for i := range w.ir.TypeLists {
		tl := &w.ir.TypeLists[i]
		if len(tl.TypeIdxs) == 0 {
			continue
		}
		if err := w.s.AlignTo(alignTypeList); err != nil {
			return err
		}
		start := w.s.Tell()
		buf := PutUint32LE(nil, uint32(len(tl.TypeIdxs)))
		for _, ti := range tl.TypeIdxs {
			buf = PutUint16LE(buf, uint16(ti))
		}
		if err := w.s.Write(buf); err != nil {
			return err
		}
		tl.Offset = start
		tl.Size = w.s.Tell() - start
	}
	return nil
}

func (w *stdWriter) writeDebugInfos() error {
	for i := range w.ir.DebugInfos {
		di := &w.ir.DebugInfos[i]
		start := w.s.Tell()
		if err := w.s.Write(di.Data); err != nil {
			return err
		}
		di.Offset = start
		di.Size = w.s.Tell() - start
	}
	return nil
}

func (w *stdWriter) writeCodeItems() error {
	for i := range w.ir.CodeItems {
		ci := &w.ir.CodeItems[i]
		if err := w.s.AlignTo(alignCodeItem); err != nil {
			return err
		}
		start := w.s.Tell()
		var buf []byte
		buf = PutUint16LE(buf, ci.RegistersSize)
		buf = PutUint16LE(buf, ci.InsSize)
		buf = PutUint16LE(buf, ci.OutsSize)
		buf = PutUint16LE(buf, ci.TriesSize())
		debugOff := uint32(0)
		if ci.DebugInfoIdx >= 0 {
			debugOff = w.ir.DebugInfos[ci.DebugInfoIdx].Offset
		}
		buf = PutUint32LE(buf, debugOff)
		buf = PutUint32LE(buf, ci.InsnsSizeCodeUnits())
		for _, u := range ci.Insns {
			buf = PutUint16LE(buf, u)
		}
		if len(ci.Tries) > 0 {
			if len(ci.Insns)%2 != 0 {
				buf = PutUint16LE(buf, 0) // padding
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
		if err := w.s.Write(buf); err != nil {
			return err
		}
		ci.Offset = start
		ci.Size = w.s.Tell() - start
	}
	return nil
}

func (w *stdWriter) writeEncodedArrays() error {
	for i := range w.ir.EncodedArrays {
		ea := &w.ir.EncodedArrays[i]
		start := w.s.Tell()
		buf := AppendULEB128(nil, uint32(len(ea.Values)))
		for _, v := range ea.Values {
			buf = appendEncodedValue(buf, v)
		}
		if err := w.s.Write(buf); err != nil {
			return err
		}
		ea.Offset = start
		ea.Size = w.s.Tell() - start
	}
	return nil
}

func (w *stdWriter) writeAnnotations() error {
	for i := range w.ir.Annotations {
		a := &w.ir.Annotations[i]
		start := w.s.Tell()
		buf := []byte{a.Visibility}
		buf = appendEncodedAnnotation(buf, a.Annotation)
		if err := w.s.Write(buf); err != nil {
			return err
		}
		a.Offset = start
		a.Size = w.s.Tell() - start
	}
	return nil
}

func (w *stdWriter) writeAnnotationSets() error {
	for i := range w.ir.AnnotationSets {
		as := &w.ir.AnnotationSets[i]
		if err := w.s.AlignTo(alignAnnoSet); err != nil {
			return err
		}
		start := w.s.Tell()
		buf := PutUint32LE(nil, uint32(len(as.AnnotationIdxs)))
		for _, ai := range as.AnnotationIdxs {
			buf = PutUint32LE(buf, w.ir.Annotations[ai].Offset)
		}
		if err := w.s.Write(buf); err != nil {
			return err
		}
		as.Offset = start
		as.Size = w.s.Tell() - start
	}
	return nil
}

func (w *stdWriter) writeAnnotationSetRefLists() error {
	for i := range w.ir.AnnotationSetRefLists {
		rl := &w.ir.AnnotationSetRefLists[i]
		if err := w.s.AlignTo(alignAnnoRef); err != nil {
			return err
		}
		start := w.s.Tell()
		buf := PutUint32LE(nil, uint32(len(rl.SetIdxs)))
		for _, si := range rl.SetIdxs {
			off := uint32(0)
			if si >= 0 {
				off = w.ir.AnnotationSets[si].Offset
			}
			buf = PutUint32LE(buf, off)
		}
		if err := w.s.Write(buf); err != nil {
			return err
		}
		rl.Offset = start
		rl.Size = w.s.Tell() - start
	}
	return nil
}

func (w *stdWriter) writeAnnotationsDirectories() error {
	for i := range w.ir.AnnotationsDirectories {
		ad := &w.ir.AnnotationsDirectories[i]
		if err := w.s.AlignTo(alignAnnoDir); err != nil {
			return err
		}
		start := w.s.Tell()
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
		if err := w.s.Write(buf); err != nil {
			return err
		}
		ad.Offset = start
		ad.Size = w.s.Tell() - start
	}
	return nil
}

func (w *stdWriter) writeClassDatas() error {
	for i := range w.ir.ClassDatas {
		cd := &w.ir.ClassDatas[i]
		start := w.s.Tell()
		var buf []byte
		buf = AppendULEB128(buf, uint32(len(cd.StaticFields)))
		buf = AppendULEB128(buf, uint32(len(cd.InstanceFields)))
		buf = AppendULEB128(buf, uint32(len(cd.DirectMethods)))
		buf = AppendULEB128(buf, uint32(len(cd.VirtualMethods)))
		buf = appendFields(buf, cd.StaticFields)
		buf = appendFields(buf, cd.InstanceFields)
		buf = w.appendMethods(buf, cd.DirectMethods)
		buf = w.appendMethods(buf, cd.VirtualMethods)
		if err := w.s.Write(buf); err != nil {
			return err
		}
		cd.Offset = start
		cd.Size = w.s.Tell() - start
	}
	return nil
}

func appendFields(buf []byte, fields []EncodedField) []byte {
	prev := 0
	for _, f := range fields {
		buf = AppendULEB128(buf, uint32(f.FieldIdx-prev))
		buf = AppendULEB128(buf, f.AccessFlags)
		prev = f.FieldIdx
	}
	return buf
}

func (w *stdWriter) appendMethods(buf []byte, methods []EncodedMethod) []byte {
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

func appendEncodedValue(buf []byte, v EncodedValue) []byte {
	switch v.Tag {
	case ValueByte, ValueShort, ValueInt, ValueLong, ValueChar:
		return appendSizedValue(buf, v.Tag, uint64(v.IntBits), true)
	case ValueFloat:
		return appendFloatingValue(buf, v.Tag, uint64(uint32(v.IntBits)), 4)
	case ValueDouble:
		return appendFloatingValue(buf, v.Tag, uint64(v.IntBits), 8)
	case ValueMethodType:
		return appendSizedValue(buf, v.Tag, uint64(uint32(v.ProtoIdx)), false)
	case ValueMethodHandle:
		return appendSizedValue(buf, v.Tag, uint64(uint32(v.HandleIdx)), false)
	case ValueString:
		return appendSizedValue(buf, v.Tag, uint64(uint32(v.StringIdx)), false)
	case ValueType:
		return appendSizedValue(buf, v.Tag, uint64(uint32(v.TypeIdx)), false)
	case ValueField, ValueEnum:
		return appendSizedValue(buf, v.Tag, uint64(uint32(v.FieldIdx)), false)
	case ValueMethod:
		return appendSizedValue(buf, v.Tag, uint64(uint32(v.MethodIdx)), false)
	case ValueArray:
		buf = append(buf, byte(ValueArray))
		buf = AppendULEB128(buf, uint32(len(v.Array)))
		for _, e := range v.Array {
			buf = appendEncodedValue(buf, e)
		}
		return buf
	case ValueAnnotation:
		buf = append(buf, byte(ValueAnnotation))
		return appendEncodedAnnotation(buf, *v.Annotation)
	case ValueNull:
		return append(buf, byte(ValueNull))
	case ValueBoolean:
		head := byte(ValueBoolean)
		if v.BoolVal {
			head |= 0x20
		}
		return append(buf, head)
	default:
		return buf
	}
}

// appendSizedValue writes the minimal-width (or sign-extended-minimal)
// encoding of raw per spec.md §4.F "trailing-zero elision".
func appendSizedValue(buf []byte, tag ValueTag, raw uint64, signed bool) []byte {
	var bytes [8]byte
	for i := 0; i < 8; i++ {
		bytes[i] = byte(raw >> (8 * i))
	}
	n := 8
	for n > 1 {
		top := bytes[n-1]
		if signed {
			sign := bytes[n-2] & 0x80
			if top == 0 && sign == 0 {
				n--
				continue
			}
			if top == 0xff && sign != 0 {
				n--
				continue
			}
		} else if top == 0 {
			n--
			continue
		}
		break
	}
	head := byte(tag) | byte(n-1)<<5
	out := append(buf, head)
	return append(out, bytes[:n]...)
}

// appendFloatingValue writes the leading-zero-elided high bytes of a
// width-byte (4 or 8) floating value, the inverse of the builder's
// readEncodedValue float/double branch.
func appendFloatingValue(buf []byte, tag ValueTag, raw uint64, width int) []byte {
	var bytes [8]byte
	for i := 0; i < width; i++ {
		bytes[i] = byte(raw >> (8 * i))
	}
	n := width
	for n > 1 && bytes[width-n] == 0 {
		n--
	}
	// keep only the top n bytes: shift right by (width-n) bytes worth of
	// low-order zero bytes, i.e. bytes[width-n:width].
	head := byte(tag) | byte(n-1)<<5
	out := append(buf, head)
	return append(out, bytes[width-n:width]...)
}

func appendEncodedAnnotation(buf []byte, a EncodedAnnotation) []byte {
	buf = AppendULEB128(buf, uint32(a.TypeIdx))
	buf = AppendULEB128(buf, uint32(len(a.Elements)))
	for _, e := range a.Elements {
		buf = AppendULEB128(buf, uint32(e.NameIdx))
		buf = appendEncodedValue(buf, e.Value)
	}
	return buf
}

func (w *stdWriter) writeStringIds() (uint32, error) {
	if err := w.s.AlignTo(alignIdTable); err != nil {
		return 0, err
	}
	off := w.s.Tell()
	for i := range w.ir.StringIds {
		si := &w.ir.StringIds[i]
		start := w.s.Tell()
		buf := PutUint32LE(nil, w.ir.StringDatas[si.DataIdx].Offset)
		if err := w.s.Write(buf); err != nil {
			return 0, err
		}
		si.Offset, si.Size = start, 4
	}
	return off, nil
}

func (w *stdWriter) writeTypeIds() (uint32, error) {
	if err := w.s.AlignTo(alignIdTable); err != nil {
		return 0, err
	}
	off := w.s.Tell()
	for i := range w.ir.TypeIds {
		ti := &w.ir.TypeIds[i]
		start := w.s.Tell()
		buf := PutUint32LE(nil, uint32(ti.DescriptorIdx))
		if err := w.s.Write(buf); err != nil {
			return 0, err
		}
		ti.Offset, ti.Size = start, 4
	}
	return off, nil
}

func (w *stdWriter) writeProtoIds() (uint32, error) {
	if err := w.s.AlignTo(alignIdTable); err != nil {
		return 0, err
	}
	off := w.s.Tell()
	for i := range w.ir.ProtoIds {
		pi := &w.ir.ProtoIds[i]
		start := w.s.Tell()
		paramsOff := uint32(0)
		if pi.ParametersIdx >= 0 {
			paramsOff = w.ir.TypeLists[pi.ParametersIdx].Offset
		}
		var buf []byte
		buf = PutUint32LE(buf, uint32(pi.ShortyIdx))
		buf = PutUint32LE(buf, uint32(pi.ReturnTypeIdx))
		buf = PutUint32LE(buf, paramsOff)
		if err := w.s.Write(buf); err != nil {
			return 0, err
		}
		pi.Offset, pi.Size = start, 12
	}
	return off, nil
}

func (w *stdWriter) writeFieldIds() (uint32, error) {
	if err := w.s.AlignTo(alignIdTable); err != nil {
		return 0, err
	}
	off := w.s.Tell()
	for i := range w.ir.FieldIds {
		fi := &w.ir.FieldIds[i]
		start := w.s.Tell()
		var buf []byte
		buf = PutUint16LE(buf, uint16(fi.ClassIdx))
		buf = PutUint16LE(buf, uint16(fi.TypeIdx))
		buf = PutUint32LE(buf, uint32(fi.NameIdx))
		if err := w.s.Write(buf); err != nil {
			return 0, err
		}
		fi.Offset, fi.Size = start, 8
	}
	return off, nil
}

func (w *stdWriter) writeMethodIds() (uint32, error) {
	if err := w.s.AlignTo(alignIdTable); err != nil {
		return 0, err
	}
	off := w.s.Tell()
	for i := range w.ir.MethodIds {
		mi := &w.ir.MethodIds[i]
		start := w.s.Tell()
		var buf []byte
		buf = PutUint16LE(buf, uint16(mi.ClassIdx))
		buf = PutUint16LE(buf, uint16(mi.ProtoIdx))
		buf = PutUint32LE(buf, uint32(mi.NameIdx))
		if err := w.s.Write(buf); err != nil {
			return 0, err
		}
		mi.Offset, mi.Size = start, 8
	}
	return off, nil
}

func (w *stdWriter) writeClassDefs() (uint32, error) {
	if len(w.ir.ClassDefs) == 0 {
		return 0, nil
	}
	if err := w.s.AlignTo(alignIdTable); err != nil {
		return 0, err
	}
	off := w.s.Tell()
	for i := range w.ir.ClassDefs {
		cd := &w.ir.ClassDefs[i]
		start := w.s.Tell()
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
		if err := w.s.Write(buf); err != nil {
			return 0, err
		}
		cd.Offset, cd.Size = start, 32
	}
	return off, nil
}

func u32OrNoIndex(v int) uint32 {
	if v < 0 {
		return NoIndex
	}
	return uint32(v)
}

func (w *stdWriter) writeCallSiteIds() (uint32, error) {
	if len(w.ir.CallSiteIds) == 0 {
		return 0, nil
	}
	if err := w.s.AlignTo(alignIdTable); err != nil {
		return 0, err
	}
	off := w.s.Tell()
	for i := range w.ir.CallSiteIds {
		cs := &w.ir.CallSiteIds[i]
		start := w.s.Tell()
		buf := PutUint32LE(nil, w.ir.EncodedArrays[cs.EncodedArrayIdx].Offset)
		if err := w.s.Write(buf); err != nil {
			return 0, err
		}
		cs.Offset, cs.Size = start, 4
	}
	return off, nil
}

func (w *stdWriter) writeMethodHandles() (uint32, error) {
	if len(w.ir.MethodHandles) == 0 {
		return 0, nil
	}
	if err := w.s.AlignTo(alignIdTable); err != nil {
		return 0, err
	}
	off := w.s.Tell()
	for i := range w.ir.MethodHandles {
		mh := &w.ir.MethodHandles[i]
		start := w.s.Tell()
		var buf []byte
		buf = PutUint16LE(buf, mh.HandleType)
		buf = PutUint16LE(buf, 0) // unused
		buf = PutUint16LE(buf, uint16(mh.FieldOrMIdx))
		buf = PutUint16LE(buf, 0) // unused
		if err := w.s.Write(buf); err != nil {
			return 0, err
		}
		mh.Offset, mh.Size = start, 8
	}
	return off, nil
}

func (w *stdWriter) writeMapList(stringIdsOff, typeIdsOff, protoIdsOff, fieldIdsOff, methodIdsOff,
	classDefsOff, callSiteOff, methodHandleOff uint32) (uint32, error) {
	if err := w.s.AlignTo(alignMapList); err != nil {
		return 0, err
	}
	off := w.s.Tell()
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
	if len(w.ir.StringDatas) > 0 {
		add(typeStringDataItem, uint32(len(w.ir.StringDatas)), w.ir.StringDatas[0].Offset)
	}
	if len(w.ir.TypeLists) > 0 {
		add(typeTypeList, uint32(len(w.ir.TypeLists)), w.ir.TypeLists[0].Offset)
	}
	if len(w.ir.AnnotationSetRefLists) > 0 {
		add(typeAnnotationSetRefList, uint32(len(w.ir.AnnotationSetRefLists)), w.ir.AnnotationSetRefLists[0].Offset)
	}
	if len(w.ir.AnnotationSets) > 0 {
		add(typeAnnotationSetItem, uint32(len(w.ir.AnnotationSets)), w.ir.AnnotationSets[0].Offset)
	}
	if len(w.ir.ClassDatas) > 0 {
		add(typeClassDataItem, uint32(len(w.ir.ClassDatas)), w.ir.ClassDatas[0].Offset)
	}
	if len(w.ir.CodeItems) > 0 {
		add(typeCodeItem, uint32(len(w.ir.CodeItems)), w.ir.CodeItems[0].Offset)
	}
	if len(w.ir.DebugInfos) > 0 {
		add(typeDebugInfoItem, uint32(len(w.ir.DebugInfos)), w.ir.DebugInfos[0].Offset)
	}
	if len(w.ir.Annotations) > 0 {
		add(typeAnnotationItem, uint32(len(w.ir.Annotations)), w.ir.Annotations[0].Offset)
	}
	if len(w.ir.EncodedArrays) > 0 {
		add(typeEncodedArrayItem, uint32(len(w.ir.EncodedArrays)), w.ir.EncodedArrays[0].Offset)
	}
	if len(w.ir.AnnotationsDirectories) > 0 {
		add(typeAnnotationsDirectoryItem, uint32(len(w.ir.AnnotationsDirectories)), w.ir.AnnotationsDirectories[0].Offset)
	}
	add(typeMapList, 1, off)
	sort.SliceStable(items, func(i, j int) bool { return items[i].Offset < items[j].Offset })

	var buf []byte
	buf = PutUint32LE(buf, uint32(len(items)))
	for _, it := range items {
		buf = PutUint16LE(buf, it.Type)
		buf = PutUint16LE(buf, 0) // unused
		buf = PutUint32LE(buf, it.Size)
		buf = PutUint32LE(buf, it.Offset)
	}
	if err := w.s.Write(buf); err != nil {
		return 0, err
	}
	w.ir.Map = MapList{Item: Item{Offset: off, Size: w.s.Tell() - off}, Items: items}
	return off, nil
}

func (w *stdWriter) commitHeader(fileSize, mapOff, linkOff, linkSize,
	stringIdsOff, typeIdsOff, protoIdsOff, fieldIdsOff, methodIdsOff, classDefsOff uint32) error {
	restore := w.s.ScopedSeek(0)
	defer restore()

	var buf []byte
	buf = append(buf, DexMagic[:]...)
	buf = PutUint32LE(buf, w.ir.Header.Checksum)
	buf = append(buf, w.ir.Header.Signature[:]...)
	buf = PutUint32LE(buf, fileSize)
	buf = PutUint32LE(buf, StandardHeaderSize)
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
	dataOff := StandardHeaderSize
	buf = PutUint32LE(buf, fileSize-dataOff)
	buf = PutUint32LE(buf, dataOff)
	return w.s.Overwrite(buf)
}

// stampChecksumAndSignature fills in the SHA-1 signature (bytes [12:32),
// hashed over bytes [32:)) and Adler-32 checksum (bytes [8:12), over
// bytes [12:)) of a fully-written standard DEX
// buffer, per spec.md §4.F / the DEX wire format's own hash requirements.
func stampChecksumAndSignature(data []byte) {
	if len(data) < StandardHeaderSize {
		return
	}
	sig := sha1.Sum(data[32:])
	copy(data[12:32], sig[:])
	sum := adler32.Checksum(data[12:])
	PutUint32LEInPlace(data[8:12], sum)
}

// PutUint32LEInPlace writes v little-endian into the first 4 bytes of dst.
func PutUint32LEInPlace(dst []byte, v uint32) {
	dst[0] = byte(v)
	dst[1] = byte(v >> 8)
	dst[2] = byte(v >> 16)
	dst[3] = byte(v >> 24)
}
