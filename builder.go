// Copyright 2024 The dexlayout Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

package dex

import (
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/dexlayout/dexlayout/log"
)

// reader is a random-access accessor over the raw input bytes, backed
// either by an mmap'd file or an in-memory buffer (spec.md §4.D "random
// access to the file bytes").
type reader struct {
	data []byte
	mm   mmap.MMap // non-nil only for file-backed readers, for Close
	f    *os.File
}

func (r *reader) Bytes() []byte { return r.data }

// Close unmaps and closes the backing file, if any. Safe to call on an
// in-memory reader.
func (r *reader) Close() error {
	if r.mm != nil {
		_ = r.mm.Unmap()
	}
	if r.f != nil {
		return r.f.Close()
	}
	return nil
}

// openFile mmaps name and issues a best-effort sequential-access advise
// hint, since the builder's id-table pass is a single sequential scan
// (SPEC_FULL.md §4.D).
func openFile(name string) (*reader, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, err
	}
	_ = unix.Madvise(m, unix.MADV_SEQUENTIAL) // best-effort; ignored on failure
	return &reader{data: m, mm: m, f: f}, nil
}

func bytesReader(data []byte) *reader {
	return &reader{data: data}
}

// cursor is a forward-only helper over raw bytes, used only during build
// (the only place raw offsets are read repeatedly in varying widths).
type cursor struct {
	data []byte
	pos  uint32
}

func (c *cursor) u8() (uint8, error) {
	if uint64(c.pos)+1 > uint64(len(c.data)) {
		return 0, ErrMalformedInput
	}
	v := c.data[c.pos]
	c.pos++
	return v, nil
}

func (c *cursor) u16() (uint16, error) {
	v, err := ReadUint16LE(c.data, c.pos)
	if err != nil {
		return 0, err
	}
	c.pos += 2
	return v, nil
}

func (c *cursor) u32() (uint32, error) {
	v, err := ReadUint32LE(c.data, c.pos)
	if err != nil {
		return 0, err
	}
	c.pos += 4
	return v, nil
}

func (c *cursor) uleb() (uint32, error) {
	v, n, err := ReadULEB128(c.data[c.pos:])
	if err != nil {
		return 0, err
	}
	c.pos += uint32(n)
	return v, nil
}

func (c *cursor) ulebp1() (int64, error) {
	v, n, err := ReadULEB128p1(c.data[c.pos:])
	if err != nil {
		return 0, err
	}
	c.pos += uint32(n)
	return v, nil
}

func (c *cursor) sleb() (int32, error) {
	v, n, err := ReadSLEB128(c.data[c.pos:])
	if err != nil {
		return 0, err
	}
	c.pos += uint32(n)
	return v, nil
}

// builder holds the transient state of one IR-build pass.
type builder struct {
	data    []byte
	ir      *IR
	opts    *BuildOptions
	log     *log.Helper
	runID   string
	eager   bool
	filter  map[string]struct{}

	stringDataByOffset map[uint32]int
	typeListByOffset   map[uint32]int
	encArrayByOffset   map[uint32]int
	annoByOffset       map[uint32]int
	annoSetByOffset    map[uint32]int
	annoRefByOffset    map[uint32]int
	annoDirByOffset    map[uint32]int
	classDataByOffset  map[uint32]int
	codeItemByKey      map[[2]uint32]int
	debugInfoByOffset  map[uint32]int
}

// Build parses a raw DEX or CDEX file held in data into a fresh IR, per spec.md
// §4.D. The magic is inspected to dispatch between the two formats.
func Build(data []byte, opts *BuildOptions) (*IR, error) {
	if opts == nil {
		opts = &BuildOptions{}
	}
	l := opts.logger()
	runID := uuid.NewString()
	l = l.With("run", runID, "phase", "build")
	l.Debugf("build start, %d input bytes", len(data))

	if len(data) < StandardHeaderSize {
		return nil, ErrMalformedInput
	}
	var magic [8]byte
	copy(magic[:], data[:8])

	b := &builder{
		data:               data,
		ir:                 &IR{},
		opts:               opts,
		log:                l,
		runID:              runID,
		eager:              opts.EagerlyAssignOffsets,
		filter:             opts.ClassFilter,
		stringDataByOffset: map[uint32]int{},
		typeListByOffset:   map[uint32]int{},
		encArrayByOffset:   map[uint32]int{},
		annoByOffset:       map[uint32]int{},
		annoSetByOffset:    map[uint32]int{},
		annoRefByOffset:    map[uint32]int{},
		annoDirByOffset:    map[uint32]int{},
		classDataByOffset:  map[uint32]int{},
		codeItemByKey:      map[[2]uint32]int{},
		debugInfoByOffset:  map[uint32]int{},
	}

	var err error
	switch {
	case magic == DexMagic || magicIsStandard(magic):
		err = b.buildStandard()
	case magic == CdexMagic:
		err = b.buildCompact()
	default:
		return nil, ErrMalformedInput
	}
	if err != nil {
		return nil, err
	}
	l.Debugf("build done: %d strings, %d types, %d methods, %d classes",
		len(b.ir.StringDatas), len(b.ir.TypeIds), len(b.ir.MethodIds), len(b.ir.ClassDefs))
	return b.ir, nil
}

// BuildFromFile mmaps name and builds an IR from it, per spec.md §4.D.
func BuildFromFile(name string, opts *BuildOptions) (*IR, error) {
	r, err := openFile(name)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return Build(r.Bytes(), opts)
}

func magicIsStandard(magic [8]byte) bool {
	return magic[0] == 'd' && magic[1] == 'e' && magic[2] == 'x' && magic[3] == '\n' && magic[7] == 0
}

// buildStandard parses a standard DEX file.
func (b *builder) buildStandard() error {
	c := &cursor{data: b.data}
	hdr, tables, err := b.parseHeader(c)
	if err != nil {
		return err
	}
	b.ir.Header = hdr
	return b.buildFromTables(tables)
}

// idTables captures the (size, offset) pairs read from the header, common
// to both the standard and compact layouts.
type idTables struct {
	stringIDs, typeIDs, protoIDs, fieldIDs, methodIDs, classDefs struct{ size, off uint32 }
	mapOff                                                       uint32
}

func (b *builder) parseHeader(c *cursor) (Header, idTables, error) {
	var hdr Header
	var t idTables
	magicBytes := b.data[:8]
	copy(hdr.Magic[:], magicBytes)
	c.pos = 8
	var err error
	if hdr.Checksum, err = c.u32(); err != nil {
		return hdr, t, err
	}
	c.pos = 12
	copy(hdr.Signature[:], b.data[12:32])
	c.pos = 32
	var fileSize, headerSize uint32
	if fileSize, err = c.u32(); err != nil {
		return hdr, t, err
	}
	_ = fileSize
	if headerSize, err = c.u32(); err != nil {
		return hdr, t, err
	}
	if headerSize != StandardHeaderSize {
		return hdr, t, ErrMalformedInput
	}
	if hdr.EndianTag, err = c.u32(); err != nil {
		return hdr, t, err
	}
	if hdr.LinkSize, err = c.u32(); err != nil {
		return hdr, t, err
	}
	if hdr.LinkOff, err = c.u32(); err != nil {
		return hdr, t, err
	}
	if t.mapOff, err = c.u32(); err != nil {
		return hdr, t, err
	}
	readPair := func(dst *struct{ size, off uint32 }) error {
		s, err := c.u32()
		if err != nil {
			return err
		}
		o, err := c.u32()
		if err != nil {
			return err
		}
		dst.size, dst.off = s, o
		return nil
	}
	for _, p := range []*struct{ size, off uint32 }{&t.stringIDs, &t.typeIDs, &t.protoIDs, &t.fieldIDs, &t.methodIDs, &t.classDefs} {
		if err := readPair(p); err != nil {
			return hdr, t, err
		}
	}
	var dataSize, dataOff uint32
	if dataSize, err = c.u32(); err != nil {
		return hdr, t, err
	}
	if dataOff, err = c.u32(); err != nil {
		return hdr, t, err
	}
	_ = dataSize
	_ = dataOff
	if hdr.LinkSize > 0 {
		if uint64(hdr.LinkOff)+uint64(hdr.LinkSize) > uint64(len(b.data)) {
			return hdr, t, ErrMalformedInput
		}
		hdr.LinkData = append([]byte(nil), b.data[hdr.LinkOff:hdr.LinkOff+hdr.LinkSize]...)
	}
	return hdr, t, nil
}

// buildFromTables runs the ordered construction steps of spec.md §4.D
// using the (size, offset) pairs captured from the header.
func (b *builder) buildFromTables(t idTables) error {
	// Step 2: indexed id-sections in table order.
	for i := uint32(0); i < t.stringIDs.size; i++ {
		off, err := ReadUint32LE(b.data, t.stringIDs.off+4*i)
		if err != nil {
			return err
		}
		sd, err := b.internStringData(off)
		if err != nil {
			return err
		}
		b.ir.StringIds = append(b.ir.StringIds, StringId{
			IndexedItem: IndexedItem{Index: i, Item: b.eagerItem(t.stringIDs.off + 4*i, 4)},
			DataIdx:     sd,
		})
	}
	for i := uint32(0); i < t.typeIDs.size; i++ {
		descIdx, err := ReadUint32LE(b.data, t.typeIDs.off+4*i)
		if err != nil {
			return err
		}
		b.ir.TypeIds = append(b.ir.TypeIds, TypeId{
			IndexedItem:   IndexedItem{Index: i, Item: b.eagerItem(t.typeIDs.off + 4*i, 4)},
			DescriptorIdx: int(descIdx),
		})
	}
	for i := uint32(0); i < t.protoIDs.size; i++ {
		base := t.protoIDs.off + 12*i
		shorty, err := ReadUint32LE(b.data, base)
		if err != nil {
			return err
		}
		retType, err := ReadUint32LE(b.data, base+4)
		if err != nil {
			return err
		}
		paramsOff, err := ReadUint32LE(b.data, base+8)
		if err != nil {
			return err
		}
		paramsIdx := -1
		if paramsOff != 0 {
			paramsIdx, err = b.internTypeList(paramsOff)
			if err != nil {
				return err
			}
		}
		b.ir.ProtoIds = append(b.ir.ProtoIds, ProtoId{
			IndexedItem:   IndexedItem{Index: i, Item: b.eagerItem(base, 12)},
			ShortyIdx:     int(shorty),
			ReturnTypeIdx: int(retType),
			ParametersIdx: paramsIdx,
		})
	}
	for i := uint32(0); i < t.fieldIDs.size; i++ {
		base := t.fieldIDs.off + 8*i
		classIdx, err := ReadUint16LE(b.data, base)
		if err != nil {
			return err
		}
		typeIdx, err := ReadUint16LE(b.data, base+2)
		if err != nil {
			return err
		}
		nameIdx, err := ReadUint32LE(b.data, base+4)
		if err != nil {
			return err
		}
		b.ir.FieldIds = append(b.ir.FieldIds, FieldId{
			IndexedItem: IndexedItem{Index: i, Item: b.eagerItem(base, 8)},
			ClassIdx:    int(classIdx),
			TypeIdx:     int(typeIdx),
			NameIdx:     int(nameIdx),
		})
	}
	for i := uint32(0); i < t.methodIDs.size; i++ {
		base := t.methodIDs.off + 8*i
		classIdx, err := ReadUint16LE(b.data, base)
		if err != nil {
			return err
		}
		protoIdx, err := ReadUint16LE(b.data, base+2)
		if err != nil {
			return err
		}
		nameIdx, err := ReadUint32LE(b.data, base+4)
		if err != nil {
			return err
		}
		b.ir.MethodIds = append(b.ir.MethodIds, MethodId{
			IndexedItem: IndexedItem{Index: i, Item: b.eagerItem(base, 8)},
			ClassIdx:    int(classIdx),
			ProtoIdx:    int(protoIdx),
			NameIdx:     int(nameIdx),
		})
	}
	for i := uint32(0); i < t.classDefs.size; i++ {
		if err := b.buildClassDef(t.classDefs.off+32*i, i); err != nil {
			return err
		}
	}

	// Step 3: call-site-ids and method-handles, located via the map list.
	if err := b.buildMapSections(t.mapOff); err != nil {
		return err
	}

	// MapList itself: keep a copy (not strictly needed for re-emission
	// since the writer rebuilds it, but parsed for the verifier to
	// compare against, per spec.md §4.I "Id tables compared... sizes must
	// match").
	return nil
}

func (b *builder) eagerItem(offset, size uint32) Item {
	if b.eager {
		return Item{Offset: offset, Size: size}
	}
	return Item{}
}

// internStringData returns the index of the StringData at file offset
// off, creating it if this is the first reference (spec.md §4.D step 2:
// "String-data is created when its referencing string-id is created,
// keyed by its file offset").
func (b *builder) internStringData(off uint32) (int, error) {
	if idx, ok := b.stringDataByOffset[off]; ok {
		return idx, nil
	}
	_, n, err := ReadULEB128(b.data[off:])
	if err != nil {
		return 0, err
	}
	start := off + uint32(n)
	end := start
	for end < uint32(len(b.data)) && b.data[end] != 0 {
		// advance by the UTF-8 lead-byte width to stay MUTF-8 safe
		c := b.data[end]
		switch {
		case c&0x80 == 0:
			end++
		case c&0xe0 == 0xc0:
			end += 2
		case c&0xf0 == 0xe0:
			end += 3
		default:
			end++
		}
	}
	if end > uint32(len(b.data)) {
		return 0, ErrMalformedInput
	}
	payload := append([]byte(nil), b.data[start:end]...)
	idx := len(b.ir.StringDatas)
	b.ir.StringDatas = append(b.ir.StringDatas, StringData{
		Item: b.eagerItem(off, end-off+1),
		Data: payload,
	})
	b.stringDataByOffset[off] = idx
	return idx, nil
}

func (b *builder) internTypeList(off uint32) (int, error) {
	if idx, ok := b.typeListByOffset[off]; ok {
		return idx, nil
	}
	size, err := ReadUint32LE(b.data, off)
	if err != nil {
		return 0, err
	}
	idxs := make([]int, size)
	for i := uint32(0); i < size; i++ {
		v, err := ReadUint16LE(b.data, off+4+2*i)
		if err != nil {
			return 0, err
		}
		idxs[i] = int(v)
	}
	idx := len(b.ir.TypeLists)
	b.ir.TypeLists = append(b.ir.TypeLists, TypeList{
		Item:     b.eagerItem(off, 4+2*size),
		TypeIdxs: idxs,
	})
	b.typeListByOffset[off] = idx
	return idx, nil
}

func i32(v uint32) int {
	if v == NoIndex {
		return -1
	}
	return int(v)
}

func (b *builder) buildClassDef(base uint32, index uint32) error {
	classIdx, err := ReadUint32LE(b.data, base)
	if err != nil {
		return err
	}
	if b.filter != nil && len(b.filter) > 0 {
		desc, err := b.classDescriptor(classIdx)
		if err != nil {
			return err
		}
		if _, ok := b.filter[desc]; !ok {
			return nil
		}
	}
	accessFlags, _ := ReadUint32LE(b.data, base+4)
	superIdx, _ := ReadUint32LE(b.data, base+8)
	ifacesOff, _ := ReadUint32LE(b.data, base+12)
	srcFileIdx, _ := ReadUint32LE(b.data, base+16)
	annoOff, _ := ReadUint32LE(b.data, base+20)
	classDataOff, _ := ReadUint32LE(b.data, base+24)
	staticValsOff, _ := ReadUint32LE(b.data, base+28)

	ifacesIdx := -1
	if ifacesOff != 0 {
		ifacesIdx, err = b.internTypeList(ifacesOff)
		if err != nil {
			return err
		}
	}
	annoIdx := -1
	if annoOff != 0 {
		annoIdx, err = b.internAnnotationsDirectory(annoOff)
		if err != nil {
			return err
		}
	}
	classDataIdx := -1
	if classDataOff != 0 {
		classDataIdx, err = b.internClassData(classDataOff)
		if err != nil {
			return err
		}
	}
	staticValsIdx := -1
	if staticValsOff != 0 {
		staticValsIdx, err = b.internEncodedArray(staticValsOff)
		if err != nil {
			return err
		}
	}
	b.ir.ClassDefs = append(b.ir.ClassDefs, ClassDef{
		IndexedItem:     IndexedItem{Index: index, Item: b.eagerItem(base, 32)},
		ClassIdx:        int(classIdx),
		AccessFlags:     accessFlags,
		SuperclassIdx:   i32(superIdx),
		InterfacesIdx:   ifacesIdx,
		SourceFileIdx:   i32(srcFileIdx),
		AnnotationsIdx:  annoIdx,
		ClassDataIdx:    classDataIdx,
		StaticValuesIdx: staticValsIdx,
	})
	return nil
}

func (b *builder) classDescriptor(typeIdx uint32) (string, error) {
	if int(typeIdx) >= len(b.ir.TypeIds) {
		return "", ErrMalformedInput
	}
	sd := b.ir.TypeIds[typeIdx].DescriptorIdx
	if sd >= len(b.ir.StringIds) {
		return "", ErrMalformedInput
	}
	return string(b.ir.StringDatas[b.ir.StringIds[sd].DataIdx].Data), nil
}

func (b *builder) internEncodedArray(off uint32) (int, error) {
	if idx, ok := b.encArrayByOffset[off]; ok {
		return idx, nil
	}
	c := &cursor{data: b.data, pos: off}
	size, err := c.uleb()
	if err != nil {
		return 0, err
	}
	vals := make([]EncodedValue, size)
	for i := uint32(0); i < size; i++ {
		v, err := b.readEncodedValue(c)
		if err != nil {
			return 0, err
		}
		vals[i] = v
	}
	idx := len(b.ir.EncodedArrays)
	b.ir.EncodedArrays = append(b.ir.EncodedArrays, EncodedArrayItem{
		Item:   b.eagerItem(off, c.pos-off),
		Values: vals,
	})
	b.encArrayByOffset[off] = idx
	return idx, nil
}

func (b *builder) readEncodedValue(c *cursor) (EncodedValue, error) {
	head, err := c.u8()
	if err != nil {
		return EncodedValue{}, err
	}
	tag := ValueTag(head & 0x1f)
	argLen := int(head>>5) + 1
	readWidth := func(signExtend bool) (int64, error) {
		if c.pos+uint32(argLen) > uint32(len(b.data)) {
			return 0, ErrMalformedInput
		}
		var v int64
		for i := 0; i < argLen; i++ {
			v |= int64(b.data[c.pos+uint32(i)]) << (8 * i)
		}
		c.pos += uint32(argLen)
		if signExtend && argLen < 8 {
			shift := uint(64 - 8*argLen)
			v = (v << shift) >> shift
		}
		return v, nil
	}
	ev := EncodedValue{Tag: tag}
	switch tag {
	case ValueByte, ValueShort, ValueInt, ValueLong:
		v, err := readWidth(true)
		if err != nil {
			return ev, err
		}
		ev.IntBits = v
	case ValueChar:
		v, err := readWidth(false)
		if err != nil {
			return ev, err
		}
		ev.IntBits = v
	case ValueFloat, ValueDouble:
		// the stored bytes are the value's high-order bytes (low-order
		// zero bytes elided): shift them left into place.
		raw, err := readWidth(false)
		if err != nil {
			return ev, err
		}
		if tag == ValueFloat {
			ev.IntBits = raw << (8 * (4 - argLen))
		} else {
			ev.IntBits = raw << (8 * (8 - argLen))
		}
	case ValueMethodType:
		v, err := readWidth(false)
		if err != nil {
			return ev, err
		}
		ev.ProtoIdx = int(v)
	case ValueMethodHandle:
		v, err := readWidth(false)
		if err != nil {
			return ev, err
		}
		ev.HandleIdx = int(v)
	case ValueString:
		v, err := readWidth(false)
		if err != nil {
			return ev, err
		}
		ev.StringIdx = int(v)
	case ValueType:
		v, err := readWidth(false)
		if err != nil {
			return ev, err
		}
		ev.TypeIdx = int(v)
	case ValueField, ValueEnum:
		v, err := readWidth(false)
		if err != nil {
			return ev, err
		}
		ev.FieldIdx = int(v)
	case ValueMethod:
		v, err := readWidth(false)
		if err != nil {
			return ev, err
		}
		ev.MethodIdx = int(v)
	case ValueArray:
		size, err := c.uleb()
		if err != nil {
			return ev, err
		}
		arr := make([]EncodedValue, size)
		for i := uint32(0); i < size; i++ {
			sub, err := b.readEncodedValue(c)
			if err != nil {
				return ev, err
			}
			arr[i] = sub
		}
		ev.Array = arr
	case ValueAnnotation:
		ann, err := b.readEncodedAnnotation(c)
		if err != nil {
			return ev, err
		}
		ev.Annotation = &ann
	case ValueNull:
		// no payload
	case ValueBoolean:
		ev.BoolVal = argLen != 0 && head&0x20 != 0
	default:
		return ev, ErrMalformedInput
	}
	return ev, nil
}

func (b *builder) readEncodedAnnotation(c *cursor) (EncodedAnnotation, error) {
	typeIdx, err := c.uleb()
	if err != nil {
		return EncodedAnnotation{}, err
	}
	size, err := c.uleb()
	if err != nil {
		return EncodedAnnotation{}, err
	}
	elems := make([]AnnotationElement, size)
	for i := uint32(0); i < size; i++ {
		nameIdx, err := c.uleb()
		if err != nil {
			return EncodedAnnotation{}, err
		}
		val, err := b.readEncodedValue(c)
		if err != nil {
			return EncodedAnnotation{}, err
		}
		elems[i] = AnnotationElement{NameIdx: int(nameIdx), Value: val}
	}
	return EncodedAnnotation{TypeIdx: int(typeIdx), Elements: elems}, nil
}

func (b *builder) internAnnotationItem(off uint32) (int, error) {
	if idx, ok := b.annoByOffset[off]; ok {
		return idx, nil
	}
	c := &cursor{data: b.data, pos: off}
	vis, err := c.u8()
	if err != nil {
		return 0, err
	}
	ann, err := b.readEncodedAnnotation(c)
	if err != nil {
		return 0, err
	}
	idx := len(b.ir.Annotations)
	b.ir.Annotations = append(b.ir.Annotations, AnnotationItem{
		Item:       b.eagerItem(off, c.pos-off),
		Visibility: vis,
		Annotation: ann,
	})
	b.annoByOffset[off] = idx
	return idx, nil
}

func (b *builder) internAnnotationSet(off uint32) (int, error) {
	if idx, ok := b.annoSetByOffset[off]; ok {
		return idx, nil
	}
	size, err := ReadUint32LE(b.data, off)
	if err != nil {
		return 0, err
	}
	idxs := make([]int, size)
	for i := uint32(0); i < size; i++ {
		aoff, err := ReadUint32LE(b.data, off+4+4*i)
		if err != nil {
			return 0, err
		}
		ai, err := b.internAnnotationItem(aoff)
		if err != nil {
			return 0, err
		}
		idxs[i] = ai
	}
	idx := len(b.ir.AnnotationSets)
	b.ir.AnnotationSets = append(b.ir.AnnotationSets, AnnotationSetItem{
		Item:           b.eagerItem(off, 4+4*size),
		AnnotationIdxs: idxs,
	})
	b.annoSetByOffset[off] = idx
	return idx, nil
}

func (b *builder) internAnnotationSetRefList(off uint32) (int, error) {
	if idx, ok := b.annoRefByOffset[off]; ok {
		return idx, nil
	}
	size, err := ReadUint32LE(b.data, off)
	if err != nil {
		return 0, err
	}
	idxs := make([]int, size)
	for i := uint32(0); i < size; i++ {
		soff, err := ReadUint32LE(b.data, off+4+4*i)
		if err != nil {
			return 0, err
		}
		if soff == 0 {
			idxs[i] = -1
			continue
		}
		si, err := b.internAnnotationSet(soff)
		if err != nil {
			return 0, err
		}
		idxs[i] = si
	}
	idx := len(b.ir.AnnotationSetRefLists)
	b.ir.AnnotationSetRefLists = append(b.ir.AnnotationSetRefLists, AnnotationSetRefList{
		Item:    b.eagerItem(off, 4+4*size),
		SetIdxs: idxs,
	})
	b.annoRefByOffset[off] = idx
	return idx, nil
}

func (b *builder) internAnnotationsDirectory(off uint32) (int, error) {
	if idx, ok := b.annoDirByOffset[off]; ok {
		return idx, nil
	}
	classAnnoOff, err := ReadUint32LE(b.data, off)
	if err != nil {
		return 0, err
	}
	fieldsSize, _ := ReadUint32LE(b.data, off+4)
	methodsSize, _ := ReadUint32LE(b.data, off+8)
	paramsSize, _ := ReadUint32LE(b.data, off+12)

	classAnnoIdx := -1
	if classAnnoOff != 0 {
		classAnnoIdx, err = b.internAnnotationSet(classAnnoOff)
		if err != nil {
			return 0, err
		}
	}
	pos := off + 16
	fieldAnnos := make([]FieldAnnotation, fieldsSize)
	for i := range fieldAnnos {
		fidx, _ := ReadUint32LE(b.data, pos)
		soff, _ := ReadUint32LE(b.data, pos+4)
		si, err := b.internAnnotationSet(soff)
		if err != nil {
			return 0, err
		}
		fieldAnnos[i] = FieldAnnotation{FieldIdx: int(fidx), SetIdx: si}
		pos += 8
	}
	methodAnnos := make([]MethodAnnotation, methodsSize)
	for i := range methodAnnos {
		midx, _ := ReadUint32LE(b.data, pos)
		soff, _ := ReadUint32LE(b.data, pos+4)
		si, err := b.internAnnotationSet(soff)
		if err != nil {
			return 0, err
		}
		methodAnnos[i] = MethodAnnotation{MethodIdx: int(midx), SetIdx: si}
		pos += 8
	}
	paramAnnos := make([]ParameterAnnotation, paramsSize)
	for i := range paramAnnos {
		midx, _ := ReadUint32LE(b.data, pos)
		roff, _ := ReadUint32LE(b.data, pos+4)
		ri, err := b.internAnnotationSetRefList(roff)
		if err != nil {
			return 0, err
		}
		paramAnnos[i] = ParameterAnnotation{MethodIdx: int(midx), RefListIdx: ri}
		pos += 8
	}
	idx := len(b.ir.AnnotationsDirectories)
	b.ir.AnnotationsDirectories = append(b.ir.AnnotationsDirectories, AnnotationsDirectoryItem{
		Item:               b.eagerItem(off, pos-off),
		ClassAnnotationIdx: classAnnoIdx,
		FieldAnnotations:   fieldAnnos,
		MethodAnnotations:  methodAnnos,
		ParamAnnotations:   paramAnnos,
	})
	b.annoDirByOffset[off] = idx
	return idx, nil
}

func (b *builder) internClassData(off uint32) (int, error) {
	if idx, ok := b.classDataByOffset[off]; ok {
		return idx, nil
	}
	c := &cursor{data: b.data, pos: off}
	staticCount, err := c.uleb()
	if err != nil {
		return 0, err
	}
	instanceCount, err := c.uleb()
	if err != nil {
		return 0, err
	}
	directCount, err := c.uleb()
	if err != nil {
		return 0, err
	}
	virtualCount, err := c.uleb()
	if err != nil {
		return 0, err
	}
	readFields := func(n uint32) ([]EncodedField, error) {
		out := make([]EncodedField, n)
		idx := uint32(0)
		for i := uint32(0); i < n; i++ {
			diff, err := c.uleb()
			if err != nil {
				return nil, err
			}
			idx += diff
			flags, err := c.uleb()
			if err != nil {
				return nil, err
			}
			out[i] = EncodedField{FieldIdx: int(idx), AccessFlags: flags}
		}
		return out, nil
	}
	readMethods := func(n uint32) ([]EncodedMethod, error) {
		out := make([]EncodedMethod, n)
		idx := uint32(0)
		for i := uint32(0); i < n; i++ {
			diff, err := c.uleb()
			if err != nil {
				return nil, err
			}
			idx += diff
			flags, err := c.uleb()
			if err != nil {
				return nil, err
			}
			codeOff, err := c.uleb()
			if err != nil {
				return nil, err
			}
			codeIdx := -1
			if codeOff != 0 {
				debugOff := b.debugInfoOffsetForCode(codeOff)
				codeIdx, err = b.internCodeItem(codeOff, debugOff)
				if err != nil {
					return nil, err
				}
			}
			out[i] = EncodedMethod{MethodIdx: int(idx), AccessFlags: flags, CodeIdx: codeIdx}
		}
		return out, nil
	}
	staticFields, err := readFields(staticCount)
	if err != nil {
		return 0, err
	}
	instanceFields, err := readFields(instanceCount)
	if err != nil {
		return 0, err
	}
	directMethods, err := readMethods(directCount)
	if err != nil {
		return 0, err
	}
	virtualMethods, err := readMethods(virtualCount)
	if err != nil {
		return 0, err
	}
	idx := len(b.ir.ClassDatas)
	b.ir.ClassDatas = append(b.ir.ClassDatas, ClassData{
		Item:           b.eagerItem(off, c.pos-off),
		StaticFields:   staticFields,
		InstanceFields: instanceFields,
		DirectMethods:  directMethods,
		VirtualMethods: virtualMethods,
	})
	b.classDataByOffset[off] = idx
	return idx, nil
}

// debugInfoOffsetForCode peeks the debug_info_off field of a code_item at
// codeOff without fully parsing it, so internClassData can form the
// (code_offset, debug_info_offset) key spec.md §4.D step 4 requires before
// the code item itself is built.
func (b *builder) debugInfoOffsetForCode(codeOff uint32) uint32 {
	v, err := ReadUint32LE(b.data, codeOff+8)
	if err != nil {
		return 0
	}
	return v
}

// internCodeItem builds (or returns the existing) CodeItem for the
// (codeOff, debugOff) key, preserving the source's quirk of allowing two
// methods to share code bytes but not debug info (spec.md §4.D step 4).
func (b *builder) internCodeItem(codeOff, debugOff uint32) (int, error) {
	// CDEX code items have no debug_info_off field (see encodeCodeItemBody):
	// insns_size sits at +8 and the instructions start at +12. Their debug
	// info is attached afterwards from the offset table.
	insnsSizeAt, insnsAt := codeOff+12, codeOff+16
	if b.ir.Header.IsCompact {
		debugOff = 0
		insnsSizeAt, insnsAt = codeOff+8, codeOff+12
	}
	key := [2]uint32{codeOff, debugOff}
	if idx, ok := b.codeItemByKey[key]; ok {
		return idx, nil
	}
	regs, err := ReadUint16LE(b.data, codeOff)
	if err != nil {
		return 0, err
	}
	ins, err := ReadUint16LE(b.data, codeOff+2)
	if err != nil {
		return 0, err
	}
	outs, err := ReadUint16LE(b.data, codeOff+4)
	if err != nil {
		return 0, err
	}
	triesSize, err := ReadUint16LE(b.data, codeOff+6)
	if err != nil {
		return 0, err
	}
	insnsSize, err := ReadUint32LE(b.data, insnsSizeAt)
	if err != nil {
		return 0, err
	}
	pos := insnsAt
	insns := make([]uint16, insnsSize)
	for i := uint32(0); i < insnsSize; i++ {
		v, err := ReadUint16LE(b.data, pos+2*i)
		if err != nil {
			return 0, err
		}
		insns[i] = v
	}
	pos += 2 * insnsSize

	var tries []TryItem
	var handlers []CatchHandler
	if triesSize > 0 {
		if insnsSize%2 != 0 {
			pos += 2 // padding
		}
		type rawTry struct {
			start, count, handlerOff uint32
		}
		raws := make([]rawTry, triesSize)
		for i := uint32(0); i < uint32(triesSize); i++ {
			start, err := ReadUint32LE(b.data, pos)
			if err != nil {
				return 0, err
			}
			count, err := ReadUint16LE(b.data, pos+4)
			if err != nil {
				return 0, err
			}
			hoff, err := ReadUint16LE(b.data, pos+6)
			if err != nil {
				return 0, err
			}
			raws[i] = rawTry{start: start, count: uint32(count), handlerOff: uint32(hoff)}
			pos += 8
		}
		handlerListBase := pos
		handlerByOffset := map[uint32]int{}
		hc := &cursor{data: b.data, pos: handlerListBase}
		if _, err := hc.uleb(); err != nil { // handlers_size, unused beyond advancing
			return 0, err
		}
		tries = make([]TryItem, triesSize)
		for i, rt := range raws {
			hOff := handlerListBase + rt.handlerOff
			hIdx, ok := handlerByOffset[hOff]
			if !ok {
				ch, next, err := b.readCatchHandler(hOff)
				if err != nil {
					return 0, err
				}
				hIdx = len(handlers)
				handlers = append(handlers, ch)
				handlerByOffset[hOff] = hIdx
				if next > pos {
					pos = next
				}
			}
			tries[i] = TryItem{StartAddr: rt.start, InsnCount: uint16(rt.count), HandlerIdx: hIdx}
		}
	}

	var debugIdx = -1
	if debugOff != 0 {
		var err error
		debugIdx, err = b.internDebugInfo(debugOff)
		if err != nil {
			return 0, err
		}
	}

	idx := len(b.ir.CodeItems)
	b.ir.CodeItems = append(b.ir.CodeItems, CodeItem{
		Item:          b.eagerItem(codeOff, pos-codeOff),
		RegistersSize: regs,
		InsSize:       ins,
		OutsSize:      outs,
		DebugInfoIdx:  debugIdx,
		Insns:         insns,
		Tries:         tries,
		Handlers:      handlers,
		Fixups:        scanFixups(insns),
	})
	b.codeItemByKey[key] = idx
	return idx, nil
}

func (b *builder) readCatchHandler(off uint32) (CatchHandler, uint32, error) {
	c := &cursor{data: b.data, pos: off}
	size, err := c.sleb()
	if err != nil {
		return CatchHandler{}, 0, err
	}
	abs := size
	if abs < 0 {
		abs = -abs
	}
	pairs := make([]TypeAddrPair, abs)
	for i := int32(0); i < abs; i++ {
		typeIdx, err := c.uleb()
		if err != nil {
			return CatchHandler{}, 0, err
		}
		addr, err := c.uleb()
		if err != nil {
			return CatchHandler{}, 0, err
		}
		pairs[i] = TypeAddrPair{TypeIdx: int(typeIdx), Addr: addr}
	}
	ch := CatchHandler{Offset: off, Pairs: pairs}
	if size <= 0 {
		ch.HasCatchAll = true
		addr, err := c.uleb()
		if err != nil {
			return CatchHandler{}, 0, err
		}
		ch.CatchAllAddr = addr
	}
	return ch, c.pos, nil
}

const (
	dbgEndSequence       = 0x00
	dbgAdvancePC         = 0x01
	dbgAdvanceLine       = 0x02
	dbgStartLocal        = 0x03
	dbgStartLocalExt     = 0x04
	dbgEndLocal          = 0x05
	dbgRestartLocal      = 0x06
	dbgSetPrologueEnd    = 0x07
	dbgSetEpilogueBegin  = 0x08
	dbgSetFile           = 0x09
	dbgFirstSpecial      = 0x0a
)

// debugInfoStreamLen returns the length, in bytes, of the debug_info_item
// starting at off, by running the documented state machine forward to
// DBG_END_SEQUENCE. An opcode this function does not recognize advances
// the cursor by exactly one byte, matching the possibly-buggy original
// behavior noted in spec.md §9.
func (b *builder) debugInfoStreamLen(off uint32) (uint32, error) {
	c := &cursor{data: b.data, pos: off}
	if _, err := c.uleb(); err != nil { // line_start
		return 0, err
	}
	paramsSize, err := c.uleb()
	if err != nil {
		return 0, err
	}
	for i := uint32(0); i < paramsSize; i++ {
		if _, err := c.ulebp1(); err != nil {
			return 0, err
		}
	}
	for {
		op, err := c.u8()
		if err != nil {
			return 0, err
		}
		switch {
		case op == dbgEndSequence:
			return c.pos - off, nil
		case op == dbgAdvancePC:
			if _, err := c.uleb(); err != nil {
				return 0, err
			}
		case op == dbgAdvanceLine:
			if _, err := c.sleb(); err != nil {
				return 0, err
			}
		case op == dbgStartLocal:
			if _, err := c.uleb(); err != nil {
				return 0, err
			}
			if _, err := c.ulebp1(); err != nil {
				return 0, err
			}
			if _, err := c.ulebp1(); err != nil {
				return 0, err
			}
		case op == dbgStartLocalExt:
			if _, err := c.uleb(); err != nil {
				return 0, err
			}
			if _, err := c.ulebp1(); err != nil {
				return 0, err
			}
			if _, err := c.ulebp1(); err != nil {
				return 0, err
			}
			if _, err := c.ulebp1(); err != nil {
				return 0, err
			}
		case op == dbgEndLocal, op == dbgRestartLocal:
			if _, err := c.uleb(); err != nil {
				return 0, err
			}
		case op == dbgSetPrologueEnd, op == dbgSetEpilogueBegin:
			// no operands
		case op == dbgSetFile:
			if _, err := c.ulebp1(); err != nil {
				return 0, err
			}
		case op >= dbgFirstSpecial:
			// special opcode: encodes an (address, line) advance in the
			// opcode value itself, no operand bytes.
		default:
			// unrecognized low-numbered opcode: advance one byte and
			// keep scanning (spec.md §9).
		}
	}
}

func (b *builder) internDebugInfo(off uint32) (int, error) {
	if idx, ok := b.debugInfoByOffset[off]; ok {
		return idx, nil
	}
	n, err := b.debugInfoStreamLen(off)
	if err != nil {
		return 0, err
	}
	data := append([]byte(nil), b.data[off:off+n]...)
	idx := len(b.ir.DebugInfos)
	b.ir.DebugInfos = append(b.ir.DebugInfos, DebugInfoItem{
		Item: b.eagerItem(off, n),
		Data: data,
	})
	b.debugInfoByOffset[off] = idx
	return idx, nil
}

// buildMapSections scans the MapList for the call-site-ids and
// method-handles sections (spec.md §4.D step 3), which have no dedicated
// header (size, offset) pair.
func (b *builder) buildMapSections(mapOff uint32) error {
	if mapOff == 0 {
		return nil
	}
	size, err := ReadUint32LE(b.data, mapOff)
	if err != nil {
		return err
	}
	mapItems := make([]MapItem, 0, size)
	pos := mapOff + 4
	for i := uint32(0); i < size; i++ {
		typ, err := ReadUint16LE(b.data, pos)
		if err != nil {
			return err
		}
		itemSize, err := ReadUint32LE(b.data, pos+4)
		if err != nil {
			return err
		}
		off, err := ReadUint32LE(b.data, pos+8)
		if err != nil {
			return err
		}
		mapItems = append(mapItems, MapItem{Type: typ, Size: itemSize, Offset: off})
		switch typ {
		case typeCallSiteIdItem:
			for j := uint32(0); j < itemSize; j++ {
				csOff, err := ReadUint32LE(b.data, off+4*j)
				if err != nil {
					return err
				}
				eaIdx, err := b.internEncodedArray(csOff)
				if err != nil {
					return err
				}
				b.ir.CallSiteIds = append(b.ir.CallSiteIds, CallSiteId{
					IndexedItem:     IndexedItem{Index: j, Item: b.eagerItem(off + 4*j, 4)},
					EncodedArrayIdx: eaIdx,
				})
			}
		case typeMethodHandleItem:
			for j := uint32(0); j < itemSize; j++ {
				base := off + 8*j
				handleType, err := ReadUint16LE(b.data, base)
				if err != nil {
					return err
				}
				fieldOrMethod, err := ReadUint16LE(b.data, base+4)
				if err != nil {
					return err
				}
				b.ir.MethodHandles = append(b.ir.MethodHandles, MethodHandleItem{
					IndexedItem: IndexedItem{Index: j, Item: b.eagerItem(base, 8)},
					HandleType:  handleType,
					FieldOrMIdx: int(fieldOrMethod),
				})
			}
		}
		pos += 12
	}
	b.ir.Map = MapList{Item: b.eagerItem(mapOff, pos-mapOff), Items: mapItems}
	return nil
}

// buildCompact parses a CDEX file this module itself emitted (round-trip
// support for the verifier, spec.md §4.I/§8 scenario S6).
func (b *builder) buildCompact() error {
	c := &cursor{data: b.data}
	c.pos = 8
	var err error
	if b.ir.Header.Checksum, err = c.u32(); err != nil {
		return err
	}
	c.pos = 12
	copy(b.ir.Header.Signature[:], b.data[12:32])
	c.pos = 32
	var headerSize uint32
	if _, err = c.u32(); err != nil { // file_size
		return err
	}
	if headerSize, err = c.u32(); err != nil {
		return err
	}
	_ = headerSize
	if b.ir.Header.EndianTag, err = c.u32(); err != nil {
		return err
	}
	if b.ir.Header.LinkSize, err = c.u32(); err != nil {
		return err
	}
	if b.ir.Header.LinkOff, err = c.u32(); err != nil {
		return err
	}
	var mapOff uint32
	if mapOff, err = c.u32(); err != nil {
		return err
	}
	var t idTables
	t.mapOff = mapOff
	readPair := func(dst *struct{ size, off uint32 }) error {
		s, err := c.u32()
		if err != nil {
			return err
		}
		o, err := c.u32()
		if err != nil {
			return err
		}
		dst.size, dst.off = s, o
		return nil
	}
	for _, p := range []*struct{ size, off uint32 }{&t.stringIDs, &t.typeIDs, &t.protoIDs, &t.fieldIDs, &t.methodIDs, &t.classDefs} {
		if err := readPair(p); err != nil {
			return err
		}
	}
	if _, err = c.u32(); err != nil { // data_size
		return err
	}
	if _, err = c.u32(); err != nil { // data_off
		return err
	}
	b.ir.Header.IsCompact = true
	if b.ir.Header.OwnedDataBegin, err = c.u32(); err != nil {
		return err
	}
	if b.ir.Header.OwnedDataEnd, err = c.u32(); err != nil {
		return err
	}
	var debugOffsetsPos, debugOffsetsTableOff, debugBase uint32
	if debugOffsetsPos, err = c.u32(); err != nil {
		return err
	}
	if debugOffsetsTableOff, err = c.u32(); err != nil {
		return err
	}
	if debugBase, err = c.u32(); err != nil {
		return err
	}
	b.ir.Header.DebugInfoOffsetsPos = debugOffsetsPos
	b.ir.Header.DebugInfoOffsetsTableOffset = debugOffsetsTableOff
	b.ir.Header.DebugInfoBase = debugBase
	if b.ir.Header.FeatureFlags, err = c.u32(); err != nil {
		return err
	}
	copy(b.ir.Header.Magic[:], b.data[:8])

	if err := b.buildFromTables(t); err != nil {
		return err
	}
	// Reattach debug info via the offset table, since CDEX code items do
	// not carry a per-item debug_info_off (they are stripped during
	// emission, spec.md §4.G). Decoding needs debugOffsetsPos (the
	// table's self-describing count/blockSize/numBlocks header), not
	// debugOffsetsTableOff (the block-index array within it) — see
	// offsettable.go.
	return b.attachCdexDebugInfo(debugOffsetsPos, debugBase)
}

func (b *builder) attachCdexDebugInfo(tablePos, base uint32) error {
	if tablePos == 0 {
		return nil
	}
	for ci := range b.ir.ClassDatas {
		cd := &b.ir.ClassDatas[ci]
		for mi := range cd.DirectMethods {
			if err := b.attachOneDebugInfo(&cd.DirectMethods[mi], tablePos, base); err != nil {
				return err
			}
		}
		for mi := range cd.VirtualMethods {
			if err := b.attachOneDebugInfo(&cd.VirtualMethods[mi], tablePos, base); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *builder) attachOneDebugInfo(m *EncodedMethod, tablePos, base uint32) error {
	if m.CodeIdx < 0 {
		return nil
	}
	off, err := readDebugOffsetTableEntry(b.data, tablePos, base, uint32(m.MethodIdx))
	if err != nil {
		return err
	}
	if off == 0 {
		return nil
	}
	idx, err := b.internDebugInfo(off)
	if err != nil {
		return err
	}
	b.ir.CodeItems[m.CodeIdx].DebugInfoIdx = idx
	return nil
}
