// Copyright 2024 The dexlayout Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

package dex

// Item is embedded by every IR entity (spec.md §3). Offset is the
// sentinel 0 until a writer commits the item's location; Size is the
// number of bytes the item occupies on disk once written.
type Item struct {
	Offset uint32
	Size   uint32
}

// IndexedItem is embedded by entities that additionally carry a dense,
// layout-stable index: string-ids, type-ids, proto-ids, field-ids,
// method-ids, class-defs, call-site-ids, method-handles.
type IndexedItem struct {
	Item
	Index uint32
}

// StringData is a modified-UTF-8 payload. Data does not include the
// leading ULEB128 char-count; that count is derived with
// CountModifiedUTF8Chars when the item is written.
type StringData struct {
	Item
	Data []byte
}

// StringId references a StringData 1:1.
type StringId struct {
	IndexedItem
	DataIdx int
}

// TypeId references a descriptor StringId.
type TypeId struct {
	IndexedItem
	DescriptorIdx int
}

// ProtoId references a shorty StringId, a return TypeId, and an optional
// parameters TypeList.
type ProtoId struct {
	IndexedItem
	ShortyIdx     int
	ReturnTypeIdx int
	ParametersIdx int // -1 if no parameter list
}

// FieldId references a class TypeId, a type TypeId, and a name StringId.
type FieldId struct {
	IndexedItem
	ClassIdx int
	TypeIdx  int
	NameIdx  int
}

// MethodId references a class TypeId, a ProtoId, and a name StringId.
type MethodId struct {
	IndexedItem
	ClassIdx int
	ProtoIdx int
	NameIdx  int
}

// TypeList is an ordered sequence of TypeId references, content-addressed
// by offset in the source file during build.
type TypeList struct {
	Item
	TypeIdxs []int
}

// ValueTag is the tag of an EncodedValue tagged union.
type ValueTag uint8

const (
	ValueByte ValueTag = iota
	ValueShort
	ValueChar
	ValueInt
	ValueLong
	ValueFloat
	ValueDouble
	ValueMethodType
	ValueMethodHandle
	ValueString
	ValueType
	ValueField
	ValueMethod
	ValueEnum
	ValueArray
	ValueAnnotation
	ValueNull
	ValueBoolean
)

// EncodedValue is a tagged union over the value kinds DEX supports.
// Integers and floating-point values are carried in IntBits (trailing-zero
// elision for integers and leading-zero elision for float/double is a
// property of the *encoding*, not of this in-memory representation, so
// comparisons here are exact bit comparisons, matching §4.I's "compared as
// their integer encodings to avoid NaN pitfalls").
type EncodedValue struct {
	Tag        ValueTag
	IntBits    int64 // Byte/Short/Char/Int/Long/Float/Double (bit pattern)
	BoolVal    bool
	StringIdx  int
	TypeIdx    int
	FieldIdx   int // Field and Enum
	MethodIdx  int
	ProtoIdx   int // MethodType
	HandleIdx  int // MethodHandle
	Array      []EncodedValue
	Annotation *EncodedAnnotation
}

// AnnotationElement is one (name, value) pair of an EncodedAnnotation.
type AnnotationElement struct {
	NameIdx int
	Value   EncodedValue
}

// EncodedAnnotation is (TypeId, ordered (name, value) pairs).
type EncodedAnnotation struct {
	TypeIdx  int
	Elements []AnnotationElement
}

// AnnotationItem is (visibility, EncodedAnnotation).
type AnnotationItem struct {
	Item
	Visibility uint8
	Annotation EncodedAnnotation
}

// Annotation visibility values.
const (
	VisibilityBuild   uint8 = 0x00
	VisibilityRuntime uint8 = 0x01
	VisibilitySystem  uint8 = 0x02
)

// AnnotationSetItem is a set of AnnotationItem references.
type AnnotationSetItem struct {
	Item
	AnnotationIdxs []int
}

// AnnotationSetRefList is an ordered, nullable sequence of
// AnnotationSetItem references.
type AnnotationSetRefList struct {
	Item
	SetIdxs []int // -1 for a null slot
}

// FieldAnnotation associates a field-id with an annotation set.
type FieldAnnotation struct {
	FieldIdx int
	SetIdx   int
}

// MethodAnnotation associates a method-id with an annotation set.
type MethodAnnotation struct {
	MethodIdx int
	SetIdx    int
}

// ParameterAnnotation associates a method-id with an annotation
// set-ref-list over its parameters.
type ParameterAnnotation struct {
	MethodIdx  int
	RefListIdx int
}

// AnnotationsDirectoryItem is the per-class bundle of annotations.
type AnnotationsDirectoryItem struct {
	Item
	ClassAnnotationIdx  int // -1 if none
	FieldAnnotations    []FieldAnnotation
	MethodAnnotations   []MethodAnnotation
	ParamAnnotations    []ParameterAnnotation
}

// TypeAddrPair is one (type, address) row of a CatchHandler.
type TypeAddrPair struct {
	TypeIdx int // -1 denotes the catch-all slot is represented separately
	Addr    uint32
}

// CatchHandler is one exception-table handler set, shared across TryItems
// that reference the same source offset (§3 "TryItem/CatchHandler... by-
// offset identity map").
type CatchHandler struct {
	Offset      uint32 // file offset of the handler in the source, for sharing identity
	Pairs       []TypeAddrPair
	HasCatchAll bool
	CatchAllAddr uint32
}

// TryItem is one exception-table row.
type TryItem struct {
	StartAddr  uint32
	InsnCount  uint16
	HandlerIdx int // index into the owning CodeItem's Handlers
}

// CodeFixups caches the id-table references a CodeItem's bytecode touches,
// gathered once during IR build (spec.md §4.D step 5) so layout queries
// like "is this string reached by a hot method" are O(1) set membership
// instead of a bytecode re-scan.
type CodeFixups struct {
	Strings map[int]struct{}
	Types   map[int]struct{}
	Methods map[int]struct{}
	Fields  map[int]struct{}
}

func newCodeFixups() CodeFixups {
	return CodeFixups{
		Strings: map[int]struct{}{},
		Types:   map[int]struct{}{},
		Methods: map[int]struct{}{},
		Fields:  map[int]struct{}{},
	}
}

// CodeItem is a method body: registers/ins/outs/tries counts, optional
// debug info, the verbatim instruction stream, and an exception table.
type CodeItem struct {
	Item
	RegistersSize uint16
	InsSize       uint16
	OutsSize      uint16
	DebugInfoIdx  int // -1 if none
	Insns         []uint16
	Tries         []TryItem
	Handlers      []CatchHandler
	Fixups        CodeFixups
}

// TriesSize is the on-disk tries_size field, derived from len(Tries).
func (c *CodeItem) TriesSize() uint16 { return uint16(len(c.Tries)) }

// InsnsSizeCodeUnits is the on-disk insns_size field: the instruction
// stream length in 16-bit code units.
func (c *CodeItem) InsnsSizeCodeUnits() uint32 { return uint32(len(c.Insns)) }

// DebugInfoItem is a raw opaque byte stream, decoded only for size
// computation by debugInfoStreamLen in builder.go.
type DebugInfoItem struct {
	Item
	Data []byte
}

// EncodedField is one (access-flags, field-id) record in a ClassData
// field list.
type EncodedField struct {
	FieldIdx    int
	AccessFlags uint32
}

// EncodedMethod is one (access-flags, method-id, code) record in a
// ClassData method list.
type EncodedMethod struct {
	MethodIdx   int
	AccessFlags uint32
	CodeIdx     int // -1 for abstract/native methods
}

// ClassData is the four ordered field/method sequences of one class.
type ClassData struct {
	Item
	StaticFields   []EncodedField
	InstanceFields []EncodedField
	DirectMethods  []EncodedMethod
	VirtualMethods []EncodedMethod
}

// EncodedArrayItem wraps the encoded_array used for a class's static
// field initial values.
type EncodedArrayItem struct {
	Item
	Values []EncodedValue
}

// ClassDef is one class_def_item. class-defs are indexed items; Layout may
// reorder them and then renumbers Index to the new position (invariant 1,
// spec.md §3).
type ClassDef struct {
	IndexedItem
	ClassIdx        int // TypeId index for this class itself
	AccessFlags     uint32
	SuperclassIdx   int // -1 if none
	InterfacesIdx   int // -1 if none, else TypeList index
	SourceFileIdx   int // -1 if none, else StringId index
	AnnotationsIdx  int // -1 if none, else AnnotationsDirectoryItem index
	ClassDataIdx    int // -1 if none, else ClassData index
	StaticValuesIdx int // -1 if none, else EncodedArrayItem index
}

// CallSiteId references the encoded_array describing a bootstrap method
// invocation.
type CallSiteId struct {
	IndexedItem
	EncodedArrayIdx int
}

// MethodHandleItem is one method_handle_item.
type MethodHandleItem struct {
	IndexedItem
	HandleType  uint16
	FieldOrMIdx int // field-id or method-id index, per HandleType
}

// MapItem is one row of the MapList.
type MapItem struct {
	Type   uint16
	Size   uint32
	Offset uint32
}

// MapList enumerates every non-empty section exactly once, in ascending
// offset order (invariant 6, spec.md §3).
type MapList struct {
	Item
	Items []MapItem
}

// Header carries the top-level fields not otherwise derivable from
// collection lengths: magic/checksum/signature/link-data, plus the
// CDEX-only extension fields (zero when IsCompact is false).
type Header struct {
	Magic     [8]byte
	Checksum  uint32
	Signature [20]byte
	EndianTag uint32
	LinkSize  uint32
	LinkOff   uint32
	LinkData  []byte

	IsCompact                   bool
	OwnedDataBegin              uint32
	OwnedDataEnd                uint32
	DebugInfoOffsetsPos         uint32
	DebugInfoOffsetsTableOffset uint32
	DebugInfoBase               uint32
	FeatureFlags                uint32
}

// IR is the in-memory forest of DEX items (spec.md §3). Every cross-
// reference is a plain int index into the owning collection's slice:
// there are no pointers between items, so an IR is trivially copied,
// diffed, and garbage-collected, matching §9's "arena + stable index"
// guidance.
type IR struct {
	Header Header

	StringDatas []StringData
	StringIds   []StringId
	TypeIds     []TypeId
	ProtoIds    []ProtoId
	FieldIds    []FieldId
	MethodIds   []MethodId
	ClassDefs   []ClassDef

	TypeLists              []TypeList
	EncodedArrays          []EncodedArrayItem
	Annotations            []AnnotationItem
	AnnotationSets         []AnnotationSetItem
	AnnotationSetRefLists  []AnnotationSetRefList
	AnnotationsDirectories []AnnotationsDirectoryItem
	ClassDatas             []ClassData
	CodeItems              []CodeItem
	DebugInfos             []DebugInfoItem

	CallSiteIds   []CallSiteId
	MethodHandles []MethodHandleItem

	Map MapList
}

// ItemKind identifies an item collection for the traversal visitor.
type ItemKind int

const (
	KindStringData ItemKind = iota
	KindStringId
	KindTypeId
	KindProtoId
	KindFieldId
	KindMethodId
	KindClassDef
	KindTypeList
	KindEncodedArray
	KindAnnotation
	KindAnnotationSet
	KindAnnotationSetRefList
	KindAnnotationsDirectory
	KindClassData
	KindCodeItem
	KindDebugInfo
	KindCallSiteId
	KindMethodHandle
	KindMapList
)

func (k ItemKind) String() string {
	switch k {
	case KindStringData:
		return "string_data"
	case KindStringId:
		return "string_id"
	case KindTypeId:
		return "type_id"
	case KindProtoId:
		return "proto_id"
	case KindFieldId:
		return "field_id"
	case KindMethodId:
		return "method_id"
	case KindClassDef:
		return "class_def"
	case KindTypeList:
		return "type_list"
	case KindEncodedArray:
		return "encoded_array"
	case KindAnnotation:
		return "annotation"
	case KindAnnotationSet:
		return "annotation_set"
	case KindAnnotationSetRefList:
		return "annotation_set_ref_list"
	case KindAnnotationsDirectory:
		return "annotations_directory"
	case KindClassData:
		return "class_data"
	case KindCodeItem:
		return "code_item"
	case KindDebugInfo:
		return "debug_info"
	case KindCallSiteId:
		return "call_site_id"
	case KindMethodHandle:
		return "method_handle"
	case KindMapList:
		return "map_list"
	default:
		return "unknown"
	}
}

// Visitor is called once per item by IR.Walk, in the stable order needed
// by the verifier (spec.md §4.C).
type Visitor interface {
	Visit(kind ItemKind, index int, offset, size uint32)
}

// Walk visits every item in the IR in a stable traversal order: string
// data first, then the id tables (string, type, proto, field, method,
// class-def), then the remaining by-offset sections, then the map list.
// Indexed collections are visited in index order; non-indexed collections
// in slice order (the order the builder created them in, and layout order
// after §4.H runs).
func (ir *IR) Walk(v Visitor) {
	for i := range ir.StringDatas {
		v.Visit(KindStringData, i, ir.StringDatas[i].Offset, ir.StringDatas[i].Size)
	}
	for i := range ir.StringIds {
		v.Visit(KindStringId, i, ir.StringIds[i].Offset, ir.StringIds[i].Size)
	}
	for i := range ir.TypeIds {
		v.Visit(KindTypeId, i, ir.TypeIds[i].Offset, ir.TypeIds[i].Size)
	}
	for i := range ir.ProtoIds {
		v.Visit(KindProtoId, i, ir.ProtoIds[i].Offset, ir.ProtoIds[i].Size)
	}
	for i := range ir.FieldIds {
		v.Visit(KindFieldId, i, ir.FieldIds[i].Offset, ir.FieldIds[i].Size)
	}
	for i := range ir.MethodIds {
		v.Visit(KindMethodId, i, ir.MethodIds[i].Offset, ir.MethodIds[i].Size)
	}
	for i := range ir.ClassDefs {
		v.Visit(KindClassDef, i, ir.ClassDefs[i].Offset, ir.ClassDefs[i].Size)
	}
	for i := range ir.TypeLists {
		v.Visit(KindTypeList, i, ir.TypeLists[i].Offset, ir.TypeLists[i].Size)
	}
	for i := range ir.EncodedArrays {
		v.Visit(KindEncodedArray, i, ir.EncodedArrays[i].Offset, ir.EncodedArrays[i].Size)
	}
	for i := range ir.Annotations {
		v.Visit(KindAnnotation, i, ir.Annotations[i].Offset, ir.Annotations[i].Size)
	}
	for i := range ir.AnnotationSets {
		v.Visit(KindAnnotationSet, i, ir.AnnotationSets[i].Offset, ir.AnnotationSets[i].Size)
	}
	for i := range ir.AnnotationSetRefLists {
		v.Visit(KindAnnotationSetRefList, i, ir.AnnotationSetRefLists[i].Offset, ir.AnnotationSetRefLists[i].Size)
	}
	for i := range ir.AnnotationsDirectories {
		v.Visit(KindAnnotationsDirectory, i, ir.AnnotationsDirectories[i].Offset, ir.AnnotationsDirectories[i].Size)
	}
	for i := range ir.ClassDatas {
		v.Visit(KindClassData, i, ir.ClassDatas[i].Offset, ir.ClassDatas[i].Size)
	}
	for i := range ir.CodeItems {
		v.Visit(KindCodeItem, i, ir.CodeItems[i].Offset, ir.CodeItems[i].Size)
	}
	for i := range ir.DebugInfos {
		v.Visit(KindDebugInfo, i, ir.DebugInfos[i].Offset, ir.DebugInfos[i].Size)
	}
	for i := range ir.CallSiteIds {
		v.Visit(KindCallSiteId, i, ir.CallSiteIds[i].Offset, ir.CallSiteIds[i].Size)
	}
	for i := range ir.MethodHandles {
		v.Visit(KindMethodHandle, i, ir.MethodHandles[i].Offset, ir.MethodHandles[i].Size)
	}
	v.Visit(KindMapList, 0, ir.Map.Offset, ir.Map.Size)
}

// sectionSizeVisitor accumulates total bytes per ItemKind.
type sectionSizeVisitor struct {
	sizes map[string]uint32
}

func (s *sectionSizeVisitor) Visit(kind ItemKind, index int, offset, size uint32) {
	s.sizes[kind.String()] += size
}

// SectionSizes reports the total byte size of each non-empty section,
// keyed by section name. Read-only and cheap; it reports the totals
// without building a full human-readable reporter. The CLI does not
// expose it.
func (ir *IR) SectionSizes() map[string]uint32 {
	v := &sectionSizeVisitor{sizes: map[string]uint32{}}
	ir.Walk(v)
	out := map[string]uint32{}
	for k, n := range v.sizes {
		if n > 0 {
			out[k] = n
		}
	}
	return out
}

// IsConstructorMethod reports whether access flags mark a <clinit>/<init>
// style constructor. layout.go identifies clinits with IsStaticConstructor.
func IsConstructorMethod(accessFlags uint32) bool {
	return accessFlags&AccConstructor != 0
}

// IsStaticConstructor reports whether access flags mark a static
// initializer (<clinit>), i.e. (Constructor | Static).
func IsStaticConstructor(accessFlags uint32) bool {
	const want = AccConstructor | AccStatic
	return accessFlags&want == want
}

// Access flag bits relevant to layout and class-data decoding.
const (
	AccPublic       uint32 = 0x1
	AccPrivate      uint32 = 0x2
	AccProtected    uint32 = 0x4
	AccStatic       uint32 = 0x8
	AccFinal        uint32 = 0x10
	AccSynchronized uint32 = 0x20
	AccInterface    uint32 = 0x200
	AccAbstract     uint32 = 0x400
	AccNative       uint32 = 0x100
	AccConstructor  uint32 = 0x10000
)
