// Copyright 2024 The dexlayout Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

package dex

// Wire-format constants shared by the builder and both writers.
const (
	// NoIndex is the DEX "no index" sentinel (spec.md glossary, LEB128
	// "plus-one" variant).
	NoIndex = 0xffffffff

	// EndianConstant is the standard-endian tag written into the header.
	EndianConstant = 0x12345678

	// StandardHeaderSize is the fixed size, in bytes, of a standard DEX
	// header (spec.md §4.F).
	StandardHeaderSize = 0x70

	// DataSectionAlignment is the alignment boundary between the id
	// tables and the data section (spec.md §4.F step 2).
	DataSectionAlignment = 8
)

// DexMagic is the standard DEX file magic, "dex\n035\0".
var DexMagic = [8]byte{'d', 'e', 'x', '\n', '0', '3', '5', 0}

// CdexMagic is the compact DEX file magic, "cdex001\0".
var CdexMagic = [8]byte{'c', 'd', 'e', 'x', '0', '0', '1', 0}

// alignment(kind) table (spec.md §4.F "Alignment table (compact view)").
const (
	alignIdTable   = 4
	alignTypeList  = 4
	alignAnnoSet   = 4
	alignAnnoRef   = 4
	alignAnnoDir   = 4
	alignEncArray  = 4
	alignCodeItem  = 4
	alignClassData = 1
	alignStringData = 1
	alignDebugInfo = 1
	alignAnnotation = 1
	alignMapList   = 4

	// alignDebugOffsetTable is the alignment of the CDEX debug-info
	// offset table (spec.md §4.G "resulting byte blob is aligned to the
	// table's alignment"); its header and block-index entries are all
	// uint32-based so word alignment suffices.
	alignDebugOffsetTable = 4
)

// mapItemType values, the `type` field of a map_list entry.
const (
	typeHeaderItem               = 0x0000
	typeStringIdItem             = 0x0001
	typeTypeIdItem               = 0x0002
	typeProtoIdItem              = 0x0003
	typeFieldIdItem              = 0x0004
	typeMethodIdItem             = 0x0005
	typeClassDefItem             = 0x0006
	typeCallSiteIdItem           = 0x0007
	typeMethodHandleItem         = 0x0008
	typeMapList                  = 0x1000
	typeTypeList                 = 0x1001
	typeAnnotationSetRefList     = 0x1002
	typeAnnotationSetItem        = 0x1003
	typeClassDataItem            = 0x2000
	typeCodeItem                 = 0x2001
	typeStringDataItem           = 0x2002
	typeDebugInfoItem            = 0x2003
	typeAnnotationItem           = 0x2004
	typeEncodedArrayItem         = 0x2005
	typeAnnotationsDirectoryItem = 0x2006
	// CDEX-only:
	typeHiddenapiClassData = 0xF000
)
