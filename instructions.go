// Copyright 2024 The dexlayout Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

package dex

// insnFormat identifies a Dalvik instruction's unit layout. Only the
// formats that matter for walking a code stream and extracting index
// fixups are named individually; everything else collapses to its code
// unit width.
type insnFormat int

const (
	fmtUnknown insnFormat = iota
	fmt10x                // width 1, no operands
	fmt12x                // width 1
	fmt11n                // width 1
	fmt11x                // width 1
	fmt10t                // width 1, branch
	fmt20t                // width 2, branch
	fmt22x                // width 2
	fmt21t                // width 2, branch
	fmt21s                // width 2
	fmt21h                // width 2
	fmt21c                // width 2, index16
	fmt23x                // width 2
	fmt22b                // width 2
	fmt22t                // width 2, branch
	fmt22s                // width 2
	fmt22c                // width 2, index16
	fmt30t                // width 3, branch32
	fmt32x                // width 3
	fmt31i                // width 3
	fmt31t                // width 3, payload branch32
	fmt31c                // width 3, index32
	fmt35c                // width 3, index16 + inline regs
	fmt3rc                // width 3, index16 + range
	fmt45cc               // width 4, method index16 + proto index16
	fmt4rcc                // width 4, method index16 + proto index16, range
	fmt51l                // width 5
)

// indexKind identifies which id table a 21c/22c/31c/35c/3rc/45cc/4rcc
// instruction's index operand refers to. Matches spec.md §4.D step 5 and
// §9's "enumerate the exact supported formats" instruction: every other
// instruction format is "no fixup".
type indexKind int

const (
	idxNone indexKind = iota
	idxString
	idxType
	idxField
	idxMethod
	idxMethodAndProto // invoke-polymorphic: carries both a method and a proto index
	idxCallSite
	idxMethodHandle
	idxProtoOnly // const-method-type
)

type opcodeInfo struct {
	format insnFormat
	index  indexKind
}

// opcodeTable maps a Dalvik opcode byte to its format and, where
// applicable, the kind of id-table index its operand carries. Opcodes not
// populated default to fmt10x/idxNone (single-unit, no fixup), which is a
// safe width for the reserved/unused ranges of the instruction set: they
// are never produced by this module's own encoder, so the only consumer
// that ever walks them is the builder re-parsing this module's own
// output.
var opcodeTable = buildOpcodeTable()

func buildOpcodeTable() [256]opcodeInfo {
	var t [256]opcodeInfo
	for i := range t {
		t[i] = opcodeInfo{format: fmt10x}
	}
	set := func(op byte, f insnFormat, k indexKind) { t[op] = opcodeInfo{format: f, index: k} }

	set(0x00, fmt10x, idxNone) // nop (and payload pseudo-instructions, handled specially)
	for op := byte(0x01); op <= 0x09; op++ {
		switch op {
		case 0x01, 0x04, 0x07:
			set(op, fmt12x, idxNone)
		case 0x02, 0x05, 0x08:
			set(op, fmt22x, idxNone)
		case 0x03, 0x06, 0x09:
			set(op, fmt32x, idxNone)
		}
	}
	for op := byte(0x0a); op <= 0x0d; op++ {
		set(op, fmt11x, idxNone)
	}
	set(0x0e, fmt10x, idxNone)
	for op := byte(0x0f); op <= 0x11; op++ {
		set(op, fmt11x, idxNone)
	}
	set(0x12, fmt11n, idxNone)
	set(0x13, fmt21s, idxNone)
	set(0x14, fmt31i, idxNone)
	set(0x15, fmt21h, idxNone)
	set(0x16, fmt21s, idxNone)
	set(0x17, fmt31i, idxNone)
	set(0x18, fmt51l, idxNone)
	set(0x19, fmt21h, idxNone)
	set(0x1a, fmt21c, idxString)
	set(0x1b, fmt31c, idxString)
	set(0x1c, fmt21c, idxType)
	set(0x1d, fmt11x, idxNone)
	set(0x1e, fmt11x, idxNone)
	set(0x1f, fmt21c, idxType)
	set(0x20, fmt22c, idxType)
	set(0x21, fmt12x, idxNone)
	set(0x22, fmt21c, idxType)
	set(0x23, fmt22c, idxType)
	set(0x24, fmt35c, idxType)
	set(0x25, fmt3rc, idxType)
	set(0x26, fmt31t, idxNone) // fill-array-data
	set(0x27, fmt11x, idxNone)
	set(0x28, fmt10t, idxNone)
	set(0x29, fmt20t, idxNone)
	set(0x2a, fmt30t, idxNone)
	set(0x2b, fmt31t, idxNone) // packed-switch
	set(0x2c, fmt31t, idxNone) // sparse-switch
	for op := byte(0x2d); op <= 0x31; op++ {
		set(op, fmt23x, idxNone)
	}
	for op := byte(0x32); op <= 0x37; op++ {
		set(op, fmt22t, idxNone)
	}
	for op := byte(0x38); op <= 0x3d; op++ {
		set(op, fmt21t, idxNone)
	}
	for op := byte(0x44); op <= 0x51; op++ {
		set(op, fmt23x, idxNone)
	}
	for op := byte(0x52); op <= 0x5f; op++ {
		set(op, fmt22c, idxField)
	}
	for op := byte(0x60); op <= 0x6d; op++ {
		set(op, fmt21c, idxField)
	}
	for op := byte(0x6e); op <= 0x72; op++ {
		set(op, fmt35c, idxMethod)
	}
	for op := byte(0x74); op <= 0x78; op++ {
		set(op, fmt3rc, idxMethod)
	}
	for op := byte(0x7b); op <= 0x8f; op++ {
		set(op, fmt12x, idxNone)
	}
	for op := byte(0x90); op <= 0xaf; op++ {
		set(op, fmt23x, idxNone)
	}
	for op := byte(0xb0); op <= 0xcf; op++ {
		set(op, fmt12x, idxNone)
	}
	for op := byte(0xd0); op <= 0xd7; op++ {
		set(op, fmt22s, idxNone)
	}
	for op := byte(0xd8); op <= 0xe2; op++ {
		set(op, fmt22b, idxNone)
	}
	set(0xfa, fmt45cc, idxMethodAndProto)
	set(0xfb, fmt4rcc, idxMethodAndProto)
	set(0xfc, fmt35c, idxCallSite)
	set(0xfd, fmt3rc, idxCallSite)
	set(0xfe, fmt21c, idxMethodHandle)
	set(0xff, fmt21c, idxProtoOnly)
	return t
}

func formatWidth(f insnFormat) int {
	switch f {
	case fmt10x, fmt12x, fmt11n, fmt11x, fmt10t:
		return 1
	case fmt20t, fmt22x, fmt21t, fmt21s, fmt21h, fmt21c, fmt23x, fmt22b, fmt22t, fmt22s, fmt22c:
		return 2
	case fmt30t, fmt32x, fmt31i, fmt31t, fmt31c, fmt35c, fmt3rc:
		return 3
	case fmt45cc, fmt4rcc:
		return 4
	case fmt51l:
		return 5
	default:
		return 1
	}
}

const (
	payloadPackedSwitch   uint16 = 0x0100
	payloadSparseSwitch   uint16 = 0x0200
	payloadFillArrayData  uint16 = 0x0300
)

// payloadLen returns the length, in 16-bit code units, of the payload
// pseudo-instruction beginning at insns[pos], given its ident marker. It
// returns 0 if insns is too short to contain a well-formed payload header,
// signaling malformed input to the caller.
func payloadLen(insns []uint16, pos int) int {
	if pos >= len(insns) {
		return 0
	}
	switch insns[pos] {
	case payloadPackedSwitch:
		if pos+1 >= len(insns) {
			return 0
		}
		size := int(insns[pos+1])
		return 4 + 2*size
	case payloadSparseSwitch:
		if pos+1 >= len(insns) {
			return 0
		}
		size := int(insns[pos+1])
		return 2 + 4*size
	case payloadFillArrayData:
		if pos+3 >= len(insns) {
			return 0
		}
		elemWidth := int(insns[pos+1])
		size := int(insns[pos+2]) | int(insns[pos+3])<<16
		dataUnits := (elemWidth*size + 1) / 2
		return 4 + dataUnits
	default:
		return 0
	}
}

// scanFixups walks insns, a verbatim Dalvik instruction stream, using the
// safe iterator described in spec.md §4.D/§9: it halts (stops scanning,
// does not error) on the first opcode it cannot account for, recording
// whatever fixups were gathered up to that point. Unknown index-carrying
// formats never occur (every opcode with an index operand is enumerated
// in opcodeTable); unrecognized *non-index* opcodes still advance safely
// because every table entry has a valid width.
func scanFixups(insns []uint16) CodeFixups {
	fx := newCodeFixups()
	pos := 0
	for pos < len(insns) {
		unit := insns[pos]
		op := byte(unit)
		if op == 0 && (unit == payloadPackedSwitch || unit == payloadSparseSwitch || unit == payloadFillArrayData) {
			n := payloadLen(insns, pos)
			if n == 0 {
				return fx // malformed payload header: stop scanning, keep what we have
			}
			pos += n
			continue
		}
		info := opcodeTable[op]
		width := formatWidth(info.format)
		if pos+width > len(insns) {
			return fx // truncated instruction: stop scanning
		}
		switch info.index {
		case idxString:
			fx.Strings[int(operandIndex(insns, pos, info.format))] = struct{}{}
		case idxType:
			fx.Types[int(operandIndex(insns, pos, info.format))] = struct{}{}
		case idxField:
			fx.Fields[int(operandIndex(insns, pos, info.format))] = struct{}{}
		case idxMethod:
			fx.Methods[int(operandIndex(insns, pos, info.format))] = struct{}{}
		case idxMethodAndProto:
			fx.Methods[int(insns[pos+1])] = struct{}{}
			// proto index has no dedicated fixup set in spec.md §3; method
			// coverage is sufficient for the layout queries it drives.
		case idxCallSite, idxMethodHandle, idxProtoOnly, idxNone:
			// no fixup recorded, matching "unrecognized index formats are
			// ignored (forward compatibility)" for kinds layout.go never
			// queries by call-site/method-handle/proto identity.
		}
		pos += width
	}
	return fx
}

// operandIndex extracts the 16-bit (21c/22c) or 32-bit (31c) index operand
// at pos, for the formats that always place their index immediately after
// the opcode unit. 35c/3rc carry their index in the second unit too.
func operandIndex(insns []uint16, pos int, f insnFormat) uint32 {
	switch f {
	case fmt21c, fmt22c, fmt35c, fmt3rc:
		return uint32(insns[pos+1])
	case fmt31c:
		return uint32(insns[pos+1]) | uint32(insns[pos+2])<<16
	default:
		return 0
	}
}

// insnStreamUnits returns the total code-unit length of one instruction
// of each of the given formats; payload pseudo-instructions are not
// counted.
func insnStreamUnits(formats []insnFormat) int {
	n := 0
	for _, f := range formats {
		n += formatWidth(f)
	}
	return n
}
