// Copyright 2024 The dexlayout Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

package dex

import "encoding/binary"

// ReadULEB128 decodes an unsigned LEB128 value starting at data[0] and
// returns the value and the number of bytes consumed. It returns
// ErrMalformedInput if data ends before a terminating byte is found.
func ReadULEB128(data []byte) (value uint32, n int, err error) {
	var shift uint
	for {
		if n >= len(data) {
			return 0, 0, ErrMalformedInput
		}
		b := data[n]
		n++
		value |= uint32(b&0x7f) << shift
		if b&0x80 == 0 {
			return value, n, nil
		}
		shift += 7
		if shift >= 35 {
			return 0, 0, ErrMalformedInput
		}
	}
}

// ReadULEB128p1 decodes the "plus one" variant, where the encoded value is
// x+1 and 0 (i.e. decoded value -1) represents "no index". The returned
// value is a signed int64 so -1 is representable.
func ReadULEB128p1(data []byte) (value int64, n int, err error) {
	u, n, err := ReadULEB128(data)
	if err != nil {
		return 0, 0, err
	}
	return int64(u) - 1, n, nil
}

// ReadSLEB128 decodes a signed LEB128 value.
func ReadSLEB128(data []byte) (value int32, n int, err error) {
	var result int32
	var shift uint
	var b byte
	for {
		if n >= len(data) {
			return 0, 0, ErrMalformedInput
		}
		b = data[n]
		n++
		result |= int32(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
		if shift >= 35 {
			return 0, 0, ErrMalformedInput
		}
	}
	if shift < 32 && b&0x40 != 0 {
		result |= -int32(1) << shift
	}
	return result, n, nil
}

// AppendULEB128 appends the ULEB128 encoding of v to buf and returns the
// extended slice.
func AppendULEB128(buf []byte, v uint32) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			buf = append(buf, b|0x80)
		} else {
			buf = append(buf, b)
			return buf
		}
	}
}

// AppendULEB128p1 appends the "plus one" encoding of v (v may be -1 for
// "no index").
func AppendULEB128p1(buf []byte, v int64) []byte {
	return AppendULEB128(buf, uint32(v+1))
}

// AppendSLEB128 appends the SLEB128 encoding of v to buf.
func AppendSLEB128(buf []byte, v int32) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		signBitSet := b&0x40 != 0
		if (v == 0 && !signBitSet) || (v == -1 && signBitSet) {
			buf = append(buf, b)
			return buf
		}
		buf = append(buf, b|0x80)
	}
}

// ULEB128Size returns the number of bytes AppendULEB128 would emit for v.
func ULEB128Size(v uint32) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

// SLEB128Size returns the number of bytes AppendSLEB128 would emit for v.
func SLEB128Size(v int32) int {
	n := 0
	more := true
	for more {
		b := byte(v & 0x7f)
		v >>= 7
		signBitSet := b&0x40 != 0
		if (v == 0 && !signBitSet) || (v == -1 && signBitSet) {
			more = false
		}
		n++
	}
	return n
}

// Align rounds offset up to the next multiple of pow2, which must be a
// power of two.
func Align(offset uint32, pow2 uint32) uint32 {
	return (offset + pow2 - 1) &^ (pow2 - 1)
}

// CountModifiedUTF8Chars returns the number of decoded code points in a
// modified-UTF-8 (MUTF-8) byte sequence, matching the DEX string_data_item
// char count convention (surrogate pairs for values outside the BMP count
// as two chars, matching Java's UTF-16 char semantics).
func CountModifiedUTF8Chars(b []byte) int {
	count := 0
	for i := 0; i < len(b); {
		c := b[i]
		switch {
		case c == 0:
			return count
		case c&0x80 == 0:
			i++
		case c&0xe0 == 0xc0:
			i += 2
		case c&0xf0 == 0xe0:
			i += 3
		case c&0xf8 == 0xf0:
			i += 4
			count++ // surrogate pair contributes a second UTF-16 code unit
		default:
			i++
		}
		count++
	}
	return count
}

// ReadUint16LE reads a little-endian uint16 at offset.
func ReadUint16LE(data []byte, offset uint32) (uint16, error) {
	if uint64(offset)+2 > uint64(len(data)) {
		return 0, ErrMalformedInput
	}
	return binary.LittleEndian.Uint16(data[offset:]), nil
}

// ReadUint32LE reads a little-endian uint32 at offset.
func ReadUint32LE(data []byte, offset uint32) (uint32, error) {
	if uint64(offset)+4 > uint64(len(data)) {
		return 0, ErrMalformedInput
	}
	return binary.LittleEndian.Uint32(data[offset:]), nil
}

// ReadUint64LE reads a little-endian uint64 at offset.
func ReadUint64LE(data []byte, offset uint32) (uint64, error) {
	if uint64(offset)+8 > uint64(len(data)) {
		return 0, ErrMalformedInput
	}
	return binary.LittleEndian.Uint64(data[offset:]), nil
}

// PutUint16LE appends a little-endian uint16 to buf.
func PutUint16LE(buf []byte, v uint16) []byte {
	return append(buf, byte(v), byte(v>>8))
}

// PutUint32LE appends a little-endian uint32 to buf.
func PutUint32LE(buf []byte, v uint32) []byte {
	return append(buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

// PutUint64LE appends a little-endian uint64 to buf.
func PutUint64LE(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}
