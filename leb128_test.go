// Copyright 2024 The dexlayout Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

package dex

import "testing"

func TestULEB128RoundTrip(t *testing.T) {
	values := []uint32{0, 1, 0x7f, 0x80, 0x3fff, 0x4000, 0xffffffff, 0x12345678}
	for _, v := range values {
		buf := AppendULEB128(nil, v)
		got, n, err := ReadULEB128(buf)
		if err != nil {
			t.Fatalf("ReadULEB128(%x) failed: %v", v, err)
		}
		if got != v || n != len(buf) {
			t.Errorf("round trip %#x: got value=%#x n=%d, want value=%#x n=%d", v, got, n, v, len(buf))
		}
		if ULEB128Size(v) != len(buf) {
			t.Errorf("ULEB128Size(%#x) = %d, want %d", v, ULEB128Size(v), len(buf))
		}
	}
}

func TestULEB128p1(t *testing.T) {
	tests := []int64{-1, 0, 1, 0x7fffffff}
	for _, v := range tests {
		buf := AppendULEB128p1(nil, v)
		got, _, err := ReadULEB128p1(buf)
		if err != nil {
			t.Fatalf("ReadULEB128p1(%d) failed: %v", v, err)
		}
		if got != v {
			t.Errorf("round trip %d: got %d", v, got)
		}
	}
}

func TestSLEB128RoundTrip(t *testing.T) {
	values := []int32{0, 1, -1, 63, -64, 64, -65, 0x3fffffff, -0x40000000}
	for _, v := range values {
		buf := AppendSLEB128(nil, v)
		got, n, err := ReadSLEB128(buf)
		if err != nil {
			t.Fatalf("ReadSLEB128(%d) failed: %v", v, err)
		}
		if got != v || n != len(buf) {
			t.Errorf("round trip %d: got value=%d n=%d, want value=%d n=%d", v, got, n, v, len(buf))
		}
		if SLEB128Size(v) != len(buf) {
			t.Errorf("SLEB128Size(%d) = %d, want %d", v, SLEB128Size(v), len(buf))
		}
	}
}

func TestReadULEB128Truncated(t *testing.T) {
	if _, _, err := ReadULEB128([]byte{0x80}); err == nil {
		t.Error("expected error decoding a truncated ULEB128")
	}
	if _, _, err := ReadULEB128(nil); err == nil {
		t.Error("expected error decoding an empty buffer")
	}
}

func TestAlign(t *testing.T) {
	tests := []struct {
		offset, pow2, want uint32
	}{
		{0, 4, 0},
		{1, 4, 4},
		{4, 4, 4},
		{5, 4, 8},
		{7, 8, 8},
		{8, 8, 8},
	}
	for _, tt := range tests {
		if got := Align(tt.offset, tt.pow2); got != tt.want {
			t.Errorf("Align(%d, %d) = %d, want %d", tt.offset, tt.pow2, got, tt.want)
		}
	}
}

func TestCountModifiedUTF8Chars(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"abc", 3},
		{"\xc2\x80", 1},     // 2-byte sequence, 1 char
		{"\xe0\xa0\x80", 1}, // 3-byte sequence, 1 char
		{"\xf0\x90\x80\x80", 2}, // 4-byte sequence, surrogate pair = 2 UTF-16 chars
	}
	for _, tt := range tests {
		if got := CountModifiedUTF8Chars([]byte(tt.in)); got != tt.want {
			t.Errorf("CountModifiedUTF8Chars(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestReadWriteFixedWidth(t *testing.T) {
	buf := PutUint16LE(nil, 0xabcd)
	buf = PutUint32LE(buf, 0x01020304)
	buf = PutUint64LE(buf, 0x0102030405060708)

	u16, err := ReadUint16LE(buf, 0)
	if err != nil || u16 != 0xabcd {
		t.Errorf("ReadUint16LE = %#x, %v", u16, err)
	}
	u32, err := ReadUint32LE(buf, 2)
	if err != nil || u32 != 0x01020304 {
		t.Errorf("ReadUint32LE = %#x, %v", u32, err)
	}
	u64, err := ReadUint64LE(buf, 6)
	if err != nil || u64 != 0x0102030405060708 {
		t.Errorf("ReadUint64LE = %#x, %v", u64, err)
	}
	if _, err := ReadUint32LE(buf, uint32(len(buf))); err == nil {
		t.Error("expected out-of-range read to fail")
	}
}
