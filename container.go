// Copyright 2024 The dexlayout Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

package dex

// SectionKind identifies one of a Container's two byte sections.
type SectionKind int

const (
	// MainSection holds the header and id tables (and, for standard DEX,
	// everything else too).
	MainSection SectionKind = iota
	// DataSection holds code items, string data, and the other
	// variable-length "data section" items; only separate from
	// MainSection in practice when a CDEX splits them physically.
	DataSection
)

func (k SectionKind) String() string {
	if k == MainSection {
		return "main"
	}
	return "data"
}

// growthFactor is the geometric growth factor a Section's backing store
// grows by on overflow, matching §4.B's "3/2 geometric factor".
const growthFactor = 3.0 / 2.0

// section is a resizable byte buffer. Section is grown explicitly by
// growthFactor rather than relying on append's unspecified growth ratio,
// keeping the growth behavior spec-exact.
type section struct {
	buf []byte
	len uint32 // populated length; buf may have extra zeroed capacity
}

func newSection(initialCap uint32) *section {
	if initialCap == 0 {
		initialCap = 256
	}
	return &section{buf: make([]byte, 0, initialCap)}
}

func (s *section) ensure(end uint32) error {
	if end <= uint32(cap(s.buf)) {
		if end > uint32(len(s.buf)) {
			s.buf = s.buf[:end]
		}
		if end > s.len {
			s.len = end
		}
		return nil
	}
	newCap := uint32(cap(s.buf))
	if newCap == 0 {
		newCap = 256
	}
	for newCap < end {
		grown := uint32(float64(newCap) * growthFactor)
		if grown <= newCap {
			grown = newCap + 256
		}
		newCap = grown
	}
	nb := make([]byte, end, newCap)
	copy(nb, s.buf)
	s.buf = nb
	if end > s.len {
		s.len = end
	}
	return nil
}

func (s *section) Len() uint32 { return s.len }

func (s *section) Bytes() []byte { return s.buf[:s.len] }

// isZero reports whether data[start:end) is entirely zero.
func isZero(data []byte) bool {
	for _, b := range data {
		if b != 0 {
			return false
		}
	}
	return true
}

// Container owns the two byte sections a DEX (or CDEX) emission writes
// into, per spec.md §4.B.
type Container struct {
	Main *section
	Data *section
}

// NewContainer returns an empty two-section container.
func NewContainer() *Container {
	return &Container{Main: newSection(4096), Data: newSection(4096)}
}

func (c *Container) section(kind SectionKind) *section {
	if kind == MainSection {
		return c.Main
	}
	return c.Data
}

// Stream is a single-threaded cursor over one Container section. It is the
// only way to write into a section: every offset-assigning write in the
// writers goes through a Stream.
type Stream struct {
	c    *Container
	kind SectionKind
	pos  uint32
}

// NewStream returns a Stream positioned at 0 over the given section.
func NewStream(c *Container, kind SectionKind) *Stream {
	return &Stream{c: c, kind: kind}
}

// Tell returns the current cursor position.
func (s *Stream) Tell() uint32 { return s.pos }

// Seek moves the cursor to pos. Seeking past the current length is legal;
// the next Write grows the section and implicitly zero-fills the gap.
func (s *Stream) Seek(pos uint32) { s.pos = pos }

// Kind returns which section this stream is over.
func (s *Stream) Kind() SectionKind { return s.kind }

// Len returns the current populated length of the underlying section.
func (s *Stream) Len() uint32 { return s.c.section(s.kind).Len() }

// Bytes returns the populated bytes of the underlying section.
func (s *Stream) Bytes() []byte { return s.c.section(s.kind).Bytes() }

// Skip advances the cursor by n bytes without writing, growing the section
// (zero-filled) if necessary. Used for "reserve-only" passes (§4.F).
func (s *Stream) Skip(n uint32) error {
	sec := s.c.section(s.kind)
	if err := sec.ensure(s.pos + n); err != nil {
		return err
	}
	s.pos += n
	return nil
}

// Write writes data at the cursor and advances it. It asserts the target
// range is currently all-zero (i.e. forbids an accidental double-write);
// use Overwrite to bypass that check.
func (s *Stream) Write(data []byte) error {
	sec := s.c.section(s.kind)
	end := s.pos + uint32(len(data))
	if err := sec.ensure(end); err != nil {
		return err
	}
	dst := sec.buf[s.pos:end]
	if !isZero(dst) {
		return ErrDoubleWrite
	}
	copy(dst, data)
	s.pos = end
	return nil
}

// Overwrite writes data at the cursor and advances it without the
// zero-range assertion Write makes. Used by the writers' header commit,
// where the range reserved with Skip is later filled with real values.
func (s *Stream) Overwrite(data []byte) error {
	sec := s.c.section(s.kind)
	end := s.pos + uint32(len(data))
	if err := sec.ensure(end); err != nil {
		return err
	}
	copy(sec.buf[s.pos:end], data)
	s.pos = end
	return nil
}

// Clear zero-fills [pos, pos+n) without moving the cursor.
func (s *Stream) Clear(pos, n uint32) error {
	sec := s.c.section(s.kind)
	end := pos + n
	if err := sec.ensure(end); err != nil {
		return err
	}
	for i := pos; i < end; i++ {
		sec.buf[i] = 0
	}
	return nil
}

// WriteULEB128 appends the ULEB128 encoding of v.
func (s *Stream) WriteULEB128(v uint32) error {
	var tmp [5]byte
	buf := AppendULEB128(tmp[:0], v)
	return s.Write(buf)
}

// WriteULEB128p1 appends the "plus one" ULEB128 encoding of v.
func (s *Stream) WriteULEB128p1(v int64) error {
	var tmp [5]byte
	buf := AppendULEB128p1(tmp[:0], v)
	return s.Write(buf)
}

// WriteSLEB128 appends the SLEB128 encoding of v.
func (s *Stream) WriteSLEB128(v int32) error {
	var tmp [5]byte
	buf := AppendSLEB128(tmp[:0], v)
	return s.Write(buf)
}

// AlignTo zero-pads the cursor up to the next multiple of pow2.
func (s *Stream) AlignTo(pow2 uint32) error {
	aligned := Align(s.pos, pow2)
	if aligned == s.pos {
		return nil
	}
	return s.Skip(aligned - s.pos)
}

// ScopedSeek saves the current cursor position and returns a function that
// restores it; call the returned function via defer so the cursor is
// restored on every exit path (the "scoped seek" guard of spec.md §4.B/§9).
func (s *Stream) ScopedSeek(tmpPos uint32) func() {
	saved := s.pos
	s.pos = tmpPos
	return func() { s.pos = saved }
}
