// Copyright 2024 The dexlayout Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

package dex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamWriteAndDoubleWrite(t *testing.T) {
	c := NewContainer()
	s := NewStream(c, MainSection)

	require.NoError(t, s.Write([]byte{1, 2, 3}))
	assert.EqualValues(t, 3, s.Tell())

	s.Seek(0)
	assert.Error(t, s.Write([]byte{9}), "expected ErrDoubleWrite writing over non-zero bytes")

	s.Seek(0)
	require.NoError(t, s.Overwrite([]byte{9, 9}), "Overwrite should bypass the zero check")
	assert.Equal(t, byte(9), s.Bytes()[0])
}

func TestStreamSkipZeroFills(t *testing.T) {
	c := NewContainer()
	s := NewStream(c, DataSection)
	require.NoError(t, s.Skip(8))
	assert.EqualValues(t, 8, s.Tell())
	for i, b := range s.Bytes() {
		assert.Zerof(t, b, "byte %d not zero-filled", i)
	}
}

func TestStreamClearDoesNotMoveCursor(t *testing.T) {
	c := NewContainer()
	s := NewStream(c, MainSection)
	require.NoError(t, s.Write([]byte{1, 2, 3, 4}))
	before := s.Tell()
	require.NoError(t, s.Clear(0, 4))
	assert.Equal(t, before, s.Tell(), "Clear must not move the cursor")
	for _, b := range s.Bytes()[:4] {
		assert.Zero(t, b, "Clear did not zero the range")
	}
}

func TestStreamAlignTo(t *testing.T) {
	c := NewContainer()
	s := NewStream(c, MainSection)
	require.NoError(t, s.Write([]byte{1, 2, 3}))
	require.NoError(t, s.AlignTo(4))
	assert.EqualValues(t, 4, s.Tell())
	// already aligned: no-op
	require.NoError(t, s.AlignTo(4))
	assert.EqualValues(t, 4, s.Tell())
}

func TestScopedSeekRestoresPosition(t *testing.T) {
	c := NewContainer()
	s := NewStream(c, MainSection)
	require.NoError(t, s.Skip(16))
	func() {
		restore := s.ScopedSeek(0)
		defer restore()
		require.EqualValues(t, 0, s.Tell())
		require.NoError(t, s.Overwrite([]byte{1, 2}))
	}()
	assert.EqualValues(t, 16, s.Tell(), "cursor not restored after ScopedSeek")
}

func TestContainerTwoIndependentSections(t *testing.T) {
	c := NewContainer()
	main := NewStream(c, MainSection)
	data := NewStream(c, DataSection)

	require.NoError(t, main.Write([]byte{1, 2, 3}))
	require.NoError(t, data.Write([]byte{4, 5}))
	assert.EqualValues(t, 2, data.Tell(), "data section cursor affected by main section write")
	assert.Len(t, c.Main.Bytes(), 3)
	assert.Len(t, c.Data.Bytes(), 2)
}
