// Copyright 2024 The dexlayout Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

package dex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeduperHitAndMiss(t *testing.T) {
	c := NewContainer()
	sec := c.section(DataSection)
	require.NoError(t, sec.ensure(8))
	copy(sec.buf, []byte{1, 2, 3, 1, 2, 3, 9, 9})

	d := NewDeduper(sec, true)
	assert.Equal(t, NotDeduped, d.Dedupe(0, 3), "first occurrence should miss")
	assert.Equal(t, uint32(0), d.Dedupe(3, 6), "identical bytes at [3,6) should hit offset 0")
	assert.Equal(t, NotDeduped, d.Dedupe(6, 8), "distinct bytes should miss")
}

func TestDeduperDisabledAlwaysMisses(t *testing.T) {
	c := NewContainer()
	sec := c.section(DataSection)
	require.NoError(t, sec.ensure(6))
	copy(sec.buf, []byte{1, 2, 3, 1, 2, 3})

	d := NewDeduper(sec, false)
	assert.Equal(t, NotDeduped, d.Dedupe(0, 3))
	assert.Equal(t, NotDeduped, d.Dedupe(3, 6))
}

func TestDeduperDifferentLengthsNeverMatch(t *testing.T) {
	c := NewContainer()
	sec := c.section(DataSection)
	require.NoError(t, sec.ensure(5))
	copy(sec.buf, []byte{1, 2, 3, 1, 2})

	d := NewDeduper(sec, true)
	assert.Equal(t, NotDeduped, d.Dedupe(0, 3), "first occurrence should miss")
	assert.Equal(t, NotDeduped, d.Dedupe(3, 5), "shorter range sharing a prefix must not dedupe")
}
