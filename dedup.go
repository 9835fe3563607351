// Copyright 2024 The dexlayout Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

package dex

import (
	"crypto/rand"
	"encoding/binary"

	"github.com/dchest/siphash"
)

// NotDeduped is returned by Deduper.Dedupe when the candidate range has no
// prior equal occurrence (or the cache is disabled).
const NotDeduped = ^uint32(0)

// dedupKey is the SipHash-2-4 digest of a byte range, used as the cache
// map key. A 64-bit hash risks collisions on adversarial input, so every
// candidate hit is confirmed with a byte-for-byte comparison against the
// section before being trusted (see Dedupe).
type dedupKey uint64

// Deduper is a content-addressed cache over byte ranges already written
// to one section of one emission (spec.md §4.E). It is not safe for
// concurrent use and its lifetime must be a subset of the section it
// indexes (spec.md §5).
type Deduper struct {
	enabled bool
	k0, k1  uint64
	section *section
	// entries maps a hash to the list of (start, end) ranges previously
	// seen with that hash, to allow byte-for-byte disambiguation on the
	// rare collision.
	entries map[dedupKey][]dedupRange
}

type dedupRange struct {
	start, end, offset uint32
}

// NewDeduper returns a Deduper over sec. If enabled is false, Dedupe
// always returns NotDeduped (spec.md §4.E "If disabled, returns
// NotDeduped").
func NewDeduper(sec *section, enabled bool) *Deduper {
	d := &Deduper{enabled: enabled, section: sec, entries: map[dedupKey][]dedupRange{}}
	if enabled {
		var seed [16]byte
		_, _ = rand.Read(seed[:])
		d.k0 = binary.LittleEndian.Uint64(seed[0:8])
		d.k1 = binary.LittleEndian.Uint64(seed[8:16])
	}
	return d
}

func (d *Deduper) hash(b []byte) dedupKey {
	return dedupKey(siphash.Hash(d.k0, d.k1, b))
}

// Dedupe looks up the byte range currently materialized at
// [start, end) in the section, and either records it (if unseen) or
// returns the offset of its first occurrence. The caller is responsible
// for clearing the just-written bytes and rewinding the stream on a hit,
// and only when the existing offset satisfies the caller's alignment
// requirement (spec.md §4.E) — Dedupe itself does not know about
// alignment, it only reports candidate prior offsets.
func (d *Deduper) Dedupe(start, end uint32) uint32 {
	if !d.enabled {
		return NotDeduped
	}
	data := d.section.Bytes()
	if end > uint32(len(data)) || start > end {
		return NotDeduped
	}
	cur := data[start:end]
	key := d.hash(cur)
	for _, r := range d.entries[key] {
		if r.end-r.start != end-start {
			continue
		}
		prior := data[r.start:r.end]
		if bytesEqual(prior, cur) {
			return r.offset
		}
	}
	d.entries[key] = append(d.entries[key], dedupRange{start: start, end: end, offset: start})
	return NotDeduped
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
