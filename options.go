// Copyright 2024 The dexlayout Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

package dex

import "github.com/dexlayout/dexlayout/log"

// CompactDexLevel selects the output format (spec.md §6).
type CompactDexLevel int

const (
	// CompactDexLevelNone emits standard DEX.
	CompactDexLevelNone CompactDexLevel = iota
	// CompactDexLevelFast emits compact DEX with dedup-enabled code items.
	CompactDexLevelFast
)

// BuildOptions configures the IR builder (Component D).
type BuildOptions struct {
	// ClassFilter restricts the built IR to class-defs whose descriptor is
	// in the set; empty means no filtering. When non-empty, the MapList's
	// class-def count reflects the filtered count, not the source count
	// (spec.md §6, §8 "Boundary behaviors").
	ClassFilter map[string]struct{}

	// EagerlyAssignOffsets copies source offsets into each item rather
	// than leaving them for the writer to assign; used for read-only
	// dumping (spec.md §4.D).
	EagerlyAssignOffsets bool

	// Logger receives per-phase progress records at Debug level.
	// A nil Logger is replaced with a discarding default.
	Logger *log.Helper
}

// LayoutOptions configures emission (spec.md §6).
type LayoutOptions struct {
	CompactDexLevel CompactDexLevel

	// DedupeCodeItems enables the Component E cache; only meaningful with
	// CompactDexLevelFast. Default true.
	DedupeCodeItems bool

	UpdateChecksum bool

	// VerifyOutput makes the writer rebuild an IR from its own output and
	// run the Component I verifier against the input IR after emission;
	// a build error or mismatch is returned instead of the bytes.
	VerifyOutput bool

	// DebugOffsetTableBlockSize is the number of method-index entries
	// grouped per block in the CDEX debug-info offset table's
	// block-index (spec.md §4.G "a prefix-coded random-access structure
	// with configurable block size"). Zero means "use the default".
	// Smaller blocks shrink the per-block bit width when offsets are
	// clustered at the cost of a larger block-index array; larger blocks
	// do the reverse.
	DebugOffsetTableBlockSize int

	Logger *log.Helper
}

// defaultDebugOffsetTableBlockSize is the block size used when
// LayoutOptions.DebugOffsetTableBlockSize is unset.
const defaultDebugOffsetTableBlockSize = 16

// DefaultLayoutOptions returns the spec's defaults: CompactDexLevelNone,
// DedupeCodeItems true, UpdateChecksum true, VerifyOutput false,
// DebugOffsetTableBlockSize defaultDebugOffsetTableBlockSize.
func DefaultLayoutOptions() LayoutOptions {
	return LayoutOptions{
		CompactDexLevel:           CompactDexLevelNone,
		DedupeCodeItems:           true,
		UpdateChecksum:            true,
		VerifyOutput:              false,
		DebugOffsetTableBlockSize: defaultDebugOffsetTableBlockSize,
	}
}

func (o *LayoutOptions) debugOffsetTableBlockSize() int {
	if o == nil || o.DebugOffsetTableBlockSize <= 0 {
		return defaultDebugOffsetTableBlockSize
	}
	return o.DebugOffsetTableBlockSize
}

func (o *BuildOptions) logger() *log.Helper {
	if o == nil || o.Logger == nil {
		return log.NewHelper(nil)
	}
	return o.Logger
}

func (o *LayoutOptions) logger() *log.Helper {
	if o == nil || o.Logger == nil {
		return log.NewHelper(nil)
	}
	return o.Logger
}
