// Copyright 2024 The dexlayout Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

package dex

// Hotness is the 4-value classification ProfileQuery.MethodHotness
// returns (spec.md §4.H line 136: `Unused, Startup, InProfile, Hot`). It
// is deliberately a different, smaller type than layout.go's codeCategory
// (the 5-value Unused/SometimesUsed/UsedOnce/StartupOnly/Hot ordering
// spec.md §6 describes): codeCategory is *derived* from a Hotness plus
// structural predicates (is this method a clinit, is its class in the
// profile), it is not the raw profile query result. Conflating the two
// made clinit-only and profile-but-not-hot methods unreachable states.
type Hotness int

const (
	Unused Hotness = iota
	Startup
	InProfile
	Hot
)

// IsHot reports whether h is the Hot classification.
func (h Hotness) IsHot() bool { return h == Hot }

func (h Hotness) String() string {
	switch h {
	case Unused:
		return "unused"
	case Startup:
		return "startup"
	case InProfile:
		return "in-profile"
	case Hot:
		return "hot"
	default:
		return "unknown"
	}
}

// ProfileQuery is the resolved-profile contract the layout planner
// consumes (spec.md §4.H, §6). Implementations must be pure, deterministic
// and cheap (constant or logarithmic); they may be called many times per
// emission. Reading the on-disk profile format is out of scope (spec.md
// §1) — callers supply an implementation backed by whatever profile
// format they parse.
type ProfileQuery interface {
	// ClassInProfile reports whether the class at type_index is present
	// in the profile for the given file id.
	ClassInProfile(fileID string, typeIndex uint32) bool

	// MethodHotness reports the hotness classification of the method at
	// method_index for the given file id.
	MethodHotness(fileID string, methodIndex uint32) Hotness

	// MethodInProfile reports whether the method at method_index is
	// present in the profile at all (regardless of hotness) for the
	// given file id.
	MethodInProfile(fileID string, methodIndex uint32) bool
}

// EmptyProfile is a ProfileQuery that reports nothing in the profile; it
// is the default used when no profile is supplied, and is convenient as a
// test double and as the no-op profile fuzz.go's Fuzz entrypoint runs
// layout with.
type EmptyProfile struct{}

func (EmptyProfile) ClassInProfile(string, uint32) bool  { return false }
func (EmptyProfile) MethodHotness(string, uint32) Hotness { return Unused }
func (EmptyProfile) MethodInProfile(string, uint32) bool  { return false }
