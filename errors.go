// Copyright 2024 The dexlayout Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

package dex

import (
	"errors"
	"fmt"
)

// Errors returned by the builder, writers, and deduper.
var (
	// ErrMalformedInput is returned for a truncated header, a bad magic,
	// impossible section offsets, an instruction iterator that enters an
	// error state past the code-item end, or a LEB128 overrun.
	ErrMalformedInput = errors.New("dex: malformed input")

	// ErrInconsistentMethodCode is returned when building a CDEX and two
	// class-data entries reference the same method-id but disagree on
	// code-item or debug-info item.
	ErrInconsistentMethodCode = errors.New("dex: inconsistent method code across class-data entries")

	// ErrIoFailure is returned when a section's backing storage could not
	// be grown.
	ErrIoFailure = errors.New("dex: i/o failure")

	// ErrDoubleWrite is returned by Stream.Write when the target range is
	// not all-zero, i.e. a write would silently clobber prior data.
	ErrDoubleWrite = errors.New("dex: write would overwrite previously written bytes")
)

// VerificationMismatch carries a human-readable location for the first
// difference the verifier (§4.I) found between the source IR and the IR
// rebuilt from emitted bytes. It is never constructed by any component
// other than the verifier.
type VerificationMismatch struct {
	// Section is the coarse location, e.g. "class_def", "code_item".
	Section string
	// Locator is an index or offset identifying the specific item.
	Locator string
	// Field is the specific field that differed.
	Field string
	// Detail is a human-readable description of the mismatch.
	Detail string
}

func (m *VerificationMismatch) Error() string {
	return fmt.Sprintf("dex: verification mismatch in %s[%s].%s: %s",
		m.Section, m.Locator, m.Field, m.Detail)
}

// mismatch is a small constructor helper used throughout verify.go.
func mismatch(section, locator, field, detail string, args ...interface{}) *VerificationMismatch {
	return &VerificationMismatch{
		Section: section,
		Locator: locator,
		Field:   field,
		Detail:  fmt.Sprintf(detail, args...),
	}
}
