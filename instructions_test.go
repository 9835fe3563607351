// Copyright 2024 The dexlayout Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

package dex

import "testing"

func TestScanFixupsCollectsEveryIndexKind(t *testing.T) {
	insns := []uint16{
		0x001a, 0x0002, // const-string v0, string@2
		0x0022, 0x0005, // new-instance v0, type@5
		0x0052, 0x0007, // iget v0, v0, field@7
		0x106e, 0x0009, 0x0000, // invoke-virtual {v0}, method@9
		0x001b, 0x000b, 0x0000, // const-string/jumbo v0, string@11
		0x000e, // return-void
	}
	fx := scanFixups(insns)

	wantStrings := []int{2, 11}
	for _, s := range wantStrings {
		if _, ok := fx.Strings[s]; !ok {
			t.Errorf("expected string fixup %d, got %v", s, fx.Strings)
		}
	}
	if len(fx.Strings) != len(wantStrings) {
		t.Errorf("unexpected extra string fixups: %v", fx.Strings)
	}
	if _, ok := fx.Types[5]; !ok || len(fx.Types) != 1 {
		t.Errorf("expected exactly type fixup {5}, got %v", fx.Types)
	}
	if _, ok := fx.Fields[7]; !ok || len(fx.Fields) != 1 {
		t.Errorf("expected exactly field fixup {7}, got %v", fx.Fields)
	}
	if _, ok := fx.Methods[9]; !ok || len(fx.Methods) != 1 {
		t.Errorf("expected exactly method fixup {9}, got %v", fx.Methods)
	}
}

func TestScanFixupsHaltsOnTruncatedInstruction(t *testing.T) {
	// invoke-virtual (fmt35c, width 3) with only one unit present.
	fx := scanFixups([]uint16{0x106e})
	if len(fx.Strings) != 0 || len(fx.Types) != 0 || len(fx.Fields) != 0 || len(fx.Methods) != 0 {
		t.Fatalf("expected no fixups from a truncated stream, got %+v", fx)
	}
}

func TestScanFixupsSkipsPackedSwitchPayload(t *testing.T) {
	insns := []uint16{
		payloadPackedSwitch, 1, 0, 0, // header: ident, size=1, first_key (32-bit)
		0, 0, // one 32-bit branch target (packed-switch payloads hold targets only)
		0x000e, // return-void
	}
	fx := scanFixups(insns)
	if len(fx.Strings) != 0 || len(fx.Types) != 0 || len(fx.Fields) != 0 || len(fx.Methods) != 0 {
		t.Fatalf("expected the payload to be skipped with no fixups recorded, got %+v", fx)
	}
}

func TestPayloadLenZeroOnTruncatedHeader(t *testing.T) {
	if got := payloadLen([]uint16{payloadPackedSwitch}, 0); got != 0 {
		t.Errorf("payloadLen on a truncated packed-switch header = %d, want 0", got)
	}
	if got := payloadLen([]uint16{payloadFillArrayData, 2, 1}, 0); got != 0 {
		t.Errorf("payloadLen on a truncated fill-array-data header = %d, want 0", got)
	}
}

func TestFormatWidthKnownFormats(t *testing.T) {
	tests := map[insnFormat]int{
		fmt10x:  1,
		fmt21c:  2,
		fmt31c:  3,
		fmt45cc: 4,
		fmt51l:  5,
	}
	for f, want := range tests {
		if got := formatWidth(f); got != want {
			t.Errorf("formatWidth(%d) = %d, want %d", f, got, want)
		}
	}
}
