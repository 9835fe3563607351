// Copyright 2024 The dexlayout Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

package main

import (
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/tools/txtar"

	dex "github.com/dexlayout/dexlayout"
)

// profileFixtures bundles several sample profile files as one txtar
// archive so the loader's line-format cases live alongside each other
// instead of scattering into separate testdata files.
const profileFixtures = `
-- empty.profile --
-- comment-only.profile --
# nothing but comments
# another one
-- mixed.profile --
class 2
method 0 hot
method 1 startup
# a comment in the middle
method 7 in-profile
`

func parseHotnessFixtures(t *testing.T) map[string][]byte {
	t.Helper()
	arc := txtar.Parse([]byte(profileFixtures))
	files := make(map[string][]byte, len(arc.Files))
	for _, f := range arc.Files {
		files[f.Name] = f.Data
	}
	return files
}

func writeFixture(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profile.txt")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadProfileEmptyPathReturnsEmptyProfile(t *testing.T) {
	p, err := loadProfile("")
	if err != nil {
		t.Fatalf("loadProfile(\"\"): %v", err)
	}
	if _, ok := p.(dex.EmptyProfile); !ok {
		t.Fatalf("expected EmptyProfile, got %T", p)
	}
}

func TestLoadProfileEmptyAndCommentOnlyFiles(t *testing.T) {
	files := parseHotnessFixtures(t)
	for _, name := range []string{"empty.profile", "comment-only.profile"} {
		p, err := loadProfile(writeFixture(t, files[name]))
		if err != nil {
			t.Fatalf("loadProfile(%s): %v", name, err)
		}
		if p.ClassInProfile("f", 0) || p.MethodInProfile("f", 0) {
			t.Fatalf("expected %s to contribute nothing to the profile", name)
		}
	}
}

func TestLoadProfileMixedFile(t *testing.T) {
	files := parseHotnessFixtures(t)
	p, err := loadProfile(writeFixture(t, files["mixed.profile"]))
	if err != nil {
		t.Fatalf("loadProfile(mixed.profile): %v", err)
	}
	if !p.ClassInProfile("f", 2) {
		t.Error("expected class 2 to be in profile")
	}
	if p.ClassInProfile("f", 3) {
		t.Error("did not expect class 3 to be in profile")
	}
	if got := p.MethodHotness("f", 0); got != dex.Hot {
		t.Errorf("MethodHotness(0) = %v, want Hot", got)
	}
	if got := p.MethodHotness("f", 1); got != dex.Startup {
		t.Errorf("MethodHotness(1) = %v, want Startup", got)
	}
	if got := p.MethodHotness("f", 7); got != dex.InProfile {
		t.Errorf("MethodHotness(7) = %v, want InProfile", got)
	}
	if !p.MethodInProfile("f", 1) {
		t.Error("expected method 1 to be reported as present in profile")
	}
	if p.MethodInProfile("f", 99) {
		t.Error("did not expect an absent method index to be reported as present")
	}
}

func TestParseHotnessUnknownDefaultsToUnused(t *testing.T) {
	if got := parseHotness("garbage"); got != dex.Unused {
		t.Errorf("parseHotness(garbage) = %v, want Unused", got)
	}
}
