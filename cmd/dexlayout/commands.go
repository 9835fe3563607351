// Copyright 2024 The dexlayout Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/xyproto/env/v2"

	dex "github.com/dexlayout/dexlayout"
)

func newParseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "parse <file>",
		Short: "Parse a DEX/CDEX file and print a summary of its id tables",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ir, err := dex.BuildFromFile(args[0], &dex.BuildOptions{})
			if err != nil {
				return err
			}
			printSummary(ir)
			return nil
		},
	}
	return cmd
}

func newRelayoutCmd() *cobra.Command {
	var profilePath string
	var fileID string
	cmd := &cobra.Command{
		Use:   "relayout <file>",
		Short: "Reorder a DEX/CDEX file's strings, classes and code items by profile hotness",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ir, err := dex.BuildFromFile(args[0], &dex.BuildOptions{})
			if err != nil {
				return err
			}
			profile, err := loadProfile(profilePath)
			if err != nil {
				return err
			}
			if err := dex.Layout(ir, fileID, profile, nil); err != nil {
				return err
			}
			printSummary(ir)
			return nil
		},
	}
	cmd.Flags().StringVar(&profilePath, "profile", env.Str("DEXLAYOUT_PROFILE_PATH", ""), "path to a profile file (lines: 'class <type_idx>' or 'method <method_idx> <hotness>')")
	cmd.Flags().StringVar(&fileID, "file-id", env.Str("DEXLAYOUT_FILE_ID", ""), "profile file id used to look up per-file entries")
	return cmd
}

func newEmitCmd() *cobra.Command {
	var profilePath, fileID, out string
	var compact bool
	var dedupe, verify, checksum bool
	cmd := &cobra.Command{
		Use:   "emit <file>",
		Short: "Parse, optionally relayout, and re-emit a DEX/CDEX file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ir, err := dex.BuildFromFile(args[0], &dex.BuildOptions{})
			if err != nil {
				return err
			}
			if profilePath != "" {
				profile, err := loadProfile(profilePath)
				if err != nil {
					return err
				}
				if err := dex.Layout(ir, fileID, profile, nil); err != nil {
					return err
				}
			}

			opts := dex.DefaultLayoutOptions()
			opts.DedupeCodeItems = dedupe
			opts.UpdateChecksum = checksum
			opts.VerifyOutput = verify

			var data []byte
			if compact {
				if err := dex.CanGenerateCompact(ir); err != nil {
					return fmt.Errorf("cannot emit compact dex: %w", err)
				}
				opts.CompactDexLevel = dex.CompactDexLevelFast
				data, err = dex.WriteCompactDex(ir, &opts)
			} else {
				opts.CompactDexLevel = dex.CompactDexLevelNone
				data, err = dex.WriteStandardDex(ir, &opts)
			}
			if err != nil {
				return err
			}
			if out == "" {
				out = args[0] + ".out"
			}
			return os.WriteFile(out, data, 0o644)
		},
	}
	cmd.Flags().StringVar(&profilePath, "profile", env.Str("DEXLAYOUT_PROFILE_PATH", ""), "optional profile file to relayout against before emitting")
	cmd.Flags().StringVar(&fileID, "file-id", env.Str("DEXLAYOUT_FILE_ID", ""), "profile file id used to look up per-file entries")
	cmd.Flags().StringVar(&out, "out", "", "output path (default: <file>.out)")
	cmd.Flags().BoolVar(&compact, "compact", env.Bool("DEXLAYOUT_COMPACT_LEVEL"), "emit compact DEX instead of standard DEX")
	cmd.Flags().BoolVar(&dedupe, "dedupe", env.Bool("DEXLAYOUT_DEDUPE"), "dedupe code items when emitting compact DEX")
	cmd.Flags().BoolVar(&checksum, "update-checksum", true, "recompute checksum/signature on emit")
	cmd.Flags().BoolVar(&verify, "verify", false, "round-trip verify the emitted file before returning")
	return cmd
}

func printSummary(ir *dex.IR) {
	fmt.Printf("strings=%d types=%d protos=%d fields=%d methods=%d classes=%d code_items=%d\n",
		len(ir.StringIds), len(ir.TypeIds), len(ir.ProtoIds), len(ir.FieldIds),
		len(ir.MethodIds), len(ir.ClassDefs), len(ir.CodeItems))
}

// fileProfile is a trivial line-oriented ProfileQuery backing store: each
// line is either "class <type_idx>" or "method <method_idx> <hotness>",
// where hotness is one of unused/startup/in-profile/hot (any other word
// reads as unused).
// Parsing the on-disk ART profile format itself is out of scope; this
// exists only so the CLI has something concrete to drive dex.Layout with.
type fileProfile struct {
	classes map[uint32]bool
	methods map[uint32]dex.Hotness
}

func loadProfile(path string) (dex.ProfileQuery, error) {
	if path == "" {
		return dex.EmptyProfile{}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	p := &fileProfile{classes: map[uint32]bool{}, methods: map[uint32]dex.Hotness{}}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		switch fields[0] {
		case "class":
			if len(fields) != 2 {
				continue
			}
			idx, err := strconv.ParseUint(fields[1], 10, 32)
			if err != nil {
				return nil, fmt.Errorf("profile: bad class line %q: %w", sc.Text(), err)
			}
			p.classes[uint32(idx)] = true
		case "method":
			if len(fields) != 3 {
				continue
			}
			idx, err := strconv.ParseUint(fields[1], 10, 32)
			if err != nil {
				return nil, fmt.Errorf("profile: bad method line %q: %w", sc.Text(), err)
			}
			p.methods[uint32(idx)] = parseHotness(fields[2])
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return p, nil
}

func parseHotness(s string) dex.Hotness {
	switch s {
	case "startup":
		return dex.Startup
	case "in-profile":
		return dex.InProfile
	case "hot":
		return dex.Hot
	default:
		return dex.Unused
	}
}

func (p *fileProfile) ClassInProfile(_ string, typeIndex uint32) bool {
	return p.classes[typeIndex]
}

func (p *fileProfile) MethodHotness(_ string, methodIndex uint32) dex.Hotness {
	return p.methods[methodIndex]
}

func (p *fileProfile) MethodInProfile(_ string, methodIndex uint32) bool {
	_, ok := p.methods[methodIndex]
	return ok
}
