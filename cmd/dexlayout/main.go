// Copyright 2024 The dexlayout Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

// Command dexlayout is a thin CLI shim over the dexlayout engine: parse a
// DEX/CDEX file to a textual summary, relayout it against a profile, or
// emit standard/compact DEX.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dexlayout",
		Short: "Inspect and relayout Android DEX / compact-DEX files",
	}
	cmd.AddCommand(newParseCmd())
	cmd.AddCommand(newRelayoutCmd())
	cmd.AddCommand(newEmitCmd())
	return cmd
}
