// root.go: Command tree
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"github.com/spf13/cobra"
)

// rootCommand creates the styx command and its sub-commands.
func rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "styx",
		Short:         "Level-gated logging toolkit",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		pipeCommand(),
		trimCommand(),
		receiveCommand(),
		configCommand(),
	)
	return root
}
