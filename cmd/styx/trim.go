// trim.go: Offline trimming of a log file
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"
	"time"

	"github.com/agilira/styx"
	"github.com/spf13/cobra"
)

func trimCommand() *cobra.Command {
	var keep, prefix string
	cmd := &cobra.Command{
		Use:   "trim <file>",
		Short: "Keep only the tail of a log file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := styx.ParseSize(keep)
			if err != nil {
				return fmt.Errorf("--keep: %w", err)
			}
			removed, err := styx.TrimFile(args[0], n, func(removed int64) []byte {
				return styx.TrimMarker(prefix, time.Now(), time.UTC, removed)
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: removed %d bytes\n", args[0], removed)
			return nil
		},
	}
	cmd.Flags().StringVar(&keep, "keep", "400KB", "bytes to keep from the end of the file")
	cmd.Flags().StringVar(&prefix, "prefix", "", "line prefix used for the trim marker")
	return cmd
}
