// config.go: Print or check a configuration
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"github.com/agilira/styx"
	"github.com/spf13/cobra"
)

func configCommand() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Long: "Prints the defaults merged with --config and STYX_* environment " +
			"overrides. Fails when the result does not validate.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := styx.LoadConfig(path)
			if err != nil {
				return err
			}
			out, err := styx.MarshalConfig(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	cmd.Flags().StringVarP(&path, "config", "c", "", "YAML configuration file")
	return cmd
}
