// pipe.go: Route standard input through a manager
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/agilira/styx"
	"github.com/spf13/cobra"
)

type pipeOptions struct {
	config string
	level  string
	tag    string
	replay bool
	prefix string
}

func pipeCommand() *cobra.Command {
	var opts pipeOptions
	cmd := &cobra.Command{
		Use:   "pipe",
		Short: "Log every line read from stdin",
		Long: "Reads stdin line by line and logs each line through a manager " +
			"built from --config. With --replay, lines in styx file layout keep " +
			"their original level and tag.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPipe(cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr(), opts)
		},
	}
	cmd.Flags().StringVarP(&opts.config, "config", "c", "", "YAML configuration file")
	cmd.Flags().StringVarP(&opts.level, "level", "l", "log", "level for plain lines")
	cmd.Flags().StringVarP(&opts.tag, "tag", "t", "stdin", "tag for plain lines")
	cmd.Flags().BoolVar(&opts.replay, "replay", false, "parse lines written by the file appender")
	cmd.Flags().StringVar(&opts.prefix, "prefix", "", "line prefix used when replaying")
	return cmd
}

func runPipe(in io.Reader, out, errOut io.Writer, opts pipeOptions) error {
	level, err := styx.ParseLevel(opts.level)
	if err != nil {
		return err
	}
	if !level.IsSingle() {
		return fmt.Errorf("--level must name one level, got %s", level)
	}
	cfg, err := styx.LoadConfig(opts.config)
	if err != nil {
		return err
	}
	m, err := styx.New(cfg,
		styx.WithConsoleWriter(out),
		styx.WithErrorSink(styx.WriterErrorSink(errOut)),
	)
	if err != nil {
		return err
	}

	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 64<<10), 1<<20)
	for sc.Scan() {
		l, tag, body := level, opts.tag, sc.Text()
		if opts.replay {
			p, err := styx.ParseLine(body, opts.prefix)
			if err != nil || p.Marker {
				continue
			}
			l, tag, body = p.Level, p.Tag, p.Body
		}
		if g := m.Gate(l); g != nil {
			g.Log(tag, body)
		}
		if m.Mode() == styx.ModeCooperative {
			m.Tick()
		}
	}
	return errors.Join(sc.Err(), m.Close())
}
