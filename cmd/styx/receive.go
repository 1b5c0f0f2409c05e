// receive.go: Debug receiver for remote reports
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"
	"github.com/valyala/fastjson"
)

const maxReportBody = 4 << 20

func receiveCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "receive",
		Short: "Print remote reports posted to this address",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			e := newReceiver(cmd.OutOrStdout())
			go func() {
				<-ctx.Done()
				shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = e.Shutdown(shutdown)
			}()
			if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	return cmd
}

// newReceiver returns an echo server accepting report POSTs on any path and
// printing each report's msg and extData to out.
func newReceiver(out io.Writer) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	var mu sync.Mutex
	var parsers fastjson.ParserPool
	e.POST("/*", func(c echo.Context) error {
		body, err := readReport(c.Request())
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		p := parsers.Get()
		defer parsers.Put(p)
		v, err := p.ParseBytes(body)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		mu.Lock()
		printReport(out, v)
		mu.Unlock()
		return c.NoContent(http.StatusNoContent)
	})
	return e
}

func readReport(r *http.Request) ([]byte, error) {
	var src io.Reader = r.Body
	if r.Header.Get("Content-Encoding") == "gzip" {
		zr, err := gzip.NewReader(r.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer zr.Close()
		src = zr
	}
	return io.ReadAll(io.LimitReader(src, maxReportBody))
}

func printReport(out io.Writer, v *fastjson.Value) {
	fmt.Fprintf(out, "msg: %s\n", v.GetStringBytes("msg"))
	ext := v.GetObject("extData")
	if ext == nil {
		return
	}
	keys := make([]string, 0, ext.Len())
	ext.Visit(func(k []byte, _ *fastjson.Value) { keys = append(keys, string(k)) })
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(out, "  %s: %s\n", k, ext.Get(k).GetStringBytes())
	}
}
