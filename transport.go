// transport.go: Report serialization and delivery (HTTP POST, Sentry)
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package styx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/klauspost/compress/gzip"
	"github.com/valyala/fastjson"
)

// ReportEntry is one queued report as seen by a transport.
type ReportEntry struct {
	Record Record
	// ExtData is the static host description; shared, read-only.
	ExtData map[string]string
	// Tail is recent output from the memory appender, when configured.
	Tail []byte
}

// ReportTransport delivers report entries. Send is called from a single
// worker and may block up to ctx's deadline.
type ReportTransport interface {
	Send(ctx context.Context, e *ReportEntry) error
	Close(timeout time.Duration)
}

// EncodeReport appends the JSON wire form of e to dst:
//
//	{"extData":{"<key>":"<value>",...},"msg":"<body>"}
//
// extData holds the static entries plus level, tag, frame, time and, when
// captured, trace. Keys are sorted.
func EncodeReport(a *fastjson.Arena, dst []byte, e *ReportEntry) []byte {
	a.Reset()
	r := &e.Record
	ext := a.NewObject()
	keys := make([]string, 0, len(e.ExtData))
	for k := range e.ExtData {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		ext.Set(k, a.NewString(e.ExtData[k]))
	}
	ext.Set("level", a.NewString(r.Level.String()))
	ext.Set("tag", a.NewString(r.Tag))
	ext.Set("frame", a.NewString(strconv.FormatUint(r.Frame, 10)))
	ext.Set("time", a.NewString(r.Time.UTC().Format(time.RFC3339Nano)))
	if r.Trace != "" {
		ext.Set("trace", a.NewString(r.Trace))
	}

	obj := a.NewObject()
	obj.Set("extData", ext)
	obj.Set("msg", a.NewString(r.Body))
	return obj.MarshalTo(dst)
}

// HTTPTransport POSTs each entry as JSON, optionally gzip encoded.
type HTTPTransport struct {
	client   *http.Client
	endpoint string
	compress bool

	mu      sync.Mutex
	arena   fastjson.Arena
	payload []byte
	body    bytes.Buffer
	gz      *gzip.Writer
}

// NewHTTPTransport returns a transport posting to endpoint with client. The
// client's Timeout bounds every request.
func NewHTTPTransport(client *http.Client, endpoint string, compress bool) *HTTPTransport {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &HTTPTransport{client: client, endpoint: endpoint, compress: compress}
}

// Send posts e. Any 2xx response is success; other statuses and transport
// failures are returned.
func (t *HTTPTransport) Send(ctx context.Context, e *ReportEntry) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.payload = EncodeReport(&t.arena, t.payload[:0], e)
	var body io.Reader = bytes.NewReader(t.payload)
	if t.compress {
		t.body.Reset()
		if t.gz == nil {
			t.gz = gzip.NewWriter(&t.body)
		} else {
			t.gz.Reset(&t.body)
		}
		if _, err := t.gz.Write(t.payload); err != nil {
			return newError(CategoryFormat, "gzip", "", err)
		}
		if err := t.gz.Close(); err != nil {
			return newError(CategoryFormat, "gzip", "", err)
		}
		body = bytes.NewReader(t.body.Bytes())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, body)
	if err != nil {
		return newError(CategoryConfiguration, "request", "", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.compress {
		req.Header.Set("Content-Encoding", "gzip")
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return newError(CategoryNetwork, "post", "", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newError(CategoryNetwork, "post", "", fmt.Errorf("unexpected status %s", resp.Status))
	}
	return nil
}

// Close releases idle connections.
func (t *HTTPTransport) Close(time.Duration) {
	t.client.CloseIdleConnections()
}

// SentryTransport captures each entry as a Sentry event on a private hub,
// leaving the process-wide sentry client untouched.
type SentryTransport struct {
	client *sentry.Client
	hub    *sentry.Hub
}

// NewSentryTransport creates a client for dsn. transport overrides the
// sentry delivery mechanism, mainly for tests; nil uses the default.
func NewSentryTransport(dsn string, transport sentry.Transport) (*SentryTransport, error) {
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:        dsn,
		Transport:  transport,
		SampleRate: 1.0,
	})
	if err != nil {
		return nil, newError(CategoryConfiguration, "sentry", "", err)
	}
	return &SentryTransport{client: client, hub: sentry.NewHub(client, sentry.NewScope())}, nil
}

func sentryLevel(l Level) sentry.Level {
	switch {
	case l.Intersects(LevelException):
		return sentry.LevelFatal
	case l.Intersects(LevelError | LevelAssert):
		return sentry.LevelError
	case l.Intersects(LevelWarning):
		return sentry.LevelWarning
	}
	return sentry.LevelInfo
}

var errEventDropped = errors.New("sentry dropped the event")

// Send captures e as an event.
func (t *SentryTransport) Send(_ context.Context, e *ReportEntry) error {
	r := &e.Record
	event := sentry.NewEvent()
	event.Level = sentryLevel(r.Level)
	event.Message = r.Body
	event.Logger = "styx"
	event.Timestamp = r.Time
	event.Tags = map[string]string{"tag": r.Tag, "level": r.Level.String()}
	if event.Extra == nil {
		event.Extra = make(map[string]any, len(e.ExtData)+3)
	}
	for k, v := range e.ExtData {
		event.Extra[k] = v
	}
	event.Extra["frame"] = r.Frame
	if r.Trace != "" {
		event.Extra["trace"] = r.Trace
	}
	if len(e.Tail) > 0 {
		event.Extra["tail"] = string(e.Tail)
	}
	if t.hub.CaptureEvent(event) == nil {
		return newError(CategoryNetwork, "sentry", "", errEventDropped)
	}
	return nil
}

// Close flushes buffered events.
func (t *SentryTransport) Close(timeout time.Duration) {
	t.client.Flush(timeout)
}
