// format_test.go: Line layout and ParseLine
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package styx

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormat_RecordLayout(t *testing.T) {
	f := lineFormat{loc: time.UTC}
	r := Record{Level: LevelWarning, Tag: "net", Body: "slow response", Time: testTime, Frame: 42}
	assert.Equal(t, "09:26:53.589[WRN][F:42][net] slow response\n", string(f.appendRecord(nil, &r)))

	f = lineFormat{prefix: "app| ", loc: time.FixedZone("UTC+02:00", 2*3600), showGoroutine: true}
	r.Goroutine = 17
	assert.Equal(t, "app| 11:26:53.589[WRN][F:42][T:17][net] slow response\n", string(f.appendRecord(nil, &r)))
}

func TestFormat_ContinuationLines(t *testing.T) {
	f := lineFormat{loc: time.UTC}
	r := Record{
		Level: LevelError,
		Tag:   "db",
		Body:  "first\nsecond",
		Time:  testTime,
		Trace: "main.run (main.go:10)\nmain.main (main.go:4)",
	}
	got := string(f.appendRecord(nil, &r))
	assert.Equal(t,
		"09:26:53.589[ERR][F:0][db] first\n\tsecond\n\tmain.run (main.go:10)\n\tmain.main (main.go:4)\n",
		got)
}

func TestFormat_TagSanitized(t *testing.T) {
	f := lineFormat{loc: time.UTC}
	r := Record{Level: LevelLog, Tag: "a[b]\nc", Body: "x", Time: testTime}
	line := string(f.appendRecord(nil, &r))
	assert.Contains(t, line, "[a_b__c] x")
	p, err := ParseLine(line, "")
	require.NoError(t, err)
	assert.Equal(t, "a_b__c", p.Tag)
}

func TestTruncateBody(t *testing.T) {
	assert.Equal(t, "short", truncateBody("short", 10))
	assert.Equal(t, "unlimited body", truncateBody("unlimited body", 0))
	assert.Equal(t, "abcdefg...", truncateBody("abcdefghijklmnop", 10))
	got := truncateBody("ééééééé", 8)
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.LessOrEqual(t, len(got), 8)
	assert.Equal(t, "éé...", got)

	// Limits shorter than the suffix still bound the result.
	for limit := 1; limit <= 3; limit++ {
		got := truncateBody("abcdefgh", limit)
		assert.Len(t, got, limit)
		assert.Equal(t, strings.Repeat(".", limit), got)
	}
	assert.Equal(t, "a...", truncateBody("abcdefgh", 4))
}

func TestParseLine_RoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		goid   bool
		rec    Record
	}{
		{"plain", "", false, Record{Level: LevelLog, Tag: "ui", Body: "clicked", Frame: 1}},
		{"prefixed", "[game] ", false, Record{Level: LevelException, Tag: "core", Body: "boom [x]", Frame: 99}},
		{"goroutine", "", true, Record{Level: LevelAssert, Tag: "T:1", Body: "", Frame: 3, Goroutine: 8}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := lineFormat{prefix: tt.prefix, loc: time.UTC, showGoroutine: tt.goid}
			tt.rec.Time = testTime
			line := string(f.appendRecord(nil, &tt.rec))
			p, err := ParseLine(line, tt.prefix)
			require.NoError(t, err)
			assert.False(t, p.Marker)
			assert.Equal(t, "09:26:53.589", p.Clock)
			assert.Equal(t, tt.rec.Level, p.Level)
			assert.Equal(t, tt.rec.Frame, p.Frame)
			assert.Equal(t, tt.rec.Goroutine, p.Goroutine)
			assert.Equal(t, tt.rec.Tag, p.Tag)
			assert.Equal(t, tt.rec.Body, p.Body)
		})
	}
}

func TestParseLine_Markers(t *testing.T) {
	f := lineFormat{loc: time.UTC}
	p, err := ParseLine(string(f.appendMarker(nil, testTime, markerStarted)), "")
	require.NoError(t, err)
	assert.True(t, p.Marker)
	assert.Equal(t, "Log started", p.Body)
	_, ok := p.TrimmedBytes()
	assert.False(t, ok)

	p, err = ParseLine(string(TrimMarker("", testTime, time.UTC, 1234)), "")
	require.NoError(t, err)
	assert.Equal(t, "File trimmed, removed 1234 bytes", p.Body)
	n, ok := p.TrimmedBytes()
	require.True(t, ok)
	assert.Equal(t, int64(1234), n)
}

func TestParseLine_Malformed(t *testing.T) {
	for _, line := range []string{
		"",
		"garbage",
		"09:26:53.589 no brackets",
		"09:26:53.589[BAD][F:1][t] x",
		"09:26:53.589[LOG][G:1][t] x",
		"09:26:53.589[LOG][F:x][t] x",
		"09:26:53.589[LOG][F:1][t]x",
	} {
		_, err := ParseLine(line, "")
		assert.ErrorIs(t, err, ErrMalformedLine, line)
	}
	_, err := ParseLine("09:26:53.589[LOG][F:1][t] x", "pfx")
	assert.ErrorIs(t, err, ErrMalformedLine)
}
