// level.go: Level bit flags and combinators
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package styx

import (
	"fmt"
	"math/bits"
	"strings"
)

// Level is a set of severities encoded as bit flags. A single severity is a
// Level with exactly one bit set; masks such as LevelErrorAndAbove are plain
// unions of those bits.
type Level uint8

// Base severities, ascending.
const (
	LevelLog Level = 1 << iota
	LevelWarning
	LevelAssert
	LevelError
	LevelException
)

// levelCount is the number of base severities.
const levelCount = 5

// Combinators are derived from the base flags only.
const (
	LevelNone            Level = 0
	LevelAll             Level = 1<<levelCount - 1
	LevelWarningAndAbove Level = LevelAll &^ (LevelWarning - 1)
	LevelErrorAndAbove   Level = LevelAll &^ (LevelError - 1)
)

var levelNames = [levelCount]string{"Log", "Warning", "Assert", "Error", "Exception"}
var levelShort = [levelCount]string{"LOG", "WRN", "AST", "ERR", "EXC"}

// AtLeast returns the mask of every severity greater than or equal to l.
// For a composite l the lowest contained severity is used.
func AtLeast(l Level) Level {
	l &= LevelAll
	if l == 0 {
		return LevelNone
	}
	lowest := l & -l
	return LevelAll &^ (lowest - 1)
}

// Contains reports whether every bit of l is set in m.
func (m Level) Contains(l Level) bool { return m&l == l }

// Intersects reports whether m and l share at least one severity.
func (m Level) Intersects(l Level) bool { return m&l != 0 }

// Union returns m | l.
func (m Level) Union(l Level) Level { return (m | l) & LevelAll }

// Without returns m with the severities of l removed.
func (m Level) Without(l Level) Level { return m &^ l }

// IsSingle reports whether m names exactly one base severity.
func (m Level) IsSingle() bool { return m != 0 && m&LevelAll == m && m&(m-1) == 0 }

func (m Level) index() int { return bits.TrailingZeros8(uint8(m)) }

// Levels returns the base severities contained in m, lowest first.
func (m Level) Levels() []Level {
	out := make([]Level, 0, bits.OnesCount8(uint8(m&LevelAll)))
	for i := 0; i < levelCount; i++ {
		if l := Level(1) << i; m&l != 0 {
			out = append(out, l)
		}
	}
	return out
}

// ShortName returns the three-letter tag used in file lines (LOG, WRN, ...).
// Composite masks render as their String form.
func (m Level) ShortName() string {
	if m.IsSingle() {
		return levelShort[m.index()]
	}
	return m.String()
}

// String returns the level name, or a "|" joined list for composite masks.
func (m Level) String() string {
	switch m {
	case LevelNone:
		return "None"
	case LevelAll:
		return "All"
	}
	if m.IsSingle() {
		return levelNames[m.index()]
	}
	var sb strings.Builder
	for i, l := range m.Levels() {
		if i > 0 {
			sb.WriteByte('|')
		}
		sb.WriteString(levelNames[l.index()])
	}
	return sb.String()
}

// ParseLevel parses a level mask. It accepts full names, short names,
// "all", "none", a trailing "+" meaning "and above" and "|" or "," separated
// unions, case-insensitively: "error+", "Warning|Exception", "ERR,EXC".
func ParseLevel(s string) (Level, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return LevelNone, fmt.Errorf("empty level string")
	}
	var mask Level
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == '|' || r == ',' }) {
		part = strings.ToLower(strings.TrimSpace(part))
		above := strings.HasSuffix(part, "+")
		part = strings.TrimSuffix(part, "+")
		switch part {
		case "all":
			mask |= LevelAll
			continue
		case "none":
			continue
		}
		l, ok := lookupLevel(part)
		if !ok {
			return LevelNone, fmt.Errorf("unknown level %q", part)
		}
		if above {
			l = AtLeast(l)
		}
		mask |= l
	}
	return mask, nil
}

func lookupLevel(name string) (Level, bool) {
	for i := 0; i < levelCount; i++ {
		if strings.EqualFold(name, levelNames[i]) || strings.EqualFold(name, levelShort[i]) {
			return Level(1) << i, true
		}
	}
	return LevelNone, false
}
