// example_test.go: Executable examples for godoc
//
// These examples appear in the generated documentation and are executable.
// Run with: go test -run Example

package styx_test

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/agilira/styx"
)

var exampleTime = time.Date(2025, 3, 14, 9, 26, 53, 589e6, time.UTC)

// ExampleManager_Gate shows the gate pattern: a disabled level yields a nil
// gate and the message arguments are never evaluated.
func ExampleManager_Gate() {
	m, err := styx.New(nil,
		styx.WithConsoleWriter(os.Stdout),
		styx.WithClock(styx.NewManualClock(exampleTime)),
	)
	if err != nil {
		log.Fatal(err)
	}
	defer m.Close()

	if g := m.Gate(styx.LevelLog); g != nil {
		g.Log("boot", "ready")
	}
	m.SetLevels(styx.LevelErrorAndAbove)
	if g := m.Gate(styx.LevelLog); g != nil {
		g.Logf("boot", "expensive %s", strings.Repeat("x", 1<<20))
	}
	fmt.Println(m.Gate(styx.LevelLog) == nil)
	// Output:
	// 09:26:53.589[LOG][F:0][boot] ready
	// true
}

// ExampleParseLevel demonstrates the accepted level mask syntax.
func ExampleParseLevel() {
	for _, s := range []string{"error+", "Warning|Exception", "all"} {
		l, err := styx.ParseLevel(s)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(l)
	}
	// Output:
	// Error|Exception
	// Warning|Exception
	// All
}

// ExampleTrimFile trims a file to its tail and appends a marker line.
func ExampleTrimFile() {
	dir, err := os.MkdirTemp("", "styx-example")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "game.log")
	if err := os.WriteFile(path, []byte(strings.Repeat("line\n", 100)), 0o600); err != nil {
		log.Fatal(err)
	}
	removed, err := styx.TrimFile(path, 50, func(n int64) []byte {
		return styx.TrimMarker("", exampleTime, time.UTC, n)
	})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("removed", removed)
	// Output: removed 450
}
