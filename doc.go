// Package styx provides level-gated logging for programs that log from hot
// loops, such as games and simulations.
//
// A disabled level costs one atomic load and a nil check: the caller asks the
// manager for a gate and only formats the message when the gate exists.
//
//	if g := m.Gate(styx.LevelLog); g != nil {
//		g.Logf("physics", "step %d took %s", n, d)
//	}
//
// # Quick Start
//
// Production defaults log every level to stdout:
//
//	m, err := styx.New(nil)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer m.Close()
//
//	if g := m.Gate(styx.LevelWarning); g != nil {
//		g.Log("boot", "config file missing, using defaults")
//	}
//
// Init installs a process-wide manager reachable through Default. Gate is
// safe on a nil manager, so library code can log before Init runs:
//
//	styx.Init(cfg)
//	defer styx.Shutdown()
//
// # Levels
//
// Level is a bit set of five severities: Log, Warning, Assert, Error and
// Exception. Masks combine with | and parse from strings:
//
//	styx.ParseLevel("error+")            // Error|Exception
//	styx.ParseLevel("Warning|Exception") // two levels
//	styx.ParseLevel("all")
//
// The manager holds a global mask and every appender its own; a record is
// written only where both admit it.
//
// # Gates
//
// Log, Warning and Assert use a basic gate that dispatches directly. Error
// and Exception use a critical gate that also suppresses host log capture
// for the duration of the dispatch and queues the record for remote
// reporting. The level to gate mapping is a table; RegisterGate replaces the
// factory for one level.
//
// # Appenders
//
// Three destinations are driven by configuration:
//
//   - console: synchronous, optionally colored, stdout or stderr
//   - file: asynchronous, one file per day, trimmed to its tail when it grows
//     past max_size, with a marker line recording how much was removed
//   - memory: a fixed-size ring holding the most recent output
//
// ApplyConfig reconciles them: enabled destinations are created or
// re-initialized in place, disabled ones are removed. Applying the same
// configuration twice changes nothing. Custom destinations implement
// Appender and are registered with AddAppender.
//
// # Configuration
//
// Config is plain data with YAML tags. LoadConfig merges a YAML file over
// DefaultConfig and applies STYX_* environment overrides:
//
//	levels: warning+
//	file:
//	  enabled: true
//	  directory: logs
//	  template: "game_{date}.log"
//	  max_size: 1MB
//	  keep_size: 400KB
//	report:
//	  enabled: true
//	  endpoint: https://reports.example.com/ingest
//
// WatchConfig reloads the file whenever it changes.
//
// # Scheduling
//
// Background work (file writing, remote reports) runs either on goroutines
// or cooperatively from Manager.Tick within a per-frame time budget. The
// "auto" mode picks cooperative scheduling on js and wasip1.
//
// # Remote Reports
//
// Critical records are POSTed as JSON, optionally gzip encoded, or captured
// as Sentry events. Delivery is best effort: a failure goes to the error
// sink and the report is discarded.
//
// # Host Log Capture
//
// Bridge forwards a host logging facility into the manager. SlogSource is a
// slog.Handler usable as such a host. While a critical gate dispatches, host
// events at its level are skipped, so output that the host echoes back is
// not recorded twice.
//
// # Error Handling
//
// Logging calls never return errors. Failures inside appenders, the report
// pipeline and the scheduler go to an ErrorSink, stderr by default:
//
//	m, _ := styx.New(cfg, styx.WithErrorSink(func(op string, err error) {
//		if styx.CategoryOf(err) == styx.CategoryFileIO {
//			alerting.Send(op + ": " + err.Error())
//		}
//	}))
//
// # Thread Safety
//
// All Manager methods are safe for concurrent use. Console output keeps
// call order; the file appender keeps enqueue order.
package styx
