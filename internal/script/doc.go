// Package script defines the step scripts executed by a test session and
// loads them from files.
//
// A script is an ordered list of steps. A "cmd" step starts a process on a
// channel; a "signal" step sends a signal to the process already running on
// its channel. Every step lists the stderr and stdout lines it expects, in
// order, and a done condition that gates moving on to the next step:
//
//	name: greet
//	steps:
//	  - type: cmd
//	    cmd: ["sh", "-c", "echo hello; echo world; sleep 10"]
//	    out: ["hello", "world"]
//	    done: out
//	  - type: signal
//	    signal: SIGTERM
//	    done: "exit:-15"
//
// Done conditions are "err", "out", "exit" (any exit code) and "exit:<code>".
// Scripts can also be bundled with fixture files in a txtar archive; see
// LoadArchive.
package script
