// Command fixture is a child process for end-to-end tests of procscript.
// It performs its arguments in order:
//
//   - "out:TEXT" prints TEXT on stdout
//   - "err:TEXT" prints TEXT on stderr
//   - "sleep:DURATION" pauses
//   - "wait" blocks until a signal arrives, prints "got NAME" on stdout and
//     exits with the code given by -signal-exit
//   - "close-stdout" closes stdout and keeps running
//   - "exit:N" exits with status N
//
// Without an exit action it exits 0 after the last one.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"golang.org/x/sys/unix"
)

func main() {
	var signalExit int

	fs := ff.NewFlagSet("fixture")
	fs.IntVar(&signalExit, 0, "signal-exit", 0, "exit code after a signal ends a wait")

	cmd := &ff.Command{
		Name:  "fixture",
		Usage: "fixture [FLAGS] ACTION...",
		Flags: fs,
		Exec: func(_ context.Context, args []string) error {
			return perform(args, signalExit)
		},
	}
	if err := cmd.ParseAndRun(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "fixture: %v\n", err)
		os.Exit(2)
	}
}

func perform(actions []string, signalExit int) error {
	// Signals are caught from the start so that one sent while an earlier
	// action runs is not lost.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP, syscall.SIGUSR1, syscall.SIGUSR2)

	for _, action := range actions {
		name, arg, _ := strings.Cut(action, ":")
		switch name {
		case "out":
			fmt.Fprintln(os.Stdout, arg)
		case "err":
			fmt.Fprintln(os.Stderr, arg)
		case "sleep":
			d, err := time.ParseDuration(arg)
			if err != nil {
				return fmt.Errorf("sleep: %w", err)
			}
			time.Sleep(d)
		case "wait":
			sig := <-sigCh
			fmt.Fprintf(os.Stdout, "got %s\n", unix.SignalName(sig.(syscall.Signal)))
			os.Exit(signalExit)
		case "close-stdout":
			os.Stdout.Close()
		case "exit":
			code, err := strconv.Atoi(arg)
			if err != nil {
				return fmt.Errorf("exit: %w", err)
			}
			os.Exit(code)
		default:
			return fmt.Errorf("unknown action %q", action)
		}
	}
	return nil
}
