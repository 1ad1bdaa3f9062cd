// Command procscript runs process test scripts locally or serves them over
// HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/seantiz/procscript/internal/config"
)

// rootConfig holds the flags shared by every subcommand.
type rootConfig struct {
	stdout io.Writer
	stderr io.Writer

	logLevel     string
	workDir      string
	tickInterval time.Duration
	lineTimeout  time.Duration
}

func (cfg *rootConfig) registerFlags(fs *ff.FlagSet, defaults config.Config) {
	fs.StringVar(&cfg.logLevel, 0, "log-level", defaults.LogLevel.String(), "log level: debug, info, warn or error")
	fs.StringVar(&cfg.workDir, 'w', "work-dir", defaults.WorkDir, "working directory for child processes")
	fs.DurationVar(&cfg.tickInterval, 0, "tick-interval", defaults.TickInterval, "how often sessions poll their processes")
	fs.DurationVar(&cfg.lineTimeout, 0, "line-timeout", defaults.LineTimeout, "how long each line read may wait during a tick")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewCommand(os.Stdout, os.Stderr)
	err := root.ParseAndRun(ctx, os.Args[1:], ff.WithEnvVarPrefix("PROCSCRIPT"))
	switch {
	case err == nil:
	case errors.Is(err, ff.ErrHelp), errors.Is(err, ff.ErrNoExec):
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Command(root.GetSelected()))
	default:
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// NewCommand creates the root ff.Command for the procscript CLI.
func NewCommand(stdout, stderr io.Writer) *ff.Command {
	defaults := config.Load()
	cfg := &rootConfig{stdout: stdout, stderr: stderr}

	fs := ff.NewFlagSet("procscript")
	cfg.registerFlags(fs, defaults)

	root := &ff.Command{
		Name:      "procscript",
		Usage:     "procscript [FLAGS] SUBCOMMAND ...",
		ShortHelp: "drive child processes through scripted output expectations",
		Flags:     fs,
	}
	root.Subcommands = []*ff.Command{
		newRunCommand(cfg, fs, defaults),
		newServeCommand(cfg, fs, defaults),
	}
	return root
}
