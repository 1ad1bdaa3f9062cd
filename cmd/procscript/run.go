package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/peterbourgon/ff/v4"

	"github.com/seantiz/procscript/internal/config"
	"github.com/seantiz/procscript/internal/script"
	"github.com/seantiz/procscript/internal/session"
)

// errScriptsFailed is returned when at least one script did not pass.
var errScriptsFailed = errors.New("scripts failed")

type runConfig struct {
	*rootConfig

	timeout  time.Duration
	verbose  bool
	keepWork bool
}

func newRunCommand(root *rootConfig, parent *ff.FlagSet, defaults config.Config) *ff.Command {
	cfg := &runConfig{rootConfig: root}

	fs := ff.NewFlagSet("run").SetParent(parent)
	fs.DurationVar(&cfg.timeout, 't', "default-timeout", defaults.DefaultTimeout, "deadline for each script")
	fs.BoolVar(&cfg.verbose, 'v', "verbose", "print every captured line")
	fs.BoolVar(&cfg.keepWork, 0, "keep-work", "keep the work directories created for archives")

	return &ff.Command{
		Name:      "run",
		Usage:     "procscript run [FLAGS] FILE...",
		ShortHelp: "run YAML, JSON or txtar scripts and report the results",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			return execRun(ctx, cfg, args)
		},
	}
}

func execRun(ctx context.Context, cfg *runConfig, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("at least one script file required")
	}

	logger := config.NewLogger(cfg.stderr, config.ParseLogLevel(cfg.logLevel))

	failed := 0
	for _, path := range args {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := runFile(ctx, cfg, logger, path); err != nil {
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("%w: %d of %d", errScriptsFailed, failed, len(args))
	}
	return nil
}

// runFile loads and runs one script, printing its report. The returned error
// is non-nil when the script did not pass.
func runFile(ctx context.Context, cfg *runConfig, logger *slog.Logger, path string) error {
	out := cfg.stdout
	start := time.Now()

	dir := cfg.workDir
	if strings.EqualFold(filepath.Ext(path), ".txtar") {
		tmp, err := os.MkdirTemp(cfg.workDir, "procscript-")
		if err != nil {
			fmt.Fprintf(out, "--- ERROR: %s: %v\n", path, err)
			return err
		}
		if cfg.keepWork {
			fmt.Fprintf(out, "work dir: %s\n", tmp)
		} else {
			defer os.RemoveAll(tmp)
		}
		dir = tmp
	}

	sc, err := script.Load(path, dir)
	if err != nil {
		fmt.Fprintf(out, "--- ERROR: %s: %v\n", path, err)
		return err
	}
	fmt.Fprintf(out, "=== RUN   %s\n", sc.Name)

	opts := session.Options{
		Dir:         dir,
		LineTimeout: cfg.lineTimeout,
		Logger:      logger.With("script", sc.Name),
	}
	if cfg.verbose {
		opts.OnLines = func(channel, step int, stream string, lines []string) {
			for _, l := range lines {
				fmt.Fprintf(out, "    [ch%d %s] %s\n", channel, stream, l)
			}
		}
	}

	sess, err := session.New(sc, opts)
	if err != nil {
		fmt.Fprintf(out, "--- ERROR: %s: %v\n", sc.Name, err)
		return err
	}
	defer sess.Quit()

	runCtx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()
	runErr := sess.Run(runCtx, cfg.tickInterval)
	reports, reportErr := sess.Report()
	sess.Quit()

	printReports(out, reports)
	err = reportErr
	if err == nil {
		err = runErr
	}
	printResult(out, sc.Name, time.Since(start), err)
	return err
}

func printReports(w io.Writer, reports []session.ChannelReport) {
	for _, rep := range reports {
		state := "ok"
		if !rep.Satisfied {
			state = "unsatisfied"
		}
		exit := "running"
		if rep.ExitCode != nil {
			exit = fmt.Sprintf("exit %d", *rep.ExitCode)
		}
		fmt.Fprintf(w, "    ch%d step %d: %s, %s, err %d/%d, out %d/%d\n",
			rep.Channel, rep.Step, state, exit,
			rep.Progress.ErrMatched, rep.Progress.ErrExpected,
			rep.Progress.OutMatched, rep.Progress.OutExpected,
		)
		for _, l := range rep.MissingErr {
			fmt.Fprintf(w, "        missing stderr: %q\n", l)
		}
		for _, l := range rep.MissingOut {
			fmt.Fprintf(w, "        missing stdout: %q\n", l)
		}
	}
}

func printResult(w io.Writer, name string, elapsed time.Duration, err error) {
	secs := elapsed.Seconds()
	if err == nil {
		fmt.Fprintf(w, "--- PASS: %s (%.2fs)\n", name, secs)
		return
	}
	verdict := "FAIL"
	if errors.Is(err, session.ErrNoProcess) {
		verdict = "ERROR"
	}
	fmt.Fprintf(w, "--- %s: %s (%.2fs)\n", verdict, name, secs)
	for line := range strings.SplitSeq(err.Error(), "\n") {
		fmt.Fprintf(w, "    %s\n", line)
	}
}
