package main

import (
	"context"
	"fmt"
	"time"

	"github.com/peterbourgon/ff/v4"

	"github.com/seantiz/procscript/internal/api"
	"github.com/seantiz/procscript/internal/config"
	"github.com/seantiz/procscript/internal/engine"
	"github.com/seantiz/procscript/internal/store"
)

type serveConfig struct {
	*rootConfig

	listenAddr     string
	dbPath         string
	defaultTimeout time.Duration
}

func newServeCommand(root *rootConfig, parent *ff.FlagSet, defaults config.Config) *ff.Command {
	cfg := &serveConfig{rootConfig: root}

	fs := ff.NewFlagSet("serve").SetParent(parent)
	fs.StringVar(&cfg.listenAddr, 'l', "listen-addr", defaults.ListenAddr, "HTTP listen address")
	fs.StringVar(&cfg.dbPath, 0, "db-path", defaults.DBPath, "SQLite database path")
	fs.DurationVar(&cfg.defaultTimeout, 't', "default-timeout", defaults.DefaultTimeout, "deadline for runs without timeout_s")

	return &ff.Command{
		Name:      "serve",
		Usage:     "procscript serve [FLAGS]",
		ShortHelp: "serve the run API over HTTP",
		Flags:     fs,
		Exec: func(ctx context.Context, _ []string) error {
			return execServe(ctx, cfg)
		},
	}
}

func execServe(ctx context.Context, cfg *serveConfig) error {
	logger := config.NewLogger(cfg.stderr, config.ParseLogLevel(cfg.logLevel))

	logger.Info("procscript: starting",
		"listen_addr", cfg.listenAddr,
		"db_path", cfg.dbPath,
		"work_dir", cfg.workDir,
	)

	db, err := store.NewSQLiteStore(cfg.dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	eng := engine.NewEngine(db, logger, engine.Options{
		WorkDir:        cfg.workDir,
		TickInterval:   cfg.tickInterval,
		LineTimeout:    cfg.lineTimeout,
		DefaultTimeout: cfg.defaultTimeout,
	})
	defer func() {
		eng.CancelAll()
		eng.Wait()
	}()

	srv := api.NewServer(cfg.listenAddr, db, eng, logger)
	return srv.Run(ctx)
}
