package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/cwygoda/livearchive/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "livearchive:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:      "livearchive",
		Usage:     "record live broadcasts, archive them remotely and keep the last few locally",
		ArgsUsage: "[URL...]",
		Flags:     append(globalFlags(), runFlags()...),
		Action:    runAction,
		Commands: []*cli.Command{
			{
				Name:      "run",
				Usage:     "capture and archive every URL given as argument or listed in the URL file",
				ArgsUsage: "[URL...]",
				Flags:     runFlags(),
				Action:    runAction,
			},
			{
				Name:  "history",
				Usage: "show recorded job outcomes from the ledger",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "run", Usage: "only show jobs of run `ID`"},
					&cli.IntFlag{Name: "limit", Value: 20, Usage: "show at most `N` jobs"},
				},
				Action: historyAction,
			},
			{
				Name:   "retained",
				Usage:  "list recordings kept locally after a failed upload",
				Action: retainedAction,
			},
		},
		HideHelpCommand: true,
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			EnvVars: []string{"LIVEARCHIVE_CONFIG"},
			Usage:   "load configuration from `FILE`",
		},
		&cli.StringFlag{Name: "env-file", Value: ".env", Usage: "load environment variables from `FILE` if it exists"},
		&cli.StringFlag{Name: "output-dir", Usage: "store recordings in `DIR`"},
		&cli.StringFlag{Name: "db-path", Usage: "job ledger database `FILE`"},
		&cli.BoolFlag{Name: "no-ledger", Usage: "do not record jobs in the ledger database"},
		&cli.StringFlag{Name: "log-level", Usage: "log `LEVEL` (debug, info, warn, error)"},
	}
}

func runFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "urls-file", Usage: "read URLs from `FILE` when none are given as arguments"},
		&cli.StringFlag{Name: "remote-root", Usage: "upload to `REMOTE` (e.g. gdrive:yt_backups)"},
		&cli.StringFlag{Name: "remote-backend", Usage: "remote storage `BACKEND` (rclone, drive, local)"},
		&cli.IntFlag{Name: "keep", Usage: "keep the newest `N` recordings locally"},
		&cli.IntFlag{Name: "max-runtime", Usage: "stop each capture after `SECONDS`"},
		&cli.IntFlag{Name: "concurrency", Usage: "run at most `N` jobs at once"},
		&cli.StringFlag{Name: "status-addr", Usage: "serve live job status on `ADDR`"},
		&cli.BoolFlag{Name: "progress", Usage: "show a progress bar"},
	}
}

// loadConfig layers defaults, config file, environment and command-line flags,
// in increasing precedence.
func loadConfig(c *cli.Context) (config.Config, error) {
	if err := config.LoadDotenv(c.String("env-file")); err != nil {
		return config.Config{}, err
	}
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return config.Config{}, err
	}

	if c.IsSet("output-dir") {
		cfg.OutputDir = c.String("output-dir")
	}
	if c.IsSet("db-path") {
		cfg.DBPath = c.String("db-path")
	}
	if c.IsSet("no-ledger") {
		cfg.NoLedger = c.Bool("no-ledger")
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}
	if c.IsSet("urls-file") {
		cfg.URLsFile = c.String("urls-file")
	}
	if c.IsSet("remote-root") {
		cfg.RemoteRoot = c.String("remote-root")
	}
	if c.IsSet("remote-backend") {
		cfg.RemoteBackend = c.String("remote-backend")
	}
	if c.IsSet("keep") {
		cfg.KeepLastN = c.Int("keep")
	}
	if c.IsSet("max-runtime") {
		cfg.MaxRuntimeSeconds = c.Int("max-runtime")
	}
	if c.IsSet("concurrency") {
		cfg.MaxConcurrency = c.Int("concurrency")
	}
	if c.IsSet("status-addr") {
		cfg.StatusAddr = c.String("status-addr")
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}
