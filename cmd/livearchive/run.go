package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/cwygoda/livearchive/internal/adapter/capture"
	httpAdapter "github.com/cwygoda/livearchive/internal/adapter/http"
	"github.com/cwygoda/livearchive/internal/adapter/remote"
	"github.com/cwygoda/livearchive/internal/adapter/sqlite"
	"github.com/cwygoda/livearchive/internal/adapter/statusfile"
	"github.com/cwygoda/livearchive/internal/config"
	"github.com/cwygoda/livearchive/internal/domain"
	"github.com/cwygoda/livearchive/internal/logging"
	"github.com/cwygoda/livearchive/internal/orchestrator"
	"github.com/cwygoda/livearchive/internal/retention"
	"github.com/cwygoda/livearchive/internal/runner"
	"github.com/cwygoda/livearchive/internal/source"
	"github.com/cwygoda/livearchive/internal/upload"
	"github.com/cwygoda/livearchive/internal/worker"
)

const shutdownTimeout = 10 * time.Second

func runAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	logger, closeLog, err := logging.New(logging.Options{
		Level:   cfg.LogLevel,
		LogFile: filepath.Join(cfg.OutputDir, logging.RecordingLogName),
	})
	if err != nil {
		return err
	}
	defer closeLog()
	defer zap.RedirectStdLog(logger)()

	sources, err := source.Load(c.Args().Slice(), cfg.URLsFile, logger)
	if err != nil {
		return err
	}

	ctx := c.Context
	proc := runner.New(logger)

	strategies := cfg.Strategies
	if len(strategies) == 0 {
		strategies = capture.Builtin(cfg.YtarchiveCmd, cfg.YtdlpCmd)
	}
	for _, sc := range strategies {
		if _, err := runner.LookPath(sc.Command); err != nil {
			logger.Warn("capture tool not found, strategy will fail", zap.String("strategy", sc.Name), zap.Error(err))
		}
	}
	chain, err := capture.Build(strategies, proc, logger)
	if err != nil {
		return err
	}

	store, err := newStore(ctx, cfg, proc, logger)
	if err != nil {
		return err
	}

	sinks := domain.MultiSink{statusfile.New(cfg.OutputDir, logger)}
	if path := cfg.LedgerPath(); path != "" {
		ledger, err := sqlite.New(path)
		if err != nil {
			logger.Warn("job ledger unavailable, continuing with status files only", zap.String("path", path), zap.Error(err))
		} else {
			defer ledger.Close()
			sinks = append(sinks, ledger)
		}
	}

	tracker := worker.NewTracker()
	orch := orchestrator.New(orchestrator.Config{
		OutputDir:  cfg.OutputDir,
		RemoteRoot: cfg.RemoteRoot,
		KeepLastN:  cfg.KeepLastN,
		MaxRuntime: cfg.MaxRuntime(),
	}, orchestrator.Deps{
		Chain: chain,
		Uploader: upload.New(store, upload.Policy{
			MaxAttempts: cfg.UploadMaxAttempts,
			Min:         cfg.BackoffMin(),
			Max:         cfg.BackoffMax(),
		}, logger),
		Retention: retention.New(logger),
		Sink:      sinks,
		Observer:  tracker.Observe,
		Log:       logger,
	})

	logger.Info("starting livearchive",
		zap.String("run_id", orch.RunID()),
		zap.String("output_dir", cfg.OutputDir),
		zap.String("remote", cfg.RemoteRoot),
		zap.String("backend", store.Name()),
		zap.Strings("strategies", chain.Names()),
		zap.Int("keep_last_n", cfg.KeepLastN),
	)

	if cfg.StatusAddr != "" {
		srv := httpAdapter.NewServer(tracker, orch.RunID(), cfg.StatusAddr, logger)
		go func() {
			logger.Info("status server listening", zap.String("addr", srv.Addr()))
			if err := srv.ListenAndServe(); err != nil {
				logger.Error("status server", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("status server shutdown", zap.Error(err))
			}
		}()
	}

	sched := worker.New(orch, cfg.Concurrency(len(sources)), logger)
	if c.Bool("progress") {
		bar := progressbar.NewOptions(len(sources),
			progressbar.OptionSetDescription("archiving"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
		)
		sched.OnDone(func(domain.JobStatus) { _ = bar.Add(1) })
		defer bar.Finish()
	}

	results := sched.RunAll(ctx, sources)
	printSummary(c.App.Writer, results)

	if !domain.AllSucceeded(results) {
		return cli.Exit("", 1)
	}
	return nil
}

func newStore(ctx context.Context, cfg config.Config, proc *runner.Runner, log *zap.Logger) (domain.RemoteStore, error) {
	switch cfg.RemoteBackend {
	case config.BackendDrive:
		return remote.NewDrive(ctx, cfg.DriveCredentials, cfg.DriveFolderID, log)
	case config.BackendLocal:
		return remote.NewLocal(), nil
	default:
		if _, err := runner.LookPath(cfg.RcloneCmd); err != nil {
			log.Warn("rclone not found, uploads will fail", zap.Error(err))
		}
		return remote.NewRclone(cfg.RcloneCmd, cfg.UploadTimeout(), proc, log), nil
	}
}

func printSummary(w io.Writer, results []domain.JobStatus) {
	ok := 0
	for _, r := range results {
		switch {
		case r.Succeeded:
			ok++
			fmt.Fprintf(w, "[OK]   %s -> %s\n", r.Source, r.RemotePath)
		case r.Retained():
			fmt.Fprintf(w, "[FAIL] %s (kept %s): %s\n", r.Source, r.LocalPath, r.Error)
		default:
			fmt.Fprintf(w, "[FAIL] %s: %s\n", r.Source, r.Error)
		}
	}
	fmt.Fprintf(w, "%d/%d succeeded\n", ok, len(results))
}
