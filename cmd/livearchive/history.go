package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/cwygoda/livearchive/internal/adapter/sqlite"
	"github.com/cwygoda/livearchive/internal/domain"
)

func openLedger(c *cli.Context) (*sqlite.Ledger, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	path := cfg.LedgerPath()
	if path == "" {
		return nil, errors.New("job ledger is disabled")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("job ledger %s: %w", path, err)
	}
	return sqlite.New(path)
}

func historyAction(c *cli.Context) error {
	ledger, err := openLedger(c)
	if err != nil {
		return err
	}
	defer ledger.Close()

	var statuses []domain.JobStatus
	if run := c.String("run"); run != "" {
		statuses, err = ledger.ListRun(c.Context, run)
	} else {
		statuses, err = ledger.ListRecent(c.Context, c.Int("limit"))
	}
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FINISHED\tRESULT\tSTRATEGY\tURL\tDETAIL")
	for _, s := range statuses {
		result, detail := "ok", s.RemotePath
		if !s.Succeeded {
			result, detail = "fail", s.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			s.Timestamp.UTC().Format(time.RFC3339), result, s.Strategy, s.Source, detail)
	}
	return tw.Flush()
}

func retainedAction(c *cli.Context) error {
	ledger, err := openLedger(c)
	if err != nil {
		return err
	}
	defer ledger.Close()

	statuses, err := ledger.ListRetained(c.Context)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FINISHED\tPRESENT\tPATH\tURL")
	for _, s := range statuses {
		present := "yes"
		if _, err := os.Stat(s.LocalPath); err != nil {
			present = "no"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			s.Timestamp.UTC().Format(time.RFC3339), present, s.LocalPath, s.Source)
	}
	return tw.Flush()
}
