package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/loglens/internal/cli"
	"github.com/ppiankov/loglens/internal/ingest"
	"github.com/ppiankov/loglens/internal/report"
	"github.com/ppiankov/loglens/internal/stats"
	"github.com/ppiankov/loglens/internal/store"
)

// applyConfigDefaults sets flag values from config when the flag
// was not explicitly set on the command line. Flags > env > config > defaults.
// The config package already handles env > config, so only unchanged
// flags are touched here.
func applyConfigDefaults(cmd *cobra.Command) {
	if cfg == nil {
		return
	}

	setDefault := func(name, value string) {
		if value != "" && !cmd.Flags().Changed(name) {
			if f := cmd.Flags().Lookup(name); f != nil {
				_ = f.Value.Set(value)
			}
		}
	}
	setFloat := func(name string, v float64) {
		if v > 0 {
			setDefault(name, strconv.FormatFloat(v, 'f', -1, 64))
		}
	}

	// report defaults
	setFloat("error-threshold", cfg.Report.ErrorRateThreshold)
	setFloat("slow-ms", cfg.Report.SlowMeanMs)
	setDefault("upload", cfg.Report.Upload)
	setDefault("share-expiry", cfg.Report.ShareExpiry)

	// tail defaults
	setDefault("interval", cfg.Tail.Interval)
	setDefault("rules", cfg.Tail.Rules)
	setDefault("metrics-addr", cfg.Tail.MetricsAddr)
	if len(cfg.Tail.AlertLevels) > 0 {
		setDefault("alert-level", strings.Join(cfg.Tail.AlertLevels, ","))
	}
	if len(cfg.Tail.Webhooks) > 0 {
		setDefault("webhook", strings.Join(cfg.Tail.Webhooks, ","))
	}
}

// analysisFlags are shared by analyze and report.
type analysisFlags struct {
	errorThreshold float64
	slowMs         float64
	topMessages    int
	topSlowest     int
	failOn         string
}

func (f *analysisFlags) register(cmd *cobra.Command) {
	cmd.Flags().Float64Var(&f.errorThreshold, "error-threshold", 0.05, "error rate (fraction) above which errors are flagged")
	cmd.Flags().Float64Var(&f.slowMs, "slow-ms", 500, "mean response time (ms) above which performance is flagged")
	cmd.Flags().IntVar(&f.topMessages, "top-messages", 3, "most frequent error messages listed per module")
	cmd.Flags().IntVar(&f.topSlowest, "top-slowest", 5, "slowest records listed")
	cmd.Flags().StringVar(&f.failOn, "fail-on", "", "exit with code 6 when severity reaches low, medium or high")
}

func (f *analysisFlags) validate() error {
	if f.errorThreshold <= 0 || f.errorThreshold >= 1 {
		return cli.NewUsageError(fmt.Sprintf("--error-threshold must be between 0 and 1, got %g", f.errorThreshold))
	}
	if f.slowMs <= 0 {
		return cli.NewUsageError(fmt.Sprintf("--slow-ms must be positive, got %g", f.slowMs))
	}
	if f.failOn != "" && severityRank(f.failOn) == 0 {
		return cli.NewUsageError(fmt.Sprintf("--fail-on must be low, medium or high, got %q", f.failOn))
	}
	return nil
}

func (f *analysisFlags) statsOptions() stats.Options {
	return stats.Options{TopMessages: f.topMessages, TopSlowest: f.topSlowest}
}

func (f *analysisFlags) reportOptions() report.Options {
	return report.Options{ErrorRateThreshold: f.errorThreshold, SlowMeanMs: f.slowMs}
}

// checkFailOn returns a findings error when the report severity is at or
// above the --fail-on level.
func (f *analysisFlags) checkFailOn(r *report.Report) error {
	if f.failOn == "" {
		return nil
	}
	if severityRank(r.Severity) >= severityRank(f.failOn) {
		return cli.NewFindingsError(r.Severity)
	}
	return nil
}

func severityRank(s string) int {
	switch strings.ToLower(s) {
	case "low":
		return 1
	case "medium":
		return 2
	case "high":
		return 3
	}
	return 0
}

// loadStore loads every source matched by patterns into a new store and
// prints a one-line summary to stderr.
func loadStore(ctx context.Context, patterns []string) (*store.Store, *ingest.Stats, error) {
	st := store.New()
	loader := ingest.NewLoader(st, logger)

	start := time.Now()
	ls, err := loader.LoadAll(ctx, patterns)
	if err != nil {
		return nil, ls, cli.Classify(err)
	}

	fmt.Fprintf(os.Stderr, "Loaded %s records from %d file(s) in %s",
		report.FormatCount(int64(ls.Parsed)), len(ls.Files), time.Since(start).Round(time.Millisecond))
	if skipped := ls.Skipped(); skipped > 0 {
		fmt.Fprintf(os.Stderr, ", %s malformed line(s) skipped", report.FormatCount(int64(skipped)))
	}
	fmt.Fprintln(os.Stderr)
	return st, ls, nil
}

// sourceName describes the inputs for the report header.
func sourceName(ls *ingest.Stats, patterns []string) string {
	if ls != nil && len(ls.Files) == 1 {
		return ls.Files[0]
	}
	if ls != nil && len(ls.Files) > 1 {
		return fmt.Sprintf("%s (+%d more)", ls.Files[0], len(ls.Files)-1)
	}
	return strings.Join(patterns, " ")
}
