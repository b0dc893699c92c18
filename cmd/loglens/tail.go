package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ppiankov/loglens/internal/buffers"
	"github.com/ppiankov/loglens/internal/cli"
	"github.com/ppiankov/loglens/internal/contextutil"
	"github.com/ppiankov/loglens/internal/logtypes"
	"github.com/ppiankov/loglens/internal/store"
	"github.com/ppiankov/loglens/internal/tail"
	"github.com/ppiankov/loglens/internal/tui"
)

type tailOpts struct {
	alertLevels []string
	rulesPath   string
	webhooks    []string
	interval    string
	metricsAddr string
	tui         bool
	watch       bool
}

func newTailCmd() *cobra.Command {
	var opts tailOpts

	cmd := &cobra.Command{
		Use:   "tail <file>",
		Short: "Follow a log file and alert on matching records",
		Long: `Follows <file> from its current end (creating it when missing), parses
each appended line and prints an alert for every record matching the alert
rules. By default ERROR records alert; use --alert-level or a --rules file to
change that. Alerts can also be posted to webhooks, and a live dashboard is
available with --tui.`,
		Args: cobra.ExactArgs(1),
		PreRun: func(cmd *cobra.Command, args []string) {
			applyConfigDefaults(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := contextutil.WithSignals(cmd.Context())
			defer cancel()
			return runTail(ctx, args[0], opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringSliceVar(&opts.alertLevels, "alert-level", nil, "levels that raise an alert (default ERROR)")
	cmd.Flags().StringVar(&opts.rulesPath, "rules", "", "YAML alert rules file (overrides --alert-level)")
	cmd.Flags().StringSliceVar(&opts.webhooks, "webhook", nil, "webhook URL for alert events (repeatable)")
	cmd.Flags().StringVar(&opts.interval, "interval", tail.DefaultInterval.String(), "poll interval")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	cmd.Flags().BoolVar(&opts.tui, "tui", false, "show the live dashboard")
	cmd.Flags().BoolVar(&opts.watch, "watch", true, "wake on file system notifications between polls")

	return cmd
}

// resolveRules picks the alert rules: a rules file wins over --alert-level,
// which wins over the ERROR default.
func resolveRules(opts tailOpts) ([]tail.Rule, error) {
	if opts.rulesPath != "" {
		rules, err := tail.LoadRules(opts.rulesPath)
		if err != nil {
			return nil, cli.Classify(err)
		}
		return rules, nil
	}
	if len(opts.alertLevels) > 0 {
		for _, l := range opts.alertLevels {
			if l == "" {
				return nil, cli.NewUsageError("--alert-level must not be empty")
			}
		}
		return []tail.Rule{tail.LevelRule(opts.alertLevels...)}, nil
	}
	return tail.DefaultRules(), nil
}

func runTail(ctx context.Context, path string, opts tailOpts, out io.Writer) error {
	interval, err := time.ParseDuration(opts.interval)
	if err != nil || interval <= 0 {
		return cli.NewUsageError(fmt.Sprintf("invalid --interval %q", opts.interval))
	}
	rules, err := resolveRules(opts)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := tail.NewMetrics(reg)

	alerts := buffers.NewRecordRing(0)
	webhooks := tail.NewWebhookDispatcher(opts.webhooks)
	defer webhooks.Close()

	alertFn := func(rec logtypes.Record) error {
		if opts.tui {
			alerts.Push(rec)
			return nil
		}
		_, err := fmt.Fprintf(out, "%s %s\n", tui.AlertStyle("[ALERT]"), rec.Line())
		return err
	}

	tailOptions := []tail.Option{
		tail.WithInterval(interval),
		tail.WithRules(rules),
		tail.WithAlertFunc(alertFn),
		tail.WithLogger(logger),
		tail.WithMetrics(metrics),
		tail.WithWebhook(webhooks),
		tail.WithWatch(opts.watch),
	}
	st, recordOpts := recordStore(opts.tui)
	tailOptions = append(tailOptions, recordOpts...)

	tl, err := tail.New(path, tailOptions...)
	if err != nil {
		return cli.Classify(err)
	}

	if opts.metricsAddr != "" {
		srv := serveMetrics(opts.metricsAddr, reg)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	logger.Info("tail started",
		zap.String("file", path),
		zap.String("session", tl.Session()),
		zap.Int64("offset", tl.Offset()),
		zap.Int("rules", len(rules)))

	if opts.tui {
		return runTailTUI(ctx, tl, alerts, st)
	}
	return runTailHeadless(ctx, tl, rules)
}

// recordStore returns the store backing the dashboard's level and module
// panels. Headless runs keep no record history and get a nil store.
func recordStore(dashboard bool) (*store.Store, []tail.Option) {
	if !dashboard {
		return nil, nil
	}
	st := store.New()
	return st, []tail.Option{tail.WithRecordFunc(st.Insert)}
}

func runTailHeadless(ctx context.Context, tl *tail.Tailer, rules []tail.Rule) error {
	fmt.Fprintf(os.Stderr, "Monitoring %s (session %s, %d rule(s)), press Ctrl+C to stop\n",
		tl.Path(), tl.Session(), len(rules))

	err := tl.Run(ctx)
	c := tl.Counters()
	fmt.Fprintf(os.Stderr, "Stopped: %d lines, %d records, %d malformed, %d alerts\n",
		c.Lines, c.Parsed, c.Failed, c.Alerts)
	if err != nil {
		return fmt.Errorf("tail %s: %w", tl.Path(), err)
	}
	return nil
}

func runTailTUI(ctx context.Context, tl *tail.Tailer, alerts *buffers.RecordRing, st *store.Store) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	model := tui.New(tl.Path(), tl.Session(), tl, alerts, st)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

	errCh := make(chan error, 1)
	go func() {
		err := tl.Run(ctx)
		if err != nil {
			p.Quit()
		}
		errCh <- err
	}()

	_, uiErr := p.Run()
	cancel()
	runErr := <-errCh

	if runErr != nil {
		return fmt.Errorf("tail %s: %w", tl.Path(), runErr)
	}
	if uiErr != nil && !errors.Is(uiErr, tea.ErrProgramKilled) {
		return fmt.Errorf("TUI: %w", uiErr)
	}
	return nil
}

func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", zap.String("addr", addr), zap.Error(err))
		}
	}()
	fmt.Fprintf(os.Stderr, "Metrics: http://%s/metrics\n", addr)
	return srv
}
