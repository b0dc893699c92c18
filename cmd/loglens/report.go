package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ppiankov/loglens/internal/cli"
	"github.com/ppiankov/loglens/internal/cloud"
	"github.com/ppiankov/loglens/internal/contextutil"
	"github.com/ppiankov/loglens/internal/report"
	"github.com/ppiankov/loglens/internal/stats"
)

type reportOpts struct {
	outDir        string
	jsonOutput    bool
	htmlOutput    bool
	upload        string
	shareExpiry   string
	uploadTimeout time.Duration
}

func newReportCmd() *cobra.Command {
	var (
		flags analysisFlags
		opts  reportOpts
	)

	cmd := &cobra.Command{
		Use:   "report <file|glob>...",
		Short: "Write report artifacts for log files",
		Long: `Analyzes the given files and writes report.txt and report.json (plus
report.html unless --html=false) to --out. With --upload the artifacts are
published to s3://bucket/prefix or gs://bucket/prefix and signed share URLs are
printed. --json writes report.json to stdout instead.`,
		Args: cobra.MinimumNArgs(1),
		PreRun: func(cmd *cobra.Command, args []string) {
			applyConfigDefaults(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.validate(); err != nil {
				return err
			}
			if opts.outDir == "" && !opts.jsonOutput {
				return cli.NewUsageError("--out is required (or use --json for stdout)")
			}
			if opts.upload != "" && opts.outDir == "" {
				return cli.NewUsageError("--upload requires --out")
			}
			ctx, cancel := contextutil.WithSignals(cmd.Context())
			defer cancel()
			return runReport(ctx, args, &flags, opts)
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&opts.outDir, "out", "", "output directory for report artifacts")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "write report.json to stdout")
	cmd.Flags().BoolVar(&opts.htmlOutput, "html", true, "include HTML report")
	cmd.Flags().StringVar(&opts.upload, "upload", "", "publish artifacts to s3://bucket/prefix or gs://bucket/prefix")
	cmd.Flags().StringVar(&opts.shareExpiry, "share-expiry", "", "lifetime of share URLs, 0 to skip (default 24h)")
	cmd.Flags().DurationVar(&opts.uploadTimeout, "upload-timeout", 2*time.Minute, "timeout for the upload")

	return cmd
}

func runReport(ctx context.Context, patterns []string, flags *analysisFlags, opts reportOpts) error {
	st, ls, err := loadStore(ctx, patterns)
	if err != nil {
		return err
	}

	res := stats.Analyze(st.Snapshot(), flags.statsOptions())
	r := report.Generate(sourceName(ls, patterns), st, res, flags.reportOptions())

	fmt.Fprintf(os.Stderr, "Report: severity=%s, error_rate=%s, records=%s\n",
		r.Severity, r.ErrorRateText(), report.FormatCount(int64(r.Total)))

	if opts.jsonOutput {
		if err := r.WriteJSON(os.Stdout); err != nil {
			return err
		}
		return flags.checkFailOn(r)
	}

	files, err := writeReportFiles(r, opts.outDir, opts.htmlOutput)
	if err != nil {
		return err
	}
	for _, f := range files {
		fmt.Fprintf(os.Stderr, "Report: %s\n", f)
	}

	if opts.upload != "" {
		if err := uploadReport(ctx, files, opts); err != nil {
			return err
		}
	}
	return flags.checkFailOn(r)
}

// writeReportFiles writes the report artifacts to dir and returns their paths.
func writeReportFiles(r *report.Report, dir string, htmlOutput bool) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	artifacts := []struct {
		name  string
		write func(io.Writer) error
	}{
		{"report.txt", r.WriteText},
		{"report.json", r.WriteJSON},
	}
	if htmlOutput {
		artifacts = append(artifacts, struct {
			name  string
			write func(io.Writer) error
		}{"report.html", r.WriteHTML})
	}

	var paths []string
	for _, a := range artifacts {
		p := filepath.Join(dir, a.name)
		if err := writeFile(p, a.write); err != nil {
			return paths, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}

func writeFile(path string, write func(io.Writer) error) error {
	name := filepath.Base(path)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	if err := write(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}
	return nil
}

func uploadReport(ctx context.Context, files []string, opts reportOpts) error {
	dst, err := cloud.ParseDestination(opts.upload)
	if err != nil {
		return cli.NewUsageError(fmt.Sprintf("invalid --upload: %v", err))
	}

	expiry := cloud.DefaultShareExpiry
	if opts.shareExpiry != "" {
		d, err := time.ParseDuration(opts.shareExpiry)
		if err != nil {
			return cli.NewUsageError(fmt.Sprintf("invalid --share-expiry %q", opts.shareExpiry))
		}
		expiry = d
	}

	ctx, cancel := contextutil.WithOptionalTimeout(ctx, opts.uploadTimeout)
	defer cancel()

	backend, err := cloud.NewBackend(ctx, dst.Scheme, dst.Bucket)
	if err != nil {
		return cli.NewNetworkError(fmt.Sprintf("connect to %s: %v", dst.Scheme, err))
	}
	return publish(ctx, backend, dst, files, expiry)
}

func publish(ctx context.Context, backend cloud.Backend, dst cloud.Destination, files []string, expiry time.Duration) error {
	uploaded, err := cloud.UploadFiles(ctx, backend, dst, files, expiry)
	for _, u := range uploaded {
		logger.Debug("uploaded report artifact", zap.String("key", u.Key), zap.Int64("bytes", u.Size))
		fmt.Fprintf(os.Stderr, "Uploaded: %s/%s\n", dst.Scheme+"://"+dst.Bucket, u.Key)
		if u.ShareURL != "" {
			fmt.Fprintf(os.Stdout, "%s\n", u.ShareURL)
		}
	}
	if err != nil {
		return cli.NewNetworkError(fmt.Sprintf("upload to %s: %v", dst, err))
	}
	return nil
}
