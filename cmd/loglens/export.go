package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/loglens/internal/cli"
	"github.com/ppiankov/loglens/internal/contextutil"
	"github.com/ppiankov/loglens/internal/export"
	"github.com/ppiankov/loglens/internal/report"
)

func newExportCmd() *cobra.Command {
	var (
		format string
		out    string
		level  string
		module string
	)

	cmd := &cobra.Command{
		Use:   "export <file|glob>...",
		Short: "Export parsed log records to Parquet, CSV, or JSONL",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" {
				return cli.NewUsageError("--out is required")
			}
			f, err := export.ParseFormat(format)
			if err != nil {
				return cli.NewUsageError(err.Error())
			}
			ctx, cancel := contextutil.WithSignals(cmd.Context())
			defer cancel()
			return runExport(ctx, args, f, out, level, module)
		},
	}

	cmd.Flags().StringVar(&format, "format", "parquet", "output format: parquet, csv, jsonl")
	cmd.Flags().StringVar(&out, "out", "", "output file path")
	cmd.Flags().StringVar(&level, "level", "", "only export records with this level")
	cmd.Flags().StringVar(&module, "module", "", "only export records from this module")

	return cmd
}

func runExport(ctx context.Context, patterns []string, format export.Format, out, level, module string) error {
	st, _, err := loadStore(ctx, patterns)
	if err != nil {
		return err
	}

	records := st.All()
	if level != "" || module != "" {
		filtered := records[:0:0]
		for _, r := range records {
			if level != "" && r.Level != level {
				continue
			}
			if module != "" && r.Module != module {
				continue
			}
			filtered = append(filtered, r)
		}
		records = filtered
	}

	progress := func(p export.Progress) {
		if p.Total > 0 {
			pct := float64(p.Written) / float64(p.Total) * 100
			fmt.Fprintf(os.Stderr, "\rExport: %s / %s records (%.1f%%)",
				report.FormatCount(p.Written), report.FormatCount(p.Total), pct)
		}
	}

	if err := export.Export(records, out, format, progress); err != nil {
		return cli.Classify(err)
	}

	fmt.Fprintf(os.Stderr, "\nExported %s records to %s (%s)\n", report.FormatCount(int64(len(records))), out, format)
	return nil
}
