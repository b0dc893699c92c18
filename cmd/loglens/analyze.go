package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/loglens/internal/contextutil"
	"github.com/ppiankov/loglens/internal/report"
	"github.com/ppiankov/loglens/internal/stats"
)

func newAnalyzeCmd() *cobra.Command {
	var (
		flags      analysisFlags
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "analyze <file|glob>...",
		Short: "Analyze log files and print the report",
		Long: `Parses every line of the given files (globs such as logs/**/*.log are
expanded, .gz and .zst are decompressed, "-" reads stdin), computes level,
module, error, performance and daily statistics, and prints the report to
stdout. Malformed lines are skipped and counted.`,
		Args: cobra.MinimumNArgs(1),
		PreRun: func(cmd *cobra.Command, args []string) {
			applyConfigDefaults(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.validate(); err != nil {
				return err
			}
			ctx, cancel := contextutil.WithSignals(cmd.Context())
			defer cancel()
			return runAnalyze(ctx, args, &flags, jsonOutput)
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output report as JSON")

	return cmd
}

func runAnalyze(ctx context.Context, patterns []string, flags *analysisFlags, jsonOutput bool) error {
	st, ls, err := loadStore(ctx, patterns)
	if err != nil {
		return err
	}

	res := stats.Analyze(st.Snapshot(), flags.statsOptions())
	r := report.Generate(sourceName(ls, patterns), st, res, flags.reportOptions())

	if jsonOutput {
		err = r.WriteJSON(os.Stdout)
	} else {
		err = r.WriteText(os.Stdout)
	}
	if err != nil {
		return err
	}
	return flags.checkFailOn(r)
}
