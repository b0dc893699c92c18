package main

import (
	"context"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ppiankov/loglens/internal/cli"
	"github.com/ppiankov/loglens/internal/config"
	"github.com/ppiankov/loglens/internal/logging"
)

var version = "dev"

var (
	cfg    *config.Config
	logger = zap.NewNop()

	logLevel      string
	logFormat     string
	logFile       string
	verbose       bool
	jsonErrors    bool
	cleanupLogger = func() {}
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	err := execute()
	cli.FormatError(os.Stderr, err, jsonErrors)
	os.Exit(cli.ExitCode(err))
}

func execute() error {
	cfg = config.Load()
	return newRootCmd().ExecuteContext(context.Background())
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "loglens",
		Short:         "Analyze and monitor structured application logs",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			cleanupLogger()
		},
	}

	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "diagnostic log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "", "diagnostic log format (console or json)")
	root.PersistentFlags().StringVar(&logFile, "log-file", "", "also write diagnostics to a rotated file")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug diagnostics")
	root.PersistentFlags().BoolVar(&jsonErrors, "json-errors", false, "print errors as JSON")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newAnalyzeCmd())
	root.AddCommand(newReportCmd())
	root.AddCommand(newTailCmd())
	root.AddCommand(newExportCmd())
	root.AddCommand(newCompletionCmd())
	return root
}

// setupLogging builds the global logger. Flags > env > config > defaults.
func setupLogging(cmd *cobra.Command) error {
	lc := logging.Config{}
	if cfg != nil {
		lc = logging.Config{
			Level:      cfg.Log.Level,
			Format:     cfg.Log.Format,
			File:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
		}
		if cfg.Defaults.Verbose && !cmd.Flags().Changed("verbose") {
			verbose = true
		}
	}
	if logLevel != "" {
		lc.Level = logLevel
	}
	if logFormat != "" {
		lc.Format = logFormat
	}
	if logFile != "" {
		lc.File = logFile
	}
	if verbose && logLevel == "" {
		lc.Level = "debug"
	}

	l, cleanup, err := logging.New(lc, os.Stderr)
	if err != nil {
		return cli.NewUsageError(err.Error())
	}
	logger = l
	cleanupLogger = cleanup
	return nil
}
