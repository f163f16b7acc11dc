package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Veraticus/taxflow/internal/cli"
	"github.com/Veraticus/taxflow/internal/common"
	"github.com/Veraticus/taxflow/internal/engine"
)

func analyzeCmd() *cobra.Command {
	var (
		fileID         string
		dryRun         bool
		includeCredits bool
		showResults    bool
		noProgress     bool
	)

	cmd := &cobra.Command{
		Use:   "analyze FILE...",
		Short: "Analyze records from OFX, QFX, JSON or YAML files",
		Long: `Analyze every new or changed record in each file.

Records already analyzed with identical content are skipped. A file is marked
complete only when every record in it was analyzed; rerun the command to retry
records that failed or were interrupted.`,
		Example: `  # Analyze a bank statement
  taxflow analyze statements/2024-q1.qfx

  # See what would happen without saving anything
  taxflow analyze --dry-run purchases.json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if fileID != "" && len(args) > 1 {
				return common.NewUserError("--file-id can only be used with a single file", common.ErrConfiguration)
			}

			handler := cli.NewInterruptHandler(cmd.ErrOrStderr())
			ctx := handler.HandleInterrupts(cmd.Context(), "Finished batches are saved; rerun analyze to continue.")

			store, err := openStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			var failed int
			for _, path := range args {
				id := fileID
				if id == "" {
					id = filepath.Base(path)
				}

				records, err := loadRecords(ctx, path, includeCredits)
				if err != nil {
					return err
				}
				if len(records) == 0 {
					slog.Warn("No records in file", "path", path, "error", common.ErrNoRecords)
					continue
				}

				var opts []engine.Option
				if !noProgress {
					opts = append(opts, engine.WithProgress(cli.NewProgress(cmd.ErrOrStderr(), "Analyzing "+id).Update))
				}
				proc, err := newProcessor(ctx, store, dryRun, opts...)
				if err != nil {
					return err
				}

				report, runErr := proc.Run(ctx, id, records)
				if report != nil {
					fmt.Fprintln(cmd.OutOrStdout(), cli.RenderRunReport(report))
					if showResults && len(report.Results) > 0 {
						fmt.Fprintln(cmd.OutOrStdout(), cli.RenderResults(report.Results))
					}
					failed += report.Failed
				}
				if runErr != nil {
					if handler.WasInterrupted() || errors.Is(runErr, ctx.Err()) {
						return common.NewUserError("Analysis interrupted", runErr)
					}
					return runErr
				}
			}

			if failed > 0 {
				return fmt.Errorf("%w: %d records failed", common.ErrAnalysisFailed, failed)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&fileID, "file-id", "", "identifier for the file (default: its base name)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "analyze without saving results or fingerprints")
	cmd.Flags().BoolVar(&includeCredits, "include-credits", false, "keep deposits and refunds from OFX files")
	cmd.Flags().BoolVar(&showResults, "show-results", false, "print every result after the summary")
	cmd.Flags().BoolVar(&noProgress, "no-progress", !isTerminal(os.Stderr), "disable the progress bar")

	return cmd
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}
