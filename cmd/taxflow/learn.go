package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Veraticus/taxflow/internal/cli"
	"github.com/Veraticus/taxflow/internal/learning"
	"github.com/Veraticus/taxflow/internal/metrics"
	"github.com/Veraticus/taxflow/internal/pattern"
	"github.com/Veraticus/taxflow/internal/storage"
)

func learnCmd() *cobra.Command {
	var skipCheckpoint bool

	cmd := &cobra.Command{
		Use:   "learn CORRECTIONS_FILE",
		Short: "Apply reviewer corrections to the learned patterns",
		Long: `Apply a JSON or YAML file of reviewer corrections.

Every correction is written to the audit log before any pattern changes.
Corrections already applied are recognized by content and skipped, so the
same file can be fed in more than once. A checkpoint of the database is taken
first unless --no-checkpoint is given.`,
		Example: `  taxflow learn reviews/2024-q1.yaml`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			corrections, err := loadCorrections(args[0])
			if err != nil {
				return err
			}

			store, err := openStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if !skipCheckpoint {
				autoCheckpoint(cmd, store, "learn")
			}

			loop := learning.New(store, pattern.NewStore(store, appConfig.PatternOptions()), metrics.Default())
			summary, err := loop.Apply(ctx, corrections)
			if summary != nil {
				fmt.Fprintln(cmd.OutOrStdout(), cli.RenderUpdateSummary(*summary))
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&skipCheckpoint, "no-checkpoint", false, "skip the automatic checkpoint")
	return cmd
}

func autoCheckpoint(cmd *cobra.Command, store *storage.SQLiteStorage, prefix string) {
	manager, err := store.NewCheckpointManager()
	if errors.Is(err, storage.ErrInMemoryDatabase) {
		return
	}
	if err != nil {
		slog.Warn("Failed to prepare checkpoint", "error", err)
		return
	}
	info, err := manager.AutoCheckpoint(cmd.Context(), prefix)
	if err != nil {
		slog.Warn("Failed to create automatic checkpoint", "error", err)
		return
	}
	slog.Info("Created checkpoint", "id", info.ID)
}
