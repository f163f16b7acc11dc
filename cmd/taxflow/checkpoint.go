package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Veraticus/taxflow/internal/cli"
	"github.com/Veraticus/taxflow/internal/storage"
)

func checkpointCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Manage database checkpoints",
		Long: `Create, list and delete database checkpoints.

A checkpoint is a verified copy of the database taken before risky changes.
The learn command takes one automatically.`,
	}
	cmd.AddCommand(createCheckpointCmd())
	cmd.AddCommand(listCheckpointsCmd())
	cmd.AddCommand(deleteCheckpointCmd())
	return cmd
}

func checkpointManager(cmd *cobra.Command) (*storage.SQLiteStorage, *storage.CheckpointManager, error) {
	store, err := openStorage(cmd.Context())
	if err != nil {
		return nil, nil, err
	}
	manager, err := store.NewCheckpointManager()
	if err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("failed to create checkpoint manager: %w", err)
	}
	return store, manager, nil
}

func createCheckpointCmd() *cobra.Command {
	var tag, description string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new checkpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, manager, err := checkpointManager(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			info, err := manager.Create(cmd.Context(), tag, description, false)
			if err != nil {
				return fmt.Errorf("failed to create checkpoint: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Created checkpoint %s (%d patterns, %d results)", info.ID, info.Patterns, info.Results)))
			return nil
		},
	}

	cmd.Flags().StringVar(&tag, "tag", "", "checkpoint name (default: timestamped)")
	cmd.Flags().StringVar(&description, "description", "", "free-form description")
	return cmd
}

func listCheckpointsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List checkpoints, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, manager, err := checkpointManager(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			list, err := manager.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo("No checkpoints yet"))
				return nil
			}

			var b strings.Builder
			for _, cp := range list {
				kind := "manual"
				if cp.IsAuto {
					kind = "auto"
				}
				fmt.Fprintf(&b, "%s  %s  %s  %d patterns  %d results  %d corrections\n",
					cli.BoldStyle.Render(cp.ID), cp.CreatedAt.Format("2006-01-02 15:04"), kind,
					cp.Patterns, cp.Results, cp.Corrections)
			}
			fmt.Fprint(cmd.OutOrStdout(), b.String())
			return nil
		},
	}
}

func deleteCheckpointCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, manager, err := checkpointManager(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if err := manager.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Deleted checkpoint "+args[0]))
			return nil
		},
	}
}
