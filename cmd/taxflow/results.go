package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Veraticus/taxflow/internal/cli"
)

func resultsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "results FILE_ID",
		Short: "Show the stored results for a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStorage(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			results, err := store.ListResults(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.RenderResults(results))
			return nil
		},
	}
}
