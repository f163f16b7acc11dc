package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Veraticus/taxflow/internal/cli"
	"github.com/Veraticus/taxflow/internal/common"
	"github.com/Veraticus/taxflow/internal/model"
	"github.com/Veraticus/taxflow/internal/pattern"
)

func patternsCmd() *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:   "patterns",
		Short: "List learned vendor and keyword patterns",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var kinds []model.PatternKind
			switch kind {
			case "":
				kinds = []model.PatternKind{model.PatternVendor, model.PatternKeyword}
			case string(model.PatternVendor), string(model.PatternKeyword):
				kinds = []model.PatternKind{model.PatternKind(kind)}
			default:
				return common.NewUserError(fmt.Sprintf("Unknown pattern kind %q (want vendor or keyword)", kind), common.ErrConfiguration)
			}

			store, err := openStorage(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			patterns := pattern.NewStore(store, appConfig.PatternOptions())
			var entries []model.PatternEntry
			for _, k := range kinds {
				list, err := patterns.List(cmd.Context(), k)
				if err != nil {
					return err
				}
				entries = append(entries, list...)
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.RenderPatterns(entries))
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "only list this kind (vendor or keyword)")
	return cmd
}
