package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Veraticus/taxflow/internal/cli"
	"github.com/Veraticus/taxflow/internal/model"
	"github.com/Veraticus/taxflow/internal/rules"
)

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect the static rules file",
	}
	cmd.AddCommand(rulesCheckCmd())
	return cmd
}

func rulesCheckCmd() *cobra.Command {
	var rec model.Record

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the rules file and optionally test a record against it",
		Example: `  taxflow rules check
  taxflow rules check --vendor "Acme Cloud" --product-type saas --amount 1200`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			matcher, err := loadRules()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			loaded := matcher.Rules()
			fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("%d rules valid in %s", len(loaded), appConfig.Rules.Path)))

			if rec.Vendor == "" && rec.ProductType == "" {
				return nil
			}
			matches, err := matcher.Match(cmd.Context(), rec)
			if err != nil {
				return err
			}
			if len(matches) == 0 {
				fmt.Fprintln(out, cli.FormatInfo("No rule matches this record"))
				return nil
			}
			for i, rule := range matches {
				line := rules.Explain(rec, rule)
				if i == 0 {
					fmt.Fprintln(out, cli.FormatSuccess(line))
					continue
				}
				fmt.Fprintln(out, cli.SubtleStyle.Render("  shadowed: "+line))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&rec.Vendor, "vendor", "", "vendor of the test record")
	cmd.Flags().StringVar(&rec.ProductType, "product-type", "", "product type of the test record")
	cmd.Flags().StringVar(&rec.Category, "category", "", "category of the test record")
	cmd.Flags().Float64Var(&rec.Amount, "amount", 0, "amount of the test record")
	return cmd
}
