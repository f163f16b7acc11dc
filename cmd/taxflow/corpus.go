package main

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"

	"github.com/Veraticus/taxflow/internal/cli"
	"github.com/Veraticus/taxflow/internal/common"
	"github.com/Veraticus/taxflow/internal/corpus"
	"github.com/Veraticus/taxflow/internal/metrics"
	"github.com/Veraticus/taxflow/internal/model"
)

func corpusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "corpus",
		Short: "Manage the reference corpus",
	}
	cmd.AddCommand(corpusIngestCmd())
	cmd.AddCommand(corpusSearchCmd())
	return cmd
}

func corpusIngestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest FILE|GLOB...",
		Short: "Load reference documents from JSON or YAML files",
		Long: `Split, embed and store reference documents.

Chunks of a document may be appended to or overwritten, but a document's
sequence numbers must stay contiguous. A file with an invalid document stops
the ingest before that document is written. Arguments may be globs such as
"statutes/**/*.yaml".`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			paths, err := expandPaths(args)
			if err != nil {
				return err
			}
			store, err := openStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			index, err := openCorpus(ctx, store)
			if err != nil {
				return err
			}
			ingester := corpus.NewIngester(store, index, appConfig.Retrieval.MaxChunkChars)

			for _, path := range paths {
				docs, err := corpus.ParseFile(path)
				if err != nil {
					return err
				}
				report, err := ingester.Ingest(ctx, docs)
				if err != nil {
					return fmt.Errorf("ingest of %s failed: %w", path, err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(
					fmt.Sprintf("%s: %d documents, %d chunks", path, report.Documents, report.Chunks)))
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo(fmt.Sprintf("Corpus now holds %d chunks", index.Count())))
			return nil
		},
	}
}

func corpusSearchCmd() *cobra.Command {
	var (
		strategy   string
		category   string
		documentID string
	)

	cmd := &cobra.Command{
		Use:     "search QUERY...",
		Short:   "Run a retrieval strategy against the corpus",
		Example: `  taxflow corpus search --strategy enhanced "cloud software subscription"`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := model.ParseStrategy(strategy)
			if err != nil {
				return common.NewUserError("Invalid --strategy", err)
			}

			ctx := cmd.Context()
			store, err := openStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			index, err := openCorpus(ctx, store)
			if err != nil {
				return err
			}
			searcher, err := newSearcher(index, metrics.Default())
			if err != nil {
				return err
			}

			res, err := searcher.Search(ctx, strings.Join(args, " "), s, model.SearchFilters{Category: category, DocumentID: documentID})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.RenderRetrieval(res))
			return nil
		},
	}

	cmd.Flags().StringVar(&strategy, "strategy", string(model.StrategyHybrid), "basic, hybrid, expansion, corrective, rerank or enhanced")
	cmd.Flags().StringVar(&category, "category", "", "only search chunks in this category")
	cmd.Flags().StringVar(&documentID, "document", "", "only search chunks of this document")
	return cmd
}

// expandPaths resolves glob arguments, keeping their order and dropping repeats.
func expandPaths(args []string) ([]string, error) {
	var paths []string
	seen := make(map[string]bool)
	for _, arg := range args {
		matches := []string{arg}
		if strings.ContainsAny(arg, "*?[{") {
			var err error
			matches, err = doublestar.FilepathGlob(arg, doublestar.WithFilesOnly())
			if err != nil {
				return nil, common.NewUserError(fmt.Sprintf("Invalid pattern %q", arg), err)
			}
			if len(matches) == 0 {
				return nil, common.NewUserError(fmt.Sprintf("No files match %q", arg), common.ErrNotFound)
			}
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				paths = append(paths, m)
			}
		}
	}
	return paths, nil
}
