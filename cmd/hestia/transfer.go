package main

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/pegacorn/hestia/internal/app"
	"github.com/pegacorn/hestia/internal/export"
	"github.com/pegacorn/hestia/pkg/types"
)

func newExportCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "export [kind...]",
		Short: "Write every record of the given kinds to the export target",
		Long: `Scan every row of each kind and write its body to the export target as
<prefix>/<kind>/<id>.json. Without arguments the kinds listed in
export.kinds are exported, or all kinds if none are listed.

Examples:
  hestia export
  hestia export AuditEvent Task`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, root, func(ctx context.Context, a *app.App) error {
				kinds, err := selectKinds(a, args)
				if err != nil {
					return err
				}
				results, err := a.Exporter().ExportAll(ctx, kinds)
				enc := json.NewEncoder(cmd.OutOrStdout())
				for _, r := range results {
					enc.Encode(r)
				}
				return err
			})
		},
	}
}

func newImportCmd(root *rootFlags) *cobra.Command {
	var (
		prefix      string
		concurrency int
		batchSize   int
	)

	cmd := &cobra.Command{
		Use:   "import <kind...>",
		Short: "Load records of the given kinds from an export",
		Long: `Read every document under <prefix>/<kind>/ in the export target and write
it to the store. Existing records with the same id are overwritten.

Examples:
  hestia import Device
  hestia import Task --prefix backups/2021-03-04`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, root, func(ctx context.Context, a *app.App) error {
				kinds, err := selectKinds(a, args)
				if err != nil {
					return err
				}
				if prefix == "" {
					prefix = a.Config().Export.Prefix
				}
				importer := export.NewImporter(a.ObjectStorage(), a.Repositories(), export.ImporterConfig{
					Prefix:      prefix,
					Concurrency: concurrency,
					BatchSize:   batchSize,
				})

				enc := json.NewEncoder(cmd.OutOrStdout())
				for _, kind := range kinds {
					res, err := importer.Import(ctx, kind)
					enc.Encode(res)
					if err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "object prefix of the dump (defaults to export.prefix)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 8, "parallel object reads")
	cmd.Flags().IntVar(&batchSize, "batch-size", 100, "records written per store call")
	return cmd
}

// selectKinds resolves kind arguments, falling back to the configured
// export kinds.
func selectKinds(a *app.App, args []string) ([]types.Kind, error) {
	if len(args) == 0 {
		return a.Config().ExportKinds()
	}
	kinds := make([]types.Kind, 0, len(args))
	for _, name := range args {
		repo, err := a.Repositories().Lookup(name)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, repo.Kind())
	}
	return kinds, nil
}
