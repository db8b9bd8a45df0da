package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pegacorn/hestia/internal/app"
	"github.com/pegacorn/hestia/internal/query"
	"github.com/pegacorn/hestia/internal/repository"
	"github.com/pegacorn/hestia/pkg/types"
)

func newSearchCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "search <kind> [param=value...]",
		Short: "Search records by parameters",
		Long: `Search one kind by its parameters and print each matching body on its own
line. Parameters are ANDed. A search without recognized parameters matches
nothing. limit=N returns at most N of the newest matches.

Examples:
  hestia search AuditEvent agent-name=dr. site=ward-1
  hestia search AuditEvent date=2021-03-04T10:15
  hestia search Task status=ready limit=10`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := parseParams(args[1:])
			if err != nil {
				return err
			}
			return withApp(cmd, root, func(ctx context.Context, a *app.App) error {
				repo, err := a.Repositories().Lookup(args[0])
				if err != nil {
					return err
				}
				seq, err := repo.Search(ctx, params)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for body, err := range seq {
					if err != nil {
						return err
					}
					fmt.Fprintln(out, body)
				}
				return nil
			})
		},
	}
}

// parseParams reads name=value arguments.
func parseParams(args []string) (query.Params, error) {
	params := make(query.Params, len(args))
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid parameter %q: expected name=value", arg)
		}
		params[name] = value
	}
	return params, nil
}

func newReadCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "read <kind> <id>",
		Short: "Print the stored body of one record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, root, func(ctx context.Context, a *app.App) error {
				repo, err := a.Repositories().Lookup(args[0])
				if err != nil {
					return err
				}
				body, err := repo.Read(ctx, args[1])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), body)
				return nil
			})
		},
	}
}

func newPutCmd(root *rootFlags) *cobra.Command {
	var id string

	cmd := &cobra.Command{
		Use:   "put <kind> <file.json|->",
		Short: "Write records from a JSON file",
		Long: `Write one record, or a JSON array of records, read from a file or stdin.
Records without an id are given one. Writing an existing id overwrites it.
One outcome per record is printed as a JSON line.

Examples:
  hestia put Task task.json
  hestia put Device devices.json
  cat event.json | hestia put AuditEvent - --id ae-7`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args[1])
			if err != nil {
				return err
			}
			return withApp(cmd, root, func(ctx context.Context, a *app.App) error {
				repo, err := a.Repositories().Lookup(args[0])
				if err != nil {
					return err
				}
				outcomes, err := putRecords(ctx, repo, data, id)
				enc := json.NewEncoder(cmd.OutOrStdout())
				for _, o := range outcomes {
					enc.Encode(o)
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "record id, replacing any id in the body (single record only)")
	return cmd
}

func readInput(cmd *cobra.Command, name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(name)
}

// putRecords writes a single body or an array of bodies.
func putRecords(ctx context.Context, repo *repository.Repository, data []byte, id string) ([]repository.Outcome, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if id != "" {
			return nil, fmt.Errorf("--id cannot be used with an array of records")
		}
		var elems []json.RawMessage
		if err := json.Unmarshal(trimmed, &elems); err != nil {
			return nil, fmt.Errorf("decode records: %w", err)
		}
		recs := make([]*types.Record, 0, len(elems))
		for i, elem := range elems {
			rec, err := types.NewRecord(repo.Kind(), elem)
			if err != nil {
				return nil, fmt.Errorf("record %d: %w", i, err)
			}
			recs = append(recs, rec)
		}
		return repo.CreateBatch(ctx, recs)
	}

	rec, err := types.NewRecord(repo.Kind(), trimmed)
	if err != nil {
		return nil, err
	}
	if id != "" && id != rec.ID {
		if err := rec.SetID(id); err != nil {
			return nil, err
		}
	}
	o, err := repo.Create(ctx, rec)
	return []repository.Outcome{o}, err
}
