package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"audita/internal/aggregation"
	"audita/internal/snapshot"
	filestore "audita/internal/snapshot/store/file"
)

// sourceOptions selects the snapshot a read command works on.
type sourceOptions struct {
	snapshotPath string
	runID        string
}

func (o *sourceOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.snapshotPath, "snapshot", "s", "", "Snapshot file written by run --out")
	cmd.Flags().StringVar(&o.runID, "run", "", "Run id to load from the snapshot backend")
	cmd.MarkFlagsOneRequired("snapshot", "run")
	cmd.MarkFlagsMutuallyExclusive("snapshot", "run")
}

func (o *sourceOptions) load(ctx context.Context, g *globals, cmd *cobra.Command) (*snapshot.Snapshot, error) {
	cfg, log, err := g.setup(cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	if o.snapshotPath != "" {
		return filestore.ReadFile(o.snapshotPath)
	}

	b, err := openBackend(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	defer b.Close()
	return b.snapshots.Load(ctx, o.runID)
}

func tablesCmd(g *globals) *cobra.Command {
	var (
		src    sourceOptions
		kind   string
		outDir string
	)

	cmd := &cobra.Command{
		Use:   "tables",
		Short: "Export aggregation tables of a run as CSV",
		Long: `Tables rebuilds the cross tabulations of a run from its snapshot.

With --kind the table is written to stdout unless --out-dir is set. Without
--kind every table is written to <out-dir>/<kind>.csv.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			kinds := aggregation.Kinds
			if kind != "" {
				k, err := aggregation.ParseKind(kind)
				if err != nil {
					return err
				}
				kinds = []aggregation.Kind{k}
			}

			snap, err := src.load(cmd.Context(), g, cmd)
			if err != nil {
				return err
			}

			if kind != "" && outDir == "" {
				table, err := aggregation.Build(kinds[0], snap.Subjects)
				if err != nil {
					return err
				}
				return table.WriteCSV(cmd.OutOrStdout())
			}

			if outDir == "" {
				outDir = "."
			}
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return fmt.Errorf("create %s: %w", outDir, err)
			}
			var errs []error
			for _, k := range kinds {
				errs = append(errs, writeTable(filepath.Join(outDir, string(k)+".csv"), k, snap))
			}
			return errors.Join(errs...)
		},
	}

	src.bind(cmd)
	cmd.Flags().StringVarP(&kind, "kind", "k", "", "Table kind: findings, forwardings, situations, items")
	cmd.Flags().StringVar(&outDir, "out-dir", "", "Directory for CSV files")
	return cmd
}

func writeTable(path string, kind aggregation.Kind, snap *snapshot.Snapshot) (err error) {
	table, err := aggregation.Build(kind, snap.Subjects)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()
	return table.WriteCSV(f)
}

func summaryCmd(g *globals) *cobra.Command {
	var (
		src sourceOptions
		top int
	)

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Print the summary of a run as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			snap, err := src.load(cmd.Context(), g, cmd)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(aggregation.Summarize(snap.Subjects, top))
		},
	}

	src.bind(cmd)
	cmd.Flags().IntVar(&top, "top", aggregation.DefaultTop, "Length of the recurring lists; 0 keeps all")
	return cmd
}
