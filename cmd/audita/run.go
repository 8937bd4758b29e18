package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/cobra"

	"audita/internal/ingest"
	"audita/internal/runner"
	"audita/internal/runner/metrics"
	filestore "audita/internal/snapshot/store/file"
	"audita/pkg/platform/audit/publisher"
)

// runnerMetrics registers once per process; commands may run repeatedly in
// tests.
var runnerMetrics = sync.OnceValue(metrics.New)

type runOptions struct {
	mapPath   string
	out       string
	workers   int
	noPersist bool
}

func runCmd(g *globals) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Audit every subject of an audit map",
		Long: `Run loads an audit map and its CSV sources, applies every procedure to
every subject, persists the run to the configured snapshot backend and
prints the run report as JSON.

Procedure failures are reported per subject and never stop the batch.
An interrupted run prints the partial report and is not persisted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAudit(cmd, g, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.mapPath, "map", "m", "", "Audit map file (YAML)")
	cmd.Flags().StringVarP(&opts.out, "out", "o", "", "Also write the snapshot to this file")
	cmd.Flags().IntVarP(&opts.workers, "workers", "w", 0, "Concurrent subjects; overrides AUDITA_WORKERS")
	cmd.Flags().BoolVar(&opts.noPersist, "no-persist", false, "Skip the snapshot backend")
	_ = cmd.MarkFlagRequired("map")
	return cmd
}

func runAudit(cmd *cobra.Command, g *globals, opts *runOptions) error {
	ctx := cmd.Context()
	cfg, log, err := g.setup(cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	loader := ingest.NewLoader(os.DirFS(filepath.Dir(opts.mapPath)), ingest.WithLogger(log))
	a, err := loader.Load(filepath.Base(opts.mapPath))
	if err != nil {
		return err
	}

	workers := cfg.Runner.Workers
	if opts.workers != 0 {
		workers = opts.workers
	}
	runnerOpts := []runner.Option{
		runner.WithLogger(log),
		runner.WithMetrics(runnerMetrics()),
		runner.WithWorkers(workers),
	}

	if !opts.noPersist {
		b, err := openBackend(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer b.Close()

		pub := publisher.NewPublisher(b.events, publisher.WithLogger(log), publisher.WithAsyncBuffer(256))
		defer pub.Close()
		runnerOpts = append(runnerOpts, runner.WithSnapshotStore(b.snapshots), runner.WithAuditPublisher(pub))
	}

	report, runErr := runner.New(runnerOpts...).Run(ctx, a.Subjects, a.Procedures)
	if report == nil {
		return runErr
	}

	if opts.out != "" {
		if err := filestore.WriteFile(opts.out, report.Snapshot()); err != nil {
			return errors.Join(runErr, err)
		}
		log.Info("snapshot written", "run_id", report.RunID, "path", opts.out)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return errors.Join(runErr, fmt.Errorf("write report: %w", err))
	}
	return runErr
}
