package main

import (
	"github.com/spf13/cobra"

	"audita/internal/platform/httpserver"
	"audita/internal/platform/metrics"
	httptransport "audita/internal/transport/http"
)

func serveCmd(g *globals) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve stored runs over HTTP",
		Long: `Serve exposes the read-only query surface over the configured snapshot
backend: tables, summaries, subject views, the audit trail, /healthz and
/metrics.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, log, err := g.setup(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			b, err := openBackend(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer b.Close()

			m := metrics.New()
			handler := httptransport.New(b.snapshots, b.events, log, m)
			router := httptransport.NewRouter(handler, httptransport.RouterConfig{
				Logger:  log,
				Metrics: m,
				Checks:  b.checks,
			})

			srv := httpserver.New(cfg.Server.Addr, router)
			return httpserver.Run(ctx, srv, cfg.Server.ShutdownTimeout, log)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address; overrides AUDITA_ADDR")
	return cmd
}
