package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib"

	"audita/internal/platform/config"
	platformredis "audita/internal/platform/redis"
	"audita/internal/snapshot"
	filestore "audita/internal/snapshot/store/file"
	memorystore "audita/internal/snapshot/store/memory"
	pgstore "audita/internal/snapshot/store/postgres"
	redisstore "audita/internal/snapshot/store/redis"
	httptransport "audita/internal/transport/http"
	"audita/pkg/platform/audit"
	auditmemory "audita/pkg/platform/audit/store/memory"
	auditpg "audita/pkg/platform/audit/store/postgres"
	txcontext "audita/pkg/platform/tx"
)

// backend bundles the stores selected by configuration.
type backend struct {
	snapshots snapshot.Store
	events    audit.Store
	checks    map[string]httptransport.HealthCheck
	closers   []func() error
}

func (b *backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i]())
	}
	return errors.Join(errs...)
}

// openBackend connects the snapshot store and the audit trail store. Only
// PostgreSQL keeps the audit trail across processes; the other backends keep
// it in memory.
func openBackend(ctx context.Context, cfg config.Config, logger *slog.Logger) (*backend, error) {
	b := &backend{
		events: auditmemory.NewInMemoryStore(),
		checks: map[string]httptransport.HealthCheck{},
	}

	switch cfg.Snapshot.Backend {
	case config.BackendFile:
		store, err := filestore.New(cfg.Snapshot.Dir)
		if err != nil {
			return nil, err
		}
		b.snapshots = store

	case config.BackendMemory:
		b.snapshots = memorystore.NewInMemoryStore()

	case config.BackendPostgres:
		db, err := sql.Open("pgx", cfg.Snapshot.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		b.closers = append(b.closers, db.Close)
		if err := db.PingContext(ctx); err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("postgres ping failed: %w", err)
		}

		snapshots := pgstore.New(db)
		events := auditpg.New(db)
		err = txcontext.Run(ctx, db, func(ctx context.Context) error {
			if err := snapshots.Migrate(ctx); err != nil {
				return err
			}
			return events.Migrate(ctx)
		})
		if err != nil {
			_ = b.Close()
			return nil, err
		}
		b.snapshots = snapshots
		b.events = events
		b.checks["postgres"] = db.PingContext

	case config.BackendRedis:
		client, err := platformredis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, client.Close)
		b.snapshots = redisstore.New(client.Client, redisstore.WithTTL(cfg.Snapshot.TTL))
		b.checks["redis"] = client.Health

	default:
		return nil, fmt.Errorf("unknown snapshot backend %q", cfg.Snapshot.Backend)
	}

	logger.Debug("snapshot backend ready", "backend", cfg.Snapshot.Backend)
	return b, nil
}
