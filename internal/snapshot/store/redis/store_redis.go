package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"audita/internal/snapshot"
	"audita/pkg/platform/sentinel"
)

const (
	snapshotKeyPrefix = "audita:snapshot:"
	// indexKey is a sorted set of run ids scored by creation time.
	indexKey = "audita:snapshots"
)

// Store is a Redis-backed snapshot store for deployments where several
// servers read the same runs.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithTTL expires snapshots after ttl. Zero keeps them forever.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// New constructs a store over a client whose lifecycle is managed externally.
func New(client *redis.Client, opts ...Option) *Store {
	s := &Store{client: client}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *Store) Save(ctx context.Context, snap *snapshot.Snapshot) error {
	data, err := snapshot.Marshal(snap)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, snapshotKeyPrefix+snap.RunID, data, s.ttl)
	pipe.ZAdd(ctx, indexKey, redis.Z{
		Score:  float64(snap.CreatedAt.UnixMilli()),
		Member: snap.RunID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save snapshot %s: %w", snap.RunID, err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, runID string) (*snapshot.Snapshot, error) {
	data, err := s.client.Get(ctx, snapshotKeyPrefix+runID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("snapshot %s: %w", runID, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot %s: %w", runID, err)
	}
	return snapshot.Unmarshal(data)
}

// List returns stored runs, most recent first. Index entries whose snapshot
// expired are pruned on the way.
func (s *Store) List(ctx context.Context) ([]snapshot.Info, error) {
	members, err := s.client.ZRevRangeWithScores(ctx, indexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}

	infos := make([]snapshot.Info, 0, len(members))
	var stale []any
	for _, m := range members {
		runID, ok := m.Member.(string)
		if !ok {
			continue
		}
		exists, err := s.client.Exists(ctx, snapshotKeyPrefix+runID).Result()
		if err != nil {
			return nil, fmt.Errorf("check snapshot %s: %w", runID, err)
		}
		if exists == 0 {
			stale = append(stale, runID)
			continue
		}
		infos = append(infos, snapshot.Info{
			RunID:     runID,
			CreatedAt: time.UnixMilli(int64(m.Score)).UTC(),
		})
	}
	if len(stale) > 0 {
		if err := s.client.ZRem(ctx, indexKey, stale...).Err(); err != nil {
			return nil, fmt.Errorf("prune snapshot index: %w", err)
		}
	}
	return infos, nil
}
