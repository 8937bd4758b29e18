package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"audita/internal/snapshot"
	"audita/pkg/platform/sentinel"
	"audita/pkg/testutil"
)

type InMemoryStoreSuite struct {
	suite.Suite
	store *InMemoryStore
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.store = NewInMemoryStore()
}

func (s *InMemoryStoreSuite) TestSaveAndLoad() {
	ctx := context.Background()
	subjects := testutil.NewAuditFixture(s.T()).Audit(s.T())
	snap := snapshot.New("run-1", time.Now(), subjects)

	s.Require().NoError(s.store.Save(ctx, snap))

	loaded, err := s.store.Load(ctx, "run-1")
	s.Require().NoError(err)
	s.Equal(snap.RunID, loaded.RunID)
	s.Equal(snap.CreatedAt, loaded.CreatedAt)
	s.Equal(snap.Keys(), loaded.Keys())

	s.Run("loaded snapshots are detached copies", func() {
		loaded.Subjects[0].Name = "changed"
		again, err := s.store.Load(ctx, "run-1")
		s.Require().NoError(err)
		s.Equal("Organization One", again.Subjects[0].Name)
	})
}

func (s *InMemoryStoreSuite) TestLoadUnknown() {
	_, err := s.store.Load(context.Background(), "missing")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *InMemoryStoreSuite) TestListNewestFirst() {
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.Require().NoError(s.store.Save(ctx, snapshot.New("old", base, nil)))
	s.Require().NoError(s.store.Save(ctx, snapshot.New("new", base.Add(time.Hour), nil)))

	infos, err := s.store.List(ctx)
	s.Require().NoError(err)
	s.Require().Len(infos, 2)
	s.Equal("new", infos[0].RunID)
	s.Equal("old", infos[1].RunID)

	s.store.Clear()
	infos, err = s.store.List(ctx)
	s.Require().NoError(err)
	s.Empty(infos)
}
