package runner

//go:generate mockgen -source=runner.go -destination=mocks/mocks.go -package=mocks SnapshotStore,AuditPublisher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/goleak"
	"go.uber.org/mock/gomock"

	"audita/internal/ids"
	"audita/internal/procedure"
	"audita/internal/runner/metrics"
	"audita/internal/runner/mocks"
	"audita/internal/snapshot"
	"audita/internal/subject"
	"audita/pkg/platform/audit"
	audittest "audita/pkg/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// =============================================================================
// Runner Service Test Suite
// =============================================================================
// Covers batch scheduling, per-unit failure isolation, coarse cancellation,
// snapshot persistence and the audit trail emitted along the way.

type RunnerSuite struct {
	suite.Suite
	ctrl          *gomock.Controller
	mockStore     *mocks.MockSnapshotStore
	mockPublisher *mocks.MockAuditPublisher
	fixture       *audittest.AuditFixture
	logger        *slog.Logger
	clock         time.Time
}

func TestRunnerSuite(t *testing.T) {
	suite.Run(t, new(RunnerSuite))
}

func (s *RunnerSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.mockStore = mocks.NewMockSnapshotStore(s.ctrl)
	s.mockPublisher = mocks.NewMockAuditPublisher(s.ctrl)
	s.fixture = audittest.NewAuditFixture(s.T())
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	s.clock = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
}

func (s *RunnerSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *RunnerSuite) newService(opts ...Option) *Service {
	base := []Option{
		WithLogger(s.logger),
		WithRunIDs(ids.NewSequence("RUN")),
		WithClock(func() time.Time { return s.clock }),
		WithWorkers(2),
	}
	return New(append(base, opts...)...)
}

// =============================================================================
// Constructor Tests
// =============================================================================

func (s *RunnerSuite) TestNew() {
	s.Run("defaults", func() {
		svc := New()
		s.GreaterOrEqual(svc.workers, 1)
		s.NotNil(svc.logger)
		s.NotNil(svc.tracer)
		s.Nil(svc.store)
		s.Nil(svc.publisher)
	})

	s.Run("with options applies options", func() {
		svc := New(
			WithLogger(s.logger),
			WithSnapshotStore(s.mockStore),
			WithAuditPublisher(s.mockPublisher),
			WithWorkers(7),
			nil,
		)
		s.Equal(s.logger, svc.logger)
		s.Equal(s.mockStore, svc.store)
		s.Equal(s.mockPublisher, svc.publisher)
		s.Equal(7, svc.workers)
	})
}

// =============================================================================
// Run Tests
// =============================================================================

func (s *RunnerSuite) TestRun_AuditsEverySubject() {
	svc := s.newService()

	report, err := svc.Run(context.Background(), s.fixture.Subjects, s.fixture.Procedures)
	s.Require().NoError(err)

	s.Equal("RUN01", report.RunID)
	s.Equal(4, report.Audited)
	s.Equal(3, report.WithFindings)
	s.Zero(report.Skipped)
	s.Empty(report.Failures)
	s.False(report.Cancelled)
	s.False(report.Persisted)

	for _, sub := range s.fixture.Subjects {
		s.True(sub.Audited, sub.Key)
		s.Len(sub.Executed, 3, sub.Key)
	}
	s.Equal([]string{"1. Policy", "2. Plan"}, s.fixture.Subjects[0].FindingNames())
	s.False(s.fixture.Subjects[3].HasFindings)
}

func (s *RunnerSuite) TestRun_MatchesSequentialExecution() {
	sequential := audittest.NewAuditFixture(s.T())
	for _, sub := range sequential.Subjects {
		sub.ApplyProcedures(sequential.Procedures)
	}

	svc := s.newService(WithWorkers(4))
	_, err := svc.Run(context.Background(), s.fixture.Subjects, s.fixture.Procedures)
	s.Require().NoError(err)

	for i, sub := range s.fixture.Subjects {
		s.Equal(sequential.Subjects[i].FindingNames(), sub.FindingNames())
		s.Equal(sequential.Subjects[i].NonConformantSituations(), sub.NonConformantSituations())
		s.Equal(sequential.Subjects[i].ActionPlan(), sub.ActionPlan())
	}
}

func (s *RunnerSuite) TestRun_PersistsSnapshot() {
	var saved *snapshot.Snapshot
	s.mockStore.EXPECT().Save(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, snap *snapshot.Snapshot) error {
			saved = snap
			return nil
		})

	svc := s.newService(WithSnapshotStore(s.mockStore))
	report, err := svc.Run(context.Background(), s.fixture.Subjects, s.fixture.Procedures)
	s.Require().NoError(err)

	s.True(report.Persisted)
	s.Require().NotNil(saved)
	s.Equal("RUN01", saved.RunID)
	s.Equal(s.clock, saved.CreatedAt)
	s.Equal([]string{"ORG1", "ORG2", "ORG3", "ORG4"}, saved.Keys())
}

func (s *RunnerSuite) TestRun_SnapshotFailureIsReported() {
	s.mockStore.EXPECT().Save(gomock.Any(), gomock.Any()).Return(errors.New("connection refused"))

	svc := s.newService(WithSnapshotStore(s.mockStore))
	report, err := svc.Run(context.Background(), s.fixture.Subjects, s.fixture.Procedures)

	s.Require().Error(err)
	s.Contains(err.Error(), "save snapshot RUN01")
	s.Require().NotNil(report)
	s.False(report.Persisted)
	s.Equal(4, report.Audited)
}

func (s *RunnerSuite) TestRun_ProcedureFailuresDoNotStopTheBatch() {
	broken := &procedure.Definition{ID: "PA09", Expression: "AV01 & AV99", FindingNumber: "9", FindingName: "Broken"}
	procs := append([]*procedure.Definition{broken}, s.fixture.Procedures...)

	svc := s.newService()
	report, err := svc.Run(context.Background(), s.fixture.Subjects, procs)
	s.Require().NoError(err)

	s.Equal(4, report.Audited)
	s.Require().Len(report.Failures, 4)
	s.Equal("ORG1", report.Failures[0].SubjectKey)
	s.Len(report.Failures[0].Messages, 1)
	s.Contains(report.Failures[0].Error(), "AV99")
	s.Equal(3, report.WithFindings)
}

func (s *RunnerSuite) TestRun_CancelledBeforeStart() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	svc := s.newService(WithSnapshotStore(s.mockStore))
	report, err := svc.Run(ctx, s.fixture.Subjects, s.fixture.Procedures)

	s.ErrorIs(err, context.Canceled)
	s.Require().NotNil(report)
	s.True(report.Cancelled)
	s.Zero(report.Audited)
	s.Equal(4, report.Skipped)
	for _, sub := range s.fixture.Subjects {
		s.False(sub.Audited)
	}
}

func (s *RunnerSuite) TestRun_CancelledBetweenSubjects() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var once sync.Once
	s.mockPublisher.EXPECT().Emit(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, event audit.Event) error {
			if event.Action == string(audit.EventSubjectAudited) {
				once.Do(cancel)
			}
			return nil
		}).AnyTimes()

	svc := s.newService(WithWorkers(1), WithAuditPublisher(s.mockPublisher))
	report, err := svc.Run(ctx, s.fixture.Subjects, s.fixture.Procedures)

	s.ErrorIs(err, context.Canceled)
	s.True(report.Cancelled)
	s.Equal(1, report.Audited)
	s.Equal(3, report.Skipped)
	s.True(s.fixture.Subjects[0].Audited)
	s.Len(s.fixture.Subjects[0].Executed, 3, "a started subject always completes")
	s.False(s.fixture.Subjects[3].Audited)
}

func (s *RunnerSuite) TestRun_EmitsAuditTrail() {
	var (
		mu      sync.Mutex
		actions = map[string]int{}
	)
	s.mockPublisher.EXPECT().Emit(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, event audit.Event) error {
			mu.Lock()
			defer mu.Unlock()
			actions[event.Action]++
			s.Equal("RUN01", event.RunID)
			return nil
		}).AnyTimes()
	s.mockStore.EXPECT().Save(gomock.Any(), gomock.Any()).Return(nil)

	svc := s.newService(WithAuditPublisher(s.mockPublisher), WithSnapshotStore(s.mockStore))
	_, err := svc.Run(context.Background(), s.fixture.Subjects, s.fixture.Procedures)
	s.Require().NoError(err)

	s.Equal(map[string]int{
		string(audit.EventRunStarted):        1,
		string(audit.EventSubjectAudited):    4,
		string(audit.EventFindingRecorded):   4,
		string(audit.EventSnapshotPersisted): 1,
		string(audit.EventRunCompleted):      1,
	}, actions)
}

func (s *RunnerSuite) TestRun_PublisherErrorsAreNotFatal() {
	s.mockPublisher.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(errors.New("broker down")).AnyTimes()

	svc := s.newService(WithAuditPublisher(s.mockPublisher))
	report, err := svc.Run(context.Background(), s.fixture.Subjects, s.fixture.Procedures)
	s.Require().NoError(err)
	s.Equal(4, report.Audited)
}

func (s *RunnerSuite) TestRun_RejectsDuplicateSubjects() {
	dup := s.fixture.Subjects[0]
	svc := s.newService()

	_, err := svc.Run(context.Background(), []*subject.Subject{dup, dup}, s.fixture.Procedures)
	s.ErrorIs(err, ErrDuplicateSubject)
	s.False(dup.Audited)
}

func (s *RunnerSuite) TestRun_RecordsMetrics() {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	svc := s.newService(WithMetrics(m))
	_, err := svc.Run(context.Background(), s.fixture.Subjects, s.fixture.Procedures)
	s.Require().NoError(err)

	s.Equal(3.0, testutil.ToFloat64(m.SubjectsAudited.WithLabelValues("finding")))
	s.Equal(1.0, testutil.ToFloat64(m.SubjectsAudited.WithLabelValues("clean")))
	s.Equal(2.0, testutil.ToFloat64(m.FindingsRecorded.WithLabelValues("2. Plan")))
	s.Equal(0.0, testutil.ToFloat64(m.ActiveRuns))
}
