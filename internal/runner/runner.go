// Package runner applies audit procedures to batches of subjects on a bounded
// worker pool and persists the result as a snapshot.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"audita/internal/ids"
	"audita/internal/procedure"
	"audita/internal/runner/metrics"
	"audita/internal/snapshot"
	"audita/internal/subject"
	"audita/pkg/platform/audit"
)

// SnapshotStore persists finished runs.
type SnapshotStore interface {
	Save(ctx context.Context, s *snapshot.Snapshot) error
}

// AuditPublisher records the audit trail of a run.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// ErrDuplicateSubject is returned when a batch lists the same subject twice.
// Subjects are mutated by their own task, so sharing one across tasks races.
var ErrDuplicateSubject = errors.New("subject listed more than once")

// Service runs audits.
type Service struct {
	store     SnapshotStore
	publisher AuditPublisher
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	runIDs    ids.Generator
	now       func() time.Time
	workers   int
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithSnapshotStore persists every completed run.
func WithSnapshotStore(store SnapshotStore) Option {
	return func(s *Service) {
		s.store = store
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.publisher = publisher
	}
}

// WithWorkers bounds how many subjects run concurrently. Values below one
// fall back to GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(s *Service) {
		s.workers = n
	}
}

// WithRunIDs overrides run id generation.
func WithRunIDs(gen ids.Generator) Option {
	return func(s *Service) {
		s.runIDs = gen
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = tracer
	}
}

// New constructs a Service.
func New(opts ...Option) *Service {
	s := &Service{
		logger: slog.Default(),
		tracer: otel.Tracer("audita/runner"),
		runIDs: ids.UUID{},
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.workers < 1 {
		s.workers = runtime.GOMAXPROCS(0)
	}
	return s
}

// SubjectFailure collects the procedure errors of one subject.
type SubjectFailure struct {
	SubjectKey string   `json:"subject_key"`
	Errors     []error  `json:"-"`
	Messages   []string `json:"errors"`
}

func (f *SubjectFailure) Error() string {
	return fmt.Sprintf("subject %s: %v", f.SubjectKey, errors.Join(f.Errors...))
}

func (f *SubjectFailure) Unwrap() []error {
	return f.Errors
}

// Report summarizes one run. Subjects keeps the input order regardless of
// which worker finished first.
type Report struct {
	RunID        string             `json:"run_id"`
	StartedAt    time.Time          `json:"started_at"`
	FinishedAt   time.Time          `json:"finished_at"`
	Subjects     []*subject.Subject `json:"-"`
	Audited      int                `json:"audited"`
	WithFindings int                `json:"with_findings"`
	Skipped      int                `json:"skipped"`
	Failures     []*SubjectFailure  `json:"failures"`
	Cancelled    bool               `json:"cancelled"`
	Persisted    bool               `json:"persisted"`
}

// Snapshot wraps the report's subjects for persistence.
func (r *Report) Snapshot() *snapshot.Snapshot {
	return snapshot.New(r.RunID, r.StartedAt, r.Subjects)
}

// Run applies procs to every subject. Subjects are scheduled one task each;
// cancellation is honored before a subject starts, never in the middle of
// one. Per-subject failures land in the report and never stop the batch.
// A cancelled run returns the partial report with ctx.Err() and is not
// persisted.
func (s *Service) Run(ctx context.Context, subjects []*subject.Subject, procs []*procedure.Definition) (*Report, error) {
	if err := checkDistinct(subjects); err != nil {
		return nil, err
	}

	start := s.now()
	report := &Report{
		RunID:     s.runIDs.Next(),
		StartedAt: start.UTC(),
		Subjects:  subjects,
		Failures:  []*SubjectFailure{},
	}

	ctx, span := s.tracer.Start(ctx, "runner.Run", trace.WithAttributes(
		attribute.String("run.id", report.RunID),
		attribute.Int("run.subjects", len(subjects)),
		attribute.Int("run.procedures", len(procs)),
	))
	defer span.End()

	s.metrics.RunStarted()
	defer s.metrics.RunFinished()

	s.logger.InfoContext(ctx, "audit run started",
		"run_id", report.RunID,
		"subjects", len(subjects),
		"procedures", len(procs),
		"workers", s.workers,
	)
	s.emit(ctx, audit.Event{RunID: report.RunID, Action: string(audit.EventRunStarted)})

	var (
		mu       sync.Mutex
		audited  = make([]bool, len(subjects))
		failures = make([]*SubjectFailure, len(subjects))
	)

	g := new(errgroup.Group)
	g.SetLimit(s.workers)
	for i, sub := range subjects {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			failure := s.runSubject(ctx, report.RunID, sub, procs)
			mu.Lock()
			audited[i] = true
			failures[i] = failure
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	for i, sub := range subjects {
		if !audited[i] {
			report.Skipped++
			continue
		}
		report.Audited++
		if sub.HasFindings {
			report.WithFindings++
		}
		if failures[i] != nil {
			report.Failures = append(report.Failures, failures[i])
		}
	}
	report.FinishedAt = s.now().UTC()
	s.metrics.ObserveRunLatency(report.FinishedAt.Sub(start))

	span.SetAttributes(
		attribute.Int("run.audited", report.Audited),
		attribute.Int("run.with_findings", report.WithFindings),
		attribute.Int("run.failures", len(report.Failures)),
	)

	if err := ctx.Err(); err != nil {
		report.Cancelled = true
		span.SetStatus(codes.Error, "cancelled")
		s.logger.WarnContext(ctx, "audit run cancelled",
			"run_id", report.RunID,
			"audited", report.Audited,
			"skipped", report.Skipped,
		)
		s.emit(context.WithoutCancel(ctx), audit.Event{
			RunID:  report.RunID,
			Action: string(audit.EventRunCancelled),
			Reason: err.Error(),
		})
		return report, err
	}

	if s.store != nil {
		if err := s.store.Save(ctx, report.Snapshot()); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "snapshot persistence failed")
			return report, fmt.Errorf("save snapshot %s: %w", report.RunID, err)
		}
		report.Persisted = true
		s.emit(ctx, audit.Event{RunID: report.RunID, Action: string(audit.EventSnapshotPersisted)})
	}

	s.logger.InfoContext(ctx, "audit run completed",
		"run_id", report.RunID,
		"audited", report.Audited,
		"with_findings", report.WithFindings,
		"failures", len(report.Failures),
		"duration", report.FinishedAt.Sub(report.StartedAt),
	)
	s.emit(ctx, audit.Event{RunID: report.RunID, Action: string(audit.EventRunCompleted)})
	return report, nil
}

func (s *Service) runSubject(ctx context.Context, runID string, sub *subject.Subject, procs []*procedure.Definition) *SubjectFailure {
	ctx, span := s.tracer.Start(ctx, "runner.Subject", trace.WithAttributes(
		attribute.String("subject.key", sub.Key),
	))
	defer span.End()

	before := len(sub.Executed)
	start := s.now()
	errs := sub.ApplyProcedures(procs)
	s.metrics.ObserveSubjectLatency(s.now().Sub(start))

	for _, res := range sub.Executed[before:] {
		if res.Finding == nil {
			continue
		}
		label := res.Finding.Label()
		s.metrics.IncrementFinding(label)
		s.emit(ctx, audit.Event{
			RunID:   runID,
			Subject: sub.Key,
			Action:  string(audit.EventFindingRecorded),
			Finding: label,
		})
	}

	outcome := "clean"
	if sub.HasFindings {
		outcome = "finding"
	}

	var failure *SubjectFailure
	if len(errs) > 0 {
		outcome = "failed"
		failure = &SubjectFailure{SubjectKey: sub.Key, Errors: errs}
		for _, err := range errs {
			failure.Messages = append(failure.Messages, err.Error())
			s.logger.WarnContext(ctx, "procedure failed",
				"run_id", runID,
				"subject", sub.Key,
				"error", err,
			)
			s.emit(ctx, audit.Event{
				RunID:   runID,
				Subject: sub.Key,
				Action:  string(audit.EventProcedureFailed),
				Reason:  err.Error(),
			})
		}
		s.metrics.AddProcedureFailures(len(errs))
		span.RecordError(failure)
		span.SetStatus(codes.Error, "procedure failures")
	}
	s.metrics.IncrementSubject(outcome)

	s.logger.DebugContext(ctx, "subject audited",
		"run_id", runID,
		"subject", sub.Key,
		"has_findings", sub.HasFindings,
	)
	s.emit(ctx, audit.Event{
		RunID:   runID,
		Subject: sub.Key,
		Action:  string(audit.EventSubjectAudited),
	})
	return failure
}

// emit publishes on a best-effort basis; the audit trail never fails a run.
func (s *Service) emit(ctx context.Context, event audit.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Emit(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "failed to emit audit event",
			"action", event.Action,
			"run_id", event.RunID,
			"error", err,
		)
	}
}

func checkDistinct(subjects []*subject.Subject) error {
	seen := make(map[*subject.Subject]struct{}, len(subjects))
	for _, sub := range subjects {
		if _, ok := seen[sub]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateSubject, sub.Key)
		}
		seen[sub] = struct{}{}
	}
	return nil
}
