package audit

import (
	"context"
	"time"
)

// EventCategory classifies audit-trail events by retention needs.
type EventCategory string

const (
	// CategoryCompliance covers events that document audit conclusions:
	// recorded findings and completed runs. These are kept for the life of
	// the audit.
	CategoryCompliance EventCategory = "compliance"

	// CategoryOperations covers routine progress such as a subject being
	// audited. These can be sampled or expired early.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted by the runner to trace how a run progressed. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	RunID     string
	// Subject is the audited entity key, empty for run-level events.
	Subject string
	Action  string
	// Finding carries the "{number}. {name}" label for finding events.
	Finding string
	Reason  string
}

type AuditEvent string

const (
	EventRunStarted        AuditEvent = "run_started"
	EventRunCompleted      AuditEvent = "run_completed"
	EventRunCancelled      AuditEvent = "run_cancelled"
	EventSubjectAudited    AuditEvent = "subject_audited"
	EventFindingRecorded   AuditEvent = "finding_recorded"
	EventProcedureFailed   AuditEvent = "procedure_failed"
	EventSnapshotPersisted AuditEvent = "snapshot_persisted"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventFindingRecorded:   CategoryCompliance,
	EventRunCompleted:      CategoryCompliance,
	EventSnapshotPersisted: CategoryCompliance,

	EventRunStarted:      CategoryOperations,
	EventRunCancelled:    CategoryOperations,
	EventSubjectAudited:  CategoryOperations,
	EventProcedureFailed: CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Store persists audit-trail events.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByRun(ctx context.Context, runID string) ([]Event, error)
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}
