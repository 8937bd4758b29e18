package httptransport

import (
	"time"

	"audita/internal/aggregation"
	"audita/internal/procedure"
	"audita/internal/snapshot"
	"audita/internal/subject"
	"audita/internal/verification"
	"audita/pkg/platform/audit"
)

// RunsResponse is the HTTP response for GET /runs.
type RunsResponse struct {
	Runs []snapshot.Info `json:"runs"`
}

// SummaryResponse is the HTTP response for GET /runs/{runID}/summary.
type SummaryResponse struct {
	RunID     string               `json:"run_id"`
	CreatedAt time.Time            `json:"created_at"`
	Summary   *aggregation.Summary `json:"summary"`
}

// SubjectResponse is the HTTP response for GET /runs/{runID}/subjects/{key}.
type SubjectResponse struct {
	RunID       string                    `json:"run_id"`
	ID          string                    `json:"id"`
	Name        string                    `json:"name"`
	Key         string                    `json:"key"`
	Audited     bool                      `json:"audited"`
	HasFindings bool                      `json:"has_findings"`
	Findings    []*procedure.Finding      `json:"findings"`
	Situations  []string                  `json:"situations"`
	Forwardings []verification.Forwarding `json:"forwardings"`
	ActionPlan  []subject.PlanEntry       `json:"action_plan"`
	Checks      []CheckResponse           `json:"checks"`
	Errors      []ProcedureError          `json:"errors"`
}

// CheckResponse is one verification action as executed for the subject.
type CheckResponse struct {
	ProcedureID string `json:"procedure_id"`
	ActionID    string `json:"action_id"`
	Fields      string `json:"fields"`
	Criterion   string `json:"criterion"`
	Found       string `json:"found"`
	Result      bool   `json:"result"`
	Skipped     bool   `json:"skipped,omitempty"`
}

// ProcedureError is a procedure execution that aborted.
type ProcedureError struct {
	ProcedureID string `json:"procedure_id"`
	Error       string `json:"error"`
}

// FromSubject converts a subject into its HTTP view.
func FromSubject(runID string, s *subject.Subject) *SubjectResponse {
	resp := &SubjectResponse{
		RunID:       runID,
		ID:          s.ID,
		Name:        s.Name,
		Key:         s.Key,
		Audited:     s.Audited,
		HasFindings: s.HasFindings,
		Findings:    nonNil(s.Findings()),
		Situations:  nonNil(s.NonConformantSituations()),
		Forwardings: nonNil(s.Forwardings()),
		ActionPlan:  nonNil(s.ActionPlan()),
		Checks:      []CheckResponse{},
		Errors:      []ProcedureError{},
	}
	for _, res := range s.Executed {
		for _, ar := range res.Actions {
			resp.Checks = append(resp.Checks, CheckResponse{
				ProcedureID: res.ProcedureID,
				ActionID:    ar.ActionID,
				Fields:      ar.Fields,
				Criterion:   ar.Criterion,
				Found:       ar.FoundValue(),
				Result:      ar.Result,
				Skipped:     ar.Skipped,
			})
		}
		if err := res.Failure(); err != nil {
			resp.Errors = append(resp.Errors, ProcedureError{ProcedureID: res.ProcedureID, Error: err.Error()})
		}
	}
	return resp
}

// SubjectRunsResponse is the HTTP response for GET /subjects/{key}/runs.
type SubjectRunsResponse struct {
	Key  string          `json:"key"`
	Runs []snapshot.Info `json:"runs"`
}

// EventsResponse is the HTTP response for GET /runs/{runID}/events.
type EventsResponse struct {
	RunID  string          `json:"run_id"`
	Events []EventResponse `json:"events"`
}

// EventResponse is one audit trail entry.
type EventResponse struct {
	Action    string    `json:"action"`
	Category  string    `json:"category"`
	Timestamp time.Time `json:"timestamp"`
	Subject   string    `json:"subject,omitempty"`
	Finding   string    `json:"finding,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

// FromEvents converts audit events into their HTTP view.
func FromEvents(runID string, events []audit.Event) *EventsResponse {
	resp := &EventsResponse{RunID: runID, Events: make([]EventResponse, 0, len(events))}
	for _, e := range events {
		resp.Events = append(resp.Events, EventResponse{
			Action:    e.Action,
			Category:  string(e.Category),
			Timestamp: e.Timestamp,
			Subject:   e.Subject,
			Finding:   e.Finding,
			Reason:    e.Reason,
		})
	}
	return resp
}

// nonNil keeps empty lists as [] rather than null in responses.
func nonNil[T any](values []T) []T {
	if values == nil {
		return []T{}
	}
	return values
}
