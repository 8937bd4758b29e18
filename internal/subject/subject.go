// Package subject models an entity under audit and its execution history.
package subject

import (
	"audita/internal/procedure"
	"audita/internal/verification"
	platformstrings "audita/pkg/platform/strings"
)

// Subject is one audited entity. It owns its procedure results exclusively
// and is only mutated by ApplyProcedures, so distinct subjects can be run
// concurrently against shared definitions.
type Subject struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Key         string              `json:"key"`
	Audited     bool                `json:"audited"`
	HasFindings bool                `json:"has_findings"`
	Executed    []*procedure.Result `json:"executed"`
}

// New creates a subject that has not been audited yet.
func New(id, name, key string) *Subject {
	return &Subject{ID: id, Name: name, Key: key, Executed: []*procedure.Result{}}
}

// PlanEntry is one line of a subject's action plan.
type PlanEntry struct {
	FindingNumber string `json:"finding_number"`
	Type          string `json:"type"`
	Text          string `json:"text"`
}

func (s *Subject) executed(procedureID string) bool {
	for _, r := range s.Executed {
		if r.ProcedureID == procedureID {
			return true
		}
	}
	return false
}

// ApplyProcedures executes every definition not yet executed for this subject
// and appends the results. Failures of individual procedures are returned
// and never stop the remaining ones.
func (s *Subject) ApplyProcedures(defs []*procedure.Definition) []error {
	var errs []error
	for _, def := range defs {
		if s.executed(def.ID) {
			continue
		}
		res := procedure.Execute(def, s.Key)
		s.Executed = append(s.Executed, res)
		if res.Finding != nil {
			s.HasFindings = true
		}
		if err := res.Failure(); err != nil {
			errs = append(errs, err)
		}
	}
	s.Audited = true
	return errs
}

// Findings returns the findings in execution order.
func (s *Subject) Findings() []*procedure.Finding {
	var out []*procedure.Finding
	for _, r := range s.Executed {
		if r.Finding != nil {
			out = append(out, r.Finding)
		}
	}
	return out
}

// FindingNames returns "{number}. {name}" for every finding.
func (s *Subject) FindingNames() []string {
	var names []string
	for _, f := range s.Findings() {
		names = append(names, f.Label())
	}
	return names
}

// FindingByName looks a finding up by its name.
func (s *Subject) FindingByName(name string) (*procedure.Finding, bool) {
	for _, f := range s.Findings() {
		if f.Name == name {
			return f, true
		}
	}
	return nil, false
}

// NonConformantSituations flattens the situations of every finding.
func (s *Subject) NonConformantSituations() []string {
	var all []string
	for _, f := range s.Findings() {
		all = append(all, f.Situations...)
	}
	return platformstrings.DedupeAndTrim(all)
}

// ForwardingTexts returns the distinct forwarding texts of every finding.
func (s *Subject) ForwardingTexts() []string {
	var all []string
	for _, f := range s.Findings() {
		for _, fw := range f.Forwardings {
			all = append(all, fw.Text)
		}
	}
	return platformstrings.DedupeAndTrim(all)
}

// Forwardings returns the distinct forwarding pairs of every finding.
func (s *Subject) Forwardings() []verification.Forwarding {
	seen := make(map[verification.Forwarding]struct{})
	var out []verification.Forwarding
	for _, f := range s.Findings() {
		for _, fw := range f.Forwardings {
			if _, ok := seen[fw]; ok {
				continue
			}
			seen[fw] = struct{}{}
			out = append(out, fw)
		}
	}
	return out
}

// ActionPlan lists the forwardings of every finding tagged with the finding
// number, deduplicated by number, type and text.
func (s *Subject) ActionPlan() []PlanEntry {
	seen := make(map[PlanEntry]struct{})
	var plan []PlanEntry
	for _, f := range s.Findings() {
		for _, fw := range f.Forwardings {
			e := PlanEntry{FindingNumber: f.Number, Type: fw.Type, Text: fw.Text}
			if _, ok := seen[e]; ok {
				continue
			}
			seen[e] = struct{}{}
			plan = append(plan, e)
		}
	}
	return plan
}
