// Package verification executes single audit checks: look up one or more
// fields for an entity in an information source and judge them against a
// non-conformance criterion.
package verification

import (
	"errors"
	"fmt"
	"strings"

	"audita/internal/logic"
	"audita/internal/source"
)

// EvidencePlaceholder is replaced by the found value in evidence templates.
const EvidencePlaceholder = "@"

// Forwarding is a proposed follow-up (recommendation, determination, ...).
type Forwarding struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Definition is an immutable verification rule. Execution never mutates it.
type Definition struct {
	ID     string
	Source *source.InformationSource
	// Fields is the pipe-delimited list of columns to check.
	Fields string
	// Criterion is the expression judged against each found value.
	Criterion string
	// Rationale is the human-readable criterion note. It is not evaluated.
	Rationale            string
	EvidenceTemplate     string
	SituationDescription string
	Forwarding           Forwarding
	PreForwarding        string
	// AllowedEntities restricts the check to these keys when non-empty.
	AllowedEntities []string
	// MissingEntityIsFinding sets the result when the entity has no row.
	MissingEntityIsFinding   bool
	MissingEntityDescription string
	// MissingValueIsFinding marks a field true when its cell is empty.
	MissingValueIsFinding bool
}

// TargetFields splits Fields on the pipe delimiter.
func (d *Definition) TargetFields() []string {
	var fields []string
	for _, f := range strings.Split(d.Fields, "|") {
		if f = strings.TrimSpace(f); f != "" {
			fields = append(fields, f)
		}
	}
	return fields
}

// ParseAllowList reads a comma separated list of entity keys.
func ParseAllowList(raw string) []string {
	var keys []string
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

func (d *Definition) allows(entityKey string) bool {
	if len(d.AllowedEntities) == 0 {
		return true
	}
	for _, k := range d.AllowedEntities {
		if k == entityKey {
			return true
		}
	}
	return false
}

// FieldValue is what one target field held for the audited entity.
type FieldValue struct {
	Field string `json:"field"`
	Value string `json:"value"`
	Found bool   `json:"found"`
}

// Result is the outcome of executing a Definition for one entity. It carries
// copies of the definition texts needed downstream and no source reference.
type Result struct {
	ActionID             string       `json:"action_id"`
	SourceID             string       `json:"source_id"`
	SourceDescription    string       `json:"source_description"`
	Fields               string       `json:"fields"`
	Criterion            string       `json:"criterion"`
	Values               []FieldValue `json:"values,omitempty"`
	Result               bool         `json:"result"`
	Skipped              bool         `json:"skipped,omitempty"`
	EntityFound          bool         `json:"entity_found"`
	Evidence             string       `json:"evidence,omitempty"`
	SituationDescription string       `json:"situation_description,omitempty"`
	Forwarding           Forwarding   `json:"forwarding"`
	PreForwarding        string       `json:"pre_forwarding,omitempty"`
	Err                  string       `json:"error,omitempty"`

	err error
}

// Failure returns the execution error, if any. After a snapshot round trip
// only the message survives, as a plain error.
func (r *Result) Failure() error {
	if r.err != nil {
		return r.err
	}
	if r.Err != "" {
		return errors.New(r.Err)
	}
	return nil
}

// FoundValue returns the first target field's value.
func (r *Result) FoundValue() string {
	if len(r.Values) == 0 {
		return ""
	}
	return r.Values[0].Value
}

func (r *Result) fail(err error) *Result {
	r.err = err
	r.Err = err.Error()
	r.Result = false
	return r
}

// Execute runs the check for entityKey and returns a fresh result.
func Execute(def *Definition, entityKey string) *Result {
	res := &Result{
		ActionID:             def.ID,
		Fields:               def.Fields,
		Criterion:            def.Criterion,
		Evidence:             def.EvidenceTemplate,
		SituationDescription: def.SituationDescription,
		Forwarding:           def.Forwarding,
		PreForwarding:        def.PreForwarding,
	}
	if def.Source != nil {
		res.SourceID = def.Source.ID()
		res.SourceDescription = def.Source.Description()
	}

	if !def.allows(entityKey) {
		res.Skipped = true
		return res
	}

	if def.Source == nil {
		return res.fail(&ConfigurationError{ActionID: def.ID, Reason: "no information source bound"})
	}

	fields := def.TargetFields()
	if len(fields) == 0 {
		return res.fail(&ConfigurationError{ActionID: def.ID, Reason: "no target field", Source: def.Source.Description()})
	}
	for _, f := range fields {
		if !def.Source.HasColumn(f) {
			return res.fail(&ConfigurationError{
				ActionID: def.ID,
				Field:    f,
				Source:   def.Source.Description(),
				Reason:   "field not found in information source",
			})
		}
	}

	if !def.Source.HasEntity(entityKey) {
		res.Result = def.MissingEntityIsFinding
		res.Evidence = def.MissingEntityDescription
		return res
	}
	res.EntityFound = true

	result := true
	for i, f := range fields {
		v, _ := def.Source.Lookup(entityKey, f)
		res.Values = append(res.Values, FieldValue{Field: f, Value: v.String(), Found: v.Present})

		var fieldResult bool
		if def.MissingValueIsFinding && !v.Present {
			fieldResult = true
		} else {
			ok, err := logic.EvaluateCriterion(def.Criterion, v.String())
			if err != nil {
				return res.fail(fmt.Errorf("action %s field %q: %w", def.ID, f, err))
			}
			fieldResult = ok
		}
		if i == 0 {
			res.Evidence = strings.ReplaceAll(res.Evidence, EvidencePlaceholder, v.String())
		}
		result = result && fieldResult
	}
	res.Result = result
	return res
}
