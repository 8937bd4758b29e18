// Package ingest loads an audit map and its information sources into engine
// definitions.
//
// The map is a YAML document naming CSV sources, verification actions,
// procedures and the subjects to audit. Inputs are assumed to be validated
// upstream; the loader only checks what binding needs.
package ingest

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Map is the YAML audit map.
type Map struct {
	Name       string          `yaml:"name"`
	Sources    []SourceSpec    `yaml:"sources"`
	Actions    []ActionSpec    `yaml:"actions"`
	Procedures []ProcedureSpec `yaml:"procedures"`
	Subjects   SubjectsSpec    `yaml:"subjects"`
}

// SourceSpec points at a CSV file relative to the map.
type SourceSpec struct {
	ID          string `yaml:"id"`
	Description string `yaml:"description"`
	File        string `yaml:"file"`
	Key         string `yaml:"key"`
	// Delimiter defaults to a comma.
	Delimiter string `yaml:"delimiter"`
}

// ForwardingSpec is a proposed follow-up.
type ForwardingSpec struct {
	Type string `yaml:"type"`
	Text string `yaml:"text"`
}

// ActionSpec describes one verification action.
type ActionSpec struct {
	ID                       string         `yaml:"id"`
	Source                   string         `yaml:"source"`
	Fields                   string         `yaml:"fields"`
	Criterion                string         `yaml:"criterion"`
	Rationale                string         `yaml:"rationale"`
	Evidence                 string         `yaml:"evidence"`
	Situation                string         `yaml:"situation"`
	Forwarding               ForwardingSpec `yaml:"forwarding"`
	PreForwarding            string         `yaml:"pre_forwarding"`
	Entities                 string         `yaml:"entities"`
	MissingEntityIsFinding   bool           `yaml:"missing_entity_is_finding"`
	MissingEntityDescription string         `yaml:"missing_entity_description"`
	MissingValueIsFinding    bool           `yaml:"missing_value_is_finding"`
}

// FindingSpec names the finding a procedure materializes.
type FindingSpec struct {
	Number string `yaml:"number"`
	Name   string `yaml:"name"`
}

// ProcedureSpec describes one audit procedure.
type ProcedureSpec struct {
	ID          string      `yaml:"id"`
	Description string      `yaml:"description"`
	Expression  string      `yaml:"expression"`
	Finding     FindingSpec `yaml:"finding"`
}

// SubjectSpec is one subject listed inline.
type SubjectSpec struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	Key  string `yaml:"key"`
}

// SubjectsSpec lists subjects inline, from a CSV file with name and key
// columns, or both.
type SubjectsSpec struct {
	File      string        `yaml:"file"`
	Delimiter string        `yaml:"delimiter"`
	List      []SubjectSpec `yaml:"list"`
}

// ErrInvalidMap is wrapped by every structural problem in a map.
var ErrInvalidMap = errors.New("invalid audit map")

// ParseMap decodes a YAML audit map. Unknown keys are rejected so typos in
// policy flags do not silently fall back to defaults.
func ParseMap(r io.Reader) (*Map, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var m Map
	if err := dec.Decode(&m); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrInvalidMap)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidMap, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks ids are present and unique per kind.
func (m *Map) Validate() error {
	var errs []error
	check := func(kind string, ids []string) {
		seen := make(map[string]struct{}, len(ids))
		for i, id := range ids {
			if id == "" {
				errs = append(errs, fmt.Errorf("%w: %s #%d has no id", ErrInvalidMap, kind, i+1))
				continue
			}
			if _, ok := seen[id]; ok {
				errs = append(errs, fmt.Errorf("%w: duplicate %s id %s", ErrInvalidMap, kind, id))
			}
			seen[id] = struct{}{}
		}
	}

	sourceIDs := make([]string, len(m.Sources))
	for i, s := range m.Sources {
		sourceIDs[i] = s.ID
		if s.File == "" {
			errs = append(errs, fmt.Errorf("%w: source %s has no file", ErrInvalidMap, s.ID))
		}
		if len([]rune(s.Delimiter)) > 1 {
			errs = append(errs, fmt.Errorf("%w: source %s delimiter must be a single character", ErrInvalidMap, s.ID))
		}
	}
	check("source", sourceIDs)

	actionIDs := make([]string, len(m.Actions))
	for i, a := range m.Actions {
		actionIDs[i] = a.ID
	}
	check("action", actionIDs)

	procedureIDs := make([]string, len(m.Procedures))
	for i, p := range m.Procedures {
		procedureIDs[i] = p.ID
	}
	check("procedure", procedureIDs)

	return errors.Join(errs...)
}
