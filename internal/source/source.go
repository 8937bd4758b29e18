// Package source holds the read-only, keyed tables that verification actions
// read evidence from.
package source

import (
	"fmt"
	"strings"
)

// Value is a single cell. An empty cell is not present.
type Value struct {
	Text    string
	Present bool
}

// Text builds a present value; blank text yields an absent one.
func Text(s string) Value {
	s = strings.TrimSpace(s)
	return Value{Text: s, Present: s != ""}
}

// Missing is the absent value.
var Missing = Value{}

// String renders the value; an absent value renders as empty.
func (v Value) String() string {
	if !v.Present {
		return ""
	}
	return v.Text
}

// Row maps a column name to its value for one entity.
type Row map[string]Value

// InformationSource is an immutable table keyed by entity. It is shared by
// every action that references it and must not be mutated after New.
type InformationSource struct {
	id          string
	description string
	keyColumn   string
	columns     []string
	columnSet   map[string]struct{}
	rows        map[string]Row
}

// New builds a source from a header and data records. When keyColumn is set
// the row key is read from that column, otherwise from the first column.
// Duplicate keys keep the first row.
func New(id, description, keyColumn string, header []string, records [][]string) (*InformationSource, error) {
	if id == "" {
		return nil, fmt.Errorf("source id is required")
	}
	if len(header) == 0 {
		return nil, fmt.Errorf("source %s: header is required", id)
	}

	columns := make([]string, len(header))
	for i, h := range header {
		columns[i] = strings.TrimSpace(h)
	}

	keyIdx := 0
	if keyColumn != "" {
		keyIdx = indexOf(columns, keyColumn)
		if keyIdx < 0 {
			return nil, fmt.Errorf("source %s (%s): key column %q not found", id, description, keyColumn)
		}
	}

	src := &InformationSource{
		id:          id,
		description: description,
		keyColumn:   columns[keyIdx],
		columns:     columns,
		columnSet:   make(map[string]struct{}, len(columns)),
		rows:        make(map[string]Row, len(records)),
	}
	for _, c := range columns {
		src.columnSet[c] = struct{}{}
	}

	for _, rec := range records {
		if keyIdx >= len(rec) {
			continue
		}
		key := strings.TrimSpace(rec[keyIdx])
		if key == "" {
			continue
		}
		if _, dup := src.rows[key]; dup {
			continue
		}
		row := make(Row, len(columns))
		for i, c := range columns {
			if i < len(rec) {
				row[c] = Text(rec[i])
			} else {
				row[c] = Missing
			}
		}
		src.rows[key] = row
	}

	return src, nil
}

func indexOf(values []string, target string) int {
	for i, v := range values {
		if v == target {
			return i
		}
	}
	return -1
}

func (s *InformationSource) ID() string          { return s.id }
func (s *InformationSource) Description() string { return s.description }
func (s *InformationSource) KeyColumn() string   { return s.keyColumn }

// Columns returns a copy of the schema in declaration order.
func (s *InformationSource) Columns() []string {
	return append([]string(nil), s.columns...)
}

// HasColumn reports whether the schema declares the column.
func (s *InformationSource) HasColumn(name string) bool {
	_, ok := s.columnSet[name]
	return ok
}

// HasEntity reports whether a row exists for key.
func (s *InformationSource) HasEntity(key string) bool {
	_, ok := s.rows[key]
	return ok
}

// Lookup returns the value of column for entity key. ok is false when the
// entity has no row.
func (s *InformationSource) Lookup(key, column string) (Value, bool) {
	row, ok := s.rows[key]
	if !ok {
		return Missing, false
	}
	return row[column], true
}

// Len returns the number of keyed rows.
func (s *InformationSource) Len() int {
	return len(s.rows)
}

// Registry indexes sources by id.
type Registry map[string]*InformationSource

// Add registers a source, rejecting duplicate ids.
func (r Registry) Add(src *InformationSource) error {
	if _, exists := r[src.ID()]; exists {
		return fmt.Errorf("source %s already registered", src.ID())
	}
	r[src.ID()] = src
	return nil
}
