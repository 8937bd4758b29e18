// Package aggregation cross-tabulates audited subjects into marker tables.
//
// Every view is rebuilt from the subject collection alone, so a restored
// snapshot regenerates the same tables without re-running any rule.
package aggregation

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"audita/internal/subject"
	"audita/internal/verification"
)

const (
	// Marker fills a cell whose subject exhibits the column.
	Marker = "X"
	// SubjectHeader heads the key column of exported records.
	SubjectHeader = "Subject"
)

// Kind names one of the cross tabulations.
type Kind string

const (
	KindFindings    Kind = "findings"
	KindForwardings Kind = "forwardings"
	KindSituations  Kind = "situations"
	KindItems       Kind = "items"
)

// Kinds lists every table kind in export order.
var Kinds = []Kind{KindFindings, KindForwardings, KindSituations, KindItems}

// ErrUnknownKind is returned by Build for a kind it does not know.
var ErrUnknownKind = errors.New("unknown table kind")

// Row is one audited subject in a table.
type Row struct {
	Key   string `json:"key"`
	Cells []bool `json:"cells"`
}

// Table is a subject-keyed matrix of boolean cells.
type Table struct {
	Kind    Kind     `json:"kind"`
	Columns []string `json:"columns"`
	Rows    []Row    `json:"rows"`
}

// Records renders the table as a header row followed by marker rows.
func (t *Table) Records() [][]string {
	records := make([][]string, 0, len(t.Rows)+1)
	header := make([]string, 0, len(t.Columns)+1)
	header = append(header, SubjectHeader)
	header = append(header, t.Columns...)
	records = append(records, header)
	for _, row := range t.Rows {
		rec := make([]string, 0, len(row.Cells)+1)
		rec = append(rec, row.Key)
		for _, marked := range row.Cells {
			if marked {
				rec = append(rec, Marker)
			} else {
				rec = append(rec, "")
			}
		}
		records = append(records, rec)
	}
	return records
}

// WriteCSV exports the table records as CSV.
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.WriteAll(t.Records()); err != nil {
		return fmt.Errorf("write %s table: %w", t.Kind, err)
	}
	return nil
}

// Marked reports whether the subject row key has the column marked.
func (t *Table) Marked(key, column string) bool {
	col := -1
	for i, c := range t.Columns {
		if c == column {
			col = i
			break
		}
	}
	if col < 0 {
		return false
	}
	for _, row := range t.Rows {
		if row.Key == key {
			return row.Cells[col]
		}
	}
	return false
}

// ParseKind validates a table kind name.
func ParseKind(name string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == name {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, name)
}

// Build dispatches to the builder for kind.
func Build(kind Kind, subjects []*subject.Subject) (*Table, error) {
	switch kind {
	case KindFindings:
		return Findings(subjects), nil
	case KindForwardings:
		return Forwardings(subjects), nil
	case KindSituations:
		return Situations(subjects), nil
	case KindItems:
		return Items(subjects), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

// Findings marks which finding labels each audited subject produced. Columns
// are every label observed across executed procedures, sorted.
func Findings(subjects []*subject.Subject) *Table {
	labels := newOrderedSet()
	for _, s := range subjects {
		for _, r := range s.Executed {
			labels.add(r.FindingLabel())
		}
	}
	columns := labels.sorted()

	return build(KindFindings, columns, subjects, func(s *subject.Subject) func(string) bool {
		have := toSet(s.FindingNames())
		return func(col string) bool {
			_, ok := have[col]
			return ok
		}
	})
}

// ForwardingLabel renders a forwarding pair as a column label.
func ForwardingLabel(f verification.Forwarding) string {
	return fmt.Sprintf("[%s] %s", f.Type, f.Text)
}

// Forwardings marks which forwarding pairs each subject's findings carry.
// Columns are every pair with non-empty text across executed actions, sorted
// by type then text.
func Forwardings(subjects []*subject.Subject) *Table {
	seen := make(map[verification.Forwarding]struct{})
	var pairs []verification.Forwarding
	for _, s := range subjects {
		for _, r := range s.Executed {
			for _, a := range r.Actions {
				if a.Forwarding.Text == "" {
					continue
				}
				if _, ok := seen[a.Forwarding]; ok {
					continue
				}
				seen[a.Forwarding] = struct{}{}
				pairs = append(pairs, a.Forwarding)
			}
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Type != pairs[j].Type {
			return pairs[i].Type < pairs[j].Type
		}
		return pairs[i].Text < pairs[j].Text
	})

	columns := make([]string, len(pairs))
	byLabel := make(map[string]verification.Forwarding, len(pairs))
	for i, p := range pairs {
		columns[i] = ForwardingLabel(p)
		byLabel[columns[i]] = p
	}

	return build(KindForwardings, columns, subjects, func(s *subject.Subject) func(string) bool {
		have := make(map[verification.Forwarding]struct{})
		for _, f := range s.Forwardings() {
			have[f] = struct{}{}
		}
		return func(col string) bool {
			_, ok := have[byLabel[col]]
			return ok
		}
	})
}

// SituationLabel renders a situation column label.
func SituationLabel(findingNumber, situation string) string {
	return fmt.Sprintf("[FINDING %s] %s", findingNumber, situation)
}

// Situations marks which non-conformant situations each subject exhibits.
// Columns keep first-seen order; a cell is marked when any of the subject's
// situations is a substring of the column label.
func Situations(subjects []*subject.Subject) *Table {
	labels := newOrderedSet()
	for _, s := range subjects {
		for _, r := range s.Executed {
			for _, a := range r.Actions {
				if a.SituationDescription == "" {
					continue
				}
				labels.add(SituationLabel(r.FindingNumber, a.SituationDescription))
			}
		}
	}

	return build(KindSituations, labels.items, subjects, func(s *subject.Subject) func(string) bool {
		situations := s.NonConformantSituations()
		return func(col string) bool {
			for _, sit := range situations {
				if strings.Contains(col, sit) {
					return true
				}
			}
			return false
		}
	})
}

// ItemLabel renders a verified-item column label.
func ItemLabel(findingNumber, fields string) string {
	return fmt.Sprintf("[FINDING %s] %s", findingNumber, fields)
}

// Items marks which verified items led each subject to a finding: an item
// counts when its action held inside a procedure that produced a finding.
func Items(subjects []*subject.Subject) *Table {
	labels := newOrderedSet()
	for _, s := range subjects {
		for _, r := range s.Executed {
			for _, a := range r.Actions {
				labels.add(ItemLabel(r.FindingNumber, a.Fields))
			}
		}
	}

	return build(KindItems, labels.items, subjects, func(s *subject.Subject) func(string) bool {
		have := make(map[string]struct{})
		for _, r := range s.Executed {
			if r.Finding == nil {
				continue
			}
			for _, a := range r.Actions {
				if a.Result {
					have[ItemLabel(r.FindingNumber, a.Fields)] = struct{}{}
				}
			}
		}
		return func(col string) bool {
			_, ok := have[col]
			return ok
		}
	})
}

func build(kind Kind, columns []string, subjects []*subject.Subject, matcher func(*subject.Subject) func(string) bool) *Table {
	if columns == nil {
		columns = []string{}
	}
	t := &Table{Kind: kind, Columns: columns, Rows: []Row{}}
	for _, s := range subjects {
		if !s.Audited {
			continue
		}
		match := matcher(s)
		cells := make([]bool, len(columns))
		for i, col := range columns {
			cells[i] = match(col)
		}
		t.Rows = append(t.Rows, Row{Key: s.Key, Cells: cells})
	}
	return t
}

type orderedSet struct {
	seen  map[string]struct{}
	items []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: make(map[string]struct{})}
}

func (o *orderedSet) add(v string) {
	if _, ok := o.seen[v]; ok {
		return
	}
	o.seen[v] = struct{}{}
	o.items = append(o.items, v)
}

func (o *orderedSet) sorted() []string {
	out := append([]string(nil), o.items...)
	sort.Strings(out)
	return out
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
