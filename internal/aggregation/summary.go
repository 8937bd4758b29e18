package aggregation

import (
	"cmp"
	"slices"
	"strings"

	"audita/internal/subject"
	platformstrings "audita/pkg/platform/strings"
)

// DefaultTop bounds the recurring-situation and forwarding rankings.
const DefaultTop = 10

// Count pairs a label with the number of times it was observed.
type Count struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// Rank is one subject's position in the severity ranking.
type Rank struct {
	Key        string `json:"key"`
	Name       string `json:"name"`
	Findings   int    `json:"findings"`
	Situations int    `json:"situations"`
}

// Summary condenses a run into counts suitable for dashboards and reports.
type Summary struct {
	Subjects        int     `json:"subjects"`
	Audited         int     `json:"audited"`
	WithFindings    int     `json:"with_findings"`
	FindingCounts   []Count `json:"finding_counts"`
	ForwardingTypes []Count `json:"forwarding_types"`
	TopForwardings  []Count `json:"top_forwardings"`
	TopSituations   []Count `json:"top_situations"`
	Ranking         []Rank  `json:"ranking"`
}

// Summarize counts findings, forwardings and situations across the audited
// subjects. top bounds the recurring lists; zero or less keeps every entry.
func Summarize(subjects []*subject.Subject, top int) *Summary {
	sum := &Summary{Subjects: len(subjects), Ranking: []Rank{}}

	findings := Findings(subjects)
	findingCounts := make([]Count, len(findings.Columns))
	for i, col := range findings.Columns {
		findingCounts[i].Label = col
		for _, row := range findings.Rows {
			if row.Cells[i] {
				findingCounts[i].Count++
			}
		}
	}
	sum.FindingCounts = byCount(findingCounts)

	types := newCounter()
	texts := newCounter()
	situations := newCounter()
	for _, s := range subjects {
		if !s.Audited {
			continue
		}
		sum.Audited++
		if s.HasFindings {
			sum.WithFindings++
		}

		subjectSituations := s.NonConformantSituations()
		for _, sit := range subjectSituations {
			situations.add(sit)
		}
		for _, f := range s.Findings() {
			for _, fw := range f.Forwardings {
				if strings.TrimSpace(fw.Text) == "" {
					continue
				}
				types.add(strings.TrimSpace(fw.Type))
				texts.add(strings.TrimSpace(fw.Text))
			}
		}
		sum.Ranking = append(sum.Ranking, Rank{
			Key:        s.Key,
			Name:       s.Name,
			Findings:   len(platformstrings.DedupeAndTrim(s.FindingNames())),
			Situations: len(subjectSituations),
		})
	}

	sum.ForwardingTypes = byCount(types.counts())
	sum.TopForwardings = limit(byCount(texts.counts()), top)
	sum.TopSituations = limit(byCount(situations.counts()), top)

	slices.SortStableFunc(sum.Ranking, func(a, b Rank) int {
		if c := cmp.Compare(b.Findings, a.Findings); c != 0 {
			return c
		}
		if c := cmp.Compare(b.Situations, a.Situations); c != 0 {
			return c
		}
		return cmp.Compare(a.Key, b.Key)
	})
	return sum
}

type counter struct {
	index map[string]int
	items []Count
}

func newCounter() *counter {
	return &counter{index: make(map[string]int)}
}

func (c *counter) add(label string) {
	if label == "" {
		return
	}
	if i, ok := c.index[label]; ok {
		c.items[i].Count++
		return
	}
	c.index[label] = len(c.items)
	c.items = append(c.items, Count{Label: label, Count: 1})
}

func (c *counter) counts() []Count {
	return c.items
}

// byCount orders by count descending, then label ascending.
func byCount(counts []Count) []Count {
	out := make([]Count, len(counts))
	copy(out, counts)
	slices.SortStableFunc(out, func(a, b Count) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Label, b.Label)
	})
	return out
}

func limit(counts []Count, top int) []Count {
	if top > 0 && len(counts) > top {
		return counts[:top]
	}
	return counts
}
