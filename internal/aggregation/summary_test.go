package aggregation

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestSummarize(t *testing.T) {
	subjects := auditedSubjects(t)

	got := Summarize(subjects, 2)

	want := &Summary{
		Subjects:     4,
		Audited:      3,
		WithFindings: 3,
		FindingCounts: []Count{
			{Label: "2. Plan", Count: 2},
			{Label: "1. Policy", Count: 1},
			{Label: "3. Review", Count: 1},
		},
		ForwardingTypes: []Count{
			{Label: "Determination", Count: 2},
			{Label: "Recommendation", Count: 2},
		},
		TopForwardings: []Count{
			{Label: "Write a plan", Count: 2},
			{Label: "Adopt a policy", Count: 1},
		},
		TopSituations: []Count{
			{Label: "No plan", Count: 2},
			{Label: "No plan review", Count: 1},
		},
		Ranking: []Rank{
			{Key: "ORG1", Name: "Organization One", Findings: 2, Situations: 2},
			{Key: "ORG2", Name: "Organization Two", Findings: 1, Situations: 1},
			{Key: "ORG3", Name: "Organization Three", Findings: 1, Situations: 1},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}
}

func TestSummarize_Unbounded(t *testing.T) {
	got := Summarize(auditedSubjects(t), 0)
	assert.Len(t, got.TopSituations, 3)
	assert.Len(t, got.TopForwardings, 3)
}
