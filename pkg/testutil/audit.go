package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"audita/internal/procedure"
	"audita/internal/source"
	"audita/internal/subject"
	"audita/internal/verification"
)

// AuditFixture is a small governance audit shared by package tests:
// three procedures over one survey and four subjects, the last of which
// is never audited.
type AuditFixture struct {
	Source     *source.InformationSource
	Procedures []*procedure.Definition
	Subjects   []*subject.Subject
}

// NewAuditFixture builds the fixture with fresh, unaudited subjects.
func NewAuditFixture(t *testing.T) *AuditFixture {
	t.Helper()

	src, err := source.New("FI01", "Governance survey", "sigla",
		[]string{"sigla", "policy", "plan"},
		[][]string{
			{"ORG1", "Não adota", "Não possui"},
			{"ORG2", "Adota", "Não possui"},
			{"ORG3", "Adota", "Possui"},
		})
	require.NoError(t, err)

	av1 := &verification.Definition{
		ID: "AV01", Source: src, Fields: "policy", Criterion: "Não adota",
		EvidenceTemplate: "Policy status: @", SituationDescription: "No policy",
		Forwarding: verification.Forwarding{Type: "Recommendation", Text: "Adopt a policy"},
	}
	av2 := &verification.Definition{
		ID: "AV02", Source: src, Fields: "plan", Criterion: "Não possui",
		EvidenceTemplate: "Plan status: @", SituationDescription: "No plan",
		Forwarding: verification.Forwarding{Type: "Determination", Text: "Write a plan"},
	}
	av3 := &verification.Definition{
		ID: "AV03", Source: src, Fields: "plan", Criterion: "Não possui.",
		EvidenceTemplate: "Plan missing",
		Forwarding:       verification.Forwarding{Type: "Recommendation"},
	}
	av4 := &verification.Definition{
		ID: "AV04", Source: src, Fields: "plan", Criterion: "Possui",
		EvidenceTemplate: "Plan status: @", SituationDescription: "No plan review",
		Forwarding: verification.Forwarding{Type: "Recommendation", Text: "Review the plan"},
	}

	return &AuditFixture{
		Source: src,
		Procedures: []*procedure.Definition{
			{ID: "PA01", Expression: "AV01", FindingNumber: "1", FindingName: "Policy", Actions: []*verification.Definition{av1}},
			{ID: "PA02", Expression: "AV02 | AV03", FindingNumber: "2", FindingName: "Plan", Actions: []*verification.Definition{av2, av3}},
			{ID: "PA03", Expression: "AV04", FindingNumber: "3", FindingName: "Review", Actions: []*verification.Definition{av4}},
		},
		Subjects: []*subject.Subject{
			subject.New("A01", "Organization One", "ORG1"),
			subject.New("A02", "Organization Two", "ORG2"),
			subject.New("A03", "Organization Three", "ORG3"),
			subject.New("A04", "Organization Four", "ORG4"),
		},
	}
}

// Audit applies every procedure to all subjects except the last one.
func (f *AuditFixture) Audit(t *testing.T) []*subject.Subject {
	t.Helper()
	for _, s := range f.Subjects[:len(f.Subjects)-1] {
		require.Empty(t, s.ApplyProcedures(f.Procedures))
	}
	return f.Subjects
}
