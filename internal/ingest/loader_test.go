package ingest

import (
	"io"
	"log/slog"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"audita/internal/ids"
	"audita/internal/verification"
)

const governanceMap = `
name: Governance 2026
sources:
  - id: FI01
    description: Governance survey
    file: data/survey.csv
    key: sigla
    delimiter: ";"
actions:
  - id: AV01
    source: FI01
    fields: policy
    criterion: Não adota
    evidence: "Policy status: @"
    situation: No policy
    forwarding: {type: Recommendation, text: Adopt a policy}
  - id: AV02
    source: FI01
    fields: plan
    criterion: Não possui
    situation: No plan
    forwarding: {type: Determination, text: Write a plan}
    entities: "ORG1, ORG3"
  - id: AV03
    source: FI01
    fields: budget
    criterion: "< 1000"
    missing_value_is_finding: true
    missing_entity_is_finding: true
    missing_entity_description: Survey not answered
procedures:
  - id: PA01
    expression: AV01
    finding: {number: "1", name: Policy}
  - id: PA02
    expression: AV02 | AV03
    finding: {number: "2", name: Plan}
  - id: PA03
    expression: AV01 & AV99
    finding: {number: "3", name: Broken}
subjects:
  file: data/subjects.csv
  list:
    - id: X01
      name: Organization Four
      key: ORG4
`

func governanceFS() fstest.MapFS {
	return fstest.MapFS{
		"maps/governance.yaml": {Data: []byte(governanceMap)},
		"maps/data/survey.csv": {Data: []byte("\xEF\xBB\xBFsigla;policy;plan;budget\n" +
			"ORG1;Não adota;Não possui;500\n" +
			"ORG2;Adota;Não possui;2000\n" +
			"ORG3;Adota;Possui;\n")},
		"maps/data/subjects.csv": {Data: []byte("Name,Key\n" +
			"Organization One,ORG1\n" +
			"Organization Two,ORG2\n" +
			"Organization Three,ORG3\n")},
	}
}

// =============================================================================
// Loader Test Suite
// =============================================================================

type LoaderSuite struct {
	suite.Suite
	loader *Loader
}

func TestLoaderSuite(t *testing.T) {
	suite.Run(t, new(LoaderSuite))
}

func (s *LoaderSuite) SetupTest() {
	s.loader = NewLoader(governanceFS(),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithSubjectIDs(ids.NewSequence("A")),
	)
}

func (s *LoaderSuite) TestLoad() {
	audit, err := s.loader.Load("maps/governance.yaml")
	s.Require().NoError(err)

	s.Run("sources", func() {
		src := audit.Sources["FI01"]
		s.Require().NotNil(src)
		s.Equal("sigla", src.KeyColumn())
		s.Equal(3, src.Len())
		v, ok := src.Lookup("ORG3", "budget")
		s.True(ok)
		s.False(v.Present)
	})

	s.Run("actions", func() {
		s.Len(audit.Actions, 3)
		av2 := audit.Actions["AV02"]
		s.Same(audit.Sources["FI01"], av2.Source)
		s.Equal([]string{"ORG1", "ORG3"}, av2.AllowedEntities)
		s.Equal(verification.Forwarding{Type: "Determination", Text: "Write a plan"}, av2.Forwarding)
		s.True(audit.Actions["AV03"].MissingEntityIsFinding)
		s.Equal("Survey not answered", audit.Actions["AV03"].MissingEntityDescription)
	})

	s.Run("procedures bind actions in expression order", func() {
		s.Require().Len(audit.Procedures, 3)
		pa2 := audit.Procedures[1]
		s.Equal("2. Plan", pa2.FindingLabel())
		s.Require().Len(pa2.Actions, 2)
		s.Equal("AV02", pa2.Actions[0].ID)
		s.Equal("AV03", pa2.Actions[1].ID)
	})

	s.Run("unresolved actions are warnings", func() {
		s.Require().Len(audit.Warnings, 1)
		s.Equal("PA03", audit.Warnings[0].ProcedureID)
		s.Equal("AV99", audit.Warnings[0].ActionID)
		s.Len(audit.Procedures[2].Actions, 1)
	})

	s.Run("subjects from file then list", func() {
		s.Require().Len(audit.Subjects, 4)
		s.Equal("A01", audit.Subjects[0].ID)
		s.Equal("Organization One", audit.Subjects[0].Name)
		s.Equal("ORG3", audit.Subjects[2].Key)
		s.Equal("X01", audit.Subjects[3].ID)
		s.Equal("ORG4", audit.Subjects[3].Key)
	})
}

func (s *LoaderSuite) TestLoad_RunsEndToEnd() {
	audit, err := s.loader.Load("maps/governance.yaml")
	s.Require().NoError(err)

	findings := map[string][]string{}
	for _, sub := range audit.Subjects {
		errs := sub.ApplyProcedures(audit.Procedures)
		s.Len(errs, 1, "PA03 fails on every subject")
		findings[sub.Key] = sub.FindingNames()
	}

	s.Equal([]string{"1. Policy", "2. Plan"}, findings["ORG1"])
	s.Empty(findings["ORG2"], "AV02 skips ORG2 and the budget is above the threshold")
	s.Equal([]string{"2. Plan"}, findings["ORG3"], "empty budget counts as a finding")
	s.Equal([]string{"2. Plan"}, findings["ORG4"], "missing entity counts as a finding")
}

func (s *LoaderSuite) TestLoad_Errors() {
	tests := []struct {
		name    string
		files   fstest.MapFS
		wantErr string
	}{
		{
			name:    "missing map",
			files:   fstest.MapFS{},
			wantErr: "open audit map",
		},
		{
			name:    "empty map",
			files:   fstest.MapFS{"m.yaml": {Data: []byte("")}},
			wantErr: "empty document",
		},
		{
			name:    "unknown key",
			files:   fstest.MapFS{"m.yaml": {Data: []byte("actions:\n  - id: AV01\n    critrion: x\n")}},
			wantErr: "critrion",
		},
		{
			name: "duplicate action ids",
			files: fstest.MapFS{"m.yaml": {Data: []byte(
				"actions:\n  - id: AV01\n  - id: AV01\n")}},
			wantErr: "duplicate action id AV01",
		},
		{
			name: "missing source file",
			files: fstest.MapFS{"m.yaml": {Data: []byte(
				"sources:\n  - id: FI01\n    file: nope.csv\n")}},
			wantErr: "source FI01: read nope.csv",
		},
		{
			name: "empty source file",
			files: fstest.MapFS{
				"m.yaml": {Data: []byte("sources:\n  - id: FI01\n    file: a.csv\n")},
				"a.csv":  {Data: []byte("")},
			},
			wantErr: "empty file",
		},
		{
			name: "unknown key column",
			files: fstest.MapFS{
				"m.yaml": {Data: []byte("sources:\n  - id: FI01\n    file: a.csv\n    key: cnpj\n")},
				"a.csv":  {Data: []byte("sigla,x\nORG1,1\n")},
			},
			wantErr: `key column "cnpj" not found`,
		},
		{
			name: "subjects file without key column",
			files: fstest.MapFS{
				"m.yaml": {Data: []byte("subjects:\n  file: s.csv\n")},
				"s.csv":  {Data: []byte("name\nOne\n")},
			},
			wantErr: "needs name and key columns",
		},
		{
			name: "latin-1 source file",
			files: fstest.MapFS{
				"m.yaml": {Data: []byte("sources:\n  - id: FI01\n    file: a.csv\n")},
				"a.csv":  {Data: []byte("sigla,x\nORG1,1\nORG\xe3O,2\n")},
			},
			wantErr: "a.csv line 3 is not valid UTF-8",
		},
		{
			name: "latin-1 subjects file",
			files: fstest.MapFS{
				"m.yaml": {Data: []byte("subjects:\n  file: s.csv\n")},
				"s.csv":  {Data: []byte("name,key\n\xd3rg\xe3o,ORG1\n")},
			},
			wantErr: "s.csv line 2 is not valid UTF-8",
		},
		{
			name: "duplicate subject keys",
			files: fstest.MapFS{"m.yaml": {Data: []byte(
				"subjects:\n  list:\n    - {name: One, key: ORG1}\n    - {name: Uno, key: ORG1}\n")}},
			wantErr: "duplicate subject key ORG1",
		},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			loader := NewLoader(tt.files, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
			_, err := loader.Load("m.yaml")
			s.Require().Error(err)
			s.Contains(err.Error(), tt.wantErr)
		})
	}
}

func (s *LoaderSuite) TestLoad_UnknownSourceLeavesActionUnbound() {
	files := fstest.MapFS{"m.yaml": {Data: []byte(`
actions:
  - id: AV01
    source: FI09
    fields: x
procedures:
  - id: PA01
    expression: AV01
    finding: {number: "1", name: Orphan}
subjects:
  list:
    - {name: One, key: ORG1}
`)}}
	loader := NewLoader(files, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	audit, err := loader.Load("m.yaml")
	s.Require().NoError(err)
	s.Nil(audit.Actions["AV01"].Source)

	errs := audit.Subjects[0].ApplyProcedures(audit.Procedures)
	s.Require().Len(errs, 1)
	var cfgErr *verification.ConfigurationError
	s.ErrorAs(errs[0], &cfgErr)
	s.Equal("AV01", cfgErr.ActionID)
}

func TestParseMap_Validate(t *testing.T) {
	_, err := ParseMap(strings.NewReader(`
sources:
  - id: FI01
    file: a.csv
    delimiter: ";;"
  - file: b.csv
procedures:
  - id: PA01
  - id: PA01
`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidMap)
	assert.Contains(t, err.Error(), "delimiter must be a single character")
	assert.Contains(t, err.Error(), "source #2 has no id")
	assert.Contains(t, err.Error(), "duplicate procedure id PA01")
}
