package verification

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"

	"audita/internal/logic"
	"audita/internal/source"
)

// =============================================================================
// Verification Action Test Suite
// =============================================================================
// Covers the lookup policies (allow-list, missing entity, missing value),
// multi-field conjunction and evidence rendering.

type ActionSuite struct {
	suite.Suite
	survey *source.InformationSource
}

func TestActionSuite(t *testing.T) {
	suite.Run(t, new(ActionSuite))
}

func (s *ActionSuite) SetupTest() {
	var err error
	s.survey, err = source.New("FI01", "Governance survey", "sigla",
		[]string{"sigla", "status", "plan", "budget"},
		[][]string{
			{"ORG1", "Não adota", "Não adota.", "0"},
			{"ORG2", "Adota", "", "1200"},
		})
	s.Require().NoError(err)
}

func (s *ActionSuite) definition() *Definition {
	return &Definition{
		ID:                   "AV01",
		Source:               s.survey,
		Fields:               "status",
		Criterion:            "Não adota|Parcialmente",
		EvidenceTemplate:     "Answer given: @",
		SituationDescription: "Does not adopt a governance policy",
		Forwarding:           Forwarding{Type: "Recommendation", Text: "Adopt a policy"},
	}
}

func (s *ActionSuite) TestExecute_Criterion() {
	s.Run("matching value yields true and renders evidence", func() {
		res := Execute(s.definition(), "ORG1")
		s.NoError(res.Failure())
		s.True(res.Result)
		s.True(res.EntityFound)
		s.Equal("Answer given: Não adota", res.Evidence)
		s.Equal("Não adota", res.FoundValue())
		s.Equal("Governance survey", res.SourceDescription)
	})

	s.Run("non matching value yields false", func() {
		res := Execute(s.definition(), "ORG2")
		s.NoError(res.Failure())
		s.False(res.Result)
		s.Equal("Answer given: Adota", res.Evidence)
	})

	s.Run("definition is never mutated", func() {
		def := s.definition()
		Execute(def, "ORG1")
		s.Equal("Answer given: @", def.EvidenceTemplate)
	})

	s.Run("relational criterion", func() {
		def := s.definition()
		def.Fields = "budget"
		def.Criterion = "<= 0"
		s.True(Execute(def, "ORG1").Result)
		s.False(Execute(def, "ORG2").Result)
	})
}

func (s *ActionSuite) TestExecute_MultipleFields() {
	def := s.definition()
	def.Fields = "status|plan"

	s.Run("all fields must match", func() {
		res := Execute(def, "ORG1")
		s.True(res.Result)
		s.Len(res.Values, 2)
		s.Equal("Answer given: Não adota", res.Evidence)
	})

	s.Run("one failing field makes the action false", func() {
		def := s.definition()
		def.Fields = "status|plan"
		def.Criterion = "Não adota"
		def.MissingValueIsFinding = false
		res := Execute(def, "ORG2")
		s.False(res.Result)
	})
}

func (s *ActionSuite) TestExecute_MissingValuePolicy() {
	def := s.definition()
	def.Fields = "plan"

	s.Run("absent value without policy is judged by criterion", func() {
		s.False(Execute(def, "ORG2").Result)
	})

	s.Run("absent value with policy is a finding", func() {
		withPolicy := s.definition()
		withPolicy.Fields = "plan"
		withPolicy.MissingValueIsFinding = true
		res := Execute(withPolicy, "ORG2")
		s.True(res.Result)
		s.Equal("Answer given: ", res.Evidence)
	})
}

func (s *ActionSuite) TestExecute_MissingEntityPolicy() {
	s.Run("policy false yields no finding", func() {
		def := s.definition()
		def.MissingEntityDescription = "Entity did not answer the survey"
		res := Execute(def, "ORG9")
		s.NoError(res.Failure())
		s.False(res.Result)
		s.False(res.EntityFound)
		s.Equal("Entity did not answer the survey", res.Evidence)
	})

	s.Run("policy true yields a finding", func() {
		def := s.definition()
		def.MissingEntityIsFinding = true
		def.MissingEntityDescription = "Entity did not answer the survey"
		res := Execute(def, "ORG9")
		s.True(res.Result)
		s.Equal("Entity did not answer the survey", res.Evidence)
	})
}

func (s *ActionSuite) TestExecute_AllowList() {
	def := s.definition()
	def.AllowedEntities = ParseAllowList("ORG2, ORG3")

	s.Run("entity outside allow-list is skipped", func() {
		res := Execute(def, "ORG1")
		s.True(res.Skipped)
		s.False(res.Result)
		s.Empty(res.Values)
	})

	s.Run("allow-list matches exact keys only", func() {
		narrow := s.definition()
		narrow.AllowedEntities = ParseAllowList("ORG10")
		s.True(Execute(narrow, "ORG1").Skipped)
	})

	s.Run("entity inside allow-list runs", func() {
		res := Execute(def, "ORG2")
		s.False(res.Skipped)
		s.True(res.EntityFound)
	})
}

func (s *ActionSuite) TestExecute_Errors() {
	s.Run("unknown field is a configuration error", func() {
		def := s.definition()
		def.Fields = "status|missing_column"
		res := Execute(def, "ORG1")

		var cfgErr *ConfigurationError
		s.Require().True(errors.As(res.Failure(), &cfgErr))
		s.Equal("AV01", cfgErr.ActionID)
		s.Equal("missing_column", cfgErr.Field)
		s.Equal("Governance survey", cfgErr.Source)
		s.False(res.Result)
	})

	s.Run("malformed criterion is an evaluation error", func() {
		def := s.definition()
		def.Criterion = "(Não adota | Parcialmente"
		res := Execute(def, "ORG1")
		s.True(errors.Is(res.Failure(), logic.ErrEvaluation))
		s.NotEmpty(res.Err)
	})

	s.Run("unbound source is a configuration error", func() {
		def := s.definition()
		def.Source = nil
		var cfgErr *ConfigurationError
		s.True(errors.As(Execute(def, "ORG1").Failure(), &cfgErr))
	})
}
