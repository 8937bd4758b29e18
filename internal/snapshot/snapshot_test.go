package snapshot

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"audita/internal/aggregation"
	"audita/internal/procedure"
	"audita/internal/source"
	"audita/internal/subject"
	"audita/internal/verification"
	"audita/pkg/testutil"
)

func renderTables(t *testing.T, subjects []*subject.Subject) map[aggregation.Kind][]byte {
	t.Helper()
	out := make(map[aggregation.Kind][]byte, len(aggregation.Kinds))
	for _, kind := range aggregation.Kinds {
		table, err := aggregation.Build(kind, subjects)
		require.NoError(t, err)
		var buf bytes.Buffer
		require.NoError(t, table.WriteCSV(&buf))
		out[kind] = buf.Bytes()
	}
	return out
}

func TestRoundTrip_RegeneratesIdenticalTables(t *testing.T) {
	subjects := testutil.NewAuditFixture(t).Audit(t)
	before := renderTables(t, subjects)

	snap := New("run-1", time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC), subjects)
	data, err := Marshal(snap)
	require.NoError(t, err)

	restored, err := Unmarshal(data)
	require.NoError(t, err)
	after := renderTables(t, restored.Subjects)

	for _, kind := range aggregation.Kinds {
		assert.Equal(t, string(before[kind]), string(after[kind]), "table %s", kind)
	}

	t.Run("summary is regenerated too", func(t *testing.T) {
		assert.Equal(t, aggregation.Summarize(subjects, 10), aggregation.Summarize(restored.Subjects, 10))
	})

	t.Run("metadata survives", func(t *testing.T) {
		assert.Equal(t, Version, restored.Version)
		assert.Equal(t, "run-1", restored.RunID)
		assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 123000000, time.UTC), restored.CreatedAt)
		assert.Equal(t, []string{"ORG1", "ORG2", "ORG3", "ORG4"}, restored.Keys())
	})

	t.Run("subject state survives", func(t *testing.T) {
		sub, ok := restored.Subject("ORG1")
		require.True(t, ok)
		assert.True(t, sub.Audited)
		assert.True(t, sub.HasFindings)
		assert.Equal(t, []string{"1. Policy", "2. Plan"}, sub.FindingNames())
		assert.Equal(t, subjects[0].ActionPlan(), sub.ActionPlan())

		unaudited, ok := restored.Subject("ORG4")
		require.True(t, ok)
		assert.False(t, unaudited.Audited)
		assert.Empty(t, unaudited.Executed)
	})

	t.Run("re-encoding is stable", func(t *testing.T) {
		again, err := Marshal(restored)
		require.NoError(t, err)
		assert.Equal(t, string(data), string(again))
	})
}

func TestRoundTrip_PreservesProcedureErrors(t *testing.T) {
	fixture := testutil.NewAuditFixture(t)
	s := fixture.Subjects[0]
	broken := *fixture.Procedures[0]
	broken.ID = "PA09"
	broken.Expression = "AV01 & AV99"
	errs := s.ApplyProcedures(append(fixture.Procedures, &broken))
	require.Len(t, errs, 1)

	data, err := Marshal(New("run-2", time.Now(), []*subject.Subject{s}))
	require.NoError(t, err)
	restored, err := Unmarshal(data)
	require.NoError(t, err)

	res := restored.Subjects[0].Executed[3]
	require.Error(t, res.Failure())
	assert.Equal(t, errs[0].Error(), res.Failure().Error())
	assert.Nil(t, res.Finding)
}

func TestRoundTrip_NonASCIIText(t *testing.T) {
	src, err := source.New("FI02", "Pesquisa de governança", "sigla",
		[]string{"sigla", "política"},
		[][]string{{"ORGÃO", "Não adota"}})
	require.NoError(t, err)
	action := &verification.Definition{
		ID: "AV01", Source: src, Fields: "política", Criterion: "Não adota",
		EvidenceTemplate: "Situação: @", SituationDescription: "Ausência de política",
		Forwarding: verification.Forwarding{Type: "Recomendação", Text: "Adotar política"},
	}
	sub := subject.New("A01", "Órgão Central", "ORGÃO")
	require.Empty(t, sub.ApplyProcedures([]*procedure.Definition{{
		ID: "PA01", Expression: "AV01", FindingNumber: "1", FindingName: "Política",
		Actions: []*verification.Definition{action},
	}}))
	require.True(t, sub.HasFindings)
	before := renderTables(t, []*subject.Subject{sub})

	data, err := Marshal(New("run-3", time.Now(), []*subject.Subject{sub}))
	require.NoError(t, err)
	restored, err := Unmarshal(data)
	require.NoError(t, err)

	assert.Equal(t, []string{"ORGÃO"}, restored.Keys())
	after := renderTables(t, restored.Subjects)
	for _, kind := range aggregation.Kinds {
		assert.Equal(t, string(before[kind]), string(after[kind]), "table %s", kind)
	}
}

func TestMarshal_RejectsInvalidUTF8(t *testing.T) {
	t.Run("subject key", func(t *testing.T) {
		sub := subject.New("A01", "Latin-1 export", "ORG\xe3O")
		_, err := Marshal(New("run-4", time.Now(), []*subject.Subject{sub}))
		require.ErrorIs(t, err, ErrInvalidText)
		assert.Contains(t, err.Error(), "Key")
	})

	t.Run("nested finding text", func(t *testing.T) {
		subjects := testutil.NewAuditFixture(t).Audit(t)
		subjects[0].Executed[0].Finding.Situations[0] = "sem pol\xedtica"
		_, err := Marshal(New("run-5", time.Now(), subjects))
		require.ErrorIs(t, err, ErrInvalidText)
		assert.Contains(t, err.Error(), "Situations[0]")
	})
}

func TestUnmarshal_Errors(t *testing.T) {
	t.Run("rejects other versions", func(t *testing.T) {
		_, err := Unmarshal([]byte(`{"version": 99, "run_id": "x"}`))
		assert.ErrorIs(t, err, ErrUnsupportedVersion)
	})

	t.Run("rejects malformed payloads", func(t *testing.T) {
		_, err := Unmarshal([]byte(`{"version":`))
		assert.Error(t, err)
	})

	t.Run("missing subjects decode as empty", func(t *testing.T) {
		snap, err := Unmarshal([]byte(`{"version": 1, "run_id": "x"}`))
		require.NoError(t, err)
		assert.NotNil(t, snap.Subjects)
		assert.Empty(t, snap.Subjects)
	})
}
