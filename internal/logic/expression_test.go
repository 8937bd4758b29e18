package logic

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			name:     "empty",
			input:    "",
			expected: nil,
		},
		{
			name:     "terms keep inner spaces",
			input:    "(Não adota | Parcialmente.)",
			expected: []string{"(", "Não adota", "|", "Parcialmente.", ")"},
		},
		{
			name:     "whitespace-only terms dropped",
			input:    "A &  ~ B",
			expected: []string{"A", "&", "~", "B"},
		},
		{
			name:     "adjacent operators",
			input:    "~(A|B)",
			expected: []string{"~", "(", "A", "|", "B", ")"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Tokenize(tt.input))
		})
	}
}

func TestEvaluate_Precedence(t *testing.T) {
	vars := map[string]bool{"A": true, "B": true, "C": false}

	tests := []struct {
		expr     string
		expected bool
	}{
		{"A & ~B | C", false},
		{"A | B & C", true},
		{"(A | B) & C", false},
		{"~A | B", true},
		{"~(A & B)", false},
		{"~~A", true},
		{"A & B & ~C", true},
		{"C | ~C & A", true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := Evaluate(tt.expr, vars)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestEvaluate_Errors(t *testing.T) {
	vars := map[string]bool{"A": true, "B": false}

	tests := []struct {
		name string
		expr string
	}{
		{"unbalanced open", "(A | B"},
		{"unbalanced close", "A | B)"},
		{"dangling operator", "A &"},
		{"missing operator", "(A)(B)"},
		{"unbound name", "A | AV99"},
		{"lonely not", "~"},
		{"trailing not", "A ~"},
		{"leading binary operator", "& A B"},
		{"adjacent terms after group", "(A) B"},
		{"operator before close", "(A |)"},
		{"empty group", "A & ()"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Evaluate(tt.expr, vars)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrEvaluation))

			var evalErr *EvaluationError
			require.True(t, errors.As(err, &evalErr))
			assert.Equal(t, tt.expr, evalErr.Expression)
		})
	}
}

func TestEvaluate_EmptyIsFalse(t *testing.T) {
	got, err := Evaluate("   ", nil)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestIdentifiers(t *testing.T) {
	ids := Identifiers("(AV01 | AV02) & ~AV01 | AV03")
	assert.Equal(t, []string{"AV01", "AV02", "AV03"}, ids)
}
