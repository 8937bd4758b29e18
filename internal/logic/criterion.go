package logic

import (
	"math"
	"strconv"
	"strings"
)

// Comparator is one of the relational operators accepted in a criterion.
type Comparator string

const (
	Equal        Comparator = "=="
	NotEqual     Comparator = "!="
	Less         Comparator = "<"
	LessEqual    Comparator = "<="
	Greater      Comparator = ">"
	GreaterEqual Comparator = ">="
)

// Two-character operators first so "<=" is not read as "<".
var comparators = []Comparator{Equal, NotEqual, LessEqual, GreaterEqual, Less, Greater}

// Clause is a parsed relational criterion such as `> 0` or `== "Yes"`.
type Clause struct {
	Op      Comparator
	Number  float64
	Text    string
	Numeric bool
}

// ParseClause parses a comparator clause. The literal must be a number or a
// quoted string; anything else is not a clause.
func ParseClause(criterion string) (Clause, bool) {
	s := strings.TrimSpace(criterion)
	for _, op := range comparators {
		if !strings.HasPrefix(s, string(op)) {
			continue
		}
		literal := strings.TrimSpace(s[len(op):])
		if text, ok := unquote(literal); ok {
			return Clause{Op: op, Text: text}, true
		}
		n, ok := parseFinite(literal)
		if !ok {
			return Clause{}, false
		}
		return Clause{Op: op, Number: n, Numeric: true}, true
	}
	return Clause{}, false
}

func unquote(literal string) (string, bool) {
	if len(literal) < 2 {
		return "", false
	}
	q := literal[0]
	if (q != '"' && q != '\'') || literal[len(literal)-1] != q {
		return "", false
	}
	inner := literal[1 : len(literal)-1]
	if strings.IndexByte(inner, q) >= 0 {
		return "", false
	}
	return inner, true
}

// Apply compares found against the clause. ok is false when a numeric clause
// meets a value that is not a number.
func (c Clause) Apply(found string) (result bool, ok bool) {
	if c.Numeric {
		v, ok := parseFinite(strings.TrimSpace(found))
		if !ok {
			return false, false
		}
		return compare(c.Op, cmpFloat(v, c.Number)), true
	}
	return compare(c.Op, strings.Compare(found, c.Text)), true
}

// parseFinite parses a decimal number. NaN and infinities are not numbers
// here: spreadsheet exports write "nan" for empty cells and NaN compares
// equal to nothing.
func parseFinite(s string) (float64, bool) {
	n, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compare(op Comparator, cmp int) bool {
	switch op {
	case Equal:
		return cmp == 0
	case NotEqual:
		return cmp != 0
	case Less:
		return cmp < 0
	case LessEqual:
		return cmp <= 0
	case Greater:
		return cmp > 0
	case GreaterEqual:
		return cmp >= 0
	}
	return false
}

// EvaluateCriterion judges a found value against a criterion. A comparator
// clause is tried first; otherwise the criterion is read as a boolean
// combination of terms, each true when it equals found (one trailing period
// ignored on both sides).
func EvaluateCriterion(criterion, found string) (bool, error) {
	if clause, ok := ParseClause(criterion); ok {
		if result, applied := clause.Apply(found); applied {
			return result, nil
		}
	}

	tokens := Tokenize(criterion)
	if len(tokens) == 0 {
		return false, nil
	}
	postfix, err := ToPostfix(criterion, tokens)
	if err != nil {
		return false, err
	}
	want := trimPeriod(found)
	return evalPostfix(criterion, postfix, func(term string) (bool, error) {
		return trimPeriod(term) == want, nil
	})
}

func trimPeriod(s string) string {
	return strings.TrimSuffix(s, ".")
}
