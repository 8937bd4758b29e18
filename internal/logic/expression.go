// Package logic evaluates the fixed boolean grammar used by audit rules:
// terms joined by & (and), | (or) and the unary prefix ~ (not), grouped with
// parentheses. It also evaluates per-field comparator criteria.
package logic

import "strings"

const (
	opAnd   = "&"
	opOr    = "|"
	opNot   = "~"
	opOpen  = "("
	opClose = ")"
)

var precedence = map[string]int{
	opNot: 3,
	opAnd: 2,
	opOr:  1,
}

func isOperator(tok string) bool {
	_, ok := precedence[tok]
	return ok
}

// Tokenize splits an expression on the operator and parenthesis characters.
// Everything between them is a trimmed term; whitespace-only terms are dropped.
func Tokenize(expr string) []string {
	var (
		tokens  []string
		current strings.Builder
	)
	flush := func() {
		if term := strings.TrimSpace(current.String()); term != "" {
			tokens = append(tokens, term)
		}
		current.Reset()
	}
	for _, r := range expr {
		switch r {
		case '&', '|', '~', '(', ')':
			flush()
			tokens = append(tokens, string(r))
		default:
			current.WriteRune(r)
		}
	}
	flush()
	return tokens
}

// ToPostfix converts infix tokens to postfix order (shunting-yard).
// The unary ~ is right-associative so chains like ~~A stay well formed.
// Operators must sit between operands (~ before one), so "A ~" or "& A B"
// are rejected instead of being reordered into a valid expression.
func ToPostfix(expr string, tokens []string) ([]string, error) {
	if err := checkPlacement(expr, tokens); err != nil {
		return nil, err
	}
	output := make([]string, 0, len(tokens))
	stack := make([]string, 0, len(tokens))

	for _, tok := range tokens {
		switch {
		case tok == opOpen:
			stack = append(stack, tok)
		case tok == opClose:
			matched := false
			for len(stack) > 0 {
				top := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				if top == opOpen {
					matched = true
					break
				}
				output = append(output, top)
			}
			if !matched {
				return nil, newEvaluationError(expr, "unbalanced parenthesis", opClose)
			}
		case isOperator(tok):
			for len(stack) > 0 {
				top := stack[len(stack)-1]
				if !isOperator(top) || !shouldPop(top, tok) {
					break
				}
				output = append(output, top)
				stack = stack[:len(stack)-1]
			}
			stack = append(stack, tok)
		default:
			output = append(output, tok)
		}
	}

	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if top == opOpen {
			return nil, newEvaluationError(expr, "unbalanced parenthesis", opOpen)
		}
		output = append(output, top)
	}
	return output, nil
}

// checkPlacement walks the tokens alternating between expecting an operand
// (a term, "(" or "~") and expecting an operator (a binary operator or ")").
func checkPlacement(expr string, tokens []string) error {
	wantOperand := true
	for _, tok := range tokens {
		switch tok {
		case opNot:
			if !wantOperand {
				return newEvaluationError(expr, "negation must precede its operand", tok)
			}
		case opOpen:
			if !wantOperand {
				return newEvaluationError(expr, "missing operator before group", tok)
			}
		case opAnd, opOr:
			if wantOperand {
				return newEvaluationError(expr, "missing operand for operator", tok)
			}
			wantOperand = true
		case opClose:
			if wantOperand {
				return newEvaluationError(expr, "missing operand before parenthesis", tok)
			}
		default:
			if !wantOperand {
				return newEvaluationError(expr, "missing operator before term", tok)
			}
			wantOperand = false
		}
	}
	if wantOperand {
		return newEvaluationError(expr, "expression ends without an operand", "")
	}
	return nil
}

func shouldPop(top, incoming string) bool {
	if incoming == opNot {
		return precedence[top] > precedence[incoming]
	}
	return precedence[top] >= precedence[incoming]
}

// evalPostfix reduces postfix tokens to a single boolean. leaf resolves terms.
func evalPostfix(expr string, postfix []string, leaf func(string) (bool, error)) (bool, error) {
	stack := make([]bool, 0, len(postfix))
	pop := func(op string) (bool, error) {
		if len(stack) == 0 {
			return false, newEvaluationError(expr, "missing operand for operator", op)
		}
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return v, nil
	}

	for _, tok := range postfix {
		switch tok {
		case opAnd, opOr:
			y, err := pop(tok)
			if err != nil {
				return false, err
			}
			x, err := pop(tok)
			if err != nil {
				return false, err
			}
			if tok == opAnd {
				stack = append(stack, x && y)
			} else {
				stack = append(stack, x || y)
			}
		case opNot:
			x, err := pop(tok)
			if err != nil {
				return false, err
			}
			stack = append(stack, !x)
		default:
			v, err := leaf(tok)
			if err != nil {
				return false, err
			}
			stack = append(stack, v)
		}
	}

	if len(stack) != 1 {
		return false, newEvaluationError(expr, "expression does not reduce to a single value", "")
	}
	return stack[0], nil
}

// Evaluate resolves a boolean expression over named variables. Every leaf
// must be a key of vars. An empty expression is false.
func Evaluate(expr string, vars map[string]bool) (bool, error) {
	tokens := Tokenize(expr)
	if len(tokens) == 0 {
		return false, nil
	}
	postfix, err := ToPostfix(expr, tokens)
	if err != nil {
		return false, err
	}
	return evalPostfix(expr, postfix, func(name string) (bool, error) {
		v, ok := vars[name]
		if !ok {
			return false, newEvaluationError(expr, "unbound name", name)
		}
		return v, nil
	})
}

// Identifiers returns the distinct terms of an expression in first-seen order.
func Identifiers(expr string) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, tok := range Tokenize(expr) {
		if tok == opOpen || tok == opClose || isOperator(tok) {
			continue
		}
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		ids = append(ids, tok)
	}
	return ids
}
