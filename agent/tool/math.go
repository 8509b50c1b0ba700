package tool

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	contractx "github.com/tanpawarit/makwenta/agent/contract"
)

const (
	ActionMathEvaluate = "math_evaluate"
)

// Accepts digits, whitespace, decimal points, operators, and parentheses.
var mathExpressionPattern = regexp.MustCompile(`^[\d\s\+\-\*/%\^\(\)\.]+$`)

// MathEvaluate computes arithmetic over exact decimals so that money sums
// such as 0.1 + 0.2 come out exact.
func MathEvaluate() Action {
	return NewAction(Spec{
		Name:        ActionMathEvaluate,
		Description: "Evaluate an arithmetic expression, e.g. to split a bill or total several amounts.",
		Params: []Param{
			{Name: "expression", Desc: "Expression using + - * / % ^ and parentheses", Type: TypeString, Required: true},
		},
	}, func(_ context.Context, _ contractx.Invocation, args Args) (string, error) {
		expression := args.String("expression")
		if err := validateMathExpression(expression); err != nil {
			return "", err
		}
		result, err := evaluateMathExpression(expression)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s = %s", expression, result.String()), nil
	})
}

func validateMathExpression(expression string) error {
	if strings.TrimSpace(expression) == "" {
		return fmt.Errorf("expression is empty")
	}
	if !mathExpressionPattern.MatchString(expression) {
		return fmt.Errorf("expression contains invalid characters")
	}

	balance := 0
	for _, ch := range expression {
		switch ch {
		case '(':
			balance++
		case ')':
			balance--
			if balance < 0 {
				return fmt.Errorf("expression has unbalanced parentheses")
			}
		}
	}
	if balance != 0 {
		return fmt.Errorf("expression has unbalanced parentheses")
	}
	return nil
}

func evaluateMathExpression(expression string) (decimal.Decimal, error) {
	p := &mathParser{input: expression}
	value, err := p.parseExpr()
	if err != nil {
		return decimal.Zero, err
	}
	p.skipSpaces()
	if p.hasNext() {
		return decimal.Zero, fmt.Errorf("unexpected token at position %d", p.pos)
	}
	return value, nil
}

var maxExponent = decimal.NewFromInt(64)

type binaryOp func(left, right decimal.Decimal) (decimal.Decimal, error)

var (
	additiveOps = map[byte]binaryOp{
		'+': func(l, r decimal.Decimal) (decimal.Decimal, error) { return l.Add(r), nil },
		'-': func(l, r decimal.Decimal) (decimal.Decimal, error) { return l.Sub(r), nil },
	}
	multiplicativeOps = map[byte]binaryOp{
		'*': func(l, r decimal.Decimal) (decimal.Decimal, error) { return l.Mul(r), nil },
		'/': func(l, r decimal.Decimal) (decimal.Decimal, error) {
			if r.IsZero() {
				return decimal.Zero, fmt.Errorf("division by zero")
			}
			return l.Div(r), nil
		},
		'%': func(l, r decimal.Decimal) (decimal.Decimal, error) {
			if r.IsZero() {
				return decimal.Zero, fmt.Errorf("modulo by zero")
			}
			return l.Mod(r), nil
		},
	}
)

type mathParser struct {
	input string
	pos   int
}

func (p *mathParser) parseExpr() (decimal.Decimal, error) {
	return p.parseLeftAssoc(additiveOps, p.parseTerm)
}

func (p *mathParser) parseTerm() (decimal.Decimal, error) {
	return p.parseLeftAssoc(multiplicativeOps, p.parsePower)
}

// parseLeftAssoc folds operand (op operand)* from the left for one
// precedence level.
func (p *mathParser) parseLeftAssoc(ops map[byte]binaryOp, operand func() (decimal.Decimal, error)) (decimal.Decimal, error) {
	left, err := operand()
	if err != nil {
		return decimal.Zero, err
	}
	for {
		p.skipSpaces()
		if !p.hasNext() {
			return left, nil
		}
		op, ok := ops[p.peek()]
		if !ok {
			return left, nil
		}
		p.pos++

		right, err := operand()
		if err != nil {
			return decimal.Zero, err
		}
		if left, err = op(left, right); err != nil {
			return decimal.Zero, err
		}
	}
}

func (p *mathParser) parsePower() (decimal.Decimal, error) {
	left, err := p.parseUnary()
	if err != nil {
		return decimal.Zero, err
	}

	p.skipSpaces()
	if p.match('^') {
		right, err := p.parsePower()
		if err != nil {
			return decimal.Zero, err
		}
		if !right.IsInteger() || right.Abs().GreaterThan(maxExponent) {
			return decimal.Zero, fmt.Errorf("exponent must be a whole number up to %s", maxExponent)
		}
		if left.IsZero() && right.IsNegative() {
			return decimal.Zero, fmt.Errorf("division by zero")
		}
		return left.Pow(right), nil
	}
	return left, nil
}

func (p *mathParser) parseUnary() (decimal.Decimal, error) {
	p.skipSpaces()
	if p.match('+') {
		return p.parseUnary()
	}
	if p.match('-') {
		value, err := p.parseUnary()
		if err != nil {
			return decimal.Zero, err
		}
		return value.Neg(), nil
	}
	return p.parsePrimary()
}

func (p *mathParser) parsePrimary() (decimal.Decimal, error) {
	p.skipSpaces()
	if p.match('(') {
		value, err := p.parseExpr()
		if err != nil {
			return decimal.Zero, err
		}
		p.skipSpaces()
		if !p.match(')') {
			return decimal.Zero, fmt.Errorf("missing closing parenthesis at position %d", p.pos)
		}
		return value, nil
	}
	return p.parseNumber()
}

func (p *mathParser) parseNumber() (decimal.Decimal, error) {
	p.skipSpaces()
	start := p.pos
	digits, dots := 0, 0
	for ; p.hasNext(); p.pos++ {
		ch := p.peek()
		if ch >= '0' && ch <= '9' {
			digits++
			continue
		}
		if ch != '.' {
			break
		}
		if dots++; dots > 1 {
			return decimal.Zero, fmt.Errorf("invalid number format at position %d", p.pos)
		}
	}
	if digits == 0 {
		return decimal.Zero, fmt.Errorf("expected number at position %d", start)
	}

	raw := p.input[start:p.pos]
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid number %q: %w", raw, err)
	}
	return value, nil
}

func (p *mathParser) skipSpaces() {
	for p.hasNext() && strings.ContainsRune(" \t\n\r", rune(p.peek())) {
		p.pos++
	}
}

func (p *mathParser) hasNext() bool {
	return p.pos < len(p.input)
}

func (p *mathParser) peek() byte {
	return p.input[p.pos]
}

func (p *mathParser) match(expected byte) bool {
	if p.hasNext() && p.peek() == expected {
		p.pos++
		return true
	}
	return false
}
