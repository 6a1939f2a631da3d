// Package expr implements the template substitution and the small, side-effect
// free expression language used by monitor sources and alert rules.
//
// Expressions support number, string and boolean literals, dotted identifier
// paths resolved against a context map, arithmetic (+ - * / %), comparisons,
// logical operators (&& || !) and parentheses. && and || short-circuit and
// yield one of their operands, so `[x] || 0` picks a default.
package expr

import (
	"fmt"
	"math"
	"strconv"
)

// Default bounds for a single evaluation.
const (
	DefaultMaxLength = 4096
	DefaultMaxDepth  = 64
)

// Evaluator evaluates an expression string against a context.
type Evaluator interface {
	Eval(expression string, ctx map[string]any) (any, error)
}

// Engine is the native Evaluator. The zero value uses the default bounds.
type Engine struct {
	MaxLength int
	MaxDepth  int
}

// New returns an Engine with default bounds.
func New() *Engine {
	return &Engine{MaxLength: DefaultMaxLength, MaxDepth: DefaultMaxDepth}
}

// Eval parses and evaluates expression. The result is a float64, string,
// bool or nil.
func (e *Engine) Eval(expression string, ctx map[string]any) (any, error) {
	maxLen, maxDepth := e.MaxLength, e.MaxDepth
	if maxLen <= 0 {
		maxLen = DefaultMaxLength
	}
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	if len(expression) > maxLen {
		return nil, fmt.Errorf("%w: length %d exceeds %d", ErrLimit, len(expression), maxLen)
	}
	toks, err := tokenize(expression)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks, ctx: ctx, maxDepth: maxDepth}
	if p.peek().kind == tokEOF {
		return nil, syntaxErr(0, "empty expression")
	}
	v, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, syntaxErr(t.pos, "unexpected %q", t.text)
	}
	return p.value(v)
}

var defaultEngine = New()

// Eval evaluates expression with the default Engine.
func Eval(expression string, ctx map[string]any) (any, error) {
	return defaultEngine.Eval(expression, ctx)
}

// unresolved is an identifier missing from the context. It is falsy for
// && || and !, and an error anywhere else.
type unresolved string

// parser evaluates while it parses; there is no intermediate tree. While skip
// is positive the parser is inside a short-circuited operand: it still checks
// syntax but evaluation errors are ignored.
type parser struct {
	toks     []token
	pos      int
	ctx      map[string]any
	depth    int
	maxDepth int
	skip     int
}

// check drops evaluation errors inside a skipped operand.
func (p *parser) check(err error) error {
	if p.skip > 0 {
		return nil
	}
	return err
}

// value rejects unresolved identifiers.
func (p *parser) value(v any) (any, error) {
	if name, ok := v.(unresolved); ok {
		return nil, p.check(fmt.Errorf("%w: %s", ErrUnresolved, string(name)))
	}
	return v, nil
}

// operands resolves both sides of a binary operator.
func (p *parser) operands(a, b any) (any, any, error) {
	a, err := p.value(a)
	if err != nil {
		return nil, nil, err
	}
	b, err = p.value(b)
	if err != nil {
		return nil, nil, err
	}
	return a, b, nil
}

// skipped parses the next operand with evaluation suppressed when skip is set.
func (p *parser) skipped(skip bool, parse func() (any, error)) (any, error) {
	if skip {
		p.skip++
		defer func() { p.skip-- }()
	}
	return parse()
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) acceptOp(ops ...string) (string, bool) {
	t := p.peek()
	if t.kind != tokOp {
		return "", false
	}
	for _, op := range ops {
		if t.text == op {
			p.pos++
			return op, true
		}
	}
	return "", false
}

func (p *parser) enter() error {
	p.depth++
	if p.depth > p.maxDepth {
		return fmt.Errorf("%w: nesting deeper than %d", ErrLimit, p.maxDepth)
	}
	return nil
}

func (p *parser) leave() { p.depth-- }

func (p *parser) parseOr() (any, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.acceptOp("||"); !ok {
			return left, nil
		}
		done := truthy(left)
		right, err := p.skipped(done, p.parseAnd)
		if err != nil {
			return nil, err
		}
		if !done {
			left = right
		}
	}
}

func (p *parser) parseAnd() (any, error) {
	left, err := p.parseEquality()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.acceptOp("&&"); !ok {
			return left, nil
		}
		done := !truthy(left)
		right, err := p.skipped(done, p.parseEquality)
		if err != nil {
			return nil, err
		}
		if !done {
			left = right
		}
	}
}

func (p *parser) parseEquality() (any, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.acceptOp("===", "!==", "==", "!=")
		if !ok {
			return left, nil
		}
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		if left, right, err = p.operands(left, right); err != nil {
			return nil, err
		}
		eq := equal(left, right, op == "===" || op == "!==")
		if op == "!=" || op == "!==" {
			eq = !eq
		}
		left = eq
	}
}

func (p *parser) parseComparison() (any, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.acceptOp("<=", ">=", "<", ">")
		if !ok {
			return left, nil
		}
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		if left, right, err = p.operands(left, right); err != nil {
			return nil, err
		}
		if left, err = compare(op, left, right); p.check(err) != nil {
			return nil, err
		}
	}
}

func (p *parser) parseAdditive() (any, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.acceptOp("+", "-")
		if !ok {
			return left, nil
		}
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		if left, right, err = p.operands(left, right); err != nil {
			return nil, err
		}
		if op == "+" {
			_, ls := left.(string)
			_, rs := right.(string)
			if ls || rs {
				left = Stringify(left) + Stringify(right)
				continue
			}
		}
		if left, err = arith(op, left, right); p.check(err) != nil {
			return nil, err
		}
	}
}

func (p *parser) parseMultiplicative() (any, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.acceptOp("*", "/", "%")
		if !ok {
			return left, nil
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if left, right, err = p.operands(left, right); err != nil {
			return nil, err
		}
		if left, err = arith(op, left, right); p.check(err) != nil {
			return nil, err
		}
	}
}

func (p *parser) parseUnary() (any, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	op, ok := p.acceptOp("!", "-", "+")
	if !ok {
		return p.parsePrimary()
	}
	v, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	if op == "!" {
		return !truthy(v), nil
	}
	if v, err = p.value(v); err != nil {
		return nil, err
	}
	n, err := toNumber(v)
	if p.check(err) != nil {
		return nil, err
	}
	if op == "-" {
		return -n, nil
	}
	return n, nil
}

func (p *parser) parsePrimary() (any, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, syntaxErr(t.pos, "bad number %q", t.text)
		}
		return f, nil
	case tokString:
		return t.text, nil
	case tokIdent:
		switch t.text {
		case "true":
			return true, nil
		case "false":
			return false, nil
		case "null", "undefined":
			return nil, nil
		}
		v, ok := GetPath(p.ctx, t.text)
		if !ok {
			return unresolved(t.text), nil
		}
		return normalize(v), nil
	case tokLParen:
		if err := p.enter(); err != nil {
			return nil, err
		}
		defer p.leave()
		v, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if r := p.next(); r.kind != tokRParen {
			return nil, syntaxErr(r.pos, "expected )")
		}
		return v, nil
	case tokEOF:
		return nil, syntaxErr(t.pos, "unexpected end of expression")
	default:
		return nil, syntaxErr(t.pos, "unexpected %q", t.text)
	}
}

func normalize(v any) any {
	switch x := v.(type) {
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case float32:
		return float64(x)
	}
	return v
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil, unresolved:
		return false
	case bool:
		return x
	case float64:
		return x != 0 && !math.IsNaN(x)
	case string:
		return x != ""
	}
	return true
}

func toNumber(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case nil:
		return 0, nil
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not a number", ErrType, x)
		}
		return f, nil
	}
	return 0, fmt.Errorf("%w: %T is not a number", ErrType, v)
}

func arith(op string, a, b any) (any, error) {
	x, err := toNumber(a)
	if err != nil {
		return nil, err
	}
	y, err := toNumber(b)
	if err != nil {
		return nil, err
	}
	switch op {
	case "+":
		return x + y, nil
	case "-":
		return x - y, nil
	case "*":
		return x * y, nil
	case "/":
		if y == 0 {
			return nil, fmt.Errorf("%w: division by zero", ErrType)
		}
		return x / y, nil
	case "%":
		if y == 0 {
			return nil, fmt.Errorf("%w: modulo by zero", ErrType)
		}
		return math.Mod(x, y), nil
	}
	return nil, fmt.Errorf("%w: unknown operator %s", ErrSyntax, op)
}

func compare(op string, a, b any) (bool, error) {
	as, aStr := a.(string)
	bs, bStr := b.(string)
	if aStr && bStr {
		switch op {
		case "<":
			return as < bs, nil
		case "<=":
			return as <= bs, nil
		case ">":
			return as > bs, nil
		default:
			return as >= bs, nil
		}
	}
	x, err := toNumber(a)
	if err != nil {
		return false, err
	}
	y, err := toNumber(b)
	if err != nil {
		return false, err
	}
	switch op {
	case "<":
		return x < y, nil
	case "<=":
		return x <= y, nil
	case ">":
		return x > y, nil
	default:
		return x >= y, nil
	}
}

// equal compares loosely unless strict is set: loose equality converts a
// string operand to a number when the other side is numeric.
func equal(a, b any, strict bool) bool {
	switch x := a.(type) {
	case float64:
		switch y := b.(type) {
		case float64:
			return x == y
		case string:
			if strict {
				return false
			}
			f, err := strconv.ParseFloat(y, 64)
			return err == nil && f == x
		}
	case string:
		switch y := b.(type) {
		case string:
			return x == y
		case float64:
			if strict {
				return false
			}
			return equal(b, a, false)
		}
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case nil:
		return b == nil
	}
	return false
}
