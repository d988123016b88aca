package executor

import (
	"strconv"

	"github.com/playbooks-run/core/perr"
)

// exprParser is a small precedence-climbing parser over the token stream
// produced by lex(). It implements exactly the grammar the design notes
// call for (§9): literals, $state-var/bare-name refs, +-*/ and comparison
// operators, sequence/mapping construction, and a single top-level
// assignment form.
type exprParser struct {
	toks []token
	pos  int
}

func newExprParser(toks []token) *exprParser { return &exprParser{toks: toks} }

func (p *exprParser) peek() token { return p.toks[p.pos] }
func (p *exprParser) next() token { t := p.toks[p.pos]; p.pos++; return t }

// assignment describes a parsed "target = expr" statement. Target is
// either a local name or, when IsState is true, a `$`-prefixed state var.
type assignment struct {
	Target  string
	IsState bool
	Expr    exprNode
}

// exprNode is the small AST produced by the parser.
type exprNode interface {
	eval(env *Environment) (Value, error)
}

// ParseAssignment parses "name = expr" or "$name = expr". If there is no
// top-level "=", the whole statement is parsed as a bare expression bound
// to no target (Target == "").
func ParseAssignment(src string) (*assignment, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := newExprParser(toks)

	// Look ahead for a top-level "name =" or "$name =" prefix.
	if (p.peek().kind == tokIdent || p.peek().kind == tokStateVar) && p.toks[p.pos+1].kind == tokOp && p.toks[p.pos+1].text == "=" {
		target := p.next()
		p.next() // consume "="
		expr, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		if p.peek().kind != tokEOF {
			return nil, perr.New(perr.KindParseError, "executor", "ParseAssignment", "trailing tokens after expression: "+src, nil)
		}
		return &assignment{Target: target.text, IsState: target.kind == tokStateVar, Expr: expr}, nil
	}

	expr, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokEOF {
		return nil, perr.New(perr.KindParseError, "executor", "ParseAssignment", "trailing tokens after expression: "+src, nil)
	}
	return &assignment{Expr: expr}, nil
}

func (p *exprParser) parseComparison() (exprNode, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOp && isComparisonOp(p.peek().text) {
		op := p.next().text
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{op: op, left: left, right: right}
	}
	return left, nil
}

func isComparisonOp(op string) bool {
	switch op {
	case "==", "!=", "<", ">", "<=", ">=":
		return true
	default:
		return false
	}
}

func (p *exprParser) parseAdditive() (exprNode, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOp && (p.peek().text == "+" || p.peek().text == "-") {
		op := p.next().text
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{op: op, left: left, right: right}
	}
	return left, nil
}

func (p *exprParser) parseMultiplicative() (exprNode, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOp && (p.peek().text == "*" || p.peek().text == "/") {
		op := p.next().text
		right, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{op: op, left: left, right: right}
	}
	return left, nil
}

func (p *exprParser) parsePrimary() (exprNode, error) {
	t := p.peek()
	switch t.kind {
	case tokNumber:
		p.next()
		n, err := parseNumberLiteral(t.text)
		if err != nil {
			return nil, perr.New(perr.KindParseError, "executor", "parsePrimary", "malformed number: "+t.text, err)
		}
		return literalExpr{Num(n)}, nil
	case tokString:
		p.next()
		return literalExpr{Str(t.text)}, nil
	case tokIdent:
		p.next()
		if t.text == "true" {
			return literalExpr{Bool(true)}, nil
		}
		if t.text == "false" {
			return literalExpr{Bool(false)}, nil
		}
		return localRef{t.text}, nil
	case tokStateVar:
		p.next()
		return stateRef{t.text}, nil
	case tokLParen:
		p.next()
		inner, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		if p.peek().kind != tokRParen {
			return nil, perr.New(perr.KindParseError, "executor", "parsePrimary", "missing closing ')'", nil)
		}
		p.next()
		return inner, nil
	case tokLBracket:
		return p.parseSequence()
	case tokLBrace:
		return p.parseMappingLit()
	default:
		return nil, perr.New(perr.KindParseError, "executor", "parsePrimary", "unexpected token '"+t.text+"'", nil)
	}
}

func (p *exprParser) parseSequence() (exprNode, error) {
	p.next() // consume '['
	var elems []exprNode
	for p.peek().kind != tokRBracket {
		e, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		elems = append(elems, e)
		if p.peek().kind == tokOp && p.peek().text == "," {
			p.next()
			continue
		}
		break
	}
	if p.peek().kind != tokRBracket {
		return nil, perr.New(perr.KindParseError, "executor", "parseSequence", "missing closing ']'", nil)
	}
	p.next()
	return seqExpr{elems}, nil
}

func (p *exprParser) parseMappingLit() (exprNode, error) {
	p.next() // consume '{'
	entries := map[string]exprNode{}
	for p.peek().kind != tokRBrace {
		keyTok := p.next()
		if keyTok.kind != tokIdent && keyTok.kind != tokString {
			return nil, perr.New(perr.KindParseError, "executor", "parseMappingLit", "expected mapping key", nil)
		}
		if p.peek().kind != tokColon {
			return nil, perr.New(perr.KindParseError, "executor", "parseMappingLit", "expected ':' after mapping key", nil)
		}
		p.next()
		val, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		entries[keyTok.text] = val
		if p.peek().kind == tokOp && p.peek().text == "," {
			p.next()
			continue
		}
		break
	}
	if p.peek().kind != tokRBrace {
		return nil, perr.New(perr.KindParseError, "executor", "parseMappingLit", "missing closing '}'", nil)
	}
	p.next()
	return mapExpr{entries}, nil
}

// --- AST node implementations -------------------------------------------------

type literalExpr struct{ v Value }

func (e literalExpr) eval(*Environment) (Value, error) { return e.v, nil }

type localRef struct{ name string }

func (e localRef) eval(env *Environment) (Value, error) {
	v, _ := env.GetLocal(e.name)
	return v, nil
}

type stateRef struct{ name string }

func (e stateRef) eval(env *Environment) (Value, error) {
	v, _ := env.GetState(e.name)
	return v, nil
}

type seqExpr struct{ elems []exprNode }

func (e seqExpr) eval(env *Environment) (Value, error) {
	out := make([]Value, len(e.elems))
	for i, el := range e.elems {
		v, err := el.eval(env)
		if err != nil {
			return Nil(), err
		}
		out[i] = v
	}
	return Seq(out), nil
}

type mapExpr struct{ entries map[string]exprNode }

func (e mapExpr) eval(env *Environment) (Value, error) {
	out := make(map[string]Value, len(e.entries))
	for k, el := range e.entries {
		v, err := el.eval(env)
		if err != nil {
			return Nil(), err
		}
		out[k] = v
	}
	return Mapping(out), nil
}

type binaryExpr struct {
	op          string
	left, right exprNode
}

func (e binaryExpr) eval(env *Environment) (Value, error) {
	l, err := e.left.eval(env)
	if err != nil {
		return Nil(), err
	}
	r, err := e.right.eval(env)
	if err != nil {
		return Nil(), err
	}
	switch e.op {
	case "+":
		if l.Kind == KindString || r.Kind == KindString {
			return Str(l.String2() + r.String2()), nil
		}
		if l.Kind == KindSequence && r.Kind == KindSequence {
			return Seq(append(append([]Value{}, l.Seq...), r.Seq...)), nil
		}
		return Num(l.Num + r.Num), nil
	case "-":
		return Num(l.Num - r.Num), nil
	case "*":
		return Num(l.Num * r.Num), nil
	case "/":
		if r.Num == 0 {
			return Nil(), perr.New(perr.KindFatal, "executor", "eval", "division by zero", nil)
		}
		return Num(l.Num / r.Num), nil
	case "==":
		return Bool(valuesEqual(l, r)), nil
	case "!=":
		return Bool(!valuesEqual(l, r)), nil
	case "<":
		return Bool(l.Num < r.Num), nil
	case ">":
		return Bool(l.Num > r.Num), nil
	case "<=":
		return Bool(l.Num <= r.Num), nil
	case ">=":
		return Bool(l.Num >= r.Num), nil
	default:
		return Nil(), perr.New(perr.KindParseError, "executor", "eval", "unknown operator "+e.op, nil)
	}
}

// String2 renders a Value's textual content for "+"-concatenation,
// without the quoting String() applies for display/logging purposes.
func (v Value) String2() string {
	if v.Kind == KindString {
		return v.Str
	}
	if v.Kind == KindNumber {
		return strconv.FormatFloat(v.Num, 'g', -1, 64)
	}
	return v.String()
}

func valuesEqual(l, r Value) bool {
	if l.Kind != r.Kind {
		return false
	}
	switch l.Kind {
	case KindNil:
		return true
	case KindNumber:
		return l.Num == r.Num
	case KindString:
		return l.Str == r.Str
	case KindBool:
		return l.Bool == r.Bool
	case KindCallableRef:
		return l.Ref == r.Ref
	case KindAgentRef:
		return l.Agent.Equal(r.Agent)
	default:
		return false
	}
}
