package kernel

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/oarkflow/synth/value"
)

// Filter transforms a value. args holds the evaluated filter arguments.
type Filter func(in value.Value, args []value.Value, ctx *Context) (value.Value, error)

// ----------------------------- Expression tree ------------------------------

// ExprKind identifies an expression node.
type ExprKind int

const (
	ExprLiteral ExprKind = iota
	ExprVariable
	ExprSuper
	ExprFilter
	ExprNot
	ExprAnd
	ExprOr
	ExprCompare
)

// Expr is a parsed expression. Filters are resolved at parse time.
type Expr struct {
	Kind   ExprKind
	Source string
	Value  value.Value
	Path   []string
	Op     string
	Left   *Expr
	Right  *Expr
	Filter Filter
}

// IsVariable reports whether e is a bare variable path.
func (e *Expr) IsVariable() bool { return e.Kind == ExprVariable }

// ----------------------------- Lexing ---------------------------------------

type exprTokKind int

const (
	etEOF exprTokKind = iota
	etIdent
	etString
	etNumber
	etOp
)

type exprTok struct {
	kind exprTokKind
	text string
}

func lexExpr(src string) ([]exprTok, error) {
	var toks []exprTok
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case isSpace(c):
			i++
		case c == '"' || c == '\'':
			j := i + 1
			for j < len(src) && src[j] != c {
				if src[j] == '\\' {
					j++
				}
				j++
			}
			if j >= len(src) {
				return nil, Errorf(KindSyntax, "unterminated string in %q", src)
			}
			toks = append(toks, exprTok{etString, unescape(src[i+1 : j])})
			i = j + 1
		case isDigit(c) || (c == '-' && i+1 < len(src) && isDigit(src[i+1]) && operandExpected(toks)):
			j := i + 1
			for j < len(src) && (isDigit(src[j]) || src[j] == '.') {
				j++
			}
			toks = append(toks, exprTok{etNumber, src[i:j]})
			i = j
		case isIdentStart(c):
			j := i + 1
			for j < len(src) && (isIdentStart(src[j]) || isDigit(src[j]) || src[j] == '.' || src[j] == '-' && j+1 < len(src) && isDigit(src[j+1]) && src[j-1] == '.') {
				j++
			}
			toks = append(toks, exprTok{etIdent, src[i:j]})
			i = j
		default:
			if i+1 < len(src) {
				switch two := src[i : i+2]; two {
				case "==", "!=", "<=", ">=":
					toks = append(toks, exprTok{etOp, two})
					i += 2
					continue
				}
			}
			switch c {
			case '|', ':', '(', ')', '<', '>', ',', '=':
				toks = append(toks, exprTok{etOp, string(c)})
				i++
			default:
				return nil, Errorf(KindSyntax, "unexpected %q in expression %q", c, src)
			}
		}
	}
	return toks, nil
}

func operandExpected(toks []exprTok) bool {
	if len(toks) == 0 {
		return true
	}
	last := toks[len(toks)-1]
	if last.kind == etOp {
		return last.text != ")"
	}
	return last.kind == etIdent && isKeyword(last.text)
}

func isKeyword(s string) bool {
	switch s {
	case "and", "or", "not", "in":
		return true
	}
	return false
}

func isDigit(c byte) bool      { return c >= '0' && c <= '9' }
func isIdentStart(c byte) bool { return c == '_' || (c|0x20 >= 'a' && c|0x20 <= 'z') }

func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
			switch s[i] {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			default:
				sb.WriteByte(s[i])
			}
			continue
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}

// ----------------------------- Parsing --------------------------------------

type exprParser struct {
	src     string
	toks    []exprTok
	i       int
	filters func(string) (Filter, bool)
}

// ParseExpr parses src. filters resolves filter names; nil accepts none.
func ParseExpr(src string, filters func(string) (Filter, bool)) (*Expr, error) {
	toks, err := lexExpr(src)
	if err != nil {
		return nil, err
	}
	if len(toks) == 0 {
		return nil, Errorf(KindSyntax, "empty expression")
	}
	p := &exprParser{src: src, toks: toks, filters: filters}
	e, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.i < len(p.toks) {
		return nil, Errorf(KindSyntax, "unexpected %q in expression %q", p.toks[p.i].text, src)
	}
	e.Source = Trim(src)
	return e, nil
}

func (p *exprParser) peek() exprTok {
	if p.i >= len(p.toks) {
		return exprTok{kind: etEOF}
	}
	return p.toks[p.i]
}

func (p *exprParser) accept(kind exprTokKind, text string) bool {
	t := p.peek()
	if t.kind == kind && t.text == text {
		p.i++
		return true
	}
	return false
}

func (p *exprParser) parseOr() (*Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.accept(etIdent, "or") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &Expr{Kind: ExprOr, Left: left, Right: right}
	}
	return left, nil
}

func (p *exprParser) parseAnd() (*Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.accept(etIdent, "and") {
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &Expr{Kind: ExprAnd, Left: left, Right: right}
	}
	return left, nil
}

func (p *exprParser) parseNot() (*Expr, error) {
	if p.accept(etIdent, "not") {
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &Expr{Kind: ExprNot, Left: operand}, nil
	}
	return p.parseCompare()
}

func (p *exprParser) parseCompare() (*Expr, error) {
	left, err := p.parseFiltered()
	if err != nil {
		return nil, err
	}
	var op string
	t := p.peek()
	switch {
	case t.kind == etOp && (t.text == "==" || t.text == "!=" || t.text == "<" || t.text == ">" || t.text == "<=" || t.text == ">="):
		op = t.text
		p.i++
	case t.kind == etIdent && t.text == "in":
		op = "in"
		p.i++
	case t.kind == etIdent && t.text == "not" && p.i+1 < len(p.toks) && p.toks[p.i+1].text == "in":
		op = "not in"
		p.i += 2
	default:
		return left, nil
	}
	right, err := p.parseFiltered()
	if err != nil {
		return nil, err
	}
	return &Expr{Kind: ExprCompare, Op: op, Left: left, Right: right}, nil
}

func (p *exprParser) parseFiltered() (*Expr, error) {
	e, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for p.accept(etOp, "|") {
		t := p.peek()
		if t.kind != etIdent {
			return nil, Errorf(KindSyntax, "expected filter name in %q", p.src)
		}
		p.i++
		f := &Expr{Kind: ExprFilter, Op: t.text, Left: e}
		if p.filters != nil {
			fn, ok := p.filters(t.text)
			if !ok {
				return nil, &Error{Kind: KindType, Tag: t.text, Message: "unknown filter"}
			}
			f.Filter = fn
		} else {
			return nil, &Error{Kind: KindType, Tag: t.text, Message: "filters are not supported here"}
		}
		if p.accept(etOp, ":") {
			arg, err := p.parsePrimary()
			if err != nil {
				return nil, err
			}
			f.Right = arg
		}
		e = f
	}
	return e, nil
}

func (p *exprParser) parsePrimary() (*Expr, error) {
	t := p.peek()
	switch t.kind {
	case etString:
		p.i++
		return &Expr{Kind: ExprLiteral, Value: value.String(t.text), Source: t.text}, nil
	case etNumber:
		p.i++
		return numberLiteral(t.text)
	case etIdent:
		p.i++
		switch t.text {
		case "True", "true":
			return &Expr{Kind: ExprLiteral, Value: value.Bool(true), Source: t.text}, nil
		case "False", "false":
			return &Expr{Kind: ExprLiteral, Value: value.Bool(false), Source: t.text}, nil
		case "None":
			return &Expr{Kind: ExprLiteral, Value: value.None(), Source: t.text}, nil
		case "block.super":
			return &Expr{Kind: ExprSuper, Source: t.text}, nil
		}
		if isKeyword(t.text) {
			return nil, Errorf(KindSyntax, "unexpected %q in expression %q", t.text, p.src)
		}
		return &Expr{Kind: ExprVariable, Path: strings.Split(t.text, "."), Source: t.text}, nil
	case etOp:
		if t.text == "(" {
			p.i++
			e, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			if !p.accept(etOp, ")") {
				return nil, Errorf(KindSyntax, "missing ) in %q", p.src)
			}
			return e, nil
		}
	}
	if t.kind == etEOF {
		return nil, Errorf(KindSyntax, "unexpected end of expression %q", p.src)
	}
	return nil, Errorf(KindSyntax, "unexpected %q in expression %q", t.text, p.src)
}

func numberLiteral(s string) (*Expr, error) {
	if !strings.Contains(s, ".") {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return &Expr{Kind: ExprLiteral, Value: value.Int(i), Source: s}, nil
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, Errorf(KindSyntax, "invalid number %q", s)
	}
	return &Expr{Kind: ExprLiteral, Value: value.Float(f), Source: s}, nil
}

// ----------------------------- Evaluation -----------------------------------

// Eval evaluates e against ctx.
func (k *Kernel) Eval(e *Expr, ctx *Context) (value.Value, error) {
	switch e.Kind {
	case ExprLiteral:
		return e.Value, nil
	case ExprVariable:
		return k.lookup(e, ctx)
	case ExprSuper:
		text, _ := ctx.Blocks().Super(ctx.CurrentBlock(), ctx.level)
		return value.Safe(text), nil
	case ExprFilter:
		return k.evalFilter(e, ctx)
	case ExprNot:
		v, err := k.Eval(e.Left, ctx)
		if err != nil {
			return value.Value{}, err
		}
		return value.Bool(!v.Test()), nil
	case ExprAnd, ExprOr:
		l, err := k.Eval(e.Left, ctx)
		if err != nil {
			return value.Value{}, err
		}
		if l.Test() == (e.Kind == ExprOr) {
			return value.Bool(l.Test()), nil
		}
		r, err := k.Eval(e.Right, ctx)
		if err != nil {
			return value.Value{}, err
		}
		return value.Bool(r.Test()), nil
	case ExprCompare:
		l, err := k.Eval(e.Left, ctx)
		if err != nil {
			return value.Value{}, err
		}
		r, err := k.Eval(e.Right, ctx)
		if err != nil {
			return value.Value{}, err
		}
		return value.Bool(compare(e.Op, l, r)), nil
	}
	return value.Value{}, Errorf(KindInternal, "unknown expression kind %d", e.Kind)
}

// EvalAll evaluates each expression in order.
func (k *Kernel) EvalAll(es []*Expr, ctx *Context) ([]value.Value, error) {
	out := make([]value.Value, len(es))
	for i, e := range es {
		v, err := k.Eval(e, ctx)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func compare(op string, l, r value.Value) bool {
	switch op {
	case "==":
		return value.Equal(l, r)
	case "!=":
		return !value.Equal(l, r)
	case "<":
		return value.Less(l, r)
	case ">":
		return value.Less(r, l)
	case "<=":
		return value.Less(l, r) || value.Equal(l, r)
	case ">=":
		return value.Less(r, l) || value.Equal(l, r)
	case "in":
		return value.Contains(r, l)
	case "not in":
		return !value.Contains(r, l)
	}
	return false
}

func (k *Kernel) lookup(e *Expr, ctx *Context) (value.Value, error) {
	v, ok := ctx.Get(e.Path[0])
	for i := 1; ok && i < len(e.Path); i++ {
		v, ok = v.Attr(e.Path[i])
	}
	if ok {
		return v, nil
	}
	if k.opts.DefaultValue.Initialized() {
		return k.opts.DefaultValue, nil
	}
	return value.Value{}, &Error{Kind: KindMissing, Message: fmt.Sprintf("variable %q is not defined", e.Source)}
}

func (k *Kernel) evalFilter(e *Expr, ctx *Context) (value.Value, error) {
	in, err := k.Eval(e.Left, ctx)
	if err != nil {
		if !IsMissing(err) || !k.defaulting[e.Op] {
			return value.Value{}, err
		}
		in = value.None()
	}
	return k.callFilter(e, in, ctx)
}

func (k *Kernel) callFilter(e *Expr, in value.Value, ctx *Context) (value.Value, error) {
	var args []value.Value
	if e.Right != nil {
		arg, err := k.Eval(e.Right, ctx)
		if err != nil {
			return value.Value{}, err
		}
		args = []value.Value{arg}
	}
	out, err := e.Filter(in, args, ctx)
	if err != nil {
		var te *Error
		if errors.As(err, &te) {
			return value.Value{}, err
		}
		return value.Value{}, &Error{Kind: KindType, Tag: e.Op, Message: "filter failed", Cause: err}
	}
	return out, nil
}

// ApplyFilters evaluates the filter chain e with in substituted for its
// innermost operand. It serves tags that filter rendered text.
func (k *Kernel) ApplyFilters(e *Expr, in value.Value, ctx *Context) (value.Value, error) {
	if e.Kind != ExprFilter {
		return in, nil
	}
	base, err := k.ApplyFilters(e.Left, in, ctx)
	if err != nil {
		return value.Value{}, err
	}
	return k.callFilter(e, base, ctx)
}
