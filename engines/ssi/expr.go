package ssi

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/oarkflow/synth/kernel"
)

// cond is a parsed if/elif expression.
type cond interface {
	eval(lookup func(string) string) (bool, error)
}

type (
	notCond struct{ x cond }
	andCond struct{ l, r cond }
	orCond  struct{ l, r cond }
	// strCond is true when its substituted text is non-empty.
	strCond struct{ s string }
	cmpCond struct {
		op   string
		l, r string
		// re is set when r is a /regex/ and op is = or !=.
		re bool
	}
)

func (c notCond) eval(lookup func(string) string) (bool, error) {
	b, err := c.x.eval(lookup)
	return !b, err
}

func (c andCond) eval(lookup func(string) string) (bool, error) {
	b, err := c.l.eval(lookup)
	if err != nil || !b {
		return false, err
	}
	return c.r.eval(lookup)
}

func (c orCond) eval(lookup func(string) string) (bool, error) {
	b, err := c.l.eval(lookup)
	if err != nil || b {
		return b, err
	}
	return c.r.eval(lookup)
}

func (c strCond) eval(lookup func(string) string) (bool, error) {
	return substitute(c.s, lookup) != "", nil
}

func (c cmpCond) eval(lookup func(string) string) (bool, error) {
	l := substitute(c.l, lookup)
	r := substitute(c.r, lookup)
	if c.re {
		re, err := regexp.Compile(r)
		if err != nil {
			return false, err
		}
		return re.MatchString(l) == (c.op == "="), nil
	}
	cmp := strings.Compare(l, r)
	switch c.op {
	case "=":
		return cmp == 0, nil
	case "!=":
		return cmp != 0, nil
	case "<":
		return cmp < 0, nil
	case "<=":
		return cmp <= 0, nil
	case ">":
		return cmp > 0, nil
	case ">=":
		return cmp >= 0, nil
	}
	return false, fmt.Errorf("unknown operator %q", c.op)
}

// ----------------------------- Lexing ---------------------------------------

type condToken struct {
	op    string // operator or parenthesis; empty for strings
	text  string
	regex bool
}

func lexCond(src string) ([]condToken, error) {
	var toks []condToken
	var words []string
	flush := func() {
		if len(words) > 0 {
			toks = append(toks, condToken{text: strings.Join(words, " ")})
			words = nil
		}
	}
	for i := 0; i < len(src); {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(' || c == ')':
			flush()
			toks = append(toks, condToken{op: string(c)})
			i++
		case strings.HasPrefix(src[i:], "&&"), strings.HasPrefix(src[i:], "||"),
			strings.HasPrefix(src[i:], "!="), strings.HasPrefix(src[i:], "<="),
			strings.HasPrefix(src[i:], ">="):
			flush()
			toks = append(toks, condToken{op: src[i : i+2]})
			i += 2
		case c == '!' || c == '=' || c == '<' || c == '>':
			flush()
			toks = append(toks, condToken{op: string(c)})
			i++
		case c == '\'' || c == '"':
			end := strings.IndexByte(src[i+1:], c)
			if end < 0 {
				return nil, fmt.Errorf("unterminated string in %q", src)
			}
			words = append(words, src[i+1:i+1+end])
			i += end + 2
		case c == '/':
			flush()
			end := strings.IndexByte(src[i+1:], '/')
			if end < 0 {
				return nil, fmt.Errorf("unterminated regular expression in %q", src)
			}
			toks = append(toks, condToken{text: src[i+1 : i+1+end], regex: true})
			i += end + 2
		default:
			j := i
			for j < len(src) && !strings.ContainsRune(" \t\n\r()!=<>&|'\"", rune(src[j])) {
				if src[j] == '\\' && j+1 < len(src) {
					j++
				}
				j++
			}
			if j == i {
				return nil, fmt.Errorf("unexpected %q in %q", c, src)
			}
			words = append(words, src[i:j])
			i = j
		}
	}
	flush()
	return toks, nil
}

// ----------------------------- Parsing --------------------------------------

type condParser struct {
	toks []condToken
	i    int
}

// parseCond parses an if expression: strings, comparisons (= != < <= > >=,
// with /regex/ on the right of = and !=), ! && || and parentheses.
func parseCond(src string) (cond, error) {
	toks, err := lexCond(src)
	if err != nil {
		return nil, kernel.Errorf(kernel.KindSyntax, "%v", err)
	}
	if len(toks) == 0 {
		return nil, kernel.Errorf(kernel.KindSyntax, "empty expression")
	}
	p := &condParser{toks: toks}
	c, err := p.or()
	if err != nil {
		return nil, err
	}
	if p.i < len(p.toks) {
		return nil, kernel.Errorf(kernel.KindSyntax, "unexpected trailing tokens in %q", src)
	}
	return c, nil
}

func (p *condParser) peek(op string) bool {
	return p.i < len(p.toks) && p.toks[p.i].op == op
}

func (p *condParser) or() (cond, error) {
	l, err := p.and()
	if err != nil {
		return nil, err
	}
	for p.peek("||") {
		p.i++
		r, err := p.and()
		if err != nil {
			return nil, err
		}
		l = orCond{l, r}
	}
	return l, nil
}

func (p *condParser) and() (cond, error) {
	l, err := p.unary()
	if err != nil {
		return nil, err
	}
	for p.peek("&&") {
		p.i++
		r, err := p.unary()
		if err != nil {
			return nil, err
		}
		l = andCond{l, r}
	}
	return l, nil
}

func (p *condParser) unary() (cond, error) {
	if p.peek("!") {
		p.i++
		x, err := p.unary()
		if err != nil {
			return nil, err
		}
		return notCond{x}, nil
	}
	return p.primary()
}

func (p *condParser) primary() (cond, error) {
	if p.i >= len(p.toks) {
		return nil, kernel.Errorf(kernel.KindSyntax, "expression ends early")
	}
	if p.peek("(") {
		p.i++
		c, err := p.or()
		if err != nil {
			return nil, err
		}
		if !p.peek(")") {
			return nil, kernel.Errorf(kernel.KindSyntax, "missing )")
		}
		p.i++
		return c, nil
	}
	t := p.toks[p.i]
	if t.op != "" || t.regex {
		return nil, kernel.Errorf(kernel.KindSyntax, "expected a string, got %q", t.op+t.text)
	}
	p.i++
	if p.i < len(p.toks) {
		switch op := p.toks[p.i].op; op {
		case "=", "!=", "<", "<=", ">", ">=":
			p.i++
			if p.i >= len(p.toks) || p.toks[p.i].op != "" {
				return nil, kernel.Errorf(kernel.KindSyntax, "operator %s needs a right operand", op)
			}
			r := p.toks[p.i]
			p.i++
			if r.regex && op != "=" && op != "!=" {
				return nil, kernel.Errorf(kernel.KindSyntax, "regular expressions only compare with = or !=")
			}
			return cmpCond{op: op, l: t.text, r: r.text, re: r.regex}, nil
		}
	}
	return strCond{t.text}, nil
}

// ----------------------------- Substitution ---------------------------------

// substitute expands $name and ${name}; \$ yields a literal dollar.
func substitute(s string, lookup func(string) string) string {
	if !strings.ContainsAny(s, "$\\") {
		return s
	}
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\\' && i+1 < len(s) && s[i+1] == '$':
			sb.WriteByte('$')
			i++
		case c == '$' && i+1 < len(s) && s[i+1] == '{':
			end := strings.IndexByte(s[i+2:], '}')
			if end < 0 {
				sb.WriteString(s[i:])
				return sb.String()
			}
			sb.WriteString(lookup(s[i+2 : i+2+end]))
			i += end + 2
		case c == '$':
			j := i + 1
			for j < len(s) && isNameByte(s[j]) {
				j++
			}
			if j == i+1 {
				sb.WriteByte(c)
				continue
			}
			sb.WriteString(lookup(s[i+1 : j]))
			i = j - 1
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

func isNameByte(c byte) bool {
	return c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}
