package kernel

import (
	"slices"
	"strings"
)

// ----------------------------- Parser ---------------------------------------

// Parser matches tokens against the kernel's tags by ordered alternation.
// Syntax functions use it to capture nested bodies.
type Parser struct {
	k     *Kernel
	r     *Result
	toks  []Token
	i     int
	stops [][]string
}

// Kernel returns the kernel being parsed for.
func (p *Parser) Kernel() *Kernel { return p.k }

// Result returns the template under construction. Its Root is set only
// after parsing finishes, so syntax functions may capture it for later use.
func (p *Parser) Result() *Result { return p.r }

// Library returns the template's library state.
func (p *Parser) Library() *LibraryState { return p.r.Library }

// Source returns the full template text.
func (p *Parser) Source() string { return p.r.Source }

// Peek returns the next token without consuming it.
func (p *Parser) Peek() (Token, bool) {
	if p.i >= len(p.toks) {
		return Token{}, false
	}
	return p.toks[p.i], true
}

func (p *Parser) parseAll() (Block, error) {
	body := make(Block, 0, 16)
	for p.i < len(p.toks) {
		t := p.toks[p.i]
		p.i++
		n, err := p.parseNode(t)
		if err != nil {
			return nil, err
		}
		body = append(body, n)
	}
	return body, nil
}

func (p *Parser) parseNode(t Token) (*Node, error) {
	mark := p.i
	for id, tag := range p.k.tags {
		p.i = mark
		n, err := tag.Syntax(p, t)
		if err != nil {
			return nil, locate(err, p.r.Name, p.r.Source, t.Pos)
		}
		if n == nil {
			continue
		}
		n.ID = id
		n.Pos = t.Pos
		if n.Name == "" {
			n.Name = t.Name()
		}
		return n, nil
	}
	p.i = mark
	return nil, locate(&Error{Kind: KindSyntax, Tag: t.Name(), Message: "unknown or malformed tag"},
		p.r.Name, p.r.Source, t.Pos)
}

func (p *Parser) stopAt(t Token, stop []string) bool {
	return t.Kind == TokenTag && slices.Contains(stop, t.Name())
}

// ParseBody parses nodes up to a tag named in stop, consumes that tag and
// returns it. Reaching the end of input is a syntax error.
func (p *Parser) ParseBody(stop ...string) (Block, Token, error) {
	p.stops = append(p.stops, stop)
	defer func() { p.stops = p.stops[:len(p.stops)-1] }()

	body := make(Block, 0, 8)
	for p.i < len(p.toks) {
		t := p.toks[p.i]
		if p.stopAt(t, stop) {
			p.i++
			return body, t, nil
		}
		p.i++
		n, err := p.parseNode(t)
		if err != nil {
			return nil, Token{}, err
		}
		body = append(body, n)
	}
	return nil, Token{}, Errorf(KindSyntax, "unclosed block, expected %s", strings.Join(stop, " or "))
}

// ParseRemainder parses the rest of the enclosing block without consuming
// its terminator. At top level it parses to the end of input.
func (p *Parser) ParseRemainder() (Block, error) {
	var stop []string
	if len(p.stops) > 0 {
		stop = p.stops[len(p.stops)-1]
	}
	body := make(Block, 0, 8)
	for p.i < len(p.toks) {
		t := p.toks[p.i]
		if p.stopAt(t, stop) {
			break
		}
		p.i++
		n, err := p.parseNode(t)
		if err != nil {
			return nil, err
		}
		body = append(body, n)
	}
	return body, nil
}

// RawUntil returns the source text up to the next tag named stop and
// consumes everything through that tag. Nothing in between is parsed.
func (p *Parser) RawUntil(stop string) (string, Token, error) {
	start := -1
	for p.i < len(p.toks) {
		t := p.toks[p.i]
		p.i++
		if start == -1 {
			start = t.Pos
		}
		if t.Kind == TokenTag && t.Name() == stop {
			return p.r.Source[start:t.Pos], t, nil
		}
	}
	return "", Token{}, Errorf(KindSyntax, "unclosed block, expected %s", stop)
}

// ParseExpr parses an expression, resolving filters against the loaded
// libraries first and the kernel's built-in filters second.
func (p *Parser) ParseExpr(src string) (*Expr, error) {
	return ParseExpr(src, p.lookupFilter)
}

// ParseExprs parses each field as its own expression.
func (p *Parser) ParseExprs(fields []string) ([]*Expr, error) {
	out := make([]*Expr, len(fields))
	for i, f := range fields {
		e, err := p.ParseExpr(f)
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

func (p *Parser) lookupFilter(name string) (Filter, bool) {
	if f, ok := p.r.Library.Filter(name); ok {
		return f, true
	}
	f, ok := p.k.opts.Filters[name]
	return f, ok
}
