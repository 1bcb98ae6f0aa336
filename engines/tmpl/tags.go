package tmpl

import (
	"fmt"
	"io"
	"net/url"
	"strings"
	"text/template"

	"github.com/oarkflow/synth/kernel"
	"github.com/oarkflow/synth/value"
)

func (e *Engine) tags() []kernel.Tag {
	return []kernel.Tag{
		{Name: "comment", Syntax: commentSyntax, Render: kernel.Noop},
		{Name: "else", Syntax: kernel.Nothing, Render: kernel.Noop},
		{Name: "if", Syntax: conditionalSyntax("if"), Render: conditionalRender(true)},
		{Name: "include", Syntax: includeSyntax, Render: includeRender},
		{Name: "loop", Syntax: loopSyntax, Render: loopRender},
		{Name: "unless", Syntax: conditionalSyntax("unless"), Render: conditionalRender(false)},
		{Name: "var", Syntax: e.varSyntax, Render: varRender},
	}
}

func isTag(t kernel.Token, name string) bool {
	return t.Kind == kernel.TokenTag && t.Name() == name
}

// params are the attributes of a tag: a bare or NAME= variable name,
// DEFAULT= and ESCAPE=. Attribute names are case-insensitive.
type params struct {
	name       string
	def        string
	hasDefault bool
	escape     string
}

func parseParams(t kernel.Token) (params, error) {
	var p params
	setName := func(name string) error {
		if p.name != "" {
			return &kernel.Error{Kind: kernel.KindSyntax, Tag: t.Name(), Message: fmt.Sprintf("more than one name: %q and %q", p.name, name)}
		}
		p.name = name
		return nil
	}
	for _, f := range kernel.Fields(t.Rest()) {
		key, val, ok := strings.Cut(f, "=")
		if !ok || kernel.IsQuoted(f) {
			if err := setName(kernel.Unquote(f)); err != nil {
				return p, err
			}
			continue
		}
		val = kernel.Unquote(val)
		switch strings.ToLower(key) {
		case "name":
			if err := setName(val); err != nil {
				return p, err
			}
		case "default":
			p.def, p.hasDefault = val, true
		case "escape":
			p.escape = strings.ToLower(val)
		default:
			return p, &kernel.Error{Kind: kernel.KindSyntax, Tag: t.Name(), Message: fmt.Sprintf("unknown attribute %q", key)}
		}
	}
	return p, nil
}

// lookup resolves a variable name case-insensitively, preferring an exact
// match.
func lookup(ctx *kernel.Context, name string) (value.Value, bool) {
	if v, ok := ctx.Get(name); ok {
		return v, true
	}
	for _, n := range ctx.Names() {
		if strings.EqualFold(n, name) {
			return ctx.Get(n)
		}
	}
	return value.Value{}, false
}

func escaper(mode string) (func(string) string, error) {
	switch strings.ToLower(mode) {
	case "none", "0":
		return func(s string) string { return s }, nil
	case "html", "1":
		return value.EscapeHTML, nil
	case "url":
		return url.QueryEscape, nil
	case "js":
		return template.JSEscapeString, nil
	}
	return nil, kernel.Errorf(kernel.KindType, "unknown escape mode %q", mode)
}

// ----------------------------- var ------------------------------------------

type varSpec struct {
	params
	esc func(string) string
}

func (e *Engine) varSyntax(_ *kernel.Parser, t kernel.Token) (*kernel.Node, error) {
	if !isTag(t, "var") {
		return nil, nil
	}
	p, err := parseParams(t)
	if err != nil {
		return nil, err
	}
	if p.name == "" {
		return nil, &kernel.Error{Kind: kernel.KindSyntax, Tag: "var", Message: "a variable name is required"}
	}
	mode := p.escape
	if mode == "" {
		mode = e.opts.DefaultEscape
	}
	esc, err := escaper(mode)
	if err != nil {
		return nil, &kernel.Error{Kind: kernel.KindSyntax, Tag: "var", Message: err.Error()}
	}
	return &kernel.Node{Text: p.name, Data: varSpec{params: p, esc: esc}}, nil
}

// varRender writes the variable, its default, or nothing when missing.
func varRender(_ *kernel.Kernel, _ *kernel.Result, n *kernel.Node, ctx *kernel.Context, w io.Writer) error {
	spec := n.Data.(varSpec)
	out := ""
	if v, ok := lookup(ctx, n.Text); ok {
		out = v.String()
	} else if spec.hasDefault {
		out = spec.def
	}
	_, err := io.WriteString(w, spec.esc(out))
	return err
}

// ----------------------------- if and unless --------------------------------

func conditionalSyntax(name string) kernel.SyntaxFunc {
	end := "/" + name
	return func(p *kernel.Parser, t kernel.Token) (*kernel.Node, error) {
		if !isTag(t, name) {
			return nil, nil
		}
		attrs, err := parseParams(t)
		if err != nil {
			return nil, err
		}
		body, stop, err := p.ParseBody("else", end)
		if err != nil {
			return nil, err
		}
		n := &kernel.Node{Text: attrs.name, Blocks: []kernel.Block{body}}
		if stop.Name() == "else" {
			els, _, err := p.ParseBody(end)
			if err != nil {
				return nil, err
			}
			n.Blocks = append(n.Blocks, els)
		}
		return n, nil
	}
}

// conditionalRender renders the first block when the variable's truth
// equals want. Missing variables are false.
func conditionalRender(want bool) kernel.RenderFunc {
	return func(k *kernel.Kernel, r *kernel.Result, n *kernel.Node, ctx *kernel.Context, w io.Writer) error {
		if n.Text == "" {
			return &kernel.Error{Kind: kernel.KindType, Tag: n.Name, Message: "a variable name is required"}
		}
		v, ok := lookup(ctx, n.Text)
		if (ok && v.Test()) == want {
			return k.RenderBlock(r, n.Block(0), ctx, w)
		}
		return k.RenderBlock(r, n.Block(1), ctx, w)
	}
}

// ----------------------------- loop -----------------------------------------

func loopSyntax(p *kernel.Parser, t kernel.Token) (*kernel.Node, error) {
	if !isTag(t, "loop") {
		return nil, nil
	}
	attrs, err := parseParams(t)
	if err != nil {
		return nil, err
	}
	body, _, err := p.ParseBody("/loop")
	if err != nil {
		return nil, err
	}
	return &kernel.Node{Text: attrs.name, Blocks: []kernel.Block{body}}, nil
}

func flag(b bool) value.Value {
	if b {
		return value.Int(1)
	}
	return value.Int(0)
}

// loopRender renders the body once per item. Mapping items contribute their
// keys to a copy of the enclosing scope, alongside the loop variables.
func loopRender(k *kernel.Kernel, r *kernel.Result, n *kernel.Node, ctx *kernel.Context, w io.Writer) error {
	if n.Text == "" {
		return &kernel.Error{Kind: kernel.KindType, Tag: "loop", Message: "a variable name is required"}
	}
	v, ok := lookup(ctx, n.Text)
	if !ok || v.IsNone() {
		return nil
	}
	items, err := v.Items()
	if err != nil {
		return kernel.Wrap(err, "loop over "+n.Text)
	}
	size := len(items)
	for i, item := range items {
		scope := ctx.Copy()
		if item.Kind() == value.KindMapping {
			keys, err := item.Items()
			if err != nil {
				return kernel.Wrap(err, "loop item")
			}
			for _, key := range keys {
				if field, ok := item.Index(key); ok {
					scope.Set(key.String(), field)
				}
			}
		}
		first, last := i == 0, i == size-1
		scope.Set("__SIZE__", value.Int(int64(size)))
		scope.Set("__TOTAL__", value.Int(int64(size)))
		scope.Set("__FIRST__", flag(first))
		scope.Set("__LAST__", flag(last))
		scope.Set("__INNER__", flag(!first && !last))
		scope.Set("__OUTER__", flag(first || last))
		scope.Set("__ODD__", flag(i%2 == 0))
		scope.Set("__EVEN__", flag(i%2 == 1))
		scope.Set("__COUNTER__", value.Int(int64(i+1)))
		if err := k.RenderBlock(r, n.Block(0), scope, w); err != nil {
			return err
		}
	}
	return nil
}

// ----------------------------- include and comment --------------------------

func includeSyntax(_ *kernel.Parser, t kernel.Token) (*kernel.Node, error) {
	if !isTag(t, "include") {
		return nil, nil
	}
	p, err := parseParams(t)
	if err != nil {
		return nil, err
	}
	if p.name == "" {
		return nil, &kernel.Error{Kind: kernel.KindSyntax, Tag: "include", Message: "a file name is required"}
	}
	return &kernel.Node{Text: p.name}, nil
}

func includeRender(k *kernel.Kernel, _ *kernel.Result, n *kernel.Node, ctx *kernel.Context, w io.Writer) error {
	return k.RenderPath(n.Text, ctx, w)
}

func commentSyntax(p *kernel.Parser, t kernel.Token) (*kernel.Node, error) {
	if !isTag(t, "comment") {
		return nil, nil
	}
	if _, _, err := p.RawUntil("/comment"); err != nil {
		return nil, err
	}
	return &kernel.Node{}, nil
}
