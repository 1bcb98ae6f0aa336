package django

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/oarkflow/synth/kernel"
	"github.com/oarkflow/synth/value"
)

// tags returns the built-in tag table in registration order.
func (e *Engine) tags() []kernel.Tag {
	return []kernel.Tag{
		{Name: "autoescape", Syntax: autoescapeSyntax, Render: autoescapeRender},
		{Name: "block", Syntax: blockSyntax, Render: blockRender},
		{Name: "comment", Syntax: commentSyntax, Render: kernel.Noop},
		{Name: "csrf_token", Syntax: reserved("csrf_token"), Render: e.csrfTokenRender},
		{Name: "cycle", Syntax: cycleSyntax, Render: cycleRender},
		{Name: "cycle_as", Syntax: kernel.Nothing, Render: kernel.Noop},
		{Name: "cycle_as_silent", Syntax: kernel.Nothing, Render: kernel.Noop},
		{Name: "debug", Syntax: reserved("debug"), Render: debugRender},
		{Name: "extends", Syntax: extendsSyntax, Render: extendsRender},
		{Name: "filter", Syntax: filterSyntax, Render: filterRender},
		{Name: "firstof", Syntax: firstofSyntax, Render: firstofRender},
		{Name: "for", Syntax: forSyntax, Render: forRender},
		{Name: "for_empty", Syntax: kernel.Nothing, Render: kernel.Noop},
		{Name: "if", Syntax: ifSyntax, Render: ifRender},
		{Name: "ifchanged", Syntax: ifchangedSyntax, Render: ifchangedRender},
		{Name: "ifequal", Syntax: ifequalSyntax("ifequal"), Render: ifequalRender(true)},
		{Name: "ifnotequal", Syntax: ifequalSyntax("ifnotequal"), Render: ifequalRender(false)},
		{Name: "include", Syntax: includeSyntax, Render: includeRender},
		{Name: "include_with", Syntax: kernel.Nothing, Render: kernel.Noop},
		{Name: "include_with_only", Syntax: kernel.Nothing, Render: kernel.Noop},
		{Name: "load", Syntax: loadSyntax, Render: kernel.Noop},
		{Name: "load_from", Syntax: loadFromSyntax, Render: kernel.Noop},
		{Name: "now", Syntax: nowSyntax, Render: e.nowRender},
		{Name: "regroup", Syntax: regroupSyntax, Render: regroupRender},
		{Name: "spaceless", Syntax: spacelessSyntax, Render: spacelessRender},
		{Name: "ssi", Syntax: ssiSyntax, Render: ssiRender},
		{Name: "templatetag", Syntax: templatetagSyntax, Render: textRender},
		{Name: "url", Syntax: urlSyntax, Render: e.urlRender},
		{Name: "url_as", Syntax: kernel.Nothing, Render: kernel.Noop},
		{Name: "variable", Syntax: variableSyntax, Render: variableRender},
		{Name: "verbatim", Syntax: verbatimSyntax, Render: textRender},
		{Name: "widthratio", Syntax: widthratioSyntax, Render: widthratioRender},
		{Name: "with", Syntax: withSyntax, Render: withRender},
		kernel.LibraryTag,
	}
}

// ----------------------------- helpers --------------------------------------

func isTag(t kernel.Token, name string) bool {
	return t.Kind == kernel.TokenTag && t.Name() == name
}

func reserved(name string) kernel.SyntaxFunc {
	return func(_ *kernel.Parser, t kernel.Token) (*kernel.Node, error) {
		if !isTag(t, name) || t.Rest() != "" {
			return nil, nil
		}
		return &kernel.Node{}, nil
	}
}

func syntaxErr(tag, format string, args ...any) error {
	return &kernel.Error{Kind: kernel.KindSyntax, Tag: tag, Message: fmt.Sprintf(format, args...)}
}

func usageErr(tag, format string, args ...any) error {
	return &kernel.Error{Kind: kernel.KindType, Tag: tag, Message: fmt.Sprintf(format, args...)}
}

// output writes v, escaping it when autoescape is on and v is not safe.
func output(ctx *kernel.Context, w io.Writer, v value.Value) error {
	if ctx.Autoescape() && !v.Safe() {
		return value.WriteEscapedHTML(w, v.String())
	}
	_, err := io.WriteString(w, v.String())
	return err
}

func textRender(_ *kernel.Kernel, _ *kernel.Result, n *kernel.Node, _ *kernel.Context, w io.Writer) error {
	_, err := io.WriteString(w, n.Text)
	return err
}

func position(r *kernel.Result, n *kernel.Node) kernel.Position {
	return kernel.Position{Template: r.Name, Offset: n.Pos}
}

// ----------------------------- autoescape -----------------------------------

func autoescapeSyntax(p *kernel.Parser, t kernel.Token) (*kernel.Node, error) {
	if !isTag(t, "autoescape") {
		return nil, nil
	}
	n := &kernel.Node{}
	switch t.Rest() {
	case "on":
		n.Flag = true
	case "off":
	default:
		return nil, syntaxErr("autoescape", "setting must be on or off, got %q", t.Rest())
	}
	body, _, err := p.ParseBody("endautoescape")
	if err != nil {
		return nil, err
	}
	n.Blocks = []kernel.Block{body}
	return n, nil
}

func autoescapeRender(k *kernel.Kernel, r *kernel.Result, n *kernel.Node, ctx *kernel.Context, w io.Writer) error {
	prev := ctx.SetAutoescape(n.Flag)
	defer ctx.SetAutoescape(prev)
	return k.RenderBlock(r, n.Block(0), ctx, w)
}

// ----------------------------- block ----------------------------------------

func blockSyntax(p *kernel.Parser, t kernel.Token) (*kernel.Node, error) {
	if !isTag(t, "block") {
		return nil, nil
	}
	name := t.Rest()
	if name == "" || len(kernel.Fields(name)) != 1 {
		return nil, syntaxErr("block", "expected exactly one block name")
	}
	body, end, err := p.ParseBody("endblock")
	if err != nil {
		return nil, err
	}
	return &kernel.Node{Args: []string{name, end.Rest()}, Blocks: []kernel.Block{body}}, nil
}

func blockRender(k *kernel.Kernel, r *kernel.Result, n *kernel.Node, ctx *kernel.Context, w io.Writer) error {
	name, closing := n.Args[0], n.Args[1]
	if closing != "" && closing != name {
		return syntaxErr("block", "mismatched endblock %q for block %q", closing, name)
	}
	return k.RenderOverridable(r, name, n.Block(0), ctx, w)
}

// ----------------------------- comment --------------------------------------

func commentSyntax(p *kernel.Parser, t kernel.Token) (*kernel.Node, error) {
	if t.Kind == kernel.TokenComment {
		return &kernel.Node{Name: "comment"}, nil
	}
	if !isTag(t, "comment") {
		return nil, nil
	}
	text, _, err := p.RawUntil("endcomment")
	if err != nil {
		return nil, err
	}
	return &kernel.Node{Text: text}, nil
}

// ----------------------------- csrf_token -----------------------------------

func (e *Engine) csrfTokenRender(_ *kernel.Kernel, _ *kernel.Result, _ *kernel.Node, ctx *kernel.Context, w io.Writer) error {
	token, ok := ctx.Get(e.opts.CSRFTokenName)
	if !ok {
		return nil
	}
	s := value.EscapeHTML(token.String())
	if s == "NOTPROVIDED" {
		return nil
	}
	_, err := fmt.Fprintf(w, "<div style='display:none'><input type='hidden' name='csrfmiddlewaretoken' value='%s' /></div>", s)
	return err
}

// ----------------------------- cycle ----------------------------------------

func cycleSyntax(p *kernel.Parser, t kernel.Token) (*kernel.Node, error) {
	if !isTag(t, "cycle") {
		return nil, nil
	}
	fields := kernel.Fields(t.Rest())
	n := &kernel.Node{}
	switch l := len(fields); {
	case l >= 4 && fields[l-3] == "as" && fields[l-1] == "silent":
		n.Text, n.Flag = fields[l-2], true
		fields = fields[:l-3]
	case l >= 3 && fields[l-2] == "as":
		n.Text = fields[l-1]
		fields = fields[:l-2]
	}
	if len(fields) == 0 {
		return nil, syntaxErr("cycle", "expected at least one value")
	}
	values, err := p.ParseExprs(fields)
	if err != nil {
		return nil, err
	}
	n.Values = values
	if n.Text != "" {
		// The named form owns the rest of the enclosing block.
		body, err := p.ParseRemainder()
		if err != nil {
			return nil, err
		}
		n.Blocks = []kernel.Block{body}
	}
	return n, nil
}

func cycleRender(k *kernel.Kernel, r *kernel.Result, n *kernel.Node, ctx *kernel.Context, w io.Writer) error {
	idx := ctx.Cycle(position(r, n), len(n.Values))
	v, err := k.Eval(n.Values[idx], ctx)
	if err != nil {
		return err
	}
	if n.Text == "" {
		return output(ctx, w, v)
	}
	if !n.Flag {
		if err := output(ctx, w, v); err != nil {
			return err
		}
	}
	scope := ctx.Copy()
	scope.Set(n.Text, v)
	return k.RenderBlock(r, n.Block(0), scope, w)
}

// ----------------------------- debug ----------------------------------------

func debugRender(_ *kernel.Kernel, _ *kernel.Result, _ *kernel.Node, ctx *kernel.Context, w io.Writer) error {
	var sb strings.Builder
	sb.WriteString("<h1>Context:</h1>\n")
	for _, name := range ctx.Names() {
		v, _ := ctx.Get(name)
		fmt.Fprintf(&sb, "    %s = %s<br />\n", value.EscapeHTML(name), v.Escape())
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

// ----------------------------- extends --------------------------------------

func extendsSyntax(p *kernel.Parser, t kernel.Token) (*kernel.Node, error) {
	if !isTag(t, "extends") {
		return nil, nil
	}
	fields := kernel.Fields(t.Rest())
	if len(fields) != 1 {
		return nil, syntaxErr("extends", "expected exactly one parent template")
	}
	parent, err := p.ParseExpr(fields[0])
	if err != nil {
		return nil, err
	}
	body, err := p.ParseRemainder()
	if err != nil {
		return nil, err
	}
	return &kernel.Node{Values: []*kernel.Expr{parent}, Blocks: []kernel.Block{body}}, nil
}

func extendsRender(k *kernel.Kernel, r *kernel.Result, n *kernel.Node, ctx *kernel.Context, w io.Writer) error {
	parent, err := k.Eval(n.Values[0], ctx)
	if err != nil {
		return err
	}
	return k.Extend(r, parent.String(), n.Block(0), ctx, w)
}

// ----------------------------- filter ---------------------------------------

func filterSyntax(p *kernel.Parser, t kernel.Token) (*kernel.Node, error) {
	if !isTag(t, "filter") {
		return nil, nil
	}
	if t.Rest() == "" {
		return nil, syntaxErr("filter", "expected at least one filter")
	}
	chain, err := p.ParseExpr("_|" + t.Rest())
	if err != nil {
		return nil, err
	}
	body, _, err := p.ParseBody("endfilter")
	if err != nil {
		return nil, err
	}
	return &kernel.Node{Values: []*kernel.Expr{chain}, Blocks: []kernel.Block{body}}, nil
}

func filterRender(k *kernel.Kernel, r *kernel.Result, n *kernel.Node, ctx *kernel.Context, w io.Writer) error {
	text, err := k.RenderString(r, n.Block(0), ctx)
	if err != nil {
		return err
	}
	v, err := k.ApplyFilters(n.Values[0], value.String(text), ctx)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, v.String())
	return err
}

// ----------------------------- firstof --------------------------------------

func firstofSyntax(p *kernel.Parser, t kernel.Token) (*kernel.Node, error) {
	if !isTag(t, "firstof") {
		return nil, nil
	}
	fields := kernel.Fields(t.Rest())
	if len(fields) == 0 {
		return nil, syntaxErr("firstof", "expected at least one value")
	}
	values, err := p.ParseExprs(fields)
	if err != nil {
		return nil, err
	}
	return &kernel.Node{Values: values}, nil
}

func firstofRender(k *kernel.Kernel, _ *kernel.Result, n *kernel.Node, ctx *kernel.Context, w io.Writer) error {
	for _, e := range n.Values {
		v, err := k.Eval(e, ctx)
		if kernel.IsMissing(err) {
			// Missing candidates count as false ones.
			continue
		}
		if err != nil {
			return err
		}
		if v.Test() {
			return output(ctx, w, v)
		}
	}
	return nil
}

// ----------------------------- for ------------------------------------------

func forSyntax(p *kernel.Parser, t kernel.Token) (*kernel.Node, error) {
	if !isTag(t, "for") {
		return nil, nil
	}
	fields := kernel.Fields(t.Rest())
	n := &kernel.Node{}
	if l := len(fields); l > 0 && fields[l-1] == "reversed" {
		n.Flag = true
		fields = fields[:l-1]
	}
	in := slices.Index(fields, "in")
	if in < 1 || in != len(fields)-2 {
		return nil, syntaxErr("for", "expected 'for x in sequence'")
	}
	for _, v := range strings.Split(strings.Join(fields[:in], " "), ",") {
		if v = kernel.Trim(v); v != "" {
			n.Args = append(n.Args, v)
		}
	}
	if len(n.Args) == 0 {
		return nil, syntaxErr("for", "expected at least one loop variable")
	}
	seq, err := p.ParseExpr(fields[in+1])
	if err != nil {
		return nil, err
	}
	n.Values = []*kernel.Expr{seq}

	body, end, err := p.ParseBody("empty", "endfor")
	if err != nil {
		return nil, err
	}
	n.Blocks = []kernel.Block{body}
	if end.Name() == "empty" {
		empty, _, err := p.ParseBody("endfor")
		if err != nil {
			return nil, err
		}
		n.Blocks = append(n.Blocks, empty)
	}
	return n, nil
}

func forRender(k *kernel.Kernel, r *kernel.Result, n *kernel.Node, ctx *kernel.Context, w io.Writer) error {
	seq, err := k.Eval(n.Values[0], ctx)
	if err != nil {
		return err
	}
	var items []value.Value
	if !seq.IsNone() {
		if items, err = seq.Items(); err != nil {
			return kernel.Wrap(err, "for: cannot iterate "+n.Values[0].Source)
		}
	}
	if len(items) == 0 {
		return k.RenderBlock(r, n.Block(1), ctx, w)
	}
	if n.Flag {
		slices.Reverse(items)
	}

	defaultValue := k.Options().DefaultValue
	parent, hasParent := ctx.Get("forloop")
	scope := ctx.Copy()
	// ifchanged compares against earlier passes of this loop only.
	n.Block(0).Walk(func(c *kernel.Node) bool {
		scope.ForgetChange(position(r, c))
		return true
	})
	total := len(items)
	for i, item := range items {
		if len(n.Args) == 1 {
			scope.Set(n.Args[0], item)
		} else {
			parts, err := item.Items()
			if err != nil {
				return kernel.Wrap(err, "for: cannot unpack "+item.String())
			}
			for j, name := range n.Args {
				switch {
				case j < len(parts):
					scope.Set(name, parts[j])
				case defaultValue.Initialized():
					scope.Set(name, defaultValue)
				default:
					return &kernel.Error{Kind: kernel.KindMissing, Tag: "for",
						Message: fmt.Sprintf("cannot unpack %d values into %d variables", len(parts), len(n.Args))}
				}
			}
		}
		loop := map[string]value.Value{
			"counter":     value.Int(int64(i + 1)),
			"counter0":    value.Int(int64(i)),
			"revcounter":  value.Int(int64(total - i)),
			"revcounter0": value.Int(int64(total - i - 1)),
			"first":       value.Bool(i == 0),
			"last":        value.Bool(i == total-1),
		}
		if hasParent {
			loop["parentloop"] = parent
		}
		scope.Set("forloop", value.Map(loop))
		if err := k.RenderBlock(r, n.Block(0), scope, w); err != nil {
			return err
		}
	}
	return nil
}

// ----------------------------- if -------------------------------------------

func ifSyntax(p *kernel.Parser, t kernel.Token) (*kernel.Node, error) {
	if !isTag(t, "if") {
		return nil, nil
	}
	n := &kernel.Node{}
	cond := t.Rest()
	for {
		e, err := p.ParseExpr(cond)
		if err != nil {
			return nil, err
		}
		n.Values = append(n.Values, e)
		body, end, err := p.ParseBody("elif", "else", "endif")
		if err != nil {
			return nil, err
		}
		n.Blocks = append(n.Blocks, body)
		switch end.Name() {
		case "elif":
			cond = end.Rest()
			continue
		case "else":
			els, _, err := p.ParseBody("endif")
			if err != nil {
				return nil, err
			}
			n.Blocks = append(n.Blocks, els)
		}
		return n, nil
	}
}

func ifRender(k *kernel.Kernel, r *kernel.Result, n *kernel.Node, ctx *kernel.Context, w io.Writer) error {
	for i, cond := range n.Values {
		v, err := k.Eval(cond, ctx)
		if err != nil {
			return err
		}
		if v.Test() {
			return k.RenderBlock(r, n.Block(i), ctx, w)
		}
	}
	return k.RenderBlock(r, n.Block(len(n.Values)), ctx, w)
}

// ----------------------------- ifchanged ------------------------------------

func ifchangedSyntax(p *kernel.Parser, t kernel.Token) (*kernel.Node, error) {
	if !isTag(t, "ifchanged") {
		return nil, nil
	}
	values, err := p.ParseExprs(kernel.Fields(t.Rest()))
	if err != nil {
		return nil, err
	}
	n := &kernel.Node{Values: values}
	body, end, err := p.ParseBody("else", "endifchanged")
	if err != nil {
		return nil, err
	}
	n.Blocks = []kernel.Block{body}
	if end.Name() == "else" {
		els, _, err := p.ParseBody("endifchanged")
		if err != nil {
			return nil, err
		}
		n.Blocks = append(n.Blocks, els)
	}
	return n, nil
}

func ifchangedRender(k *kernel.Kernel, r *kernel.Result, n *kernel.Node, ctx *kernel.Context, w io.Writer) error {
	pos := position(r, n)
	if len(n.Values) > 0 {
		snapshot := make(map[string]value.Value, len(n.Values))
		for _, e := range n.Values {
			v, err := k.Eval(e, ctx)
			if err != nil {
				return err
			}
			snapshot[e.Source] = v
		}
		if ctx.Changed(pos, value.Map(snapshot)) {
			return k.RenderBlock(r, n.Block(0), ctx, w)
		}
		return k.RenderBlock(r, n.Block(1), ctx, w)
	}

	text, err := k.RenderString(r, n.Block(0), ctx)
	if err != nil {
		return err
	}
	if ctx.Changed(pos, value.String(text)) {
		_, err = io.WriteString(w, text)
		return err
	}
	return k.RenderBlock(r, n.Block(1), ctx, w)
}

// ----------------------------- ifequal / ifnotequal -------------------------

func ifequalSyntax(name string) kernel.SyntaxFunc {
	return func(p *kernel.Parser, t kernel.Token) (*kernel.Node, error) {
		if !isTag(t, name) {
			return nil, nil
		}
		fields := kernel.Fields(t.Rest())
		if len(fields) != 2 {
			return nil, syntaxErr(name, "expected exactly two values")
		}
		values, err := p.ParseExprs(fields)
		if err != nil {
			return nil, err
		}
		n := &kernel.Node{Values: values}
		body, end, err := p.ParseBody("else", "end"+name)
		if err != nil {
			return nil, err
		}
		n.Blocks = []kernel.Block{body}
		if end.Name() == "else" {
			els, _, err := p.ParseBody("end" + name)
			if err != nil {
				return nil, err
			}
			n.Blocks = append(n.Blocks, els)
		}
		return n, nil
	}
}

func ifequalRender(want bool) kernel.RenderFunc {
	return func(k *kernel.Kernel, r *kernel.Result, n *kernel.Node, ctx *kernel.Context, w io.Writer) error {
		values, err := k.EvalAll(n.Values, ctx)
		if err != nil {
			return err
		}
		if value.Equal(values[0], values[1]) == want {
			return k.RenderBlock(r, n.Block(0), ctx, w)
		}
		return k.RenderBlock(r, n.Block(1), ctx, w)
	}
}

// ----------------------------- include --------------------------------------

func includeSyntax(p *kernel.Parser, t kernel.Token) (*kernel.Node, error) {
	if !isTag(t, "include") {
		return nil, nil
	}
	fields := kernel.Fields(t.Rest())
	if len(fields) == 0 {
		return nil, syntaxErr("include", "expected a template name")
	}
	n := &kernel.Node{}
	if l := len(fields); l > 1 && fields[l-1] == "only" {
		n.Flag = true
		fields = fields[:l-1]
	}
	name, err := p.ParseExpr(fields[0])
	if err != nil {
		return nil, err
	}
	n.Values = []*kernel.Expr{name}
	rest := fields[1:]
	if len(rest) > 0 {
		if rest[0] != "with" || len(rest) == 1 {
			return nil, syntaxErr("include", "expected 'with name=value ...'")
		}
		named, err := parseAssignments(p, rest[1:])
		if err != nil {
			return nil, err
		}
		n.Named = named
	}
	return n, nil
}

func parseAssignments(p *kernel.Parser, fields []string) ([]kernel.NamedExpr, error) {
	out := make([]kernel.NamedExpr, 0, len(fields))
	for _, f := range fields {
		key, val, ok := strings.Cut(f, "=")
		if !ok || key == "" || val == "" {
			return nil, syntaxErr("with", "expected name=value, got %q", f)
		}
		e, err := p.ParseExpr(val)
		if err != nil {
			return nil, err
		}
		out = append(out, kernel.NamedExpr{Name: key, Expr: e})
	}
	return out, nil
}

func includeRender(k *kernel.Kernel, _ *kernel.Result, n *kernel.Node, ctx *kernel.Context, w io.Writer) error {
	name, err := k.Eval(n.Values[0], ctx)
	if err != nil {
		return err
	}
	scope := ctx.IncludeScope(n.Flag)
	for _, a := range n.Named {
		v, err := k.Eval(a.Expr, ctx)
		if err != nil {
			return err
		}
		scope.Set(a.Name, v)
	}
	return k.RenderPath(name.String(), scope, w)
}

// ----------------------------- load -----------------------------------------

func loadSyntax(p *kernel.Parser, t kernel.Token) (*kernel.Node, error) {
	if !isTag(t, "load") {
		return nil, nil
	}
	fields := kernel.Fields(t.Rest())
	if len(fields) == 0 || slices.Contains(fields, "from") {
		return nil, nil
	}
	for _, lib := range fields {
		if err := p.Library().Load(kernel.Unquote(lib)); err != nil {
			return nil, err
		}
	}
	return &kernel.Node{Args: fields}, nil
}

func loadFromSyntax(p *kernel.Parser, t kernel.Token) (*kernel.Node, error) {
	if !isTag(t, "load") {
		return nil, nil
	}
	fields := kernel.Fields(t.Rest())
	from := slices.Index(fields, "from")
	if from < 1 || from != len(fields)-2 {
		return nil, syntaxErr("load", "expected 'load name ... from library'")
	}
	if err := p.Library().Load(kernel.Unquote(fields[from+1]), fields[:from]...); err != nil {
		return nil, err
	}
	return &kernel.Node{Args: fields}, nil
}

// ----------------------------- now ------------------------------------------

func nowSyntax(p *kernel.Parser, t kernel.Token) (*kernel.Node, error) {
	if !isTag(t, "now") {
		return nil, nil
	}
	fields := kernel.Fields(t.Rest())
	if len(fields) != 1 {
		return nil, syntaxErr("now", "expected a format string")
	}
	f, err := p.ParseExpr(fields[0])
	if err != nil {
		return nil, err
	}
	return &kernel.Node{Values: []*kernel.Expr{f}}, nil
}

func (e *Engine) nowRender(k *kernel.Kernel, _ *kernel.Result, n *kernel.Node, ctx *kernel.Context, w io.Writer) error {
	format, err := k.Eval(n.Values[0], ctx)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, FormatDate(e.opts.Now(), format.String()))
	return err
}

// ----------------------------- regroup --------------------------------------

func regroupSyntax(p *kernel.Parser, t kernel.Token) (*kernel.Node, error) {
	if !isTag(t, "regroup") {
		return nil, nil
	}
	fields := kernel.Fields(t.Rest())
	if len(fields) != 5 || fields[1] != "by" || fields[3] != "as" {
		return nil, syntaxErr("regroup", "expected 'regroup list by attribute as name'")
	}
	list, err := p.ParseExpr(fields[0])
	if err != nil {
		return nil, err
	}
	body, err := p.ParseRemainder()
	if err != nil {
		return nil, err
	}
	return &kernel.Node{
		Args:   []string{fields[2], fields[4]},
		Values: []*kernel.Expr{list},
		Blocks: []kernel.Block{body},
	}, nil
}

func regroupRender(k *kernel.Kernel, r *kernel.Result, n *kernel.Node, ctx *kernel.Context, w io.Writer) error {
	attr, name := n.Args[0], n.Args[1]
	var grouped []value.Value
	list, err := k.Eval(n.Values[0], ctx)
	switch {
	case kernel.IsMissing(err):
		// A missing list produces an empty grouping.
	case err != nil:
		return err
	default:
		groups, err := list.GroupBy(attr)
		if err != nil {
			return kernel.Wrap(err, "regroup")
		}
		for _, g := range groups {
			grouped = append(grouped, g.AsValue())
		}
	}
	scope := ctx.Copy()
	scope.Set(name, value.Seq(grouped...))
	return k.RenderBlock(r, n.Block(0), scope, w)
}

// ----------------------------- spaceless ------------------------------------

var betweenTags = regexp.MustCompile(`>\s+<`)

func spacelessSyntax(p *kernel.Parser, t kernel.Token) (*kernel.Node, error) {
	if !isTag(t, "spaceless") {
		return nil, nil
	}
	body, _, err := p.ParseBody("endspaceless")
	if err != nil {
		return nil, err
	}
	return &kernel.Node{Blocks: []kernel.Block{body}}, nil
}

func spacelessRender(k *kernel.Kernel, r *kernel.Result, n *kernel.Node, ctx *kernel.Context, w io.Writer) error {
	text, err := k.RenderString(r, n.Block(0), ctx)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, betweenTags.ReplaceAllString(strings.TrimSpace(text), "><"))
	return err
}

// ----------------------------- ssi ------------------------------------------

func ssiSyntax(p *kernel.Parser, t kernel.Token) (*kernel.Node, error) {
	if !isTag(t, "ssi") {
		return nil, nil
	}
	fields := kernel.Fields(t.Rest())
	n := &kernel.Node{}
	if l := len(fields); l == 2 && fields[1] == "parsed" {
		n.Flag = true
		fields = fields[:1]
	}
	if len(fields) != 1 {
		return nil, syntaxErr("ssi", "expected 'ssi path [parsed]'")
	}
	path, err := p.ParseExpr(fields[0])
	if err != nil {
		return nil, err
	}
	n.Values = []*kernel.Expr{path}
	return n, nil
}

func ssiRender(k *kernel.Kernel, _ *kernel.Result, n *kernel.Node, ctx *kernel.Context, w io.Writer) error {
	pv, err := k.Eval(n.Values[0], ctx)
	if err != nil {
		return err
	}
	path := pv.String()
	if !filepath.IsAbs(path) {
		return usageErr("ssi", "path %q must be absolute", path)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return &kernel.Error{Kind: kernel.KindType, Tag: "ssi", Message: "cannot read " + path, Cause: err}
	}
	if n.Flag {
		return k.RenderSource(path, string(content), ctx, w)
	}
	_, err = w.Write(content)
	return err
}

// ----------------------------- templatetag ----------------------------------

var templateMarkers = map[string]string{
	"openblock":     "{%",
	"closeblock":    "%}",
	"openvariable":  "{{",
	"closevariable": "}}",
	"openbrace":     "{",
	"closebrace":    "}",
	"opencomment":   "{#",
	"closecomment":  "#}",
}

func templatetagSyntax(_ *kernel.Parser, t kernel.Token) (*kernel.Node, error) {
	if !isTag(t, "templatetag") {
		return nil, nil
	}
	marker, ok := templateMarkers[t.Rest()]
	if !ok {
		return nil, syntaxErr("templatetag", "unknown marker %q", t.Rest())
	}
	return &kernel.Node{Text: marker}, nil
}

// ----------------------------- url ------------------------------------------

func urlSyntax(p *kernel.Parser, t kernel.Token) (*kernel.Node, error) {
	if !isTag(t, "url") {
		return nil, nil
	}
	fields := kernel.Fields(t.Rest())
	n := &kernel.Node{}
	if l := len(fields); l >= 3 && fields[l-2] == "as" {
		n.Text = fields[l-1]
		fields = fields[:l-2]
	}
	if len(fields) == 0 {
		return nil, syntaxErr("url", "expected a route name")
	}
	for _, f := range fields {
		if key, val, ok := strings.Cut(f, "="); ok && !kernel.IsQuoted(f) && key != "" && !strings.ContainsAny(key, `"'|`) {
			e, err := p.ParseExpr(val)
			if err != nil {
				return nil, err
			}
			n.Named = append(n.Named, kernel.NamedExpr{Name: key, Expr: e})
			continue
		}
		e, err := p.ParseExpr(f)
		if err != nil {
			return nil, err
		}
		n.Values = append(n.Values, e)
	}
	if len(n.Values) == 0 {
		return nil, syntaxErr("url", "expected a route name")
	}
	if n.Text != "" {
		body, err := p.ParseRemainder()
		if err != nil {
			return nil, err
		}
		n.Blocks = []kernel.Block{body}
	}
	return n, nil
}

func (e *Engine) urlRender(k *kernel.Kernel, r *kernel.Result, n *kernel.Node, ctx *kernel.Context, w io.Writer) error {
	if e.opts.URLResolver == nil {
		return usageErr("url", "no URL resolver configured")
	}
	values, err := k.EvalAll(n.Values, ctx)
	if err != nil {
		return err
	}
	named := make(map[string]value.Value, len(n.Named))
	for _, a := range n.Named {
		v, err := k.Eval(a.Expr, ctx)
		if err != nil {
			return err
		}
		named[a.Name] = v
	}
	url, err := e.opts.URLResolver(values[0].String(), values[1:], named)
	if err != nil {
		return &kernel.Error{Kind: kernel.KindType, Tag: "url", Message: "cannot reverse " + values[0].String(), Cause: err}
	}
	if n.Text == "" {
		return output(ctx, w, value.String(url))
	}
	scope := ctx.Copy()
	scope.Set(n.Text, value.String(url))
	return k.RenderBlock(r, n.Block(0), scope, w)
}

// ----------------------------- variable -------------------------------------

func variableSyntax(p *kernel.Parser, t kernel.Token) (*kernel.Node, error) {
	if t.Kind != kernel.TokenVariable {
		return nil, nil
	}
	e, err := p.ParseExpr(t.Content)
	if err != nil {
		return nil, err
	}
	return &kernel.Node{Name: "variable", Values: []*kernel.Expr{e}}, nil
}

func variableRender(k *kernel.Kernel, _ *kernel.Result, n *kernel.Node, ctx *kernel.Context, w io.Writer) error {
	v, err := k.Eval(n.Values[0], ctx)
	if err != nil {
		return err
	}
	return output(ctx, w, v)
}

// ----------------------------- verbatim -------------------------------------

func verbatimSyntax(p *kernel.Parser, t kernel.Token) (*kernel.Node, error) {
	if !isTag(t, "verbatim") {
		return nil, nil
	}
	text, _, err := p.RawUntil("endverbatim")
	if err != nil {
		return nil, err
	}
	return &kernel.Node{Text: text}, nil
}

// ----------------------------- widthratio -----------------------------------

func widthratioSyntax(p *kernel.Parser, t kernel.Token) (*kernel.Node, error) {
	if !isTag(t, "widthratio") {
		return nil, nil
	}
	fields := kernel.Fields(t.Rest())
	if len(fields) != 3 {
		return nil, syntaxErr("widthratio", "expected value, limit and width")
	}
	values, err := p.ParseExprs(fields)
	if err != nil {
		return nil, err
	}
	return &kernel.Node{Values: values}, nil
}

func widthratioRender(k *kernel.Kernel, _ *kernel.Result, n *kernel.Node, ctx *kernel.Context, w io.Writer) error {
	values, err := k.EvalAll(n.Values, ctx)
	if err != nil {
		return err
	}
	var nums [3]float64
	for i, v := range values {
		if nums[i], err = v.Number(); err != nil {
			return kernel.Wrap(err, "widthratio")
		}
	}
	ratio, err := kernel.WidthRatio(nums[0], nums[1], nums[2])
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(w, ratio)
	return err
}

// ----------------------------- with -----------------------------------------

func withSyntax(p *kernel.Parser, t kernel.Token) (*kernel.Node, error) {
	if !isTag(t, "with") {
		return nil, nil
	}
	fields := kernel.Fields(t.Rest())
	n := &kernel.Node{}
	if len(fields) == 3 && fields[1] == "as" {
		e, err := p.ParseExpr(fields[0])
		if err != nil {
			return nil, err
		}
		n.Named = []kernel.NamedExpr{{Name: fields[2], Expr: e}}
	} else {
		if len(fields) == 0 {
			return nil, syntaxErr("with", "expected 'with value as name' or 'with name=value'")
		}
		named, err := parseAssignments(p, fields)
		if err != nil {
			return nil, err
		}
		n.Named = named
	}
	body, _, err := p.ParseBody("endwith")
	if err != nil {
		return nil, err
	}
	n.Blocks = []kernel.Block{body}
	return n, nil
}

func withRender(k *kernel.Kernel, r *kernel.Result, n *kernel.Node, ctx *kernel.Context, w io.Writer) error {
	scope := ctx.Copy()
	for _, a := range n.Named {
		v, err := k.Eval(a.Expr, ctx)
		if err != nil {
			return err
		}
		scope.Set(a.Name, v)
	}
	return k.RenderBlock(r, n.Block(0), scope, w)
}
