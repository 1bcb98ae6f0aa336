package ssi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/exec"
	"path"
	"slices"
	"strings"

	"github.com/oarkflow/synth/kernel"
	"github.com/oarkflow/synth/value"
)

// attr is one name=value pair of a directive, in source order.
type attr struct {
	name  string
	value string
}

func (e *Engine) tags() []kernel.Tag {
	return []kernel.Tag{
		e.directive("config", e.config),
		e.directive("echo", e.echo),
		e.directive("exec", e.execute),
		e.directive("flastmod", e.flastmod),
		e.directive("fsize", e.fsize),
		{Name: "if", Syntax: ifSyntax, Render: e.recovering(e.ifRender)},
		{Name: "elif", Syntax: kernel.Nothing, Render: kernel.Noop},
		{Name: "else", Syntax: kernel.Nothing, Render: kernel.Noop},
		{Name: "endif", Syntax: kernel.Nothing, Render: kernel.Noop},
		e.directive("include", e.include),
		e.directive("printenv", e.printenv),
		e.directive("set", e.set),
	}
}

// directive registers a flat directive whose attributes are parsed once.
func (e *Engine) directive(name string, render kernel.RenderFunc) kernel.Tag {
	return kernel.Tag{
		Name: name,
		Syntax: func(_ *kernel.Parser, t kernel.Token) (*kernel.Node, error) {
			if t.Kind != kernel.TokenTag || t.Name() != name {
				return nil, nil
			}
			attrs, err := parseAttrs(t.Rest())
			if err != nil {
				return nil, err
			}
			return &kernel.Node{Data: attrs}, nil
		},
		Render: e.recovering(render),
	}
}

// recovering replaces a failed directive's output with the configured error
// message. Internal errors still propagate.
func (e *Engine) recovering(render kernel.RenderFunc) kernel.RenderFunc {
	return func(k *kernel.Kernel, r *kernel.Result, n *kernel.Node, ctx *kernel.Context, w io.Writer) error {
		var buf bytes.Buffer
		err := render(k, r, n, ctx, &buf)
		if err == nil {
			_, err = w.Write(buf.Bytes())
			return err
		}
		if kernel.IsInternal(err) {
			return err
		}
		k.Logger().Warn(context.Background(), err, "directive failed", "directive", n.Name, "template", r.Name)
		_, err = io.WriteString(w, e.setting(ctx, "errmsg", e.opts.ErrorMessage))
		return err
	}
}

func attrsOf(n *kernel.Node) []attr {
	attrs, _ := n.Data.([]attr)
	return attrs
}

func unknownAttr(directive string, a attr) error {
	return &kernel.Error{Kind: kernel.KindType, Tag: directive, Message: fmt.Sprintf("unknown parameter %q", a.name)}
}

// ----------------------------- Settings and variables -----------------------

func (e *Engine) setting(ctx *kernel.Context, key, fallback string) string {
	if v, ok := ctx.Setting(key); ok {
		return v
	}
	return fallback
}

// lookup resolves a variable: context first, then the document variables,
// then the process environment.
func (e *Engine) lookup(r *kernel.Result, ctx *kernel.Context, name string) (string, bool) {
	if v, ok := ctx.Get(name); ok {
		return v.String(), true
	}
	timefmt := e.setting(ctx, "timefmt", e.opts.TimeFormat)
	switch name {
	case "DATE_LOCAL":
		return Strftime(e.opts.Now(), timefmt), true
	case "DATE_GMT":
		return Strftime(e.opts.Now().UTC(), timefmt), true
	case "DOCUMENT_NAME":
		if r.Name != "" {
			return path.Base(r.Name), true
		}
	case "DOCUMENT_URI":
		if r.Name != "" {
			return "/" + strings.TrimPrefix(r.Name, "/"), true
		}
	case "LAST_MODIFIED":
		if r.Name != "" {
			if info, err := e.stat(r.Name); err == nil {
				return Strftime(info.ModTime(), timefmt), true
			}
		}
	}
	return e.opts.LookupEnv(name)
}

func (e *Engine) lookupFunc(r *kernel.Result, ctx *kernel.Context) func(string) string {
	return func(name string) string {
		v, _ := e.lookup(r, ctx, name)
		return v
	}
}

// ----------------------------- config ---------------------------------------

func (e *Engine) config(_ *kernel.Kernel, _ *kernel.Result, n *kernel.Node, ctx *kernel.Context, _ io.Writer) error {
	for _, a := range attrsOf(n) {
		switch a.name {
		case "sizefmt":
			if a.value != "bytes" && a.value != "abbrev" {
				return &kernel.Error{Kind: kernel.KindType, Tag: "config", Message: fmt.Sprintf("invalid sizefmt %q", a.value)}
			}
		case "timefmt", "echomsg", "errmsg":
		default:
			return unknownAttr("config", a)
		}
		ctx.SetSetting(a.name, a.value)
	}
	return nil
}

// ----------------------------- echo and printenv ----------------------------

func (e *Engine) echo(_ *kernel.Kernel, r *kernel.Result, n *kernel.Node, ctx *kernel.Context, w io.Writer) error {
	encoding := "entity"
	for _, a := range attrsOf(n) {
		switch a.name {
		case "encoding":
			if !slices.Contains([]string{"none", "url", "entity"}, a.value) {
				return &kernel.Error{Kind: kernel.KindType, Tag: "echo", Message: fmt.Sprintf("invalid encoding %q", a.value)}
			}
			encoding = a.value
		case "var":
			v, ok := e.lookup(r, ctx, a.value)
			if !ok {
				io.WriteString(w, e.setting(ctx, "echomsg", e.opts.EchoMessage))
				continue
			}
			switch encoding {
			case "url":
				v = url.QueryEscape(v)
			case "entity":
				v = value.EscapeHTML(v)
			}
			if _, err := io.WriteString(w, v); err != nil {
				return err
			}
		default:
			return unknownAttr("echo", a)
		}
	}
	return nil
}

func (e *Engine) printenv(_ *kernel.Kernel, _ *kernel.Result, n *kernel.Node, ctx *kernel.Context, w io.Writer) error {
	if attrs := attrsOf(n); len(attrs) > 0 {
		return unknownAttr("printenv", attrs[0])
	}
	vars := make(map[string]string)
	for _, kv := range e.opts.Environ() {
		if name, val, ok := strings.Cut(kv, "="); ok {
			vars[name] = val
		}
	}
	for _, name := range ctx.Names() {
		v, _ := ctx.Get(name)
		vars[name] = v.String()
	}
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		if _, err := fmt.Fprintf(w, "%s=%s\n", value.EscapeHTML(name), value.EscapeHTML(vars[name])); err != nil {
			return err
		}
	}
	return nil
}

// ----------------------------- set ------------------------------------------

func (e *Engine) set(_ *kernel.Kernel, r *kernel.Result, n *kernel.Node, ctx *kernel.Context, _ io.Writer) error {
	name := ""
	for _, a := range attrsOf(n) {
		switch a.name {
		case "var":
			name = a.value
		case "value":
			if name == "" {
				return &kernel.Error{Kind: kernel.KindType, Tag: "set", Message: "value without var"}
			}
			ctx.Set(name, value.String(substitute(a.value, e.lookupFunc(r, ctx))))
			name = ""
		default:
			return unknownAttr("set", a)
		}
	}
	if name != "" {
		return &kernel.Error{Kind: kernel.KindType, Tag: "set", Message: fmt.Sprintf("var %q without value", name)}
	}
	return nil
}

// ----------------------------- Files ----------------------------------------

// target returns the document path named by a file or virtual attribute.
// file paths are relative to the including document's directory and may
// not be absolute; virtual paths are rooted at Directory.
func target(directive string, r *kernel.Result, attrs []attr) (string, error) {
	if len(attrs) != 1 {
		return "", &kernel.Error{Kind: kernel.KindType, Tag: directive, Message: "exactly one of file or virtual is required"}
	}
	a := attrs[0]
	switch a.name {
	case "file":
		if strings.HasPrefix(a.value, "/") {
			return "", &kernel.Error{Kind: kernel.KindType, Tag: directive, Message: fmt.Sprintf("file %q must be relative", a.value)}
		}
		if dir := path.Dir(r.Name); r.Name != "" && dir != "." {
			return path.Join(dir, a.value), nil
		}
		return a.value, nil
	case "virtual":
		return strings.TrimPrefix(a.value, "/"), nil
	}
	return "", unknownAttr(directive, a)
}

func (e *Engine) stat(name string) (os.FileInfo, error) {
	p, err := e.localPath(name)
	if err != nil {
		return nil, err
	}
	return os.Stat(p)
}

func (e *Engine) fsize(_ *kernel.Kernel, r *kernel.Result, n *kernel.Node, ctx *kernel.Context, w io.Writer) error {
	name, err := target("fsize", r, attrsOf(n))
	if err != nil {
		return err
	}
	info, err := e.stat(name)
	if err != nil {
		return kernel.Wrap(err, "fsize")
	}
	s, err := FormatSize(info.Size(), e.setting(ctx, "sizefmt", e.opts.SizeFormat))
	if err != nil {
		return kernel.Wrap(err, "fsize")
	}
	_, err = io.WriteString(w, s)
	return err
}

func (e *Engine) flastmod(_ *kernel.Kernel, r *kernel.Result, n *kernel.Node, ctx *kernel.Context, w io.Writer) error {
	name, err := target("flastmod", r, attrsOf(n))
	if err != nil {
		return err
	}
	info, err := e.stat(name)
	if err != nil {
		return kernel.Wrap(err, "flastmod")
	}
	_, err = io.WriteString(w, Strftime(info.ModTime(), e.setting(ctx, "timefmt", e.opts.TimeFormat)))
	return err
}

// include renders another document with the current context, so its set
// and config directives stay in effect afterwards.
func (e *Engine) include(k *kernel.Kernel, r *kernel.Result, n *kernel.Node, ctx *kernel.Context, w io.Writer) error {
	name, err := target("include", r, attrsOf(n))
	if err != nil {
		return err
	}
	return k.RenderPath(name, ctx, w)
}

// ----------------------------- exec -----------------------------------------

var errExecDisabled = errors.New("exec is disabled")

func (e *Engine) execute(k *kernel.Kernel, _ *kernel.Result, n *kernel.Node, _ *kernel.Context, w io.Writer) error {
	attrs := attrsOf(n)
	if len(attrs) != 1 {
		return &kernel.Error{Kind: kernel.KindType, Tag: "exec", Message: "exactly one of cmd or cgi is required"}
	}
	if attrs[0].name != "cmd" {
		return unknownAttr("exec", attrs[0])
	}
	if !e.opts.AllowExec {
		return kernel.Wrap(errExecDisabled, "exec")
	}
	cctx, cancel := context.WithTimeout(context.Background(), e.opts.ExecTimeout)
	defer cancel()
	k.Logger().Debug(cctx, "executing command", "cmd", attrs[0].value)
	out, err := exec.CommandContext(cctx, "/bin/sh", "-c", attrs[0].value).Output()
	if err != nil {
		return kernel.Wrap(err, "exec")
	}
	_, err = w.Write(out)
	return err
}

// ----------------------------- if -------------------------------------------

func ifSyntax(p *kernel.Parser, t kernel.Token) (*kernel.Node, error) {
	if t.Kind != kernel.TokenTag || t.Name() != "if" {
		return nil, nil
	}
	n := &kernel.Node{}
	var conds []cond
	tok := t
	for {
		c, err := exprAttr(tok)
		if err != nil {
			return nil, err
		}
		conds = append(conds, c)
		body, end, err := p.ParseBody("elif", "else", "endif")
		if err != nil {
			return nil, err
		}
		n.Blocks = append(n.Blocks, body)
		switch end.Name() {
		case "elif":
			tok = end
			continue
		case "else":
			els, _, err := p.ParseBody("endif")
			if err != nil {
				return nil, err
			}
			n.Blocks = append(n.Blocks, els)
		}
		n.Data = conds
		return n, nil
	}
}

func exprAttr(t kernel.Token) (cond, error) {
	attrs, err := parseAttrs(t.Rest())
	if err != nil {
		return nil, err
	}
	if len(attrs) != 1 || attrs[0].name != "expr" {
		return nil, &kernel.Error{Kind: kernel.KindSyntax, Tag: t.Name(), Message: "exactly one expr attribute is required"}
	}
	return parseCond(attrs[0].value)
}

func (e *Engine) ifRender(k *kernel.Kernel, r *kernel.Result, n *kernel.Node, ctx *kernel.Context, w io.Writer) error {
	conds, _ := n.Data.([]cond)
	lookup := e.lookupFunc(r, ctx)
	for i, c := range conds {
		ok, err := c.eval(lookup)
		if err != nil {
			return kernel.Wrap(err, "if")
		}
		if ok {
			return k.RenderBlock(r, n.Block(i), ctx, w)
		}
	}
	return k.RenderBlock(r, n.Block(len(conds)), ctx, w)
}

// ----------------------------- Attributes -----------------------------------

// parseAttrs splits name="value" pairs. Values may be single-quoted,
// double-quoted with backslash escapes, or bare words.
func parseAttrs(s string) ([]attr, error) {
	var attrs []attr
	i := 0
	skip := func() {
		for i < len(s) && strings.IndexByte(" \t\r\n", s[i]) >= 0 {
			i++
		}
	}
	for {
		skip()
		if i == len(s) {
			return attrs, nil
		}
		start := i
		for i < len(s) && s[i] != '=' && strings.IndexByte(" \t\r\n", s[i]) < 0 {
			i++
		}
		name := strings.ToLower(s[start:i])
		skip()
		if i == len(s) || s[i] != '=' {
			return nil, kernel.Errorf(kernel.KindSyntax, "attribute %q has no value", name)
		}
		if name == "" {
			return nil, kernel.Errorf(kernel.KindSyntax, "attribute without a name")
		}
		i++
		skip()
		if i == len(s) {
			return nil, kernel.Errorf(kernel.KindSyntax, "attribute %q has no value", name)
		}
		var sb strings.Builder
		if q := s[i]; q == '"' || q == '\'' {
			i++
			for ; i < len(s) && s[i] != q; i++ {
				if s[i] == '\\' && i+1 < len(s) && s[i+1] == q {
					i++
				}
				sb.WriteByte(s[i])
			}
			if i == len(s) {
				return nil, kernel.Errorf(kernel.KindSyntax, "unterminated value of attribute %q", name)
			}
			i++
		} else {
			for ; i < len(s) && strings.IndexByte(" \t\r\n", s[i]) < 0; i++ {
				sb.WriteByte(s[i])
			}
		}
		attrs = append(attrs, attr{name: name, value: sb.String()})
	}
}
