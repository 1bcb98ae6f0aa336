// Package kernel parses template markup into a match tree and renders it
// through a table of pluggable tag handlers. Dialects are instantiations of
// the same kernel with a different tag table and lexer.
package kernel

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/oarkflow/synth/internal/logging"
	"github.com/oarkflow/synth/value"
)

// DefaultMaxDepth bounds include and extends recursion.
const DefaultMaxDepth = 32

// SyntaxFunc tries to match a tag at token t. It returns nil, nil when the
// token is not this tag; the parser then restores its position and tries the
// next registration. A non-nil error aborts the parse.
type SyntaxFunc func(p *Parser, t Token) (*Node, error)

// RenderFunc renders one matched node.
type RenderFunc func(k *Kernel, r *Result, n *Node, ctx *Context, w io.Writer) error

// Tag is one (syntax, render) registration.
type Tag struct {
	Name   string
	Syntax SyntaxFunc
	Render RenderFunc
}

// Nothing is the syntax of no-op tags whose clauses are consumed by their
// owning compound tag.
func Nothing(*Parser, Token) (*Node, error) { return nil, nil }

// Noop renders nothing.
func Noop(*Kernel, *Result, *Node, *Context, io.Writer) error { return nil }

// ----------------------------- Resolver -------------------------------------

// Resolver loads template source by name for include, extends and ssi.
type Resolver interface {
	Resolve(name string) (string, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(name string) (string, error)

// Resolve implements Resolver.
func (f ResolverFunc) Resolve(name string) (string, error) { return f(name) }

// MapResolver serves templates from memory.
type MapResolver map[string]string

// Resolve implements Resolver.
func (m MapResolver) Resolve(name string) (string, error) {
	src, ok := m[name]
	if !ok {
		return "", fmt.Errorf("template %q: %w", name, os.ErrNotExist)
	}
	return src, nil
}

// ----------------------------- Options --------------------------------------

// Options configure a kernel. They are read-only once Build returns.
type Options struct {
	Lexer    Lexer
	Filters  map[string]Filter
	Loaders  []Loader
	Resolver Resolver
	// DefaultValue replaces missing variables when initialized; otherwise a
	// missing variable is a KindMissing error.
	DefaultValue value.Value
	// DefaultFilters names filters that receive a missing input as none
	// instead of failing, such as default.
	DefaultFilters []string
	MaxDepth       int
	Logger         logging.Logger
}

// ----------------------------- Builder --------------------------------------

// Builder assembles an ordered tag table. The text tag always has id 0.
type Builder struct {
	opts Options
	tags []Tag
}

// NewBuilder starts a kernel configuration.
func NewBuilder(opts Options) *Builder {
	return &Builder{opts: opts, tags: []Tag{textTag}}
}

// Add appends registrations. Earlier registrations shadow later ones.
func (b *Builder) Add(tags ...Tag) *Builder {
	b.tags = append(b.tags, tags...)
	return b
}

// Build validates the table and returns an immutable kernel.
func (b *Builder) Build() (*Kernel, error) {
	k := &Kernel{
		opts:  b.opts,
		tags:  make([]Tag, len(b.tags)),
		table: make([]RenderFunc, len(b.tags)),
		ids:   make(map[string]int, len(b.tags)),
	}
	copy(k.tags, b.tags)
	for id, t := range k.tags {
		if t.Name == "" || t.Syntax == nil || t.Render == nil {
			return nil, Errorf(KindType, "tag %d: name, syntax and render are required", id)
		}
		if _, dup := k.ids[t.Name]; dup {
			return nil, Errorf(KindType, "tag %q registered twice", t.Name)
		}
		k.ids[t.Name] = id
		k.table[id] = t.Render
	}
	if k.opts.Lexer == nil {
		return nil, Errorf(KindType, "a lexer is required")
	}
	if k.opts.MaxDepth <= 0 {
		k.opts.MaxDepth = DefaultMaxDepth
	}
	if k.opts.Logger == nil {
		k.opts.Logger = logging.Nop()
	}
	k.defaulting = make(map[string]bool, len(k.opts.DefaultFilters))
	for _, name := range k.opts.DefaultFilters {
		k.defaulting[name] = true
	}
	return k, nil
}

var textTag = Tag{
	Name: "text",
	Syntax: func(_ *Parser, t Token) (*Node, error) {
		if t.Kind != TokenText {
			return nil, nil
		}
		return &Node{Text: t.Content}, nil
	},
	Render: func(_ *Kernel, _ *Result, n *Node, _ *Context, w io.Writer) error {
		_, err := io.WriteString(w, n.Text)
		return err
	},
}

// ----------------------------- Kernel ---------------------------------------

// Kernel is an immutable dialect configuration: tag grammar plus dispatch
// table. It is safe for concurrent use.
type Kernel struct {
	opts       Options
	tags       []Tag
	table      []RenderFunc
	ids        map[string]int
	defaulting map[string]bool
}

// Result is a parsed template.
type Result struct {
	Name    string
	Source  string
	Root    Block
	Library *LibraryState
}

// ID returns the id bound to a tag name.
func (k *Kernel) ID(name string) (int, bool) {
	id, ok := k.ids[name]
	return id, ok
}

// Tags lists the registered tag names in registration order.
func (k *Kernel) Tags() []string {
	names := make([]string, len(k.tags))
	for i, t := range k.tags {
		names[i] = t.Name
	}
	return names
}

// Options returns a copy of the configuration.
func (k *Kernel) Options() Options { return k.opts }

// Logger returns the configured logger.
func (k *Kernel) Logger() logging.Logger { return k.opts.Logger }

// Parse lexes and matches src into a match tree.
func (k *Kernel) Parse(name, src string) (*Result, error) {
	toks, err := k.opts.Lexer.Lex(src)
	if err != nil {
		return nil, locate(err, name, src, 0)
	}
	r := &Result{Name: name, Source: src, Library: NewLibraryState(k.opts.Loaders)}
	r.Library.log = func(msg string, fields ...any) {
		k.opts.Logger.Debug(context.Background(), msg, append(fields, "template", name)...)
	}
	p := &Parser{k: k, r: r, toks: toks}
	root, err := p.parseAll()
	if err != nil {
		return nil, err
	}
	if err := r.Library.Finish(); err != nil {
		return nil, locate(err, name, src, len(src))
	}
	r.Root = root
	k.opts.Logger.Debug(context.Background(), "parsed template", "template", name, "nodes", len(root))
	return r, nil
}

// Render renders a parsed template into w.
func (k *Kernel) Render(r *Result, ctx *Context, w io.Writer) error {
	return k.RenderBlock(r, r.Root, ctx, w)
}

// RenderBlock renders each node of b in order.
func (k *Kernel) RenderBlock(r *Result, b Block, ctx *Context, w io.Writer) error {
	for _, n := range b {
		if err := k.RenderNode(r, n, ctx, w); err != nil {
			return err
		}
	}
	return nil
}

// RenderNode dispatches n to the handler bound to its id.
func (k *Kernel) RenderNode(r *Result, n *Node, ctx *Context, w io.Writer) error {
	if n.ID < 0 || n.ID >= len(k.table) {
		return locate(Errorf(KindInternal, "no handler for tag id %d", n.ID), r.Name, r.Source, n.Pos)
	}
	if err := k.table[n.ID](k, r, n, ctx, w); err != nil {
		return locate(err, r.Name, r.Source, n.Pos)
	}
	return nil
}

// RenderString renders b into a string.
func (k *Kernel) RenderString(r *Result, b Block, ctx *Context) (string, error) {
	var sb strings.Builder
	if err := k.RenderBlock(r, b, ctx, &sb); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// Load resolves and parses the named template.
func (k *Kernel) Load(name string) (*Result, error) {
	if k.opts.Resolver == nil {
		return nil, Errorf(KindType, "no resolver configured for %q", name)
	}
	src, err := k.opts.Resolver.Resolve(name)
	if err != nil {
		return nil, &Error{Kind: KindType, Message: fmt.Sprintf("cannot load %q", name), Cause: err}
	}
	return k.Parse(name, src)
}

// RenderPath loads the named template and renders it with ctx, guarding
// the include and extends depth.
func (k *Kernel) RenderPath(name string, ctx *Context, w io.Writer) error {
	if ctx.depth >= k.opts.MaxDepth {
		return Errorf(KindType, "maximum template depth %d exceeded at %q", k.opts.MaxDepth, name)
	}
	r, err := k.Load(name)
	if err != nil {
		return err
	}
	k.opts.Logger.Debug(context.Background(), "rendering path", "template", name, "depth", ctx.depth+1)
	ctx.depth++
	defer func() { ctx.depth-- }()
	return k.Render(r, ctx, w)
}

// RenderSource parses src under name and renders it with ctx, sharing the
// depth guard of RenderPath.
func (k *Kernel) RenderSource(name, src string, ctx *Context, w io.Writer) error {
	if ctx.depth >= k.opts.MaxDepth {
		return Errorf(KindType, "maximum template depth %d exceeded at %q", k.opts.MaxDepth, name)
	}
	r, err := k.Parse(name, src)
	if err != nil {
		return err
	}
	ctx.depth++
	defer func() { ctx.depth-- }()
	return k.Render(r, ctx, w)
}
