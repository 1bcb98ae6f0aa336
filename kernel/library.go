package kernel

import (
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/oarkflow/synth/value"
)

// ----------------------------- Library tags ---------------------------------

// Arguments are the evaluated arguments of a library tag's opening call.
type Arguments struct {
	Positional []value.Value
	Named      map[string]value.Value
}

// Renderer renders one closed library tag invocation.
type Renderer func(args Arguments, ctx *Context, w io.Writer) error

// Segment is one captured body span of a library tag invocation. Pieces
// holds the tag that opened the span as [contents, name, args...]; End holds
// the tag that ended it in the same shape.
type Segment struct {
	Pieces []string
	End    []string
	Render func(ctx *Context, w io.Writer) error
}

// Name returns the name of the tag that opened the segment.
func (s Segment) Name() string {
	if len(s.Pieces) < 2 {
		return ""
	}
	return s.Pieces[1]
}

// Args returns the raw arguments of the tag that opened the segment.
func (s Segment) Args() []string {
	if len(s.Pieces) < 2 {
		return nil
	}
	return s.Pieces[2:]
}

// String renders the segment body into a string.
func (s Segment) String(ctx *Context) (string, error) {
	var buf bufferWriter
	if s.Render == nil {
		return "", nil
	}
	if err := s.Render(ctx, &buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

type bufferWriter []byte

func (b *bufferWriter) Write(p []byte) (int, error) {
	*b = append(*b, p...)
	return len(p), nil
}

// TagDefinition declares a runtime-defined tag. Middles may appear any number
// of times between the opening tag and one of Lasts, which closes the entry.
// A definition without Middles or Lasts is a single tag.
type TagDefinition struct {
	Name    string
	Middles []string
	Lasts   []string
	Factory func(segments []Segment) Renderer
}

// Continuations returns every tag name the definition accepts after opening.
func (d TagDefinition) Continuations() []string {
	return append(slices.Clone(d.Middles), d.Lasts...)
}

func (d TagDefinition) closes(name string) bool { return slices.Contains(d.Lasts, name) }

func (d TagDefinition) single() bool { return len(d.Middles) == 0 && len(d.Lasts) == 0 }

// SimpleTag defines a single tag whose output is fn's result.
func SimpleTag(name string, fn func(args Arguments, ctx *Context) (value.Value, error)) TagDefinition {
	return TagDefinition{
		Name: name,
		Factory: func([]Segment) Renderer {
			return func(args Arguments, ctx *Context, w io.Writer) error {
				v, err := fn(args, ctx)
				if err != nil {
					return err
				}
				_, err = io.WriteString(w, v.String())
				return err
			}
		},
	}
}

// BlockTag defines a two-part tag closed by end<name>.
func BlockTag(name string, fn func(segments []Segment, args Arguments, ctx *Context, w io.Writer) error) TagDefinition {
	return PolyadicTag(name, nil, []string{"end" + name}, fn)
}

// PolyadicTag defines a tag with arbitrary middle and closing parts.
func PolyadicTag(name string, middles, lasts []string, fn func(segments []Segment, args Arguments, ctx *Context, w io.Writer) error) TagDefinition {
	return TagDefinition{
		Name:    name,
		Middles: middles,
		Lasts:   lasts,
		Factory: func(segments []Segment) Renderer {
			return func(args Arguments, ctx *Context, w io.Writer) error {
				return fn(segments, args, ctx, w)
			}
		},
	}
}

// Library is a named bundle of tag definitions and filters.
type Library struct {
	Tags    map[string]TagDefinition
	Filters map[string]Filter
}

// Loader resolves a library name.
type Loader func(name string) (*Library, error)

// ----------------------------- State machine --------------------------------

type libraryEntry struct {
	pos      int
	def      TagDefinition
	segments []Segment
}

// LibraryState tracks the loaded definitions of one template, the stack of
// open invocations while parsing, and the renderers of closed invocations.
type LibraryState struct {
	loaders   []Loader
	tags      map[string]TagDefinition
	filters   map[string]Filter
	stack     []*libraryEntry
	renderers map[int]Renderer
	log       func(msg string, fields ...any)
}

// NewLibraryState creates an empty state resolving libraries through loaders.
func NewLibraryState(loaders []Loader) *LibraryState {
	return &LibraryState{
		loaders:   loaders,
		tags:      make(map[string]TagDefinition),
		filters:   make(map[string]Filter),
		renderers: make(map[int]Renderer),
	}
}

// Load binds a library's definitions and filters. With names, only those
// are bound, and each must exist as a tag or filter of the library.
func (s *LibraryState) Load(library string, names ...string) error {
	lib, err := s.find(library)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		for name, def := range lib.Tags {
			s.bindTag(name, def)
		}
		for name, f := range lib.Filters {
			s.filters[name] = f
		}
		return nil
	}
	for _, name := range names {
		def, isTag := lib.Tags[name]
		f, isFilter := lib.Filters[name]
		if !isTag && !isFilter {
			return &Error{Kind: KindType, Tag: "load", Message: fmt.Sprintf("%q is not in library %q", name, library)}
		}
		if isTag {
			s.bindTag(name, def)
		}
		if isFilter {
			s.filters[name] = f
		}
	}
	return nil
}

func (s *LibraryState) bindTag(name string, def TagDefinition) {
	if def.Name == "" {
		def.Name = name
	}
	s.tags[name] = def
}

func (s *LibraryState) find(library string) (*Library, error) {
	var errs []error
	for _, load := range s.loaders {
		lib, err := load(library)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if lib != nil {
			if s.log != nil {
				s.log("loaded library", "library", library, "tags", len(lib.Tags), "filters", len(lib.Filters))
			}
			return lib, nil
		}
	}
	e := &Error{Kind: KindType, Tag: "load", Message: fmt.Sprintf("library %q not found", library)}
	if len(errs) > 0 {
		e.Cause = errs[0]
	}
	return nil, e
}

// Definition returns a loaded tag definition.
func (s *LibraryState) Definition(name string) (TagDefinition, bool) {
	def, ok := s.tags[name]
	return def, ok
}

// Filter returns a loaded filter.
func (s *LibraryState) Filter(name string) (Filter, bool) {
	f, ok := s.filters[name]
	return f, ok
}

// Depth is the number of open invocations.
func (s *LibraryState) Depth() int { return len(s.stack) }

// Open pushes a new invocation of def opened at pos. A single-tag definition
// closes at once; Open reports whether it did.
func (s *LibraryState) Open(pos int, def TagDefinition, first Segment) bool {
	s.stack = append(s.stack, &libraryEntry{pos: pos, def: def, segments: []Segment{first}})
	if def.single() {
		s.close()
		return true
	}
	return false
}

// IsContinuation reports whether name continues the innermost invocation.
func (s *LibraryState) IsContinuation(name string) bool {
	if len(s.stack) == 0 {
		return false
	}
	return slices.Contains(s.stack[len(s.stack)-1].def.Continuations(), name)
}

// Continue records a continuation tag of the innermost invocation. end holds
// the continuation's pieces, which end the current segment; next is the
// segment the continuation opens. When name is one of the definition's
// closing names the invocation is popped, its factory invoked and the
// resulting renderer registered; Continue then reports true.
func (s *LibraryState) Continue(name string, end []string, next Segment) (bool, error) {
	if !s.IsContinuation(name) {
		return false, &Error{Kind: KindSyntax, Tag: name, Message: "unexpected library tag continuation"}
	}
	top := s.stack[len(s.stack)-1]
	top.segments[len(top.segments)-1].End = end
	if top.def.closes(name) {
		s.close()
		return true, nil
	}
	top.segments = append(top.segments, next)
	return false, nil
}

func (s *LibraryState) close() {
	top := s.stack[len(s.stack)-1]
	s.stack = s.stack[:len(s.stack)-1]
	s.renderers[top.pos] = top.def.Factory(top.segments)
}

// Finish fails when invocations remain open.
func (s *LibraryState) Finish() error {
	if len(s.stack) == 0 {
		return nil
	}
	top := s.stack[len(s.stack)-1]
	return &Error{Kind: KindSyntax, Tag: top.def.Name, Pos: top.pos, Message: "unclosed library tag"}
}

// Renderer returns the renderer registered for the invocation opened at pos.
func (s *LibraryState) Renderer(pos int) (Renderer, bool) {
	r, ok := s.renderers[pos]
	return r, ok
}

// ----------------------------- Library tag ----------------------------------

// LibraryTag is the kernel registration that matches loaded definitions.
// It belongs at the end of a dialect's table so built-in tags win.
var LibraryTag = Tag{Name: "library", Syntax: librarySyntax, Render: libraryRender}

func librarySyntax(p *Parser, t Token) (*Node, error) {
	if t.Kind != TokenTag {
		return nil, nil
	}
	st := p.Library()
	name := t.Name()
	if st.IsContinuation(name) {
		return nil, nil
	}
	def, ok := st.Definition(name)
	if !ok {
		return nil, nil
	}

	args := Fields(t.Rest())
	n := &Node{Name: name, Args: args}
	for _, a := range args {
		if key, val, ok := cutNamed(a); ok {
			e, err := p.ParseExpr(val)
			if err != nil {
				return nil, err
			}
			n.Named = append(n.Named, NamedExpr{Name: key, Expr: e})
			continue
		}
		e, err := p.ParseExpr(a)
		if err != nil {
			return nil, err
		}
		n.Values = append(n.Values, e)
	}

	seg, body := p.segment(t)
	if st.Open(t.Pos, def, seg) {
		return n, nil
	}
	for {
		block, cont, err := p.ParseBody(def.Continuations()...)
		if err != nil {
			return nil, err
		}
		*body = block
		next, nextBody := p.segment(cont)
		closed, err := st.Continue(cont.Name(), pieces(cont), next)
		if err != nil {
			return nil, err
		}
		if closed {
			return n, nil
		}
		body = nextBody
	}
}

func (p *Parser) segment(t Token) (Segment, *Block) {
	body := new(Block)
	k, r := p.k, p.r
	return Segment{
		Pieces: pieces(t),
		Render: func(ctx *Context, w io.Writer) error {
			return k.RenderBlock(r, *body, ctx, w)
		},
	}, body
}

func pieces(t Token) []string {
	return append([]string{t.Content, t.Name()}, Fields(t.Rest())...)
}

func cutNamed(arg string) (string, string, bool) {
	if IsQuoted(arg) {
		return "", "", false
	}
	for i := 0; i < len(arg); i++ {
		switch arg[i] {
		case '=':
			if i > 0 && (i+1 >= len(arg) || arg[i+1] != '=') {
				return arg[:i], arg[i+1:], true
			}
			return "", "", false
		case '"', '\'', '|', '<', '>', '!':
			return "", "", false
		}
	}
	return "", "", false
}

func libraryRender(k *Kernel, r *Result, n *Node, ctx *Context, w io.Writer) error {
	render, ok := r.Library.Renderer(n.Pos)
	if !ok {
		return &Error{Kind: KindInternal, Tag: n.Name, Message: "no renderer registered for library tag"}
	}
	args := Arguments{Named: make(map[string]value.Value, len(n.Named))}
	for _, e := range n.Values {
		v, err := k.lenientEval(e, ctx)
		if err != nil {
			return err
		}
		args.Positional = append(args.Positional, v)
	}
	for _, ne := range n.Named {
		v, err := k.lenientEval(ne.Expr, ctx)
		if err != nil {
			return err
		}
		args.Named[ne.Name] = v
	}
	k.opts.Logger.Debug(context.Background(), "rendering library tag", "tag", n.Name, "pos", n.Pos)
	return render(args, ctx, w)
}

// lenientEval treats missing variables as none; library tags often take bare
// names as arguments (set foo bar).
func (k *Kernel) lenientEval(e *Expr, ctx *Context) (value.Value, error) {
	v, err := k.Eval(e, ctx)
	if IsMissing(err) {
		return value.None(), nil
	}
	return v, err
}
