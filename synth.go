// Package synth renders Django, SSI and HTML::Template templates through a
// shared kernel. Compile a template once and render it concurrently with
// any number of data sets.
package synth

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/oarkflow/synth/kernel"
)

// ----------------------------- Public API -----------------------------------

// Template is a compiled template bound to its dialect's configuration. It
// is safe for concurrent use.
type Template struct {
	name    string
	dialect Dialect
	eng     dialectEngine
	res     *kernel.Result
	fields  *fieldCache
}

// Compile parses src. The dialect defaults to Django.
func Compile(src string, opts ...Option) (*Template, error) {
	return compileNamed("", src, newCompileOptions(opts))
}

func compileNamed(name, src string, co *compileOptions) (*Template, error) {
	eng, err := co.build()
	if err != nil {
		return nil, err
	}
	res, err := eng.Kernel().Parse(name, src)
	if err != nil {
		co.logger.Debug(context.Background(), "template parse failed", "template", name, "dialect", co.dialect.String(), "error", err)
		return nil, err
	}
	return &Template{name: name, dialect: co.dialect, eng: eng, res: res, fields: globalFieldCache}, nil
}

// compileFile reads and compiles filename. Without explicit directories,
// includes resolve relative to the file's own directory. Without an
// explicit dialect, the extension decides.
func compileFile(filename string, co *compileOptions) (*Template, error) {
	src, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	if !co.dialectSet {
		co.dialect = DialectForFile(filename)
	}
	if len(co.directories) == 0 && co.resolver == nil {
		co.directories = []string{filepath.Dir(filename)}
	}
	return compileNamed(filepath.Base(filename), string(src), co)
}

// Name returns the template's name, empty for templates compiled from a
// string.
func (t *Template) Name() string { return t.name }

// Dialect returns the language the template was compiled in.
func (t *Template) Dialect() Dialect { return t.dialect }

// Kernel exposes the kernel the template was compiled by.
func (t *Template) Kernel() *kernel.Kernel { return t.eng.Kernel() }

// NewContext builds a fresh render context from data.
func (t *Template) NewContext(data any) (*kernel.Context, error) {
	if ctx, ok := data.(*kernel.Context); ok {
		return ctx, nil
	}
	vars, err := t.fields.vars(data)
	if err != nil {
		return nil, err
	}
	return t.eng.NewContext(vars), nil
}

// Render executes the template with data into w. Data may be a string-keyed
// map, a struct, a VarsProvider or a *kernel.Context. Output written before
// an error is not retracted.
func (t *Template) Render(w io.Writer, data any) error {
	ctx, err := t.NewContext(data)
	if err != nil {
		return err
	}
	return t.RenderContext(w, ctx)
}

// RenderContext executes the template against an existing context, which
// observes any variables the template sets.
func (t *Template) RenderContext(w io.Writer, ctx *kernel.Context) error {
	return t.eng.Kernel().Render(t.res, ctx, w)
}

// RenderString renders into a pooled buffer and returns a string.
func (t *Template) RenderString(data any) (string, error) {
	buf := getBuffer()
	defer putBuffer(buf)
	if err := t.Render(buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RenderToBytes renders into a pooled buffer and returns a copy of the
// output.
func (t *Template) RenderToBytes(data any) ([]byte, error) {
	buf := getBuffer()
	defer putBuffer(buf)
	if err := t.Render(buf, data); err != nil {
		return nil, err
	}
	return bytes.Clone(buf.Bytes()), nil
}

// RenderToDiscard renders the template to io.Discard for benchmarking.
func (t *Template) RenderToDiscard(data any) error {
	return t.Render(io.Discard, data)
}

// RenderString compiles and renders src in one step.
func RenderString(src string, data any, opts ...Option) (string, error) {
	t, err := Compile(src, opts...)
	if err != nil {
		return "", err
	}
	return t.RenderString(data)
}
