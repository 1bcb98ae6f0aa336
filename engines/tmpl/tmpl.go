// Package tmpl implements the HTML::Template dialect on the shared kernel.
package tmpl

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/oarkflow/synth/internal/logging"
	"github.com/oarkflow/synth/kernel"
	"github.com/oarkflow/synth/value"
)

// Options configure the dialect.
type Options struct {
	// Directory is searched for TMPL_INCLUDE targets when Resolver is nil.
	Directory string
	Resolver  kernel.Resolver
	// DefaultEscape applies to TMPL_VAR tags without an ESCAPE attribute:
	// none, html, url or js.
	DefaultEscape string
	MaxDepth      int
	Logger        logging.Logger
}

// Engine is a configured TMPL kernel.
type Engine struct {
	k    *kernel.Kernel
	opts Options
}

// New builds the dialect's kernel.
func New(opts Options) (*Engine, error) {
	if opts.DefaultEscape == "" {
		opts.DefaultEscape = "none"
	}
	if _, err := escaper(opts.DefaultEscape); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Resolver == nil {
		dir := opts.Directory
		opts.Resolver = kernel.ResolverFunc(func(name string) (string, error) {
			b, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(name)))
			return string(b), err
		})
	}
	e := &Engine{opts: opts}
	k, err := kernel.NewBuilder(kernel.Options{
		Lexer:    Lexer{},
		Resolver: opts.Resolver,
		MaxDepth: opts.MaxDepth,
		Logger:   opts.Logger.WithComponent("tmpl"),
	}).Add(e.tags()...).Build()
	if err != nil {
		return nil, err
	}
	e.k = k
	return e, nil
}

// Kernel returns the underlying kernel.
func (e *Engine) Kernel() *kernel.Kernel { return e.k }

// NewContext creates a render context. Escaping is per tag, so the
// context-wide autoescape flag is off.
func (e *Engine) NewContext(vars map[string]value.Value) *kernel.Context {
	ctx := kernel.NewContext(vars)
	ctx.SetAutoescape(false)
	return ctx
}

// Parse compiles src under name.
func (e *Engine) Parse(name, src string) (*kernel.Result, error) { return e.k.Parse(name, src) }

// RenderString parses and renders src against vars in one step.
func (e *Engine) RenderString(src string, vars map[string]value.Value) (string, error) {
	r, err := e.k.Parse("", src)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	if err := e.k.Render(r, e.NewContext(vars), &sb); err != nil {
		return "", err
	}
	return sb.String(), nil
}
