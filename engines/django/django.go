// Package django implements the Django template dialect on the shared kernel.
package django

import (
	"strings"
	"time"

	"github.com/oarkflow/synth/internal/logging"
	"github.com/oarkflow/synth/kernel"
	"github.com/oarkflow/synth/value"
)

// URLResolver reverses a named route for the url tag.
type URLResolver func(name string, args []value.Value, named map[string]value.Value) (string, error)

// Options configure the dialect.
type Options struct {
	Autoescape bool
	// DefaultValue replaces missing variables when initialized.
	DefaultValue  value.Value
	Loaders       []kernel.Loader
	Filters       map[string]kernel.Filter
	Resolver      kernel.Resolver
	URLResolver   URLResolver
	CSRFTokenName string
	MaxDepth      int
	Now           func() time.Time
	Logger        logging.Logger
}

// DefaultOptions returns options with autoescaping on.
func DefaultOptions() Options {
	return Options{
		Autoescape:    true,
		CSRFTokenName: "csrf_token",
		Now:           time.Now,
	}
}

// Engine is a configured Django kernel.
type Engine struct {
	k    *kernel.Kernel
	opts Options
}

// Lexer splits {% tags %}, {{ variables }} and {# comments #}.
var Lexer = kernel.DelimLexer{Delims: []kernel.Delim{
	{Open: "{%", Close: "%}", Kind: kernel.TokenTag},
	{Open: "{{", Close: "}}", Kind: kernel.TokenVariable},
	{Open: "{#", Close: "#}", Kind: kernel.TokenComment},
}}

// New builds the dialect's kernel.
func New(opts Options) (*Engine, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.CSRFTokenName == "" {
		opts.CSRFTokenName = "csrf_token"
	}
	filters := Filters()
	for name, f := range opts.Filters {
		filters[name] = f
	}
	e := &Engine{opts: opts}
	k, err := kernel.NewBuilder(kernel.Options{
		Lexer:          Lexer,
		Filters:        filters,
		Loaders:        opts.Loaders,
		Resolver:       opts.Resolver,
		DefaultValue:   opts.DefaultValue,
		DefaultFilters: []string{"default", "default_if_none"},
		MaxDepth:       opts.MaxDepth,
		Logger:         opts.Logger,
	}).Add(e.tags()...).Build()
	if err != nil {
		return nil, err
	}
	e.k = k
	return e, nil
}

// Kernel returns the underlying kernel.
func (e *Engine) Kernel() *kernel.Kernel { return e.k }

// NewContext creates a render context honoring the autoescape option.
func (e *Engine) NewContext(vars map[string]value.Value) *kernel.Context {
	ctx := kernel.NewContext(vars)
	ctx.SetAutoescape(e.opts.Autoescape)
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
