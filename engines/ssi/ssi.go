// Package ssi implements Server Side Includes directives on the shared kernel.
package ssi

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oarkflow/synth/internal/logging"
	"github.com/oarkflow/synth/kernel"
	"github.com/oarkflow/synth/value"
)

const (
	DefaultErrorMessage = "[an error occurred while processing this directive]"
	DefaultEchoMessage  = "(none)"
	DefaultTimeFormat   = "%A, %d-%b-%Y %H:%M:%S"
	DefaultSizeFormat   = "bytes"
	DefaultExecTimeout  = 10 * time.Second
)

// Options configure the dialect.
type Options struct {
	// Directory anchors file and virtual paths for include, fsize and
	// flastmod. It defaults to the working directory.
	Directory    string
	ErrorMessage string
	EchoMessage  string
	TimeFormat   string
	SizeFormat   string
	// AllowExec enables the exec directive.
	AllowExec   bool
	ExecTimeout time.Duration
	// Resolver loads included documents. It defaults to reading from
	// Directory.
	Resolver kernel.Resolver
	LookupEnv func(name string) (string, bool)
	Environ   func() []string
	MaxDepth  int
	Now       func() time.Time
	Logger    logging.Logger
}

// DefaultOptions returns the stock messages and formats.
func DefaultOptions() Options {
	return Options{
		ErrorMessage: DefaultErrorMessage,
		EchoMessage:  DefaultEchoMessage,
		TimeFormat:   DefaultTimeFormat,
		SizeFormat:   DefaultSizeFormat,
		ExecTimeout:  DefaultExecTimeout,
		LookupEnv:    os.LookupEnv,
		Environ:      os.Environ,
		Now:          time.Now,
	}
}

// Engine is a configured SSI kernel.
type Engine struct {
	k    *kernel.Kernel
	opts Options
}

// Lexer splits <!--#directive attr="value" --> markup. Plain HTML comments
// pass through as text.
var Lexer = kernel.DelimLexer{Delims: []kernel.Delim{
	{Open: "<!--#", Close: "-->", Kind: kernel.TokenTag},
}}

// New builds the dialect's kernel.
func New(opts Options) (*Engine, error) {
	def := DefaultOptions()
	if opts.ErrorMessage == "" {
		opts.ErrorMessage = def.ErrorMessage
	}
	if opts.EchoMessage == "" {
		opts.EchoMessage = def.EchoMessage
	}
	if opts.TimeFormat == "" {
		opts.TimeFormat = def.TimeFormat
	}
	if opts.SizeFormat == "" {
		opts.SizeFormat = def.SizeFormat
	}
	if opts.SizeFormat != "bytes" && opts.SizeFormat != "abbrev" {
		return nil, kernel.Errorf(kernel.KindType, "invalid size format %q", opts.SizeFormat)
	}
	if opts.ExecTimeout <= 0 {
		opts.ExecTimeout = def.ExecTimeout
	}
	if opts.LookupEnv == nil {
		opts.LookupEnv = def.LookupEnv
	}
	if opts.Environ == nil {
		opts.Environ = def.Environ
	}
	if opts.Now == nil {
		opts.Now = def.Now
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	e := &Engine{opts: opts}
	if opts.Resolver == nil {
		opts.Resolver = kernel.ResolverFunc(e.readFile)
		e.opts.Resolver = opts.Resolver
	}
	k, err := kernel.NewBuilder(kernel.Options{
		Lexer:    Lexer,
		Resolver: opts.Resolver,
		MaxDepth: opts.MaxDepth,
		Logger:   opts.Logger.WithComponent("ssi"),
	}).Add(e.tags()...).Build()
	if err != nil {
		return nil, err
	}
	e.k = k
	return e, nil
}

// Kernel returns the underlying kernel.
func (e *Engine) Kernel() *kernel.Kernel { return e.k }

// NewContext creates a render context. SSI never autoescapes; echo applies
// its own encoding.
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

func (e *Engine) readFile(name string) (string, error) {
	p, err := e.localPath(name)
	if err != nil {
		return "", err
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// localPath maps a slash-separated document path onto Directory. Paths
// may not climb out of it.
func (e *Engine) localPath(name string) (string, error) {
	rel := strings.TrimPrefix(filepath.ToSlash(name), "/")
	if !fs.ValidPath(rel) {
		return "", fmt.Errorf("invalid document path %q", name)
	}
	return filepath.Join(e.opts.Directory, filepath.FromSlash(rel)), nil
}
