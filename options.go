package synth

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oarkflow/synth/engines/django"
	"github.com/oarkflow/synth/engines/ssi"
	"github.com/oarkflow/synth/engines/tmpl"
	"github.com/oarkflow/synth/internal/logging"
	"github.com/oarkflow/synth/kernel"
	"github.com/oarkflow/synth/value"
)

// ----------------------------- Dialects -------------------------------------

// Dialect selects a template language.
type Dialect int

const (
	Django Dialect = iota
	SSI
	TMPL
)

// String returns the dialect's configuration name.
func (d Dialect) String() string {
	switch d {
	case Django:
		return "django"
	case SSI:
		return "ssi"
	case TMPL:
		return "tmpl"
	default:
		return fmt.Sprintf("Dialect(%d)", int(d))
	}
}

// ParseDialect maps a configuration name onto a Dialect.
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "django", "":
		return Django, nil
	case "ssi":
		return SSI, nil
	case "tmpl", "html-template":
		return TMPL, nil
	}
	return 0, fmt.Errorf("unknown dialect %q", s)
}

// DialectForFile guesses a dialect from a file extension.
func DialectForFile(filename string) Dialect {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".shtml", ".shtm", ".stm":
		return SSI
	case ".tmpl":
		return TMPL
	default:
		return Django
	}
}

// ----------------------------- Options --------------------------------------

// Option configures compilation.
type Option func(*compileOptions)

type compileOptions struct {
	dialect     Dialect
	dialectSet  bool
	autoescape  *bool
	loaders     []kernel.Loader
	filters     map[string]kernel.Filter
	directories []string
	resolver    kernel.Resolver
	urlResolver django.URLResolver
	maxDepth    int
	defaultVal  value.Value
	allowExec   bool
	now         func() time.Time
	logger      logging.Logger
}

func newCompileOptions(opts []Option) *compileOptions {
	co := &compileOptions{}
	for _, o := range opts {
		o(co)
	}
	if co.logger == nil {
		co.logger = logging.Nop()
	}
	return co
}

// WithDialect selects the template language. Without it, Compile uses
// Django and CompileFile guesses from the file extension.
func WithDialect(d Dialect) Option {
	return func(co *compileOptions) { co.dialect, co.dialectSet = d, true }
}

// WithAutoescape turns HTML escaping of variable output on or off. It
// applies to Django and TMPL.
func WithAutoescape(on bool) Option {
	return func(co *compileOptions) { co.autoescape = &on }
}

// WithLoaders adds library loaders for the Django load tag.
func WithLoaders(loaders ...kernel.Loader) Option {
	return func(co *compileOptions) { co.loaders = append(co.loaders, loaders...) }
}

// WithLibrary registers lib under name for the Django load tag.
func WithLibrary(name string, lib *kernel.Library) Option {
	return WithLoaders(func(n string) (*kernel.Library, error) {
		if n != name {
			return nil, nil
		}
		return lib, nil
	})
}

// WithFilters adds or overrides Django filters.
func WithFilters(f map[string]kernel.Filter) Option {
	return func(co *compileOptions) {
		if co.filters == nil {
			co.filters = make(map[string]kernel.Filter, len(f))
		}
		for name, fn := range f {
			co.filters[name] = fn
		}
	}
}

// WithDirectories sets the directories searched, in order, by include,
// extends, ssi and TMPL_INCLUDE.
func WithDirectories(dirs ...string) Option {
	return func(co *compileOptions) { co.directories = append(co.directories, dirs...) }
}

// WithResolver replaces directory lookup with a custom resolver.
func WithResolver(r kernel.Resolver) Option {
	return func(co *compileOptions) { co.resolver = r }
}

// WithURLResolver reverses routes for the Django url tag.
func WithURLResolver(r django.URLResolver) Option {
	return func(co *compileOptions) { co.urlResolver = r }
}

// WithMaxDepth bounds include and extends nesting.
func WithMaxDepth(n int) Option {
	return func(co *compileOptions) { co.maxDepth = n }
}

// WithDefaultValue renders v in place of missing Django variables instead
// of failing.
func WithDefaultValue(v any) Option {
	return func(co *compileOptions) { co.defaultVal = value.New(v) }
}

// WithAllowExec enables the SSI exec directive.
func WithAllowExec(allow bool) Option {
	return func(co *compileOptions) { co.allowExec = allow }
}

// WithClock sets the time source for the Django now tag and SSI dates.
func WithClock(now func() time.Time) Option {
	return func(co *compileOptions) { co.now = now }
}

// WithLogger logs parsing and rendering events through l.
func WithLogger(l *slog.Logger) Option {
	return func(co *compileOptions) {
		if l != nil {
			co.logger = logging.FromSlog(l)
		}
	}
}

// ----------------------------- Engine construction --------------------------

// dialectEngine is what every dialect package provides.
type dialectEngine interface {
	Kernel() *kernel.Kernel
	NewContext(vars map[string]value.Value) *kernel.Context
}

// dirResolver reads templates from the first directory that has them.
// Names are slash-separated and may not climb out of the directories.
type dirResolver []string

func (d dirResolver) Resolve(name string) (string, error) {
	if !fs.ValidPath(name) {
		return "", fmt.Errorf("invalid template name %q", name)
	}
	var errs []error
	for _, dir := range d {
		b, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(name)))
		if err == nil {
			return string(b), nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return "", fmt.Errorf("template %q: no directories configured: %w", name, os.ErrNotExist)
	}
	return "", fmt.Errorf("template %q: %w", name, errors.Join(errs...))
}

func (co *compileOptions) resolve() kernel.Resolver {
	if co.resolver != nil {
		return co.resolver
	}
	if len(co.directories) > 0 {
		return dirResolver(co.directories)
	}
	return nil
}

func (co *compileOptions) build() (dialectEngine, error) {
	logger := co.logger.WithComponent(co.dialect.String())
	switch co.dialect {
	case Django:
		opts := django.DefaultOptions()
		if co.autoescape != nil {
			opts.Autoescape = *co.autoescape
		}
		opts.DefaultValue = co.defaultVal
		opts.Loaders = co.loaders
		opts.Filters = co.filters
		opts.Resolver = co.resolve()
		opts.URLResolver = co.urlResolver
		opts.MaxDepth = co.maxDepth
		if co.now != nil {
			opts.Now = co.now
		}
		opts.Logger = logger
		return django.New(opts)
	case SSI:
		opts := ssi.DefaultOptions()
		if len(co.directories) > 0 {
			opts.Directory = co.directories[0]
		}
		opts.Resolver = co.resolver
		opts.AllowExec = co.allowExec
		opts.MaxDepth = co.maxDepth
		if co.now != nil {
			opts.Now = co.now
		}
		opts.Logger = logger
		return ssi.New(opts)
	case TMPL:
		opts := tmpl.Options{Resolver: co.resolve(), MaxDepth: co.maxDepth, Logger: logger}
		if len(co.directories) > 0 {
			opts.Directory = co.directories[0]
		}
		if co.autoescape != nil && *co.autoescape {
			opts.DefaultEscape = "html"
		}
		return tmpl.New(opts)
	}
	return nil, fmt.Errorf("unknown dialect %v", co.dialect)
}
