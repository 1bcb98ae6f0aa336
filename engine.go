package synth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/oarkflow/synth/internal/logging"
	"github.com/oarkflow/synth/kernel"
)

// ----------------------------- Directory engine -----------------------------

// Engine serves every template under a directory by name. Names are paths
// relative to the directory, slash-separated, without the extension.
type Engine struct {
	mu            sync.RWMutex
	templates     map[string]*Template
	dir           string
	ext           string
	opts          []Option
	logger        logging.Logger
	reloadManager *ReloadManager
}

// EngineOptions configure NewEngine.
type EngineOptions struct {
	compile []Option
	reload  bool
}

// EngineOption configures an Engine.
type EngineOption func(*EngineOptions)

// WithCompileOptions applies opts to every template the engine compiles.
func WithCompileOptions(opts ...Option) EngineOption {
	return func(eo *EngineOptions) { eo.compile = append(eo.compile, opts...) }
}

// WithAutoReload recompiles templates as their files change.
func WithAutoReload(on bool) EngineOption {
	return func(eo *EngineOptions) { eo.reload = on }
}

// NewEngine loads all templates with extension ext from dir. Includes and
// extends resolve against dir unless the compile options name other
// directories or a resolver.
func NewEngine(dir, ext string, opts ...EngineOption) (*Engine, error) {
	var eo EngineOptions
	for _, o := range opts {
		o(&eo)
	}
	compile := append([]Option{WithDirectories(dir)}, eo.compile...)
	if co := newCompileOptions(eo.compile); len(co.directories) > 0 || co.resolver != nil {
		compile = eo.compile
	}

	engine := &Engine{
		templates: make(map[string]*Template),
		dir:       filepath.Clean(dir),
		ext:       ext,
		opts:      compile,
		logger:    newCompileOptions(compile).logger.WithComponent("engine"),
	}
	if err := engine.Load(); err != nil {
		return nil, err
	}
	if !eo.reload {
		return engine, nil
	}

	rm, err := NewReloadManager(compile...)
	if err != nil {
		return nil, err
	}
	rm.AddCallback(engine.onReload)
	if err := engine.watch(rm); err != nil {
		_ = rm.Stop()
		return nil, fmt.Errorf("failed to watch directory: %w", err)
	}
	rm.Start()
	engine.reloadManager = rm
	return engine, nil
}

// Load compiles every template under the engine's directory, replacing the
// current set. All compile errors are reported together.
func (e *Engine) Load() error {
	templates := make(map[string]*Template)
	var errs []error
	err := filepath.WalkDir(e.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, e.ext) {
			return nil
		}
		tmpl, err := compileFile(path, newCompileOptions(e.opts))
		if err != nil {
			errs = append(errs, fmt.Errorf("compiling template %q: %w", path, err))
			return nil
		}
		templates[e.name(path)] = tmpl
		return nil
	})
	if err != nil {
		return fmt.Errorf("loading templates from %q: %w", e.dir, err)
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	e.mu.Lock()
	e.templates = templates
	e.mu.Unlock()
	e.logger.Info(context.Background(), "templates loaded", "dir", e.dir, "count", len(templates))
	return nil
}

func (e *Engine) name(path string) string {
	rel, err := filepath.Rel(e.dir, path)
	if err != nil {
		rel = filepath.Base(path)
	}
	return strings.TrimSuffix(filepath.ToSlash(rel), e.ext)
}

func (e *Engine) watch(rm *ReloadManager) error {
	return filepath.WalkDir(e.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return rm.watchDir(path, []string{e.ext})
		}
		if !strings.HasSuffix(path, e.ext) {
			return nil
		}
		tmpl, _ := e.Lookup(e.name(path))
		return rm.WatchFile(path, tmpl)
	})
}

func (e *Engine) onReload(filename string, tmpl *Template, err error) {
	name := e.name(filename)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		e.mu.Lock()
		delete(e.templates, name)
		e.mu.Unlock()
		e.logger.Info(context.Background(), "template removed", "template", name)
	case err != nil:
		e.logger.Warn(context.Background(), err, "template reload failed, keeping previous version", "template", name)
	default:
		e.mu.Lock()
		e.templates[name] = tmpl
		e.mu.Unlock()
		e.logger.Info(context.Background(), "template reloaded", "template", name)
	}
}

// Lookup returns the named template.
func (e *Engine) Lookup(name string) (*Template, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.templates[name]
	return t, ok
}

// Templates lists the loaded template names in sorted order.
func (e *Engine) Templates() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.templates))
	for n := range e.templates {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Render executes the named template with data into w.
func (e *Engine) Render(w io.Writer, name string, data any) error {
	t, ok := e.Lookup(name)
	if !ok {
		return kernel.Errorf(kernel.KindType, "template %q not found", name)
	}
	return t.Render(w, data)
}

// RenderString executes the named template and returns its output.
func (e *Engine) RenderString(name string, data any) (string, error) {
	t, ok := e.Lookup(name)
	if !ok {
		return "", kernel.Errorf(kernel.KindType, "template %q not found", name)
	}
	return t.RenderString(data)
}

// Close stops auto-reload, if enabled.
func (e *Engine) Close() error {
	if e.reloadManager == nil {
		return nil
	}
	return e.reloadManager.Stop()
}
