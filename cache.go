package synth

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ----------------------------- Template compilation cache -------------------

// CompileCache memoizes templates compiled from source strings. Every entry
// shares the options the cache was built with.
type CompileCache struct {
	mu        sync.RWMutex
	templates map[string]*Template
	maxSize   int
	opts      []Option
}

// NewCompileCache creates a cache holding at most maxSize templates.
func NewCompileCache(maxSize int, opts ...Option) *CompileCache {
	return &CompileCache{
		templates: make(map[string]*Template),
		maxSize:   maxSize,
		opts:      opts,
	}
}

var globalCompileCache = NewCompileCache(500)

// CompileCached compiles src with in-memory caching. Only calls without
// options hit the cache.
func CompileCached(src string, opts ...Option) (*Template, error) {
	if len(opts) > 0 {
		return Compile(src, opts...)
	}
	return globalCompileCache.Compile(src)
}

// Compile returns the cached template for src, compiling it on a miss.
func (cc *CompileCache) Compile(src string) (*Template, error) {
	cc.mu.RLock()
	tmpl, exists := cc.templates[src]
	cc.mu.RUnlock()
	if exists {
		return tmpl, nil
	}

	tmpl, err := Compile(src, cc.opts...)
	if err != nil {
		return nil, err
	}

	cc.mu.Lock()
	evictOne(cc.templates, cc.maxSize)
	cc.templates[src] = tmpl
	cc.mu.Unlock()
	return tmpl, nil
}

// Len reports the number of cached templates.
func (cc *CompileCache) Len() int {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	return len(cc.templates)
}

// evictOne drops an arbitrary entry once m is full.
func evictOne[V any](m map[string]V, maxSize int) {
	if maxSize <= 0 || len(m) < maxSize {
		return
	}
	for k := range m {
		delete(m, k)
		return
	}
}

// ----------------------------- File cache -----------------------------------

// FileCache compiles template files, recompiling one whenever its
// modification time moves past the cached copy.
type FileCache struct {
	mu        sync.RWMutex
	templates map[string]*cachedTemplate
	maxSize   int
	opts      []Option
	group     singleflight.Group
}

type cachedTemplate struct {
	template *Template
	modTime  time.Time
}

var globalFileCache = NewFileCache(1000)

// NewFileCache creates a file cache with the specified max size. Every file
// is compiled with opts.
func NewFileCache(maxSize int, opts ...Option) *FileCache {
	return &FileCache{
		templates: make(map[string]*cachedTemplate),
		maxSize:   maxSize,
		opts:      opts,
	}
}

// CompileFile compiles a template file. Only calls without options use the
// shared file cache.
func CompileFile(filename string, opts ...Option) (*Template, error) {
	if len(opts) > 0 {
		co := newCompileOptions(opts)
		tmpl, err := compileFile(filename, co)
		if err != nil {
			return nil, fmt.Errorf("compiling template %q: %w", filename, err)
		}
		return tmpl, nil
	}
	return globalFileCache.CompileFile(filename)
}

// CompileFile returns the cached template for filename unless the file
// changed since it was compiled. Concurrent misses compile once.
func (fc *FileCache) CompileFile(filename string) (*Template, error) {
	info, err := os.Stat(filename)
	if err != nil {
		return nil, fmt.Errorf("template file %q: %w", filename, err)
	}

	key := filepath.Clean(filename)
	fc.mu.RLock()
	cached, exists := fc.templates[key]
	fc.mu.RUnlock()
	if exists && !cached.modTime.Before(info.ModTime()) {
		return cached.template, nil
	}

	v, err, _ := fc.group.Do(key, func() (any, error) {
		tmpl, err := compileFile(filename, newCompileOptions(fc.opts))
		if err != nil {
			return nil, fmt.Errorf("compiling template %q: %w", filename, err)
		}
		fc.mu.Lock()
		evictOne(fc.templates, fc.maxSize)
		fc.templates[key] = &cachedTemplate{template: tmpl, modTime: info.ModTime()}
		fc.mu.Unlock()
		return tmpl, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Template), nil
}

// Forget drops filename from the cache.
func (fc *FileCache) Forget(filename string) {
	fc.mu.Lock()
	delete(fc.templates, filepath.Clean(filename))
	fc.mu.Unlock()
}

// ClearCache clears the file cache.
func (fc *FileCache) ClearCache() {
	fc.mu.Lock()
	fc.templates = make(map[string]*cachedTemplate)
	fc.mu.Unlock()
}
