package synth

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/oarkflow/synth/internal/logging"
)

// ----------------------------- Template Reload Manager ----------------------

// DefaultExtensions are the template file extensions WatchDirectory picks
// up when none are given.
var DefaultExtensions = []string{".html", ".tpl", ".tmpl", ".shtml"}

// ReloadCallback is called when a watched template file is recompiled. A
// removed file is reported with a nil template and an error wrapping
// fs.ErrNotExist.
type ReloadCallback func(filename string, template *Template, err error)

// ReloadManager recompiles watched template files when they change on disk.
type ReloadManager struct {
	mu        sync.RWMutex
	watcher   *fsnotify.Watcher
	watched   map[string]*watchInfo
	dirs      map[string][]string
	callbacks []ReloadCallback
	opts      []Option
	logger    logging.Logger
	stopChan  chan struct{}
	done      chan struct{}
	started   bool
	stopped   bool
}

type watchInfo struct {
	lastModTime time.Time
	size        int64
	template    *Template
}

// NewReloadManager creates a reload manager compiling files with opts.
func NewReloadManager(opts ...Option) (*ReloadManager, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	return &ReloadManager{
		watcher:  w,
		watched:  make(map[string]*watchInfo),
		dirs:     make(map[string][]string),
		opts:     opts,
		logger:   newCompileOptions(opts).logger.WithComponent("reload"),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

func (rm *ReloadManager) compile(filename string) (*Template, error) {
	return compileFile(filename, newCompileOptions(rm.opts))
}

// WatchFile adds a file to be watched for changes. A nil template is
// compiled on demand by GetTemplate.
func (rm *ReloadManager) WatchFile(filename string, template *Template) error {
	filename = filepath.Clean(filename)
	info, err := os.Stat(filename)
	if err != nil {
		return fmt.Errorf("watching file %q: %w", filename, err)
	}
	dir := filepath.Dir(filename)

	rm.mu.Lock()
	defer rm.mu.Unlock()
	if _, ok := rm.dirs[dir]; !ok {
		if err := rm.watcher.Add(dir); err != nil {
			return fmt.Errorf("watching directory %q: %w", dir, err)
		}
		rm.dirs[dir] = nil
	}
	rm.watched[filename] = &watchInfo{
		lastModTime: info.ModTime(),
		size:        info.Size(),
		template:    template,
	}
	return nil
}

// WatchDirectory compiles and watches every template in dir whose
// extension is in exts, defaulting to DefaultExtensions. Files created in
// dir later are picked up too.
func (rm *ReloadManager) WatchDirectory(dir string, exts ...string) error {
	dir = filepath.Clean(dir)
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading directory %q: %w", dir, err)
	}
	if err := rm.watchDir(dir, exts); err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || !hasExt(entry.Name(), exts) {
			continue
		}
		filename := filepath.Join(dir, entry.Name())
		tmpl, err := rm.compile(filename)
		if err != nil {
			rm.logger.Warn(context.Background(), err, "skipping template", "file", filename)
		}
		if err := rm.WatchFile(filename, tmpl); err != nil {
			return err
		}
	}
	return nil
}

// watchDir registers dir for new-file discovery without compiling anything.
func (rm *ReloadManager) watchDir(dir string, exts []string) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if err := rm.watcher.Add(dir); err != nil {
		return fmt.Errorf("watching directory %q: %w", dir, err)
	}
	rm.dirs[dir] = exts
	return nil
}

func hasExt(name string, exts []string) bool {
	return slices.ContainsFunc(exts, func(ext string) bool { return strings.HasSuffix(name, ext) })
}

// AddCallback adds a callback to be called when templates are reloaded.
func (rm *ReloadManager) AddCallback(callback ReloadCallback) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.callbacks = append(rm.callbacks, callback)
}

// Start begins processing file events. It is a no-op after the first call.
func (rm *ReloadManager) Start() {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.started || rm.stopped {
		return
	}
	rm.started = true
	go rm.watchLoop()
}

// Stop stops event processing and releases the watcher.
func (rm *ReloadManager) Stop() error {
	rm.mu.Lock()
	if rm.stopped {
		rm.mu.Unlock()
		return nil
	}
	rm.stopped = true
	started := rm.started
	close(rm.stopChan)
	rm.mu.Unlock()

	if started {
		<-rm.done
	}
	return rm.watcher.Close()
}

// Watched lists the watched files in sorted order.
func (rm *ReloadManager) Watched() []string {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	files := make([]string, 0, len(rm.watched))
	for f := range rm.watched {
		files = append(files, f)
	}
	slices.Sort(files)
	return files
}

// GetTemplate returns the current template for a file, recompiling it if
// the file changed since the last compile.
func (rm *ReloadManager) GetTemplate(filename string) (*Template, error) {
	filename = filepath.Clean(filename)
	rm.mu.RLock()
	_, exists := rm.watched[filename]
	rm.mu.RUnlock()
	if !exists {
		return rm.compile(filename)
	}
	if err := rm.checkFile(filename); err != nil {
		return nil, err
	}
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	if info, ok := rm.watched[filename]; ok && info.template != nil {
		return info.template, nil
	}
	return nil, fmt.Errorf("template %q is not available", filename)
}

// watchLoop runs the file watching loop.
func (rm *ReloadManager) watchLoop() {
	defer close(rm.done)
	for {
		select {
		case <-rm.stopChan:
			return
		case ev, ok := <-rm.watcher.Events:
			if !ok {
				return
			}
			rm.handle(ev)
		case err, ok := <-rm.watcher.Errors:
			if !ok {
				return
			}
			rm.logger.Error(context.Background(), err, "file watcher error")
		}
	}
}

func (rm *ReloadManager) handle(ev fsnotify.Event) {
	filename := filepath.Clean(ev.Name)
	rm.mu.RLock()
	_, watched := rm.watched[filename]
	exts := rm.dirs[filepath.Dir(filename)]
	rm.mu.RUnlock()

	switch {
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		if watched {
			rm.forget(filename)
		}
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		if !watched {
			if len(exts) == 0 || !hasExt(filename, exts) {
				return
			}
			if err := rm.WatchFile(filename, nil); err != nil {
				return
			}
			rm.reload(filename)
			return
		}
		if err := rm.checkFile(filename); err != nil {
			rm.logger.Warn(context.Background(), err, "reload failed", "file", filename)
		}
	}
}

func (rm *ReloadManager) forget(filename string) {
	rm.mu.Lock()
	delete(rm.watched, filename)
	rm.mu.Unlock()
	rm.notify(filename, nil, fmt.Errorf("template %q: %w", filename, fs.ErrNotExist))
}

// checkFile recompiles filename when its modification time or size moved.
// A failed compile keeps the previous template and is returned.
func (rm *ReloadManager) checkFile(filename string) error {
	stat, err := os.Stat(filename)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			rm.forget(filename)
		}
		return err
	}
	rm.mu.RLock()
	info, exists := rm.watched[filename]
	changed := exists && (info.template == nil || !stat.ModTime().Equal(info.lastModTime) || stat.Size() != info.size)
	rm.mu.RUnlock()
	if !changed {
		return nil
	}
	return rm.reload(filename)
}

func (rm *ReloadManager) reload(filename string) error {
	stat, err := os.Stat(filename)
	if err != nil {
		return err
	}
	tmpl, err := rm.compile(filename)
	if err != nil {
		err = fmt.Errorf("reloading template %q: %w", filename, err)
		rm.notify(filename, nil, err)
		return err
	}

	rm.mu.Lock()
	if info, ok := rm.watched[filename]; ok {
		info.lastModTime = stat.ModTime()
		info.size = stat.Size()
		info.template = tmpl
	}
	rm.mu.Unlock()

	rm.logger.Debug(context.Background(), "template reloaded", "file", filename)
	rm.notify(filename, tmpl, nil)
	return nil
}

func (rm *ReloadManager) notify(filename string, tmpl *Template, err error) {
	rm.mu.RLock()
	callbacks := slices.Clone(rm.callbacks)
	rm.mu.RUnlock()
	for _, callback := range callbacks {
		callback(filename, tmpl, err)
	}
}
