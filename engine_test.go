package synth

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/oarkflow/synth/kernel"
)

func siteDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, "base.html", `<title>{% block title %}Site{% endblock %}</title>{% block body %}{% endblock %}`)
	writeFile(t, dir, "index.html", `{% extends "base.html" %}{% block title %}Home{% endblock %}{% block body %}{% include "partials/nav.html" %}{{ user }}{% endblock %}`)
	writeFile(t, dir, "partials/nav.html", `[nav]`)
	writeFile(t, dir, "notes.txt", `not a template {% if x %}`)
	return dir
}

func TestEngineLoadsDirectory(t *testing.T) {
	e, err := NewEngine(siteDir(t), ".html")
	require.NoError(t, err)
	defer e.Close()

	assert.Equal(t, []string{"base", "index", "partials/nav"}, e.Templates())

	out, err := e.RenderString("index", map[string]any{"user": "<ann>"})
	require.NoError(t, err)
	assert.Equal(t, "<title>Home</title>[nav]&lt;ann&gt;", out)

	var buf bytes.Buffer
	require.NoError(t, e.Render(&buf, "partials/nav", nil))
	assert.Equal(t, "[nav]", buf.String())

	err = e.Render(&buf, "nope", nil)
	assert.ErrorIs(t, err, &kernel.Error{Kind: kernel.KindType})
}

func TestEngineCompileOptions(t *testing.T) {
	e, err := NewEngine(siteDir(t), ".html", WithCompileOptions(WithAutoescape(false)))
	require.NoError(t, err)
	out, err := e.RenderString("index", map[string]any{"user": "<ann>"})
	require.NoError(t, err)
	assert.Equal(t, "<title>Home</title>[nav]<ann>", out)
}

func TestEngineReportsAllCompileErrors(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.html", "{% if x %}")
	writeFile(t, dir, "b.html", "{% for %}")
	_, err := NewEngine(dir, ".html")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a.html")
	assert.Contains(t, err.Error(), "b.html")

	_, err = NewEngine(filepath.Join(dir, "missing"), ".html")
	assert.Error(t, err)
}

func TestEngineConcurrentRenders(t *testing.T) {
	e, err := NewEngine(siteDir(t), ".html")
	require.NoError(t, err)

	var g errgroup.Group
	outs := make([]string, 32)
	for i := range outs {
		g.Go(func() error {
			out, err := e.RenderString("index", map[string]any{"user": i})
			outs[i] = out
			return err
		})
	}
	require.NoError(t, g.Wait())
	for i, out := range outs {
		assert.Contains(t, out, "[nav]"+strconv.Itoa(i))
	}
}

// replaceFile swaps content in with a rename so watchers never see a
// truncated file.
func replaceFile(t *testing.T, path, content string) {
	t.Helper()
	tmp := path + ".tmp"
	require.NoError(t, os.WriteFile(tmp, []byte(content), 0o644))
	require.NoError(t, os.Rename(tmp, path))
}

func TestEngineAutoReload(t *testing.T) {
	dir := siteDir(t)
	e, err := NewEngine(dir, ".html", WithAutoReload(true))
	require.NoError(t, err)
	defer e.Close()

	replaceFile(t, filepath.Join(dir, "partials", "nav.html"), `[menu]`)
	require.Eventually(t, func() bool {
		out, err := e.RenderString("partials/nav", nil)
		return err == nil && out == "[menu]"
	}, 5*time.Second, 20*time.Millisecond)

	writeFile(t, dir, "extra.html", `extra {{ n }}`)
	require.Eventually(t, func() bool {
		_, ok := e.Lookup("extra")
		return ok
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, os.Remove(filepath.Join(dir, "extra.html")))
	require.Eventually(t, func() bool {
		_, ok := e.Lookup("extra")
		return !ok
	}, 5*time.Second, 20*time.Millisecond)

	// A broken edit keeps the previous version.
	replaceFile(t, filepath.Join(dir, "partials", "nav.html"), `{% if x %}`)
	time.Sleep(200 * time.Millisecond)
	out, err := e.RenderString("partials/nav", nil)
	require.NoError(t, err)
	assert.Equal(t, "[menu]", out)
}

func TestEngineCloseIsIdempotent(t *testing.T) {
	e, err := NewEngine(siteDir(t), ".html", WithAutoReload(true))
	require.NoError(t, err)
	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, e.Close())
		}()
	}
	wg.Wait()
}
