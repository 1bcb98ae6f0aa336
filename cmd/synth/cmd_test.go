package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer lets watch callbacks and the test share output.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func run(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr syncBuffer
	root := newRootCmd(strings.NewReader(stdin), &stdout, &stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func TestRenderStdout(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "nav.html", "[{{ user.name }}]")
	page := writeFile(t, dir, "page.html", `{% include "nav.html" %} {{ n|add:1 }} {{ html }}`)

	out, _, err := run(t, "", "render", "--set", "user.name=Ann", "--set", "n=2", "--set", "html=<b>", page)
	require.NoError(t, err)
	assert.Equal(t, "[Ann] 3 &lt;b&gt;", out)

	out, _, err = run(t, "", "render", "--autoescape=false", "--set", "user.name=Ann", "--set", "n=2", "--set", "html=<b>", page)
	require.NoError(t, err)
	assert.Equal(t, "[Ann] 3 <b>", out)
}

func TestRenderStdin(t *testing.T) {
	out, _, err := run(t, "Hello {{ who }}", "render", "--set", "who=stdin", "-")
	require.NoError(t, err)
	assert.Equal(t, "Hello stdin", out)

	out, _, err = run(t, "<TMPL_VAR who>", "render", "--dialect", "tmpl", "--set", "who=tmpl", "-")
	require.NoError(t, err)
	assert.Equal(t, "tmpl", out)
}

func TestRenderDataFilesToDirectory(t *testing.T) {
	dir := t.TempDir()
	data := writeFile(t, dir, "site.yaml", "title: Products\nitems: [Alpha, Beta]\n")
	extra := writeFile(t, dir, "extra.json", `{"title": "Catalog"}`)
	django := writeFile(t, dir, "a.html", "{% for i in items %}{{ i }};{% endfor %}{{ title }}")
	ssi := writeFile(t, dir, "b.shtml", `<!--#echo var="title" -->`)
	tmpl := writeFile(t, dir, "c.tmpl", "<TMPL_LOOP items><TMPL_VAR title></TMPL_LOOP>")
	out := filepath.Join(dir, "out")

	stdout, _, err := run(t, "", "render", "-d", data, "-d", extra, "-o", out, "-j", "2", django, ssi, tmpl)
	require.NoError(t, err)
	assert.Empty(t, stdout)
	assert.Equal(t, "Alpha;Beta;Catalog", readFile(t, filepath.Join(out, "a.html")))
	assert.Equal(t, "Catalog", readFile(t, filepath.Join(out, "b.shtml")))
	assert.Equal(t, "CatalogCatalog", readFile(t, filepath.Join(out, "c.tmpl")))
}

func TestRenderRejectsCollidingOutputNames(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a/x.html", "A")
	b := writeFile(t, dir, "b/x.html", "B")
	out := filepath.Join(dir, "out")

	_, _, err := run(t, "", "render", "-o", out, a, b)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "would both be written to x.html")
	_, statErr := os.Stat(filepath.Join(out, "x.html"))
	assert.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestRenderSingleOutputFile(t *testing.T) {
	dir := t.TempDir()
	page := writeFile(t, dir, "page.html", "{{ x }}")
	target := filepath.Join(dir, "page.out")

	_, _, err := run(t, "", "render", "--set", "x=42", "-o", target, page)
	require.NoError(t, err)
	assert.Equal(t, "42", readFile(t, target))
}

func TestRenderErrors(t *testing.T) {
	dir := t.TempDir()
	bad := writeFile(t, dir, "bad.html", "{% if x %}")

	_, _, err := run(t, "", "render", bad)
	assert.Error(t, err)

	_, _, err = run(t, "", "render", filepath.Join(dir, "missing.html"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, _, err = run(t, "", "render", "--set", "novalue", bad)
	assert.Error(t, err)

	_, _, err = run(t, "", "render", "-d", filepath.Join(dir, "data.xml"), bad)
	assert.ErrorContains(t, err, "unknown data file format")

	_, _, err = run(t, "", "render")
	assert.Error(t, err)
}

func TestCheck(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "good.html", "{{ x }}")
	writeFile(t, dir, "nested/ok.shtml", `<!--#echo var="x" -->`)
	writeFile(t, dir, "nested/bad.html", "{% if x %}")
	writeFile(t, dir, "notes.txt", "{% if x %}")

	out, _, err := run(t, "", "check", "--color", "off", dir)
	require.Error(t, err)
	assert.Equal(t, "1 of 3 templates failed", err.Error())
	assert.Contains(t, out, "ok   "+filepath.Join(dir, "good.html"))
	assert.Contains(t, out, "ok   "+filepath.Join(dir, "nested", "ok.shtml"))
	assert.Contains(t, out, "FAIL "+filepath.Join(dir, "nested", "bad.html"))
	assert.NotContains(t, out, "notes.txt")

	_, _, err = run(t, "", "check", filepath.Join(dir, "good.html"))
	assert.NoError(t, err)
}

func TestConfiguration(t *testing.T) {
	dir := t.TempDir()
	page := writeFile(t, dir, "page.html", "<TMPL_VAR x>")
	cfg := writeFile(t, dir, "synth.yaml", "dialect: tmpl\n")

	out, _, err := run(t, "", "render", "--config", cfg, "--set", "x=1", page)
	require.NoError(t, err)
	assert.Equal(t, "1", out)

	t.Setenv("SYNTH_DIALECT", "django")
	out, _, err = run(t, "", "render", "--config", cfg, "--set", "x=1", page)
	require.NoError(t, err)
	assert.Equal(t, "<TMPL_VAR x>", out)

	out, _, err = run(t, "", "render", "--config", cfg, "--dialect", "tmpl", "--set", "x=1", page)
	require.NoError(t, err)
	assert.Equal(t, "1", out)

	_, _, err = run(t, "", "render", "--color", "sometimes", page)
	assert.ErrorContains(t, err, "unknown color mode")

	_, _, err = run(t, "", "render", "--log-level", "loud", page)
	assert.ErrorContains(t, err, "log.level")
}

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	out := filepath.Join(dir, "out")
	writeFile(t, src, "page.html", "v1 {{ name }}")

	var stdout, stderr syncBuffer
	root := newRootCmd(strings.NewReader(""), &stdout, &stderr)
	root.SetArgs([]string{"watch", "--set", "name=Ann", "-o", out, src})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- root.ExecuteContext(ctx) }()

	rendered := func(name, want string) func() bool {
		return func() bool {
			b, err := os.ReadFile(filepath.Join(out, name))
			return err == nil && string(b) == want
		}
	}
	require.Eventually(t, rendered("page.html", "v1 Ann"), 5*time.Second, 20*time.Millisecond)

	tmp := filepath.Join(dir, "page.tmp")
	require.NoError(t, os.WriteFile(tmp, []byte("version two {{ name }}"), 0o644))
	require.NoError(t, os.Rename(tmp, filepath.Join(src, "page.html")))
	require.Eventually(t, rendered("page.html", "version two Ann"), 5*time.Second, 20*time.Millisecond)

	writeFile(t, src, "new.html", "new {{ name }}")
	require.Eventually(t, rendered("new.html", "new Ann"), 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
	assert.Contains(t, stderr.String(), "watching templates")
}

func TestWatchRejectsOutputInsideSource(t *testing.T) {
	dir := t.TempDir()
	_, _, err := run(t, "", "watch", "-o", dir, dir)
	assert.ErrorContains(t, err, "must differ")
}
