package synth

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileCache(t *testing.T) {
	cc := NewCompileCache(2, WithAutoescape(false))
	a, err := cc.Compile("{{ a }}")
	require.NoError(t, err)
	again, err := cc.Compile("{{ a }}")
	require.NoError(t, err)
	assert.Same(t, a, again)

	out, err := a.RenderString(map[string]any{"a": "<i>"})
	require.NoError(t, err)
	assert.Equal(t, "<i>", out, "cache options apply")

	_, err = cc.Compile("{{ b }}")
	require.NoError(t, err)
	_, err = cc.Compile("{{ c }}")
	require.NoError(t, err)
	assert.Equal(t, 2, cc.Len())

	_, err = cc.Compile("{% if x %}")
	assert.Error(t, err)
	assert.Equal(t, 2, cc.Len())
}

func TestCompileCached(t *testing.T) {
	a, err := CompileCached("cached {{ x }}")
	require.NoError(t, err)
	b, err := CompileCached("cached {{ x }}")
	require.NoError(t, err)
	assert.Same(t, a, b)

	c, err := CompileCached("cached {{ x }}", WithAutoescape(false))
	require.NoError(t, err)
	assert.NotSame(t, a, c)
}

func TestFileCacheRecompilesOnChange(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "page.html", "v1")
	fc := NewFileCache(10)

	first, err := fc.CompileFile(path)
	require.NoError(t, err)
	second, err := fc.CompileFile(path)
	require.NoError(t, err)
	assert.Same(t, first, second)

	require.NoError(t, os.WriteFile(path, []byte("v2"), 0o644))
	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, later, later))

	third, err := fc.CompileFile(path)
	require.NoError(t, err)
	assert.NotSame(t, first, third)
	out, err := third.RenderString(nil)
	require.NoError(t, err)
	assert.Equal(t, "v2", out)

	fc.Forget(path)
	fourth, err := fc.CompileFile(path)
	require.NoError(t, err)
	assert.NotSame(t, third, fourth)

	fc.ClearCache()
	_, err = fc.CompileFile(filepath.Join(dir, "gone.html"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestFileCacheConcurrentMisses(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "page.shtml", `<!--#echo var="x" -->`)
	fc := NewFileCache(10)

	var wg sync.WaitGroup
	results := make([]*Template, 16)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tmpl, err := fc.CompileFile(path)
			assert.NoError(t, err)
			results[i] = tmpl
		}()
	}
	wg.Wait()

	final, err := fc.CompileFile(path)
	require.NoError(t, err)
	assert.Equal(t, SSI, final.Dialect())
	for _, r := range results {
		require.NotNil(t, r)
		assert.Equal(t, SSI, r.Dialect())
	}
}

func TestCompileFileUsesGlobalCacheWithoutOptions(t *testing.T) {
	path := writeFile(t, t.TempDir(), "x.html", "x")
	a, err := CompileFile(path)
	require.NoError(t, err)
	b, err := CompileFile(path)
	require.NoError(t, err)
	assert.Same(t, a, b)

	c, err := CompileFile(path, WithAutoescape(false))
	require.NoError(t, err)
	assert.NotSame(t, a, c)
}
