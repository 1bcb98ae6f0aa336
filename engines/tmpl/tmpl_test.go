package tmpl

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oarkflow/synth/kernel"
	"github.com/oarkflow/synth/value"
)

func testVars() map[string]value.Value {
	friend := func(name, age string) value.Value {
		return value.Map(map[string]value.Value{"name": value.String(name), "age": value.String(age)})
	}
	return map[string]value.Value{
		"foo":       value.String("A"),
		"bar":       value.String("B"),
		"qux":       value.String("C"),
		"true_var":  value.Bool(true),
		"false_var": value.Bool(false),
		"friends":   value.Seq(friend("joe", "23"), friend("bob", "55"), friend("lou", "41")),
		"markup":    value.String("<b>a b</b>"),
	}
}

func newEngine(t *testing.T, configure ...func(*Options)) *Engine {
	t.Helper()
	var opts Options
	for _, c := range configure {
		c(&opts)
	}
	e, err := New(opts)
	require.NoError(t, err)
	return e
}

func render(t *testing.T, e *Engine, src string) string {
	t.Helper()
	out, err := e.RenderString(src, testVars())
	require.NoError(t, err)
	return out
}

func TestVariables(t *testing.T) {
	e := newEngine(t)

	tests := []struct {
		name string
		src  string
		want string
	}{
		{"single tag", "<TMPL_VAR foo>", "A"},
		{"alternative tag", "<!--TMPL_VAR foo -->", "A"},
		{"lower-case tag", "<tmpl_var foo>", "A"},
		{"shortcut variables", "<TMPL_VAR foo><TMPL_VAR BAR><TMPL_VAR qUx>", "ABC"},
		{"qualified variables", "<TMPL_VAR NAME='foo'><TMPL_VAR NAME='BAR'><TMPL_VAR NAME='qUx'>", "ABC"},
		{"single quotes", "A<TMPL_VAR NAME='bar'>C", "ABC"},
		{"double quotes", `A<TMPL_VAR NAME="bar">C`, "ABC"},
		{"self-closing", "<TMPL_VAR foo />", "A"},
		{
			"default variables",
			"<TMPL_VAR foo>\n<TMPL_VAR foo DEFAULT=B>\n<TMPL_VAR DEFAULT=B foo>\n" +
				"<TMPL_VAR non_extant>A\n<TMPL_VAR non_extant DEFAULT=A>\n<TMPL_VAR DEFAULT=A non_extant>\n",
			"A\nA\nA\nA\nA\nA\n",
		},
		{"quoted default", `<TMPL_VAR nope DEFAULT="x y">`, "x y"},
		{"html tags", "<foo>\nA foo <bar /> element.\n</foo>", "<foo>\nA foo <bar /> element.\n</foo>"},
		{"comment tag", "<TMPL_COMMENT> A comment <TMPL_VAR foo> </TMPL_COMMENT>", ""},
		{"html escape", "<TMPL_VAR markup ESCAPE=HTML>", "&lt;b&gt;a b&lt;/b&gt;"},
		{"url escape", "<TMPL_VAR markup escape=url>", "%3Cb%3Ea+b%3C%2Fb%3E"},
		{"no escape", "<TMPL_VAR markup ESCAPE=0>", "<b>a b</b>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, render(t, e, tt.src))
		})
	}
}

func TestDefaultEscape(t *testing.T) {
	e := newEngine(t, func(o *Options) { o.DefaultEscape = "html" })
	assert.Equal(t, "&lt;b&gt;a b&lt;/b&gt;|<b>a b</b>", render(t, e, "<TMPL_VAR markup>|<TMPL_VAR markup ESCAPE=NONE>"))

	_, err := New(Options{DefaultEscape: "rot13"})
	assert.True(t, kernel.IsType(err))
}

func TestConditionals(t *testing.T) {
	e := newEngine(t)

	tests := []struct {
		name string
		src  string
		want string
	}{
		{"simple if", "<TMPL_IF true_var>Good</TMPL_IF>", "Good"},
		{
			"compound if",
			"<TMPL_IF non_extant>Bad<TMPL_ELSE>Good</TMPL_IF> " +
				"<TMPL_IF true_var>Good<TMPL_ELSE>Bad</TMPL_IF> " +
				"<TMPL_IF false_var>Bad<TMPL_ELSE>Good</TMPL_IF>",
			"Good Good Good",
		},
		{"simple unless", "<TMPL_UNLESS false_var>Good</TMPL_UNLESS>", "Good"},
		{
			"compound unless",
			"<TMPL_UNLESS non_extant>Good<TMPL_ELSE>Bad</TMPL_UNLESS> " +
				"<TMPL_UNLESS true_var>Bad<TMPL_ELSE>Good</TMPL_UNLESS> " +
				"<TMPL_UNLESS false_var>Good<TMPL_ELSE>Bad</TMPL_UNLESS>",
			"Good Good Good",
		},
		{"non-empty loop is true", "<TMPL_IF friends>yes</TMPL_IF>", "yes"},
		{"comment form", "<!--TMPL_IF true_var -->Good<!--TMPL_ELSE -->Bad<!--/TMPL_IF -->", "Good"},
		{"nested", "<TMPL_IF true_var><TMPL_UNLESS false_var>Good</TMPL_UNLESS></TMPL_IF>", "Good"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, render(t, e, tt.src))
		})
	}
}

func TestIfWithoutNameFailsAtRender(t *testing.T) {
	e := newEngine(t)
	r, err := e.Parse("t", "<TMPL_IF>Bad</TMPL_IF>")
	require.NoError(t, err)

	var sb strings.Builder
	err = e.Kernel().Render(r, e.NewContext(nil), &sb)
	assert.True(t, kernel.IsType(err))
	assert.Empty(t, sb.String())
}

func TestSyntaxErrors(t *testing.T) {
	e := newEngine(t)

	for _, src := range []string{
		"<TMPL_ VAR foo>",
		"<TMPL_IF true_var>Bad</TMPL_UNLESS>",
		"<TMPL_IF true_var>Bad",
		"<TMPL_LOOP friends>",
		"</TMPL_IF>",
		"<TMPL_ELSE>",
		"<TMPL_NOPE foo>",
		"<TMPL_VAR>",
		"<TMPL_VAR foo",
		"<TMPL_VAR foo bar>",
		"<TMPL_VAR foo COLOR=red>",
		"<TMPL_VAR foo ESCAPE=rot13>",
		"<TMPL_VARfoo>",
		"</TMPL_IF true_var>",
		"<TMPL_COMMENT> open",
	} {
		_, err := e.Parse("t", src)
		assert.True(t, kernel.IsSyntax(err), src)
	}
}

func TestSyntaxErrorLine(t *testing.T) {
	_, err := newEngine(t).Parse("page", "one\ntwo\n<TMPL_ VAR foo>")
	var te *kernel.Error
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 3, te.Line)
	assert.Equal(t, "page", te.Template)
}

func TestLoop(t *testing.T) {
	e := newEngine(t)

	tests := []struct {
		name string
		src  string
		want string
	}{
		{"loop tag", "<TMPL_LOOP friends><TMPL_VAR name>: <TMPL_VAR age>; </TMPL_LOOP>", "joe: 23; bob: 55; lou: 41; "},
		{"empty loop element", "<TMPL_LOOP friends></TMPL_LOOP>", ""},
		{"missing loop", "<TMPL_LOOP nobody>x</TMPL_LOOP>", ""},
		{"outer scope visible", "<TMPL_LOOP friends><TMPL_VAR foo></TMPL_LOOP>", "AAA"},
		{"__SIZE__", "<TMPL_LOOP friends><TMPL_VAR __SIZE__> </TMPL_LOOP>", "3 3 3 "},
		{"__TOTAL__", "<TMPL_LOOP friends><TMPL_VAR __TOTAL__> </TMPL_LOOP>", "3 3 3 "},
		{"__FIRST__", "<TMPL_LOOP friends><TMPL_VAR __FIRST__> </TMPL_LOOP>", "1 0 0 "},
		{"__LAST__", "<TMPL_LOOP friends><TMPL_VAR __LAST__> </TMPL_LOOP>", "0 0 1 "},
		{"__INNER__", "<TMPL_LOOP friends><TMPL_VAR __INNER__> </TMPL_LOOP>", "0 1 0 "},
		{"__OUTER__", "<TMPL_LOOP friends><TMPL_VAR __OUTER__> </TMPL_LOOP>", "1 0 1 "},
		{"__ODD__", "<TMPL_LOOP friends><TMPL_VAR __ODD__> </TMPL_LOOP>", "1 0 1 "},
		{"__EVEN__", "<TMPL_LOOP friends><TMPL_VAR __EVEN__> </TMPL_LOOP>", "0 1 0 "},
		{"__COUNTER__", "<TMPL_LOOP friends><TMPL_VAR __COUNTER__> </TMPL_LOOP>", "1 2 3 "},
		{"lower-case loop variable", "<TMPL_LOOP friends><TMPL_VAR __counter__></TMPL_LOOP>", "123"},
		{"if on loop variable", "<TMPL_LOOP friends><TMPL_VAR name><TMPL_UNLESS __LAST__>, </TMPL_UNLESS></TMPL_LOOP>", "joe, bob, lou"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, render(t, e, tt.src))
		})
	}
}

func TestLoopErrors(t *testing.T) {
	e := newEngine(t)
	_, err := e.RenderString("<TMPL_LOOP foo>x</TMPL_LOOP>", map[string]value.Value{"foo": value.Int(3)})
	assert.True(t, kernel.IsType(err))

	_, err = e.RenderString("<TMPL_LOOP>x</TMPL_LOOP>", nil)
	assert.True(t, kernel.IsType(err))
}

func TestInclude(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"variables.tmpl": "<TMPL_VAR foo><TMPL_VAR bar><TMPL_VAR qux>",
		"example.tmpl":   "============\n<TMPL_INCLUDE NAME=\"variables.tmpl\">|\n<!--TMPL_INCLUDE variables.tmpl -->\n============",
		"self.tmpl":      "x<TMPL_INCLUDE self.tmpl>",
	}
	for name, src := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(src), 0o644))
	}
	e := newEngine(t, func(o *Options) {
		o.Directory = dir
		o.MaxDepth = 3
	})

	assert.Equal(t, "ABC", render(t, e, "<TMPL_INCLUDE variables.tmpl>"))
	assert.Equal(t, "============\nABC|\nABC\n============", render(t, e, "<TMPL_INCLUDE example.tmpl>"))

	_, err := e.RenderString("<TMPL_INCLUDE self.tmpl>", nil)
	assert.ErrorContains(t, err, "maximum template depth 3")

	_, err = e.RenderString("<TMPL_INCLUDE missing.tmpl>", nil)
	assert.True(t, kernel.IsType(err))

	_, err = e.Parse("t", "<TMPL_INCLUDE>")
	assert.True(t, kernel.IsSyntax(err))
}

func TestLexer(t *testing.T) {
	toks, err := Lexer{}.Lex(`a<TMPL_VAR NAME="x>y"></TMPL_LOOP><!--tmpl_if z -->b`)
	require.NoError(t, err)

	want := []kernel.Token{
		{Kind: kernel.TokenText, Pos: 0, End: 1, Content: "a"},
		{Kind: kernel.TokenTag, Pos: 1, End: 22, Content: `var NAME="x>y"`},
		{Kind: kernel.TokenTag, Pos: 22, End: 34, Content: "/loop"},
		{Kind: kernel.TokenTag, Pos: 34, End: 51, Content: "if z"},
		{Kind: kernel.TokenText, Pos: 51, End: 52, Content: "b"},
	}
	if diff := cmp.Diff(want, toks); diff != "" {
		t.Errorf("tokens mismatch (-want +got):\n%s", diff)
	}
}
