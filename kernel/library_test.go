package kernel

import (
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oarkflow/synth/value"
)

func countingDefinition(name string, middles, lasts []string, calls *int) TagDefinition {
	return TagDefinition{
		Name:    name,
		Middles: middles,
		Lasts:   lasts,
		Factory: func(segments []Segment) Renderer {
			*calls++
			return func(_ Arguments, ctx *Context, w io.Writer) error {
				parts := make([]string, len(segments))
				for i, s := range segments {
					body, err := s.String(ctx)
					if err != nil {
						return err
					}
					parts[i] = s.Name() + ":" + body
				}
				_, err := io.WriteString(w, "("+strings.Join(parts, "|")+")")
				return err
			}
		},
	}
}

func TestLibraryStateMachine(t *testing.T) {
	var calls int
	st := NewLibraryState(nil)
	def := countingDefinition("if", []string{"else"}, []string{"endif"}, &calls)

	assert.False(t, st.Open(0, def, Segment{Pieces: []string{"if x", "if", "x"}}))
	assert.Equal(t, 1, st.Depth())
	assert.True(t, st.IsContinuation("else"))
	assert.False(t, st.IsContinuation("elif"))

	closed, err := st.Continue("else", []string{"else", "else"}, Segment{Pieces: []string{"else", "else"}})
	require.NoError(t, err)
	assert.False(t, closed)

	_, err = st.Continue("elif", nil, Segment{})
	assert.True(t, IsSyntax(err))

	closed, err = st.Continue("endif", []string{"endif", "endif"}, Segment{})
	require.NoError(t, err)
	assert.True(t, closed)
	assert.Equal(t, 0, st.Depth())
	assert.Equal(t, 1, calls)
	require.NoError(t, st.Finish())

	_, ok := st.Renderer(0)
	assert.True(t, ok)
	_, ok = st.Renderer(1)
	assert.False(t, ok)
}

func TestLibraryStateSingleTagClosesAtOnce(t *testing.T) {
	var calls int
	st := NewLibraryState(nil)
	assert.True(t, st.Open(5, countingDefinition("now", nil, nil, &calls), Segment{}))
	assert.Equal(t, 0, st.Depth())
	assert.Equal(t, 1, calls)
}

func TestLibraryStateFinishReportsOpenTag(t *testing.T) {
	var calls int
	st := NewLibraryState(nil)
	st.Open(3, countingDefinition("box", nil, []string{"endbox"}, &calls), Segment{})

	err := st.Finish()
	require.Error(t, err)
	assert.True(t, IsSyntax(err))
	assert.Zero(t, calls)
}

func TestLibraryLoad(t *testing.T) {
	upper := func(in value.Value, _ []value.Value, _ *Context) (value.Value, error) {
		return value.String(strings.ToUpper(in.String())), nil
	}
	loader := func(name string) (*Library, error) {
		if name != "lib" {
			return nil, fmt.Errorf("no library %q", name)
		}
		return &Library{
			Tags:    map[string]TagDefinition{"hello": SimpleTag("", func(Arguments, *Context) (value.Value, error) { return value.String("hi"), nil })},
			Filters: map[string]Filter{"shout": upper},
		}, nil
	}

	st := NewLibraryState([]Loader{loader})
	require.NoError(t, st.Load("lib", "shout"))
	_, ok := st.Definition("hello")
	assert.False(t, ok)
	_, ok = st.Filter("shout")
	assert.True(t, ok)

	require.NoError(t, st.Load("lib"))
	def, ok := st.Definition("hello")
	require.True(t, ok)
	assert.Equal(t, "hello", def.Name)

	err := st.Load("lib", "missing")
	assert.True(t, IsType(err))
	err = st.Load("other")
	assert.True(t, IsType(err))
	assert.ErrorContains(t, err, "no library")
}

func libraryKernel(t *testing.T, lib *Library) *Kernel {
	t.Helper()
	load := Tag{
		Name: "load",
		Syntax: func(p *Parser, t Token) (*Node, error) {
			if t.Kind != TokenTag || t.Name() != "load" {
				return nil, nil
			}
			if err := p.Library().Load(t.Rest()); err != nil {
				return nil, err
			}
			return &Node{}, nil
		},
		Render: Noop,
	}
	loader := func(string) (*Library, error) { return lib, nil }
	return newTestKernel(t, Options{Loaders: []Loader{loader}}, varTag, load, LibraryTag)
}

func TestLibraryTagNesting(t *testing.T) {
	var calls int
	k := libraryKernel(t, &Library{Tags: map[string]TagDefinition{
		"box": countingDefinition("box", []string{"mid"}, []string{"endbox", "stop"}, &calls),
	}})

	tests := []struct {
		src   string
		want  string
		calls int
	}{
		{"{% load lib %}{% box %}X{% endbox %}", "(box:X)", 1},
		{"{% load lib %}{% box %}a{% mid %}b{% mid %}c{% stop %}", "(box:a|mid:b|mid:c)", 1},
		{"{% load lib %}{% box %}{% box %}Y{% endbox %}{% endbox %}", "(box:(box:Y))", 2},
		{"{% load lib %}{% box %}1{% box %}2{% mid %}3{% endbox %}4{% mid %}5{% endbox %}", "(box:1(box:2|mid:3)4|mid:5)", 2},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			calls = 0
			assert.Equal(t, tt.want, renderSource(t, k, tt.src, nil))
			assert.Equal(t, tt.calls, calls)
		})
	}
}

func TestLibraryTagArguments(t *testing.T) {
	var got Arguments
	k := libraryKernel(t, &Library{Tags: map[string]TagDefinition{
		"args": {Factory: func([]Segment) Renderer {
			return func(args Arguments, _ *Context, _ io.Writer) error {
				got = args
				return nil
			}
		}},
	}})

	renderSource(t, k, "{% load lib %}{% args 1 'two' unknown key=name %}", map[string]value.Value{"name": value.String("n")})
	require.Len(t, got.Positional, 3)
	assert.Equal(t, "1", got.Positional[0].String())
	assert.Equal(t, "two", got.Positional[1].String())
	assert.True(t, got.Positional[2].IsNone())
	assert.Equal(t, "n", got.Named["key"].String())
}

func TestLibraryTagErrors(t *testing.T) {
	var calls int
	k := libraryKernel(t, &Library{Tags: map[string]TagDefinition{
		"box": countingDefinition("box", nil, []string{"endbox"}, &calls),
	}})

	_, err := k.Parse("t", "{% load lib %}{% box %}open")
	assert.True(t, IsSyntax(err))

	_, err = k.Parse("t", "{% load lib %}{% endbox %}")
	assert.True(t, IsSyntax(err))

	_, err = k.Parse("t", "{% box %}{% endbox %}")
	assert.True(t, IsSyntax(err), "definitions are only matched after load")

	r, err := k.Parse("t", "{% load lib %}{% box %}{% endbox %}")
	require.NoError(t, err)
	r.Root[1].Pos = 999
	err = k.Render(r, NewContext(nil), io.Discard)
	assert.True(t, IsInternal(err))
}
