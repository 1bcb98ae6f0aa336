package django

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"unicode"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oarkflow/synth/kernel"
	"github.com/oarkflow/synth/value"
)

func rot13(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return 'a' + (r-'a'+13)%26
		case r >= 'A' && r <= 'Z':
			return 'A' + (r-'A'+13)%26
		}
		return r
	}, s)
}

func flip(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLower(r) {
			return unicode.ToUpper(r)
		}
		return unicode.ToLower(r)
	}, s)
}

func ackermann(m, n int64) int64 {
	switch {
	case m == 0:
		return n + 1
	case n == 0:
		return ackermann(m-1, 1)
	}
	return ackermann(m-1, ackermann(m, n-1))
}

func codec(segments []kernel.Segment, args kernel.Arguments, ctx *kernel.Context, w io.Writer) error {
	s, err := segments[0].String(ctx)
	if err != nil {
		return err
	}
	if len(args.Positional) == 0 || args.Positional[0].String() != "rot13" {
		return errors.New("unsupported codec")
	}
	_, err = io.WriteString(w, rot13(s))
	return err
}

func passthrough(in value.Value, _ []value.Value, _ *kernel.Context) (value.Value, error) {
	return in, nil
}

func constant(s string) func(kernel.Arguments, *kernel.Context) (value.Value, error) {
	return func(kernel.Arguments, *kernel.Context) (value.Value, error) { return value.String(s), nil }
}

func testLoader(name string) (*kernel.Library, error) {
	switch name {
	case "empty_library":
		return &kernel.Library{}, nil
	case "dummy.tags.and.filters":
		return &kernel.Library{
			Tags: map[string]kernel.TagDefinition{
				"a": kernel.SimpleTag("a", constant("")),
				"b": kernel.SimpleTag("b", constant("")),
				"c": kernel.SimpleTag("c", constant("")),
			},
			Filters: map[string]kernel.Filter{"x": passthrough, "y": passthrough, "z": passthrough},
		}, nil
	case "test_filters":
		return &kernel.Library{Filters: map[string]kernel.Filter{
			"flip": func(in value.Value, _ []value.Value, _ *kernel.Context) (value.Value, error) {
				return value.String(flip(in.String())), nil
			},
		}}, nil
	case "test_tags":
		return &kernel.Library{Tags: map[string]kernel.TagDefinition{
			"answer_to_life": kernel.SimpleTag("answer_to_life", func(kernel.Arguments, *kernel.Context) (value.Value, error) {
				return value.Int(42), nil
			}),
			"identity": kernel.SimpleTag("identity", func(args kernel.Arguments, _ *kernel.Context) (value.Value, error) {
				return args.Positional[0], nil
			}),
			"ackermann": kernel.SimpleTag("ackermann", func(args kernel.Arguments, _ *kernel.Context) (value.Value, error) {
				m, err := args.Positional[0].Number()
				if err != nil {
					return value.Value{}, err
				}
				n, err := args.Positional[1].Number()
				if err != nil {
					return value.Value{}, err
				}
				return value.Int(ackermann(int64(m), int64(n))), nil
			}),
			"add": kernel.SimpleTag("add", func(args kernel.Arguments, _ *kernel.Context) (value.Value, error) {
				sum := 0.0
				for _, a := range args.Positional {
					n, err := a.Number()
					if err != nil {
						return value.Value{}, err
					}
					sum += n
				}
				return value.Float(sum), nil
			}),
			"set": kernel.PolyadicTag("set", nil, nil, func(segments []kernel.Segment, _ kernel.Arguments, ctx *kernel.Context, _ io.Writer) error {
				pieces := segments[0].Pieces
				ctx.Set(pieces[2], value.String(pieces[3]))
				return nil
			}),
			"unset": kernel.PolyadicTag("unset", nil, nil, func(segments []kernel.Segment, _ kernel.Arguments, ctx *kernel.Context, _ io.Writer) error {
				ctx.Delete(segments[0].Pieces[2])
				return nil
			}),
			"encode": kernel.BlockTag("encode", codec),
			"decode": kernel.BlockTag("decode", codec),
			"unless": kernel.PolyadicTag("unless", []string{"otherwise"}, []string{"endunless"},
				func(segments []kernel.Segment, args kernel.Arguments, ctx *kernel.Context, w io.Writer) error {
					i := 0
					if args.Positional[0].Test() {
						i = 1
					}
					return segments[i].Render(ctx, w)
				}),
			"f": kernel.PolyadicTag("f", []string{"m1", "m2"}, []string{"l1", "l2", "l3"},
				func(segments []kernel.Segment, _ kernel.Arguments, _ *kernel.Context, w io.Writer) error {
					_, err := fmt.Fprint(w, len(segments))
					return err
				}),
		}}, nil
	}
	return nil, fmt.Errorf("library %q not found", name)
}

const librarySource = `{% load empty_library %}
{% load a x b y c z from dummy.tags.and.filters %}
{% load flip from test_filters %}
{{ motto }}
{{ motto|flip }}
{% load ackermann from test_tags %}
{% load identity from test_tags %}
{% load answer_to_life from test_tags %}
{% load add from test_tags %}
{% load set unset from test_tags %}
{% load encode decode from test_tags %}
{% load unless from test_tags %}
{% load f from test_tags %}
({% answer_to_life %})
({% identity 'wow' %})
({% ackermann 3 4 %})
({% add %})
({% add 1.1 %})
({% add 1.1 2.2 3.3 %})
{% set foo bar %}({{ foo }})
{% unset foo bar %}({{ foo }})
({% encode 'rot13' %}Hello Kitty{% endencode %})
({% encode 'rot13' %}{{ 'foo'|upper }}{% endencode %})
({% decode 'rot13' %}|{% encode 'rot13' %}Hello Kitty{% endencode %}|{% enddecode %})
({% encode 'rot13' %}|{% encode 'rot13' %}Hello Kitty{% endencode %}|{% endencode %})
({% encode 'rot13' %}{% if True %}Hello Kitty{% endif %}{% endencode %})
({% encode 'rot13' %}{% if False %}Hello Kitty{% endif %}{% endencode %})
({% if True %}{% encode 'rot13' %}Hello Kitty{% endencode %}{% endif %})
({% if False %}{% encode 'rot13' %}Hello Kitty{% endencode %}{% endif %})
({% unless True%}A{% otherwise %}B{% endunless %})
({% unless False%}A{% otherwise %}B{% endunless %})
({% f %}1{% l1 %})
({% f %}1{% l2 %})
({% f %}1{% l3 %})
({% f %}2{% m1 %}2{% l1 %})
({% f %}2{% m1 %}2{% l2 %})
({% f %}2{% m2 %}2{% l3 %})
({% f %}3{% m1 %}3{% m1 %}3{% l1 %})
({% f %}3{% m1 %}3{% m2 %}3{% l2 %})
({% f %}3{% m2 %}3{% m1 %}3{% l3 %})
({% f %}3{% m2 %}3{% m2 %}3{% l1 %})
({% f %}4{% m1 %}4{% m1 %}4{% m1 %}4{% l1 %})
`

const libraryGolden = `


May the Force be with you.
mAY THE fORCE BE WITH YOU.








(42)
(wow)
(125)
(0)
(1.1)
(6.6)
(bar)
()
(Uryyb Xvggl)
(SBB)
(|Hello Kitty|)
(|Hello Kitty|)
(Uryyb Xvggl)
()
(Uryyb Xvggl)
()
(B)
(A)
(1)
(1)
(1)
(2)
(2)
(2)
(3)
(3)
(3)
(3)
(4)
`

func TestLibraryGolden(t *testing.T) {
	e := newEngine(t, withDefault(""), func(o *Options) {
		o.Loaders = []kernel.Loader{testLoader}
	})
	out := render(t, e, librarySource, map[string]any{"motto": "May the Force be with you."})
	assert.Equal(t, libraryGolden, out)
}

func TestLibraryFactoryCalledOnce(t *testing.T) {
	var calls int
	var got []kernel.Segment
	loader := func(name string) (*kernel.Library, error) {
		return &kernel.Library{Tags: map[string]kernel.TagDefinition{
			"mytag": {
				Name:  "mytag",
				Lasts: []string{"endmytag"},
				Factory: func(segments []kernel.Segment) kernel.Renderer {
					calls++
					got = segments
					return func(_ kernel.Arguments, ctx *kernel.Context, w io.Writer) error {
						body, err := segments[0].String(ctx)
						if err != nil {
							return err
						}
						_, err = fmt.Fprintf(w, "<%s>", body)
						return err
					}
				},
			},
		}}, nil
	}
	e := newEngine(t, func(o *Options) { o.Loaders = []kernel.Loader{loader} })

	out := render(t, e, "{% load lib %}{% mytag %}X{% endmytag %}", nil)
	assert.Equal(t, "<X>", out)
	assert.Equal(t, 1, calls)
	require.Len(t, got, 1)
	assert.Equal(t, []string{"mytag", "mytag"}, got[0].Pieces)
	assert.Equal(t, []string{"endmytag", "endmytag"}, got[0].End)

	calls = 0
	out = render(t, e, "{% load lib %}{% mytag %}{% mytag %}Y{% endmytag %}{% endmytag %}", nil)
	assert.Equal(t, "<<Y>>", out)
	assert.Equal(t, 2, calls)
}

func TestLibraryErrors(t *testing.T) {
	e := newEngine(t, func(o *Options) { o.Loaders = []kernel.Loader{testLoader} })

	_, err := e.Parse("t", "{% load nowhere %}")
	require.Error(t, err)
	assert.True(t, kernel.IsType(err))

	_, err = e.Parse("t", "{% load nothing from test_tags %}")
	require.Error(t, err)
	assert.True(t, kernel.IsType(err))

	_, err = e.Parse("t", "{% load encode from test_tags %}{% encode 'rot13' %}open")
	require.Error(t, err)
	assert.True(t, kernel.IsSyntax(err))

	_, err = e.Parse("t", "{% endencode %}")
	require.Error(t, err)
	assert.True(t, kernel.IsSyntax(err))
}
