package value

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type author struct {
	Name  string
	Books []string
}

func (a author) Initials() string { return a.Name[:1] }

func TestNewPicksAdapter(t *testing.T) {
	testCases := []struct {
		name string
		in   any
		kind Kind
	}{
		{"nil", nil, KindNone},
		{"bool", true, KindBool},
		{"int", 42, KindInt},
		{"uint8", uint8(7), KindInt},
		{"uint64 fits", uint64(10), KindInt},
		{"uint64 overflow", uint64(1 << 63), KindFloat},
		{"float", 1.5, KindFloat},
		{"string", "x", KindString},
		{"safe", SafeString("<b>"), KindString},
		{"time", time.Unix(0, 0), KindTime},
		{"slice", []any{1, "a"}, KindSequence},
		{"map", map[string]any{"a": 1}, KindMapping},
		{"struct", author{Name: "Ann"}, KindHost},
		{"nil pointer", (*author)(nil), KindNone},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.kind, New(tc.in).Kind())
		})
	}
}

func TestUninitialized(t *testing.T) {
	var v Value
	assert.False(t, v.Initialized())
	assert.False(t, v.Test())

	_, err := v.Number()
	assert.ErrorIs(t, err, ErrUninitialized)
	_, err = v.Iter()
	assert.ErrorIs(t, err, ErrUninitialized)
	_, err = v.Len()
	assert.ErrorIs(t, err, ErrUninitialized)
}

func TestTruthiness(t *testing.T) {
	falsy := []Value{None(), Bool(false), Int(0), Float(0), String(""), Seq(), Map(nil), New([]int{})}
	for _, v := range falsy {
		assert.False(t, v.Test(), "%s should be falsy", v.Kind())
	}
	truthy := []Value{Bool(true), Int(-1), Float(0.1), String("0"), Seq(None()), New(author{Name: "x"})}
	for _, v := range truthy {
		assert.True(t, v.Test(), "%s should be truthy", v.Kind())
	}
}

func TestStringRendering(t *testing.T) {
	assert.Equal(t, "None", None().String())
	assert.Equal(t, "True", Bool(true).String())
	assert.Equal(t, "3", Float(3).String())
	assert.Equal(t, "3.25", Float(3.25).String())
	assert.Equal(t, "[1, a]", New([]any{1, "a"}).String())
	assert.Equal(t, "{a: 1, b: 2}", New(map[string]any{"b": 2, "a": 1}).String())
}

func TestNumber(t *testing.T) {
	n, err := Int(4).Number()
	require.NoError(t, err)
	assert.Equal(t, 4.0, n)

	_, err = String("4").Number()
	assert.ErrorIs(t, err, ErrNotNumeric)

	type celsius float64
	n, err = New(celsius(21.5)).Number()
	require.NoError(t, err)
	assert.Equal(t, 21.5, n)
}

func TestIterationIsRestartable(t *testing.T) {
	v := New([]int{1, 2, 3})
	first, err := v.Items()
	require.NoError(t, err)
	second, err := v.Items()
	require.NoError(t, err)
	assert.Len(t, first, 3)
	assert.True(t, cmp.Equal(first, second, cmp.Comparer(Equal)))

	_, err = Int(1).Iter()
	assert.ErrorIs(t, err, ErrNotIterable)
}

func TestIndexAndLookup(t *testing.T) {
	data := New(map[string]any{
		"author": author{Name: "Ann", Books: []string{"one", "two"}},
		"items":  []any{"a", "b", "c"},
	})

	v, err := data.Lookup("author.name")
	require.NoError(t, err)
	assert.Equal(t, "Ann", v.String())

	v, err = data.Lookup("author.Books.1")
	require.NoError(t, err)
	assert.Equal(t, "two", v.String())

	v, err = data.Lookup("items.-1")
	require.NoError(t, err)
	assert.Equal(t, "c", v.String())

	v, err = data.Lookup("author.initials")
	require.NoError(t, err)
	assert.Equal(t, "A", v.String())

	_, ok := data.Attr("nope")
	assert.False(t, ok)

	_, err = data.Lookup("author.age")
	assert.True(t, errors.Is(err, ErrMissingAttribute))
}

type Publisher struct{ City string }

type edition struct {
	*Publisher
	Year int
}

func TestNilEmbeddedPointerIsMissing(t *testing.T) {
	v := New(edition{Year: 1999})
	_, err := v.Lookup("city")
	assert.ErrorIs(t, err, ErrMissingAttribute)
	year, err := v.Lookup("year")
	require.NoError(t, err)
	assert.Equal(t, "1999", year.String())

	v = New(edition{Publisher: &Publisher{City: "Oslo"}})
	city, err := v.Lookup("city")
	require.NoError(t, err)
	assert.Equal(t, "Oslo", city.String())
}

func TestHostMapKeysSorted(t *testing.T) {
	keys, err := New(map[int]string{10: "x", 2: "y", 9: "z", 1: "w"}).Items()
	require.NoError(t, err)
	got := make([]string, len(keys))
	for i, k := range keys {
		got[i] = k.String()
	}
	assert.Equal(t, []string{"1", "10", "2", "9"}, got)
}

func TestEqualAndLess(t *testing.T) {
	assert.True(t, Equal(Int(2), Float(2)))
	assert.True(t, Less(Int(1), Float(1.5)))
	assert.False(t, Equal(String("2"), Int(2)))
	assert.False(t, Less(String("a"), Int(1)))
	assert.False(t, Less(Int(1), String("a")))
	assert.True(t, Less(String("a"), String("b")))
	assert.True(t, Equal(New([]any{1, "x"}), Seq(Float(1), String("x"))))
	assert.True(t, Equal(None(), New(nil)))
	assert.Equal(t, -1, Compare(Int(1), Int(2)))
	assert.Equal(t, 0, Compare(String("a"), Int(2)))
}

func TestContains(t *testing.T) {
	assert.True(t, Contains(String("hello"), String("ell")))
	assert.True(t, Contains(New(map[string]any{"k": 1}), String("k")))
	assert.True(t, Contains(New([]int{1, 2}), Float(2)))
	assert.False(t, Contains(New([]int{1, 2}), Int(3)))
	assert.False(t, Contains(Int(1), Int(1)))
}

func TestEscape(t *testing.T) {
	v := String(`<a href="x">'&'</a>`)
	assert.Equal(t, "&lt;a href=&quot;x&quot;&gt;&#39;&amp;&#39;&lt;/a&gt;", v.Escape())
	assert.Equal(t, `<a href="x">'&'</a>`, v.String())
	assert.False(t, v.Safe())
	assert.True(t, MarkSafe(v).Safe())
	assert.True(t, New(SafeString("<b>")).Safe())
}

func TestWriteEscapedHTML(t *testing.T) {
	for _, s := range []string{"", "plain", "&", "a<b>c", `<a href="x">'&'</a>`, "tail&"} {
		var sb strings.Builder
		require.NoError(t, WriteEscapedHTML(&sb, s))
		assert.Equal(t, EscapeHTML(s), sb.String(), s)
	}
	assert.Equal(t, "tail&amp;", EscapeHTML("tail&"))
	assert.Equal(t, "plain", EscapeHTML("plain"))
}

func TestConstructorsCopyInput(t *testing.T) {
	m := map[string]Value{"b": Int(2)}
	v := Map(m)
	m["a"] = Int(1)
	_, ok := v.Attr("a")
	assert.False(t, ok)
	n, err := v.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	items, err := v.Items()
	require.NoError(t, err)
	assert.Len(t, items, 1)

	host := []Value{Int(1), Int(2)}
	seq := New(host)
	host[0] = Int(9)
	first, ok := seq.Index(Int(0))
	require.True(t, ok)
	assert.Equal(t, "1", first.String())
}

func TestGroupBy(t *testing.T) {
	people := New([]any{
		map[string]any{"name": "a", "city": "x"},
		map[string]any{"name": "b", "city": "x"},
		map[string]any{"name": "c", "city": "y"},
		map[string]any{"name": "d", "city": "x"},
	})

	groups, err := people.GroupBy("city")
	require.NoError(t, err)

	var got [][]string
	for _, g := range groups {
		names := []string{g.Key.String()}
		for _, item := range g.List {
			n, _ := item.Attr("name")
			names = append(names, n.String())
		}
		got = append(got, names)
	}
	want := [][]string{{"x", "a", "b"}, {"y", "c"}, {"x", "d"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("GroupBy mismatch (-want +got):\n%s", diff)
	}

	_, err = people.GroupBy("age")
	assert.ErrorIs(t, err, ErrMissingAttribute)
}

func TestReverseAndLen(t *testing.T) {
	r, err := New([]string{"a", "b", "c"}).Reverse()
	require.NoError(t, err)
	assert.Equal(t, "[c, b, a]", r.String())

	n, err := String("héllo").Len()
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

type point struct{ x, y int }

func (p point) Kind() Kind     { return KindHost }
func (p point) Test() bool     { return p.x != 0 || p.y != 0 }
func (p point) String() string { return "point" }
func (p point) Interface() any { return p }

func TestFromAdapter(t *testing.T) {
	v := FromAdapter(point{1, 2})
	assert.True(t, v.Test())
	assert.Equal(t, "point", v.String())
	_, err := v.Iter()
	assert.ErrorIs(t, err, ErrNotIterable)
	assert.False(t, Equal(v, FromAdapter(point{1, 2})))
}
