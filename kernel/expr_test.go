package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oarkflow/synth/value"
)

func lookupTestFilter(name string) (Filter, bool) {
	f, ok := testFilters[name]
	return f, ok
}

func TestEvalExpressions(t *testing.T) {
	k := newTestKernel(t, Options{DefaultFilters: []string{"default"}})
	ctx := NewContext(map[string]value.Value{
		"name":  value.String("ada"),
		"items": value.Seq(value.Int(1), value.Int(2), value.Int(3)),
		"user":  value.Map(map[string]value.Value{"age": value.Int(36)}),
		"empty": value.String(""),
	})

	tests := []struct {
		src  string
		want string
	}{
		{"'lit'", "lit"},
		{`"esc\"aped"`, `esc"aped`},
		{"42", "42"},
		{"-1.5", "-1.5"},
		{"True", "True"},
		{"None", "None"},
		{"name", "ada"},
		{"name|upper", "ADA"},
		{"items.0", "1"},
		{"items.-1", "3"},
		{"user.age", "36"},
		{"user.age > 30", "True"},
		{"user.age <= 36 and name == 'ada'", "True"},
		{"not empty", "True"},
		{"empty or name", "True"},
		{"(1 == 2) or False", "False"},
		{"2 in items", "True"},
		{"4 not in items", "True"},
		{"'d' in name", "True"},
		{"1 == 1.0", "True"},
		{"1 < 'a'", "False"},
		{"missing|default:'fallback'", "fallback"},
		{"empty|default:name|upper", "ADA"},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			e, err := ParseExpr(tt.src, lookupTestFilter)
			require.NoError(t, err)
			v, err := k.Eval(e, ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, v.String())
		})
	}
}

func TestEvalMissing(t *testing.T) {
	k := newTestKernel(t, Options{})
	ctx := NewContext(map[string]value.Value{"user": value.Map(nil)})

	for _, src := range []string{"missing", "user.name", "missing|upper"} {
		e, err := ParseExpr(src, lookupTestFilter)
		require.NoError(t, err)
		_, err = k.Eval(e, ctx)
		assert.True(t, IsMissing(err), src)
	}

	withDefault := newTestKernel(t, Options{DefaultValue: value.String("?")})
	e, err := ParseExpr("user.name", nil)
	require.NoError(t, err)
	v, err := withDefault.Eval(e, ctx)
	require.NoError(t, err)
	assert.Equal(t, "?", v.String())
}

func TestParseExprErrors(t *testing.T) {
	tests := []struct {
		src  string
		kind ErrorKind
	}{
		{"", KindSyntax},
		{"'open", KindSyntax},
		{"a ==", KindSyntax},
		{"(a", KindSyntax},
		{"a b", KindSyntax},
		{"a|", KindSyntax},
		{"a $ b", KindSyntax},
		{"a|nosuch", KindType},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			_, err := ParseExpr(tt.src, lookupTestFilter)
			require.Error(t, err)
			assert.Equal(t, tt.kind, KindOf(err))
		})
	}

	_, err := ParseExpr("a|upper", nil)
	assert.True(t, IsType(err))
}

func TestApplyFilters(t *testing.T) {
	k := newTestKernel(t, Options{})
	e, err := ParseExpr("_|default:'x'|upper", lookupTestFilter)
	require.NoError(t, err)

	v, err := k.ApplyFilters(e, value.String("ab"), NewContext(nil))
	require.NoError(t, err)
	assert.Equal(t, "AB", v.String())

	v, err = k.ApplyFilters(e, value.String(""), NewContext(nil))
	require.NoError(t, err)
	assert.Equal(t, "X", v.String())
}
