package datafile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

var want = map[string]any{
	"title": "Products",
	"count": int64(2),
	"items": []any{
		map[string]any{"name": "Alpha", "price": int64(100)},
		map[string]any{"name": "Beta", "price": int64(120)},
	},
}

func write(t *testing.T, name string, b []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, b, 0o644))
	return p
}

// widen maps every integer to int64 so formats compare equal.
func widen(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = widen(item)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = widen(item)
		}
		return out
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return int64(x)
	}
	return v
}

func TestLoadFormats(t *testing.T) {
	packed, err := msgpack.Marshal(map[string]any{
		"title": "Products",
		"count": 2,
		"items": []map[string]any{{"name": "Alpha", "price": 100}, {"name": "Beta", "price": 120}},
	})
	require.NoError(t, err)

	files := map[string][]byte{
		"data.json": []byte(`{"title": "Products", "count": 2, "items": [{"name": "Alpha", "price": 100}, {"name": "Beta", "price": 120}]}`),
		"data.yaml": []byte("title: Products\ncount: 2\nitems:\n  - {name: Alpha, price: 100}\n  - {name: Beta, price: 120}\n"),
		"data.toml": []byte("title = \"Products\"\ncount = 2\n\n[[items]]\nname = \"Alpha\"\nprice = 100\n\n[[items]]\nname = \"Beta\"\nprice = 120\n"),
		"data.msgpack": packed,
	}
	for name, content := range files {
		t.Run(name, func(t *testing.T) {
			got, err := Load(write(t, name, content))
			require.NoError(t, err)
			if diff := cmp.Diff(want, widen(got)); diff != "" {
				t.Errorf("Load(%s) mismatch (-want +got):\n%s", name, diff)
			}
		})
	}
}

func TestDecodeEdgeCases(t *testing.T) {
	got, err := Decode([]byte(""), YAML)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = Decode([]byte(`{"f": 1.5}`), JSON)
	require.NoError(t, err)
	assert.Equal(t, 1.5, got["f"])

	_, err = Decode([]byte(`[1, 2]`), JSON)
	assert.ErrorContains(t, err, "top level must be a mapping")

	_, err = Decode([]byte(`{} {}`), JSON)
	assert.ErrorContains(t, err, "trailing data")

	_, err = Decode([]byte("a = "), TOML)
	assert.ErrorContains(t, err, "failed to parse TOML")

	got, err = Decode([]byte("1: one\ntwo: 2\n"), YAML)
	require.NoError(t, err)
	assert.Equal(t, "one", got["1"])

	_, err = Decode(nil, Format(99))
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestFormatOf(t *testing.T) {
	for path, f := range map[string]Format{"a.json": JSON, "a.YML": YAML, "a.yaml": YAML, "b.toml": TOML, "c.mpk": Msgpack} {
		got, err := FormatOf(path)
		require.NoError(t, err)
		assert.Equal(t, f, got, path)
	}
	_, err := FormatOf("data.xml")
	assert.ErrorIs(t, err, ErrUnknownFormat)
	_, err = Load("data.xml")
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestLoadAllMerges(t *testing.T) {
	base := write(t, "base.yaml", []byte("site: {name: Demo, lang: en}\ntitle: Base\n"))
	override := write(t, "page.json", []byte(`{"site": {"lang": "fr"}, "title": "Page"}`))
	got, err := LoadAll(base, override)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"site":  map[string]any{"name": "Demo", "lang": "fr"},
		"title": "Page",
	}, got)

	_, err = LoadAll(base, filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParseAssignments(t *testing.T) {
	got, err := ParseAssignments([]string{"n=3", "ok=true", "name=Ann", "tags=[a, b]", "user.name=Bo", "user.admin=yes", "empty="})
	require.NoError(t, err)
	if diff := cmp.Diff(map[string]any{
		"n":     3,
		"ok":    true,
		"name":  "Ann",
		"tags":  []any{"a", "b"},
		"user":  map[string]any{"name": "Bo", "admin": "yes"},
		"empty": "",
	}, got); diff != "" {
		t.Errorf("ParseAssignments mismatch (-want +got):\n%s", diff)
	}

	_, err = ParseAssignments([]string{"novalue"})
	assert.Error(t, err)
	_, err = ParseAssignments([]string{"=x"})
	assert.Error(t, err)
}
