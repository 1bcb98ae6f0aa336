package django

import (
	"fmt"
	"html"
	"math/rand/v2"
	"net/url"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/oarkflow/synth/kernel"
	"github.com/oarkflow/synth/value"
)

// Filters returns the built-in Django filter set. The map is freshly
// allocated so callers may extend it.
func Filters() map[string]kernel.Filter {
	return map[string]kernel.Filter{
		"add":              addFilter,
		"addslashes":       stringFilter(addSlashes),
		"capfirst":         stringFilter(capFirst),
		"center":           padFilter(center),
		"cut":              cutFilter,
		"date":             dateFilter,
		"default":          defaultFilter,
		"default_if_none":  defaultIfNoneFilter,
		"dictsort":         dictsortFilter(false),
		"dictsortreversed": dictsortFilter(true),
		"divisibleby":      divisiblebyFilter,
		"escape":           escapeFilter,
		"first":            firstFilter,
		"floatformat":      floatformatFilter,
		"force_escape":     forceEscapeFilter,
		"join":             joinFilter,
		"last":             lastFilter,
		"length":           lengthFilter,
		"length_is":        lengthIsFilter,
		"linebreaksbr":     linebreaksbrFilter,
		"ljust":            padFilter(ljust),
		"lower":            stringFilter(strings.ToLower),
		"make_list":        makeListFilter,
		"pluralize":        pluralizeFilter,
		"random":           randomFilter,
		"rjust":            padFilter(rjust),
		"safe":             safeFilter,
		"slice":            sliceFilter,
		"slugify":          slugifyFilter,
		"striptags":        striptagsFilter,
		"title":            stringFilter(title),
		"truncatechars":    truncatecharsFilter,
		"truncatewords":    truncatewordsFilter,
		"upper":            stringFilter(strings.ToUpper),
		"urlencode":        urlencodeFilter,
		"wordcount":        wordcountFilter,
		"yesno":            yesnoFilter,
	}
}

// ----------------------------- helpers --------------------------------------

func arg(args []value.Value, i int) (value.Value, bool) {
	if i < len(args) {
		return args[i], true
	}
	return value.Value{}, false
}

func requireArg(name string, args []value.Value) (value.Value, error) {
	a, ok := arg(args, 0)
	if !ok {
		return value.Value{}, &kernel.Error{Kind: kernel.KindType, Tag: name, Message: "filter requires an argument"}
	}
	return a, nil
}

// number accepts numeric values and numeric strings.
func number(v value.Value) (float64, bool) {
	if f, err := v.Number(); err == nil {
		return f, true
	}
	if v.Kind() != value.KindString {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v.String()), 64)
	return f, err == nil
}

func integer(v value.Value) (int, bool) {
	f, ok := number(v)
	if !ok {
		return 0, false
	}
	return int(f), true
}

// keep preserves the safety of in on the transformed text s.
func keep(in value.Value, s string) value.Value {
	if in.Safe() {
		return value.Safe(s)
	}
	return value.String(s)
}

// conditionalEscape escapes s when autoescape is on and v is not safe.
func conditionalEscape(v value.Value, ctx *kernel.Context) string {
	if ctx.Autoescape() && !v.Safe() {
		return v.Escape()
	}
	return v.String()
}

func stringFilter(fn func(string) string) kernel.Filter {
	return func(in value.Value, _ []value.Value, _ *kernel.Context) (value.Value, error) {
		return keep(in, fn(in.String())), nil
	}
}

// ----------------------------- text -----------------------------------------

var slashes = strings.NewReplacer(`\`, `\\`, `"`, `\"`, `'`, `\'`)

func addSlashes(s string) string { return slashes.Replace(s) }

var upper = cases.Upper(language.Und)

func capFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if size == 0 {
		return s
	}
	return upper.String(string(r)) + s[size:]
}

var titleCaser = sync.OnceValue(func() cases.Caser { return cases.Title(language.Und) })

func title(s string) string { return titleCaser().String(s) }

func padFilter(fn func(s string, width int) string) kernel.Filter {
	return func(in value.Value, args []value.Value, _ *kernel.Context) (value.Value, error) {
		a, ok := arg(args, 0)
		if !ok {
			return in, nil
		}
		width, ok := integer(a)
		if !ok {
			return value.Value{}, fmt.Errorf("%w: width %q", value.ErrNotNumeric, a.String())
		}
		return keep(in, fn(in.String(), width)), nil
	}
}

func center(s string, width int) string {
	pad := width - utf8.RuneCountInString(s)
	if pad <= 0 {
		return s
	}
	left := pad / 2
	return strings.Repeat(" ", left) + s + strings.Repeat(" ", pad-left)
}

func ljust(s string, width int) string {
	if pad := width - utf8.RuneCountInString(s); pad > 0 {
		return s + strings.Repeat(" ", pad)
	}
	return s
}

func rjust(s string, width int) string {
	if pad := width - utf8.RuneCountInString(s); pad > 0 {
		return strings.Repeat(" ", pad) + s
	}
	return s
}

func cutFilter(in value.Value, args []value.Value, _ *kernel.Context) (value.Value, error) {
	a, err := requireArg("cut", args)
	if err != nil {
		return value.Value{}, err
	}
	return keep(in, strings.ReplaceAll(in.String(), a.String(), "")), nil
}

func escapeFilter(in value.Value, _ []value.Value, _ *kernel.Context) (value.Value, error) {
	if in.Safe() {
		return in, nil
	}
	return value.Safe(in.Escape()), nil
}

func forceEscapeFilter(in value.Value, _ []value.Value, _ *kernel.Context) (value.Value, error) {
	return value.Safe(in.Escape()), nil
}

func safeFilter(in value.Value, _ []value.Value, _ *kernel.Context) (value.Value, error) {
	return value.MarkSafe(in), nil
}

func linebreaksbrFilter(in value.Value, _ []value.Value, ctx *kernel.Context) (value.Value, error) {
	s := strings.ReplaceAll(conditionalEscape(in, ctx), "\r\n", "\n")
	return value.Safe(strings.ReplaceAll(s, "\n", "<br />")), nil
}

var (
	slugStrip    = regexp.MustCompile(`[^\w\s-]`)
	slugSeparate = regexp.MustCompile(`[-\s]+`)
)

func slugifyFilter(in value.Value, _ []value.Value, _ *kernel.Context) (value.Value, error) {
	decomposed := norm.NFKD.String(in.String())
	ascii := strings.Map(func(r rune) rune {
		if r > unicode.MaxASCII {
			return -1
		}
		return r
	}, decomposed)
	s := strings.TrimSpace(strings.ToLower(slugStrip.ReplaceAllString(ascii, "")))
	return value.Safe(slugSeparate.ReplaceAllString(s, "-")), nil
}

var stripPolicy = sync.OnceValue(bluemonday.StrictPolicy)

func striptagsFilter(in value.Value, _ []value.Value, _ *kernel.Context) (value.Value, error) {
	return value.String(html.UnescapeString(stripPolicy().Sanitize(in.String()))), nil
}

func truncatecharsFilter(in value.Value, args []value.Value, _ *kernel.Context) (value.Value, error) {
	a, err := requireArg("truncatechars", args)
	if err != nil {
		return value.Value{}, err
	}
	n, ok := integer(a)
	if !ok {
		return in, nil
	}
	runes := []rune(in.String())
	if len(runes) <= n {
		return in, nil
	}
	return keep(in, string(runes[:max(n-3, 0)])+"..."), nil
}

func truncatewordsFilter(in value.Value, args []value.Value, _ *kernel.Context) (value.Value, error) {
	a, err := requireArg("truncatewords", args)
	if err != nil {
		return value.Value{}, err
	}
	n, ok := integer(a)
	if !ok {
		return in, nil
	}
	words := strings.Fields(in.String())
	if len(words) <= n {
		return keep(in, strings.Join(words, " ")), nil
	}
	return keep(in, strings.Join(append(words[:n:n], "..."), " ")), nil
}

func urlencodeFilter(in value.Value, args []value.Value, _ *kernel.Context) (value.Value, error) {
	safe := "/"
	if a, ok := arg(args, 0); ok {
		safe = a.String()
	}
	s := strings.ReplaceAll(url.QueryEscape(in.String()), "+", "%20")
	for _, r := range safe {
		s = strings.ReplaceAll(s, url.QueryEscape(string(r)), string(r))
	}
	return value.String(s), nil
}

func wordcountFilter(in value.Value, _ []value.Value, _ *kernel.Context) (value.Value, error) {
	return value.Int(int64(len(strings.Fields(in.String())))), nil
}

// ----------------------------- numbers --------------------------------------

func addFilter(in value.Value, args []value.Value, _ *kernel.Context) (value.Value, error) {
	a, err := requireArg("add", args)
	if err != nil {
		return value.Value{}, err
	}
	x, okx := number(in)
	y, oky := number(a)
	if okx && oky {
		if x == float64(int64(x)) && y == float64(int64(y)) {
			return value.Int(int64(x) + int64(y)), nil
		}
		return value.Float(x + y), nil
	}
	if in.Kind() == value.KindSequence && a.Kind() == value.KindSequence {
		left, _ := in.Items()
		right, _ := a.Items()
		return value.Seq(slices.Concat(left, right)...), nil
	}
	if in.Kind() == value.KindString && a.Kind() == value.KindString {
		return value.String(in.String() + a.String()), nil
	}
	return value.String(""), nil
}

func divisiblebyFilter(in value.Value, args []value.Value, _ *kernel.Context) (value.Value, error) {
	a, err := requireArg("divisibleby", args)
	if err != nil {
		return value.Value{}, err
	}
	x, okx := integer(in)
	y, oky := integer(a)
	if !okx || !oky || y == 0 {
		return value.Value{}, fmt.Errorf("%w: divisibleby %q by %q", value.ErrNotNumeric, in.String(), a.String())
	}
	return value.Bool(x%y == 0), nil
}

func floatformatFilter(in value.Value, args []value.Value, _ *kernel.Context) (value.Value, error) {
	f, ok := number(in)
	if !ok {
		return value.String(""), nil
	}
	precision := -1
	if a, ok := arg(args, 0); ok {
		if p, ok := integer(a); ok {
			precision = p
		}
	}
	return value.String(FormatFloat(f, precision)), nil
}

// ----------------------------- defaults -------------------------------------

func defaultFilter(in value.Value, args []value.Value, _ *kernel.Context) (value.Value, error) {
	a, err := requireArg("default", args)
	if err != nil {
		return value.Value{}, err
	}
	if in.Test() {
		return in, nil
	}
	return a, nil
}

func defaultIfNoneFilter(in value.Value, args []value.Value, _ *kernel.Context) (value.Value, error) {
	a, err := requireArg("default_if_none", args)
	if err != nil {
		return value.Value{}, err
	}
	if in.IsNone() || !in.Initialized() {
		return a, nil
	}
	return in, nil
}

func yesnoFilter(in value.Value, args []value.Value, _ *kernel.Context) (value.Value, error) {
	choices := []string{"yes", "no", "maybe"}
	if a, ok := arg(args, 0); ok {
		choices = strings.Split(a.String(), ",")
		if len(choices) < 2 {
			return in, nil
		}
	}
	switch {
	case in.IsNone() && len(choices) > 2:
		return value.String(choices[2]), nil
	case in.Test():
		return value.String(choices[0]), nil
	}
	return value.String(choices[1]), nil
}

func pluralizeFilter(in value.Value, args []value.Value, _ *kernel.Context) (value.Value, error) {
	singular, plural := "", "s"
	if a, ok := arg(args, 0); ok {
		parts := strings.Split(a.String(), ",")
		switch len(parts) {
		case 1:
			plural = parts[0]
		case 2:
			singular, plural = parts[0], parts[1]
		default:
			return value.String(""), nil
		}
	}
	one := false
	if n, ok := number(in); ok {
		one = n == 1
	} else if l, err := in.Len(); err == nil {
		one = l == 1
	}
	if one {
		return value.String(singular), nil
	}
	return value.String(plural), nil
}

// ----------------------------- sequences ------------------------------------

func items(name string, in value.Value) ([]value.Value, error) {
	list, err := in.Items()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return list, nil
}

func firstFilter(in value.Value, _ []value.Value, _ *kernel.Context) (value.Value, error) {
	list, err := items("first", in)
	if err != nil || len(list) == 0 {
		return value.String(""), err
	}
	return list[0], nil
}

func lastFilter(in value.Value, _ []value.Value, _ *kernel.Context) (value.Value, error) {
	list, err := items("last", in)
	if err != nil || len(list) == 0 {
		return value.String(""), err
	}
	return list[len(list)-1], nil
}

func randomFilter(in value.Value, _ []value.Value, _ *kernel.Context) (value.Value, error) {
	list, err := items("random", in)
	if err != nil || len(list) == 0 {
		return value.String(""), err
	}
	return list[rand.IntN(len(list))], nil
}

func lengthFilter(in value.Value, _ []value.Value, _ *kernel.Context) (value.Value, error) {
	n, err := in.Len()
	if err != nil {
		return value.Int(0), nil
	}
	return value.Int(int64(n)), nil
}

func lengthIsFilter(in value.Value, args []value.Value, _ *kernel.Context) (value.Value, error) {
	a, err := requireArg("length_is", args)
	if err != nil {
		return value.Value{}, err
	}
	want, ok := integer(a)
	if !ok {
		return value.String(""), nil
	}
	n, err := in.Len()
	if err != nil {
		return value.String(""), nil
	}
	return value.Bool(n == want), nil
}

func makeListFilter(in value.Value, _ []value.Value, _ *kernel.Context) (value.Value, error) {
	var out []value.Value
	for _, r := range in.String() {
		out = append(out, value.String(string(r)))
	}
	return value.Seq(out...), nil
}

func joinFilter(in value.Value, args []value.Value, ctx *kernel.Context) (value.Value, error) {
	a, err := requireArg("join", args)
	if err != nil {
		return value.Value{}, err
	}
	list, err := items("join", in)
	if err != nil {
		return value.Value{}, err
	}
	parts := make([]string, len(list))
	for i, item := range list {
		parts[i] = conditionalEscape(item, ctx)
	}
	return value.Safe(strings.Join(parts, conditionalEscape(a, ctx))), nil
}

func sliceFilter(in value.Value, args []value.Value, _ *kernel.Context) (value.Value, error) {
	a, err := requireArg("slice", args)
	if err != nil {
		return value.Value{}, err
	}
	var list []value.Value
	isString := in.Kind() == value.KindString
	if isString {
		for _, r := range in.String() {
			list = append(list, value.String(string(r)))
		}
	} else if list, err = items("slice", in); err != nil {
		return value.Value{}, err
	}
	lo, hi, err := sliceBounds(a.String(), len(list))
	if err != nil {
		return value.Value{}, err
	}
	out := list[lo:hi]
	if !isString {
		return value.Seq(out...), nil
	}
	var sb strings.Builder
	for _, v := range out {
		sb.WriteString(v.String())
	}
	return keep(in, sb.String()), nil
}

// sliceBounds resolves "start:end" with optional and negative bounds.
func sliceBounds(spec string, n int) (int, int, error) {
	bound := func(s string, def int) (int, error) {
		s = strings.TrimSpace(s)
		if s == "" {
			return def, nil
		}
		i, err := strconv.Atoi(s)
		if err != nil {
			return 0, fmt.Errorf("%w: slice bound %q", value.ErrNotNumeric, s)
		}
		if i < 0 {
			i += n
		}
		return min(max(i, 0), n), nil
	}
	start, end, found := strings.Cut(spec, ":")
	if !found {
		i, err := bound(start, 0)
		if err != nil {
			return 0, 0, err
		}
		return 0, i, nil
	}
	lo, err := bound(start, 0)
	if err != nil {
		return 0, 0, err
	}
	hi, err := bound(end, n)
	if err != nil {
		return 0, 0, err
	}
	if hi < lo {
		hi = lo
	}
	return lo, hi, nil
}

func dictsortFilter(reversed bool) kernel.Filter {
	return func(in value.Value, args []value.Value, _ *kernel.Context) (value.Value, error) {
		a, err := requireArg("dictsort", args)
		if err != nil {
			return value.Value{}, err
		}
		list, err := items("dictsort", in)
		if err != nil {
			return value.Value{}, err
		}
		keys := make([]value.Value, len(list))
		for i, item := range list {
			if keys[i], err = item.Lookup(a.String()); err != nil {
				return value.Value{}, err
			}
		}
		idx := make([]int, len(list))
		for i := range idx {
			idx[i] = i
		}
		slices.SortStableFunc(idx, func(x, y int) int {
			c := value.Compare(keys[x], keys[y])
			if reversed {
				return -c
			}
			return c
		})
		out := make([]value.Value, len(list))
		for i, j := range idx {
			out[i] = list[j]
		}
		return value.Seq(out...), nil
	}
}

// ----------------------------- dates ----------------------------------------

func dateFilter(in value.Value, args []value.Value, _ *kernel.Context) (value.Value, error) {
	t, ok := in.Interface().(time.Time)
	if !ok {
		if in.IsNone() || !in.Test() {
			return value.String(""), nil
		}
		return value.Value{}, fmt.Errorf("date: %s is not a datetime", in.Kind())
	}
	format := DefaultDateFormat
	if a, ok := arg(args, 0); ok {
		format = a.String()
	}
	return value.String(FormatDate(t, format)), nil
}
