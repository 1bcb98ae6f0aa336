//go:build property
// +build property

package django

import (
	"fmt"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/oarkflow/synth/value"
)

// TestCycleProperties checks that cycle emits values[i mod n] on the i-th pass.
func TestCycleProperties(t *testing.T) {
	e := newEngine(t)
	properties := gopter.NewProperties(nil)

	properties.Property("cycle follows the modular sequence", prop.ForAll(
		func(n, iterations int, scoped bool) bool {
			names := make([]string, n)
			for i := range names {
				names[i] = fmt.Sprintf("'v%d'", i)
			}
			tag := "{% cycle " + strings.Join(names, " ") + " %}"
			if scoped {
				tag = "{% with y=i %}" + tag + "{% endwith %}"
			}
			src := "{% for i in items %}" + tag + ",{% endfor %}"
			items := make([]value.Value, iterations)
			for i := range items {
				items[i] = value.Int(int64(i))
			}
			out, err := e.RenderString(src, map[string]value.Value{"items": value.Seq(items...)})
			if err != nil {
				return false
			}
			var want strings.Builder
			for i := 0; i < iterations; i++ {
				fmt.Fprintf(&want, "v%d,", i%n)
			}
			return out == want.String()
		},
		gen.IntRange(1, 6),
		gen.IntRange(0, 20),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

// TestWidthRatioProperties checks rounding of value/limit*width.
func TestWidthRatioProperties(t *testing.T) {
	e := newEngine(t)
	properties := gopter.NewProperties(nil)

	properties.Property("halves round away from zero", prop.ForAll(
		func(half int) bool {
			// (2h+1)/2 with limit 2 and width 1 is exactly h + 0.5.
			src := fmt.Sprintf("{%% widthratio %d 2 1 %%}", 2*half+1)
			out, err := e.RenderString(src, nil)
			if err != nil {
				return false
			}
			want := half + 1
			if half < 0 {
				want = half
			}
			return out == fmt.Sprint(want)
		},
		gen.IntRange(-1000, 1000),
	))

	properties.Property("zero limit renders zero", prop.ForAll(
		func(v int) bool {
			out, err := e.RenderString(fmt.Sprintf("{%% widthratio %d 0 10 %%}", v), nil)
			return err == nil && out == "0"
		},
		gen.Int(),
	))

	properties.TestingRun(t)
}
