package fastparse

import (
	"errors"
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestJSONFloat(t *testing.T) {
	cases := []struct {
		in   string
		want float64
	}{
		{`150.5`, 150.5},
		{`"150.5"`, 150.5},
		{` 0 `, 0},
		{`"-0.01"`, -0.01},
		{`1e-3`, 0.001},
	}
	for _, c := range cases {
		got, err := JSONFloat([]byte(c.in))
		if err != nil {
			t.Fatalf("JSONFloat(%s) err=%v", c.in, err)
		}
		if got != c.want {
			t.Fatalf("JSONFloat(%s)=%v, want %v", c.in, got, c.want)
		}
	}
}

func TestJSONFloat_Empty(t *testing.T) {
	for _, in := range []string{``, `null`, `""`} {
		if _, err := JSONFloat([]byte(in)); !errors.Is(err, ErrEmpty) {
			t.Fatalf("JSONFloat(%q) err=%v, want ErrEmpty", in, err)
		}
	}
}

func TestJSONFloat_Invalid(t *testing.T) {
	for _, in := range []string{`"abc"`, `true`, `{}`, `"1.2`} {
		if _, err := JSONFloat([]byte(in)); err == nil {
			t.Fatalf("JSONFloat(%q) 应返回错误", in)
		}
	}
}

// TestFormatFloat_RoundTrip_Property 最短表示可精确还原
func TestFormatFloat_RoundTrip_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("FormatFloat(-1) 后 ParseFloat 得到原值", prop.ForAll(
		func(v float64) bool {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return true
			}
			got, err := ParseFloat(FormatFloat(v, -1))
			return err == nil && got == v
		},
		gen.Float64(),
	))

	properties.TestingRun(t)
}
