package kernel

import (
	"math"

	"fortio.org/safecast"
)

// RoundHalfAway rounds to the nearest integer, halves away from zero.
func RoundHalfAway(f float64) float64 {
	if f > 0 {
		return math.Floor(f + 0.5)
	}
	return math.Ceil(f - 0.5)
}

// WidthRatio computes value/limit*width rounded half away from zero.
// A zero limit yields zero.
func WidthRatio(val, limit, width float64) (int64, error) {
	if limit == 0 {
		return 0, nil
	}
	n, err := safecast.Convert[int64](RoundHalfAway(val / limit * width))
	if err != nil {
		return 0, &Error{Kind: KindType, Tag: "widthratio", Message: "ratio out of range", Cause: err}
	}
	return n, nil
}
