package volume

import (
	"math"
	"strconv"
	"strings"
)

// ParseCount converts a box-count cell to a non-negative integer.
// Surrounding spaces are ignored and decimals are truncated toward zero. Anything
// empty, non-numeric or negative counts as 0, including grouped ("1,234") or
// comma-decimal ("12,5") cells.
func ParseCount(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n < 0 {
			return 0
		}
		return n
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return CountFromFloat(f)
}

// CountFromFloat applies the ParseCount policy to a numeric value
func CountFromFloat(f float64) int64 {
	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return 0
	}
	if f >= math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(f)
}
