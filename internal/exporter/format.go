package exporter

import (
	"database/sql"
	"math"
	"strconv"
	"strings"
)

// FormatFloat renders a float the way the downstream analysis tools write
// them: the shortest round-trip decimal, a trailing ".0" on integral values,
// exponent notation below 1e-4 and from 1e16, and "inf"/"-inf" for infinities.
// NaN renders as an empty field.
func FormatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return ""
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case f == 0:
		if math.Signbit(f) {
			return "-0.0"
		}
		return "0.0"
	}

	exp := decimalExponent(f)
	if exp < -4 || exp >= 16 {
		return strconv.FormatFloat(f, 'e', -1, 64)
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// decimalExponent is the exponent of f's shortest scientific representation.
func decimalExponent(f float64) int {
	s := strconv.FormatFloat(f, 'e', -1, 64)
	i := strings.IndexByte(s, 'e')
	exp, _ := strconv.Atoi(s[i+1:])
	return exp
}

// FormatNullFloat renders an optional float; null is an empty field.
func FormatNullFloat(v sql.NullFloat64) string {
	if !v.Valid {
		return ""
	}
	return FormatFloat(v.Float64)
}

// FormatNullInt renders an optional integer; null is an empty field.
func FormatNullInt(v sql.NullInt64) string {
	if !v.Valid {
		return ""
	}
	return strconv.FormatInt(v.Int64, 10)
}
