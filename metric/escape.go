package metric

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

var (
	labelValueEscaper = strings.NewReplacer(`\`, `\\`, "\n", `\n`, `"`, `\"`)
	helpEscaper       = strings.NewReplacer(`\`, `\\`, "\n", `\n`)
)

// EscapeLabelValue escapes backslash, double quote and newline.
func EscapeLabelValue(s string) string {
	return labelValueEscaper.Replace(s)
}

// EscapeHelp escapes backslash and newline. Double quotes are left alone.
func EscapeHelp(s string) string {
	return helpEscaper.Replace(s)
}

// QuoteJSON returns s as a quoted JSON string.
func QuoteJSON(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		// strings always marshal
		return `""`
	}
	return string(b)
}

// AppendFloat appends the exposition form of v: +Inf, -Inf, NaN, or the
// shortest representation that round-trips. Integral values keep a trailing
// ".0" so 1 is written as 1.0.
func AppendFloat(dst []byte, v float64) []byte {
	switch {
	case math.IsNaN(v):
		return append(dst, "NaN"...)
	case math.IsInf(v, 1):
		return append(dst, "+Inf"...)
	case math.IsInf(v, -1):
		return append(dst, "-Inf"...)
	}

	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		dst = strconv.AppendFloat(dst, v, 'f', -1, 64)
		return append(dst, ".0"...)
	}
	return strconv.AppendFloat(dst, v, 'g', -1, 64)
}

// FormatFloat is AppendFloat into a new string.
func FormatFloat(v float64) string {
	return string(AppendFloat(make([]byte, 0, 24), v))
}
