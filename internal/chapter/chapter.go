// Package chapter normalizes and orders chapter tokens reported by the tracker.
package chapter

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	mvc "github.com/Masterminds/semver/v3"
)

// Value is a normalized chapter token such as "12", "12.5" or "1.2.3".
type Value string

// Empty reports whether the value carries no usable chapter.
func (v Value) Empty() bool {
	return v == "" || v == "0"
}

func (v Value) String() string { return string(v) }

// UnmarshalJSON accepts both JSON strings and numbers so state files written by
// hand (or by older tooling) with numeric chapters still load.
func (v *Value) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*v = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*v = Normalize(str)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("chapter must be a string or number, got %s", s)
	}
	*v = Normalize(n.String())
	return nil
}

// Normalize trims whitespace and strips redundant trailing zeros from decimal
// chapter numbers: "12.0" becomes "12" and "12.50" becomes "12.5".
// Non-numeric tokens are only trimmed.
func Normalize(raw string) Value {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if _, err := strconv.ParseFloat(s, 64); err != nil {
		return Value(s)
	}
	if strings.ContainsAny(s, "eE") {
		// exponent notation from a JSON float
		f, _ := strconv.ParseFloat(s, 64)
		s = strconv.FormatFloat(f, 'f', -1, 64)
	}
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimSuffix(s, ".")
	}
	if s == "" || s == "-" {
		return "0"
	}
	return Value(s)
}

// Compare returns -1, 0 or +1 when a is lower than, equal to or greater than b.
//
// Both tokens numeric: compared as decimals ("9" < "10", "12.5" < "13").
// Otherwise both parse as versions ("1.2.3", "v2"): semantic version order.
// Otherwise: plain string order.
func Compare(a, b Value) int {
	if fa, errA := strconv.ParseFloat(string(a), 64); errA == nil {
		if fb, errB := strconv.ParseFloat(string(b), 64); errB == nil {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			default:
				return 0
			}
		}
	}
	if va, errA := mvc.NewVersion(string(a)); errA == nil {
		if vb, errB := mvc.NewVersion(string(b)); errB == nil {
			return va.Compare(vb)
		}
	}
	return strings.Compare(string(a), string(b))
}

// Greater reports whether next is a newer chapter than prev.
func Greater(next, prev Value) bool {
	return Compare(next, prev) > 0
}
