// ABOUTME: Parsers turning user-typed text into setting values
// ABOUTME: Empty input or "none" yields nil, which clears the stored value

package settings

import (
	"strconv"
	"strings"
)

// Parser converts user input to a value. A nil result means "unset".
type Parser[T any] func(raw string) (*T, error)

func cleared(raw string) bool {
	s := strings.TrimSpace(strings.ToLower(raw))
	return s == "" || s == "none"
}

// Bool accepts y/yes/t/true/1 and n/no/f/false/0, case-insensitively.
func Bool(raw string) (*bool, error) {
	if cleared(raw) {
		return nil, nil
	}
	var v bool
	switch strings.TrimSpace(strings.ToLower(raw)) {
	case "y", "yes", "t", "true", "1":
		v = true
	case "n", "no", "f", "false", "0":
		v = false
	default:
		return nil, argErrorf("%q is neither true nor false", raw)
	}
	return &v, nil
}

// Int64 accepts a base-10 integer.
func Int64(raw string) (*int64, error) {
	if cleared(raw) {
		return nil, nil
	}
	v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return nil, argErrorf("%q is not a whole number", raw)
	}
	return &v, nil
}

// String stores the input with surrounding whitespace removed.
func String(raw string) (*string, error) {
	if cleared(raw) {
		return nil, nil
	}
	v := strings.TrimSpace(raw)
	return &v, nil
}
