// ABOUTME: Identifier quoting and value rendering helpers for the store
// ABOUTME: quoteIdent is the only place table names are spliced into SQL text

package store

import (
	"fmt"
	"strconv"
	"strings"
)

// quoteIdent escapes an SQLite identifier by doubling embedded quotes and
// wrapping it in double quotes. Call it while building the final statement,
// never earlier, and never on values: values are always bound parameters.
func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// normalizeSchema collapses whitespace so cosmetic differences between two
// column lists are not reported as conflicts.
func normalizeSchema(columns string) string {
	return strings.Join(strings.Fields(columns), " ")
}

// compact flattens a multi-line statement for logging.
func compact(query string) string {
	return strings.Join(strings.Fields(query), " ")
}

// renderValue formats a scanned column value for display.
func renderValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return strconv.Quote(string(val))
	case string:
		return strconv.Quote(val)
	default:
		return fmt.Sprint(val)
	}
}
