// Package duckdb provides utilities for working with DuckDB data types and formats.
package duckdb

import (
	"fmt"
	"strings"
)

// Int64ArrayToString converts []int64 to DuckDB array string format.
// Example: [1, 2, 3] -> "[1, 2, 3]"
// This format is required when binding a Go slice to a BIGINT[] column,
// since the DuckDB driver does not accept Go slices as query parameters
// directly.
func Int64ArrayToString(vec []int64) string {
	if len(vec) == 0 {
		return "[]"
	}

	var sb strings.Builder
	sb.WriteString("[")
	for i, v := range vec {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(fmt.Sprintf("%d", v))
	}
	sb.WriteString("]")
	return sb.String()
}

// StringArrayToString converts []string to a DuckDB array literal, quoting
// and escaping each element. Used for VARCHAR[] columns such as a role's
// coarse permission tag list.
func StringArrayToString(vec []string) string {
	if len(vec) == 0 {
		return "[]"
	}

	var sb strings.Builder
	sb.WriteString("[")
	for i, v := range vec {
		if i > 0 {
			sb.WriteString(", ")
		}
		escaped := strings.ReplaceAll(v, "'", "''")
		sb.WriteString(fmt.Sprintf("'%s'", escaped))
	}
	sb.WriteString("]")
	return sb.String()
}
