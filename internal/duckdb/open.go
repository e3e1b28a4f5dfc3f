package duckdb

import (
	"database/sql"
	"net/url"
	"strings"

	_ "github.com/marcboeker/go-duckdb"
)

// OpenDB opens a DuckDB database with autoloading of known extensions enabled,
// so that a missing extension referenced by a query is fetched on demand
// instead of failing outright.
func OpenDB(dsn string) (*sql.DB, error) {
	dsn = injectAutoloadConfig(dsn)
	return sql.Open("duckdb", dsn)
}

// injectAutoloadConfig adds autoinstall_known_extensions and
// autoload_known_extensions to the DSN query parameters if not already set.
func injectAutoloadConfig(dsn string) string {
	// Handle empty DSN (in-memory database).
	if dsn == "" || dsn == ":memory:" {
		return dsn
	}

	// Split path from query string.
	sep := strings.IndexByte(dsn, '?')
	path := dsn
	query := ""
	if sep >= 0 {
		path = dsn[:sep]
		query = dsn[sep+1:]
	}

	params, err := url.ParseQuery(query)
	if err != nil {
		// If we can't parse, return original DSN unchanged.
		return dsn
	}

	if !params.Has("autoinstall_known_extensions") {
		params.Set("autoinstall_known_extensions", "true")
	}
	if !params.Has("autoload_known_extensions") {
		params.Set("autoload_known_extensions", "true")
	}

	return path + "?" + params.Encode()
}
