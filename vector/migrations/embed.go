// Package migrations embeds the schema for the SQL-backed vector stores.
package migrations

import "embed"

//go:embed sqlite/*.sql
var SQLite embed.FS

// Postgres migrations contain a {{DIMENSION}} placeholder for the vector column size.
//
//go:embed postgres/*.sql
var Postgres embed.FS
