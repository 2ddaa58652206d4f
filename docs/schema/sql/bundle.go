// Package sqldocs exposes the record store DDL bundles directly from the docs tree.
package sqldocs

import _ "embed"

// SQLite contains the record store SQLite DDL bundle.
//
//go:embed sqlite.sql
var SQLite string

// Postgres contains the record store Postgres DDL bundle.
//
//go:embed postgres.sql
var Postgres string
