// Package migrations embeds the schema files so the migrator binary and the
// test infrastructure apply the exact same DDL.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
