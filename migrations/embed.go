// Package migrations embeds the goose migrations for the ClickHouse schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
