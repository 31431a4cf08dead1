// Package migrations embeds the flagchain schema for goose.
package migrations

import "embed"

// FS holds the ordered goose migrations.
//
//go:embed *.sql
var FS embed.FS
