// Package migrations embeds the per-service schema so the migrate tool ships
// as a single binary.
package migrations

import "embed"

//go:embed booking/*.sql scheduler/*.sql notification/*.sql
var FS embed.FS
