// Package migration embeds the SQL migrations of the submission schema.
package migration

import "embed"

// FS holds every migration file at its root, named <id>_<name>.sql.
//
//go:embed *.sql
var FS embed.FS
