// Package migrations embeds the catalog's SQL migration files so the
// binary can migrate without the files present on disk.
package migrations

import (
	"embed"
	"io/fs"
)

//go:embed *.sql
var files embed.FS

// FS is the migration set, files at its root.
var FS fs.FS = files
