// Package migrations embeds the goose SQL migrations of every module.
package migrations

import (
	"embed"
	"io/fs"
)

//go:embed org/*.sql
var embedded embed.FS

// Org returns the org module migrations rooted at their directory.
func Org() fs.FS {
	sub, err := fs.Sub(embedded, "org")
	if err != nil {
		panic(err)
	}
	return sub
}
