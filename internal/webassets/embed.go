// Package webassets embeds the default page templates and the maintenance
// page served before any content is active.
package webassets

import (
	"embed"
	"fmt"
	"io/fs"
)

//go:embed templates fallback
var embedded embed.FS

// MaintenanceFile is served from FallbackFS with 503 while no content is loaded.
const MaintenanceFile = "maintenance.html"

func sub(dir string) fs.FS {
	s, err := fs.Sub(embedded, dir)
	if err != nil {
		panic(fmt.Errorf("webassets: %s subfs: %w", dir, err))
	}
	return s
}

// TemplatesFS holds page.html, page_list.html, posts_list.html, 404.html and
// the partials they share. A templates directory on disk is layered on top.
func TemplatesFS() fs.FS { return sub("templates") }

func FallbackFS() fs.FS { return sub("fallback") }
