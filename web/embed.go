// Package web embeds the page templates and the static assets.
package web

import (
	"embed"
	"fmt"
	"io/fs"
)

//go:embed static templates
var content embed.FS

// StaticFS returns the assets served under /static/.
func StaticFS() fs.FS { return mustSub("static") }

// TemplatesFS returns the page templates.
func TemplatesFS() fs.FS { return mustSub("templates") }

func mustSub(dir string) fs.FS {
	sub, err := fs.Sub(content, dir)
	if err != nil {
		panic(fmt.Sprintf("embedded %s directory missing: %v", dir, err))
	}
	return sub
}
