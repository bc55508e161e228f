// Package views embeds the dashboard templates.
package views

import (
	"embed"
	"io/fs"
	"os"
)

//go:embed templates
var efs embed.FS

// FS returns the templates. With reload set they are read from dir on disk
// so edits show up without a rebuild.
func FS(reload bool, dir string) fs.FS {
	if reload && dir != "" {
		return os.DirFS(dir)
	}
	f, err := fs.Sub(efs, "templates")
	if err != nil {
		panic("failed to subfs")
	}
	return f
}
