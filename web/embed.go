// Package web embeds the chat UI (dist/) and serves it as a single-page
// application.
package web

import (
	"embed"
	"io/fs"
	"net/http"
	"path"
	"strings"
)

//go:embed all:dist
var distFS embed.FS

const indexFile = "index.html"

// SPAHandler serves the chat UI. Paths naming an embedded file are served
// as-is; extensionless paths render index.html so client-side routes work;
// anything else with an extension is a missing asset and gets a 404.
func SPAHandler() http.Handler {
	ui, err := fs.Sub(distFS, "dist")
	if err != nil {
		panic("web: failed to create sub filesystem: " + err.Error())
	}
	return &spa{files: ui, server: http.FileServer(http.FS(ui))}
}

type spa struct {
	files  fs.FS
	server http.Handler
}

func (s *spa) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(path.Clean(r.URL.Path), "/")
	if name == "" || name == "." {
		name = indexFile
	}

	if name != indexFile {
		if info, err := fs.Stat(s.files, name); err == nil && !info.IsDir() {
			w.Header().Set("Cache-Control", "public, max-age=3600")
			s.server.ServeHTTP(w, r)
			return
		}
		if path.Ext(name) != "" {
			http.NotFound(w, r)
			return
		}
	}

	// FileServer redirects "/index.html" to "/", so the index is always
	// requested through the directory path.
	w.Header().Set("Cache-Control", "no-cache")
	r2 := r.Clone(r.Context())
	r2.URL.Path = "/"
	s.server.ServeHTTP(w, r2)
}
