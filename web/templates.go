// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"

	"github.com/hashicorp/cap-signin/session"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

const (
	pageHome    = "home"
	pageProfile = "profile"
	pageError   = "error"
)

type homeData struct {
	Session *session.Session
}

type profileData struct {
	Session     *session.Session
	SessionJSON string
}

type errorData struct {
	Message string
}

// parsePages parses every page together with the shared layout.
func parsePages() (map[string]*template.Template, error) {
	const op = "web.parsePages"
	pages := map[string]*template.Template{}
	for _, name := range []string{pageHome, pageProfile, pageError} {
		t, err := template.ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("%s: unable to parse %s: %w", op, name, err)
		}
		pages[name] = t
	}
	return pages, nil
}

// staticFiles returns the embedded static assets rooted at their directory.
func staticFiles() http.FileSystem {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		// the directory is embedded at build time
		panic(err)
	}
	return http.FS(sub)
}

// render executes the page into a buffer first so a template error never
// produces a partial page.
func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, page string, data interface{}) {
	t, ok := s.pages[page]
	if !ok {
		s.logger.Error("unknown page", "page", page)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		s.logger.Error("unable to render page", "page", page, "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if _, err := buf.WriteTo(w); err != nil {
		s.logger.Debug("unable to write page", "page", page, "path", r.URL.Path, "error", err)
	}
}
