// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hashicorp/cap-signin/session"
)

// currentSession returns the request's session or nil.  A cookie that can't
// be trusted is cleared.
func (s *Server) currentSession(w http.ResponseWriter, r *http.Request) *session.Session {
	sess, err := s.sessions.Read(r)
	if err != nil {
		if errors.Is(err, session.ErrInvalidSession) {
			s.logger.Debug("discarding invalid session", "error", err)
			s.sessions.Clear(w)
			return nil
		}
		s.logger.Error("unable to read session", "error", err)
		return nil
	}
	return sess
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, pageHome, homeData{Session: s.currentSession(w, r)})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	sess := s.currentSession(w, r)
	if sess == nil {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	js, err := sess.PrettyJSON()
	if err != nil {
		s.logger.Error("unable to encode session", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	s.render(w, r, http.StatusOK, pageProfile, profileData{Session: sess, SessionJSON: js})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	sess := s.currentSession(w, r)
	if sess == nil {
		s.writeJSON(w, http.StatusOK, struct{}{})
		return
	}
	s.writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if p, ok := s.users.(pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			s.logger.Error("health check failed", "error", err)
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) staticHandler() http.Handler {
	files := http.FileServer(staticFiles())
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=3600")
		files.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("unable to encode response", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(b)
}
