// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package web

import (
	"errors"
	"mime"
	"net/http"
	"strings"

	"github.com/hashicorp/cap-signin/oidc"
	"github.com/hashicorp/cap-signin/oidc/callback"
	"github.com/hashicorp/cap-signin/session"
	"github.com/hashicorp/cap-signin/store"
)

// handleSignIn starts a sign-in attempt and sends the browser to Google.  The
// optional callbackUrl is where the user lands once signed in.
func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	returnTo := localPath(r.FormValue("callbackUrl"))
	st, err := oidc.NewState(s.stateTTL, s.redirectURL, oidc.WithReturnTo(returnTo))
	if err != nil {
		s.logger.Error("unable to create sign-in state", "error", err)
		s.renderError(w, r, http.StatusInternalServerError, "We couldn't start the sign-in. Please try again.")
		return
	}
	authURL, err := s.provider.AuthURL(r.Context(), st)
	if err != nil {
		s.logger.Error("unable to create auth URL", "error", err)
		s.renderError(w, r, http.StatusInternalServerError, "We couldn't start the sign-in. Please try again.")
		return
	}
	if err := s.states.Add(st); err != nil {
		if errors.Is(err, store.ErrFull) {
			s.logger.Warn("too many pending sign-ins", "error", err)
			w.Header().Set("Retry-After", "60")
			s.renderError(w, r, http.StatusServiceUnavailable, "Too many people are signing in right now. Please try again in a minute.")
			return
		}
		s.logger.Error("unable to store sign-in state", "error", err)
		s.renderError(w, r, http.StatusInternalServerError, "We couldn't start the sign-in. Please try again.")
		return
	}
	s.metrics.RecordSignInStarted(r.Context())
	s.logger.Debug("sign-in started", "state", st.ID(), "return_to", returnTo)
	http.Redirect(w, r, authURL, http.StatusFound)
}

// signInSucceeded is the callback.SuccessResponseFunc: it builds the session
// from the id_token (enriched from UserInfo when the id_token lacks profile
// claims), records the user and sends them to where they were going.
func (s *Server) signInSucceeded(st oidc.State, t oidc.Token, w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var claims oidc.Claims
	if err := t.IDToken().Claims(&claims); err != nil {
		s.logger.Error("unable to read id_token claims", "error", err)
		s.metrics.RecordSignInFailed(ctx, "invalid_claims")
		s.renderError(w, r, http.StatusInternalServerError, "We couldn't read your Google profile. Please try again.")
		return
	}
	if claims.Subject == "" {
		s.logger.Error("id_token has no subject")
		s.metrics.RecordSignInFailed(ctx, "invalid_claims")
		s.renderError(w, r, http.StatusInternalServerError, "We couldn't read your Google profile. Please try again.")
		return
	}
	if !claims.HasProfile() {
		var info oidc.Claims
		if err := s.provider.UserInfo(ctx, t.StaticTokenSource(), claims.Subject, &info); err != nil {
			// the id_token alone is enough to sign in
			s.logger.Warn("unable to fetch user info", "sub", claims.Subject, "error", err)
		} else {
			claims.Merge(info)
		}
	}

	if s.users != nil {
		rec, err := s.users.RecordSignIn(ctx, store.User{
			ID:      claims.Subject,
			Name:    claims.Name,
			Email:   claims.Email,
			Picture: claims.Picture,
		})
		if err != nil {
			s.logger.Warn("unable to record sign-in", "sub", claims.Subject, "error", err)
		} else {
			s.logger.Debug("sign-in recorded", "sub", rec.ID, "count", rec.SignInCount)
		}
	}

	sess := s.sessions.New(session.User{
		ID:    claims.Subject,
		Name:  claims.Name,
		Email: claims.Email,
		Image: claims.Picture,
	})
	if err := s.sessions.Write(w, sess); err != nil {
		s.logger.Error("unable to write session", "error", err)
		s.metrics.RecordSignInFailed(ctx, "session")
		s.renderError(w, r, http.StatusInternalServerError, "We couldn't sign you in. Please try again.")
		return
	}
	s.metrics.RecordSignIn(ctx)
	s.logger.Info("signed in", "sub", claims.Subject)
	http.Redirect(w, r, localPath(st.ReturnTo()), http.StatusSeeOther)
}

// signInFailed is the callback.ErrorResponseFunc.  Provider errors are 401s,
// problems with the sign-in attempt itself are 400s and everything else is a
// 500.
func (s *Server) signInFailed(stateID string, respErr *callback.AuthenErrorResponse, e error, w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if stateID != "" {
		// provider errors arrive before the state is resolved
		_, _ = s.states.Take(ctx, stateID)
	}
	status, reason, msg := classifySignInError(respErr, e)
	s.metrics.RecordSignInFailed(ctx, reason)
	switch {
	case respErr != nil:
		s.logger.Warn("sign-in rejected by provider", "state", stateID, "error", respErr.Error, "description", respErr.Description)
	case status == http.StatusInternalServerError:
		s.logger.Error("sign-in failed", "state", stateID, "error", e)
	default:
		s.logger.Warn("sign-in failed", "state", stateID, "reason", reason, "error", e)
	}
	s.renderError(w, r, status, msg)
}

func classifySignInError(respErr *callback.AuthenErrorResponse, e error) (status int, reason, msg string) {
	switch {
	case respErr != nil:
		msg := "Google didn't sign you in"
		if respErr.Error == "access_denied" {
			msg = "You cancelled the Google sign-in"
		}
		return http.StatusUnauthorized, "provider_error", msg + ". Please try again."
	case e == nil:
		return http.StatusInternalServerError, "unknown", "Something went wrong. Please try again."
	case errors.Is(e, oidc.ErrExpiredState):
		return http.StatusBadRequest, "expired_state", "Your sign-in attempt expired. Please try again."
	case errors.Is(e, oidc.ErrNotFound), errors.Is(e, oidc.ErrResponseStateInvalid):
		return http.StatusBadRequest, "invalid_state", "Your sign-in attempt wasn't recognised. Please try again."
	case errors.Is(e, oidc.ErrInvalidParameter):
		return http.StatusBadRequest, "bad_request", "The sign-in response was incomplete. Please try again."
	default:
		return http.StatusInternalServerError, "exchange_failed", "We couldn't complete the sign-in with Google. Please try again."
	}
}

// handleSignOut clears the session.  Browsers are redirected to callbackUrl,
// script clients asking for JSON get {"url": callbackUrl}.
func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	dest := localPath(r.FormValue("callbackUrl"))
	if sess, err := s.sessions.Read(r); err == nil && sess != nil {
		s.logger.Info("signed out", "sub", sess.User.ID)
	}
	s.sessions.Clear(w)
	s.metrics.RecordSignOut(r.Context())
	if wantsJSON(r) {
		s.writeJSON(w, http.StatusOK, map[string]string{"url": dest})
		return
	}
	http.Redirect(w, r, dest, http.StatusSeeOther)
}

func (s *Server) renderError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	s.render(w, r, status, pageError, errorData{Message: msg})
}

// wantsJSON reports whether the client prefers a JSON response.
func wantsJSON(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		mt, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err == nil && mt == "application/json" {
			return true
		}
	}
	return false
}

