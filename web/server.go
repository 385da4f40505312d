// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package web

import (
	"context"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/mux"
	"github.com/hashicorp/cap-signin/oidc"
	"github.com/hashicorp/cap-signin/oidc/callback"
	"github.com/hashicorp/cap-signin/session"
	"github.com/hashicorp/cap-signin/store"
	"github.com/hashicorp/cap-signin/telemetry"
	"github.com/hashicorp/go-hclog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/hashicorp/cap-signin/web"

// StateStore holds pending sign-in attempts.  store.StateCache implements
// it.
type StateStore interface {
	Add(s oidc.State) error
	// Take returns the state and removes it, so a sign-in attempt completes
	// at most once.
	Take(ctx context.Context, stateID string) (oidc.State, error)
}

// takingReader is the callback.StateReader for a StateStore: every callback
// uses up the state it presents.
type takingReader struct {
	states StateStore
}

func (r takingReader) Read(ctx context.Context, stateID string) (oidc.State, error) {
	return r.states.Take(ctx, stateID)
}

// UserRecorder records accounts that signed in.  store.UserStore implements
// it.
type UserRecorder interface {
	RecordSignIn(ctx context.Context, u store.User) (store.User, error)
}

// pinger is implemented by recorders whose health /healthz reports.
type pinger interface {
	Ping(ctx context.Context) error
}

// Server serves the demo's pages and sign-in routes.
type Server struct {
	provider    *oidc.Provider
	states      StateStore
	sessions    *session.Manager
	users       UserRecorder
	logger      hclog.Logger
	metrics     *telemetry.Metrics
	tracer      trace.Tracer
	limiter     *rateLimiter
	stateTTL    time.Duration
	redirectURL string
	secure      bool
	origin      string
	csp         string
	pages       map[string]*template.Template
	callback    http.HandlerFunc
	handler     http.Handler
}

// NewServer creates a Server.
//
// Supported options: WithLogger, WithUserRecorder, WithMetrics,
// WithTracerProvider, WithStateTTL, WithRateLimit, WithRedirectURL
func NewServer(p *oidc.Provider, states StateStore, sessions *session.Manager, opt ...Option) (*Server, error) {
	const op = "web.NewServer"
	switch {
	case p == nil:
		return nil, fmt.Errorf("%s: provider is nil: %w", op, ErrInvalidParameter)
	case states == nil:
		return nil, fmt.Errorf("%s: state store is nil: %w", op, ErrInvalidParameter)
	case sessions == nil:
		return nil, fmt.Errorf("%s: session manager is nil: %w", op, ErrInvalidParameter)
	}
	opts := getServerOpts(opt...)

	redirectURL := opts.withRedirectURL
	if redirectURL == "" && len(p.Config().AllowedRedirectURLs) > 0 {
		redirectURL = p.Config().AllowedRedirectURLs[0]
	}
	ru, err := url.Parse(redirectURL)
	if err != nil || redirectURL == "" {
		return nil, fmt.Errorf("%s: redirect URL %q is invalid: %w", op, redirectURL, ErrInvalidParameter)
	}
	tp := opts.withTracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	pages, err := parsePages()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s := &Server{
		provider:    p,
		states:      states,
		sessions:    sessions,
		users:       opts.withUserRecorder,
		logger:      opts.withLogger,
		metrics:     opts.withMetrics,
		tracer:      tp.Tracer(tracerName),
		limiter:     newRateLimiter(opts.withRateLimit, opts.withRateBurst),
		stateTTL:    opts.withStateTTL,
		redirectURL: redirectURL,
		secure:      ru.Scheme == "https",
		origin:      siteOrigin(ru),
		csp:         contentSecurityPolicy(p.Config().Issuer),
		pages:       pages,
	}
	s.callback, err = callback.AuthCode(p, takingReader{states: states}, s.signInSucceeded, s.signInFailed)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.handler = s.routes()
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()
	r.Use(s.traceRequests)

	r.HandleFunc("/", s.handleHome).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/profile", s.handleProfile).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/api/auth/session", s.handleSession).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet, http.MethodHead)
	r.PathPrefix("/static/").Handler(http.StripPrefix("/static/", s.staticHandler())).Methods(http.MethodGet, http.MethodHead)

	auth := r.PathPrefix("/auth").Subrouter()
	auth.Use(s.rateLimit)
	auth.Handle("/signin", s.requireSameOrigin(http.HandlerFunc(s.handleSignIn))).Methods(http.MethodGet, http.MethodPost)
	// the provider may post the callback from its own origin
	auth.HandleFunc("/callback/google", s.callback).Methods(http.MethodGet, http.MethodPost)
	auth.Handle("/signout", s.requireSameOrigin(http.HandlerFunc(s.handleSignOut))).Methods(http.MethodPost)

	return s.recoverPanics(s.logRequests(s.securityHeaders(r)))
}

// Close releases the server's background resources.
func (s *Server) Close() {
	s.limiter.stop()
}
