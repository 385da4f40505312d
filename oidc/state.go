// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"fmt"
	"time"

	"golang.org/x/oauth2"
)

// State basically represents one OIDC authentication flow for a user. It
// contains the data needed to uniquely represent that one-time flow across the
// multiple interactions needed to complete the OIDC flow the user is
// attempting.
//
// ID() is passed throughout the OIDC interactions to uniquely identify the
// flow's state. The ID() and Nonce() cannot be equal, and will be used during
// the OIDC flow to prevent CSRF and replay attacks (see OpenID Connect Core for
// specifics).
type State interface {
	// ID is a unique identifier and an opaque value used to maintain state
	// between the oidc request and the callback. ID cannot equal the Nonce.
	// See https://openid.net/specs/openid-connect-core-1_0.html#AuthRequest.
	ID() string

	// Nonce is a unique nonce and a string value used to associate a Client
	// session with an id_token, and to mitigate replay attacks. Nonce cannot
	// equal the ID.
	// See https://openid.net/specs/openid-connect-core-1_0.html#AuthRequest
	// and https://openid.net/specs/openid-connect-core-1_0.html#NonceNotes.
	Nonce() string

	// PKCEVerifier is the code verifier sent with the token request. Its
	// S256 challenge is sent with the authorization request.
	// See: https://tools.ietf.org/html/rfc7636
	PKCEVerifier() string

	// RedirectURL is a URL where providers will redirect responses to
	// authentication requests.
	RedirectURL() string

	// ReturnTo is the local path the user lands on once the flow completes.
	ReturnTo() string

	// IsExpired returns true if the state has expired.
	IsExpired() bool
}

// St represents the oidc state used for oidc flows and satisfies the State
// interface.
type St struct {
	id           string
	nonce        string
	pkceVerifier string
	redirectURL  string
	returnTo     string

	// expiration is the expiration time for the State.
	expiration time.Time

	// nowFunc is an optional function that returns the current time
	nowFunc func() time.Time

	expirySkew time.Duration
}

// ensure that St implements the State interface.
var _ State = (*St)(nil)

// NewState creates a new State (*St).
// Supports the options:
//   - WithNow
//   - WithExpirySkew
//   - WithReturnTo
func NewState(expireIn time.Duration, redirectURL string, opt ...Option) (*St, error) {
	const op = "oidc.NewState"
	if expireIn <= 0 {
		return nil, fmt.Errorf("%s: expireIn not greater than zero: %w", op, ErrInvalidParameter)
	}
	if redirectURL == "" {
		return nil, fmt.Errorf("%s: redirect URL is empty: %w", op, ErrInvalidParameter)
	}
	opts := getStOpts(opt...)
	nonce, err := NewID(WithPrefix("n"))
	if err != nil {
		return nil, fmt.Errorf("%s: unable to generate a state's nonce: %w", op, err)
	}
	id, err := NewID(WithPrefix("st"))
	if err != nil {
		return nil, fmt.Errorf("%s: unable to generate a state's id: %w", op, err)
	}
	s := &St{
		id:           id,
		nonce:        nonce,
		pkceVerifier: oauth2.GenerateVerifier(),
		redirectURL:  redirectURL,
		returnTo:     opts.withReturnTo,
		nowFunc:      opts.withNowFunc,
		expirySkew:   opts.withExpirySkew,
	}
	s.expiration = s.now().Add(expireIn)
	return s, nil
}

// ID implements the State.ID() interface function.
func (s *St) ID() string { return s.id }

// Nonce implements the State.Nonce() interface function.
func (s *St) Nonce() string { return s.nonce }

// PKCEVerifier implements the State.PKCEVerifier() interface function.
func (s *St) PKCEVerifier() string { return s.pkceVerifier }

// RedirectURL implements the State.RedirectURL() interface function.
func (s *St) RedirectURL() string { return s.redirectURL }

// ReturnTo implements the State.ReturnTo() interface function.
func (s *St) ReturnTo() string { return s.returnTo }

// Expiration returns the State's expiration.
func (s *St) Expiration() time.Time { return s.expiration }

// DefaultStateExpirySkew defines a default time skew when checking a State's
// expiration.
const DefaultStateExpirySkew = 1 * time.Second

// IsExpired returns true if the state has expired, taking the configured
// expiry skew into account.
func (s *St) IsExpired() bool {
	return s.expiration.Before(s.now().Add(s.expirySkew))
}

// now returns the current time using the optional nowFunc.
func (s *St) now() time.Time {
	if s.nowFunc != nil {
		return s.nowFunc()
	}
	return time.Now() // fallback to this default
}

// stOptions is the set of available options for St functions.
type stOptions struct {
	withExpirySkew time.Duration
	withNowFunc    func() time.Time
	withReturnTo   string
}

// stDefaults is a handy way to get the defaults at runtime and during unit
// tests.
func stDefaults() stOptions {
	return stOptions{
		withExpirySkew: DefaultStateExpirySkew,
		withReturnTo:   "/",
	}
}

// getStOpts gets the state defaults and applies the opt overrides passed in.
func getStOpts(opt ...Option) stOptions {
	opts := stDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithReturnTo provides the local path the user should land on after a
// successful authentication.  An empty path is ignored.
//
// Valid for: St
func WithReturnTo(path string) Option {
	return func(o interface{}) {
		if o, ok := o.(*stOptions); ok && path != "" {
			o.withReturnTo = path
		}
	}
}
