// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
)

const tracerName = "github.com/hashicorp/cap-signin/oidc"

// Provider provides integration with an OIDC provider.
// It's primary capabilities include:
//   - Kicking off a user authentication via either the authorization code flow
//     (with PKCE) by generating a URL to the provider's auth endpoint
//   - Exchanging an authorization code for an id_token and access_token
//   - Verifying an id_token
//   - Retrieving a user's claims from the provider's UserInfo endpoint
//   - Refreshing an access_token through its refresh_token
type Provider struct {
	config   *Config
	provider *oidc.Provider
	client   *http.Client
	tracer   trace.Tracer

	mu sync.Mutex

	// backgroundCtx is the context used by the provider for background
	// activities like: refreshing JWKs Key sets, refreshing tokens, etc
	backgroundCtx context.Context

	// backgroundCtxCancel is used to cancel any background activities running
	// in spawned go routines.
	backgroundCtxCancel context.CancelFunc
}

// NewProvider creates and initializes a Provider.  Intializing the provider,
// includes making an http request to the provider's issuer.
//
// See Provider.Done() which must be called to release provider resources.
func NewProvider(c *Config) (*Provider, error) {
	const op = "NewProvider"
	if c == nil {
		return nil, fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: provider config is invalid: %w", op, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	// initializing the Provider with it's background ctx/cancel will
	// allow us to use p.Done() to release any resources when returning errors
	// from this function.
	p := &Provider{
		config:              c,
		tracer:              otel.Tracer(tracerName),
		backgroundCtx:       ctx,
		backgroundCtxCancel: cancel,
	}

	client, err := c.HTTPClient()
	if err != nil {
		p.Done() // release the backgroundCtxCancel resources
		return nil, fmt.Errorf("%s: unable to create http client: %w", op, err)
	}
	p.client = client

	provider, err := oidc.NewProvider(HTTPClientContext(p.backgroundCtx, client), c.Issuer) // makes http req to issuer for discovery
	if err != nil {
		p.Done() // release the backgroundCtxCancel resources
		// we don't know what's causing the problem, so we won't classify the
		// error with a sentinel
		return nil, fmt.Errorf("%s: unable to create provider: %w", op, err)
	}
	p.provider = provider
	c.logger().Debug("provider discovered", "issuer", c.Issuer, "auth_endpoint", provider.Endpoint().AuthURL)

	return p, nil
}

// Done with the provider's background resources and must be called for every
// Provider created.
func (p *Provider) Done() {
	// checking for nil here prevents a panic when developers neglect to check
	// the for an error before deferring a call to p.Done():
	// p, err := NewProvider(...)
	// defer p.Done()
	// if err != nil { ... }
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.backgroundCtxCancel != nil {
		p.backgroundCtxCancel()
		p.backgroundCtxCancel = nil
	}
}

// Config returns the provider's configuration.
func (p *Provider) Config() *Config { return p.config }

// oauth2Config builds the oauth2 client configuration used for a single
// authentication attempt.
func (p *Provider) oauth2Config(redirectURL string) oauth2.Config {
	// Add the "openid" scope, which is a required scope for oidc flows
	scopes := append([]string{oidc.ScopeOpenID}, p.config.Scopes...)
	return oauth2.Config{
		ClientID:     p.config.ClientID,
		ClientSecret: string(p.config.ClientSecret),
		RedirectURL:  redirectURL,
		Endpoint:     p.provider.Endpoint(),
		Scopes:       scopes,
	}
}

// AuthURL will generate a URL the caller can use to kick off an OIDC
// authorization code flow (with PKCE) with an IdP.
//
// See NewState() to create an oidc flow State with a valid ID and Nonce that
// will uniquely identify the user's authentication attempt throughout the flow.
func (p *Provider) AuthURL(ctx context.Context, s State) (url string, e error) {
	const op = "Provider.AuthURL"
	if s == nil {
		return "", fmt.Errorf("%s: state is nil: %w", op, ErrNilParameter)
	}
	if s.ID() == s.Nonce() {
		return "", fmt.Errorf("%s: state id and nonce cannot be equal: %w", op, ErrInvalidParameter)
	}
	if s.IsExpired() {
		return "", fmt.Errorf("%s: state is expired: %w", op, ErrExpiredState)
	}
	if err := p.validRedirect(s.RedirectURL()); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	oauth2Config := p.oauth2Config(s.RedirectURL())
	authCodeOpts := []oauth2.AuthCodeOption{
		oidc.Nonce(s.Nonce()),
		oauth2.S256ChallengeOption(s.PKCEVerifier()),
	}
	if p.config.OfflineAccess {
		authCodeOpts = append(authCodeOpts, oauth2.AccessTypeOffline)
	}
	if p.config.Prompt != "" {
		authCodeOpts = append(authCodeOpts, oauth2.SetAuthURLParam("prompt", p.config.Prompt))
	}
	if len(p.config.UILocales) > 0 {
		authCodeOpts = append(authCodeOpts, oauth2.SetAuthURLParam("ui_locales", p.config.uiLocales()))
	}
	return oauth2Config.AuthCodeURL(s.ID(), authCodeOpts...), nil
}

// Exchange will request a token from the oidc token endpoint, using the
// authorizationCode and authorizationState it received in an earlier successful
// oidc authentication response.
//
// It will also validate the authorizationState it receives against the
// existing State for the user's oidc authentication flow.
//
// On success, the Token returned will include an IDToken and an AccessToken.
// Based on the IdP, it may include a RefreshToken.
func (p *Provider) Exchange(ctx context.Context, s State, authorizationState string, authorizationCode string) (*Tk, error) {
	const op = "Provider.Exchange"
	ctx, span := p.tracer.Start(ctx, op)
	defer span.End()

	t, err := p.exchange(ctx, s, authorizationState, authorizationCode)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "exchange failed")
		return nil, err
	}
	return t, nil
}

func (p *Provider) exchange(ctx context.Context, s State, authorizationState string, authorizationCode string) (*Tk, error) {
	const op = "Provider.Exchange"
	if p.config == nil {
		return nil, fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	}
	if s == nil {
		return nil, fmt.Errorf("%s: state is nil: %w", op, ErrNilParameter)
	}
	if s.ID() != authorizationState {
		return nil, fmt.Errorf("%s: authentication state and authorization state are not equal: %w", op, ErrResponseStateInvalid)
	}
	if s.IsExpired() {
		return nil, fmt.Errorf("%s: authentication state is expired: %w", op, ErrExpiredState)
	}
	if authorizationCode == "" {
		return nil, fmt.Errorf("%s: authorization code is empty: %w", op, ErrInvalidParameter)
	}
	if err := p.validRedirect(s.RedirectURL()); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	oidcCtx := HTTPClientContext(ctx, p.client)
	oauth2Config := p.oauth2Config(s.RedirectURL())
	oauth2Token, err := oauth2Config.Exchange(oidcCtx, authorizationCode, oauth2.VerifierOption(s.PKCEVerifier()))
	if err != nil {
		return nil, fmt.Errorf("%s: unable to exchange auth code with provider: %w", op, err)
	}

	idToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok || idToken == "" {
		return nil, fmt.Errorf("%s: id_token is missing from auth code exchange: %w", op, ErrMissingIDToken)
	}
	t, err := NewToken(IDToken(idToken), oauth2Token, WithNow(p.config.NowFunc))
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create new id_token: %w", op, err)
	}
	verified, err := p.verify(ctx, t.IDToken(), s.Nonce())
	if err != nil {
		return nil, fmt.Errorf("%s: id_token failed verification: %w", op, err)
	}
	if t.AccessToken() != "" && verified.AccessTokenHash != "" {
		if err := verified.VerifyAccessToken(string(t.AccessToken())); err != nil {
			return nil, fmt.Errorf("%s: access_token hash does not match id_token at_hash: %w", op, ErrIDTokenVerificationFailed)
		}
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.Bool("oidc.refresh_token", t.RefreshToken() != ""))
	p.config.logger().Debug("authorization code exchanged", "state", s.ID(), "expiry", t.Expiry())
	return t, nil
}

// VerifyIDToken will verify the inbound IDToken.  It verifies it's been signed by the provider, it validates the
// nonce and performs any additional checks depending on the provider's config
// (audiences, etc).
//
// See: https://openid.net/specs/openid-connect-core-1_0.html#IDTokenValidation
func (p *Provider) VerifyIDToken(ctx context.Context, t IDToken, nonce string) error {
	_, err := p.verify(ctx, t, nonce)
	return err
}

func (p *Provider) verify(ctx context.Context, t IDToken, nonce string) (*oidc.IDToken, error) {
	const op = "Provider.VerifyIDToken"
	if t == "" {
		return nil, fmt.Errorf("%s: id_token is empty: %w", op, ErrInvalidParameter)
	}
	if nonce == "" {
		return nil, fmt.Errorf("%s: nonce is empty: %w", op, ErrInvalidParameter)
	}
	algs := make([]string, 0, len(p.config.SupportedSigningAlgs))
	for _, a := range p.config.SupportedSigningAlgs {
		algs = append(algs, string(a))
	}
	oidcConfig := &oidc.Config{
		SupportedSigningAlgs: algs,
		ClientID:             p.config.ClientID,
		Now:                  p.config.Now,
	}
	verifier := p.provider.Verifier(oidcConfig)

	oidcIDToken, err := verifier.Verify(ctx, string(t))
	if err != nil {
		return nil, fmt.Errorf("%s: invalid id_token: %s: %w", op, err, ErrIDTokenVerificationFailed)
	}
	if oidcIDToken.Nonce != nonce {
		return nil, fmt.Errorf("%s: invalid id_token nonce: %w", op, ErrInvalidNonce)
	}
	if len(p.config.Audiences) > 0 && !anyOf(oidcIDToken.Audience, p.config.Audiences) {
		return nil, fmt.Errorf("%s: invalid id_token audiences: %w", op, ErrInvalidAudience)
	}
	return oidcIDToken, nil
}

// UserInfo gets the UserInfo claims from the provider using the token produced
// by the tokenSource.  Only JSON user info responses are supported (signed
// JWT responses are not).  The WithAudiences option is not supported.
// The subject must match the subject of the id_token the access_token was
// issued with.
func (p *Provider) UserInfo(ctx context.Context, tokenSource oauth2.TokenSource, validSubject string, claims interface{}) error {
	const op = "Provider.UserInfo"
	ctx, span := p.tracer.Start(ctx, op)
	defer span.End()
	if tokenSource == nil {
		return fmt.Errorf("%s: token source is nil: %w", op, ErrNilParameter)
	}
	if claims == nil {
		return fmt.Errorf("%s: claims interface is nil: %w", op, ErrNilParameter)
	}
	if validSubject == "" {
		return fmt.Errorf("%s: subject is empty: %w", op, ErrInvalidParameter)
	}
	oidcCtx := HTTPClientContext(ctx, p.client)

	userinfo, err := p.provider.UserInfo(oidcCtx, tokenSource)
	if err != nil {
		span.SetStatus(codes.Error, "userinfo request failed")
		return fmt.Errorf("%s: provider UserInfo request failed: %s: %w", op, err, ErrUserInfoFailed)
	}
	if userinfo.Subject != validSubject {
		return fmt.Errorf("%s: UserInfo subject does not match id_token subject: %w", op, ErrUserInfoFailed)
	}
	if err := userinfo.Claims(claims); err != nil {
		return fmt.Errorf("%s: failed to get UserInfo claims: %w", op, err)
	}
	return nil
}

// TokenSource returns an oauth2.TokenSource which returns t until its
// access_token expires, then uses the refresh_token to get a new one from the
// provider.
func (p *Provider) TokenSource(ctx context.Context, redirectURL string, t Token) (oauth2.TokenSource, error) {
	const op = "Provider.TokenSource"
	if t == nil {
		return nil, fmt.Errorf("%s: token is nil: %w", op, ErrNilParameter)
	}
	if t.AccessToken() == "" {
		return nil, fmt.Errorf("%s: access_token is empty: %w", op, ErrInvalidParameter)
	}
	oauth2Config := p.oauth2Config(redirectURL)
	return oauth2Config.TokenSource(HTTPClientContext(ctx, p.client), &oauth2.Token{
		AccessToken:  string(t.AccessToken()),
		RefreshToken: string(t.RefreshToken()),
		Expiry:       t.Expiry(),
	}), nil
}

// validRedirect checks whether uri is in the configured list of allowed
// redirect URLs.
func (p *Provider) validRedirect(uri string) error {
	const op = "Provider.validRedirect"
	for _, allowed := range p.config.AllowedRedirectURLs {
		if uri == allowed {
			return nil
		}
	}
	return fmt.Errorf("%s: redirect URL %s is not allowed: %w", op, uri, ErrInvalidRedirectURL)
}

func anyOf(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}
