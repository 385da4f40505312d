// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

const (
	testClientID     = "test-client-id"
	testClientSecret = "test-client-secret"
	testRedirect     = "https://example.com/auth/callback/google"
)

// testNewConfig creates a new config from the TestProvider. It will set the
// TestProvider's client ID/secret and use the TestProviders signing algorithm
// when building the configuration.
func testNewConfig(t *testing.T, tp *TestProvider, opt ...Option) *Config {
	t.Helper()
	require := require.New(t)
	tp.SetClientCreds(testClientID, testClientSecret)
	tp.SetAllowedRedirectURIs([]string{testRedirect})
	_, _, alg := tp.SigningKeys()
	opts := append([]Option{WithProviderCA(tp.CACert())}, opt...)
	c, err := NewConfig(tp.Addr(), testClientID, testClientSecret, []Alg{alg}, []string{testRedirect}, opts...)
	require.NoError(err)
	return c
}

// testAuthorize follows the auth URL to the test provider and returns the
// state and code it redirected back with.
func testAuthorize(t *testing.T, tp *TestProvider, authURL string) (state, code string) {
	t.Helper()
	require := require.New(t)
	client := tp.HTTPClient()
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	resp, err := client.Get(authURL)
	require.NoError(err)
	defer resp.Body.Close()
	require.Equal(http.StatusFound, resp.StatusCode)
	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(err)
	require.Emptyf(loc.Query().Get("error"), "provider error: %s", loc.Query().Get("error"))
	return loc.Query().Get("state"), loc.Query().Get("code")
}

func TestNewProvider(t *testing.T) {
	t.Parallel()
	tp := StartTestProvider(t)
	tests := []struct {
		name      string
		config    *Config
		wantErr   bool
		wantIsErr error
	}{
		{
			name:   "valid",
			config: testNewConfig(t, tp),
		},
		{
			name:      "nil-config",
			wantErr:   true,
			wantIsErr: ErrNilParameter,
		},
		{
			name: "invalid-config",
			config: func() *Config {
				c := testNewConfig(t, tp)
				c.ClientID = ""
				return c
			}(),
			wantErr:   true,
			wantIsErr: ErrInvalidParameter,
		},
		{
			name: "untrusted-ca",
			config: func() *Config {
				c := testNewConfig(t, tp)
				c.ProviderCA = ""
				return c
			}(),
			wantErr: true,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			got, err := NewProvider(tt.config)
			defer got.Done()
			if tt.wantErr {
				require.Error(err)
				if tt.wantIsErr != nil {
					assert.Truef(errors.Is(err, tt.wantIsErr), "wanted \"%s\" but got \"%s\"", tt.wantIsErr, err)
				}
				return
			}
			require.NoError(err)
			assert.Equal(tt.config, got.Config())
		})
	}
}

func TestProvider_AuthURL(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tp := StartTestProvider(t)
	p, err := NewProvider(testNewConfig(t, tp,
		WithPrompt("select_account"),
		WithUILocales(language.English, language.German),
		WithOfflineAccess(),
	))
	require.NoError(t, err)
	defer p.Done()

	validState, err := NewState(time.Minute, testRedirect)
	require.NoError(t, err)
	expiredState, err := NewState(time.Nanosecond, testRedirect)
	require.NoError(t, err)
	badRedirect, err := NewState(time.Minute, "https://evil.example.com/cb")
	require.NoError(t, err)
	sameIDNonce := &St{id: "same", nonce: "same", redirectURL: testRedirect, expiration: time.Now().Add(time.Minute)}

	tests := []struct {
		name      string
		state     State
		wantErr   bool
		wantIsErr error
	}{
		{name: "valid", state: validState},
		{name: "nil-state", wantErr: true, wantIsErr: ErrNilParameter},
		{name: "expired", state: expiredState, wantErr: true, wantIsErr: ErrExpiredState},
		{name: "bad-redirect", state: badRedirect, wantErr: true, wantIsErr: ErrInvalidRedirectURL},
		{name: "equal-id-nonce", state: sameIDNonce, wantErr: true, wantIsErr: ErrInvalidParameter},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			got, err := p.AuthURL(ctx, tt.state)
			if tt.wantErr {
				require.Error(err)
				assert.Truef(errors.Is(err, tt.wantIsErr), "wanted \"%s\" but got \"%s\"", tt.wantIsErr, err)
				return
			}
			require.NoError(err)
			u, err := url.Parse(got)
			require.NoError(err)
			q := u.Query()
			assert.Equal(tp.Addr()+"/auth", u.Scheme+"://"+u.Host+u.Path)
			assert.Equal(testClientID, q.Get("client_id"))
			assert.Equal("code", q.Get("response_type"))
			assert.Equal("openid email profile", q.Get("scope"))
			assert.Equal(tt.state.ID(), q.Get("state"))
			assert.Equal(tt.state.Nonce(), q.Get("nonce"))
			assert.Equal(testRedirect, q.Get("redirect_uri"))
			assert.Equal("S256", q.Get("code_challenge_method"))
			assert.NotEmpty(q.Get("code_challenge"))
			assert.Equal("select_account", q.Get("prompt"))
			assert.Equal("en de", q.Get("ui_locales"))
			assert.Equal("offline", q.Get("access_type"))
		})
	}
}

func TestProvider_Exchange(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tp := StartTestProvider(t)
	tp.SetExpectedAuthCode("valid-code")
	p, err := NewProvider(testNewConfig(t, tp))
	require.NoError(t, err)
	defer p.Done()

	tests := []struct {
		name          string
		setup         func(t *testing.T)
		stateOverride string
		codeOverride  string
		nonceOverride string
		expireIn      time.Duration
		wantErr       bool
		wantIsErr     error
	}{
		{
			name:     "valid",
			expireIn: time.Minute,
		},
		{
			name:          "state-mismatch",
			expireIn:      time.Minute,
			stateOverride: "not-the-state",
			wantErr:       true,
			wantIsErr:     ErrResponseStateInvalid,
		},
		{
			name:         "empty-code",
			expireIn:     time.Minute,
			codeOverride: "-",
			wantErr:      true,
			wantIsErr:    ErrInvalidParameter,
		},
		{
			name:          "bad-nonce",
			expireIn:      time.Minute,
			nonceOverride: "n_some-other-nonce",
			wantErr:       true,
			wantIsErr:     ErrInvalidNonce,
		},
		{
			name:     "bad-audience",
			expireIn: time.Minute,
			setup: func(t *testing.T) {
				tp.SetCustomAudience("someone-else")
				t.Cleanup(func() { tp.SetCustomAudience("") })
			},
			wantErr:   true,
			wantIsErr: ErrIDTokenVerificationFailed,
		},
		{
			name:     "missing-id-token",
			expireIn: time.Minute,
			setup: func(t *testing.T) {
				tp.SetOmitIDTokens(true)
				t.Cleanup(func() { tp.SetOmitIDTokens(false) })
			},
			wantErr:   true,
			wantIsErr: ErrMissingIDToken,
		},
		{
			name:     "token-endpoint-disabled",
			expireIn: time.Minute,
			setup: func(t *testing.T) {
				tp.SetDisableToken(true)
				t.Cleanup(func() { tp.SetDisableToken(false) })
			},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		tt := tt
		// subtests share the test provider, so they can't run in parallel
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			if tt.setup != nil {
				tt.setup(t)
			}
			s, err := NewState(tt.expireIn, testRedirect)
			require.NoError(err)
			authURL, err := p.AuthURL(ctx, s)
			require.NoError(err)
			respState, code := testAuthorize(t, tp, authURL)
			assert.Equal(s.ID(), respState)
			if tt.stateOverride != "" {
				respState = tt.stateOverride
			}
			switch tt.codeOverride {
			case "":
			case "-":
				code = ""
			default:
				code = tt.codeOverride
			}

			var exchangeState State = s
			if tt.nonceOverride != "" {
				// same flow, but the caller expects a different nonce than
				// the one sent to the provider
				exchangeState = &St{
					id:           s.ID(),
					nonce:        tt.nonceOverride,
					pkceVerifier: s.PKCEVerifier(),
					redirectURL:  s.RedirectURL(),
					expiration:   s.Expiration(),
				}
			}

			got, err := p.Exchange(ctx, exchangeState, respState, code)
			if tt.wantErr {
				require.Error(err)
				if tt.wantIsErr != nil {
					assert.Truef(errors.Is(err, tt.wantIsErr), "wanted \"%s\" but got \"%s\"", tt.wantIsErr, err)
				}
				return
			}
			require.NoError(err)
			assert.True(got.Valid())
			assert.NotEmpty(got.AccessToken())
			assert.Equal(RefreshToken("test-refresh-token"), got.RefreshToken())

			var claims Claims
			require.NoError(got.IDToken().Claims(&claims))
			assert.Equal(tp.Subject(), claims.Subject)
			assert.Equal("alice@example.com", claims.Email)
			assert.Equal("Alice Doe", claims.Name)
			assert.NoError(p.VerifyIDToken(ctx, got.IDToken(), s.Nonce()))
		})
	}
	t.Run("expired-state", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		s, err := NewState(time.Nanosecond, testRedirect)
		require.NoError(err)
		_, err = p.Exchange(ctx, s, s.ID(), "valid-code")
		require.Error(err)
		assert.Truef(errors.Is(err, ErrExpiredState), "wanted \"%s\" but got \"%s\"", ErrExpiredState, err)
	})
	t.Run("nil-state", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		_, err := p.Exchange(ctx, nil, "state", "valid-code")
		require.Error(err)
		assert.Truef(errors.Is(err, ErrNilParameter), "wanted \"%s\" but got \"%s\"", ErrNilParameter, err)
	})
}

func TestProvider_UserInfo(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tp := StartTestProvider(t)
	tp.SetExpectedAuthCode("valid-code")
	p, err := NewProvider(testNewConfig(t, tp))
	require.NoError(t, err)
	defer p.Done()

	s, err := NewState(time.Minute, testRedirect)
	require.NoError(t, err)
	authURL, err := p.AuthURL(ctx, s)
	require.NoError(t, err)
	state, code := testAuthorize(t, tp, authURL)
	tk, err := p.Exchange(ctx, s, state, code)
	require.NoError(t, err)

	t.Run("valid", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		var claims Claims
		require.NoError(p.UserInfo(ctx, tk.StaticTokenSource(), tp.Subject(), &claims))
		assert.Equal(tp.Subject(), claims.Subject)
		assert.Equal("Alice", claims.GivenName)
		assert.Equal("Doe", claims.FamilyName)
		assert.Equal("en", claims.Locale)
		assert.True(claims.EmailVerified)
	})
	t.Run("subject-mismatch", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		var claims Claims
		err := p.UserInfo(ctx, tk.StaticTokenSource(), "someone-else", &claims)
		require.Error(err)
		assert.Truef(errors.Is(err, ErrUserInfoFailed), "wanted \"%s\" but got \"%s\"", ErrUserInfoFailed, err)
	})
	t.Run("nil-token-source", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		var claims Claims
		err := p.UserInfo(ctx, nil, tp.Subject(), &claims)
		require.Error(err)
		assert.Truef(errors.Is(err, ErrNilParameter), "wanted \"%s\" but got \"%s\"", ErrNilParameter, err)
	})
	t.Run("nil-claims", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		err := p.UserInfo(ctx, tk.StaticTokenSource(), tp.Subject(), nil)
		require.Error(err)
		assert.Truef(errors.Is(err, ErrNilParameter), "wanted \"%s\" but got \"%s\"", ErrNilParameter, err)
	})
}

func TestProvider_TokenSource(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tp := StartTestProvider(t)
	tp.SetExpectedAuthCode("valid-code")
	// access tokens that expire inside the oauth2 expiry delta are refreshed
	// on first use
	tp.SetTokenExpiry(5 * time.Second)
	p, err := NewProvider(testNewConfig(t, tp))
	require.NoError(t, err)
	defer p.Done()

	s, err := NewState(time.Minute, testRedirect)
	require.NoError(t, err)
	authURL, err := p.AuthURL(ctx, s)
	require.NoError(t, err)
	state, code := testAuthorize(t, tp, authURL)
	tk, err := p.Exchange(ctx, s, state, code)
	require.NoError(t, err)

	t.Run("refreshes", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		ts, err := p.TokenSource(ctx, testRedirect, tk)
		require.NoError(err)
		refreshed, err := ts.Token()
		require.NoError(err)
		assert.NotEmpty(refreshed.AccessToken)
		assert.Equal(1, tp.RefreshCount())
	})
	t.Run("nil-token", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		_, err := p.TokenSource(ctx, testRedirect, nil)
		require.Error(err)
		assert.Truef(errors.Is(err, ErrNilParameter), "wanted \"%s\" but got \"%s\"", ErrNilParameter, err)
	})
}
