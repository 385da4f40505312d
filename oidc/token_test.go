// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestNewToken(t *testing.T) {
	t.Parallel()
	_, priv := TestGenerateKeys(t)
	testJWT := testDefaultJWT(t, priv, 1*time.Minute, "123456789", nil)
	testUnderlying := &oauth2.Token{
		AccessToken:  "test-access-token",
		RefreshToken: "test-refresh-token",
		Expiry:       time.Now().Add(1 * time.Hour),
	}
	testNow := func() time.Time {
		return time.Now().Add(-1 * time.Minute)
	}
	tests := []struct {
		name            string
		idToken         IDToken
		oauthToken      *oauth2.Token
		opts            []Option
		wantAccess      AccessToken
		wantRefresh     RefreshToken
		wantExpiry      time.Time
		wantTokenSource bool
		wantErr         bool
		wantIsErr       error
	}{
		{
			name:            "valid",
			idToken:         IDToken(testJWT),
			oauthToken:      testUnderlying,
			opts:            []Option{WithNow(testNow)},
			wantAccess:      "test-access-token",
			wantRefresh:     "test-refresh-token",
			wantExpiry:      testUnderlying.Expiry,
			wantTokenSource: true,
		},
		{
			name:    "valid-no-oauth-token",
			idToken: IDToken(testJWT),
		},
		{
			name:      "empty-id-token",
			idToken:   "",
			wantErr:   true,
			wantIsErr: ErrInvalidParameter,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			got, err := NewToken(tt.idToken, tt.oauthToken, tt.opts...)
			if tt.wantErr {
				require.Error(err)
				assert.Truef(errors.Is(err, tt.wantIsErr), "wanted \"%s\" but got \"%s\"", tt.wantIsErr, err)
				return
			}
			require.NoError(err)
			assert.Equal(tt.idToken, got.IDToken())
			assert.Equal(tt.wantAccess, got.AccessToken())
			assert.Equal(tt.wantRefresh, got.RefreshToken())
			assert.Equal(tt.wantExpiry, got.Expiry())
			if tt.wantTokenSource {
				ts := got.StaticTokenSource()
				require.NotNil(ts)
				tk, err := ts.Token()
				require.NoError(err)
				assert.Equal(string(tt.wantAccess), tk.AccessToken)
				return
			}
			assert.Nil(got.StaticTokenSource())
		})
	}
}

func TestTk_IsExpired(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		expiry time.Time
		now    func() time.Time
		opts   []Option
		want   bool
	}{
		{"not-expired", time.Now().Add(time.Hour), nil, nil, false},
		{"expired", time.Now().Add(-time.Hour), nil, nil, true},
		{"within-default-skew", time.Now().Add(5 * time.Second), nil, nil, true},
		{"no-skew", time.Now().Add(5 * time.Second), nil, []Option{WithExpirySkew(0)}, false},
		{"zero-expiry", time.Time{}, nil, nil, false},
		{"WithNow-in-the-future", time.Now().Add(time.Hour), func() time.Time { return time.Now().Add(2 * time.Hour) }, nil, true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			opts := append([]Option{WithNow(tt.now)}, tt.opts...)
			tk, err := NewToken("id-token", &oauth2.Token{AccessToken: "access", Expiry: tt.expiry}, opts...)
			require.NoError(err)
			assert.Equal(tt.want, tk.IsExpired())
			assert.Equal(!tt.want, tk.Valid())
		})
	}
	t.Run("nil-underlying", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tk, err := NewToken("id-token", nil)
		require.NoError(err)
		assert.False(tk.IsExpired())
		assert.False(tk.Valid())
	})
}

func TestRedactedTokens(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		value interface {
			fmt.Stringer
			json.Marshaler
		}
		want string
	}{
		{"id_token", IDToken("super secret"), RedactedIDToken},
		{"access_token", AccessToken("super secret"), RedactedAccessToken},
		{"refresh_token", RefreshToken("super secret"), RedactedRefreshToken},
		{"client_secret", ClientSecret("super secret"), RedactedClientSecret},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			assert.Equal(tt.want, tt.value.String())
			assert.Equal(tt.want, fmt.Sprintf("%s", tt.value))
			got, err := json.Marshal(tt.value)
			require.NoError(err)
			assert.Equal(fmt.Sprintf("%q", tt.want), string(got))
		})
	}
}
