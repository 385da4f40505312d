// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func testUser() User {
	return User{
		ID:    "108512345678901234567",
		Name:  "Alice Doe",
		Email: "alice@example.com",
		Image: "https://example.com/alice.png",
	}
}

// testRoundTrip writes the session and returns a request carrying the
// resulting cookie.
func testRoundTrip(t *testing.T, m *Manager, s *Session) *http.Request {
	t.Helper()
	require := require.New(t)
	w := httptest.NewRecorder()
	require.NoError(m.Write(w, s))
	cookies := w.Result().Cookies()
	require.Len(cookies, 1)
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(cookies[0])
	return r
}

func TestNewManager(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		secret    []byte
		opts      []Option
		wantErr   bool
		wantIsErr error
	}{
		{name: "valid", secret: testSecret},
		{name: "valid-with-opts", secret: testSecret, opts: []Option{WithMaxAge(time.Hour), WithSecure(true), WithCookieName("sid"), nil}},
		{name: "short-secret", secret: []byte("too-short"), wantErr: true, wantIsErr: ErrWeakSecret},
		{name: "nil-secret", wantErr: true, wantIsErr: ErrWeakSecret},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			got, err := NewManager(tt.secret, tt.opts...)
			if tt.wantErr {
				require.Error(err)
				assert.Truef(errors.Is(err, tt.wantIsErr), "wanted \"%s\" but got \"%s\"", tt.wantIsErr, err)
				return
			}
			require.NoError(err)
			assert.Len(got.key, keyLength)
			assert.NotEqual(testSecret, got.key)
		})
	}
}

func TestManager_WriteRead(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	m, err := NewManager(testSecret, WithNow(func() time.Time { return now }), WithMaxAge(time.Hour), WithSecure(true))
	require.NoError(err)

	s := m.New(testUser())
	assert.Equal(now.Add(time.Hour), s.Expires)

	w := httptest.NewRecorder()
	require.NoError(m.Write(w, s))
	cookies := w.Result().Cookies()
	require.Len(cookies, 1)
	c := cookies[0]
	assert.Equal(DefaultCookieName, c.Name)
	assert.True(c.HttpOnly)
	assert.True(c.Secure)
	assert.Equal(http.SameSiteLaxMode, c.SameSite)
	assert.Equal("/", c.Path)
	assert.Equal(3600, c.MaxAge)
	// the cookie is a compact JWS and must not leak the key
	assert.Len(strings.Split(c.Value, "."), 3)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(c)
	got, err := m.Read(r)
	require.NoError(err)
	assert.Equal(s, got)
}

func TestManager_Read(t *testing.T) {
	t.Parallel()
	now := time.Now()
	m, err := NewManager(testSecret, WithNow(func() time.Time { return now }))
	require.NoError(t, err)

	other, err := NewManager([]byte("another-secret-another-secret-!!"), WithNow(func() time.Time { return now }))
	require.NoError(t, err)

	expiring, err := NewManager(testSecret, WithNow(func() time.Time { return now.Add(-2 * time.Hour) }), WithMaxAge(time.Hour))
	require.NoError(t, err)

	tests := []struct {
		name      string
		req       func(t *testing.T) *http.Request
		want      bool
		wantErr   bool
		wantIsErr error
	}{
		{
			name: "valid",
			req:  func(t *testing.T) *http.Request { return testRoundTrip(t, m, m.New(testUser())) },
			want: true,
		},
		{
			name: "no-cookie",
			req:  func(t *testing.T) *http.Request { return httptest.NewRequest(http.MethodGet, "/", nil) },
		},
		{
			name: "empty-cookie",
			req: func(t *testing.T) *http.Request {
				r := httptest.NewRequest(http.MethodGet, "/", nil)
				r.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: ""})
				return r
			},
		},
		{
			name: "malformed",
			req: func(t *testing.T) *http.Request {
				r := httptest.NewRequest(http.MethodGet, "/", nil)
				r.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: "not-a-jwt"})
				return r
			},
			wantErr:   true,
			wantIsErr: ErrInvalidSession,
		},
		{
			name:      "wrong-key",
			req:       func(t *testing.T) *http.Request { return testRoundTrip(t, other, other.New(testUser())) },
			wantErr:   true,
			wantIsErr: ErrInvalidSession,
		},
		{
			name:      "expired",
			req:       func(t *testing.T) *http.Request { return testRoundTrip(t, expiring, expiring.New(testUser())) },
			wantErr:   true,
			wantIsErr: ErrInvalidSession,
		},
		{
			name: "alg-none",
			req: func(t *testing.T) *http.Request {
				tk := jwt.NewWithClaims(jwt.SigningMethodNone, sessionClaims{
					RegisteredClaims: jwt.RegisteredClaims{
						Issuer:    Issuer,
						Subject:   "someone",
						ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
					},
				})
				signed, err := tk.SignedString(jwt.UnsafeAllowNoneSignatureType)
				require.NoError(t, err)
				r := httptest.NewRequest(http.MethodGet, "/", nil)
				r.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: signed})
				return r
			},
			wantErr:   true,
			wantIsErr: ErrInvalidSession,
		},
		{
			name: "missing-expiry",
			req: func(t *testing.T) *http.Request {
				tk := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionClaims{
					RegisteredClaims: jwt.RegisteredClaims{Issuer: Issuer, Subject: "someone"},
				})
				signed, err := tk.SignedString(m.key)
				require.NoError(t, err)
				r := httptest.NewRequest(http.MethodGet, "/", nil)
				r.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: signed})
				return r
			},
			wantErr:   true,
			wantIsErr: ErrInvalidSession,
		},
		{
			name: "wrong-issuer",
			req: func(t *testing.T) *http.Request {
				tk := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionClaims{
					RegisteredClaims: jwt.RegisteredClaims{
						Issuer:    "someone-else",
						Subject:   "someone",
						ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
					},
				})
				signed, err := tk.SignedString(m.key)
				require.NoError(t, err)
				r := httptest.NewRequest(http.MethodGet, "/", nil)
				r.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: signed})
				return r
			},
			wantErr:   true,
			wantIsErr: ErrInvalidSession,
		},
		{
			name: "missing-subject",
			req: func(t *testing.T) *http.Request {
				tk := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionClaims{
					RegisteredClaims: jwt.RegisteredClaims{
						Issuer:    Issuer,
						ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
					},
				})
				signed, err := tk.SignedString(m.key)
				require.NoError(t, err)
				r := httptest.NewRequest(http.MethodGet, "/", nil)
				r.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: signed})
				return r
			},
			wantErr:   true,
			wantIsErr: ErrInvalidSession,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			got, err := m.Read(tt.req(t))
			if tt.wantErr {
				require.Error(err)
				assert.Truef(errors.Is(err, tt.wantIsErr), "wanted \"%s\" but got \"%s\"", tt.wantIsErr, err)
				assert.Nil(got)
				return
			}
			require.NoError(err)
			if !tt.want {
				assert.Nil(got)
				return
			}
			require.NotNil(got)
			assert.Equal(testUser(), got.User)
		})
	}
}

func TestManager_Write(t *testing.T) {
	t.Parallel()
	m, err := NewManager(testSecret)
	require.NoError(t, err)
	tests := []struct {
		name    string
		s       *Session
		wantErr bool
	}{
		{name: "valid", s: m.New(testUser())},
		{name: "nil-session", wantErr: true},
		{name: "missing-user-id", s: m.New(User{Name: "Alice"}), wantErr: true},
		{name: "already-expired", s: &Session{User: testUser(), Expires: time.Now().Add(-time.Minute)}, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			w := httptest.NewRecorder()
			err := m.Write(w, tt.s)
			if tt.wantErr {
				require.Error(err)
				assert.True(errors.Is(err, ErrInvalidParameter))
				assert.Empty(w.Result().Cookies())
				return
			}
			require.NoError(err)
			assert.Len(w.Result().Cookies(), 1)
		})
	}
}

func TestManager_Clear(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	m, err := NewManager(testSecret, WithCookieName("sid"))
	require.NoError(err)
	w := httptest.NewRecorder()
	m.Clear(w)
	cookies := w.Result().Cookies()
	require.Len(cookies, 1)
	assert.Equal("sid", cookies[0].Name)
	assert.Empty(cookies[0].Value)
	assert.Equal(-1, cookies[0].MaxAge)
	assert.True(cookies[0].HttpOnly)
}
