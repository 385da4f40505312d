// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-uuid"
	"golang.org/x/crypto/hkdf"
)

const (
	// MinSecretLength is the minimum number of bytes of secret key material
	// accepted by NewManager.
	MinSecretLength = 32

	// Issuer is the iss claim of every session token.
	Issuer = "cap-signin"

	keyLength = 32
	keyInfo   = "cap-signin session signing key"
)

// Manager issues, reads and clears session cookies.  It's concurrently safe.
type Manager struct {
	key        []byte
	cookieName string
	maxAge     time.Duration
	secure     bool
	now        func() time.Time
	logger     hclog.Logger
}

// sessionClaims is the payload of a session token.  The subject is the user
// ID and the jti is unique per issued session.
type sessionClaims struct {
	jwt.RegisteredClaims
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Picture string `json:"picture,omitempty"`
}

// NewManager creates a Manager which signs sessions with a key derived from
// secret.
//
// Supported options: WithMaxAge, WithSecure, WithCookieName, WithNow,
// WithLogger
func NewManager(secret []byte, opt ...Option) (*Manager, error) {
	const op = "session.NewManager"
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("%s: secret must be at least %d bytes: %w", op, MinSecretLength, ErrWeakSecret)
	}
	key := make([]byte, keyLength)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("%s: unable to derive signing key: %w", op, err)
	}
	opts := getManagerOpts(opt...)
	return &Manager{
		key:        key,
		cookieName: opts.withCookieName,
		maxAge:     opts.withMaxAge,
		secure:     opts.withSecure,
		now:        opts.withNowFunc,
		logger:     opts.withLogger,
	}, nil
}

// CookieName returns the name of the session cookie.
func (m *Manager) CookieName() string { return m.cookieName }

// New returns a Session for the user which expires after the manager's max
// age.
func (m *Manager) New(u User) *Session {
	// jwt NumericDates have second precision
	return &Session{
		User:    u,
		Expires: m.now().Add(m.maxAge).Truncate(time.Second).UTC(),
	}
}

// Write signs the session and sets it as the session cookie.
func (m *Manager) Write(w http.ResponseWriter, s *Session) error {
	const op = "Manager.Write"
	switch {
	case w == nil:
		return fmt.Errorf("%s: response writer is nil: %w", op, ErrInvalidParameter)
	case s == nil:
		return fmt.Errorf("%s: session is nil: %w", op, ErrInvalidParameter)
	case s.User.ID == "":
		return fmt.Errorf("%s: session user id is empty: %w", op, ErrInvalidParameter)
	}
	now := m.now()
	if !s.Expires.After(now) {
		return fmt.Errorf("%s: session is already expired: %w", op, ErrInvalidParameter)
	}
	jti, err := uuid.GenerateUUID()
	if err != nil {
		return fmt.Errorf("%s: unable to generate session id: %w", op, err)
	}
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   s.User.ID,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(s.Expires),
		},
		Name:    s.User.Name,
		Email:   s.User.Email,
		Picture: s.User.Image,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.key)
	if err != nil {
		return fmt.Errorf("%s: unable to sign session: %w", op, err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    signed,
		Path:     "/",
		Expires:  s.Expires,
		MaxAge:   int(s.Expires.Sub(now) / time.Second),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	m.logger.Debug("session written", "jti", jti, "expires", s.Expires)
	return nil
}

// Read returns the session carried by the request.  It returns (nil, nil)
// when there's no session cookie, and an error wrapping ErrInvalidSession
// when the cookie can't be trusted (malformed, expired, bad signature).
func (m *Manager) Read(r *http.Request) (*Session, error) {
	const op = "Manager.Read"
	if r == nil {
		return nil, fmt.Errorf("%s: request is nil: %w", op, ErrInvalidParameter)
	}
	c, err := r.Cookie(m.cookieName)
	if errors.Is(err, http.ErrNoCookie) || (err == nil && c.Value == "") {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %s: %w", op, err, ErrInvalidSession)
	}

	var claims sessionClaims
	_, err = jwt.ParseWithClaims(c.Value, &claims, func(*jwt.Token) (interface{}, error) {
		return m.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(Issuer),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %s: %w", op, err, ErrInvalidSession)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%s: missing subject: %w", op, ErrInvalidSession)
	}
	return &Session{
		User: User{
			ID:    claims.Subject,
			Name:  claims.Name,
			Email: claims.Email,
			Image: claims.Picture,
		},
		Expires: claims.ExpiresAt.Time.UTC(),
	}, nil
}

// Clear expires the session cookie.
func (m *Manager) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
