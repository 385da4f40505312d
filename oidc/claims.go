// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Claims are the id_token and UserInfo claims a Google account releases for
// the "openid email profile" scopes.
type Claims struct {
	Subject       string `json:"sub"`
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified,omitempty"`
	Name          string `json:"name,omitempty"`
	GivenName     string `json:"given_name,omitempty"`
	FamilyName    string `json:"family_name,omitempty"`
	Picture       string `json:"picture,omitempty"`
	Locale        string `json:"locale,omitempty"`
	HostedDomain  string `json:"hd,omitempty"`
}

// Merge fills any empty profile fields of c with the values in other.  The
// subjects must match, otherwise c is left untouched.
func (c *Claims) Merge(other Claims) {
	if c == nil || other.Subject != c.Subject {
		return
	}
	if c.Email == "" {
		c.Email = other.Email
		c.EmailVerified = other.EmailVerified
	}
	if c.Name == "" {
		c.Name = other.Name
	}
	if c.GivenName == "" {
		c.GivenName = other.GivenName
	}
	if c.FamilyName == "" {
		c.FamilyName = other.FamilyName
	}
	if c.Picture == "" {
		c.Picture = other.Picture
	}
	if c.Locale == "" {
		c.Locale = other.Locale
	}
}

// HasProfile reports whether the claims carry the display fields a profile
// page needs.
func (c Claims) HasProfile() bool {
	return c.Name != "" && c.Picture != "" && c.Email != ""
}

// UnmarshalClaims will retrieve the claims from the provided raw JWT token.
// The signature is not verified; only use it with tokens that were already
// verified (see Provider.VerifyIDToken).
func UnmarshalClaims(rawToken string, claims interface{}) error {
	const op = "UnmarshalClaims"
	parts := strings.Split(rawToken, ".")
	if len(parts) != 3 {
		return fmt.Errorf("%s: malformed jwt, expected 3 parts got %d: %w", op, len(parts), ErrMalformedToken)
	}
	raw, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return fmt.Errorf("%s: malformed jwt claims: %w", op, err)
	}
	if err := json.Unmarshal(raw, claims); err != nil {
		return fmt.Errorf("%s: unable to marshal jwt JSON: %w", op, err)
	}
	return nil
}
