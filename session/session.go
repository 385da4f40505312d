// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"encoding/json"
	"time"
)

// User is the signed-in account as shown by the pages.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Image string `json:"image,omitempty"`
}

// Session is issued after a successful sign-in.
type Session struct {
	User    User      `json:"user"`
	Expires time.Time `json:"expires"`
}

// DisplayName returns the user's name or "Anonymous User" when the provider
// didn't release one.
func (s *Session) DisplayName() string {
	if s == nil || s.User.Name == "" {
		return "Anonymous User"
	}
	return s.User.Name
}

// PrettyJSON returns the session as JSON indented with two spaces.
func (s *Session) PrettyJSON() (string, error) {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// MarshalJSON writes the expiry as RFC 3339 in UTC.
func (s Session) MarshalJSON() ([]byte, error) {
	type alias struct {
		User    User   `json:"user"`
		Expires string `json:"expires"`
	}
	return json.Marshal(alias{
		User:    s.User,
		Expires: s.Expires.UTC().Format(time.RFC3339),
	})
}
