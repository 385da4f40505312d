// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func testEnv(overrides map[string]string) map[string]string {
	environ := map[string]string{
		"GOOGLE_CLIENT_ID":     "client-id.apps.googleusercontent.com",
		"GOOGLE_CLIENT_SECRET": "client-secret",
		"AUTH_SECRET":          "0123456789abcdef0123456789abcdef",
	}
	for k, v := range overrides {
		environ[k] = v
	}
	return environ
}

func TestLoadFrom(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		environ     map[string]string
		want        func(c *Config) bool
		wantErr     bool
		wantErrsLen int
	}{
		{
			name:    "defaults",
			environ: testEnv(nil),
			want: func(c *Config) bool {
				return c.BaseURL == "http://localhost:3000" &&
					c.Issuer == "https://accounts.google.com" &&
					len(c.Scopes) == 2 && c.Scopes[0] == "email" && c.Scopes[1] == "profile" &&
					c.SessionMaxAge == 720*time.Hour &&
					c.StateTTL == 10*time.Minute &&
					c.ListenAddr == ":3000" &&
					c.DatabasePath == "signin.db" &&
					c.LogLevel == "info" && !c.LogJSON &&
					c.RateLimitRPS == 5 && c.RateLimitBurst == 10 &&
					c.OTELEndpoint == ""
			},
		},
		{
			name: "overrides",
			environ: testEnv(map[string]string{
				"AUTH_URL":             "https://signin.example.com/",
				"AUTH_SCOPES":          "email",
				"AUTH_UI_LOCALES":      "en,fr-CA",
				"AUTH_PROMPT":          "select_account consent",
				"AUTH_SESSION_MAX_AGE": "1h",
				"LOG_LEVEL":            "debug",
				"LOG_JSON":             "true",
				"DATABASE_PATH":        ":memory:",
			}),
			want: func(c *Config) bool {
				return c.RedirectURL() == "https://signin.example.com/auth/callback/google" &&
					c.SecureCookies() &&
					len(c.Scopes) == 1 &&
					len(c.UILocales) == 2 &&
					c.SessionMaxAge == time.Hour &&
					c.HCLogLevel() == hclog.Debug &&
					c.LogJSON
			},
		},
		{
			name:        "missing-required",
			environ:     map[string]string{},
			wantErr:     true,
			wantErrsLen: 3,
		},
		{
			name: "bad-values",
			environ: testEnv(map[string]string{
				"AUTH_SECRET":     "short",
				"AUTH_URL":        "localhost:3000",
				"AUTH_UI_LOCALES": "not a locale!",
				"AUTH_PROMPT":     "always",
				"LOG_LEVEL":       "loud",
				"RATE_LIMIT_RPS":  "0",
			}),
			wantErr:     true,
			wantErrsLen: 6,
		},
		{
			name:    "unparsable-duration",
			environ: testEnv(map[string]string{"AUTH_STATE_TTL": "ten minutes"}),
			wantErr: true,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			got, err := LoadFrom(tt.environ)
			if tt.wantErr {
				require.Error(err)
				if tt.wantErrsLen > 0 {
					assert.True(errors.Is(err, ErrInvalidConfig))
					var merr *multierror.Error
					require.True(errors.As(err, &merr))
					assert.Len(merr.Errors, tt.wantErrsLen)
				}
				return
			}
			require.NoError(err)
			assert.True(tt.want(got), "unexpected config: %+v", got)
		})
	}
}

func TestLoad(t *testing.T) {
	for k, v := range testEnv(map[string]string{"LISTEN_ADDR": "127.0.0.1:8080"}) {
		t.Setenv(k, v)
	}
	assert, require := assert.New(t), require.New(t)
	got, err := Load()
	require.NoError(err)
	assert.Equal("127.0.0.1:8080", got.ListenAddr)
	assert.Equal("http://localhost:3000/auth/callback/google", got.RedirectURL())
	assert.False(got.SecureCookies())
}

func TestConfig_UILocaleTags(t *testing.T) {
	t.Parallel()
	c := &Config{UILocales: []string{"en", " fr-CA", "%%"}}
	var got []string
	for _, tag := range c.UILocaleTags() {
		got = append(got, tag.String())
	}
	assert.Equal(t, []string{"en", "fr-CA"}, got)
}

func TestConfig_OIDCConfig(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	c, err := LoadFrom(testEnv(map[string]string{
		"AUTH_UI_LOCALES": "de",
		"AUTH_PROMPT":     "consent",
	}))
	require.NoError(err)
	oc, err := c.OIDCConfig(hclog.NewNullLogger())
	require.NoError(err)
	assert.Equal("https://accounts.google.com", oc.Issuer)
	assert.Equal([]string{"http://localhost:3000/auth/callback/google"}, oc.AllowedRedirectURLs)
	assert.Equal([]string{"email", "profile"}, oc.Scopes)
	assert.Equal("consent", oc.Prompt)
	require.Len(oc.UILocales, 1)
	assert.Equal(language.German.String(), oc.UILocales[0].String())
	assert.Equal("client-secret", string(oc.ClientSecret))

	c.GoogleClientID = ""
	_, err = c.OIDCConfig(hclog.NewNullLogger())
	assert.Error(err)
}

func TestConfig_Validate_nil(t *testing.T) {
	t.Parallel()
	var c *Config
	err := c.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}
