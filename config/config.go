// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// config loads the demo's configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/hashicorp/cap-signin/oidc"
	"github.com/hashicorp/cap-signin/session"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/text/language"
)

// ErrInvalidConfig is wrapped by every validation problem.
var ErrInvalidConfig = errors.New("invalid configuration")

// CallbackPath is where Google sends the user back to, relative to the base
// URL.
const CallbackPath = "/auth/callback/google"

// Config is the demo's configuration.
type Config struct {
	GoogleClientID     string        `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string        `env:"GOOGLE_CLIENT_SECRET"`
	AuthSecret         string        `env:"AUTH_SECRET"`
	BaseURL            string        `env:"AUTH_URL"             envDefault:"http://localhost:3000"`
	Issuer             string        `env:"AUTH_ISSUER"          envDefault:"https://accounts.google.com"`
	ProviderCA         string        `env:"AUTH_PROVIDER_CA"`
	Scopes             []string      `env:"AUTH_SCOPES"          envDefault:"email,profile" envSeparator:","`
	UILocales          []string      `env:"AUTH_UI_LOCALES"                                envSeparator:","`
	Prompt             string        `env:"AUTH_PROMPT"`
	SessionMaxAge      time.Duration `env:"AUTH_SESSION_MAX_AGE" envDefault:"720h"`
	StateTTL           time.Duration `env:"AUTH_STATE_TTL"       envDefault:"10m"`
	ListenAddr         string        `env:"LISTEN_ADDR"          envDefault:":3000"`
	DatabasePath       string        `env:"DATABASE_PATH"        envDefault:"signin.db"`
	LogLevel           string        `env:"LOG_LEVEL"            envDefault:"info"`
	LogJSON            bool          `env:"LOG_JSON"             envDefault:"false"`
	RateLimitRPS       float64       `env:"RATE_LIMIT_RPS"       envDefault:"5"`
	RateLimitBurst     int           `env:"RATE_LIMIT_BURST"     envDefault:"10"`
	OTELEndpoint       string        `env:"OTEL_ENDPOINT"`
}

// Load parses the process environment and validates the result.
func Load() (*Config, error) {
	const op = "config.Load"
	var c Config
	if err := env.Parse(&c); err != nil {
		return nil, fmt.Errorf("%s: parse env: %w", op, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &c, nil
}

// LoadFrom is Load for an explicit environment rather than the process's.
func LoadFrom(environ map[string]string) (*Config, error) {
	const op = "config.LoadFrom"
	var c Config
	if err := env.ParseWithOptions(&c, env.Options{Environment: environ}); err != nil {
		return nil, fmt.Errorf("%s: parse env: %w", op, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &c, nil
}

var validPrompts = map[string]bool{
	"none":           true,
	"consent":        true,
	"select_account": true,
}

// Validate reports every problem with the configuration at once as a
// *multierror.Error.
func (c *Config) Validate() error {
	const op = "Config.Validate"
	if c == nil {
		return fmt.Errorf("%s: config is nil: %w", op, ErrInvalidConfig)
	}
	var errs *multierror.Error
	invalid := func(format string, a ...interface{}) {
		errs = multierror.Append(errs, fmt.Errorf("%s: %s: %w", op, fmt.Sprintf(format, a...), ErrInvalidConfig))
	}

	if strings.TrimSpace(c.GoogleClientID) == "" {
		invalid("GOOGLE_CLIENT_ID is required")
	}
	if strings.TrimSpace(c.GoogleClientSecret) == "" {
		invalid("GOOGLE_CLIENT_SECRET is required")
	}
	if len(c.AuthSecret) < session.MinSecretLength {
		invalid("AUTH_SECRET must be at least %d bytes", session.MinSecretLength)
	}
	if u, err := url.Parse(c.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		invalid("AUTH_URL %q must be an absolute http(s) URL", c.BaseURL)
	}
	if u, err := url.Parse(c.Issuer); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		invalid("AUTH_ISSUER %q must be an absolute http(s) URL", c.Issuer)
	}
	for _, l := range c.UILocales {
		if _, err := language.Parse(strings.TrimSpace(l)); err != nil {
			invalid("AUTH_UI_LOCALES %q is not a BCP 47 tag", l)
		}
	}
	for _, p := range strings.Fields(c.Prompt) {
		if !validPrompts[p] {
			invalid("AUTH_PROMPT %q is not one of none, consent or select_account", p)
		}
	}
	if c.SessionMaxAge <= 0 {
		invalid("AUTH_SESSION_MAX_AGE must be positive")
	}
	if c.StateTTL <= 0 {
		invalid("AUTH_STATE_TTL must be positive")
	}
	if strings.TrimSpace(c.ListenAddr) == "" {
		invalid("LISTEN_ADDR is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		invalid("DATABASE_PATH is required")
	}
	if hclog.LevelFromString(c.LogLevel) == hclog.NoLevel {
		invalid("LOG_LEVEL %q is not a log level", c.LogLevel)
	}
	if c.RateLimitRPS <= 0 {
		invalid("RATE_LIMIT_RPS must be positive")
	}
	if c.RateLimitBurst <= 0 {
		invalid("RATE_LIMIT_BURST must be positive")
	}
	return errs.ErrorOrNil()
}

// RedirectURL is the OAuth callback URL registered with Google.
func (c *Config) RedirectURL() string {
	return strings.TrimRight(c.BaseURL, "/") + CallbackPath
}

// SecureCookies reports whether the site is served over https.
func (c *Config) SecureCookies() bool {
	return strings.HasPrefix(strings.ToLower(c.BaseURL), "https://")
}

// UILocaleTags returns the parsed AUTH_UI_LOCALES, skipping any that don't
// parse.
func (c *Config) UILocaleTags() []language.Tag {
	tags := make([]language.Tag, 0, len(c.UILocales))
	for _, l := range c.UILocales {
		if t, err := language.Parse(strings.TrimSpace(l)); err == nil {
			tags = append(tags, t)
		}
	}
	return tags
}

// HCLogLevel returns LOG_LEVEL as an hclog.Level, defaulting to Info.
func (c *Config) HCLogLevel() hclog.Level {
	if l := hclog.LevelFromString(c.LogLevel); l != hclog.NoLevel {
		return l
	}
	return hclog.Info
}

// OIDCConfig builds the Google provider configuration.
func (c *Config) OIDCConfig(logger hclog.Logger) (*oidc.Config, error) {
	const op = "Config.OIDCConfig"
	opts := []oidc.Option{
		oidc.WithScopes(c.Scopes...),
		oidc.WithLogger(logger),
	}
	if c.ProviderCA != "" {
		opts = append(opts, oidc.WithProviderCA(c.ProviderCA))
	}
	if tags := c.UILocaleTags(); len(tags) > 0 {
		opts = append(opts, oidc.WithUILocales(tags...))
	}
	if c.Prompt != "" {
		opts = append(opts, oidc.WithPrompt(c.Prompt))
	}
	oc, err := oidc.NewConfig(
		c.Issuer,
		c.GoogleClientID,
		oidc.ClientSecret(c.GoogleClientSecret),
		[]oidc.Alg{oidc.RS256},
		[]string{c.RedirectURL()},
		opts...,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return oc, nil
}
