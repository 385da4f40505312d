// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/text/language"
)

// GoogleIssuer is the issuer of every Google account id_token.
const GoogleIssuer = "https://accounts.google.com"

// DefaultScopes are the scopes requested in addition to "openid".
var DefaultScopes = []string{"email", "profile"}

// ClientSecret is an oauth client Secret.
type ClientSecret string

// RedactedClientSecret is the redacted string or json for an oauth client secret.
const RedactedClientSecret = "[REDACTED: client secret]"

// String will redact the client secret.
func (t ClientSecret) String() string {
	return RedactedClientSecret
}

// MarshalJSON will redact the client secret.
func (t ClientSecret) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedClientSecret)
}

// Config represents the configuration for an OIDC provider used by a relying
// party.
type Config struct {
	// ClientID is the relying party ID.
	ClientID string

	// ClientSecret is the relying party secret.
	ClientSecret ClientSecret

	// Scopes is a list of default oidc scopes to request of the provider. The
	// required "oidc" scope is requested by default, and does not need to be
	// part of this optional list.
	Scopes []string

	// Issuer is a case-sensitive URL string using the https scheme that
	// contains scheme, host, and optionally, port number and path components
	// and no query or fragment components.
	Issuer string

	// SupportedSigningAlgs is a list of supported signing algorithms.
	SupportedSigningAlgs []Alg

	// AllowedRedirectURLs is a list of allowed URLs for the provider to
	// redirect to after a user authenticates.
	AllowedRedirectURLs []string

	// Audiences is an optional list of case-sensitive strings to use when
	// verifying an id_token's "aud" claim (which is also a list). If provided,
	// the audiences of an id_token must match one of the configured audiences.
	Audiences []string

	// ProviderCA is an optional CA certs (PEM encoded) to use when sending
	// requests to the provider.
	ProviderCA string

	// UILocales are the end-user's preferred languages for the provider's
	// login pages, sent as the "ui_locales" parameter.
	UILocales []language.Tag

	// Prompt is an optional "prompt" parameter value (for example
	// "select_account" or "consent").
	Prompt string

	// OfflineAccess requests a refresh_token along with the access_token.
	OfflineAccess bool

	// Logger is an optional logger; a null logger is used when it's nil.
	Logger hclog.Logger

	// NowFunc is a time func that returns the current time.
	NowFunc func() time.Time
}

// NewConfig composes a new config for a provider.
//
// The "oidc" scope will always be added to the new configuration's Scopes,
// regardless of what additional scopes are requested via the WithScopes
// option and duplicate scopes are allowed.
//
// Supported options:
//   - WithProviderCA
//   - WithScopes
//   - WithAudiences
//   - WithUILocales
//   - WithPrompt
//   - WithOfflineAccess
//   - WithLogger
//   - WithNow
func NewConfig(issuer string, clientID string, clientSecret ClientSecret, supported []Alg, allowedRedirectURLs []string, opt ...Option) (*Config, error) {
	const op = "NewConfig"
	opts := getConfigOpts(opt...)
	c := &Config{
		Issuer:               issuer,
		ClientID:             clientID,
		ClientSecret:         clientSecret,
		SupportedSigningAlgs: supported,
		AllowedRedirectURLs:  allowedRedirectURLs,
		Scopes:               opts.withScopes,
		Audiences:            opts.withAudiences,
		ProviderCA:           opts.withProviderCA,
		UILocales:            opts.withUILocales,
		Prompt:               opts.withPrompt,
		OfflineAccess:        opts.withOfflineAccess,
		Logger:               opts.withLogger,
		NowFunc:              opts.withNowFunc,
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: invalid provider config: %w", op, err)
	}
	return c, nil
}

// Validate the provider configuration.  Among other validations, it verifies
// the issuer is not empty, but it doesn't verify the Issuer is discoverable via
// an http request.  SupportedSigningAlgs are validated against the list of
// currently supported algs: RS256, RS384, RS512, ES256, ES384, ES512, PS256,
// PS384, PS512.  Every problem found is reported in the returned
// *multierror.Error.
func (c *Config) Validate() error {
	const op = "Config.Validate"
	if c == nil {
		return fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	}
	var errs *multierror.Error
	if c.ClientID == "" {
		errs = multierror.Append(errs, fmt.Errorf("%s: client ID is empty: %w", op, ErrInvalidParameter))
	}
	if c.ClientSecret == "" {
		errs = multierror.Append(errs, fmt.Errorf("%s: client secret is empty: %w", op, ErrInvalidParameter))
	}
	if c.Issuer == "" {
		errs = multierror.Append(errs, fmt.Errorf("%s: discovery URL is empty: %w", op, ErrInvalidParameter))
	} else {
		u, err := url.Parse(c.Issuer)
		switch {
		case err != nil:
			errs = multierror.Append(errs, fmt.Errorf("%s: issuer %s is invalid (%s): %w", op, c.Issuer, err, ErrInvalidIssuer))
		case u.Scheme != "https" && u.Scheme != "http":
			errs = multierror.Append(errs, fmt.Errorf("%s: issuer %s schema is not http or https: %w", op, c.Issuer, ErrInvalidIssuer))
		}
	}
	if len(c.AllowedRedirectURLs) == 0 {
		errs = multierror.Append(errs, fmt.Errorf("%s: allowed redirect URLs are empty: %w", op, ErrInvalidParameter))
	}
	for _, r := range c.AllowedRedirectURLs {
		if _, err := url.Parse(r); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: redirect URL %s is invalid (%s): %w", op, r, err, ErrInvalidRedirectURL))
		}
	}
	if len(c.SupportedSigningAlgs) == 0 {
		errs = multierror.Append(errs, fmt.Errorf("%s: supported algorithms is empty: %w", op, ErrInvalidParameter))
	}
	for _, a := range c.SupportedSigningAlgs {
		if !supportedAlgorithms[a] {
			errs = multierror.Append(errs, fmt.Errorf("%s: unsupported algorithm %s: %w", op, a, ErrUnsupportedAlg))
		}
	}
	if c.ProviderCA != "" {
		if ok := x509.NewCertPool().AppendCertsFromPEM([]byte(c.ProviderCA)); !ok {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", op, ErrInvalidCACert))
		}
	}
	return errs.ErrorOrNil()
}

// Now will return the current time which can be overridden by the NowFunc.
func (c *Config) Now() time.Time {
	if c.NowFunc != nil {
		return c.NowFunc()
	}
	return time.Now() // fallback to this default
}

// uiLocales renders the UILocales as a space separated list.
func (c *Config) uiLocales() string {
	tags := make([]string, 0, len(c.UILocales))
	for _, t := range c.UILocales {
		tags = append(tags, t.String())
	}
	return strings.Join(tags, " ")
}

// logger returns the configured logger or a null logger.
func (c *Config) logger() hclog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return hclog.NewNullLogger()
}

// HTTPClient returns a pooled http client for the provider, which trusts the
// optional ProviderCA in place of the system CA chain.
func (c *Config) HTTPClient() (*http.Client, error) {
	const op = "Config.HTTPClient"
	tr := cleanhttp.DefaultPooledTransport()
	if c.ProviderCA != "" {
		certPool := x509.NewCertPool()
		if ok := certPool.AppendCertsFromPEM([]byte(c.ProviderCA)); !ok {
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidCACert)
		}
		tr.TLSClientConfig = &tls.Config{
			RootCAs:    certPool,
			MinVersion: tls.VersionTLS12,
		}
	}
	return &http.Client{
		Transport: tr,
	}, nil
}

// HTTPClientContext is a helper function that returns a new Context that
// carries the provided HTTP client. This method sets the same context key used
// by the github.com/coreos/go-oidc and golang.org/x/oauth2 packages, so the
// returned context works for those packages as well.
func HTTPClientContext(ctx context.Context, client *http.Client) context.Context {
	// simple to implement as a wrapper for the coreos package
	return oidc.ClientContext(ctx, client)
}

// configOptions is the set of available options
type configOptions struct {
	withScopes        []string
	withAudiences     []string
	withProviderCA    string
	withUILocales     []language.Tag
	withPrompt        string
	withOfflineAccess bool
	withLogger        hclog.Logger
	withNowFunc       func() time.Time
}

// configDefaults is a handy way to get the defaults at runtime and
// during unit tests.
func configDefaults() configOptions {
	return configOptions{
		withScopes: DefaultScopes,
	}
}

// getConfigOpts gets the defaults and applies the opt overrides passed
// in.
func getConfigOpts(opt ...Option) configOptions {
	opts := configDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithScopes provides an optional list of scopes.
//
// Valid for: Config
func WithScopes(scopes ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withScopes = scopes
		}
	}
}

// WithAudiences provides an optional list of audiences.
//
// Valid for: Config
func WithAudiences(auds ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withAudiences = auds
		}
	}
}

// WithProviderCA provides optional CA certs (PEM encoded) for the provider's
// config.  These certs will can be used when making http requests to the
// provider.
//
// Valid for: Config
func WithProviderCA(cert string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withProviderCA = cert
		}
	}
}

// WithUILocales provides optional End-User's preferred languages and scripts
// for the user interface.
//
// Valid for: Config
func WithUILocales(locales ...language.Tag) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withUILocales = locales
		}
	}
}

// WithPrompt provides an optional "prompt" value for authentication requests.
//
// Valid for: Config
func WithPrompt(prompt string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withPrompt = prompt
		}
	}
}

// WithOfflineAccess requests a refresh_token during authentication.
//
// Valid for: Config
func WithOfflineAccess() Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withOfflineAccess = true
		}
	}
}

// WithLogger provides an optional logger.
//
// Valid for: Config
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withLogger = l
		}
	}
}
