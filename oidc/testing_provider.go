// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"bytes"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/stretchr/testify/require"
	"gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"
)

// TestProvider is a local https server that behaves like a Google OIDC
// provider, which makes writing tests much easier.  It supports discovery,
// the authorization endpoint (with nonce and PKCE S256 checks), the token
// endpoint (authorization_code and refresh_token grants), a JWKS endpoint and
// a UserInfo endpoint.
type TestProvider struct {
	httpServer *httptest.Server
	caCert     string

	jwks            *jose.JSONWebKeySet
	ecdsaPublicKey  string
	ecdsaPrivateKey string

	mu                  sync.Mutex
	t                   *testing.T
	clientID            string
	clientSecret        string
	allowedRedirectURIs []string
	replySubject        string
	replyUserinfo       map[string]interface{}
	replyExpiry         time.Duration
	customClaims        map[string]interface{}
	customAudience      string
	expectedAuthCode    string
	expectedAuthNonce   string
	expectedState       string
	refreshToken        string
	omitIDToken         bool
	disableUserInfo     bool
	disableToken        bool
	refreshCount        int
	pending             map[string]testPendingAuth
}

type testPendingAuth struct {
	nonce         string
	codeChallenge string
}

// StartTestProvider creates and starts a disposable TestProvider.  The
// provider is stopped by a t.Cleanup.
func StartTestProvider(t *testing.T) *TestProvider {
	t.Helper()
	require := require.New(t)

	p := &TestProvider{
		t: t,
		allowedRedirectURIs: []string{
			"https://example.com",
		},
		replySubject: "108512345678901234567",
		replyUserinfo: map[string]interface{}{
			"name":           "Alice Doe",
			"given_name":     "Alice",
			"family_name":    "Doe",
			"email":          "alice@example.com",
			"email_verified": true,
			"picture":        "https://example.com/alice.png",
			"locale":         "en",
		},
		customClaims: map[string]interface{}{
			"email":          "alice@example.com",
			"email_verified": true,
			"name":           "Alice Doe",
			"picture":        "https://example.com/alice.png",
		},
		replyExpiry:  5 * time.Minute,
		refreshToken: "test-refresh-token",
		pending:      map[string]testPendingAuth{},
	}
	p.ecdsaPublicKey, p.ecdsaPrivateKey = TestGenerateKeys(t)
	p.jwks = testJWKS(t, p.ecdsaPublicKey)

	p.httpServer = httptest.NewUnstartedServer(p)
	p.httpServer.Config.ErrorLog = log.New(io.Discard, "", 0)
	p.httpServer.StartTLS()
	t.Cleanup(p.httpServer.Close)

	cert := p.httpServer.Certificate()
	var buf bytes.Buffer
	err := pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
	require.NoError(err)
	p.caCert = buf.String()

	return p
}

// Stop stops the running TestProvider.
func (p *TestProvider) Stop() {
	p.httpServer.Close()
}

// SetClientCreds is for configuring the client information required for the
// OIDC workflows.
func (p *TestProvider) SetClientCreds(clientID, clientSecret string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientID = clientID
	p.clientSecret = clientSecret
}

// SetExpectedAuthCode configures the auth code to return from /auth and the
// allowed auth code for /token.
func (p *TestProvider) SetExpectedAuthCode(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedAuthCode = code
}

// SetExpectedAuthNonce configures the nonce value required for /auth.
func (p *TestProvider) SetExpectedAuthNonce(nonce string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedAuthNonce = nonce
}

// SetExpectedState configures the state value returned with the auth code,
// which allows tests to simulate a provider that responds with a different
// state than it was given.  An empty state echoes the request's state.
func (p *TestProvider) SetExpectedState(state string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedState = state
}

// SetAllowedRedirectURIs allows you to configure the allowed redirect URIs for
// the OIDC workflow. If not configured a sample of "https://example.com" is
// used.
func (p *TestProvider) SetAllowedRedirectURIs(uris []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allowedRedirectURIs = uris
}

// SetCustomClaims lets you set claims to return in the JWT issued by the OIDC
// workflow.
func (p *TestProvider) SetCustomClaims(customClaims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customClaims = customClaims
}

// SetCustomAudience configures what audience value to embed in the JWT issued
// by the OIDC workflow.
func (p *TestProvider) SetCustomAudience(customAudience string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customAudience = customAudience
}

// SetUserInfoReply sets the UserInfo endpoint response.  The "sub" is always
// the provider's subject.
func (p *TestProvider) SetUserInfoReply(resp map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replyUserinfo = resp
}

// SetSubject sets the subject of issued id_tokens and UserInfo responses.
func (p *TestProvider) SetSubject(sub string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replySubject = sub
}

// SetTokenExpiry sets the lifetime of issued access_tokens and id_tokens.
func (p *TestProvider) SetTokenExpiry(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replyExpiry = d
}

// SetOmitIDTokens forces an error state where the /token endpoint does not
// return an id_token.
func (p *TestProvider) SetOmitIDTokens(omit bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitIDToken = omit
}

// SetDisableUserInfo makes the userinfo endpoint return 404 and omits it from
// the discovery config.
func (p *TestProvider) SetDisableUserInfo(disable bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableUserInfo = disable
}

// SetDisableToken makes the /token endpoint reject every request.
func (p *TestProvider) SetDisableToken(disable bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableToken = disable
}

// RefreshCount returns the number of refresh_token grants served.
func (p *TestProvider) RefreshCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshCount
}

// Subject returns the subject of issued tokens.
func (p *TestProvider) Subject() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.replySubject
}

// Addr returns the current base URL for the test provider's running webserver.
func (p *TestProvider) Addr() string { return p.httpServer.URL }

// CACert returns the pem-encoded CA certificate used by the test provider's
// HTTPS server.
func (p *TestProvider) CACert() string { return p.caCert }

// SigningKeys returns the test provider's pem-encoded keys used to sign JWTs
// and the signing algorithm.
func (p *TestProvider) SigningKeys() (pub, priv string, alg Alg) {
	return p.ecdsaPublicKey, p.ecdsaPrivateKey, ES256
}

// HTTPClient returns an http.Client that trusts the test provider's CA.
func (p *TestProvider) HTTPClient() *http.Client {
	p.t.Helper()
	require := require.New(p.t)
	certPool := x509.NewCertPool()
	require.True(certPool.AppendCertsFromPEM([]byte(p.caCert)))
	tr := cleanhttp.DefaultPooledTransport()
	tr.TLSClientConfig = &tls.Config{
		RootCAs: certPool,
	}
	return &http.Client{
		Transport: tr,
	}
}

// ServeHTTP implements the test provider's http.Handler.
func (p *TestProvider) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.t.Helper()

	w.Header().Set("Content-Type", "application/json")

	switch req.URL.Path {
	case "/.well-known/openid-configuration":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		reply := struct {
			Issuer           string   `json:"issuer"`
			AuthEndpoint     string   `json:"authorization_endpoint"`
			TokenEndpoint    string   `json:"token_endpoint"`
			JWKSURI          string   `json:"jwks_uri"`
			UserinfoEndpoint string   `json:"userinfo_endpoint,omitempty"`
			Algs             []string `json:"id_token_signing_alg_values_supported"`
		}{
			Issuer:           p.Addr(),
			AuthEndpoint:     p.Addr() + "/auth",
			TokenEndpoint:    p.Addr() + "/token",
			JWKSURI:          p.Addr() + "/certs",
			UserinfoEndpoint: p.Addr() + "/userinfo",
			Algs:             []string{string(ES256)},
		}
		if p.disableUserInfo {
			reply.UserinfoEndpoint = ""
		}
		_ = p.writeJSON(w, &reply)

	case "/auth":
		p.handleAuth(w, req)

	case "/certs":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		_ = p.writeJSON(w, p.jwks)

	case "/token":
		p.handleToken(w, req)

	case "/userinfo":
		if p.disableUserInfo {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !strings.HasPrefix(req.Header.Get("Authorization"), "Bearer ") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		reply := map[string]interface{}{}
		for k, v := range p.replyUserinfo {
			reply[k] = v
		}
		reply["sub"] = p.replySubject
		_ = p.writeJSON(w, reply)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (p *TestProvider) handleAuth(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	qv := req.URL.Query()

	if !p.allowedRedirect(qv.Get("redirect_uri")) {
		w.WriteHeader(http.StatusBadRequest)
		_ = p.writeJSON(w, map[string]string{"error": "redirect_uri_mismatch"})
		return
	}
	if qv.Get("response_type") != "code" {
		p.writeAuthErrorResponse(w, req, "unsupported_response_type", "")
		return
	}
	if !containsScope(qv.Get("scope"), "openid") {
		p.writeAuthErrorResponse(w, req, "invalid_scope", "")
		return
	}
	if qv.Get("client_id") != p.clientID {
		p.writeAuthErrorResponse(w, req, "unauthorized_client", "")
		return
	}
	if p.expectedAuthCode == "" {
		p.writeAuthErrorResponse(w, req, "access_denied", "")
		return
	}
	nonce := qv.Get("nonce")
	if p.expectedAuthNonce != "" && p.expectedAuthNonce != nonce {
		p.writeAuthErrorResponse(w, req, "access_denied", "")
		return
	}
	challenge := qv.Get("code_challenge")
	if challenge != "" && qv.Get("code_challenge_method") != "S256" {
		p.writeAuthErrorResponse(w, req, "invalid_request", "unsupported code_challenge_method")
		return
	}
	state := qv.Get("state")
	if state == "" {
		p.writeAuthErrorResponse(w, req, "invalid_request", "missing state")
		return
	}
	if p.expectedState != "" {
		state = p.expectedState
	}
	p.pending[p.expectedAuthCode] = testPendingAuth{
		nonce:         nonce,
		codeChallenge: challenge,
	}

	redirectURI := qv.Get("redirect_uri") +
		"?state=" + url.QueryEscape(state) +
		"&code=" + url.QueryEscape(p.expectedAuthCode)
	http.Redirect(w, req, redirectURI, http.StatusFound)
}

func (p *TestProvider) handleToken(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if p.disableToken {
		_ = p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_client", "token endpoint disabled")
		return
	}
	clientID, clientSecret, ok := req.BasicAuth()
	if !ok {
		clientID, clientSecret = req.FormValue("client_id"), req.FormValue("client_secret")
	}
	if clientID != p.clientID || clientSecret != p.clientSecret {
		_ = p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_client", "bad client credentials")
		return
	}

	var nonce string
	switch req.FormValue("grant_type") {
	case "authorization_code":
		switch {
		case !p.allowedRedirect(req.FormValue("redirect_uri")):
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "redirect_uri is not allowed")
			return
		case req.FormValue("code") != p.expectedAuthCode:
			_ = p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_grant", "unexpected auth code")
			return
		}
		pending := p.pending[req.FormValue("code")]
		if pending.codeChallenge != "" && !verifyS256(req.FormValue("code_verifier"), pending.codeChallenge) {
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "invalid code_verifier")
			return
		}
		delete(p.pending, req.FormValue("code"))
		nonce = pending.nonce
		if p.expectedAuthNonce != "" {
			nonce = p.expectedAuthNonce
		}
	case "refresh_token":
		if req.FormValue("refresh_token") != p.refreshToken {
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "unknown refresh_token")
			return
		}
		p.refreshCount++
	default:
		_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "bad grant_type")
		return
	}

	now := time.Now()
	stdClaims := jwt.Claims{
		Subject:   p.replySubject,
		Issuer:    p.Addr(),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now.Add(-5 * time.Second)),
		Expiry:    jwt.NewNumericDate(now.Add(p.replyExpiry)),
		Audience:  jwt.Audience{p.clientID},
	}
	if p.customAudience != "" {
		stdClaims.Audience = jwt.Audience{p.customAudience}
	}
	privateClaims := map[string]interface{}{}
	for k, v := range p.customClaims {
		privateClaims[k] = v
	}
	if nonce != "" {
		privateClaims["nonce"] = nonce
	}
	jwtData := TestSignJWT(p.t, p.ecdsaPrivateKey, stdClaims, privateClaims)

	reply := struct {
		AccessToken  string `json:"access_token"`
		TokenType    string `json:"token_type"`
		ExpiresIn    int64  `json:"expires_in"`
		RefreshToken string `json:"refresh_token,omitempty"`
		IDToken      string `json:"id_token,omitempty"`
	}{
		AccessToken:  jwtData,
		TokenType:    "Bearer",
		ExpiresIn:    int64(p.replyExpiry / time.Second),
		RefreshToken: p.refreshToken,
		IDToken:      jwtData,
	}
	if p.omitIDToken {
		reply.IDToken = ""
	}
	_ = p.writeJSON(w, &reply)
}

func (p *TestProvider) allowedRedirect(uri string) bool {
	for _, allowed := range p.allowedRedirectURIs {
		if allowed == uri {
			return true
		}
	}
	return false
}

func (p *TestProvider) writeJSON(w http.ResponseWriter, out interface{}) error {
	enc := json.NewEncoder(w)
	return enc.Encode(out)
}

func (p *TestProvider) writeAuthErrorResponse(w http.ResponseWriter, req *http.Request, errorCode, errorMessage string) {
	qv := req.URL.Query()

	redirectURI := qv.Get("redirect_uri") +
		"?state=" + url.QueryEscape(qv.Get("state")) +
		"&error=" + url.QueryEscape(errorCode)

	if errorMessage != "" {
		redirectURI += "&error_description=" + url.QueryEscape(errorMessage)
	}

	http.Redirect(w, req, redirectURI, http.StatusFound)
}

func (p *TestProvider) writeTokenErrorResponse(w http.ResponseWriter, statusCode int, errorCode, errorMessage string) error {
	body := struct {
		Code string `json:"error"`
		Desc string `json:"error_description,omitempty"`
	}{
		Code: errorCode,
		Desc: errorMessage,
	}

	w.WriteHeader(statusCode)
	return p.writeJSON(w, &body)
}

func containsScope(scopes, want string) bool {
	for _, s := range strings.Fields(scopes) {
		if s == want {
			return true
		}
	}
	return false
}

func verifyS256(verifier, challenge string) bool {
	if verifier == "" {
		return false
	}
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:]) == challenge
}
