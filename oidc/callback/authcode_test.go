// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/cap-signin/oidc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRedirect = "https://example.com/auth/callback/google"

func TestAuthCode(t *testing.T) {
	t.Parallel()
	tp := oidc.StartTestProvider(t)
	p := testNewProvider(t, "test-client-id", "test-client-secret", testRedirect, tp)
	sr := &SingleStateReader{}

	tests := []struct {
		name      string
		p         *oidc.Provider
		sr        StateReader
		sFn       SuccessResponseFunc
		eFn       ErrorResponseFunc
		wantErr   bool
		wantIsErr error
	}{
		{"valid", p, sr, testSuccessFn, testFailFn, false, nil},
		{"nil-p", nil, sr, testSuccessFn, testFailFn, true, oidc.ErrInvalidParameter},
		{"nil-sr", p, nil, testSuccessFn, testFailFn, true, oidc.ErrInvalidParameter},
		{"nil-sFn", p, sr, nil, testFailFn, true, oidc.ErrInvalidParameter},
		{"nil-eFn", p, sr, testSuccessFn, nil, true, oidc.ErrInvalidParameter},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			got, err := AuthCode(tt.p, tt.sr, tt.sFn, tt.eFn)
			if tt.wantErr {
				require.Error(err)
				assert.Truef(errors.Is(err, tt.wantIsErr), "wanted \"%s\" but got \"%s\"", tt.wantIsErr, err)
				return
			}
			require.NoError(err)
			assert.NotNil(got)
		})
	}
}

type testErrReader struct{ err error }

func (r *testErrReader) Read(context.Context, string) (oidc.State, error) { return nil, r.err }

type testNilReader struct{}

func (r *testNilReader) Read(context.Context, string) (oidc.State, error) { return nil, nil }

type testWrongReader struct{ s oidc.State }

func (r *testWrongReader) Read(context.Context, string) (oidc.State, error) { return r.s, nil }

func Test_AuthCodeResponses(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tp := oidc.StartTestProvider(t)
	tp.SetExpectedAuthCode("valid-code")
	p := testNewProvider(t, "test-client-id", "test-client-secret", testRedirect, tp)

	noRedirects := tp.HTTPClient()
	noRedirects.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	tests := []struct {
		name            string
		exp             time.Duration
		stateOverride   string
		codeOverride    string
		readerOverride  StateReader
		providerError   string
		wantStatusCode  int
		wantBody        string
		wantErrContains string
	}{
		{
			name:           "valid",
			exp:            time.Minute,
			wantStatusCode: http.StatusOK,
			wantBody:       "login successful: /profile",
		},
		{
			name:            "state-not-found",
			exp:             time.Minute,
			stateOverride:   "st_unknown",
			wantStatusCode:  http.StatusInternalServerError,
			wantErrContains: oidc.ErrNotFound.Error(),
		},
		{
			name:            "expired-state",
			exp:             time.Nanosecond,
			wantStatusCode:  http.StatusInternalServerError,
			wantErrContains: oidc.ErrExpiredState.Error(),
		},
		{
			name:            "reader-error",
			exp:             time.Minute,
			readerOverride:  &testErrReader{err: errors.New("reader on fire")},
			wantStatusCode:  http.StatusInternalServerError,
			wantErrContains: "reader on fire",
		},
		{
			name:            "nil-state-from-reader",
			exp:             time.Minute,
			readerOverride:  &testNilReader{},
			wantStatusCode:  http.StatusInternalServerError,
			wantErrContains: oidc.ErrNotFound.Error(),
		},
		{
			name: "reader-returns-wrong-state",
			exp:  time.Minute,
			readerOverride: func() StateReader {
				s, err := oidc.NewState(time.Minute, testRedirect)
				require.NoError(t, err)
				return &testWrongReader{s: s}
			}(),
			wantStatusCode:  http.StatusInternalServerError,
			wantErrContains: oidc.ErrResponseStateInvalid.Error(),
		},
		{
			name:            "bad-code",
			exp:             time.Minute,
			codeOverride:    "bad-code",
			wantStatusCode:  http.StatusInternalServerError,
			wantErrContains: "unable to exchange authorization code",
		},
		{
			name:           "provider-error",
			exp:            time.Minute,
			providerError:  "access_denied",
			wantStatusCode: http.StatusUnauthorized,
			wantBody:       `"error":"access_denied"`,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			s, err := oidc.NewState(tt.exp, testRedirect, oidc.WithReturnTo("/profile"))
			require.NoError(err)

			var sr StateReader = &SingleStateReader{State: s}
			if tt.readerOverride != nil {
				sr = tt.readerOverride
			}
			h, err := AuthCode(p, sr, testSuccessFn, testFailFn)
			require.NoError(err)

			var reqState, reqCode string
			switch {
			case tt.exp > time.Second:
				authURL, err := p.AuthURL(ctx, s)
				require.NoError(err)
				resp, err := noRedirects.Get(authURL)
				require.NoError(err)
				_ = resp.Body.Close()
				loc, err := url.Parse(resp.Header.Get("Location"))
				require.NoError(err)
				reqState, reqCode = loc.Query().Get("state"), loc.Query().Get("code")
			default:
				// an expired state can't be used to create an auth URL
				reqState, reqCode = s.ID(), "valid-code"
			}
			if tt.stateOverride != "" {
				reqState = tt.stateOverride
			}
			if tt.codeOverride != "" {
				reqCode = tt.codeOverride
			}

			q := url.Values{}
			q.Set("state", reqState)
			if tt.providerError != "" {
				q.Set("error", tt.providerError)
				q.Set("error_description", "the user said no")
			} else {
				q.Set("code", reqCode)
			}
			req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("%s?%s", testRedirect, q.Encode()), nil)
			w := httptest.NewRecorder()
			h(w, req)

			resp := w.Result()
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			require.NoError(err)
			assert.Equal(tt.wantStatusCode, resp.StatusCode)
			if tt.wantBody != "" {
				assert.Contains(string(body), tt.wantBody)
			}
			if tt.wantErrContains != "" {
				var got AuthenErrorResponse
				require.NoError(json.Unmarshal(body, &got))
				assert.Equal("internal-callback-error", got.Error)
				assert.Truef(strings.Contains(got.Description, tt.wantErrContains), "wanted %q in %q", tt.wantErrContains, got.Description)
			}
		})
	}
	t.Run("missing-state", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		h, err := AuthCode(p, &SingleStateReader{}, testSuccessFn, testFailFn)
		require.NoError(err)
		w := httptest.NewRecorder()
		h(w, httptest.NewRequest(http.MethodGet, testRedirect+"?code=valid-code", nil))
		assert.Equal(http.StatusInternalServerError, w.Code)
		assert.Contains(w.Body.String(), oidc.ErrInvalidParameter.Error())
	})
}
