// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/cap-signin/oidc"
)

func Example() {
	// Create a new Config
	pc, _ := oidc.NewConfig(
		oidc.GoogleIssuer,
		"your_client_id",
		"your_client_secret",
		[]oidc.Alg{oidc.RS256},
		[]string{"http://localhost:3000/auth/callback/google"},
	)

	// Create a provider
	p, _ := oidc.NewProvider(pc)
	defer p.Done()

	// Create a State for a user's authentication attempt.
	ttl := 2 * time.Minute
	attempt, _ := oidc.NewState(ttl, "http://localhost:3000/auth/callback/google", oidc.WithReturnTo("/profile"))

	// A function to handle successful attempts.
	successFn := func(
		s oidc.State,
		t oidc.Token,
		w http.ResponseWriter,
		req *http.Request,
	) {
		http.Redirect(w, req, s.ReturnTo(), http.StatusFound)
	}
	// A function to handle errors and failed attempts.
	errorFn := func(
		stateID string,
		r *AuthenErrorResponse,
		e error,
		w http.ResponseWriter,
		req *http.Request,
	) {
		if e != nil {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(e.Error()))
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(fmt.Sprintf("%s: %s", r.Error, r.Description)))
	}

	// create the authorization code callback and register it for use.
	authCodeCallback, _ := AuthCode(p, &SingleStateReader{State: attempt}, successFn, errorFn)
	http.HandleFunc("/auth/callback/google", authCodeCallback)
}
