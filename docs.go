// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// signin is a small website where users sign in with their Google account
// using OpenID Connect.
//
// The packages:
//
//	oidc           Google provider, auth URL, code exchange, id_token and UserInfo
//	oidc/callback  the http.HandlerFunc Google redirects back to
//	session        the signed session cookie
//	store          pending sign-in attempts and the record of users
//	web            pages, sign-in/out routes and middleware
//	config         environment configuration
//	telemetry      OpenTelemetry traces and sign-in counters
//
// cmd/signin-demo wires them together.  See Example for the same wiring
// in a few lines.
package signin
