// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
web is the HTTP surface of the sign-in demo.

Routes:

  GET  /                      landing page
  GET  /profile               profile page, redirects to / without a session
  GET  /auth/signin           starts the Google sign-in (also POST)
  GET  /auth/callback/google  the OIDC redirect handler (also POST)
  POST /auth/signout          clears the session
  GET  /api/auth/session      the session as JSON, {} when signed out
  GET  /static/...            embedded CSS and scripts
  GET  /healthz               liveness

Every response carries security headers, is logged and traced.  The /auth
routes are rate limited per client IP.
*/
package web
