// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
callback is a package that provides a callback (in the form of an
http.HandlerFunc) for handling OIDC provider responses to authorization code
flow (with PKCE) authentication attempts.
*/
package callback
