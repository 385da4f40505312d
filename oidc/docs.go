// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
oidc is a package for signing users in with Google (or any other OIDC
provider) using the authorization code flow with PKCE.

Primary types provided by the package:

* State: represents one OIDC authentication flow for a user.  It contains the
data needed to uniquely represent that one-time flow across the multiple
interactions needed to complete the OIDC flow the user is attempting.  All
States contain an expiration for the user's OIDC flow.

* Token: represents an OIDC id_token, as well as an Oauth2 access_token and
refresh_token (including the access_token expiry).

* Config: provides the configuration for the OIDC provider used by a relying
party (for example: client ID/Secret, redirectURL, supported signing
algorithms, additional scopes requested, etc).

* Provider: provides integration with an OIDC provider. The provider provides
capabilities like: generating an auth URL, exchanging codes for tokens,
verifying tokens, making user info requests, refreshing access tokens, etc.

* Claims: the profile claims a Google account releases.

The oidc.callback package

The callback package includes the ability to create a http.HandlerFunc which
can be used for the 3rd leg of the OIDC flow where the authorization code is
exchanged for tokens.
*/
package oidc
