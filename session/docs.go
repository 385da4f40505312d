// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
session is a package for issuing and reading the signed-in user's session.

A Session is carried by the browser as an HS256 JWT in an HttpOnly cookie, so
the server keeps no session state. The signing key is derived from the
configured secret with HKDF-SHA256.

Primary types provided by the package:

* Session: the object the pages render.  It serialises as
{"user":{"id":...,"name":...,"email":...,"image":...},"expires":"..."}.

* Manager: writes, reads and clears the session cookie.
*/
package session
