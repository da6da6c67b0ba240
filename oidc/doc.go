// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
oidc is a package for writing OIDC relying parties using the authorization
code flow.

Primary types provided by the package

* Config: provides the configuration for a typical 3-legged OIDC
authorization code flow (for example: client Id/Secret, redirectUrl, the
username claim, the state signing key and TTL, etc)

* Provider: provides integration with a provider using the typical 3-legged
OIDC authorization code flow. The provider provides capabilities like:
generating an auth URL, exchanging codes for tokens, verifying id_tokens and
refreshing tokens.

* StateCodec: signs and verifies the oidc "state" parameter, which carries
where the user is sent after login.  It doubles as the flow's CSRF
protection, so no server side state is kept between the redirect to the
provider and the callback.

* TokenSet: represents the result of a token request: an Oauth2 access_token
and refresh_token, an OIDC id_token and the set's expiry.

* IdentityVerifier: decodes id_tokens, verifying their signatures.

* Identity and LoginHook: the username and attributes of a user derived from
their id_token claims, and the ordered hooks that transform them at login.

* Alg: represents asymmetric signing algorithms

The oidc.callback package

The callback package includes the ability to create a http.HandlerFunc which can be used
for the 3rd leg of the OIDC flow where the authorization code is exchanged for
tokens.
*/
package oidc
