// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
callback is a package that provides callbacks (in the form of http.HandlerFunc)
for handling OIDC provider responses to authorization code flow authentication
attempts.  The oidc "state" parameter is verified with an oidc.StateCodec, so
no server side state store is needed between the redirect to the provider and
the callback.
*/
package callback
