// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// caprp is an OIDC relying party for net/http applications, built from a
// collection of related packages:
//
//	oidc               provider discovery, the authorization code exchange,
//	                   refresh, id_token verification and the signed "state"
//	oidc/callback      the authorization response handler
//	rp                 login, logout, token refresh and the access policies
//	session            per browser sessions and their cookie middleware
//	session/redisstore sessions stored in Redis
//	jwt                KeySets used to verify id_token signatures
//
// See cmd/rp-demo for a complete application.
package caprp
