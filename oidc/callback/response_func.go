// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"errors"
	"net/http"

	"github.com/hashicorp/cap-rp/oidc"
)

// SuccessResponseFunc is used by Callbacks to create a http response when the
// callback is successful.
//
// The state is the verified payload of the request's oidc "state" parameter.
// The oidc.TokenSet is the result of a successful token exchange with the
// provider, and claims are the verified claims of its id_token.  The function
// should use the http.ResponseWriter to send back whatever content (headers,
// html, JSON, etc) it wishes to the client that originated the oidc flow.
type SuccessResponseFunc func(state *oidc.StatePayload, t *oidc.TokenSet, claims oidc.Claims, w http.ResponseWriter, req *http.Request)

// ErrorResponseFunc is used by Callbacks to create a http response when the
// callback fails.
//
// The function receives the raw state returned as part of the oidc
// authentication response.  respErr is set when the provider returned an
// authentication error response, and e is always set.  The function should
// use the http.ResponseWriter to send back whatever content (headers, html,
// JSON, etc) it wishes to the client that originated the oidc flow.
type ErrorResponseFunc func(state string, respErr *AuthenErrorResponse, e error, w http.ResponseWriter, req *http.Request)

// AuthenErrorResponse represents Oauth2 error responses.  See:
// https://openid.net/specs/openid-connect-core-1_0.html#AuthError
type AuthenErrorResponse struct {
	Error       string
	Description string
	Uri         string
}

// NotOutstanding is the response message for a callback whose state is
// missing, tampered with or expired.
const NotOutstanding = "authentication request was not outstanding"

// ErrorStatus classifies an error from an authentication attempt into an HTTP
// status code and a short message that's safe to show the user.  respErr is
// optional and only used to describe provider errors.
func ErrorStatus(respErr *AuthenErrorResponse, e error) (int, string) {
	switch {
	case respErr != nil || errors.Is(e, oidc.ErrProvider):
		msg := "authentication failed"
		if respErr != nil {
			msg += ": " + respErr.Error
			if respErr.Description != "" {
				msg += ": " + respErr.Description
			}
		}
		return http.StatusBadRequest, msg
	case errors.Is(e, oidc.ErrInvalidState), errors.Is(e, oidc.ErrExpiredState):
		return http.StatusBadRequest, NotOutstanding
	case errors.Is(e, oidc.ErrIdTokenVerificationFailed):
		return http.StatusUnauthorized, "identity token could not be verified"
	case errors.Is(e, oidc.ErrTokenExchange):
		return http.StatusConflict, "authorization code could not be exchanged"
	case errors.Is(e, oidc.ErrLoginHook):
		return http.StatusUnauthorized, "login was rejected"
	case errors.Is(e, oidc.ErrUnauthorized):
		return http.StatusUnauthorized, "Not Authorized"
	default:
		return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)
	}
}

// DefaultErrorResponse writes the ErrorStatus of the failure as plain text.
func DefaultErrorResponse(_ string, respErr *AuthenErrorResponse, e error, w http.ResponseWriter, _ *http.Request) {
	status, msg := ErrorStatus(respErr, e)
	http.Error(w, msg, status)
}
