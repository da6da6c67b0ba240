// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hashicorp/cap-rp/oidc"
)

// Exchanger exchanges an authorization code for a verified oidc.TokenSet.
// *oidc.Provider is an Exchanger.
type Exchanger interface {
	Exchange(ctx context.Context, authorizationCode string) (*oidc.TokenSet, oidc.Claims, error)
}

var _ Exchanger = (*oidc.Provider)(nil)

// AuthCode creates an oidc authorization code callback handler which
// verifies the request's oidc "state" parameter with sc before exchanging the
// code with p.  Processing stops at the first failure, and a provider error
// response is reported before the state is even looked at.
//
// The SuccessResponseFunc is used to create a response when callback is
// successful. The ErrorResponseFunc is to create a response when the callback
// fails.
func AuthCode(p Exchanger, sc *oidc.StateCodec, sFn SuccessResponseFunc, eFn ErrorResponseFunc) (http.HandlerFunc, error) {
	const op = "callback.AuthCode"
	switch {
	case p == nil:
		return nil, fmt.Errorf("%s: exchanger is nil: %w", op, oidc.ErrNilParameter)
	case sc == nil:
		return nil, fmt.Errorf("%s: state codec is nil: %w", op, oidc.ErrNilParameter)
	case sFn == nil:
		return nil, fmt.Errorf("%s: success response func is nil: %w", op, oidc.ErrNilParameter)
	case eFn == nil:
		return nil, fmt.Errorf("%s: error response func is nil: %w", op, oidc.ErrNilParameter)
	}
	return func(w http.ResponseWriter, req *http.Request) {
		// the callback's parameters are only ever read from the query, since
		// the authorization request always uses response_mode=query
		q := req.URL.Query()
		reqState := q.Get("state")

		if errCode := q.Get("error"); errCode != "" {
			reqError := &AuthenErrorResponse{
				Error:       errCode,
				Description: q.Get("error_description"),
				Uri:         q.Get("error_uri"),
			}
			eFn(reqState, reqError, fmt.Errorf("%s: %s: %w", op, errCode, oidc.ErrProvider), w, req)
			return
		}

		state, err := sc.Deserialize(reqState)
		if err != nil {
			eFn(reqState, nil, fmt.Errorf("%s: %w", op, err), w, req)
			return
		}

		t, claims, err := p.Exchange(req.Context(), q.Get("code"))
		if err != nil {
			eFn(reqState, nil, fmt.Errorf("%s: %w", op, err), w, req)
			return
		}
		sFn(state, t, claims, w, req)
	}, nil
}
