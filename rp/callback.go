// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package rp

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hashicorp/cap-rp/oidc"
	"github.com/hashicorp/cap-rp/oidc/callback"
	"github.com/hashicorp/cap-rp/session"
)

// CallbackHandler returns the handler for the provider's authorization
// response, to be routed at CallbackPath.  A successful login redirects to
// the next recorded at login, or acknowledges the login when there's none.
// Failures are answered with callback.ErrorStatus.
func (a *Authenticator) CallbackHandler() (http.Handler, error) {
	const op = "Authenticator.CallbackHandler"
	h, err := callback.AuthCode(a.provider, a.states, a.loginSucceeded, a.loginFailed)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return h, nil
}

func (a *Authenticator) loginSucceeded(state *oidc.StatePayload, t *oidc.TokenSet, claims oidc.Claims, w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	s, err := a.session(ctx)
	if err != nil {
		a.loginFailed("", nil, err, w, req)
		return
	}
	id, err := a.Complete(ctx, s, t, claims)
	if err != nil {
		a.loginFailed("", nil, err, w, req)
		return
	}
	a.logger.Info("login complete", "username", id.Username, "state_id", state.Id)
	if state.Next != "" {
		http.Redirect(w, req, state.Next, http.StatusFound)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = fmt.Fprintf(w, "authenticated %q", id.Username)
}

func (a *Authenticator) loginFailed(state string, respErr *callback.AuthenErrorResponse, e error, w http.ResponseWriter, req *http.Request) {
	status, msg := callback.ErrorStatus(respErr, e)
	args := []interface{}{"status", status, "error", e}
	if state != "" {
		args = append(args, "state", oidc.TruncateSecret(state))
	}
	if code := req.URL.Query().Get("code"); code != "" {
		args = append(args, "code", oidc.TruncateSecret(code))
	}
	if respErr != nil {
		args = append(args, "provider_error", respErr.Error, "provider_error_description", respErr.Description)
	}
	if status >= http.StatusInternalServerError {
		a.logger.Error("login failed", args...)
	} else {
		a.logger.Info("login failed", args...)
	}
	http.Error(w, msg, status)
}

// Complete materializes a login into the session s: the Identity is derived
// from claims and run through the login hooks, then the session is cleared and
// the TokenSet, attributes and username are written.  Nothing is written when
// a hook fails.  The username is written last since it marks the session as
// authenticated.  A failed write clears the session again.
func (a *Authenticator) Complete(ctx context.Context, s session.Session, t *oidc.TokenSet, claims oidc.Claims) (oidc.Identity, error) {
	const op = "Authenticator.Complete"
	switch {
	case s == nil:
		return oidc.Identity{}, fmt.Errorf("%s: session is nil: %w", op, oidc.ErrNilParameter)
	case t == nil:
		return oidc.Identity{}, fmt.Errorf("%s: token set is nil: %w", op, oidc.ErrNilParameter)
	}
	if err := t.Validate(); err != nil {
		return oidc.Identity{}, fmt.Errorf("%s: %w", op, err)
	}

	id, err := oidc.ApplyLoginHooks(oidc.NewIdentity(claims, a.provider.UserAttr()), a.hooks...)
	if err != nil {
		return oidc.Identity{}, fmt.Errorf("%s: %w", op, err)
	}
	id.Attributes[AuthenticatedAttr] = a.clock.Now().Unix()

	if err := s.Destroy(ctx); err != nil {
		return oidc.Identity{}, fmt.Errorf("%s: unable to clear previous login: %w", op, err)
	}
	if err := a.writeLogin(ctx, s, t, id); err != nil {
		if dErr := s.Destroy(ctx); dErr != nil {
			a.logger.Error("unable to clear partial login", "error", dErr)
		}
		return oidc.Identity{}, fmt.Errorf("%s: %w", op, err)
	}
	return id, nil
}

func (a *Authenticator) writeLogin(ctx context.Context, s session.Session, t *oidc.TokenSet, id oidc.Identity) error {
	if err := a.storeTokens(ctx, s, a.tokenName, t); err != nil {
		return err
	}
	if err := s.Set(ctx, a.attrsKey, id.Attributes); err != nil {
		return fmt.Errorf("unable to store attributes: %w", err)
	}
	if err := s.Set(ctx, a.usernameKey, id.Username); err != nil {
		return fmt.Errorf("unable to store username: %w", err)
	}
	return nil
}
