// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"net/http"
	"testing"

	"github.com/hashicorp/cap-rp/oidc"
	"github.com/stretchr/testify/require"
)

// testSuccessFn is a test SuccessResponseFunc
func testSuccessFn(state *oidc.StatePayload, t *oidc.TokenSet, claims oidc.Claims, w http.ResponseWriter, req *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("login successful: " + state.Next))
}

// testNewProvider creates a new Provider for the TestProvider (tp), using
// redirectURL as the callback.  This is helpful internally, but intentionally
// not exported.
func testNewProvider(t *testing.T, clientID, clientSecret, redirectURL string, tp *oidc.TestProvider) *oidc.Provider {
	const op = "testNewProvider"
	t.Helper()
	require := require.New(t)
	require.NotEmptyf(clientID, "%s: client id is empty", op)
	require.NotEmptyf(clientSecret, "%s: client secret is empty", op)
	require.NotEmptyf(redirectURL, "%s: redirect URL is empty", op)

	tp.SetClientCreds(clientID, clientSecret)
	tp.SetAllowedRedirectURIs([]string{redirectURL})
	c, err := oidc.NewConfig(
		tp.Addr(),
		clientID,
		oidc.ClientSecret(clientSecret),
		redirectURL,
		oidc.WithProviderCA(tp.CACert()),
	)
	require.NoError(err)
	p, err := oidc.NewProvider(c)
	require.NoError(err)
	t.Cleanup(p.Done)
	return p
}
