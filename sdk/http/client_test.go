// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package http

import (
	"bytes"
	"context"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestNewClient(t *testing.T) {
	t.Parallel()

	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	t.Cleanup(srv.Close)
	var buf bytes.Buffer
	require.NoError(t, pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw}))
	caPEM := buf.String()

	tests := []struct {
		name      string
		caPEM     string
		wantErrIs error
		wantReach bool
	}{
		{name: "provider-ca", caPEM: caPEM, wantReach: true},
		{name: "system-ca", wantReach: false},
		{name: "invalid-ca", caPEM: "not a certificate", wantErrIs: ErrInvalidCertificatePem},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			c, err := NewClient(tt.caPEM, 5*time.Second)
			if tt.wantErrIs != nil {
				assert.ErrorIs(err, tt.wantErrIs)
				assert.Nil(c)
				return
			}
			require.NoError(err)
			assert.Equal(5*time.Second, c.Timeout)

			resp, err := c.Get(srv.URL)
			if !tt.wantReach {
				// the test server's certificate isn't in the system pool
				assert.Error(err)
				return
			}
			require.NoError(err)
			defer resp.Body.Close()
			assert.Equal(http.StatusOK, resp.StatusCode)
		})
	}
}

func TestOidcClientContext(t *testing.T) {
	t.Parallel()
	c, err := NewClient("", time.Second)
	require.NoError(t, err)
	ctx := OidcClientContext(context.Background(), c)
	assert.Same(t, c, ctx.Value(oauth2.HTTPClient))
}
