// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package jwt provides KeySets which verify JWT signatures using either keys
// fetched from a JWKS endpoint or locally configured PEM public keys.  A KeySet
// only verifies signatures; claim validation is left to the caller.
package jwt

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

var (
	// ErrMalformed is returned when a token isn't a JWS compact serialization.
	ErrMalformed = errors.New("malformed token")

	// ErrInvalidSignature is returned when no key verifies the token.
	ErrInvalidSignature = errors.New("invalid signature")
)

// supportedAlgs are the asymmetric algorithms a KeySet will accept.
var supportedAlgs = []jose.SignatureAlgorithm{
	jose.RS256, jose.RS384, jose.RS512,
	jose.ES256, jose.ES384, jose.ES512,
	jose.PS256, jose.PS384, jose.PS512,
	jose.EdDSA,
}

// KeySet represents a set of keys that can be used to verify the signatures of JWTs.
// A KeySet is expected to be backed by a set of local or remote keys.
type KeySet interface {
	// VerifySignature parses the given JWT, verifies its signature, and returns the claims in its payload.
	VerifySignature(ctx context.Context, token string) (claims map[string]interface{}, err error)
}

// JSONWebKeySet verifies JWT signatures using keys obtained from a JWKS URL.
type JSONWebKeySet struct {
	remoteJWKS *oidc.RemoteKeySet
}

// StaticKeySet verifies JWT signatures using local PEM-encoded public keys.
type StaticKeySet struct {
	publicKeys []interface{}
}

// NewJSONWebKeySet returns a KeySet that verifies JWT signatures using keys
// from the JSON Web Key Set (JWKS) at the given jwksURL.  The optional client
// is used to fetch the keys, and must stay usable for the life of the KeySet
// since keys are re-fetched when an unknown key id is seen.
func NewJSONWebKeySet(ctx context.Context, jwksURL string, client *http.Client) (*JSONWebKeySet, error) {
	if jwksURL == "" {
		return nil, errors.New("jwksURL must not be empty")
	}
	if client != nil {
		ctx = oidc.ClientContext(ctx, client)
	}
	return &JSONWebKeySet{
		remoteJWKS: oidc.NewRemoteKeySet(ctx, jwksURL),
	}, nil
}

// VerifySignature parses the given JWT, verifies its signature using JWKS keys, and returns
// the claims in its payload. The given JWT must be of the JWS compact serialization form.
func (ks *JSONWebKeySet) VerifySignature(ctx context.Context, token string) (map[string]interface{}, error) {
	if _, err := jose.ParseSigned(token, supportedAlgs); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformed, err)
	}
	payload, err := ks.remoteJWKS.VerifySignature(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSignature, err)
	}

	// Unmarshal payload into a set of all received claims
	allClaims := map[string]interface{}{}
	if err := json.Unmarshal(payload, &allClaims); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformed, err)
	}

	return allClaims, nil
}

// NewStaticKeySet returns a KeySet that verifies JWT signatures using PEM-encoded public keys.
// The given publicKeys must be of PEM-encoded x509 certificate or PKIX public key forms.
func NewStaticKeySet(publicKeys ...string) (*StaticKeySet, error) {
	if len(publicKeys) == 0 {
		return nil, errors.New("at least one public key is required")
	}
	parsedPublicKeys := make([]interface{}, 0, len(publicKeys))
	for _, k := range publicKeys {
		key, err := parsePublicKeyPEM([]byte(k))
		if err != nil {
			return nil, err
		}
		parsedPublicKeys = append(parsedPublicKeys, key)
	}

	return &StaticKeySet{
		publicKeys: parsedPublicKeys,
	}, nil
}

// VerifySignature parses the given JWT, verifies its signature using local PEM-encoded public keys,
// and returns the claims in its payload. The given JWT must be of the JWS compact serialization form.
func (ks *StaticKeySet) VerifySignature(_ context.Context, token string) (map[string]interface{}, error) {
	parsedJWT, err := jwt.ParseSigned(token, supportedAlgs)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformed, err)
	}

	var valid bool
	allClaims := map[string]interface{}{}
	for _, key := range ks.publicKeys {
		if err := parsedJWT.Claims(key, &allClaims); err == nil {
			valid = true
			break
		}
	}
	if !valid {
		return nil, fmt.Errorf("%w: no known key successfully validated the token signature", ErrInvalidSignature)
	}

	return allClaims, nil
}

// parsePublicKeyPEM is used to parse RSA, ECDSA and Ed25519 public keys from
// PEMs.
func parsePublicKeyPEM(data []byte) (interface{}, error) {
	block, _ := pem.Decode(data)
	if block != nil {
		var rawKey interface{}
		var err error
		if rawKey, err = x509.ParsePKIXPublicKey(block.Bytes); err != nil {
			if cert, err := x509.ParseCertificate(block.Bytes); err == nil {
				rawKey = cert.PublicKey
			} else {
				return nil, err
			}
		}

		switch k := rawKey.(type) {
		case *rsa.PublicKey, *ecdsa.PublicKey, ed25519.PublicKey:
			return k, nil
		}
	}

	return nil, errors.New("data does not contain any valid RSA, ECDSA or Ed25519 public keys")
}
