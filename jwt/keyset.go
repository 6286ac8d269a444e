package jwt

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"gopkg.in/square/go-jose.v2/jwt"

	sdkhttp "github.com/openaccounts/oidcaccount/sdk/http"
)

// KeySet represents a set of keys that can be used to verify the signatures of JWTs.
// A KeySet is expected to be backed by a set of local or remote keys.
type KeySet interface {
	// VerifySignature parses the given JWT, verifies its signature, and returns the claims in its payload.
	VerifySignature(ctx context.Context, token string) (claims map[string]interface{}, err error)
}

// JSONWebKeySet verifies JWT signatures using keys obtained from a JWKS URL.
type JSONWebKeySet struct {
	remoteJWKS oidc.KeySet
}

// StaticKeySet verifies JWT signatures using local public keys.
type StaticKeySet struct {
	publicKeys []crypto.PublicKey
}

// NewJSONWebKeySet returns a KeySet that verifies JWT signatures using keys from the JSON Web
// Key Set (JWKS) at the given jwksURL. The client used to obtain the remote JWKS will verify
// server certificates using the root certificates provided by jwksCAPEM.
//
// Keys are fetched lazily and refreshed when a token carries an unknown key id.
// The ctx is used for every fetch, so it must outlive the returned KeySet.
func NewJSONWebKeySet(ctx context.Context, jwksURL string, jwksCAPEM string) (KeySet, error) {
	const op = "jwt.NewJSONWebKeySet"
	if jwksURL == "" {
		return nil, fmt.Errorf("%s: jwksURL must not be empty: %w", op, ErrInvalidParameter)
	}

	caCtx, err := createCAContext(ctx, jwksCAPEM)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &JSONWebKeySet{
		remoteJWKS: oidc.NewRemoteKeySet(caCtx, jwksURL),
	}, nil
}

// VerifySignature parses the given JWT, verifies its signature using JWKS keys, and returns
// the claims in its payload. The given JWT must be of the JWS compact serialization form.
func (ks *JSONWebKeySet) VerifySignature(ctx context.Context, token string) (map[string]interface{}, error) {
	const op = "JSONWebKeySet.VerifySignature"
	payload, err := ks.remoteJWKS.VerifySignature(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%s: %s: %w", op, err.Error(), ErrInvalidSignature)
	}
	return unmarshalResp(payload)
}

// NewStaticKeySet returns a KeySet that verifies JWT signatures using the given publicKeys.
// Supported key types are *rsa.PublicKey, *ecdsa.PublicKey and ed25519.PublicKey.
func NewStaticKeySet(publicKeys []crypto.PublicKey) (KeySet, error) {
	const op = "jwt.NewStaticKeySet"
	if len(publicKeys) == 0 {
		return nil, fmt.Errorf("%s: publicKeys must not be empty: %w", op, ErrInvalidParameter)
	}
	for _, k := range publicKeys {
		switch k.(type) {
		case *rsa.PublicKey, *ecdsa.PublicKey, ed25519.PublicKey:
		default:
			return nil, fmt.Errorf("%s: unsupported public key type %T: %w", op, k, ErrInvalidParameter)
		}
	}
	return &StaticKeySet{
		publicKeys: publicKeys,
	}, nil
}

// NewStaticKeySetFromPEM is a convenience wrapper around NewStaticKeySet for
// PEM-encoded x509 certificates or PKIX public keys.
func NewStaticKeySetFromPEM(pems []string) (KeySet, error) {
	const op = "jwt.NewStaticKeySetFromPEM"
	keys := make([]crypto.PublicKey, 0, len(pems))
	for _, p := range pems {
		k, err := ParsePublicKeyPEM([]byte(p))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		keys = append(keys, k)
	}
	return NewStaticKeySet(keys)
}

// VerifySignature parses the given JWT, verifies its signature using local public keys,
// and returns the claims in its payload. The given JWT must be of the JWS compact serialization form.
func (ks *StaticKeySet) VerifySignature(_ context.Context, token string) (map[string]interface{}, error) {
	const op = "StaticKeySet.VerifySignature"
	parsedJWT, err := jwt.ParseSigned(token)
	if err != nil {
		return nil, fmt.Errorf("%s: %s: %w", op, err.Error(), ErrMalformedToken)
	}

	allClaims := map[string]interface{}{}
	for _, key := range ks.publicKeys {
		if err := parsedJWT.Claims(key, &allClaims); err == nil {
			return allClaims, nil
		}
	}
	return nil, fmt.Errorf("%s: no known key successfully validated the token signature: %w", op, ErrInvalidSignature)
}

// ParsePublicKeyPEM is used to parse RSA, ECDSA and Ed25519 public keys from PEMs.
// The data may hold a PKIX public key or an x509 certificate.
func ParsePublicKeyPEM(data []byte) (crypto.PublicKey, error) {
	const op = "jwt.ParsePublicKeyPEM"
	block, _ := pem.Decode(data)
	if block != nil {
		var rawKey interface{}
		var err error
		if rawKey, err = x509.ParsePKIXPublicKey(block.Bytes); err != nil {
			if cert, err := x509.ParseCertificate(block.Bytes); err == nil {
				rawKey = cert.PublicKey
			} else {
				return nil, fmt.Errorf("%s: %s: %w", op, err.Error(), ErrInvalidParameter)
			}
		}

		switch k := rawKey.(type) {
		case *rsa.PublicKey:
			return k, nil
		case *ecdsa.PublicKey:
			return k, nil
		case ed25519.PublicKey:
			return k, nil
		}
	}

	return nil, fmt.Errorf("%s: data does not contain any valid public keys: %w", op, ErrInvalidParameter)
}

// unmarshalResp unmarshals a verified payload into a set of all received claims.
func unmarshalResp(payload []byte) (map[string]interface{}, error) {
	const op = "jwt.unmarshalResp"
	allClaims := map[string]interface{}{}
	if err := json.Unmarshal(payload, &allClaims); err != nil {
		return nil, fmt.Errorf("%s: %s: %w", op, err.Error(), ErrMalformedToken)
	}
	return allClaims, nil
}

// createCAContext returns a context carrying an HTTP client that's configured with the root
// certificates from caPEM. If no certificates are configured, the original context is returned.
func createCAContext(ctx context.Context, caPEM string) (context.Context, error) {
	if caPEM == "" {
		return ctx, nil
	}
	client, err := sdkhttp.NewClient(caPEM)
	if err != nil {
		return nil, err
	}
	return oidc.ClientContext(ctx, client), nil
}
