/*
Copyright Verax Labs. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package jose

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeaders_GetKeyID(t *testing.T) {
	kid, ok := Headers{}.KeyID()
	require.False(t, ok)
	require.Empty(t, kid)

	kid, ok = Headers{"kid": "key id"}.KeyID()
	require.True(t, ok)
	require.Equal(t, "key id", kid)

	kid, ok = Headers{"kid": 50}.KeyID()
	require.False(t, ok)
	require.Empty(t, kid)
}

func TestHeaders_GetAlgorithm(t *testing.T) {
	alg, ok := Headers{}.Algorithm()
	require.False(t, ok)
	require.Empty(t, alg)

	alg, ok = Headers{"alg": "EdDSA"}.Algorithm()
	require.True(t, ok)
	require.Equal(t, "EdDSA", alg)
}

func TestNewJWS(t *testing.T) {
	signer := newTestSigner(t)

	t.Run("sign and serialize compact", func(t *testing.T) {
		jws, err := NewJWS(nil, nil, []byte("hello"), signer)
		require.NoError(t, err)

		serialized, err := jws.SerializeCompact(false)
		require.NoError(t, err)
		require.True(t, IsCompactJWS(serialized))

		parsed, err := ParseJWS(serialized, signer.verifier())
		require.NoError(t, err)
		require.Equal(t, []byte("hello"), parsed.Payload)
	})

	t.Run("signer headers merged, protected win", func(t *testing.T) {
		jws, err := NewJWS(Headers{"kid": "explicit"}, nil, []byte("hello"), signer)
		require.NoError(t, err)

		kid, ok := jws.ProtectedHeaders.KeyID()
		require.True(t, ok)
		require.Equal(t, "explicit", kid)
	})

	t.Run("error on signer without alg header", func(t *testing.T) {
		_, err := NewJWS(nil, nil, []byte("hello"), &testSigner{headers: Headers{}})
		require.Error(t, err)
		require.Contains(t, err.Error(), "alg JWS header is not defined")
	})

	t.Run("signer failure", func(t *testing.T) {
		_, err := NewJWS(nil, nil, []byte("hello"),
			&testSigner{headers: Headers{"alg": "EdDSA"}, err: errors.New("boom")})
		require.Error(t, err)
		require.Contains(t, err.Error(), "sign JWS verification data")
	})
}

func TestJSONWebSignature_SerializeCompact(t *testing.T) {
	signer := newTestSigner(t)

	t.Run("detached payload", func(t *testing.T) {
		jws, err := NewJWS(nil, nil, []byte("detached"), signer)
		require.NoError(t, err)

		serialized, err := jws.SerializeCompact(true)
		require.NoError(t, err)

		parts := strings.Split(serialized, ".")
		require.Len(t, parts, 3)
		require.Empty(t, parts[1])

		parsed, err := ParseJWS(serialized, signer.verifier(), WithJWSDetachedPayload([]byte("detached")))
		require.NoError(t, err)
		require.Equal(t, []byte("detached"), parsed.Payload)
	})

	t.Run("b64=false keeps payload unencoded", func(t *testing.T) {
		jws, err := NewJWS(Headers{"b64": false}, nil, []byte("raw-payload"), signer)
		require.NoError(t, err)

		serialized, err := jws.SerializeCompact(false)
		require.NoError(t, err)

		parts := strings.Split(serialized, ".")
		require.Equal(t, "raw-payload", parts[1])
	})
}

func TestJSONWebSignature_Signature(t *testing.T) {
	jws := &JSONWebSignature{signature: []byte("signature")}
	require.Equal(t, []byte("signature"), jws.Signature())

	jws = &JSONWebSignature{}
	require.Nil(t, jws.Signature())
}

func TestParseJWS(t *testing.T) {
	signer := newTestSigner(t)

	jws, err := NewJWS(nil, nil, []byte("payload"), signer)
	require.NoError(t, err)

	serialized, err := jws.SerializeCompact(false)
	require.NoError(t, err)

	t.Run("nil verifier skips verification", func(t *testing.T) {
		parsed, err := ParseJWS(serialized, nil)
		require.NoError(t, err)
		require.Equal(t, []byte("payload"), parsed.Payload)
	})

	t.Run("JSON serialization is not supported", func(t *testing.T) {
		_, err := ParseJWS(`{"payload":"abc"}`, nil)
		require.Error(t, err)
		require.Contains(t, err.Error(), "JWS JSON serialization is not supported")
	})

	t.Run("invalid compact format", func(t *testing.T) {
		_, err := ParseJWS("only.two", nil)
		require.Error(t, err)
		require.Contains(t, err.Error(), "invalid JWS compact format")
	})

	t.Run("invalid base64 header", func(t *testing.T) {
		_, err := ParseJWS("!!!.payload.signature", nil)
		require.Error(t, err)
		require.Contains(t, err.Error(), "decode base64 header")
	})

	t.Run("header without alg", func(t *testing.T) {
		headers := base64.RawURLEncoding.EncodeToString([]byte(`{"kid":"k1"}`))
		_, err := ParseJWS(headers+".cGF5bG9hZA.c2ln", nil)
		require.Error(t, err)
		require.Contains(t, err.Error(), "alg JWS header is not defined")
	})

	t.Run("verification failure surfaces", func(t *testing.T) {
		otherSigner := newTestSigner(t)

		_, err := ParseJWS(serialized, otherSigner.verifier())
		require.Error(t, err)
	})

	t.Run("default signing input verifier rebuilds input from headers", func(t *testing.T) {
		publicKey := signer.privateKey.Public().(ed25519.PublicKey)

		verifier := DefaultSigningInputVerifier(
			func(_ Headers, _, signingInput, signature []byte) error {
				if !ed25519.Verify(publicKey, signingInput, signature) {
					return errors.New("invalid signature")
				}

				return nil
			})

		parsed, err := ParseJWS(serialized, verifier)
		require.NoError(t, err)
		require.Equal(t, []byte("payload"), parsed.Payload)
	})

	t.Run("composite verifier routes by alg", func(t *testing.T) {
		composite := NewCompositeAlgSigVerifier(AlgSignatureVerifier{
			Alg:      "EdDSA",
			Verifier: signer.verifier(),
		})

		_, err := ParseJWS(serialized, composite)
		require.NoError(t, err)
	})

	t.Run("composite verifier with no matching alg", func(t *testing.T) {
		composite := NewCompositeAlgSigVerifier(AlgSignatureVerifier{
			Alg:      "RS256",
			Verifier: signer.verifier(),
		})

		_, err := ParseJWS(serialized, composite)
		require.Error(t, err)
		require.Contains(t, err.Error(), "no verifier found for EdDSA algorithm")
	})
}

func TestIsCompactJWS(t *testing.T) {
	require.True(t, IsCompactJWS("a.b.c"))
	require.False(t, IsCompactJWS("a.b"))
	require.False(t, IsCompactJWS(`{"json":"serialization"}`))
}

type testSigner struct {
	privateKey ed25519.PrivateKey
	headers    Headers
	err        error
}

func newTestSigner(t *testing.T) *testSigner {
	t.Helper()

	_, privateKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	return &testSigner{
		privateKey: privateKey,
		headers:    Headers{"alg": "EdDSA"},
	}
}

func (s *testSigner) Sign(data []byte) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}

	return ed25519.Sign(s.privateKey, data), nil
}

func (s *testSigner) Headers() Headers {
	return s.headers
}

func (s *testSigner) verifier() SignatureVerifier {
	publicKey := s.privateKey.Public().(ed25519.PublicKey)

	return SignatureVerifierFunc(func(_ Headers, _, signingInput, signature []byte) error {
		if !ed25519.Verify(publicKey, signingInput, signature) {
			return errors.New("invalid signature")
		}

		return nil
	})
}
