/*
Copyright Verax Labs. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"testing"

	"github.com/go-jose/go-jose/v3/json"
	"github.com/stretchr/testify/require"

	"github.com/verax-labs/sdtoken/doc/jose"
)

type testClaims struct {
	Issuer  string `json:"iss"`
	Subject string `json:"sub"`
}

func TestNewSigned(t *testing.T) {
	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	claims := &testClaims{Issuer: "https://issuer.example.com", Subject: "user-42"}

	token, err := NewSigned(claims, jose.Headers{"typ": TypeJWT}, NewEd25519Signer(privateKey))
	require.NoError(t, err)

	serialized, err := token.Serialize(false)
	require.NoError(t, err)
	require.True(t, IsJWS(serialized))

	t.Run("parse with verification", func(t *testing.T) {
		verifier, err := NewEd25519Verifier(publicKey)
		require.NoError(t, err)

		parsed, payload, err := Parse(serialized, WithSignatureVerifier(verifier))
		require.NoError(t, err)
		require.NotEmpty(t, payload)
		require.Equal(t, "https://issuer.example.com", parsed.Payload["iss"])

		var decoded testClaims
		require.NoError(t, parsed.DecodeClaims(&decoded))
		require.Equal(t, *claims, decoded)
	})

	t.Run("parse with wrong key fails", func(t *testing.T) {
		otherPublic, _, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)

		verifier, err := NewEd25519Verifier(otherPublic)
		require.NoError(t, err)

		_, _, err = Parse(serialized, WithSignatureVerifier(verifier))
		require.Error(t, err)
		require.Contains(t, err.Error(), "signature doesn't match")
	})

	t.Run("ignore claims map decoding", func(t *testing.T) {
		parsed, payload, err := Parse(serialized, WithIgnoreClaimsMapDecoding(true))
		require.NoError(t, err)
		require.Nil(t, parsed.Payload)
		require.NotEmpty(t, payload)
	})
}

func TestNewSignedRS256(t *testing.T) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	token, err := NewSigned(&testClaims{Issuer: "iss"}, nil, NewRS256Signer(privateKey, nil))
	require.NoError(t, err)

	serialized, err := token.Serialize(false)
	require.NoError(t, err)

	_, _, err = Parse(serialized, WithSignatureVerifier(NewRS256Verifier(&privateKey.PublicKey)))
	require.NoError(t, err)
}

func TestNewUnsecured(t *testing.T) {
	token, err := NewUnsecured(&testClaims{Issuer: "iss"}, nil)
	require.NoError(t, err)

	serialized, err := token.Serialize(false)
	require.NoError(t, err)
	require.True(t, IsJWTUnsecured(serialized))
	require.False(t, IsJWS(serialized))

	parsed, _, err := Parse(serialized, WithSignatureVerifier(UnsecuredJWTVerifier()))
	require.NoError(t, err)
	require.Equal(t, "iss", parsed.Payload["iss"])
}

func TestParse_HeaderChecks(t *testing.T) {
	_, privateKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	signer := NewEd25519Signer(privateKey)

	t.Run("not compact JWS", func(t *testing.T) {
		_, _, err := Parse("not-a-token")
		require.Error(t, err)
		require.Contains(t, err.Error(), "JWT of compacted JWS form is supported only")
	})

	t.Run("explicit sd-jwt typ accepted", func(t *testing.T) {
		token, err := NewSigned(&testClaims{}, jose.Headers{"typ": "example+sd-jwt"}, signer)
		require.NoError(t, err)

		serialized, err := token.Serialize(false)
		require.NoError(t, err)

		_, _, err = Parse(serialized)
		require.NoError(t, err)
	})

	t.Run("invalid typ rejected", func(t *testing.T) {
		token, err := NewSigned(&testClaims{}, jose.Headers{"typ": "example+other"}, signer)
		require.NoError(t, err)

		serialized, err := token.Serialize(false)
		require.NoError(t, err)

		_, _, err = Parse(serialized)
		require.Error(t, err)
		require.Contains(t, err.Error(), "invalid typ header")
	})

	t.Run("nested JWT rejected", func(t *testing.T) {
		token, err := NewSigned(&testClaims{}, jose.Headers{"cty": TypeJWT}, signer)
		require.NoError(t, err)

		serialized, err := token.Serialize(false)
		require.NoError(t, err)

		_, _, err = Parse(serialized)
		require.Error(t, err)
		require.Contains(t, err.Error(), "nested JWT is not supported")
	})
}

func TestPayloadToMap(t *testing.T) {
	t.Run("map passes through", func(t *testing.T) {
		m := map[string]interface{}{"k": "v"}

		out, err := PayloadToMap(m)
		require.NoError(t, err)
		require.Equal(t, m, out)
	})

	t.Run("typed map goes through the marshal path", func(t *testing.T) {
		out, err := PayloadToMap(map[string]string{"iss": "https://issuer.example.com"})
		require.NoError(t, err)
		require.Equal(t, "https://issuer.example.com", out["iss"])
	})

	t.Run("numbers preserved via json.Number", func(t *testing.T) {
		out, err := PayloadToMap([]byte(`{"iat":1672531200}`))
		require.NoError(t, err)
		require.Equal(t, json.Number("1672531200"), out["iat"])
	})

	t.Run("invalid input", func(t *testing.T) {
		_, err := PayloadToMap([]byte(`not json`))
		require.Error(t, err)
	})
}
