/*
Copyright Verax Labs. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package issuer

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	gjose "github.com/go-jose/go-jose/v3"
	"github.com/go-jose/go-jose/v3/jwt"
	"github.com/stretchr/testify/require"

	afgjwt "github.com/verax-labs/sdtoken/doc/jwt"
	"github.com/verax-labs/sdtoken/doc/sdjwt/common"
)

const testIssuer = "https://issuer.example.com"

func TestNew(t *testing.T) {
	_, privateKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	signer := afgjwt.NewEd25519Signer(privateKey)

	claims := map[string]interface{}{
		"given_name": "John",
		"email":      "john@example.com",
	}

	t.Run("all claims selectively disclosable", func(t *testing.T) {
		token, err := New(testIssuer, claims, nil, signer)
		require.NoError(t, err)
		require.Len(t, token.Disclosures, 2)

		var payload map[string]interface{}
		require.NoError(t, token.DecodeClaims(&payload))

		require.Equal(t, testIssuer, payload["iss"])
		require.Equal(t, "sha-256", payload[common.SDAlgorithmKey])
		require.NotContains(t, payload, "given_name")
		require.NotContains(t, payload, "email")

		digests := payload[common.SDKey].([]interface{})
		require.Len(t, digests, 2)

		for _, disclosure := range token.Disclosures {
			digest, err := common.GetHash(crypto.SHA256, disclosure)
			require.NoError(t, err)
			require.Contains(t, digests, digest)
		}
	})

	t.Run("expansion round trip", func(t *testing.T) {
		token, err := New(testIssuer, claims, nil, signer)
		require.NoError(t, err)

		expanded, err := common.ExpandDisclosures(token.SignedJWT.Payload, token.Disclosures)
		require.NoError(t, err)
		require.Equal(t, "John", expanded["given_name"])
		require.Equal(t, "john@example.com", expanded["email"])
		require.NotContains(t, expanded, common.SDKey)
		require.NotContains(t, expanded, common.SDAlgorithmKey)
	})

	t.Run("registered claims stay clear", func(t *testing.T) {
		now := time.Now()

		token, err := New(testIssuer, claims, nil, signer,
			WithSubject("subject"),
			WithAudience("audience"),
			WithJTI("jti-1"),
			WithID("id-1"),
			WithIssuedAt(jwt.NewNumericDate(now)),
			WithNotBefore(jwt.NewNumericDate(now)),
			WithExpiry(jwt.NewNumericDate(now.Add(time.Hour))))
		require.NoError(t, err)

		var payload map[string]interface{}
		require.NoError(t, token.DecodeClaims(&payload))

		require.Equal(t, "subject", payload["sub"])
		require.Equal(t, "audience", payload["aud"])
		require.Equal(t, "jti-1", payload["jti"])
		require.Equal(t, "id-1", payload["id"])
		require.Contains(t, payload, "iat")
		require.Contains(t, payload, "nbf")
		require.Contains(t, payload, "exp")
	})

	t.Run("non-selectively disclosable claims kept in clear", func(t *testing.T) {
		token, err := New(testIssuer, claims, nil, signer,
			WithNonSelectivelyDisclosableClaims([]string{"email"}))
		require.NoError(t, err)
		require.Len(t, token.Disclosures, 1)

		var payload map[string]interface{}
		require.NoError(t, token.DecodeClaims(&payload))
		require.Equal(t, "john@example.com", payload["email"])
		require.NotContains(t, payload, "given_name")
	})

	t.Run("structured claims get nested _sd", func(t *testing.T) {
		structured := map[string]interface{}{
			"address": map[string]interface{}{
				"street_address": "123 Main St",
				"country":        "US",
			},
		}

		token, err := New(testIssuer, structured, nil, signer, WithStructuredClaims(true))
		require.NoError(t, err)
		require.Len(t, token.Disclosures, 2)

		var payload map[string]interface{}
		require.NoError(t, token.DecodeClaims(&payload))

		address := payload["address"].(map[string]interface{})
		require.Contains(t, address, common.SDKey)
		require.NotContains(t, address, "street_address")

		expanded, err := common.ExpandDisclosures(token.SignedJWT.Payload, token.Disclosures)
		require.NoError(t, err)
		require.Equal(t, "US", expanded["address"].(map[string]interface{})["country"])
	})

	t.Run("array claims disclosed per element", func(t *testing.T) {
		arrayClaims := map[string]interface{}{
			"nationalities": []interface{}{"FR", "DE"},
		}

		token, err := New(testIssuer, arrayClaims, nil, signer)
		require.NoError(t, err)
		require.Len(t, token.Disclosures, 2)

		var payload map[string]interface{}
		require.NoError(t, token.DecodeClaims(&payload))

		wrappers := payload["nationalities"].([]interface{})
		require.Len(t, wrappers, 2)

		for _, w := range wrappers {
			wrapper := w.(map[string]interface{})
			require.Len(t, wrapper, 1)
			require.Contains(t, wrapper, common.ArrayElementDigestKey)
		}

		expanded, err := common.ExpandDisclosures(token.SignedJWT.Payload, token.Disclosures)
		require.NoError(t, err)
		require.Equal(t, []interface{}{"FR", "DE"}, expanded["nationalities"])
	})

	t.Run("decoy digests added", func(t *testing.T) {
		token, err := New(testIssuer, claims, nil, signer, WithDecoyDigests(true))
		require.NoError(t, err)
		require.Len(t, token.Disclosures, 2)

		var payload map[string]interface{}
		require.NoError(t, token.DecodeClaims(&payload))

		digests := payload[common.SDKey].([]interface{})
		require.GreaterOrEqual(t, len(digests), 2+decoyMinElements)
		require.LessOrEqual(t, len(digests), 2+decoyMaxElements)

		// decoys must not break expansion
		_, err = common.ExpandDisclosures(token.SignedJWT.Payload, token.Disclosures)
		require.NoError(t, err)
	})

	t.Run("holder public key embedded under cnf", func(t *testing.T) {
		holderPublic, _, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)

		token, err := New(testIssuer, claims, nil, signer,
			WithHolderPublicKey(&gjose.JSONWebKey{Key: holderPublic}))
		require.NoError(t, err)

		var payload map[string]interface{}
		require.NoError(t, token.DecodeClaims(&payload))

		cnf, err := common.GetCNF(payload)
		require.NoError(t, err)
		require.Contains(t, cnf, "jwk")
	})

	t.Run("sha-512 disclosure hashing", func(t *testing.T) {
		token, err := New(testIssuer, claims, nil, signer, WithHashAlgorithm(crypto.SHA512))
		require.NoError(t, err)

		var payload map[string]interface{}
		require.NoError(t, token.DecodeClaims(&payload))
		require.Equal(t, "sha-512", payload[common.SDAlgorithmKey])

		expanded, err := common.ExpandDisclosures(token.SignedJWT.Payload, token.Disclosures)
		require.NoError(t, err)
		require.Equal(t, "John", expanded["given_name"])
	})

	t.Run("spaced render mode round trips", func(t *testing.T) {
		token, err := New(testIssuer, claims, nil, signer, WithRenderMode(common.RenderSpaced))
		require.NoError(t, err)

		expanded, err := common.ExpandDisclosures(token.SignedJWT.Payload, token.Disclosures)
		require.NoError(t, err)
		require.Equal(t, "John", expanded["given_name"])
	})

	t.Run("reserved payload keys rejected in claims", func(t *testing.T) {
		_, err := New(testIssuer, map[string]interface{}{
			common.SDKey: []interface{}{"digest"},
		}, nil, signer)
		require.Error(t, err)
		require.Contains(t, err.Error(), "cannot be present in the claims")

		_, err = New(testIssuer, map[string]interface{}{
			"nested": map[string]interface{}{common.SDAlgorithmKey: "sha-256"},
		}, nil, signer)
		require.Error(t, err)
		require.Contains(t, err.Error(), "cannot be present in the claims")
	})

	t.Run("custom salt function failures surface", func(t *testing.T) {
		_, err := New(testIssuer, claims, nil, signer,
			WithSaltFnc(func() (string, error) {
				return "", errSaltExhausted
			}))
		require.ErrorIs(t, err, errSaltExhausted)
	})
}

func TestSelectiveDisclosureJWT_Serialize(t *testing.T) {
	_, privateKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	token, err := New(testIssuer, map[string]interface{}{"given_name": "John"}, nil,
		afgjwt.NewEd25519Signer(privateKey))
	require.NoError(t, err)

	serialized, err := token.Serialize(false)
	require.NoError(t, err)

	parsed := common.ParseCombinedFormatForIssuance(serialized)
	require.Equal(t, token.Disclosures, parsed.Disclosures)
	require.True(t, afgjwt.IsJWS(parsed.SDJWT))

	t.Run("nil signed token", func(t *testing.T) {
		sdJWT := &SelectiveDisclosureJWT{}

		_, err := sdJWT.Serialize(false)
		require.Error(t, err)
	})
}

func TestGenerateSalt(t *testing.T) {
	salt1, err := generateSalt()
	require.NoError(t, err)
	require.Len(t, salt1, 22) // 16 random bytes, base64url

	salt2, err := generateSalt()
	require.NoError(t, err)
	require.NotEqual(t, salt1, salt2)
}

var errSaltExhausted = errorString("salt source exhausted")

type errorString string

func (e errorString) Error() string { return string(e) }
