/*
Copyright Verax Labs. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package common

import (
	"crypto"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	// Published interop vector for ["2GLC42sKQveCfGfryNRN9w", "given_name", "John"].
	vectorSalt         = "2GLC42sKQveCfGfryNRN9w"
	vectorCompact      = "WyIyR0xDNDJzS1F2ZUNmR2ZyeU5STjl3IiwiZ2l2ZW5fbmFtZSIsIkpvaG4iXQ"
	vectorSpaced       = "WyIyR0xDNDJzS1F2ZUNmR2ZyeU5STjl3IiwgImdpdmVuX25hbWUiLCAiSm9obiJd"
	vectorSpacedSHA256 = "jsu9yVulwQQlhFlM_3JlzMaSFzglhQG0DpfayQwLUK4"
)

func TestNewDisclosure(t *testing.T) {
	t.Run("compact rendering matches vector", func(t *testing.T) {
		disclosure, err := NewDisclosure(vectorSalt, "given_name", "John", RenderCompact)
		require.NoError(t, err)
		require.Equal(t, vectorCompact, disclosure)
	})

	t.Run("spaced rendering matches vector", func(t *testing.T) {
		disclosure, err := NewDisclosure(vectorSalt, "given_name", "John", RenderSpaced)
		require.NoError(t, err)
		require.Equal(t, vectorSpaced, disclosure)

		digest, err := GetHash(crypto.SHA256, disclosure)
		require.NoError(t, err)
		require.Equal(t, vectorSpacedSHA256, digest)
	})

	t.Run("render mode changes digest", func(t *testing.T) {
		compact, err := NewDisclosure(vectorSalt, "given_name", "John", RenderCompact)
		require.NoError(t, err)

		spaced, err := NewDisclosure(vectorSalt, "given_name", "John", RenderSpaced)
		require.NoError(t, err)

		compactDigest, err := GetHash(crypto.SHA256, compact)
		require.NoError(t, err)
		spacedDigest, err := GetHash(crypto.SHA256, spaced)
		require.NoError(t, err)

		require.NotEqual(t, compactDigest, spacedDigest)
	})

	t.Run("array element disclosure has two elements", func(t *testing.T) {
		disclosure, err := NewArrayElementDisclosure("salt123", "FR", RenderCompact)
		require.NoError(t, err)

		claim, err := ParseDisclosure(disclosure, crypto.SHA256)
		require.NoError(t, err)
		require.Equal(t, 2, claim.Elements)
		require.Equal(t, DisclosureClaimTypeArrayElement, claim.Type)
		require.Equal(t, "FR", claim.Value)
		require.Empty(t, claim.Name)
	})
}

func TestParseDisclosure(t *testing.T) {
	t.Run("object property round trip", func(t *testing.T) {
		disclosure, err := NewDisclosure("salt", "email", "a@b.c", RenderCompact)
		require.NoError(t, err)

		claim, err := ParseDisclosure(disclosure, crypto.SHA256)
		require.NoError(t, err)
		require.Equal(t, "salt", claim.Salt)
		require.Equal(t, "email", claim.Name)
		require.Equal(t, "a@b.c", claim.Value)
		require.Equal(t, DisclosureClaimTypePlainText, claim.Type)
		require.Equal(t, disclosure, claim.Disclosure)

		expectedDigest, err := GetHash(crypto.SHA256, disclosure)
		require.NoError(t, err)
		require.Equal(t, expectedDigest, claim.Digest)
	})

	t.Run("object value is typed as object", func(t *testing.T) {
		disclosure, err := NewDisclosure("salt", "address",
			map[string]interface{}{"street": "Main"}, RenderCompact)
		require.NoError(t, err)

		claim, err := ParseDisclosure(disclosure, crypto.SHA256)
		require.NoError(t, err)
		require.Equal(t, DisclosureClaimTypeObject, claim.Type)
	})

	t.Run("invalid base64", func(t *testing.T) {
		_, err := ParseDisclosure("!!!not-base64!!!", crypto.SHA256)
		require.ErrorIs(t, err, ErrMalformedInput)
	})

	t.Run("body is not a JSON array", func(t *testing.T) {
		encoded := base64.RawURLEncoding.EncodeToString([]byte(`{"salt":"x"}`))

		_, err := ParseDisclosure(encoded, crypto.SHA256)
		require.ErrorIs(t, err, ErrMalformedInput)
	})

	t.Run("one element rejected", func(t *testing.T) {
		encoded := base64.RawURLEncoding.EncodeToString([]byte(`["salt-only"]`))

		_, err := ParseDisclosure(encoded, crypto.SHA256)
		require.ErrorIs(t, err, ErrMalformedInput)
	})

	t.Run("four elements rejected", func(t *testing.T) {
		encoded := base64.RawURLEncoding.EncodeToString([]byte(`["s","n","v","extra"]`))

		_, err := ParseDisclosure(encoded, crypto.SHA256)
		require.ErrorIs(t, err, ErrMalformedInput)
	})

	t.Run("non-string salt rejected", func(t *testing.T) {
		encoded := base64.RawURLEncoding.EncodeToString([]byte(`[1,"name","value"]`))

		_, err := ParseDisclosure(encoded, crypto.SHA256)
		require.ErrorIs(t, err, ErrMalformedInput)
	})

	t.Run("non-string name rejected", func(t *testing.T) {
		encoded := base64.RawURLEncoding.EncodeToString([]byte(`["salt",2,"value"]`))

		_, err := ParseDisclosure(encoded, crypto.SHA256)
		require.ErrorIs(t, err, ErrMalformedInput)
	})
}

func TestBuildDigestIndex(t *testing.T) {
	d1, err := NewDisclosure("salt1", "a", "v1", RenderCompact)
	require.NoError(t, err)

	d2, err := NewDisclosure("salt2", "b", "v2", RenderCompact)
	require.NoError(t, err)

	t.Run("index keyed by digest", func(t *testing.T) {
		index, err := BuildDigestIndex([]string{d1, d2}, crypto.SHA256)
		require.NoError(t, err)
		require.Len(t, index, 2)

		digest, err := GetHash(crypto.SHA256, d1)
		require.NoError(t, err)
		require.Equal(t, "a", index[digest].Name)
	})

	t.Run("duplicate transport string collapses to one entry", func(t *testing.T) {
		index, err := BuildDigestIndex([]string{d1, d1}, crypto.SHA256)
		require.NoError(t, err)
		require.Len(t, index, 1)
	})

	t.Run("malformed entry fails the build", func(t *testing.T) {
		_, err := BuildDigestIndex([]string{d1, "???"}, crypto.SHA256)
		require.ErrorIs(t, err, ErrMalformedInput)
	})
}
