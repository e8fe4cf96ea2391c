/*
Copyright Verax Labs. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package common

import (
	"crypto"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	saltPosition             = 0
	arrayDigestValuePosition = 1
	sdDigestNamePosition     = 1
	sdDigestValuePosition    = 2

	disclosureElementsAmountForArrayDigest = 2
	disclosureElementsAmountForSDDigest    = 3
)

// RenderMode selects how a disclosure body is rendered before encoding. The digest is
// computed over the exact transport string, so the mode is fixed at encode time.
type RenderMode int

const (
	// RenderCompact renders the disclosure array with json.Marshal.
	RenderCompact RenderMode = iota

	// RenderSpaced marshals each array element independently and joins them with
	// ", ", matching the rendering used by published interop vectors.
	RenderSpaced
)

// DisclosureClaimType disclosure claim type.
type DisclosureClaimType int

const (
	// DisclosureClaimTypeUnknown default type for disclosure claim.
	DisclosureClaimTypeUnknown = DisclosureClaimType(iota)
	// DisclosureClaimTypeArrayElement disclosure claim for an array element.
	DisclosureClaimTypeArrayElement
	// DisclosureClaimTypePlainText disclosure claim with a scalar value.
	DisclosureClaimTypePlainText
	// DisclosureClaimTypeObject disclosure claim with an object value.
	DisclosureClaimTypeObject
)

// DisclosureClaim defines a parsed disclosure.
type DisclosureClaim struct {
	Digest        string
	Disclosure    string
	Salt          string
	Name          string
	Value         interface{}
	Type          DisclosureClaimType
	Elements      int
	IsValueParsed bool
}

// NewDisclosure encodes an object property disclosure [salt, name, value] in the given
// render mode and returns the base64url transport string.
func NewDisclosure(salt, name string, value interface{}, mode RenderMode) (string, error) {
	return renderDisclosure([]interface{}{salt, name, value}, mode)
}

// NewArrayElementDisclosure encodes an array element disclosure [salt, value] in the
// given render mode and returns the base64url transport string.
func NewArrayElementDisclosure(salt string, value interface{}, mode RenderMode) (string, error) {
	return renderDisclosure([]interface{}{salt, value}, mode)
}

func renderDisclosure(elements []interface{}, mode RenderMode) (string, error) {
	var body []byte

	switch mode {
	case RenderSpaced:
		rendered := make([]string, len(elements))

		for i, element := range elements {
			elementBytes, err := json.Marshal(element)
			if err != nil {
				return "", fmt.Errorf("marshal disclosure element: %w", err)
			}

			rendered[i] = string(elementBytes)
		}

		body = []byte("[" + strings.Join(rendered, ", ") + "]")
	default:
		var err error

		body, err = json.Marshal(elements)
		if err != nil {
			return "", fmt.Errorf("marshal disclosure: %w", err)
		}
	}

	return base64.RawURLEncoding.EncodeToString(body), nil
}

// ParseDisclosure decodes a disclosure transport string and computes its digest with
// the given hash. The body must be a JSON array of exactly two (array element) or
// three (object property) elements.
func ParseDisclosure(disclosure string, hash crypto.Hash) (*DisclosureClaim, error) {
	decoded, err := base64.RawURLEncoding.DecodeString(disclosure)
	if err != nil {
		return nil, fmt.Errorf("decode disclosure: %w: %w", err, ErrMalformedInput)
	}

	var disclosureArr []interface{}

	err = json.Unmarshal(decoded, &disclosureArr)
	if err != nil {
		return nil, fmt.Errorf("unmarshal disclosure array: %w: %w", err, ErrMalformedInput)
	}

	if len(disclosureArr) != disclosureElementsAmountForArrayDigest &&
		len(disclosureArr) != disclosureElementsAmountForSDDigest {
		return nil, fmt.Errorf("disclosure array must have two or three elements, got %d: %w",
			len(disclosureArr), ErrMalformedInput)
	}

	salt, ok := disclosureArr[saltPosition].(string)
	if !ok {
		return nil, fmt.Errorf("disclosure salt type[%T] must be string: %w",
			disclosureArr[saltPosition], ErrMalformedInput)
	}

	digest, err := GetHash(hash, disclosure)
	if err != nil {
		return nil, fmt.Errorf("get disclosure hash: %w", err)
	}

	claim := &DisclosureClaim{
		Digest:     digest,
		Disclosure: disclosure,
		Salt:       salt,
		Elements:   len(disclosureArr),
	}

	if len(disclosureArr) == disclosureElementsAmountForArrayDigest {
		claim.Value = disclosureArr[arrayDigestValuePosition]
		claim.Type = DisclosureClaimTypeArrayElement

		return claim, nil
	}

	name, ok := disclosureArr[sdDigestNamePosition].(string)
	if !ok {
		return nil, fmt.Errorf("disclosure name type[%T] must be string: %w",
			disclosureArr[sdDigestNamePosition], ErrMalformedInput)
	}

	claim.Name = name
	claim.Value = disclosureArr[sdDigestValuePosition]

	if _, isMap := getMap(claim.Value); isMap {
		claim.Type = DisclosureClaimTypeObject
	} else {
		claim.Type = DisclosureClaimTypePlainText
	}

	return claim, nil
}

// GetDisclosureClaims decodes disclosures using the digest function named by the token
// claims.
func GetDisclosureClaims(disclosures []string, hash crypto.Hash) ([]*DisclosureClaim, error) {
	claims := make([]*DisclosureClaim, 0, len(disclosures))

	for _, disclosure := range disclosures {
		claim, err := ParseDisclosure(disclosure, hash)
		if err != nil {
			return nil, err
		}

		claims = append(claims, claim)
	}

	return claims, nil
}

// BuildDigestIndex parses disclosures into a digest-keyed index. A later disclosure
// with the same digest overwrites the earlier entry; expansion separately rejects one
// digest referenced from two payload positions.
func BuildDigestIndex(disclosures []string, hash crypto.Hash) (map[string]*DisclosureClaim, error) {
	index := make(map[string]*DisclosureClaim, len(disclosures))

	for _, disclosure := range disclosures {
		claim, err := ParseDisclosure(disclosure, hash)
		if err != nil {
			return nil, err
		}

		index[claim.Digest] = claim
	}

	return index, nil
}
