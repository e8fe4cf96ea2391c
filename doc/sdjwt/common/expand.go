/*
Copyright Verax Labs. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package common

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/exp/slices"

	"github.com/go-jose/go-jose/v3/jwt"
	"github.com/mitchellh/mapstructure"

	"github.com/verax-labs/sdtoken/doc/jose"
	afgjwt "github.com/verax-labs/sdtoken/doc/jwt"
	utils "github.com/verax-labs/sdtoken/util/maphelpers"
)

// DefaultMaxNestingDepth bounds recursive disclosure resolution.
const DefaultMaxNestingDepth = 32

// Validity claims must stay in the signed payload; a disclosure carrying one of them
// is an attack on time-based validation.
var reservedClaimNames = map[string]bool{
	"iat": true,
	"nbf": true,
	"exp": true,
}

type expandOpts struct {
	maxNestingDepth int
}

// ExpandOpt is an option for disclosure expansion.
type ExpandOpt func(opts *expandOpts)

// WithMaxNestingDepth overrides the maximum nesting depth for disclosure resolution.
func WithMaxNestingDepth(depth int) ExpandOpt {
	return func(opts *expandOpts) {
		opts.maxNestingDepth = depth
	}
}

type recursiveData struct {
	disclosures          map[string]*DisclosureClaim
	nestedSD             []string
	cleanupDigestsClaims bool
	maxDepth             int
}

// ExpandDisclosures resolves the given disclosures against the token claims and
// returns the expanded claim set. The input map is never mutated. Digests without a
// matching disclosure are dropped; the output carries no _sd or _sd_alg keys.
func ExpandDisclosures(claims map[string]interface{}, disclosures []string,
	opts ...ExpandOpt) (map[string]interface{}, error) {
	eOpts := &expandOpts{maxNestingDepth: DefaultMaxNestingDepth}

	for _, opt := range opts {
		opt(eOpts)
	}

	cryptoHash, err := GetCryptoHashFromClaims(claims)
	if err != nil {
		return nil, err
	}

	index, err := BuildDigestIndex(disclosures, cryptoHash)
	if err != nil {
		return nil, err
	}

	recData := &recursiveData{
		disclosures:          index,
		cleanupDigestsClaims: true,
		maxDepth:             eOpts.maxNestingDepth,
	}

	expanded, err := discloseClaimValue(utils.CopyMap(claims), recData, 0)
	if err != nil {
		return nil, err
	}

	expandedMap, ok := expanded.(map[string]interface{})
	if !ok {
		return map[string]interface{}{}, nil
	}

	return expandedMap, nil
}

// VerifyDisclosuresInToken checks that every disclosure is referenced by a digest in
// the signed token payload, directly or through another disclosure.
func VerifyDisclosuresInToken(disclosures []string, signedJWT *afgjwt.JSONWebToken,
	opts ...ExpandOpt) error {
	eOpts := &expandOpts{maxNestingDepth: DefaultMaxNestingDepth}

	for _, opt := range opts {
		opt(eOpts)
	}

	claims := utils.CopyMap(signedJWT.Payload)

	cryptoHash, err := GetCryptoHashFromClaims(claims)
	if err != nil {
		return err
	}

	index, err := BuildDigestIndex(disclosures, cryptoHash)
	if err != nil {
		return err
	}

	recData := &recursiveData{
		disclosures:          index,
		cleanupDigestsClaims: false,
		maxDepth:             eOpts.maxNestingDepth,
	}

	if _, err = discloseClaimValue(claims, recData, 0); err != nil {
		return err
	}

	for _, disclosure := range index {
		if !disclosure.IsValueParsed {
			return fmt.Errorf("disclosure digest '%s' not found in token disclosure digests: %w",
				disclosure.Digest, ErrIntegrityViolation)
		}
	}

	return nil
}

func setDisclosureClaimValue(recData *recursiveData, disclosureClaim *DisclosureClaim, depth int) error {
	if disclosureClaim.IsValueParsed {
		return nil
	}

	// Marking before descending keeps a self-referencing disclosure from recursing.
	disclosureClaim.IsValueParsed = true

	newValue, err := discloseClaimValue(disclosureClaim.Value, recData, depth)
	if err != nil {
		return err
	}

	disclosureClaim.Value = newValue

	return nil
}

// discloseClaimValue returns new value of claim, resolving dependencies on other disclosures.
func discloseClaimValue(claim interface{}, recData *recursiveData, depth int) (interface{}, error) { // nolint:funlen,gocyclo
	if depth > recData.maxDepth {
		return nil, fmt.Errorf("claims nested more than %d levels deep: %w",
			recData.maxDepth, ErrNestingTooDeep)
	}

	switch disclosureValue := claim.(type) {
	case []interface{}:
		var newValues []interface{}

		for _, value := range disclosureValue {
			parsedMap, ok := getMap(value)
			if !ok {
				newValues = append(newValues, value)
				continue
			}

			// Array elements subject to selective disclosure are objects with the
			// single key "..." referring to a digest string.
			arrayElementDigestIface, ok := parsedMap[ArrayElementDigestKey]
			if !ok {
				expanded, err := discloseClaimValue(value, recData, depth+1)
				if err != nil {
					return nil, err
				}

				newValues = append(newValues, expanded)

				continue
			}

			arrayElementDigest, ok := arrayElementDigestIface.(string)
			if !ok {
				return nil, fmt.Errorf("invalid array element digest: %w", ErrMalformedInput)
			}

			if slices.Contains(recData.nestedSD, arrayElementDigest) {
				return nil, fmt.Errorf("digest '%s' has been included in more than one place: %w",
					arrayElementDigest, ErrIntegrityViolation)
			}

			recData.nestedSD = append(recData.nestedSD, arrayElementDigest)

			disclosureClaim, ok := recData.disclosures[arrayElementDigest]
			if !ok {
				if recData.cleanupDigestsClaims {
					// Withheld element: dropped without trace.
					continue
				}

				newValues = append(newValues, value)

				continue
			}

			if disclosureClaim.Elements != disclosureElementsAmountForArrayDigest {
				return nil, fmt.Errorf("invalid disclosure associated with array element digest %s: %w",
					arrayElementDigest, ErrIntegrityViolation)
			}

			if err := setDisclosureClaimValue(recData, disclosureClaim, depth+1); err != nil {
				return nil, err
			}

			newValues = append(newValues, disclosureClaim.Value)
		}

		// An array whose elements were all withheld collapses to nil and the
		// enclosing claim key is dropped with it.
		if len(newValues) == 0 {
			return nil, nil
		}

		return newValues, nil
	case map[string]interface{}:
		newValues := make(map[string]interface{}, len(disclosureValue))

		if nestedSDListIface, ok := disclosureValue[SDKey]; ok { // nolint:nestif
			nestedSDList, err := stringArray(nestedSDListIface)
			if err != nil {
				return nil, fmt.Errorf("get disclosure digests: %w", err)
			}

			var missingSDs []interface{}

			for _, digest := range nestedSDList {
				if slices.Contains(recData.nestedSD, digest) {
					return nil, fmt.Errorf("digest '%s' has been included in more than one place: %w",
						digest, ErrIntegrityViolation)
				}

				recData.nestedSD = append(recData.nestedSD, digest)

				disclosureClaim, ok := recData.disclosures[digest]
				if !ok {
					missingSDs = append(missingSDs, digest)
					continue
				}

				if disclosureClaim.Elements != disclosureElementsAmountForSDDigest {
					return nil, fmt.Errorf("invalid disclosure associated with sd element digest %s: %w",
						digest, ErrIntegrityViolation)
				}

				if reservedClaimNames[disclosureClaim.Name] {
					return nil, fmt.Errorf("disclosure carries reserved claim name '%s': %w",
						disclosureClaim.Name, ErrIntegrityViolation)
				}

				if err = setDisclosureClaimValue(recData, disclosureClaim, depth+1); err != nil {
					return nil, err
				}

				if _, ok = newValues[disclosureClaim.Name]; ok {
					return nil, fmt.Errorf("claim name '%s' already exists at the same level: %w",
						disclosureClaim.Name, ErrIntegrityViolation)
				}

				newValues[disclosureClaim.Name] = disclosureClaim.Value
			}

			if !recData.cleanupDigestsClaims && len(missingSDs) > 0 {
				newValues[SDKey] = missingSDs
			}
		}

		for k, disclosureNestedClaim := range disclosureValue {
			if k == SDKey {
				continue
			}

			if k == SDAlgorithmKey && recData.cleanupDigestsClaims {
				continue
			}

			newValue, err := discloseClaimValue(disclosureNestedClaim, recData, depth+1)
			if err != nil {
				return nil, err
			}

			if _, ok := newValues[k]; ok {
				return nil, fmt.Errorf("claim name '%s' already exists at the same level: %w",
					k, ErrIntegrityViolation)
			}

			if newValue != nil {
				newValues[k] = newValue
			}
		}

		return newValues, nil
	default:
		return claim, nil
	}
}

// VerifySigningAlg ensures that a signing algorithm was used that was deemed secure for the application.
// The none algorithm MUST NOT be accepted.
func VerifySigningAlg(joseHeaders jose.Headers, secureAlgs []string) error {
	alg, ok := joseHeaders.Algorithm()
	if !ok {
		return errors.New("missing alg")
	}

	if alg == afgjwt.AlgorithmNone {
		return errors.New("alg value cannot be 'none'")
	}

	if !slices.Contains(secureAlgs, alg) {
		return fmt.Errorf("alg '%s' is not in the allowed list", alg)
	}

	return nil
}

// VerifyJWT checks that the JWT is valid using nbf, iat, and exp claims (if provided in the JWT).
func VerifyJWT(signedJWT *afgjwt.JSONWebToken, leeway time.Duration) error {
	var claims jwt.Claims

	d, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &claims,
		TagName:          "json",
		Squash:           true,
		WeaklyTypedInput: true,
		DecodeHook:       utils.JSONNumberToJwtNumericDate(),
	})
	if err != nil {
		return fmt.Errorf("mapstruct verifyJWT. error: %w", err)
	}

	if err = d.Decode(signedJWT.Payload); err != nil {
		return fmt.Errorf("mapstruct verifyJWT decode. error: %w", err)
	}

	// Claims are validated against time.Now when no expected time is provided.
	expected := jwt.Expected{}

	err = claims.ValidateWithLeeway(expected, leeway)
	if err != nil {
		return fmt.Errorf("invalid JWT time values: %w", err)
	}

	return nil
}

// VerifyTyp checks the typ JWT header parameter.
func VerifyTyp(joseHeaders jose.Headers, expectedTyp string) error {
	typ, ok := joseHeaders.Type()
	if !ok {
		return errors.New("missing typ")
	}

	if typ != expectedTyp {
		return fmt.Errorf("unexpected typ \"%s\"", typ)
	}

	return nil
}
