/*
Copyright Verax Labs. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package common holds the selective-disclosure building blocks shared by the issuer,
// holder and verifier: the disclosure transport codec, the digest index, the combined
// wire formats and the recursive disclosure expander.
package common

import (
	"crypto"
	"encoding/base64"
	"fmt"
	"reflect"
	"strings"
)

// CombinedFormatSeparator is disclosure separator.
const (
	CombinedFormatSeparator = "~"

	SDAlgorithmKey = "_sd_alg"
	SDKey          = "_sd"
	CNFKey         = "cnf"

	// ArrayElementDigestKey is the only key of an object standing in for a selectively
	// disclosable array element.
	ArrayElementDigestKey = "..."
)

// defaultSDAlgorithm is assumed when a token carries no _sd_alg claim.
const defaultSDAlgorithm = "sha-256"

// CombinedFormatForIssuance holds the issuer-signed token and its disclosures.
type CombinedFormatForIssuance struct {
	SDJWT       string
	Disclosures []string
}

// Serialize will assemble combined format for issuance.
func (cf *CombinedFormatForIssuance) Serialize() string {
	issuance := cf.SDJWT
	for _, disclosure := range cf.Disclosures {
		issuance += CombinedFormatSeparator + disclosure
	}

	return issuance
}

// CombinedFormatForPresentation holds the issuer-signed token, the selected disclosures
// and an optional holder verification (key binding) JWT.
type CombinedFormatForPresentation struct {
	SDJWT       string
	Disclosures []string

	HolderVerification string
}

// Serialize will assemble combined format for presentation. The separator before the
// holder verification segment is always emitted, so a presentation without key binding
// ends with a trailing separator.
func (cf *CombinedFormatForPresentation) Serialize() string {
	presentation := cf.SDJWT
	for _, disclosure := range cf.Disclosures {
		presentation += CombinedFormatSeparator + disclosure
	}

	presentation += CombinedFormatSeparator
	presentation += cf.HolderVerification

	return presentation
}

// ParseCombinedFormatForIssuance parses combined format for issuance into CombinedFormatForIssuance parts.
func ParseCombinedFormatForIssuance(combinedFormatForIssuance string) *CombinedFormatForIssuance {
	parts := strings.Split(combinedFormatForIssuance, CombinedFormatSeparator)

	var disclosures []string
	if len(parts) > 1 {
		disclosures = parts[1:]
	}

	return &CombinedFormatForIssuance{SDJWT: parts[0], Disclosures: disclosures}
}

// ParseCombinedFormatForPresentation parses combined format for presentation into
// CombinedFormatForPresentation parts. The last segment is the holder verification JWT;
// it is empty when the presentation carries no key binding.
func ParseCombinedFormatForPresentation(combinedFormatForPresentation string) *CombinedFormatForPresentation {
	parts := strings.Split(combinedFormatForPresentation, CombinedFormatSeparator)

	var disclosures []string
	if len(parts) > 2 {
		disclosures = parts[1 : len(parts)-1]
	}

	var holderVerification string
	if len(parts) > 1 {
		holderVerification = parts[len(parts)-1]
	}

	return &CombinedFormatForPresentation{
		SDJWT:              parts[0],
		Disclosures:        disclosures,
		HolderVerification: holderVerification,
	}
}

// GetHash calculates hash of data using hash function identified by hash.
func GetHash(hash crypto.Hash, value string) (string, error) {
	if !hash.Available() {
		return "", fmt.Errorf("hash function not available for: %d: %w", hash, ErrUnsupportedHash)
	}

	h := hash.New()

	if _, hashErr := h.Write([]byte(value)); hashErr != nil {
		return "", hashErr
	}

	return base64.RawURLEncoding.EncodeToString(h.Sum(nil)), nil
}

// GetCryptoHashFromClaims returns the digest function the token was issued with.
// A token without an _sd_alg claim defaults to sha-256.
func GetCryptoHashFromClaims(claims map[string]interface{}) (crypto.Hash, error) {
	sdAlg, err := GetSDAlg(claims)
	if err != nil {
		return 0, err
	}

	return GetCryptoHash(sdAlg)
}

// GetCryptoHash returns crypto hash from SD algorithm.
func GetCryptoHash(sdAlg string) (crypto.Hash, error) {
	// Weak digests (MD5, SHA-1 and friends) are not registered on purpose.
	switch strings.ToUpper(sdAlg) {
	case crypto.SHA256.String():
		return crypto.SHA256, nil
	case crypto.SHA384.String():
		return crypto.SHA384, nil
	case crypto.SHA512.String():
		return crypto.SHA512, nil
	default:
		return 0, fmt.Errorf("%s '%s' not supported: %w", SDAlgorithmKey, sdAlg, ErrUnsupportedHash)
	}
}

// GetSDAlg returns SD algorithm from claims, defaulting to sha-256 when absent.
func GetSDAlg(claims map[string]interface{}) (string, error) {
	obj, ok := claims[SDAlgorithmKey]
	if !ok {
		return defaultSDAlgorithm, nil
	}

	alg, ok := obj.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string: %w", SDAlgorithmKey, ErrMalformedInput)
	}

	return alg, nil
}

// GetCNF returns confirmation claim 'cnf'.
func GetCNF(claims map[string]interface{}) (map[string]interface{}, error) {
	obj, ok := claims[CNFKey]
	if !ok {
		return nil, fmt.Errorf("%s must be present in token", CNFKey)
	}

	cnf, ok := obj.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%s must be an object: %w", CNFKey, ErrMalformedInput)
	}

	return cnf, nil
}

// GetDisclosureDigests returns digests from the _sd key of a claims map.
func GetDisclosureDigests(claims map[string]interface{}) (map[string]bool, error) {
	disclosuresObj, ok := claims[SDKey]
	if !ok {
		return nil, nil
	}

	disclosures, err := stringArray(disclosuresObj)
	if err != nil {
		return nil, fmt.Errorf("get disclosure digests: %w", err)
	}

	return SliceToMap(disclosures), nil
}

func getMap(value interface{}) (map[string]interface{}, bool) {
	val, ok := value.(map[string]interface{})

	return val, ok
}

func stringArray(entry interface{}) ([]string, error) {
	if entry == nil {
		return nil, nil
	}

	sliceValue := reflect.ValueOf(entry)
	if sliceValue.Kind() != reflect.Slice {
		return nil, fmt.Errorf("entry type[%T] is not an array: %w", entry, ErrMalformedInput)
	}

	stringSlice := make([]string, sliceValue.Len())

	for i := 0; i < sliceValue.Len(); i++ {
		sliceVal := sliceValue.Index(i).Interface()

		val, ok := sliceVal.(string)
		if !ok {
			return nil, fmt.Errorf("entry item type[%T] is not a string: %w", sliceVal, ErrMalformedInput)
		}

		stringSlice[i] = val
	}

	return stringSlice, nil
}

// SliceToMap converts slice to map.
func SliceToMap(ids []string) map[string]bool {
	values := make(map[string]bool)
	for _, id := range ids {
		values[id] = true
	}

	return values
}

// KeyExistsInMap checks if key exists in map, descending into nested maps.
func KeyExistsInMap(key string, m map[string]interface{}) bool {
	for k, v := range m {
		if k == key {
			return true
		}

		if obj, ok := v.(map[string]interface{}); ok {
			if KeyExistsInMap(key, obj) {
				return true
			}
		}
	}

	return false
}
