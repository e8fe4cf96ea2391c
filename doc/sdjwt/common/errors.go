/*
Copyright Verax Labs. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package common

import "errors"

var (
	// ErrMalformedInput is returned when a disclosure or token cannot be decoded:
	// bad base64, a body that is not a JSON array, wrong element count or element types.
	ErrMalformedInput = errors.New("malformed input")

	// ErrUnsupportedHash is returned when a token names a hash algorithm outside the
	// registered set.
	ErrUnsupportedHash = errors.New("unsupported hash algorithm")

	// ErrIntegrityViolation is returned when disclosures and payload digests disagree:
	// a digest resolved in more than one place, a duplicate claim name at one level,
	// a disclosure carrying a reserved validity claim, or a disclosure left unmatched
	// during verification.
	ErrIntegrityViolation = errors.New("integrity violation")

	// ErrNestingTooDeep is returned when recursive disclosure resolution exceeds the
	// configured nesting depth.
	ErrNestingTooDeep = errors.New("nesting too deep")
)
