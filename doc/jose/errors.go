/*
Copyright Verax Labs. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package jose

import "errors"

var (
	// ErrProtocolViolation is returned when an envelope or a set of encrypters breaks
	// a structural rule of the protocol (missing fields, mixed content algorithms,
	// more than one direct-mode encrypter).
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrUnsupportedAlgorithm is returned when no configured crypter serves the
	// algorithm named by the envelope headers.
	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")

	// ErrDecryptionFailure is returned when every candidate recipient entry was tried
	// and none produced an authenticated plaintext.
	ErrDecryptionFailure = errors.New("decryption failure")
)
