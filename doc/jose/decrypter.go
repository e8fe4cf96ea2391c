/*
Copyright Verax Labs. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package jose

import (
	"fmt"
)

// Decrypter decrypts envelope content for one recipient. recipient is nil in
// direct mode, where the content key is pre-shared.
type Decrypter interface {
	// Algorithm returns the key management algorithm this decrypter serves.
	Algorithm() string

	// Encryption returns the content encryption algorithm this decrypter serves.
	Encryption() EncAlg

	// Decrypt unwraps the recipient key (if any), then authenticates and decrypts
	// ciphertext||tag against authData.
	Decrypt(ciphertext, iv, tag, authData []byte, recipient *Recipient) ([]byte, error)
}

// Open validates the envelope, rebuilds the authenticated data and decrypts the
// content with the first decrypter able to serve it.
//
// Direct-mode envelopes (no recipients member) take a fast path: a decrypter for alg
// "dir" with a matching content algorithm is required. Otherwise every recipient entry
// is scanned in order against the decrypters whose algorithms match the merged
// protected and per-recipient headers; the first successful decryption wins.
func Open(jwe *JSONWebEncryption, decrypters ...Decrypter) ([]byte, error) {
	if err := validateEnvelope(jwe); err != nil {
		return nil, err
	}

	if len(decrypters) == 0 {
		return nil, fmt.Errorf("open: no decrypters: %w", ErrProtocolViolation)
	}

	authData, err := computeAuthData(jwe.ProtectedHeaders, jwe.origProtectedHeader, []byte(jwe.AAD))
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}

	encAlg, _ := jwe.ProtectedHeaders.Encryption()
	protectedAlg, _ := jwe.ProtectedHeaders.Algorithm()

	if len(jwe.Recipients) == 0 {
		return openDirect(jwe, protectedAlg, encAlg, authData, decrypters)
	}

	return openRecipients(jwe, protectedAlg, encAlg, authData, decrypters)
}

func validateEnvelope(jwe *JSONWebEncryption) error {
	if jwe == nil {
		return fmt.Errorf("open: nil envelope: %w", ErrProtocolViolation)
	}

	if len(jwe.ProtectedHeaders) == 0 {
		return fmt.Errorf("open: no protected headers: %w", ErrProtocolViolation)
	}

	if _, ok := jwe.ProtectedHeaders.Encryption(); !ok {
		return fmt.Errorf("open: enc header is not present: %w", ErrProtocolViolation)
	}

	if jwe.Ciphertext == "" {
		return fmt.Errorf("open: empty ciphertext: %w", ErrProtocolViolation)
	}

	if jwe.IV == "" || jwe.Tag == "" {
		return fmt.Errorf("open: missing iv or tag: %w", ErrProtocolViolation)
	}

	for i, recipient := range jwe.Recipients {
		if recipient == nil || recipient.Header == nil || recipient.EncryptedKey == "" {
			return fmt.Errorf("open: recipient %d is missing header or encrypted key: %w",
				i, ErrProtocolViolation)
		}
	}

	return nil
}

func openDirect(jwe *JSONWebEncryption, protectedAlg, encAlg string, authData []byte,
	decrypters []Decrypter) ([]byte, error) {
	if protectedAlg != DirectKeyAlg {
		return nil, fmt.Errorf("open: no recipients and alg is not %q: %w",
			DirectKeyAlg, ErrProtocolViolation)
	}

	decrypter := findDecrypter(decrypters, DirectKeyAlg, encAlg)
	if decrypter == nil {
		return nil, fmt.Errorf("open: no decrypter for alg %q enc %q: %w",
			DirectKeyAlg, encAlg, ErrUnsupportedAlgorithm)
	}

	plaintext, err := decrypter.Decrypt([]byte(jwe.Ciphertext), []byte(jwe.IV), []byte(jwe.Tag),
		authData, nil)
	if err != nil {
		return nil, fmt.Errorf("open: %w", ErrDecryptionFailure)
	}

	return plaintext, nil
}

func openRecipients(jwe *JSONWebEncryption, protectedAlg, encAlg string, authData []byte,
	decrypters []Decrypter) ([]byte, error) {
	matched := false

	for _, recipient := range jwe.Recipients {
		alg := protectedAlg
		if recipient.Header != nil && recipient.Header.Alg != "" {
			alg = recipient.Header.Alg
		}

		decrypter := findDecrypter(decrypters, alg, encAlg)
		if decrypter == nil {
			continue
		}

		matched = true

		plaintext, err := decrypter.Decrypt([]byte(jwe.Ciphertext), []byte(jwe.IV), []byte(jwe.Tag),
			authData, recipient)
		if err == nil {
			return plaintext, nil
		}
	}

	if !matched {
		return nil, fmt.Errorf("open: no decrypter matches any recipient: %w", ErrUnsupportedAlgorithm)
	}

	return nil, fmt.Errorf("open: no recipient key could be used: %w", ErrDecryptionFailure)
}

func findDecrypter(decrypters []Decrypter, alg, encAlg string) Decrypter {
	for _, d := range decrypters {
		if d.Algorithm() == alg && string(d.Encryption()) == encAlg {
			return d
		}
	}

	return nil
}
