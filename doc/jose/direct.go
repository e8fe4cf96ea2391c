/*
Copyright Verax Labs. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package jose

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"github.com/google/tink/go/subtle/random"
	"golang.org/x/crypto/chacha20poly1305"
)

const aeadKeySize = 32

// DirectCrypter encrypts and decrypts envelope content with a pre-shared 256-bit key
// (alg "dir"). It never wraps keys and never appears in a recipients list.
type DirectCrypter struct {
	key []byte
	enc EncAlg
}

// NewDirectCrypter returns a crypter for direct key agreement with the given content
// encryption algorithm and pre-shared key.
func NewDirectCrypter(enc EncAlg, key []byte) (*DirectCrypter, error) {
	if len(key) != aeadKeySize {
		return nil, fmt.Errorf("direct crypter: key must be %d bytes, got %d", aeadKeySize, len(key))
	}

	switch enc {
	case A256GCM, XC20P:
	default:
		return nil, fmt.Errorf("direct crypter: %q: %w", enc, ErrUnsupportedAlgorithm)
	}

	keyCopy := make([]byte, len(key))
	copy(keyCopy, key)

	return &DirectCrypter{key: keyCopy, enc: enc}, nil
}

// Algorithm returns the direct key agreement algorithm value.
func (c *DirectCrypter) Algorithm() string {
	return DirectKeyAlg
}

// Encryption returns the content encryption algorithm.
func (c *DirectCrypter) Encryption() EncAlg {
	return c.enc
}

// Encrypt encrypts plaintext with the pre-shared key. The returned result has no CEK
// and no recipient entry.
func (c *DirectCrypter) Encrypt(plaintext, authData []byte) (*EncryptionResult, error) {
	ciphertext, iv, tag, err := aeadSeal(c.enc, c.key, plaintext, authData)
	if err != nil {
		return nil, fmt.Errorf("direct encrypt: %w", err)
	}

	return &EncryptionResult{
		Ciphertext: ciphertext,
		IV:         iv,
		Tag:        tag,
	}, nil
}

// WrapKey fails: direct key agreement transports no key.
func (c *DirectCrypter) WrapKey(_ []byte, _ *EphemeralKeyPair) (*Recipient, error) {
	return nil, fmt.Errorf("direct key agreement does not wrap keys: %w", ErrProtocolViolation)
}

// Decrypt decrypts ciphertext||tag with the pre-shared key. recipient must be nil.
func (c *DirectCrypter) Decrypt(ciphertext, iv, tag, authData []byte, recipient *Recipient) ([]byte, error) {
	if recipient != nil {
		return nil, fmt.Errorf("direct decrypt: unexpected recipient entry: %w", ErrProtocolViolation)
	}

	plaintext, err := aeadOpen(c.enc, c.key, ciphertext, iv, tag, authData)
	if err != nil {
		return nil, fmt.Errorf("direct decrypt: %w", err)
	}

	return plaintext, nil
}

func newAEAD(enc EncAlg, key []byte) (cipher.AEAD, error) {
	switch enc {
	case A256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}

		return cipher.NewGCM(block)
	case XC20P:
		return chacha20poly1305.NewX(key)
	default:
		return nil, fmt.Errorf("%q: %w", enc, ErrUnsupportedAlgorithm)
	}
}

// aeadSeal encrypts plaintext and splits the AEAD output into ciphertext and tag.
func aeadSeal(enc EncAlg, key, plaintext, authData []byte) (ciphertext, iv, tag []byte, err error) {
	aead, err := newAEAD(enc, key)
	if err != nil {
		return nil, nil, nil, err
	}

	iv = random.GetRandomBytes(uint32(aead.NonceSize()))

	sealed := aead.Seal(nil, iv, plaintext, authData)
	tagOffset := len(sealed) - aead.Overhead()

	return sealed[:tagOffset], iv, sealed[tagOffset:], nil
}

func aeadOpen(enc EncAlg, key, ciphertext, iv, tag, authData []byte) ([]byte, error) {
	aead, err := newAEAD(enc, key)
	if err != nil {
		return nil, err
	}

	if len(iv) != aead.NonceSize() {
		return nil, fmt.Errorf("invalid iv size %d", len(iv))
	}

	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	return aead.Open(nil, iv, sealed, authData)
}
