/*
Copyright Verax Labs. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package jose

import (
	"crypto/ecdh"
	"crypto/rand"
	"fmt"
)

// EphemeralKeyPair is an X25519 key pair used for ephemeral-static key agreement.
// When recipients share one pair, every wrapped key carries the same epk header.
type EphemeralKeyPair struct {
	PrivateKey *ecdh.PrivateKey
	PublicKey  *ecdh.PublicKey
}

// EncryptionResult carries the outcome of content encryption by an Encrypter.
// CEK is nil in direct mode: the content key is pre-shared, never transported.
type EncryptionResult struct {
	Ciphertext []byte
	IV         []byte
	Tag        []byte
	CEK        []byte
	Recipient  *Recipient
}

// Encrypter encrypts envelope content for one recipient. Implementations own the key
// material; Seal owns the envelope layout.
type Encrypter interface {
	// Algorithm returns the key management algorithm value for the alg header.
	Algorithm() string

	// Encryption returns the content encryption algorithm for the enc header.
	Encryption() EncAlg

	// Encrypt performs content encryption over plaintext with the given additional
	// authenticated data. Outside direct mode it generates and returns the CEK so the
	// remaining recipients can wrap the same key.
	Encrypt(plaintext, authData []byte) (*EncryptionResult, error)

	// WrapKey wraps the given CEK for this recipient. A nil ephemeral key pair means
	// the implementation generates its own.
	WrapKey(cek []byte, ephemeralKey *EphemeralKeyPair) (*Recipient, error)
}

// EphemeralKeyGenerator is implemented by encrypters whose key wrapping uses an
// ephemeral key pair that can be shared across recipients.
type EphemeralKeyGenerator interface {
	GenerateEphemeralKeyPair() (*EphemeralKeyPair, error)
}

type encryptOpts struct {
	sharedEphemeralKey bool
	typ                string
	cty                string
}

// EncryptOpt is the envelope encryption option.
type EncryptOpt func(opts *encryptOpts)

// WithSharedEphemeralKey makes Seal generate a single ephemeral key pair and use it
// for every recipient key wrap, instead of one pair per recipient.
func WithSharedEphemeralKey() EncryptOpt {
	return func(opts *encryptOpts) {
		opts.sharedEphemeralKey = true
	}
}

// WithType sets the typ protected header of the envelope.
func WithType(typ string) EncryptOpt {
	return func(opts *encryptOpts) {
		opts.typ = typ
	}
}

// WithContentType sets the cty protected header of the envelope.
func WithContentType(cty string) EncryptOpt {
	return func(opts *encryptOpts) {
		opts.cty = cty
	}
}

// Seal builds an encryption envelope over plaintext for the given encrypters.
//
// With a single direct-mode encrypter (alg "dir") the CEK is pre-shared: the alg and
// enc headers go into the protected header and the recipients member is omitted.
// Otherwise every encrypter must agree on the content encryption algorithm; the first
// encrypter generates the CEK and encrypts the content, and each encrypter wraps that
// CEK into its own recipient entry.
func Seal(plaintext, aad []byte, encrypters []Encrypter, opts ...EncryptOpt) (*JSONWebEncryption, error) {
	sOpts := &encryptOpts{}

	for _, opt := range opts {
		opt(sOpts)
	}

	if len(encrypters) == 0 {
		return nil, fmt.Errorf("seal: no encrypters: %w", ErrProtocolViolation)
	}

	encAlg := encrypters[0].Encryption()

	for _, e := range encrypters[1:] {
		if e.Encryption() != encAlg {
			return nil, fmt.Errorf("seal: recipients use different content encryption algorithms (%s vs %s): %w",
				encAlg, e.Encryption(), ErrProtocolViolation)
		}
	}

	if hasDirectEncrypter(encrypters) {
		if len(encrypters) > 1 {
			return nil, fmt.Errorf("seal: direct key agreement allows exactly one recipient: %w",
				ErrProtocolViolation)
		}

		return sealDirect(plaintext, aad, encrypters[0], sOpts)
	}

	return sealForRecipients(plaintext, aad, encrypters, sOpts)
}

func hasDirectEncrypter(encrypters []Encrypter) bool {
	for _, e := range encrypters {
		if e.Algorithm() == DirectKeyAlg {
			return true
		}
	}

	return false
}

func sealDirect(plaintext, aad []byte, encrypter Encrypter, opts *encryptOpts) (*JSONWebEncryption, error) {
	protectedHeaders := Headers{
		HeaderAlgorithm:  encrypter.Algorithm(),
		HeaderEncryption: string(encrypter.Encryption()),
	}
	addOptionalHeaders(protectedHeaders, opts)

	authData, err := computeAuthData(protectedHeaders, "", aad)
	if err != nil {
		return nil, fmt.Errorf("seal: %w", err)
	}

	result, err := encrypter.Encrypt(plaintext, authData)
	if err != nil {
		return nil, fmt.Errorf("seal: encrypt content: %w", err)
	}

	return &JSONWebEncryption{
		ProtectedHeaders: protectedHeaders,
		AAD:              string(aad),
		IV:               string(result.IV),
		Ciphertext:       string(result.Ciphertext),
		Tag:              string(result.Tag),
	}, nil
}

func sealForRecipients(plaintext, aad []byte, encrypters []Encrypter,
	opts *encryptOpts) (*JSONWebEncryption, error) {
	protectedHeaders := Headers{
		HeaderEncryption: string(encrypters[0].Encryption()),
	}
	addOptionalHeaders(protectedHeaders, opts)

	authData, err := computeAuthData(protectedHeaders, "", aad)
	if err != nil {
		return nil, fmt.Errorf("seal: %w", err)
	}

	result, err := encrypters[0].Encrypt(plaintext, authData)
	if err != nil {
		return nil, fmt.Errorf("seal: encrypt content: %w", err)
	}

	if len(result.CEK) == 0 {
		return nil, fmt.Errorf("seal: encrypter returned no content encryption key: %w",
			ErrProtocolViolation)
	}

	ephemeralKey, err := sharedEphemeralKey(encrypters, opts)
	if err != nil {
		return nil, err
	}

	recipients := make([]*Recipient, 0, len(encrypters))

	for i, e := range encrypters {
		if i == 0 && result.Recipient != nil {
			recipients = append(recipients, result.Recipient)
			continue
		}

		recipient, err := e.WrapKey(result.CEK, ephemeralKey)
		if err != nil {
			return nil, fmt.Errorf("seal: wrap key for recipient %d: %w", i, err)
		}

		recipients = append(recipients, recipient)
	}

	return &JSONWebEncryption{
		ProtectedHeaders: protectedHeaders,
		Recipients:       recipients,
		AAD:              string(aad),
		IV:               string(result.IV),
		Ciphertext:       string(result.Ciphertext),
		Tag:              string(result.Tag),
	}, nil
}

func sharedEphemeralKey(encrypters []Encrypter, opts *encryptOpts) (*EphemeralKeyPair, error) {
	if !opts.sharedEphemeralKey {
		return nil, nil
	}

	for _, e := range encrypters {
		if gen, ok := e.(EphemeralKeyGenerator); ok {
			ephemeralKey, err := gen.GenerateEphemeralKeyPair()
			if err != nil {
				return nil, fmt.Errorf("seal: generate shared ephemeral key: %w", err)
			}

			return ephemeralKey, nil
		}
	}

	return nil, fmt.Errorf("seal: no encrypter can generate a shared ephemeral key: %w",
		ErrProtocolViolation)
}

func addOptionalHeaders(headers Headers, opts *encryptOpts) {
	if opts.typ != "" {
		headers[HeaderType] = opts.typ
	}

	if opts.cty != "" {
		headers[HeaderContentType] = opts.cty
	}
}

func generateX25519KeyPair() (*EphemeralKeyPair, error) {
	privateKey, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}

	return &EphemeralKeyPair{
		PrivateKey: privateKey,
		PublicKey:  privateKey.PublicKey(),
	}, nil
}
