/*
Copyright Verax Labs. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package jose

import (
	"crypto/ecdh"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/tink/go/subtle/random"
	"golang.org/x/crypto/hkdf"
)

const (
	x25519KeySize = 32
	kwIVSize      = 12
)

// epkHeader is the JSON form of the ephemeral X25519 public key carried in the epk
// recipient header.
type epkHeader struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	X   string `json:"x"`
}

// ECDHESEncrypter encrypts envelope content for one X25519 recipient: a fresh CEK
// encrypts the content, and an HKDF-derived AES256-GCM key encryption key wraps the
// CEK under an ephemeral-static agreement (alg "ECDH-ES+A256GCMKW").
type ECDHESEncrypter struct {
	recipientKey *ecdh.PublicKey
	kid          string
	enc          EncAlg
}

// NewECDHESEncrypter returns an encrypter wrapping keys to the given X25519 public key.
// kid is carried in the recipient header when non-empty.
func NewECDHESEncrypter(enc EncAlg, recipientKey *ecdh.PublicKey, kid string) (*ECDHESEncrypter, error) {
	if recipientKey == nil {
		return nil, fmt.Errorf("ecdh-es encrypter: nil recipient key")
	}

	if recipientKey.Curve() != ecdh.X25519() {
		return nil, fmt.Errorf("ecdh-es encrypter: recipient key is not X25519: %w", ErrUnsupportedAlgorithm)
	}

	switch enc {
	case A256GCM, XC20P:
	default:
		return nil, fmt.Errorf("ecdh-es encrypter: %q: %w", enc, ErrUnsupportedAlgorithm)
	}

	return &ECDHESEncrypter{recipientKey: recipientKey, kid: kid, enc: enc}, nil
}

// Algorithm returns the key wrapping algorithm value.
func (e *ECDHESEncrypter) Algorithm() string {
	return ECDHESA256GCMKWAlg
}

// Encryption returns the content encryption algorithm.
func (e *ECDHESEncrypter) Encryption() EncAlg {
	return e.enc
}

// Encrypt generates a fresh CEK, encrypts plaintext with it and returns the CEK for
// key wrapping.
func (e *ECDHESEncrypter) Encrypt(plaintext, authData []byte) (*EncryptionResult, error) {
	cek := random.GetRandomBytes(aeadKeySize)

	ciphertext, iv, tag, err := aeadSeal(e.enc, cek, plaintext, authData)
	if err != nil {
		return nil, fmt.Errorf("ecdh-es encrypt: %w", err)
	}

	return &EncryptionResult{
		Ciphertext: ciphertext,
		IV:         iv,
		Tag:        tag,
		CEK:        cek,
	}, nil
}

// GenerateEphemeralKeyPair generates an X25519 key pair usable as a shared ephemeral
// key across recipients.
func (e *ECDHESEncrypter) GenerateEphemeralKeyPair() (*EphemeralKeyPair, error) {
	return generateX25519KeyPair()
}

// WrapKey wraps cek for the recipient. A nil ephemeralKey generates a per-recipient
// pair.
func (e *ECDHESEncrypter) WrapKey(cek []byte, ephemeralKey *EphemeralKeyPair) (*Recipient, error) {
	if ephemeralKey == nil {
		generated, err := generateX25519KeyPair()
		if err != nil {
			return nil, fmt.Errorf("ecdh-es wrap: generate ephemeral key: %w", err)
		}

		ephemeralKey = generated
	}

	kek, err := deriveKEK(ephemeralKey.PrivateKey, e.recipientKey)
	if err != nil {
		return nil, fmt.Errorf("ecdh-es wrap: %w", err)
	}

	kwIV := random.GetRandomBytes(kwIVSize)

	wrapped, _, tag, err := aeadSealWithIV(A256GCM, kek, kwIV, cek, nil)
	if err != nil {
		return nil, fmt.Errorf("ecdh-es wrap: %w", err)
	}

	epk, err := json.Marshal(&epkHeader{
		Kty: "OKP",
		Crv: "X25519",
		X:   base64.RawURLEncoding.EncodeToString(ephemeralKey.PublicKey.Bytes()),
	})
	if err != nil {
		return nil, fmt.Errorf("ecdh-es wrap: marshal epk: %w", err)
	}

	return &Recipient{
		Header: &RecipientHeaders{
			Alg: ECDHESA256GCMKWAlg,
			KID: e.kid,
			EPK: epk,
			IV:  base64.RawURLEncoding.EncodeToString(kwIV),
			Tag: base64.RawURLEncoding.EncodeToString(tag),
		},
		EncryptedKey: string(wrapped),
	}, nil
}

// ECDHESDecrypter unwraps a CEK wrapped by ECDHESEncrypter and decrypts the content.
type ECDHESDecrypter struct {
	privateKey *ecdh.PrivateKey
	enc        EncAlg
}

// NewECDHESDecrypter returns a decrypter for the given X25519 private key.
func NewECDHESDecrypter(enc EncAlg, privateKey *ecdh.PrivateKey) (*ECDHESDecrypter, error) {
	if privateKey == nil {
		return nil, fmt.Errorf("ecdh-es decrypter: nil private key")
	}

	if privateKey.Curve() != ecdh.X25519() {
		return nil, fmt.Errorf("ecdh-es decrypter: key is not X25519: %w", ErrUnsupportedAlgorithm)
	}

	switch enc {
	case A256GCM, XC20P:
	default:
		return nil, fmt.Errorf("ecdh-es decrypter: %q: %w", enc, ErrUnsupportedAlgorithm)
	}

	return &ECDHESDecrypter{privateKey: privateKey, enc: enc}, nil
}

// Algorithm returns the key wrapping algorithm value.
func (d *ECDHESDecrypter) Algorithm() string {
	return ECDHESA256GCMKWAlg
}

// Encryption returns the content encryption algorithm.
func (d *ECDHESDecrypter) Encryption() EncAlg {
	return d.enc
}

// Decrypt unwraps the recipient CEK and decrypts ciphertext||tag against authData.
func (d *ECDHESDecrypter) Decrypt(ciphertext, iv, tag, authData []byte, recipient *Recipient) ([]byte, error) {
	if recipient == nil || recipient.Header == nil {
		return nil, fmt.Errorf("ecdh-es decrypt: missing recipient entry: %w", ErrProtocolViolation)
	}

	cek, err := d.unwrapCEK(recipient)
	if err != nil {
		return nil, fmt.Errorf("ecdh-es decrypt: %w", err)
	}

	plaintext, err := aeadOpen(d.enc, cek, ciphertext, iv, tag, authData)
	if err != nil {
		return nil, fmt.Errorf("ecdh-es decrypt: %w", err)
	}

	return plaintext, nil
}

func (d *ECDHESDecrypter) unwrapCEK(recipient *Recipient) ([]byte, error) {
	epk, err := parseEPK(recipient.Header.EPK)
	if err != nil {
		return nil, err
	}

	kek, err := deriveKEK(d.privateKey, epk)
	if err != nil {
		return nil, err
	}

	kwIV, err := base64.RawURLEncoding.DecodeString(recipient.Header.IV)
	if err != nil {
		return nil, fmt.Errorf("decode base64 key wrap iv: %w", err)
	}

	kwTag, err := base64.RawURLEncoding.DecodeString(recipient.Header.Tag)
	if err != nil {
		return nil, fmt.Errorf("decode base64 key wrap tag: %w", err)
	}

	return aeadOpen(A256GCM, kek, []byte(recipient.EncryptedKey), kwIV, kwTag, nil)
}

func parseEPK(raw json.RawMessage) (*ecdh.PublicKey, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("missing epk header: %w", ErrProtocolViolation)
	}

	var epk epkHeader

	if err := json.Unmarshal(raw, &epk); err != nil {
		return nil, fmt.Errorf("unmarshal epk: %w", err)
	}

	if epk.Kty != "OKP" || epk.Crv != "X25519" {
		return nil, fmt.Errorf("epk kty %q crv %q: %w", epk.Kty, epk.Crv, ErrUnsupportedAlgorithm)
	}

	x, err := base64.RawURLEncoding.DecodeString(epk.X)
	if err != nil {
		return nil, fmt.Errorf("decode base64 epk x: %w", err)
	}

	if len(x) != x25519KeySize {
		return nil, fmt.Errorf("invalid epk key size %d", len(x))
	}

	return ecdh.X25519().NewPublicKey(x)
}

// deriveKEK derives the AES256-GCM key encryption key from the X25519 shared secret
// with HKDF-SHA256, binding the alg value as context info.
func deriveKEK(privateKey *ecdh.PrivateKey, publicKey *ecdh.PublicKey) ([]byte, error) {
	shared, err := privateKey.ECDH(publicKey)
	if err != nil {
		return nil, fmt.Errorf("key agreement: %w", err)
	}

	kek := make([]byte, aeadKeySize)

	reader := hkdf.New(sha256.New, shared, nil, []byte(ECDHESA256GCMKWAlg))
	if _, err := io.ReadFull(reader, kek); err != nil {
		return nil, fmt.Errorf("derive key encryption key: %w", err)
	}

	return kek, nil
}

// aeadSealWithIV is aeadSeal with a caller-provided nonce, used for key wrapping where
// the nonce travels in the recipient header.
func aeadSealWithIV(enc EncAlg, key, iv, plaintext, authData []byte) (ciphertext, ivOut, tag []byte, err error) {
	aead, err := newAEAD(enc, key)
	if err != nil {
		return nil, nil, nil, err
	}

	if len(iv) != aead.NonceSize() {
		return nil, nil, nil, fmt.Errorf("invalid iv size %d", len(iv))
	}

	sealed := aead.Seal(nil, iv, plaintext, authData)
	tagOffset := len(sealed) - aead.Overhead()

	return sealed[:tagOffset], iv, sealed[tagOffset:], nil
}
