/*
Copyright Verax Labs. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package jose

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// JSONWebEncryption represents an encryption envelope as defined in https://tools.ietf.org/html/rfc7516.
// IV, Ciphertext, Tag and AAD hold raw bytes; they are base64url-encoded on serialization.
type JSONWebEncryption struct {
	ProtectedHeaders Headers
	Recipients       []*Recipient
	AAD              string
	IV               string
	Ciphertext       string
	Tag              string

	// origProtectedHeader keeps the protected header exactly as presented on the wire,
	// so authenticated data can be rebuilt byte-for-byte after deserialization.
	origProtectedHeader string
}

// Recipient is a recipient of an envelope including the wrapped content encryption key.
// EncryptedKey holds the raw wrapped key bytes; it is base64url-encoded on serialization.
type Recipient struct {
	Header       *RecipientHeaders `json:"header,omitempty"`
	EncryptedKey string            `json:"encrypted_key,omitempty"`
}

// RecipientHeaders are the recipient headers. Binary values (IV, Tag) are carried
// base64url-encoded; EPK is a JSON-encoded public key.
type RecipientHeaders struct {
	Alg string          `json:"alg,omitempty"`
	KID string          `json:"kid,omitempty"`
	EPK json.RawMessage `json:"epk,omitempty"`
	APU string          `json:"apu,omitempty"`
	APV string          `json:"apv,omitempty"`
	IV  string          `json:"iv,omitempty"`
	Tag string          `json:"tag,omitempty"`
}

// rawJSONWebEncryption represents a RAW JWE that is used for serialization/deserialization.
type rawJSONWebEncryption struct {
	ProtectedHeaders string          `json:"protected,omitempty"`
	Recipients       json.RawMessage `json:"recipients,omitempty"`
	AAD              string          `json:"aad,omitempty"`
	IV               string          `json:"iv,omitempty"`
	Ciphertext       string          `json:"ciphertext,omitempty"`
	Tag              string          `json:"tag,omitempty"`
}

type rawRecipient struct {
	Header       *RecipientHeaders `json:"header,omitempty"`
	EncryptedKey string            `json:"encrypted_key,omitempty"`
}

var errEmptyCiphertext = errors.New("ciphertext cannot be empty")

type marshalFunc func(interface{}) ([]byte, error)

// Serialize serializes the given JWE into JSON as defined in https://tools.ietf.org/html/rfc7516#section-7.2.
// In direct mode the recipients member is omitted entirely.
func (e *JSONWebEncryption) Serialize(marshal marshalFunc) (string, error) {
	b64ProtectedHeaders, err := e.prepareProtectedHeaders(marshal)
	if err != nil {
		return "", err
	}

	var recipientsJSON json.RawMessage

	if len(e.Recipients) > 0 {
		rawRecipients := make([]*rawRecipient, len(e.Recipients))

		for i, r := range e.Recipients {
			rawRecipients[i] = &rawRecipient{
				Header:       r.Header,
				EncryptedKey: base64.RawURLEncoding.EncodeToString([]byte(r.EncryptedKey)),
			}
		}

		recipientsJSON, err = marshal(rawRecipients)
		if err != nil {
			return "", err
		}
	}

	if e.Ciphertext == "" {
		return "", errEmptyCiphertext
	}

	var b64AAD string
	if e.AAD != "" {
		b64AAD = base64.RawURLEncoding.EncodeToString([]byte(e.AAD))
	}

	preparedJWE := rawJSONWebEncryption{
		ProtectedHeaders: b64ProtectedHeaders,
		Recipients:       recipientsJSON,
		AAD:              b64AAD,
		IV:               base64.RawURLEncoding.EncodeToString([]byte(e.IV)),
		Ciphertext:       base64.RawURLEncoding.EncodeToString([]byte(e.Ciphertext)),
		Tag:              base64.RawURLEncoding.EncodeToString([]byte(e.Tag)),
	}

	serializedJWE, err := marshal(preparedJWE)
	if err != nil {
		return "", err
	}

	return string(serializedJWE), nil
}

func (e *JSONWebEncryption) prepareProtectedHeaders(marshal marshalFunc) (string, error) {
	if e.ProtectedHeaders == nil {
		return "", nil
	}

	protectedHeadersJSON, err := marshal(e.ProtectedHeaders)
	if err != nil {
		return "", err
	}

	return base64.RawURLEncoding.EncodeToString(protectedHeadersJSON), nil
}

// Deserialize deserializes the given serialized JWE into a JSONWebEncryption object.
func Deserialize(serializedJWE string) (*JSONWebEncryption, error) {
	rawJWE := &rawJSONWebEncryption{}

	err := json.Unmarshal([]byte(serializedJWE), rawJWE)
	if err != nil {
		return nil, fmt.Errorf("unmarshal JWE: %w", err)
	}

	return deserializeFromRawJWE(rawJWE)
}

func deserializeFromRawJWE(rawJWE *rawJSONWebEncryption) (*JSONWebEncryption, error) {
	var protectedHeaders Headers

	if rawJWE.ProtectedHeaders != "" {
		protectedHeadersBytes, err := base64.RawURLEncoding.DecodeString(rawJWE.ProtectedHeaders)
		if err != nil {
			return nil, fmt.Errorf("decode base64 protected headers: %w", err)
		}

		err = json.Unmarshal(protectedHeadersBytes, &protectedHeaders)
		if err != nil {
			return nil, fmt.Errorf("unmarshal protected headers: %w", err)
		}
	}

	recipients, err := deserializeRecipients(rawJWE.Recipients)
	if err != nil {
		return nil, err
	}

	aad, err := base64.RawURLEncoding.DecodeString(rawJWE.AAD)
	if err != nil {
		return nil, fmt.Errorf("decode base64 aad: %w", err)
	}

	iv, err := base64.RawURLEncoding.DecodeString(rawJWE.IV)
	if err != nil {
		return nil, fmt.Errorf("decode base64 iv: %w", err)
	}

	ciphertext, err := base64.RawURLEncoding.DecodeString(rawJWE.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decode base64 ciphertext: %w", err)
	}

	tag, err := base64.RawURLEncoding.DecodeString(rawJWE.Tag)
	if err != nil {
		return nil, fmt.Errorf("decode base64 tag: %w", err)
	}

	return &JSONWebEncryption{
		ProtectedHeaders:    protectedHeaders,
		Recipients:          recipients,
		AAD:                 string(aad),
		IV:                  string(iv),
		Ciphertext:          string(ciphertext),
		Tag:                 string(tag),
		origProtectedHeader: rawJWE.ProtectedHeaders,
	}, nil
}

func deserializeRecipients(recipientsJSON json.RawMessage) ([]*Recipient, error) {
	if recipientsJSON == nil {
		return nil, nil
	}

	var rawRecipients []*rawRecipient

	err := json.Unmarshal(recipientsJSON, &rawRecipients)
	if err != nil {
		return nil, fmt.Errorf("unmarshal recipients: %w", err)
	}

	recipients := make([]*Recipient, len(rawRecipients))

	for i, r := range rawRecipients {
		encryptedKey, err := base64.RawURLEncoding.DecodeString(r.EncryptedKey)
		if err != nil {
			return nil, fmt.Errorf("decode base64 encrypted_key: %w", err)
		}

		recipients[i] = &Recipient{
			Header:       r.Header,
			EncryptedKey: string(encryptedKey),
		}
	}

	return recipients, nil
}

// computeAuthData builds the authenticated data for content encryption: the serialized
// protected header, plus "." and the base64url-encoded AAD when AAD is present.
func computeAuthData(protectedHeaders Headers, origProtectedHeader string, aad []byte) ([]byte, error) {
	var protected string

	if origProtectedHeader != "" {
		// Use the wire form when available. Header key order must remain untouched for
		// the authentication tag to verify.
		protected = origProtectedHeader
	} else if protectedHeaders != nil {
		mProtected, err := json.Marshal(protectedHeaders)
		if err != nil {
			return nil, fmt.Errorf("computeAuthData: %w", err)
		}

		protected = base64.RawURLEncoding.EncodeToString(mProtected)
	}

	output := []byte(protected)
	if len(aad) > 0 {
		output = append(output, '.')

		encLen := base64.RawURLEncoding.EncodedLen(len(aad))
		aadEncoded := make([]byte, encLen)

		base64.RawURLEncoding.Encode(aadEncoded, aad)
		output = append(output, aadEncoded...)
	}

	return output, nil
}
