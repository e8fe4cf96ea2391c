/*
Copyright Verax Labs. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package holder enables the holder: an entity that receives selective-disclosure
// tokens from the issuer, keeps the disclosures and presents a chosen subset to a
// verifier, optionally proving key possession with a key binding JWT.
package holder

import (
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v3/jwt"
	"github.com/google/uuid"

	"github.com/verax-labs/sdtoken/doc/jose"
	afgjwt "github.com/verax-labs/sdtoken/doc/jwt"
	"github.com/verax-labs/sdtoken/doc/sdjwt/common"
)

// KeyBindingTyp is the typ header of a key binding JWT.
const KeyBindingTyp = "kb+jwt"

const defaultLeeway = time.Minute

// Claim defines claim.
type Claim struct {
	Disclosure string
	Name       string
	Value      interface{}
}

// parseOpts holds options for the issuance parsing.
type parseOpts struct {
	detachedPayload []byte
	sigVerifier     jose.SignatureVerifier

	issuerSigningAlgorithms   []string
	leewayForClaimsValidation time.Duration
	expectedTypHeader         string

	tokenValidation bool
}

// ParseOpt is the issuance parser option.
type ParseOpt func(opts *parseOpts)

// WithJWTDetachedPayload option is for definition of JWT detached payload.
func WithJWTDetachedPayload(payload []byte) ParseOpt {
	return func(opts *parseOpts) {
		opts.detachedPayload = payload
	}
}

// WithSignatureVerifier option is for definition of the issuer signature verifier.
func WithSignatureVerifier(signatureVerifier jose.SignatureVerifier) ParseOpt {
	return func(opts *parseOpts) {
		opts.sigVerifier = signatureVerifier
	}
}

// WithIssuerSigningAlgorithms option is for defining secure signing algorithms (for token validation).
func WithIssuerSigningAlgorithms(algorithms []string) ParseOpt {
	return func(opts *parseOpts) {
		opts.issuerSigningAlgorithms = algorithms
	}
}

// WithLeewayForClaimsValidation is an option for claims time(s) validation.
func WithLeewayForClaimsValidation(duration time.Duration) ParseOpt {
	return func(opts *parseOpts) {
		opts.leewayForClaimsValidation = duration
	}
}

// WithTokenValidation option enables validation of the issuer-signed token:
// signing algorithm policy, time-based claims and the typ header (when expected
// typ is set).
func WithTokenValidation(flag bool) ParseOpt {
	return func(opts *parseOpts) {
		opts.tokenValidation = flag
	}
}

// WithExpectedTypHeader is an option for JWT typ header validation.
func WithExpectedTypHeader(typ string) ParseOpt {
	return func(opts *parseOpts) {
		opts.expectedTypHeader = typ
	}
}

// Parse parses a combined format for issuance and returns the claims that can be
// selected for presentation.
//
// The holder MUST perform the following (or equivalent) steps when receiving a
// combined format for issuance:
//
//   - Separate the signed token and the disclosures.
//   - Hash all the disclosures separately.
//   - Find the places in the signed token where the digests of the disclosures are included.
//   - If any of the digests cannot be found, reject the token.
//   - Decode disclosures and obtain plaintext of the claim values.
func Parse(combinedFormatForIssuance string, opts ...ParseOpt) ([]*Claim, error) {
	pOpts := &parseOpts{
		leewayForClaimsValidation: defaultLeeway,
	}

	for _, opt := range opts {
		opt(pOpts)
	}

	var jwtOpts []afgjwt.ParseOpt
	jwtOpts = append(jwtOpts,
		afgjwt.WithSignatureVerifier(pOpts.sigVerifier),
		afgjwt.WithJWTDetachedPayload(pOpts.detachedPayload))

	cfi := common.ParseCombinedFormatForIssuance(combinedFormatForIssuance)

	signedJWT, _, err := afgjwt.Parse(cfi.SDJWT, jwtOpts...)
	if err != nil {
		return nil, err
	}

	if pOpts.tokenValidation {
		if err := validateIssuance(cfi, signedJWT, pOpts); err != nil {
			return nil, err
		}
	}

	err = common.VerifyDisclosuresInToken(cfi.Disclosures, signedJWT)
	if err != nil {
		return nil, err
	}

	return getClaims(cfi.Disclosures, signedJWT.Payload)
}

// validateIssuance applies the optional holder-side checks on the issuer-signed token.
func validateIssuance(cfi *common.CombinedFormatForIssuance, signedJWT *afgjwt.JSONWebToken,
	pOpts *parseOpts) error {
	// An issuance must not carry a key binding JWT in its last segment.
	if len(cfi.Disclosures) > 0 {
		if lastPart := cfi.Disclosures[len(cfi.Disclosures)-1]; afgjwt.IsJWS(lastPart) {
			return fmt.Errorf("unexpected key binding JWT supplied")
		}
	}

	if err := common.VerifySigningAlg(signedJWT.Headers, pOpts.issuerSigningAlgorithms); err != nil {
		return fmt.Errorf("failed to verify issuer signing algorithm: %w", err)
	}

	if err := common.VerifyJWT(signedJWT, pOpts.leewayForClaimsValidation); err != nil {
		return err
	}

	if pOpts.expectedTypHeader != "" {
		if err := common.VerifyTyp(signedJWT.Headers, pOpts.expectedTypHeader); err != nil {
			return err
		}
	}

	return nil
}

func getClaims(disclosures []string, payload map[string]interface{}) ([]*Claim, error) {
	cryptoHash, err := common.GetCryptoHashFromClaims(payload)
	if err != nil {
		return nil, err
	}

	disclosureClaims, err := common.GetDisclosureClaims(disclosures, cryptoHash)
	if err != nil {
		return nil, fmt.Errorf("get disclosure claims: %w", err)
	}

	var claims []*Claim
	for _, disclosure := range disclosureClaims {
		claims = append(claims, &Claim{
			Disclosure: disclosure.Disclosure,
			Name:       disclosure.Name,
			Value:      disclosure.Value,
		})
	}

	return claims, nil
}

// BindingPayload represents key binding payload.
type BindingPayload struct {
	Nonce    string           `json:"nonce,omitempty"`
	Audience string           `json:"aud,omitempty"`
	IssuedAt *jwt.NumericDate `json:"iat,omitempty"`
	JTI      string           `json:"jti,omitempty"`
}

// BindingInfo defines key binding payload and signer.
type BindingInfo struct {
	Payload BindingPayload
	Signer  jose.Signer
	Headers jose.Headers
}

// options holds options for creating the combined format for presentation.
type options struct {
	holderVerificationInfo *BindingInfo
}

// Option is a holder option.
type Option func(opts *options)

// WithHolderVerification option to set optional holder verification (key binding).
func WithHolderVerification(info *BindingInfo) Option {
	return func(opts *options) {
		opts.holderVerificationInfo = info
	}
}

// CreatePresentation is a convenience method to assemble combined format for presentation
// using selected disclosures (claimsToDisclose) and optional holder verification.
// This call assumes that combinedFormatForIssuance has already been parsed and verified
// using the Parse() function.
//
// For presentation to a verifier, the holder MUST perform the following (or equivalent) steps:
//   - Decide which disclosures to release to the verifier.
//   - If key binding is required, create a key binding JWT.
//   - Create the combined format for presentation from selected disclosures and
//     the key binding JWT (if applicable).
func CreatePresentation(combinedFormatForIssuance string, claimsToDisclose []string,
	opts ...Option) (string, error) {
	hOpts := &options{}

	for _, opt := range opts {
		opt(hOpts)
	}

	cfi := common.ParseCombinedFormatForIssuance(combinedFormatForIssuance)

	if len(cfi.Disclosures) == 0 {
		return "", fmt.Errorf("no disclosures found in the issuance token")
	}

	issuanceDisclosures := common.SliceToMap(cfi.Disclosures)

	for _, ctd := range claimsToDisclose {
		if !issuanceDisclosures[ctd] {
			return "", fmt.Errorf("disclosure '%s' not found in the issuance token", ctd)
		}
	}

	var err error

	var holderVerification string
	if hOpts.holderVerificationInfo != nil {
		holderVerification, err = CreateHolderVerification(hOpts.holderVerificationInfo)
		if err != nil {
			return "", fmt.Errorf("create holder verification: %w", err)
		}
	}

	cf := common.CombinedFormatForPresentation{
		SDJWT:              cfi.SDJWT,
		Disclosures:        claimsToDisclose,
		HolderVerification: holderVerification,
	}

	return cf.Serialize(), nil
}

// CreateHolderVerification creates a key binding JWT from binding info. A fresh jti is
// generated when the payload carries none.
func CreateHolderVerification(info *BindingInfo) (string, error) {
	payload := info.Payload
	if payload.JTI == "" {
		payload.JTI = uuid.NewString()
	}

	headers := jose.Headers{jose.HeaderType: KeyBindingTyp}
	for k, v := range info.Headers {
		headers[k] = v
	}

	hbJWT, err := afgjwt.NewSigned(payload, headers, info.Signer)
	if err != nil {
		return "", err
	}

	return hbJWT.Serialize(false)
}

// NoopSignatureVerifier is no-op signature verifier (signature will not get checked).
type NoopSignatureVerifier struct {
}

// Verify implements signature verification.
func (sv *NoopSignatureVerifier) Verify(joseHeaders jose.Headers, payload, signingInput, signature []byte) error {
	return nil
}
