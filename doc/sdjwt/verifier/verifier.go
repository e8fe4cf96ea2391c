/*
Copyright Verax Labs. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

/*
Package verifier enables the verifier: an entity that requests, checks and
extracts the claims from a selective-disclosure token and respective disclosures.
*/
package verifier

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v3/jwt"
	"github.com/mitchellh/mapstructure"

	"github.com/verax-labs/sdtoken/doc/jose"
	afgjwt "github.com/verax-labs/sdtoken/doc/jwt"
	"github.com/verax-labs/sdtoken/doc/sdjwt/common"
	utils "github.com/verax-labs/sdtoken/util/maphelpers"

	gjose "github.com/go-jose/go-jose/v3"
)

// keyBindingTyp is the expected typ header of a key binding JWT.
const keyBindingTyp = "kb+jwt"

// parseOpts holds options for the presentation parsing.
type parseOpts struct {
	detachedPayload []byte
	sigVerifier     jose.SignatureVerifier

	issuerSigningAlgorithms []string
	holderSigningAlgorithms []string

	holderVerificationRequired            bool
	expectedAudienceForHolderVerification string
	expectedNonceForHolderVerification    string

	leewayForClaimsValidation time.Duration
	expectedTypHeader         string
}

// ParseOpt is the presentation parser option.
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

// WithIssuerSigningAlgorithms option is for defining secure signing algorithms (for issuer).
func WithIssuerSigningAlgorithms(algorithms []string) ParseOpt {
	return func(opts *parseOpts) {
		opts.issuerSigningAlgorithms = algorithms
	}
}

// WithHolderSigningAlgorithms option is for defining secure signing algorithms (for holder).
func WithHolderSigningAlgorithms(algorithms []string) ParseOpt {
	return func(opts *parseOpts) {
		opts.holderSigningAlgorithms = algorithms
	}
}

// WithHolderVerificationRequired option is for enforcing holder verification.
func WithHolderVerificationRequired(flag bool) ParseOpt {
	return func(opts *parseOpts) {
		opts.holderVerificationRequired = flag
	}
}

// WithExpectedAudienceForHolderVerification option is to pass expected audience for holder verification.
func WithExpectedAudienceForHolderVerification(audience string) ParseOpt {
	return func(opts *parseOpts) {
		opts.expectedAudienceForHolderVerification = audience
	}
}

// WithExpectedNonceForHolderVerification option is to pass expected nonce value for holder verification.
func WithExpectedNonceForHolderVerification(nonce string) ParseOpt {
	return func(opts *parseOpts) {
		opts.expectedNonceForHolderVerification = nonce
	}
}

// WithLeewayForClaimsValidation is an option for claims time(s) validation.
func WithLeewayForClaimsValidation(duration time.Duration) ParseOpt {
	return func(opts *parseOpts) {
		opts.leewayForClaimsValidation = duration
	}
}

// WithExpectedTypHeader is an option for issuer-signed JWT typ header validation.
func WithExpectedTypHeader(typ string) ParseOpt {
	return func(opts *parseOpts) {
		opts.expectedTypHeader = typ
	}
}

// Parse parses a combined format for presentation and returns verified claims.
// The verifier has to check that all disclosed claim values were part of the
// original, issuer-signed token.
//
// At a high level, the verifier:
//   - receives the combined format for presentation from the holder and
//     verifies the signature of the token using the issuer's public key,
//   - verifies the key binding JWT, if key binding is required by the
//     verifier's policy, using the public key included in the token,
//   - calculates the digests over the holder-selected disclosures and verifies
//     that each digest is contained in the token.
//
// The verifier will not, however, learn any claim values not disclosed in the
// disclosures.
func Parse(combinedFormatForPresentation string, opts ...ParseOpt) (map[string]interface{}, error) {
	defaultSigningAlgorithms := []string{"EdDSA", "RS256"}

	pOpts := &parseOpts{
		issuerSigningAlgorithms:   defaultSigningAlgorithms,
		holderSigningAlgorithms:   defaultSigningAlgorithms,
		leewayForClaimsValidation: jwt.DefaultLeeway,
	}

	for _, opt := range opts {
		opt(pOpts)
	}

	// Separate the presentation into the signed token, the disclosures (if any),
	// and the key binding JWT (if provided).
	cfp := common.ParseCombinedFormatForPresentation(combinedFormatForPresentation)

	signedJWT, _, err := afgjwt.Parse(cfp.SDJWT,
		afgjwt.WithSignatureVerifier(pOpts.sigVerifier),
		afgjwt.WithJWTDetachedPayload(pOpts.detachedPayload))
	if err != nil {
		return nil, fmt.Errorf("parse issuer-signed token: %w", err)
	}

	if err := validateSignedJWT(signedJWT, cfp.Disclosures, pOpts); err != nil {
		return nil, err
	}

	if err := verifyHolderVerification(signedJWT, cfp.HolderVerification, pOpts); err != nil {
		return nil, fmt.Errorf("failed to verify holder verification: %w", err)
	}

	return common.ExpandDisclosures(signedJWT.Payload, cfp.Disclosures)
}

// validateSignedJWT validates the issuer-signed token and the presented disclosures.
func validateSignedJWT(signedJWT *afgjwt.JSONWebToken, disclosures []string, pOpts *parseOpts) error {
	// Ensure that a signing algorithm was used that was deemed secure for the
	// application. The none algorithm MUST NOT be accepted.
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

	if err := checkForDuplicates(disclosures); err != nil {
		return err
	}

	return common.VerifyDisclosuresInToken(disclosures, signedJWT)
}

func checkForDuplicates(disclosures []string) error {
	seen := make(map[string]bool, len(disclosures))

	for _, disclosure := range disclosures {
		if seen[disclosure] {
			return fmt.Errorf("%w: duplicate disclosure presented", common.ErrIntegrityViolation)
		}

		seen[disclosure] = true
	}

	return nil
}

func verifyHolderVerification(sdJWT *afgjwt.JSONWebToken, keyBinding string, pOpts *parseOpts) error {
	if pOpts.holderVerificationRequired && keyBinding == "" {
		return fmt.Errorf("key binding is required")
	}

	if keyBinding == "" {
		// not required and not present - nothing to do
		return nil
	}

	signatureVerifier, err := getSignatureVerifier(utils.CopyMap(sdJWT.Payload))
	if err != nil {
		return fmt.Errorf("failed to get signature verifier from presentation claims: %w", err)
	}

	holderJWT, _, err := afgjwt.Parse(keyBinding,
		afgjwt.WithSignatureVerifier(signatureVerifier))
	if err != nil {
		return fmt.Errorf("failed to parse key binding: %w", err)
	}

	if err := verifyKeyBindingJWT(holderJWT, pOpts); err != nil {
		return fmt.Errorf("failed to verify holder JWT: %w", err)
	}

	return nil
}

func verifyKeyBindingJWT(holderJWT *afgjwt.JSONWebToken, pOpts *parseOpts) error {
	err := common.VerifySigningAlg(holderJWT.Headers, pOpts.holderSigningAlgorithms)
	if err != nil {
		return fmt.Errorf("failed to verify holder signing algorithm: %w", err)
	}

	// The typ of the key binding JWT must be kb+jwt.
	if err := common.VerifyTyp(holderJWT.Headers, keyBindingTyp); err != nil {
		return fmt.Errorf("failed to verify typ header: %w", err)
	}

	if err := common.VerifyJWT(holderJWT, pOpts.leewayForClaimsValidation); err != nil {
		return err
	}

	var bindingPayload keyBindingPayload

	d, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &bindingPayload,
		TagName:          "json",
		Squash:           true,
		WeaklyTypedInput: true,
		DecodeHook:       utils.JSONNumberToJwtNumericDate(),
	})
	if err != nil {
		return fmt.Errorf("mapstruct verifyKeyBinding. error: %w", err)
	}

	if err = d.Decode(holderJWT.Payload); err != nil {
		return fmt.Errorf("mapstruct verifyKeyBinding decode. error: %w", err)
	}

	if pOpts.expectedNonceForHolderVerification != "" && pOpts.expectedNonceForHolderVerification != bindingPayload.Nonce {
		return fmt.Errorf("nonce value '%s' does not match expected nonce value '%s'",
			bindingPayload.Nonce, pOpts.expectedNonceForHolderVerification)
	}

	if pOpts.expectedAudienceForHolderVerification != "" && pOpts.expectedAudienceForHolderVerification != bindingPayload.Audience {
		return fmt.Errorf("audience value '%s' does not match expected audience value '%s'",
			bindingPayload.Audience, pOpts.expectedAudienceForHolderVerification)
	}

	return nil
}

func getSignatureVerifier(claims map[string]interface{}) (jose.SignatureVerifier, error) {
	cnf, err := common.GetCNF(claims)
	if err != nil {
		return nil, err
	}

	return getSignatureVerifierFromCNF(cnf)
}

// getSignatureVerifierFromCNF will evolve over time as we support more cnf modes and algorithms.
func getSignatureVerifierFromCNF(cnf map[string]interface{}) (jose.SignatureVerifier, error) {
	jwkObj, ok := cnf["jwk"]
	if !ok {
		return nil, fmt.Errorf("jwk must be present in cnf")
	}

	jwkObjBytes, err := json.Marshal(jwkObj)
	if err != nil {
		return nil, fmt.Errorf("marshal jwk: %w", err)
	}

	var key gjose.JSONWebKey
	if err := key.UnmarshalJSON(jwkObjBytes); err != nil {
		return nil, fmt.Errorf("unmarshal jwk: %w", err)
	}

	return afgjwt.GetVerifier(&key)
}

// keyBindingPayload represents expected key binding payload.
type keyBindingPayload struct {
	Nonce    string           `json:"nonce,omitempty"`
	Audience string           `json:"aud,omitempty"`
	IssuedAt *jwt.NumericDate `json:"iat,omitempty"`
}
