/*
Copyright Verax Labs. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

/*
Package issuer assembles signed selective-disclosure tokens.

For every selectively disclosable claim the issuer creates a disclosure
(salt, claim name, claim value), hashes its transport string and places the
digest under the payload's _sd key. Array elements get two-element disclosures
(salt, value) and are replaced in the payload by {"...": digest} wrappers.
The payload carries the digest algorithm under _sd_alg and is signed with the
caller-supplied signer. Token and disclosures travel together in the combined
format for issuance.
*/
package issuer

import (
	"crypto"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	mathrand "math/rand"
	"reflect"
	"strings"
	"time"

	gjose "github.com/go-jose/go-jose/v3"
	"github.com/go-jose/go-jose/v3/jwt"

	"github.com/verax-labs/sdtoken/doc/jose"
	afgjwt "github.com/verax-labs/sdtoken/doc/jwt"
	"github.com/verax-labs/sdtoken/doc/sdjwt/common"
)

const (
	defaultHash = crypto.SHA256

	saltSizeBytes = 16

	decoyMinElements = 1
	decoyMaxElements = 4
)

var mr = mathrand.New(mathrand.NewSource(time.Now().Unix())) // nolint:gochecknoglobals

// Claims defines JSON Web Token Claims (https://tools.ietf.org/html/rfc7519#section-4)
type Claims jwt.Claims

// newOpts holds options for creating a new selective-disclosure token.
type newOpts struct {
	Subject  string
	Audience string
	JTI      string
	ID       string

	Expiry    *jwt.NumericDate
	NotBefore *jwt.NumericDate
	IssuedAt  *jwt.NumericDate

	HolderPublicKey *gjose.JSONWebKey

	HashAlg    crypto.Hash
	renderMode common.RenderMode

	getSalt func() (string, error)

	addDecoyDigests  bool
	structuredClaims bool

	nonSDClaimsMap map[string]bool
}

// NewOpt is the selective-disclosure token New option.
type NewOpt func(opts *newOpts)

// WithSaltFnc is an option for generating salt. Mostly used for testing.
// A new salt MUST be chosen for each claim independently of other salts.
func WithSaltFnc(fnc func() (string, error)) NewOpt {
	return func(opts *newOpts) {
		opts.getSalt = fnc
	}
}

// WithIssuedAt is an option for the token payload. This is a clear-text claim that is always disclosed.
func WithIssuedAt(issuedAt *jwt.NumericDate) NewOpt {
	return func(opts *newOpts) {
		opts.IssuedAt = issuedAt
	}
}

// WithAudience is an option for the token payload. This is a clear-text claim that is always disclosed.
func WithAudience(audience string) NewOpt {
	return func(opts *newOpts) {
		opts.Audience = audience
	}
}

// WithExpiry is an option for the token payload. This is a clear-text claim that is always disclosed.
func WithExpiry(expiry *jwt.NumericDate) NewOpt {
	return func(opts *newOpts) {
		opts.Expiry = expiry
	}
}

// WithNotBefore is an option for the token payload. This is a clear-text claim that is always disclosed.
func WithNotBefore(notBefore *jwt.NumericDate) NewOpt {
	return func(opts *newOpts) {
		opts.NotBefore = notBefore
	}
}

// WithSubject is an option for the token payload. This is a clear-text claim that is always disclosed.
func WithSubject(subject string) NewOpt {
	return func(opts *newOpts) {
		opts.Subject = subject
	}
}

// WithJTI is an option for the token payload. This is a clear-text claim that is always disclosed.
func WithJTI(jti string) NewOpt {
	return func(opts *newOpts) {
		opts.JTI = jti
	}
}

// WithID is an option for the token payload. This is a clear-text claim that is always disclosed.
func WithID(id string) NewOpt {
	return func(opts *newOpts) {
		opts.ID = id
	}
}

// WithHolderPublicKey embeds the holder public key under the cnf claim.
// The holder proves possession of the matching private key when presenting the token.
// The cnf claim value MUST represent only a single proof-of-possession key ("jwk" member).
func WithHolderPublicKey(jwk *gjose.JSONWebKey) NewOpt {
	return func(opts *newOpts) {
		opts.HolderPublicKey = jwk
	}
}

// WithHashAlgorithm is an option for hashing disclosures.
func WithHashAlgorithm(alg crypto.Hash) NewOpt {
	return func(opts *newOpts) {
		opts.HashAlg = alg
	}
}

// WithRenderMode selects the disclosure rendering. The digest covers the exact
// transport string, so the mode is fixed when the token is issued.
func WithRenderMode(mode common.RenderMode) NewOpt {
	return func(opts *newOpts) {
		opts.renderMode = mode
	}
}

// WithDecoyDigests is an option for adding decoy digests (default is false).
func WithDecoyDigests(flag bool) NewOpt {
	return func(opts *newOpts) {
		opts.addDecoyDigests = flag
	}
}

// WithStructuredClaims is an option for handling structured claims (default is false).
// When set, nested objects keep their structure and get their own _sd key; otherwise a
// nested object is disclosed as one opaque value.
func WithStructuredClaims(flag bool) NewOpt {
	return func(opts *newOpts) {
		opts.structuredClaims = flag
	}
}

// WithNonSelectivelyDisclosableClaims provides claim names that stay in clear text.
// Nested claims are addressed by dotted path, e.g. []string{"id", "degree.type"}.
func WithNonSelectivelyDisclosableClaims(nonSDClaims []string) NewOpt {
	return func(opts *newOpts) {
		opts.nonSDClaimsMap = common.SliceToMap(nonSDClaims)
	}
}

// New creates a new signed selective-disclosure token based on input claims.
func New(issuer string, claims interface{}, headers jose.Headers,
	signer jose.Signer, opts ...NewOpt) (*SelectiveDisclosureJWT, error) {
	nOpts := &newOpts{
		HashAlg:        defaultHash,
		getSalt:        generateSalt,
		nonSDClaimsMap: make(map[string]bool),
	}

	for _, opt := range opts {
		opt(nOpts)
	}

	claimsMap, err := afgjwt.PayloadToMap(claims)
	if err != nil {
		return nil, fmt.Errorf("convert payload to map: %w", err)
	}

	if common.KeyExistsInMap(common.SDKey, claimsMap) {
		return nil, fmt.Errorf("key '%s' cannot be present in the claims", common.SDKey)
	}

	if common.KeyExistsInMap(common.SDAlgorithmKey, claimsMap) {
		return nil, fmt.Errorf("key '%s' cannot be present in the claims", common.SDAlgorithmKey)
	}

	disclosures, digestsMap, err := createDisclosuresAndDigests("", claimsMap, nOpts)
	if err != nil {
		return nil, err
	}

	payload, err := mergeClaims(createPayload(issuer, nOpts), digestsMap)
	if err != nil {
		return nil, fmt.Errorf("merge payload and digests: %w", err)
	}

	signedJWT, err := afgjwt.NewSigned(payload, headers, signer)
	if err != nil {
		return nil, fmt.Errorf("create token from payload[%+v]: %w", payload, err)
	}

	return &SelectiveDisclosureJWT{Disclosures: disclosures, SignedJWT: signedJWT}, nil
}

// createDisclosuresAndDigests walks the claims, emitting one disclosure per
// selectively disclosable claim and returning the digest-bearing payload shape.
func createDisclosuresAndDigests(path string, claims map[string]interface{},
	opts *newOpts) ([]string, map[string]interface{}, error) {
	var disclosures []string

	var levelDisclosures []string

	digestsMap := make(map[string]interface{})

	for key, value := range claims {
		curPath := key
		if path != "" {
			curPath = path + "." + key
		}

		if opts.nonSDClaimsMap[curPath] {
			digestsMap[key] = value
			continue
		}

		kind := reflect.ValueOf(value).Kind()

		switch {
		case kind == reflect.Map && opts.structuredClaims:
			nestedDisclosures, nestedDigestsMap, err := createDisclosuresAndDigests(curPath,
				value.(map[string]interface{}), opts)
			if err != nil {
				return nil, nil, err
			}

			digestsMap[key] = nestedDigestsMap

			disclosures = append(disclosures, nestedDisclosures...)
		case kind == reflect.Array || kind == reflect.Slice:
			elementWrappers, elementDisclosures, err := createArrayElementDisclosures(value, opts)
			if err != nil {
				return nil, nil, err
			}

			digestsMap[key] = elementWrappers

			levelDisclosures = append(levelDisclosures, elementDisclosures...)
		default:
			disclosure, err := createDisclosure(key, value, opts)
			if err != nil {
				return nil, nil, fmt.Errorf("create disclosure: %w", err)
			}

			levelDisclosures = append(levelDisclosures, disclosure)
		}
	}

	disclosures = append(disclosures, levelDisclosures...)

	digests, err := createDigests(levelDisclosures, opts)
	if err != nil {
		return nil, nil, err
	}

	if len(digests) > 0 {
		digestsMap[common.SDKey] = digests
	}

	return disclosures, digestsMap, nil
}

// createArrayElementDisclosures turns every array element into a two-element disclosure
// and returns the {"...": digest} wrappers preserving element order.
func createArrayElementDisclosures(value interface{}, opts *newOpts) ([]interface{}, []string, error) {
	valSl := reflect.ValueOf(value)

	wrappers := make([]interface{}, 0, valSl.Len())

	var disclosures []string

	for i := 0; i < valSl.Len(); i++ {
		salt, err := opts.getSalt()
		if err != nil {
			return nil, nil, fmt.Errorf("generate salt: %w", err)
		}

		disclosure, err := common.NewArrayElementDisclosure(salt, valSl.Index(i).Interface(), opts.renderMode)
		if err != nil {
			return nil, nil, fmt.Errorf("create array element disclosure: %w", err)
		}

		digest, err := common.GetHash(opts.HashAlg, disclosure)
		if err != nil {
			return nil, nil, fmt.Errorf("hash disclosure: %w", err)
		}

		disclosures = append(disclosures, disclosure)
		wrappers = append(wrappers, map[string]interface{}{common.ArrayElementDigestKey: digest})
	}

	return wrappers, disclosures, nil
}

func createDisclosure(key string, value interface{}, opts *newOpts) (string, error) {
	salt, err := opts.getSalt()
	if err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	return common.NewDisclosure(salt, key, value, opts.renderMode)
}

// createDigests hashes the disclosures, mixes in decoys and shuffles, so digest order
// leaks nothing about claim order.
func createDigests(disclosures []string, opts *newOpts) ([]string, error) {
	var digests []string

	for _, disclosure := range disclosures {
		digest, err := common.GetHash(opts.HashAlg, disclosure)
		if err != nil {
			return nil, fmt.Errorf("hash disclosure: %w", err)
		}

		digests = append(digests, digest)
	}

	decoys, err := createDecoyDigests(opts)
	if err != nil {
		return nil, err
	}

	digests = append(digests, decoys...)

	mr.Shuffle(len(digests), func(i, j int) {
		digests[i], digests[j] = digests[j], digests[i]
	})

	return digests, nil
}

func createDecoyDigests(opts *newOpts) ([]string, error) {
	if !opts.addDecoyDigests {
		return nil, nil
	}

	n := mr.Intn(decoyMaxElements-decoyMinElements+1) + decoyMinElements

	var decoys []string

	for i := 0; i < n; i++ {
		salt, err := opts.getSalt()
		if err != nil {
			return nil, err
		}

		digest, err := common.GetHash(opts.HashAlg, salt)
		if err != nil {
			return nil, err
		}

		decoys = append(decoys, digest)
	}

	return decoys, nil
}

func createPayload(issuer string, nOpts *newOpts) *payload {
	var cnf map[string]interface{}
	if nOpts.HolderPublicKey != nil {
		cnf = map[string]interface{}{"jwk": nOpts.HolderPublicKey}
	}

	return &payload{
		Issuer:    issuer,
		JTI:       nOpts.JTI,
		ID:        nOpts.ID,
		Subject:   nOpts.Subject,
		Audience:  nOpts.Audience,
		IssuedAt:  nOpts.IssuedAt,
		Expiry:    nOpts.Expiry,
		NotBefore: nOpts.NotBefore,
		CNF:       cnf,
		SDAlg:     strings.ToLower(nOpts.HashAlg.String()),
	}
}

// mergeClaims flattens the registered-claims payload and the digest map into one claim
// set. Registered claims always win; a digest-map key colliding with one is an error.
func mergeClaims(registered *payload, digestsMap map[string]interface{}) (map[string]interface{}, error) {
	merged, err := afgjwt.PayloadToMap(registered)
	if err != nil {
		return nil, fmt.Errorf("convert payload to map: %w", err)
	}

	for k, v := range digestsMap {
		if _, exists := merged[k]; exists {
			return nil, fmt.Errorf("claim '%s' collides with a registered claim", k)
		}

		merged[k] = v
	}

	return merged, nil
}

// SelectiveDisclosureJWT defines a signed token together with its disclosures.
type SelectiveDisclosureJWT struct {
	SignedJWT   *afgjwt.JSONWebToken
	Disclosures []string
}

// DecodeClaims fills input c with claims of a token.
func (j *SelectiveDisclosureJWT) DecodeClaims(c interface{}) error {
	return j.SignedJWT.DecodeClaims(c)
}

// LookupStringHeader makes look up of particular header with string value.
func (j *SelectiveDisclosureJWT) LookupStringHeader(name string) string {
	return j.SignedJWT.LookupStringHeader(name)
}

// Serialize assembles the combined format for issuance.
func (j *SelectiveDisclosureJWT) Serialize(detached bool) (string, error) {
	if j.SignedJWT == nil {
		return "", errors.New("JWS serialization is supported only")
	}

	signedJWT, err := j.SignedJWT.Serialize(detached)
	if err != nil {
		return "", err
	}

	cf := common.CombinedFormatForIssuance{
		SDJWT:       signedJWT,
		Disclosures: j.Disclosures,
	}

	return cf.Serialize(), nil
}

func generateSalt() (string, error) {
	salt := make([]byte, saltSizeBytes)

	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	return base64.RawURLEncoding.EncodeToString(salt), nil
}

// payload represents the registered (always disclosed) part of the token payload.
type payload struct {
	Issuer    string           `json:"iss,omitempty"`
	Subject   string           `json:"sub,omitempty"`
	Audience  string           `json:"aud,omitempty"`
	JTI       string           `json:"jti,omitempty"`
	Expiry    *jwt.NumericDate `json:"exp,omitempty"`
	NotBefore *jwt.NumericDate `json:"nbf,omitempty"`
	IssuedAt  *jwt.NumericDate `json:"iat,omitempty"`

	// non-registered name that can be used for claims based holder binding
	ID string `json:"id,omitempty"`

	CNF   map[string]interface{} `json:"cnf,omitempty"`
	SDAlg string                 `json:"_sd_alg,omitempty"`
}
