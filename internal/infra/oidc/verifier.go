// Package oidc verifies RS256 ID tokens issued by an OpenID Connect provider
// so the API can accept tokens from an external identity service.
package oidc

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"
)

var (
	ErrInvalidToken = errors.New("invalid id token")
	ErrTokenExpired = errors.New("id token expired")
)

const keyTTL = time.Hour

// Claims is the subset of ID token claims the API uses.
type Claims struct {
	Subject string
	Email   string
	Locale  string
	Expires time.Time
}

type Options struct {
	Issuer string
	// Audience is the client id the tokens must be issued for; empty skips
	// the check.
	Audience string
	// JWKSURL skips discovery when set.
	JWKSURL    string
	HTTPClient *http.Client
	Now        func() time.Time
}

// Verifier keeps the provider's signing keys for an hour and refetches them
// early when a token names a key id it has not seen.
type Verifier struct {
	issuer   string
	audience string
	jwksURL  string
	client   *http.Client
	now      func() time.Time

	mu   sync.Mutex
	keys keySet
}

type keySet struct {
	byID    map[string]*rsa.PublicKey
	fetched time.Time
}

type tokenHeader struct {
	Alg string `json:"alg"`
	Kid string `json:"kid"`
}

type tokenClaims struct {
	Issuer   string   `json:"iss"`
	Subject  string   `json:"sub"`
	Audience audience `json:"aud"`
	Email    string   `json:"email"`
	Locale   string   `json:"locale"`
	Expiry   int64    `json:"exp"`
}

// audience accepts both the string and the array form of "aud".
type audience []string

func (a *audience) UnmarshalJSON(data []byte) error {
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte("[")) {
		var many []string
		if err := json.Unmarshal(data, &many); err != nil {
			return err
		}
		*a = many
		return nil
	}
	var one string
	if err := json.Unmarshal(data, &one); err != nil {
		return err
	}
	*a = audience{one}
	return nil
}

func (a audience) contains(id string) bool {
	for _, v := range a {
		if v == id {
			return true
		}
	}
	return false
}

func NewVerifier(opts Options) (*Verifier, error) {
	issuer := strings.TrimRight(strings.TrimSpace(opts.Issuer), "/")
	if issuer == "" {
		return nil, errors.New("oidc: issuer is required")
	}
	v := &Verifier{
		issuer:   issuer,
		audience: strings.TrimSpace(opts.Audience),
		jwksURL:  strings.TrimSpace(opts.JWKSURL),
		client:   opts.HTTPClient,
		now:      opts.Now,
	}
	if v.client == nil {
		v.client = &http.Client{Timeout: 10 * time.Second}
	}
	if v.now == nil {
		v.now = time.Now
	}
	return v, nil
}

// Verify checks the signature, issuer, audience and expiry of token.
func (v *Verifier) Verify(ctx context.Context, token string) (Claims, error) {
	segments := strings.Split(token, ".")
	if len(segments) != 3 {
		return Claims{}, ErrInvalidToken
	}
	var head tokenHeader
	var body tokenClaims
	if decodeSegment(segments[0], &head) != nil || decodeSegment(segments[1], &body) != nil {
		return Claims{}, ErrInvalidToken
	}
	sig, err := base64.RawURLEncoding.DecodeString(segments[2])
	if err != nil || head.Alg != "RS256" {
		return Claims{}, ErrInvalidToken
	}

	key, err := v.key(ctx, head.Kid)
	if err != nil {
		return Claims{}, err
	}
	digest := sha256.Sum256([]byte(segments[0] + "." + segments[1]))
	if rsa.VerifyPKCS1v15(key, crypto.SHA256, digest[:], sig) != nil {
		return Claims{}, ErrInvalidToken
	}

	switch {
	case strings.TrimRight(body.Issuer, "/") != v.issuer:
		return Claims{}, fmt.Errorf("%w: issuer", ErrInvalidToken)
	case v.audience != "" && !body.Audience.contains(v.audience):
		return Claims{}, fmt.Errorf("%w: audience", ErrInvalidToken)
	case strings.TrimSpace(body.Subject) == "":
		return Claims{}, fmt.Errorf("%w: subject", ErrInvalidToken)
	}
	claims := Claims{Subject: body.Subject, Email: body.Email, Locale: body.Locale}
	if body.Expiry > 0 {
		claims.Expires = time.Unix(body.Expiry, 0)
		if v.now().After(claims.Expires) {
			return Claims{}, ErrTokenExpired
		}
	}
	return claims, nil
}

// key returns the signing key named kid, refreshing the set when it is stale
// or does not know kid. At most one fetch happens per call.
func (v *Verifier) key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	stale := len(v.keys.byID) == 0 || v.now().Sub(v.keys.fetched) >= keyTTL
	if !stale {
		if k, ok := v.keys.byID[kid]; ok {
			return k, nil
		}
	}
	set, err := v.fetchKeys(ctx)
	if err != nil {
		return nil, err
	}
	v.keys = set
	if k, ok := set.byID[kid]; ok {
		return k, nil
	}
	return nil, fmt.Errorf("%w: unknown kid %q", ErrInvalidToken, kid)
}

func (v *Verifier) fetchKeys(ctx context.Context) (keySet, error) {
	uri := v.jwksURL
	if uri == "" {
		var discovery struct {
			JWKSURI string `json:"jwks_uri"`
		}
		if err := v.get(ctx, v.issuer+"/.well-known/openid-configuration", &discovery); err != nil {
			return keySet{}, fmt.Errorf("oidc: discovery: %w", err)
		}
		if discovery.JWKSURI == "" {
			return keySet{}, errors.New("oidc: discovery document has no jwks_uri")
		}
		uri = discovery.JWKSURI
	}

	var doc struct {
		Keys []struct {
			Kid string `json:"kid"`
			Kty string `json:"kty"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := v.get(ctx, uri, &doc); err != nil {
		return keySet{}, fmt.Errorf("oidc: fetch keys: %w", err)
	}
	set := keySet{byID: make(map[string]*rsa.PublicKey), fetched: v.now()}
	for _, k := range doc.Keys {
		if k.Kty != "RSA" {
			continue
		}
		if pub, err := publicKey(k.N, k.E); err == nil {
			set.byID[k.Kid] = pub
		}
	}
	if len(set.byID) == 0 {
		return keySet{}, errors.New("oidc: no rsa keys fetched")
	}
	return set, nil
}

func (v *Verifier) get(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func publicKey(modulus, exponent string) (*rsa.PublicKey, error) {
	n, err := base64.RawURLEncoding.DecodeString(modulus)
	if err != nil {
		return nil, err
	}
	e, err := base64.RawURLEncoding.DecodeString(exponent)
	if err != nil {
		return nil, err
	}
	exp := new(big.Int).SetBytes(e)
	if exp.Sign() == 0 || !exp.IsInt64() || exp.Int64() > 1<<31-1 {
		return nil, errors.New("invalid exponent")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(exp.Int64())}, nil
}

func decodeSegment(seg string, out any) error {
	raw, err := base64.RawURLEncoding.DecodeString(seg)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
