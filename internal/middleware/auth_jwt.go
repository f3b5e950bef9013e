package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// TokenClaims is the HS256 payload issued by the account service. Sub is the
// requester id that owns the submitted videos.
type TokenClaims struct {
	Sub    string `json:"sub"`
	Locale string `json:"locale,omitempty"`
	Exp    int64  `json:"exp,omitempty"`
	Issuer string `json:"iss,omitempty"`
}

type userKey string

const (
	userIDKey userKey = "user_id"
)

type jwtHeader struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
}

func SignJWT(secret string, claims TokenClaims) (string, error) {
	headerJSON, err := json.Marshal(jwtHeader{Alg: "HS256", Typ: "JWT"})
	if err != nil {
		return "", err
	}
	payloadJSON, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	data := base64.RawURLEncoding.EncodeToString(headerJSON) + "." + base64.RawURLEncoding.EncodeToString(payloadJSON)
	return data + "." + hmacSign(secret, data), nil
}

func hmacSign(secret, data string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(data))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// VerifyJWT checks the signature, algorithm, expiry and, when issuer is not
// empty, the iss claim.
func VerifyJWT(secret, issuer, token string, now time.Time) (*TokenClaims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, ErrInvalidToken
	}
	expected := hmacSign(secret, parts[0]+"."+parts[1])
	if !hmac.Equal([]byte(expected), []byte(parts[2])) {
		return nil, ErrInvalidToken
	}
	rawHeader, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, ErrInvalidToken
	}
	var header jwtHeader
	if err := json.Unmarshal(rawHeader, &header); err != nil || header.Alg != "HS256" {
		return nil, ErrInvalidToken
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, ErrInvalidToken
	}
	var claims TokenClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, ErrInvalidToken
	}
	if claims.Exp != 0 && now.Unix() > claims.Exp {
		return nil, ErrTokenExpired
	}
	if issuer != "" && claims.Issuer != issuer {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Sub) == "" {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}

// TokenVerifier turns a bearer token into claims.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*TokenClaims, error)
}

type TokenVerifierFunc func(ctx context.Context, token string) (*TokenClaims, error)

func (f TokenVerifierFunc) Verify(ctx context.Context, token string) (*TokenClaims, error) {
	return f(ctx, token)
}

// HMACVerifier accepts HS256 tokens signed with Secret.
type HMACVerifier struct {
	Secret string
	Issuer string
}

func (v HMACVerifier) Verify(_ context.Context, token string) (*TokenClaims, error) {
	return VerifyJWT(v.Secret, v.Issuer, token, time.Now())
}

// AuthJWT requires an HS256 bearer token.
func AuthJWT(secret, issuer string) func(http.Handler) http.Handler {
	return AuthBearer(HMACVerifier{Secret: secret, Issuer: issuer})
}

// AuthBearer requires a bearer token accepted by one of verifiers and stores
// its subject as the requester id. A locale claim overrides the negotiated
// one. Verifiers are tried in order; the first error is reported.
func AuthBearer(verifiers ...TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				unauthorized(w, "missing authorization")
				return
			}
			scheme, token, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") {
				unauthorized(w, "invalid authorization")
				return
			}
			claims, err := verifyAny(r.Context(), verifiers, strings.TrimSpace(token))
			if err != nil {
				unauthorized(w, err.Error())
				return
			}
			ctx := context.WithValue(r.Context(), userIDKey, claims.Sub)
			if locale, ok := NormalizeLocale(claims.Locale); ok {
				ctx = context.WithValue(ctx, LocaleKey, locale)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func verifyAny(ctx context.Context, verifiers []TokenVerifier, token string) (*TokenClaims, error) {
	firstErr := ErrInvalidToken
	for i, v := range verifiers {
		claims, err := v.Verify(ctx, token)
		if err == nil && claims != nil && strings.TrimSpace(claims.Sub) != "" {
			return claims, nil
		}
		if err == nil {
			err = ErrInvalidToken
		}
		if i == 0 {
			firstErr = err
		}
	}
	return nil, firstErr
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="videos"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized", "message": msg})
}

func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

func ContextWithUserID(ctx context.Context, userID string) context.Context {
	if strings.TrimSpace(userID) == "" {
		return ctx
	}
	return context.WithValue(ctx, userIDKey, userID)
}
