package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultHeader is the header carrying the shared secret.
const DefaultHeader = "api-key"

const errInvalidKey = "Invalid or missing API Key"

type Claims struct {
	jwt.RegisteredClaims
}

// SecretMiddleware admits a request that presents the configured shared
// secret, or, when a signing secret is set, a valid HS256 bearer token.
type SecretMiddleware struct {
	keyHash   [sha256.Size]byte
	headers   []string
	jwtSecret []byte
}

func NewSecretMiddleware(apiKey, headerName, jwtSecret string) *SecretMiddleware {
	if headerName == "" {
		headerName = DefaultHeader
	}
	headers := []string{headerName}
	if !strings.EqualFold(headerName, "X-API-Key") {
		headers = append(headers, "X-API-Key")
	}
	m := &SecretMiddleware{
		keyHash: sha256.Sum256([]byte(apiKey)),
		headers: headers,
	}
	if jwtSecret != "" {
		m.jwtSecret = []byte(jwtSecret)
	}
	return m
}

// Check reports whether r carries valid credentials.
func (m *SecretMiddleware) Check(r *http.Request) (*Claims, bool) {
	for _, h := range m.headers {
		if key := r.Header.Get(h); key != "" && m.matchKey(key) {
			return nil, true
		}
	}

	if m.jwtSecret == nil {
		return nil, false
	}
	tokenStr := extractBearerToken(r)
	if tokenStr == "" {
		return nil, false
	}
	claims, err := m.parseToken(tokenStr)
	if err != nil {
		return nil, false
	}
	return claims, true
}

// matchKey compares digests so the comparison time does not depend on where
// the inputs differ or on their lengths.
func (m *SecretMiddleware) matchKey(key string) bool {
	sum := sha256.Sum256([]byte(key))
	return subtle.ConstantTimeCompare(sum[:], m.keyHash[:]) == 1
}

func (m *SecretMiddleware) parseToken(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

func (m *SecretMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := m.Check(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, errInvalidKey)
			return
		}
		ctx := r.Context()
		if claims != nil {
			ctx = context.WithValue(ctx, claimsKey, claims)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type ctxKey string

const claimsKey ctxKey = "claims"

// ClaimsFromContext returns the bearer claims, or nil when the request was
// admitted by shared secret.
func ClaimsFromContext(ctx context.Context) *Claims {
	c, _ := ctx.Value(claimsKey).(*Claims)
	return c
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
