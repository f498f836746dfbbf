package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Authenticator validates HS256 bearer tokens.
type Authenticator struct {
	secret  []byte
	subject string
}

// NewAuthenticator returns nil when secret is empty, which disables auth.
// When subject is set, tokens must carry that "sub" claim.
func NewAuthenticator(secret, subject string) *Authenticator {
	if secret == "" {
		return nil
	}
	return &Authenticator{secret: []byte(secret), subject: subject}
}

// Middleware rejects requests without a valid bearer token.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "OPTIONS" {
			next.ServeHTTP(w, r)
			return
		}
		if err := a.Verify(r.Header.Get("Authorization")); err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="prreview"`)
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Verify checks an Authorization header value.
func (a *Authenticator) Verify(header string) error {
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		return errors.New("missing bearer token")
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.subject != "" {
		opts = append(opts, jwt.WithSubject(a.subject))
	}

	_, err := jwt.Parse(strings.TrimSpace(raw), func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return errors.New("invalid token")
	}
	return nil
}

// NewToken signs an HS256 token for subject. A zero ttl omits the expiry.
func NewToken(secret, subject string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("jwt secret is not configured")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"iat": now.Unix(),
	}
	if subject != "" {
		claims["sub"] = subject
	}
	if ttl != 0 {
		claims["exp"] = now.Add(ttl).Unix()
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
