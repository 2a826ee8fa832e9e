package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/YoshitsuguKoike/repairdesk/internal/domain/model/access"
)

// TechnicianClaims are the claims of a technician bearer token
type TechnicianClaims struct {
	ShopID string `json:"shop_id"`
	jwt.RegisteredClaims
}

// Authenticator verifies HS256 bearer tokens and attaches the caller's
// principal to the request context
type Authenticator struct {
	secret []byte
	parser *jwt.Parser
}

// NewAuthenticator creates an authenticator. An empty secret accepts no
// bearer token, so every caller is anonymous.
func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithLeeway(30*time.Second),
		),
	}
}

// Authenticate resolves a raw bearer token to a technician principal
func (a *Authenticator) Authenticate(raw string) (access.Principal, error) {
	if len(a.secret) == 0 {
		return access.Anonymous, errors.New("bearer tokens are not accepted")
	}
	claims := &TechnicianClaims{}
	_, err := a.parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	})
	if err != nil {
		return access.Anonymous, fmt.Errorf("verify bearer token: %w", err)
	}
	if claims.Subject == "" || claims.ShopID == "" {
		return access.Anonymous, errors.New("bearer token lacks sub or shop_id")
	}
	return access.Technician(claims.Subject, claims.ShopID), nil
}

// Sign mints a technician token. The CLI and tests use it.
func (a *Authenticator) Sign(subject, shopID string, ttl time.Duration, now time.Time) (string, error) {
	if len(a.secret) == 0 {
		return "", errors.New("no signing secret configured")
	}
	claims := TechnicianClaims{
		ShopID: shopID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  subject,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Middleware attaches the principal. No Authorization header means an
// anonymous caller; a header that does not verify is rejected with 401.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r.WithContext(access.WithPrincipal(r.Context(), access.Anonymous)))
			return
		}
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "expected a bearer token")
			return
		}
		p, err := a.Authenticate(strings.TrimSpace(raw))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(access.WithPrincipal(r.Context(), p)))
	})
}

// requireTechnician rejects anonymous callers of technician routes
func requireTechnician(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !access.FromContext(r.Context()).IsTechnician() {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "technician credentials required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
