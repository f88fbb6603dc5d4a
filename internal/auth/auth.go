// Package auth provides bearer token authentication for the AS2 audit API
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/sirosfoundation/go-as2/internal/config"
)

// Sentinel errors for authentication failures.
// These errors are returned by [Authenticator.ValidateToken] and
// [Authenticator.ValidateRequest] to indicate specific failure modes.
var (
	// ErrNoToken indicates no Authorization header or Bearer token was provided.
	ErrNoToken = errors.New("no authorization token provided")

	// ErrInvalidToken indicates the token is malformed or has an invalid signature.
	ErrInvalidToken = errors.New("invalid authorization token")

	// ErrTokenExpired indicates the token's exp claim is in the past.
	ErrTokenExpired = errors.New("token has expired")

	// ErrInvalidAudience indicates the token's aud claim doesn't include the configured audience.
	ErrInvalidAudience = errors.New("invalid audience")

	// ErrInvalidIssuer indicates the token's iss claim doesn't match the configured issuer.
	ErrInvalidIssuer = errors.New("invalid issuer")

	// ErrInsufficientScope indicates the token lacks the configured scope.
	ErrInsufficientScope = errors.New("insufficient scope")
)

// JWKS refresh intervals. Unknown key IDs force a refresh at most once per
// minRefresh.
const (
	jwksRefresh = time.Hour
	minRefresh  = time.Minute
)

var allowedAlgorithms = map[jwa.SignatureAlgorithm]bool{
	jwa.RS256: true,
	jwa.RS384: true,
	jwa.RS512: true,
}

// Claims represents the JWT claims we care about
type Claims struct {
	Issuer    string   `json:"iss"`
	Subject   string   `json:"sub"`
	Audience  []string `json:"aud"`
	ExpiresAt int64    `json:"exp"`
	IssuedAt  int64    `json:"iat"`
	NotBefore int64    `json:"nbf,omitempty"`

	// Custom claims
	Scope string `json:"scope,omitempty"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

func claimsFromToken(tok jwt.Token) *Claims {
	c := &Claims{
		Issuer:    tok.Issuer(),
		Subject:   tok.Subject(),
		Audience:  tok.Audience(),
		ExpiresAt: unix(tok.Expiration()),
		IssuedAt:  unix(tok.IssuedAt()),
		NotBefore: unix(tok.NotBefore()),
	}
	c.Scope = stringClaim(tok, "scope")
	c.Email = stringClaim(tok, "email")
	c.Name = stringClaim(tok, "name")
	return c
}

func unix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func stringClaim(tok jwt.Token, name string) string {
	v, ok := tok.Get(name)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// HasAudience checks if the claims include the given audience
func (c *Claims) HasAudience(aud string) bool {
	for _, a := range c.Audience {
		if a == aud {
			return true
		}
	}
	return false
}

// HasScope checks if the space-separated scope claim includes scope
func (c *Claims) HasScope(scope string) bool {
	for _, s := range strings.Fields(c.Scope) {
		if s == scope {
			return true
		}
	}
	return false
}

// IsExpired checks if the token has expired
func (c *Claims) IsExpired(now time.Time) bool {
	return now.Unix() > c.ExpiresAt
}

// Authenticator handles JWT validation
type Authenticator struct {
	config *config.OAuth2Config
	logger *slog.Logger
	now    func() time.Time

	cache  *jwk.Cache
	cancel context.CancelFunc

	refreshMu   sync.Mutex
	refreshedAt time.Time
}

// NewAuthenticator creates a new JWT authenticator. When authentication is
// configured it starts a JWKS cache that lives until Close.
func NewAuthenticator(cfg *config.OAuth2Config, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Authenticator{
		config: cfg,
		logger: logger,
		now:    time.Now,
	}
	if !a.IsEnabled() {
		return a
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.cache = jwk.NewCache(ctx)
	if err := a.cache.Register(cfg.JWKSUrl,
		jwk.WithHTTPClient(&http.Client{Timeout: 10 * time.Second}),
		jwk.WithRefreshInterval(jwksRefresh),
	); err != nil {
		logger.Error("failed to register JWKS", slog.String("url", cfg.JWKSUrl), slog.String("error", err.Error()))
	}
	a.refreshedAt = a.now()
	return a
}

// IsEnabled returns true if OAuth2 authentication is configured
func (a *Authenticator) IsEnabled() bool {
	return a.config != nil && a.config.Issuer != ""
}

// Close stops the JWKS cache.
func (a *Authenticator) Close() {
	if a.cancel != nil {
		a.cancel()
	}
}

// Middleware rejects requests without a valid bearer token. Validated
// claims are available through ClaimsFromContext. When authentication is
// not configured, requests pass through unchanged.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	if !a.IsEnabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := a.ValidateRequest(r)
		if err != nil {
			status := http.StatusUnauthorized
			if errors.Is(err, ErrInsufficientScope) {
				status = http.StatusForbidden
			}
			a.logger.Warn("request rejected",
				slog.String("path", r.URL.Path),
				slog.String("error", err.Error()))
			w.Header().Set("WWW-Authenticate", `Bearer realm="as2"`)
			http.Error(w, http.StatusText(status), status)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithClaims(r.Context(), claims)))
	})
}

// ValidateRequest extracts and validates the JWT from an HTTP request
func (a *Authenticator) ValidateRequest(r *http.Request) (*Claims, error) {
	token := extractBearerToken(r)
	if token == "" {
		return nil, ErrNoToken
	}
	return a.ValidateToken(r.Context(), token)
}

// ValidateToken verifies the signature of a JWT against the issuer's JWKS,
// validates its registered claims and returns them.
func (a *Authenticator) ValidateToken(ctx context.Context, token string) (*Claims, error) {
	if !a.IsEnabled() {
		return nil, fmt.Errorf("%w: authentication is not configured", ErrInvalidToken)
	}

	msg, err := jws.Parse([]byte(token))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if len(msg.Signatures()) != 1 {
		return nil, fmt.Errorf("%w: expected one signature", ErrInvalidToken)
	}
	headers := msg.Signatures()[0].ProtectedHeaders()
	alg := headers.Algorithm()
	if !allowedAlgorithms[alg] {
		return nil, fmt.Errorf("%w: unsupported algorithm: %s", ErrInvalidToken, alg)
	}

	key, err := a.getKey(ctx, headers.KeyID())
	if err != nil {
		return nil, fmt.Errorf("%w: getting key: %v", ErrInvalidToken, err)
	}

	opts := []jwt.ParseOption{
		jwt.WithKey(alg, key),
		jwt.WithValidate(true),
		jwt.WithClock(jwt.ClockFunc(a.now)),
		jwt.WithIssuer(a.config.Issuer),
	}
	if a.config.Audience != "" {
		opts = append(opts, jwt.WithAudience(a.config.Audience))
	}
	tok, err := jwt.Parse([]byte(token), opts...)
	if err != nil {
		return nil, classify(err)
	}

	claims := claimsFromToken(tok)
	if a.config.RequiredScope != "" && !claims.HasScope(a.config.RequiredScope) {
		return nil, ErrInsufficientScope
	}
	return claims, nil
}

// classify maps jwt validation failures to the package sentinels.
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired()):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrInvalidIssuer()):
		return ErrInvalidIssuer
	case errors.Is(err, jwt.ErrInvalidAudience()):
		return ErrInvalidAudience
	}
	return fmt.Errorf("%w: %v", ErrInvalidToken, err)
}

// getKey returns the key for kid from the cached JWKS. An unknown kid
// refreshes the set once per minRefresh to pick up rotated keys.
func (a *Authenticator) getKey(ctx context.Context, kid string) (jwk.Key, error) {
	set, err := a.cache.Get(ctx, a.config.JWKSUrl)
	if err != nil {
		return nil, fmt.Errorf("fetching JWKS: %w", err)
	}
	if key, ok := set.LookupKeyID(kid); ok {
		return key, nil
	}

	a.refreshMu.Lock()
	defer a.refreshMu.Unlock()
	if a.now().Sub(a.refreshedAt) < minRefresh {
		return nil, fmt.Errorf("key not found: %s", kid)
	}
	a.refreshedAt = a.now()
	if set, err = a.cache.Refresh(ctx, a.config.JWKSUrl); err != nil {
		return nil, fmt.Errorf("refreshing JWKS: %w", err)
	}
	a.logger.Info("refreshed JWKS", slog.Int("keys", set.Len()))

	key, ok := set.LookupKeyID(kid)
	if !ok {
		return nil, fmt.Errorf("key not found: %s", kid)
	}
	return key, nil
}

// extractBearerToken extracts the Bearer token from the Authorization header
func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}

// Context key for storing claims
type contextKey string

const ClaimsContextKey contextKey = "auth_claims"

// ClaimsFromContext retrieves claims from context
func ClaimsFromContext(ctx context.Context) *Claims {
	if v, ok := ctx.Value(ClaimsContextKey).(*Claims); ok {
		return v
	}
	return nil
}

// ContextWithClaims adds claims to context
func ContextWithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, ClaimsContextKey, claims)
}
