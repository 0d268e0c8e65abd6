// Package auth issues and verifies the HS256 bearer tokens that protect the
// management API. Revoked token ids are remembered in Redis when it is
// configured, so a revocation holds across instances.
package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"webhook-relay/internal/common/errors"
	commonhttp "webhook-relay/internal/common/http"
	"webhook-relay/internal/common/logging"
	"webhook-relay/internal/common/utils"
)

const (
	// Issuer is stamped into and required on every token.
	Issuer = "webhook-relay"

	// DefaultTTL is the lifetime of an issued token.
	DefaultTTL = 24 * time.Hour

	minSecretLength = 32
	revokedPrefix   = "jwt:revoked:"
)

// Claims are the claims of an admin token.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// RevocationStore keeps revoked token ids.
type RevocationStore interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string) (string, error)
}

// Auth signs and validates tokens.
type Auth struct {
	secret  []byte
	revoked RevocationStore
	logger  logging.Logger
	now     func() time.Time
}

// Option configures an Auth.
type Option func(*Auth)

// WithRevocationStore enables revocation through store.
func WithRevocationStore(store RevocationStore) Option {
	return func(a *Auth) { a.revoked = store }
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(a *Auth) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithClock overrides the clock used for issuing and validating.
func WithClock(now func() time.Time) Option {
	return func(a *Auth) {
		if now != nil {
			a.now = now
		}
	}
}

type contextKey struct{}

// New creates an Auth signing with secret.
func New(secret string, opts ...Option) (*Auth, error) {
	if len(secret) < minSecretLength {
		return nil, errors.ConfigError("JWT secret must be at least 32 characters long")
	}
	a := &Auth{
		secret: []byte(secret),
		logger: logging.Component("auth"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// GenerateJWT issues a token for subject. A non-positive ttl uses DefaultTTL.
func (a *Auth) GenerateJWT(subject, role string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := a.now()
	claims := &Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        utils.NewEventID(),
			Subject:   subject,
			Issuer:    Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", errors.InternalError("failed to sign token", err)
	}
	return signed, nil
}

// ValidateJWT parses tokenString and checks its signature, issuer, expiry
// and revocation.
func (a *Auth) ValidateJWT(ctx context.Context, tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, errors.UnauthorizedError("missing bearer token")
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return nil, errors.UnauthorizedError("invalid token")
	}

	if a.revoked != nil && claims.ID != "" {
		value, err := a.revoked.Get(ctx, revokedPrefix+claims.ID)
		if err == nil && value != "" {
			return nil, errors.UnauthorizedError("token has been revoked")
		}
	}
	return claims, nil
}

// Revoke invalidates a valid token until it would have expired.
func (a *Auth) Revoke(ctx context.Context, tokenString string) error {
	if a.revoked == nil {
		return errors.UnavailableError("token revocation requires Redis", nil)
	}
	claims, err := a.ValidateJWT(ctx, tokenString)
	if err != nil {
		return err
	}

	remaining := claims.ExpiresAt.Time.Sub(a.now())
	if remaining <= 0 {
		return nil
	}
	if err := a.revoked.Set(ctx, revokedPrefix+claims.ID, "1", remaining); err != nil {
		return errors.UnavailableError("failed to store revocation", err)
	}
	a.logger.Info("Token revoked", logging.String("subject", claims.Subject))
	return nil
}

// TokenFromRequest returns the bearer token of r.
func TokenFromRequest(r *http.Request) string {
	const prefix = "bearer "
	value := r.Header.Get("Authorization")
	if len(value) > len(prefix) && strings.EqualFold(value[:len(prefix)], prefix) {
		return strings.TrimSpace(value[len(prefix):])
	}
	return ""
}

// RequireAuth rejects requests without a valid bearer token and stores the
// claims in the request context.
func (a *Auth) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := a.ValidateJWT(r.Context(), TokenFromRequest(r))
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="webhook-relay"`)
			commonhttp.WriteError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), contextKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClaimsFromContext returns the claims stored by RequireAuth.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(contextKey{}).(*Claims)
	return claims, ok
}
