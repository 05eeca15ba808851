package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"vivarium/internal/core"
	"vivarium/pkg/domain"
)

type contextKey string

const actorKey contextKey = "actor"

// Authenticator resolves a token subject to an active user.
type Authenticator interface {
	Authenticate(ctx context.Context, userID string) (domain.User, error)
}

// JWTAuth validates HS256 bearer tokens whose subject is a user id and puts
// the resolved user into the request context. Resolved users are cached for
// a short TTL.
type JWTAuth struct {
	secret []byte
	users  Authenticator
	cache  *expirable.LRU[string, domain.User]
	logger core.Logger
	leeway time.Duration
}

// NewJWTAuth constructs the middleware. size and ttl bound the principal cache.
func NewJWTAuth(secret []byte, users Authenticator, size int, ttl time.Duration, logger core.Logger) (*JWTAuth, error) {
	if len(secret) == 0 {
		return nil, errors.New("jwt secret required")
	}
	if users == nil {
		return nil, errors.New("authenticator required")
	}
	if size < 1 {
		size = 1
	}
	return &JWTAuth{
		secret: secret,
		users:  users,
		cache:  expirable.NewLRU[string, domain.User](size, nil, ttl),
		logger: logger,
		leeway: 30 * time.Second,
	}, nil
}

// Middleware rejects requests without a valid bearer token.
func (a *JWTAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		subject, err := a.parse(strings.TrimSpace(token))
		if err != nil {
			a.logger.Debug("token rejected", "error", err, "remote_addr", r.RemoteAddr)
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		user, err := a.principal(r.Context(), subject)
		if err != nil {
			var nf domain.ErrNotFound
			if errors.As(err, &nf) || errors.Is(err, core.ErrUserInactive) {
				writeError(w, http.StatusUnauthorized, "user blocked or deleted")
				return
			}
			writeServiceError(w, a.logger, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey, user)))
	})
}

// Forget drops a cached principal so the next request re-reads the user.
func (a *JWTAuth) Forget(userID string) {
	a.cache.Remove(userID)
}

func (a *JWTAuth) parse(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired(), jwt.WithLeeway(a.leeway))
	if err != nil {
		return "", err
	}
	if !parsed.Valid {
		return "", errors.New("token invalid")
	}
	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return "", errors.New("token has no subject")
	}
	return subject, nil
}

func (a *JWTAuth) principal(ctx context.Context, userID string) (domain.User, error) {
	if user, ok := a.cache.Get(userID); ok {
		return user, nil
	}
	user, err := a.users.Authenticate(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}
	a.cache.Add(userID, user)
	return user, nil
}

// IssueToken signs an HS256 token for userID valid for ttl from now.
func IssueToken(secret []byte, userID string, now time.Time, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("jwt secret required")
	}
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    "vivarium",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ActorFromContext returns the authenticated user placed by the middleware.
func ActorFromContext(ctx context.Context) (domain.User, bool) {
	user, ok := ctx.Value(actorKey).(domain.User)
	return user, ok
}
