package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"chargebridge/internal/cache"
	"chargebridge/internal/cobot"
	"chargebridge/internal/seal"
	"chargebridge/internal/storage"
)

type contextKey string

const principalKey contextKey = "principal"

// SessionCredentials is what a bearer token carries, whether it arrived as a
// signed JWT from the browser flow or as a sealed token from the iframe flow.
type SessionCredentials struct {
	SpaceID         string `json:"space_id"`
	SpaceSubdomain  string `json:"space_subdomain"`
	UserAccessToken string `json:"user_access_token"`
}

type sessionClaims struct {
	jwt.RegisteredClaims
	SessionCredentials
}

// Principal is the authenticated request context: the acting admin plus the
// space they operate on.
type Principal struct {
	SpaceID         string
	SpaceSubdomain  string
	UserAccessToken string
	User            *cobot.UserDetails
	Settings        *storage.SpaceSettings
}

// UserFetcher resolves an access token to its user record.
type UserFetcher interface {
	GetUserDetails(ctx context.Context, accessToken string) (*cobot.UserDetails, error)
}

// Authenticator validates bearer tokens and resolves the request principal.
type Authenticator struct {
	cobot     UserFetcher
	sealer    *seal.Sealer
	settings  *storage.SettingsStore
	users     *cache.TTL[string, *cobot.UserDetails]
	jwtSecret []byte
	tokenTTL  time.Duration
	logger    *zap.Logger
}

// NewAuthenticator builds the authenticator. userTTL bounds how stale the
// cached user record may be.
func NewAuthenticator(fetcher UserFetcher, sealer *seal.Sealer, settings *storage.SettingsStore, jwtSecret string, tokenTTL, userTTL time.Duration, logger *zap.Logger) *Authenticator {
	return &Authenticator{
		cobot:     fetcher,
		sealer:    sealer,
		settings:  settings,
		users:     cache.New[string, *cobot.UserDetails](userTTL),
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  tokenTTL,
		logger:    logger,
	}
}

// IssueToken signs session credentials into a bearer token for the browser.
func (a *Authenticator) IssueToken(creds SessionCredentials, now time.Time) (string, error) {
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.tokenTTL)),
		},
		SessionCredentials: creds,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.jwtSecret)
}

func (a *Authenticator) decode(token string) (*SessionCredentials, error) {
	var claims sessionClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return a.jwtSecret, nil
	})
	if err == nil && parsed.Valid {
		return &claims.SessionCredentials, nil
	}

	// Iframe tokens are sealed rather than signed.
	var creds SessionCredentials
	if err := a.sealer.Unseal(token, &creds); err != nil {
		return nil, err
	}
	return &creds, nil
}

func (a *Authenticator) userDetails(ctx context.Context, accessToken string) (*cobot.UserDetails, error) {
	if user, ok := a.users.Get(accessToken); ok {
		return user, nil
	}
	user, err := a.cobot.GetUserDetails(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	a.users.Set(accessToken, user)
	return user, nil
}

// Middleware authenticates the request and requires the user to be an admin
// of the target space.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := ""
		switch authHeader := r.Header.Get("Authorization"); {
		case authHeader != "":
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				http.Error(w, "invalid authorization header", http.StatusUnauthorized)
				return
			}
			token = strings.TrimSpace(parts[1])
		case r.URL.Query().Get("token") != "":
			// Browsers cannot attach headers to websocket connects.
			token = r.URL.Query().Get("token")
		default:
			http.Error(w, "missing authorization header", http.StatusUnauthorized)
			return
		}

		creds, err := a.decode(token)
		if err != nil {
			if !errors.Is(err, seal.ErrExpired) && !errors.Is(err, seal.ErrInvalid) {
				a.logger.Debug("token decode failed", zap.Error(err))
			}
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		user, err := a.userDetails(r.Context(), creds.UserAccessToken)
		if err != nil {
			a.logger.Warn("user lookup failed", zap.Error(err))
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		if !user.IsAdminOf(creds.SpaceSubdomain) {
			http.Error(w, "not an admin of this space", http.StatusForbidden)
			return
		}

		settings, err := a.settings.Get(r.Context(), creds.SpaceID)
		if err != nil {
			a.logger.Error("settings lookup failed", zap.String("space_id", creds.SpaceID), zap.Error(err))
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		if settings == nil {
			http.Error(w, "space is not installed", http.StatusForbidden)
			return
		}

		principal := &Principal{
			SpaceID:         creds.SpaceID,
			SpaceSubdomain:  creds.SpaceSubdomain,
			UserAccessToken: creds.UserAccessToken,
			User:            user,
			Settings:        settings,
		}
		next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), principal)))
	})
}

// ContextWithPrincipal attaches a principal to ctx.
func ContextWithPrincipal(ctx context.Context, principal *Principal) context.Context {
	return context.WithValue(ctx, principalKey, principal)
}

// PrincipalFromContext retrieves the authenticated principal.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	principal, ok := ctx.Value(principalKey).(*Principal)
	return principal, ok
}
