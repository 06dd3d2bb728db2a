package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	UserIDKey    contextKey = "user_id"
	UserRolesKey contextKey = "user_roles"
)

type Claims struct {
	jwt.RegisteredClaims
	TenantID string   `json:"tenant_id"`
	Roles    []string `json:"roles"`
}

type JWTConfig struct {
	Issuer   string
	Audience string
	JWKSURL  string
	// SigningKey switches verification to HS256 with a shared secret.
	SigningKey []byte
	Skipper    func(c echo.Context) bool
}

func (cfg JWTConfig) keyfunc() (jwt.Keyfunc, []string) {
	if len(cfg.SigningKey) > 0 {
		key := cfg.SigningKey
		return func(*jwt.Token) (interface{}, error) { return key, nil }, []string{"HS256"}
	}
	url := cfg.JWKSURL
	if url == "" && cfg.Issuer != "" {
		if discovered, err := DiscoverJWKSURL(cfg.Issuer); err == nil {
			url = discovered
		}
	}
	return NewKeyCache(url, defaultJWKSCacheTTL).Keyfunc(), []string{"RS256"}
}

func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	keyfunc, methods := cfg.keyfunc()
	opts := []jwt.ParserOption{jwt.WithValidMethods(methods)}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	parser := jwt.NewParser(opts...)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Skipper != nil && cfg.Skipper(c) {
				return next(c)
			}

			tokenStr, ok := bearerToken(c.Request())
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing or malformed bearer token")
			}

			claims := &Claims{}
			token, err := parser.ParseWithClaims(tokenStr, claims, keyfunc)
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			setIdentity(c, claims.Subject, claims.TenantID, claims.Roles)
			return next(c)
		}
	}
}

// DevAuthMiddleware lets unauthenticated requests through as an admin on the
// default tenant. Requests that do carry a bearer token go to verify when it
// is set.
func DevAuthMiddleware(verify echo.MiddlewareFunc) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		verified := next
		if verify != nil {
			verified = verify(next)
		}
		return func(c echo.Context) error {
			if c.Request().Header.Get(echo.HeaderAuthorization) != "" {
				return verified(c)
			}
			setIdentity(c, "dev-user", "default", []string{RoleAdmin})
			return next(c)
		}
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get(echo.HeaderAuthorization)
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func setIdentity(c echo.Context, userID, tenantID string, roles []string) {
	// Read by the tenant middleware.
	c.Set("jwt_tenant_id", tenantID)

	ctx := c.Request().Context()
	ctx = context.WithValue(ctx, UserIDKey, userID)
	ctx = context.WithValue(ctx, UserRolesKey, roles)
	c.SetRequest(c.Request().WithContext(ctx))
}

func UserIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(UserIDKey).(string)
	return uid
}

func RolesFromContext(ctx context.Context) []string {
	roles, _ := ctx.Value(UserRolesKey).([]string)
	return roles
}
