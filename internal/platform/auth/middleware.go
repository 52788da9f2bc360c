package auth

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	PrincipalKey contextKey = "principal"
)

const (
	RolePatient = "patient"
	RoleDoctor  = "doctor"
	RoleAdmin   = "admin"
)

// Principal is the authenticated caller.
type Principal struct {
	UserID     int64
	Role       string
	HospitalID *int64
}

type Claims struct {
	jwt.RegisteredClaims
	Role       string `json:"role"`
	HospitalID *int64 `json:"hospital_id,omitempty"`
}

type JWTConfig struct {
	Issuer     string
	SigningKey []byte
}

func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			claims := &Claims{}
			opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}
			if cfg.Issuer != "" {
				opts = append(opts, jwt.WithIssuer(cfg.Issuer))
			}
			token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (interface{}, error) {
				return cfg.SigningKey, nil
			}, opts...)
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			uid, err := strconv.ParseInt(claims.Subject, 10, 64)
			if err != nil || uid <= 0 {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token subject")
			}
			if !validRole(claims.Role) {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token role")
			}

			setPrincipal(c, Principal{UserID: uid, Role: claims.Role, HospitalID: claims.HospitalID})
			return next(c)
		}
	}
}

// DevAuthMiddleware trusts X-User-ID and X-User-Role headers. Requests
// without them act as admin user 1.
func DevAuthMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p := Principal{UserID: 1, Role: RoleAdmin}
			if v := c.Request().Header.Get("X-User-ID"); v != "" {
				uid, err := strconv.ParseInt(v, 10, 64)
				if err != nil || uid <= 0 {
					return echo.NewHTTPError(http.StatusUnauthorized, "invalid X-User-ID")
				}
				p.UserID = uid
			}
			if role := c.Request().Header.Get("X-User-Role"); role != "" {
				if !validRole(role) {
					return echo.NewHTTPError(http.StatusUnauthorized, "invalid X-User-Role")
				}
				p.Role = role
			}
			setPrincipal(c, p)
			return next(c)
		}
	}
}

func validRole(r string) bool {
	return r == RolePatient || r == RoleDoctor || r == RoleAdmin
}

func setPrincipal(c echo.Context, p Principal) {
	c.Set("auth_subject", strconv.FormatInt(p.UserID, 10))
	c.SetRequest(c.Request().WithContext(WithPrincipal(c.Request().Context(), p)))
}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, PrincipalKey, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(PrincipalKey).(Principal)
	return p, ok
}

// IssueToken signs a token for p. Used by the CLI and tests.
func IssueToken(p Principal, cfg JWTConfig, claims jwt.RegisteredClaims) (string, error) {
	claims.Subject = strconv.FormatInt(p.UserID, 10)
	if cfg.Issuer != "" {
		claims.Issuer = cfg.Issuer
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: claims,
		Role:             p.Role,
		HospitalID:       p.HospitalID,
	})
	return token.SignedString(cfg.SigningKey)
}
