package auth

import (
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"ifindlife/internal/apperr"
)

const (
	ContextUserID = "user_id"
	ContextRole   = "role"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

type apiError struct {
	Code    apperr.Code `json:"code"`
	Message string      `json:"message"`
}

// Claims follows the hosted auth provider's access token layout
type Claims struct {
	jwt.RegisteredClaims
	Role        string         `json:"role"`         // usually "authenticated" / "anon"
	AppMetadata map[string]any `json:"app_metadata"` // {"role":"expert"} for experts
}

// Principal is the verified caller
type Principal struct {
	UserID string
	Role   string
}

// Verifier checks HS256 access tokens issued by the auth provider
type Verifier struct {
	secret   []byte
	issuer   string
	audience string
}

func NewVerifier(secret, issuer, audience string) *Verifier {
	return &Verifier{
		secret:   []byte(secret),
		issuer:   issuer,
		audience: audience,
	}
}

// Verify parses raw and returns the principal it names
func (v *Verifier) Verify(raw string) (Principal, error) {
	if len(v.secret) == 0 {
		return Principal{}, errors.New("jwt secret is not configured")
	}
	if raw == "" {
		return Principal{}, ErrMissingToken
	}

	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || tok == nil || !tok.Valid {
		return Principal{}, ErrInvalidToken
	}

	if v.issuer != "" && claims.Issuer != v.issuer {
		return Principal{}, ErrInvalidToken
	}
	if v.audience != "" && !slices.Contains(claims.Audience, v.audience) {
		return Principal{}, ErrInvalidToken
	}
	if claims.Subject == "" {
		return Principal{}, ErrInvalidToken
	}

	role := "user"
	if claims.AppMetadata != nil {
		if s, ok := claims.AppMetadata["role"].(string); ok && s != "" {
			role = s
		}
	}

	return Principal{UserID: claims.Subject, Role: role}, nil
}

// Middleware rejects requests without a valid bearer token and stores the principal in the context
func (v *Verifier) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, apiError{
				Code:    apperr.CodeUnauthorized,
				Message: ErrMissingToken.Error(),
			})
			return
		}

		p, err := v.Verify(strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, apiError{
				Code:    apperr.CodeUnauthorized,
				Message: err.Error(),
			})
			return
		}

		c.Set(ContextUserID, p.UserID)
		c.Set(ContextRole, p.Role)
		c.Next()
	}
}

// UserID returns the authenticated user id stored by Middleware
func UserID(c *gin.Context) (string, bool) {
	if v, ok := c.Get(ContextUserID); ok {
		if s, ok := v.(string); ok && s != "" {
			return s, true
		}
	}
	return "", false
}
