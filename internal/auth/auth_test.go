package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, secret string, claims Claims) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return raw
}

func TestVerifierAcceptsValidToken(t *testing.T) {
	v := NewVerifier("secret", "issuer", "authenticated")
	raw := signToken(t, "secret", Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "expert-1",
			Issuer:    "issuer",
			Audience:  jwt.ClaimStrings{"authenticated"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		AppMetadata: map[string]any{"role": "expert"},
	})

	p, err := v.Verify(raw)
	require.NoError(t, err)
	assert.Equal(t, "expert-1", p.UserID)
	assert.Equal(t, "expert", p.Role)
}

func TestVerifierRejectsBadTokens(t *testing.T) {
	v := NewVerifier("secret", "issuer", "")

	_, err := v.Verify("")
	assert.ErrorIs(t, err, ErrMissingToken)

	wrongSecret := signToken(t, "other", Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u1", Issuer: "issuer"}})
	_, err = v.Verify(wrongSecret)
	assert.ErrorIs(t, err, ErrInvalidToken)

	wrongIssuer := signToken(t, "secret", Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u1", Issuer: "elsewhere"}})
	_, err = v.Verify(wrongIssuer)
	assert.ErrorIs(t, err, ErrInvalidToken)

	noSubject := signToken(t, "secret", Claims{RegisteredClaims: jwt.RegisteredClaims{Issuer: "issuer"}})
	_, err = v.Verify(noSubject)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	v := NewVerifier("secret", "", "")

	r := gin.New()
	r.GET("/me", v.Middleware(), func(c *gin.Context) {
		id, _ := UserID(c)
		c.String(http.StatusOK, id)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	raw := signToken(t, "secret", Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u1"}})
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u1", rec.Body.String())
}

func TestIdentitiesSubscribeUnsubscribe(t *testing.T) {
	ids := NewIdentities()

	var got []IdentityChange
	unsubscribe := ids.Subscribe(func(c IdentityChange) { got = append(got, c) })

	ids.Publish(IdentityChange{UserID: "u1", Online: true})
	unsubscribe()
	unsubscribe()
	ids.Publish(IdentityChange{UserID: "u1", Online: false})

	assert.Equal(t, []IdentityChange{{UserID: "u1", Online: true}}, got)
}
