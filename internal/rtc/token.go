package rtc

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "ifindlife-rtc"

// ChannelClaims binds a uid to a channel for a limited time
type ChannelClaims struct {
	jwt.RegisteredClaims
	Channel string `json:"channel"`
}

// TokenIssuer signs and verifies channel tokens with an HMAC secret
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TokenIssuer{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue returns a token allowing uid to join channel
func (t *TokenIssuer) Issue(channel, uid string) (string, error) {
	if channel == "" || uid == "" {
		return "", errors.New("rtc: channel and uid are required")
	}
	now := t.now()
	claims := ChannelClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   uid,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
		Channel: channel,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign channel token: %w", err)
	}
	return signed, nil
}

// VerifyChannel implements TokenVerifier
func (t *TokenIssuer) VerifyChannel(token, channel, uid string) error {
	claims := &ChannelClaims{}
	tok, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil || tok == nil || !tok.Valid {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Channel != channel || claims.Subject != uid {
		return fmt.Errorf("%w: token is bound to another channel or uid", ErrInvalidToken)
	}
	return nil
}
