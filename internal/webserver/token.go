package webserver

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
)

// contextKey is where echo-jwt stores the parsed token.
const contextKey = "user"

var ErrInvalidToken = errors.New("invalid token")

type Claims struct {
	UserID   int64  `json:"uid"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

func NewToken(secret string, userID int64, username string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:   userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprint(userID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseToken verifies an HS256 token and its expiry.
func ParseToken(secret, raw string) (*jwt.Token, error) {
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if c, ok := token.Claims.(*Claims); !ok || !token.Valid || c.UserID == 0 {
		return nil, ErrInvalidToken
	}
	return token, nil
}

// UserIDFromToken is the socket authenticator.
func UserIDFromToken(secret, raw string) (int64, error) {
	token, err := ParseToken(secret, raw)
	if err != nil {
		return 0, err
	}
	return token.Claims.(*Claims).UserID, nil
}

// CurrentUserID returns the authenticated user of an /api request, or 0.
func CurrentUserID(c echo.Context) int64 {
	token, ok := c.Get(contextKey).(*jwt.Token)
	if !ok {
		return 0
	}
	claims, ok := token.Claims.(*Claims)
	if !ok {
		return 0
	}
	return claims.UserID
}
