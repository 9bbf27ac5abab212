// Package auth はベアラートークン認証とログイン処理を提供する。
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "paircal"

// TokenService はJWTベアラートークンの発行と検証を行う。
// HS256の共有鍵方式で、検証にDBアクセスを必要としない。
type TokenService struct {
	secret []byte
	maxAge time.Duration
}

// NewTokenService はTokenServiceを生成する。
// maxAgeはトークンの有効期間（既定30日）。
func NewTokenService(secret string, maxAge time.Duration) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("JWT secret must be at least 16 characters")
	}
	return &TokenService{secret: []byte(secret), maxAge: maxAge}, nil
}

// tokenClaims はJWTペイロード。subにIdentity IDを格納する。
type tokenClaims struct {
	jwt.RegisteredClaims
}

// Generate は指定ユーザー向けの署名済みトークンを発行する。
func (s *TokenService) Generate(identityID string) (string, error) {
	now := time.Now()

	c := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identityID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.maxAge)),
			Issuer:    tokenIssuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return signed, nil
}

// Validate はトークン文字列を検証し、subに格納されたIdentity IDを返す。
// 署名・有効期限・発行者・署名アルゴリズムを検査する。
func (s *TokenService) Validate(tokenStr string) (string, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&tokenClaims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", fmt.Errorf("token expired")
		}
		return "", fmt.Errorf("invalid token: %w", err)
	}

	c, ok := token.Claims.(*tokenClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("invalid token claims")
	}
	if c.Subject == "" {
		return "", fmt.Errorf("token has no subject")
	}

	return c.Subject, nil
}
