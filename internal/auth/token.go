package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hitoshi/kpidash/internal/model"
)

// SessionTTL はセッショントークンとCookieの有効期間。リフレッシュは行わない。
const SessionTTL = 24 * time.Hour

// トークン検証失敗の分類。いずれもmodel.ErrAuthenticationとしても判定できる。
var (
	ErrTokenMalformed = fmt.Errorf("%w: malformed token", model.ErrAuthentication)
	ErrTokenSignature = fmt.Errorf("%w: invalid token signature", model.ErrAuthentication)
	ErrTokenExpired   = fmt.Errorf("%w: token expired", model.ErrAuthentication)
)

// tokenClaims はJWTペイロードの構造。
type tokenClaims struct {
	UserID int64  `json:"id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	jwt.RegisteredClaims
}

// TokenCodec はHS256で署名した有効期限付きセッショントークンの発行と検証を行う。
// サーバー側に状態を持たないため、署名が正しく期限内のトークンは常に受け入れられる。
type TokenCodec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenCodec はTokenCodecを生成する。
// secretが空の場合はmodel.ErrConfigurationを返す。
func NewTokenCodec(secret []byte, ttl time.Duration) (*TokenCodec, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("%w: token signing secret is empty", model.ErrConfiguration)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("%w: token ttl must be positive", model.ErrConfiguration)
	}
	return &TokenCodec{
		secret: secret,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// TTL はトークンの有効期間を返す。
func (c *TokenCodec) TTL() time.Duration {
	return c.ttl
}

// Issue はユーザー情報をクレーム（id, email, name, iat, exp）として署名したトークンを返す。
func (c *TokenCodec) Issue(user model.PublicUser) (string, error) {
	now := c.now()
	claims := tokenClaims{
		UserID: user.ID,
		Email:  user.Email,
		Name:   user.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

// Verify は署名、有効期限の順にトークンを検証し、クレームを返す。
// 失敗時はErrTokenMalformed / ErrTokenSignature / ErrTokenExpiredのいずれかを返し、
// クレームは一切返さない。
func (c *TokenCodec) Verify(token string) (*model.SessionClaims, error) {
	if token == "" {
		return nil, ErrTokenMalformed
	}

	claims := &tokenClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (any, error) {
			return c.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return nil, classifyTokenError(err)
	}

	if claims.Email == "" || claims.IssuedAt == nil || claims.ExpiresAt == nil {
		return nil, ErrTokenMalformed
	}

	return &model.SessionClaims{
		ID:        claims.UserID,
		Email:     claims.Email,
		Name:      claims.Name,
		IssuedAt:  claims.IssuedAt.Unix(),
		ExpiresAt: claims.ExpiresAt.Unix(),
	}, nil
}

// classifyTokenError はjwtライブラリのエラーを3分類に変換する。
// 元のエラーはログ用に保持する。
func classifyTokenError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w (%v)", ErrTokenSignature, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w (%v)", ErrTokenExpired, err)
	default:
		return fmt.Errorf("%w (%v)", ErrTokenMalformed, err)
	}
}
