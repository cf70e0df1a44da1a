package auth

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// ErrEmptyPassword は空のパスワードをハッシュしようとした場合のエラー。
var ErrEmptyPassword = errors.New("password must not be empty")

// VerifyPassword は平文パスワードとbcryptハッシュを定数時間で比較する。
// ハッシュが不正な形式の場合もエラーにはせず不一致として扱う。
func VerifyPassword(plaintext, storedHash string) bool {
	if plaintext == "" || storedHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(plaintext)) == nil
}

// HashPassword は平文パスワードをbcrypt（DefaultCost）でハッシュ化する。
// usuariosテーブルへのユーザー投入時に使用する。
func HashPassword(plaintext string) (string, error) {
	if plaintext == "" {
		return "", ErrEmptyPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

var (
	dummyHashOnce sync.Once
	dummyHash     string
)

// burnPasswordCheck は未登録メールアドレスの場合にも1回分のbcrypt比較を行い、
// 応答時間からアカウントの有無を推測されないようにする。
func burnPasswordCheck(plaintext string) {
	dummyHashOnce.Do(func() {
		h, err := bcrypt.GenerateFromPassword([]byte("kpidash-dummy-password"), bcrypt.DefaultCost)
		if err == nil {
			dummyHash = string(h)
		}
	})
	_ = VerifyPassword(plaintext, dummyHash)
}
