package model

import "strconv"

// User は認証ストア（usuariosテーブル）のユーザーレコードを表す。
// PasswordHashはbcryptのシリアライズ形式で、クライアントへ返却してはならない。
type User struct {
	ID           int64
	Email        string
	Name         string
	PasswordHash string
}

// PublicUser はレスポンスに含めてよいユーザー情報の射影。
type PublicUser struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Public はパスワードハッシュを除いた射影を返す。
func (u *User) Public() PublicUser {
	return PublicUser{
		ID:    u.ID,
		Email: u.Email,
		Name:  u.Name,
	}
}

// SessionClaims はセッショントークンから復元したクレームを表す。
// IssuedAt / ExpiresAtはトークンの標準クレーム（iat / exp）に対応するUNIX秒。
type SessionClaims struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}

// UserID はログやレート制限のキーに使う文字列形式のユーザーIDを返す。
func (c *SessionClaims) UserID() string {
	return strconv.FormatInt(c.ID, 10)
}
