package middleware

import (
	"net/http"
	"strings"
)

// SessionCookieName はセッショントークンを保持するCookieの名前。
const SessionCookieName = "token"

// CookieOptions はセッションCookieの属性設定。
type CookieOptions struct {
	// Secure はTLS終端がプロキシの手前にあるなど、リクエストから判別できない場合に
	// Secure属性を強制する。
	Secure bool
	Domain string
}

// SetSessionCookie はHttpOnly・SameSite=Lax・Path=/のセッションCookieを設定する。
// 暗号化された経路で受けたリクエストではSecure属性を付与する。
func SetSessionCookie(w http.ResponseWriter, r *http.Request, opts CookieOptions, token string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		Domain:   opts.Domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   opts.Secure || IsEncrypted(r),
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie はセッションCookieを削除する（Max-Age=0）。
func ClearSessionCookie(w http.ResponseWriter, r *http.Request, opts CookieOptions) {
	SetSessionCookie(w, r, opts, "", -1)
}

// IsEncrypted はリクエストがTLS経由で届いたかを返す。
// リバースプロキシ配下ではX-Forwarded-Protoを参照する。
func IsEncrypted(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

// sessionToken はリクエストからセッショントークンを取り出す。無い場合は空文字列を返す。
func sessionToken(r *http.Request) string {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}
