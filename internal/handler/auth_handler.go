// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/kpidash/internal/auth"
	"github.com/hitoshi/kpidash/internal/middleware"
	"github.com/hitoshi/kpidash/internal/model"
)

// maxLoginBodyBytes はログインリクエストボディの上限。
const maxLoginBodyBytes = 1 << 16

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Login(ctx context.Context, email, password string) (*auth.LoginResult, error)
	Session(token string) (*model.SessionClaims, error)
	// TTL はセッションの有効期間（秒）を返す。
	TTL() int
}

// AuthHandler はログイン・セッション確認・ログアウトのHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	cookie  middleware.CookieOptions
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, cookie middleware.CookieOptions) *AuthHandler {
	return &AuthHandler{
		service: service,
		cookie:  cookie,
	}
}

// loginRequest はログインリクエストのボディ。
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	OK   bool             `json:"ok"`
	User model.PublicUser `json:"user"`
}

type meResponse struct {
	OK   bool                 `json:"ok"`
	User *model.SessionClaims `json:"user"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

// Login は資格情報を検証し、セッションCookieを設定する。
// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	body := http.MaxBytesReader(w, r.Body, maxLoginBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		slog.WarnContext(r.Context(), "invalid login request body", slog.String("error", err.Error()))
		middleware.WriteError(w, r, model.NewMissingCredentialsError())
		return
	}

	result, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	middleware.SetSessionCookie(w, r, h.cookie, result.Token, h.service.TTL())
	writeJSON(w, http.StatusOK, loginResponse{OK: true, User: result.User})
}

// Me はセッションCookieを検証し、クレームを返す。
// Cookie欠落と検証失敗は区別せず401を返す。
// GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(middleware.SessionCookieName)
	if err != nil || cookie.Value == "" {
		middleware.WriteError(w, r, model.NewUnauthorizedError())
		return
	}

	claims, err := h.service.Session(cookie.Value)
	if err != nil {
		slog.DebugContext(r.Context(), "session check failed", slog.String("error", err.Error()))
		middleware.WriteError(w, r, model.NewUnauthorizedError())
		return
	}

	writeJSON(w, http.StatusOK, meResponse{OK: true, User: claims})
}

// Logout はセッションCookieを削除する。
// トークン自体は失効させないため、有効期限内のトークンは再提示されれば受理される。
// POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	middleware.ClearSessionCookie(w, r, h.cookie)
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

// writeJSON はvをJSONとして書き込む。
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}
