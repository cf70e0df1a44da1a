// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/hitoshi/kpidash/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// claimsContextKey はリクエストコンテキストにセッションクレームを格納するためのキー。
var claimsContextKey = contextKey("session_claims")

// SessionVerifier はセッショントークンの検証に必要なインターフェース。
// auth.Serviceが実装する。
type SessionVerifier interface {
	Session(token string) (*model.SessionClaims, error)
}

// GateObserver はゲートの判定結果を記録する。metrics.Collectorが実装する。
type GateObserver interface {
	ObserveGate(state, rule string)
}

// GateState はリクエストの分類結果。
type GateState string

const (
	StatePublicRequest   GateState = "PUBLIC_REQUEST"
	StateAuthenticated   GateState = "AUTHENTICATED"
	StateUnauthenticated GateState = "UNAUTHENTICATED"
)

// GateAction はゲートがリクエストに対して行う処理。
type GateAction int

const (
	// ActionForward は後続ハンドラーへ転送する。
	ActionForward GateAction = iota
	// ActionRedirectLogin はログインページへリダイレクトする。
	ActionRedirectLogin
	// ActionRedirectLanding は認証後の既定ページへリダイレクトする。
	ActionRedirectLanding
	// ActionRejectAPI はAPIリクエストに401 JSONを返す。
	ActionRejectAPI
)

// 判定ルール名。ログとメトリクスのラベルに使う。
const (
	RuleAsset                = "asset"
	RulePublicPath           = "public_path"
	RuleNoCookie             = "no_cookie"
	RuleLoginPageRetry       = "login_page_retry"
	RuleInvalidToken         = "invalid_token"
	RuleAlreadyAuthenticated = "already_authenticated"
	RuleAuthenticated        = "authenticated"
)

// GateDecision は1リクエストに対するゲートの判定。
type GateDecision struct {
	State  GateState
	Action GateAction
	Rule   string
	// Claims は検証に成功した場合のみ設定される。
	Claims *model.SessionClaims
	// ClearCookie は検証に失敗したCookieを削除するかを示す。
	ClearCookie bool
}

// GateConfig はセッションゲートのパス分類設定。
type GateConfig struct {
	LoginPath   string
	LandingPath string
	// APIPrefix 配下のパスには静的アセット判定を適用せず、
	// 未認証時はリダイレクトではなく401を返す。
	APIPrefix string

	AssetPrefixes   []string
	AssetExtensions []string

	PublicPaths    []string
	PublicPrefixes []string

	Cookie CookieOptions
}

// DefaultGateConfig は既定のパス分類を返す。
func DefaultGateConfig() GateConfig {
	return GateConfig{
		LoginPath:   "/login",
		LandingPath: "/dashboard",
		APIPrefix:   "/api/",
		AssetPrefixes: []string{
			"/_next/", "/static/", "/assets/",
		},
		AssetExtensions: []string{
			".css", ".js", ".map", ".png", ".jpg", ".jpeg", ".gif",
			".svg", ".ico", ".webp", ".woff", ".woff2", ".mp4",
		},
		PublicPaths: []string{
			"/login", "/health", "/api/csrf-token",
		},
		PublicPrefixes: []string{
			"/api/auth/",
		},
	}
}

// SessionGate は全リクエストを公開・認証済み・未認証に分類し、
// 転送またはリダイレクトを行う。
//
// 判定順序:
//  1. 静的アセット（API配下を除く）は無条件に転送
//  2. Cookie無し: 公開パスは転送、それ以外はログインへ
//  3. Cookie有り: 検証失敗時はログインページのみ転送、検証成功時は
//     ログインページを既定ページへリダイレクトし、それ以外はクレームを付けて転送
type SessionGate struct {
	config   GateConfig
	verifier SessionVerifier
	observer GateObserver
}

// NewSessionGate はSessionGateを生成する。observerはnilでもよい。
func NewSessionGate(config GateConfig, verifier SessionVerifier, observer GateObserver) *SessionGate {
	return &SessionGate{
		config:   config,
		verifier: verifier,
		observer: observer,
	}
}

// Decide はリクエストを分類する。レスポンスには何も書き込まない。
func (g *SessionGate) Decide(r *http.Request) GateDecision {
	p := cleanPath(r.URL.Path)

	if g.isAsset(p) {
		return GateDecision{State: StatePublicRequest, Action: ActionForward, Rule: RuleAsset}
	}

	token := sessionToken(r)
	if token == "" {
		if g.isPublicPath(p) {
			return GateDecision{State: StatePublicRequest, Action: ActionForward, Rule: RulePublicPath}
		}
		return GateDecision{State: StateUnauthenticated, Action: g.rejectAction(p), Rule: RuleNoCookie}
	}

	claims, err := g.verifier.Session(token)
	if err != nil {
		slog.DebugContext(r.Context(), "session token rejected",
			slog.String("path", p),
			slog.String("error", err.Error()),
		)
		if decision, ok := g.loginPageRetry(p); ok {
			return decision
		}
		if g.isPublicPath(p) {
			return GateDecision{State: StatePublicRequest, Action: ActionForward, Rule: RulePublicPath}
		}
		return GateDecision{
			State:       StateUnauthenticated,
			Action:      g.rejectAction(p),
			Rule:        RuleInvalidToken,
			ClearCookie: true,
		}
	}

	if p == g.config.LoginPath {
		return GateDecision{
			State:  StateAuthenticated,
			Action: ActionRedirectLanding,
			Rule:   RuleAlreadyAuthenticated,
			Claims: claims,
		}
	}
	return GateDecision{
		State:  StateAuthenticated,
		Action: ActionForward,
		Rule:   RuleAuthenticated,
		Claims: claims,
	}
}

// loginPageRetry は検証に失敗したCookieを持つままログインページへ来た場合に限り、
// ページを表示して再ログインさせる。古いCookieは削除する。
// ログインページ以外のパスには決して適用しない。
func (g *SessionGate) loginPageRetry(p string) (GateDecision, bool) {
	if p != g.config.LoginPath {
		return GateDecision{}, false
	}
	return GateDecision{
		State:       StatePublicRequest,
		Action:      ActionForward,
		Rule:        RuleLoginPageRetry,
		ClearCookie: true,
	}, true
}

// Middleware はDecideの結果に従ってリクエストを処理するミドルウェアを返す。
// 認証済みリクエストにはクレームをコンテキストに付与する。
func (g *SessionGate) Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := g.Decide(r)
			if g.observer != nil {
				g.observer.ObserveGate(string(d.State), d.Rule)
			}

			if d.ClearCookie {
				ClearSessionCookie(w, r, g.config.Cookie)
			}

			switch d.Action {
			case ActionRedirectLogin:
				http.Redirect(w, r, g.config.LoginPath, http.StatusTemporaryRedirect)
			case ActionRedirectLanding:
				http.Redirect(w, r, g.config.LandingPath, http.StatusTemporaryRedirect)
			case ActionRejectAPI:
				WriteErrorResponse(w, http.StatusUnauthorized, model.MsgUnauthorized)
			default:
				if d.Claims != nil {
					r = r.WithContext(ContextWithClaims(r.Context(), d.Claims))
				}
				next.ServeHTTP(w, r)
			}
		})
	}
}

func (g *SessionGate) rejectAction(p string) GateAction {
	if g.isAPI(p) {
		return ActionRejectAPI
	}
	return ActionRedirectLogin
}

func (g *SessionGate) isAPI(p string) bool {
	return p+"/" == g.config.APIPrefix || strings.HasPrefix(p, g.config.APIPrefix)
}

// isAsset は静的アセットかを判定する。API配下のパスは拡張子に関わらずアセットとみなさない。
func (g *SessionGate) isAsset(p string) bool {
	if g.isAPI(p) {
		return false
	}
	for _, prefix := range g.config.AssetPrefixes {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	ext := strings.ToLower(path.Ext(p))
	if ext == "" {
		return false
	}
	for _, e := range g.config.AssetExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

func (g *SessionGate) isPublicPath(p string) bool {
	for _, pub := range g.config.PublicPaths {
		if p == pub {
			return true
		}
	}
	for _, prefix := range g.config.PublicPrefixes {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

// cleanPath は"."や".."、重複スラッシュを正規化したパスを返す。
// "/static/../api/kpis/totales"のような経路でアセット判定をすり抜けることを防ぐ。
func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	if p[0] != '/' {
		p = "/" + p
	}
	return path.Clean(p)
}

// ClaimsFromContext はリクエストコンテキストからセッションクレームを取得する。
// 認証済みとして転送されたリクエストでのみ有効。
func ClaimsFromContext(ctx context.Context) (*model.SessionClaims, bool) {
	claims, ok := ctx.Value(claimsContextKey).(*model.SessionClaims)
	return claims, ok && claims != nil
}

// ContextWithClaims はコンテキストにセッションクレームを注入する。
// アクセスログ用にユーザーIDも記録する。
func ContextWithClaims(ctx context.Context, claims *model.SessionClaims) context.Context {
	if info := requestInfoFromContext(ctx); info != nil && claims != nil {
		info.userID = claims.UserID()
	}
	return context.WithValue(ctx, claimsContextKey, claims)
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	claims, ok := ClaimsFromContext(ctx)
	if !ok {
		return "", fmt.Errorf("user ID not found in context")
	}
	return claims.UserID(), nil
}
