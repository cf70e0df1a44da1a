package handler

import (
	"io/fs"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/kpidash/internal/metrics"
	"github.com/hitoshi/kpidash/internal/middleware"
	"github.com/hitoshi/kpidash/internal/repository"
)

const msgNotFound = "Recurso no encontrado"

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	Gate              *middleware.SessionGate
	RateLimiter       *middleware.RateLimiter
	CORSAllowedOrigin string
	TrustedProxies    []netip.Prefix
	CSRF              middleware.CSRFConfig
	Cookie            middleware.CookieOptions
	// Metrics はnilの場合、HTTPメトリクスを記録しない。
	Metrics *metrics.Collector

	// 認証
	AuthService AuthServiceInterface

	// 集計
	Reports            repository.ReportRepository
	DiplomadoStartDate time.Time

	// 運用
	HealthChecker HealthChecker

	// SPA
	StaticFiles fs.FS
	LandingPath string
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	TrustedRealIP → Logging → Recovery → Metrics → SecurityHeaders → CORS → SessionGate
//
// SessionGateは全ルートに掛かり、公開パスの判定もゲート側で行う。
// レート制限とCSRF検証は対象ルートにのみ適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewTrustedRealIPMiddleware(deps.TrustedProxies))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewRecoveryMiddleware())
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware())
	}
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(deps.Gate.Middleware())

	authHandler := NewAuthHandler(deps.AuthService, deps.Cookie)
	reportHandler := NewReportHandler(deps.Reports, deps.DiplomadoStartDate)
	staticHandler := NewStaticHandler(deps.StaticFiles, deps.LandingPath)

	// --- 公開ルート ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	r.Get("/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRF).ServeHTTP)

	r.Route("/api/auth", func(r chi.Router) {
		r.With(deps.RateLimiter.LoginMiddleware()).Post("/login", authHandler.Login)
		r.Get("/me", authHandler.Me)
		r.With(middleware.NewCSRFMiddleware(deps.CSRF)).Post("/logout", authHandler.Logout)
	})

	// --- 認証済みルート（ゲートでクレームが付与されている） ---
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/api/kpis", func(r chi.Router) {
			r.Get("/cards-totales", reportHandler.CardsTotales)
			r.Get("/totales", reportHandler.Totales)
			r.Get("/funnel", reportHandler.Funnel)
			r.Get("/funnel-totales", reportHandler.FunnelTotales)
			r.Get("/funnel-diplomado", reportHandler.FunnelDiplomado)
			r.Get("/por-semana", reportHandler.PorSemana)
			r.Get("/por-semana-diplomado", reportHandler.PorSemanaDiplomado)
		})
		r.Get("/api/carreras/top", reportHandler.TopCarreras)
	})

	// API以外の未定義パスはSPAのファイルとして配信する。
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api" || strings.HasPrefix(r.URL.Path, "/api/") {
			middleware.WriteErrorResponse(w, http.StatusNotFound, msgNotFound)
			return
		}
		staticHandler.ServeHTTP(w, r)
	})

	return r
}
