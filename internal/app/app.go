// Package app はサブコマンドの解析、依存関係のワイヤリング、サーバーのライフサイクル管理を提供する。
package app

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/term"

	"github.com/hitoshi/kpidash/internal/auth"
	"github.com/hitoshi/kpidash/internal/config"
	"github.com/hitoshi/kpidash/internal/database"
	"github.com/hitoshi/kpidash/internal/handler"
	"github.com/hitoshi/kpidash/internal/logger"
	"github.com/hitoshi/kpidash/internal/metrics"
	"github.com/hitoshi/kpidash/internal/middleware"
	"github.com/hitoshi/kpidash/internal/repository"
	"github.com/hitoshi/kpidash/internal/security"
)

const (
	shutdownTimeout = 30 * time.Second
	pingTimeout     = 5 * time.Second
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, os.Getenv("LOG_LEVEL"))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetupDefault(w, cfg.LogLevel)

	if cfg.JWTSecretIsFallback {
		slog.Warn("JWT_SECRET is not set; using the development-only signing secret",
			slog.String("app_env", cfg.AppEnv),
		)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// 以下の2つは軽量サブコマンドのため、フル初期化をスキップする
	switch cmd {
	case CommandHealthcheck:
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	case CommandHashPassword:
		return runHashPassword(w, os.Stdin, args[1:])
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.String("app_env", cfg.AppEnv),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// server はAPIサーバーの構成要素をまとめたもの。
type server struct {
	router      http.Handler
	registry    *prometheus.Registry
	rateLimiter *middleware.RateLimiter
}

// newServer は全依存関係をワイヤリングしてルーターを構築する。
// 呼び出し側はrateLimiter.Stopでバックグラウンド処理を停止すること。
func newServer(cfg *config.Config, db *sql.DB) (*server, error) {
	// 1. メトリクス
	reg := prometheus.NewRegistry()
	metrics.RegisterRuntime(reg)
	metrics.RegisterDBStats(reg, db, "kpidash")
	collector := metrics.NewCollector(reg)

	// 2. リポジトリの初期化
	sanitizer := security.NewTextSanitizer()
	userRepo := repository.NewPostgresUserRepo(db, cfg.DBQueryTimeout)
	reportRepo := repository.NewPostgresReportRepo(db, cfg.DBQueryTimeout, sanitizer, collector)

	// 3. 認証サービスの初期化
	codec, err := auth.NewTokenCodec([]byte(cfg.JWTSecret), auth.SessionTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to create token codec: %w", err)
	}
	authService := auth.NewService(userRepo, codec, collector)

	// 4. ミドルウェアの初期化
	cookie := middleware.CookieOptions{
		Secure: cfg.CookieSecure,
		Domain: cfg.CookieDomain,
	}
	gateConfig := middleware.DefaultGateConfig()
	gateConfig.Cookie = cookie
	gate := middleware.NewSessionGate(gateConfig, authService, collector)

	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitLogin),
	)

	// 5. ルーターの構築
	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		Gate:              gate,
		RateLimiter:       rateLimiter,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		TrustedProxies:    cfg.TrustedProxies,
		CSRF: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		Cookie:  cookie,
		Metrics: collector,

		AuthService: authService,

		Reports:            reportRepo,
		DiplomadoStartDate: cfg.DiplomadoStartDate,

		HealthChecker: db,

		StaticFiles: os.DirFS(cfg.StaticDir),
		LandingPath: gateConfig.LandingPath,
	})

	return &server{
		router:      router,
		registry:    reg,
		rateLimiter: rateLimiter,
	}, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーとメトリクスサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行い、
// 処理中のリクエストが終わってからコネクションプールを閉じる。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL, database.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	pingCtx, cancelPing := context.WithTimeout(context.Background(), pingTimeout)
	defer cancelPing()
	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		slog.Int("max_open_conns", cfg.DBMaxOpenConns),
	)

	// 2. 依存関係のワイヤリング
	srv, err := newServer(cfg, db)
	if err != nil {
		return err
	}
	defer srv.rateLimiter.Stop()

	// 3. HTTPサーバーの起動
	apiServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           srv.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	metricsServer := &http.Server{
		Addr:              ":" + cfg.MetricsPort,
		Handler:           metrics.SetupMetricsRoute(srv.registry),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 2)
	go func() {
		slog.Info("API server starting", slog.String("addr", apiServer.Addr))
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("API server: %w", err)
		}
	}()
	go func() {
		slog.Info("metrics server starting", slog.String("addr", metricsServer.Addr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("shutting down API server...")
	case runErr = <-serveErr:
		slog.Error("server listen error", slog.String("error", runErr.Error()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("metrics server shutdown failed", slog.String("error", err.Error()))
	}

	if runErr != nil {
		return runErr
	}
	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// runHashPassword はパスワードのbcryptハッシュをwに出力する。
// 引数が無い場合は標準入力から読み取る。端末からの入力はエコーしない。
func runHashPassword(w io.Writer, in io.Reader, args []string) error {
	var password string
	if len(args) > 0 {
		password = args[0]
	} else {
		p, err := readPassword(in)
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		password = p
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(w, hash)
	return err
}

func readPassword(in io.Reader) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(os.Stderr, "Password: ")
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// maskDatabaseURL はデータベースURLのパスワードとクエリをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	u.RawQuery = ""
	return u.Redacted()
}
