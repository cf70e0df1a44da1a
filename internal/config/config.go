package config

import (
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/kpidash/internal/model"
)

// DevJWTSecret は開発環境でJWT_SECRET未設定時に使うフォールバック値。
// 推測可能な値のため、本番環境（APP_ENV=production）では使用しない。
const DevJWTSecret = "kpidash-development-only-secret"

// EnvProduction は本番環境を示すAPP_ENVの値。
const EnvProduction = "production"

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Environment
	AppEnv string

	// Database
	DatabaseURL       string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	DBQueryTimeout    time.Duration

	// Session
	JWTSecret string
	// JWTSecretIsFallback はDevJWTSecretで代替したことを示す。起動時に警告ログを出す。
	JWTSecretIsFallback bool

	// Rate Limit
	RateLimitLogin   int
	RateLimitGeneral int

	// Reports
	DiplomadoStartDate time.Time

	// Server
	// TrustedProxies は転送ヘッダーを信頼するリバースプロキシのアドレス範囲。
	TrustedProxies []netip.Prefix
	ServerPort     string
	MetricsPort    string
	BaseURL        string
	StaticDir      string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string

	// Logging
	LogLevel string
}

// IsProduction は本番環境で起動しているかを返す。
func (c *Config) IsProduction() bool {
	return c.AppEnv == EnvProduction
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
// 本番環境でJWT_SECRETが未設定の場合はmodel.ErrConfigurationをラップしたエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	cfg.AppEnv = getEnvString("APP_ENV", "development")

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		if cfg.IsProduction() {
			return nil, fmt.Errorf("%w: JWT_SECRET must be set when APP_ENV=%s", model.ErrConfiguration, EnvProduction)
		}
		cfg.JWTSecret = DevJWTSecret
		cfg.JWTSecretIsFallback = true
	}

	startDate, err := time.Parse(time.DateOnly, getEnvString("DIPLOMADO_START_DATE", "2025-05-01"))
	if err != nil {
		return nil, fmt.Errorf("%w: DIPLOMADO_START_DATE must be YYYY-MM-DD: %v", model.ErrConfiguration, err)
	}
	cfg.DiplomadoStartDate = startDate

	// Optional fields with defaults
	cfg.DBMaxOpenConns = getEnvPositiveInt("DB_MAX_OPEN_CONNS", 10)
	cfg.DBMaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", 5)
	cfg.DBConnMaxLifetime = getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute)
	cfg.DBQueryTimeout = getEnvDuration("DB_QUERY_TIMEOUT", 15*time.Second)
	cfg.RateLimitLogin = getEnvInt("RATE_LIMIT_LOGIN", 10)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	proxies, err := parseTrustedProxies(os.Getenv("TRUSTED_PROXIES"))
	if err != nil {
		return nil, fmt.Errorf("%w: TRUSTED_PROXIES: %v", model.ErrConfiguration, err)
	}
	cfg.TrustedProxies = proxies
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.MetricsPort = getEnvString("METRICS_PORT", "9090")
	cfg.BaseURL = getEnvString("BASE_URL", "http://localhost:8080")
	cfg.StaticDir = getEnvString("STATIC_DIR", "web/out")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

// getEnvPositiveInt は0以下の値を未設定として扱う。
func getEnvPositiveInt(key string, defaultVal int) int {
	if i := getEnvInt(key, defaultVal); i > 0 {
		return i
	}
	return defaultVal
}

// parseTrustedProxies はカンマ区切りのCIDRまたは単一IPを解析する。
func parseTrustedProxies(raw string) ([]netip.Prefix, error) {
	var prefixes []netip.Prefix
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if strings.Contains(part, "/") {
			p, err := netip.ParsePrefix(part)
			if err != nil {
				return nil, err
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(part)
		if err != nil {
			return nil, err
		}
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
