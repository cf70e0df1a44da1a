// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kpidash"

// Collector はPrometheusメトリクスを収集する実装。
// ログイン結果、セッションゲートの判定、HTTPレスポンス、集計クエリの所要時間を記録する。
type Collector struct {
	logins        *prometheus.CounterVec
	gateDecisions *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	httpLatency   *prometheus.HistogramVec
	queryLatency  *prometheus.HistogramVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_total",
			Help:      "結果別のログイン試行数",
		}, []string{"outcome"}),
		gateDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_gate_decisions_total",
			Help:      "セッションゲートの判定結果別リクエスト数",
		}, []string{"state", "rule"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "ルート・ステータスコード別のレスポンス数",
		}, []string{"method", "route", "status_code"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "ルート別のレスポンス時間（秒）",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		queryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "report_query_duration_seconds",
			Help:      "集計クエリの所要時間（秒）",
			Buckets:   prometheus.DefBuckets,
		}, []string{"query", "result"}),
	}

	reg.MustRegister(
		c.logins,
		c.gateDecisions,
		c.httpRequests,
		c.httpLatency,
		c.queryLatency,
	)

	return c
}

// RegisterRuntime はGoランタイムとプロセスのメトリクスを登録する。
func RegisterRuntime(reg prometheus.Registerer) {
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// RegisterDBStats はコネクションプールの統計（使用中・待機数など）を登録する。
func RegisterDBStats(reg prometheus.Registerer, db *sql.DB, dbName string) {
	reg.MustRegister(collectors.NewDBStatsCollector(db, dbName))
}

// ObserveLogin はログイン結果を記録する。
func (c *Collector) ObserveLogin(outcome string) {
	c.logins.WithLabelValues(outcome).Inc()
}

// ObserveGate はセッションゲートの判定を記録する。
func (c *Collector) ObserveGate(state, rule string) {
	c.gateDecisions.WithLabelValues(state, rule).Inc()
}

// ObserveQuery は集計クエリの所要時間を記録する。
func (c *Collector) ObserveQuery(name string, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.queryLatency.WithLabelValues(name, result).Observe(d.Seconds())
}

// RecordHTTPStatus はHTTPレスポンスを記録する。
func (c *Collector) RecordHTTPStatus(method, route string, statusCode int, d time.Duration) {
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	c.httpLatency.WithLabelValues(method, route).Observe(d.Seconds())
}

// statusWriter はステータスコードを記録するResponseWriter。
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// Middleware はレスポンスをルートパターン単位で記録するミドルウェアを返す。
// ラベルの種類が増えすぎないよう、実パスではなくchiのルートパターンを使う。
func (c *Collector) Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w}

			next.ServeHTTP(sw, r)

			status := sw.status
			if status == 0 {
				status = http.StatusOK
			}
			c.RecordHTTPStatus(r.Method, routePattern(r), status, time.Since(start))
		})
	}
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// アプリケーションとは別ポートで公開する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
