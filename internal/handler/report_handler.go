package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/kpidash/internal/middleware"
	"github.com/hitoshi/kpidash/internal/model"
	"github.com/hitoshi/kpidash/internal/repository"
)

const (
	defaultTopCarrerasLimit = 6
	maxTopCarrerasLimit     = 50
	allSedes                = "todas"
)

// エンドポイントごとの失敗時メッセージ。
const (
	msgCardsTotalesFailed       = "Error leyendo tarjetas totales"
	msgTotalesFailed            = "Error leyendo KPIs totales"
	msgFunnelFailed             = "Error leyendo datos del funnel"
	msgFunnelTotalesFailed      = "Error KPIs funnel"
	msgFunnelDiplomadoFailed    = "Error leyendo datos del funnel de diplomado"
	msgPorSemanaFailed          = "Error leyendo KPIs por semana"
	msgPorSemanaDiplomadoFailed = "Error leyendo datos diplomado por semana"
	msgTopCarrerasFailed        = "Error obteniendo top carreras"
)

// ReportHandler は集計ビューを返す読み取り専用のHTTPハンドラー。
type ReportHandler struct {
	reports            repository.ReportRepository
	diplomadoStartDate time.Time
}

// NewReportHandler はReportHandlerを生成する。
// diplomadoStartDateはディプロマ課程の週別集計の起点日。
func NewReportHandler(reports repository.ReportRepository, diplomadoStartDate time.Time) *ReportHandler {
	return &ReportHandler{
		reports:            reports,
		diplomadoStartDate: diplomadoStartDate,
	}
}

// CardsTotales はKPIカードの合計値を返す。
// GET /api/kpis/cards-totales
func (h *ReportHandler) CardsTotales(w http.ResponseWriter, r *http.Request) {
	row, err := h.reports.CardsTotales(r.Context())
	if err != nil {
		writeReportError(w, r, msgCardsTotalesFailed, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

// Totales はLead・Stock合算の全体集計を返す。
// GET /api/kpis/totales
func (h *ReportHandler) Totales(w http.ResponseWriter, r *http.Request) {
	row, err := h.reports.Totales(r.Context())
	if err != nil {
		writeReportError(w, r, msgTotalesFailed, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

// Funnel は区分別ファネルを返す。
// GET /api/kpis/funnel
func (h *ReportHandler) Funnel(w http.ResponseWriter, r *http.Request) {
	rows, err := h.reports.Funnel(r.Context())
	if err != nil {
		writeReportError(w, r, msgFunnelFailed, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// FunnelTotales は最新週のファネル段階を返す。
// GET /api/kpis/funnel-totales
func (h *ReportHandler) FunnelTotales(w http.ResponseWriter, r *http.Request) {
	row, err := h.reports.FunnelTotales(r.Context())
	if err != nil {
		writeReportError(w, r, msgFunnelTotalesFailed, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

// FunnelDiplomado はディプロマ課程のファネルを返す。
// GET /api/kpis/funnel-diplomado?tipoBase=Lead|Stock|Todas
func (h *ReportHandler) FunnelDiplomado(w http.ResponseWriter, r *http.Request) {
	tipoBase, ok := model.ParseTipoBase(r.URL.Query().Get("tipoBase"))
	if !ok {
		middleware.WriteError(w, r, model.NewInvalidParameterError())
		return
	}

	rows, err := h.reports.FunnelDiplomado(r.Context(), tipoBase)
	if err != nil {
		writeReportError(w, r, msgFunnelDiplomadoFailed, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// PorSemana は週別KPIを返す。
// GET /api/kpis/por-semana
func (h *ReportHandler) PorSemana(w http.ResponseWriter, r *http.Request) {
	rows, err := h.reports.PorSemana(r.Context())
	if err != nil {
		writeReportError(w, r, msgPorSemanaFailed, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// PorSemanaDiplomado はディプロマ課程の週別KPIを返す。
// GET /api/kpis/por-semana-diplomado
func (h *ReportHandler) PorSemanaDiplomado(w http.ResponseWriter, r *http.Request) {
	rows, err := h.reports.PorSemanaDiplomado(r.Context(), h.diplomadoStartDate)
	if err != nil {
		writeReportError(w, r, msgPorSemanaDiplomadoFailed, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// TopCarreras は関心数の多いキャリアを返す。
// GET /api/carreras/top?limit=6&sede=todas
func (h *ReportHandler) TopCarreras(w http.ResponseWriter, r *http.Request) {
	rows, err := h.reports.TopCarreras(r.Context(), parseTopCarrerasFilter(r))
	if err != nil {
		writeReportError(w, r, msgTopCarrerasFailed, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// parseTopCarrerasFilter はクエリパラメータを絞り込み条件に変換する。
// limitは数値でなければ既定値、範囲外は1..50に丸める。
func parseTopCarrerasFilter(r *http.Request) model.TopCarrerasFilter {
	q := r.URL.Query()

	limit := defaultTopCarrerasLimit
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	limit = max(1, min(limit, maxTopCarrerasLimit))

	sede := strings.ToLower(strings.TrimSpace(q.Get("sede")))
	if sede == allSedes {
		sede = ""
	}

	return model.TopCarrerasFilter{Sede: sede, Limit: limit}
}

// writeReportError は集計失敗をエンドポイント固有の文言で返す。詳細はログにのみ残す。
func writeReportError(w http.ResponseWriter, r *http.Request, message string, err error) {
	middleware.WriteError(w, r, fmt.Errorf("%w: %w", model.NewInternalError(message), err))
}
