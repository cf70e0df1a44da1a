package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/kpidash/internal/database"
	"github.com/hitoshi/kpidash/internal/model"
	"github.com/hitoshi/kpidash/internal/security"
)

const (
	queryCardsTotales = `
		SELECT
			SUM(total_registros) AS total_registros,
			SUM(citas)           AS citas,
			SUM(recorrido)       AS recorrido,
			SUM(usables)         AS usables,
			SUM(afluencias)      AS afluencias,
			SUM(matriculas)      AS matriculas
		FROM vw_kpi_tarjetas_totales`

	queryTotales = `
		SELECT
			'Total'::text            AS tipo_base,
			SUM(base_total)::bigint  AS base_total,
			SUM(recorrido)::bigint   AS recorrido,
			SUM(contactados)::bigint AS contactados,
			SUM(citas)::bigint       AS citas,
			SUM(afluencias)::bigint  AS afluencias,
			SUM(matriculas)::bigint  AS matriculas
		FROM udla_gestion.vw_admision_funnel_por_base
		WHERE tipo_base IN ('Lead', 'Stock')`

	queryFunnel = `
		WITH datos AS (
			SELECT
				tipo_base,
				SUM(base_total)::bigint  AS total_base,
				SUM(recorrido)::bigint   AS recorrido,
				SUM(contactados)::bigint AS contactados,
				SUM(citas)::bigint       AS citas,
				SUM(afluencias)::bigint  AS afluencias,
				SUM(matriculas)::bigint  AS matriculas
			FROM udla_gestion.vw_admision_funnel_por_base
			WHERE tipo_base IN ('Lead', 'Stock')
			GROUP BY tipo_base
		)
		SELECT * FROM datos
		UNION ALL
		SELECT
			'Total' AS tipo_base,
			SUM(total_base),
			SUM(recorrido),
			SUM(contactados),
			SUM(citas),
			SUM(afluencias),
			SUM(matriculas)
		FROM datos`

	queryFunnelTotales = `
		SELECT *
		FROM vw_kpi_funnel_etapas
		WHERE semana = (SELECT MAX(semana) FROM vw_kpi_funnel_etapas)`

	// $1は'Lead' / 'Stock' / 'Todas'。'Todas'は絞り込みなし。
	queryFunnelDiplomado = `
		WITH datos AS (
			SELECT
				tipo_base,
				base_total,
				recorrido,
				contactados,
				citas,
				afluencias,
				matriculas
			FROM udla_gestion.vw_funnel_diplomado_totales
			WHERE tipo_base IN ('Lead', 'Stock')
			  AND ($1::text = 'Todas' OR tipo_base = $1::text)
		)
		SELECT * FROM datos
		UNION ALL
		SELECT
			'Total' AS tipo_base,
			SUM(base_total),
			SUM(recorrido),
			SUM(contactados),
			SUM(citas),
			SUM(afluencias),
			SUM(matriculas)
		FROM datos`

	queryPorSemana = `
		SELECT *
		FROM udla_gestion.vw_kpi_horizontal_por_semana
		ORDER BY semana, tipo_base`

	// $1は集計開始日、$2はマトリキュラ判定に使う年（開始日の年）。
	queryPorSemanaDiplomado = `
		SELECT
			'Semana ' || (FLOOR(("Fecha Gestion"::date - $1::date) / 7) + 1)::text AS semana,
			COALESCE("Tipo Base", 'Stock') AS tipo_base,
			COUNT(*) AS total_base,
			COUNT(CASE
				WHEN "Conecta" IS NOT NULL
				  OR "No Conecta" IS NOT NULL
				  OR "Comunica Con" IS NOT NULL
				THEN 1
			END) AS recorrido,
			COUNT(CASE
				WHEN "Conecta" = 'Conecta'
				  OR "No Conecta" = 'User busy'
				THEN 1
			END) AS contactados,
			COUNT(CASE
				WHEN "Interesa" ILIKE 'Viene'
				THEN 1
			END) AS citas,
			COUNT(CASE
				WHEN "Conecta" ILIKE '%Validado%'
				  OR "No Conecta" IN ('Normal call clearing', 'User busy', 'No user responding',
				                      'No answer from user (user alerted)', 'Call rejected', 'Normal, unspecified')
				THEN 1
			END) AS usables,
			COUNT(CASE
				WHEN "MC" ILIKE '%MC%'
				  OR "MC" ILIKE '%A%'
				THEN 1
			END) AS afluencias,
			COUNT(CASE
				WHEN "Fecha MC" ILIKE '%' || $2::text || '%'
				THEN 1
			END) AS matriculas
		FROM udla_gestion.diplomado_gestion
		WHERE "Fecha Gestion"::date >= $1::date
		GROUP BY FLOOR(("Fecha Gestion"::date - $1::date) / 7), COALESCE("Tipo Base", 'Stock')
		ORDER BY FLOOR(("Fecha Gestion"::date - $1::date) / 7) + 1 DESC, tipo_base`

	// $1はNULLで全キャンパス。
	queryTopCarreras = `
		SELECT career, sede, periodo, interesados
		FROM udla_gestion.mv_carreras_interes
		WHERE ($1::text IS NULL OR LOWER(sede) = $1::text)
		ORDER BY interesados DESC
		LIMIT $2`
)

// PostgresReportRepo はPostgreSQLの集計ビューを読み取るリポジトリ。
// 全クエリは読み取り専用で、パラメータは常にバインドして渡す。
type PostgresReportRepo struct {
	db        database.Conner
	timeout   time.Duration
	sanitizer security.TextSanitizer
	observer  QueryObserver
}

// NewPostgresReportRepo はPostgresReportRepoを生成する。observerはnilでもよい。
func NewPostgresReportRepo(db database.Conner, timeout time.Duration, sanitizer security.TextSanitizer, observer QueryObserver) *PostgresReportRepo {
	return &PostgresReportRepo{
		db:        db,
		timeout:   timeout,
		sanitizer: sanitizer,
		observer:  observer,
	}
}

// CardsTotales はKPIカードの合計値を返す。
func (r *PostgresReportRepo) CardsTotales(ctx context.Context) (model.ReportRow, error) {
	return r.queryOne(ctx, "cards_totales", queryCardsTotales)
}

// Totales はLead・Stock合算の全体集計を返す。
func (r *PostgresReportRepo) Totales(ctx context.Context) (model.ReportRow, error) {
	return r.queryOne(ctx, "totales", queryTotales)
}

// Funnel は区分別ファネルと合計行を返す。
func (r *PostgresReportRepo) Funnel(ctx context.Context) ([]model.ReportRow, error) {
	return r.query(ctx, "funnel", queryFunnel)
}

// FunnelTotales は最新週のファネル段階を返す。
func (r *PostgresReportRepo) FunnelTotales(ctx context.Context) (model.ReportRow, error) {
	return r.queryOne(ctx, "funnel_totales", queryFunnelTotales)
}

// FunnelDiplomado はディプロマ課程のファネルを区分で絞り込んで返す。
func (r *PostgresReportRepo) FunnelDiplomado(ctx context.Context, tipoBase model.TipoBase) ([]model.ReportRow, error) {
	return r.query(ctx, "funnel_diplomado", queryFunnelDiplomado, string(tipoBase))
}

// PorSemana は週別KPIを返す。
func (r *PostgresReportRepo) PorSemana(ctx context.Context) ([]model.ReportRow, error) {
	return r.query(ctx, "por_semana", queryPorSemana)
}

// PorSemanaDiplomado はstart以降のディプロマ課程の週別KPIを返す。
func (r *PostgresReportRepo) PorSemanaDiplomado(ctx context.Context, start time.Time) ([]model.ReportRow, error) {
	return r.query(ctx, "por_semana_diplomado", queryPorSemanaDiplomado,
		start.Format(time.DateOnly),
		start.Format("2006"),
	)
}

// TopCarreras は関心数の多いキャリアを返す。Sedeが空の場合は全キャンパスを対象とする。
func (r *PostgresReportRepo) TopCarreras(ctx context.Context, filter model.TopCarrerasFilter) ([]model.ReportRow, error) {
	var sede sql.NullString
	if filter.Sede != "" {
		sede = sql.NullString{String: filter.Sede, Valid: true}
	}
	return r.query(ctx, "top_carreras", queryTopCarreras, sede, filter.Limit)
}

// query はプールから接続を1本借りてクエリを実行し、全行を返す。
func (r *PostgresReportRepo) query(ctx context.Context, name, q string, args ...any) ([]model.ReportRow, error) {
	ctx, cancel := queryContext(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	var result []model.ReportRow
	err := database.WithConn(ctx, r.db, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, q, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		result, err = scanRows(rows, r.sanitizer)
		return err
	})
	if r.observer != nil {
		r.observer.ObserveQuery(name, time.Since(start), err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", name, err)
	}
	return result, nil
}

// queryOne は先頭行のみを返す。行が無い場合は空のReportRowを返す。
func (r *PostgresReportRepo) queryOne(ctx context.Context, name, q string, args ...any) (model.ReportRow, error) {
	rows, err := r.query(ctx, name, q, args...)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return model.ReportRow{}, nil
	}
	return rows[0], nil
}

// compile-time interface check
var _ ReportRepository = (*PostgresReportRepo)(nil)
