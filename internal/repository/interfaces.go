// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/kpidash/internal/model"
)

// UserRepository は認証ストア（usuariosテーブル）の読み取りインターフェース。
type UserRepository interface {
	// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)
}

// ReportRepository は集計ビューの読み取りインターフェース。
// 単一行の集計は行が無い場合に空のReportRowを返す。
type ReportRepository interface {
	// CardsTotales はKPIカードの合計値を返す。
	CardsTotales(ctx context.Context) (model.ReportRow, error)
	// Totales はLead・Stock合算の全体集計を返す。
	Totales(ctx context.Context) (model.ReportRow, error)
	// Funnel は区分別ファネルと合計行を返す。
	Funnel(ctx context.Context) ([]model.ReportRow, error)
	// FunnelTotales は最新週のファネル段階を返す。
	FunnelTotales(ctx context.Context) (model.ReportRow, error)
	// FunnelDiplomado はディプロマ課程のファネルを区分で絞り込んで返す。
	FunnelDiplomado(ctx context.Context, tipoBase model.TipoBase) ([]model.ReportRow, error)
	// PorSemana は週別KPIを返す。
	PorSemana(ctx context.Context) ([]model.ReportRow, error)
	// PorSemanaDiplomado はstart以降のディプロマ課程の週別KPIを返す。
	PorSemanaDiplomado(ctx context.Context, start time.Time) ([]model.ReportRow, error)
	// TopCarreras は関心数の多いキャリアを返す。
	TopCarreras(ctx context.Context, filter model.TopCarrerasFilter) ([]model.ReportRow, error)
}
