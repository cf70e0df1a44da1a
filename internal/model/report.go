package model

// ReportRow は集計ビューの1行を表す。キーは列名、値はスキャン結果。
// ビュー側で列が追加されてもそのままJSONに反映されるよう、構造体ではなくマップで保持する。
type ReportRow map[string]any

// TipoBase はファネル集計の母集団区分。
type TipoBase string

const (
	TipoBaseLead  TipoBase = "Lead"
	TipoBaseStock TipoBase = "Stock"
	// TipoBaseTodas は区分で絞り込まないことを示す。
	TipoBaseTodas TipoBase = "Todas"
)

// ParseTipoBase はクエリパラメータの値を区分に変換する。
// 空文字列はTodasとして扱う。未知の値はfalseを返す。
func ParseTipoBase(s string) (TipoBase, bool) {
	switch TipoBase(s) {
	case "", TipoBaseTodas:
		return TipoBaseTodas, true
	case TipoBaseLead, TipoBaseStock:
		return TipoBase(s), true
	default:
		return "", false
	}
}

// TopCarrerasFilter はキャリア別関心数ランキングの絞り込み条件。
type TopCarrerasFilter struct {
	// Sede は小文字化したキャンパス名。空文字列は全キャンパス。
	Sede  string
	Limit int
}
