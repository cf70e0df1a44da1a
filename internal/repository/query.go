package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/kpidash/internal/model"
	"github.com/hitoshi/kpidash/internal/security"
)

// defaultQueryTimeout はタイムアウト未指定時のクエリ上限時間。
const defaultQueryTimeout = 15 * time.Second

// QueryObserver はクエリ所要時間を記録する。metrics.Collectorが実装する。
type QueryObserver interface {
	ObserveQuery(name string, d time.Duration, err error)
}

// queryContext はクライアント切断後もクエリを完了させて接続を返却できるよう、
// 呼び出し元のキャンセルを切り離したうえで上限時間を設定したコンテキストを返す。
// リクエストスコープの値（ログ属性など）は引き継がれる。
func queryContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = defaultQueryTimeout
	}
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}

// scanRows は結果セットの全行を列名をキーとしたReportRowに変換する。
// []byteは文字列に変換し、文字列値はsanitizerでタグを除去する。
func scanRows(rows *sql.Rows, sanitizer security.TextSanitizer) ([]model.ReportRow, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	result := []model.ReportRow{}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		row := make(model.ReportRow, len(cols))
		for i, col := range cols {
			row[col] = normalizeValue(values[i], sanitizer)
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}
	return result, nil
}

func normalizeValue(v any, sanitizer security.TextSanitizer) any {
	switch val := v.(type) {
	case []byte:
		return sanitize(string(val), sanitizer)
	case string:
		return sanitize(val, sanitizer)
	default:
		return val
	}
}

func sanitize(s string, sanitizer security.TextSanitizer) string {
	if sanitizer == nil {
		return s
	}
	return sanitizer.SanitizeText(s)
}
