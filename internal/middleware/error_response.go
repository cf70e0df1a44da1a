package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/kpidash/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
type ErrorResponseBody struct {
	Error string `json:"error"`
}

// WriteErrorResponse は{"error": message}形式でHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{Error: message})
}

// WriteError はerrの分類に応じたステータスと文言を書き込む。
// model.APIErrorはその文言を、それ以外のエラーは固定の内部エラー文言を返す。
// 内部エラーの詳細はログにのみ記録する。
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status := model.StatusCodeOf(err)

	var apiErr *model.APIError
	if errors.As(err, &apiErr) && status < http.StatusInternalServerError {
		WriteErrorResponse(w, status, apiErr.Message)
		return
	}

	slog.ErrorContext(r.Context(), "request failed",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	message := model.MsgInternal
	if apiErr != nil && apiErr.Message != "" {
		message = apiErr.Message
	}
	WriteErrorResponse(w, http.StatusInternalServerError, message)
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, model.MsgInternal)
}
