// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
	"net/http"
)

// エラー分類。ハンドラーはerrors.Isでこれらを判定し、HTTPステータスに変換する。
var (
	// ErrValidation はリクエストの必須項目欠落・形式不正を表す（400）。
	ErrValidation = errors.New("validation error")
	// ErrAuthentication は未登録ユーザー、パスワード不一致、トークン不正・期限切れを表す（401）。
	// 列挙攻撃を防ぐため、原因の区別はクライアントに返さない。
	ErrAuthentication = errors.New("authentication error")
	// ErrConfiguration は本番環境での署名シークレット未設定などの設定不備を表す。
	ErrConfiguration = errors.New("configuration error")
	// ErrDependency はDB到達不能・プール枯渇などの依存先障害を表す（500）。
	ErrDependency = errors.New("dependency error")
)

// クライアントに返す固定メッセージ。
const (
	MsgMissingCredentials = "Email y contraseña son requeridos"
	MsgInvalidCredentials = "Credenciales inválidas"
	MsgUnauthorized       = "No autorizado"
	MsgInternal           = "Error interno del servidor"
	MsgInvalidParameter   = "Parámetro inválido"
	MsgTooManyRequests    = "Demasiadas solicitudes, intente más tarde"
)

// APIError はクライアントへ返すエラーを表す。
// Kindはエラー分類のセンチネル、Messageはレスポンスの"error"フィールドに入る文言。
type APIError struct {
	Kind    error
	Message string
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("%v: %s", e.Kind, e.Message)
}

// Unwrap はerrors.Isで分類を判定できるようにする。
func (e *APIError) Unwrap() error {
	return e.Kind
}

// StatusCode はエラー分類に対応するHTTPステータスを返す。
func (e *APIError) StatusCode() int {
	return StatusCodeOf(e.Kind)
}

// StatusCodeOf はerrの分類に対応するHTTPステータスを返す。
// 分類不明のエラーは500として扱う。
func StatusCodeOf(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrAuthentication):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// NewMissingCredentialsError は必須項目欠落エラーを生成する。
// どの項目が欠けているかはメッセージに含めない。
func NewMissingCredentialsError() *APIError {
	return &APIError{Kind: ErrValidation, Message: MsgMissingCredentials}
}

// NewInvalidCredentialsError は認証失敗エラーを生成する。
// 未登録メールアドレスとパスワード不一致で同一のエラーを返す。
func NewInvalidCredentialsError() *APIError {
	return &APIError{Kind: ErrAuthentication, Message: MsgInvalidCredentials}
}

// NewUnauthorizedError はセッション未確立エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{Kind: ErrAuthentication, Message: MsgUnauthorized}
}

// NewInvalidParameterError はクエリパラメータ不正エラーを生成する。
func NewInvalidParameterError() *APIError {
	return &APIError{Kind: ErrValidation, Message: MsgInvalidParameter}
}

// NewInternalError は依存先障害など内部エラーを生成する。
// 詳細はログのみに記録し、クライアントには固定メッセージを返す。
func NewInternalError(message string) *APIError {
	if message == "" {
		message = MsgInternal
	}
	return &APIError{Kind: ErrDependency, Message: message}
}
