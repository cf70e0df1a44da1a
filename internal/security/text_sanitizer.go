// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer は集計ビューから読み出した文字列値からHTMLを取り除き、
// ダッシュボードに不正なマークアップが流れ込まないようにする。
// bluemondayのStrictPolicyを使用し、タグは一切通過させない。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer は文字列値のサニタイズ機能のインターフェースを定義する。
type TextSanitizer interface {
	// SanitizeText はタグを除去したプレーンテキストを返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	SanitizeText(s string) string
}

// textSanitizer はTextSanitizerの実装。
// bluemondayのポリシーはスレッドセーフなため、1インスタンスを共有する。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerの新しいインスタンスを生成する。
func NewTextSanitizer() TextSanitizer {
	return &textSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// SanitizeText はタグを除去し、エンティティを復元したテキストを返す。
// 復元によって山括弧が現れる場合はエスケープされたままの値を返す。
func (s *textSanitizer) SanitizeText(v string) string {
	if !strings.ContainsAny(v, "<>&'\"") {
		return v
	}
	stripped := s.policy.Sanitize(v)
	plain := html.UnescapeString(stripped)
	if strings.ContainsAny(plain, "<>") {
		return stripped
	}
	return plain
}
