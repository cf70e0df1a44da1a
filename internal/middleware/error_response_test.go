package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/kpidash/internal/model"
)

func decodeError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	return body.Error
}

// TestWriteErrorResponse_WritesUnifiedFormat は{"error": ...}形式で書き込まれることを検証する。
func TestWriteErrorResponse_WritesUnifiedFormat(t *testing.T) {
	w := httptest.NewRecorder()

	WriteErrorResponse(w, http.StatusBadRequest, model.MsgMissingCredentials)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}
	if got := decodeError(t, w); got != model.MsgMissingCredentials {
		t.Errorf("error = %q, want %q", got, model.MsgMissingCredentials)
	}
}

func TestWriteError_MapsTaxonomy(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantMsg    string
	}{
		{"validation", model.NewMissingCredentialsError(), http.StatusBadRequest, model.MsgMissingCredentials},
		{"authentication", model.NewInvalidCredentialsError(), http.StatusUnauthorized, model.MsgInvalidCredentials},
		{"wrapped authentication", fmt.Errorf("login: %w", model.NewInvalidCredentialsError()), http.StatusUnauthorized, model.MsgInvalidCredentials},
		{"dependency", fmt.Errorf("%w: dial tcp: refused", model.ErrDependency), http.StatusInternalServerError, model.MsgInternal},
		{"unclassified", errors.New("boom"), http.StatusInternalServerError, model.MsgInternal},
		{"internal with message", model.NewInternalError("Error leyendo KPIs totales"), http.StatusInternalServerError, "Error leyendo KPIs totales"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/api/x", nil)

			WriteError(w, r, tt.err)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if got := decodeError(t, w); got != tt.wantMsg {
				t.Errorf("error = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

// TestWriteError_DoesNotLeakInternalText は内部エラー文言がレスポンスに含まれないことを検証する。
func TestWriteError_DoesNotLeakInternalText(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/x", nil)

	WriteError(w, r, errors.New("pq: password authentication failed for user kpi"))

	if got := decodeError(t, w); got != model.MsgInternal {
		t.Errorf("error = %q, want %q", got, model.MsgInternal)
	}
}

func TestWriteInternalServerError(t *testing.T) {
	w := httptest.NewRecorder()

	WriteInternalServerError(w)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if got := decodeError(t, w); got != model.MsgInternal {
		t.Errorf("error = %q, want %q", got, model.MsgInternal)
	}
}
