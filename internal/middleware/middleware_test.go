package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestLoggingMiddlewareRecordsStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := NewLoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	req := httptest.NewRequest(http.MethodGet, "/missing", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("ログのデコードに失敗: %v", err)
	}
	if entry["status"] != float64(http.StatusNotFound) {
		t.Errorf("ステータスの記録が不正: %v", entry["status"])
	}
	if entry["path"] != "/missing" {
		t.Errorf("パスの記録が不正: %v", entry["path"])
	}
	if entry["level"] != "WARN" {
		t.Errorf("4xxはWARNレベルで記録する: %v", entry["level"])
	}
}

func TestLoggingMiddlewareDefaultsTo200(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := NewLoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("ログのデコードに失敗: %v", err)
	}
	if entry["status"] != float64(http.StatusOK) {
		t.Errorf("WriteHeader未呼び出し時は200を記録する: %v", entry["status"])
	}
}

func TestRecoveryMiddlewareCatchesPanic(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := NewRecoveryMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("panic時は500を返す: %d", rec.Code)
	}
	if !bytes.Contains(buf.Bytes(), []byte("panic recovered")) {
		t.Error("panicがログに記録されていない")
	}
}
