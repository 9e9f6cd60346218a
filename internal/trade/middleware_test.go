package trade_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/tftstocks/market-engine/internal/trade"
)

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	r := chi.NewRouter()
	r.Use(trade.RequestLogger(logger))
	r.Get("/teapot", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/teapot", nil))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if entry["msg"] != "request" || entry["path"] != "/teapot" {
		t.Errorf("unexpected log entry %v", entry)
	}
	if status, _ := entry["status"].(float64); status != http.StatusTeapot {
		t.Errorf("expected status 418, got %v", entry["status"])
	}
}

func TestRequireCaller(t *testing.T) {
	called := false
	h := trade.RequireCaller(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	if w.Code != http.StatusUnauthorized || called {
		t.Errorf("expected 401 without calling next, got %d (called=%v)", w.Code, called)
	}

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(trade.HeaderUserID, "u-1")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if !called {
		t.Error("expected next handler to run with a caller")
	}
}
