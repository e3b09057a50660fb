package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

func logEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not JSON: %v", err)
	}
	return entry
}

func TestLoggerRequest(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	body := "short and stout"
	handler := Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte(body))
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	entry := logEntry(t, &buf)
	if entry["kind"] != "rest" {
		t.Fatalf("expected rest kind, got %v", entry["kind"])
	}
	if entry["status"] != float64(http.StatusTeapot) {
		t.Fatalf("expected status %d, got %v", http.StatusTeapot, entry["status"])
	}
	if entry["bytes"] != float64(len(body)) {
		t.Fatalf("expected %d bytes written, got %v", len(body), entry["bytes"])
	}
}

func TestLoggerWebsocketUpgrade(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	handler := Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/ws/visitor", nil)
	req.Header.Set("Upgrade", "websocket")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	entry := logEntry(t, &buf)
	if entry["kind"] != "websocket" {
		t.Fatalf("upgrade requests should be logged as websocket, got %v", entry["kind"])
	}
}
