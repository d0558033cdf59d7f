package log

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newBufferLogger(component string) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := New(Config{
		Level:     slog.LevelDebug,
		Component: component,
		Handler:   slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}),
	})
	return logger, &buf
}

func TestLoggerEmitsComponentOnce(t *testing.T) {
	logger, buf := newBufferLogger(ComponentApp)

	logger.WithComponent(ComponentHTTP).Info("hello", FieldRequestID, "req_1")

	out := buf.String()
	if got := strings.Count(out, FieldComponent+"="); got != 1 {
		t.Fatalf("component attr appears %d times, want 1: %s", got, out)
	}
	if !strings.Contains(out, FieldComponent+"="+ComponentHTTP) {
		t.Fatalf("expected component %q in %s", ComponentHTTP, out)
	}
	if !strings.Contains(out, FieldRequestID+"=req_1") {
		t.Fatalf("expected request id attr in %s", out)
	}
}

func TestLoggerWithKeepsComponent(t *testing.T) {
	logger, buf := newBufferLogger("worker")

	logger.With(FieldUserID, "u1").Warn("careful")

	out := buf.String()
	if !strings.Contains(out, FieldComponent+"=worker") || !strings.Contains(out, FieldUserID+"=u1") {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestMiddlewareInjectsLogger(t *testing.T) {
	logger, buf := newBufferLogger(ComponentApp)

	handler := Middleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		FromContext(r.Context()).InfoContext(r.Context(), "from handler")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if !strings.Contains(buf.String(), "from handler") {
		t.Fatalf("handler log did not reach the injected logger: %s", buf.String())
	}
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	logger := FromContext(context.Background())
	if logger == nil || logger.Logger == nil {
		t.Fatal("fallback logger must be usable")
	}
	if logger.Component() != "unknown" {
		t.Fatalf("fallback component = %q, want unknown", logger.Component())
	}
}

func TestLevelFromEnv(t *testing.T) {
	cases := []struct {
		value string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for i, tc := range cases {
		t.Setenv("LOG_LEVEL", tc.value)
		if got := levelFromEnv(); got != tc.want {
			t.Fatalf("case %d: levelFromEnv() with %q = %v, want %v", i, tc.value, got, tc.want)
		}
	}
}
