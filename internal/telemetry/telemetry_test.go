package telemetry

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/italolelis/musicdl/internal/logctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilTelemetryIsNoop(t *testing.T) {
	var tel *Telemetry

	assert.NotPanics(t, func() {
		tel.RecordDownload("completed", time.Second)
		tel.IncrementActiveDownloads()
		tel.DecrementActiveDownloads()
		tel.RecordNotification("success")
		tel.RecordTempFilesRemoved(3)
		tel.RecordSystemError("cleanup", "io")
		require.NoError(t, tel.Shutdown(context.Background()))
	})

	err := tel.InstrumentResolverOperation(context.Background(), "youtube", "resolve", func(context.Context) error {
		return errors.New("boom")
	})
	assert.EqualError(t, err, "boom")
}

func TestDisabledTelemetry(t *testing.T) {
	tel, err := New(context.Background(), Config{Enabled: false})
	require.NoError(t, err)

	called := false
	err = tel.InstrumentResolverOperation(context.Background(), "youtube", "resolve", func(context.Context) error {
		called = true

		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)

	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEnabledTelemetryExportsMetrics(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tel, err := New(ctx, Config{Enabled: true, ServiceName: "musicdl-test", ServiceVersion: "1.2.3"})
	require.NoError(t, err)
	defer tel.Shutdown(context.Background())

	tel.RecordDownload("completed", 2*time.Second)
	tel.IncrementActiveDownloads()
	require.NoError(t, tel.InstrumentDBOperation(ctx, "get_destination", func(context.Context) error { return nil }))

	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "downloads_")
	assert.Contains(t, body, `status="completed"`)
	assert.Contains(t, body, `operation="get_destination"`)
	assert.Contains(t, body, "system_uptime")

	// Resource attributes and Go runtime metrics.
	assert.Contains(t, body, `service_name="musicdl-test"`)
	assert.Contains(t, body, `service_version="1.2.3"`)
	assert.Contains(t, body, "go_goroutine")
}

func TestGetStatusClass(t *testing.T) {
	tests := map[int]string{
		200: "2xx",
		204: "2xx",
		302: "3xx",
		404: "4xx",
		503: "5xx",
		100: "unknown",
	}

	for code, want := range tests {
		assert.Equal(t, want, getStatusClass(code), code)
	}
}

func TestRequestID(t *testing.T) {
	var seen string

	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	_, err := uuid.Parse(seen)
	require.NoError(t, err)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))

	upstream := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, upstream)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, upstream, seen)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "not-a-uuid\nInjected: yes")

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.NotEqual(t, "not-a-uuid\nInjected: yes", seen)
}

func TestHTTPLogging(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{http.StatusOK, "INFO"},
		{http.StatusNotFound, "WARN"},
		{http.StatusInternalServerError, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewJSONHandler(&buf, nil))

			handler := HTTPLogging(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, "body")
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/downloads", nil)
			req = req.WithContext(logctx.WithLogger(req.Context(), logger))

			handler.ServeHTTP(httptest.NewRecorder(), req)

			out := buf.String()
			assert.Contains(t, out, `"level":"`+tt.level+`"`)
			assert.Contains(t, out, `"path":"/api/downloads"`)
			assert.Contains(t, out, `"bytes":4`)
		})
	}
}

func TestHTTPMiddleware_UsesRoutePattern(t *testing.T) {
	tel, err := New(context.Background(), Config{Enabled: true, ServiceName: "musicdl-test"})
	require.NoError(t, err)
	defer tel.Shutdown(context.Background())

	r := chi.NewRouter()
	r.Use(NewHTTPMiddleware(tel).Middleware)
	r.Get("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/items/42", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)

	metrics := httptest.NewRecorder()
	tel.Handler().ServeHTTP(metrics, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := metrics.Body.String()
	assert.True(t, strings.Contains(body, `path="/items/{id}"`), body)
	assert.NotContains(t, body, `path="/items/42"`)
}
