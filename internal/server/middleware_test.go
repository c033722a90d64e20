package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ggonzalez94/vault-gateway/internal/out"
	"github.com/ggonzalez94/vault-gateway/internal/wide"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/require"
)

func TestCORSPreflight(t *testing.T) {
	h := newHarness(t, nil)
	req := httptest.NewRequest(http.MethodOptions, "/deposit", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)
}

func TestCORSAllowList(t *testing.T) {
	handler := cors(corsConfig{AllowedOrigins: []string{"https://app.example"}})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/price", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestIDGeneratedAndEchoed(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
	require.Len(t, rec.Header().Get(requestIDHeader), 36)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	rec = httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	require.Equal(t, "abc-123", rec.Header().Get(requestIDHeader))
}

func TestMetricsExposeRequestsAndOutcomes(t *testing.T) {
	h := newHarness(t, nil)
	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, "/deposit", `{"amount":"1"}`).Code)

	rec := h.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, `gateway_requests_total{method="POST",route="/deposit",status="200"} 1`)
	require.Contains(t, body, `gateway_txn_outcomes_total{entrypoint="deposit_collateral",status="confirmed"} 1`)
	require.Contains(t, body, `gateway_binding_lookups_total{result="ok",source="node"} 1`)
}

func TestRateLimitWrites(t *testing.T) {
	h := newHarness(t, nil, withRateLimit(1, 1))

	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, "/deposit", `{"amount":"1"}`).Code)
	rec := h.do(t, http.MethodPost, "/deposit", `{"amount":"1"}`)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Contains(t, rec.Body.String(), "rate limit exceeded")

	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/price", "").Code)
}

func TestRateLimiterEvictsIdleVisitors(t *testing.T) {
	l := newRateLimiter(60, 1, nil)
	now := time.Unix(0, 0)
	l.now = func() time.Time { return now }

	require.True(t, l.allow("a"))
	require.False(t, l.allow("a"))

	now = now.Add(visitorTTL + time.Second)
	require.True(t, l.allow("b"))
	require.Len(t, l.visitors, 1)
}

func TestBodyLimit(t *testing.T) {
	h := newHarness(t, nil)
	big := `{"amount":"` + strings.Repeat("1", 1<<17) + `"}`
	rec := h.do(t, http.MethodPost, "/deposit", big)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "too large")
}

func TestClientIDFollowsRealIP(t *testing.T) {
	var got string
	handler := chimw.RealIP(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = clientID(r)
	}))
	serve := func(header, value string) string {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		if header != "" {
			req.Header.Set(header, value)
		}
		handler.ServeHTTP(httptest.NewRecorder(), req)
		return got
	}

	require.Equal(t, "10.0.0.1", serve("", ""))
	require.Equal(t, "203.0.113.9", serve("X-Forwarded-For", "203.0.113.9, 10.0.0.1"))
	require.Equal(t, "198.51.100.4", serve("X-Real-IP", "198.51.100.4"))
}

type panickingReader struct{ Reader }

func (panickingReader) Price(context.Context) (wide.Int, error) {
	panic("oracle decoder bug")
}

func TestHandlerPanicRendersInternalError(t *testing.T) {
	metrics := NewMetrics()
	srv := New(Config{}, Deps{Reader: panickingReader{}, Metrics: metrics})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/price")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	require.NotEmpty(t, resp.Header.Get(requestIDHeader))

	var body out.ErrorBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "internal error", body.Error)
	require.Equal(t, "InternalError", body.Code)
	require.Empty(t, body.Tx)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	exposition, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(exposition), `gateway_requests_total{method="GET",route="/price",status="500"} 1`)
}

func TestRecovererLeavesCommittedResponse(t *testing.T) {
	srv := New(Config{}, Deps{})
	handler := srv.observe(srv.recoverer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		out.JSON(w, http.StatusOK, map[string]string{"price": "0x1"})
		panic("after write")
	})))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/price", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "{\"price\":\"0x1\"}\n", rec.Body.String())
}
