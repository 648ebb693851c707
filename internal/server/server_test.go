package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/devloop/internal/config"
	"git.home.luguber.info/inful/devloop/internal/events"
	"git.home.luguber.info/inful/devloop/internal/observability"
)

func testServer(t *testing.T, bus *events.Bus) *Server {
	t.Helper()

	cfg := config.Config{}
	cfg.Webhook.Path = "/__refresh"
	cfg.Metrics.Enabled = true

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	srv, err := New(cfg, bus, metrics, func() string { return "waiting" })
	require.NoError(t, err)
	return srv
}

func TestWebhook_PublishesBodyAndAccepts(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	webhookCh, unsub := events.Subscribe[events.WebhookReceived](bus, 4)
	defer unsub()

	srv := testServer(t, bus)

	req := httptest.NewRequest(http.MethodPost, "/__refresh", strings.NewReader(`{"source":"cms"}`))
	rec := httptest.NewRecorder()
	srv.webhookMux().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case evt := <-webhookCh:
		require.JSONEq(t, `{"source":"cms"}`, string(evt.Body))
	case <-time.After(time.Second):
		t.Fatal("webhook event never published")
	}
}

func TestWebhook_RejectsOversizedBody(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	srv := testServer(t, bus)

	req := httptest.NewRequest(http.MethodPost, "/__refresh", strings.NewReader(strings.Repeat("x", maxWebhookBody+1)))
	rec := httptest.NewRecorder()
	srv.webhookMux().ServeHTTP(rec, req)

	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestWebhook_MethodNotAllowed(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	srv := testServer(t, bus)

	req := httptest.NewRequest(http.MethodGet, "/__refresh", nil)
	rec := httptest.NewRecorder()
	srv.webhookMux().ServeHTTP(rec, req)

	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestExtract_PublishesTriggerWithReason(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	extractCh, unsub := events.Subscribe[events.ExtractQueriesNow](bus, 4)
	defer unsub()

	srv := testServer(t, bus)

	req := httptest.NewRequest(http.MethodPost, "/extract?reason=deploy-preview", nil)
	rec := httptest.NewRecorder()
	srv.webhookMux().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case evt := <-extractCh:
		require.Equal(t, "deploy-preview", evt.Reason)
	case <-time.After(time.Second):
		t.Fatal("extract trigger never published")
	}
}

func TestHealth_ReportsState(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	srv := testServer(t, bus)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.webhookMux().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "ok", body["status"])
	require.Equal(t, "waiting", body["state"])
}

func TestMetricsEndpoint_ServesRegistry(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	srv := testServer(t, bus)
	srv.metrics.IncTransition("initializing", "initializingData")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.metricsMux().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "devloop_state_transitions_total")
}
