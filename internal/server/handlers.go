package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"git.home.luguber.info/inful/devloop/internal/events"
	"git.home.luguber.info/inful/devloop/internal/logfields"
)

// maxWebhookBody bounds the accepted payload. CMS previews send small JSON
// notifications; anything larger is a misdirected request.
const maxWebhookBody = 1 << 20

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// handleWebhook accepts a data-source notification and hands the raw body to
// the orchestrator. The response is 202: acceptance means "a reload will
// happen", not "a reload has happened".
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read body"})
		return
	}
	if len(body) > maxWebhookBody {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "body too large"})
		return
	}

	evt := events.WebhookReceived{Body: body, ReceivedAt: time.Now()}
	if err := s.bus.Publish(r.Context(), evt); err != nil {
		slog.Error("Failed to publish webhook event", logfields.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "event bus unavailable"})
		return
	}

	slog.Info("Webhook accepted", slog.Int("body_bytes", len(body)))
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// handleExtract forces immediate query extraction while the loop is idle.
// Outside idle the trigger is a no-op, which the response spells out.
func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = "admin"
	}

	evt := events.ExtractQueriesNow{Reason: reason, RequestedAt: time.Now()}
	if err := s.bus.Publish(r.Context(), evt); err != nil {
		slog.Error("Failed to publish extract trigger", logfields.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "event bus unavailable"})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
		"note":   "effective only while the build loop is idle",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"state":  s.stateFn(),
	})
}
