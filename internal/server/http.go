package server

import (
	"encoding/json"
	"net/http"

	"github.com/alfredjeanlab/zapline/internal/model"
	"github.com/alfredjeanlab/zapline/internal/zaperr"
)

// NewHTTPHandler returns an http.Handler with all routes registered.
// When authToken is non-empty, requests other than the probes and /metrics
// must include a valid Authorization: Bearer <token> header.
func (s *OpsServer) NewHTTPHandler(authToken string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	mux.HandleFunc("GET /v1/totals/{target_type}", s.handleTotals)
	mux.HandleFunc("GET /v1/games/{id}/replies", s.handleReplies)
	return AuthMiddleware(authToken, mux)
}

// handleHealth handles GET /healthz.
func (s *OpsServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady handles GET /readyz by probing the store.
func (s *OpsServer) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.checkStore(r.Context()); err != nil {
		s.logger.Warn("readiness probe failed", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleTotals handles GET /v1/totals/{target_type}?target_id=&source=.
func (s *OpsServer) handleTotals(w http.ResponseWriter, r *http.Request) {
	tt, ok := model.ParseTargetType(r.PathValue("target_type"))
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown target type")
		return
	}
	totals, err := s.ledger.Totals(r.Context(), s.store, tt, r.URL.Query().Get("target_id"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if src := r.URL.Query().Get("source"); src != "" {
		want, ok := model.ParseZapSource(src)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown source")
			return
		}
		filtered := totals[:0]
		for _, t := range totals {
			if t.Source == want {
				filtered = append(filtered, t)
			}
		}
		totals = filtered
	}
	if totals == nil {
		totals = []*model.ZapLedgerTotal{}
	}

	var sum int64
	for _, t := range totals {
		sum += t.TotalMsats
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"totals":      totals,
		"total_msats": sum,
	})
}

// handleReplies handles GET /v1/games/{id}/replies. Hidden replies are
// omitted.
func (s *OpsServer) handleReplies(w http.ResponseWriter, r *http.Request) {
	replies, err := s.store.ListReplies(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	visible := make([]*model.IngestedReply, 0, len(replies))
	for _, rep := range replies {
		if !rep.IsHidden {
			visible = append(visible, rep)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"replies": visible})
}

func statusFor(err error) int {
	switch zaperr.KindOf(err) {
	case zaperr.KindMalformedInput:
		return http.StatusBadRequest
	case zaperr.KindTransientNetwork:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
