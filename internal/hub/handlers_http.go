package hub

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// handleHealth reports liveness plus the cheap counters. Always 200 while
// the process is up; load balancers use /health, humans use /metrics.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sys := s.sampler.Stats()

	s.roomsMu.Lock()
	matches := len(s.rooms)
	s.roomsMu.Unlock()

	resp := map[string]any{
		"status":           "ok",
		"timestamp":        time.Now().UTC().Format(time.RFC3339),
		"connections":      s.registry.Count(),
		"matches":          matches,
		"lobbySubscribers": s.registry.LobbyCount(),
		"messagesSent":     atomic.LoadInt64(&s.stats.MessagesSent),
		"bytesSent":        atomic.LoadInt64(&s.stats.BytesSent),
		"bytesReceived":    atomic.LoadInt64(&s.stats.BytesReceived),
		"cpuPercent":       sys.CPUPercent,
		"memoryMB":         sys.MemoryMB,
		"goroutines":       sys.Goroutines,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// authorized checks the app's shared secret with a constant-time compare.
func (s *Server) authorized(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.config.APIKey)) == 1
}

// handleNotifyLobbies lets the app push "the lobby list changed". The hub
// re-fetches and fans out; the notify body is ignored so the app cannot be
// made to inject arbitrary payloads through this path.
func (s *Server) handleNotifyLobbies(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	if !s.authorized(r) {
		s.logger.Warn().Str("remote", r.RemoteAddr).Msg("Unauthorized lobby notify")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	go s.broadcastLobbies()
	writeAccepted(w)
}

type matchNotify struct {
	MatchID       string `json:"matchId"`
	Status        string `json:"status"`
	TimeRemaining *int64 `json:"timeRemaining,omitempty"`
}

// handleNotifyMatch pushes a match status transition (waiting → active →
// voting → completed) to the match's members and refreshes lobby browsers.
func (s *Server) handleNotifyMatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	if !s.authorized(r) {
		s.logger.Warn().Str("remote", r.RemoteAddr).Msg("Unauthorized match notify")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req matchNotify
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.MatchID == "" || req.Status == "" {
		http.Error(w, "matchId and status are required", http.StatusBadRequest)
		return
	}

	s.logger.Info().
		Str("match_id", req.MatchID).
		Str("status", req.Status).
		Msg("Match status notify")
	go s.broadcastMatchStatus(req.MatchID, req.Status, req.TimeRemaining)
	writeAccepted(w)
}

// writeAccepted acknowledges a notify with the {ok:true} body the app's
// client expects alongside the 202.
func writeAccepted(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	w.Write([]byte(`{"ok":true}`))
}
