package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/editmash/hub/internal/timeline"
)

// stubStore satisfies Store without network traffic.
type stubStore struct {
	cfg     *timeline.Config
	lobbies json.RawMessage
}

func (s *stubStore) MatchConfig(ctx context.Context, matchID string) (*timeline.Config, error) {
	return s.cfg, nil
}
func (s *stubStore) PatchTimeline(ctx context.Context, matchID string, tl timeline.Timeline, editCount uint64) error {
	return nil
}
func (s *stubStore) NotifyJoin(ctx context.Context, matchID, userID string) error  { return nil }
func (s *stubStore) NotifyLeave(ctx context.Context, matchID, userID string) error { return nil }
func (s *stubStore) Lobbies(ctx context.Context, status string) (json.RawMessage, error) {
	return s.lobbies, nil
}

func testServer(t *testing.T) *Server {
	t.Helper()
	s := NewServer(Config{
		Addr:              ":0",
		APIKey:            "sekrit",
		IdleTimeout:       2 * time.Minute,
		ShutdownGrace:     time.Second,
		BatchWindow:       50 * time.Millisecond,
		SyncDebounce:      3 * time.Second,
		ZoneBuffer:        2,
		FrameRate:         20,
		FrameBurst:        100,
		ChatWindow:        10 * time.Second,
		ChatMaxPerWindow:  5,
		ChatCooldown:      time.Second,
		ChatMaxBytes:      200,
		ChatHistorySize:   100,
		VoteKickThreshold: 0.5,
		VoteKickDuration:  30 * time.Second,
	}, &stubStore{lobbies: json.RawMessage(`[]`)}, zerolog.Nop())
	t.Cleanup(func() {
		s.cancel()
		s.upgradeLimiter.Stop()
	})
	return s
}

func TestNotifyEndpointsRequireBearerToken(t *testing.T) {
	t.Parallel()
	s := testServer(t)

	cases := []struct {
		name string
		auth string
		want int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic sekrit", http.StatusUnauthorized},
		{"wrong token", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer sekrit", http.StatusAccepted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/notify/lobbies", nil)
			if tc.auth != "" {
				req.Header.Set("Authorization", tc.auth)
			}
			rec := httptest.NewRecorder()
			s.handleNotifyLobbies(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
			if tc.want == http.StatusAccepted {
				var body struct {
					OK bool `json:"ok"`
				}
				if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || !body.OK {
					t.Fatalf("accepted body = %q, want {\"ok\":true}", rec.Body.String())
				}
			}
		})
	}
}

func TestNotifyMatchValidatesBody(t *testing.T) {
	t.Parallel()
	s := testServer(t)

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/notify/match", strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer sekrit")
		rec := httptest.NewRecorder()
		s.handleNotifyMatch(rec, req)
		return rec
	}

	if rec := post(`{"matchId":"m1","status":"active"}`); rec.Code != http.StatusAccepted {
		t.Fatalf("valid notify = %d", rec.Code)
	} else if !strings.Contains(rec.Body.String(), `"ok":true`) {
		t.Fatalf("accepted body = %q", rec.Body.String())
	}
	if rec := post(`{"matchId":"","status":"active"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("empty matchId = %d", rec.Code)
	}
	if rec := post(`not json`); rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed body = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/notify/match", nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	rec := httptest.NewRecorder()
	s.handleNotifyMatch(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET = %d", rec.Code)
	}
}

func TestHealthPayload(t *testing.T) {
	t.Parallel()
	s := testServer(t)

	rec := httptest.NewRecorder()
	s.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("body: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("status field = %v", body["status"])
	}
	for _, key := range []string{"connections", "matches", "lobbySubscribers", "goroutines"} {
		if _, ok := body[key]; !ok {
			t.Fatalf("health payload missing %q", key)
		}
	}
}

func TestRoomLifecycle(t *testing.T) {
	t.Parallel()
	s := testServer(t)

	if got := s.room("m1", false); got != nil {
		t.Fatal("room existed before create")
	}
	r := s.room("m1", true)
	if r == nil || s.room("m1", false) != r {
		t.Fatal("create did not register the room")
	}
	s.dropRoom("m1")
	if s.room("m1", false) != nil {
		t.Fatal("room survived dropRoom")
	}
}

func TestClientIPPrefersForwardedFor(t *testing.T) {
	t.Parallel()
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.RemoteAddr = "10.0.0.1:4321"
	if got := clientIP(req); got != "10.0.0.1" {
		t.Fatalf("remote addr ip = %q", got)
	}
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if got := clientIP(req); got != "203.0.113.9" {
		t.Fatalf("forwarded ip = %q", got)
	}
}
