package store

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/editmash/hub/internal/timeline"
)

func TestMatchConfigRequestShape(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s", r.Method)
		}
		if r.URL.Path != "/api/matches/m1" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sekrit" {
			t.Errorf("auth header = %q", got)
		}
		json.NewEncoder(w).Encode(timeline.Config{
			MatchID:          "m1",
			Status:           "active",
			TimelineDuration: 90,
			ClipSizeMin:      1,
			ClipSizeMax:      15,
			MaxVideoTracks:   2,
			MaxAudioTracks:   1,
			Constraints:      []string{"allowedTypes:video"},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "sekrit", zerolog.Nop())
	cfg, err := c.MatchConfig(context.Background(), "m1")
	if err != nil {
		t.Fatalf("match config: %v", err)
	}
	if cfg.TimelineDuration != 90 || len(cfg.Constraints) != 1 {
		t.Fatalf("config = %#v", cfg)
	}
}

func TestPatchTimelineBody(t *testing.T) {
	t.Parallel()
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("method = %s", r.Method)
		}
		gotBody, _ = io.ReadAll(r.Body)
	}))
	defer srv.Close()

	c := New(srv.URL, "k", zerolog.Nop())
	tl := timeline.NewTimeline(60, 1, 1)
	if err := c.PatchTimeline(context.Background(), "m1", tl, 42); err != nil {
		t.Fatalf("patch: %v", err)
	}

	var payload struct {
		Timeline  timeline.Timeline `json:"timeline"`
		EditCount uint64            `json:"editCount"`
	}
	if err := json.Unmarshal(gotBody, &payload); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if payload.EditCount != 42 || payload.Timeline.Duration != 60 {
		t.Fatalf("payload = %#v", payload)
	}
}

func TestLobbiesStaysRaw(t *testing.T) {
	t.Parallel()
	const body = `[{"id":"l1","extraFieldTheHubDoesNotKnow":true}]`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("status"); got != "waiting" {
			t.Errorf("status query = %q", got)
		}
		io.WriteString(w, body)
	}))
	defer srv.Close()

	c := New(srv.URL, "k", zerolog.Nop())
	raw, err := c.Lobbies(context.Background(), "waiting")
	if err != nil {
		t.Fatalf("lobbies: %v", err)
	}
	// The list is relayed verbatim; unknown fields must survive.
	if !strings.Contains(string(raw), "extraFieldTheHubDoesNotKnow") {
		t.Fatalf("raw = %s", raw)
	}
}

func TestErrorIncludesBodySnippet(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "match not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, "k", zerolog.Nop())
	_, err := c.MatchConfig(context.Background(), "nope")
	if err == nil {
		t.Fatal("expected error on 404")
	}
	if !strings.Contains(err.Error(), "404") || !strings.Contains(err.Error(), "match not found") {
		t.Fatalf("err = %v", err)
	}
}

func TestNotifyJoinAndLeavePaths(t *testing.T) {
	t.Parallel()
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		var body struct {
			UserID string `json:"userId"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if body.UserID != "u1" {
			t.Errorf("userId = %q", body.UserID)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "k", zerolog.Nop())
	if err := c.NotifyJoin(context.Background(), "m1", "u1"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := c.NotifyLeave(context.Background(), "m1", "u1"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if len(paths) != 2 || paths[0] != "/api/matches/m1/join" || paths[1] != "/api/matches/m1/leave" {
		t.Fatalf("paths = %v", paths)
	}
}
