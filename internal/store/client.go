// Package store is the hub's client for the EditMash HTTP application, which
// owns the relational store for lobbies, matches, users and long-term
// timelines. The hub reads match configs from it, pushes debounced timeline
// snapshots back, and notifies it of joins and departures. Failures here are
// logged and retried on the next debounced tick; they never take a room down.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/editmash/hub/internal/timeline"
)

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  zerolog.Logger
}

func New(baseURL, apiKey string, logger zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 10 * time.Second},
		logger:  logger.With().Str("component", "store").Logger(),
	}
}

// MatchConfig fetches the match ruleset: GET /api/matches/{id}.
func (c *Client) MatchConfig(ctx context.Context, matchID string) (*timeline.Config, error) {
	var cfg timeline.Config
	if err := c.doJSON(ctx, http.MethodGet, "/api/matches/"+url.PathEscape(matchID), nil, &cfg); err != nil {
		return nil, fmt.Errorf("fetch match config: %w", err)
	}
	return &cfg, nil
}

// PatchTimeline persists a debounced snapshot: PATCH /api/matches/{id}.
func (c *Client) PatchTimeline(ctx context.Context, matchID string, tl timeline.Timeline, editCount uint64) error {
	body := struct {
		Timeline  timeline.Timeline `json:"timeline"`
		EditCount uint64            `json:"editCount"`
	}{tl, editCount}
	if err := c.doJSON(ctx, http.MethodPatch, "/api/matches/"+url.PathEscape(matchID), body, nil); err != nil {
		return fmt.Errorf("patch timeline: %w", err)
	}
	return nil
}

// NotifyJoin records a late join: POST /api/matches/{id}/join.
func (c *Client) NotifyJoin(ctx context.Context, matchID, userID string) error {
	body := struct {
		UserID string `json:"userId"`
	}{userID}
	if err := c.doJSON(ctx, http.MethodPost, "/api/matches/"+url.PathEscape(matchID)+"/join", body, nil); err != nil {
		return fmt.Errorf("notify join: %w", err)
	}
	return nil
}

// NotifyLeave records a departure: POST /api/matches/{id}/leave.
func (c *Client) NotifyLeave(ctx context.Context, matchID, userID string) error {
	body := struct {
		UserID string `json:"userId"`
	}{userID}
	if err := c.doJSON(ctx, http.MethodPost, "/api/matches/"+url.PathEscape(matchID)+"/leave", body, nil); err != nil {
		return fmt.Errorf("notify leave: %w", err)
	}
	return nil
}

// Lobbies fetches the current lobby list: GET /api/lobbies?status=…. The body
// is relayed to subscribers verbatim, so it stays raw.
func (c *Client) Lobbies(ctx context.Context, status string) (json.RawMessage, error) {
	path := "/api/lobbies"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	var raw json.RawMessage
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, fmt.Errorf("fetch lobbies: %w", err)
	}
	return raw, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, snippet)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
