package hub

import (
	"context"
	"time"

	"github.com/editmash/hub/internal/monitoring"
	"github.com/editmash/hub/internal/protocol"
)

// Lobby subscriptions live on the connection, not in any room: browsing the
// lobby list and editing in a match are orthogonal.

func (s *Server) handleSubscribeLobbies(c *Client) {
	s.registry.SubscribeLobbies(c)
	monitoring.LobbySubscribers.Set(float64(s.registry.LobbyCount()))

	// Seed the subscriber with the current list so the UI renders without
	// waiting for the next change notification.
	go func() {
		defer monitoring.RecoverPanic(s.logger, "lobby_seed", nil)
		ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
		defer cancel()
		raw, err := s.store.Lobbies(ctx, "waiting")
		if err != nil {
			s.logger.Warn().Err(err).Msg("Lobby list fetch failed, subscriber waits for next update")
			return
		}
		s.deliverPayload([]*Client{c}, protocol.MsgLobbiesUpdate, protocol.LobbiesUpdate{Lobbies: raw})
	}()
}

func (s *Server) handleUnsubscribeLobbies(c *Client) {
	s.registry.UnsubscribeLobbies(c)
	monitoring.LobbySubscribers.Set(float64(s.registry.LobbyCount()))
}

// broadcastLobbies fetches the list once and fans it out to every
// subscriber. Triggered by the app's notify endpoint and by the bus bridge.
func (s *Server) broadcastLobbies() {
	subs := s.registry.LobbySubscribers()
	if len(subs) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	raw, err := s.store.Lobbies(ctx, "waiting")
	if err != nil {
		s.logger.Warn().Err(err).Int("subscribers", len(subs)).Msg("Lobby list fetch failed, skipping broadcast")
		return
	}
	s.deliverPayload(subs, protocol.MsgLobbiesUpdate, protocol.LobbiesUpdate{Lobbies: raw})
}

// LobbiesChanged and MatchStatusChanged adapt the bus bridge's callbacks
// onto the same fan-out paths the HTTP notify endpoints use.
func (s *Server) LobbiesChanged() {
	s.broadcastLobbies()
}

func (s *Server) MatchStatusChanged(matchID, status string, timeRemaining *int64) {
	s.broadcastMatchStatus(matchID, status, timeRemaining)
}

// broadcastMatchStatus pushes a status transition to a match's members and
// refreshes the lobby list for browsers. timeRemaining is relayed as-is when
// the app sent a countdown.
func (s *Server) broadcastMatchStatus(matchID, status string, timeRemaining *int64) {
	if r := s.room(matchID, false); r != nil {
		r.onStatus(status)
		r.mu.Lock()
		members := r.membersLocked(0)
		players := r.uniquePlayersLocked()
		r.mu.Unlock()
		s.deliverPayload(members, protocol.MsgMatchStatus, protocol.MatchStatus{
			MatchID:       matchID,
			Status:        status,
			TimeRemaining: timeRemaining,
			PlayerCount:   players,
		})
	}
	s.broadcastLobbies()
}
