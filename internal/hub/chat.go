package hub

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/editmash/hub/internal/monitoring"
	"github.com/editmash/hub/internal/protocol"
)

// systemUserID authors server-generated chat lines (vote-kick prompts,
// errors). On the wire they are ordinary ChatBroadcast frames with this
// sender.
const systemUserID = "system"

// chatHistory is the room's retained backlog: a ring capped at the configured
// size, replayed to every newly joining member before live traffic resumes.
type chatHistory struct {
	entries []protocol.ChatBroadcast
	max     int
}

func newChatHistory(max int) *chatHistory {
	return &chatHistory{entries: make([]protocol.ChatBroadcast, 0, max), max: max}
}

func (h *chatHistory) Append(msg protocol.ChatBroadcast) {
	if len(h.entries) == h.max {
		copy(h.entries, h.entries[1:])
		h.entries[len(h.entries)-1] = msg
		return
	}
	h.entries = append(h.entries, msg)
}

func (h *chatHistory) List() []protocol.ChatBroadcast {
	out := make([]protocol.ChatBroadcast, len(h.entries))
	copy(out, h.entries)
	return out
}

func (h *chatHistory) Len() int { return len(h.entries) }

// handleChatMessage runs the chat pipeline: sanitize, rate limit, intercept
// vote-kick commands and votes, then record and broadcast.
func (r *Room) handleChatMessage(c *Client, msg protocol.ChatMessage) {
	text := strings.TrimSpace(msg.Message)
	if text == "" {
		r.hub.sendError(c, protocol.ErrInvalidPayload, "Chat message is empty")
		return
	}
	if len(text) > r.hub.config.ChatMaxBytes {
		text = text[:r.hub.config.ChatMaxBytes]
	}

	if !r.hub.chatLimiter.Allow(c.id) {
		monitoring.ChatRateLimited.Inc()
		r.hub.sendError(c, protocol.ErrRateLimited, "Chat rate limit exceeded, slow down")
		return
	}

	ident := c.Identity()
	if ident.UserID == "" {
		r.hub.sendError(c, protocol.ErrNotAuthenticated, "Join a match before chatting")
		return
	}

	// "!kick <query>" is consumed by the vote machinery, never broadcast.
	if query, ok := strings.CutPrefix(text, "!kick "); ok {
		r.startVoteKick(c, strings.TrimSpace(query))
		return
	}

	// A bare y/yes while a vote is live counts as a vote, not a chat line.
	if lower := strings.ToLower(text); lower == "y" || lower == "yes" {
		if r.castVote(c) {
			return
		}
	}

	r.mu.Lock()
	if _, member := r.members[c.id]; !member {
		r.mu.Unlock()
		r.hub.sendError(c, protocol.ErrNotInMatch, "You are not in this match")
		return
	}
	broadcast := protocol.ChatBroadcast{
		MatchID:        r.matchID,
		MessageID:      uuid.NewString(),
		UserID:         ident.UserID,
		Username:       ident.Username,
		UserImage:      ident.UserImage,
		HighlightColor: ident.HighlightColor,
		Message:        text,
		Timestamp:      time.Now().UnixMilli(),
	}
	r.chat.Append(broadcast)
	recipients := r.membersLocked(0)
	r.mu.Unlock()

	monitoring.ChatMessages.Inc()
	r.hub.deliverPayload(recipients, protocol.MsgChatBroadcast, broadcast)
}

// systemChat appends and fans out a system-authored line. Callers must NOT
// hold the room lock.
func (r *Room) systemChat(text string) {
	msg := protocol.ChatBroadcast{
		MatchID:   r.matchID,
		MessageID: uuid.NewString(),
		UserID:    systemUserID,
		Username:  systemUserID,
		Message:   text,
		Timestamp: time.Now().UnixMilli(),
	}

	r.mu.Lock()
	r.chat.Append(msg)
	recipients := r.membersLocked(0)
	r.mu.Unlock()

	r.hub.deliverPayload(recipients, protocol.MsgChatBroadcast, msg)
}

// systemWhisper sends a system line to a single connection without recording
// it in the history.
func (r *Room) systemWhisper(c *Client, text string) {
	msg := protocol.ChatBroadcast{
		MatchID:   r.matchID,
		MessageID: uuid.NewString(),
		UserID:    systemUserID,
		Username:  systemUserID,
		Message:   text,
		Timestamp: time.Now().UnixMilli(),
	}
	r.hub.deliverPayload([]*Client{c}, protocol.MsgChatBroadcast, msg)
}
