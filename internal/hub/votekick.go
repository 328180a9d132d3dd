package hub

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/editmash/hub/internal/monitoring"
	"github.com/editmash/hub/internal/protocol"
)

// voteKick is the room's single in-flight kick vote. The id ties the expiry
// timer to this particular vote: a timer that fires after the vote resolved
// (or after a newer vote started) re-checks the id and does nothing.
type voteKick struct {
	id             string
	targetUserID   string
	targetUsername string
	initiatorID    string
	votesFor       map[string]struct{}
	needed         int
	startedAt      time.Time
	timer          *time.Timer
}

// startVoteKick resolves "!kick <query>" and opens (or short-circuits) a vote.
// The initiating message was consumed by the chat pipeline and is never
// broadcast.
func (r *Room) startVoteKick(c *Client, query string) {
	initiator := c.Identity()
	if query == "" {
		r.systemChat("Usage: !kick <player name>")
		return
	}

	r.mu.Lock()

	if _, member := r.members[c.id]; !member {
		r.mu.Unlock()
		r.hub.sendError(c, protocol.ErrNotInMatch, "You are not in this match")
		return
	}

	if r.vote != nil {
		inProgress := r.vote.targetUsername
		r.mu.Unlock()
		r.systemChat(fmt.Sprintf("A vote to kick %s is already in progress", inProgress))
		return
	}

	// Candidate set: distinct users in the room minus the initiator.
	type candidate struct{ userID, username string }
	seen := make(map[string]candidate)
	for _, m := range r.members {
		id := m.Identity()
		if id.UserID == "" || id.UserID == initiator.UserID {
			continue
		}
		seen[id.UserID] = candidate{id.UserID, id.Username}
	}

	// Fuzzy match: exact, then prefix, then substring, case-insensitive.
	q := strings.ToLower(query)
	var matches []candidate
	for _, pass := range []func(name string) bool{
		func(name string) bool { return name == q },
		func(name string) bool { return strings.HasPrefix(name, q) },
		func(name string) bool { return strings.Contains(name, q) },
	} {
		for _, cand := range seen {
			if pass(strings.ToLower(cand.username)) {
				matches = append(matches, cand)
			}
		}
		if len(matches) > 0 {
			break
		}
	}

	if len(matches) == 0 {
		r.mu.Unlock()
		r.systemChat(fmt.Sprintf("No player matching %q to kick", query))
		return
	}
	if len(matches) > 1 {
		names := make([]string, len(matches))
		for i, m := range matches {
			names[i] = m.username
		}
		r.mu.Unlock()
		r.systemChat(fmt.Sprintf("%q matches several players (%s), be more specific", query, strings.Join(names, ", ")))
		return
	}

	target := matches[0]
	uniquePlayers := len(seen) + 1 // candidates plus the initiator
	needed := int(math.Ceil(float64(uniquePlayers-1) * r.hub.config.VoteKickThreshold))
	if needed < 1 {
		needed = 1
	}

	vote := &voteKick{
		id:             uuid.NewString(),
		targetUserID:   target.userID,
		targetUsername: target.username,
		initiatorID:    initiator.UserID,
		votesFor:       map[string]struct{}{initiator.UserID: {}},
		needed:         needed,
		startedAt:      time.Now(),
	}
	r.vote = vote
	monitoring.VoteKicks.WithLabelValues("started").Inc()

	if len(vote.votesFor) >= vote.needed {
		// Two players in the room: the initiator alone carries the vote.
		r.mu.Unlock()
		r.executeKick(vote)
		return
	}

	voteID := vote.id
	votes, needed := len(vote.votesFor), vote.needed
	vote.timer = time.AfterFunc(r.hub.config.VoteKickDuration, func() {
		r.expireVote(voteID)
	})
	r.mu.Unlock()

	r.systemChat(fmt.Sprintf(
		"%s started a vote to kick %s. Type y to agree (%d/%d, %ds left)",
		initiator.Username, target.username, votes, needed,
		int(r.hub.config.VoteKickDuration.Seconds()),
	))
}

// castVote counts a bare y/yes toward the active vote. Returns false when no
// vote is live so the message falls through as ordinary chat.
func (r *Room) castVote(c *Client) bool {
	voter := c.Identity()

	r.mu.Lock()
	vote := r.vote
	if vote == nil {
		r.mu.Unlock()
		return false
	}
	if _, member := r.members[c.id]; !member {
		r.mu.Unlock()
		r.hub.sendError(c, protocol.ErrNotInMatch, "You are not in this match")
		return true
	}
	if voter.UserID == vote.targetUserID {
		r.mu.Unlock()
		r.systemWhisper(c, "You cannot vote on your own kick")
		return true
	}
	vote.votesFor[voter.UserID] = struct{}{}
	reached := len(vote.votesFor) >= vote.needed
	votes, needed, target := len(vote.votesFor), vote.needed, vote.targetUsername
	r.mu.Unlock()

	if reached {
		r.executeKick(vote)
		return true
	}
	r.systemChat(fmt.Sprintf("Vote to kick %s: %d/%d", target, votes, needed))
	return true
}

// executeKick bans the target and closes every connection of that user in
// this match. Bans are never lifted for the lifetime of the room.
func (r *Room) executeKick(vote *voteKick) {
	r.mu.Lock()
	if r.vote == nil || r.vote.id != vote.id {
		r.mu.Unlock()
		return
	}
	if r.vote.timer != nil {
		r.vote.timer.Stop()
	}
	r.vote = nil
	r.banned[vote.targetUserID] = struct{}{}

	var kicked []*Client
	for _, m := range r.members {
		if m.UserID() == vote.targetUserID {
			kicked = append(kicked, m)
		}
	}
	r.mu.Unlock()

	monitoring.VoteKicks.WithLabelValues("executed").Inc()
	r.logger.Info().
		Str("target_user_id", vote.targetUserID).
		Str("target_username", vote.targetUsername).
		Int("votes", len(vote.votesFor)).
		Msg("Vote kick executed")

	r.systemChat(fmt.Sprintf("%s was kicked from the match", vote.targetUsername))

	// evicted=false: the app must learn the kicked player left the match.
	for _, m := range kicked {
		r.hub.sendError(m, protocol.ErrVoteKicked, "You were vote-kicked from this match")
		r.leave(m, false)
		r.hub.closeSlow(m, "vote_kicked")
	}
}

// expireVote is the timer callback. Idempotent: it checks the vote id before
// touching anything.
func (r *Room) expireVote(voteID string) {
	r.mu.Lock()
	if r.vote == nil || r.vote.id != voteID {
		r.mu.Unlock()
		return
	}
	target := r.vote.targetUsername
	r.vote = nil
	r.mu.Unlock()

	monitoring.VoteKicks.WithLabelValues("expired").Inc()
	r.systemChat(fmt.Sprintf("Vote to kick %s expired without enough votes", target))
}
