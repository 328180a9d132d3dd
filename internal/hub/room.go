package hub

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/editmash/hub/internal/protocol"
	"github.com/editmash/hub/internal/timeline"
)

// Room is the authoritative per-match state: member set, cached timeline,
// clip-id map, per-player clip counts, chat history, bans and vote-kick. A
// single mutex serializes every operation; fan-out snapshots the recipient
// set under the lock and writes to sockets after releasing it. HTTP calls to
// the app never run under the lock.
type Room struct {
	matchID string
	hub     *Server
	logger  zerolog.Logger

	mu         sync.Mutex
	members    map[int64]*Client
	cache      *timeline.Cache
	ids        *clipIDMap
	clipCounts map[string]int
	chat       *chatHistory
	banned     map[string]struct{}
	vote       *voteKick
	editCount  uint64
	zones      map[int64]zone
	syncTimer  *time.Timer
	closed     bool

	// Config is fetched lazily and guarded separately so a slow app fetch
	// never blocks room operations that don't need it.
	cfgMu      sync.Mutex
	cfg        *timeline.Config
	lastCfgTry time.Time
}

// zone is a member's subscribed time interval. Absent zone = full timeline.
type zone struct {
	start, end float64
}

func newRoom(hub *Server, matchID string) *Room {
	return &Room{
		matchID:    matchID,
		hub:        hub,
		logger:     hub.logger.With().Str("component", "room").Str("match_id", matchID).Logger(),
		members:    make(map[int64]*Client),
		cache:      timeline.NewCacheFromTimeline(timeline.Timeline{}),
		ids:        newClipIDMap(),
		clipCounts: make(map[string]int),
		chat:       newChatHistory(hub.config.ChatHistorySize),
		banned:     make(map[string]struct{}),
		zones:      make(map[int64]zone),
	}
}

// config returns the cached match config, fetching it from the app at most
// once per retry interval. A nil return means validation degrades to accept:
// the hub keeps making forward progress while the app is down.
func (r *Room) config(ctx context.Context) *timeline.Config {
	r.cfgMu.Lock()
	defer r.cfgMu.Unlock()

	if r.cfg != nil {
		return r.cfg
	}
	if time.Since(r.lastCfgTry) < 5*time.Second {
		return nil
	}
	r.lastCfgTry = time.Now()

	cfg, err := r.hub.store.MatchConfig(ctx, r.matchID)
	if err != nil {
		r.logger.Warn().Err(err).Msg("Match config fetch failed, validation degraded to accept")
		return nil
	}
	r.cfg = cfg

	// First successful fetch seeds the predefined track layout.
	r.mu.Lock()
	if r.cache.Duration() == 0 {
		if r.cache.ClipCount() == 0 {
			r.cache.Replace(timeline.NewTimeline(cfg.TimelineDuration, cfg.MaxVideoTracks, cfg.MaxAudioTracks))
		} else {
			r.cache.SetDuration(cfg.TimelineDuration)
		}
	}
	r.mu.Unlock()

	r.logger.Info().
		Float64("timeline_duration", cfg.TimelineDuration).
		Int("max_video_tracks", cfg.MaxVideoTracks).
		Int("max_audio_tracks", cfg.MaxAudioTracks).
		Msg("Match config loaded")
	return cfg
}

// join admits a connection. Rejects banned users; evicts the same user's
// older connections from any match first (multi-tab takeover).
func (r *Room) join(c *Client, req protocol.JoinMatch) {
	// Evict before locking this room: the older connection may sit in a
	// different room whose lock we must take.
	r.hub.evictOtherConns(req.UserID, c.id)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.hub.sendError(c, protocol.ErrNotInMatch, "Match is closed")
		return
	}
	if _, kicked := r.banned[req.UserID]; kicked {
		r.mu.Unlock()
		r.hub.sendError(c, protocol.ErrVoteKicked, "You were vote-kicked from this match and cannot rejoin")
		return
	}

	c.setIdentity(Identity{
		UserID:         req.UserID,
		Username:       req.Username,
		UserImage:      req.UserImage,
		HighlightColor: req.HighlightColor,
	})
	c.setMatch(r.matchID)
	r.hub.registry.BindUser(c, req.UserID)
	r.members[c.id] = c

	count := r.uniquePlayersLocked()
	others := r.membersLocked(c.id)
	backlog := r.chat.List()
	mappings := r.idMappingsLocked()
	r.mu.Unlock()

	r.logger.Info().
		Int64("conn_id", c.id).
		Str("user_id", req.UserID).
		Str("username", req.Username).
		Int("player_count", count).
		Msg("Player joined match")

	r.hub.deliverPayload([]*Client{c}, protocol.MsgPlayerCount, protocol.PlayerCount{
		MatchID: r.matchID,
		Count:   count,
	})
	r.hub.deliverPayload(others, protocol.MsgPlayerJoined, protocol.PlayerJoined{
		MatchID:        r.matchID,
		UserID:         req.UserID,
		Username:       req.Username,
		UserImage:      req.UserImage,
		HighlightColor: req.HighlightColor,
		PlayerCount:    count,
	})

	// Chat backlog before live traffic, then the full id map so the joiner
	// can decode any batch that lands right after.
	for _, line := range backlog {
		r.hub.deliverPayload([]*Client{c}, protocol.MsgChatBroadcast, line)
	}
	if len(mappings) > 0 {
		r.hub.deliverPayload([]*Client{c}, protocol.MsgClipIDMapping, protocol.ClipIDMapping{
			MatchID:  r.matchID,
			Mappings: mappings,
		})
	}

	go func() {
		ctx, cancel := context.WithTimeout(r.hub.ctx, 10*time.Second)
		defer cancel()
		if err := r.hub.store.NotifyJoin(ctx, r.matchID, req.UserID); err != nil {
			r.logger.Warn().Err(err).Str("user_id", req.UserID).Msg("Join notify failed")
		}
	}()
}

// leave removes the connection from the room. evicted suppresses the store
// notify (the same user is joining elsewhere, not leaving the match).
func (r *Room) leave(c *Client, evicted bool) {
	r.mu.Lock()
	if _, ok := r.members[c.id]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.members, c.id)
	delete(r.zones, c.id)
	ident := c.Identity()
	count := r.uniquePlayersLocked()
	others := r.membersLocked(0)
	empty := len(r.members) == 0
	if empty {
		r.teardownLocked()
	}
	r.mu.Unlock()

	if c.MatchID() == r.matchID {
		c.setMatch("")
	}
	r.hub.batcher.CancelConn(r.matchID, c.id)

	r.logger.Info().
		Int64("conn_id", c.id).
		Str("user_id", ident.UserID).
		Bool("evicted", evicted).
		Int("player_count", count).
		Msg("Player left match")

	r.hub.deliverPayload(others, protocol.MsgPlayerLeft, protocol.PlayerLeft{
		MatchID:     r.matchID,
		UserID:      ident.UserID,
		Username:    ident.Username,
		PlayerCount: count,
	})

	if !evicted && ident.UserID != "" {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := r.hub.store.NotifyLeave(ctx, r.matchID, ident.UserID); err != nil {
				r.logger.Warn().Err(err).Str("user_id", ident.UserID).Msg("Leave notify failed")
			}
		}()
	}

	if empty {
		r.hub.dropRoom(r.matchID)
	}
}

// teardownLocked cancels timers and marks the room dead. Chat history and the
// id map die with the room; they outlive member churn but not the last leave.
func (r *Room) teardownLocked() {
	r.closed = true
	if r.syncTimer != nil {
		r.syncTimer.Stop()
		r.syncTimer = nil
	}
	if r.vote != nil && r.vote.timer != nil {
		r.vote.timer.Stop()
		r.vote = nil
	}
	r.hub.batcher.CancelMatch(r.matchID)
}

// onStatus records a status transition on the cached config so the validator
// observes it without re-fetching. Takes cfgMu alone; callers must not hold
// r.mu (config() locks cfgMu before r.mu, and that order is fixed).
func (r *Room) onStatus(status string) {
	r.cfgMu.Lock()
	if r.cfg != nil {
		r.cfg.Status = status
	}
	r.cfgMu.Unlock()
}

// membersLocked snapshots the recipient set, excluding one connection (0
// excludes nobody). Callers hold r.mu.
func (r *Room) membersLocked(exclude int64) []*Client {
	out := make([]*Client, 0, len(r.members))
	for id, m := range r.members {
		if id == exclude {
			continue
		}
		out = append(out, m)
	}
	return out
}

// zonedMembersLocked snapshots members whose zone admits a clip spanning
// [clipStart, clipEnd]. Members without a zone receive everything.
func (r *Room) zonedMembersLocked(exclude int64, clipStart, clipEnd float64) []*Client {
	buffer := r.hub.config.ZoneBuffer
	out := make([]*Client, 0, len(r.members))
	for id, m := range r.members {
		if id == exclude {
			continue
		}
		if z, ok := r.zones[id]; ok {
			if clipStart > z.end+buffer || clipEnd < z.start-buffer {
				continue
			}
		}
		out = append(out, m)
	}
	return out
}

func (r *Room) uniquePlayersLocked() int {
	users := make(map[string]struct{}, len(r.members))
	for _, m := range r.members {
		if uid := m.UserID(); uid != "" {
			users[uid] = struct{}{}
		}
	}
	return len(users)
}

func (r *Room) idMappingsLocked() []protocol.IDMapping {
	entries := r.ids.Mappings()
	out := make([]protocol.IDMapping, 0, len(entries))
	for _, e := range entries {
		m := protocol.IDMapping{ShortID: e.Short, FullID: e.Ref.FullID, TrackID: e.Ref.TrackID}
		if _, clip, ok := r.cache.FindClip(e.Ref.FullID); ok {
			m.Kind = clip.Kind
		}
		out = append(out, m)
	}
	return out
}

// handleZoneSubscribe stores the zone and answers immediately with a filtered
// snapshot of the cache.
func (r *Room) handleZoneSubscribe(c *Client, req protocol.ZoneSubscribe) {
	r.mu.Lock()
	if _, ok := r.members[c.id]; !ok {
		r.mu.Unlock()
		r.hub.sendError(c, protocol.ErrNotInMatch, "You are not in this match")
		return
	}
	r.zones[c.id] = zone{start: req.StartTime, end: req.EndTime}
	tracks := r.cache.ZoneSnapshot(req.StartTime, req.EndTime, r.hub.config.ZoneBuffer)
	r.mu.Unlock()

	r.hub.deliverPayload([]*Client{c}, protocol.MsgZoneClips, protocol.ZoneClips{
		MatchID:   r.matchID,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		Tracks:    tracks,
	})
}

// relayToOthers forwards an opaque payload (media events, selections) to all
// other members, no validation, no zone filter.
func (r *Room) relayToOthers(c *Client, t protocol.MsgType, payload any) {
	r.mu.Lock()
	if _, ok := r.members[c.id]; !ok {
		r.mu.Unlock()
		r.hub.sendError(c, protocol.ErrNotInMatch, "You are not in this match")
		return
	}
	recipients := r.membersLocked(c.id)
	r.mu.Unlock()
	r.hub.deliverPayload(recipients, t, payload)
}
