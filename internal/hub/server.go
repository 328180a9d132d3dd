package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"

	"github.com/editmash/hub/internal/limits"
	"github.com/editmash/hub/internal/monitoring"
	"github.com/editmash/hub/internal/protocol"
	"github.com/editmash/hub/internal/store"
	"github.com/editmash/hub/internal/timeline"
)

// Store is the hub's view of the application backend. *store.Client is the
// production implementation; tests substitute stubs.
type Store interface {
	MatchConfig(ctx context.Context, matchID string) (*timeline.Config, error)
	PatchTimeline(ctx context.Context, matchID string, tl timeline.Timeline, editCount uint64) error
	NotifyJoin(ctx context.Context, matchID, userID string) error
	NotifyLeave(ctx context.Context, matchID, userID string) error
	Lobbies(ctx context.Context, status string) (json.RawMessage, error)
}

var _ Store = (*store.Client)(nil)

// Config carries the hub's runtime tunables, populated from the environment
// by the entrypoint.
type Config struct {
	Addr   string
	APIKey string // shared secret for the app's notify endpoints

	IdleTimeout   time.Duration // drop connections silent this long
	ShutdownGrace time.Duration // drain window before hard close

	BatchWindow  time.Duration // delta coalescing window, 0 disables batching
	SyncDebounce time.Duration // trailing quiet period before a snapshot request
	ZoneBuffer   float64       // seconds of slack around a zone subscription

	FrameRate  float64 // sustained frames/sec per connection
	FrameBurst int     // frame burst allowance per connection

	ChatWindow       time.Duration
	ChatMaxPerWindow int
	ChatCooldown     time.Duration
	ChatMaxBytes     int
	ChatHistorySize  int

	VoteKickThreshold float64 // fraction of eligible voters required
	VoteKickDuration  time.Duration

	UpgradeLimiter limits.ConnectionRateLimiterConfig
}

// Stats are the hot counters surfaced by /health. Prometheus carries the
// full picture; these atomics only feed the health payload.
type Stats struct {
	MessagesSent  int64
	BytesSent     int64
	BytesReceived int64
}

// Server is the hub: it owns the listener, the connection registry, the
// match rooms, and the shared limiters.
type Server struct {
	config Config
	logger zerolog.Logger
	store  Store

	registry *Registry
	batcher  *Batcher

	roomsMu sync.Mutex
	rooms   map[string]*Room

	frameLimiter   *limits.FrameLimiter
	chatLimiter    *limits.ChatLimiter
	upgradeLimiter *limits.ConnectionRateLimiter
	sampler        *monitoring.Sampler

	httpServer *http.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	clientSeq    int64 // atomic
	shuttingDown int32 // atomic
	stats        Stats
}

func NewServer(cfg Config, st Store, logger zerolog.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	upCfg := cfg.UpgradeLimiter
	upCfg.Logger = logger

	s := &Server{
		config:         cfg,
		logger:         logger,
		store:          st,
		registry:       NewRegistry(),
		rooms:          make(map[string]*Room),
		frameLimiter:   limits.NewFrameLimiter(cfg.FrameRate, cfg.FrameBurst),
		chatLimiter:    limits.NewChatLimiter(cfg.ChatWindow, cfg.ChatMaxPerWindow, cfg.ChatCooldown),
		upgradeLimiter: limits.NewConnectionRateLimiter(upCfg),
		sampler:        monitoring.NewSampler(10*time.Second, logger),
		ctx:            ctx,
		cancel:         cancel,
	}
	s.batcher = NewBatcher(cfg.BatchWindow, logger, s.flushBatch)
	return s
}

// Start binds the listener and serves until Shutdown. Blocks.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", monitoring.Handler())
	mux.HandleFunc("/notify/lobbies", s.handleNotifyLobbies)
	mux.HandleFunc("/notify/match", s.handleNotifyMatch)

	s.httpServer = &http.Server{
		Addr:    s.config.Addr,
		Handler: mux,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer monitoring.RecoverPanic(s.logger, "system_sampler", nil)
		s.sampler.Run(s.ctx)
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer monitoring.RecoverPanic(s.logger, "idle_reaper", nil)
		s.reapIdle()
	}()

	s.logger.Info().Str("addr", s.config.Addr).Msg("Hub listening")
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains: stop accepting upgrades, tell every client the server is
// going away, give in-flight writes the grace period, then hard-close.
func (s *Server) Shutdown(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.shuttingDown, 0, 1) {
		return nil
	}
	s.logger.Info().
		Int("connections", s.registry.Count()).
		Dur("grace", s.config.ShutdownGrace).
		Msg("Shutdown starting, draining connections")

	for _, c := range s.registry.All() {
		close(c.send) // write pump sends the close frame and exits
	}

	select {
	case <-time.After(s.config.ShutdownGrace):
	case <-ctx.Done():
	}

	for _, c := range s.registry.All() {
		c.closeConn()
	}

	s.cancel()
	s.upgradeLimiter.Stop()
	err := s.httpServer.Shutdown(ctx)
	s.wg.Wait()
	s.logger.Info().Msg("Shutdown complete")
	return err
}

// handleUpgrade performs the WebSocket handshake and starts the pumps.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if atomic.LoadInt32(&s.shuttingDown) == 1 {
		monitoring.ConnectionsRejected.WithLabelValues("shutting_down").Inc()
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}
	if !s.upgradeLimiter.Allow(clientIP(r)) {
		monitoring.ConnectionsRejected.WithLabelValues("rate_limited").Inc()
		http.Error(w, "Too many connection attempts", http.StatusTooManyRequests)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		monitoring.ConnectionsRejected.WithLabelValues("upgrade_failed").Inc()
		s.logger.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("Upgrade failed")
		return
	}

	c := newClient(atomic.AddInt64(&s.clientSeq, 1), conn)
	s.registry.Add(c)
	monitoring.ConnectionsTotal.Inc()
	monitoring.ConnectionsCurrent.Set(float64(s.registry.Count()))

	s.logger.Debug().
		Int64("conn_id", c.id).
		Str("remote", r.RemoteAddr).
		Msg("Connection established")

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.writePump(c)
	}()
	go func() {
		defer s.wg.Done()
		s.readPump(c)
	}()
}

// disconnect tears a connection down: room leave, registry removal, limiter
// state, open batch window. Idempotent via the registry's Remove result.
func (s *Server) disconnect(c *Client, reason string) {
	c.closeConn()
	if !s.registry.Remove(c) {
		return
	}

	if r := s.roomOf(c); r != nil {
		r.leave(c, false)
	}
	if atomic.LoadInt32(&c.subscribedLobbies) == 1 {
		s.handleUnsubscribeLobbies(c)
	}
	s.frameLimiter.Forget(c.id)
	s.chatLimiter.Forget(c.id)

	monitoring.ConnectionsCurrent.Set(float64(s.registry.Count()))
	s.logger.Debug().
		Int64("conn_id", c.id).
		Str("user_id", c.UserID()).
		Str("reason", reason).
		Dur("connected_for", time.Since(c.connectedAt)).
		Msg("Connection closed")
}

// room returns the match's room, creating it when create is set.
func (s *Server) room(matchID string, create bool) *Room {
	s.roomsMu.Lock()
	defer s.roomsMu.Unlock()
	r, ok := s.rooms[matchID]
	if !ok && create {
		r = newRoom(s, matchID)
		s.rooms[matchID] = r
		monitoring.MatchesCurrent.Set(float64(len(s.rooms)))
		s.logger.Info().Str("match_id", matchID).Msg("Room created")
	}
	return r
}

// roomOf resolves the connection's bound room, nil when not in a match.
func (s *Server) roomOf(c *Client) *Room {
	matchID := c.MatchID()
	if matchID == "" {
		return nil
	}
	return s.room(matchID, false)
}

// dropRoom removes an emptied room. The room marks itself closed under its
// own lock first, so a concurrent join landing on the stale pointer fails.
func (s *Server) dropRoom(matchID string) {
	s.roomsMu.Lock()
	delete(s.rooms, matchID)
	monitoring.MatchesCurrent.Set(float64(len(s.rooms)))
	s.roomsMu.Unlock()
	s.batcher.CancelMatch(matchID)
	s.logger.Info().Str("match_id", matchID).Msg("Room torn down")
}

// evictOtherConns closes a user's other connections when a new one joins a
// match (multi-tab takeover: the newest tab wins).
func (s *Server) evictOtherConns(userID string, keepConnID int64) {
	for _, other := range s.registry.ByUser(userID) {
		if other.id == keepConnID {
			continue
		}
		if r := s.roomOf(other); r != nil {
			r.leave(other, true)
		}
		s.logger.Debug().
			Int64("conn_id", other.id).
			Str("user_id", userID).
			Msg("Evicting superseded connection")
		s.closeSlow(other, "superseded")
	}
}

// send queues a pre-encoded frame with the drop-don't-block policy: a full
// buffer drops the frame and strikes the client; three consecutive strikes
// close it. Any successful send resets the count.
func (s *Server) send(c *Client, frame []byte) {
	defer func() {
		// Shutdown closes send channels; a racing queue attempt must not
		// take the whole process down.
		recover()
	}()

	select {
	case c.send <- frame:
		atomic.StoreInt32(&c.sendStrikes, 0)
	default:
		monitoring.BroadcastsDropped.Inc()
		strikes := atomic.AddInt32(&c.sendStrikes, 1)
		if atomic.CompareAndSwapInt32(&c.slowWarned, 0, 1) {
			s.logger.Warn().
				Int64("conn_id", c.id).
				Str("user_id", c.UserID()).
				Msg("Client send buffer full, dropping frames")
		}
		if strikes >= slowClientStrikes {
			monitoring.SlowClientDisconnects.Inc()
			s.closeSlow(c, "slow_client")
		}
	}
}

// sendMessage encodes and queues one payload for one connection.
func (s *Server) sendMessage(c *Client, t protocol.MsgType, payload any) {
	frame, err := protocol.Encode(t, payload)
	if err != nil {
		s.logger.Error().Err(err).Stringer("type", t).Msg("Encode failed")
		return
	}
	s.send(c, frame)
}

// deliverPayload encodes once and fans the frame out to every recipient.
func (s *Server) deliverPayload(recipients []*Client, t protocol.MsgType, payload any) {
	if len(recipients) == 0 {
		return
	}
	frame, err := protocol.Encode(t, payload)
	if err != nil {
		s.logger.Error().Err(err).Stringer("type", t).Msg("Encode failed, broadcast dropped")
		return
	}
	for _, c := range recipients {
		s.send(c, frame)
	}
}

// sendError reports a protocol violation to the offending connection.
func (s *Server) sendError(c *Client, code, message string) {
	monitoring.ErrorsSent.WithLabelValues(code).Inc()
	s.sendMessage(c, protocol.MsgError, protocol.ErrorMessage{Code: code, Message: message})
}

// closeSlow force-closes a connection off the write pump's back: a close
// frame is attempted with a short deadline, then the socket dies. Used for
// slow clients, evictions, and vote kicks, where waiting on the send queue
// defeats the purpose.
func (s *Server) closeSlow(c *Client, reason string) {
	go func() {
		defer monitoring.RecoverPanic(s.logger, "force_close", map[string]any{"conn_id": c.id})
		c.conn.SetWriteDeadline(time.Now().Add(time.Second))
		wsutil.WriteServerMessage(c.conn, ws.OpClose,
			ws.NewCloseFrameBody(ws.StatusPolicyViolation, reason))
		c.closeConn()
	}()
}

// flushBatch is the batcher's callback: fan a coalesced window out to the
// sender's room, everyone but the sender.
func (s *Server) flushBatch(matchID string, senderConnID int64, msg protocol.ClipBatchUpdate) {
	r := s.room(matchID, false)
	if r == nil {
		return
	}
	r.mu.Lock()
	recipients := r.membersLocked(senderConnID)
	r.mu.Unlock()
	s.deliverPayload(recipients, protocol.MsgClipBatchUpdate, msg)
}

// reapIdle sweeps for connections past the idle timeout. The read deadline
// catches most of them; the sweep covers sockets wedged in ways that never
// surface a read error.
func (s *Server) reapIdle() {
	interval := s.config.IdleTimeout / 4
	if interval < 5*time.Second {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-s.config.IdleTimeout)
			for _, c := range s.registry.All() {
				if c.idleSince().Before(cutoff) {
					s.logger.Debug().
						Int64("conn_id", c.id).
						Time("last_activity", c.idleSince()).
						Msg("Reaping idle connection")
					s.closeSlow(c, "idle_timeout")
				}
			}
		}
	}
}

// clientIP prefers the first X-Forwarded-For hop; the hub expects to sit
// behind a proxy in production.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
