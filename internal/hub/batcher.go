package hub

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/editmash/hub/internal/monitoring"
	"github.com/editmash/hub/internal/protocol"
)

type batchKey struct {
	matchID string
	connID  int64
}

// pendingBatch coalesces one sender's deltas during the batch window.
// Deltas for the same clip merge last-writer-wins per field, with properties
// deep-merged, so a 60fps drag collapses into a single wire update.
type pendingBatch struct {
	userID string
	deltas map[uint32]protocol.ClipDelta
	order  []uint32 // first-touch order, kept stable across merges
	timer  *time.Timer
}

// Batcher owns the per-(match, sender) coalescing windows. Flushes call back
// into the hub to fan the merged batch out to the other room members.
type Batcher struct {
	mu      sync.Mutex
	pending map[batchKey]*pendingBatch
	window  time.Duration
	flush   func(matchID string, senderConnID int64, msg protocol.ClipBatchUpdate)
	logger  zerolog.Logger
}

func NewBatcher(window time.Duration, logger zerolog.Logger, flush func(string, int64, protocol.ClipBatchUpdate)) *Batcher {
	return &Batcher{
		pending: make(map[batchKey]*pendingBatch),
		window:  window,
		flush:   flush,
		logger:  logger,
	}
}

// Add records a delta for the sender's current window, starting one if none
// is open. Called with the room lock NOT held.
func (b *Batcher) Add(matchID string, connID int64, userID string, d protocol.ClipDelta) {
	key := batchKey{matchID: matchID, connID: connID}

	b.mu.Lock()
	p, ok := b.pending[key]
	if !ok {
		p = &pendingBatch{
			userID: userID,
			deltas: make(map[uint32]protocol.ClipDelta),
		}
		p.timer = time.AfterFunc(b.window, func() { b.fire(key) })
		b.pending[key] = p
	}

	prev, seen := p.deltas[d.ShortID]
	if !seen {
		p.order = append(p.order, d.ShortID)
		p.deltas[d.ShortID] = d
	} else {
		p.deltas[d.ShortID] = mergeDelta(prev, d)
	}
	b.mu.Unlock()

	monitoring.BatchedDeltas.Inc()
}

func (b *Batcher) fire(key batchKey) {
	defer monitoring.RecoverPanic(b.logger, "batch_flush", map[string]any{"match_id": key.matchID})

	b.mu.Lock()
	p, ok := b.pending[key]
	if !ok {
		b.mu.Unlock()
		return
	}
	delete(b.pending, key)
	updates := make([]protocol.ClipDelta, 0, len(p.order))
	for _, short := range p.order {
		updates = append(updates, p.deltas[short])
	}
	userID := p.userID
	b.mu.Unlock()

	if len(updates) == 0 {
		return
	}
	monitoring.BatchFlushes.Inc()
	b.flush(key.matchID, key.connID, protocol.ClipBatchUpdate{
		MatchID:   key.matchID,
		Updates:   updates,
		UpdatedBy: userID,
	})
}

// CancelConn drops a sender's open window without flushing. Used on
// disconnect and eviction; the room cache already holds the applied state,
// so leaving members resync instead of receiving a partial batch.
func (b *Batcher) CancelConn(matchID string, connID int64) {
	key := batchKey{matchID: matchID, connID: connID}
	b.mu.Lock()
	if p, ok := b.pending[key]; ok {
		p.timer.Stop()
		delete(b.pending, key)
	}
	b.mu.Unlock()
}

// CancelMatch drops every open window for a match when its room tears down.
func (b *Batcher) CancelMatch(matchID string) {
	b.mu.Lock()
	for key, p := range b.pending {
		if key.matchID == matchID {
			p.timer.Stop()
			delete(b.pending, key)
		}
	}
	b.mu.Unlock()
}

func mergeDelta(prev, next protocol.ClipDelta) protocol.ClipDelta {
	out := prev
	if next.StartTime != nil {
		out.StartTime = next.StartTime
	}
	if next.Duration != nil {
		out.Duration = next.Duration
	}
	if next.SourceIn != nil {
		out.SourceIn = next.SourceIn
	}
	if next.Properties != nil {
		if out.Properties == nil {
			out.Properties = next.Properties
		} else {
			merged := *out.Properties
			merged.Merge(*next.Properties)
			out.Properties = &merged
		}
	}
	if next.NewTrackID != "" {
		out.NewTrackID = next.NewTrackID
	}
	return out
}
