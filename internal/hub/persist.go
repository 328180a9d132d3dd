package hub

import (
	"time"

	"github.com/editmash/hub/internal/monitoring"
	"github.com/editmash/hub/internal/protocol"
)

// Debounced persistence. Every accepted edit arms (or re-arms) a trailing
// timer; when the room goes quiet for the full debounce interval the hub asks
// one member for an authoritative snapshot, and the TimelineSync reply is
// PATCHed to the app. Re-arming on each edit means a busy room defers the
// round-trip until the burst ends.

// scheduleSyncLocked arms the debounce timer. Callers hold r.mu.
func (r *Room) scheduleSyncLocked() {
	if r.closed {
		return
	}
	d := r.hub.config.SyncDebounce
	if d <= 0 {
		return
	}
	if r.syncTimer != nil {
		r.syncTimer.Reset(d)
		return
	}
	r.syncTimer = time.AfterFunc(d, r.requestSync)
}

// requestSync fires on the debounce timer and solicits a snapshot from one
// member. An empty room drops the request; teardown already stopped the timer
// but a fire can race the stop, so the closed check repeats here.
func (r *Room) requestSync() {
	defer monitoring.RecoverPanic(r.logger, "sync_request", map[string]any{"match_id": r.matchID})

	r.mu.Lock()
	if r.closed || len(r.members) == 0 {
		r.mu.Unlock()
		return
	}
	// Any member will do; map iteration picks one arbitrarily.
	var target *Client
	for _, m := range r.members {
		target = m
		break
	}
	r.mu.Unlock()

	monitoring.SyncRequests.Inc()
	r.hub.deliverPayload([]*Client{target}, protocol.MsgRequestTimelineSync, protocol.RequestTimelineSync{
		MatchID: r.matchID,
	})
}
