package hub

import (
	"context"
	"fmt"
	"time"

	"github.com/editmash/hub/internal/monitoring"
	"github.com/editmash/hub/internal/protocol"
	"github.com/editmash/hub/internal/timeline"
)

// Clip mutation handlers. Shared shape: membership check, validate against
// the (lazily fetched) config, mutate the cache and counters under the room
// lock, snapshot recipients under the same lock, fan out after releasing it,
// then arm the debounced persistence timer. Config fetch happens before the
// lock is taken; sockets are written after it is released.

func (r *Room) handleClipAdded(c *Client, msg protocol.ClipAdded) {
	cfg := r.config(r.hub.ctx)
	clip := msg.Clip
	userID := c.UserID()

	r.mu.Lock()
	if _, ok := r.members[c.id]; !ok {
		r.mu.Unlock()
		r.hub.sendError(c, protocol.ErrNotInMatch, "You are not in this match")
		return
	}

	track, ok := r.cache.EnsureTrack(msg.TrackID)
	if !ok {
		r.mu.Unlock()
		r.hub.sendError(c, protocol.ErrTrackTypeMismatch, fmt.Sprintf("Unknown track %q", msg.TrackID))
		return
	}
	if !track.Type.Accepts(clip.Kind) {
		r.mu.Unlock()
		r.hub.sendError(c, protocol.ErrTrackTypeMismatch,
			fmt.Sprintf("A %s clip cannot go on a %s track", clip.Kind, track.Type))
		return
	}

	// A re-sent add for a clip already cached is a client retry: re-ack the
	// mapping to the sender and change nothing, so the retry neither double
	// counts toward the per-user cap nor re-broadcasts.
	if _, _, exists := r.cache.FindClip(clip.ID); exists {
		short, _ := r.ids.Mint(clip.ID, msg.TrackID)
		r.mu.Unlock()
		r.hub.deliverPayload([]*Client{c}, protocol.MsgClipIDMapping, protocol.ClipIDMapping{
			MatchID: r.matchID,
			Mappings: []protocol.IDMapping{
				{ShortID: short, FullID: clip.ID, TrackID: msg.TrackID, Kind: clip.Kind},
			},
		})
		return
	}

	if cfg != nil {
		tl := r.cache.Snapshot()
		res := timeline.Validate(cfg, timeline.Input{
			Clip:            &clip,
			TrackID:         msg.TrackID,
			Timeline:        &tl,
			UserClipCount:   r.clipCounts[userID],
			CountsTowardCap: true,
		}, r.logger)
		if !res.Valid {
			r.mu.Unlock()
			r.hub.sendError(c, protocol.ErrConstraintViolation, res.Reason)
			return
		}
	}

	inserted, err := r.cache.AddClip(msg.TrackID, clip)
	if err != nil {
		r.mu.Unlock()
		r.hub.sendError(c, protocol.ErrInvalidPayload, err.Error())
		return
	}
	if !inserted {
		r.mu.Unlock()
		return
	}

	short, _ := r.ids.Mint(clip.ID, msg.TrackID)
	r.clipCounts[userID]++
	r.editCount++
	everyone := r.membersLocked(0)
	recipients := r.zonedMembersLocked(c.id, clip.StartTime, clip.End())
	r.scheduleSyncLocked()
	r.mu.Unlock()

	monitoring.ClipEvents.WithLabelValues("add").Inc()

	// Everyone, sender included, must agree on the mapping before any batch
	// referencing the new short id can land.
	r.hub.deliverPayload(everyone, protocol.MsgClipIDMapping, protocol.ClipIDMapping{
		MatchID: r.matchID,
		Mappings: []protocol.IDMapping{
			{ShortID: short, FullID: clip.ID, TrackID: msg.TrackID, Kind: clip.Kind},
		},
	})
	r.hub.deliverPayload(recipients, protocol.MsgClipAdded, msg)
}

func (r *Room) handleClipUpdated(c *Client, msg protocol.ClipUpdated) {
	cfg := r.config(r.hub.ctx)

	r.mu.Lock()
	if _, ok := r.members[c.id]; !ok {
		r.mu.Unlock()
		r.hub.sendError(c, protocol.ErrNotInMatch, "You are not in this match")
		return
	}

	curTrack, cur, ok := r.cache.FindClip(msg.ClipID)
	if !ok {
		r.mu.Unlock()
		r.hub.sendError(c, protocol.ErrInvalidPayload, fmt.Sprintf("Unknown clip %q", msg.ClipID))
		return
	}

	targetTrack := msg.TrackID
	if targetTrack == "" {
		targetTrack = curTrack
	}

	if cfg != nil {
		merged := *cur
		msg.Updates.Apply(&merged)
		tl := r.cache.Snapshot()
		res := timeline.Validate(cfg, timeline.Input{
			Clip:     &merged,
			TrackID:  targetTrack,
			Timeline: &tl,
		}, r.logger)
		if !res.Valid {
			r.mu.Unlock()
			r.hub.sendError(c, protocol.ErrConstraintViolation, res.Reason)
			return
		}
	}

	updated, err := r.cache.UpdateClip(targetTrack, msg.ClipID, msg.Updates)
	if err != nil {
		r.mu.Unlock()
		r.hub.sendError(c, protocol.ErrInvalidPayload, err.Error())
		return
	}
	if targetTrack != curTrack {
		if short, ok := r.ids.Lookup(msg.ClipID); ok {
			r.ids.Retarget(short, targetTrack)
		}
	}
	short, okShort := r.ids.Lookup(msg.ClipID)
	extentStart, extentEnd := updated.StartTime, updated.End()
	r.editCount++
	var recipients []*Client
	batched := r.hub.config.BatchWindow > 0 && okShort
	if !batched {
		recipients = r.zonedMembersLocked(c.id, extentStart, extentEnd)
	}
	r.scheduleSyncLocked()
	r.mu.Unlock()

	monitoring.ClipEvents.WithLabelValues("update").Inc()

	if batched {
		// Fan-out rides the per-sender coalescing window and reaches the
		// others as one ClipBatchUpdate against the short id.
		r.hub.batcher.Add(r.matchID, c.id, c.UserID(), protocol.ClipDelta{
			ShortID:    short,
			StartTime:  msg.Updates.StartTime,
			Duration:   msg.Updates.Duration,
			SourceIn:   msg.Updates.SourceIn,
			Properties: msg.Updates.Properties,
			NewTrackID: msg.TrackID,
		})
		return
	}
	r.hub.deliverPayload(recipients, protocol.MsgClipUpdated, msg)
}

func (r *Room) handleClipRemoved(c *Client, msg protocol.ClipRemoved) {
	userID := c.UserID()

	r.mu.Lock()
	if _, ok := r.members[c.id]; !ok {
		r.mu.Unlock()
		r.hub.sendError(c, protocol.ErrNotInMatch, "You are not in this match")
		return
	}

	_, clip, ok := r.cache.FindClip(msg.ClipID)
	if !ok {
		r.mu.Unlock()
		r.hub.sendError(c, protocol.ErrInvalidPayload, fmt.Sprintf("Unknown clip %q", msg.ClipID))
		return
	}
	extentStart, extentEnd := clip.StartTime, clip.End()

	r.cache.RemoveClip(msg.ClipID)
	r.ids.Remove(msg.ClipID)
	if r.clipCounts[userID] > 0 {
		r.clipCounts[userID]--
	}
	r.editCount++
	recipients := r.zonedMembersLocked(c.id, extentStart, extentEnd)
	r.scheduleSyncLocked()
	r.mu.Unlock()

	monitoring.ClipEvents.WithLabelValues("remove").Inc()
	r.hub.deliverPayload(recipients, protocol.MsgClipRemoved, msg)
}

func (r *Room) handleClipSplit(c *Client, msg protocol.ClipSplit) {
	cfg := r.config(r.hub.ctx)
	userID := c.UserID()

	r.mu.Lock()
	if _, ok := r.members[c.id]; !ok {
		r.mu.Unlock()
		r.hub.sendError(c, protocol.ErrNotInMatch, "You are not in this match")
		return
	}

	if cfg != nil {
		tl := r.cache.Snapshot()
		res := timeline.ValidateSplit(cfg, &tl, msg.TrackID, msg.OriginalClip, msg.NewClip, r.clipCounts[userID], r.logger)
		if !res.Valid {
			r.mu.Unlock()
			r.hub.sendError(c, protocol.ErrConstraintViolation, res.Reason)
			return
		}
	}

	if err := r.cache.Split(msg.TrackID, msg.OriginalClip, msg.NewClip); err != nil {
		r.mu.Unlock()
		r.hub.sendError(c, protocol.ErrInvalidPayload, err.Error())
		return
	}

	short, _ := r.ids.Mint(msg.NewClip.ID, msg.TrackID)
	r.clipCounts[userID]++
	r.editCount++
	everyone := r.membersLocked(0)
	// The split touches the original's old extent, which spans both halves.
	recipients := r.zonedMembersLocked(c.id, msg.OriginalClip.StartTime, msg.NewClip.StartTime+msg.NewClip.Duration)
	r.scheduleSyncLocked()
	r.mu.Unlock()

	monitoring.ClipEvents.WithLabelValues("split").Inc()

	r.hub.deliverPayload(everyone, protocol.MsgClipIDMapping, protocol.ClipIDMapping{
		MatchID: r.matchID,
		Mappings: []protocol.IDMapping{
			{ShortID: short, FullID: msg.NewClip.ID, TrackID: msg.TrackID, Kind: msg.NewClip.Kind},
		},
	})
	r.hub.deliverPayload(recipients, protocol.MsgClipSplit, msg)
}

// handleClipBatchUpdate applies a client-authored batch of short-id deltas.
// The whole batch is atomic: validation runs over every delta first, and a
// single failure rejects the lot before anything is applied.
func (r *Room) handleClipBatchUpdate(c *Client, msg protocol.ClipBatchUpdate) {
	cfg := r.config(r.hub.ctx)

	r.mu.Lock()
	if _, ok := r.members[c.id]; !ok {
		r.mu.Unlock()
		r.hub.sendError(c, protocol.ErrNotInMatch, "You are not in this match")
		return
	}

	type resolved struct {
		delta   protocol.ClipDelta
		fullID  string
		trackID string
		moved   bool
	}
	apply := make([]resolved, 0, len(msg.Updates))

	for _, d := range msg.Updates {
		ref, ok := r.ids.Resolve(d.ShortID)
		if !ok {
			// Stale reference (clip removed, or a mapping the client never
			// had). Skip the delta; the client resyncs via ZoneSubscribe.
			r.logger.Debug().Uint32("short_id", d.ShortID).Msg("Batch delta references unknown short id, skipping")
			continue
		}
		target := ref.TrackID
		moved := d.NewTrackID != "" && d.NewTrackID != ref.TrackID
		if moved {
			if _, ok := r.cache.Track(d.NewTrackID); !ok {
				r.logger.Debug().
					Uint32("short_id", d.ShortID).
					Str("new_track_id", d.NewTrackID).
					Msg("Batch delta targets unknown track, skipping")
				continue
			}
			target = d.NewTrackID
		}

		if cfg != nil {
			_, cur, found := r.cache.FindClip(ref.FullID)
			if !found {
				continue
			}
			merged := *cur
			deltaUpdate(d).Apply(&merged)
			tl := r.cache.Snapshot()
			res := timeline.Validate(cfg, timeline.Input{
				Clip:     &merged,
				TrackID:  target,
				Timeline: &tl,
			}, r.logger)
			if !res.Valid {
				r.mu.Unlock()
				r.hub.sendError(c, protocol.ErrConstraintViolation,
					fmt.Sprintf("Batch rejected at clip %s: %s", ref.FullID, res.Reason))
				return
			}
		}
		apply = append(apply, resolved{delta: d, fullID: ref.FullID, trackID: target, moved: moved})
	}

	// Rebroadcast only what actually applied: a skipped delta must not reach
	// the other members as if it had.
	applied := make([]protocol.ClipDelta, 0, len(apply))
	for _, a := range apply {
		if _, err := r.cache.UpdateClip(a.trackID, a.fullID, deltaUpdate(a.delta)); err != nil {
			r.logger.Warn().Str("clip_id", a.fullID).Err(err).Msg("Batch delta failed to apply, skipping")
			continue
		}
		if a.moved {
			r.ids.Retarget(a.delta.ShortID, a.trackID)
		}
		applied = append(applied, a.delta)
	}
	if len(applied) == 0 {
		r.mu.Unlock()
		return
	}

	r.editCount += uint64(len(applied))
	recipients := r.membersLocked(c.id) // batches bypass the zone filter
	r.scheduleSyncLocked()
	r.mu.Unlock()

	monitoring.ClipEvents.WithLabelValues("batch").Add(float64(len(applied)))
	r.hub.deliverPayload(recipients, protocol.MsgClipBatchUpdate, protocol.ClipBatchUpdate{
		MatchID:   r.matchID,
		Updates:   applied,
		UpdatedBy: msg.UpdatedBy,
	})
}

// handleTimelineSync accepts a member's full snapshot (the reply to
// RequestTimelineSync) and forwards it to the app store.
func (r *Room) handleTimelineSync(c *Client, msg protocol.TimelineSync) {
	r.mu.Lock()
	if _, ok := r.members[c.id]; !ok {
		r.mu.Unlock()
		r.hub.sendError(c, protocol.ErrNotInMatch, "You are not in this match")
		return
	}
	r.cache.Replace(msg.Timeline)
	tl := r.cache.Snapshot()
	edits := r.editCount
	r.mu.Unlock()

	go func() {
		defer monitoring.RecoverPanic(r.logger, "timeline_patch", map[string]any{"match_id": r.matchID})
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := r.hub.store.PatchTimeline(ctx, r.matchID, tl, edits); err != nil {
			// Cache stays authoritative; the next debounced tick retries.
			monitoring.SyncPatches.WithLabelValues("error").Inc()
			r.logger.Warn().Err(err).Uint64("edit_count", edits).Msg("Timeline PATCH failed, will retry on next sync")
			return
		}
		monitoring.SyncPatches.WithLabelValues("ok").Inc()
		r.logger.Debug().Uint64("edit_count", edits).Msg("Timeline snapshot persisted")
	}()
}

// deltaUpdate converts a wire delta into the cache's partial-update form.
func deltaUpdate(d protocol.ClipDelta) timeline.ClipUpdate {
	return timeline.ClipUpdate{
		StartTime:  d.StartTime,
		Duration:   d.Duration,
		SourceIn:   d.SourceIn,
		Properties: d.Properties,
	}
}
