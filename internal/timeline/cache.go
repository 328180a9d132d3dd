package timeline

import (
	"fmt"
	"strings"
)

// Cache is the in-memory authoritative timeline for one match. It is not
// internally synchronized: the owning room serializes every mutation.
type Cache struct {
	tl Timeline
}

// NewCache builds a cache with the predefined track layout from the match
// config.
func NewCache(duration float64, videoTracks, audioTracks int) *Cache {
	return &Cache{tl: NewTimeline(duration, videoTracks, audioTracks)}
}

// NewCacheFromTimeline seeds a cache from a client-supplied timeline
// (TimelineSync or reload).
func NewCacheFromTimeline(tl Timeline) *Cache {
	c := &Cache{}
	c.Replace(tl)
	return c
}

// Replace swaps the whole timeline, taking a deep copy so later mutations of
// the argument cannot alias the cache.
func (c *Cache) Replace(tl Timeline) {
	c.tl = copyTimeline(tl)
}

// Duration returns the fixed timeline duration (0 until a config or sync
// established it).
func (c *Cache) Duration() float64 {
	return c.tl.Duration
}

// SetDuration records the timeline duration from a lazily fetched config.
func (c *Cache) SetDuration(d float64) {
	c.tl.Duration = d
}

// Track returns a pointer into the cache for the given track id.
func (c *Cache) Track(id string) (*Track, bool) {
	for i := range c.tl.Tracks {
		if c.tl.Tracks[i].ID == id {
			return &c.tl.Tracks[i], true
		}
	}
	return nil, false
}

// EnsureTrack returns the track, creating it with a type inferred from the
// "video-N" / "audio-N" id convention when the cache has no predefined layout
// yet (config fetch degraded; the hub keeps making forward progress).
func (c *Cache) EnsureTrack(id string) (*Track, bool) {
	if t, ok := c.Track(id); ok {
		return t, true
	}
	var typ TrackType
	switch {
	case strings.HasPrefix(id, "video-"):
		typ = TrackVideo
	case strings.HasPrefix(id, "audio-"):
		typ = TrackAudio
	default:
		return nil, false
	}
	c.tl.Tracks = append(c.tl.Tracks, Track{ID: id, Type: typ, Clips: []Clip{}})
	return &c.tl.Tracks[len(c.tl.Tracks)-1], true
}

// AddClip places a clip on a track. Re-adding an id that already exists
// anywhere in the timeline is a no-op (idempotent); the inserted return
// tells the caller whether anything changed.
func (c *Cache) AddClip(trackID string, clip Clip) (inserted bool, err error) {
	if _, _, ok := c.FindClip(clip.ID); ok {
		return false, nil
	}
	t, ok := c.Track(trackID)
	if !ok {
		return false, fmt.Errorf("unknown track %q", trackID)
	}
	t.Clips = append(t.Clips, clip)
	return true, nil
}

// FindClip searches every track for the clip id.
func (c *Cache) FindClip(clipID string) (trackID string, clip *Clip, ok bool) {
	for i := range c.tl.Tracks {
		t := &c.tl.Tracks[i]
		for j := range t.Clips {
			if t.Clips[j].ID == clipID {
				return t.ID, &t.Clips[j], true
			}
		}
	}
	return "", nil, false
}

// UpdateClip merges a partial update into the clip. When trackID names a
// different track than the one the clip currently resides on, the clip is
// atomically moved there, preserving its id. The destination is resolved
// before anything mutates: an unknown track leaves the cache untouched.
func (c *Cache) UpdateClip(trackID, clipID string, up ClipUpdate) (*Clip, error) {
	curTrack, clip, ok := c.FindClip(clipID)
	if !ok {
		return nil, fmt.Errorf("unknown clip %q", clipID)
	}
	if trackID == "" || trackID == curTrack {
		up.Apply(clip)
		return clip, nil
	}
	dst, ok := c.Track(trackID)
	if !ok {
		return nil, fmt.Errorf("unknown track %q", trackID)
	}
	moved := *clip
	up.Apply(&moved)
	c.removeFromTrack(curTrack, clipID)
	dst.Clips = append(dst.Clips, moved)
	return &dst.Clips[len(dst.Clips)-1], nil
}

// RemoveClip deletes the clip wherever it lives. Returns the track it was on.
func (c *Cache) RemoveClip(clipID string) (trackID string, ok bool) {
	trackID, _, ok = c.FindClip(clipID)
	if !ok {
		return "", false
	}
	c.removeFromTrack(trackID, clipID)
	return trackID, true
}

func (c *Cache) removeFromTrack(trackID, clipID string) {
	t, ok := c.Track(trackID)
	if !ok {
		return
	}
	for i := range t.Clips {
		if t.Clips[i].ID == clipID {
			t.Clips = append(t.Clips[:i], t.Clips[i+1:]...)
			return
		}
	}
}

// Split applies a split as one operation: the shortened original replaces the
// existing clip and the new second half is appended to the same track.
func (c *Cache) Split(trackID string, original, newClip Clip) error {
	t, ok := c.Track(trackID)
	if !ok {
		return fmt.Errorf("unknown track %q", trackID)
	}
	found := false
	for i := range t.Clips {
		if t.Clips[i].ID == original.ID {
			t.Clips[i] = original
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("unknown clip %q", original.ID)
	}
	if _, _, exists := c.FindClip(newClip.ID); exists {
		return fmt.Errorf("split clip id %q already exists", newClip.ID)
	}
	t.Clips = append(t.Clips, newClip)
	return nil
}

// ClipCount returns the total number of clips across all tracks.
func (c *Cache) ClipCount() int {
	n := 0
	for i := range c.tl.Tracks {
		n += len(c.tl.Tracks[i].Clips)
	}
	return n
}

// Snapshot returns a deep copy of the timeline, safe to serialize outside the
// room's critical section.
func (c *Cache) Snapshot() Timeline {
	return copyTimeline(c.tl)
}

// ZoneSnapshot returns the track layout with only the clips whose extent
// intersects [start-buffer, end+buffer].
func (c *Cache) ZoneSnapshot(start, end, buffer float64) []Track {
	lo, hi := start-buffer, end+buffer
	out := make([]Track, 0, len(c.tl.Tracks))
	for i := range c.tl.Tracks {
		src := &c.tl.Tracks[i]
		t := Track{ID: src.ID, Type: src.Type, Clips: []Clip{}}
		for j := range src.Clips {
			if src.Clips[j].Intersects(lo, hi) {
				t.Clips = append(t.Clips, src.Clips[j])
			}
		}
		out = append(out, t)
	}
	return out
}

func copyTimeline(tl Timeline) Timeline {
	out := Timeline{Duration: tl.Duration, Tracks: make([]Track, len(tl.Tracks))}
	for i, t := range tl.Tracks {
		clips := make([]Clip, len(t.Clips))
		copy(clips, t.Clips)
		out.Tracks[i] = Track{ID: t.ID, Type: t.Type, Clips: clips}
	}
	return out
}
