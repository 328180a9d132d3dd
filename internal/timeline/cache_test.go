package timeline

import "testing"

func newTestCache() *Cache {
	return NewCache(60, 2, 2)
}

func TestCacheAddAndFind(t *testing.T) {
	t.Parallel()
	c := newTestCache()

	clip := Clip{ID: "a", Kind: ClipVideo, StartTime: 1, Duration: 4}
	inserted, err := c.AddClip("video-0", clip)
	if err != nil || !inserted {
		t.Fatalf("add = %v %v", inserted, err)
	}
	trackID, got, ok := c.FindClip("a")
	if !ok || trackID != "video-0" || got.Duration != 4 {
		t.Fatalf("find = %q %#v %v", trackID, got, ok)
	}

	// Re-adding the same id anywhere is a no-op that reports no insertion.
	inserted, err = c.AddClip("video-1", clip)
	if err != nil {
		t.Fatalf("idempotent add: %v", err)
	}
	if inserted {
		t.Fatal("re-add reported an insertion")
	}
	if c.ClipCount() != 1 {
		t.Fatalf("clip count = %d, want 1", c.ClipCount())
	}

	if _, err := c.AddClip("video-9", Clip{ID: "b"}); err == nil {
		t.Fatal("add to unknown track succeeded")
	}
}

func TestCacheUpdateMovesAcrossTracks(t *testing.T) {
	t.Parallel()
	c := newTestCache()
	if _, err := c.AddClip("video-0", Clip{ID: "a", Kind: ClipVideo, StartTime: 1, Duration: 4}); err != nil {
		t.Fatalf("add: %v", err)
	}

	start := 7.5
	got, err := c.UpdateClip("video-1", "a", ClipUpdate{StartTime: &start})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.StartTime != 7.5 {
		t.Fatalf("start = %v", got.StartTime)
	}
	trackID, _, ok := c.FindClip("a")
	if !ok || trackID != "video-1" {
		t.Fatalf("clip on %q after move", trackID)
	}
	if c.ClipCount() != 1 {
		t.Fatalf("clip count = %d after move", c.ClipCount())
	}
}

func TestCacheUpdateUnknownTrackLeavesClipUntouched(t *testing.T) {
	t.Parallel()
	c := newTestCache()
	if _, err := c.AddClip("video-0", Clip{ID: "c1", Kind: ClipVideo, StartTime: 1, Duration: 4}); err != nil {
		t.Fatalf("add: %v", err)
	}

	start := 9.0
	if _, err := c.UpdateClip("no-such-track", "c1", ClipUpdate{StartTime: &start}); err == nil {
		t.Fatal("move to unknown track succeeded")
	}

	trackID, got, ok := c.FindClip("c1")
	if !ok || trackID != "video-0" {
		t.Fatalf("clip on %q after failed move", trackID)
	}
	if got.StartTime != 1 {
		t.Fatalf("startTime = %v after failed move, want 1 (unchanged)", got.StartTime)
	}
}

func TestCacheUpdatePropertiesDeepMerge(t *testing.T) {
	t.Parallel()
	c := newTestCache()
	x, vol := 10.0, 0.8
	if _, err := c.AddClip("audio-0", Clip{
		ID: "a", Kind: ClipAudio, StartTime: 0, Duration: 2,
		Properties: ClipProperties{Volume: &vol},
	}); err != nil {
		t.Fatalf("add: %v", err)
	}

	pan := -0.25
	if _, err := c.UpdateClip("", "a", ClipUpdate{
		Properties: &ClipProperties{Pan: &pan, X: &x},
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	_, got, _ := c.FindClip("a")
	if got.Properties.Volume == nil || *got.Properties.Volume != 0.8 {
		t.Fatal("merge dropped the untouched volume field")
	}
	if got.Properties.Pan == nil || *got.Properties.Pan != -0.25 {
		t.Fatal("merge missed the new pan field")
	}
}

func TestCacheRemove(t *testing.T) {
	t.Parallel()
	c := newTestCache()
	c.AddClip("video-0", Clip{ID: "a", Duration: 2})

	trackID, ok := c.RemoveClip("a")
	if !ok || trackID != "video-0" {
		t.Fatalf("remove = %q %v", trackID, ok)
	}
	if _, _, found := c.FindClip("a"); found {
		t.Fatal("clip still present after remove")
	}
	if _, ok := c.RemoveClip("a"); ok {
		t.Fatal("second remove reported success")
	}
}

func TestCacheSplit(t *testing.T) {
	t.Parallel()
	c := newTestCache()
	c.AddClip("video-0", Clip{ID: "a", Kind: ClipVideo, StartTime: 0, Duration: 8, SourceDuration: 8})

	original := Clip{ID: "a", Kind: ClipVideo, StartTime: 0, Duration: 3, SourceDuration: 8}
	newHalf := Clip{ID: "b", Kind: ClipVideo, StartTime: 3, Duration: 5, SourceIn: 3, SourceDuration: 8}
	if err := c.Split("video-0", original, newHalf); err != nil {
		t.Fatalf("split: %v", err)
	}
	if c.ClipCount() != 2 {
		t.Fatalf("clip count = %d after split", c.ClipCount())
	}
	_, a, _ := c.FindClip("a")
	if a.Duration != 3 {
		t.Fatalf("original half duration = %v", a.Duration)
	}
	_, b, _ := c.FindClip("b")
	if b == nil || b.SourceIn != 3 {
		t.Fatalf("new half = %#v", b)
	}

	// A second half whose id collides is rejected whole.
	if err := c.Split("video-0", original, newHalf); err == nil {
		t.Fatal("split reusing an existing id succeeded")
	}
}

func TestCacheEnsureTrackInfersType(t *testing.T) {
	t.Parallel()
	c := NewCacheFromTimeline(Timeline{}) // degraded: no predefined layout

	tr, ok := c.EnsureTrack("video-0")
	if !ok || tr.Type != TrackVideo {
		t.Fatalf("ensure video-0 = %#v %v", tr, ok)
	}
	tr, ok = c.EnsureTrack("audio-1")
	if !ok || tr.Type != TrackAudio {
		t.Fatalf("ensure audio-1 = %#v %v", tr, ok)
	}
	if _, ok := c.EnsureTrack("subtitle-0"); ok {
		t.Fatal("unknown prefix produced a track")
	}
}

func TestCacheZoneSnapshot(t *testing.T) {
	t.Parallel()
	c := newTestCache()
	c.AddClip("video-0", Clip{ID: "in", StartTime: 10, Duration: 5})
	c.AddClip("video-0", Clip{ID: "edge", StartTime: 21.5, Duration: 2}) // inside the 2s buffer
	c.AddClip("video-0", Clip{ID: "out", StartTime: 30, Duration: 5})

	tracks := c.ZoneSnapshot(8, 20, 2)
	var ids []string
	for _, tr := range tracks {
		for _, cl := range tr.Clips {
			ids = append(ids, cl.ID)
		}
	}
	if len(ids) != 2 || ids[0] != "in" || ids[1] != "edge" {
		t.Fatalf("zone clips = %v", ids)
	}
}

func TestCacheSnapshotIsDeepCopy(t *testing.T) {
	t.Parallel()
	c := newTestCache()
	c.AddClip("video-0", Clip{ID: "a", StartTime: 1, Duration: 2})

	snap := c.Snapshot()
	snap.Tracks[0].Clips[0].StartTime = 99

	_, got, _ := c.FindClip("a")
	if got.StartTime != 1 {
		t.Fatal("mutating a snapshot leaked into the cache")
	}
}

func TestCacheReplaceDeepCopies(t *testing.T) {
	t.Parallel()
	src := NewTimeline(30, 1, 1)
	src.Tracks[0].Clips = append(src.Tracks[0].Clips, Clip{ID: "a", Duration: 2})

	c := NewCacheFromTimeline(src)
	src.Tracks[0].Clips[0].Duration = 99

	_, got, _ := c.FindClip("a")
	if got.Duration != 2 {
		t.Fatal("cache aliases the replaced timeline")
	}
}
