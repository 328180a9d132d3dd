package hub

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/editmash/hub/internal/protocol"
	"github.com/editmash/hub/internal/timeline"
)

type flushRecorder struct {
	done chan protocol.ClipBatchUpdate
}

func newFlushRecorder() *flushRecorder {
	return &flushRecorder{done: make(chan protocol.ClipBatchUpdate, 8)}
}

func (f *flushRecorder) record(_ string, _ int64, msg protocol.ClipBatchUpdate) {
	f.done <- msg
}

func (f *flushRecorder) wait(t *testing.T) protocol.ClipBatchUpdate {
	t.Helper()
	select {
	case msg := <-f.done:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("batch never flushed")
		return protocol.ClipBatchUpdate{}
	}
}

func fptr(v float64) *float64 { return &v }

func TestBatcherCoalescesDeltasPerClip(t *testing.T) {
	t.Parallel()
	rec := newFlushRecorder()
	b := NewBatcher(20*time.Millisecond, zerolog.Nop(), rec.record)

	// A drag: many position updates for the same clip inside one window.
	b.Add("m1", 1, "alice", protocol.ClipDelta{ShortID: 7, StartTime: fptr(1.0)})
	b.Add("m1", 1, "alice", protocol.ClipDelta{ShortID: 7, StartTime: fptr(2.0)})
	b.Add("m1", 1, "alice", protocol.ClipDelta{ShortID: 7, StartTime: fptr(3.5), Duration: fptr(4.0)})

	msg := rec.wait(t)
	if len(msg.Updates) != 1 {
		t.Fatalf("flush carried %d deltas, want 1 coalesced", len(msg.Updates))
	}
	d := msg.Updates[0]
	if d.ShortID != 7 || d.StartTime == nil || *d.StartTime != 3.5 {
		t.Fatalf("coalesced delta = %#v", d)
	}
	if d.Duration == nil || *d.Duration != 4.0 {
		t.Fatal("later delta dropped the earlier fields instead of merging")
	}
	if msg.UpdatedBy != "alice" {
		t.Fatalf("updatedBy = %q", msg.UpdatedBy)
	}
}

func TestBatcherMergesPropertiesDeeply(t *testing.T) {
	t.Parallel()
	rec := newFlushRecorder()
	b := NewBatcher(20*time.Millisecond, zerolog.Nop(), rec.record)

	vol := 0.5
	pan := -0.3
	b.Add("m1", 1, "alice", protocol.ClipDelta{ShortID: 1, Properties: &timeline.ClipProperties{Volume: &vol}})
	b.Add("m1", 1, "alice", protocol.ClipDelta{ShortID: 1, Properties: &timeline.ClipProperties{Pan: &pan}})

	msg := rec.wait(t)
	props := msg.Updates[0].Properties
	if props == nil || props.Volume == nil || *props.Volume != 0.5 {
		t.Fatal("property merge dropped volume from the first delta")
	}
	if props.Pan == nil || *props.Pan != -0.3 {
		t.Fatal("property merge missed pan from the second delta")
	}
}

func TestBatcherKeepsDistinctClipsAndOrder(t *testing.T) {
	t.Parallel()
	rec := newFlushRecorder()
	b := NewBatcher(20*time.Millisecond, zerolog.Nop(), rec.record)

	b.Add("m1", 1, "alice", protocol.ClipDelta{ShortID: 2, StartTime: fptr(1)})
	b.Add("m1", 1, "alice", protocol.ClipDelta{ShortID: 5, StartTime: fptr(2)})
	b.Add("m1", 1, "alice", protocol.ClipDelta{ShortID: 2, StartTime: fptr(9)})

	msg := rec.wait(t)
	if len(msg.Updates) != 2 {
		t.Fatalf("flush carried %d deltas, want 2", len(msg.Updates))
	}
	if msg.Updates[0].ShortID != 2 || msg.Updates[1].ShortID != 5 {
		t.Fatalf("first-touch order lost: %d, %d", msg.Updates[0].ShortID, msg.Updates[1].ShortID)
	}
	if *msg.Updates[0].StartTime != 9 {
		t.Fatal("later delta for clip 2 did not win")
	}
}

func TestBatcherSeparatesSenders(t *testing.T) {
	t.Parallel()
	rec := newFlushRecorder()
	b := NewBatcher(20*time.Millisecond, zerolog.Nop(), rec.record)

	b.Add("m1", 1, "alice", protocol.ClipDelta{ShortID: 1, StartTime: fptr(1)})
	b.Add("m1", 2, "bob", protocol.ClipDelta{ShortID: 1, StartTime: fptr(2)})

	first := rec.wait(t)
	second := rec.wait(t)
	if len(first.Updates) != 1 || len(second.Updates) != 1 {
		t.Fatal("senders were merged into one window")
	}
	if first.UpdatedBy == second.UpdatedBy {
		t.Fatalf("both flushes attributed to %q", first.UpdatedBy)
	}
}

func TestBatcherCancelConnDropsWindow(t *testing.T) {
	t.Parallel()
	rec := newFlushRecorder()
	b := NewBatcher(20*time.Millisecond, zerolog.Nop(), rec.record)

	b.Add("m1", 1, "alice", protocol.ClipDelta{ShortID: 1, StartTime: fptr(1)})
	b.CancelConn("m1", 1)

	select {
	case <-rec.done:
		t.Fatal("cancelled window flushed anyway")
	case <-time.After(60 * time.Millisecond):
	}
}

func TestBatcherCancelMatchDropsAllSenders(t *testing.T) {
	t.Parallel()
	rec := newFlushRecorder()
	b := NewBatcher(20*time.Millisecond, zerolog.Nop(), rec.record)

	b.Add("m1", 1, "alice", protocol.ClipDelta{ShortID: 1, StartTime: fptr(1)})
	b.Add("m1", 2, "bob", protocol.ClipDelta{ShortID: 2, StartTime: fptr(2)})
	b.Add("m2", 3, "carol", protocol.ClipDelta{ShortID: 3, StartTime: fptr(3)})
	b.CancelMatch("m1")

	msg := rec.wait(t)
	if msg.MatchID != "m2" {
		t.Fatalf("surviving flush for %q, want m2", msg.MatchID)
	}
	select {
	case <-rec.done:
		t.Fatal("cancelled match flushed anyway")
	case <-time.After(60 * time.Millisecond):
	}
}
