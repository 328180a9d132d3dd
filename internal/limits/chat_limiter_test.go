package limits

import (
	"testing"
	"time"
)

func TestChatLimiterSlidingWindow(t *testing.T) {
	t.Parallel()
	l := NewChatLimiter(10*time.Second, 5, time.Second)
	base := time.Unix(1000, 0)

	// Five messages spaced past the cooldown all pass; the sixth inside the
	// window does not.
	for i := 0; i < 5; i++ {
		at := base.Add(time.Duration(i) * 1500 * time.Millisecond)
		if !l.allowAt(1, at) {
			t.Fatalf("message %d rejected", i)
		}
	}
	if l.allowAt(1, base.Add(8*time.Second)) {
		t.Fatal("sixth message inside the window passed")
	}

	// Once the first message slides out, capacity returns.
	if !l.allowAt(1, base.Add(10*time.Second+time.Millisecond)) {
		t.Fatal("message after the window slid was rejected")
	}
}

func TestChatLimiterCooldown(t *testing.T) {
	t.Parallel()
	l := NewChatLimiter(10*time.Second, 5, time.Second)
	base := time.Unix(2000, 0)

	if !l.allowAt(1, base) {
		t.Fatal("first message rejected")
	}
	if l.allowAt(1, base.Add(400*time.Millisecond)) {
		t.Fatal("message inside the cooldown passed")
	}
	if !l.allowAt(1, base.Add(time.Second)) {
		t.Fatal("message at the cooldown edge rejected")
	}
}

func TestChatLimiterRejectionConsumesNothing(t *testing.T) {
	t.Parallel()
	l := NewChatLimiter(10*time.Second, 2, time.Second)
	base := time.Unix(3000, 0)

	l.allowAt(1, base)
	l.allowAt(1, base.Add(2*time.Second)) // window now full
	for i := 0; i < 10; i++ {
		if l.allowAt(1, base.Add(4*time.Second)) {
			t.Fatal("over-limit message passed")
		}
	}
	// Rejections must not extend the window: capacity still frees on time.
	if !l.allowAt(1, base.Add(10*time.Second+time.Millisecond)) {
		t.Fatal("rejections consumed window capacity")
	}
}

func TestChatLimiterIsolatesConnections(t *testing.T) {
	t.Parallel()
	l := NewChatLimiter(10*time.Second, 1, time.Second)
	base := time.Unix(4000, 0)

	if !l.allowAt(1, base) {
		t.Fatal("conn 1 rejected")
	}
	if !l.allowAt(2, base) {
		t.Fatal("conn 2 throttled by conn 1's traffic")
	}

	l.Forget(1)
	if !l.allowAt(1, base.Add(10*time.Millisecond)) {
		t.Fatal("forgotten connection kept its old state")
	}
}
