package hub

import (
	"fmt"
	"testing"

	"github.com/editmash/hub/internal/protocol"
)

func TestChatHistoryRing(t *testing.T) {
	t.Parallel()
	h := newChatHistory(3)

	for i := 0; i < 5; i++ {
		h.Append(protocol.ChatBroadcast{Message: fmt.Sprintf("msg-%d", i)})
	}
	if h.Len() != 3 {
		t.Fatalf("len = %d, want 3", h.Len())
	}
	got := h.List()
	for i, want := range []string{"msg-2", "msg-3", "msg-4"} {
		if got[i].Message != want {
			t.Fatalf("entry %d = %q, want %q", i, got[i].Message, want)
		}
	}
}

func TestChatHistoryListIsACopy(t *testing.T) {
	t.Parallel()
	h := newChatHistory(3)
	h.Append(protocol.ChatBroadcast{Message: "original"})

	list := h.List()
	list[0].Message = "mutated"

	if h.List()[0].Message != "original" {
		t.Fatal("mutating the returned slice leaked into the history")
	}
}
