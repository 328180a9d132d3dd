package hub

import "testing"

func TestRegistryAddRemoveGet(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	c := newClient(1, nil)

	r.Add(c)
	if got, ok := r.Get(1); !ok || got != c {
		t.Fatal("get after add failed")
	}
	if r.Count() != 1 {
		t.Fatalf("count = %d", r.Count())
	}

	if !r.Remove(c) {
		t.Fatal("remove reported absent")
	}
	if r.Remove(c) {
		t.Fatal("second remove reported present")
	}
	if _, ok := r.Get(1); ok {
		t.Fatal("get after remove succeeded")
	}
}

func TestRegistryUserIndex(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	a, b := newClient(1, nil), newClient(2, nil)
	r.Add(a)
	r.Add(b)

	r.BindUser(a, "alice")
	r.BindUser(b, "alice")
	if got := r.ByUser("alice"); len(got) != 2 {
		t.Fatalf("alice has %d conns, want 2", len(got))
	}

	// Rebinding moves the connection between users.
	r.BindUser(b, "bob")
	if got := r.ByUser("alice"); len(got) != 1 || got[0] != a {
		t.Fatalf("alice conns after rebind: %d", len(got))
	}
	if got := r.ByUser("bob"); len(got) != 1 || got[0] != b {
		t.Fatalf("bob conns after rebind: %d", len(got))
	}

	// Removing the last connection clears the user entry.
	r.Remove(a)
	if got := r.ByUser("alice"); len(got) != 0 {
		t.Fatalf("alice conns after remove: %d", len(got))
	}
}

func TestRegistryLobbySubscriptions(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	c := newClient(1, nil)
	r.Add(c)

	r.SubscribeLobbies(c)
	if r.LobbyCount() != 1 || len(r.LobbySubscribers()) != 1 {
		t.Fatal("subscribe not indexed")
	}

	// Disconnect removes the lobby subscription with the connection.
	r.Remove(c)
	if r.LobbyCount() != 0 {
		t.Fatal("lobby subscription survived removal")
	}
}
