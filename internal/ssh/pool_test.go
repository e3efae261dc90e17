package ssh

import "testing"

func TestNewPool(t *testing.T) {
	t.Run("starts empty", func(t *testing.T) {
		pool := NewPool()
		defer pool.Close()

		if got := pool.Len(); got != 0 {
			t.Errorf("expected empty pool, got %d facades", got)
		}
	})
}

func TestPoolGetOrCreate(t *testing.T) {
	pool := NewPool()
	defer pool.Close()

	creds := NewPasswordCredentials("alice", "example.com", 22, "hunter2")

	t.Run("creates a facade on first call", func(t *testing.T) {
		f := pool.GetOrCreate(creds)
		if f == nil {
			t.Fatal("expected a facade, got nil")
		}
		if !f.Credentials().AreSame(creds) {
			t.Error("expected facade credentials to match")
		}
	})

	t.Run("returns the same facade for equal credentials", func(t *testing.T) {
		f1 := pool.GetOrCreate(creds)
		f2 := pool.GetOrCreate(creds)
		if f1 != f2 {
			t.Error("expected the same facade instance for equal credentials")
		}
	})

	t.Run("returns a different facade for a different password", func(t *testing.T) {
		other := NewPasswordCredentials("alice", "example.com", 22, "different")
		f1 := pool.GetOrCreate(creds)
		f2 := pool.GetOrCreate(other)
		if f1 == f2 {
			t.Error("expected distinct facades for credentials that are not AreSame")
		}
	})

	t.Run("returns a different facade across credential kinds", func(t *testing.T) {
		agentCreds := NewAgentCredentials("alice", "example.com", 22)
		f1 := pool.GetOrCreate(creds)
		f2 := pool.GetOrCreate(agentCreds)
		if f1 == f2 {
			t.Error("expected password and agent credentials to never share a facade")
		}
	})
}

func TestPoolGet(t *testing.T) {
	pool := NewPool()
	defer pool.Close()

	creds := NewAgentCredentials("bob", "host", 22)

	t.Run("Get returns nil before creation", func(t *testing.T) {
		if f := pool.Get(creds); f != nil {
			t.Error("expected nil for credentials never passed to GetOrCreate")
		}
	})

	t.Run("Get returns the pooled facade after creation", func(t *testing.T) {
		created := pool.GetOrCreate(creds)
		if got := pool.Get(creds); got != created {
			t.Error("expected Get to return the facade created by GetOrCreate")
		}
	})
}

func TestPoolRemoveAndEvict(t *testing.T) {
	pool := NewPool()
	defer pool.Close()

	creds := NewAgentCredentials("carol", "host", 22)
	f := pool.GetOrCreate(creds)

	t.Run("Remove drops the facade from the pool", func(t *testing.T) {
		pool.Remove(f)
		if got := pool.Get(creds); got != nil {
			t.Error("expected facade to be gone after Remove")
		}
	})

	t.Run("a facade's own eviction callback removes it from the pool", func(t *testing.T) {
		f2 := pool.GetOrCreate(creds)
		if got := pool.Len(); got != 1 {
			t.Fatalf("expected 1 pooled facade, got %d", got)
		}

		f2.mu.Lock()
		f2.teardown()
		f2.mu.Unlock()

		if got := pool.Len(); got != 0 {
			t.Errorf("expected facade to self-evict after teardown, got %d pooled", got)
		}
	})
}

// TestPoolGetOrCreateSkipsStaleEntry covers the case a facade's eviction
// callback doesn't handle: an entry left in the pool's list whose
// IsConnected() is false (e.g. inserted directly rather than reached
// through the normal teardown-then-evict path). GetOrCreate must skip it
// and create a fresh facade rather than handing back a dead one.
func TestPoolGetOrCreateSkipsStaleEntry(t *testing.T) {
	pool := NewPool()
	defer pool.Close()

	creds := NewAgentCredentials("dave", "host", 22)

	stale := newSessionFacade(creds, nil)
	stale.mu.Lock()
	stale.teardown()
	stale.mu.Unlock()
	pool.Insert(stale)

	if pool.Len() != 1 {
		t.Fatalf("expected the stale facade to be present, got %d pooled", pool.Len())
	}

	live := pool.GetOrCreate(creds)
	if live == stale {
		t.Error("expected GetOrCreate to skip the stale entry and build a new facade")
	}
	if !live.IsConnected() {
		t.Error("expected the newly created facade to report connected")
	}
	if pool.Len() != 2 {
		t.Errorf("expected both the stale entry and the new facade to remain pooled, got %d", pool.Len())
	}
}
