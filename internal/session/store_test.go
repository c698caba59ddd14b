package session

import (
	"testing"
	"time"
)

func TestReinitPreservesState(t *testing.T) {
	// P5: after create + attach vectors + append messages, a subsequent
	// ensure_session_exists returns (false) and leaves vector_store and
	// conversation_history unchanged.
	store := NewStore(DefaultStoreOptions())
	defer store.Close()
	now := time.Now()

	sess, err := store.CreateSessionWithChain("s1", Config{ChainID: 84532}, now)
	if err != nil {
		t.Fatal(err)
	}
	sess.AppendTurn(Turn{Role: RoleUser, Content: "hi"})
	sess.AttachVectorStore(fakeHandle{"db1"})

	got, created, err := store.EnsureSessionExistsWithChain("s1", Config{ChainID: 84532}, now.Add(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Fatal("expected created=false for existing session")
	}
	if got != sess {
		t.Fatal("expected the same session pointer to be returned")
	}
	if len(got.HistorySnapshot()) != 1 {
		t.Fatalf("expected history preserved, got %d turns", len(got.HistorySnapshot()))
	}
	if got.VectorStoreHandle() == nil || got.VectorStoreHandle().Name() != "db1" {
		t.Fatal("expected vector store handle preserved")
	}
}

func TestCreateSessionWithChainDoesNotPreserve(t *testing.T) {
	// Regression guard: create_session_with_chain on the same id does NOT
	// preserve state.
	store := NewStore(DefaultStoreOptions())
	defer store.Close()
	now := time.Now()

	sess, _ := store.CreateSessionWithChain("s2", Config{}, now)
	sess.AppendTurn(Turn{Role: RoleUser, Content: "hi"})

	fresh, err := store.CreateSessionWithChain("s2", Config{}, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(fresh.HistorySnapshot()) != 0 {
		t.Fatal("expected create_session_with_chain to wipe prior history")
	}
}

func TestEnsureSessionExistsReusesExistingAtCapacity(t *testing.T) {
	store := NewStore(StoreOptions{MaxSessions: 1, SessionTimeoutSeconds: 1800})
	defer store.Close()
	now := time.Now()
	if _, _, err := store.EnsureSessionExistsWithChain("a", Config{}, now); err != nil {
		t.Fatal(err)
	}
	// "a" already exists at capacity, touching it again must succeed.
	if _, created, err := store.EnsureSessionExistsWithChain("a", Config{}, now); err != nil || created {
		t.Fatalf("expected existing session reuse, got created=%v err=%v", created, err)
	}
}

func TestKeyStoreRotatesOnReinstall(t *testing.T) {
	ks := NewKeyStore(time.Hour)
	defer ks.Close()
	now := time.Now()
	var keyA, keyB [32]byte
	keyA[0] = 1
	keyB[0] = 2

	ks.Install("s1", keyA, now, 0)
	got, err := ks.Get("s1", now)
	if err != nil || got != keyA {
		t.Fatalf("expected keyA installed, got %v err %v", got, err)
	}

	ks.Install("s1", keyB, now.Add(time.Second), 0)
	got, err = ks.Get("s1", now.Add(time.Second))
	if err != nil || got != keyB {
		t.Fatalf("expected rotation to keyB, got %v err %v", got, err)
	}
}

func TestKeyStoreExpiry(t *testing.T) {
	ks := NewKeyStore(time.Second)
	defer ks.Close()
	now := time.Now()
	var key [32]byte
	ks.Install("s1", key, now, time.Second)
	if _, err := ks.Get("s1", now.Add(2*time.Second)); err == nil {
		t.Fatal("expected expired key to be rejected")
	}
}

type fakeHandle struct{ name string }

func (f fakeHandle) Name() string { return f.name }
