package wsproto

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/synnergy/hostnode/internal/billing"
	"github.com/synnergy/hostnode/internal/cryptoprim"
	"github.com/synnergy/hostnode/internal/inference"
	"github.com/synnergy/hostnode/internal/session"
)

// fakeSender records every frame sent to it, keyed by its "type" field, for
// assertions without standing up a real WebSocket connection.
type fakeSender struct {
	mu    sync.Mutex
	sent  []interface{}
	byTyp map[string][]interface{}
}

func newFakeSender() *fakeSender { return &fakeSender{byTyp: make(map[string][]interface{})} }

func (f *fakeSender) Send(v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, v)
	buf, _ := json.Marshal(v)
	var env Envelope
	_ = json.Unmarshal(buf, &env)
	f.byTyp[env.Type] = append(f.byTyp[env.Type], v)
	return nil
}

func (f *fakeSender) count(typ string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.byTyp[typ])
}

func testDeps(t *testing.T) Deps {
	t.Helper()
	backend := inference.NewStubBackend()
	engine := inference.NewLlmEngine(backend)
	if err := engine.LoadModel(nil, "stub", inference.ContextOptions{}); err != nil {
		t.Fatalf("load stub model: %v", err)
	}
	return Deps{
		Sessions: session.NewStore(session.DefaultStoreOptions()),
		Keys:     session.NewKeyStore(30 * time.Minute),
		Llm:      engine,
		Tracker:  billing.NewTokenTracker(),
	}
}

func sendJSON(t *testing.T, r *Router, sender Sender, v interface{}) {
	t.Helper()
	buf, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := r.Handle(t.Context(), sender, buf); err != nil {
		t.Fatalf("handle: %v", err)
	}
}

func TestSessionInitThenReadyThenInference(t *testing.T) {
	deps := testDeps(t)
	r := NewRouter(deps)
	sender := newFakeSender()

	sendJSON(t, r, sender, SessionInit{Type: "session_init", SessionID: "s1", ChainID: 1, JobID: 7})
	if sender.count("session_init_ack") != 1 {
		t.Fatalf("expected one session_init_ack")
	}
	if sender.count("session_ready") != 1 {
		t.Fatalf("expected one session_ready (no vector db attached)")
	}

	sendJSON(t, r, sender, struct {
		Type      string `json:"type"`
		SessionID string `json:"session_id"`
		Prompt    string `json:"prompt"`
	}{"inference", "s1", "hello there"})

	if sender.count("inference_done") != 1 {
		t.Fatalf("expected exactly one inference_done frame")
	}
	if sender.count("inference_token") == 0 {
		t.Fatalf("expected at least one streamed token")
	}

	sess, err := deps.Sessions.Get("s1")
	if err != nil {
		t.Fatalf("session should exist: %v", err)
	}
	if sess.CurrentState() != session.Ready {
		t.Fatalf("expected session back in Ready after streaming, got %s", sess.CurrentState())
	}
	if len(sess.HistorySnapshot()) != 2 {
		t.Fatalf("expected user+assistant turn in history, got %d", len(sess.HistorySnapshot()))
	}
}

func TestSessionReInitPreservesHistory(t *testing.T) {
	deps := testDeps(t)
	r := NewRouter(deps)
	sender := newFakeSender()

	sendJSON(t, r, sender, SessionInit{Type: "session_init", SessionID: "s1", ChainID: 1, JobID: 7})
	sendJSON(t, r, sender, struct {
		Type      string `json:"type"`
		SessionID string `json:"session_id"`
		Prompt    string `json:"prompt"`
	}{"inference", "s1", "hello there"})

	sess, _ := deps.Sessions.Get("s1")
	historyBefore := len(sess.HistorySnapshot())
	if historyBefore == 0 {
		t.Fatalf("expected some history before re-init")
	}

	// Re-init with the same session_id must not wipe history (P5).
	sendJSON(t, r, sender, SessionInit{Type: "session_init", SessionID: "s1", ChainID: 1, JobID: 7})

	sessAfter, err := deps.Sessions.Get("s1")
	if err != nil {
		t.Fatalf("session should still exist: %v", err)
	}
	if len(sessAfter.HistorySnapshot()) != historyBefore {
		t.Fatalf("re-init must preserve history: before=%d after=%d", historyBefore, len(sessAfter.HistorySnapshot()))
	}
}

func TestEncryptedSessionInitRoundTripAndReInit(t *testing.T) {
	deps := testDeps(t)
	r := NewRouter(deps)
	sender := newFakeSender()

	clientPriv, clientPub, err := cryptoprim.GenerateEphemeralKeypair()
	if err != nil {
		t.Fatalf("client keypair: %v", err)
	}
	sharedKey, err := cryptoprim.DeriveSharedKey(r.deps.ServerPub, clientPriv)
	if err != nil {
		t.Fatalf("derive shared key: %v", err)
	}

	buildFrame := func(jobID uint64) EncryptedSessionInit {
		payload := EncryptedSessionInitPayload{JobID: jobID, ChainID: 1, PricePerToken: 1}
		plain, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		nonce := make([]byte, cryptoprim.NonceSize)
		aad := "message_0"
		ciphertext, err := cryptoprim.Seal(sharedKey, nonce, []byte(aad), plain)
		if err != nil {
			t.Fatalf("seal: %v", err)
		}
		sig := signCiphertext(t, clientPriv, ciphertext)
		return EncryptedSessionInit{
			Type:       "encrypted_session_init",
			SessionID:  "s2",
			EphPub:     hex.EncodeToString(clientPub),
			Nonce:      hex.EncodeToString(nonce),
			AAD:        aad,
			Ciphertext: hex.EncodeToString(ciphertext),
			Signature:  hex.EncodeToString(sig[:]),
		}
	}

	sendJSON(t, r, sender, buildFrame(42))
	if sender.count("session_init_ack") != 1 {
		t.Fatalf("expected session_init_ack")
	}
	if sender.count("session_ready") != 1 {
		t.Fatalf("expected session_ready")
	}

	sess, err := deps.Sessions.Get("s2")
	if err != nil {
		t.Fatalf("session should exist: %v", err)
	}
	if sess.Cfg.JobID != 42 {
		t.Fatalf("expected job id 42, got %d", sess.Cfg.JobID)
	}

	// Re-init: same session_id, fresh AAD counter starting at message_0 again
	// since this is a brand new connection's router state in practice, but
	// here we reuse the same router so the counter has already advanced —
	// exercise re-init via the plaintext path instead to isolate P5.
	sendJSON(t, r, sender, SessionInit{Type: "session_init", SessionID: "s2", ChainID: 1, JobID: 42})
	sessAfter, err := deps.Sessions.Get("s2")
	if err != nil {
		t.Fatalf("session should still exist after re-init: %v", err)
	}
	if sessAfter.Cfg.UserAddress != sess.Cfg.UserAddress {
		t.Fatalf("re-init via session_init must not clear the user address bound at encrypted init")
	}
}

func TestCloseSettlesAndRemovesSession(t *testing.T) {
	deps := testDeps(t)
	r := NewRouter(deps)
	sender := newFakeSender()

	sendJSON(t, r, sender, SessionInit{Type: "session_init", SessionID: "s3", ChainID: 1, JobID: 1})
	sendJSON(t, r, sender, CloseMessage{Type: "close", SessionID: "s3"})

	if sender.count("close_ack") != 1 {
		t.Fatalf("expected one close_ack")
	}
	if _, err := deps.Sessions.Get("s3"); err == nil {
		t.Fatalf("session should be removed after close")
	}
}

// signCiphertext reproduces the signature domain decryptFrame verifies:
// keccak256("\x19Ethereum Signed Message:\n32" || sha256(ciphertext)).
func signCiphertext(t *testing.T, priv *ecdsa.PrivateKey, ciphertext []byte) [65]byte {
	t.Helper()
	var out [65]byte
	ctHash := sha256.Sum256(ciphertext)
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(ctHash))
	digest := crypto.Keccak256(append([]byte(prefix), ctHash[:]...))
	sig, err := crypto.Sign(digest, priv)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	copy(out[:], sig)
	if out[64] < 27 {
		out[64] += 27
	}
	return out
}
