package wsproto

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	log "github.com/sirupsen/logrus"

	"github.com/synnergy/hostnode/internal/billing"
	"github.com/synnergy/hostnode/internal/chainmodel"
	"github.com/synnergy/hostnode/internal/cryptoprim"
	"github.com/synnergy/hostnode/internal/errs"
	"github.com/synnergy/hostnode/internal/inference"
	"github.com/synnergy/hostnode/internal/session"
	"github.com/synnergy/hostnode/internal/vectorindex"
)

// Deps wires every component a session task calls into (spec §2's control
// flow diagram collapsed into one struct, the same composition-root shape
// as the teacher's walletserver wiring its controllers from one config).
type Deps struct {
	Sessions    *session.Store
	Keys        *session.KeyStore
	Loader      *vectorindex.Loader
	Fetcher     vectorindex.Fetcher
	Llm         *inference.LlmEngine
	Vlm         *inference.VlmClient
	Onnx        *inference.OnnxFallback
	Tracker     *billing.TokenTracker
	Checkpoints *billing.CheckpointManager
	Pool        *inference.WorkerPool

	// ServerPriv/ServerPub are the node's persistent ECDH identity (spec
	// §6.1, §4.11): clients learn ServerPub out-of-band via HostRegistrar
	// discovery before ever dialing, so encrypted_session_init can be ECDH-
	// encrypted under it from the client's very first message. A fresh
	// keypair per connection would leave the client unable to derive the
	// matching shared secret before the server has spoken.
	ServerPriv *ecdsa.PrivateKey
	ServerPub  []byte
}

// Router dispatches inbound frames to the right handler and tracks the
// per-session AAD message counter the wire format requires (spec §6.1).
type Router struct {
	deps Deps

	mu       sync.Mutex
	msgIndex map[string]int
}

// NewRouter wires a Router. If deps.ServerPriv is nil, a fresh identity
// keypair is generated — fine for short-lived test processes, but a real
// node should load a persistent key so ServerPub stays stable across
// restarts (spec §4.11's registered host identity).
func NewRouter(deps Deps) *Router {
	if deps.ServerPriv == nil {
		priv, pub, err := cryptoprim.GenerateEphemeralKeypair()
		if err == nil {
			deps.ServerPriv, deps.ServerPub = priv, pub
		}
	}
	return &Router{deps: deps, msgIndex: make(map[string]int)}
}

func (r *Router) nextAAD(sessionID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.msgIndex[sessionID]
	r.msgIndex[sessionID] = i + 1
	return fmt.Sprintf("message_%d", i)
}

// Handle decodes raw's type discriminant and dispatches to the matching
// handler. It never returns an error for protocol-level problems — those
// become `error` frames on sender per spec §4.10.6. Every handler reports
// its failures that way, a missing or expired session key included, so
// Handle returns nil for every frame; the connection loop closes the
// connection only on a non-nil return.
func (r *Router) Handle(ctx context.Context, sender Sender, raw []byte) error {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		sendError(sender, errs.New(errs.KindInternalError, "malformed frame"))
		return nil
	}
	switch env.Type {
	case "session_init":
		return r.handleSessionInit(ctx, sender, raw)
	case "encrypted_session_init":
		return r.handleEncryptedSessionInit(ctx, sender, raw)
	case "encrypted_message":
		return r.handleEncryptedMessage(ctx, sender, raw)
	case "inference":
		return r.handlePlaintextInference(ctx, sender, raw)
	case "searchVectors":
		return r.handleSearchVectors(ctx, sender, raw)
	case "uploadVectors":
		return r.handleUploadVectors(ctx, sender, raw)
	case "ocr":
		return r.handleVision(ctx, sender, raw, true)
	case "describe_image":
		return r.handleVision(ctx, sender, raw, false)
	case "close":
		return r.handleClose(ctx, sender, raw)
	default:
		sendError(sender, errs.New(errs.KindInternalError, "unknown message type: "+env.Type))
		return nil
	}
}

func sendError(sender Sender, err error) {
	_ = sender.Send(ErrorMessage{Type: "error", Code: errs.WSCode(errs.KindOf(err)), Message: err.Error()})
}

func (r *Router) handleSessionInit(ctx context.Context, sender Sender, raw []byte) error {
	var msg SessionInit
	if err := json.Unmarshal(raw, &msg); err != nil {
		sendError(sender, errs.New(errs.KindInternalError, "malformed session_init"))
		return nil
	}
	cfg := session.Config{ChainID: msg.ChainID, JobID: msg.JobID, PricePerToken: msg.PricePerToken, MaxHistory: 100}
	sess, created, err := r.deps.Sessions.EnsureSessionExistsWithChain(msg.SessionID, cfg, time.Now())
	if err != nil {
		sendError(sender, err)
		return nil
	}
	if !created {
		log.WithField("session_id", msg.SessionID).Info("session re-init, preserving existing state")
	}
	_ = sender.Send(SessionInitAck{Type: "session_init_ack", SessionID: msg.SessionID})
	r.afterInit(ctx, sender, sess, msg.VectorDB, chainmodel.Address{})
	return nil
}

func (r *Router) handleEncryptedSessionInit(ctx context.Context, sender Sender, raw []byte) error {
	var msg EncryptedSessionInit
	if err := json.Unmarshal(raw, &msg); err != nil {
		sendError(sender, errs.New(errs.KindInternalError, "malformed encrypted_session_init"))
		return nil
	}
	ephPub, err := hex.DecodeString(msg.EphPub)
	if err != nil {
		sendError(sender, errs.New(errs.KindInvalidHexEncoding, "eph_pub"))
		return nil
	}
	userAddr, err := cryptoprim.AddressFromCompressedPubkey(ephPub)
	if err != nil {
		sendError(sender, err)
		return nil
	}

	if r.deps.ServerPriv == nil {
		sendError(sender, errs.New(errs.KindInternalError, "node identity key unavailable"))
		return nil
	}
	sharedKey, err := cryptoprim.DeriveSharedKey(ephPub, r.deps.ServerPriv)
	if err != nil {
		sendError(sender, err)
		return nil
	}

	plain, err := decryptFrame(sharedKey, msg.Nonce, msg.AAD, msg.Ciphertext, msg.Signature, userAddr)
	if err != nil {
		sendError(sender, err)
		return nil
	}
	var payload EncryptedSessionInitPayload
	if err := json.Unmarshal(plain, &payload); err != nil {
		sendError(sender, errs.Wrap(errs.KindInternalError, err, "parse init payload"))
		return nil
	}

	cfg := session.Config{
		ChainID:       payload.ChainID,
		JobID:         payload.JobID,
		PricePerToken: payload.PricePerToken,
		UserAddress:   userAddr,
		MaxHistory:    100,
	}
	sess, created, err := r.deps.Sessions.EnsureSessionExistsWithChain(msg.SessionID, cfg, time.Now())
	if err != nil {
		sendError(sender, err)
		return nil
	}
	if !created {
		log.WithField("session_id", msg.SessionID).Info("session re-init, preserving existing state")
	}

	var installKey cryptoprim.AEADKey
	if payload.SessionKey != "" {
		decoded, err := hex.DecodeString(payload.SessionKey)
		if err == nil && len(decoded) == len(installKey) {
			copy(installKey[:], decoded)
		} else {
			installKey = sharedKey
		}
	} else {
		installKey = sharedKey
	}
	r.deps.Keys.Install(msg.SessionID, installKey, time.Now(), 0)

	_ = sender.Send(SessionInitAck{Type: "session_init_ack", SessionID: msg.SessionID, EphPub: hex.EncodeToString(r.deps.ServerPub)})
	r.afterInit(ctx, sender, sess, payload.VectorDatabase, userAddr)
	return nil
}

// afterInit performs the Initializing → LoadingVectors|Ready transition
// (spec §4.10.3) and, if a vector database was attached, drives the load
// and forwards its progress as vector_loading_status frames.
func (r *Router) afterInit(ctx context.Context, sender Sender, sess *session.Session, vdb *VectorDBRef, userAddr chainmodel.Address) {
	if vdb == nil || vdb.ManifestPath == "" {
		sess.SetState(session.Ready)
		_ = sender.Send(SessionReady{Type: "session_ready", SessionID: sess.ID})
		return
	}
	sess.SetState(session.LoadingVectors)
	_ = sender.Send(VectorLoadingStatus{Type: "vector_loading_status", SessionID: sess.ID, Status: "Loading"})

	user := vdb.UserAddress
	if user == "" {
		user = userAddr.Hex()
	}

	key, err := r.deps.Keys.Get(sess.ID, time.Now())
	if err != nil {
		sess.SetState(session.Ready)
		_ = sender.Send(VectorLoadingError{Type: "vector_loading_error", SessionID: sess.ID, Code: errs.WSCode(errs.KindOf(err)), Message: err.Error()})
		_ = sender.Send(SessionReady{Type: "session_ready", SessionID: sess.ID})
		return
	}

	progress := make(chan vectorindex.Progress, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for p := range progress {
			status := "Loading"
			if p.Kind == vectorindex.Complete {
				status = "Ready"
			}
			_ = sender.Send(VectorLoadingStatus{Type: "vector_loading_status", SessionID: sess.ID, Status: status, Progress: p})
		}
	}()
	idx, err := r.deps.Loader.Load(ctx, vdb.ManifestPath, user, key, progress)
	close(progress)
	<-done

	// LoadingVectors → Ready regardless of outcome (spec §4.10.3: a failed
	// load still leaves the session usable, just without RAG).
	sess.SetState(session.Ready)
	if err != nil {
		_ = sender.Send(VectorLoadingError{Type: "vector_loading_error", SessionID: sess.ID, Code: errs.WSCode(errs.KindOf(err)), Message: err.Error()})
	} else {
		sess.AttachVectorStore(idx)
	}
	_ = sender.Send(SessionReady{Type: "session_ready", SessionID: sess.ID})
}

// decryptFrame verifies the EIP-191 signature domain and decrypts an
// encrypted frame's ciphertext (spec §6.1). The signature domain is
// keccak256("\x19Ethereum Signed Message:\n32" || sha256(ciphertext)).
func decryptFrame(key cryptoprim.AEADKey, nonceHex, aad, ciphertextHex, sigHex string, wantSigner chainmodel.Address) ([]byte, error) {
	nonce, err := hex.DecodeString(nonceHex)
	if err != nil {
		return nil, errs.New(errs.KindInvalidHexEncoding, "nonce")
	}
	ciphertext, err := hex.DecodeString(ciphertextHex)
	if err != nil {
		return nil, errs.New(errs.KindInvalidHexEncoding, "ciphertext")
	}
	sigRaw, err := hex.DecodeString(sigHex)
	if err != nil || len(sigRaw) != 65 {
		return nil, errs.New(errs.KindInvalidHexEncoding, "signature")
	}
	var sig [65]byte
	copy(sig[:], sigRaw)

	ctHash := sha256.Sum256(ciphertext)
	signer, err := cryptoprim.RecoverDigest(sig, signatureDigest(ctHash[:]))
	if err != nil {
		return nil, err
	}
	if !signer.Equal(wantSigner) {
		log.Warn("wsproto: signature recovered address does not match session user_address")
		return nil, errs.New(errs.KindInvalidSignature, "recovered signer does not match session user_address")
	}

	plain, err := cryptoprim.Open(key, nonce, []byte(aad), ciphertext)
	if err != nil {
		log.Warn("wsproto: AEAD authentication failed")
		return nil, errs.Wrap(errs.KindDecryptionFailed, err, "aead authentication failed")
	}
	return plain, nil
}

func signatureDigest(ctHash []byte) []byte {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(ctHash))
	return crypto.Keccak256(append([]byte(prefix), ctHash...))
}

func (r *Router) handleClose(ctx context.Context, sender Sender, raw []byte) error {
	var msg CloseMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		sendError(sender, errs.New(errs.KindInternalError, "malformed close"))
		return nil
	}
	sess, err := r.deps.Sessions.Get(msg.SessionID)
	if err != nil {
		sendError(sender, err)
		return nil
	}
	sess.SetState(session.Closing)
	if r.deps.Checkpoints != nil {
		if err := r.deps.Checkpoints.Settle(ctx, sess.Cfg.ChainID, sess.Cfg.JobID, proofInputsFor(sess), time.Now()); err != nil {
			log.WithField("session_id", msg.SessionID).WithError(err).Warn("wsproto: checkpoint settlement failed at close")
		}
	}
	r.deps.Keys.Remove(msg.SessionID)
	counters := sess.CountersSnapshot()
	sess.SetState(session.Closed)
	r.deps.Sessions.Delete(msg.SessionID)
	_ = sender.Send(CloseAck{Type: "close_ack", SessionID: msg.SessionID, SettlementSummary: counters})
	return nil
}
