// Package session implements the in-memory Session registry (C7) and the
// AEAD SessionKeyStore (C8). Both are shared-reference, single-writer
// stores: the owning WebSocket task is the only mutator of a Session's
// conversation/vector state, while the store itself only creates, looks up,
// and sweeps entries — mirroring the teacher's core/connection_pool.go,
// whose ConnPool holds connections under a mutex and runs a background
// reaper goroutine without ever touching a connection's internal state.
package session

import (
	"sync"
	"time"

	"github.com/synnergy/hostnode/internal/chainmodel"
)

// State is the per-connection state machine position (spec §4.10.3).
type State int

const (
	Initializing State = iota
	LoadingVectors
	Ready
	Streaming
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "Initializing"
	case LoadingVectors:
		return "LoadingVectors"
	case Ready:
		return "Ready"
	case Streaming:
		return "Streaming"
	case Closing:
		return "Closing"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Role is a conversation turn's speaker.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one (role, content) entry in the bounded conversation history.
type Turn struct {
	Role    Role
	Content string
}

// TokenCounters tracks the four counters spec §3.1 names.
type TokenCounters struct {
	PromptTokens       uint64
	CompletionTokens   uint64
	VLMTokens          uint64
	TotalChargedTokens uint64
}

// VectorHandle is an opaque reference to an attached RAG index. The actual
// index type lives in package vectorindex; session only needs to hold and
// forward the handle — an arena-like ownership model (spec §9) that avoids
// a session ↔ index ↔ loader import cycle.
type VectorHandle interface {
	Name() string
}

// Config carries the per-session parameters fixed at init time (spec §3.1).
type Config struct {
	ChainID       uint64
	JobID         uint64
	ModelID       chainmodel.ModelID
	PricePerToken uint64
	UserAddress   chainmodel.Address
	MaxHistory    int
}

// Session is the per-client live state bound to one on-chain escrow/job.
// Exactly one WebSocket task owns and mutates a given Session; SessionStore
// only ever reads or replaces the pointer under its map lock.
type Session struct {
	mu sync.Mutex

	ID     string
	Cfg    Config
	State  State

	History      []Turn
	VectorStore  VectorHandle
	Counters     TokenCounters

	CreatedAt      time.Time
	LastActivityAt time.Time
}

// Touch bumps LastActivityAt; called by the owning task on every message.
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	s.LastActivityAt = now
	s.mu.Unlock()
}

// SetState transitions the session's state machine position.
func (s *Session) SetState(st State) {
	s.mu.Lock()
	s.State = st
	s.mu.Unlock()
}

// CurrentState reads the state machine position.
func (s *Session) CurrentState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.State
}

// AppendTurn appends a conversation turn, trimming the oldest entries once
// MaxHistory is exceeded (spec §3.1: "bounded ordered sequence").
func (s *Session) AppendTurn(t Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.History = append(s.History, t)
	max := s.Cfg.MaxHistory
	if max > 0 && len(s.History) > max {
		s.History = s.History[len(s.History)-max:]
	}
}

// HistorySnapshot returns a copy of the conversation history, safe for the
// caller to range over without racing the owning task.
func (s *Session) HistorySnapshot() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.History))
	copy(out, s.History)
	return out
}

// AttachVectorStore installs a RAG index handle produced by the loader.
func (s *Session) AttachVectorStore(h VectorHandle) {
	s.mu.Lock()
	s.VectorStore = h
	s.mu.Unlock()
}

// VectorStoreHandle returns the currently attached index handle, if any.
func (s *Session) VectorStoreHandle() VectorHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.VectorStore
}

// AddCompletionTokens increments the completion counter by n (main LLM
// emission, one per token per spec §4.9.1).
func (s *Session) AddCompletionTokens(n uint64) {
	s.mu.Lock()
	s.Counters.CompletionTokens += n
	s.Counters.TotalChargedTokens += n
	s.mu.Unlock()
}

// AddVLMTokens increments the VLM counter by n (a VLM call's reported
// usage.total_tokens; never incremented by embeddings, spec §4.9.1).
func (s *Session) AddVLMTokens(n uint64) {
	s.mu.Lock()
	s.Counters.VLMTokens += n
	s.Counters.TotalChargedTokens += n
	s.mu.Unlock()
}

// CountersSnapshot returns a copy of the token counters.
func (s *Session) CountersSnapshot() TokenCounters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Counters
}
