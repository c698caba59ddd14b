package session

import (
	"sync"
	"time"

	"github.com/synnergy/hostnode/internal/errs"
	"github.com/synnergy/hostnode/internal/metrics"
)

// StoreOptions bounds capacity and TTL behaviour (spec §4.7).
type StoreOptions struct {
	MaxSessions           int
	SessionTimeoutSeconds int
}

func DefaultStoreOptions() StoreOptions {
	return StoreOptions{MaxSessions: 10_000, SessionTimeoutSeconds: 1800}
}

// Store is the shared session_id → *Session registry. Reads (per-message
// lookups) are frequent; writes (create/destroy/sweep) are rare, so a
// single RWMutex is sufficient — the same tradeoff the teacher's
// core/connection_pool.go makes with its plain Mutex over a map of
// connection slices.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	opts     StoreOptions

	stopSweep chan struct{}
	sweepOnce sync.Once
}

// NewStore constructs a Store and starts its background TTL sweeper.
func NewStore(opts StoreOptions) *Store {
	s := &Store{
		sessions:  make(map[string]*Session),
		opts:      opts,
		stopSweep: make(chan struct{}),
	}
	go s.sweepLoop()
	return s
}

// Close stops the background sweeper. Safe to call multiple times.
func (s *Store) Close() {
	s.sweepOnce.Do(func() { close(s.stopSweep) })
}

// CreateSessionWithChain always replaces any prior entry at id — used for
// genuinely new sessions, tests, and destructive resets (spec §4.7).
// Regression guard P5: this does NOT preserve prior state.
func (s *Store) CreateSessionWithChain(id string, cfg Config, now time.Time) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[id]; !exists && len(s.sessions) >= s.opts.MaxSessions {
		if !s.evictOneLocked() {
			return nil, errs.New(errs.KindMemoryLimitExceeded, "session store at capacity")
		}
	}
	sess := &Session{
		ID:             id,
		Cfg:            cfg,
		State:          Initializing,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	s.sessions[id] = sess
	metrics.ActiveSessions.Set(float64(len(s.sessions)))
	return sess, nil
}

// EnsureSessionExistsWithChain returns (session, false, nil) if id already
// exists (state preserved) or (session, true, nil) if newly created. It
// returns an error only if creating a new session would exceed max_sessions
// and the session does not already exist. This is the operation
// WebSocketProtocol uses on encrypted_session_init so a re-init never wipes
// uploaded vectors, history, or an attached index (spec §4.7, P5).
func (s *Store) EnsureSessionExistsWithChain(id string, cfg Config, now time.Time) (*Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.sessions[id]; ok {
		return existing, false, nil
	}
	if len(s.sessions) >= s.opts.MaxSessions {
		if !s.evictOneLocked() {
			return nil, false, errs.New(errs.KindMemoryLimitExceeded, "session store at capacity")
		}
	}
	sess := &Session{
		ID:             id,
		Cfg:            cfg,
		State:          Initializing,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	s.sessions[id] = sess
	metrics.ActiveSessions.Set(float64(len(s.sessions)))
	return sess, true, nil
}

// Get returns the session for id, or SessionNotFound.
func (s *Store) Get(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, errs.New(errs.KindSessionNotFound, id)
	}
	return sess, nil
}

// Delete removes a session unconditionally (explicit close, spec §4.7).
func (s *Store) Delete(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	metrics.ActiveSessions.Set(float64(len(s.sessions)))
	s.mu.Unlock()
}

// Len reports the number of live sessions, used for capacity metrics.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// evictOneLocked performs LRU eviction of the least-recently-active
// session. Caller must hold s.mu. Only invoked under memory pressure (spec
// §4.7, §5): when the store is at capacity and a truly new session id
// arrives.
func (s *Store) evictOneLocked() bool {
	var oldestID string
	var oldestAt time.Time
	first := true
	for id, sess := range s.sessions {
		sess.mu.Lock()
		at := sess.LastActivityAt
		sess.mu.Unlock()
		if first || at.Before(oldestAt) {
			oldestID, oldestAt, first = id, at, false
		}
	}
	if first {
		return false
	}
	delete(s.sessions, oldestID)
	metrics.ActiveSessions.Set(float64(len(s.sessions)))
	return true
}

// sweepLoop evicts sessions whose LastActivityAt exceeds the configured TTL.
// Grounded in core/connection_pool.go's reaper() goroutine.
func (s *Store) sweepLoop() {
	ttl := time.Duration(s.opts.SessionTimeoutSeconds) * time.Second
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	ticker := time.NewTicker(ttl / 4)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopSweep:
			return
		case now := <-ticker.C:
			s.sweepExpired(now, ttl)
		}
	}
}

func (s *Store) sweepExpired(now time.Time, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		sess.mu.Lock()
		idle := now.Sub(sess.LastActivityAt)
		sess.mu.Unlock()
		if idle > ttl {
			delete(s.sessions, id)
		}
	}
	metrics.ActiveSessions.Set(float64(len(s.sessions)))
}
