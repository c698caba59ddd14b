package session

import (
	"sync"
	"time"

	"github.com/synnergy/hostnode/internal/cryptoprim"
	"github.com/synnergy/hostnode/internal/errs"
	"github.com/synnergy/hostnode/internal/metrics"
)

// keyEntry is one SessionKeyStore row (spec §3.2).
type keyEntry struct {
	key        cryptoprim.AEADKey
	installedAt time.Time
	ttl         time.Duration
}

func (e keyEntry) expired(now time.Time) bool { return now.Sub(e.installedAt) > e.ttl }

// KeyStoreStats mirrors the observability surface spec §4.8 requires, and
// backs the GET /v1/metrics/session_keys endpoint.
type KeyStoreStats struct {
	ActiveSessions          int
	TotalKeysStored         uint64
	MemoryUsageEstimateBytes uint64
	ExpiredKeysCleaned      uint64
}

// KeyStore maps session_id → AEAD key with a TTL. Replace-on-store is
// intentional: re-init rotates the key (spec §4.10.5) without disturbing
// the Session it belongs to.
type KeyStore struct {
	mu      sync.RWMutex
	entries map[string]keyEntry
	defTTL  time.Duration

	totalStored uint64
	expiredTot  uint64

	stopSweep chan struct{}
	sweepOnce sync.Once
}

// NewKeyStore starts a KeyStore with the given default TTL and a background
// sweeper purging expired entries, grounded in the teacher's
// core/connection_pool.go reaper idiom.
func NewKeyStore(defaultTTL time.Duration) *KeyStore {
	ks := &KeyStore{
		entries:   make(map[string]keyEntry),
		defTTL:    defaultTTL,
		stopSweep: make(chan struct{}),
	}
	go ks.sweepLoop()
	return ks
}

func (ks *KeyStore) Close() { ks.sweepOnce.Do(func() { close(ks.stopSweep) }) }

// Install stores (or rotates) the AEAD key for sessionID.
func (ks *KeyStore) Install(sessionID string, key cryptoprim.AEADKey, now time.Time, ttl time.Duration) {
	if ttl <= 0 {
		ttl = ks.defTTL
	}
	ks.mu.Lock()
	ks.entries[sessionID] = keyEntry{key: key, installedAt: now, ttl: ttl}
	ks.totalStored++
	ks.mu.Unlock()
	metrics.TotalKeysStored.Inc()
}

// Get returns the installed key, SessionKeyNotFound if absent, or
// KindSessionKeyNotFound if expired (treated the same as absent by callers,
// since an expired key must be re-established via a fresh init).
func (ks *KeyStore) Get(sessionID string, now time.Time) (cryptoprim.AEADKey, error) {
	ks.mu.RLock()
	e, ok := ks.entries[sessionID]
	ks.mu.RUnlock()
	if !ok {
		return cryptoprim.AEADKey{}, errs.New(errs.KindSessionKeyNotFound, sessionID)
	}
	if e.expired(now) {
		ks.Remove(sessionID)
		return cryptoprim.AEADKey{}, errs.New(errs.KindSessionKeyNotFound, sessionID)
	}
	return e.key, nil
}

// Remove evicts a key immediately, called on session close.
func (ks *KeyStore) Remove(sessionID string) {
	ks.mu.Lock()
	delete(ks.entries, sessionID)
	ks.mu.Unlock()
}

// Stats reports the observability surface spec §4.8 names.
func (ks *KeyStore) Stats() KeyStoreStats {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	const approxEntrySize = 32 + 24 + 8 // key + time.Time + ttl, rough estimate
	return KeyStoreStats{
		ActiveSessions:           len(ks.entries),
		TotalKeysStored:          ks.totalStored,
		MemoryUsageEstimateBytes: uint64(len(ks.entries) * approxEntrySize),
		ExpiredKeysCleaned:       ks.expiredTot,
	}
}

func (ks *KeyStore) sweepLoop() {
	interval := ks.defTTL / 4
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ks.stopSweep:
			return
		case now := <-ticker.C:
			ks.sweepExpired(now)
		}
	}
}

func (ks *KeyStore) sweepExpired(now time.Time) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	for id, e := range ks.entries {
		if e.expired(now) {
			delete(ks.entries, id)
			ks.expiredTot++
		}
	}
}
