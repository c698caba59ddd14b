// Package discovery implements EventWatcher (spec SPEC_FULL §2 C15): an
// advisory, off-chain gossip cache of host capability announcements,
// complementing (never replacing) ContractGateway.WatchRegistryEvents
// (spec §4.3), which remains the authoritative on-chain source.
//
// Grounded directly in the teacher's core/network.go Node: NewGossipSub over
// a libp2p host, one topic, one subscription loop — generalized here from
// gossiping blocks/transactions to gossiping {host, chain_id, models,
// prices} announcements so HostRegistrar (internal/registrar) has a cheap,
// low-latency peer table without hammering RPC endpoints.
package discovery

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/synnergy/hostnode/internal/chainmodel"
)

// Topic is the pubsub topic name every node subscribes to for capability
// gossip.
const Topic = "synnergy-hostnode/capabilities/v1"

// Announcement is the gossiped, advisory capability record for one host on
// one chain. It mirrors registrar.Status's content but travels over pubsub
// instead of being queried on-chain.
type Announcement struct {
	Address         chainmodel.Address   `json:"address"`
	ChainID         uint64                `json:"chain_id"`
	SupportedModels []chainmodel.ModelID  `json:"supported_models"`
	MinPriceNative  uint64                `json:"min_price_native"`
	MinPriceStable  uint64                `json:"min_price_stable"`
	AnnouncedAt     int64                 `json:"announced_at"` // unix seconds
}

// PubSub is the subset of a libp2p *pubsub.PubSub this package depends on.
// Production wires a real gossipsub topic/subscription pair (grounded in
// core/network.go's pubsub.NewGossipSub(ctx, host) + host.Join / Subscribe);
// tests substitute an in-memory fake so the cache logic is verifiable
// without standing up real libp2p hosts.
type PubSub interface {
	Publish(ctx context.Context, topic string, data []byte) error
	Subscribe(topic string) (<-chan []byte, func(), error)
}

// PeerTable is a concurrency-safe, TTL-bounded cache of the latest
// Announcement seen per (chain_id, host). It is advisory only: a missing or
// stale entry never blocks a ContractGateway call, it only means the
// discovery-cache fast path falls back to the authoritative on-chain path.
type PeerTable struct {
	ttl time.Duration

	mu      sync.RWMutex
	entries map[peerKey]cachedAnnouncement
}

type peerKey struct {
	chainID uint64
	host    chainmodel.Address
}

type cachedAnnouncement struct {
	ann      Announcement
	cachedAt time.Time
}

// NewPeerTable constructs a PeerTable whose entries expire after ttl.
func NewPeerTable(ttl time.Duration) *PeerTable {
	return &PeerTable{ttl: ttl, entries: make(map[peerKey]cachedAnnouncement)}
}

func (t *PeerTable) put(a Announcement) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[peerKey{a.ChainID, a.Address}] = cachedAnnouncement{ann: a, cachedAt: time.Now()}
}

// Get returns the cached announcement for (chainID, host) if present and
// not expired.
func (t *PeerTable) Get(chainID uint64, host chainmodel.Address) (Announcement, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.entries[peerKey{chainID, host}]
	if !ok || time.Since(c.cachedAt) > t.ttl {
		return Announcement{}, false
	}
	return c.ann, true
}

// Peers returns every non-expired announcement known for chainID, for
// operator dashboards and HostRegistrar's peer-count metrics.
func (t *PeerTable) Peers(chainID uint64) []Announcement {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Announcement, 0, len(t.entries))
	now := time.Now()
	for k, c := range t.entries {
		if k.chainID != chainID {
			continue
		}
		if now.Sub(c.cachedAt) > t.ttl {
			continue
		}
		out = append(out, c.ann)
	}
	return out
}

// sweep evicts expired entries, called periodically by Watcher's background
// loop so the table does not grow unbounded across long node uptimes.
func (t *PeerTable) sweep() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	for k, c := range t.entries {
		if now.Sub(c.cachedAt) > t.ttl {
			delete(t.entries, k)
		}
	}
}

// Watcher joins the capability-gossip topic, republishes this host's own
// announcement on a fixed interval, and folds every announcement the PubSub
// delivers into a PeerTable. It does not add this host's own announcement
// itself; GossipPubSub drops the host's own publishes, so with it the table
// holds other hosts only.
type Watcher struct {
	ps    PubSub
	table *PeerTable

	mu         sync.RWMutex
	self       Announcement
	haveSelf   bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewWatcher constructs a Watcher over an already-joined PubSub instance.
func NewWatcher(ps PubSub, table *PeerTable) *Watcher {
	return &Watcher{ps: ps, table: table}
}

// SetSelf records this host's own announcement to be periodically
// republished; call again whenever HostRegistrar's capabilities drift.
func (w *Watcher) SetSelf(a Announcement) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.self = a
	w.haveSelf = true
}

// Start subscribes to the capability topic and begins the receive loop plus
// a periodic self-announcement publish, returning once both are running.
func (w *Watcher) Start(ctx context.Context, announceInterval time.Duration) error {
	ch, unsubscribe, err := w.ps.Subscribe(Topic)
	if err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.loop(runCtx, ch, unsubscribe, announceInterval)
	return nil
}

// Stop halts the receive and announce loops and waits for them to exit.
func (w *Watcher) Stop() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	<-w.done
}

func (w *Watcher) loop(ctx context.Context, ch <-chan []byte, unsubscribe func(), announceInterval time.Duration) {
	defer close(w.done)
	defer unsubscribe()

	ticker := time.NewTicker(announceInterval)
	defer ticker.Stop()
	sweepTicker := time.NewTicker(announceInterval * 4)
	defer sweepTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-ch:
			if !ok {
				return
			}
			w.handleMessage(raw)
		case <-ticker.C:
			w.publishSelf(ctx)
		case <-sweepTicker.C:
			w.table.sweep()
		}
	}
}

func (w *Watcher) handleMessage(raw []byte) {
	var a Announcement
	if err := json.Unmarshal(raw, &a); err != nil {
		log.WithError(err).Debug("discovery: dropping malformed capability announcement")
		return
	}
	w.table.put(a)
}

func (w *Watcher) publishSelf(ctx context.Context) {
	w.mu.RLock()
	a := w.self
	have := w.haveSelf
	w.mu.RUnlock()
	if !have {
		return
	}
	a.AnnouncedAt = time.Now().Unix()
	data, err := json.Marshal(a)
	if err != nil {
		log.WithError(err).Warn("discovery: failed to marshal self announcement")
		return
	}
	if err := w.ps.Publish(ctx, Topic, data); err != nil {
		log.WithError(err).Warn("discovery: failed to publish capability announcement")
	}
}
