// Package registrar implements HostRegistrar (spec §4.11, C11): on startup
// it announces this host's capabilities on every configured chain, then
// runs a periodic heartbeat that re-checks on-chain liveness and
// re-announces on capability drift.
//
// Grounded in the teacher's core/network.go NewNode bootstrap — dial/announce
// once at construction, then hand off to a background goroutine — generalized
// from libp2p peer discovery to on-chain host registration.
package registrar

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/synnergy/hostnode/internal/chainmodel"
	"github.com/synnergy/hostnode/internal/contractgw"
)

// Capabilities is the set of advertised host properties (spec §3.5
// HostRegistration).
type Capabilities struct {
	SupportedModelIDs        []chainmodel.ModelID
	MinPricePerTokenNative    uint64
	MinPricePerTokenStable    uint64
}

// Equal reports whether two capability sets are identical, used to detect
// drift between heartbeats (spec §4.11: "re-announces on drift").
func (c Capabilities) Equal(o Capabilities) bool {
	if c.MinPricePerTokenNative != o.MinPricePerTokenNative || c.MinPricePerTokenStable != o.MinPricePerTokenStable {
		return false
	}
	if len(c.SupportedModelIDs) != len(o.SupportedModelIDs) {
		return false
	}
	for i := range c.SupportedModelIDs {
		if c.SupportedModelIDs[i] != o.SupportedModelIDs[i] {
			return false
		}
	}
	return true
}

// Signer is the subset of ContractGateway + cryptoprim this package needs to
// register and re-announce a host. Declared here (rather than depending on
// contractgw's concrete type for signing) so tests can substitute a fake
// without a live RPC endpoint.
type Signer func(priv *ecdsa.PrivateKey, host chainmodel.Address, modelIDs []chainmodel.ModelID, minNative, minStable uint64) ([65]byte, error)

// Status is the operator-dashboard-facing snapshot HostRegistrar publishes
// per chain (spec §4.11: "{address, chain_id, supported_models, prices,
// latency_estimate}").
type Status struct {
	Address          chainmodel.Address
	ChainID          uint64
	SupportedModels  []chainmodel.ModelID
	MinPriceNative   uint64
	MinPriceStable   uint64
	Online           bool
	LastAnnouncedAt  time.Time
	LatencyEstimate  time.Duration
	LastError        string
}

// Config bounds HostRegistrar's background behavior.
type Config struct {
	HeartbeatInterval time.Duration
}

func DefaultConfig() Config {
	return Config{HeartbeatInterval: 15 * time.Minute}
}

// HostRegistrar owns the on-startup registration and periodic heartbeat for
// one host across every chain it is configured for.
type HostRegistrar struct {
	gateway *contractgw.Gateway
	signer  *ecdsa.PrivateKey
	sign    Signer
	host    chainmodel.Address
	cfg     Config

	mu     sync.RWMutex
	chains map[uint64]Capabilities
	status map[uint64]*Status

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a HostRegistrar. sign is the signing function used to
// produce the registration signature ContractGateway.RegisterHost forwards
// on-chain (normally cryptoprim.SignRegistration).
func New(gw *contractgw.Gateway, signer *ecdsa.PrivateKey, host chainmodel.Address, sign Signer, cfg Config) *HostRegistrar {
	return &HostRegistrar{
		gateway: gw,
		signer:  signer,
		sign:    sign,
		host:    host,
		cfg:     cfg,
		chains:  make(map[uint64]Capabilities),
		status:  make(map[uint64]*Status),
	}
}

// RegisterAll announces caps on every given chain, one at a time — an
// individual chain's registration failure is logged and does not prevent
// the others from proceeding (spec §4.11: "for each configured chain").
func (r *HostRegistrar) RegisterAll(ctx context.Context, chainIDs []uint64, caps Capabilities) {
	for _, chainID := range chainIDs {
		if err := r.register(ctx, chainID, caps); err != nil {
			log.WithFields(log.Fields{"chain_id": chainID, "host": r.host.Hex()}).
				WithError(err).Warn("registrar: initial registration failed, will retry at next heartbeat")
		}
	}
}

func (r *HostRegistrar) register(ctx context.Context, chainID uint64, caps Capabilities) error {
	started := time.Now()
	sig, err := r.sign(r.signer, r.host, caps.SupportedModelIDs, caps.MinPricePerTokenNative, caps.MinPricePerTokenStable)
	if err != nil {
		r.recordFailure(chainID, caps, err)
		return err
	}
	_, err = r.gateway.RegisterHost(ctx, chainID, r.host, caps.SupportedModelIDs,
		new(big.Int).SetUint64(caps.MinPricePerTokenNative), new(big.Int).SetUint64(caps.MinPricePerTokenStable), sig[:])
	if err != nil {
		r.recordFailure(chainID, caps, err)
		return err
	}
	latency := time.Since(started)

	r.mu.Lock()
	r.chains[chainID] = caps
	r.status[chainID] = &Status{
		Address: r.host, ChainID: chainID, SupportedModels: caps.SupportedModelIDs,
		MinPriceNative: caps.MinPricePerTokenNative, MinPriceStable: caps.MinPricePerTokenStable,
		Online: true, LastAnnouncedAt: started, LatencyEstimate: latency,
	}
	r.mu.Unlock()
	log.WithFields(log.Fields{"chain_id": chainID, "host": r.host.Hex()}).Info("registrar: host registered")
	return nil
}

func (r *HostRegistrar) recordFailure(chainID uint64, caps Capabilities, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.status[chainID]
	if !ok {
		st = &Status{Address: r.host, ChainID: chainID}
		r.status[chainID] = st
	}
	st.Online = false
	st.LastError = err.Error()
}

// Start launches the periodic heartbeat goroutine. Calling Stop (or
// cancelling ctx) halts it.
func (r *HostRegistrar) Start(ctx context.Context) {
	hbCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.heartbeatLoop(hbCtx)
}

// Stop halts the heartbeat goroutine and waits for it to exit.
func (r *HostRegistrar) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
}

func (r *HostRegistrar) heartbeatLoop(ctx context.Context) {
	defer close(r.done)
	ticker := time.NewTicker(r.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.heartbeatOnce(ctx)
		}
	}
}

// heartbeatOnce checks on-chain liveness for every chain this host has
// registered on and re-announces if the cached capabilities have drifted
// (spec §4.11: "heartbeat ... calls isActiveNode and re-announces on
// drift").
func (r *HostRegistrar) heartbeatOnce(ctx context.Context) {
	r.mu.RLock()
	chains := make(map[uint64]Capabilities, len(r.chains))
	for id, c := range r.chains {
		chains[id] = c
	}
	r.mu.RUnlock()

	for chainID, caps := range chains {
		active, err := r.gateway.IsActiveNode(ctx, chainID, r.host)
		if err != nil {
			log.WithField("chain_id", chainID).WithError(err).Warn("registrar: heartbeat liveness check failed")
			r.recordFailure(chainID, caps, err)
			continue
		}
		if !active {
			log.WithField("chain_id", chainID).Warn("registrar: host no longer active on-chain, re-registering")
			if err := r.register(ctx, chainID, caps); err != nil {
				continue
			}
		}
		r.mu.Lock()
		if st, ok := r.status[chainID]; ok {
			st.Online = active
		}
		r.mu.Unlock()
	}
}

// UpdateCapabilities re-announces chainID immediately if newCaps differs
// from the last registered set, otherwise it is a no-op. Callers invoke
// this when local config/model availability changes at runtime.
func (r *HostRegistrar) UpdateCapabilities(ctx context.Context, chainID uint64, newCaps Capabilities) error {
	r.mu.RLock()
	old, known := r.chains[chainID]
	r.mu.RUnlock()
	if known && old.Equal(newCaps) {
		return nil
	}
	return r.register(ctx, chainID, newCaps)
}

// Snapshot returns the current per-chain status, for operator dashboards
// (spec §4.11).
func (r *HostRegistrar) Snapshot() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Status, 0, len(r.status))
	for _, st := range r.status {
		out = append(out, *st)
	}
	return out
}
