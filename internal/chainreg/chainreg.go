// Package chainreg holds the frozen, in-memory chain_id → endpoint mapping
// every other component consults to pick an RPC endpoint or a contract
// address. Entries are loaded once at startup from configuration and never
// mutated afterwards, the same "frozen at boot" treatment the teacher gives
// its pkg/config.Config (loaded once into a package-level AppConfig).
package chainreg

import (
	"fmt"

	"github.com/synnergy/hostnode/internal/chainmodel"
	"github.com/synnergy/hostnode/internal/errs"
)

// TokenMeta describes a native or stable settlement token on a chain.
type TokenMeta struct {
	Symbol   string
	Decimals uint8
	Address  chainmodel.Address // zero for the native gas token
}

// Contracts groups the addresses of the on-chain contract set a chain hosts.
type Contracts struct {
	JobMarketplace chainmodel.Address
	NodeRegistry   chainmodel.Address
	HostEarnings   chainmodel.Address
	ModelRegistry  chainmodel.Address
	ProofSystem    chainmodel.Address
}

// Chain is one entry in the registry.
type Chain struct {
	ChainID              uint64
	Name                 string
	RPCURL               string
	NativeToken          TokenMeta
	StableToken          TokenMeta
	Contracts            Contracts
	ConfirmationsRequired uint64
}

// Registry is an immutable, concurrency-safe lookup table. Safe for
// concurrent reads from any number of goroutines since it is never mutated
// after New returns.
type Registry struct {
	chains map[uint64]Chain
}

// New freezes the given chain list into a lookup table. Duplicate chain ids
// are rejected to fail fast on a misconfiguration rather than silently
// shadowing an entry.
func New(chains []Chain) (*Registry, error) {
	m := make(map[uint64]Chain, len(chains))
	for _, c := range chains {
		if _, exists := m[c.ChainID]; exists {
			return nil, errs.New(errs.KindInvalidChainId, fmt.Sprintf("duplicate chain_id %d in configuration", c.ChainID))
		}
		m[c.ChainID] = c
	}
	return &Registry{chains: m}, nil
}

// Lookup returns the Chain entry for chainID, or UnknownChain wrapped as
// KindInvalidChainId when absent.
func (r *Registry) Lookup(chainID uint64) (Chain, error) {
	c, ok := r.chains[chainID]
	if !ok {
		return Chain{}, errs.New(errs.KindInvalidChainId, fmt.Sprintf("unknown chain_id %d", chainID))
	}
	return c, nil
}

// Known returns the configured chain ids, primarily for validation (e.g.
// the /v1/embed chain_id parameter) and for operator-facing listings.
func (r *Registry) Known() []uint64 {
	ids := make([]uint64, 0, len(r.chains))
	for id := range r.chains {
		ids = append(ids, id)
	}
	return ids
}
