// Package contractgw is a typed wrapper over JSON-RPC calls to the node's
// on-chain contract set (job marketplace, node registry, proof system). It
// never reimplements contract logic — the contracts are an external
// collaborator (spec §1, §6.3) — it only knows how to encode/decode their
// calldata and how to retry transient RPC failures.
//
// Grounded on the teacher's core/contracts.go ContractRegistry (a thin
// invoke-and-log layer over a VM) and core/connection_pool.go's retry/reaper
// idiom, generalized from an in-process VM call to a JSON-RPC round trip.
package contractgw

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	log "github.com/sirupsen/logrus"

	"github.com/synnergy/hostnode/internal/chainmodel"
	"github.com/synnergy/hostnode/internal/chainreg"
	"github.com/synnergy/hostnode/internal/errs"
)

// RPCClient is the subset of ethclient.Client the gateway depends on. Tests
// substitute a local fake; production wires *ethclient.Client directly.
type RPCClient interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// Dialer lazily creates an RPCClient for a chain's configured RPC URL.
// ethclient.DialContext satisfies this signature.
type Dialer func(ctx context.Context, rpcURL string) (RPCClient, error)

// DialEthclient adapts ethclient.DialContext to the Dialer signature.
func DialEthclient(ctx context.Context, rpcURL string) (RPCClient, error) {
	c, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// RetryPolicy bounds the backoff contractgw applies to transient RPC
// failures (spec §4.3: "transient RPC failures retry with capped
// exponential backoff (cap ≤ 30s, max 5 attempts)").
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy matches spec §4.3/§5 defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, BaseDelay: 200 * time.Millisecond, MaxDelay: 30 * time.Second}
}

// Gateway is the typed JSON-RPC facade. One Gateway instance serves every
// configured chain; per-chain clients are dialed lazily and cached.
type Gateway struct {
	registry *chainreg.Registry
	dial     Dialer
	retry    RetryPolicy

	mu      sync.Mutex
	clients map[uint64]RPCClient
	nonces  map[nonceKey]*nonceManager
}

type nonceKey struct {
	chainID uint64
	host    chainmodel.Address
}

// New constructs a Gateway over the given chain registry.
func New(reg *chainreg.Registry, dial Dialer, retry RetryPolicy) *Gateway {
	return &Gateway{
		registry: reg,
		dial:     dial,
		retry:    retry,
		clients:  make(map[uint64]RPCClient),
		nonces:   make(map[nonceKey]*nonceManager),
	}
}

func (g *Gateway) clientFor(ctx context.Context, chainID uint64) (RPCClient, chainreg.Chain, error) {
	chain, err := g.registry.Lookup(chainID)
	if err != nil {
		return nil, chain, err
	}
	g.mu.Lock()
	c, ok := g.clients[chainID]
	g.mu.Unlock()
	if ok {
		return c, chain, nil
	}
	c, err = g.dial(ctx, chain.RPCURL)
	if err != nil {
		return nil, chain, errs.Wrap(errs.KindRpcTransient, err, "dial rpc endpoint")
	}
	g.mu.Lock()
	g.clients[chainID] = c
	g.mu.Unlock()
	return c, chain, nil
}

// nonceManagerFor returns the single nonce manager serializing submissions
// for (chainID, host), per spec §5's "single nonce manager per (chain_id,
// host_address) pair" requirement.
func (g *Gateway) nonceManagerFor(chainID uint64, host chainmodel.Address) *nonceManager {
	key := nonceKey{chainID, host}
	g.mu.Lock()
	defer g.mu.Unlock()
	nm, ok := g.nonces[key]
	if !ok {
		nm = &nonceManager{}
		g.nonces[key] = nm
	}
	return nm
}

// nonceManager serializes nonce acquisition for one (chain, host) pair so
// concurrent submissions never race on the pending nonce.
type nonceManager struct {
	mu      sync.Mutex
	current uint64
	primed  bool
}

func (nm *nonceManager) next(ctx context.Context, c RPCClient, host common.Address) (uint64, error) {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	if !nm.primed {
		n, err := c.PendingNonceAt(ctx, host)
		if err != nil {
			return 0, err
		}
		nm.current = n
		nm.primed = true
	}
	n := nm.current
	nm.current++
	return n, nil
}

func (nm *nonceManager) reset() {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	nm.primed = false
}

// classify distinguishes retriable transport failures from terminal
// contract reverts, per spec §4.3's failure semantics table.
func classify(err error) (retriable bool, nonceStale bool, insufficientFunds bool) {
	if err == nil {
		return false, false, false
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "nonce too low"), strings.Contains(msg, "nonce too high"):
		return true, true, false
	case strings.Contains(msg, "insufficient funds"):
		return false, false, true
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "eof"), strings.Contains(msg, "temporarily unavailable"),
		strings.Contains(msg, "too many requests"):
		return true, false, false
	default:
		return false, false, false
	}
}

// withRetry runs op with capped exponential backoff. On a nonce-stale
// classification it invokes onNonceStale (if non-nil) before the next
// attempt, letting callers refetch the nonce (spec §4.3).
func (g *Gateway) withRetry(ctx context.Context, onNonceStale func(), op func(attempt int) error) error {
	delay := g.retry.BaseDelay
	var lastErr error
	for attempt := 1; attempt <= g.retry.MaxAttempts; attempt++ {
		err := op(attempt)
		if err == nil {
			return nil
		}
		lastErr = err
		retriable, nonceStale, insufficientFunds := classify(err)
		if insufficientFunds {
			// Fatal to settlement, but the node itself stays alive.
			return errs.Wrap(errs.KindContractRevert, err, "insufficient funds")
		}
		if nonceStale && onNonceStale != nil {
			onNonceStale()
		}
		if !retriable {
			return errs.Wrap(errs.KindContractRevert, err, "contract call reverted")
		}
		if attempt == g.retry.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > g.retry.MaxDelay {
			delay = g.retry.MaxDelay
		}
	}
	return errs.Wrap(errs.KindRpcTransient, lastErr, fmt.Sprintf("exhausted %d attempts", g.retry.MaxAttempts))
}

// IsActiveNode calls the node registry's isActiveNode view function, used by
// the localhost storage bridge to authorize an already-registered host.
func (g *Gateway) IsActiveNode(ctx context.Context, chainID uint64, addr chainmodel.Address) (bool, error) {
	client, chain, err := g.clientFor(ctx, chainID)
	if err != nil {
		return false, err
	}
	data, err := packIsActiveNode(addr)
	if err != nil {
		return false, errs.Wrap(errs.KindInternalError, err, "pack isActiveNode")
	}
	to := common.Address(chain.Contracts.NodeRegistry)
	var out []byte
	callErr := g.withRetry(ctx, nil, func(int) error {
		var e error
		out, e = client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
		return e
	})
	if callErr != nil {
		return false, callErr
	}
	return unpackBool(out)
}

// QuerySessionModel returns the model_id bound to job_id on-chain. Zero
// means a non-model session. Callers (CheckpointManager) are responsible
// for caching this per session until close (spec §4.3).
func (g *Gateway) QuerySessionModel(ctx context.Context, chainID uint64, jobID *big.Int) (chainmodel.ModelID, error) {
	client, chain, err := g.clientFor(ctx, chainID)
	if err != nil {
		return chainmodel.ModelID{}, err
	}
	data, err := packQuerySessionModel(jobID)
	if err != nil {
		return chainmodel.ModelID{}, errs.Wrap(errs.KindInternalError, err, "pack sessionModel")
	}
	to := common.Address(chain.Contracts.JobMarketplace)
	var out []byte
	callErr := g.withRetry(ctx, nil, func(int) error {
		var e error
		out, e = client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
		return e
	})
	if callErr != nil {
		return chainmodel.ModelID{}, callErr
	}
	return unpackModelID(out)
}

// RegisterHost registers (or idempotently updates) this host's capability
// and pricing advertisement on node_registry.
func (g *Gateway) RegisterHost(ctx context.Context, chainID uint64, host chainmodel.Address, modelIDs []chainmodel.ModelID, minNative, minStable *big.Int, sig []byte) (common.Hash, error) {
	client, chain, err := g.clientFor(ctx, chainID)
	if err != nil {
		return common.Hash{}, err
	}
	raw := make([][32]byte, len(modelIDs))
	for i, m := range modelIDs {
		raw[i] = m
	}
	data, err := packRegisterHost(raw, minNative, minStable, sig)
	if err != nil {
		return common.Hash{}, errs.Wrap(errs.KindInternalError, err, "pack registerHost")
	}
	return g.sendTransaction(ctx, client, chainID, host, common.Address(chain.Contracts.NodeRegistry), data)
}

// SubmitProofOfWork submits a signed checkpoint proof. At most one in-flight
// submission per job_id is the caller's (CheckpointManager's) responsibility
// to enforce; this method is safe to call concurrently for distinct jobs.
func (g *Gateway) SubmitProofOfWork(ctx context.Context, chainID uint64, host chainmodel.Address, jobID, tokensClaimed *big.Int, proofHash chainmodel.ProofHash, sig [65]byte, modelID chainmodel.ModelID, timestamp time.Time) (common.Hash, error) {
	client, chain, err := g.clientFor(ctx, chainID)
	if err != nil {
		return common.Hash{}, err
	}
	data, err := packSubmitProof(jobID, tokensClaimed, proofHash, sig[:], modelID, big.NewInt(timestamp.Unix()))
	if err != nil {
		return common.Hash{}, errs.Wrap(errs.KindInternalError, err, "pack submitProofOfWork")
	}
	return g.sendTransaction(ctx, client, chainID, host, common.Address(chain.Contracts.ProofSystem), data)
}

func (g *Gateway) sendTransaction(ctx context.Context, client RPCClient, chainID uint64, host chainmodel.Address, to common.Address, data []byte) (common.Hash, error) {
	nm := g.nonceManagerFor(chainID, host)
	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		gasPrice = big.NewInt(0)
	}
	var txHash common.Hash
	sendErr := g.withRetry(ctx, nm.reset, func(int) error {
		nonce, err := nm.next(ctx, client, common.Address(host))
		if err != nil {
			return err
		}
		tx := types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			To:       &to,
			Gas:      500_000,
			GasPrice: gasPrice,
			Data:     data,
		})
		if err := client.SendTransaction(ctx, tx); err != nil {
			return err
		}
		txHash = tx.Hash()
		return nil
	})
	if sendErr != nil {
		return common.Hash{}, sendErr
	}
	return txHash, nil
}

// RegistryEvent is a normalized peer-discovery event decoded from raw logs.
type RegistryEvent struct {
	Kind      string // always "Updated": decodeRegistryLog does not tell registrations from unregistrations
	Host      chainmodel.Address
	BlockNum  uint64
	TxHash    common.Hash
}

// WatchRegistryEvents streams node_registry events from fromBlock onward,
// used for peer discovery (spec §4.3). The returned channel is closed when
// ctx is cancelled or the subscription ends.
func (g *Gateway) WatchRegistryEvents(ctx context.Context, chainID uint64, fromBlock uint64) (<-chan RegistryEvent, error) {
	client, chain, err := g.clientFor(ctx, chainID)
	if err != nil {
		return nil, err
	}
	logsCh := make(chan types.Log, 64)
	q := ethereum.FilterQuery{
		FromBlock: big.NewInt(int64(fromBlock)),
		Addresses: []common.Address{common.Address(chain.Contracts.NodeRegistry)},
	}
	sub, err := client.SubscribeFilterLogs(ctx, q, logsCh)
	if err != nil {
		return nil, errs.Wrap(errs.KindRpcTransient, err, "subscribe registry events")
	}
	out := make(chan RegistryEvent, 64)
	go func() {
		defer close(out)
		defer sub.Unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-sub.Err():
				log.WithError(err).Warn("contractgw: registry event subscription dropped")
				return
			case lg := <-logsCh:
				out <- decodeRegistryLog(lg)
			}
		}
	}()
	return out, nil
}

func decodeRegistryLog(lg types.Log) RegistryEvent {
	ev := RegistryEvent{BlockNum: lg.BlockNumber, TxHash: lg.TxHash, Kind: "Updated"}
	if len(lg.Topics) > 1 {
		copy(ev.Host[:], lg.Topics[1].Bytes()[12:])
	}
	return ev
}
