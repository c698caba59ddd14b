package registrar

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"testing"
	"time"

	gethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/synnergy/hostnode/internal/chainmodel"
	"github.com/synnergy/hostnode/internal/chainreg"
	"github.com/synnergy/hostnode/internal/contractgw"
)

type fakeRPC struct {
	activeSeq  []bool
	activeCall int
	sends      int
}

func (f *fakeRPC) CallContract(ctx context.Context, call gethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	active := true
	if f.activeCall < len(f.activeSeq) {
		active = f.activeSeq[f.activeCall]
	}
	f.activeCall++
	out := make([]byte, 32)
	if active {
		out[31] = 1
	}
	return out, nil
}

func (f *fakeRPC) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	f.sends++
	return nil
}

func (f *fakeRPC) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 0, nil
}

func (f *fakeRPC) SuggestGasPrice(ctx context.Context) (*big.Int, error) { return big.NewInt(1), nil }

func (f *fakeRPC) SubscribeFilterLogs(ctx context.Context, q gethereum.FilterQuery, ch chan<- types.Log) (gethereum.Subscription, error) {
	return nil, nil
}

func (f *fakeRPC) FilterLogs(ctx context.Context, q gethereum.FilterQuery) ([]types.Log, error) {
	return nil, nil
}

func testGateway(t *testing.T, rpc *fakeRPC) *contractgw.Gateway {
	t.Helper()
	reg, err := chainreg.New([]chainreg.Chain{{ChainID: 84532, RPCURL: "local"}})
	if err != nil {
		t.Fatalf("chainreg.New: %v", err)
	}
	return contractgw.New(reg, func(ctx context.Context, rpcURL string) (contractgw.RPCClient, error) {
		return rpc, nil
	}, contractgw.DefaultRetryPolicy())
}

func fakeSigner(priv *ecdsa.PrivateKey, host chainmodel.Address, modelIDs []chainmodel.ModelID, minNative, minStable uint64) ([65]byte, error) {
	var sig [65]byte
	sig[64] = 27
	return sig, nil
}

func TestHostRegistrar_RegisterAll_RecordsStatus(t *testing.T) {
	priv, _ := crypto.GenerateKey()
	rpc := &fakeRPC{activeSeq: []bool{true}}
	gw := testGateway(t, rpc)
	var host chainmodel.Address
	copy(host[:], crypto.PubkeyToAddress(priv.PublicKey).Bytes())

	r := New(gw, priv, host, fakeSigner, DefaultConfig())
	caps := Capabilities{SupportedModelIDs: []chainmodel.ModelID{{1}}, MinPricePerTokenNative: 2000}
	r.RegisterAll(context.Background(), []uint64{84532}, caps)

	snap := r.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected 1 status entry, got %d", len(snap))
	}
	if !snap[0].Online {
		t.Fatalf("expected status Online after successful registration")
	}
	if rpc.sends != 1 {
		t.Fatalf("expected exactly 1 registration transaction, got %d", rpc.sends)
	}
}

func TestHostRegistrar_Heartbeat_ReregistersWhenInactive(t *testing.T) {
	priv, _ := crypto.GenerateKey()
	// The heartbeat's isActiveNode check reports inactive, triggering a
	// re-register, which sends a new transaction.
	rpc := &fakeRPC{activeSeq: []bool{false}}
	gw := testGateway(t, rpc)
	var host chainmodel.Address
	copy(host[:], crypto.PubkeyToAddress(priv.PublicKey).Bytes())

	r := New(gw, priv, host, fakeSigner, DefaultConfig())
	caps := Capabilities{SupportedModelIDs: []chainmodel.ModelID{{2}}, MinPricePerTokenNative: 500}
	r.RegisterAll(context.Background(), []uint64{84532}, caps)
	if rpc.sends != 1 {
		t.Fatalf("expected 1 send after initial registration, got %d", rpc.sends)
	}

	r.heartbeatOnce(context.Background())
	if rpc.sends != 2 {
		t.Fatalf("expected heartbeat to re-register on inactive status, got %d sends", rpc.sends)
	}
}

func TestHostRegistrar_UpdateCapabilities_NoOpWhenUnchanged(t *testing.T) {
	priv, _ := crypto.GenerateKey()
	rpc := &fakeRPC{activeSeq: []bool{true}}
	gw := testGateway(t, rpc)
	var host chainmodel.Address
	copy(host[:], crypto.PubkeyToAddress(priv.PublicKey).Bytes())

	r := New(gw, priv, host, fakeSigner, DefaultConfig())
	caps := Capabilities{SupportedModelIDs: []chainmodel.ModelID{{3}}, MinPricePerTokenNative: 10}
	r.RegisterAll(context.Background(), []uint64{84532}, caps)

	if err := r.UpdateCapabilities(context.Background(), 84532, caps); err != nil {
		t.Fatalf("UpdateCapabilities: %v", err)
	}
	if rpc.sends != 1 {
		t.Fatalf("expected no additional send for unchanged capabilities, got %d", rpc.sends)
	}

	changed := caps
	changed.MinPricePerTokenNative = 20
	if err := r.UpdateCapabilities(context.Background(), 84532, changed); err != nil {
		t.Fatalf("UpdateCapabilities: %v", err)
	}
	if rpc.sends != 2 {
		t.Fatalf("expected a new send for drifted capabilities, got %d", rpc.sends)
	}
}

func TestHostRegistrar_StartStop(t *testing.T) {
	priv, _ := crypto.GenerateKey()
	rpc := &fakeRPC{activeSeq: []bool{true}}
	gw := testGateway(t, rpc)
	var host chainmodel.Address
	copy(host[:], crypto.PubkeyToAddress(priv.PublicKey).Bytes())

	cfg := DefaultConfig()
	cfg.HeartbeatInterval = time.Millisecond
	r := New(gw, priv, host, fakeSigner, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)
	time.Sleep(5 * time.Millisecond)
	cancel()
	r.Stop()
}
