package contractgw

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/synnergy/hostnode/internal/chainmodel"
	"github.com/synnergy/hostnode/internal/chainreg"
)

type fakeClient struct {
	callErrSeq   []error
	callOut      []byte
	sendErrSeq   []error
	nonce        uint64
	calls        int
	sends        int
}

func (f *fakeClient) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	var err error
	if f.calls < len(f.callErrSeq) {
		err = f.callErrSeq[f.calls]
	}
	f.calls++
	if err != nil {
		return nil, err
	}
	return f.callOut, nil
}

func (f *fakeClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	var err error
	if f.sends < len(f.sendErrSeq) {
		err = f.sendErrSeq[f.sends]
	}
	f.sends++
	return err
}

func (f *fakeClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return f.nonce, nil
}

func (f *fakeClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}

func (f *fakeClient) SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	return nil, errors.New("not implemented in fake")
}

func (f *fakeClient) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return nil, nil
}

func testRegistry(t *testing.T) *chainreg.Registry {
	t.Helper()
	r, err := chainreg.New([]chainreg.Chain{{ChainID: 84532, RPCURL: "http://fake"}})
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestIsActiveNodeHappyPath(t *testing.T) {
	fc := &fakeClient{callOut: mustPackBool(true)}
	gw := New(testRegistry(t), func(ctx context.Context, url string) (RPCClient, error) { return fc, nil }, DefaultRetryPolicy())
	ok, err := gw.IsActiveNode(context.Background(), 84532, chainmodel.Address{})
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected active=true")
	}
}

func TestRetryOnTransientThenSucceed(t *testing.T) {
	fc := &fakeClient{
		callErrSeq: []error{errors.New("connection refused"), errors.New("connection refused")},
		callOut:    mustPackBool(false),
	}
	gw := New(testRegistry(t), func(ctx context.Context, url string) (RPCClient, error) { return fc, nil },
		RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond})
	ok, err := gw.IsActiveNode(context.Background(), 84532, chainmodel.Address{})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if ok {
		t.Fatal("expected active=false per fake output")
	}
	if fc.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", fc.calls)
	}
}

func TestContractRevertIsNotRetried(t *testing.T) {
	fc := &fakeClient{callErrSeq: []error{errors.New("execution reverted: already finalized")}}
	gw := New(testRegistry(t), func(ctx context.Context, url string) (RPCClient, error) { return fc, nil }, DefaultRetryPolicy())
	_, err := gw.IsActiveNode(context.Background(), 84532, chainmodel.Address{})
	if err == nil {
		t.Fatal("expected error")
	}
	if fc.calls != 1 {
		t.Fatalf("revert must not be retried, got %d attempts", fc.calls)
	}
}

func TestSubmitProofOfWorkSerializesNonce(t *testing.T) {
	fc := &fakeClient{nonce: 5}
	gw := New(testRegistry(t), func(ctx context.Context, url string) (RPCClient, error) { return fc, nil }, DefaultRetryPolicy())
	host := chainmodel.Address{}
	var proofHash chainmodel.ProofHash
	var sig [65]byte
	var model chainmodel.ModelID
	for i := 0; i < 3; i++ {
		if _, err := gw.SubmitProofOfWork(context.Background(), 84532, host, big.NewInt(1), big.NewInt(10), proofHash, sig, model, time.Now()); err != nil {
			t.Fatal(err)
		}
	}
	if fc.sends != 3 {
		t.Fatalf("expected 3 sends, got %d", fc.sends)
	}
}

func mustPackBool(v bool) []byte {
	b, err := boolArg().Pack(v)
	if err != nil {
		panic(err)
	}
	return b
}
