package discovery

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/synnergy/hostnode/internal/chainmodel"
)

// fakePubSub is an in-process broadcast bus: every Publish fans out to
// every still-subscribed channel, mirroring a single-process gossipsub mesh
// of one topic without needing real libp2p hosts (core/network_test.go's
// style of exercising behavior through a minimal local fake rather than a
// live network).
type fakePubSub struct {
	mu   sync.Mutex
	subs map[int]chan []byte
	next int
}

func newFakePubSub() *fakePubSub { return &fakePubSub{subs: make(map[int]chan []byte)} }

func (f *fakePubSub) Publish(ctx context.Context, topic string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		select {
		case ch <- data:
		default:
		}
	}
	return nil
}

func (f *fakePubSub) Subscribe(topic string) (<-chan []byte, func(), error) {
	f.mu.Lock()
	id := f.next
	f.next++
	ch := make(chan []byte, 8)
	f.subs[id] = ch
	f.mu.Unlock()
	return ch, func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}, nil
}

func TestPeerTable_GetExpiresAfterTTL(t *testing.T) {
	table := NewPeerTable(10 * time.Millisecond)
	a := Announcement{Address: chainmodel.Address{1}, ChainID: 84532}
	table.put(a)

	if _, ok := table.Get(84532, a.Address); !ok {
		t.Fatalf("expected fresh entry to be present")
	}
	time.Sleep(20 * time.Millisecond)
	if _, ok := table.Get(84532, a.Address); ok {
		t.Fatalf("expected expired entry to be absent")
	}
}

func TestWatcher_PublishSelf_IsReceivedByPeer(t *testing.T) {
	bus := newFakePubSub()
	tableA := NewPeerTable(time.Minute)
	tableB := NewPeerTable(time.Minute)
	watcherA := NewWatcher(bus, tableA)
	watcherB := NewWatcher(bus, tableB)

	self := Announcement{
		Address:         chainmodel.Address{9},
		ChainID:         84532,
		SupportedModels: []chainmodel.ModelID{{7}},
		MinPriceNative:  2000,
	}
	watcherA.SetSelf(self)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := watcherA.Start(ctx, 5*time.Millisecond); err != nil {
		t.Fatalf("watcherA.Start: %v", err)
	}
	if err := watcherB.Start(ctx, time.Hour); err != nil { // B never announces itself
		t.Fatalf("watcherB.Start: %v", err)
	}
	defer watcherA.Stop()
	defer watcherB.Stop()

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if got, ok := tableB.Get(84532, self.Address); ok {
			if got.MinPriceNative != 2000 {
				t.Fatalf("expected MinPriceNative=2000, got %d", got.MinPriceNative)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("peer B never observed A's announcement within deadline")
}

func TestPeerTable_Peers_FiltersByChain(t *testing.T) {
	table := NewPeerTable(time.Minute)
	table.put(Announcement{Address: chainmodel.Address{1}, ChainID: 1})
	table.put(Announcement{Address: chainmodel.Address{2}, ChainID: 2})

	got := table.Peers(1)
	if len(got) != 1 || got[0].ChainID != 1 {
		t.Fatalf("expected 1 peer on chain 1, got %v", got)
	}
}
