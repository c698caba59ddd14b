package discovery

import (
	"context"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
)

// GossipPubSub adapts a real libp2p host + gossipsub router to the PubSub
// interface, grounded directly in the teacher's core/network.go NewNode
// (libp2p.New + pubsub.NewGossipSub) generalized from block/tx gossip to
// host-capability gossip.
type GossipPubSub struct {
	host   host.Host
	router *pubsub.PubSub
	topics map[string]*pubsub.Topic
}

// NewGossipPubSub constructs a libp2p host listening on listenAddr and a
// gossipsub router over it. Callers are responsible for calling Close when
// done; bootstrap peers (if any) should be dialed separately, mirroring
// core/network.go's DialSeed being a distinct step from NewGossipSub.
func NewGossipPubSub(ctx context.Context, listenAddr string) (*GossipPubSub, error) {
	h, err := libp2p.New(libp2p.ListenAddrStrings(listenAddr))
	if err != nil {
		return nil, err
	}
	router, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		return nil, err
	}
	return &GossipPubSub{host: h, router: router, topics: make(map[string]*pubsub.Topic)}, nil
}

// Host exposes the underlying libp2p host, e.g. for DialSeed-style bootstrap
// connections or diagnostics.
func (g *GossipPubSub) Host() host.Host { return g.host }

func (g *GossipPubSub) topic(name string) (*pubsub.Topic, error) {
	if t, ok := g.topics[name]; ok {
		return t, nil
	}
	t, err := g.router.Join(name)
	if err != nil {
		return nil, err
	}
	g.topics[name] = t
	return t, nil
}

// Publish implements PubSub.
func (g *GossipPubSub) Publish(ctx context.Context, topic string, data []byte) error {
	t, err := g.topic(topic)
	if err != nil {
		return err
	}
	return t.Publish(ctx, data)
}

// Subscribe implements PubSub, bridging the pubsub.Subscription's blocking
// Next() into a channel the Watcher's select loop can consume alongside
// ticker events.
func (g *GossipPubSub) Subscribe(topic string) (<-chan []byte, func(), error) {
	t, err := g.topic(topic)
	if err != nil {
		return nil, nil, err
	}
	sub, err := t.Subscribe()
	if err != nil {
		return nil, nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan []byte, 32)
	go func() {
		defer close(out)
		for {
			msg, err := sub.Next(ctx)
			if err != nil {
				return
			}
			if msg.ReceivedFrom == g.host.ID() {
				continue // ignore our own publishes; the Watcher's table never holds this host
			}
			select {
			case out <- msg.Data:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, func() { cancel(); sub.Cancel() }, nil
}

// Close tears down the libp2p host.
func (g *GossipPubSub) Close() error { return g.host.Close() }
