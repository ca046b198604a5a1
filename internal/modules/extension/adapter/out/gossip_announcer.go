package out

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/fxamacker/cbor/v2"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"

	"ucx/internal/modules/extension/domain"
	extout "ucx/internal/modules/extension/port/out"
)

// announceTopic carries extension announcements: one CBOR-encoded manifest
// per message, sender attested by the pubsub layer.
const announceTopic = "ucx.extensions.announce"

type gossipAnnouncer struct {
	self   string
	topic  *pubsub.Topic
	logger *slog.Logger

	mu     sync.Mutex
	sub    *pubsub.Subscription
	closed bool
}

func newGossipAnnouncer(ctx context.Context, h host.Host, logger *slog.Logger) (extout.Announcer, error) {
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		return nil, fmt.Errorf("start gossipsub: %w", err)
	}
	topic, err := ps.Join(announceTopic)
	if err != nil {
		return nil, fmt.Errorf("join announce topic: %w", err)
	}
	return &gossipAnnouncer{self: h.ID().String(), topic: topic, logger: logger}, nil
}

func (a *gossipAnnouncer) Announce(ctx context.Context, manifest domain.Manifest) error {
	payload, err := cbor.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("encode announcement: %w", err)
	}
	return a.topic.Publish(ctx, payload)
}

func (a *gossipAnnouncer) Subscribe(ctx context.Context, onAnnounce func(peerID string, manifest domain.Manifest)) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return errors.New("announcer is closed")
	}
	if a.sub != nil {
		a.mu.Unlock()
		return errors.New("already subscribed")
	}
	sub, err := a.topic.Subscribe()
	if err != nil {
		a.mu.Unlock()
		return fmt.Errorf("subscribe to announce topic: %w", err)
	}
	a.sub = sub
	a.mu.Unlock()

	go func() {
		for {
			msg, err := sub.Next(ctx)
			if err != nil {
				return
			}
			from := msg.GetFrom().String()
			if from == a.self {
				continue
			}
			manifest := domain.Manifest{}
			if err := cbor.Unmarshal(msg.Data, &manifest); err != nil {
				a.logger.Debug("dropping undecodable announcement", "peer", from, "error", err)
				continue
			}
			onAnnounce(from, manifest)
		}
	}()
	return nil
}

func (a *gossipAnnouncer) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	if a.sub != nil {
		a.sub.Cancel()
		a.sub = nil
	}
	return a.topic.Close()
}
