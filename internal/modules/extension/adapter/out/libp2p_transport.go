package out

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	libp2p "github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/event"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/multiformats/go-multiaddr"

	extout "ucx/internal/modules/extension/port/out"
)

const bootstrapDialTimeout = 10 * time.Second

var defaultListenAddrs = []string{"/ip4/0.0.0.0/tcp/0", "/ip6/::/tcp/0"}

type Libp2pTransport struct {
	logger *slog.Logger
}

func NewLibp2pTransport(logger *slog.Logger) extout.Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Libp2pTransport{logger: logger}
}

type libp2pRuntime struct {
	host     host.Host
	handlers extout.TransportHandlers
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.RWMutex
	announcer extout.Announcer
	stopOnce  sync.Once
	stopErr   error
}

func (t *Libp2pTransport) Start(ctx context.Context, input extout.TransportStartInput, handlers extout.TransportHandlers) (extout.RuntimeTransport, error) {
	privKey, err := loadOrCreateIdentity(input.IdentityKeyPath)
	if err != nil {
		return nil, err
	}
	listen := input.ListenAddrs
	if len(listen) == 0 {
		listen = defaultListenAddrs
	}
	h, err := libp2p.New(
		libp2p.Identity(privKey),
		libp2p.ListenAddrStrings(listen...),
	)
	if err != nil {
		return nil, fmt.Errorf("start libp2p host: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	r := &libp2pRuntime{
		host:     h,
		handlers: handlers,
		logger:   t.logger,
		ctx:      runCtx,
		cancel:   cancel,
	}

	if err := r.watchProtocolEvents(); err != nil {
		cancel()
		_ = h.Close()
		return nil, err
	}
	r.watchDisconnects()

	if input.EnableAnnounce {
		announcer, annErr := newGossipAnnouncer(runCtx, h, t.logger)
		if annErr != nil {
			cancel()
			_ = h.Close()
			return nil, annErr
		}
		r.announcer = announcer
	}

	go r.dialBootstrapPeers(input.BootstrapPeers)

	go func() {
		<-runCtx.Done()
		_ = r.Stop()
	}()
	return r, nil
}

// watchProtocolEvents feeds identify results and later protocol-set changes
// to the capability handler. The peerstore is the source of truth for the
// full set, so both event kinds resolve through it.
func (r *libp2pRuntime) watchProtocolEvents() error {
	sub, err := r.host.EventBus().Subscribe([]any{
		new(event.EvtPeerIdentificationCompleted),
		new(event.EvtPeerProtocolsUpdated),
	})
	if err != nil {
		return fmt.Errorf("subscribe to peer events: %w", err)
	}
	go func() {
		defer sub.Close()
		for {
			select {
			case <-r.ctx.Done():
				return
			case evt, ok := <-sub.Out():
				if !ok {
					return
				}
				switch e := evt.(type) {
				case event.EvtPeerIdentificationCompleted:
					r.emitCapabilities(e.Peer)
				case event.EvtPeerProtocolsUpdated:
					r.emitCapabilities(e.Peer)
				}
			}
		}
	}()
	return nil
}

func (r *libp2pRuntime) emitCapabilities(pid peer.ID) {
	if r.handlers.OnCapabilities == nil || pid == r.host.ID() {
		return
	}
	protocols, err := r.host.Peerstore().GetProtocols(pid)
	if err != nil {
		r.logger.Debug("reading peer protocols failed", "peer", pid.String(), "error", err)
		return
	}
	out := make([]string, 0, len(protocols))
	for _, p := range protocols {
		out = append(out, string(p))
	}
	r.handlers.OnCapabilities(pid.String(), out)
}

func (r *libp2pRuntime) watchDisconnects() {
	r.host.Network().Notify(&network.NotifyBundle{
		DisconnectedF: func(n network.Network, conn network.Conn) {
			pid := conn.RemotePeer()
			// Only the last connection dropping counts as a disconnect.
			if n.Connectedness(pid) == network.Connected {
				return
			}
			if r.handlers.OnDisconnect != nil {
				r.handlers.OnDisconnect(pid.String())
			}
		},
	})
}

func (r *libp2pRuntime) dialBootstrapPeers(addrs []string) {
	for _, raw := range addrs {
		addr, err := multiaddr.NewMultiaddr(raw)
		if err != nil {
			r.logger.Warn("skipping invalid bootstrap address", "addr", raw, "error", err)
			continue
		}
		info, err := peer.AddrInfoFromP2pAddr(addr)
		if err != nil {
			r.logger.Warn("skipping bootstrap address without peer id", "addr", raw, "error", err)
			continue
		}
		r.host.Peerstore().AddAddrs(info.ID, info.Addrs, peerstore.PermanentAddrTTL)
		dialCtx, cancel := context.WithTimeout(r.ctx, bootstrapDialTimeout)
		if err := r.host.Connect(dialCtx, *info); err != nil {
			r.logger.Warn("bootstrap dial failed", "peer", info.ID.String(), "error", err)
		}
		cancel()
	}
}

func (r *libp2pRuntime) OpenStream(ctx context.Context, peerID, protocolID string) (extout.Stream, error) {
	pid, err := peer.Decode(peerID)
	if err != nil {
		return nil, fmt.Errorf("decode peer id: %w", err)
	}
	stream, err := r.host.NewStream(ctx, pid, protocol.ID(protocolID))
	if err != nil {
		return nil, fmt.Errorf("open stream to %s: %w", peerID, err)
	}
	return stream, nil
}

func (r *libp2pRuntime) PeersWithPrefix(prefix string) map[string][]string {
	out := map[string][]string{}
	for _, pid := range r.host.Peerstore().Peers() {
		if pid == r.host.ID() {
			continue
		}
		protocols, err := r.host.Peerstore().GetProtocols(pid)
		if err != nil {
			continue
		}
		matched := make([]string, 0, len(protocols))
		for _, p := range protocols {
			if strings.HasPrefix(string(p), prefix) {
				matched = append(matched, string(p))
			}
		}
		if len(matched) > 0 {
			out[pid.String()] = matched
		}
	}
	return out
}

func (r *libp2pRuntime) RegisterHandler(protocolID string, handler extout.StreamHandler) {
	r.host.SetStreamHandler(protocol.ID(protocolID), func(stream network.Stream) {
		handler(stream.Conn().RemotePeer().String(), stream)
	})
}

func (r *libp2pRuntime) UnregisterHandler(protocolID string) {
	r.host.RemoveStreamHandler(protocol.ID(protocolID))
}

func (r *libp2pRuntime) Announcer() extout.Announcer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.announcer
}

func (r *libp2pRuntime) LocalPeerID() string {
	return r.host.ID().String()
}

func (r *libp2pRuntime) ListenAddrs() []string {
	out := make([]string, 0, len(r.host.Addrs()))
	for _, addr := range r.host.Addrs() {
		full := addr.Encapsulate(multiaddr.StringCast("/p2p/" + r.host.ID().String()))
		out = append(out, full.String())
	}
	return out
}

func (r *libp2pRuntime) Stop() error {
	r.stopOnce.Do(func() {
		r.cancel()
		r.mu.Lock()
		announcer := r.announcer
		r.announcer = nil
		r.mu.Unlock()
		if announcer != nil {
			_ = announcer.Close()
		}
		r.stopErr = r.host.Close()
	})
	return r.stopErr
}

// loadOrCreateIdentity reads the node's private key, generating and saving a
// fresh ed25519 key on first start so the peer id is stable across runs.
func loadOrCreateIdentity(path string) (crypto.PrivKey, error) {
	if path == "" {
		priv, _, err := crypto.GenerateEd25519Key(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate identity key: %w", err)
		}
		return priv, nil
	}
	raw, err := os.ReadFile(path)
	if err == nil {
		priv, unmarshalErr := crypto.UnmarshalPrivateKey(raw)
		if unmarshalErr != nil {
			return nil, fmt.Errorf("unmarshal identity key %s: %w", path, unmarshalErr)
		}
		return priv, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read identity key: %w", err)
	}

	priv, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate identity key: %w", err)
	}
	raw, err = crypto.MarshalPrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("marshal identity key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create identity key dir: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return nil, fmt.Errorf("write identity key: %w", err)
	}
	return priv, nil
}
