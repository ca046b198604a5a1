package out

import (
	"context"
	"io"
	"time"

	"ucx/internal/modules/extension/domain"
)

// Stream is one bidirectional exchange with a peer. Close is best-effort;
// Reset tears the stream down unconditionally when a graceful close hangs.
type Stream interface {
	io.ReadWriteCloser
	CloseWrite() error
	Reset() error
	SetDeadline(t time.Time) error
}

// StreamHandler serves one inbound stream opened by a remote peer.
type StreamHandler func(peerID string, stream Stream)

// Transport is the peer-to-peer session layer, consumed as an opaque
// capability: open a stream to a peer for a protocol string, and learn which
// protocol strings peers support.
type Transport interface {
	Start(ctx context.Context, input TransportStartInput, handlers TransportHandlers) (RuntimeTransport, error)
}

type TransportStartInput struct {
	ListenAddrs     []string
	IdentityKeyPath string
	BootstrapPeers  []string
	EnableAnnounce  bool
}

// TransportHandlers receive transport-level events. OnCapabilities fires when
// a peer's advertised protocol set becomes known or changes; OnDisconnect
// when a peer's last connection drops.
type TransportHandlers struct {
	OnCapabilities func(peerID string, protocols []string)
	OnDisconnect   func(peerID string)
}

type RuntimeTransport interface {
	// OpenStream opens a direct stream to the peer for the given protocol
	// identifier, honoring the context deadline.
	OpenStream(ctx context.Context, peerID, protocolID string) (Stream, error)

	// PeersWithPrefix enumerates already-known peers whose advertised
	// protocols match the prefix, so discovery does not miss extensions
	// offered before it attached its listener.
	PeersWithPrefix(prefix string) map[string][]string

	// RegisterHandler serves inbound streams for a protocol identifier.
	RegisterHandler(protocolID string, handler StreamHandler)
	UnregisterHandler(protocolID string)

	// Announcer returns the broadcast announcement channel, or nil when
	// announcements are disabled.
	Announcer() Announcer

	LocalPeerID() string
	ListenAddrs() []string
	Stop() error
}

// Announcer is the broadcast messaging substrate: publish an extension
// announcement to all subscribers, and receive announcements published by
// other peers with the sender attested by the transport.
type Announcer interface {
	Announce(ctx context.Context, manifest domain.Manifest) error
	Subscribe(ctx context.Context, onAnnounce func(peerID string, manifest domain.Manifest)) error
	Close() error
}

// StateStore persists the installed-extension map across restarts under one
// well-known key. Offers are never persisted; discovery rebuilds them.
type StateStore interface {
	SaveInstalled(ctx context.Context, installed map[string]domain.Installed) error
	LoadInstalled(ctx context.Context) (map[string]domain.Installed, error)
}

// PublishedStore lists the extensions this node publishes.
type PublishedStore interface {
	Load(ctx context.Context) ([]domain.Published, error)
}

// BackendHost speaks to a local extension backend executable.
type BackendHost interface {
	// Describe asks the backend for its manifest, as a lifecycle check.
	Describe(ctx context.Context, binary string) (domain.Manifest, error)

	// Invoke runs one command against the backend.
	Invoke(ctx context.Context, binary string, req domain.CommandRequest) (domain.CommandResponse, error)
}
