package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"ucx/internal/modules/extension/domain"
	extout "ucx/internal/modules/extension/port/out"
	"ucx/internal/platform/clock"
)

// DiscoveryService turns transport-level capability sightings into registry
// offers. It never errors outward: a peer with a broken capability string, an
// unreachable manifest endpoint, or a lying manifest is logged and skipped.
type DiscoveryService struct {
	registry *RegistryService
	clk      clock.Clock
	logger   *slog.Logger

	mu      sync.RWMutex
	runtime extout.RuntimeTransport
}

func NewDiscoveryService(registry *RegistryService, clk clock.Clock, logger *slog.Logger) *DiscoveryService {
	if logger == nil {
		logger = slog.Default()
	}
	return &DiscoveryService{registry: registry, clk: clk, logger: logger}
}

// Bind attaches the running transport. Must be called before any capability
// event is delivered.
func (s *DiscoveryService) Bind(runtime extout.RuntimeTransport) {
	s.mu.Lock()
	s.runtime = runtime
	s.mu.Unlock()
}

func (s *DiscoveryService) transport() extout.RuntimeTransport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runtime
}

// Bootstrap scans peers the transport already knows about, so extensions
// advertised before our listener attached are not missed.
func (s *DiscoveryService) Bootstrap(ctx context.Context) {
	runtime := s.transport()
	if runtime == nil {
		return
	}
	for peerID, protocols := range runtime.PeersWithPrefix(domain.CapabilityPrefix) {
		s.HandleCapabilities(ctx, peerID, protocols)
	}
}

// HandleCapabilities processes one peer's advertised protocol set. Extension
// capabilities for unknown extensions trigger a manifest fetch; known ones
// just gain a peer.
func (s *DiscoveryService) HandleCapabilities(ctx context.Context, peerID string, protocols []string) {
	localID := ""
	if runtime := s.transport(); runtime != nil {
		localID = runtime.LocalPeerID()
	}
	if peerID == localID {
		return
	}
	for _, protocolID := range protocols {
		extensionID, _, ok := domain.ParseCapabilityID(protocolID)
		if !ok {
			continue
		}
		if s.registry.TrackPeer(ctx, extensionID, peerID) {
			continue
		}
		s.fetchAndRecord(ctx, peerID, protocolID, extensionID)
	}
}

// HandleAnnounce processes a broadcast announcement carrying a full manifest,
// skipping the stream round trip entirely.
func (s *DiscoveryService) HandleAnnounce(ctx context.Context, peerID string, manifest domain.Manifest) {
	if runtime := s.transport(); runtime != nil && peerID == runtime.LocalPeerID() {
		return
	}
	if s.registry.TrackPeer(ctx, manifest.ID, peerID) {
		return
	}
	s.registry.RecordOffer(ctx, peerID, manifest)
}

// HandleDisconnect sweeps the departed peer out of every offer and
// installation.
func (s *DiscoveryService) HandleDisconnect(ctx context.Context, peerID string) {
	s.registry.PeerDisconnected(ctx, peerID)
}

// fetchAndRecord performs the manifest exchange on the capability protocol.
// Any failure abandons this peer's offer silently.
func (s *DiscoveryService) fetchAndRecord(ctx context.Context, peerID, protocolID, extensionID string) {
	manifest, err := s.fetchManifest(ctx, peerID, protocolID)
	if err != nil {
		s.logger.Warn("manifest fetch failed", "peer", peerID, "protocol", protocolID, "error", err)
		return
	}
	if manifest.ID != extensionID {
		s.logger.Warn("manifest id does not match capability, dropping",
			"peer", peerID, "capability", extensionID, "manifest", manifest.ID)
		return
	}
	s.registry.RecordOffer(ctx, peerID, manifest)
}

func (s *DiscoveryService) fetchManifest(ctx context.Context, peerID, protocolID string) (domain.Manifest, error) {
	runtime := s.transport()
	if runtime == nil {
		return domain.Manifest{}, domain.ErrNodeNotRunning
	}
	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	stream, err := runtime.OpenStream(callCtx, peerID, protocolID)
	if err != nil {
		return domain.Manifest{}, fmt.Errorf("open stream: %w", err)
	}
	defer releaseStream(stream, s.logger)

	deadline, _ := callCtx.Deadline()
	if err := stream.SetDeadline(deadline); err != nil {
		return domain.Manifest{}, fmt.Errorf("set deadline: %w", err)
	}
	req := domain.ManifestRequest{Kind: domain.KindManifest, Timestamp: s.clk.Now().UnixMilli()}
	if err := domain.WriteMessage(stream, req); err != nil {
		return domain.Manifest{}, fmt.Errorf("write request: %w", err)
	}
	if err := stream.CloseWrite(); err != nil {
		return domain.Manifest{}, fmt.Errorf("close write: %w", err)
	}
	resp, err := domain.ReadManifestResponse(stream)
	if err != nil {
		return domain.Manifest{}, fmt.Errorf("read response: %w", err)
	}
	return resp.Manifest, nil
}
