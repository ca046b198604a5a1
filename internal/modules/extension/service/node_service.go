package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"ucx/internal/modules/extension/domain"
	extout "ucx/internal/modules/extension/port/out"
)

var errAlreadyRunning = errors.New("node is already running")

type runtimeState struct {
	transport extout.RuntimeTransport
	cancel    context.CancelFunc
}

// NodeService owns the node lifecycle. It starts the transport, binds the
// discovery and executor services to the running instance, attaches the
// publisher's stream handlers, and tears everything down in reverse order.
type NodeService struct {
	transport extout.Transport
	start     extout.TransportStartInput
	registry  *RegistryService
	discovery *DiscoveryService
	executor  *ExecutorService
	publisher *PublisherService
	logger    *slog.Logger

	mu      sync.RWMutex
	runtime *runtimeState
}

func NewNodeService(
	transport extout.Transport,
	start extout.TransportStartInput,
	registry *RegistryService,
	discovery *DiscoveryService,
	executor *ExecutorService,
	publisher *PublisherService,
	logger *slog.Logger,
) *NodeService {
	if logger == nil {
		logger = slog.Default()
	}
	return &NodeService{
		transport: transport,
		start:     start,
		registry:  registry,
		discovery: discovery,
		executor:  executor,
		publisher: publisher,
		logger:    logger,
	}
}

// Start brings the node online: persisted state first, then the transport,
// then event wiring, then the publisher, then a bootstrap scan of peers the
// transport already knows.
func (s *NodeService) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.runtime != nil {
		s.mu.Unlock()
		return errAlreadyRunning
	}
	s.mu.Unlock()

	if err := s.registry.Load(ctx); err != nil {
		return err
	}
	if err := s.publisher.Load(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	rt, err := s.transport.Start(runCtx, s.start, extout.TransportHandlers{
		OnCapabilities: func(peerID string, protocols []string) {
			s.discovery.HandleCapabilities(context.Background(), peerID, protocols)
		},
		OnDisconnect: func(peerID string) {
			s.discovery.HandleDisconnect(context.Background(), peerID)
		},
	})
	if err != nil {
		cancel()
		return err
	}

	s.discovery.Bind(rt)
	s.executor.Bind(rt)
	s.publisher.Attach(runCtx, rt)

	if announcer := rt.Announcer(); announcer != nil {
		if err := announcer.Subscribe(runCtx, func(peerID string, manifest domain.Manifest) {
			s.discovery.HandleAnnounce(context.Background(), peerID, manifest)
		}); err != nil {
			s.logger.Warn("announce subscription failed, relying on capability discovery only", "error", err)
		}
	}

	s.mu.Lock()
	s.runtime = &runtimeState{transport: rt, cancel: cancel}
	s.mu.Unlock()

	s.logger.Info("node online", "peer", rt.LocalPeerID(), "addrs", rt.ListenAddrs())
	s.discovery.Bootstrap(ctx)
	return nil
}

// Stop tears the node down. Safe to call when not running.
func (s *NodeService) Stop() error {
	s.mu.Lock()
	rt := s.runtime
	s.runtime = nil
	s.mu.Unlock()
	if rt == nil {
		return nil
	}

	s.publisher.Detach()
	s.discovery.Bind(nil)
	s.executor.Bind(nil)
	rt.cancel()
	err := rt.transport.Stop()
	s.logger.Info("node stopped")
	return err
}

// Run keeps the node online until the context is canceled.
func (s *NodeService) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return s.Stop()
}

// ScanFor runs the node for a bounded window so one-shot commands can
// observe the network before acting.
func (s *NodeService) ScanFor(ctx context.Context, window time.Duration) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	timer := time.NewTimer(window)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
	return s.Stop()
}

// Running reports whether the transport is up.
func (s *NodeService) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runtime != nil
}

// LocalPeerID returns the running node's peer identity, or empty when
// offline.
func (s *NodeService) LocalPeerID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.runtime == nil {
		return ""
	}
	return s.runtime.transport.LocalPeerID()
}

// ListenAddrs returns the running node's listen addresses.
func (s *NodeService) ListenAddrs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.runtime == nil {
		return nil
	}
	return s.runtime.transport.ListenAddrs()
}
