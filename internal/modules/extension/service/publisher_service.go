package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"ucx/internal/modules/extension/domain"
	extout "ucx/internal/modules/extension/port/out"
)

// backendTimeout bounds one invocation of a local extension backend,
// including subprocess startup.
const backendTimeout = 30 * time.Second

// PublisherService serves this node's own extensions to the network. Each
// published extension gets a stream handler on its capability protocol; the
// handler answers manifest requests directly and delegates command requests
// to the extension's backend executable.
type PublisherService struct {
	store   extout.PublishedStore
	backend extout.BackendHost
	logger  *slog.Logger

	mu        sync.RWMutex
	runtime   extout.RuntimeTransport
	published map[string]domain.Published
}

func NewPublisherService(store extout.PublishedStore, backend extout.BackendHost, logger *slog.Logger) *PublisherService {
	if logger == nil {
		logger = slog.Default()
	}
	return &PublisherService{
		store:     store,
		backend:   backend,
		logger:    logger,
		published: map[string]domain.Published{},
	}
}

// Load reads the published-extension catalog and checks each backend by
// asking it to describe itself. A backend that fails the check is skipped
// with a warning; the rest still publish.
func (s *PublisherService) Load(ctx context.Context) error {
	records, err := s.store.Load(ctx)
	if err != nil {
		return err
	}
	loaded := map[string]domain.Published{}
	for _, record := range records {
		if err := record.Validate(); err != nil {
			s.logger.Warn("skipping invalid published extension", "error", err)
			continue
		}
		checkCtx, cancel := context.WithTimeout(ctx, backendTimeout)
		reported, err := s.backend.Describe(checkCtx, record.Binary)
		cancel()
		if err != nil {
			s.logger.Warn("extension backend failed self-description, skipping",
				"extension", record.Manifest.ID, "binary", record.Binary, "error", err)
			continue
		}
		if reported.ID != record.Manifest.ID {
			s.logger.Warn("backend identity mismatch, skipping",
				"extension", record.Manifest.ID, "reported", reported.ID)
			continue
		}
		loaded[record.Manifest.ID] = record
	}
	s.mu.Lock()
	s.published = loaded
	s.mu.Unlock()
	return nil
}

// Attach registers a handler per published extension and announces each one
// when the broadcast channel is available.
func (s *PublisherService) Attach(ctx context.Context, runtime extout.RuntimeTransport) {
	s.mu.Lock()
	s.runtime = runtime
	records := make([]domain.Published, 0, len(s.published))
	for _, record := range s.published {
		records = append(records, record)
	}
	s.mu.Unlock()

	announcer := runtime.Announcer()
	for _, record := range records {
		protocolID := domain.CapabilityID(record.Manifest.ID, record.Manifest.EffectiveVersion())
		runtime.RegisterHandler(protocolID, s.handlerFor(record))
		s.logger.Info("publishing extension", "extension", record.Manifest.ID, "protocol", protocolID)
		if announcer != nil {
			if err := announcer.Announce(ctx, record.Manifest); err != nil {
				s.logger.Warn("announce failed", "extension", record.Manifest.ID, "error", err)
			}
		}
	}
}

// Detach unregisters all handlers.
func (s *PublisherService) Detach() {
	s.mu.Lock()
	runtime := s.runtime
	records := make([]domain.Published, 0, len(s.published))
	for _, record := range s.published {
		records = append(records, record)
	}
	s.runtime = nil
	s.mu.Unlock()

	if runtime == nil {
		return
	}
	for _, record := range records {
		runtime.UnregisterHandler(domain.CapabilityID(record.Manifest.ID, record.Manifest.EffectiveVersion()))
	}
}

// Published returns the serving catalog.
func (s *PublisherService) Published() []domain.Published {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Published, 0, len(s.published))
	for _, record := range s.published {
		out = append(out, record)
	}
	return out
}

func (s *PublisherService) handlerFor(record domain.Published) extout.StreamHandler {
	return func(peerID string, stream extout.Stream) {
		s.serve(record, peerID, stream)
	}
}

// serve answers exactly one request on the inbound stream. A request that
// cannot be decoded is dropped; a backend failure becomes a success=false
// response so the remote caller can fall over to another peer.
func (s *PublisherService) serve(record domain.Published, peerID string, stream extout.Stream) {
	defer releaseStream(stream, s.logger)
	_ = stream.SetDeadline(time.Now().Add(callTimeout))

	req, err := domain.ReadRequest(stream)
	if err != nil {
		s.logger.Warn("dropping undecodable inbound request", "extension", record.Manifest.ID, "peer", peerID, "error", err)
		return
	}
	switch msg := req.(type) {
	case *domain.ManifestRequest:
		resp := domain.ManifestResponse{Kind: domain.KindManifest, Manifest: record.Manifest}
		if err := domain.WriteMessage(stream, resp); err != nil {
			s.logger.Warn("writing manifest response failed", "peer", peerID, "error", err)
		}
	case *domain.CommandRequest:
		s.serveCommand(record, peerID, stream, msg)
	}
}

func (s *PublisherService) serveCommand(record domain.Published, peerID string, stream extout.Stream, req *domain.CommandRequest) {
	resp := s.runBackend(record, req)
	// Backend work may outlast the read deadline; give the write its own.
	_ = stream.SetDeadline(time.Now().Add(callTimeout))
	if err := domain.WriteMessage(stream, resp); err != nil {
		s.logger.Warn("writing command response failed", "extension", record.Manifest.ID, "peer", peerID, "error", err)
	}
}

func (s *PublisherService) runBackend(record domain.Published, req *domain.CommandRequest) domain.CommandResponse {
	if !record.Manifest.HasCommand(req.Command) {
		return domain.CommandResponse{
			Kind:      domain.KindCommand,
			RequestID: req.RequestID,
			Success:   false,
			Error:     "unknown command: " + req.Command,
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), backendTimeout)
	defer cancel()
	resp, err := s.backend.Invoke(ctx, record.Binary, *req)
	if err != nil {
		s.logger.Warn("extension backend invocation failed",
			"extension", record.Manifest.ID, "command", req.Command, "error", err)
		return domain.CommandResponse{
			Kind:      domain.KindCommand,
			RequestID: req.RequestID,
			Success:   false,
			Error:     "backend failure: " + err.Error(),
		}
	}
	resp.Kind = domain.KindCommand
	resp.RequestID = req.RequestID
	return resp
}
