package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"ucx/internal/modules/extension/domain"
	extout "ucx/internal/modules/extension/port/out"
	"ucx/internal/platform/clock"
	"ucx/internal/platform/id"
)

// ExecutorService runs commands against installed extensions with sequential
// peer fallback. Attempts are strictly one at a time so non-idempotent
// commands never run twice, and at most one stream is open per call.
type ExecutorService struct {
	registry *RegistryService
	ids      id.Generator
	clk      clock.Clock
	logger   *slog.Logger

	mu      sync.RWMutex
	runtime extout.RuntimeTransport
}

func NewExecutorService(registry *RegistryService, ids id.Generator, clk clock.Clock, logger *slog.Logger) *ExecutorService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecutorService{registry: registry, ids: ids, clk: clk, logger: logger}
}

// Bind attaches the running transport.
func (s *ExecutorService) Bind(runtime extout.RuntimeTransport) {
	s.mu.Lock()
	s.runtime = runtime
	s.mu.Unlock()
}

func (s *ExecutorService) transport() extout.RuntimeTransport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runtime
}

// Execute tries the installed extension's candidate peers in order and
// returns the first successful payload together with the peer that served it.
// It fails fast when the extension is not installed or has no known peers,
// and otherwise only after every candidate has been tried. A peer that
// answers with success=false counts as a failed attempt and the command is
// retried on the remaining peers, so a non-idempotent command may run on
// more than one peer before Execute returns.
func (s *ExecutorService) Execute(ctx context.Context, extensionID, command string, args []string) (data string, peerID string, err error) {
	runtime := s.transport()
	if runtime == nil {
		return "", "", domain.ErrNodeNotRunning
	}
	ins, ok := s.registry.Get(extensionID)
	if !ok {
		return "", "", fmt.Errorf("%w: %s", domain.ErrNotInstalled, extensionID)
	}
	candidates := ins.CandidatePeers()
	if len(candidates) == 0 {
		return "", "", fmt.Errorf("%w: %s", domain.ErrNoKnownPeers, extensionID)
	}
	protocolID := domain.CapabilityID(extensionID, ins.Manifest.EffectiveVersion())

	failures := make([]domain.PeerFailure, 0, len(candidates))
	for _, candidate := range candidates {
		resp, attemptErr := s.attempt(ctx, runtime, candidate, protocolID, extensionID, command, args)
		if attemptErr != nil {
			s.logger.Warn("command attempt failed", "extension", extensionID, "command", command, "peer", candidate, "error", attemptErr)
			failures = append(failures, domain.PeerFailure{PeerID: candidate, Err: attemptErr})
			continue
		}
		s.registry.MarkSuccess(ctx, extensionID, candidate)
		return resp.Data, candidate, nil
	}
	return "", "", &domain.AllPeersFailedError{ExtensionID: extensionID, Command: command, Failures: failures}
}

// attempt performs one full request/response exchange with one peer. A
// success=false response is this peer's failure, not the call's: a later
// candidate may still hold the state the command needs.
func (s *ExecutorService) attempt(ctx context.Context, runtime extout.RuntimeTransport, peerID, protocolID, extensionID, command string, args []string) (domain.CommandResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	stream, err := runtime.OpenStream(callCtx, peerID, protocolID)
	if err != nil {
		return domain.CommandResponse{}, fmt.Errorf("open stream: %w", err)
	}
	defer releaseStream(stream, s.logger)

	deadline, _ := callCtx.Deadline()
	if err := stream.SetDeadline(deadline); err != nil {
		return domain.CommandResponse{}, fmt.Errorf("set deadline: %w", err)
	}
	req := domain.CommandRequest{
		Kind:        domain.KindCommand,
		RequestID:   s.ids.New(),
		ExtensionID: extensionID,
		Command:     command,
		Args:        args,
		Timestamp:   s.clk.Now().UnixMilli(),
	}
	if err := domain.WriteMessage(stream, req); err != nil {
		return domain.CommandResponse{}, fmt.Errorf("write request: %w", err)
	}
	if err := stream.CloseWrite(); err != nil {
		return domain.CommandResponse{}, fmt.Errorf("close write: %w", err)
	}
	resp, err := domain.ReadCommandResponse(stream)
	if err != nil {
		return domain.CommandResponse{}, fmt.Errorf("read response: %w", err)
	}
	if resp.RequestID != req.RequestID {
		return domain.CommandResponse{}, fmt.Errorf("%w: sent %s, got %s", domain.ErrRequestMismatch, req.RequestID, resp.RequestID)
	}
	if !resp.Success {
		reason := resp.Error
		if reason == "" {
			reason = "remote reported failure without a reason"
		}
		return domain.CommandResponse{}, fmt.Errorf("remote error: %s", reason)
	}
	return resp, nil
}
