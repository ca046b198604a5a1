package service_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"ucx/internal/modules/extension/domain"
	"ucx/internal/modules/extension/service"
	"ucx/internal/platform/id"
)

func newExecutor(t *testing.T) (*service.ExecutorService, *service.RegistryService, *fakeRuntime) {
	t.Helper()
	reg, _, clk := newRegistry(t)
	exec := service.NewExecutorService(reg, id.UUID{}, clk, nil)
	rt := newFakeRuntime()
	exec.Bind(rt)
	return exec, reg, rt
}

func installWithPeers(t *testing.T, reg *service.RegistryService, extensionID string, peers ...string) {
	t.Helper()
	ctx := context.Background()
	for _, peerID := range peers {
		reg.RecordOffer(ctx, peerID, manifestFor(extensionID))
	}
	if _, err := reg.Install(ctx, extensionID); err != nil {
		t.Fatalf("install: %v", err)
	}
}

func echoResponder(data string) func([]byte) ([]byte, error) {
	return commandResponder(func(req *domain.CommandRequest) domain.CommandResponse {
		return domain.CommandResponse{
			Kind:      domain.KindCommand,
			RequestID: req.RequestID,
			Success:   true,
			Data:      data,
		}
	})
}

func TestExecuteFailsFastWhenNotInstalled(t *testing.T) {
	t.Parallel()
	exec, _, rt := newExecutor(t)

	_, _, err := exec.Execute(context.Background(), "ghost", "run", nil)
	if !errors.Is(err, domain.ErrNotInstalled) {
		t.Fatalf("expected ErrNotInstalled, got %v", err)
	}
	if rt.openCount() != 0 {
		t.Fatal("no stream may be opened for an uninstalled extension")
	}
}

func TestExecuteFailsFastWithoutPeers(t *testing.T) {
	t.Parallel()
	exec, reg, rt := newExecutor(t)
	installWithPeers(t, reg, "sheet", "peer-a")
	reg.PeerDisconnected(context.Background(), "peer-a")

	_, _, err := exec.Execute(context.Background(), "sheet", "run", nil)
	if !errors.Is(err, domain.ErrNoKnownPeers) {
		t.Fatalf("expected ErrNoKnownPeers, got %v", err)
	}
	if rt.openCount() != 0 {
		t.Fatal("no stream may be opened when no peers are known")
	}
}

func TestExecuteSuccessMarksPeer(t *testing.T) {
	t.Parallel()
	exec, reg, rt := newExecutor(t)
	installWithPeers(t, reg, "sheet", "peer-a")
	rt.respondWith("peer-a", echoResponder(`{"ok":true}`))

	data, peerID, err := exec.Execute(context.Background(), "sheet", "run", []string{"doc", "A1=25"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if data != `{"ok":true}` || peerID != "peer-a" {
		t.Fatalf("unexpected result: data=%q peer=%q", data, peerID)
	}
	ins, _ := reg.Get("sheet")
	if ins.LastSuccessfulPeerID != "peer-a" {
		t.Fatalf("success not recorded: %+v", ins)
	}
}

func TestExecuteFallsOverToNextPeer(t *testing.T) {
	t.Parallel()
	exec, reg, rt := newExecutor(t)
	installWithPeers(t, reg, "sheet", "peer-a", "peer-b")
	// peer-a has no responder and fails at stream open; peer-b succeeds.
	rt.respondWith("peer-b", echoResponder("served by b"))

	data, peerID, err := exec.Execute(context.Background(), "sheet", "run", nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if data != "served by b" || peerID != "peer-b" {
		t.Fatalf("unexpected result: data=%q peer=%q", data, peerID)
	}

	// The next call must try the last-successful peer first.
	_, _, err = exec.Execute(context.Background(), "sheet", "run", nil)
	if err != nil {
		t.Fatalf("second execute: %v", err)
	}
	opened := rt.openedPeers()
	if opened[len(opened)-1] != "peer-b" {
		t.Fatalf("second call did not lead with last-successful peer: %v", opened)
	}
	if rt.openCount() != 3 {
		t.Fatalf("expected 3 opens (a, b, b), got %d: %v", rt.openCount(), opened)
	}
}

func TestExecuteTreatsRemoteFailureAsPeerFailure(t *testing.T) {
	t.Parallel()
	exec, reg, rt := newExecutor(t)
	installWithPeers(t, reg, "sheet", "peer-a", "peer-b")
	rt.respondWith("peer-a", commandResponder(func(req *domain.CommandRequest) domain.CommandResponse {
		return domain.CommandResponse{Kind: domain.KindCommand, RequestID: req.RequestID, Success: false, Error: "cell locked"}
	}))
	rt.respondWith("peer-b", echoResponder("served by b"))

	data, peerID, err := exec.Execute(context.Background(), "sheet", "run", nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if data != "served by b" || peerID != "peer-b" {
		t.Fatalf("unexpected result: data=%q peer=%q", data, peerID)
	}
}

func TestExecuteRejectsMismatchedRequestID(t *testing.T) {
	t.Parallel()
	exec, reg, rt := newExecutor(t)
	installWithPeers(t, reg, "sheet", "peer-a")
	rt.respondWith("peer-a", commandResponder(func(*domain.CommandRequest) domain.CommandResponse {
		return domain.CommandResponse{Kind: domain.KindCommand, RequestID: "stale-id", Success: true, Data: "bogus"}
	}))

	_, _, err := exec.Execute(context.Background(), "sheet", "run", nil)
	var agg *domain.AllPeersFailedError
	if !errors.As(err, &agg) {
		t.Fatalf("expected aggregate failure, got %v", err)
	}
	if len(agg.Failures) != 1 || !errors.Is(agg.Failures[0].Err, domain.ErrRequestMismatch) {
		t.Fatalf("expected a request mismatch failure, got %+v", agg.Failures)
	}
}

func TestExecuteAggregatesAllFailures(t *testing.T) {
	t.Parallel()
	exec, reg, rt := newExecutor(t)
	installWithPeers(t, reg, "sheet", "peer-a", "peer-b")
	rt.respondWith("peer-b", commandResponder(func(req *domain.CommandRequest) domain.CommandResponse {
		return domain.CommandResponse{Kind: domain.KindCommand, RequestID: req.RequestID, Success: false, Error: "out of range"}
	}))

	_, _, err := exec.Execute(context.Background(), "sheet", "run", nil)
	var agg *domain.AllPeersFailedError
	if !errors.As(err, &agg) {
		t.Fatalf("expected aggregate failure, got %v", err)
	}
	if len(agg.Failures) != 2 {
		t.Fatalf("expected both peers in the aggregate, got %+v", agg.Failures)
	}
	msg := agg.Error()
	if !strings.Contains(msg, "peer-a") || !strings.Contains(msg, "peer-b") || !strings.Contains(msg, "out of range") {
		t.Fatalf("aggregate message missing detail: %q", msg)
	}
}

func TestExecuteRequiresRunningNode(t *testing.T) {
	t.Parallel()
	reg, _, clk := newRegistry(t)
	exec := service.NewExecutorService(reg, id.UUID{}, clk, nil)

	_, _, err := exec.Execute(context.Background(), "sheet", "run", nil)
	if !errors.Is(err, domain.ErrNodeNotRunning) {
		t.Fatalf("expected ErrNodeNotRunning, got %v", err)
	}
}
