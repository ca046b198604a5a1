package service_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"ucx/internal/modules/extension/domain"
	"ucx/internal/modules/extension/service"
	extout "ucx/internal/modules/extension/port/out"
)

// inboundStream simulates a remote peer's request arriving on a handler.
type inboundStream struct {
	in  *bytes.Reader
	mu  sync.Mutex
	out bytes.Buffer
}

func newInboundStream(t *testing.T, msg any) *inboundStream {
	t.Helper()
	buf := &bytes.Buffer{}
	if err := domain.WriteMessage(buf, msg); err != nil {
		t.Fatalf("encode request: %v", err)
	}
	return &inboundStream{in: bytes.NewReader(buf.Bytes())}
}

func (s *inboundStream) Read(p []byte) (int, error) { return s.in.Read(p) }

func (s *inboundStream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out.Write(p)
}

func (s *inboundStream) Close() error                { return nil }
func (s *inboundStream) CloseWrite() error           { return nil }
func (s *inboundStream) Reset() error                { return nil }
func (s *inboundStream) SetDeadline(time.Time) error { return nil }

func (s *inboundStream) responseBytes() *bytes.Reader {
	s.mu.Lock()
	defer s.mu.Unlock()
	return bytes.NewReader(s.out.Bytes())
}

type fakePublishedStore struct {
	records []domain.Published
	err     error
}

func (s *fakePublishedStore) Load(context.Context) ([]domain.Published, error) {
	return s.records, s.err
}

type fakeBackendHost struct {
	mu       sync.Mutex
	invoked  []domain.CommandRequest
	describe func(binary string) (domain.Manifest, error)
	invoke   func(req domain.CommandRequest) (domain.CommandResponse, error)
}

func (h *fakeBackendHost) Describe(_ context.Context, binary string) (domain.Manifest, error) {
	return h.describe(binary)
}

func (h *fakeBackendHost) Invoke(_ context.Context, _ string, req domain.CommandRequest) (domain.CommandResponse, error) {
	h.mu.Lock()
	h.invoked = append(h.invoked, req)
	h.mu.Unlock()
	return h.invoke(req)
}

func newPublisher(t *testing.T, records ...domain.Published) (*service.PublisherService, *fakeBackendHost, *fakeRuntime) {
	t.Helper()
	backend := &fakeBackendHost{
		describe: func(string) (domain.Manifest, error) { return records[0].Manifest, nil },
		invoke: func(req domain.CommandRequest) (domain.CommandResponse, error) {
			return domain.CommandResponse{Success: true, Data: "ran " + req.Command}, nil
		},
	}
	pub := service.NewPublisherService(&fakePublishedStore{records: records}, backend, nil)
	if err := pub.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	rt := newFakeRuntime()
	pub.Attach(context.Background(), rt)
	return pub, backend, rt
}

func publishedSheet() domain.Published {
	return domain.Published{Manifest: manifestFor("sheet"), Binary: "./sheet-backend"}
}

func registeredHandler(t *testing.T, rt *fakeRuntime, protocolID string) extout.StreamHandler {
	t.Helper()
	rt.mu.Lock()
	defer rt.mu.Unlock()
	handler, ok := rt.handlers[protocolID]
	if !ok {
		t.Fatalf("no handler registered for %s (have %v)", protocolID, rt.handlers)
	}
	return handler
}

func TestPublisherServesManifestRequests(t *testing.T) {
	t.Parallel()
	_, _, rt := newPublisher(t, publishedSheet())
	handler := registeredHandler(t, rt, domain.CapabilityID("sheet", "1.0.0"))

	stream := newInboundStream(t, domain.ManifestRequest{Kind: domain.KindManifest, Timestamp: 7})
	handler("peer-a", stream)

	resp, err := domain.ReadManifestResponse(stream.responseBytes())
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if resp.Manifest.ID != "sheet" || len(resp.Manifest.Commands) != 1 {
		t.Fatalf("unexpected manifest: %+v", resp.Manifest)
	}
}

func TestPublisherDelegatesCommandsToBackend(t *testing.T) {
	t.Parallel()
	_, backend, rt := newPublisher(t, publishedSheet())
	handler := registeredHandler(t, rt, domain.CapabilityID("sheet", "1.0.0"))

	stream := newInboundStream(t, domain.CommandRequest{
		Kind:        domain.KindCommand,
		RequestID:   "req-9",
		ExtensionID: "sheet",
		Command:     "run",
		Args:        []string{"doc"},
	})
	handler("peer-a", stream)

	resp, err := domain.ReadCommandResponse(stream.responseBytes())
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if !resp.Success || resp.RequestID != "req-9" || resp.Data != "ran run" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	backend.mu.Lock()
	defer backend.mu.Unlock()
	if len(backend.invoked) != 1 || backend.invoked[0].Command != "run" {
		t.Fatalf("backend not invoked as expected: %+v", backend.invoked)
	}
}

func TestPublisherRejectsUnknownCommand(t *testing.T) {
	t.Parallel()
	_, backend, rt := newPublisher(t, publishedSheet())
	handler := registeredHandler(t, rt, domain.CapabilityID("sheet", "1.0.0"))

	stream := newInboundStream(t, domain.CommandRequest{
		Kind:        domain.KindCommand,
		RequestID:   "req-10",
		ExtensionID: "sheet",
		Command:     "explode",
	})
	handler("peer-a", stream)

	resp, err := domain.ReadCommandResponse(stream.responseBytes())
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if resp.Success || !strings.Contains(resp.Error, "unknown command") {
		t.Fatalf("unexpected response: %+v", resp)
	}
	backend.mu.Lock()
	defer backend.mu.Unlock()
	if len(backend.invoked) != 0 {
		t.Fatal("backend must not run unknown commands")
	}
}

func TestPublisherReportsBackendFailure(t *testing.T) {
	t.Parallel()
	_, backend, rt := newPublisher(t, publishedSheet())
	backend.invoke = func(domain.CommandRequest) (domain.CommandResponse, error) {
		return domain.CommandResponse{}, errors.New("backend crashed")
	}
	handler := registeredHandler(t, rt, domain.CapabilityID("sheet", "1.0.0"))

	stream := newInboundStream(t, domain.CommandRequest{
		Kind:        domain.KindCommand,
		RequestID:   "req-11",
		ExtensionID: "sheet",
		Command:     "run",
	})
	handler("peer-a", stream)

	resp, err := domain.ReadCommandResponse(stream.responseBytes())
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if resp.Success || resp.RequestID != "req-11" || !strings.Contains(resp.Error, "backend failure") {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestPublisherSkipsBackendsFailingSelfDescription(t *testing.T) {
	t.Parallel()
	backend := &fakeBackendHost{
		describe: func(string) (domain.Manifest, error) {
			return domain.Manifest{}, errors.New("binary missing")
		},
	}
	pub := service.NewPublisherService(&fakePublishedStore{records: []domain.Published{publishedSheet()}}, backend, nil)
	if err := pub.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(pub.Published()) != 0 {
		t.Fatal("a backend that cannot describe itself must not publish")
	}
}

func TestPublisherDetachUnregistersHandlers(t *testing.T) {
	t.Parallel()
	pub, _, rt := newPublisher(t, publishedSheet())
	pub.Detach()

	rt.mu.Lock()
	defer rt.mu.Unlock()
	if len(rt.handlers) != 0 {
		t.Fatalf("handlers left registered after detach: %v", rt.handlers)
	}
}
