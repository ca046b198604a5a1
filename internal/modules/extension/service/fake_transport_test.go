package service_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"ucx/internal/modules/extension/domain"
	extout "ucx/internal/modules/extension/port/out"
)

// scriptedStream buffers writes and materializes the scripted response once
// the writer side is closed, mimicking one request/response exchange.
type scriptedStream struct {
	respond func(request []byte) ([]byte, error)

	mu       sync.Mutex
	request  bytes.Buffer
	response *bytes.Reader
	failed   error
}

func (s *scriptedStream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.request.Write(p)
}

func (s *scriptedStream) CloseWrite() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.response != nil || s.failed != nil {
		return nil
	}
	raw, err := s.respond(s.request.Bytes())
	if err != nil {
		s.failed = err
		return nil
	}
	s.response = bytes.NewReader(raw)
	return nil
}

func (s *scriptedStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed != nil {
		return 0, s.failed
	}
	if s.response == nil {
		return 0, io.ErrUnexpectedEOF
	}
	return s.response.Read(p)
}

func (s *scriptedStream) Close() error               { return nil }
func (s *scriptedStream) Reset() error               { return nil }
func (s *scriptedStream) SetDeadline(time.Time) error { return nil }

// fakeRuntime is an in-memory RuntimeTransport. Each peer gets a responder
// function; opening a stream to a peer without one fails like an unreachable
// peer would.
type fakeRuntime struct {
	mu         sync.Mutex
	responders map[string]func(request []byte) ([]byte, error)
	known      map[string][]string
	handlers   map[string]extout.StreamHandler
	opened     []string
	announcer  extout.Announcer
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		responders: map[string]func([]byte) ([]byte, error){},
		known:      map[string][]string{},
		handlers:   map[string]extout.StreamHandler{},
	}
}

func (f *fakeRuntime) respondWith(peerID string, fn func(request []byte) ([]byte, error)) {
	f.mu.Lock()
	f.responders[peerID] = fn
	f.mu.Unlock()
}

func (f *fakeRuntime) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.opened)
}

func (f *fakeRuntime) openedPeers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.opened...)
}

func (f *fakeRuntime) OpenStream(_ context.Context, peerID, _ string) (extout.Stream, error) {
	f.mu.Lock()
	f.opened = append(f.opened, peerID)
	responder, ok := f.responders[peerID]
	f.mu.Unlock()
	if !ok {
		return nil, errors.New("peer unreachable")
	}
	return &scriptedStream{respond: responder}, nil
}

func (f *fakeRuntime) PeersWithPrefix(prefix string) map[string][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string][]string{}
	for peerID, protocols := range f.known {
		matched := make([]string, 0, len(protocols))
		for _, p := range protocols {
			if len(p) >= len(prefix) && p[:len(prefix)] == prefix {
				matched = append(matched, p)
			}
		}
		if len(matched) > 0 {
			out[peerID] = matched
		}
	}
	return out
}

func (f *fakeRuntime) RegisterHandler(protocolID string, handler extout.StreamHandler) {
	f.mu.Lock()
	f.handlers[protocolID] = handler
	f.mu.Unlock()
}

func (f *fakeRuntime) UnregisterHandler(protocolID string) {
	f.mu.Lock()
	delete(f.handlers, protocolID)
	f.mu.Unlock()
}

func (f *fakeRuntime) Announcer() extout.Announcer { return f.announcer }
func (f *fakeRuntime) LocalPeerID() string         { return "local-peer" }
func (f *fakeRuntime) ListenAddrs() []string       { return []string{"/ip4/127.0.0.1/tcp/0"} }
func (f *fakeRuntime) Stop() error                 { return nil }

// manifestResponder serves a fixed manifest for any request.
func manifestResponder(manifest domain.Manifest) func([]byte) ([]byte, error) {
	return func([]byte) ([]byte, error) {
		buf := &bytes.Buffer{}
		err := domain.WriteMessage(buf, domain.ManifestResponse{Kind: domain.KindManifest, Manifest: manifest})
		return buf.Bytes(), err
	}
}

// commandResponder decodes the incoming command request and builds a reply
// from it, so tests can echo or corrupt the correlation id.
func commandResponder(reply func(req *domain.CommandRequest) domain.CommandResponse) func([]byte) ([]byte, error) {
	return func(raw []byte) ([]byte, error) {
		msg, err := domain.ReadRequest(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		req, ok := msg.(*domain.CommandRequest)
		if !ok {
			return nil, errors.New("expected a command request")
		}
		buf := &bytes.Buffer{}
		if err := domain.WriteMessage(buf, reply(req)); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
}
