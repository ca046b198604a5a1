package domain

import (
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// Wire message kinds. Responses missing the kind tag are still accepted when
// they structurally contain the expected payload; see the Read functions.
const (
	KindManifest = "manifest"
	KindCommand  = "command"
)

// ManifestRequest asks a publishing peer for an extension's manifest.
type ManifestRequest struct {
	Kind      string `cbor:"kind"`
	Timestamp int64  `cbor:"timestamp"`
}

// ManifestResponse carries the manifest back.
type ManifestResponse struct {
	Kind     string   `cbor:"kind"`
	Manifest Manifest `cbor:"manifest"`
}

// CommandRequest invokes a named command on an extension. RequestID is a
// fresh unique token; the response is matched on it, never on stream
// identity.
type CommandRequest struct {
	Kind        string   `cbor:"kind"`
	RequestID   string   `cbor:"requestId"`
	ExtensionID string   `cbor:"extensionId"`
	Command     string   `cbor:"command"`
	Args        []string `cbor:"args"`
	Timestamp   int64    `cbor:"timestamp"`
}

// CommandResponse is the outcome of a command invocation. Data carries a
// JSON-encoded payload on success; Error carries the remote reason otherwise.
type CommandResponse struct {
	Kind      string `cbor:"kind"`
	RequestID string `cbor:"requestId"`
	Success   bool   `cbor:"success"`
	Data      string `cbor:"data,omitempty"`
	Error     string `cbor:"error,omitempty"`
}

// WriteMessage encodes one wire message onto the stream. CBOR items are
// self-delimiting, so no outer framing is needed.
func WriteMessage(w io.Writer, v any) error {
	if err := cbor.NewEncoder(w).Encode(v); err != nil {
		return fmt.Errorf("encode wire message: %w", err)
	}
	return nil
}

// ReadManifestResponse reads and decodes one manifest response. Decoding is
// a deliberate two-step backward-compatibility shim: the tagged form is tried
// first, then a kind-less message is accepted when it structurally contains a
// manifest (older senders omitted the tag).
func ReadManifestResponse(r io.Reader) (ManifestResponse, error) {
	resp := ManifestResponse{}
	if err := cbor.NewDecoder(r).Decode(&resp); err != nil {
		return ManifestResponse{}, fmt.Errorf("decode manifest response: %w", err)
	}
	if resp.Kind != "" && resp.Kind != KindManifest {
		return ManifestResponse{}, fmt.Errorf("%w: %q", ErrUnexpectedKind, resp.Kind)
	}
	if resp.Kind == "" && resp.Manifest.ID == "" {
		return ManifestResponse{}, fmt.Errorf("%w: untagged message has no manifest", ErrUnexpectedKind)
	}
	return resp, nil
}

// ReadCommandResponse reads and decodes one command response, with the same
// tolerant two-step decode as ReadManifestResponse.
func ReadCommandResponse(r io.Reader) (CommandResponse, error) {
	resp := CommandResponse{}
	if err := cbor.NewDecoder(r).Decode(&resp); err != nil {
		return CommandResponse{}, fmt.Errorf("decode command response: %w", err)
	}
	if resp.Kind != "" && resp.Kind != KindCommand {
		return CommandResponse{}, fmt.Errorf("%w: %q", ErrUnexpectedKind, resp.Kind)
	}
	if resp.Kind == "" && resp.RequestID == "" {
		return CommandResponse{}, fmt.Errorf("%w: untagged message has no command payload", ErrUnexpectedKind)
	}
	return resp, nil
}

// ReadRequest reads one inbound request and returns either a *ManifestRequest
// or a *CommandRequest. Untagged requests are sniffed structurally: anything
// carrying a requestId is a command request, everything else a manifest
// request.
func ReadRequest(r io.Reader) (any, error) {
	raw := cbor.RawMessage{}
	if err := cbor.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	cmd := CommandRequest{}
	if err := cbor.Unmarshal(raw, &cmd); err == nil {
		if cmd.Kind == KindCommand || (cmd.Kind == "" && cmd.RequestID != "") {
			return &cmd, nil
		}
		if cmd.Kind != "" && cmd.Kind != KindManifest {
			return nil, fmt.Errorf("%w: %q", ErrUnexpectedKind, cmd.Kind)
		}
	}
	req := ManifestRequest{}
	if err := cbor.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("decode manifest request: %w", err)
	}
	return &req, nil
}
