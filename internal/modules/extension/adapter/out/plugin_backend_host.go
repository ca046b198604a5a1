package out

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-plugin"

	extrpc "ucx/internal/modules/extension/adapter/out/rpc"
	"ucx/internal/modules/extension/domain"
	extout "ucx/internal/modules/extension/port/out"
)

const backendStartTimeout = 3 * time.Second

// PluginBackendHost runs extension backends as go-plugin subprocesses over
// gRPC, one short-lived process per call.
type PluginBackendHost struct{}

func NewPluginBackendHost() extout.BackendHost {
	return &PluginBackendHost{}
}

func (h *PluginBackendHost) Describe(ctx context.Context, binary string) (domain.Manifest, error) {
	client, closeFn, err := h.connect(binary)
	if err != nil {
		return domain.Manifest{}, err
	}
	defer closeFn()

	callCtx, cancel := callContext(ctx)
	defer cancel()
	manifest, err := client.Describe(callCtx)
	if err != nil {
		return domain.Manifest{}, fmt.Errorf("describe backend: %w", err)
	}
	return manifestFromRPC(manifest), nil
}

func (h *PluginBackendHost) Invoke(ctx context.Context, binary string, req domain.CommandRequest) (domain.CommandResponse, error) {
	client, closeFn, err := h.connect(binary)
	if err != nil {
		return domain.CommandResponse{}, err
	}
	defer closeFn()

	callCtx, cancel := callContext(ctx)
	defer cancel()
	resp, err := client.Invoke(callCtx, &extrpc.InvokeRequest{
		RequestID:   req.RequestID,
		ExtensionID: req.ExtensionID,
		Command:     req.Command,
		Args:        req.Args,
		Timestamp:   req.Timestamp,
	})
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return domain.CommandResponse{}, fmt.Errorf("backend timed out running %s", req.Command)
		}
		return domain.CommandResponse{}, fmt.Errorf("invoke backend: %w", err)
	}
	return domain.CommandResponse{
		Kind:      domain.KindCommand,
		RequestID: req.RequestID,
		Success:   resp.Success,
		Data:      resp.Data,
		Error:     resp.Error,
	}, nil
}

func (h *PluginBackendHost) connect(binary string) (extrpc.ExtensionBackendClient, func(), error) {
	client := plugin.NewClient(&plugin.ClientConfig{
		HandshakeConfig:  extrpc.HandshakeConfig,
		AllowedProtocols: []plugin.Protocol{plugin.ProtocolGRPC},
		Plugins:          extrpc.PluginMap(nil),
		Cmd:              exec.Command(binary),
		Managed:          true,
		StartTimeout:     backendStartTimeout,
		Logger:           hclog.New(&hclog.LoggerOptions{Output: io.Discard, Level: hclog.NoLevel}),
	})
	closeFn := func() { client.Kill() }

	rpcClient, err := client.Client()
	if err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("start backend client: %w", err)
	}
	raw, err := rpcClient.Dispense(extrpc.PluginMapKey)
	if err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("dispense backend: %w", err)
	}
	typed, ok := raw.(extrpc.ExtensionBackendClient)
	if !ok {
		closeFn()
		return nil, nil, fmt.Errorf("backend rpc client type mismatch")
	}
	return typed, closeFn, nil
}

func callContext(parent context.Context) (context.Context, context.CancelFunc) {
	if _, ok := parent.Deadline(); ok {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, 5*time.Second)
}

func manifestFromRPC(m *extrpc.Manifest) domain.Manifest {
	out := domain.Manifest{
		ID:          m.ID,
		Name:        m.Name,
		Description: m.Description,
		Icon:        m.Icon,
		PublicURL:   m.PublicURL,
		Version:     m.Version,
	}
	if m.Author != "" {
		author := m.Author
		out.Author = &author
	}
	for _, spec := range m.Commands {
		out.Commands = append(out.Commands, domain.CommandSpec{
			Name:        spec.Name,
			Syntax:      spec.Syntax,
			Description: spec.Description,
		})
	}
	return out
}
