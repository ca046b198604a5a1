package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hashicorp/go-plugin"

	extrpc "ucx/internal/modules/extension/adapter/out/rpc"
)

// server is the reference extension backend: a minimal "echo" extension
// useful for wiring checks and as a template for real backends.
type server struct{}

func (s *server) Describe(_ context.Context, _ *extrpc.Empty) (*extrpc.Manifest, error) {
	return &extrpc.Manifest{
		ID:          "echo",
		Name:        "Echo",
		Description: "Replies with the arguments it was called with",
		PublicURL:   "https://example.com/echo",
		Version:     "1.0.0",
		Commands: []extrpc.CommandSpec{
			{Name: "default", Syntax: "/echo [args...]", Description: "echo the arguments back"},
			{Name: "upper", Syntax: "/echo-upper [args...]", Description: "echo the arguments in upper case"},
		},
	}, nil
}

func (s *server) Invoke(_ context.Context, in *extrpc.InvokeRequest) (*extrpc.InvokeResponse, error) {
	joined := strings.Join(in.Args, " ")
	switch in.Command {
	case "default":
		return payload(joined)
	case "upper":
		return payload(strings.ToUpper(joined))
	default:
		return &extrpc.InvokeResponse{Success: false, Error: fmt.Sprintf("unknown command: %s", in.Command)}, nil
	}
}

func payload(echo string) (*extrpc.InvokeResponse, error) {
	raw, err := json.Marshal(map[string]string{"echo": echo})
	if err != nil {
		return nil, err
	}
	return &extrpc.InvokeResponse{Success: true, Data: string(raw)}, nil
}

func main() {
	plugin.Serve(&plugin.ServeConfig{
		HandshakeConfig: extrpc.HandshakeConfig,
		Plugins:         extrpc.PluginMap(&server{}),
		GRPCServer:      plugin.DefaultGRPCServer,
	})
}
