package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hashicorp/go-plugin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

const (
	PluginMapKey   = "ucx"
	serviceName    = "ucx.extension.v1.ExtensionBackend"
	jsonCodecName  = "json"
	methodDescribe = "/" + serviceName + "/Describe"
	methodInvoke   = "/" + serviceName + "/Invoke"
)

var HandshakeConfig = plugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "UCX_EXTENSION",
	MagicCookieValue: "ucx",
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return jsonCodecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type Empty struct{}

type CommandSpec struct {
	Name        string `json:"name"`
	Syntax      string `json:"syntax"`
	Description string `json:"description"`
}

type Manifest struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Icon        string        `json:"icon"`
	PublicURL   string        `json:"publicUrl"`
	Version     string        `json:"version"`
	Author      string        `json:"author,omitempty"`
	Commands    []CommandSpec `json:"commands"`
}

type InvokeRequest struct {
	RequestID   string   `json:"request_id"`
	ExtensionID string   `json:"extension_id"`
	Command     string   `json:"command"`
	Args        []string `json:"args"`
	Timestamp   int64    `json:"timestamp"`
}

type InvokeResponse struct {
	Success bool   `json:"success"`
	Data    string `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

type ExtensionBackendServer interface {
	Describe(ctx context.Context, in *Empty) (*Manifest, error)
	Invoke(ctx context.Context, in *InvokeRequest) (*InvokeResponse, error)
}

type ExtensionBackendClient interface {
	Describe(ctx context.Context) (*Manifest, error)
	Invoke(ctx context.Context, in *InvokeRequest) (*InvokeResponse, error)
}

type extensionBackendClient struct {
	conn *grpc.ClientConn
}

func NewExtensionBackendClient(conn *grpc.ClientConn) ExtensionBackendClient {
	return &extensionBackendClient{conn: conn}
}

func (c *extensionBackendClient) Describe(ctx context.Context) (*Manifest, error) {
	out := &Manifest{}
	if err := c.conn.Invoke(ctx, methodDescribe, &Empty{}, out, grpc.CallContentSubtype(jsonCodecName)); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *extensionBackendClient) Invoke(ctx context.Context, in *InvokeRequest) (*InvokeResponse, error) {
	out := &InvokeResponse{}
	if err := c.conn.Invoke(ctx, methodInvoke, in, out, grpc.CallContentSubtype(jsonCodecName)); err != nil {
		return nil, err
	}
	return out, nil
}

func RegisterExtensionBackendServer(server grpc.ServiceRegistrar, impl ExtensionBackendServer) {
	server.RegisterService(&grpc.ServiceDesc{
		ServiceName: serviceName,
		HandlerType: (*ExtensionBackendServer)(nil),
		Methods: []grpc.MethodDesc{
			{
				MethodName: "Describe",
				Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
					in := &Empty{}
					if err := dec(in); err != nil {
						return nil, err
					}
					if interceptor == nil {
						return impl.Describe(ctx, in)
					}
					info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodDescribe}
					handler := func(ctx context.Context, req any) (any, error) {
						empty, ok := req.(*Empty)
						if !ok {
							return nil, fmt.Errorf("invalid request type")
						}
						return impl.Describe(ctx, empty)
					}
					return interceptor(ctx, in, info, handler)
				},
			},
			{
				MethodName: "Invoke",
				Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
					in := &InvokeRequest{}
					if err := dec(in); err != nil {
						return nil, err
					}
					if interceptor == nil {
						return impl.Invoke(ctx, in)
					}
					info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodInvoke}
					handler := func(ctx context.Context, req any) (any, error) {
						inReq, ok := req.(*InvokeRequest)
						if !ok {
							return nil, fmt.Errorf("invalid request type")
						}
						return impl.Invoke(ctx, inReq)
					}
					return interceptor(ctx, in, info, handler)
				},
			},
		},
		Streams:  []grpc.StreamDesc{},
		Metadata: "schemas/extension-backend-v1.proto",
	}, impl)
}

type GRPCPlugin struct {
	plugin.NetRPCUnsupportedPlugin
	Impl ExtensionBackendServer
}

func (p *GRPCPlugin) GRPCServer(_ *plugin.GRPCBroker, server *grpc.Server) error {
	RegisterExtensionBackendServer(server, p.Impl)
	return nil
}

func (p *GRPCPlugin) GRPCClient(_ context.Context, _ *plugin.GRPCBroker, conn *grpc.ClientConn) (any, error) {
	return NewExtensionBackendClient(conn), nil
}

func PluginMap(impl ExtensionBackendServer) map[string]plugin.Plugin {
	return map[string]plugin.Plugin{
		PluginMapKey: &GRPCPlugin{Impl: impl},
	}
}
