package in

import (
	"context"
	"time"

	"ucx/internal/modules/extension/dto"
)

type Usecase interface {
	// RunNode starts the transport, discovery, and publisher, and serves
	// until the context is canceled.
	RunNode(ctx context.Context) error

	// ScanFor runs the node for a bounded window so one-shot CLI commands
	// can observe the network, then stops it.
	ScanFor(ctx context.Context, window time.Duration) error

	// WithNode runs the node, waits out the discovery window, invokes fn
	// while the node is still online, and stops it afterwards.
	WithNode(ctx context.Context, window time.Duration, fn func(ctx context.Context) error) error

	Offers(ctx context.Context) ([]dto.OfferInfo, error)
	Installed(ctx context.Context) ([]dto.InstalledInfo, error)
	Install(ctx context.Context, extensionID string) (dto.InstalledInfo, error)
	Uninstall(ctx context.Context, extensionID string) error
	Dismiss(ctx context.Context, extensionID string) error
	SetEnabled(ctx context.Context, extensionID string, enabled bool) error

	Execute(ctx context.Context, input dto.ExecuteInput) (dto.ExecuteOutput, error)
	ExecuteLine(ctx context.Context, line string) (dto.ExecuteOutput, error)

	PublishedList(ctx context.Context) ([]dto.PublishedInfo, error)
	Status(ctx context.Context) (dto.NodeStatus, error)
}
