package in

import (
	"context"
	"time"

	"ucx/internal/modules/extension/dto"
	extin "ucx/internal/modules/extension/port/in"
)

type CLIHandler struct {
	usecase extin.Usecase
}

func NewCLIHandler(usecase extin.Usecase) CLIHandler {
	return CLIHandler{usecase: usecase}
}

func (h CLIHandler) RunNode(ctx context.Context) error {
	return h.usecase.RunNode(ctx)
}

func (h CLIHandler) ScanFor(ctx context.Context, window time.Duration) error {
	return h.usecase.ScanFor(ctx, window)
}

func (h CLIHandler) WithNode(ctx context.Context, window time.Duration, fn func(ctx context.Context) error) error {
	return h.usecase.WithNode(ctx, window, fn)
}

func (h CLIHandler) Offers(ctx context.Context) ([]dto.OfferInfo, error) {
	return h.usecase.Offers(ctx)
}

func (h CLIHandler) Installed(ctx context.Context) ([]dto.InstalledInfo, error) {
	return h.usecase.Installed(ctx)
}

func (h CLIHandler) Install(ctx context.Context, extensionID string) (dto.InstalledInfo, error) {
	return h.usecase.Install(ctx, extensionID)
}

func (h CLIHandler) Uninstall(ctx context.Context, extensionID string) error {
	return h.usecase.Uninstall(ctx, extensionID)
}

func (h CLIHandler) Dismiss(ctx context.Context, extensionID string) error {
	return h.usecase.Dismiss(ctx, extensionID)
}

func (h CLIHandler) SetEnabled(ctx context.Context, extensionID string, enabled bool) error {
	return h.usecase.SetEnabled(ctx, extensionID, enabled)
}

func (h CLIHandler) Execute(ctx context.Context, input dto.ExecuteInput) (dto.ExecuteOutput, error) {
	return h.usecase.Execute(ctx, input)
}

func (h CLIHandler) ExecuteLine(ctx context.Context, line string) (dto.ExecuteOutput, error) {
	return h.usecase.ExecuteLine(ctx, line)
}

func (h CLIHandler) PublishedList(ctx context.Context) ([]dto.PublishedInfo, error) {
	return h.usecase.PublishedList(ctx)
}

func (h CLIHandler) Status(ctx context.Context) (dto.NodeStatus, error) {
	return h.usecase.Status(ctx)
}
